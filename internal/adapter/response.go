package adapter

import "strings"

const (
	ResponseApproved = "approved"
	ResponseRejected = "rejected"
)

// ParseResponse extracts an approval verdict from a chat message.
// Accepted forms: "approve <record-id>", "reject <record-id>", with an
// optional leading slash. Anything else returns ok=false and is ignored
// so that unrelated channel chatter never reaches the decision pipeline.
func ParseResponse(text string) (recordID string, response string, ok bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) < 2 {
		return "", "", false
	}

	verb := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	switch verb {
	case "approve", "approved":
		response = ResponseApproved
	case "reject", "rejected", "deny":
		response = ResponseRejected
	default:
		return "", "", false
	}

	return fields[1], response, true
}
