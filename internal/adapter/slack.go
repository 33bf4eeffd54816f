package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/ballee/spendguard/internal/errors"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// SlackAdapter posts approval requests and alerts to Slack channels and
// receives approve/reject replies through the Events API endpoint.
type SlackAdapter struct {
	signingSecret   string
	botToken        string
	responseHandler ResponseHandler
	server          *http.Server
	port            int
	client          *slack.Client
}

func NewSlackAdapter(port int, signingSecret, botToken string, responseHandler ResponseHandler) *SlackAdapter {
	if signingSecret == "" {
		signingSecret = os.Getenv("SLACK_SIGNING_SECRET")
	}
	if botToken == "" {
		botToken = os.Getenv("SLACK_BOT_TOKEN")
	}
	return &SlackAdapter{
		signingSecret:   signingSecret,
		botToken:        botToken,
		responseHandler: responseHandler,
		port:            port,
		client:          slack.New(botToken),
	}
}

func (s *SlackAdapter) Name() string { return "slack" }

func (s *SlackAdapter) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/slack/events", s.handleEvents)
	s.server = &http.Server{Addr: fmt.Sprintf(":%d", s.port), Handler: mux}

	go func() {
		slog.Info("Slack Adapter listening", "port", s.port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Slack server failed", "error", err)
		}
	}()

	<-ctx.Done()
	return s.server.Shutdown(context.Background())
}

func (s *SlackAdapter) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Send posts content to the Slack channel named by target.
func (s *SlackAdapter) Send(ctx context.Context, target string, content string) error {
	if _, _, err := s.client.PostMessageContext(ctx, target, slack.MsgOptionText(content, false)); err != nil {
		return errors.Wrap(err, "failed to send Slack message")
	}
	slog.Debug("Slack message sent", "channel", target)
	return nil
}

func (s *SlackAdapter) Health(ctx context.Context) error {
	switch {
	case s.server == nil:
		return errors.Transient("Slack server not started")
	case s.client == nil:
		return errors.Transient("Slack client not initialized")
	}
	if _, err := s.client.AuthTestContext(ctx); err != nil {
		return errors.Transient("Slack connection failed")
	}
	return nil
}

// verifyRequest checks the Events API signature. It returns the HTTP status
// to reply with when verification fails.
func (s *SlackAdapter) verifyRequest(header http.Header, body []byte) int {
	sv, err := slack.NewSecretsVerifier(header, s.signingSecret)
	if err != nil {
		return http.StatusBadRequest
	}
	if _, err := sv.Write(body); err != nil {
		return http.StatusInternalServerError
	}
	if err := sv.Ensure(); err != nil {
		return http.StatusUnauthorized
	}
	return http.StatusOK
}

func (s *SlackAdapter) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if status := s.verifyRequest(r.Header, body); status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var cr slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &cr); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(cr.Challenge))

	case slackevents.CallbackEvent:
		if msg, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			s.handleMessage(r.Context(), msg)
		}
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusOK)
	}
}

// handleMessage forwards an approve/reject reply to the response handler.
// Messages that do not parse as a response are ignored silently; approval
// channels carry plenty of unrelated human chatter.
func (s *SlackAdapter) handleMessage(ctx context.Context, msg *slackevents.MessageEvent) {
	if msg.BotID != "" || s.responseHandler == nil {
		return
	}

	recordID, response, ok := ParseResponse(msg.Text)
	if !ok {
		return
	}

	metadata := map[string]string{
		"channel": msg.Channel,
		"ts":      msg.TimeStamp,
	}
	if err := s.responseHandler(ctx, "slack", recordID, response, msg.User, metadata); err != nil {
		slog.Error("Failed to handle Slack response", "record", recordID, "error", err)
	}
}
