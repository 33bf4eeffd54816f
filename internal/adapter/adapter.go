package adapter

import (
	"context"
)

// ResponseHandler is a callback for human approval responses arriving from
// adapters. This avoids circular dependencies between adapters and ingress.
// response is "approved" or "rejected"; responder identifies the human.
type ResponseHandler func(ctx context.Context, source string, recordID string, response string, responder string, metadata map[string]string) error

// InputAdapter defines the interface for adapters that receive human
// approval responses from external platforms
type InputAdapter interface {
	// Name returns the adapter name (e.g. "slack", "telegram", "cli").
	Name() string

	// Start begins listening for responses (e.g. starts a server or long-poll).
	// Must respect context cancellation.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the adapter.
	Stop(ctx context.Context) error

	// Health checks if the adapter is healthy and connected.
	Health(ctx context.Context) error
}

// OutputAdapter defines the interface for adapters that deliver approval
// requests and alerts to external platforms
type OutputAdapter interface {
	// Name returns the adapter name.
	Name() string

	// Send delivers a message to the platform.
	// target maps to a platform-specific identifier (Slack channel, chat ID, etc.).
	Send(ctx context.Context, target string, content string) error

	// Health checks if the adapter is healthy and can send messages.
	Health(ctx context.Context) error
}
