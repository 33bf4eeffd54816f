package daemon

import "context"

type HealthStatus string

const (
	StatusStarting HealthStatus = "starting"
	StatusRunning  HealthStatus = "running"
	StatusStopping HealthStatus = "stopping"
	StatusStopped  HealthStatus = "stopped"
)

// ComponentHealth is one component's answer to a health poll.
type ComponentHealth struct {
	Name    string
	Healthy bool
	Error   error
}

// Component is a unit of daemon lifecycle. Init must leave the component
// ready to serve, Start may spawn goroutines, and Stop must be safe to call
// even when Init or Start never ran.
type Component interface {
	Name() string
	// Dependencies names components that must initialize first.
	Dependencies() []string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (*ComponentHealth, error)
}
