package adapter

import (
	"context"
	"fmt"
	"strings"
)

// CLIAdapter renders notifications on the local terminal, colored by
// severity. Used by one-shot commands and local daemon runs.
type CLIAdapter struct {
	interactive bool
}

func NewCLIAdapter() *CLIAdapter {
	return &CLIAdapter{}
}

func (a *CLIAdapter) Name() string {
	return "cli"
}

const ansiReset = "\033[0m"

func severityColor(content string) string {
	switch {
	case strings.HasPrefix(content, "ALERT"):
		return "\033[31m" // red
	case strings.HasPrefix(content, "APPROVAL"):
		return "\033[33m" // yellow
	case strings.HasPrefix(content, "EXECUTED"):
		return "\033[36m" // cyan
	default:
		return "\033[32m" // green
	}
}

func (a *CLIAdapter) Send(ctx context.Context, target string, content string) error {
	if a.interactive {
		// Clear the prompt line before printing over it.
		fmt.Printf("\r\033[K")
	}

	fmt.Printf("%s%s%s\n", severityColor(content), content, ansiReset)

	if a.interactive {
		fmt.Print("> ")
	}
	return nil
}

// Start switches the adapter into interactive mode with a prompt.
func (a *CLIAdapter) Start(ctx context.Context) error {
	a.interactive = true
	fmt.Println("Respond with: approve <record-id> | reject <record-id>")
	fmt.Print("> ")

	go func() {
		<-ctx.Done()
		a.interactive = false
	}()

	return nil
}

func (a *CLIAdapter) Stop(ctx context.Context) error {
	a.interactive = false
	return nil
}

func (a *CLIAdapter) Health(ctx context.Context) error {
	return nil
}
