package task

import "context"

// Metrics records scheduler activity.
type Metrics interface {
	TaskStarted(ctx context.Context)
	TaskCompleted(ctx context.Context, status string)
	CredentialRevoked(ctx context.Context)
}

type noopMetrics struct{}

func (noopMetrics) TaskStarted(context.Context)           {}
func (noopMetrics) TaskCompleted(context.Context, string) {}
func (noopMetrics) CredentialRevoked(context.Context)     {}
