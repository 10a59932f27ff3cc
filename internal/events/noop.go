package events

import "context"

// NoopPublisher discards all events. Used when no NATS URL is configured.
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(_ context.Context, _ string, _ any) error { return nil }
func (n *NoopPublisher) Close() error                                     { return nil }
