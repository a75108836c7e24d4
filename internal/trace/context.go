package trace

import "context"

type collectorKey struct{}

// WithCollector returns a context carrying c as the request's task-local
// trace collector, set once at ingress.
func WithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, collectorKey{}, c)
}

// FromContext retrieves the task-local Collector, or nil if none was set.
// All tool executions and backend calls reachable from an HTTP request
// context inherit it without an explicit parameter.
func FromContext(ctx context.Context) *Collector {
	c, _ := ctx.Value(collectorKey{}).(*Collector)
	return c
}
