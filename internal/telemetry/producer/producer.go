// Package producer publishes JSON records to Kafka topics (audit mirror, cache invalidations).
package producer

import "context"

// Producer publishes keyed records. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Publish serializes value as JSON and writes it under key. Records with the same key keep their order.
	Publish(ctx context.Context, key string, value any) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
