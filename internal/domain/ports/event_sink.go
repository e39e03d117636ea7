package ports

import "context"

// EventSink receives domain events for delivery to the host application.
// Implementations must not block on downstream consumers.
type EventSink interface {
	Emit(ctx context.Context, event string, payload interface{})
}
