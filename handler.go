package eventq

import "context"

// Handler processes a single queue item.
type Handler interface {
	// Handle processes a single item and returns an error on failure.
	Handle(ctx context.Context, item Item) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, item Item) error

// Handle implements Handler.
func (fn HandlerFunc) Handle(ctx context.Context, item Item) error {
	return fn(ctx, item)
}
