package progress

import (
	"context"
	"errors"
)

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter hands one event to a transport. An error means the event was not
// delivered; ErrClientDisconnected means no further event ever will be.
type Emitter interface {
	Emit(ctx context.Context, evt Event) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, evt Event) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Tee fans each event out to every non-nil emitter in order and joins their errors.
func Tee(emitters ...Emitter) Emitter {
	list := make([]Emitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			list = append(list, e)
		}
	}
	return EmitterFunc(func(ctx context.Context, evt Event) error {
		var errs []error
		for _, e := range list {
			if err := e.Emit(ctx, evt); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Discard accepts and drops every event.
var Discard Emitter = EmitterFunc(func(context.Context, Event) error { return nil })
