package notify

import (
	"context"
	"errors"
	"fmt"
)

// Sender delivers one rendered message to a destination. Delivery is at least
// once, so a destination may see the same message more than once.
type Sender interface {
	Send(ctx context.Context, message string) error
}

type fanout []Sender

// Fanout sends every message to all senders, it fails if any of them fails.
func Fanout(senders ...Sender) Sender {
	if len(senders) == 1 {
		return senders[0]
	}
	return fanout(senders)
}

func (f fanout) Send(ctx context.Context, message string) error {
	var errs []error
	for i, s := range f {
		err := s.Send(ctx, message)
		if err != nil {
			errs = append(errs, fmt.Errorf("sender %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Discard is a Sender that drops every message.
type Discard struct{}

func (Discard) Send(context.Context, string) error {
	return nil
}
