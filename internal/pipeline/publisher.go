package pipeline

import (
	"context"
	"errors"
	"fmt"

	"stockwatch/internal/inventory"
	"stockwatch/internal/render"
)

// Enqueuer is the write side of the delivery queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, message, partitionKey string) (string, error)
}

// OutboxPublisher renders events and enqueues them keyed by item so that a
// single item's notifications keep their order.
type OutboxPublisher struct {
	queue Enqueuer
}

func NewOutboxPublisher(queue Enqueuer) OutboxPublisher {
	return OutboxPublisher{queue: queue}
}

func (p OutboxPublisher) Publish(ctx context.Context, event inventory.Event) error {
	message, err := render.Render(event)
	if errors.Is(err, render.ErrNotRenderable) {
		return nil
	}
	if err != nil {
		return err
	}

	subject, _ := event.Subject()
	_, err = p.queue.Enqueue(ctx, message, subject.Key().String())
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", event.Kind, err)
	}
	return nil
}
