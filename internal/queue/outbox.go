package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stockwatch/internal/components/assert"
	"stockwatch/internal/components/chrono"
	"stockwatch/internal/db"

	"github.com/google/uuid"
)

// ErrQueueUnavailable is returned when the outbox cannot be read or written.
var ErrQueueUnavailable = errors.New("queue unavailable")

// Message is a rendered notification waiting for delivery.
type Message struct {
	ID            string
	Seq           int64
	PartitionKey  string
	Body          string
	Attempts      int
	LastError     string
	CreatedAt     time.Time
	NextAttemptAt time.Time
	// Dead is set once the message exhausted its attempts.
	Dead bool
}

func messageFromRow(row db.Outbox) Message {
	return Message{
		ID:            row.ID,
		Seq:           row.Seq,
		PartitionKey:  row.PartitionKey,
		Body:          row.Message,
		Attempts:      int(row.Attempts),
		LastError:     row.LastError.String,
		CreatedAt:     time.UnixMilli(row.CreatedAt).UTC(),
		NextAttemptAt: time.UnixMilli(row.NextAttemptAt).UTC(),
		Dead:          row.DeadAt.Valid,
	}
}

// Outbox is a durable queue stored in the outbox table. Messages stay in the
// outbox until acknowledged, which gives at least once delivery.
type Outbox struct {
	db   *db.Queries
	time chrono.TimeAPI
}

func NewOutbox(sqldb *sql.DB, time chrono.TimeAPI) *Outbox {
	assert.NotNil(sqldb)
	assert.NotNil(time)

	return &Outbox{
		db:   db.New(sqldb),
		time: time,
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrQueueUnavailable, op, err)
}

// Enqueue adds a message, messages sharing a partition key are delivered in
// the order they were enqueued.
func (o *Outbox) Enqueue(ctx context.Context, message, partitionKey string) (string, error) {
	now := o.time.Now().UnixMilli()
	param := db.EnqueueMessageParams{
		ID:            uuid.NewString(),
		PartitionKey:  partitionKey,
		Message:       message,
		CreatedAt:     now,
		NextAttemptAt: now,
	}
	_, err := o.db.EnqueueMessage(ctx, param)
	if err != nil {
		return "", unavailable("enqueue", err)
	}
	return param.ID, nil
}

// Pending returns up to limit messages in enqueue order whose next attempt
// is due. A message is held back while an earlier message of its partition
// is waiting for a retry, dead messages never block their partition.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]Message, error) {
	rows, err := o.db.ListPendingMessages(ctx, db.ListPendingMessagesParams{
		Now:     o.time.Now().UnixMilli(),
		MaxRows: int64(limit),
	})
	if err != nil {
		return nil, unavailable("list pending", err)
	}
	out := make([]Message, len(rows))
	for i, row := range rows {
		out[i] = messageFromRow(row)
	}
	return out, nil
}

// List returns up to limit messages in enqueue order, including ones waiting
// for a retry and dead ones.
func (o *Outbox) List(ctx context.Context, limit int) ([]Message, error) {
	rows, err := o.db.ListMessages(ctx, int64(limit))
	if err != nil {
		return nil, unavailable("list", err)
	}
	out := make([]Message, len(rows))
	for i, row := range rows {
		out[i] = messageFromRow(row)
	}
	return out, nil
}

// Ack removes a delivered message.
func (o *Outbox) Ack(ctx context.Context, id string) error {
	_, err := o.db.DeleteMessage(ctx, id)
	if err != nil {
		return unavailable("ack", err)
	}
	return nil
}

// Nack records a failed delivery attempt, the message is not retried before
// retryAt.
func (o *Outbox) Nack(ctx context.Context, id string, cause error, retryAt time.Time) error {
	err := o.db.MarkMessageFailed(ctx, db.MarkMessageFailedParams{
		LastError:     sql.NullString{String: cause.Error(), Valid: true},
		NextAttemptAt: retryAt.UnixMilli(),
		ID:            id,
	})
	if err != nil {
		return unavailable("nack", err)
	}
	return nil
}

// DeadLetter records a final failed attempt, the message is kept for
// inspection but never delivered.
func (o *Outbox) DeadLetter(ctx context.Context, id string, cause error) error {
	err := o.db.DeadLetterMessage(ctx, db.DeadLetterMessageParams{
		LastError: sql.NullString{String: cause.Error(), Valid: true},
		DeadAt:    sql.NullInt64{Int64: o.time.Now().UnixMilli(), Valid: true},
		ID:        id,
	})
	if err != nil {
		return unavailable("dead letter", err)
	}
	return nil
}

// Depth counts messages still waiting for delivery.
func (o *Outbox) Depth(ctx context.Context) (int64, error) {
	count, err := o.db.CountMessages(ctx)
	if err != nil {
		return 0, unavailable("depth", err)
	}
	return count, nil
}

func (o *Outbox) DeadCount(ctx context.Context) (int64, error) {
	count, err := o.db.CountDeadMessages(ctx)
	if err != nil {
		return 0, unavailable("dead count", err)
	}
	return count, nil
}
