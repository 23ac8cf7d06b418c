package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stockwatch/internal/components/assert"
	"stockwatch/internal/components/chrono"
	"stockwatch/internal/components/telemetry"
	"stockwatch/internal/notify"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const (
	report_dispatcher_send    = "dispatcher.send"
	report_dispatcher_outbox  = "dispatcher.outbox"
	report_dispatcher_pending = "dispatcher.pending"
	report_dispatcher_depth   = "dispatcher.depth"
	report_dispatcher_dead    = "dispatcher.dead-letter"
)

var meter = otel.Meter("stockwatch/internal/queue")

type DispatcherOptions struct {
	// Interval between delivery rounds in Run.
	Interval  time.Duration
	BatchSize int
	// Workers bounds how many partitions are delivered at once.
	Workers int
	// DedupeTTL is how long a delivered message id is remembered.
	DedupeTTL time.Duration
	// Backoff is the first retry delay, it doubles per attempt up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// MaxAttempts is how many failed sends a message gets before it is
	// dead lettered.
	MaxAttempts int
}

func (o DispatcherOptions) withDefaults() DispatcherOptions {
	if o.Interval <= 0 {
		o.Interval = time.Second * 5
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.DedupeTTL <= 0 {
		o.DedupeTTL = time.Hour
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Second * 10
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Minute * 10
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	return o
}

// Dispatcher moves messages from the outbox to a sender. Messages of one
// partition are sent strictly in order and a failed message blocks the rest
// of its partition until it is delivered or dead lettered.
type Dispatcher struct {
	outbox    *Outbox
	sender    notify.Sender
	options   DispatcherOptions
	time      chrono.TimeAPI
	tel       telemetry.API
	delivered *expirable.LRU[string, struct{}]
	sent      metric.Int64Counter
	failed    metric.Int64Counter
}

func NewDispatcher(
	outbox *Outbox,
	sender notify.Sender,
	options DispatcherOptions,
	time chrono.TimeAPI,
	tel telemetry.API,
) *Dispatcher {
	assert.NotNil(outbox)
	assert.NotNil(sender)
	assert.NotNil(time)
	assert.NotNil(tel)

	options = options.withDefaults()
	sent, _ := meter.Int64Counter("notifications_sent")
	failed, _ := meter.Int64Counter("notifications_failed")

	return &Dispatcher{
		outbox:    outbox,
		sender:    sender,
		options:   options,
		time:      time,
		tel:       telemetry.NewScopedAPI("queue", tel),
		delivered: expirable.NewLRU[string, struct{}](4096, nil, options.DedupeTTL),
		sent:      sent,
		failed:    failed,
	}
}

func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.options.Backoff
	for i := 0; i < attempts && delay < d.options.MaxBackoff; i++ {
		delay *= 2
	}
	return min(delay, d.options.MaxBackoff)
}

// partitions groups messages by partition key, keeping enqueue order inside
// each partition and ordering partitions by their oldest message.
func partitions(messages []Message) [][]Message {
	index := map[string]int{}
	var out [][]Message
	for _, msg := range messages {
		i, ok := index[msg.PartitionKey]
		if !ok {
			i = len(out)
			index[msg.PartitionKey] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], msg)
	}
	return out
}

// DeliverOnce runs a single delivery round and returns how many messages were
// sent.
func (d *Dispatcher) DeliverOnce(ctx context.Context) (int, error) {
	messages, err := d.outbox.Pending(ctx, d.options.BatchSize)
	if err != nil {
		d.tel.ReportBroken(report_dispatcher_pending, err)
		return 0, err
	}

	var (
		mu        sync.Mutex
		delivered int
	)
	group := errgroup.Group{}
	group.SetLimit(d.options.Workers)
	for _, partition := range partitions(messages) {
		partition := partition
		group.Go(func() error {
			n := d.deliverPartition(ctx, partition)
			mu.Lock()
			delivered += n
			mu.Unlock()
			return nil
		})
	}
	group.Wait()

	depth, err := d.outbox.Depth(ctx)
	if err == nil {
		d.tel.ReportCount(report_dispatcher_depth, depth)
	}
	return delivered, nil
}

func (d *Dispatcher) deliverPartition(ctx context.Context, partition []Message) int {
	delivered := 0
	for _, msg := range partition {
		if ctx.Err() != nil {
			return delivered
		}

		now := d.time.Now()
		if msg.NextAttemptAt.After(now) {
			return delivered
		}

		// the ack of a previous round failed after the message was sent
		if _, ok := d.delivered.Get(msg.ID); ok {
			if err := d.outbox.Ack(ctx, msg.ID); err != nil {
				d.tel.ReportBroken(report_dispatcher_outbox, err, msg.ID)
				return delivered
			}
			continue
		}

		err := d.sender.Send(ctx, msg.Body)
		if err != nil && msg.Attempts+1 >= d.options.MaxAttempts {
			d.failed.Add(ctx, 1)
			d.tel.ReportBroken(
				report_dispatcher_dead,
				fmt.Errorf("deliver %s: %w", msg.ID, err),
				msg.PartitionKey,
				msg.Attempts+1,
			)
			if deadErr := d.outbox.DeadLetter(ctx, msg.ID, err); deadErr != nil {
				d.tel.ReportBroken(report_dispatcher_outbox, deadErr, msg.ID)
				return delivered
			}
			continue
		}
		if err != nil {
			d.failed.Add(ctx, 1)
			retryAt := now.Add(d.backoff(msg.Attempts))
			d.tel.ReportWarning(
				report_dispatcher_send,
				fmt.Errorf("deliver %s: %w", msg.ID, err),
				msg.PartitionKey,
				msg.Attempts+1,
			)
			if nackErr := d.outbox.Nack(ctx, msg.ID, err, retryAt); nackErr != nil {
				d.tel.ReportBroken(report_dispatcher_outbox, nackErr, msg.ID)
			}
			return delivered
		}

		d.sent.Add(ctx, 1)
		d.delivered.Add(msg.ID, struct{}{})
		delivered++

		if err := d.outbox.Ack(ctx, msg.ID); err != nil {
			d.tel.ReportBroken(report_dispatcher_outbox, err, msg.ID)
			return delivered
		}
	}
	return delivered
}

// Run delivers pending messages every Interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.options.Interval)
	defer ticker.Stop()

	for {
		n, err := d.DeliverOnce(ctx)
		if err == nil && n > 0 {
			d.tel.ReportDebug("delivered messages", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
