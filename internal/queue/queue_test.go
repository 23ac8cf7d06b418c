package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"stockwatch/internal/components/chrono"
	"stockwatch/internal/components/telemetry"
	"stockwatch/internal/db"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu       sync.Mutex
	received []string
	failing  map[string]int
}

func (s *fakeSender) Send(_ context.Context, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing[message] > 0 {
		s.failing[message]--
		return errors.New("webhook down")
	}
	s.received = append(s.received, message)
	return nil
}

func (s *fakeSender) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

type fixture struct {
	outbox     *Outbox
	sender     *fakeSender
	clock      *chrono.ManualTime
	tel        *telemetry.Recorder
	dispatcher *Dispatcher
}

func setup(t *testing.T) fixture {
	t.Helper()
	sqldb, err := db.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	clock := chrono.NewManualTime(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
	tel := telemetry.NewRecorder()
	outbox := NewOutbox(sqldb, clock)
	sender := &fakeSender{failing: map[string]int{}}
	dispatcher := NewDispatcher(outbox, sender, DispatcherOptions{
		Backoff:    time.Second,
		MaxBackoff: time.Second * 4,
		Workers:    3,
	}, clock, tel)

	return fixture{
		outbox:     outbox,
		sender:     sender,
		clock:      clock,
		tel:        tel,
		dispatcher: dispatcher,
	}
}

func TestOutboxRoundTrip(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.outbox.Enqueue(ctx, "one", "a")
	require.NoError(t, err)
	_, err = f.outbox.Enqueue(ctx, "two", "b")
	require.NoError(t, err)
	require.NotEqual(t, "", first)

	pending, err := f.outbox.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "one", pending[0].Body)
	require.Less(t, pending[0].Seq, pending[1].Seq)

	require.NoError(t, f.outbox.Nack(ctx, first, errors.New("nope"), f.clock.Now().Add(time.Minute)))
	_, err = f.outbox.Enqueue(ctx, "three", "a")
	require.NoError(t, err)

	// "one" is waiting for a retry and holds back "three"
	pending, err = f.outbox.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "two", pending[0].Body)

	all, err := f.outbox.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)

	f.clock.Advance(time.Minute)
	pending, err = f.outbox.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	require.Equal(t, "one", pending[0].Body)
	require.Equal(t, 1, pending[0].Attempts)
	require.Equal(t, "nope", pending[0].LastError)

	require.NoError(t, f.outbox.Ack(ctx, first))
	depth, err := f.outbox.Depth(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, depth)
}

func TestDispatcherDueMessagesNotStarved(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	dispatcher := NewDispatcher(f.outbox, f.sender, DispatcherOptions{
		BatchSize:  3,
		Backoff:    time.Hour,
		MaxBackoff: time.Hour,
	}, f.clock, f.tel)

	for i := 0; i < 3; i++ {
		body := fmt.Sprintf("too long %d", i)
		f.sender.failing[body] = 1000
		_, err := f.outbox.Enqueue(ctx, body, fmt.Sprintf("p%d", i))
		require.NoError(t, err)
	}
	_, err := f.outbox.Enqueue(ctx, "back in stock", "other")
	require.NoError(t, err)

	delivered, err := dispatcher.DeliverOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, delivered)

	f.clock.Advance(time.Minute)
	delivered, err = dispatcher.DeliverOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, delivered)
	require.Equal(t, []string{"back in stock"}, f.sender.messages())
}

func TestDispatcherDeadLetters(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	dispatcher := NewDispatcher(f.outbox, f.sender, DispatcherOptions{
		Backoff:     time.Second,
		MaxBackoff:  time.Second,
		MaxAttempts: 2,
	}, f.clock, f.tel)

	_, err := f.outbox.Enqueue(ctx, "rejected", "widget")
	require.NoError(t, err)
	_, err = f.outbox.Enqueue(ctx, "restocked", "widget")
	require.NoError(t, err)
	f.sender.failing["rejected"] = 1000

	delivered, err := dispatcher.DeliverOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, delivered)
	require.False(t, f.tel.Has("broken", report_dispatcher_dead))

	f.clock.Advance(time.Second * 2)
	delivered, err = dispatcher.DeliverOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, delivered)
	require.Equal(t, []string{"restocked"}, f.sender.messages())
	require.True(t, f.tel.Has("broken", report_dispatcher_dead))

	depth, err := f.outbox.Depth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)
	dead, err := f.outbox.DeadCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, dead)

	all, err := f.outbox.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].Dead)
	require.Equal(t, 2, all[0].Attempts)

	// dead messages are never picked up again
	f.clock.Advance(time.Hour)
	pending, err := f.outbox.Pending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		for _, key := range []string{"a", "b", "c"} {
			_, err := f.outbox.Enqueue(ctx, fmt.Sprintf("%s-%d", key, i), key)
			require.NoError(t, err)
		}
	}

	delivered, err := f.dispatcher.DeliverOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 15, delivered)

	// partitions run concurrently, order only holds within a partition
	last := map[string]int{}
	for _, msg := range f.sender.messages() {
		var (
			key string
			n   int
		)
		_, err := fmt.Sscanf(msg, "%1s-%d", &key, &n)
		require.NoError(t, err)
		if prev, ok := last[key]; ok {
			require.Greater(t, n, prev, msg)
		}
		last[key] = n
	}

	depth, ok := f.tel.Count(report_dispatcher_depth)
	require.True(t, ok)
	require.Zero(t, depth)
}

func TestDispatcherFailureBlocksPartition(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for _, msg := range []struct{ body, key string }{
		{"sold out", "widget"},
		{"restocked", "widget"},
		{"new gadget", "gadget"},
	} {
		_, err := f.outbox.Enqueue(ctx, msg.body, msg.key)
		require.NoError(t, err)
	}
	f.sender.failing["sold out"] = 1

	delivered, err := f.dispatcher.DeliverOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, delivered)
	require.Equal(t, []string{"new gadget"}, f.sender.messages())
	require.True(t, f.tel.Has("warning", report_dispatcher_send))

	// still backing off
	delivered, err = f.dispatcher.DeliverOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, delivered)

	f.clock.Advance(time.Second * 2)
	delivered, err = f.dispatcher.DeliverOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, delivered)
	require.Equal(t, []string{"new gadget", "sold out", "restocked"}, f.sender.messages())
}

func TestDispatcherSkipsAlreadyDelivered(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	id, err := f.outbox.Enqueue(ctx, "hello", "a")
	require.NoError(t, err)

	// pretend a previous round sent it but failed to ack
	f.dispatcher.delivered.Add(id, struct{}{})

	delivered, err := f.dispatcher.DeliverOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, delivered)
	require.Empty(t, f.sender.messages())

	depth, err := f.outbox.Depth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)
}

func TestBackoff(t *testing.T) {
	f := setup(t)
	require.Equal(t, time.Second, f.dispatcher.backoff(0))
	require.Equal(t, time.Second*2, f.dispatcher.backoff(1))
	require.Equal(t, time.Second*4, f.dispatcher.backoff(2))
	require.Equal(t, time.Second*4, f.dispatcher.backoff(10))
}

func TestDispatcherRunStops(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := f.outbox.Enqueue(ctx, "hello", "a")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		f.dispatcher.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(f.sender.messages()) == 1
	}, time.Second*2, time.Millisecond*10)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second * 2):
		t.Fatal("dispatcher did not stop")
	}
}
