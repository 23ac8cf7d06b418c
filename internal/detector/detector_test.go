package detector

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
	"stockwatch/internal/inventory"
	"stockwatch/internal/store"

	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []inventory.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event inventory.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) kinds() []inventory.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []inventory.EventKind
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

// faultyStore injects failures in front of a real store.
type faultyStore struct {
	store.Store
	getErr    error
	conflicts int
}

func (s *faultyStore) Get(ctx context.Context, site, id string) (store.Snapshot, bool, error) {
	if s.getErr != nil {
		return store.Snapshot{}, false, s.getErr
	}
	return s.Store.Get(ctx, site, id)
}

func (s *faultyStore) Put(ctx context.Context, item inventory.Item, seenAt time.Time, expected int64) (store.Snapshot, error) {
	if s.conflicts > 0 {
		s.conflicts--
		return store.Snapshot{}, store.ErrConflict
	}
	return s.Store.Put(ctx, item, seenAt, expected)
}

type fixture struct {
	store     *faultyStore
	publisher *recordingPublisher
	tel       *telemetry.Recorder
	clock     *chrono.ManualTime
	detector  *Detector
}

func setup(t *testing.T) fixture {
	t.Helper()
	sqldb, err := db.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	tel := telemetry.NewRecorder()
	s := &faultyStore{Store: store.NewSQL(sqldb, tel)}
	publisher := &recordingPublisher{}
	clock := chrono.NewManualTime(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))

	return fixture{
		store:     s,
		publisher: publisher,
		tel:       tel,
		clock:     clock,
		detector:  NewDetector(s, publisher, clock, tel),
	}
}

const source = "https://x.com"

func widget() inventory.Item {
	return inventory.Item{
		ID:        "1",
		Title:     "Widget",
		Available: true,
		Quantity:  5,
		Site:      "https://x.com/products/widget",
		Source:    source,
	}
}

func TestObserveNewInventory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	event, err := f.detector.Observe(ctx, widget())
	require.NoError(t, err)
	require.Equal(t, inventory.EventNewInventory, event.Kind)
	require.Nil(t, event.Before)
	require.Equal(t, widget(), *event.After)

	snap, found, err := f.store.Get(ctx, widget().Site, "1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, widget(), snap.Item)
	require.Equal(t, []inventory.EventKind{inventory.EventNewInventory}, f.publisher.kinds())
}

func TestObserveTransitionsInOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	steps := []struct {
		mutate   func(*inventory.Item)
		expected inventory.EventKind
	}{
		{mutate: func(*inventory.Item) {}, expected: inventory.EventNewInventory},
		{mutate: func(i *inventory.Item) { i.Quantity = 3 }, expected: inventory.EventQuantityChanged},
		{mutate: func(i *inventory.Item) {}, expected: inventory.EventFalsePositive},
		{mutate: func(i *inventory.Item) { i.Available = false; i.Quantity = 0 }, expected: inventory.EventAvailableToNotAvailable},
		{mutate: func(i *inventory.Item) { i.Available = true; i.Quantity = 8 }, expected: inventory.EventNotAvailableToAvailable},
	}

	item := widget()
	var published []inventory.EventKind
	for _, step := range steps {
		step.mutate(&item)
		f.clock.Advance(time.Minute)

		event, err := f.detector.Observe(ctx, item)
		require.NoError(t, err)
		require.Equal(t, step.expected, event.Kind)
		if step.expected.Notifiable() {
			published = append(published, step.expected)
		}
	}

	require.Equal(t, published, f.publisher.kinds())
}

func TestObserveFalsePositiveOnlyTouches(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.detector.Observe(ctx, widget())
	require.NoError(t, err)
	before, _, err := f.store.Get(ctx, widget().Site, "1")
	require.NoError(t, err)

	// a poll without a quantity must not erase the stored count
	noisy := widget()
	noisy.Quantity = 0
	noisy.QuantityMissing = true
	noisy.Title = "Widget (renamed)"
	f.clock.Advance(time.Hour)

	event, err := f.detector.Observe(ctx, noisy)
	require.NoError(t, err)
	require.Equal(t, inventory.EventFalsePositive, event.Kind)

	after, _, err := f.store.Get(ctx, widget().Site, "1")
	require.NoError(t, err)
	require.Equal(t, before.Item, after.Item)
	require.Equal(t, before.Version, after.Version)
	require.True(t, after.LastSeen.After(before.LastSeen))
	require.Len(t, f.publisher.kinds(), 1)
}

func TestObserveStoreUnavailableIsNotNew(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.store.getErr = fmt.Errorf("%w: connection reset", inventory.ErrStoreUnavailable)

	_, err := f.detector.Observe(ctx, widget())
	require.ErrorIs(t, err, inventory.ErrStoreUnavailable)
	require.Empty(t, f.publisher.kinds())

	f.store.getErr = nil
	_, found, err := f.store.Get(ctx, widget().Site, "1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestObservePublishFailureKeepsSnapshot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.detector.Observe(ctx, widget())
	require.NoError(t, err)

	soldOut := widget()
	soldOut.Available = false
	soldOut.Quantity = 0

	f.publisher.err = errors.New("queue down")
	_, err = f.detector.Observe(ctx, soldOut)
	require.Error(t, err)

	snap, _, err := f.store.Get(ctx, widget().Site, "1")
	require.NoError(t, err)
	require.True(t, snap.Item.Available)

	// the transition is detected again once publishing recovers
	f.publisher.err = nil
	event, err := f.detector.Observe(ctx, soldOut)
	require.NoError(t, err)
	require.Equal(t, inventory.EventAvailableToNotAvailable, event.Kind)
}

func TestObserveRetriesConflicts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.store.conflicts = 2
	event, err := f.detector.Observe(ctx, widget())
	require.NoError(t, err)
	require.Equal(t, inventory.EventNewInventory, event.Kind)

	f.store.conflicts = maxWriteAttempts
	changed := widget()
	changed.Quantity = 1
	_, err = f.detector.Observe(ctx, changed)
	require.ErrorIs(t, err, store.ErrConflict)
	require.True(t, f.tel.Has("warning", report_observe_conflict))
}

func TestObserveConcurrentOverlappingCycles(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.detector.Observe(ctx, widget())
		}(i)
	}
	wg.Wait()
	require.NoError(t, errors.Join(errs...))

	// only the first observation is new, the rest see its snapshot
	require.Equal(t, []inventory.EventKind{inventory.EventNewInventory}, f.publisher.kinds())
	require.Zero(t, f.detector.locks.size())
}

func TestObserveScopesIdsBySite(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	a := widget()
	b := widget()
	b.Site = "https://y.com/products/widget"
	b.Source = "https://y.com"
	b.Available = false

	for _, item := range []inventory.Item{a, b} {
		event, err := f.detector.Observe(ctx, item)
		require.NoError(t, err)
		require.Equal(t, inventory.EventNewInventory, event.Kind)
	}
}

func TestReconcileRemovesMissingItems(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	keep := widget()
	gone := widget()
	gone.ID = "2"
	gone.Site = "https://x.com/products/gadget"
	gone.Title = "Gadget"

	report, err := f.detector.Reconcile(ctx, source, []inventory.Item{keep, gone})
	require.NoError(t, err)
	require.Equal(t, 2, report.Observed)
	require.Len(t, report.Events, 2)

	report, err = f.detector.Reconcile(ctx, source, []inventory.Item{keep})
	require.NoError(t, err)
	require.Equal(t, 1, report.Removed)
	require.Len(t, report.Events, 1)
	require.Equal(t, inventory.EventItemRemoved, report.Events[0].Kind)
	require.Equal(t, "Gadget", report.Events[0].Before.Title)
	require.Nil(t, report.Events[0].After)

	_, found, err := f.store.Get(ctx, gone.Site, gone.ID)
	require.NoError(t, err)
	require.False(t, found)
}

func TestReconcileEmptyPollIsSuspectedFetchFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var items []inventory.Item
	for i := 0; i < 10; i++ {
		item := widget()
		item.ID = fmt.Sprint(i)
		item.Site = fmt.Sprintf("https://x.com/products/item-%d", i)
		items = append(items, item)
	}
	_, err := f.detector.Reconcile(ctx, source, items)
	require.NoError(t, err)
	published := len(f.publisher.kinds())

	report, err := f.detector.Reconcile(ctx, source, nil)
	require.NoError(t, err)
	require.True(t, report.SuspectedFetchFailure)
	require.Zero(t, report.Removed)
	require.Empty(t, report.Events)
	require.Len(t, f.publisher.kinds(), published)
	require.True(t, f.tel.Has("warning", report_suspected_fetch_failure))

	tracked, err := f.store.ListBySource(ctx, source)
	require.NoError(t, err)
	require.Len(t, tracked, 10)
}

func TestReconcileEmptyPollForUntrackedSource(t *testing.T) {
	f := setup(t)
	report, err := f.detector.Reconcile(context.Background(), "https://new.example", nil)
	require.NoError(t, err)
	require.False(t, report.SuspectedFetchFailure)
	require.False(t, f.tel.Has("warning", report_suspected_fetch_failure))
}

func TestReconcileItemFailureIsNotRemoval(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.detector.Reconcile(ctx, source, []inventory.Item{widget()})
	require.NoError(t, err)

	changed := widget()
	changed.Quantity = 2
	f.publisher.err = errors.New("queue down")

	report, err := f.detector.Reconcile(ctx, source, []inventory.Item{changed})
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Zero(t, report.Removed)

	_, found, err := f.store.Get(ctx, widget().Site, "1")
	require.NoError(t, err)
	require.True(t, found)
}
