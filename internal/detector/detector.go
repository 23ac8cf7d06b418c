package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"stockwatch/internal/components/assert"
	"stockwatch/internal/components/chrono"
	"stockwatch/internal/components/telemetry"
	"stockwatch/internal/inventory"
	"stockwatch/internal/store"

	"golang.org/x/sync/errgroup"
)

const (
	report_observe                 = "detector.observe"
	report_observe_conflict        = "detector.observe-conflict"
	report_remove                  = "detector.remove"
	report_suspected_fetch_failure = "detector.suspected-fetch-failure"
	report_list_tracked            = "detector.list-tracked"
)

const (
	maxWriteAttempts   = 3
	observeConcurrency = 8
)

// Publisher receives every event that should become a notification, an
// event is published before the snapshot is written so that a failed publish
// is detected again on the next poll.
type Publisher interface {
	Publish(ctx context.Context, event inventory.Event) error
}

// Report summarizes one Reconcile call.
type Report struct {
	Source   string
	Observed int
	// Events holds every published event in the order it was published.
	Events  []inventory.Event
	Removed int
	// Failed counts items that were skipped because of an error.
	Failed int
	// SuspectedFetchFailure is set when the poll returned nothing for a
	// source that still has tracked items.
	SuspectedFetchFailure bool
}

// Detector owns the read-classify-publish-write cycle of every snapshot.
type Detector struct {
	store     store.Store
	publisher Publisher
	time      chrono.TimeAPI
	tel       telemetry.API
	locks     *keyLocks
}

func NewDetector(
	s store.Store,
	publisher Publisher,
	time chrono.TimeAPI,
	tel telemetry.API,
) *Detector {
	assert.NotNil(s)
	assert.NotNil(publisher)
	assert.NotNil(time)
	assert.NotNil(tel)

	return &Detector{
		store:     s,
		publisher: publisher,
		time:      time,
		tel:       telemetry.NewScopedAPI("detector", tel),
		locks:     newKeyLocks(),
	}
}

// Observe classifies the current state of an item against its snapshot,
// publishes the resulting event if it is notifiable, then records it.
//
// A store read failure skips the item, it is never treated as new. A write
// that loses a version race is re-read and re-classified.
func (d *Detector) Observe(ctx context.Context, current inventory.Item) (inventory.Event, error) {
	key := current.Key()
	unlock := d.locks.lock(key)
	defer unlock()

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		event, err := d.observeOnce(ctx, current)
		if errors.Is(err, store.ErrConflict) {
			d.tel.ReportDebug("write conflict, retrying", key.String(), attempt)
			continue
		}
		return event, err
	}

	err := fmt.Errorf("observe %s: %w", key, store.ErrConflict)
	d.tel.ReportWarning(report_observe_conflict, err)
	return inventory.Event{}, err
}

func (d *Detector) observeOnce(ctx context.Context, current inventory.Item) (inventory.Event, error) {
	snap, found, err := d.store.Get(ctx, current.Site, current.ID)
	if err != nil {
		return inventory.Event{}, fmt.Errorf("read snapshot: %w", err)
	}

	var previous *inventory.Item
	if found {
		previous = &snap.Item
	}

	event := Classify(previous, current)
	if !event.Kind.Valid() {
		return event, fmt.Errorf("%w: %s", inventory.ErrUnsupportedEventKind, event.Kind)
	}

	now := d.time.Now()

	if event.Kind == inventory.EventFalsePositive {
		err = d.store.Touch(ctx, current.Site, current.ID, now)
		if err != nil {
			return event, fmt.Errorf("touch snapshot: %w", err)
		}
		return event, nil
	}

	err = d.publisher.Publish(ctx, event)
	if err != nil {
		return event, fmt.Errorf("publish %s: %w", event.Kind, err)
	}

	var expected int64
	if found {
		expected = snap.Version
	}
	_, err = d.store.Put(ctx, current, now, expected)
	if err != nil {
		return event, fmt.Errorf("write snapshot: %w", err)
	}
	return event, nil
}

// remove publishes Item_Removed for a snapshot that is no longer listed by
// its source and deletes it. A snapshot that changed since it was listed is
// left alone.
func (d *Detector) remove(ctx context.Context, listed store.Snapshot) (inventory.Event, bool, error) {
	key := listed.Item.Key()
	unlock := d.locks.lock(key)
	defer unlock()

	snap, found, err := d.store.Get(ctx, key.Site, key.ID)
	if err != nil {
		return inventory.Event{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	if !found || snap.Version != listed.Version {
		return inventory.Event{}, false, nil
	}

	before := snap.Item
	event := inventory.Event{Kind: inventory.EventItemRemoved, Before: &before}
	err = d.publisher.Publish(ctx, event)
	if err != nil {
		return event, false, fmt.Errorf("publish %s: %w", event.Kind, err)
	}

	err = d.store.Delete(ctx, key.Site, key.ID, snap.Version)
	if errors.Is(err, store.ErrConflict) {
		d.tel.ReportDebug("snapshot changed during removal", key.String())
		return event, true, nil
	}
	if err != nil {
		return event, true, fmt.Errorf("delete snapshot: %w", err)
	}
	return event, true, nil
}

// Reconcile observes every item polled from source, then emits Item_Removed
// for tracked items of that source that were not polled. An empty poll never
// removes anything, it is reported as a suspected fetch failure instead.
//
// Item failures are reported and counted, only a failure to list the
// source's tracked items is returned.
func (d *Detector) Reconcile(ctx context.Context, source string, items []inventory.Item) (Report, error) {
	report := Report{Source: source}

	if len(items) == 0 {
		tracked, err := d.store.ListBySource(ctx, source)
		if err != nil {
			d.tel.ReportBroken(report_list_tracked, err, source)
			return report, fmt.Errorf("list tracked items: %w", err)
		}
		if len(tracked) > 0 {
			report.SuspectedFetchFailure = true
			d.tel.ReportWarning(
				report_suspected_fetch_failure,
				fmt.Errorf("poll returned no items"),
				source,
				len(tracked),
			)
		}
		return report, nil
	}

	polled := make(map[inventory.Key]struct{}, len(items))
	scoped := make([]inventory.Item, len(items))
	for i, item := range items {
		item.Source = source
		scoped[i] = item
		polled[item.Key()] = struct{}{}
	}

	var mu sync.Mutex
	record := func(event inventory.Event, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.Failed++
			return
		}
		if event.Kind.Notifiable() {
			report.Events = append(report.Events, event)
		}
	}

	group := errgroup.Group{}
	group.SetLimit(observeConcurrency)
	for _, item := range scoped {
		item := item
		group.Go(func() error {
			event, err := d.Observe(ctx, item)
			if err != nil {
				d.reportItemFailure(err, item.Key())
			}
			record(event, err)
			return nil
		})
	}
	group.Wait()
	report.Observed = len(items)

	tracked, err := d.store.ListBySource(ctx, source)
	if err != nil {
		d.tel.ReportBroken(report_list_tracked, err, source)
		return report, fmt.Errorf("list tracked items: %w", err)
	}

	for _, snap := range tracked {
		if _, ok := polled[snap.Item.Key()]; ok {
			continue
		}
		event, removed, err := d.remove(ctx, snap)
		if err != nil {
			d.tel.ReportBroken(report_remove, err, snap.Item.Key().String())
			report.Failed++
			continue
		}
		if removed {
			report.Removed++
			report.Events = append(report.Events, event)
		}
	}

	return report, nil
}

func (d *Detector) reportItemFailure(err error, key inventory.Key) {
	switch {
	case errors.Is(err, store.ErrConflict):
		// already reported by Observe
	case errors.Is(err, inventory.ErrStoreUnavailable),
		errors.Is(err, inventory.ErrUnsupportedEventKind):
		d.tel.ReportBroken(report_observe, err, key.String())
	default:
		d.tel.ReportWarning(report_observe, err, key.String())
	}
}
