package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"stockwatch/internal/components/assert"
	"stockwatch/internal/components/telemetry"
	"stockwatch/internal/inventory"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const report_badger_txn = "badger.txn"

var tracer = otel.Tracer("stockwatch/internal/store")

const snapshotPrefix = "snapshot/"

// Badger is a Store backed by a badger key value database, snapshots are
// stored as json under "snapshot/<site>\x00<id>".
type Badger struct {
	db  *badger.DB
	tel telemetry.API
}

func NewBadger(db *badger.DB, tel telemetry.API) Badger {
	assert.NotNil(db)
	assert.NotNil(tel)

	return Badger{
		db:  db,
		tel: telemetry.NewScopedAPI("store", tel),
	}
}

func badgerKey(site, id string) []byte {
	return []byte(snapshotPrefix + site + "\x00" + id)
}

func readSnapshot(item *badger.Item) (Snapshot, error) {
	var snap Snapshot
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &snap)
	})
	return snap, err
}

func getTxn(txn *badger.Txn, site, id string) (Snapshot, bool, error) {
	item, err := txn.Get(badgerKey(site, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	snap, err := readSnapshot(item)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func setTxn(txn *badger.Txn, snap Snapshot) error {
	serialized, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return txn.Set(badgerKey(snap.Item.Site, snap.Item.ID), serialized)
}

// update runs fn in a read-write transaction, a transaction conflict detected
// by badger is reported as ErrConflict.
func (b Badger) update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	_, span := tracer.Start(ctx, "badger:"+op)
	defer span.End()

	err := b.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) || errors.Is(err, ErrConflict) {
		span.SetAttributes(attribute.Bool("custom.conflict", true))
		return ErrConflict
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "badger update failed")
		b.tel.ReportBroken(report_badger_txn, err, op)
		return unavailable(op, err)
	}
	return nil
}

func (b Badger) Get(ctx context.Context, site, id string) (Snapshot, bool, error) {
	_, span := tracer.Start(ctx, "badger:get")
	defer span.End()

	var (
		snap  Snapshot
		found bool
	)
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		snap, found, err = getTxn(txn, site, id)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "badger view failed")
		b.tel.ReportBroken(report_badger_txn, err, "get", site, id)
		return Snapshot{}, false, unavailable("get", err)
	}
	return snap, found, nil
}

func (b Badger) Put(ctx context.Context, item inventory.Item, seenAt time.Time, expectedVersion int64) (Snapshot, error) {
	var out Snapshot
	err := b.update(ctx, "put", func(txn *badger.Txn) error {
		existing, found, err := getTxn(txn, item.Site, item.ID)
		if err != nil {
			return err
		}

		seenAt = seenAt.UTC()
		switch {
		case expectedVersion == 0 && found:
			return ErrConflict
		case expectedVersion == 0:
			out = Snapshot{
				Item:      item,
				Version:   1,
				FirstSeen: seenAt,
				LastSeen:  seenAt,
			}
		case !found || existing.Version != expectedVersion:
			return ErrConflict
		default:
			out = Snapshot{
				Item:      item,
				Version:   existing.Version + 1,
				FirstSeen: existing.FirstSeen,
				LastSeen:  seenAt,
			}
		}
		return setTxn(txn, out)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return out, nil
}

func (b Badger) Touch(ctx context.Context, site, id string, seenAt time.Time) error {
	err := b.update(ctx, "touch", func(txn *badger.Txn) error {
		existing, found, err := getTxn(txn, site, id)
		if err != nil || !found {
			return err
		}
		existing.LastSeen = seenAt.UTC()
		return setTxn(txn, existing)
	})
	// a touch racing with another writer loses nothing worth retrying
	if errors.Is(err, ErrConflict) {
		return nil
	}
	return err
}

func (b Badger) Delete(ctx context.Context, site, id string, expectedVersion int64) error {
	return b.update(ctx, "delete", func(txn *badger.Txn) error {
		existing, found, err := getTxn(txn, site, id)
		if err != nil {
			return err
		}
		if !found || existing.Version != expectedVersion {
			return ErrConflict
		}
		return txn.Delete(badgerKey(site, id))
	})
}

func (b Badger) scan(ctx context.Context, op string, keep func(Snapshot) bool) ([]Snapshot, error) {
	_, span := tracer.Start(ctx, "badger:"+op)
	defer span.End()

	var out []Snapshot
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(snapshotPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			snap, err := readSnapshot(it.Item())
			if err != nil {
				return err
			}
			if keep(snap) {
				out = append(out, snap)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "badger scan failed")
		b.tel.ReportBroken(report_badger_txn, err, op)
		return nil, unavailable(op, err)
	}
	span.SetAttributes(attribute.Int("custom.count", len(out)))
	return out, nil
}

func (b Badger) ListBySource(ctx context.Context, source string) ([]Snapshot, error) {
	out, err := b.scan(ctx, "list-by-source", func(s Snapshot) bool {
		return s.Item.Source == source
	})
	if err != nil {
		return nil, err
	}
	sortSnapshots(out)
	return out, nil
}

func (b Badger) List(ctx context.Context) ([]Snapshot, error) {
	out, err := b.scan(ctx, "list", func(Snapshot) bool { return true })
	if err != nil {
		return nil, err
	}
	sortSnapshots(out)
	return out, nil
}

func sortSnapshots(snaps []Snapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		a, b := snaps[i].Item, snaps[j].Item
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Site != b.Site {
			return a.Site < b.Site
		}
		return a.ID < b.ID
	})
}
