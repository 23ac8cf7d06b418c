package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stockwatch/internal/components/assert"
	"stockwatch/internal/components/telemetry"
	"stockwatch/internal/db"
	"stockwatch/internal/inventory"
)

const report_db_query = "db.query"

// SQL is a Store backed by the snapshot table.
type SQL struct {
	db  *db.Queries
	tel telemetry.API
}

func NewSQL(sqldb *sql.DB, tel telemetry.API) SQL {
	assert.NotNil(sqldb)
	assert.NotNil(tel)

	return SQL{
		db:  db.New(sqldb),
		tel: telemetry.NewScopedAPI("store", tel),
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", inventory.ErrStoreUnavailable, op, err)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func snapshotFromRow(row db.Snapshot) Snapshot {
	return Snapshot{
		Item: inventory.Item{
			ID:              row.ItemID,
			Title:           row.Title,
			Available:       row.Available,
			Quantity:        int(row.Quantity),
			QuantityMissing: row.QuantityMissing,
			Site:            row.Site,
			Source:          row.Source,
		},
		Version:   row.Version,
		FirstSeen: fromMillis(row.FirstSeen),
		LastSeen:  fromMillis(row.LastSeen),
	}
}

func (s SQL) Get(ctx context.Context, site, id string) (Snapshot, bool, error) {
	row, err := s.db.GetSnapshot(ctx, db.GetSnapshotParams{Site: site, ItemID: id})
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "GetSnapshot", site, id)
		return Snapshot{}, false, unavailable("get", err)
	}
	return snapshotFromRow(row), true, nil
}

func (s SQL) Put(ctx context.Context, item inventory.Item, seenAt time.Time, expectedVersion int64) (Snapshot, error) {
	if expectedVersion == 0 {
		param := db.CreateSnapshotParams{
			Site:            item.Site,
			ItemID:          item.ID,
			Source:          item.Source,
			Title:           item.Title,
			Available:       item.Available,
			Quantity:        int64(item.Quantity),
			QuantityMissing: item.QuantityMissing,
			FirstSeen:       toMillis(seenAt),
			LastSeen:        toMillis(seenAt),
		}
		affected, err := s.db.CreateSnapshot(ctx, param)
		if err != nil {
			s.tel.ReportBroken(report_db_query, err, "CreateSnapshot", param)
			return Snapshot{}, unavailable("create", err)
		}
		if affected == 0 {
			return Snapshot{}, ErrConflict
		}
		return Snapshot{
			Item:      item,
			Version:   1,
			FirstSeen: fromMillis(param.FirstSeen),
			LastSeen:  fromMillis(param.LastSeen),
		}, nil
	}

	param := db.UpdateSnapshotParams{
		Source:          item.Source,
		Title:           item.Title,
		Available:       item.Available,
		Quantity:        int64(item.Quantity),
		QuantityMissing: item.QuantityMissing,
		LastSeen:        toMillis(seenAt),
		Site:            item.Site,
		ItemID:          item.ID,
		Version:         expectedVersion,
	}
	affected, err := s.db.UpdateSnapshot(ctx, param)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "UpdateSnapshot", param)
		return Snapshot{}, unavailable("update", err)
	}
	if affected == 0 {
		return Snapshot{}, ErrConflict
	}

	snap, found, err := s.Get(ctx, item.Site, item.ID)
	if err != nil {
		return Snapshot{}, err
	}
	if !found {
		return Snapshot{}, ErrConflict
	}
	return snap, nil
}

func (s SQL) Touch(ctx context.Context, site, id string, seenAt time.Time) error {
	param := db.TouchSnapshotParams{
		LastSeen: toMillis(seenAt),
		Site:     site,
		ItemID:   id,
	}
	err := s.db.TouchSnapshot(ctx, param)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "TouchSnapshot", param)
		return unavailable("touch", err)
	}
	return nil
}

func (s SQL) Delete(ctx context.Context, site, id string, expectedVersion int64) error {
	param := db.DeleteSnapshotParams{
		Site:    site,
		ItemID:  id,
		Version: expectedVersion,
	}
	affected, err := s.db.DeleteSnapshot(ctx, param)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "DeleteSnapshot", param)
		return unavailable("delete", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s SQL) ListBySource(ctx context.Context, source string) ([]Snapshot, error) {
	rows, err := s.db.ListSnapshotsBySource(ctx, source)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "ListSnapshotsBySource", source)
		return nil, unavailable("list by source", err)
	}
	out := make([]Snapshot, len(rows))
	for i, row := range rows {
		out[i] = snapshotFromRow(row)
	}
	return out, nil
}

func (s SQL) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.ListSnapshots(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "ListSnapshots")
		return nil, unavailable("list", err)
	}
	out := make([]Snapshot, len(rows))
	for i, row := range rows {
		out[i] = snapshotFromRow(row)
	}
	return out, nil
}
