package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

func wrapOpen(err error) error {
	return fmt.Errorf("open db: %w", err)
}

func isRemote(dsn string) bool {
	return strings.HasPrefix(dsn, "libsql://") ||
		strings.HasPrefix(dsn, "https://") ||
		strings.HasPrefix(dsn, "http://")
}

// Open opens the database at dsn and applies the schema. Remote libsql urls
// (libsql://, https://) go through the libsql client, everything else is
// treated as a local sqlite path.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)

	if isRemote(dsn) {
		db, err = sql.Open("libsql", dsn)
		if err != nil {
			return nil, wrapOpen(err)
		}
	} else {
		if dsn != ":memory:" {
			dir := filepath.Dir(dsn)
			err = os.MkdirAll(dir, 0777)
			if err != nil {
				return nil, wrapOpen(fmt.Errorf("create %s: %w", dir, err))
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, wrapOpen(err)
		}
		// sqlite only allows a single writer at a time, see
		// https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
		db.SetMaxOpenConns(1)
		if dsn != ":memory:" {
			_, err = db.ExecContext(ctx, "PRAGMA journal_mode=WAL")
			if err != nil {
				db.Close()
				return nil, wrapOpen(err)
			}
		}
	}

	_, err = db.ExecContext(ctx, Schema)
	if err != nil {
		db.Close()
		return nil, wrapOpen(fmt.Errorf("apply schema: %w", err))
	}

	return db, nil
}
