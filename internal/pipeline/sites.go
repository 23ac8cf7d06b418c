package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"stockwatch/internal/components/assert"
	"stockwatch/internal/components/chrono"
	"stockwatch/internal/db"

	"github.com/PuerkitoBio/purell"
)

// NormalizeSite canonicalizes a tracked site url so the same storefront is
// only tracked once.
func NormalizeSite(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid site %q: %w", raw, err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid site %q: missing host", raw)
	}
	normalized := purell.NormalizeURL(
		parsed,
		purell.FlagsSafe|
			purell.FlagRemoveTrailingSlash|
			purell.FlagRemoveDotSegments|
			purell.FlagRemoveDuplicateSlashes|
			purell.FlagRemoveFragment|
			purell.FlagSortQuery,
	)
	return normalized, nil
}

// SiteRegistry is the list of tracked sites stored in the database.
type SiteRegistry struct {
	db   *db.Queries
	time chrono.TimeAPI
}

func NewSiteRegistry(sqldb *sql.DB, time chrono.TimeAPI) SiteRegistry {
	assert.NotNil(sqldb)
	assert.NotNil(time)
	return SiteRegistry{db: db.New(sqldb), time: time}
}

// Add tracks a site, it returns the normalized url and false if the site was
// already tracked.
func (r SiteRegistry) Add(ctx context.Context, site string) (string, bool, error) {
	normalized, err := NormalizeSite(site)
	if err != nil {
		return "", false, err
	}
	affected, err := r.db.AddTrackedSite(ctx, db.AddTrackedSiteParams{
		Url:     normalized,
		AddedAt: r.time.Now().UnixMilli(),
	})
	if err != nil {
		return "", false, fmt.Errorf("add site: %w", err)
	}
	return normalized, affected > 0, nil
}

func (r SiteRegistry) Remove(ctx context.Context, site string) (bool, error) {
	normalized, err := NormalizeSite(site)
	if err != nil {
		return false, err
	}
	affected, err := r.db.RemoveTrackedSite(ctx, normalized)
	if err != nil {
		return false, fmt.Errorf("remove site: %w", err)
	}
	return affected > 0, nil
}

func (r SiteRegistry) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.ListTrackedSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = row.Url
	}
	return out, nil
}
