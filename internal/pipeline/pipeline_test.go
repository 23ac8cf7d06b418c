package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"stockwatch/internal/components/chrono"
	"stockwatch/internal/components/telemetry"
	"stockwatch/internal/db"
	"stockwatch/internal/detector"
	"stockwatch/internal/inventory"
	"stockwatch/internal/queue"
	"stockwatch/internal/store"

	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu    sync.Mutex
	sites map[string][]inventory.Item
	down  map[string]bool
}

func (f *fakeFetcher) FetchInventory(_ context.Context, site string) ([]inventory.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[site] {
		return nil, fmt.Errorf("%w: %s: connection refused", inventory.ErrSourceUnavailable, site)
	}
	return append([]inventory.Item(nil), f.sites[site]...), nil
}

func (f *fakeFetcher) setDown(site string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[site] = true
}

func (f *fakeFetcher) set(site string, items ...inventory.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sites[site] = items
}

type fixture struct {
	fetcher  *fakeFetcher
	store    store.Store
	outbox   *queue.Outbox
	registry SiteRegistry
	tel      *telemetry.Recorder
	pipeline *Pipeline
}

func setup(t *testing.T, static ...string) fixture {
	t.Helper()
	sqldb, err := db.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	clock := chrono.NewManualTime(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
	tel := telemetry.NewRecorder()
	s := store.NewSQL(sqldb, tel)
	outbox := queue.NewOutbox(sqldb, clock)
	publisher := NewOutboxPublisher(outbox)
	registry := NewSiteRegistry(sqldb, clock)
	fetcher := &fakeFetcher{sites: map[string][]inventory.Item{}, down: map[string]bool{}}

	p := NewPipeline(Options{
		Fetcher:         fetcher,
		Detector:        detector.NewDetector(s, publisher, clock, tel),
		Store:           s,
		Publisher:       publisher,
		Registry:        registry,
		StaticSites:     static,
		SiteConcurrency: 2,
		Telemetry:       tel,
	})

	return fixture{
		fetcher:  fetcher,
		store:    s,
		outbox:   outbox,
		registry: registry,
		tel:      tel,
		pipeline: p,
	}
}

func item(site, id string, available bool, quantity int) inventory.Item {
	return inventory.Item{
		ID:        id,
		Title:     "Item " + id,
		Available: available,
		Quantity:  quantity,
		Site:      site + "/products/item-" + id,
	}
}

func pendingBodies(t *testing.T, outbox *queue.Outbox) []string {
	t.Helper()
	pending, err := outbox.List(context.Background(), 1000)
	require.NoError(t, err)
	var out []string
	for _, msg := range pending {
		out = append(out, msg.Body)
	}
	return out
}

func TestNormalizeSite(t *testing.T) {
	for _, raw := range []string{
		"https://shop.example",
		"https://Shop.Example/",
		"shop.example",
		"https://shop.example:443/#top",
	} {
		normalized, err := NormalizeSite(raw)
		require.NoError(t, err)
		require.Equal(t, "https://shop.example", normalized, raw)
	}

	_, err := NormalizeSite("https://")
	require.Error(t, err)
}

func TestSiteRegistry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	normalized, added, err := f.registry.Add(ctx, "https://Shop.Example/")
	require.NoError(t, err)
	require.True(t, added)
	require.Equal(t, "https://shop.example", normalized)

	_, added, err = f.registry.Add(ctx, "shop.example")
	require.NoError(t, err)
	require.False(t, added)

	sites, err := f.registry.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"https://shop.example"}, sites)

	removed, err := f.registry.Remove(ctx, "https://shop.example/")
	require.NoError(t, err)
	require.True(t, removed)

	sites, err = f.registry.List(ctx)
	require.NoError(t, err)
	require.Empty(t, sites)
}

func TestRunCycleIsolatesSiteFailures(t *testing.T) {
	f := setup(t, "https://a.example", "https://b.example")
	ctx := context.Background()

	f.fetcher.set("https://a.example", item("https://a.example", "1", true, 5))
	f.fetcher.set("https://b.example", item("https://b.example", "1", true, 2), item("https://b.example", "2", false, 0))

	report, err := f.pipeline.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Sites)
	require.Empty(t, report.Failed)
	require.Equal(t, 3, report.Events[inventory.EventNewInventory])
	require.Len(t, pendingBodies(t, f.outbox), 3)

	// b goes down while a changes
	f.fetcher.setDown("https://b.example")
	f.fetcher.set("https://a.example", item("https://a.example", "1", true, 4))

	report, err = f.pipeline.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"https://b.example"}, report.Failed)
	require.Equal(t, 1, report.Events[inventory.EventQuantityChanged])
	require.Zero(t, report.Events[inventory.EventItemRemoved])
	require.True(t, f.tel.Has("warning", report_pipeline_fetch))

	tracked, err := f.store.ListBySource(ctx, "https://b.example")
	require.NoError(t, err)
	require.Len(t, tracked, 2)

	bodies := pendingBodies(t, f.outbox)
	require.Contains(t, bodies[len(bodies)-1], "quantity changed from 5 to 4")
}

func TestRunCycleRemovalAndEmptyPoll(t *testing.T) {
	f := setup(t, "https://a.example")
	ctx := context.Background()

	f.fetcher.set("https://a.example", item("https://a.example", "1", true, 5), item("https://a.example", "2", true, 1))
	_, err := f.pipeline.RunCycle(ctx)
	require.NoError(t, err)

	f.fetcher.set("https://a.example", item("https://a.example", "1", true, 5))
	report, err := f.pipeline.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Events[inventory.EventItemRemoved])

	f.fetcher.set("https://a.example")
	report, err = f.pipeline.RunCycle(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Events[inventory.EventItemRemoved])
	require.True(t, report.Reports[0].SuspectedFetchFailure)
}

func TestStatusUpdate(t *testing.T) {
	f := setup(t, "https://a.example")
	ctx := context.Background()

	missing := item("https://a.example", "3", true, 0)
	missing.QuantityMissing = true
	f.fetcher.set(
		"https://a.example",
		item("https://a.example", "1", true, 5),
		item("https://a.example", "2", false, 0),
		missing,
	)
	_, err := f.pipeline.RunCycle(ctx)
	require.NoError(t, err)
	before := len(pendingBodies(t, f.outbox))

	published, err := f.pipeline.StatusUpdate(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, published)

	bodies := pendingBodies(t, f.outbox)
	require.Len(t, bodies, before+1)
	require.Equal(t,
		"Status Check: PRODUCT Item 1 | AVAILABLE: true | QUANTITY: 5 | [Link](https://a.example/products/item-1)",
		bodies[len(bodies)-1],
	)
}

func TestAdminHandler(t *testing.T) {
	f := setup(t)
	server := httptest.NewServer(NewAdminHandler(f.pipeline, f.registry, "secret", f.tel))
	defer server.Close()

	do := func(method, path string, auth bool) *http.Response {
		req, err := http.NewRequest(method, server.URL+path, nil)
		require.NoError(t, err)
		if auth {
			req.Header.Set("Authorization", "Bearer secret")
		}
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { res.Body.Close() })
		return res
	}

	res := do(http.MethodGet, "/healthz", false)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = do(http.MethodPost, "/sync", false)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = do(http.MethodPost, "/config?site=a.example&site=https://b.example/", true)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var config configResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&config))
	require.Equal(t, []string{"https://a.example", "https://b.example"}, config.Added)

	res = do(http.MethodPost, "/config", true)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	f.fetcher.set("https://a.example", item("https://a.example", "1", true, 1))
	f.fetcher.setDown("https://b.example")

	res = do(http.MethodPost, "/sync", true)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var synced syncResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&synced))
	require.Equal(t, 2, synced.Sites)
	require.Equal(t, []string{"https://b.example"}, synced.Failed)
	require.Equal(t, 1, synced.Events["New_Inventory"])

	res = do(http.MethodDelete, "/config?site=https://b.example", true)
	require.Equal(t, http.StatusOK, res.StatusCode)
	config = configResponse{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&config))
	require.Equal(t, []string{"https://a.example"}, config.Sites)

	res = do(http.MethodGet, "/config", true)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.True(t, strings.HasPrefix(res.Header.Get("content-type"), "application/json"))
}
