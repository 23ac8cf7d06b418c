package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stockwatch/internal/components/assert"
	"stockwatch/internal/components/telemetry"
	"stockwatch/internal/detector"
	"stockwatch/internal/inventory"
	"stockwatch/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const (
	report_pipeline_list_sites = "pipeline.list-sites"
	report_pipeline_fetch      = "pipeline.fetch"
	report_pipeline_reconcile  = "pipeline.reconcile"
	report_pipeline_status     = "pipeline.status-update"
)

var (
	tracer = otel.Tracer("stockwatch/internal/pipeline")
	meter  = otel.Meter("stockwatch/internal/pipeline")
)

// SiteLister returns the sites tracked outside of the static configuration.
type SiteLister interface {
	List(ctx context.Context) ([]string, error)
}

// Fetcher polls one tracked site.
type Fetcher interface {
	FetchInventory(ctx context.Context, site string) ([]inventory.Item, error)
}

type Options struct {
	Fetcher   Fetcher
	Detector  *detector.Detector
	Store     store.Store
	Publisher detector.Publisher
	// Registry is optional.
	Registry SiteLister
	// StaticSites are tracked in addition to the registry.
	StaticSites     []string
	SiteConcurrency int
	// SiteTimeout bounds a single site's poll, 0 means no limit.
	SiteTimeout time.Duration
	Telemetry   telemetry.API
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	Sites int
	// Failed lists the sites that could not be polled.
	Failed  []string
	Events  map[inventory.EventKind]int
	Reports []detector.Report
}

// Pipeline polls tracked sites and feeds them through the detector.
type Pipeline struct {
	fetcher   Fetcher
	detector  *detector.Detector
	store     store.Store
	publisher detector.Publisher
	registry  SiteLister
	static    []string
	workers   int
	timeout   time.Duration
	tel       telemetry.API

	events        metric.Int64Counter
	fetchFailures metric.Int64Counter
}

func NewPipeline(options Options) *Pipeline {
	assert.NotNil(options.Fetcher)
	assert.NotNil(options.Detector)
	assert.NotNil(options.Store)
	assert.NotNil(options.Publisher)
	assert.NotNil(options.Telemetry)

	workers := options.SiteConcurrency
	if workers <= 0 {
		workers = 4
	}

	events, _ := meter.Int64Counter("events")
	fetchFailures, _ := meter.Int64Counter("fetch_failures")

	return &Pipeline{
		fetcher:       options.Fetcher,
		detector:      options.Detector,
		store:         options.Store,
		publisher:     options.Publisher,
		registry:      options.Registry,
		static:        options.StaticSites,
		workers:       workers,
		timeout:       options.SiteTimeout,
		tel:           telemetry.NewScopedAPI("pipeline", options.Telemetry),
		events:        events,
		fetchFailures: fetchFailures,
	}
}

// Sites returns every tracked site, normalized and deduplicated.
func (p *Pipeline) Sites(ctx context.Context) ([]string, error) {
	var sites []string
	if p.registry != nil {
		registered, err := p.registry.List(ctx)
		if err != nil {
			return nil, err
		}
		sites = append(sites, registered...)
	}

	seen := map[string]struct{}{}
	var out []string
	for _, site := range append(sites, p.static...) {
		normalized, err := NormalizeSite(site)
		if err != nil {
			p.tel.ReportWarning(report_pipeline_list_sites, err)
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out, nil
}

// SyncSite polls a single site and reconciles its items. A fetch failure
// means no poll happened, nothing is classified or removed.
func (p *Pipeline) SyncSite(ctx context.Context, site string) (detector.Report, error) {
	ctx, span := tracer.Start(ctx, "sync-site")
	defer span.End()
	span.SetAttributes(attribute.String("custom.site", site))

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	items, err := p.fetcher.FetchInventory(ctx, site)
	if err != nil {
		p.fetchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("site", site)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		p.tel.ReportWarning(report_pipeline_fetch, err, site)
		if !errors.Is(err, inventory.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %v", inventory.ErrSourceUnavailable, err)
		}
		return detector.Report{Source: site}, err
	}
	span.SetAttributes(attribute.Int("custom.items", len(items)))

	report, err := p.detector.Reconcile(ctx, site, items)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		p.tel.ReportBroken(report_pipeline_reconcile, err, site)
		return report, err
	}

	for _, event := range report.Events {
		p.events.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", event.Kind.String())))
	}
	return report, nil
}

// RunCycle syncs every tracked site with bounded concurrency. A site failure
// never stops the other sites, only failing to list the sites aborts the
// cycle.
func (p *Pipeline) RunCycle(ctx context.Context) (CycleReport, error) {
	ctx, span := tracer.Start(ctx, "run-cycle")
	defer span.End()

	sites, err := p.Sites(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list sites failed")
		p.tel.ReportBroken(report_pipeline_list_sites, err)
		return CycleReport{}, err
	}
	span.SetAttributes(attribute.Int("custom.sites", len(sites)))

	out := CycleReport{
		Sites:  len(sites),
		Events: map[inventory.EventKind]int{},
	}
	var mu sync.Mutex

	group := errgroup.Group{}
	group.SetLimit(p.workers)
	for _, site := range sites {
		site := site
		group.Go(func() error {
			report, err := p.SyncSite(ctx, site)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Failed = append(out.Failed, site)
				return nil
			}
			out.Reports = append(out.Reports, report)
			for _, event := range report.Events {
				out.Events[event.Kind]++
			}
			return nil
		})
	}
	group.Wait()

	p.tel.ReportDebug("cycle finished", len(sites), len(out.Failed))
	return out, nil
}

// StatusUpdate publishes a Status_Update for every tracked item that is
// available with a known positive quantity.
func (p *Pipeline) StatusUpdate(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "status-update")
	defer span.End()

	snapshots, err := p.store.List(ctx)
	if err != nil {
		span.RecordError(err)
		p.tel.ReportBroken(report_pipeline_status, err)
		return 0, err
	}

	published := 0
	var errs []error
	for _, snap := range snapshots {
		item := snap.Item
		if !item.Available || item.QuantityMissing || item.Quantity <= 0 {
			continue
		}
		err := p.publisher.Publish(ctx, inventory.Event{
			Kind:  inventory.EventStatusUpdate,
			After: &item,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		published++
	}

	if len(errs) > 0 {
		err = errors.Join(errs...)
		p.tel.ReportWarning(report_pipeline_status, err)
		return published, err
	}
	return published, nil
}
