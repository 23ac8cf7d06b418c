package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stockwatch/internal/components/assert"
	"stockwatch/internal/components/restyutil"
	"stockwatch/internal/components/telemetry"
	"stockwatch/internal/inventory"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	report_client_list_handles  = "client.list-handles"
	report_client_fetch_product = "client.fetch-product"
	report_client_malformed     = "client.malformed-variant"
)

const pageSize = 250

type ClientOptions struct {
	RequestsPerSecond  float64
	Timeout            time.Duration
	ProductConcurrency int
	// MaxPages bounds product listing pagination.
	MaxPages  int
	UserAgent string
	// DumpDir, when set, receives a copy of every response.
	DumpDir string
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 4
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Second * 30
	}
	if o.ProductConcurrency <= 0 {
		o.ProductConcurrency = 4
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 20
	}
	if o.UserAgent == "" {
		o.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	}
	return o
}

// Client polls shopify storefronts.
type Client struct {
	http    *resty.Client
	options ClientOptions
	tel     telemetry.API
}

func NewClient(options ClientOptions, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)

	options = options.withDefaults()
	tel = telemetry.NewScopedAPI("shopify", tel)

	httpClient := resty.New()
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	httpClient.SetHeader("user-agent", options.UserAgent)
	httpClient.SetHeader("accept", "application/json,text/html;q=0.9,*/*;q=0.8")
	httpClient.SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
	httpClient.SetTimeout(options.Timeout)

	// max burst >= requests per second just means that no requests will be dropped
	burst := max(int(options.RequestsPerSecond), 1)
	rateLimiter := rate.NewLimiter(rate.Limit(options.RequestsPerSecond), burst)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)
	if options.DumpDir != "" {
		output, err := restyutil.NewFilesystemOutput(options.DumpDir)
		if err != nil {
			return nil, err
		}
		restyutil.DumpResponses(httpClient, output)
	}

	return &Client{
		http:    httpClient,
		options: options,
		tel:     tel,
	}, nil
}

func unavailable(site string, err error) error {
	return fmt.Errorf("%w: %s: %v", inventory.ErrSourceUnavailable, site, err)
}

// target is a parsed tracked site, either a whole storefront or one product.
type target struct {
	base   *url.URL
	handle string
}

func parseTarget(site string) (target, error) {
	parsed, err := url.Parse(site)
	if err != nil {
		return target{}, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return target{}, fmt.Errorf("site %q is not an absolute url", site)
	}

	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i, segment := range segments {
		if segment == "products" && i+1 < len(segments) {
			return target{
				base:   base,
				handle: productLink(segments[i+1]),
			}, nil
		}
	}
	return target{base: base}, nil
}

func (t target) productEndpoint(handle string) string {
	return t.base.JoinPath("products", handle+".js").String()
}

// FetchInventory returns every variant listed by the site. The site is
// either a storefront root, in which case all of its products are polled, or
// a single product page.
//
// Any product that cannot be fetched fails the whole site with
// ErrSourceUnavailable so that a partial listing is never mistaken for
// removals. Malformed variants are reported and excluded.
func (c *Client) FetchInventory(ctx context.Context, site string) ([]inventory.Item, error) {
	t, err := parseTarget(site)
	if err != nil {
		return nil, unavailable(site, err)
	}

	handles := []string{t.handle}
	if t.handle == "" {
		handles, err = c.listHandles(ctx, t)
		if err != nil {
			c.tel.ReportWarning(report_client_list_handles, err, site)
			return nil, unavailable(site, err)
		}
	}

	results := make([][]inventory.Item, len(handles))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.options.ProductConcurrency)
	for i, handle := range handles {
		i, handle := i, handle
		group.Go(func() error {
			items, err := c.fetchProduct(groupCtx, t, handle)
			if err != nil {
				return fmt.Errorf("product %q: %w", handle, err)
			}
			results[i] = items
			return nil
		})
	}
	err = group.Wait()
	if err != nil {
		c.tel.ReportWarning(report_client_fetch_product, err, site)
		return nil, unavailable(site, err)
	}

	var out []inventory.Item
	for _, items := range results {
		for _, item := range items {
			item.Source = site
			out = append(out, item)
		}
	}
	c.tel.ReportDebug("fetched inventory", site, len(handles), len(out))
	return out, nil
}

func (c *Client) fetchProduct(ctx context.Context, t target, handle string) ([]inventory.Item, error) {
	endpoint := t.productEndpoint(handle)
	res, err := c.http.R().
		SetContext(ctx).
		Get(endpoint)
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, fmt.Errorf("get %s: status %d", endpoint, res.StatusCode())
	}

	var p product
	err = json.Unmarshal(res.Body(), &p)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", endpoint, err)
	}

	items, errs := normalizeProduct(p, productLink(endpoint))
	for _, err := range errs {
		c.tel.ReportWarning(report_client_malformed, err)
	}
	return items, nil
}

var errListingDisabled = errors.New("product listing is disabled")

// listHandles pages through /products.json, storefronts that disable it are
// scraped from /collections/all instead.
func (c *Client) listHandles(ctx context.Context, t target) ([]string, error) {
	handles, err := c.listHandlesJSON(ctx, t)
	if errors.Is(err, errListingDisabled) {
		c.tel.ReportDebug("products.json disabled, falling back to html", t.base.String())
		return c.listHandlesHTML(ctx, t)
	}
	return handles, err
}

func (c *Client) listHandlesJSON(ctx context.Context, t target) ([]string, error) {
	endpoint := t.base.JoinPath("products.json").String()

	var handles []string
	for page := 1; page <= c.options.MaxPages; page++ {
		res, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("limit", fmt.Sprint(pageSize)).
			SetQueryParam("page", fmt.Sprint(page)).
			Get(endpoint)
		if err != nil {
			return nil, err
		}
		if res.StatusCode() == http.StatusNotFound {
			return nil, errListingDisabled
		}
		if res.IsError() {
			return nil, fmt.Errorf("get %s: status %d", endpoint, res.StatusCode())
		}

		var listing productListing
		err = json.Unmarshal(res.Body(), &listing)
		if err != nil {
			return nil, fmt.Errorf("parse %s page %d: %w", endpoint, page, err)
		}
		if len(listing.Products) == 0 {
			break
		}
		for _, p := range listing.Products {
			if p.Handle != "" {
				handles = append(handles, p.Handle)
			}
		}
		if len(listing.Products) < pageSize {
			break
		}
	}
	return dedupe(handles), nil
}

func dedupe(handles []string) []string {
	seen := map[string]struct{}{}
	out := handles[:0]
	for _, h := range handles {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
