// Package client runs queries against remote archives: it builds the request for a descriptor,
// consults the response cache, fetches through the transport and decodes the payload.
package client

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"astroquery/internal/components/chrono"
	"astroquery/internal/components/telemetry"
	"astroquery/lib/cache"
	"astroquery/lib/decode"
	"astroquery/lib/query"
	"astroquery/lib/table"
	"astroquery/lib/transport"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("astroquery/lib/client")

const (
	report_query_cache_put = "client.query-cache-put"
	report_query_failed    = "client.query"
	report_query_cache_hit = "client.cache-hit"
)

// RequestBuilder derives the network request for a descriptor.
type RequestBuilder func(cfg Config, d query.Descriptor) (transport.Request, error)

// Authenticator logs a client in, services that need no authentication leave it nil.
type Authenticator interface {
	Login(ctx context.Context, fetch transport.Transport, credentials ...string) error
}

type Options struct {
	Config Config
	// Transport defaults to a transport.Resty built from Config.
	Transport transport.Transport
	// Cache defaults to an in-memory cache.
	Cache cache.Cache
	// Decoder defaults to decode.NewRegistry().
	Decoder decode.Decoder
	// Request defaults to DefaultRequest.
	Request RequestBuilder
	Auth    Authenticator
	// DumpDir is passed on to the default transport, see transport.RestyOptions.
	DumpDir string
	Clock   chrono.API
	Tel     telemetry.API
}

// Client is the synchronous query client, it is safe for concurrent use.
type Client struct {
	cfg       Config
	transport transport.Transport
	cache     cache.Cache
	decoder   decode.Decoder
	request   RequestBuilder
	auth      Authenticator
	clock     chrono.API
	tel       telemetry.API

	inflight singleflight.Group
}

func New(opts Options) (*Client, error) {
	cfg := opts.Config.WithDefaults()
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	tel := telemetry.OrDefault(opts.Tel)
	clock := chrono.OrDefault(opts.Clock)

	fetch := opts.Transport
	if fetch == nil {
		fetch, err = transport.NewResty(transport.RestyOptions{
			RateLimit:        cfg.RateLimit,
			CloudflareBypass: cfg.CloudflareBypass,
			DumpDir:          opts.DumpDir,
			Tel:              tel,
		})
		if err != nil {
			return nil, err
		}
	}
	store := opts.Cache
	if store == nil {
		store = cache.NewMemory(clock)
	}
	var decoder decode.Decoder = decode.NewRegistry()
	if opts.Decoder != nil {
		decoder = opts.Decoder
	}
	request := opts.Request
	if request == nil {
		request = DefaultRequest
	}

	return &Client{
		cfg:       cfg,
		transport: fetch,
		cache:     store,
		decoder:   decoder,
		request:   request,
		auth:      opts.Auth,
		clock:     clock,
		tel:       tel,
	}, nil
}

func (c *Client) Config() Config {
	return c.cfg
}

// Login runs the configured Authenticator, it does nothing for services without one.
func (c *Client) Login(ctx context.Context, credentials ...string) error {
	if c.auth == nil {
		return nil
	}
	return c.auth.Login(ctx, c.transport, credentials...)
}

// Query returns the cached result for d or fetches, decodes and caches it.
// Concurrent calls for equal descriptors share a single fetch.
func (c *Client) Query(ctx context.Context, d query.Descriptor) (table.Table, error) {
	return c.query(ctx, d, false)
}

// QueryBypassCache always fetches and overwrites whatever is cached for d.
func (c *Client) QueryBypassCache(ctx context.Context, d query.Descriptor) (table.Table, error) {
	return c.query(ctx, d, true)
}

func (c *Client) query(ctx context.Context, d query.Descriptor, bypass bool) (table.Table, error) {
	ctx, span := tracer.Start(ctx, "Query", trace.WithAttributes(
		attribute.String("service", d.Service()),
		attribute.String("cache_key", d.Key()),
		attribute.Bool("bypass_cache", bypass),
	))
	defer span.End()

	if d.IsZero() {
		err := fmt.Errorf("%w: descriptor was not built", query.ErrInvalidQuery)
		span.SetStatus(codes.Error, "invalid descriptor")
		return table.Table{}, err
	}

	if !bypass {
		entry, ok := c.cache.Get(ctx, d)
		if ok {
			c.tel.ReportDebug(report_query_cache_hit, "descriptor", d.String())
			span.SetStatus(codes.Ok, "CACHE HIT")
			return entry.Table, nil
		}
	}

	req, err := c.request(c.cfg, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build request")
		return table.Table{}, err
	}

	var result table.Table
	if bypass {
		result, err = c.fetchAndStore(ctx, d, req)
	} else {
		result, err = c.fetchShared(ctx, d, req)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, query.Kind(err))
		return table.Table{}, err
	}
	return result, nil
}

// fetchShared coalesces concurrent fetches of one descriptor. The shared fetch is detached from
// the caller that started it so cancelling one caller never fails the others, each caller still
// stops waiting when its own context ends.
func (c *Client) fetchShared(ctx context.Context, d query.Descriptor, req transport.Request) (table.Table, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(d.Key(), func() (any, error) {
		return c.fetchAndStore(detached, d, req)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return table.Table{}, res.Err
		}
		return res.Val.(table.Table), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return table.Table{}, fmt.Errorf("%w: %s: %w", query.ErrTimeout, d.Service(), ctx.Err())
		}
		return table.Table{}, ctx.Err()
	}
}

func (c *Client) fetchAndStore(ctx context.Context, d query.Descriptor, req transport.Request) (table.Table, error) {
	res, err := c.transport.Fetch(ctx, req)
	if err != nil {
		c.tel.ReportDebug(report_query_failed, "descriptor", d.String(), "err", err)
		return table.Table{}, err
	}
	return c.decodeAndStore(ctx, d, res.Body)
}

// decodeAndStore decodes raw as the descriptor's format and caches it. Failed decodes are never cached,
// a failed cache write is reported and the result is still returned.
func (c *Client) decodeAndStore(ctx context.Context, d query.Descriptor, raw []byte) (table.Table, error) {
	result, err := c.decoder.Decode(raw, d.Format())
	if err != nil {
		return table.Table{}, err
	}

	now := c.clock.Now()
	entry := cache.Entry{Table: result, FetchedAt: now}
	if ttl := c.cfg.CacheTTLDuration(); ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	err = c.cache.Put(ctx, d, entry)
	if err != nil {
		c.tel.ReportWarning(report_query_cache_put, err, d.Key())
	}
	return result, nil
}

// QueryAll runs every descriptor with at most concurrency queries in flight (unbounded when <= 0).
// Results are in input order, the first failure cancels the remaining queries and is returned.
func (c *Client) QueryAll(ctx context.Context, descriptors []query.Descriptor, concurrency int) ([]table.Table, error) {
	results := make([]table.Table, len(descriptors))
	group, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		group.SetLimit(concurrency)
	}
	for i, d := range descriptors {
		group.Go(func() error {
			result, err := c.Query(ctx, d)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	err := group.Wait()
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Invalidate removes whatever is cached for d.
func (c *Client) Invalidate(ctx context.Context, d query.Descriptor) error {
	return c.cache.Invalidate(ctx, d)
}

// DefaultRequest sends Config.Params, then the descriptor params in their given order, then the
// format parameter when Config.FormatParam is set, to Config.Server.
func DefaultRequest(cfg Config, d query.Descriptor) (transport.Request, error) {
	params := d.Params()
	if cfg.FormatParam != "" {
		if _, conflict := d.Param(cfg.FormatParam); conflict {
			return transport.Request{}, fmt.Errorf(
				"%w: parameter %q is reserved for the output format", query.ErrInvalidQuery, cfg.FormatParam,
			)
		}
	}

	fixed := make([]string, 0, len(cfg.Params))
	for name := range cfg.Params {
		fixed = append(fixed, name)
	}
	sort.Strings(fixed)

	fields := make([]transport.Field, 0, len(fixed)+len(params)+1)
	placed := map[string]bool{}
	for _, name := range fixed {
		value := cfg.Params[name]
		if v, ok := d.Param(name); ok {
			value = query.FormatValue(v)
			placed[name] = true
		}
		fields = append(fields, transport.Field{Key: name, Value: value})
	}
	for _, p := range params {
		if placed[p.Name] {
			continue
		}
		fields = append(fields, transport.Field{Key: p.Name, Value: query.FormatValue(p.Value)})
	}
	if cfg.FormatParam != "" {
		fields = append(fields, transport.Field{Key: cfg.FormatParam, Value: cfg.FormatValue(d.Format())})
	}

	return transport.Request{
		Method:  cfg.Method,
		URL:     cfg.Server,
		Fields:  fields,
		Timeout: cfg.TimeoutDuration(),
	}, nil
}

