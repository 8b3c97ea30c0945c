package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"astroquery/internal/components/chrono"
	"astroquery/internal/components/telemetry"
	"astroquery/lib/cache"
	"astroquery/lib/client"
	"astroquery/lib/query"
	"astroquery/lib/table"
	"astroquery/lib/transport"
)

// Descriptor builds a descriptor for the service, an empty format means the service's default.
func (s Service) Descriptor(params []query.Param, format string) (query.Descriptor, error) {
	f := s.Format
	if strings.TrimSpace(format) != "" {
		var err error
		f, err = query.ParseFormat(format)
		if err != nil {
			return query.Descriptor{}, err
		}
	}
	return query.Build(s.Name, params, f)
}

// ParseParams reads "name=value" arguments in order.
func ParseParams(args []string) ([]query.Param, error) {
	params := make([]query.Param, 0, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("%w: parameter %q is not of the form name=value", query.ErrInvalidQuery, arg)
		}
		params = append(params, query.P(strings.TrimSpace(name), value))
	}
	return params, nil
}

type PoolOptions struct {
	// Cache is shared by every client, it defaults to an in-memory cache.
	Cache cache.Cache
	// Transport is shared by every client when set, otherwise each service gets its own
	// resty transport honoring its rate limit.
	Transport transport.Transport
	// Protocol runs deferred services, nil means UWS.
	Protocol client.JobProtocol
	// DumpDir, when set, receives every http exchange under a directory per service.
	DumpDir string
	Clock   chrono.API
	Tel     telemetry.API
}

// Pool lazily builds one client per service and reuses it.
type Pool struct {
	registry Registry
	opts     PoolOptions

	mu      sync.Mutex
	clients map[string]*client.DeferredClient
}

func NewPool(registry Registry, opts PoolOptions) *Pool {
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory(chrono.OrDefault(opts.Clock))
	}
	return &Pool{
		registry: registry,
		opts:     opts,
		clients:  make(map[string]*client.DeferredClient),
	}
}

func (p *Pool) Registry() Registry {
	return p.registry
}

func (p *Pool) Cache() cache.Cache {
	return p.opts.Cache
}

// Client looks the service up and returns its client. Synchronous services use the embedded
// *client.Client, deferred ones the job methods.
func (p *Pool) Client(name string) (Service, *client.DeferredClient, error) {
	s, err := p.registry.Lookup(name)
	if err != nil {
		return Service{}, nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.clients[s.Name]
	if ok {
		return s, c, nil
	}
	var dumpDir string
	if p.opts.DumpDir != "" {
		dumpDir = filepath.Join(p.opts.DumpDir, s.Name)
	}
	c, err = client.NewDeferred(client.Options{
		Config:    s.Config,
		DumpDir:   dumpDir,
		Transport: p.opts.Transport,
		Cache:     p.opts.Cache,
		Clock:     p.opts.Clock,
		Tel:       telemetry.ForService(p.opts.Tel, s.Name),
	}, p.opts.Protocol)
	if err != nil {
		return Service{}, nil, fmt.Errorf("service %q: %w", s.Name, err)
	}
	p.clients[s.Name] = c
	return s, c, nil
}

// Query runs d against its service. Deferred services run a whole job and wait for it, bypassing the
// cache for them drops the cached entry first.
func (p *Pool) Query(ctx context.Context, d query.Descriptor, bypassCache bool) (table.Table, error) {
	s, c, err := p.Client(d.Service())
	if err != nil {
		return table.Table{}, err
	}
	if !s.Deferred() {
		if bypassCache {
			return c.QueryBypassCache(ctx, d)
		}
		return c.Query(ctx, d)
	}

	if bypassCache {
		err = c.Invalidate(ctx, d)
		if err != nil {
			return table.Table{}, err
		}
	}
	result, _, err := c.Run(ctx, d)
	return result, err
}
