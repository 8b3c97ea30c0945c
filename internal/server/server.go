// Package server exposes the query clients over a small JSON http api.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"astroquery/internal/components/telemetry"
	"astroquery/lib/query"
	"astroquery/lib/services"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("astroquery/internal/server")

const (
	report_request_failed = "server.request"
	report_request_id     = "server.request-id"
)

const (
	paramFormat      = "format"
	paramBypassCache = "bypass_cache"

	headerRequestID = "X-Request-Id"
)

type Options struct {
	Pool *services.Pool
	// QueryTimeout bounds a single request, deferred jobs included. 5 minutes when unset.
	QueryTimeout time.Duration
	Tel          telemetry.API
}

type Server struct {
	pool    *services.Pool
	timeout time.Duration
	tel     telemetry.API
}

func New(opts Options) *Server {
	timeout := opts.QueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Server{
		pool:    opts.Pool,
		timeout: timeout,
		tel:     telemetry.NewScopedAPI("server", telemetry.OrDefault(opts.Tel)),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /services", s.listServices)
	mux.HandleFunc("GET /query/{service}", s.query)
	return s.withRequestID(mux)
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			var err error
			id, err = random.String(16)
			if err != nil {
				s.tel.ReportWarning(report_request_id, err)
				id = strconv.FormatInt(time.Now().UnixNano(), 36)
			}
		}
		w.Header().Set(headerRequestID, id)

		ctx, span := tracer.Start(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path), trace.WithAttributes(
			attribute.String("request_id", id),
		))
		defer span.End()

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, requestIDKey{}, id)))
		slog.Debug("handled request", "id", id, "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}

type serviceInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Format      string `json:"format"`
	Protocol    string `json:"protocol"`
	Server      string `json:"server"`
}

func (s *Server) listServices(w http.ResponseWriter, r *http.Request) {
	all := s.pool.Registry().All()
	out := make([]serviceInfo, len(all))
	for i, svc := range all {
		cfg := svc.Config.WithDefaults()
		out[i] = serviceInfo{
			Name:        svc.Name,
			Description: svc.Description,
			Format:      svc.Format.String(),
			Protocol:    cfg.Protocol,
			Server:      cfg.Server,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	span := trace.SpanFromContext(ctx)

	svc, _, err := s.pool.Client(r.PathValue("service"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	values := r.URL.Query()
	bypass := false
	if raw := values.Get(paramBypassCache); raw != "" {
		bypass, err = strconv.ParseBool(raw)
		if err != nil {
			s.fail(w, r, fmt.Errorf("%w: %s must be a boolean, got %q", query.ErrInvalidQuery, paramBypassCache, raw))
			return
		}
	}

	names := make([]string, 0, len(values))
	for name := range values {
		if name == paramFormat || name == paramBypassCache {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]query.Param, 0, len(names))
	for _, name := range names {
		if len(values[name]) > 1 {
			s.fail(w, r, fmt.Errorf("%w: parameter %q is given %d times", query.ErrInvalidQuery, name, len(values[name])))
			return
		}
		params = append(params, query.P(name, values.Get(name)))
	}

	d, err := svc.Descriptor(params, values.Get(paramFormat))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	span.SetAttributes(
		attribute.String("service", svc.Name),
		attribute.String("cache_key", d.Key()),
		attribute.Bool("bypass_cache", bypass),
	)

	result, err := s.pool.Query(ctx, d, bypass)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// StatusCode maps an error kind to the http status returned for it.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, query.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, query.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, query.ErrTransport), errors.Is(err, query.ErrParse), errors.Is(err, query.ErrInvalidState):
		return http.StatusBadGateway
	case errors.Is(err, query.ErrEmptyResult):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id"`
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	span := trace.SpanFromContext(r.Context())
	span.RecordError(err)
	span.SetStatus(codes.Error, query.Kind(err))

	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		s.tel.ReportWarning(report_request_failed, requestID(r.Context()), r.URL.String(), err)
	}
	writeJSON(w, status, errorBody{
		Error:     err.Error(),
		Kind:      query.Kind(err),
		RequestID: requestID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		slog.Debug("failed to write response", "err", err)
	}
}
