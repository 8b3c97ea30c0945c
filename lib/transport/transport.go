package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"astroquery/lib/query"
)

// DefaultTimeout applies to requests that do not set one.
const DefaultTimeout = 60 * time.Second

// Field is one encoded request parameter, fields keep their order on the wire.
type Field struct {
	Key   string
	Value string
}

// Request is everything needed for one network round trip.
type Request struct {
	// Method is GET or POST, GET when empty. POST sends Fields as a form body.
	Method  string
	URL     string
	Fields  []Field
	Timeout time.Duration
}

// Encode renders the fields as an urlencoded string, keeping their order.
func (r Request) Encode() string {
	var out strings.Builder
	for i, f := range r.Fields {
		if i > 0 {
			out.WriteByte('&')
		}
		out.WriteString(url.QueryEscape(f.Key))
		out.WriteByte('=')
		out.WriteString(url.QueryEscape(f.Value))
	}
	return out.String()
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

func (r Request) timeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

// Response is a raw payload along with the url it was finally served from (after redirects).
type Response struct {
	StatusCode int
	URL        string
	Header     http.Header
	Body       []byte
}

// Transport performs the actual network call.
//
// Fetch fails with an error wrapping query.ErrTimeout when no response arrives within
// the request timeout, and query.ErrTransport for anything else. Non 2xx/3xx
// responses are reported as a *StatusError.
type Transport interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// Func adapts a plain function to a Transport.
type Func func(ctx context.Context, req Request) (Response, error)

func (f Func) Fetch(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// StatusError is a response the service answered with an error status.
type StatusError struct {
	Code int
	URL  string
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s returned http %d", query.ErrTransport.Error(), e.URL, e.Code)
}

func (e *StatusError) Unwrap() error {
	return query.ErrTransport
}

// Gone reports whether the status means the resource no longer exists.
func (e *StatusError) Gone() bool {
	return e.Code == http.StatusNotFound || e.Code == http.StatusGone
}

func validate(req Request) error {
	method := req.method()
	if method != http.MethodGet && method != http.MethodPost {
		return fmt.Errorf("%w: unsupported http method %q", query.ErrInvalidQuery, req.Method)
	}
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return fmt.Errorf("%w: bad url %q: %s", query.ErrInvalidQuery, req.URL, err.Error())
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: url %q must be http or https", query.ErrInvalidQuery, req.URL)
	}
	return nil
}
