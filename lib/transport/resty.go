package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"

	"astroquery/internal/components/telemetry"
	"astroquery/lib/query"
	tracing "astroquery/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "astroquery-go/1.0 (+https://github.com/astropy/astroquery)"

type RestyOptions struct {
	UserAgent string
	// RateLimit is the maximum number of requests per second, 0 means unlimited.
	RateLimit float64
	// Burst defaults to max(1, RateLimit) when RateLimit is set.
	Burst int
	// CloudflareBypass wraps the http transport so that requests look like they come from a browser.
	CloudflareBypass bool
	// DumpDir, when set, receives a file per exchange.
	DumpDir string
	// MaxRedirects defaults to 10.
	MaxRedirects int
	Tel          telemetry.API
}

// Resty is the default Transport, backed by a single resty client.
type Resty struct {
	Http *resty.Client
	tel  telemetry.API
}

func NewResty(opts RestyOptions) (*Resty, error) {
	tel := telemetry.NewScopedAPI("transport", telemetry.OrDefault(opts.Tel))

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	client.SetHeader("user-agent", userAgent)

	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 10
	}
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects))

	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = max(1, int(opts.RateLimit))
		}
		// max burst >= RateLimit just means that no requests will be dropped
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(client, tel)
	tracing.TraceResty(client, "astroquery/transport")

	if opts.DumpDir != "" {
		dump, err := NewFilesystemDump(opts.DumpDir)
		if err != nil {
			return nil, err
		}
		dump.instrument(client)
	}

	return &Resty{Http: client, tel: tel}, nil
}

func (r *Resty) Fetch(ctx context.Context, req Request) (Response, error) {
	err := validate(req)
	if err != nil {
		return Response{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, req.timeout())
	defer cancel()

	httpReq := r.Http.R().SetContext(ctx)
	target := req.URL
	encoded := req.Encode()

	var res *resty.Response
	switch req.method() {
	case http.MethodPost:
		res, err = httpReq.
			SetBody(encoded).
			SetHeader("Content-Type", "application/x-www-form-urlencoded").
			Post(target)
	default:
		if encoded != "" {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target = target + sep + encoded
		}
		res, err = httpReq.Get(target)
	}
	if err != nil {
		return Response{}, classify(ctx, err, req)
	}

	finalUrl := target
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		finalUrl = res.RawResponse.Request.URL.String()
	}

	if res.StatusCode() >= 400 {
		return Response{}, &StatusError{
			Code: res.StatusCode(),
			URL:  finalUrl,
			Body: res.Body(),
		}
	}

	return Response{
		StatusCode: res.StatusCode(),
		URL:        finalUrl,
		Header:     res.Header(),
		Body:       res.Body(),
	}, nil
}

func classify(ctx context.Context, err error, req Request) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: no response from %s within %s", query.ErrTimeout, req.URL, req.timeout())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %w", query.ErrTimeout, req.URL, err)
	}
	return fmt.Errorf("%w: %s %s: %w", query.ErrTransport, req.method(), req.URL, err)
}
