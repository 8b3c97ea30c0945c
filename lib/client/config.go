package client

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"astroquery/lib/query"
)

const (
	DefaultTimeout            = 60
	DefaultMinRecheckInterval = 5
)

// Protocol names accepted in Config.Protocol.
const (
	ProtocolSync = "sync"
	ProtocolUWS  = "uws"
)

// Config is the per service configuration a client is constructed with. Durations are in seconds.
type Config struct {
	// Server is the base url requests (or job submissions) are sent to.
	Server string `json:"server" yaml:"server"`
	// Timeout of a single request, defaults to 60.
	Timeout float64 `json:"timeout" yaml:"timeout"`
	// Method is GET or POST, defaults to GET.
	Method string `json:"method" yaml:"method"`
	// Protocol is "sync" (default) or "uws" for services answering through a job.
	Protocol string `json:"protocol" yaml:"protocol"`

	// Params are sent with every request, before the descriptor's own params.
	// A descriptor param with the same name takes their place.
	Params map[string]string `json:"params" yaml:"params"`
	// FormatParam, when set, is the name of the request parameter carrying the output format.
	FormatParam string `json:"format_param" yaml:"format_param"`
	// FormatValues overrides the value sent in FormatParam, keyed by format name (votable, json, ...).
	FormatValues map[string]string `json:"format_values" yaml:"format_values"`

	// CacheTTL of stored results, 0 means entries never expire.
	CacheTTL float64 `json:"cache_ttl" yaml:"cache_ttl"`
	// MinRecheckInterval between two status checks of a deferred job, defaults to 5.
	MinRecheckInterval float64 `json:"min_recheck_interval" yaml:"min_recheck_interval"`
	// JobTimeout fails a job still pending this long after submission, 0 means no deadline.
	JobTimeout float64 `json:"job_timeout" yaml:"job_timeout"`
	// RateLimit in requests per second, 0 means unlimited.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	// CloudflareBypass makes requests look like they come from a browser.
	CloudflareBypass bool `json:"cloudflare_bypass" yaml:"cloudflare_bypass"`
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// WithDefaults returns a copy of c with unset options filled in.
func (c Config) WithDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Method == "" {
		c.Method = http.MethodGet
	}
	c.Method = strings.ToUpper(c.Method)
	if c.Protocol == "" {
		c.Protocol = ProtocolSync
	}
	c.Protocol = strings.ToLower(c.Protocol)
	if c.MinRecheckInterval <= 0 {
		c.MinRecheckInterval = DefaultMinRecheckInterval
	}
	return c
}

// Validate fails with query.ErrInvalidQuery when the configuration cannot produce requests.
func (c Config) Validate() error {
	parsed, err := url.Parse(c.Server)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w: server %q is not an http(s) url", query.ErrInvalidQuery, c.Server)
	}
	switch strings.ToUpper(c.Method) {
	case "", http.MethodGet, http.MethodPost:
	default:
		return fmt.Errorf("%w: unsupported method %q", query.ErrInvalidQuery, c.Method)
	}
	switch strings.ToLower(c.Protocol) {
	case "", ProtocolSync, ProtocolUWS:
	default:
		return fmt.Errorf("%w: unknown protocol %q", query.ErrInvalidQuery, c.Protocol)
	}
	if c.Timeout < 0 || c.CacheTTL < 0 || c.MinRecheckInterval < 0 || c.JobTimeout < 0 || c.RateLimit < 0 {
		return fmt.Errorf("%w: durations and rates must not be negative", query.ErrInvalidQuery)
	}
	return nil
}

func (c Config) TimeoutDuration() time.Duration {
	return seconds(c.Timeout)
}

func (c Config) CacheTTLDuration() time.Duration {
	return seconds(c.CacheTTL)
}

func (c Config) MinRecheckDuration() time.Duration {
	return seconds(c.MinRecheckInterval)
}

func (c Config) JobTimeoutDuration() time.Duration {
	return seconds(c.JobTimeout)
}

// FormatValue is what FormatParam is set to for f.
func (c Config) FormatValue(f query.Format) string {
	if v, ok := c.FormatValues[f.String()]; ok {
		return v
	}
	return f.String()
}
