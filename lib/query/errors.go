package query

import "errors"

// Every failure surfaced by this module wraps exactly one of these, use errors.Is to branch on them.
var (
	// ErrInvalidQuery is a malformed descriptor or request, it is the caller's fault and should not be retried.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrTimeout means no response arrived within the timeout, the caller may retry with a larger one.
	ErrTimeout = errors.New("query timed out")
	// ErrTransport is a connection level (or http status) failure, the caller may retry.
	ErrTransport = errors.New("transport failure")
	// ErrParse means the payload did not match its declared format, the same request will fail identically.
	ErrParse = errors.New("malformed response")
	// ErrEmptyResult means the payload was well-formed but contained zero rows.
	ErrEmptyResult = errors.New("empty result")
	// ErrInvalidState means a deferred job was checked or fetched out of sequence.
	ErrInvalidState = errors.New("invalid job state")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidQuery, "invalid_query"},
	{ErrTimeout, "timeout"},
	{ErrTransport, "transport"},
	{ErrParse, "parse"},
	{ErrEmptyResult, "empty_result"},
	{ErrInvalidState, "invalid_state"},
}

// Kind returns the name of the error kind wrapped by err, "" if err is nil
// and "unknown" if it wraps none of the sentinels.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}
