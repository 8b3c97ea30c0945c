package telemetry

import (
	"fmt"
)

// API is what the query stack reports through. Tests swap in a Recorder to assert that a failing
// archive, cache or transport was reported.
type API interface {
	// ReportBroken reports a component that failed in a way someone should look at, a cache that
	// cannot be read or a response body that cannot be dumped.
	//
	// The id names the component and operation, not the archive or the query: `client.query`, never
	// `client.query-simbad-m31`. Put the descriptor or the error in params, and use ForService to tag
	// every report of one archive.
	//
	// Ids are lowercase, dots separate a component from its operation and dashes join the words of
	// an operation (`cache.sql-delete-expired`). The package prefix comes from ScopedAPI.
	ReportBroken(id string, params ...any)

	// ReportWarning reports something that did not fail the current query but may need a look, a
	// non 2xx response or a cache write that was dropped. Ids follow ReportBroken.
	ReportWarning(id string, params ...any)

	// ReportDebug reports detail that is only logged with --verbose.
	ReportDebug(msg string, params ...any)

	// ReportCount reports the current value of a gauge, such as cached entries. Values are points
	// in time, not increments. Ids follow ReportBroken.
	ReportCount(id string, count int64)
}

// attributer is implemented by APIs that can tag every report with extra attributes.
type attributer interface {
	With(attrs ...any) API
}

// ForService returns tel with every report tagged with the archive service name. APIs that cannot
// carry attributes get the name as a ScopedAPI namespace instead.
func ForService(tel API, service string) API {
	tel = OrDefault(tel)
	if service == "" {
		return tel
	}
	if a, ok := tel.(attributer); ok {
		return a.With("service", service)
	}
	return NewScopedAPI(service, tel)
}

// ScopedAPI prefixes every id with a package namespace, "transport: client.fetch".
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) id(id string) string {
	return fmt.Sprintf("%s: %s", s.namespace, id)
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.id(id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.id(id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(s.id(msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.id(id), count)
}

// OrDefault returns tel, or a SlogAPI when tel is nil.
func OrDefault(tel API) API {
	if tel == nil {
		return SlogAPI{}
	}
	return tel
}
