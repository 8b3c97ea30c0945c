package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"astroquery/internal/components/chrono"
	"astroquery/lib/query"

	"github.com/stretchr/testify/require"
)

const jobDocument = `<?xml version="1.0" encoding="UTF-8"?>
<uws:job xmlns:uws="http://www.ivoa.net/xml/UWS/v1.0">
  <uws:jobId>%s</uws:jobId>
  <uws:phase>%s</uws:phase>
  <uws:errorSummary type="fatal"><uws:message>%s</uws:message></uws:errorSummary>
</uws:job>`

// uwsServer simulates a TAP /async endpoint, phases of a job advance by one on every phase read.
type uwsServer struct {
	mu       sync.Mutex
	phases   map[string][]string
	redirect bool
	form     map[string]string
}

func (s *uwsServer) next(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	phases := s.phases[id]
	phase := phases[0]
	if len(phases) > 1 {
		s.phases[id] = phases[1:]
	}
	return phase
}

func (s *uwsServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /async", func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.form = map[string]string{}
		for key := range r.PostForm {
			s.form[key] = r.PostForm.Get(key)
		}
		s.mu.Unlock()

		if r.PostForm.Get("PHASE") != "RUN" {
			http.Error(w, "job was not started", http.StatusBadRequest)
			return
		}
		if s.redirect {
			http.Redirect(w, r, "/async/job1", http.StatusSeeOther)
			return
		}
		fmt.Fprintf(w, jobDocument, "job1", "QUEUED", "")
	})
	mux.HandleFunc("GET /async/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, ok := s.phases[id]; !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, jobDocument, id, "ERROR", "table gaiadr3.nope does not exist")
	})
	mux.HandleFunc("GET /async/{id}/phase", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, ok := s.phases[id]; !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, s.next(id))
	})
	mux.HandleFunc("GET /async/{id}/results/result", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-votable+xml")
		fmt.Fprint(w, threeRows)
	})
	return mux
}

func setupUWS(t *testing.T, server *uwsServer) (*DeferredClient, *chrono.ManualClock, string) {
	t.Helper()
	ts := httptest.NewServer(server.handler())
	t.Cleanup(ts.Close)

	cfg := gaiaConfig
	cfg.Server = ts.URL + "/async"
	clock := chrono.NewManualClock(epoch)
	c, err := NewDeferred(Options{Config: cfg, Clock: clock}, UWS{})
	require.NoError(t, err)
	return c, clock, ts.URL
}

func TestUWSJob(t *testing.T) {
	ctx := context.Background()
	server := &uwsServer{
		redirect: true,
		phases:   map[string][]string{"job1": {"QUEUED", "EXECUTING", "COMPLETED"}},
	}
	c, clock, base := setupUWS(t, server)
	d := gaiaQuery(t)

	job, err := c.Submit(ctx, d)
	require.NoError(t, err)
	require.Equal(t, base+"/async/job1", job.Handle)
	require.Equal(t, "RUN", server.form["PHASE"])
	require.Equal(t, "votable", server.form["FORMAT"])
	require.Equal(t, "doQuery", server.form["REQUEST"])

	for _, expected := range []JobStatus{JobPending, JobPending, JobReady} {
		clock.Advance(5 * time.Second)
		job, err = c.CheckStatus(ctx, job)
		require.NoError(t, err)
		require.Equal(t, expected, job.Status)
	}

	result, err := c.FetchResult(ctx, job)
	require.NoError(t, err)
	require.Equal(t, 3, result.NumRows())
	require.Equal(t, []string{"main_id", "ra", "dec"}, result.Names())
}

func TestUWSJobIdWithoutRedirect(t *testing.T) {
	server := &uwsServer{phases: map[string][]string{"job1": {"EXECUTING"}}}
	c, _, base := setupUWS(t, server)

	job, err := c.Submit(context.Background(), gaiaQuery(t))
	require.NoError(t, err)
	require.Equal(t, base+"/async/job1", job.Handle)
}

func TestUWSFailureAndExpiry(t *testing.T) {
	ctx := context.Background()
	server := &uwsServer{
		redirect: true,
		phases:   map[string][]string{"job1": {"ERROR"}},
	}
	c, clock, base := setupUWS(t, server)

	job, err := c.Submit(ctx, gaiaQuery(t))
	require.NoError(t, err)
	clock.Advance(5 * time.Second)
	job, err = c.CheckStatus(ctx, job)
	require.NoError(t, err)
	require.Equal(t, JobFailed, job.Status)
	require.Equal(t, "service reported phase ERROR: table gaiadr3.nope does not exist", job.Reason)

	gone := Job{
		Handle:      base + "/async/unknown",
		Status:      JobPending,
		Descriptor:  gaiaQuery(t),
		CreatedAt:   clock.Now(),
		MinInterval: time.Second,
	}
	clock.Advance(time.Second)
	gone, err = c.CheckStatus(ctx, gone)
	require.NoError(t, err)
	require.Equal(t, JobExpired, gone.Status)
}

func TestUWSUnknownPhase(t *testing.T) {
	ctx := context.Background()
	server := &uwsServer{
		redirect: true,
		phases:   map[string][]string{"job1": {"DANCING"}},
	}
	c, clock, _ := setupUWS(t, server)

	job, err := c.Submit(ctx, gaiaQuery(t))
	require.NoError(t, err)
	clock.Advance(5 * time.Second)
	_, err = c.CheckStatus(ctx, job)
	require.ErrorIs(t, err, query.ErrParse)
}
