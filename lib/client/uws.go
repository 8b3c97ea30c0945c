package client

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"astroquery/lib/query"
	"astroquery/lib/transport"

	"golang.org/x/net/html/charset"
)

// UWS runs jobs through an IVOA Universal Worker Service endpoint, as TAP /async resources do.
//
// Submitting POSTs the request fields with PHASE=RUN, the service answers with a redirect to
// the job url which becomes the handle.
type UWS struct{}

type uwsJob struct {
	JobID string `xml:"jobId"`
	Phase string `xml:"phase"`
	Error struct {
		Message string `xml:"message"`
	} `xml:"errorSummary"`
}

func parseUWSJob(raw []byte) (uwsJob, error) {
	var job uwsJob
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.CharsetReader = charset.NewReaderLabel
	err := dec.Decode(&job)
	return job, err
}

func (UWS) Submit(ctx context.Context, fetch transport.Transport, req transport.Request) (string, error) {
	req.Method = http.MethodPost
	req.Fields = append(append([]transport.Field(nil), req.Fields...), transport.Field{Key: "PHASE", Value: "RUN"})

	res, err := fetch.Fetch(ctx, req)
	if err != nil {
		return "", err
	}
	if res.URL != "" && strings.TrimRight(res.URL, "/") != strings.TrimRight(req.URL, "/") {
		return res.URL, nil
	}

	// no redirect was followed, the job document itself names the job
	job, err := parseUWSJob(res.Body)
	if err != nil || strings.TrimSpace(job.JobID) == "" {
		return "", fmt.Errorf("%w: uws: submission to %s returned no job url or job id", query.ErrParse, req.URL)
	}
	return strings.TrimRight(req.URL, "/") + "/" + strings.TrimSpace(job.JobID), nil
}

func (UWS) Status(ctx context.Context, fetch transport.Transport, handle string, timeout time.Duration) (JobStatus, string, error) {
	res, err := fetch.Fetch(ctx, transport.Request{
		Method:  http.MethodGet,
		URL:     strings.TrimRight(handle, "/") + "/phase",
		Timeout: timeout,
	})
	if err != nil {
		return JobPending, "", err
	}

	phase := strings.ToUpper(strings.TrimSpace(string(res.Body)))
	switch phase {
	case "PENDING", "QUEUED", "EXECUTING", "HELD", "SUSPENDED":
		return JobPending, "", nil
	case "COMPLETED":
		return JobReady, "", nil
	case "ERROR", "ABORTED":
		return JobFailed, uwsErrorSummary(ctx, fetch, handle, timeout, phase), nil
	case "ARCHIVED":
		return JobExpired, "job was archived by the service", nil
	}
	return JobPending, "", fmt.Errorf("%w: uws: unknown phase %q for %s", query.ErrParse, phase, handle)
}

// uwsErrorSummary reads the error message from the job document, falling back to the phase.
func uwsErrorSummary(ctx context.Context, fetch transport.Transport, handle string, timeout time.Duration, phase string) string {
	reason := "service reported phase " + phase
	res, err := fetch.Fetch(ctx, transport.Request{
		Method:  http.MethodGet,
		URL:     handle,
		Timeout: timeout,
	})
	if err != nil {
		return reason
	}
	job, err := parseUWSJob(res.Body)
	if err != nil || strings.TrimSpace(job.Error.Message) == "" {
		return reason
	}
	return reason + ": " + strings.TrimSpace(job.Error.Message)
}

func (UWS) Result(ctx context.Context, fetch transport.Transport, handle string, timeout time.Duration) ([]byte, error) {
	res, err := fetch.Fetch(ctx, transport.Request{
		Method:  http.MethodGet,
		URL:     strings.TrimRight(handle, "/") + "/results/result",
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}
