package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"astroquery/lib/query"
	"astroquery/lib/table"
	"astroquery/lib/transport"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrRecheckTooSoon is returned by CheckStatus when the job was checked less than its
// MinInterval ago, the job is returned unchanged.
var ErrRecheckTooSoon = fmt.Errorf("%w: status rechecked before the minimum interval", query.ErrInvalidState)

type JobStatus int

const (
	JobPending JobStatus = iota
	JobReady
	JobFailed
	JobExpired
)

func (s JobStatus) String() string {
	switch s {
	case JobPending:
		return "PENDING"
	case JobReady:
		return "READY"
	case JobFailed:
		return "FAILED"
	case JobExpired:
		return "EXPIRED"
	}
	return fmt.Sprintf("JobStatus(%d)", int(s))
}

func (s JobStatus) Terminal() bool {
	return s != JobPending
}

func (s JobStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Job is a deferred query the service is still working on. Jobs are values, CheckStatus
// returns the updated copy.
type Job struct {
	// Handle identifies the job on the service, usually the job url.
	Handle      string
	Status      JobStatus
	Descriptor  query.Descriptor
	CreatedAt   time.Time
	LastChecked time.Time
	MinInterval time.Duration
	// Deadline is when a still pending job is considered failed, zero means never.
	Deadline time.Time
	// Reason explains a FAILED or EXPIRED status.
	Reason string
}

func (j Job) Terminal() bool {
	return j.Status.Terminal()
}

// NextCheck is the earliest time CheckStatus will contact the service again.
func (j Job) NextCheck() time.Time {
	last := j.LastChecked
	if last.IsZero() {
		last = j.CreatedAt
	}
	return last.Add(j.MinInterval)
}

// JobProtocol is how a service runs deferred queries.
type JobProtocol interface {
	// Submit starts a job for req and returns its handle.
	Submit(ctx context.Context, fetch transport.Transport, req transport.Request) (string, error)
	// Status reads the current status of a job and, for failures, the reason.
	Status(ctx context.Context, fetch transport.Transport, handle string, timeout time.Duration) (JobStatus, string, error)
	// Result downloads the payload of a finished job.
	Result(ctx context.Context, fetch transport.Transport, handle string, timeout time.Duration) ([]byte, error)
}

// DeferredClient submits jobs and polls them, results are decoded and cached like synchronous queries.
type DeferredClient struct {
	*Client
	protocol JobProtocol
}

// NewDeferred builds a deferred client, a nil protocol means UWS.
func NewDeferred(opts Options, protocol JobProtocol) (*DeferredClient, error) {
	inner, err := New(opts)
	if err != nil {
		return nil, err
	}
	if protocol == nil {
		protocol = UWS{}
	}
	return &DeferredClient{Client: inner, protocol: protocol}, nil
}

func jobAttributes(job Job) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("service", job.Descriptor.Service()),
		attribute.String("job", job.Handle),
		attribute.String("status", job.Status.String()),
	)
}

// Submit sends the initial request and returns the job in PENDING state.
func (c *DeferredClient) Submit(ctx context.Context, d query.Descriptor) (Job, error) {
	ctx, span := tracer.Start(ctx, "Submit", trace.WithAttributes(
		attribute.String("service", d.Service()),
		attribute.String("cache_key", d.Key()),
	))
	defer span.End()

	if d.IsZero() {
		span.SetStatus(codes.Error, "invalid descriptor")
		return Job{}, fmt.Errorf("%w: descriptor was not built", query.ErrInvalidQuery)
	}
	req, err := c.request(c.cfg, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build request")
		return Job{}, err
	}

	handle, err := c.protocol.Submit(ctx, c.transport, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, query.Kind(err))
		return Job{}, err
	}

	now := c.clock.Now()
	job := Job{
		Handle:      handle,
		Status:      JobPending,
		Descriptor:  d,
		CreatedAt:   now,
		MinInterval: c.cfg.MinRecheckDuration(),
	}
	if timeout := c.cfg.JobTimeoutDuration(); timeout > 0 {
		job.Deadline = now.Add(timeout)
	}
	span.SetAttributes(attribute.String("job", handle))
	return job, nil
}

// CheckStatus asks the service for the job's status. Terminal jobs are returned as is, checks made
// before job.NextCheck() fail with ErrRecheckTooSoon. A job past its deadline becomes FAILED and a job
// whose url no longer resolves becomes EXPIRED.
func (c *DeferredClient) CheckStatus(ctx context.Context, job Job) (Job, error) {
	if job.Terminal() {
		return job, nil
	}

	now := c.clock.Now()
	if next := job.NextCheck(); now.Before(next) {
		return job, fmt.Errorf("%w: next check allowed in %s", ErrRecheckTooSoon, next.Sub(now))
	}

	ctx, span := tracer.Start(ctx, "CheckStatus", jobAttributes(job))
	defer span.End()

	job.LastChecked = now
	if !job.Deadline.IsZero() && !now.Before(job.Deadline) {
		job.Status = JobFailed
		job.Reason = fmt.Sprintf("job timeout exceeded, still pending after %s", now.Sub(job.CreatedAt))
		span.SetStatus(codes.Error, "job timeout")
		return job, nil
	}

	status, reason, err := c.protocol.Status(ctx, c.transport, job.Handle, c.cfg.TimeoutDuration())
	var statusErr *transport.StatusError
	if errors.As(err, &statusErr) && statusErr.Gone() {
		job.Status = JobExpired
		job.Reason = fmt.Sprintf("job url %s returned http %d", statusErr.URL, statusErr.Code)
		span.SetStatus(codes.Ok, "JOB EXPIRED")
		return job, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, query.Kind(err))
		return job, err
	}

	job.Status = status
	job.Reason = reason
	span.SetAttributes(attribute.String("new_status", status.String()))
	return job, nil
}

// FetchResult downloads, decodes and caches the result of a READY job under its descriptor.
func (c *DeferredClient) FetchResult(ctx context.Context, job Job) (table.Table, error) {
	if job.Status != JobReady {
		return table.Table{}, fmt.Errorf(
			"%w: job %s is %s, results are only available once it is READY",
			query.ErrInvalidState, job.Handle, job.Status,
		)
	}

	ctx, span := tracer.Start(ctx, "FetchResult", jobAttributes(job))
	defer span.End()

	raw, err := c.protocol.Result(ctx, c.transport, job.Handle, c.cfg.TimeoutDuration())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, query.Kind(err))
		return table.Table{}, err
	}
	result, err := c.decodeAndStore(ctx, job.Descriptor, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, query.Kind(err))
		return table.Table{}, err
	}
	return result, nil
}

// Wait polls the job every MinInterval until it is terminal or ctx is done.
func (c *DeferredClient) Wait(ctx context.Context, job Job) (Job, error) {
	for !job.Terminal() {
		delay := job.NextCheck().Sub(c.clock.Now())
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return job, ctx.Err()
			case <-timer.C:
			}
		}

		var err error
		job, err = c.CheckStatus(ctx, job)
		if errors.Is(err, ErrRecheckTooSoon) {
			continue
		}
		if err != nil {
			return job, err
		}
	}
	return job, nil
}

// Resume rebuilds a job submitted earlier, for instance by another process. The job is PENDING and
// may be checked immediately. submittedAt is when the job was created on the service, the job
// deadline counts from it. A zero submittedAt means the job age is unknown and the job has no
// deadline.
func (c *DeferredClient) Resume(handle string, d query.Descriptor, submittedAt time.Time) Job {
	job := Job{
		Handle:      handle,
		Status:      JobPending,
		Descriptor:  d,
		CreatedAt:   submittedAt,
		MinInterval: c.cfg.MinRecheckDuration(),
	}
	if timeout := c.cfg.JobTimeoutDuration(); timeout > 0 && !submittedAt.IsZero() {
		job.Deadline = submittedAt.Add(timeout)
	}
	return job
}

// Run answers d from the cache or runs a full job for it: Submit, Wait and FetchResult. A job that
// ends FAILED or EXPIRED is returned with an error wrapping query.ErrInvalidState.
func (c *DeferredClient) Run(ctx context.Context, d query.Descriptor) (table.Table, Job, error) {
	if !d.IsZero() {
		entry, hit := c.cache.Get(ctx, d)
		if hit {
			return entry.Table, Job{Status: JobReady, Descriptor: d}, nil
		}
	}

	job, err := c.Submit(ctx, d)
	if err != nil {
		return table.Table{}, job, err
	}
	job, err = c.Wait(ctx, job)
	if err != nil {
		return table.Table{}, job, err
	}
	if job.Status != JobReady {
		return table.Table{}, job, fmt.Errorf("%w: job %s ended %s: %s", query.ErrInvalidState, job.Handle, job.Status, job.Reason)
	}
	result, err := c.FetchResult(ctx, job)
	return result, job, err
}
