package cache

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/gob"
	"errors"
	"time"

	"astroquery/internal/components/chrono"
	"astroquery/internal/components/telemetry"
	"astroquery/lib/query"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

const (
	report_sql_read           = "read"
	report_sql_decode         = "decode-entry"
	report_sql_delete_expired = "delete-expired"
)

// SQL persists entries in a sqlite or libsql database, tables are stored gob encoded.
type SQL struct {
	db    *sql.DB
	clock chrono.API
	tel   telemetry.API
}

// NewSQL creates the cache table if it is missing.
func NewSQL(ctx context.Context, db *sql.DB, clock chrono.API, tel telemetry.API) (*SQL, error) {
	_, err := db.ExecContext(ctx, Schema)
	if err != nil {
		return nil, err
	}
	return &SQL{
		db:    db,
		clock: chrono.OrDefault(clock),
		tel:   telemetry.NewScopedAPI("cache", telemetry.OrDefault(tel)),
	}, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

func keyAttribute(d query.Descriptor) attribute.KeyValue {
	return attribute.KeyValue{
		Key:   "cache_key",
		Value: attribute.StringValue(d.Key()),
	}
}

func (c *SQL) Get(ctx context.Context, d query.Descriptor) (Entry, bool) {
	ctx, span := tracer.Start(ctx, "sql.get")
	defer span.End()
	span.SetAttributes(keyAttribute(d))

	var payload []byte
	var fetchedAt, expiresAt int64
	err := c.db.QueryRowContext(
		ctx,
		"select payload, fetched_at, expires_at from query_cache where key = ?",
		d.Key(),
	).Scan(&payload, &fetchedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Ok, "CACHE MISS")
		return Entry{}, false
	}
	if err != nil {
		c.tel.ReportBroken(report_sql_read, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read cache row")
		return Entry{}, false
	}

	entry := Entry{
		FetchedAt: fromUnixNano(fetchedAt),
		ExpiresAt: fromUnixNano(expiresAt),
	}
	if entry.Expired(c.clock.Now()) {
		span.AddEvent("delete expired cache key", trace.WithAttributes(keyAttribute(d)))
		err := c.Invalidate(ctx, d)
		if err != nil {
			c.tel.ReportWarning(report_sql_delete_expired, err)
		}
		span.SetStatus(codes.Ok, "CACHE EXPIRED")
		return Entry{}, false
	}

	err = gob.NewDecoder(bytes.NewReader(payload)).Decode(&entry.Table)
	if err != nil {
		c.tel.ReportBroken(report_sql_decode, err, d.Key())
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deserialize cached table")
		return Entry{}, false
	}

	span.SetStatus(codes.Ok, "CACHE HIT")
	return entry, true
}

func (c *SQL) Put(ctx context.Context, d query.Descriptor, entry Entry) error {
	ctx, span := tracer.Start(ctx, "sql.put")
	defer span.End()
	span.SetAttributes(keyAttribute(d))

	var serialized bytes.Buffer
	err := gob.NewEncoder(&serialized).Encode(entry.Table)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize table")
		return err
	}

	_, err = c.db.ExecContext(
		ctx,
		`insert into query_cache(key, service, descriptor, payload, fetched_at, expires_at)
values (?, ?, ?, ?, ?, ?)
on conflict(key) do update set
    payload = excluded.payload,
    fetched_at = excluded.fetched_at,
    expires_at = excluded.expires_at`,
		d.Key(),
		d.Service(),
		d.String(),
		serialized.Bytes(),
		unixNano(entry.FetchedAt),
		unixNano(entry.ExpiresAt),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write cache row")
		return err
	}
	return nil
}

func (c *SQL) Invalidate(ctx context.Context, d query.Descriptor) error {
	_, err := c.db.ExecContext(ctx, "delete from query_cache where key = ?", d.Key())
	return err
}

func (c *SQL) Purge(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "sql.purge")
	defer span.End()

	res, err := c.db.ExecContext(
		ctx,
		"delete from query_cache where expires_at != 0 and expires_at <= ?",
		c.clock.Now().UnixNano(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to purge expired rows")
		return 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int64("removed", removed))
	return int(removed), nil
}

// Clear drops every entry, optionally only those of one service.
func (c *SQL) Clear(ctx context.Context, service string) (int, error) {
	var res sql.Result
	var err error
	if service == "" {
		res, err = c.db.ExecContext(ctx, "delete from query_cache")
	} else {
		res, err = c.db.ExecContext(ctx, "delete from query_cache where service = ?", service)
	}
	if err != nil {
		return 0, err
	}
	removed, err := res.RowsAffected()
	return int(removed), err
}

var _ Cache = (*SQL)(nil)
var _ Cache = (*Memory)(nil)

// Stored describes one row, used for listings.
type Stored struct {
	Key        string
	Service    string
	Descriptor string
	FetchedAt  time.Time
	ExpiresAt  time.Time
}

// List returns the stored rows ordered by fetch time, newest first.
func (c *SQL) List(ctx context.Context) ([]Stored, error) {
	rows, err := c.db.QueryContext(
		ctx,
		"select key, service, descriptor, fetched_at, expires_at from query_cache order by fetched_at desc",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Stored
	for rows.Next() {
		var s Stored
		var fetchedAt, expiresAt int64
		err := rows.Scan(&s.Key, &s.Service, &s.Descriptor, &fetchedAt, &expiresAt)
		if err != nil {
			return nil, err
		}
		s.FetchedAt = fromUnixNano(fetchedAt)
		s.ExpiresAt = fromUnixNano(expiresAt)
		out = append(out, s)
	}
	return out, rows.Err()
}
