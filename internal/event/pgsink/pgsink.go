// Package pgsink persists speech segments and session summaries to
// PostgreSQL.
//
// Transition events are not stored; a segment row already carries both
// boundaries. The sink implements [event.Publisher] so it can be fanned out
// alongside the MQTT publisher with [event.Multi].
package pgsink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/vadstream/internal/event"
)

// Schema is the SQL DDL for the sink tables. Execute it via [Sink.Migrate]
// or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS vad_segments (
    id          BIGSERIAL PRIMARY KEY,
    session_id  TEXT NOT NULL,
    device_id   TEXT NOT NULL,
    start_ms    BIGINT NOT NULL,
    end_ms      BIGINT NOT NULL,
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    truncated   BOOLEAN NOT NULL DEFAULT false,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    CHECK (end_ms > start_ms)
);
CREATE INDEX IF NOT EXISTS idx_vad_segments_session ON vad_segments(session_id);

CREATE TABLE IF NOT EXISTS vad_sessions (
    session_id       TEXT PRIMARY KEY,
    device_id        TEXT NOT NULL,
    total_frames     INTEGER NOT NULL,
    speech_frames    INTEGER NOT NULL,
    segment_count    INTEGER NOT NULL,
    total_speech_ms  BIGINT NOT NULL,
    max_segment_ms   BIGINT NOT NULL,
    dropped_segments INTEGER NOT NULL,
    bytes_received   BIGINT NOT NULL,
    duration_ms      BIGINT NOT NULL,
    end_reason       TEXT NOT NULL DEFAULT '',
    finished_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [Sink]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Sink writes segment and summary events to PostgreSQL.
type Sink struct {
	db        DB
	deviceID  string
	sessionID func(ctx context.Context) string
}

// Option configures a [Sink].
type Option func(*Sink)

// WithSessionID sets the function that resolves the current session ID from
// the publish context. The default reads it from [event.ContextWithSession].
func WithSessionID(fn func(ctx context.Context) string) Option {
	return func(s *Sink) { s.sessionID = fn }
}

// New creates a Sink over db. The caller is responsible for calling
// [Sink.Migrate] before publishing.
func New(db DB, deviceID string, opts ...Option) *Sink {
	s := &Sink{db: db, deviceID: deviceID, sessionID: event.SessionFromContext}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect opens a pool for dsn, pings it and applies [Schema].
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgsink: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgsink: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgsink: ping: %w", err)
	}
	if err := New(pool, "").Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate executes the [Schema] DDL.
func (s *Sink) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("pgsink: migrate: %w", err)
	}
	return nil
}

// Publish implements [event.Publisher]. Transition events are ignored.
func (s *Sink) Publish(ctx context.Context, e event.Event) error {
	switch e.Kind {
	case event.KindSegment:
		return s.insertSegment(ctx, e)
	case event.KindSummary:
		return s.upsertSummary(ctx, e)
	default:
		return nil
	}
}

func (s *Sink) insertSegment(ctx context.Context, e event.Event) error {
	const query = `
		INSERT INTO vad_segments (session_id, device_id, start_ms, end_ms, confidence, truncated, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	var id int64
	err := s.db.QueryRow(ctx, query,
		s.sessionID(ctx), s.deviceID, e.StartMs, e.EndMs, e.Confidence, e.Truncated, e.Time.UTC(),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("pgsink: insert segment: %w", err)
	}
	return nil
}

func (s *Sink) upsertSummary(ctx context.Context, e event.Event) error {
	sum := e.Summary
	if sum == nil {
		return fmt.Errorf("pgsink: summary event without summary")
	}
	const query = `
		INSERT INTO vad_sessions (
			session_id, device_id, total_frames, speech_frames, segment_count,
			total_speech_ms, max_segment_ms, dropped_segments, bytes_received,
			duration_ms, end_reason, finished_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (session_id) DO UPDATE SET
			total_frames = EXCLUDED.total_frames,
			speech_frames = EXCLUDED.speech_frames,
			segment_count = EXCLUDED.segment_count,
			total_speech_ms = EXCLUDED.total_speech_ms,
			max_segment_ms = EXCLUDED.max_segment_ms,
			dropped_segments = EXCLUDED.dropped_segments,
			bytes_received = EXCLUDED.bytes_received,
			duration_ms = EXCLUDED.duration_ms,
			end_reason = EXCLUDED.end_reason,
			finished_at = EXCLUDED.finished_at`

	_, err := s.db.Exec(ctx, query,
		sum.SessionID, s.deviceID, sum.TotalFrames, sum.SpeechFrames, sum.SegmentCount,
		sum.TotalSpeechMs, sum.MaxSegmentMs, sum.DroppedSegments, sum.BytesReceived,
		sum.Duration.Milliseconds(), sum.EndReason, e.Time.UTC(),
	)
	if err != nil {
		return fmt.Errorf("pgsink: upsert summary: %w", err)
	}
	return nil
}

var _ event.Publisher = (*Sink)(nil)
