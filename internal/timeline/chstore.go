package timeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"cogrouter/internal/config"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func sanitizeIdentifier(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", errors.New("identifier is empty")
	}
	if !identPattern.MatchString(s) {
		return "", fmt.Errorf("identifier contains invalid characters: %s", s)
	}
	return s, nil
}

// ClickHouseRecorder is the durable counterpart to MemoryRecorder, giving
// operators a queryable history of every stage outcome across requests —
// the concrete backing store for the scheduler.iterations / per-stage
// invariants spec.md §8 wants observable beyond one process's lifetime.
type ClickHouseRecorder struct {
	conn    clickhouse.Conn
	table   string
	timeout time.Duration
}

// NewClickHouseRecorder opens and pings a ClickHouse connection from cfg and
// ensures the stage-record table exists. An empty DSN is not an error here —
// callers should check cfg.DSN themselves before wiring this in, mirroring
// the teacher's "empty DSN disables the sink" convention.
func NewClickHouseRecorder(ctx context.Context, cfg config.ClickHouseConfig) (*ClickHouseRecorder, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timeline: clickhouse dsn is empty")
	}

	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	if cfg.Database != "" {
		opts.Auth.Database = cfg.Database
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	table := cfg.StagesTable
	if table == "" {
		table = "stage_records"
	}
	table, err = sanitizeIdentifier(table)
	if err != nil {
		return nil, fmt.Errorf("invalid stages table: %w", err)
	}

	ctxPing, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.Ping(ctxPing); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	r := &ClickHouseRecorder{conn: conn, table: table, timeout: timeout}
	ctxCreate, cancelCreate := context.WithTimeout(ctx, timeout)
	defer cancelCreate()
	if err := r.ensureTable(ctxCreate); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ClickHouseRecorder) ensureTable(ctx context.Context) error {
	sql := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	TraceId String,
	Stage LowCardinality(String),
	Iteration UInt8,
	Success Bool,
	FailureKind LowCardinality(String),
	ElapsedMs UInt64,
	TokensIn UInt32,
	TokensOut UInt32,
	RecordedAt DateTime64(3)
) ENGINE = MergeTree()
ORDER BY (TraceId, RecordedAt)
TTL RecordedAt + INTERVAL 30 DAY
`, r.table)
	if err := r.conn.Exec(ctx, sql); err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("create stage records table: %w", err)
	}
	return nil
}

// Record inserts rec synchronously. A ClickHouse write failure is logged by
// the caller's discretion, not returned — Recorder.Record has no error
// return, matching MemoryRecorder's best-effort contract.
func (r *ClickHouseRecorder) Record(rec StageRecord) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	sql := fmt.Sprintf("INSERT INTO %s (TraceId, Stage, Iteration, Success, FailureKind, ElapsedMs, TokensIn, TokensOut, RecordedAt) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", r.table)
	_ = r.conn.Exec(ctx, sql,
		rec.TraceID, rec.Stage, uint8(rec.Iteration), rec.Success, rec.FailureKind,
		uint64(rec.ElapsedMs), uint32(rec.TokensIn), uint32(rec.TokensOut), rec.RecordedAt,
	)
}

// Close releases the underlying ClickHouse connection.
func (r *ClickHouseRecorder) Close() error {
	return r.conn.Close()
}
