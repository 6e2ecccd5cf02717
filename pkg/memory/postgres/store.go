package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/pkg/memory"
)

var (
	_ entity.Store       = (*Store)(nil)
	_ memory.VectorIndex = (*VectorIndex)(nil)
	_ pgx.QueryTracer    = queryTracer{}
)

// Store persists campaigns, entities and relationships in PostgreSQL and
// keeps entity vectors in a pgvector column, exposed through [Store.Vectors].
// It is safe for concurrent use.
type Store struct {
	pool    *pgxpool.Pool
	vectors *VectorIndex
}

// Option tunes the connection pool.
type Option func(*pgxpool.Config)

// WithMaxConns caps the pool size. Zero keeps the pgx default.
func WithMaxConns(n int32) Option {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

// WithoutTracing disables the per-query spans.
func WithoutTracing() Option {
	return func(c *pgxpool.Config) { c.ConnConfig.Tracer = nil }
}

// NewStore connects to dsn, registers the pgvector types on every connection
// and migrates the schema for vectors of embeddingDimensions.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	cfg.ConnConfig.Tracer = queryTracer{tracer: otel.Tracer("questweaver/postgres")}
	for _, o := range opts {
		o(cfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	fail := func(step string, err error) (*Store, error) {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %s: %w", step, err)
	}
	if err := pool.Ping(ctx); err != nil {
		return fail("ping", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		return fail("migrate", err)
	}
	return &Store{pool: pool, vectors: &VectorIndex{pool: pool}}, nil
}

// Vectors returns the pgvector-backed [memory.VectorIndex].
func (s *Store) Vectors() *VectorIndex { return s.vectors }

// Ping is the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close closes the pool.
func (s *Store) Close() { s.pool.Close() }

// queryTracer opens one client span per statement, named after its verb.
type queryTracer struct {
	tracer trace.Tracer
}

func (q queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	ctx, _ = q.tracer.Start(ctx, "postgres "+sqlVerb(data.SQL),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.statement", data.SQL),
		))
	return ctx
}

func (q queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span := trace.SpanFromContext(ctx)
	if data.Err != nil && !isNoRows(data.Err) {
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, data.Err.Error())
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	span.End()
}

// sqlVerb returns the upper-cased first keyword of stmt.
func sqlVerb(stmt string) string {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return "QUERY"
	}
	return strings.ToUpper(fields[0])
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isUniqueViolation reports a Postgres unique_violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
