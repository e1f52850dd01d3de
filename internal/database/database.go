package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/itstheanurag/codejudge/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const DatabasePingTimeout = 10

const slowQueryThreshold = 200 * time.Millisecond

type Database struct {
	Pool *pgxpool.Pool
	log  *zerolog.Logger
}

type multiTracer struct {
	tracers []any
}

func (mt *multiTracer) TraceQueryStart(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	for _, tracer := range mt.tracers {
		if t, ok := tracer.(interface {
			TraceQueryStart(
				ctx context.Context,
				conn *pgx.Conn,
				data pgx.TraceQueryStartData,
			) context.Context
		}); ok {
			ctx = t.TraceQueryStart(ctx, conn, data)
		}
	}

	return ctx
}

func (mt *multiTracer) TraceQueryEnd(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryEndData,
) {
	for _, tracer := range mt.tracers {
		if t, ok := tracer.(interface {
			TraceQueryEnd(
				ctx context.Context,
				conn *pgx.Conn,
				data pgx.TraceQueryEndData,
			)
		}); ok {
			t.TraceQueryEnd(ctx, conn, data)
		}
	}
}

type queryStartKey struct{}

type queryStart struct {
	sql   string
	start time.Time
}

// logTracer logs failed queries and queries slower than the threshold.
type logTracer struct {
	log       *zerolog.Logger
	threshold time.Duration
	now       func() time.Time
}

func newLogTracer(log *zerolog.Logger) *logTracer {
	return &logTracer{log: log, threshold: slowQueryThreshold, now: time.Now}
}

func (t *logTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{sql: data.SQL, start: t.now()})
}

func (t *logTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qs, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	elapsed := t.now().Sub(qs.start)

	switch {
	case data.Err != nil && data.Err != pgx.ErrNoRows:
		t.log.Error().Err(data.Err).Str("sql", qs.sql).Dur("duration", elapsed).Msg("query failed")
	case elapsed >= t.threshold:
		t.log.Warn().Str("sql", qs.sql).Dur("duration", elapsed).Msg("slow query")
	}
}

func DSN(conf config.DbConfig) string {
	host := net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port))
	encodedPassword := url.QueryEscape(conf.Password)

	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		conf.User,
		encodedPassword,
		host,
		conf.Name,
		conf.SSLMode,
	)
}

func New(conf *config.Config, log *zerolog.Logger) (*Database, error) {
	pgxPoolConfig, err := pgxpool.ParseConfig(DSN(conf.Db))

	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pgxPoolConfig.ConnConfig.RuntimeParams["application_name"] = "codejudge"
	if conf.Db.MaxConns > 0 {
		pgxPoolConfig.MaxConns = conf.Db.MaxConns
	}

	pgxPoolConfig.ConnConfig.DialFunc = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		return dialer.DialContext(ctx, network, addr)
	}

	pgxPoolConfig.ConnConfig.Tracer = &multiTracer{
		tracers: []any{newLogTracer(log)},
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), pgxPoolConfig)

	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DatabasePingTimeout*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("database connection established")

	return &Database{Pool: pool, log: log}, nil
}

// Migrate creates the tables if they do not exist.
func (db *Database) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (db *Database) Close() error {
	db.log.Info().Msg("Closing database connection pool")
	db.Pool.Close()
	return nil
}
