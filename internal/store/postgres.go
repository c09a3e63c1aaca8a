package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Hilda2312/iot-uts/internal/telemetry"
)

// Postgres keeps telemetry in a PostgreSQL (or TimescaleDB) table.
// The pool is thread-safe and shared by ingestion writes and summary reads.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres creates the pool and pings the server once.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres unreachable: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// EnsureSchema creates the table and its recency index when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS data_sensor (
			id            BIGSERIAL PRIMARY KEY,
			temperature_c DOUBLE PRECISION NOT NULL,
			humidity_pct  DOUBLE PRECISION NOT NULL,
			lux_level     DOUBLE PRECISION NOT NULL,
			recorded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS data_sensor_recorded_at_idx ON data_sensor (recorded_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
	}
	return nil
}

// Ping checks that a pooled connection can reach the server.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// Insert lets the server assign the id.
func (p *Postgres) Insert(ctx context.Context, rec telemetry.Record) error {
	query := `INSERT INTO data_sensor (temperature_c, humidity_pct, lux_level, recorded_at) VALUES ($1, $2, $3, $4)`

	_, err := p.pool.Exec(ctx, query, rec.TemperatureC, rec.HumidityPct, rec.LuxLevel, rec.RecordedAt)
	if err != nil {
		return fmt.Errorf("%w: insert: %w", ErrWrite, err)
	}
	return nil
}

// Extremes rounds in SQL, so both backends agree on the result.
func (p *Postgres) Extremes(ctx context.Context) (telemetry.Extremes, error) {
	// ROUND(double precision, int) does not exist; numeric ROUND rounds ties away from zero.
	query := `
		SELECT
			ROUND(MAX(temperature_c)::numeric, 2)::double precision,
			ROUND(MIN(temperature_c)::numeric, 2)::double precision,
			ROUND(AVG(temperature_c)::numeric, 2)::double precision
		FROM data_sensor
	`

	var ext telemetry.Extremes
	// Aggregates over an empty table are NULL; pgx leaves the pointers nil.
	if err := p.pool.QueryRow(ctx, query).Scan(&ext.MaxC, &ext.MinC, &ext.AvgC); err != nil {
		return telemetry.Extremes{}, fmt.Errorf("%w: extremes: %w", ErrUnavailable, err)
	}
	return ext, nil
}

// Latest returns up to limit readings, newest first.
func (p *Postgres) Latest(ctx context.Context, limit int) ([]telemetry.Reading, error) {
	query := `
		SELECT id, temperature_c, humidity_pct, lux_level, recorded_at
		FROM data_sensor
		ORDER BY recorded_at DESC, id DESC
		LIMIT $1
	`

	rows, err := p.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: latest: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	readings := make([]telemetry.Reading, 0, limit)
	for rows.Next() {
		var (
			r  telemetry.Reading
			at time.Time
		)
		if err := rows.Scan(&r.ID, &r.TemperatureC, &r.HumidityPct, &r.LuxLevel, &at); err != nil {
			return nil, fmt.Errorf("%w: latest scan: %w", ErrUnavailable, err)
		}
		r.RecordedAt = at.UTC()
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: latest: %w", ErrUnavailable, err)
	}
	return readings, nil
}

// MonthlyMaxima extracts year and month in UTC.
func (p *Postgres) MonthlyMaxima(ctx context.Context, limit int) ([]telemetry.MonthlyMax, error) {
	// Group on the (year, month) pair; the "month-year" label is built in Go.
	query := `
		SELECT
			EXTRACT(YEAR FROM recorded_at AT TIME ZONE 'UTC')::int  AS year,
			EXTRACT(MONTH FROM recorded_at AT TIME ZONE 'UTC')::int AS month,
			MAX(temperature_c) AS max_temp
		FROM data_sensor
		GROUP BY year, month
		ORDER BY max_temp DESC, year ASC, month ASC
		LIMIT $1
	`

	rows, err := p.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: monthly maxima: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	groups := make([]telemetry.MonthlyMax, 0, limit)
	for rows.Next() {
		var (
			m     telemetry.MonthlyMax
			month int
		)
		if err := rows.Scan(&m.Year, &month, &m.MaxTempC); err != nil {
			return nil, fmt.Errorf("%w: monthly maxima scan: %w", ErrUnavailable, err)
		}
		m.Month = time.Month(month)
		groups = append(groups, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: monthly maxima: %w", ErrUnavailable, err)
	}
	return groups, nil
}
