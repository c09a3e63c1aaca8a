package store

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Hilda2312/iot-uts/internal/telemetry"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS data_sensor (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	temperature_c REAL NOT NULL,
	humidity_pct  REAL NOT NULL,
	lux_level     REAL NOT NULL,
	recorded_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS data_sensor_recorded_at_idx ON data_sensor (recorded_at DESC);
`

// SQLiteConfig configures the embedded backend.
type SQLiteConfig struct {
	// Path of the database file. The parent directory must exist.
	Path string
	// PoolSize defaults to max(NumCPU, 4). SQLite serializes writers regardless.
	PoolSize int
	Logger   *slog.Logger
}

// SQLite keeps telemetry in a local SQLite file in WAL mode.
type SQLite struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// OpenSQLite opens the pool. Connections are prepared lazily and each one
// creates the schema if it does not exist yet.
func OpenSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareSQLiteConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", cfg.Path, err)
	}

	logger.Info("sqlite store opened", "path", cfg.Path, "pool_size", poolSize)
	return &SQLite{pool: pool, logger: logger, path: cfg.Path}, nil
}

func prepareSQLiteConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, sqliteSchema, nil); err != nil {
		return fmt.Errorf("sqlite: schema: %w", err)
	}
	return nil
}

// take borrows a connection that is interrupted when ctx ends.
// The returned release func must be called exactly once.
func (s *SQLite) take(ctx context.Context) (*sqlite.Conn, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, nil, err
	}
	conn.SetInterrupt(ctx.Done())
	return conn, func() {
		conn.SetInterrupt(nil)
		s.pool.Put(conn)
	}, nil
}

// Ping runs a trivial query on a pooled connection.
func (s *SQLite) Ping(ctx context.Context) error {
	conn, release, err := s.take(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer release()

	if err := sqlitex.ExecuteTransient(conn, "SELECT 1", nil); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLite) Close() {
	if err := s.pool.Close(); err != nil {
		s.logger.Error("sqlite store close failed", "path", s.path, "error", err)
		return
	}
	s.logger.Info("sqlite store closed", "path", s.path)
}

// Insert stores rec with its timestamp in UTC, as text that sorts chronologically.
func (s *SQLite) Insert(ctx context.Context, rec telemetry.Record) error {
	conn, release, err := s.take(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	defer release()

	err = sqlitex.Execute(conn,
		`INSERT INTO data_sensor (temperature_c, humidity_pct, lux_level, recorded_at) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{rec.TemperatureC, rec.HumidityPct, rec.LuxLevel, rec.RecordedAt.UTC().Format(sqliteTimeLayout)},
		})
	if err != nil {
		return fmt.Errorf("%w: insert: %w", ErrWrite, err)
	}
	return nil
}

// Extremes returns nil fields on an empty table.
func (s *SQLite) Extremes(ctx context.Context) (telemetry.Extremes, error) {
	conn, release, err := s.take(ctx)
	if err != nil {
		return telemetry.Extremes{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer release()

	var ext telemetry.Extremes
	err = sqlitex.Execute(conn, `
		SELECT
			ROUND(MAX(temperature_c), 2),
			ROUND(MIN(temperature_c), 2),
			ROUND(AVG(temperature_c), 2)
		FROM data_sensor`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ext.MaxC = nullableFloat(stmt, 0)
				ext.MinC = nullableFloat(stmt, 1)
				ext.AvgC = nullableFloat(stmt, 2)
				return nil
			},
		})
	if err != nil {
		return telemetry.Extremes{}, fmt.Errorf("%w: extremes: %w", ErrUnavailable, err)
	}
	return ext, nil
}

// Latest orders by timestamp, then id, both descending.
func (s *SQLite) Latest(ctx context.Context, limit int) ([]telemetry.Reading, error) {
	conn, release, err := s.take(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer release()

	readings := make([]telemetry.Reading, 0, limit)
	err = sqlitex.Execute(conn, `
		SELECT id, temperature_c, humidity_pct, lux_level, recorded_at
		FROM data_sensor
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{int64(limit)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				at, err := time.ParseInLocation(sqliteTimeLayout, stmt.ColumnText(4), time.UTC)
				if err != nil {
					return fmt.Errorf("recorded_at %q: %w", stmt.ColumnText(4), err)
				}
				readings = append(readings, telemetry.Reading{
					ID: stmt.ColumnInt64(0),
					Record: telemetry.Record{
						TemperatureC: stmt.ColumnFloat(1),
						HumidityPct:  stmt.ColumnFloat(2),
						LuxLevel:     stmt.ColumnFloat(3),
						RecordedAt:   at,
					},
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("%w: latest: %w", ErrUnavailable, err)
	}
	return readings, nil
}

// MonthlyMaxima groups by year and month of the stored timestamp. Ties on the
// maximum go to the earlier month.
func (s *SQLite) MonthlyMaxima(ctx context.Context, limit int) ([]telemetry.MonthlyMax, error) {
	conn, release, err := s.take(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer release()

	groups := make([]telemetry.MonthlyMax, 0, limit)
	err = sqlitex.Execute(conn, `
		SELECT
			CAST(strftime('%Y', recorded_at) AS INTEGER) AS year,
			CAST(strftime('%m', recorded_at) AS INTEGER) AS month,
			MAX(temperature_c) AS max_temp
		FROM data_sensor
		GROUP BY year, month
		ORDER BY max_temp DESC, year ASC, month ASC
		LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{int64(limit)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				groups = append(groups, telemetry.MonthlyMax{
					Year:     stmt.ColumnInt(0),
					Month:    time.Month(stmt.ColumnInt(1)),
					MaxTempC: stmt.ColumnFloat(2),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("%w: monthly maxima: %w", ErrUnavailable, err)
	}
	return groups, nil
}

func nullableFloat(stmt *sqlite.Stmt, col int) *float64 {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return nil
	}
	v := stmt.ColumnFloat(col)
	return &v
}
