// Package store is the persistence gateway for telemetry records.
//
// Two backends implement Gateway: Postgres (pgxpool, the production store)
// and SQLite (an embedded file used for single-board deployments and tests).
// Both keep one append-only table and answer the three summary queries with
// the rounding and ordering rules the HTTP API relies on.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Hilda2312/iot-uts/internal/telemetry"
)

var (
	// ErrWrite wraps every failed insert.
	ErrWrite = errors.New("store write failed")
	// ErrUnavailable wraps every failed read, including timeouts.
	ErrUnavailable = errors.New("store unavailable")
)

// Gateway is the narrow surface the rest of the service needs from the store.
type Gateway interface {
	// Insert appends one record.
	Insert(ctx context.Context, rec telemetry.Record) error
	// Extremes returns MAX/MIN/AVG temperature rounded to 2 decimals.
	Extremes(ctx context.Context) (telemetry.Extremes, error)
	// Latest returns up to limit readings, newest first (ties: higher id first).
	Latest(ctx context.Context, limit int) ([]telemetry.Reading, error)
	// MonthlyMaxima returns up to limit (year, month) groups by max temperature, descending.
	MonthlyMaxima(ctx context.Context, limit int) ([]telemetry.MonthlyMax, error)
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
	Close()
}

// tableName is shared by both backends.
const tableName = "data_sensor"

// sqliteTimeLayout keeps fixed width so text ordering equals time ordering.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

// DefaultTimeout bounds a single store operation when the caller sets none.
const DefaultTimeout = 5 * time.Second
