package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Hilda2312/iot-uts/internal/telemetry"
)

// LiveCache keeps the last stored reading in Valkey/Redis so dashboards can
// poll it without touching the relational store.
type LiveCache struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// liveKey holds one hash with the latest record.
const liveKey = "telemetry:last"

// OpenLiveCache connects and pings the server.
func OpenLiveCache(ctx context.Context, addr string) (*LiveCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("valkey unreachable: %w", err)
	}
	// Expire after a day so a dead sensor stops looking alive.
	return &LiveCache{rdb: rdb, key: liveKey, ttl: 24 * time.Hour}, nil
}

func (c *LiveCache) Close() {
	c.rdb.Close()
}

// Put overwrites the cached record.
func (c *LiveCache) Put(ctx context.Context, rec telemetry.Record) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.key, recordToHash(rec))
		pipe.Expire(ctx, c.key, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("valkey update: %w", err)
	}
	return nil
}

// Get returns the cached record; ok is false when nothing is cached.
func (c *LiveCache) Get(ctx context.Context) (rec telemetry.Record, ok bool, err error) {
	fields, err := c.rdb.HGetAll(ctx, c.key).Result()
	if err != nil {
		return telemetry.Record{}, false, fmt.Errorf("valkey read: %w", err)
	}
	if len(fields) == 0 {
		return telemetry.Record{}, false, nil
	}
	rec, err = hashToRecord(fields)
	if err != nil {
		return telemetry.Record{}, false, err
	}
	return rec, true, nil
}

func recordToHash(rec telemetry.Record) map[string]any {
	return map[string]any{
		"temperature_c": strconv.FormatFloat(rec.TemperatureC, 'f', -1, 64),
		"humidity_pct":  strconv.FormatFloat(rec.HumidityPct, 'f', -1, 64),
		"lux_level":     strconv.FormatFloat(rec.LuxLevel, 'f', -1, 64),
		"recorded_at":   rec.RecordedAt.UTC().Format(time.RFC3339Nano),
	}
}

func hashToRecord(fields map[string]string) (telemetry.Record, error) {
	var (
		rec telemetry.Record
		err error
	)
	parse := func(name string) float64 {
		if err != nil {
			return 0
		}
		var v float64
		v, err = strconv.ParseFloat(fields[name], 64)
		if err != nil {
			err = fmt.Errorf("cached %s: %w", name, err)
		}
		return v
	}
	rec.TemperatureC = parse("temperature_c")
	rec.HumidityPct = parse("humidity_pct")
	rec.LuxLevel = parse("lux_level")
	if err != nil {
		return telemetry.Record{}, err
	}

	rec.RecordedAt, err = time.Parse(time.RFC3339Nano, fields["recorded_at"])
	if err != nil {
		return telemetry.Record{}, fmt.Errorf("cached recorded_at: %w", err)
	}
	return rec, nil
}
