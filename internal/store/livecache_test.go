package store

import (
	"testing"
	"time"

	"github.com/Hilda2312/iot-uts/internal/telemetry"
)

func TestLiveCacheHashRoundTrip(t *testing.T) {
	rec := telemetry.Record{
		TemperatureC: 25.5,
		HumidityPct:  60,
		LuxLevel:     312.75,
		RecordedAt:   time.Date(2025, 3, 14, 9, 30, 0, 500, time.UTC),
	}

	hash := recordToHash(rec)
	fields := make(map[string]string, len(hash))
	for k, v := range hash {
		fields[k] = v.(string)
	}

	got, err := hashToRecord(fields)
	if err != nil {
		t.Fatalf("hashToRecord: %v", err)
	}
	if got.TemperatureC != rec.TemperatureC || got.HumidityPct != rec.HumidityPct || got.LuxLevel != rec.LuxLevel {
		t.Errorf("values = %+v, want %+v", got, rec)
	}
	if !got.RecordedAt.Equal(rec.RecordedAt) {
		t.Errorf("RecordedAt = %v, want %v", got.RecordedAt, rec.RecordedAt)
	}
}

func TestLiveCacheCorruptHash(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"bad temperature", map[string]string{"temperature_c": "x", "humidity_pct": "1", "lux_level": "1", "recorded_at": "2025-01-01T00:00:00Z"}},
		{"missing lux", map[string]string{"temperature_c": "1", "humidity_pct": "1", "recorded_at": "2025-01-01T00:00:00Z"}},
		{"bad time", map[string]string{"temperature_c": "1", "humidity_pct": "1", "lux_level": "1", "recorded_at": "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := hashToRecord(tt.fields); err == nil {
				t.Error("expected error")
			}
		})
	}
}
