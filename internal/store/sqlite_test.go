package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Hilda2312/iot-uts/internal/telemetry"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()

	s, err := OpenSQLite(SQLiteConfig{
		Path:     filepath.Join(t.TempDir(), "telemetry_test.db"),
		PoolSize: 2,
	})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func mustInsert(t *testing.T, s Gateway, temp float64, at time.Time) {
	t.Helper()
	rec := telemetry.Record{TemperatureC: temp, HumidityPct: 50, LuxLevel: 100, RecordedAt: at}
	if err := s.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert(%v at %v): %v", temp, at, err)
	}
}

func TestSQLiteEmptyStore(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	ext, err := s.Extremes(ctx)
	if err != nil {
		t.Fatalf("Extremes: %v", err)
	}
	if ext.MaxC != nil || ext.MinC != nil || ext.AvgC != nil {
		t.Errorf("Extremes on empty store = %+v, want all nil", ext)
	}

	latest, err := s.Latest(ctx, 2)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest == nil || len(latest) != 0 {
		t.Errorf("Latest = %#v, want empty non-nil slice", latest)
	}

	groups, err := s.MonthlyMaxima(ctx, 2)
	if err != nil {
		t.Fatalf("MonthlyMaxima: %v", err)
	}
	if groups == nil || len(groups) != 0 {
		t.Errorf("MonthlyMaxima = %#v, want empty non-nil slice", groups)
	}
}

func TestSQLiteInsertRoundTrip(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	at := time.Date(2025, 3, 14, 9, 30, 15, 123456000, time.UTC)
	rec := telemetry.Record{TemperatureC: 25.5, HumidityPct: 60, LuxLevel: 300, RecordedAt: at}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	latest, err := s.Latest(ctx, 2)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("len(Latest) = %d, want 1", len(latest))
	}
	got := latest[0]
	if got.ID <= 0 {
		t.Errorf("ID = %d, want positive", got.ID)
	}
	if got.TemperatureC != 25.5 || got.HumidityPct != 60 || got.LuxLevel != 300 {
		t.Errorf("values = %+v, want 25.5/60/300", got.Record)
	}
	if !got.RecordedAt.Equal(at) {
		t.Errorf("RecordedAt = %v, want %v", got.RecordedAt, at)
	}
}

func TestSQLiteExtremesRounding(t *testing.T) {
	s := openTestSQLite(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, temp := range []float64{20, 25, 30.5} {
		mustInsert(t, s, temp, base.Add(time.Duration(i)*time.Minute))
	}

	ext, err := s.Extremes(context.Background())
	if err != nil {
		t.Fatalf("Extremes: %v", err)
	}
	checkFloat(t, "MaxC", ext.MaxC, 30.5)
	checkFloat(t, "MinC", ext.MinC, 20)
	// (20 + 25 + 30.5) / 3 = 25.1666...
	checkFloat(t, "AvgC", ext.AvgC, 25.17)
}

func TestSQLiteExtremesNegativeHalfRoundsAwayFromZero(t *testing.T) {
	s := openTestSQLite(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	// AVG = -0.125 exactly, which rounds to -0.13.
	mustInsert(t, s, -0.25, base)
	mustInsert(t, s, 0, base.Add(time.Minute))

	ext, err := s.Extremes(context.Background())
	if err != nil {
		t.Fatalf("Extremes: %v", err)
	}
	checkFloat(t, "AvgC", ext.AvgC, -0.13)
}

func TestSQLiteLatestOrderingAndCap(t *testing.T) {
	s := openTestSQLite(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Inserted out of order on purpose.
	offsets := []int{3, 0, 4, 1, 2}
	for _, off := range offsets {
		mustInsert(t, s, float64(20+off), base.Add(time.Duration(off)*time.Hour))
	}

	latest, err := s.Latest(context.Background(), 2)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("len(Latest) = %d, want 2", len(latest))
	}
	if latest[0].TemperatureC != 24 || latest[1].TemperatureC != 23 {
		t.Errorf("Latest temps = %v, %v; want 24, 23", latest[0].TemperatureC, latest[1].TemperatureC)
	}
	if !latest[0].RecordedAt.After(latest[1].RecordedAt) {
		t.Errorf("Latest not sorted by recorded_at desc: %v then %v", latest[0].RecordedAt, latest[1].RecordedAt)
	}
}

func TestSQLiteLatestTieBreaksOnID(t *testing.T) {
	s := openTestSQLite(t)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mustInsert(t, s, 1, at)
	mustInsert(t, s, 2, at)
	mustInsert(t, s, 3, at)

	latest, err := s.Latest(context.Background(), 2)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(latest) != 2 || latest[0].TemperatureC != 3 || latest[1].TemperatureC != 2 {
		t.Errorf("Latest = %+v, want the two most recently inserted", latest)
	}
	if latest[0].ID <= latest[1].ID {
		t.Errorf("IDs = %d, %d; want descending", latest[0].ID, latest[1].ID)
	}
}

func TestSQLiteMonthlyMaxima(t *testing.T) {
	s := openTestSQLite(t)

	mustInsert(t, s, 28, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	mustInsert(t, s, 31, time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC))
	mustInsert(t, s, 35, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)) // same month, other year
	mustInsert(t, s, 22, time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC))
	mustInsert(t, s, 33, time.Date(2024, 11, 30, 23, 59, 59, 0, time.UTC))

	groups, err := s.MonthlyMaxima(context.Background(), 2)
	if err != nil {
		t.Fatalf("MonthlyMaxima: %v", err)
	}
	want := []telemetry.MonthlyMax{
		{Year: 2025, Month: time.March, MaxTempC: 35},
		{Year: 2024, Month: time.November, MaxTempC: 33},
	}
	if len(groups) != len(want) {
		t.Fatalf("MonthlyMaxima = %+v, want %+v", groups, want)
	}
	for i := range want {
		if groups[i] != want[i] {
			t.Errorf("group[%d] = %+v, want %+v", i, groups[i], want[i])
		}
	}
}

func TestSQLiteMonthlyMaximaTieBreak(t *testing.T) {
	s := openTestSQLite(t)

	mustInsert(t, s, 30, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	mustInsert(t, s, 30, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
	mustInsert(t, s, 30, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	groups, err := s.MonthlyMaxima(context.Background(), 2)
	if err != nil {
		t.Fatalf("MonthlyMaxima: %v", err)
	}
	got := []string{groups[0].Label(), groups[1].Label()}
	if got[0] != "2-2024" || got[1] != "7-2024" {
		t.Errorf("labels = %v, want [2-2024 7-2024]", got)
	}
}

func TestSQLiteConcurrentInserts(t *testing.T) {
	s := openTestSQLite(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := telemetry.Record{TemperatureC: float64(i), HumidityPct: 1, LuxLevel: 1, RecordedAt: base.Add(time.Duration(i) * time.Second)}
			if err := s.Insert(context.Background(), rec); err != nil {
				errs <- fmt.Errorf("writer %d: %w", i, err)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	ext, err := s.Extremes(context.Background())
	if err != nil {
		t.Fatalf("Extremes: %v", err)
	}
	checkFloat(t, "MaxC", ext.MaxC, writers-1)
	checkFloat(t, "MinC", ext.MinC, 0)
}

func TestSQLiteCancelledContext(t *testing.T) {
	s := openTestSQLite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Extremes(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Extremes with cancelled ctx: error = %v, want ErrUnavailable", err)
	}
	err := s.Insert(ctx, telemetry.Record{RecordedAt: time.Now()})
	if !errors.Is(err, ErrWrite) {
		t.Errorf("Insert with cancelled ctx: error = %v, want ErrWrite", err)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite(SQLiteConfig{}); err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func checkFloat(t *testing.T, name string, got *float64, want float64) {
	t.Helper()
	if got == nil {
		t.Errorf("%s = nil, want %v", name, want)
		return
	}
	if *got != want {
		t.Errorf("%s = %v, want %v", name, *got, want)
	}
}
