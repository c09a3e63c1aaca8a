package transport_test

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Hilda2312/iot-uts/internal/transport"
	"github.com/Hilda2312/iot-uts/internal/transport/transporttest"
)

func TestLogWriterPublishesCopy(t *testing.T) {
	broker := transporttest.New()
	w := transport.NewLogWriter(broker, "logs/iot-bridge")
	t.Cleanup(w.Close)

	line := []byte(`{"msg":"hello"}`)
	n, err := w.Write(line)
	if err != nil || n != len(line) {
		t.Fatalf("Write = %d, %v; want %d, nil", n, err, len(line))
	}
	// The writer must not keep a reference to the caller's buffer.
	copy(line, "XXXXXXXXXXXXXXX")

	deadline := time.Now().Add(2 * time.Second)
	for len(broker.PublishedOn("logs/iot-bridge")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("log line was never published")
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := string(broker.PublishedOn("logs/iot-bridge")[0].Payload)
	if got != `{"msg":"hello"}` {
		t.Errorf("payload = %q, want original line", got)
	}
}

func TestLogWriterIgnoresPublishErrors(t *testing.T) {
	broker := transporttest.New()
	broker.FailPublishes(errBrokerDown)
	w := transport.NewLogWriter(broker, "logs/iot-bridge")
	t.Cleanup(w.Close)

	if _, err := w.Write([]byte("line")); err != nil {
		t.Errorf("Write returned %v, want nil even when broker fails", err)
	}
}

// hangingTransport never confirms a publish until the context ends.
type hangingTransport struct {
	inFlight atomic.Int32
}

func (h *hangingTransport) Subscribe(string, transport.Handler) error { return nil }

func (h *hangingTransport) Publish(ctx context.Context, _ string, _ []byte) error {
	h.inFlight.Add(1)
	defer h.inFlight.Add(-1)
	<-ctx.Done()
	return ctx.Err()
}

func (h *hangingTransport) Close() {}

func TestLogWriterStaysBoundedWhenBrokerHangs(t *testing.T) {
	tr := &hangingTransport{}
	w := transport.NewLogWriter(tr, "logs/iot-bridge")

	goroutinesBefore := runtime.NumGoroutine()

	start := time.Now()
	const lines = 2000
	for range lines {
		if _, err := w.Write([]byte(`{"level":"DEBUG"}`)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("%d writes took %v; Write must not wait for the broker", lines, elapsed)
	}

	if got := tr.inFlight.Load(); got > 1 {
		t.Errorf("%d publishes in flight, want at most 1", got)
	}
	if grown := runtime.NumGoroutine() - goroutinesBefore; grown > 5 {
		t.Errorf("goroutines grew by %d while the broker hung", grown)
	}
	if w.Dropped() == 0 {
		t.Error("no lines dropped although the queue must have overflowed")
	}

	closed := make(chan struct{})
	go func() {
		w.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a hanging publish")
	}
}

func TestLogWriterAfterClose(t *testing.T) {
	broker := transporttest.New()
	w := transport.NewLogWriter(broker, "logs/iot-bridge")
	w.Close()
	w.Close()

	if n, err := w.Write([]byte("late")); err != nil || n != 4 {
		t.Errorf("Write after Close = %d, %v; want 4, nil", n, err)
	}
	if w.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", w.Dropped())
	}
}

var errBrokerDown = errors.New("broker down")
