package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// logBuffer is how many lines may wait for the broker before new ones are dropped.
const logBuffer = 256

// logPublishTimeout bounds a single log publish.
const logPublishTimeout = 2 * time.Second

// LogWriter is an io.Writer that forwards every write to the broker, so
// slog output can be combined with stdout through io.MultiWriter.
//
// Lines go through a bounded queue drained by one goroutine. When the broker
// is slow or reconnecting the queue fills up and further lines are dropped
// (stdout still has them), so logging never blocks the caller.
type LogWriter struct {
	t     Transport
	topic string

	lines  chan []byte
	done   chan struct{}
	exited chan struct{}
	// ctx is cancelled by Close so a publish stuck on the broker ends at once.
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	dropped   atomic.Int64
}

// NewLogWriter publishes log lines to topic, e.g. "logs/iot-bridge".
// Call Close to stop the background publisher.
func NewLogWriter(t Transport, topic string) *LogWriter {
	ctx, cancel := context.WithCancel(context.Background())
	w := &LogWriter{
		t:      t,
		topic:  topic,
		lines:  make(chan []byte, logBuffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go w.run()
	return w
}

// Write never blocks on the broker and never fails; logging must not slow
// the service or recurse into itself on publish errors.
func (w *LogWriter) Write(p []byte) (int, error) {
	select {
	case <-w.done:
		w.dropped.Add(1)
		return len(p), nil
	default:
	}

	// p is reused by the caller after Write returns.
	payload := make([]byte, len(p))
	copy(payload, p)

	select {
	case w.lines <- payload:
	default:
		w.dropped.Add(1)
	}
	return len(p), nil
}

// run publishes queued lines one at a time until Close.
func (w *LogWriter) run() {
	defer close(w.exited)
	for {
		select {
		case <-w.done:
			return
		case line := <-w.lines:
			ctx, cancel := context.WithTimeout(w.ctx, logPublishTimeout)
			// Errors are ignored: reporting them would log, which would publish again.
			_ = w.t.Publish(ctx, w.topic, line)
			cancel()
		}
	}
}

// Dropped reports how many lines never reached the queue.
func (w *LogWriter) Dropped() int64 {
	return w.dropped.Load()
}

// Close stops the publisher. Lines still queued are discarded.
func (w *LogWriter) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		w.cancel()
		<-w.exited
	})
}
