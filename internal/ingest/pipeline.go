// Package ingest turns broker deliveries into stored telemetry records.
//
// Every message is handled on its own: a malformed payload, a missing field
// or a failed insert is logged and dropped, and never affects other messages
// or the subscription itself. Nothing is retried; persistence is
// at-most-once, matching the broker's QoS.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/Hilda2312/iot-uts/internal/metrics"
	"github.com/Hilda2312/iot-uts/internal/store"
	"github.com/Hilda2312/iot-uts/internal/telemetry"
	"github.com/Hilda2312/iot-uts/internal/transport"
)

// Writer persists one record.
type Writer interface {
	Insert(ctx context.Context, rec telemetry.Record) error
}

// LastReadingCache receives every record after it was stored.
type LastReadingCache interface {
	Put(ctx context.Context, rec telemetry.Record) error
}

// Config tunes a Pipeline. Zero values fall back to the defaults noted per field.
type Config struct {
	// Topic is the telemetry topic; deliveries on any other topic are ignored.
	Topic string
	// Fields maps payload keys onto record fields, e.g. "suhu" to temperature.
	Fields telemetry.Fields
	// Workers defaults to NumCPU, QueueSize to 1024.
	Workers   int
	QueueSize int
	// StoreTimeout bounds each insert; defaults to store.DefaultTimeout.
	StoreTimeout time.Duration
	// Now stamps records; defaults to time.Now.
	Now func() time.Time
}

// Pipeline fans broker deliveries out to a fixed pool of workers.
//
// Lifecycle: Start launches the workers; cancelling its ctx (or calling
// Shutdown) stops intake, and the workers then drain whatever is already
// queued before they exit. Inserts never inherit that cancellation, so a
// shutdown does not abort writes that are already in progress.
type Pipeline struct {
	cfg    Config
	writer Writer
	cache  LastReadingCache
	logger *slog.Logger

	input chan transport.Message
	// stopping is closed once intake stops; it releases Submit calls blocked on a full queue.
	stopping chan struct{}
	// mu guards closed. Submit holds the read lock while it sends, so input is
	// only closed once no sender is left.
	mu     sync.RWMutex
	closed bool

	// base is the parent of every insert context. It survives the Start ctx
	// and is only cancelled when Shutdown runs out of time.
	base  context.Context
	abort context.CancelFunc

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds a pipeline. cache may be nil.
func New(cfg Config, writer Writer, cache LastReadingCache, logger *slog.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = store.DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	base, abort := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:      cfg,
		writer:   writer,
		cache:    cache,
		logger:   logger,
		input:    make(chan transport.Message, cfg.QueueSize),
		stopping: make(chan struct{}),
		base:     base,
		abort:    abort,
	}
}

// Start launches the workers. Cancelling ctx stops intake; queued messages
// are still stored. Start must run before the topic is subscribed.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		// Values (request-scoped loggers, trace ids) flow through; cancellation does not.
		base, abort := context.WithCancel(context.WithoutCancel(ctx))
		p.base, p.abort = base, abort

		for i := range p.cfg.Workers {
			p.wg.Add(1)
			go p.workerLoop(i)
		}
		go func() {
			select {
			case <-ctx.Done():
				p.stop()
			case <-p.stopping:
			}
		}()
		p.logger.Info("Ingestion pipeline started", "topic", p.cfg.Topic, "workers", p.cfg.Workers)
	})
}

// stop ends intake and lets the workers run the queue dry.
func (p *Pipeline) stop() {
	p.stopOnce.Do(func() {
		// 1. Wake any Submit blocked on a full queue.
		close(p.stopping)
		// 2. Wait until no Submit is mid-send, then refuse new ones.
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		// 3. Workers leave their range loop once the queue is empty.
		close(p.input)
		p.logger.Info("Ingestion pipeline draining", "queued", len(p.input))
	})
}

// Wait blocks until every worker returned.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Shutdown stops intake and waits for the queue to drain. If ctx ends first,
// in-flight inserts are interrupted, the rest of the queue is dropped, and
// ctx.Err() is returned once the workers are gone.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.stop()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		p.logger.Info("Ingestion pipeline drained")
		return nil
	case <-ctx.Done():
		p.abort()
		<-drained
		p.logger.Warn("Ingestion pipeline drain cut short", "error", ctx.Err())
		return ctx.Err()
	}
}

// Submit queues one delivery. It is the transport.Handler for the telemetry
// topic. A full queue blocks the caller; after shutdown the message is dropped.
func (p *Pipeline) Submit(msg transport.Message) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		metrics.IngestMessages.WithLabelValues(metrics.OutcomeDropped).Inc()
		return
	}

	select {
	case p.input <- msg:
		metrics.IngestQueueDepth.Inc()
	case <-p.stopping:
		metrics.IngestMessages.WithLabelValues(metrics.OutcomeDropped).Inc()
	}
}

// workerLoop handles queued messages until input is closed and empty.
func (p *Pipeline) workerLoop(id int) {
	defer p.wg.Done()
	for msg := range p.input {
		metrics.IngestQueueDepth.Dec()
		// Shutdown gave up: count the leftovers instead of failing each insert.
		if p.base.Err() != nil {
			metrics.IngestMessages.WithLabelValues(metrics.OutcomeDropped).Inc()
			continue
		}
		p.handle(p.base, msg, id)
	}
}

// handle runs Process and records the outcome. A panic is contained to the message.
func (p *Pipeline) handle(ctx context.Context, msg transport.Message, worker int) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panic while handling telemetry", "topic", msg.Topic, "worker", worker, "panic", r)
			metrics.IngestMessages.WithLabelValues(metrics.OutcomeStoreError).Inc()
		}
	}()

	// 1. Decode, validate and store
	err := p.Process(ctx, msg)

	// 2. Count the outcome, whatever it was
	outcome := Classify(msg.Topic == p.cfg.Topic, err)
	metrics.IngestMessages.WithLabelValues(outcome).Inc()

	// 3. Log failures. The message is dropped either way; the next one is unaffected.
	switch outcome {
	case metrics.OutcomeDecodeError, metrics.OutcomeInvalid:
		// Rejected payloads are the device's problem, not ours.
		p.logger.Warn("Message rejected", "topic", msg.Topic, "payload", string(msg.Payload), "reason", err)
	case metrics.OutcomeStoreError:
		p.logger.Error("Failed to store telemetry", "topic", msg.Topic, "error", err)
	}
}

// Process handles one delivery synchronously. It returns nil for stored and
// ignored messages; otherwise the error matches telemetry.ErrDecode,
// telemetry.ErrInvalid or store.ErrWrite.
func (p *Pipeline) Process(ctx context.Context, msg transport.Message) error {
	if msg.Topic != p.cfg.Topic {
		return nil
	}

	rec, err := telemetry.Parse(msg.Payload, p.cfg.Fields, p.cfg.Now())
	if err != nil {
		return err
	}

	if err := p.insert(ctx, rec); err != nil {
		return err
	}

	metrics.LastTemperature.Set(rec.TemperatureC)
	metrics.LastHumidity.Set(rec.HumidityPct)
	metrics.LastLux.Set(rec.LuxLevel)

	if p.cache != nil {
		cacheCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
		defer cancel()
		if err := p.cache.Put(cacheCtx, rec); err != nil {
			// The record is safely in the store; only the live view is stale.
			p.logger.Warn("Live cache update failed", "error", err)
		}
	}

	p.logger.Debug("Telemetry stored", "temperature", rec.TemperatureC, "humidity", rec.HumidityPct, "lux", rec.LuxLevel)
	return nil
}

// insert writes rec under StoreTimeout and wraps any failure in store.ErrWrite.
func (p *Pipeline) insert(ctx context.Context, rec telemetry.Record) error {
	writeCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := p.writer.Insert(writeCtx, rec)
	metrics.StoreWriteSeconds.Observe(time.Since(start).Seconds())

	if err != nil && !errors.Is(err, store.ErrWrite) {
		err = fmt.Errorf("%w: %w", store.ErrWrite, err)
	}
	return err
}

// Classify maps a Process result onto a metrics outcome label.
func Classify(onTopic bool, err error) string {
	switch {
	case err == nil && !onTopic:
		return metrics.OutcomeIgnored
	case err == nil:
		return metrics.OutcomeStored
	case errors.Is(err, telemetry.ErrDecode):
		return metrics.OutcomeDecodeError
	case errors.Is(err, telemetry.ErrInvalid):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeStoreError
	}
}
