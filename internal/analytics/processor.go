package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/onehubexpress/search/internal/models"
	"github.com/onehubexpress/search/internal/observability"
)

type EventSink interface {
	InsertSearchEvents(ctx context.Context, events []*models.SearchEvent) error
}

type TrendingCounter interface {
	IncrementTrending(ctx context.Context, category models.ServiceCategory, query string) error
}

type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	// MaxBuffered bounds how many events are held while the sink is failing.
	// The oldest events are dropped first.
	MaxBuffered int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.MaxBuffered < o.BatchSize {
		o.MaxBuffered = o.BatchSize * 10
	}
	return o
}

// StreamProcessor batches consumed search events into the analytics sink and
// keeps the trending sets current.
type StreamProcessor struct {
	sink     EventSink
	trending TrendingCounter
	opts     Options
	logger   *zap.Logger

	mu     sync.Mutex
	buffer []*models.SearchEvent
	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewStreamProcessor starts the periodic flush loop. Either dependency may be
// nil, in which case that half of the work is skipped.
func NewStreamProcessor(sink EventSink, trending TrendingCounter, opts Options, logger *zap.Logger) *StreamProcessor {
	opts = opts.withDefaults()
	sp := &StreamProcessor{
		sink:     sink,
		trending: trending,
		opts:     opts,
		logger:   logger,
		buffer:   make([]*models.SearchEvent, 0, opts.BatchSize),
		ticker:   time.NewTicker(opts.FlushInterval),
		done:     make(chan struct{}),
	}

	sp.wg.Add(1)
	go sp.flushLoop()

	return sp
}

func (sp *StreamProcessor) HandleEvent(ctx context.Context, event *models.SearchEvent) error {
	if event == nil {
		return fmt.Errorf("nil search event")
	}

	if sp.trending != nil && event.Query != "" {
		tctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := sp.trending.IncrementTrending(tctx, models.ParseServiceCategory(event.Category), event.Query)
		cancel()
		if err != nil {
			observability.AnalyticsEventsTotal.WithLabelValues("trending", "error").Inc()
			sp.logger.Warn("trending increment failed",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}
	}

	if sp.sink == nil {
		return nil
	}

	sp.mu.Lock()
	sp.buffer = append(sp.buffer, event)
	shouldFlush := len(sp.buffer) >= sp.opts.BatchSize
	sp.mu.Unlock()

	if shouldFlush {
		if err := sp.flush(ctx); err != nil {
			sp.logger.Error("flush on buffer full failed", zap.Error(err))
		}
	}
	return nil
}

func (sp *StreamProcessor) flushLoop() {
	defer sp.wg.Done()
	for {
		select {
		case <-sp.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := sp.flush(ctx); err != nil {
				sp.logger.Error("periodic flush failed", zap.Error(err))
			}
			cancel()
		case <-sp.done:
			return
		}
	}
}

func (sp *StreamProcessor) flush(ctx context.Context) error {
	if sp.sink == nil {
		return nil
	}

	sp.mu.Lock()
	if len(sp.buffer) == 0 {
		sp.mu.Unlock()
		return nil
	}
	batch := sp.buffer
	sp.buffer = make([]*models.SearchEvent, 0, sp.opts.BatchSize)
	sp.mu.Unlock()

	start := time.Now()
	if err := sp.sink.InsertSearchEvents(ctx, batch); err != nil {
		sp.requeue(batch)
		observability.AnalyticsEventsTotal.WithLabelValues("flush", "error").Inc()
		return fmt.Errorf("search event flush: %w", err)
	}

	observability.AnalyticsEventsTotal.WithLabelValues("flush", "success").Add(float64(len(batch)))
	sp.logger.Debug("analytics flush completed",
		zap.Int("count", len(batch)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// requeue puts a failed batch back in front of anything buffered since.
func (sp *StreamProcessor) requeue(batch []*models.SearchEvent) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	merged := append(batch, sp.buffer...)
	if over := len(merged) - sp.opts.MaxBuffered; over > 0 {
		observability.AnalyticsEventsTotal.WithLabelValues("flush", "dropped").Add(float64(over))
		sp.logger.Warn("analytics buffer full, dropping oldest events", zap.Int("dropped", over))
		merged = merged[over:]
	}
	sp.buffer = merged
}

func (sp *StreamProcessor) Buffered() int {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return len(sp.buffer)
}

// Stop ends the flush loop and attempts a final flush.
func (sp *StreamProcessor) Stop() error {
	sp.ticker.Stop()
	close(sp.done)
	sp.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return sp.flush(ctx)
}
