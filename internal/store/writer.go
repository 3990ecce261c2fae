package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"papertrader/internal/logging"
	"papertrader/internal/metrics"
	"papertrader/internal/models"
	"papertrader/internal/worker"
)

// DefaultWriteTimeout bounds a single queued write.
const DefaultWriteTimeout = 10 * time.Second

// Writer queues writes to a Store on a single goroutine so they are applied
// in submission order without blocking the caller. Failures are logged as
// warnings; in-memory state stays authoritative.
type Writer struct {
	store   Store
	pool    *worker.Pool
	timeout time.Duration
	logger  zerolog.Logger
}

// NewWriter starts a writer over s with the given queue capacity.
func NewWriter(s Store, queueSize int, logger zerolog.Logger) *Writer {
	pool := worker.NewPool(1, queueSize)
	pool.Start()

	return &Writer{
		store:   s,
		pool:    pool,
		timeout: DefaultWriteTimeout,
		logger:  logging.WithComponent(logger, "store-writer"),
	}
}

// Store returns the underlying store for synchronous reads.
func (w *Writer) Store() Store {
	return w.store
}

func (w *Writer) SaveConfiguration(cfg models.AgentConfig) {
	w.submit("save_config", func(ctx context.Context) error {
		return w.store.SaveConfiguration(ctx, cfg)
	})
}

func (w *Writer) SavePortfolioState(agentID string, p models.Portfolio) {
	p = p.Clone()
	w.submit("save_portfolio", func(ctx context.Context) error {
		return w.store.SavePortfolioState(ctx, agentID, p)
	})
}

func (w *Writer) SaveTrade(agentID string, t models.Trade) {
	w.submit("save_trade", func(ctx context.Context) error {
		return w.store.SaveTrade(ctx, agentID, t)
	})
}

func (w *Writer) SaveActivity(entry models.ActivityEntry) {
	w.submit("save_activity", func(ctx context.Context) error {
		return w.store.SaveActivity(ctx, entry)
	})
}

func (w *Writer) DeleteAgent(agentID string) {
	w.submit("delete_agent", func(ctx context.Context) error {
		return w.store.DeleteAgent(ctx, agentID)
	})
}

// Flush blocks until every write queued before the call has run.
func (w *Writer) Flush() {
	w.pool.SubmitWait(func() {})
}

// Close drains the queue and stops the writer. It does not close the store.
func (w *Writer) Close() {
	w.pool.Stop()
}

func (w *Writer) submit(op string, fn func(ctx context.Context) error) {
	backend := w.store.Name()

	ok := w.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()

		start := time.Now()
		err := fn(ctx)
		logging.LogStoreCall(w.logger, backend, op, time.Since(start), err)

		if err != nil {
			metrics.StoreWrites.WithLabelValues(backend, op, "error").Inc()
			w.logger.Warn().Err(err).Str("backend", backend).Str("op", op).Msg("Persistence write failed")
			return
		}
		metrics.StoreWrites.WithLabelValues(backend, op, "ok").Inc()
	})

	if !ok {
		metrics.StoreWrites.WithLabelValues(backend, op, "dropped").Inc()
		w.logger.Warn().Str("backend", backend).Str("op", op).Msg("Persistence queue full, write dropped")
	}
}
