package worker

import (
	"context"
	"fmt"
	"time"

	"stablewatch/internal/core"
	"stablewatch/internal/log"
	"stablewatch/internal/services"
)

// Source yields the latest transactions from the chain.
type Source interface {
	FetchTransfers(ctx context.Context) ([]core.Transaction, error)
}

// Ingester stores a fetched batch.
type Ingester interface {
	Ingest(ctx context.Context, txs []core.Transaction) (services.IngestResult, error)
}

// PollWorker fetches transactions on a fixed interval and hands them to the
// ingestion service
type PollWorker struct {
	source   Source
	ingester Ingester
	interval time.Duration
	logger   *log.Logger
}

func NewPollWorker(source Source, ingester Ingester, interval time.Duration, logger *log.Logger) *PollWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &PollWorker{
		source:   source,
		ingester: ingester,
		interval: interval,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// PollOnce runs a single fetch and ingest
func (w *PollWorker) PollOnce(ctx context.Context) (services.IngestResult, error) {
	txs, err := w.source.FetchTransfers(ctx)
	if err != nil {
		return services.IngestResult{}, fmt.Errorf("fetch: %w", err)
	}
	if len(txs) == 0 {
		w.logger.InfoContext(ctx, "No transactions fetched")
		return services.IngestResult{}, nil
	}

	res, err := w.ingester.Ingest(ctx, txs)
	if err != nil {
		return res, fmt.Errorf("ingest: %w", err)
	}
	return res, nil
}

// Run polls immediately and then every interval until ctx is cancelled.
// Failures are logged and retried on the next tick.
func (w *PollWorker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Poll worker started", "interval", w.interval.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.tick(ctx)

		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "Poll worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *PollWorker) tick(ctx context.Context) {
	start := time.Now()
	res, err := w.PollOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.ErrorContext(ctx, "Poll failed",
			log.FieldOperation, log.OpFetch,
			log.FieldError, err.Error())
		return
	}
	w.logger.DebugContext(ctx, "Poll completed",
		log.FieldBatchID, res.BatchID,
		log.FieldInserted, res.Inserted,
		log.FieldDuration, time.Since(start).Milliseconds())
}
