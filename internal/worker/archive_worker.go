package worker

import (
	"context"
	"fmt"

	"stablewatch/internal/amqp"
	"stablewatch/internal/archive"
	"stablewatch/internal/log"
)

// ArchiveWorker writes batches announced over AMQP to object storage
type ArchiveWorker struct {
	archiver archive.Archiver
	logger   *log.Logger
}

func NewArchiveWorker(archiver archive.Archiver, logger *log.Logger) *ArchiveWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &ArchiveWorker{
		archiver: archiver,
		logger:   logger.WithComponent(log.ComponentArchive),
	}
}

// HandleIngested archives one batch. A returned error requeues the message.
func (w *ArchiveWorker) HandleIngested(ctx context.Context, msg *amqp.TransactionsIngested) error {
	if len(msg.Transactions) == 0 {
		w.logger.WarnContext(ctx, "Ignoring empty batch", log.FieldBatchID, msg.BatchID)
		return nil
	}

	key, err := w.archiver.Store(ctx, msg.Transactions)
	if err != nil {
		return fmt.Errorf("archive batch %s: %w", msg.BatchID, err)
	}

	w.logger.InfoContext(ctx, "Archived batch",
		log.FieldBatchID, msg.BatchID,
		log.FieldArchiveKey, key,
		"count", len(msg.Transactions))
	return nil
}
