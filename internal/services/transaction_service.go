package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"stablewatch/internal/amqp"
	"stablewatch/internal/core"
	"stablewatch/internal/log"
	"stablewatch/internal/ports"
)

// Detector scores a batch and returns annotated copies.
type Detector interface {
	Detect(txs []core.Transaction) []core.Transaction
}

// Publisher announces stored batches.
type Publisher interface {
	PublishTransactionsIngested(ctx context.Context, msg *amqp.TransactionsIngested) error
}

// Invalidator drops derived data after new transactions are stored.
type Invalidator interface {
	InvalidateAll()
}

// IngestResult summarises one call to Ingest.
type IngestResult struct {
	BatchID      string             `json:"batch_id"`
	Received     int                `json:"received"`
	Valid        int                `json:"valid"`
	Inserted     int                `json:"inserted"`
	Anomalies    int                `json:"anomalies"`
	Transactions []core.Transaction `json:"-"`
}

// TransactionService orchestrates ingestion across detection, storage and AMQP
type TransactionService struct {
	store       ports.TransactionWriter
	detector    Detector
	publisher   Publisher
	invalidator Invalidator
	logger      *log.Logger
	events      *log.StructuredLogger
	newID       func() string
}

// NewTransactionService wires the service. publisher and invalidator may be nil.
func NewTransactionService(store ports.TransactionWriter, detector Detector, publisher Publisher, invalidator Invalidator, logger *log.Logger) *TransactionService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentIngest)
	return &TransactionService{
		store:       store,
		detector:    detector,
		publisher:   publisher,
		invalidator: invalidator,
		logger:      logger,
		events:      log.NewStructuredLogger(logger),
		newID:       uuid.NewString,
	}
}

// Ingest validates, scores and stores a batch, then announces it and drops
// cached analytics. Invalid records are skipped. Only a storage failure is
// returned; publish failures are logged since the batch is already stored.
func (s *TransactionService) Ingest(ctx context.Context, txs []core.Transaction) (IngestResult, error) {
	result := IngestResult{
		BatchID:  s.newID(),
		Received: len(txs),
	}

	valid := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			s.logger.WarnContext(ctx, "Skipping invalid transaction",
				"hash", tx.Hash,
				log.FieldError, err.Error())
			continue
		}
		valid = append(valid, tx)
	}
	result.Valid = len(valid)
	if len(valid) == 0 {
		return result, nil
	}

	scored := s.score(valid)
	for _, tx := range scored {
		if tx.Anomalous() {
			result.Anomalies++
		}
	}
	result.Transactions = scored

	inserted, err := s.store.SaveTransactions(ctx, scored)
	if err != nil {
		return result, fmt.Errorf("save transactions: %w", err)
	}
	result.Inserted = inserted

	if inserted > 0 {
		if err := s.publish(ctx, result.BatchID, scored); err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish ingested batch",
				log.FieldBatchID, result.BatchID,
				log.FieldError, err.Error())
		}
		if s.invalidator != nil {
			s.invalidator.InvalidateAll()
		}
	}

	s.events.LogIngest(ctx, result.BatchID, result.Received, result.Inserted, result.Anomalies)
	return result, nil
}

// score runs the detector over the batch. Records that arrive already
// flagged keep their flag, and their score when present.
func (s *TransactionService) score(txs []core.Transaction) []core.Transaction {
	if s.detector == nil {
		return txs
	}
	scored := s.detector.Detect(txs)
	for i, orig := range txs {
		if orig.IsAnomaly == nil {
			continue
		}
		scored[i].IsAnomaly = orig.IsAnomaly
		if orig.AnomalyScore != nil {
			scored[i].AnomalyScore = orig.AnomalyScore
		}
	}
	return scored
}

func (s *TransactionService) publish(ctx context.Context, batchID string, txs []core.Transaction) error {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP client not available, skipping ingested message")
		return nil
	}
	return s.publisher.PublishTransactionsIngested(ctx, amqp.NewTransactionsIngested(batchID, txs))
}

// Close closes the store and publisher when they hold resources
func (s *TransactionService) Close() error {
	var errs []error

	if c, ok := s.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if c, ok := s.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close transaction service: %w", errors.Join(errs...))
	}
	return nil
}
