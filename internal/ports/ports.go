package ports

import (
	"context"
	"time"

	"stablewatch/internal/core"
)

// Ports for outbound adapters.
type (
	// TransactionWriter persists transactions. Saving is idempotent by hash:
	// records whose hash is already stored are skipped, not updated.
	TransactionWriter interface {
		SaveTransactions(ctx context.Context, txs []core.Transaction) (inserted int, err error)
	}

	// TransactionLister returns stored transactions, newest first.
	TransactionLister interface {
		ListTransactions(ctx context.Context, limit int) ([]core.Transaction, error)
	}

	// SummaryReader provides the headline counters for transactions at or after since.
	SummaryReader interface {
		ReadSummary(ctx context.Context, since time.Time) (core.Summary, error)
	}

	// Store is the full set of operations a data backend provides.
	Store interface {
		TransactionWriter
		TransactionLister
		SummaryReader
	}
)
