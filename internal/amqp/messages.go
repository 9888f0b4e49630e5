package amqp

import (
	"encoding/json"
	"time"

	"stablewatch/internal/core"
)

// TransactionsIngested announces a batch that was detected and stored.
// It carries the full records so consumers such as the archiver need no
// database access.
type TransactionsIngested struct {
	BatchID      string             `json:"batch_id"`
	Count        int                `json:"count"`
	Hashes       []string           `json:"hashes"`
	Transactions []core.Transaction `json:"transactions"`
	Timestamp    time.Time          `json:"timestamp"`
}

// NewTransactionsIngested creates a message for the given batch
func NewTransactionsIngested(batchID string, txs []core.Transaction) *TransactionsIngested {
	hashes := make([]string, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash
	}
	return &TransactionsIngested{
		BatchID:      batchID,
		Count:        len(txs),
		Hashes:       hashes,
		Transactions: txs,
		Timestamp:    time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *TransactionsIngested) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionsIngestedFromJSON creates a message from JSON bytes
func TransactionsIngestedFromJSON(data []byte) (*TransactionsIngested, error) {
	var msg TransactionsIngested
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
