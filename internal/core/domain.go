package core

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const defaultAnomalyScore = 0.5

type (
	// Transaction is a single stablecoin transfer as delivered by the data source.
	// Every field except Hash may be absent; pointer fields are nil when absent.
	Transaction struct {
		Hash         string   `json:"hash"`
		Timestamp    string   `json:"timestamp,omitempty"`
		Amount       *float64 `json:"amount,omitempty"`
		FromAddress  string   `json:"from_address,omitempty"`
		ToAddress    string   `json:"to_address,omitempty"`
		IsAnomaly    *bool    `json:"is_anomaly,omitempty"`
		AnomalyScore *float64 `json:"anomaly_score,omitempty"`
	}

	// Summary holds the headline counters shown above the charts.
	Summary struct {
		TotalVolume       float64 `json:"total_volume"`
		TotalTransactions int     `json:"total_transactions"`
		AnomalyCount      int     `json:"anomaly_count"`
	}
)

var (
	ErrEmptyHash        = errors.New("empty transaction hash")
	ErrNegativeAmount   = errors.New("negative amount")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// AmountOrZero returns the amount, or 0 when absent.
func (t Transaction) AmountOrZero() float64 {
	if t.Amount == nil {
		return 0
	}
	return *t.Amount
}

// Anomalous reports whether the upstream detector flagged the transaction.
func (t Transaction) Anomalous() bool {
	return t.IsAnomaly != nil && *t.IsAnomaly
}

// ScoreOrDefault returns the anomaly score, or 0.5 when absent.
func (t Transaction) ScoreOrDefault() float64 {
	if t.AnomalyScore == nil {
		return defaultAnomalyScore
	}
	return *t.AnomalyScore
}

// Time parses the timestamp in loc. ok is false when it is missing or unparseable.
func (t Transaction) Time(loc *time.Location) (time.Time, bool) {
	return ParseTimestamp(t.Timestamp, loc)
}

// Validate is applied on ingest only; the aggregation path tolerates
// records that fail it.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.Hash) == "" {
		return ErrEmptyHash
	}
	if t.Amount != nil && *t.Amount < 0 {
		return ErrNegativeAmount
	}
	if t.Timestamp != "" {
		if _, ok := ParseTimestamp(t.Timestamp, time.UTC); !ok {
			return ErrInvalidTimestamp
		}
	}
	return nil
}

// Float64 and Bool return pointers for building optional fields.
func Float64(v float64) *float64 { return &v }

func Bool(v bool) *bool { return &v }

// DecodeTransactions decodes a JSON payload that should hold an array of
// transactions. Anything other than an array yields nil; array elements that
// are not objects are skipped. It never fails.
func DecodeTransactions(raw []byte) []Transaction {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil
	}
	out := make([]Transaction, 0, len(items))
	for _, item := range items {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(item, &obj); err != nil || obj == nil {
			continue
		}
		out = append(out, decodeFields(obj))
	}
	return out
}

// decodeFields reads each field independently so that one badly typed field
// degrades to "absent" instead of dropping the whole record.
func decodeFields(m map[string]json.RawMessage) Transaction {
	var tx Transaction
	tx.Hash = stringField(m, "hash")
	tx.Timestamp = stringField(m, "timestamp")
	tx.FromAddress = stringField(m, "from_address")
	tx.ToAddress = stringField(m, "to_address")
	if v, ok := m["amount"]; ok {
		var f float64
		if json.Unmarshal(v, &f) == nil {
			tx.Amount = &f
		}
	}
	if v, ok := m["is_anomaly"]; ok {
		var b bool
		if json.Unmarshal(v, &b) == nil {
			tx.IsAnomaly = &b
		}
	}
	if v, ok := m["anomaly_score"]; ok {
		var f float64
		if json.Unmarshal(v, &f) == nil {
			tx.AnomalyScore = &f
		}
	}
	return tx
}

func stringField(m map[string]json.RawMessage, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(v, &s) != nil {
		return ""
	}
	return s
}
