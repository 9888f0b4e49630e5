package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// TransactionRow is one row of the transactions table.
type TransactionRow struct {
	ID           int64
	Hash         string
	Timestamp    string
	TsMillis     sql.NullInt64
	Amount       sql.NullFloat64
	FromAddress  string
	ToAddress    string
	IsAnomaly    sql.NullBool
	AnomalyScore sql.NullFloat64
}

const insertTransaction = `
INSERT INTO transactions (hash, timestamp, ts_millis, amount, from_address, to_address, is_anomaly, anomaly_score)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(hash) DO NOTHING
`

type InsertTransactionParams struct {
	Hash         string
	Timestamp    string
	TsMillis     sql.NullInt64
	Amount       sql.NullFloat64
	FromAddress  string
	ToAddress    string
	IsAnomaly    sql.NullBool
	AnomalyScore sql.NullFloat64
}

// InsertTransaction returns the number of rows written: 0 when the hash exists.
func (q *Queries) InsertTransaction(ctx context.Context, arg InsertTransactionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertTransaction,
		arg.Hash,
		arg.Timestamp,
		arg.TsMillis,
		arg.Amount,
		arg.FromAddress,
		arg.ToAddress,
		arg.IsAnomaly,
		arg.AnomalyScore,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listTransactions = `
SELECT id, hash, timestamp, ts_millis, amount, from_address, to_address, is_anomaly, anomaly_score
FROM transactions
ORDER BY ts_millis IS NULL, ts_millis DESC, id DESC
LIMIT ?
`

func (q *Queries) ListTransactions(ctx context.Context, limit int64) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, listTransactions, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TransactionRow
	for rows.Next() {
		var i TransactionRow
		if err := rows.Scan(
			&i.ID,
			&i.Hash,
			&i.Timestamp,
			&i.TsMillis,
			&i.Amount,
			&i.FromAddress,
			&i.ToAddress,
			&i.IsAnomaly,
			&i.AnomalyScore,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getSummarySince = `
SELECT
    COUNT(*) AS total_transactions,
    CAST(COALESCE(SUM(amount), 0) AS REAL) AS total_volume,
    COALESCE(SUM(CASE WHEN is_anomaly = 1 THEN 1 ELSE 0 END), 0) AS anomaly_count
FROM transactions
WHERE ts_millis IS NOT NULL AND ts_millis >= ?
`

type GetSummarySinceRow struct {
	TotalTransactions int64
	TotalVolume       float64
	AnomalyCount      int64
}

func (q *Queries) GetSummarySince(ctx context.Context, sinceMillis int64) (GetSummarySinceRow, error) {
	row := q.db.QueryRowContext(ctx, getSummarySince, sinceMillis)
	var i GetSummarySinceRow
	err := row.Scan(&i.TotalTransactions, &i.TotalVolume, &i.AnomalyCount)
	return i, err
}

const countTransactions = `SELECT COUNT(*) FROM transactions`

func (q *Queries) CountTransactions(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countTransactions)
	var count int64
	err := row.Scan(&count)
	return count, err
}
