package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"stablewatch/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	version uint
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := Migrate(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repo := &SQLiteRepository{
		db:      db,
		queries: New(db),
		version: version,
	}

	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SchemaVersion returns the migration version applied when the repository
// was opened.
func (r *SQLiteRepository) SchemaVersion() uint {
	return r.version
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// SaveTransactions implements ports.TransactionWriter. The whole batch is
// written in one database transaction; invalid records are skipped.
func (r *SQLiteRepository) SaveTransactions(ctx context.Context, txs []core.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	q := r.queries.WithTx(dbTx)
	inserted := 0
	skipped := 0
	for _, t := range txs {
		if err := t.Validate(); err != nil {
			skipped++
			continue
		}
		n, err := q.InsertTransaction(ctx, toParams(t))
		if err != nil {
			return 0, fmt.Errorf("insert transaction %s: %w", t.Hash, err)
		}
		inserted += int(n)
	}

	if err := dbTx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	slog.DebugContext(ctx, "Transactions saved to SQLite",
		"received", len(txs),
		"inserted", inserted,
		"invalid", skipped)

	return inserted, nil
}

// ListTransactions implements ports.TransactionLister. limit <= 0 means no limit.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, limit int) ([]core.Transaction, error) {
	l := int64(limit)
	if l <= 0 {
		l = -1
	}
	rows, err := r.queries.ListTransactions(ctx, l)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	out := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// ReadSummary implements ports.SummaryReader
func (r *SQLiteRepository) ReadSummary(ctx context.Context, since time.Time) (core.Summary, error) {
	row, err := r.queries.GetSummarySince(ctx, since.UnixMilli())
	if err != nil {
		return core.Summary{}, fmt.Errorf("get summary: %w", err)
	}
	return core.Summary{
		TotalVolume:       row.TotalVolume,
		TotalTransactions: int(row.TotalTransactions),
		AnomalyCount:      int(row.AnomalyCount),
	}, nil
}

// Count returns the number of stored transactions.
func (r *SQLiteRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.queries.CountTransactions(ctx)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

func toParams(t core.Transaction) InsertTransactionParams {
	p := InsertTransactionParams{
		Hash:        t.Hash,
		Timestamp:   t.Timestamp,
		FromAddress: t.FromAddress,
		ToAddress:   t.ToAddress,
	}
	if at, ok := t.Time(time.UTC); ok {
		p.TsMillis = sql.NullInt64{Int64: at.UnixMilli(), Valid: true}
	}
	if t.Amount != nil && !math.IsNaN(*t.Amount) {
		p.Amount = sql.NullFloat64{Float64: *t.Amount, Valid: true}
	}
	if t.IsAnomaly != nil {
		p.IsAnomaly = sql.NullBool{Bool: *t.IsAnomaly, Valid: true}
	}
	if t.AnomalyScore != nil {
		p.AnomalyScore = sql.NullFloat64{Float64: *t.AnomalyScore, Valid: true}
	}
	return p
}

func fromRow(row TransactionRow) core.Transaction {
	t := core.Transaction{
		Hash:        row.Hash,
		Timestamp:   row.Timestamp,
		FromAddress: row.FromAddress,
		ToAddress:   row.ToAddress,
	}
	if row.Amount.Valid {
		t.Amount = core.Float64(row.Amount.Float64)
	}
	if row.IsAnomaly.Valid {
		t.IsAnomaly = core.Bool(row.IsAnomaly.Bool)
	}
	if row.AnomalyScore.Valid {
		t.AnomalyScore = core.Float64(row.AnomalyScore.Float64)
	}
	return t
}
