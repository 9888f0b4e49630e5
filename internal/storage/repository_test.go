package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"stablewatch/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository_SaveIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	batch := []core.Transaction{
		{Hash: "0x1", Timestamp: "2024-01-01T10:00:00Z", Amount: core.Float64(10), FromAddress: "0xa"},
		{Hash: "0x2", Timestamp: "2024-01-01T11:00:00Z", Amount: core.Float64(20), FromAddress: "0xb"},
	}
	n, err := repo.SaveTransactions(ctx, batch)
	if err != nil || n != 2 {
		t.Fatalf("first save: n=%d err=%v", n, err)
	}

	n, err = repo.SaveTransactions(ctx, append(batch, core.Transaction{Hash: "0x3"}))
	if err != nil || n != 1 {
		t.Fatalf("second save: n=%d err=%v, want 1", n, err)
	}

	count, err := repo.Count(ctx)
	if err != nil || count != 3 {
		t.Fatalf("Count() = %d, %v; want 3", count, err)
	}
}

func TestSQLiteRepository_SkipsInvalid(t *testing.T) {
	repo := newTestRepo(t)
	n, err := repo.SaveTransactions(context.Background(), []core.Transaction{
		{Hash: ""},
		{Hash: "0xbad", Timestamp: "not a time"},
		{Hash: "0xok", Amount: core.Float64(1)},
	})
	if err != nil || n != 1 {
		t.Fatalf("save: n=%d err=%v, want 1", n, err)
	}
}

func TestSQLiteRepository_RoundTripOptionalFields(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	full := core.Transaction{
		Hash:         "0xfull",
		Timestamp:    "2024-03-01T08:15:00Z",
		Amount:       core.Float64(12.5),
		FromAddress:  "0xfrom",
		ToAddress:    "0xto",
		IsAnomaly:    core.Bool(false),
		AnomalyScore: core.Float64(0),
	}
	sparse := core.Transaction{Hash: "0xsparse"}

	if _, err := repo.SaveTransactions(ctx, []core.Transaction{full, sparse}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.ListTransactions(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}

	f := got[0]
	if f.Hash != "0xfull" || f.Amount == nil || *f.Amount != 12.5 {
		t.Errorf("full record = %+v", f)
	}
	if f.IsAnomaly == nil || *f.IsAnomaly {
		t.Errorf("is_anomaly should be present and false, got %v", f.IsAnomaly)
	}
	if f.AnomalyScore == nil || *f.AnomalyScore != 0 {
		t.Errorf("explicit zero score must survive, got %v", f.AnomalyScore)
	}

	s := got[1]
	if s.Hash != "0xsparse" || s.Amount != nil || s.IsAnomaly != nil || s.AnomalyScore != nil {
		t.Errorf("absent fields must stay absent, got %+v", s)
	}
}

func TestSQLiteRepository_ListNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.SaveTransactions(ctx, []core.Transaction{
		{Hash: "0xa", Timestamp: "2024-01-01T10:00:00Z"},
		{Hash: "0xnone"},
		{Hash: "0xc", Timestamp: "2024-01-01T12:00:00Z"},
		{Hash: "0xb", Timestamp: "2024-01-01T13:00:00+02:00"},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.ListTransactions(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"0xc", "0xb", "0xa", "0xnone"}
	for i, h := range want {
		if got[i].Hash != h {
			t.Errorf("position %d = %s, want %s", i, got[i].Hash, h)
		}
	}

	limited, err := repo.ListTransactions(ctx, 1)
	if err != nil || len(limited) != 1 || limited[0].Hash != "0xc" {
		t.Errorf("limited = %+v, err = %v", limited, err)
	}
}

func TestSQLiteRepository_ReadSummary(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.SaveTransactions(ctx, []core.Transaction{
		{Hash: "0x1", Timestamp: "2024-01-01T10:00:00Z", Amount: core.Float64(10)},
		{Hash: "0x2", Timestamp: "2024-01-02T10:00:00Z", Amount: core.Float64(20), IsAnomaly: core.Bool(true)},
		{Hash: "0x3", Timestamp: "2024-01-02T11:00:00Z", Amount: core.Float64(30), IsAnomaly: core.Bool(false)},
		{Hash: "0x4", Amount: core.Float64(1000)},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	sum, err := repo.ReadSummary(ctx, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadSummary: %v", err)
	}
	if sum.TotalTransactions != 2 || sum.TotalVolume != 50 || sum.AnomalyCount != 1 {
		t.Errorf("summary = %+v", sum)
	}

	empty, err := repo.ReadSummary(ctx, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadSummary: %v", err)
	}
	if empty != (core.Summary{}) {
		t.Errorf("expected zero summary, got %+v", empty)
	}
}

func TestMigrateIsRepeatableAndKeepsConnection(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	for run := 1; run <= 2; run++ {
		version, err := Migrate(db)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if version != 1 {
			t.Errorf("run %d: version = %d, want 1", run, version)
		}
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("connection closed by migrate: %v", err)
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&n); err != nil {
		t.Fatalf("transactions table missing: %v", err)
	}
}

func TestRepositoryReportsSchemaVersion(t *testing.T) {
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "v.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	defer repo.Close()

	if got := repo.SchemaVersion(); got != 1 {
		t.Errorf("SchemaVersion = %d, want 1", got)
	}
}
