package detect

import (
	"fmt"
	"testing"

	"stablewatch/internal/core"
)

func batch(amounts ...float64) []core.Transaction {
	out := make([]core.Transaction, len(amounts))
	for i, a := range amounts {
		out[i] = core.Transaction{
			Hash:      fmt.Sprintf("0x%02d", i),
			Timestamp: "2024-01-15T10:00:00Z",
			Amount:    core.Float64(a),
		}
	}
	return out
}

func flagged(txs []core.Transaction) []string {
	var out []string
	for _, tx := range txs {
		if tx.Anomalous() {
			out = append(out, tx.Hash)
		}
	}
	return out
}

func TestDetectEmpty(t *testing.T) {
	got := New(0.1).Detect(nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("Detect(nil) = %v, want empty non-nil slice", got)
	}
}

func TestDetectFlagsOutlierAmount(t *testing.T) {
	txs := batch(10, 11, 12, 13, 14, 15, 16, 17, 18, 10000)

	got := New(0.1).Detect(txs)

	if f := flagged(got); len(f) != 1 || f[0] != "0x09" {
		t.Fatalf("flagged = %v, want [0x09]", f)
	}
	for _, tx := range got {
		if tx.AnomalyScore == nil || tx.IsAnomaly == nil {
			t.Fatalf("%s: score and flag must be set", tx.Hash)
		}
		if s := *tx.AnomalyScore; s < 0 || s >= 1 {
			t.Errorf("%s: score %v outside [0,1)", tx.Hash, s)
		}
	}
	if *got[9].AnomalyScore <= *got[0].AnomalyScore {
		t.Error("outlier should score higher than typical record")
	}
}

func TestDetectFlagsContaminationFraction(t *testing.T) {
	amounts := make([]float64, 0, 20)
	for i := 1; i <= 18; i++ {
		amounts = append(amounts, float64(i))
	}
	amounts = append(amounts, 5000, 9000)

	f := flagged(New(0.1).Detect(batch(amounts...)))
	if len(f) != 2 || f[0] != "0x18" || f[1] != "0x19" {
		t.Fatalf("flagged = %v, want [0x18 0x19]", f)
	}
}

func TestDetectOddTimeOfDay(t *testing.T) {
	txs := batch(10, 10, 10, 10, 10, 10, 10, 10, 10, 10)
	for i := range txs {
		txs[i].Timestamp = fmt.Sprintf("2024-01-%02dT10:%02d:00Z", i+1, i)
	}
	txs[4].Timestamp = "2024-01-05T03:00:00Z"

	f := flagged(New(0.1).Detect(txs))
	if len(f) != 1 || f[0] != "0x04" {
		t.Fatalf("flagged = %v, want [0x04]", f)
	}
}

func TestDetectSmallBatches(t *testing.T) {
	got := New(0.1).Detect(batch(1, 500))
	if f := flagged(got); len(f) != 0 {
		t.Errorf("two records should never be flagged, got %v", f)
	}

	got = New(0.1).Detect(batch(1, 2, 500))
	if f := flagged(got); len(f) != 1 || f[0] != "0x02" {
		t.Errorf("three records should flag the outlier, got %v", f)
	}
}

func TestDetectIdenticalRecords(t *testing.T) {
	got := New(0.1).Detect(batch(5, 5, 5, 5, 5))
	if f := flagged(got); len(f) != 0 {
		t.Errorf("identical records flagged: %v", f)
	}
	for _, tx := range got {
		if *tx.AnomalyScore != 0 {
			t.Errorf("%s: score = %v, want 0", tx.Hash, *tx.AnomalyScore)
		}
	}
}

func TestDetectDoesNotMutateInput(t *testing.T) {
	txs := batch(1, 2, 3, 400)
	_ = New(0.1).Detect(txs)
	for _, tx := range txs {
		if tx.IsAnomaly != nil || tx.AnomalyScore != nil {
			t.Fatalf("input record %s was modified", tx.Hash)
		}
	}
}

func TestNewClampsContamination(t *testing.T) {
	for _, c := range []float64{0, -1, 0.9} {
		if d := New(c); d.contamination != DefaultContamination {
			t.Errorf("New(%v).contamination = %v, want default", c, d.contamination)
		}
	}
}
