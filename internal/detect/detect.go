// Package detect scores transactions for unusual amount or time of day and
// flags the most unusual fraction as anomalies.
package detect

import (
	"math"
	"slices"
	"time"

	"stablewatch/internal/core"
)

// DefaultContamination is the expected share of anomalous transactions.
const DefaultContamination = 0.1

const (
	madToSigma     = 1.4826
	meanAbsToSigma = 1.2533
	secondsPerDay  = 24 * 60 * 60
)

type Detector struct {
	contamination float64
}

// New returns a detector flagging the given fraction of each batch.
// Values outside (0, 0.5] fall back to DefaultContamination.
func New(contamination float64) *Detector {
	if contamination <= 0 || contamination > 0.5 {
		contamination = DefaultContamination
	}
	return &Detector{contamination: contamination}
}

// Detect returns copies of txs with AnomalyScore set on every record and
// IsAnomaly set to true on the highest-scoring ones. Scores are in [0, 1).
// The input slice is not modified.
func (d *Detector) Detect(txs []core.Transaction) []core.Transaction {
	out := make([]core.Transaction, len(txs))
	copy(out, txs)
	if len(out) == 0 {
		return out
	}

	amounts := make([]float64, len(out))
	seconds := make([]float64, len(out))
	dated := make([]bool, len(out))
	for i, tx := range out {
		amounts[i] = tx.AmountOrZero()
		if at, ok := tx.Time(time.UTC); ok {
			seconds[i] = float64(at.Unix() % secondsPerDay)
			dated[i] = true
		}
	}

	amountZ := robustZ(amounts, nil)
	timeZ := robustZ(seconds, dated)

	scores := make([]float64, len(out))
	for i := range out {
		s := math.Hypot(amountZ[i], timeZ[i])
		scores[i] = s / (1 + s)
		out[i].AnomalyScore = core.Float64(scores[i])
		out[i].IsAnomaly = core.Bool(false)
	}

	for _, i := range d.topIndices(scores) {
		out[i].IsAnomaly = core.Bool(true)
	}
	return out
}

// topIndices returns the indices to flag: the highest positive scores, ties
// broken by position.
func (d *Detector) topIndices(scores []float64) []int {
	n := len(scores)
	k := int(math.Floor(d.contamination * float64(n)))
	if k == 0 && n >= 3 {
		k = 1
	}
	if k == 0 {
		return nil
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		switch {
		case scores[a] > scores[b]:
			return -1
		case scores[a] < scores[b]:
			return 1
		}
		return 0
	})

	out := make([]int, 0, k)
	for _, i := range idx[:k] {
		if scores[i] > 0 {
			out = append(out, i)
		}
	}
	return out
}

// robustZ returns |x - median| / sigma for each value, where sigma is
// estimated from the median absolute deviation, falling back to the mean
// absolute deviation when more than half the values coincide. Only values
// with mask[i] set (all when mask is nil) take part; others score 0.
func robustZ(values []float64, mask []bool) []float64 {
	z := make([]float64, len(values))

	sample := make([]float64, 0, len(values))
	for i, v := range values {
		if mask == nil || mask[i] {
			sample = append(sample, v)
		}
	}
	if len(sample) < 2 {
		return z
	}

	m := median(sample)
	dev := make([]float64, len(sample))
	var sumDev float64
	for i, v := range sample {
		dev[i] = math.Abs(v - m)
		sumDev += dev[i]
	}

	sigma := madToSigma * median(dev)
	if sigma == 0 {
		sigma = meanAbsToSigma * sumDev / float64(len(dev))
	}
	if sigma == 0 {
		return z
	}

	for i, v := range values {
		if mask == nil || mask[i] {
			z[i] = math.Abs(v-m) / sigma
		}
	}
	return z
}

func median(values []float64) float64 {
	s := slices.Clone(values)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
