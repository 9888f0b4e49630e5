// Package analytics turns a snapshot of transactions into the aggregate views
// rendered by the dashboard: a recent hourly series, hour-of-day and
// day-of-week volume distributions, the top senders and the anomaly extract.
//
// Aggregation is a pure function of its input. It never mutates the
// transactions, keeps no package state and never fails: malformed records are
// degraded field by field.
package analytics

import (
	"cmp"
	"slices"
	"strconv"
	"time"

	"stablewatch/internal/core"
)

const (
	// SeriesLength is the number of most recent hour buckets kept in the series.
	SeriesLength = 24
	// TopCounterparties is the number of senders kept in the ranking.
	TopCounterparties = 5

	hourLabelLayout = "2006-01-02 15:00"
)

var dayLabels = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

type (
	// HourBucket accumulates the transactions whose timestamp falls in one
	// wall-clock hour.
	HourBucket struct {
		Hour         string    `json:"hour"`
		Start        time.Time `json:"timestamp"`
		Volume       float64   `json:"volume"`
		Count        int       `json:"count"`
		AnomalyCount int       `json:"anomalies"`
	}

	// DistributionBucket is one fixed calendar slot (hour of day or day of week).
	DistributionBucket struct {
		Label string  `json:"label"`
		Value float64 `json:"value"`
	}

	// Counterparty is the running total for one sending address.
	Counterparty struct {
		Address string  `json:"address"`
		Volume  float64 `json:"volume"`
		Count   int     `json:"count"`
		Fill    string  `json:"fill,omitempty"`
	}

	// AnomalyPoint is one flagged transaction. Timestamp is nil when the
	// transaction carried no parseable timestamp.
	AnomalyPoint struct {
		Amount    float64    `json:"amount"`
		Timestamp *time.Time `json:"timestamp,omitempty"`
		Score     float64    `json:"score"`
	}

	// Result is the full set of aggregate views.
	Result struct {
		TimeSeries        []HourBucket         `json:"timeSeries"`
		HourOfDay         []DistributionBucket `json:"hourOfDayDistribution"`
		DayOfWeek         []DistributionBucket `json:"dayOfWeekDistribution"`
		TopCounterparties []Counterparty       `json:"topCounterparties"`
		Anomalies         []AnomalyPoint       `json:"anomalies"`
	}
)

// Empty returns a result whose collections are all empty.
func Empty() Result {
	return Result{
		TimeSeries:        []HourBucket{},
		HourOfDay:         []DistributionBucket{},
		DayOfWeek:         []DistributionBucket{},
		TopCounterparties: []Counterparty{},
		Anomalies:         []AnomalyPoint{},
	}
}

// Aggregate computes the views using the process local time zone.
func Aggregate(txs []core.Transaction) Result {
	return AggregateIn(txs, time.Local)
}

// AggregateIn computes the views with hour truncation, hour of day and day of
// week evaluated in loc.
//
// A nil slice stands for "no sequence at all" and yields Empty(). Records
// without a parseable timestamp are left out of the series and both
// distributions but still count towards the counterparty ranking and the
// anomaly extract.
func AggregateIn(txs []core.Transaction, loc *time.Location) Result {
	if txs == nil {
		return Empty()
	}
	if loc == nil {
		loc = time.Local
	}

	var (
		hours     = make(map[int64]*HourBucket)
		byHour    [24]float64
		byDay     [7]float64
		senders   = make(map[string]*Counterparty)
		anomalies = make([]AnomalyPoint, 0)
	)

	for _, tx := range txs {
		amount := tx.AmountOrZero()
		anomalous := tx.Anomalous()

		ts, ok := tx.Time(loc)
		if ok {
			start := truncateHour(ts)
			key := start.Unix()
			b, exists := hours[key]
			if !exists {
				b = &HourBucket{Hour: start.Format(hourLabelLayout), Start: start}
				hours[key] = b
			}
			b.Volume += amount
			b.Count++
			if anomalous {
				b.AnomalyCount++
			}

			byHour[ts.Hour()] += amount
			byDay[int(ts.Weekday())] += amount
		}

		c, exists := senders[tx.FromAddress]
		if !exists {
			c = &Counterparty{Address: tx.FromAddress}
			senders[tx.FromAddress] = c
		}
		c.Volume += amount
		c.Count++

		if anomalous {
			p := AnomalyPoint{Amount: amount, Score: tx.ScoreOrDefault()}
			if ok {
				instant := ts
				p.Timestamp = &instant
			}
			anomalies = append(anomalies, p)
		}
	}

	return Result{
		TimeSeries:        finalizeSeries(hours),
		HourOfDay:         hourOfDayBuckets(byHour),
		DayOfWeek:         dayOfWeekBuckets(byDay),
		TopCounterparties: rankCounterparties(senders),
		Anomalies:         anomalies,
	}
}

// truncateHour drops minutes and below in the instant's own location, so a
// zone with a non-hour offset still buckets on its wall clock.
func truncateHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// finalizeSeries sorts buckets by start and keeps the most recent SeriesLength.
func finalizeSeries(hours map[int64]*HourBucket) []HourBucket {
	series := make([]HourBucket, 0, len(hours))
	for _, b := range hours {
		series = append(series, *b)
	}
	slices.SortFunc(series, func(a, b HourBucket) int {
		return a.Start.Compare(b.Start)
	})
	if len(series) > SeriesLength {
		series = series[len(series)-SeriesLength:]
	}
	return series
}

func hourOfDayBuckets(values [24]float64) []DistributionBucket {
	out := make([]DistributionBucket, len(values))
	for i, v := range values {
		out[i] = DistributionBucket{Label: strconv.Itoa(i) + ":00", Value: v}
	}
	return out
}

func dayOfWeekBuckets(values [7]float64) []DistributionBucket {
	out := make([]DistributionBucket, len(values))
	for i, v := range values {
		out[i] = DistributionBucket{Label: dayLabels[i], Value: v}
	}
	return out
}

// rankCounterparties orders senders by volume (descending, ties by address)
// and colours the top entries by rank.
func rankCounterparties(senders map[string]*Counterparty) []Counterparty {
	ranked := make([]Counterparty, 0, len(senders))
	for _, c := range senders {
		ranked = append(ranked, *c)
	}
	slices.SortStableFunc(ranked, func(a, b Counterparty) int {
		if c := cmp.Compare(b.Volume, a.Volume); c != 0 {
			return c
		}
		return cmp.Compare(a.Address, b.Address)
	})
	if len(ranked) > TopCounterparties {
		ranked = ranked[:TopCounterparties]
	}
	for i := range ranked {
		ranked[i].Fill = colorForRank(i)
	}
	return ranked
}
