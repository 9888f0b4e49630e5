package analytics

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"stablewatch/internal/core"
)

func tx(hash, ts string, amount float64, from string) core.Transaction {
	return core.Transaction{Hash: hash, Timestamp: ts, Amount: core.Float64(amount), FromAddress: from}
}

func sumValues(buckets []DistributionBucket) float64 {
	var total float64
	for _, b := range buckets {
		total += b.Value
	}
	return total
}

func TestAggregateNilInputIsEmpty(t *testing.T) {
	res := AggregateIn(nil, time.UTC)
	if !reflect.DeepEqual(res, Empty()) {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if res.TimeSeries == nil || res.HourOfDay == nil || res.DayOfWeek == nil || res.TopCounterparties == nil || res.Anomalies == nil {
		t.Fatalf("empty result fields must be non-nil slices")
	}
}

func TestAggregateEmptySliceHasFixedDistributions(t *testing.T) {
	res := AggregateIn([]core.Transaction{}, time.UTC)
	if len(res.TimeSeries) != 0 || len(res.TopCounterparties) != 0 || len(res.Anomalies) != 0 {
		t.Fatalf("expected no series, counterparties or anomalies: %+v", res)
	}
	if len(res.HourOfDay) != 24 || len(res.DayOfWeek) != 7 {
		t.Fatalf("expected 24/7 distribution buckets, got %d/%d", len(res.HourOfDay), len(res.DayOfWeek))
	}
	if res.HourOfDay[0].Label != "0:00" || res.HourOfDay[23].Label != "23:00" {
		t.Fatalf("unexpected hour labels: %q %q", res.HourOfDay[0].Label, res.HourOfDay[23].Label)
	}
	want := []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}
	for i, b := range res.DayOfWeek {
		if b.Label != want[i] || b.Value != 0 {
			t.Fatalf("day %d: got %+v", i, b)
		}
	}
}

func TestAggregateSingleHourExample(t *testing.T) {
	input := []core.Transaction{
		{Hash: "a", Timestamp: "2024-01-01T10:00:00Z", Amount: core.Float64(100), FromAddress: "0xA", IsAnomaly: core.Bool(false)},
		{Hash: "b", Timestamp: "2024-01-01T10:30:00Z", Amount: core.Float64(50), FromAddress: "0xA", IsAnomaly: core.Bool(true), AnomalyScore: core.Float64(0.9)},
	}
	res := AggregateIn(input, time.UTC)

	if len(res.TimeSeries) != 1 {
		t.Fatalf("expected one bucket, got %d", len(res.TimeSeries))
	}
	b := res.TimeSeries[0]
	if b.Hour != "2024-01-01 10:00" || !b.Start.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected bucket key: %+v", b)
	}
	if b.Volume != 150 || b.Count != 2 || b.AnomalyCount != 1 {
		t.Fatalf("unexpected bucket totals: %+v", b)
	}

	if len(res.TopCounterparties) != 1 {
		t.Fatalf("expected one counterparty, got %+v", res.TopCounterparties)
	}
	c := res.TopCounterparties[0]
	if c.Address != "0xA" || c.Volume != 150 || c.Count != 2 || c.Fill != Palette[0] {
		t.Fatalf("unexpected counterparty: %+v", c)
	}

	if len(res.Anomalies) != 1 {
		t.Fatalf("expected one anomaly, got %+v", res.Anomalies)
	}
	a := res.Anomalies[0]
	if a.Amount != 50 || a.Score != 0.9 || a.Timestamp == nil || !a.Timestamp.Equal(time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected anomaly: %+v", a)
	}

	if res.HourOfDay[10].Value != 150 {
		t.Fatalf("expected 150 at 10:00, got %v", res.HourOfDay[10].Value)
	}
	// 2024-01-01 is a Monday.
	if res.DayOfWeek[1].Value != 150 {
		t.Fatalf("expected 150 on Mon, got %v", res.DayOfWeek[1].Value)
	}
}

func TestAggregateAbsentAmountCountsButAddsNothing(t *testing.T) {
	input := []core.Transaction{
		{Hash: "a", Timestamp: "2024-01-01T10:00:00Z", FromAddress: "0xA"},
		tx("b", "2024-01-01T10:10:00Z", 5, "0xA"),
	}
	res := AggregateIn(input, time.UTC)
	if res.TimeSeries[0].Volume != 5 || res.TimeSeries[0].Count != 2 {
		t.Fatalf("unexpected bucket: %+v", res.TimeSeries[0])
	}
	if res.TopCounterparties[0].Volume != 5 || res.TopCounterparties[0].Count != 2 {
		t.Fatalf("unexpected counterparty: %+v", res.TopCounterparties[0])
	}
}

func TestAggregateInvalidTimestampAsymmetry(t *testing.T) {
	input := []core.Transaction{
		tx("a", "2024-01-01T10:00:00Z", 10, "0xA"),
		{Hash: "b", Timestamp: "garbage", Amount: core.Float64(40), FromAddress: "0xB", IsAnomaly: core.Bool(true)},
		{Hash: "c", Amount: core.Float64(7), FromAddress: "0xA", IsAnomaly: core.Bool(true), AnomalyScore: core.Float64(0.2)},
	}
	res := AggregateIn(input, time.UTC)

	if len(res.TimeSeries) != 1 || res.TimeSeries[0].Count != 1 || res.TimeSeries[0].AnomalyCount != 0 {
		t.Fatalf("only the dated record belongs in the series: %+v", res.TimeSeries)
	}
	if sumValues(res.HourOfDay) != 10 || sumValues(res.DayOfWeek) != 10 {
		t.Fatalf("distributions must only hold dated volume")
	}

	if len(res.TopCounterparties) != 2 {
		t.Fatalf("expected both senders ranked, got %+v", res.TopCounterparties)
	}
	if res.TopCounterparties[0].Address != "0xB" || res.TopCounterparties[0].Volume != 40 {
		t.Fatalf("undated volume must still rank: %+v", res.TopCounterparties[0])
	}
	if res.TopCounterparties[1].Address != "0xA" || res.TopCounterparties[1].Volume != 17 || res.TopCounterparties[1].Count != 2 {
		t.Fatalf("unexpected second counterparty: %+v", res.TopCounterparties[1])
	}

	if len(res.Anomalies) != 2 {
		t.Fatalf("every flagged record yields an anomaly, got %d", len(res.Anomalies))
	}
	if res.Anomalies[0].Timestamp != nil || res.Anomalies[0].Score != 0.5 || res.Anomalies[0].Amount != 40 {
		t.Fatalf("unexpected first anomaly: %+v", res.Anomalies[0])
	}
	if res.Anomalies[1].Score != 0.2 || res.Anomalies[1].Amount != 7 {
		t.Fatalf("anomalies must keep insertion order: %+v", res.Anomalies[1])
	}
}

func TestAggregateKeepsMostRecent24Hours(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var input []core.Transaction
	// Insert newest first to make sure ordering does not depend on input order.
	for h := 29; h >= 0; h-- {
		ts := base.Add(time.Duration(h) * time.Hour).Add(15 * time.Minute)
		input = append(input, tx(fmt.Sprintf("h%d", h), ts.Format(time.RFC3339), float64(h+1), "0xA"))
	}
	res := AggregateIn(input, time.UTC)

	if len(res.TimeSeries) != SeriesLength {
		t.Fatalf("expected %d buckets, got %d", SeriesLength, len(res.TimeSeries))
	}
	first := res.TimeSeries[0]
	if !first.Start.Equal(base.Add(6 * time.Hour)) {
		t.Fatalf("expected oldest retained bucket at +6h, got %v", first.Start)
	}
	for i := 1; i < len(res.TimeSeries); i++ {
		if !res.TimeSeries[i-1].Start.Before(res.TimeSeries[i].Start) {
			t.Fatalf("series not ascending at %d", i)
		}
	}

	var seriesVolume float64
	for _, b := range res.TimeSeries {
		seriesVolume += b.Volume
	}
	// Retained hours 6..29 carry amounts 7..30.
	if seriesVolume != 444 {
		t.Fatalf("series volume = %v, want 444", seriesVolume)
	}
	// Distributions cover all 30 records: 1..30.
	if sumValues(res.HourOfDay) != 465 || sumValues(res.DayOfWeek) != 465 {
		t.Fatalf("distributions must cover the whole input")
	}
}

func TestAggregateTopCounterpartiesRankingAndColours(t *testing.T) {
	input := []core.Transaction{
		tx("1", "2024-01-01T00:00:00Z", 10, "0xC"),
		tx("2", "2024-01-01T00:00:00Z", 50, "0xA"),
		tx("3", "2024-01-01T00:00:00Z", 30, "0xB"),
		tx("4", "2024-01-01T00:00:00Z", 30, "0xAA"),
		tx("5", "2024-01-01T00:00:00Z", 5, "0xD"),
		tx("6", "2024-01-01T00:00:00Z", 1, "0xE"),
		tx("7", "2024-01-01T00:00:00Z", 70, ""),
		tx("8", "2024-01-01T00:00:00Z", 20, "0xC"),
	}
	res := AggregateIn(input, time.UTC)

	want := []Counterparty{
		{Address: "", Volume: 70, Count: 1, Fill: Palette[0]},
		{Address: "0xA", Volume: 50, Count: 1, Fill: Palette[1]},
		{Address: "0xAA", Volume: 30, Count: 1, Fill: Palette[2]},
		{Address: "0xB", Volume: 30, Count: 1, Fill: Palette[3]},
		{Address: "0xC", Volume: 30, Count: 2, Fill: Palette[4]},
	}
	if !reflect.DeepEqual(res.TopCounterparties, want) {
		t.Fatalf("unexpected ranking:\n got %+v\nwant %+v", res.TopCounterparties, want)
	}
}

func TestAggregateHourOfDayUsesLocation(t *testing.T) {
	input := []core.Transaction{tx("a", "2024-01-06T23:30:00Z", 10, "0xA")}

	utc := AggregateIn(input, time.UTC)
	if utc.HourOfDay[23].Value != 10 || utc.DayOfWeek[6].Value != 10 {
		t.Fatalf("expected Sat 23:00 in UTC")
	}

	plus2 := time.FixedZone("UTC+2", 2*3600)
	shifted := AggregateIn(input, plus2)
	if shifted.HourOfDay[1].Value != 10 || shifted.DayOfWeek[0].Value != 10 {
		t.Fatalf("expected Sun 1:00 in UTC+2")
	}
	if shifted.TimeSeries[0].Hour != "2024-01-07 01:00" {
		t.Fatalf("unexpected local hour label %q", shifted.TimeSeries[0].Hour)
	}
}

func TestAggregateIsPureAndIdempotent(t *testing.T) {
	input := []core.Transaction{
		tx("a", "2024-01-01T10:00:00Z", 100, "0xA"),
		{Hash: "b", Timestamp: "2024-01-02T11:00:00Z", Amount: core.Float64(3), FromAddress: "0xB", IsAnomaly: core.Bool(true)},
		{Hash: "c", FromAddress: "0xC"},
	}
	snapshot := make([]core.Transaction, len(input))
	copy(snapshot, input)

	first := AggregateIn(input, time.UTC)
	second := AggregateIn(input, time.UTC)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("aggregation is not idempotent")
	}
	if !reflect.DeepEqual(input, snapshot) {
		t.Fatalf("input was mutated")
	}
}
