package airquality

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day in UTC with no time component.
type Date struct {
	time.Time
}

// NewDate truncates t to its UTC calendar day.
func NewDate(t time.Time) Date {
	t = t.UTC()
	return Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// String returns the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// DailyAggregate is one calendar day's statistics for one metric.
// Nil fields mean the upstream did not provide a usable value.
type DailyAggregate struct {
	Date       Date     `json:"date"`
	Min        *float64 `json:"min"`
	Average    *float64 `json:"average"`
	Max        *float64 `json:"max"`
	SampleSize *int     `json:"sample_size"`
}

// MetricSeries is ordered by date ascending with no duplicate dates.
type MetricSeries []DailyAggregate

// WeightedAverageResult maps a metric name to its 7-day weighted average.
// A nil value means no day in the window carried usable data.
type WeightedAverageResult map[string]*float64

// Station is the canonical detail view of a monitoring station.
type Station struct {
	ID                string                  `json:"id"`
	Name              string                  `json:"name"`
	Address           string                  `json:"address,omitempty"`
	Metrics           map[string]MetricSeries `json:"metrics"`
	WeightedAverage7d WeightedAverageResult   `json:"weighted_average_7d"`
}

// Clone returns a deep copy so cached values cannot be mutated through it.
func (s Station) Clone() Station {
	out := s
	out.Metrics = make(map[string]MetricSeries, len(s.Metrics))
	for name, series := range s.Metrics {
		days := make(MetricSeries, len(series))
		for i, d := range series {
			days[i] = DailyAggregate{
				Date:       d.Date,
				Min:        clonePtr(d.Min),
				Average:    clonePtr(d.Average),
				Max:        clonePtr(d.Max),
				SampleSize: clonePtr(d.SampleSize),
			}
		}
		out.Metrics[name] = days
	}
	out.WeightedAverage7d = make(WeightedAverageResult, len(s.WeightedAverage7d))
	for name, v := range s.WeightedAverage7d {
		out.WeightedAverage7d[name] = clonePtr(v)
	}
	return out
}

// MetricNames returns the metric names in sorted order.
func (s Station) MetricNames() []string {
	return slices.Sorted(maps.Keys(s.Metrics))
}

// StationSummary is one element of the station list.
type StationSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// CloneSummaries copies a station list.
func CloneSummaries(in []StationSummary) []StationSummary {
	if in == nil {
		return nil
	}
	return slices.Clone(in)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
