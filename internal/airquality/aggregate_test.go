package airquality

import (
	"testing"
	"time"
)

func day(d string, avg *float64, n *int) DailyAggregate {
	t, err := time.Parse(dateLayout, d)
	if err != nil {
		panic(err)
	}
	return DailyAggregate{Date: NewDate(t), Average: avg, SampleSize: n}
}

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

func TestWeightedAverage(t *testing.T) {
	tests := []struct {
		name   string
		series MetricSeries
		want   *float64
	}{
		{
			name: "two days weighted by sample size",
			series: MetricSeries{
				day("2024-03-01", f64(10), intp(2)),
				day("2024-03-02", f64(20), intp(8)),
			},
			want: f64(18),
		},
		{
			name:   "empty series",
			series: nil,
			want:   nil,
		},
		{
			name: "all averages null",
			series: MetricSeries{
				day("2024-03-01", nil, intp(5)),
				day("2024-03-02", nil, intp(3)),
			},
			want: nil,
		},
		{
			name: "zero and missing sample sizes are skipped",
			series: MetricSeries{
				day("2024-03-01", f64(100), intp(0)),
				day("2024-03-02", f64(100), nil),
				day("2024-03-03", f64(4), intp(1)),
			},
			want: f64(4),
		},
		{
			name: "only the seven most recent entries count",
			series: MetricSeries{
				day("2024-03-01", f64(1000), intp(100)),
				day("2024-03-02", f64(1000), intp(100)),
				day("2024-03-05", f64(10), intp(1)),
				day("2024-03-06", f64(10), intp(1)),
				day("2024-03-07", f64(10), intp(1)),
				day("2024-03-08", f64(10), intp(1)),
				day("2024-03-09", f64(10), intp(1)),
				day("2024-03-10", f64(10), intp(1)),
				day("2024-03-11", f64(10), intp(1)),
			},
			want: f64(10),
		},
		{
			name: "null entries still occupy window slots",
			series: MetricSeries{
				day("2024-03-01", f64(50), intp(1)),
				day("2024-03-02", nil, nil),
				day("2024-03-03", nil, nil),
				day("2024-03-04", nil, nil),
				day("2024-03-05", nil, nil),
				day("2024-03-06", nil, nil),
				day("2024-03-07", nil, nil),
				day("2024-03-08", nil, nil),
			},
			want: nil,
		},
		{
			name: "measured zero is not no data",
			series: MetricSeries{
				day("2024-03-01", f64(0), intp(4)),
			},
			want: f64(0),
		},
		{
			name: "unordered input is windowed by date",
			series: MetricSeries{
				day("2024-03-09", f64(2), intp(1)),
				day("2024-03-01", f64(1000), intp(1)),
				day("2024-03-08", f64(2), intp(1)),
				day("2024-03-07", f64(2), intp(1)),
				day("2024-03-06", f64(2), intp(1)),
				day("2024-03-05", f64(2), intp(1)),
				day("2024-03-04", f64(2), intp(1)),
				day("2024-03-03", f64(2), intp(1)),
			},
			want: f64(2),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WeightedAverage(tt.series)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("expected nil, got %v", *got)
				}
				return
			}
			if got == nil {
				t.Fatalf("expected %v, got nil", *tt.want)
			}
			if *got != *tt.want {
				t.Errorf("expected %v, got %v", *tt.want, *got)
			}
		})
	}
}

func TestWeightedAverages(t *testing.T) {
	metrics := map[string]MetricSeries{
		"pm10": {day("2024-03-01", f64(10), intp(2)), day("2024-03-02", f64(20), intp(8))},
		"no2":  {day("2024-03-01", nil, nil)},
		"o3":   {},
	}

	got := WeightedAverages(metrics)
	if len(got) != 3 {
		t.Fatalf("expected 3 metrics, got %d", len(got))
	}
	if got["pm10"] == nil || *got["pm10"] != 18 {
		t.Errorf("pm10: expected 18, got %v", got["pm10"])
	}
	if v, ok := got["no2"]; !ok || v != nil {
		t.Errorf("no2: expected present nil, got %v (present=%v)", v, ok)
	}
	if v, ok := got["o3"]; !ok || v != nil {
		t.Errorf("o3: expected present nil, got %v (present=%v)", v, ok)
	}
}
