package airquality

import (
	"errors"
	"testing"
)

func assertSortedUnique(t *testing.T, st Station) {
	t.Helper()
	for name, series := range st.Metrics {
		for i := 1; i < len(series); i++ {
			if !series[i-1].Date.Before(series[i].Date.Time) {
				t.Errorf("metric %s: dates not strictly ascending at %d: %s then %s",
					name, i, series[i-1].Date, series[i].Date)
			}
		}
	}
}

func TestNormalizeStationShapes(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantID      string
		wantName    string
		wantMetrics map[string]int
	}{
		{
			name: "explicit metrics array with data_points",
			payload: `{
				"id": "42", "name": "Montecatini", "address": "Via Roma 1, Montecatini",
				"metrics": [
					{"name": "pm10", "data_points": [
						{"date": "2024-03-02", "min": 5, "average": 20, "max": 30, "sample_size": 8},
						{"date": "2024-03-01", "min": 1, "average": 10, "max": 15, "sample_size": 2}
					]},
					{"metric": "no2", "days": [
						{"day": "2024-03-01", "avg": 3, "samples": 4}
					]}
				]
			}`,
			wantID:      "42",
			wantName:    "Montecatini",
			wantMetrics: map[string]int{"pm10": 2, "no2": 1},
		},
		{
			name: "top-level keys holding day arrays",
			payload: `{
				"station_id": 7, "station_name": "Lucca",
				"pm25": [{"ts": 1709251200, "mean": 12.5, "count": 24}],
				"o3": [{"timestamp": "2024-03-01T10:00:00Z", "maximum": 80}]
			}`,
			wantID:      "7",
			wantName:    "Lucca",
			wantMetrics: map[string]int{"pm25": 1, "o3": 1},
		},
		{
			name: "one level of nesting under data_points",
			payload: `{
				"id": "9",
				"pm10": {"unit": "ug/m3", "data_points": [{"date": "2024-03-01", "average": 1, "sample_size": 1}]},
				"meta": {"source": "sensor"}
			}`,
			wantID:      "9",
			wantMetrics: map[string]int{"pm10": 1},
		},
		{
			name: "alternate container keyed by metric",
			payload: `{
				"id": "11",
				"pollutants": {
					"pm10": [{"date": "2024-03-01", "average": 2, "sample_size": 1}],
					"so2": {"days": [{"date": "2024-03-01", "min_value": 0.1, "max_value": 0.4}]}
				}
			}`,
			wantID:      "11",
			wantMetrics: map[string]int{"pm10": 1, "so2": 1},
		},
		{
			name: "station wrapped under data",
			payload: `{
				"data": {"id": "42", "name": "Pistoia", "metrics": [
					{"name": "pm10", "data_points": [{"date": "2024-03-01", "average": 4, "sample_size": 1}]}
				]}
			}`,
			wantID:      "42",
			wantName:    "Pistoia",
			wantMetrics: map[string]int{"pm10": 1},
		},
		{
			name: "list wrapped under result",
			payload: `{
				"result": [
					{"id": "1", "name": "Other", "metrics": []},
					{"id": "42", "name": "Prato", "metrics": [
						{"name": "co", "data_points": [{"date": "2024-03-01", "average": 0.3, "sample_size": 6}]}
					]}
				]
			}`,
			wantID:      "42",
			wantName:    "Prato",
			wantMetrics: map[string]int{"co": 1},
		},
		{
			name:        "station without id takes the requested id",
			payload:     `{"location": "Montecatini", "metrics": []}`,
			wantID:      "42",
			wantMetrics: map[string]int{},
		},
		{
			name: "container holding a bare day list",
			payload: `{
				"id": "42",
				"measurements": [
					{"date": "2024-03-01", "average": 3, "sample_size": 1},
					{"date": "2024-03-02", "average": 5, "sample_size": 2}
				]
			}`,
			wantID:      "42",
			wantMetrics: map[string]int{"measurements": 2},
		},
		{
			name: "metrics array of day objects",
			payload: `{
				"id": "42",
				"metrics": [{"date": "2024-03-01", "avg": 3, "count": 1}]
			}`,
			wantID:      "42",
			wantMetrics: map[string]int{"metrics": 1},
		},
		{
			name: "container without named series falls through",
			payload: `{
				"id": "42",
				"series": [{"unit": "ug/m3"}],
				"pm10": [{"date": "2024-03-01", "average": 1, "sample_size": 1}]
			}`,
			wantID:      "42",
			wantMetrics: map[string]int{"pm10": 1},
		},
		{
			name: "station-level data key holding days is a metric",
			payload: `{
				"data": [{"date": "2024-03-01", "average": 3, "sample_size": 1}]
			}`,
			wantID:      "42",
			wantMetrics: map[string]int{"data": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := NormalizeStation([]byte(tt.payload), "42")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if st.ID != tt.wantID {
				t.Errorf("expected id %q, got %q", tt.wantID, st.ID)
			}
			if st.Name != tt.wantName {
				t.Errorf("expected name %q, got %q", tt.wantName, st.Name)
			}
			if len(st.Metrics) != len(tt.wantMetrics) {
				t.Fatalf("expected %d metrics, got %d (%v)", len(tt.wantMetrics), len(st.Metrics), st.MetricNames())
			}
			for name, n := range tt.wantMetrics {
				if got := len(st.Metrics[name]); got != n {
					t.Errorf("metric %s: expected %d days, got %d", name, n, got)
				}
			}
			if st.WeightedAverage7d == nil {
				t.Error("expected non-nil weighted average map")
			}
			assertSortedUnique(t, st)
		})
	}
}

func TestNormalizeStationFieldMapping(t *testing.T) {
	payload := `{"id": "42", "metrics": [{"name": "pm10", "data_points": [
		{"date": "2024-03-03", "average": "7.5", "min": null, "maximum": 9, "sample_size": "3"},
		{"date": "2024-03-01", "average": 10, "sample_size": 2},
		{"date": "2024-03-03", "average": 8, "sample_size": 5},
		{"average": 1, "sample_size": 1}
	]}]}`

	st, err := NormalizeStation([]byte(payload), "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	series := st.Metrics["pm10"]
	if len(series) != 2 {
		t.Fatalf("expected 2 days after dedupe and drop, got %d", len(series))
	}
	if series[0].Date.String() != "2024-03-01" || series[1].Date.String() != "2024-03-03" {
		t.Fatalf("unexpected order: %s, %s", series[0].Date, series[1].Date)
	}

	last := series[1]
	if last.Average == nil || *last.Average != 8 {
		t.Errorf("expected later duplicate to win with average 8, got %v", last.Average)
	}
	if last.SampleSize == nil || *last.SampleSize != 5 {
		t.Errorf("expected sample size 5, got %v", last.SampleSize)
	}
	if last.Min != nil || last.Max != nil {
		t.Errorf("expected min/max nil on replacing entry, got %v/%v", last.Min, last.Max)
	}
}

func TestNormalizeStationEpochDates(t *testing.T) {
	payload := `{"id": "1", "metrics": [{"name": "pm10", "data_points": [
		{"ts": 1709337600000, "average": 1, "sample_size": 1},
		{"ts": "1709251200", "average": 1, "sample_size": 1}
	]}]}`

	st, err := NormalizeStation([]byte(payload), "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	series := st.Metrics["pm10"]
	if len(series) != 2 {
		t.Fatalf("expected 2 days, got %d", len(series))
	}
	if series[0].Date.String() != "2024-03-01" || series[1].Date.String() != "2024-03-02" {
		t.Errorf("unexpected dates %s, %s", series[0].Date, series[1].Date)
	}
}

func TestNormalizeStationCompactDates(t *testing.T) {
	payload := `{"id": "1", "metrics": [{"name": "pm10", "data_points": [
		{"date": 20240302, "average": 1, "sample_size": 1},
		{"date": "20240301", "average": 1, "sample_size": 1}
	]}]}`

	st, err := NormalizeStation([]byte(payload), "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	series := st.Metrics["pm10"]
	if len(series) != 2 {
		t.Fatalf("expected 2 days, got %d", len(series))
	}
	if series[0].Date.String() != "2024-03-01" || series[1].Date.String() != "2024-03-02" {
		t.Errorf("unexpected dates %s, %s", series[0].Date, series[1].Date)
	}
}

func TestNormalizeStationErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{name: "status only object", payload: `{"status":"ok"}`, wantErr: ErrMalformedPayload},
		{name: "invalid json", payload: `{"id":`, wantErr: ErrMalformedPayload},
		{name: "trailing garbage", payload: `{"id":"42","metrics":[]} extra`, wantErr: ErrMalformedPayload},
		{name: "scalar payload", payload: `"hello"`, wantErr: ErrMalformedPayload},
		{name: "station without series", payload: `{"id":"42","name":"x"}`, wantErr: ErrMalformedPayload},
		{name: "list without the station", payload: `[{"id":"1","metrics":[]}]`, wantErr: ErrNotFound},
		{name: "empty list", payload: `{"stations": []}`, wantErr: ErrNotFound},
		{name: "list of anonymous objects", payload: `[{"foo":1}]`, wantErr: ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeStation([]byte(tt.payload), "42")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNormalizeStations(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantIDs []string
		wantErr error
	}{
		{
			name:    "bare list",
			payload: `[{"id":"1","name":"A","address":"Via Roma 1"},{"id":2,"name":"B"}]`,
			wantIDs: []string{"1", "2"},
		},
		{
			name:    "wrapped under stations",
			payload: `{"stations":[{"station_id":"x","station_name":"X"}]}`,
			wantIDs: []string{"x"},
		},
		{
			name:    "wrapped twice",
			payload: `{"result":{"data":[{"id":"a"}]}}`,
			wantIDs: []string{"a"},
		},
		{
			name:    "single station object",
			payload: `{"id":"solo","name":"Solo"}`,
			wantIDs: []string{"solo"},
		},
		{
			name:    "entries without id are skipped",
			payload: `[{"name":"nameless"},{"id":"k"},7]`,
			wantIDs: []string{"k"},
		},
		{
			name:    "empty list is valid",
			payload: `{"data":[]}`,
			wantIDs: []string{},
		},
		{
			name:    "status object",
			payload: `{"status":"ok"}`,
			wantErr: ErrMalformedPayload,
		},
		{
			name:    "list with no usable station",
			payload: `[{"name":"a"},{"name":"b"}]`,
			wantErr: ErrMalformedPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeStations([]byte(tt.payload))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got == nil {
				t.Fatal("expected non-nil slice")
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("expected %d stations, got %d", len(tt.wantIDs), len(got))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("station[%d]: expected id %q, got %q", i, id, got[i].ID)
				}
			}
		})
	}
}
