package airquality

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/i474232898/air-quality-proxy/internal/common"
)

// Fallback key lists, tried in order.
var (
	wrapperKeys   = []string{"stations", "station", "data", "result"}
	idKeys        = []string{"id", "station_id", "stationId", "code"}
	nameKeys      = []string{"name", "station_name", "label"}
	addressKeys   = []string{"address", "location", "addr"}
	metricKeys    = []string{"name", "metric", "pollutant", "parameter"}
	pointsKeys    = []string{"data_points", "days"}
	containerKeys = []string{"pollutants", "measurements", "series", "metrics"}

	dateKeys    = []string{"date", "day", "ts", "timestamp"}
	averageKeys = []string{"average", "avg", "mean"}
	minKeys     = []string{"min", "min_value", "minimum"}
	maxKeys     = []string{"max", "max_value", "maximum"}
	sampleKeys  = []string{"sample_size", "samples", "count"}
)

var dateLayouts = []string{
	dateLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

const compactDateLayout = "20060102"

const maxUnwrapDepth = 2

// seriesMatcher recognizes one way an upstream station object can carry its
// metric series. It returns the raw day lists keyed by metric name.
type seriesMatcher struct {
	name  string
	match func(obj map[string]any) (map[string][]any, bool)
}

// seriesMatchers are tried in order; the first match wins.
var seriesMatchers = []seriesMatcher{
	{name: "metrics-array", match: matchMetricsArray},
	{name: "container", match: matchContainer},
	{name: "property-scan", match: matchPropertyScan},
}

// NormalizeStations converts an upstream station list payload into summaries.
// An empty upstream list is valid and yields an empty, non-nil slice.
func NormalizeStations(raw []byte) ([]StationSummary, error) {
	v, err := decode(raw)
	if err != nil {
		return nil, err
	}

	var items []any
	switch t := unwrap(v).(type) {
	case []any:
		items = t
	case map[string]any:
		if !common.HasAny(t, idKeys...) {
			return nil, fmt.Errorf("%w: object is neither a station nor a station list", ErrMalformedPayload)
		}
		items = []any{t}
	default:
		return nil, fmt.Errorf("%w: unexpected top-level %T", ErrMalformedPayload, t)
	}

	out := make([]StationSummary, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			log.Warn().Int("index", i).Msg("normalize: skipping non-object station entry")
			continue
		}
		id := lookupString(obj, idKeys...)
		if id == "" {
			log.Warn().Int("index", i).Msg("normalize: skipping station without id")
			continue
		}
		out = append(out, StationSummary{
			ID:      id,
			Name:    lookupString(obj, nameKeys...),
			Address: lookupString(obj, addressKeys...),
		})
	}

	if len(items) > 0 && len(out) == 0 {
		return nil, fmt.Errorf("%w: no station entry carries an id", ErrMalformedPayload)
	}
	return out, nil
}

// NormalizeStation converts an upstream station detail payload into a Station.
// Payloads shaped as a list are searched for id. The weighted averages are
// left empty for the caller to compute.
func NormalizeStation(raw []byte, id string) (Station, error) {
	v, err := decode(raw)
	if err != nil {
		return Station{}, err
	}

	var obj map[string]any
	switch t := unwrap(v).(type) {
	case map[string]any:
		obj = t
	case []any:
		obj, err = findStation(t, id)
		if err != nil {
			return Station{}, err
		}
	default:
		return Station{}, fmt.Errorf("%w: unexpected top-level %T", ErrMalformedPayload, t)
	}

	rawSeries, matcher, ok := matchSeries(obj)
	if !ok {
		return Station{}, fmt.Errorf("%w: no metric series found", ErrMalformedPayload)
	}

	st := Station{
		ID:                lookupString(obj, idKeys...),
		Name:              lookupString(obj, nameKeys...),
		Address:           lookupString(obj, addressKeys...),
		Metrics:           make(map[string]MetricSeries, len(rawSeries)),
		WeightedAverage7d: WeightedAverageResult{},
	}
	if st.ID == "" {
		st.ID = id
	}

	for name, days := range rawSeries {
		st.Metrics[name] = normalizeSeries(st.ID, name, days)
	}

	log.Debug().
		Str("station_id", st.ID).
		Str("matcher", matcher).
		Int("metrics", len(st.Metrics)).
		Msg("normalize: station matched")

	return st, nil
}

func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrMalformedPayload)
	}
	return v, nil
}

// unwrap descends through wrapper objects such as {"data": [...]}. Objects
// that carry station identity are never unwrapped, nor are wrappers holding
// day-shaped arrays since those are metric series.
func unwrap(v any) any {
	for range maxUnwrapDepth {
		obj, ok := v.(map[string]any)
		if !ok || common.HasAny(obj, idKeys...) || common.HasAny(obj, nameKeys...) {
			return v
		}
		inner, _, found := common.Lookup(obj, wrapperKeys...)
		if !found {
			return v
		}
		switch t := inner.(type) {
		case map[string]any:
			v = t
		case []any:
			if isDayList(t) {
				return v
			}
			v = t
		default:
			return v
		}
	}
	return v
}

func findStation(items []any, id string) (map[string]any, error) {
	identified := 0
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		itemID := lookupString(obj, idKeys...)
		if itemID == "" {
			continue
		}
		identified++
		if itemID == id {
			return obj, nil
		}
	}
	if identified == 0 && len(items) > 0 {
		return nil, fmt.Errorf("%w: list entries carry no station id", ErrMalformedPayload)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func matchSeries(obj map[string]any) (map[string][]any, string, bool) {
	for _, m := range seriesMatchers {
		if series, ok := m.match(obj); ok {
			return series, m.name, true
		}
	}
	return nil, "", false
}

func matchMetricsArray(obj map[string]any) (map[string][]any, bool) {
	list, ok := obj["metrics"].([]any)
	if !ok {
		return nil, false
	}
	return listSeries("metrics", list)
}

func matchContainer(obj map[string]any) (map[string][]any, bool) {
	for _, key := range containerKeys {
		switch t := obj[key].(type) {
		case []any:
			if series, ok := listSeries(key, t); ok {
				return series, true
			}
		case map[string]any:
			if series, ok := keyedSeries(t); ok {
				return series, true
			}
		}
	}
	return nil, false
}

func matchPropertyScan(obj map[string]any) (map[string][]any, bool) {
	out := make(map[string][]any)
	for key, v := range obj {
		switch t := v.(type) {
		case []any:
			if isDayList(t) {
				out[key] = t
			}
		case map[string]any:
			if days, ok := common.LookupList(t, pointsKeys...); ok {
				out[key] = days
			}
		}
	}
	return out, len(out) > 0
}

// listSeries reads an array found under key. A bare day list is a single
// series named after key; otherwise the entries must be named series objects.
func listSeries(key string, list []any) (map[string][]any, bool) {
	if len(list) == 0 {
		return map[string][]any{}, true
	}
	if isDayList(list) {
		return map[string][]any{key: list}, true
	}
	series := namedSeries(list)
	return series, len(series) > 0
}

// namedSeries reads a list of {name, data_points|days} objects. Entries
// carrying neither a name nor a day list are skipped.
func namedSeries(list []any) map[string][]any {
	out := make(map[string][]any, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		days, hasDays := common.LookupList(m, pointsKeys...)
		name := lookupString(m, metricKeys...)
		if name == "" {
			if !hasDays {
				continue
			}
			name = "unknown"
		}
		if _, dup := out[name]; dup {
			log.Warn().Str("metric", name).Msg("normalize: metric listed twice; keeping the later entry")
		}
		out[name] = days
	}
	return out
}

// keyedSeries reads an object mapping metric name to a day list or to an
// object nesting one.
func keyedSeries(obj map[string]any) (map[string][]any, bool) {
	out := make(map[string][]any, len(obj))
	for name, v := range obj {
		switch t := v.(type) {
		case []any:
			out[name] = t
		case map[string]any:
			if days, ok := common.LookupList(t, pointsKeys...); ok {
				out[name] = days
			}
		}
	}
	return out, len(out) > 0 || len(obj) == 0
}

func isDayList(list []any) bool {
	if len(list) == 0 {
		return false
	}
	first, ok := list[0].(map[string]any)
	if !ok {
		return false
	}
	return common.HasAny(first, averageKeys...) ||
		common.HasAny(first, minKeys...) ||
		common.HasAny(first, maxKeys...)
}

// normalizeSeries maps raw day objects to a date-sorted series. A repeated
// date replaces the earlier entry.
func normalizeSeries(stationID, metric string, days []any) MetricSeries {
	byDate := make(map[Date]int, len(days))
	series := make(MetricSeries, 0, len(days))

	for i, item := range days {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		v, _, _ := common.Lookup(m, dateKeys...)
		date, ok := parseDate(v)
		if !ok {
			log.Warn().
				Str("station_id", stationID).
				Str("metric", metric).
				Int("index", i).
				Msg("normalize: dropping day without a usable date")
			continue
		}

		agg := DailyAggregate{
			Date:       date,
			Min:        lookupFloat(m, minKeys...),
			Average:    lookupFloat(m, averageKeys...),
			Max:        lookupFloat(m, maxKeys...),
			SampleSize: lookupCount(m, sampleKeys...),
		}

		if idx, dup := byDate[date]; dup {
			log.Warn().
				Str("station_id", stationID).
				Str("metric", metric).
				Str("date", date.String()).
				Msg("normalize: duplicate date; keeping the later entry")
			series[idx] = agg
			continue
		}
		byDate[date] = len(series)
		series = append(series, agg)
	}

	slices.SortFunc(series, func(a, b DailyAggregate) int {
		return cmp.Compare(a.Date.Unix(), b.Date.Unix())
	})
	return series
}

func parseDate(v any) (Date, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return NewDate(ts), true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return dateFromNumber(n), true
		}
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return dateFromNumber(n), true
		}
		if f, err := t.Float64(); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return dateFromEpoch(int64(f)), true
		}
	}
	return Date{}, false
}

// dateFromNumber reads eight-digit values as YYYYMMDD and anything else as
// a unix timestamp.
func dateFromNumber(n int64) Date {
	if n >= 1e7 && n < 1e8 {
		if ts, err := time.Parse(compactDateLayout, strconv.FormatInt(n, 10)); err == nil {
			return NewDate(ts)
		}
	}
	return dateFromEpoch(n)
}

// dateFromEpoch accepts unix seconds or milliseconds.
func dateFromEpoch(n int64) Date {
	if n > 1e12 || n < -1e12 {
		return NewDate(time.UnixMilli(n))
	}
	return NewDate(time.Unix(n, 0))
}

func lookupString(m map[string]any, keys ...string) string {
	v, _, ok := common.Lookup(m, keys...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func lookupFloat(m map[string]any, keys ...string) *float64 {
	v, _, ok := common.Lookup(m, keys...)
	if !ok {
		return nil
	}
	var (
		f   float64
		err error
	)
	switch t := v.(type) {
	case json.Number:
		f, err = t.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return nil
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func lookupCount(m map[string]any, keys ...string) *int {
	f := lookupFloat(m, keys...)
	if f == nil || *f < 0 || *f > math.MaxInt32 {
		return nil
	}
	n := int(math.Round(*f))
	return &n
}
