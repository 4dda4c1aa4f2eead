package airquality

import (
	"cmp"
	"slices"
)

// WindowDays is the number of most recent available days the weighted average covers.
const WindowDays = 7

// WeightedAverage returns the sample-size-weighted mean of the daily averages
// over the WindowDays most recent entries of series. The window counts
// entries, not calendar days: gaps in the series do not contribute.
// Entries without an average or with a nil/zero sample size still occupy a
// window slot but are excluded from the mean. Nil means no usable data.
func WeightedAverage(series MetricSeries) *float64 {
	if len(series) == 0 {
		return nil
	}

	recent := slices.Clone(series)
	slices.SortStableFunc(recent, func(a, b DailyAggregate) int {
		return cmp.Compare(b.Date.Unix(), a.Date.Unix())
	})
	if len(recent) > WindowDays {
		recent = recent[:WindowDays]
	}

	var (
		weightedSum  float64
		totalSamples float64
	)
	for _, d := range recent {
		if d.Average == nil || d.SampleSize == nil || *d.SampleSize <= 0 {
			continue
		}
		n := float64(*d.SampleSize)
		weightedSum += *d.Average * n
		totalSamples += n
	}

	if totalSamples == 0 {
		return nil
	}
	avg := weightedSum / totalSamples
	return &avg
}

// WeightedAverages computes WeightedAverage for every metric of a station.
func WeightedAverages(metrics map[string]MetricSeries) WeightedAverageResult {
	result := make(WeightedAverageResult, len(metrics))
	for name, series := range metrics {
		result[name] = WeightedAverage(series)
	}
	return result
}
