package science

import (
	"context"
	"math"
	"sort"

	"metatool/internal/errs"
)

// StatsBackend is the built-in backend: basic descriptive statistics
// over a numeric series. Heavier computations belong in an external
// backend wired at startup.
type StatsBackend struct{}

// Jobs implements ComputeBackend.
func (StatsBackend) Jobs() []string { return []string{"describe", "histogram"} }

// Run implements ComputeBackend.
func (b StatsBackend) Run(_ context.Context, job string, params map[string]any) (map[string]any, error) {
	values, err := numericSeries(params)
	if err != nil {
		return nil, err
	}
	switch job {
	case "describe":
		return describe(values), nil
	case "histogram":
		return histogram(values, bucketCount(params)), nil
	default:
		return nil, errs.NotFound("unknown job: %s", job)
	}
}

func numericSeries(params map[string]any) ([]float64, error) {
	raw, ok := params["values"]
	if !ok {
		return nil, errs.InvalidInput("missing required parameter: values")
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, errs.InvalidInput("parameter values must be a numeric array")
	}
	if len(list) == 0 {
		return nil, errs.InvalidInput("parameter values must not be empty")
	}
	out := make([]float64, 0, len(list))
	for _, item := range list {
		n, ok := item.(float64)
		if !ok {
			return nil, errs.InvalidInput("parameter values must be a numeric array")
		}
		out = append(out, n)
	}
	return out, nil
}

func bucketCount(params map[string]any) int {
	if n, ok := params["buckets"].(float64); ok && n >= 1 {
		return int(n)
	}
	return 10
}

func describe(values []float64) map[string]any {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	var sq float64
	for _, v := range sorted {
		d := v - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(sorted)))

	return map[string]any{
		"count":  len(sorted),
		"min":    sorted[0],
		"max":    sorted[len(sorted)-1],
		"mean":   mean,
		"median": median(sorted),
		"stddev": stddev,
	}
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func histogram(values []float64, buckets int) map[string]any {
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	counts := make([]int, buckets)
	width := (max - min) / float64(buckets)
	if width == 0 {
		counts[0] = len(values)
	} else {
		for _, v := range values {
			i := int((v - min) / width)
			if i >= buckets {
				i = buckets - 1
			}
			counts[i] = counts[i] + 1
		}
	}
	return map[string]any{
		"min": min, "max": max, "buckets": buckets, "counts": counts,
	}
}
