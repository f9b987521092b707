package data

import (
	"math"
	"sort"
)

// Statistic names understood by the aggregator.
const (
	StatAvg   = "avg"
	StatMin   = "min"
	StatMax   = "max"
	StatSum   = "sum"
	StatCount = "count"
)

// DefaultAggregates is used when a field declares no aggregate list. It omits sum,
// which is meaningless for non-additive quantities such as temperature.
var DefaultAggregates = []string{StatAvg, StatMin, StatMax, StatCount}

var allAggregates = []string{StatAvg, StatMin, StatMax, StatSum, StatCount}

// detectSampleSize bounds how many points DetectNumericFields inspects.
const detectSampleSize = 10

// Stats maps a statistic name to its value.
type Stats map[string]float64

// Aggregates maps a field name to its statistics.
type Aggregates map[string]Stats

// Aggregate computes avg, min, max, sum and count for each field. Fields without
// any numeric value are omitted.
func Aggregate(points []Point, fields []string) Aggregates {
	out := make(Aggregates)
	for _, field := range fields {
		if stats := computeStats(fieldValues(points, field), allAggregates); len(stats) > 0 {
			out[field] = stats
		}
	}
	return out
}

// AggregateWithOptions computes, for every field in opts, the statistics that field
// asks for, falling back to defaults (and then DefaultAggregates). Fields not present
// in opts are not aggregated.
func AggregateWithOptions(points []Point, opts map[string]FieldOptions, defaults []string) Aggregates {
	if len(defaults) == 0 {
		defaults = DefaultAggregates
	}
	out := make(Aggregates)
	for field, o := range opts {
		wanted := o.Aggregates
		if len(wanted) == 0 {
			wanted = defaults
		}
		if stats := computeStats(fieldValues(points, field), wanted); len(stats) > 0 {
			out[field] = stats
		}
	}
	return out
}

// DetectNumericFields samples the first points and returns, sorted, the fields whose
// every non-null sampled value is a number or a numeric string.
func DetectNumericFields(points []Point) []string {
	sample := points
	if len(sample) > detectSampleSize {
		sample = sample[:detectSampleSize]
	}

	numeric := make(map[string]bool)
	for _, p := range sample {
		p.Fields.Range(func(key string, v Value) bool {
			if key == TimestampField || v.IsNull() {
				return true
			}
			_, ok := v.Float()
			if seen, exists := numeric[key]; exists {
				numeric[key] = seen && ok
			} else {
				numeric[key] = ok
			}
			return true
		})
	}

	out := make([]string, 0, len(numeric))
	for key, ok := range numeric {
		if ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func fieldValues(points []Point, field string) []float64 {
	var values []float64
	for _, p := range points {
		v, ok := p.Get(field)
		if !ok || v.IsNull() {
			continue
		}
		if f, ok := v.Float(); ok {
			values = append(values, f)
		}
	}
	return values
}

func computeStats(values []float64, wanted []string) Stats {
	if len(values) == 0 {
		return nil
	}
	sum, lo, hi := 0.0, values[0], values[0]
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	stats := make(Stats)
	for _, name := range wanted {
		switch name {
		case StatAvg:
			stats[name] = round6(sum / float64(len(values)))
		case StatMin:
			stats[name] = round6(lo)
		case StatMax:
			stats[name] = round6(hi)
		case StatSum:
			stats[name] = round6(sum)
		case StatCount:
			stats[name] = float64(len(values))
		}
	}
	return stats
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
