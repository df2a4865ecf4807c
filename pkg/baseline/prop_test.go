package baseline

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// learnAll folds a sequence of observations into a fresh range.
func learnAll(values []float64) MetricRange {
	var r MetricRange
	r.init(values[0])
	for i, v := range values[1:] {
		r.observe(v, uint64(i+2))
	}
	return r
}

func TestMetricRange_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	nonEmptySamples := gen.SliceOf(gen.Float64Range(0, 1e6)).SuchThat(func(vs []float64) bool {
		return len(vs) > 0
	})

	properties.Property("min and max bound every observation", prop.ForAll(
		func(values []float64) bool {
			r := learnAll(values)
			for _, v := range values {
				if v < r.Min || v > r.Max {
					return false
				}
			}
			// small slack for float rounding in the running mean
			const eps = 1e-6
			return r.Min-eps <= r.Mean && r.Mean <= r.Max+eps
		},
		nonEmptySamples,
	))

	properties.Property("mean matches the arithmetic average", prop.ForAll(
		func(values []float64) bool {
			r := learnAll(values)
			sum := 0.0
			for _, v := range values {
				sum += v
			}
			want := sum / float64(len(values))
			return math.Abs(r.Mean-want) <= 1e-6*math.Max(1, math.Abs(want))
		},
		nonEmptySamples,
	))

	properties.Property("min/max are order-insensitive", prop.ForAll(
		func(values []float64) bool {
			r := learnAll(values)
			reversed := make([]float64, len(values))
			for i, v := range values {
				reversed[len(values)-1-i] = v
			}
			rr := learnAll(reversed)
			return r.Min == rr.Min && r.Max == rr.Max
		},
		nonEmptySamples,
	))

	properties.TestingRun(t)
}
