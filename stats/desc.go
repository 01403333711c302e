// Package stats builds the cohort-stratified summary tables and the
// cross-site aggregation. Everything it emits is aggregate-only: counts
// below the suppression threshold render as "<5" and no output carries
// a patient or hospitalization identifier.
package stats

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// suppressBelow is the small-cell threshold: any shareable count under
// it is reported as "<5".
const suppressBelow = 5

const suppressed = "<5"

// Desc holds the descriptive summary of one continuous variable within
// one cohort group.
type Desc struct {
	N       int
	Missing int
	Mean    float64
	SD      float64
	Median  float64
	Q1      float64
	Q3      float64
}

// Describe computes the summary over the non-missing values.
func Describe(xs []float64) Desc {
	d := Desc{N: len(xs)}
	if d.N == 0 {
		return d
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	d.Mean = stat.Mean(s, nil)
	if d.N > 1 {
		d.SD = stat.StdDev(s, nil)
	}
	d.Median = stat.Quantile(0.5, stat.Empirical, s, nil)
	d.Q1 = stat.Quantile(0.25, stat.Empirical, s, nil)
	d.Q3 = stat.Quantile(0.75, stat.Empirical, s, nil)
	return d
}

// MeanSD renders "mean ± SD", suppressed when too few observations.
func (d Desc) MeanSD() string {
	if d.N < suppressBelow {
		return suppressed
	}
	return fmt.Sprintf("%.1f ± %.1f", d.Mean, d.SD)
}

// MedianIQR renders "median [Q1, Q3]", suppressed when too few
// observations.
func (d Desc) MedianIQR() string {
	if d.N < suppressBelow {
		return suppressed
	}
	return fmt.Sprintf("%.1f [%.1f, %.1f]", d.Median, d.Q1, d.Q3)
}

// FormatCount renders a plain count with small-cell suppression.
// Zero is suppressed too: reporting an exact zero discloses as much as
// a small positive count.
func FormatCount(n int) string {
	if n < suppressBelow {
		return suppressed
	}
	return fmt.Sprintf("%d", n)
}

// FormatCountPct renders "count (pct%)" with small-cell suppression.
// A suppressed cell drops the percentage as well: with the group N
// published alongside, the percentage would recover the exact count.
func FormatCountPct(count, total int) string {
	if count < suppressBelow {
		return suppressed
	}
	return fmt.Sprintf("%d (%.1f%%)", count, 100*float64(count)/float64(total))
}

// skewness is the sample skewness used by the test-selection heuristic.
func skewness(xs []float64) float64 {
	if len(xs) < 3 {
		return 0
	}
	return stat.Skew(xs, nil)
}
