package stats

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Between-cohort hypothesis tests. All take the per-cohort observation
// slices (missing values already dropped) and return a p-value, or an
// error when the test is undefined for the data at hand.

// skewThreshold selects between ANOVA and Kruskal-Wallis: pooled
// |skewness| above it means the normality assumption is too implausible
// for ANOVA.
const skewThreshold = 2.0

// TestResult is one between-cohort comparison.
type TestResult struct {
	Test   string  `json:"test"`
	PValue float64 `json:"p_value"`
}

// Format renders the p-value the way the site exports carry it.
func (t TestResult) Format() string {
	if t.PValue < 0.001 {
		return "<0.001"
	}
	return fmt.Sprintf("%.3f", t.PValue)
}

// CompareContinuous picks ANOVA or Kruskal-Wallis by the skewness
// heuristic and runs it across the groups.
func CompareContinuous(groups [][]float64) (TestResult, error) {
	var pooled []float64
	for _, g := range groups {
		pooled = append(pooled, g...)
	}
	if math.Abs(skewness(pooled)) > skewThreshold {
		p, err := KruskalWallis(groups)
		return TestResult{Test: "kruskal_wallis", PValue: p}, err
	}
	p, err := ANOVA(groups)
	return TestResult{Test: "anova", PValue: p}, err
}

// ANOVA runs the one-way F test across the groups.
func ANOVA(groups [][]float64) (float64, error) {
	k := 0
	n := 0
	var grand float64
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		k++
		n += len(g)
		for _, x := range g {
			grand += x
		}
	}
	if k < 2 || n <= k {
		return 0, fmt.Errorf("anova: need at least two non-empty groups, got %d groups %d obs", k, n)
	}
	grand /= float64(n)

	var ssBetween, ssWithin float64
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		m := stat.Mean(g, nil)
		ssBetween += float64(len(g)) * (m - grand) * (m - grand)
		for _, x := range g {
			ssWithin += (x - m) * (x - m)
		}
	}
	dfB := float64(k - 1)
	dfW := float64(n - k)
	if ssWithin == 0 {
		if ssBetween == 0 {
			return 1, nil
		}
		return 0, nil
	}
	f := (ssBetween / dfB) / (ssWithin / dfW)
	dist := distuv.F{D1: dfB, D2: dfW}
	return 1 - dist.CDF(f), nil
}

// KruskalWallis runs the rank test with tie correction, using the
// chi-squared approximation for the H statistic.
func KruskalWallis(groups [][]float64) (float64, error) {
	type obs struct {
		v     float64
		group int
	}
	var all []obs
	k := 0
	for gi, g := range groups {
		if len(g) > 0 {
			k++
		}
		for _, x := range g {
			all = append(all, obs{v: x, group: gi})
		}
	}
	n := len(all)
	if k < 2 || n < 3 {
		return 0, fmt.Errorf("kruskal-wallis: need at least two non-empty groups")
	}
	sort.Slice(all, func(i, j int) bool { return all[i].v < all[j].v })

	// Midranks for ties; tieCorrection accumulates Σ(t³−t).
	ranks := make([]float64, n)
	var tieCorrection float64
	for i := 0; i < n; {
		j := i
		for j < n && all[j].v == all[i].v {
			j++
		}
		mid := float64(i+j+1) / 2
		for m := i; m < j; m++ {
			ranks[m] = mid
		}
		t := float64(j - i)
		tieCorrection += t*t*t - t
		i = j
	}

	rankSums := make([]float64, len(groups))
	counts := make([]float64, len(groups))
	for i, o := range all {
		rankSums[o.group] += ranks[i]
		counts[o.group]++
	}
	var h float64
	for gi := range groups {
		if counts[gi] == 0 {
			continue
		}
		h += rankSums[gi] * rankSums[gi] / counts[gi]
	}
	nf := float64(n)
	h = 12/(nf*(nf+1))*h - 3*(nf+1)

	denom := 1 - tieCorrection/(nf*nf*nf-nf)
	if denom <= 0 {
		return 1, nil
	}
	h /= denom

	dist := distuv.ChiSquared{K: float64(k - 1)}
	return 1 - dist.CDF(h), nil
}

// CompareBinary tests independence of a binary feature across the
// cohorts: chi-square when every expected cell count reaches 5, else
// Fisher's exact on the table collapsed to 2x2 (antibiotics-only vs any
// intervention).
func CompareBinary(yes, no []int) (TestResult, error) {
	if len(yes) != len(no) {
		return TestResult{}, fmt.Errorf("compare binary: mismatched group counts")
	}
	if chiSquareValid(yes, no) {
		p, err := ChiSquare(yes, no)
		return TestResult{Test: "chi_square", PValue: p}, err
	}
	a, b := yes[0], no[0]
	var c, d int
	for i := 1; i < len(yes); i++ {
		c += yes[i]
		d += no[i]
	}
	p := FisherExact(a, b, c, d)
	return TestResult{Test: "fisher_exact", PValue: p}, nil
}

func chiSquareValid(yes, no []int) bool {
	total := 0
	rowYes, rowNo := 0, 0
	for i := range yes {
		total += yes[i] + no[i]
		rowYes += yes[i]
		rowNo += no[i]
	}
	if total == 0 {
		return false
	}
	for i := range yes {
		colTotal := float64(yes[i] + no[i])
		if colTotal == 0 {
			continue
		}
		if colTotal*float64(rowYes)/float64(total) < 5 ||
			colTotal*float64(rowNo)/float64(total) < 5 {
			return false
		}
	}
	return true
}

// ChiSquare runs the 2xk independence test on yes/no counts per group.
func ChiSquare(yes, no []int) (float64, error) {
	total := 0
	rowYes, rowNo := 0, 0
	cols := 0
	for i := range yes {
		total += yes[i] + no[i]
		rowYes += yes[i]
		rowNo += no[i]
		if yes[i]+no[i] > 0 {
			cols++
		}
	}
	if cols < 2 || rowYes == 0 || rowNo == 0 {
		return 0, fmt.Errorf("chi-square: degenerate table")
	}
	var chi2 float64
	for i := range yes {
		colTotal := float64(yes[i] + no[i])
		if colTotal == 0 {
			continue
		}
		eYes := colTotal * float64(rowYes) / float64(total)
		eNo := colTotal * float64(rowNo) / float64(total)
		chi2 += (float64(yes[i]) - eYes) * (float64(yes[i]) - eYes) / eYes
		chi2 += (float64(no[i]) - eNo) * (float64(no[i]) - eNo) / eNo
	}
	dist := distuv.ChiSquared{K: float64(cols - 1)}
	return 1 - dist.CDF(chi2), nil
}

// FisherExact computes the two-sided exact p-value for the 2x2 table
// [[a b] [c d]] by summing hypergeometric probabilities no larger than
// the observed one.
func FisherExact(a, b, c, d int) float64 {
	r1, r2 := a+b, c+d
	c1 := a + c
	n := r1 + r2
	if n == 0 {
		return 1
	}
	pObs := hypergeomPMF(a, r1, r2, c1)
	var p float64
	lo := max(0, c1-r2)
	hi := min(r1, c1)
	const eps = 1e-9
	for x := lo; x <= hi; x++ {
		if px := hypergeomPMF(x, r1, r2, c1); px <= pObs*(1+eps) {
			p += px
		}
	}
	if p > 1 {
		p = 1
	}
	return p
}

// hypergeomPMF is P(X = x) for x successes drawn in a column of size c1
// from rows of size r1, r2, computed through log-gamma.
func hypergeomPMF(x, r1, r2, c1 int) float64 {
	if x < 0 || x > r1 || c1-x < 0 || c1-x > r2 {
		return 0
	}
	lp := lchoose(r1, x) + lchoose(r2, c1-x) - lchoose(r1+r2, c1)
	return math.Exp(lp)
}

func lchoose(n, k int) float64 {
	if k < 0 || k > n {
		return math.Inf(-1)
	}
	ln, _ := math.Lgamma(float64(n + 1))
	lk, _ := math.Lgamma(float64(k + 1))
	lnk, _ := math.Lgamma(float64(n - k + 1))
	return ln - lk - lnk
}
