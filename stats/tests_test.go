package stats

import (
	"math"
	"testing"
)

func TestDescribe(t *testing.T) {
	d := Describe([]float64{4, 1, 3, 2, 5})
	if d.N != 5 {
		t.Fatalf("n = %d", d.N)
	}
	if d.Mean != 3 {
		t.Errorf("mean = %v, want 3", d.Mean)
	}
	if math.Abs(d.SD-math.Sqrt(2.5)) > 1e-9 {
		t.Errorf("sd = %v, want %v", d.SD, math.Sqrt(2.5))
	}
	if d.Median != 3 {
		t.Errorf("median = %v, want 3", d.Median)
	}
	if d.Q1 > d.Median || d.Median > d.Q3 {
		t.Errorf("quartiles out of order: %v %v %v", d.Q1, d.Median, d.Q3)
	}
}

func TestFormattingAndSuppression(t *testing.T) {
	small := Describe([]float64{1, 2, 3})
	if got := small.MeanSD(); got != "<5" {
		t.Errorf("MeanSD with n=3 = %q, want <5", got)
	}
	if got := small.MedianIQR(); got != "<5" {
		t.Errorf("MedianIQR with n=3 = %q, want <5", got)
	}

	d := Describe([]float64{1, 2, 3, 4, 5})
	if got := d.MeanSD(); got != "3.0 ± 1.6" {
		t.Errorf("MeanSD = %q", got)
	}
	if got := FormatCountPct(3, 40); got != "<5" {
		t.Errorf("count 3 = %q, want <5", got)
	}
	// Exact zeros are suppressed like any other small cell.
	if got := FormatCountPct(0, 40); got != "<5" {
		t.Errorf("count 0 = %q, want <5", got)
	}
	if got := FormatCount(0); got != "<5" {
		t.Errorf("FormatCount(0) = %q, want <5", got)
	}
	if got := FormatCountPct(10, 40); got != "10 (25.0%)" {
		t.Errorf("count 10 = %q", got)
	}
	if got := FormatCount(4); got != "<5" {
		t.Errorf("FormatCount(4) = %q", got)
	}
	if got := FormatCount(12); got != "12" {
		t.Errorf("FormatCount(12) = %q", got)
	}
}

func TestANOVA(t *testing.T) {
	same := [][]float64{
		{5.1, 4.9, 5.0, 5.2, 4.8},
		{5.0, 5.1, 4.9, 5.0, 5.1},
		{4.9, 5.0, 5.1, 5.0, 4.9},
	}
	p, err := ANOVA(same)
	if err != nil {
		t.Fatalf("anova: %v", err)
	}
	if p < 0.05 {
		t.Errorf("p = %v for identical groups, want large", p)
	}

	apart := [][]float64{
		{1, 2, 1.5, 1.2, 1.8},
		{10, 11, 10.5, 10.2, 10.8},
		{20, 21, 20.5, 20.2, 20.8},
	}
	p, err = ANOVA(apart)
	if err != nil {
		t.Fatalf("anova: %v", err)
	}
	if p > 0.001 {
		t.Errorf("p = %v for separated groups, want tiny", p)
	}

	if _, err := ANOVA([][]float64{{1, 2}, {}}); err == nil {
		t.Error("no error for a single non-empty group")
	}
}

func TestKruskalWallis(t *testing.T) {
	apart := [][]float64{
		{1, 2, 3, 4, 5},
		{11, 12, 13, 14, 15},
		{21, 22, 23, 24, 25},
	}
	p, err := KruskalWallis(apart)
	if err != nil {
		t.Fatalf("kruskal-wallis: %v", err)
	}
	if p > 0.01 {
		t.Errorf("p = %v for separated groups, want small", p)
	}

	// Heavy ties must not blow up the tie correction.
	tied := [][]float64{
		{1, 1, 1, 2, 2},
		{1, 2, 2, 2, 1},
		{2, 1, 1, 2, 2},
	}
	p, err = KruskalWallis(tied)
	if err != nil {
		t.Fatalf("kruskal-wallis ties: %v", err)
	}
	if p < 0.05 || p > 1 {
		t.Errorf("p = %v for exchangeable tied groups", p)
	}
}

func TestCompareContinuousHeuristic(t *testing.T) {
	normal := [][]float64{
		{4, 5, 6, 5, 4, 6, 5},
		{5, 6, 7, 6, 5, 7, 6},
		{6, 7, 8, 7, 6, 8, 7},
	}
	res, err := CompareContinuous(normal)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if res.Test != "anova" {
		t.Errorf("test = %s, want anova for symmetric data", res.Test)
	}

	skewed := [][]float64{
		{1, 1, 1, 1, 1, 1, 1, 1, 200},
		{1, 1, 1, 1, 1, 2, 1, 1, 300},
		{1, 2, 1, 1, 1, 1, 1, 1, 400},
	}
	res, err = CompareContinuous(skewed)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if res.Test != "kruskal_wallis" {
		t.Errorf("test = %s, want kruskal_wallis for skewed data", res.Test)
	}
}

func TestChiSquare(t *testing.T) {
	p, err := ChiSquare([]int{20, 20, 20}, []int{20, 20, 20})
	if err != nil {
		t.Fatalf("chi-square: %v", err)
	}
	if math.Abs(p-1) > 1e-9 {
		t.Errorf("p = %v for identical proportions, want 1", p)
	}

	p, err = ChiSquare([]int{5, 40, 40}, []int{45, 10, 10})
	if err != nil {
		t.Fatalf("chi-square: %v", err)
	}
	if p > 0.001 {
		t.Errorf("p = %v for strong association, want tiny", p)
	}
}

func TestFisherExact(t *testing.T) {
	// Table [[3 1] [1 3]]: two-sided p = 34/70.
	p := FisherExact(3, 1, 1, 3)
	if math.Abs(p-34.0/70) > 1e-9 {
		t.Errorf("p = %v, want %v", p, 34.0/70)
	}

	if p := FisherExact(0, 0, 0, 0); p != 1 {
		t.Errorf("empty table p = %v, want 1", p)
	}
	if p := FisherExact(10, 0, 0, 10); p > 0.001 {
		t.Errorf("p = %v for perfect association, want tiny", p)
	}
}

func TestCompareBinaryFallsBackToFisher(t *testing.T) {
	// Small cells force the exact test.
	res, err := CompareBinary([]int{1, 2, 1}, []int{9, 8, 9})
	if err != nil {
		t.Fatalf("compare binary: %v", err)
	}
	if res.Test != "fisher_exact" {
		t.Errorf("test = %s, want fisher_exact", res.Test)
	}

	res, err = CompareBinary([]int{30, 25, 28}, []int{70, 75, 72})
	if err != nil {
		t.Fatalf("compare binary: %v", err)
	}
	if res.Test != "chi_square" {
		t.Errorf("test = %s, want chi_square", res.Test)
	}
}

func TestTestResultFormat(t *testing.T) {
	if got := (TestResult{PValue: 0.0004}).Format(); got != "<0.001" {
		t.Errorf("format = %q", got)
	}
	if got := (TestResult{PValue: 0.0374}).Format(); got != "0.037" {
		t.Errorf("format = %q", got)
	}
}
