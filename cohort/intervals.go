package cohort

import (
	"strings"
	"time"

	"empyema/clif"
)

// Interval is a closed time range with a care-location category.
// Window-scoped features are expressed as interval-overlap queries
// against the anchor timestamp rather than ad-hoc filtering inside
// aggregations.
type Interval struct {
	Start    time.Time
	End      time.Time
	Category string
}

// Contains reports whether t falls inside the interval (inclusive).
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && !t.After(iv.End)
}

// Days returns the interval length in days.
func (iv Interval) Days() float64 {
	return iv.End.Sub(iv.Start).Hours() / 24
}

// locationIntervals converts ADT rows with usable timestamps into
// intervals, optionally restricted to one location category.
func locationIntervals(stays []clif.LocationStay, category string) []Interval {
	var out []Interval
	for _, s := range stays {
		if s.InDttm == nil || s.OutDttm == nil {
			continue
		}
		if category != "" && !strings.EqualFold(s.LocationCategory, category) {
			continue
		}
		out = append(out, Interval{Start: *s.InDttm, End: *s.OutDttm, Category: s.LocationCategory})
	}
	return out
}

// inAnyInterval reports whether t is contained in any interval.
func inAnyInterval(t time.Time, ivs []Interval) bool {
	for _, iv := range ivs {
		if iv.Contains(t) {
			return true
		}
	}
	return false
}

// sumDays totals interval durations in days.
func sumDays(ivs []Interval) float64 {
	var d float64
	for _, iv := range ivs {
		d += iv.Days()
	}
	return d
}

// window is the half-open-free [start, end] scope most features use
// (anchor to discharge, or admission to discharge).
type window struct {
	start time.Time
	end   time.Time
}

func (w window) contains(t *time.Time) bool {
	return t != nil && !t.Before(w.start) && !t.After(w.end)
}

// before reports whether t is strictly before the window start
// (pre-anchor scoping).
func (w window) strictlyBefore(t *time.Time) bool {
	return t != nil && t.Before(w.start)
}

