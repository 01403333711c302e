// Package dot computes the days-of-therapy utilization variant:
// antibiotic DOT per 1000 patient-days, stratified by treatment cohort.
// Output is aggregate-only; per-hospitalization tallies never leave the
// package.
package dot

import (
	"strings"
	"time"

	"empyema/clif"
	"empyema/cohort"
)

// GroupTotal mirrors the summary-table pseudo-group.
const GroupTotal = "total"

// Rate is one (cohort, antibiotic) utilization cell.
type Rate struct {
	Group         string  `json:"cohort_group"`
	Antibiotic    string  `json:"antibiotic"`
	DOT           int     `json:"days_of_therapy"`
	PatientDays   float64 `json:"patient_days"`
	RatePer1000PD float64 `json:"dot_per_1000_patient_days"`
}

// Report is the shareable DOT export for one site.
type Report struct {
	SiteName      string  `json:"site_name"`
	DateGenerated string  `json:"date_generated"`
	Rates         []Rate  `json:"rates"`
}

// Build tallies DOT over the eligible cohort. A hospitalization's stay
// splits into consecutive 24-hour windows from admission (the trailing
// partial window counts); an antibiotic accrues one DOT for each window
// holding at least one administration.
func Build(site string, rows []cohort.FeatureRow, ix *clif.Index) *Report {
	type cell struct {
		dot map[string]int
		pd  float64
	}
	cells := make(map[string]*cell)
	groups := make([]string, 0, len(cohort.Cohorts)+1)
	for _, c := range cohort.Cohorts {
		groups = append(groups, string(c))
	}
	groups = append(groups, GroupTotal)
	for _, g := range groups {
		cells[g] = &cell{dot: make(map[string]int)}
	}

	for _, r := range rows {
		perHosp := hospDOT(r, ix.MedsIntermittent[r.HospitalizationID])
		for _, g := range []string{r.TreatmentGroup, GroupTotal} {
			c, ok := cells[g]
			if !ok {
				continue
			}
			c.pd += r.HospitalLOSDays
			for cat, d := range perHosp {
				c.dot[cat] += d
			}
		}
	}

	rep := &Report{
		SiteName:      site,
		DateGenerated: time.Now().Format("2006-01-02"),
	}
	// Fixed ordering keeps re-runs byte-identical.
	order := []string{
		string(cohort.AntibioticsOnly),
		string(cohort.IntrapleuralLytics),
		string(cohort.VATSCohort),
		GroupTotal,
	}
	for _, g := range order {
		c := cells[g]
		for _, cat := range cohort.AntibioticCategories {
			rate := Rate{
				Group:       g,
				Antibiotic:  cat,
				DOT:         c.dot[cat],
				PatientDays: c.pd,
			}
			if c.pd > 0 {
				rate.RatePer1000PD = float64(rate.DOT) / c.pd * 1000
			}
			rep.Rates = append(rep.Rates, rate)
		}
	}
	return rep
}

// hospDOT returns days of therapy per antibiotic category for one
// hospitalization.
func hospDOT(r cohort.FeatureRow, meds []clif.MedAdmin) map[string]int {
	windows := make(map[string]map[int]struct{})
	for _, m := range meds {
		if m.AdminDttm == nil {
			continue
		}
		t := *m.AdminDttm
		if t.Before(r.AdmissionDttm) || t.After(r.DischargeDttm) {
			continue
		}
		cat := strings.ToLower(m.MedCategory)
		if !trackedCategory(cat) {
			continue
		}
		w := int(t.Sub(r.AdmissionDttm) / (24 * time.Hour))
		if windows[cat] == nil {
			windows[cat] = make(map[int]struct{})
		}
		windows[cat][w] = struct{}{}
	}
	out := make(map[string]int, len(windows))
	for cat, ws := range windows {
		out[cat] = len(ws)
	}
	return out
}

func trackedCategory(cat string) bool {
	for _, c := range cohort.AntibioticCategories {
		if c == cat {
			return true
		}
	}
	return false
}
