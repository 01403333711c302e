package cohort

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"empyema/clif"
)

const (
	// abxRequiredDays is the inclusion rule: a qualifying antibiotic in
	// each of these 24h buckets after the anchor culture order.
	abxRequiredDays = 5
	// priorCultureLookback is the patient-level exclusion window: a
	// positive pleural culture in another hospitalization within this
	// span before the anchor excludes the stay.
	priorCultureLookback = 42 * 24 * time.Hour
)

// Eligible is one hospitalization that passed every inclusion and
// exclusion predicate, tagged with its anchor culture.
type Eligible struct {
	Hosp clif.Hospitalization
	// AnchorOrder is the order timestamp of the earliest qualifying
	// positive pleural culture; all pre/post windows hang off it.
	AnchorOrder time.Time
	// Organisms is the distinct, sorted, "; "-joined organism set from
	// the hospitalization's qualifying cultures.
	Organisms     string
	OrganismCount int
}

// FunnelStep records the cohort size after one filtering predicate.
// Counts only, never patient-level detail.
type FunnelStep struct {
	Step                   int    `json:"step"`
	Description            string `json:"description"`
	Rows                   int    `json:"total_rows"`
	UniqueHospitalizations int    `json:"unique_hospitalizations"`
	UniquePatients         int    `json:"unique_patients"`
	Dropped                int    `json:"rows_dropped"`
}

// Funnel is the audit artifact for one cohort run.
type Funnel struct {
	RunID       string            `json:"run_id"`
	Site        string            `json:"site_name"`
	GeneratedAt time.Time         `json:"date_generated"`
	Criteria    map[string]string `json:"inclusion_criteria"`
	Steps       []FunnelStep      `json:"filtering_steps"`
	// FeatureFailures counts hospitalizations skipped because feature
	// extraction failed; the batch continues without them.
	FeatureFailures int `json:"feature_failures"`
}

// Filter applies the inclusion/exclusion predicates and produces the
// eligible set plus the filtering funnel.
type Filter struct {
	Site      string
	StartYear int
	EndYear   int
	Log       zerolog.Logger
}

// cultureOrder is one grouped culture event: all positive organisms
// sharing (hospitalization, order_dttm).
type cultureOrder struct {
	patientID string
	hospID    string
	order     time.Time
	organisms map[string]struct{}
}

// Run evaluates the eligibility contract over the dataset.
func (f *Filter) Run(ds *clif.Dataset) ([]Eligible, *Funnel, error) {
	funnel := &Funnel{
		RunID:       uuid.NewString(),
		Site:        f.Site,
		GeneratedAt: time.Now(),
		Criteria: map[string]string{
			"age_minimum":              "18",
			"admission_window":         yearRange(f.StartYear, f.EndYear),
			"fluid_category":           "pleural",
			"organism_category":        "positive (not 'no growth')",
			"antibiotics_minimum_days": "5 daily-covered days from culture order",
			"antibiotics_group":        qualifyingAbxGroup,
			"tb_mycobacterium":         "hospitalization excluded on any TB/mycobacterial culture",
			"prior_positive_culture":   "excluded if same patient positive within 6 weeks before anchor",
		},
	}

	record := func(desc string, rows int, hosps, patients map[string]struct{}, prevRows int) {
		funnel.Steps = append(funnel.Steps, FunnelStep{
			Step:                   len(funnel.Steps) + 1,
			Description:            desc,
			Rows:                   rows,
			UniqueHospitalizations: len(hosps),
			UniquePatients:         len(patients),
			Dropped:                prevRows - rows,
		})
		f.Log.Info().Str("step", desc).Int("rows", rows).
			Int("hospitalizations", len(hosps)).Msg("eligibility step")
	}

	// Step 1: all hospitalizations with usable timestamps.
	allHosps, allPatients := idSets(ds.Hospitalizations, nil)
	record("all hospitalizations", len(ds.Hospitalizations), allHosps, allPatients, len(ds.Hospitalizations))

	// Step 2: adults admitted inside the study window.
	var baseHosps []clif.Hospitalization
	for _, h := range ds.Hospitalizations {
		if h.AdmissionDttm == nil || h.DischargeDttm == nil || h.AgeAtAdmission == nil {
			continue
		}
		if *h.AgeAtAdmission < 18 {
			continue
		}
		y := h.AdmissionDttm.Year()
		if y < f.StartYear || y > f.EndYear || h.DischargeDttm.Year() > f.EndYear {
			continue
		}
		baseHosps = append(baseHosps, h)
	}
	hospSet, patSet := idSets(baseHosps, nil)
	record("age >=18 and admission within study window", len(baseHosps), hospSet, patSet, len(ds.Hospitalizations))
	hospByID := make(map[string]clif.Hospitalization, len(baseHosps))
	for _, h := range baseHosps {
		hospByID[h.HospitalizationID] = h
	}

	// Positive pleural culture events, grouped by (hospitalization,
	// order). TB/mycobacterial hospitalizations drop out entirely.
	tbHosps := make(map[string]struct{})
	for _, c := range ds.Cultures {
		if pleuralFluid(c.FluidCategory) && organismExcluded(c.OrganismCategory) {
			tbHosps[c.HospitalizationID] = struct{}{}
		}
	}

	orders := make(map[string]*cultureOrder) // key: hospID \x00 order
	for _, c := range ds.Cultures {
		if c.OrderDttm == nil || !pleuralFluid(c.FluidCategory) || !organismPositive(c.OrganismCategory) {
			continue
		}
		if _, tb := tbHosps[c.HospitalizationID]; tb {
			continue
		}
		if _, ok := hospByID[c.HospitalizationID]; !ok {
			continue
		}
		key := c.HospitalizationID + "\x00" + c.OrderDttm.UTC().Format(time.RFC3339Nano)
		co, ok := orders[key]
		if !ok {
			co = &cultureOrder{
				patientID: c.PatientID,
				hospID:    c.HospitalizationID,
				order:     *c.OrderDttm,
				organisms: make(map[string]struct{}),
			}
			orders[key] = co
		}
		co.organisms[c.OrganismCategory] = struct{}{}
	}

	// Step 3: hospitalizations with at least one qualifying culture.
	orderList := make([]*cultureOrder, 0, len(orders))
	for _, co := range orders {
		orderList = append(orderList, co)
	}
	sort.Slice(orderList, func(i, j int) bool {
		if orderList[i].hospID != orderList[j].hospID {
			return orderList[i].hospID < orderList[j].hospID
		}
		return orderList[i].order.Before(orderList[j].order)
	})
	cultureHosps, culturePats := orderIDSets(orderList)
	record("with positive pleural culture", len(orderList), cultureHosps, culturePats, len(baseHosps))

	// Qualifying antibiotic administrations per hospitalization.
	abxByHosp := make(map[string][]time.Time)
	for _, m := range ds.MedsIntermittent {
		if m.AdminDttm == nil || strings.ToLower(m.MedGroup) != qualifyingAbxGroup {
			continue
		}
		abxByHosp[m.HospitalizationID] = append(abxByHosp[m.HospitalizationID], *m.AdminDttm)
	}

	// Step 4: culture orders whose five daily buckets are all covered.
	var covered []*cultureOrder
	for _, co := range orderList {
		if abxDailyCoverage(co.order, abxByHosp[co.hospID]) {
			covered = append(covered, co)
		}
	}
	coveredHosps, coveredPats := orderIDSets(covered)
	record("5 daily-covered days of qualifying antibiotics", len(covered), coveredHosps, coveredPats, len(orderList))

	// Step 5: collapse to the earliest qualifying order per
	// hospitalization, merging organisms across its qualifying orders.
	eligByHosp := make(map[string]*Eligible)
	mergedOrganisms := make(map[string]map[string]struct{})
	for _, co := range covered {
		el, ok := eligByHosp[co.hospID]
		if !ok {
			h := hospByID[co.hospID]
			eligByHosp[co.hospID] = &Eligible{Hosp: h, AnchorOrder: co.order}
			mergedOrganisms[co.hospID] = cloneSet(co.organisms)
			continue
		}
		if co.order.Before(el.AnchorOrder) {
			el.AnchorOrder = co.order
		}
		for org := range co.organisms {
			mergedOrganisms[co.hospID][org] = struct{}{}
		}
	}

	// Step 6: patient-level 6-week lookback over every positive pleural
	// culture in the source tables, including hospitalizations outside
	// the study window.
	byPatient := make(map[string][]*cultureOrder)
	for _, c := range ds.Cultures {
		if c.OrderDttm == nil || !pleuralFluid(c.FluidCategory) || !organismPositive(c.OrganismCategory) {
			continue
		}
		byPatient[c.PatientID] = append(byPatient[c.PatientID], &cultureOrder{
			patientID: c.PatientID,
			hospID:    c.HospitalizationID,
			order:     *c.OrderDttm,
		})
	}
	var eligible []Eligible
	for hospID, el := range eligByHosp {
		if hasPriorCulture(byPatient[el.Hosp.PatientID], hospID, el.AnchorOrder) {
			continue
		}
		el.Organisms, el.OrganismCount = joinOrganisms(mergedOrganisms[hospID])
		eligible = append(eligible, *el)
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].Hosp.HospitalizationID < eligible[j].Hosp.HospitalizationID
	})
	finalHosps, finalPats := idSets(nil, eligible)
	record("collapsed to anchor culture, prior-culture lookback applied", len(eligible), finalHosps, finalPats, len(eligByHosp))

	return eligible, funnel, nil
}

// abxDailyCoverage checks that each of the five 24h buckets after the
// order has at least one administration. Bucket d covers
// [order+d*24h, order+(d+1)*24h).
func abxDailyCoverage(order time.Time, admins []time.Time) bool {
	var days [abxRequiredDays]bool
	for _, t := range admins {
		if t.Before(order) {
			continue
		}
		d := int(t.Sub(order) / (24 * time.Hour))
		if d >= 0 && d < abxRequiredDays {
			days[d] = true
		}
	}
	for _, ok := range days {
		if !ok {
			return false
		}
	}
	return true
}

// hasPriorCulture reports whether the patient had a positive pleural
// culture in a different hospitalization within the lookback window
// ending at the anchor.
func hasPriorCulture(patientOrders []*cultureOrder, hospID string, anchor time.Time) bool {
	cutoff := anchor.Add(-priorCultureLookback)
	for _, co := range patientOrders {
		if co.hospID == hospID {
			continue
		}
		if co.order.Before(anchor) && !co.order.Before(cutoff) {
			return true
		}
	}
	return false
}

func joinOrganisms(set map[string]struct{}) (string, int) {
	orgs := make([]string, 0, len(set))
	for o := range set {
		orgs = append(orgs, o)
	}
	sort.Strings(orgs)
	return strings.Join(orgs, "; "), len(orgs)
}

func cloneSet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func idSets(hosps []clif.Hospitalization, elig []Eligible) (map[string]struct{}, map[string]struct{}) {
	hs := make(map[string]struct{})
	ps := make(map[string]struct{})
	for _, h := range hosps {
		hs[h.HospitalizationID] = struct{}{}
		ps[h.PatientID] = struct{}{}
	}
	for _, e := range elig {
		hs[e.Hosp.HospitalizationID] = struct{}{}
		ps[e.Hosp.PatientID] = struct{}{}
	}
	return hs, ps
}

func orderIDSets(orders []*cultureOrder) (map[string]struct{}, map[string]struct{}) {
	hs := make(map[string]struct{})
	ps := make(map[string]struct{})
	for _, co := range orders {
		hs[co.hospID] = struct{}{}
		ps[co.patientID] = struct{}{}
	}
	return hs, ps
}

func yearRange(a, b int) string {
	return fmt.Sprintf("%d-%d", a, b)
}
