package stats

import (
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"empyema/cohort"
)

// GroupTotal is the pseudo-group covering every eligible
// hospitalization regardless of cohort.
const GroupTotal = "total"

// GroupOrder fixes the column order of every stratified output.
var GroupOrder = []string{
	string(cohort.AntibioticsOnly),
	string(cohort.IntrapleuralLytics),
	string(cohort.VATSCohort),
	GroupTotal,
}

// Table1 is one site's shareable summary: formatted aggregate strings
// per cohort group plus between-cohort test results. It is the JSON
// exchange document the cross-site aggregator consumes.
type Table1 struct {
	SiteName      string                       `json:"site_name"`
	DateGenerated string                       `json:"date_generated"`
	CohortGroups  map[string]map[string]string `json:"cohort_groups"`
	Tests         map[string]TestResult        `json:"hypothesis_tests,omitempty"`

	// Variables preserves row order for the CSV rendition; Organisms
	// feeds the organisms-by-cohort counts file. Neither round-trips
	// through the JSON exchange format.
	Variables []string      `json:"-"`
	Organisms []OrganismRow `json:"-"`
}

// TestFor returns the hypothesis test backing one CSV row. Continuous
// variables render as two rows (name_mean_sd, name_median_iqr) that
// share the test registered under the base variable name.
func (t *Table1) TestFor(row string) (TestResult, bool) {
	name := strings.TrimSuffix(row, "_mean_sd")
	name = strings.TrimSuffix(name, "_median_iqr")
	res, ok := t.Tests[name]
	return res, ok
}

// OrganismRow is one (organism, cohort) cell of the organism counts
// table. Count is pre-suppression; rendering applies "<5".
type OrganismRow struct {
	Organism string
	Group    string
	Count    int
}

// variable describes one summary row. Exactly one of num/bin is set;
// continuous variables render as two rows (mean ± SD and median [IQR])
// plus a missing count when the source field is nullable.
type variable struct {
	name string
	num  func(r cohort.FeatureRow) *float64
	bin  func(r cohort.FeatureRow) *bool
	// recipient restricts the summary to rows satisfying it (dose
	// medians among recipients, ICU stay among ICU patients).
	recipient func(r cohort.FeatureRow) bool
	// trackMissing adds a "_missing" count row for nullable sources.
	trackMissing bool
	// skipTest drops the between-cohort comparison (identity-like
	// variables where a test is meaningless).
	skipTest bool
}

func fptr(f float64) *float64 { return &f }

func intPtr(v int32) *float64 { f := float64(v); return &f }

// variables returns the Table 1 row definitions in presentation order.
func variables() []variable {
	vs := []variable{
		{name: "age", num: func(r cohort.FeatureRow) *float64 { return fptr(r.AgeAtAdmission) }},
		{name: "sex_female", bin: binEq(func(r cohort.FeatureRow) string { return r.SexCategory }, "female")},
		{name: "sex_male", bin: binEq(func(r cohort.FeatureRow) string { return r.SexCategory }, "male"), skipTest: true},
	}
	for _, level := range []string{
		"hispanic", "non_hispanic_white", "non_hispanic_black",
		"non_hispanic_asian", "other", "not_reported",
	} {
		vs = append(vs, variable{
			name: "race_ethnicity_" + level,
			bin:  binEq(func(r cohort.FeatureRow) string { return r.RaceEthnicity }, level),
		})
	}
	vs = append(vs,
		variable{name: "bmi", num: func(r cohort.FeatureRow) *float64 { return r.BMI }, trackMissing: true},
		variable{name: "comorbidity_count", num: numInt(func(r cohort.FeatureRow) *int32 { return r.ComorbidityCount }), trackMissing: true},
		variable{name: "severity_score", num: func(r cohort.FeatureRow) *float64 { return r.SeverityScore }, trackMissing: true},
		variable{name: "highest_temperature", num: func(r cohort.FeatureRow) *float64 { return r.HighestTemperature }, trackMissing: true},
		variable{name: "lowest_temperature", num: func(r cohort.FeatureRow) *float64 { return r.LowestTemperature }, trackMissing: true},
		variable{name: "lowest_map", num: func(r cohort.FeatureRow) *float64 { return r.LowestMAP }, trackMissing: true},
		variable{name: "highest_wbc_before_culture", num: func(r cohort.FeatureRow) *float64 { return r.HighestWBCBeforeCulture }, trackMissing: true},
		variable{name: "highest_creatinine_before_culture", num: func(r cohort.FeatureRow) *float64 { return r.HighestCreatinineBeforeCulture }, trackMissing: true},
		variable{name: "vasopressor_ever", bin: func(r cohort.FeatureRow) *bool { return r.VasopressorEver }},
		variable{name: "vasopressor_icu_ever", bin: func(r cohort.FeatureRow) *bool { return r.VasopressorICUEver }},
		variable{name: "nippv_ever", bin: func(r cohort.FeatureRow) *bool { return r.NIPPVEver }},
		variable{name: "hfno_ever", bin: func(r cohort.FeatureRow) *bool { return r.HFNOEver }},
		variable{name: "imv_ever", bin: func(r cohort.FeatureRow) *bool { return r.IMVEver }},
	)
	for _, cat := range cohort.AntibioticCategories {
		cat := cat
		vs = append(vs, variable{
			name: cat + "_ever",
			bin:  func(r cohort.FeatureRow) *bool { return r.AntibioticEver(cat) },
		})
	}
	lyticRecipient := func(r cohort.FeatureRow) bool { return r.ReceivedIntrapleuralLytic }
	vs = append(vs,
		variable{name: "polymicrobial", bin: binVal(func(r cohort.FeatureRow) bool { return r.Polymicrobial })},
		variable{name: "culture_fungus", bin: binVal(func(r cohort.FeatureRow) bool { return r.CultureFungus })},
		variable{name: "organism_count", num: numInt32(func(r cohort.FeatureRow) int32 { return r.OrganismCount })},
		variable{name: "received_intrapleural_lytic", bin: binVal(func(r cohort.FeatureRow) bool { return r.ReceivedIntrapleuralLytic }), skipTest: true},
		variable{name: "received_vats_decortication", bin: binVal(func(r cohort.FeatureRow) bool { return r.ReceivedVATS }), skipTest: true},
		variable{
			name:      "n_doses_alteplase",
			num:       numInt32(func(r cohort.FeatureRow) int32 { return r.NDosesAlteplase }),
			recipient: lyticRecipient, skipTest: true,
		},
		variable{
			name:      "median_dose_alteplase",
			num:       func(r cohort.FeatureRow) *float64 { return fptr(r.MedianDoseAlteplase) },
			recipient: func(r cohort.FeatureRow) bool { return r.NDosesAlteplase > 0 },
			skipTest:  true,
		},
		variable{
			name:      "n_doses_dornase_alfa",
			num:       numInt32(func(r cohort.FeatureRow) int32 { return r.NDosesDornaseAlfa }),
			recipient: lyticRecipient, skipTest: true,
		},
		variable{
			name:      "median_dose_dornase_alfa",
			num:       func(r cohort.FeatureRow) *float64 { return fptr(r.MedianDoseDornaseAlfa) },
			recipient: func(r cohort.FeatureRow) bool { return r.NDosesDornaseAlfa > 0 },
			skipTest:  true,
		},
		variable{name: "hospital_los_days", num: func(r cohort.FeatureRow) *float64 { return fptr(r.HospitalLOSDays) }},
		variable{
			name:      "icu_los_days",
			num:       func(r cohort.FeatureRow) *float64 { return r.ICULOSDays },
			recipient: func(r cohort.FeatureRow) bool { return r.ICULOSDays != nil && *r.ICULOSDays > 0 },
			trackMissing: true,
		},
		variable{name: "inpatient_mortality", bin: binVal(func(r cohort.FeatureRow) bool { return r.InpatientMortality })},
	)
	return vs
}

func binEq(get func(r cohort.FeatureRow) string, level string) func(r cohort.FeatureRow) *bool {
	return func(r cohort.FeatureRow) *bool {
		v := get(r)
		if v == "" {
			return nil
		}
		b := strings.EqualFold(v, level)
		return &b
	}
}

func binVal(get func(r cohort.FeatureRow) bool) func(r cohort.FeatureRow) *bool {
	return func(r cohort.FeatureRow) *bool {
		b := get(r)
		return &b
	}
}

func numInt(get func(r cohort.FeatureRow) *int32) func(r cohort.FeatureRow) *float64 {
	return func(r cohort.FeatureRow) *float64 {
		v := get(r)
		if v == nil {
			return nil
		}
		return intPtr(*v)
	}
}

func numInt32(get func(r cohort.FeatureRow) int32) func(r cohort.FeatureRow) *float64 {
	return func(r cohort.FeatureRow) *float64 {
		return intPtr(get(r))
	}
}

// BuildTable1 computes the stratified summary over the feature rows.
func BuildTable1(site string, rows []cohort.FeatureRow, log zerolog.Logger) *Table1 {
	t := &Table1{
		SiteName:      site,
		DateGenerated: time.Now().Format("2006-01-02"),
		CohortGroups:  make(map[string]map[string]string, len(GroupOrder)),
		Tests:         make(map[string]TestResult),
	}

	grouped := make(map[string][]cohort.FeatureRow, len(GroupOrder))
	for _, r := range rows {
		grouped[r.TreatmentGroup] = append(grouped[r.TreatmentGroup], r)
	}
	grouped[GroupTotal] = rows
	for _, g := range GroupOrder {
		t.CohortGroups[g] = make(map[string]string)
	}

	// Cohort size rows first.
	t.Variables = append(t.Variables, "n", "n_patients")
	for _, g := range GroupOrder {
		members := grouped[g]
		t.CohortGroups[g]["n"] = FormatCount(len(members))
		pats := make(map[string]struct{}, len(members))
		for _, r := range members {
			pats[r.PatientID] = struct{}{}
		}
		t.CohortGroups[g]["n_patients"] = FormatCount(len(pats))
	}

	for _, v := range variables() {
		switch {
		case v.num != nil:
			summarizeContinuous(t, v, grouped, log)
		case v.bin != nil:
			summarizeBinary(t, v, grouped, log)
		}
	}

	t.Organisms = organismCounts(grouped)
	return t
}

func summarizeContinuous(t *Table1, v variable, grouped map[string][]cohort.FeatureRow, log zerolog.Logger) {
	t.Variables = append(t.Variables, v.name+"_mean_sd", v.name+"_median_iqr")
	if v.trackMissing {
		t.Variables = append(t.Variables, v.name+"_missing")
	}

	var testGroups [][]float64
	for _, g := range GroupOrder {
		var vals []float64
		missing := 0
		for _, r := range grouped[g] {
			if v.recipient != nil && !v.recipient(r) {
				continue
			}
			if x := v.num(r); x != nil {
				vals = append(vals, *x)
			} else {
				missing++
			}
		}
		d := Describe(vals)
		t.CohortGroups[g][v.name+"_mean_sd"] = d.MeanSD()
		t.CohortGroups[g][v.name+"_median_iqr"] = d.MedianIQR()
		if v.trackMissing {
			t.CohortGroups[g][v.name+"_missing"] = FormatCount(missing)
		}
		if g != GroupTotal {
			testGroups = append(testGroups, vals)
		}
	}

	if v.skipTest {
		return
	}
	res, err := CompareContinuous(testGroups)
	if err != nil {
		log.Debug().Err(err).Str("variable", v.name).Msg("between-cohort test skipped")
		return
	}
	t.Tests[v.name] = res
}

func summarizeBinary(t *Table1, v variable, grouped map[string][]cohort.FeatureRow, log zerolog.Logger) {
	t.Variables = append(t.Variables, v.name)

	var yes, no []int
	for _, g := range GroupOrder {
		y, n := 0, 0
		for _, r := range grouped[g] {
			b := v.bin(r)
			if b == nil {
				continue
			}
			if *b {
				y++
			} else {
				n++
			}
		}
		t.CohortGroups[g][v.name] = FormatCountPct(y, y+n)
		if g != GroupTotal {
			yes = append(yes, y)
			no = append(no, n)
		}
	}

	if v.skipTest {
		return
	}
	res, err := CompareBinary(yes, no)
	if err != nil {
		log.Debug().Err(err).Str("variable", v.name).Msg("between-cohort test skipped")
		return
	}
	t.Tests[v.name] = res
}

// organismCounts tallies each organism category per cohort from the
// merged "; "-joined organism strings.
func organismCounts(grouped map[string][]cohort.FeatureRow) []OrganismRow {
	counts := make(map[string]map[string]int)
	for _, g := range GroupOrder {
		for _, r := range grouped[g] {
			for _, org := range strings.Split(r.OrganismCategory, "; ") {
				org = strings.TrimSpace(org)
				if org == "" {
					continue
				}
				if counts[org] == nil {
					counts[org] = make(map[string]int)
				}
				counts[org][g]++
			}
		}
	}
	organisms := make([]string, 0, len(counts))
	for org := range counts {
		organisms = append(organisms, org)
	}
	sort.Strings(organisms)

	var out []OrganismRow
	for _, org := range organisms {
		for _, g := range GroupOrder {
			out = append(out, OrganismRow{Organism: org, Group: g, Count: counts[org][g]})
		}
	}
	return out
}
