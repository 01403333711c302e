package cohort

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"empyema/clif"
)

// Extractor computes the per-hospitalization feature vector for the
// eligible set. Availability gates come from the loaded dataset: a
// feature whose source table the site does not provide stays nil.
type Extractor struct {
	Site      string
	Index     *clif.Index
	Available map[clif.Table]bool
	// Scorer is optional; nil leaves severity not-evaluable.
	Scorer SeverityScorer
	Log    zerolog.Logger
}

// BuildAll classifies and extracts every eligible hospitalization. A
// panic inside one extraction is logged and counted on the funnel; the
// batch continues without that row.
func (e *Extractor) BuildAll(eligible []Eligible, funnel *Funnel) []FeatureRow {
	rows := make([]FeatureRow, 0, len(eligible))
	for _, el := range eligible {
		row, err := e.Extract(el)
		if err != nil {
			funnel.FeatureFailures++
			e.Log.Error().Err(err).Str("hospitalization_id", el.Hosp.HospitalizationID).
				Msg("feature extraction failed, row skipped")
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// Extract computes one hospitalization's cohort label and features.
func (e *Extractor) Extract(el Eligible) (row FeatureRow, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract %s: panic: %v", el.Hosp.HospitalizationID, r)
		}
	}()

	hospID := el.Hosp.HospitalizationID
	admission := *el.Hosp.AdmissionDttm
	discharge := *el.Hosp.DischargeDttm
	anchorWin := window{start: el.AnchorOrder, end: discharge}
	stayWin := window{start: admission, end: discharge}

	ev := Evidence{
		Anchor:     el.AnchorOrder,
		Discharge:  discharge,
		Procedures: e.Index.Procedures[hospID],
		Diagnoses:  e.Index.Diagnoses[hospID],
		Meds:       e.Index.MedsIntermittent[hospID],
	}

	row = FeatureRow{
		SiteName:          e.Site,
		HospitalizationID: hospID,
		PatientID:         el.Hosp.PatientID,
		TreatmentGroup:    string(Classify(ev)),
		AdmissionDttm:     admission,
		DischargeDttm:     discharge,
		AnchorOrderDttm:   el.AnchorOrder,
		AgeAtAdmission:    *el.Hosp.AgeAtAdmission,
		OrganismCategory:  el.Organisms,
		OrganismCount:     int32(el.OrganismCount),
		Polymicrobial:     el.OrganismCount > 1,
		CultureFungus:     organismFungal(el.Organisms),
		ReceivedVATS:      hasVATS(ev),
		HospitalLOSDays:   discharge.Sub(admission).Hours() / 24,
	}

	pat, havePatient := e.Index.Patients[el.Hosp.PatientID]
	if havePatient {
		row.SexCategory = strings.ToLower(strings.TrimSpace(pat.SexCategory))
		row.RaceEthnicity = raceEthnicity(pat.RaceCategory, pat.EthnicityCategory)
	}
	row.InpatientMortality = inpatientDeath(el.Hosp, pat, havePatient)

	e.vitalFeatures(&row, hospID, stayWin)
	e.labFeatures(&row, hospID, anchorWin)
	e.medFeatures(&row, hospID, anchorWin)
	e.respFeatures(&row, hospID, stayWin)
	e.adtFeatures(&row, hospID, anchorWin)

	if e.Available[clif.TableDiagnosis] {
		n := int32(comorbidityCount(e.Index.Diagnoses[hospID]))
		row.ComorbidityCount = &n
	}
	if e.Scorer != nil {
		start, end := severityWindow(el.AnchorOrder, discharge)
		if score, serr := e.Scorer.Score(hospID, start, end); serr != nil {
			e.Log.Warn().Err(serr).Str("hospitalization_id", hospID).
				Msg("severity score unavailable")
		} else {
			row.SeverityScore = &score
		}
	}
	return row, nil
}

// vitalFeatures fills BMI and the stay-window temperature/MAP extremes.
func (e *Extractor) vitalFeatures(row *FeatureRow, hospID string, stay window) {
	if !e.Available[clif.TableVitals] {
		return
	}
	vitals := append([]clif.Vital(nil), e.Index.Vitals[hospID]...)
	sort.Slice(vitals, func(i, j int) bool {
		ti, tj := vitals[i].RecordedDttm, vitals[j].RecordedDttm
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		}
		return ti.Before(*tj)
	})

	var heightCm, weightKg *float64
	for _, v := range vitals {
		if v.VitalValue == nil || !stay.contains(v.RecordedDttm) {
			continue
		}
		switch strings.ToLower(v.VitalCategory) {
		case "height_cm":
			if heightCm == nil {
				heightCm = v.VitalValue
			}
		case "weight_kg":
			if weightKg == nil {
				weightKg = v.VitalValue
			}
		case "temp_c":
			row.HighestTemperature = maxPtr(row.HighestTemperature, *v.VitalValue)
			row.LowestTemperature = minPtr(row.LowestTemperature, *v.VitalValue)
		case "map":
			row.LowestMAP = minPtr(row.LowestMAP, *v.VitalValue)
		}
	}
	if heightCm != nil && weightKg != nil && *heightCm > 0 {
		m := *heightCm / 100
		bmi := *weightKg / (m * m)
		if !math.IsInf(bmi, 0) && !math.IsNaN(bmi) {
			row.BMI = &bmi
		}
	}
}

// labFeatures fills the pre-anchor WBC and creatinine maxima.
func (e *Extractor) labFeatures(row *FeatureRow, hospID string, anchor window) {
	if !e.Available[clif.TableLabs] {
		return
	}
	for _, l := range e.Index.Labs[hospID] {
		if l.LabValueNumeric == nil || !anchor.strictlyBefore(l.LabResultDttm) {
			continue
		}
		switch strings.ToLower(l.LabCategory) {
		case "wbc":
			row.HighestWBCBeforeCulture = maxPtr(row.HighestWBCBeforeCulture, *l.LabValueNumeric)
		case "creatinine":
			row.HighestCreatinineBeforeCulture = maxPtr(row.HighestCreatinineBeforeCulture, *l.LabValueNumeric)
		}
	}
}

// medFeatures fills the antibiotic ever-flags, vasopressor flag, and
// lytic dose counts/medians over the anchor-to-discharge window.
func (e *Extractor) medFeatures(row *FeatureRow, hospID string, anchor window) {
	// Intermittent meds are a required table, so these flags are always
	// evaluable for an eligible hospitalization.
	flags := make(map[string]bool, len(AntibioticCategories))
	var alteplaseDoses, dornaseDoses []float64
	for _, m := range e.Index.MedsIntermittent[hospID] {
		if !anchor.contains(m.AdminDttm) {
			continue
		}
		cat := strings.ToLower(m.MedCategory)
		if trackedAntibiotic(cat) {
			flags[cat] = true
		}
		if lyticAdmin(m) {
			row.ReceivedIntrapleuralLytic = true
			switch cat {
			case "alteplase":
				row.NDosesAlteplase++
				if m.MedDose != nil {
					alteplaseDoses = append(alteplaseDoses, *m.MedDose)
				}
			case "dornase_alfa":
				row.NDosesDornaseAlfa++
				if m.MedDose != nil {
					dornaseDoses = append(dornaseDoses, *m.MedDose)
				}
			}
		}
	}
	for _, cat := range AntibioticCategories {
		v := flags[cat]
		row.setAntibioticEver(cat, &v)
	}
	row.MedianDoseAlteplase = median(alteplaseDoses)
	row.MedianDoseDornaseAlfa = median(dornaseDoses)

	if e.Available[clif.TableMedContinuous] {
		ever := false
		for _, m := range e.Index.MedsContinuous[hospID] {
			if anchor.contains(m.AdminDttm) && inSet(vasopressorCategories, strings.ToLower(m.MedCategory)) {
				ever = true
				break
			}
		}
		row.VasopressorEver = &ever
	}
}

// respFeatures fills the respiratory-support ever-flags over the stay.
func (e *Extractor) respFeatures(row *FeatureRow, hospID string, stay window) {
	if !e.Available[clif.TableRespSupport] {
		return
	}
	nippv, hfno, imv := false, false, false
	for _, r := range e.Index.RespSupport[hospID] {
		if !stay.contains(r.RecordedDttm) {
			continue
		}
		switch strings.ToLower(r.DeviceCategory) {
		case "nippv":
			nippv = true
		case "high flow nc", "high_flow_nc", "hfno":
			hfno = true
		case "imv":
			imv = true
		}
	}
	row.NIPPVEver = &nippv
	row.HFNOEver = &hfno
	row.IMVEver = &imv
}

// adtFeatures fills ICU length of stay and the ICU-scoped vasopressor
// flag (an administration after the anchor, inside an ICU interval).
func (e *Extractor) adtFeatures(row *FeatureRow, hospID string, anchor window) {
	if !e.Available[clif.TableADT] {
		return
	}
	icu := locationIntervals(e.Index.Locations[hospID], "icu")
	los := sumDays(icu)
	row.ICULOSDays = &los

	if !e.Available[clif.TableMedContinuous] {
		return
	}
	ever := false
	for _, m := range e.Index.MedsContinuous[hospID] {
		if !anchor.contains(m.AdminDttm) || !inSet(vasopressorCategories, strings.ToLower(m.MedCategory)) {
			continue
		}
		if inAnyInterval(*m.AdminDttm, icu) {
			ever = true
			break
		}
	}
	row.VasopressorICUEver = &ever
}

func trackedAntibiotic(cat string) bool {
	for _, c := range AntibioticCategories {
		if c == cat {
			return true
		}
	}
	return false
}

// raceEthnicity buckets race and ethnicity into one reporting category;
// Hispanic ethnicity takes precedence over the recorded race.
func raceEthnicity(race, ethnicity string) string {
	e := strings.ToLower(ethnicity)
	if strings.Contains(e, "hispanic") &&
		!strings.Contains(e, "non-hispanic") && !strings.Contains(e, "non hispanic") &&
		!strings.Contains(e, "not hispanic") {
		return "hispanic"
	}
	switch r := strings.ToLower(strings.TrimSpace(race)); {
	case strings.Contains(r, "black"), strings.Contains(r, "african american"):
		return "non_hispanic_black"
	case strings.Contains(r, "white"):
		return "non_hispanic_white"
	case strings.Contains(r, "asian"):
		return "non_hispanic_asian"
	case r == "" || strings.Contains(r, "unknown"):
		return "not_reported"
	default:
		return "other"
	}
}

// inpatientDeath reports in-hospital mortality from the discharge
// disposition or a death timestamp inside the stay.
func inpatientDeath(h clif.Hospitalization, p clif.Patient, havePatient bool) bool {
	switch d := strings.ToLower(h.DischargeCategory); {
	case strings.Contains(d, "expired"), strings.Contains(d, "dead"),
		strings.Contains(d, "death"), strings.Contains(d, "died"),
		strings.Contains(d, "deceased"):
		return true
	}
	if havePatient && p.DeathDttm != nil && h.AdmissionDttm != nil && h.DischargeDttm != nil {
		t := *p.DeathDttm
		return !t.Before(*h.AdmissionDttm) && !t.After(*h.DischargeDttm)
	}
	return false
}

func maxPtr(cur *float64, v float64) *float64 {
	if cur == nil || v > *cur {
		return &v
	}
	return cur
}

func minPtr(cur *float64, v float64) *float64 {
	if cur == nil || v < *cur {
		return &v
	}
	return cur
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
