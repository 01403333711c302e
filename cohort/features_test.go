package cohort

import (
	"errors"
	"math"
	"testing"
	"time"

	"empyema/clif"
)

func buildExtractor(t *testing.T, ds *clif.Dataset) *Extractor {
	t.Helper()
	return &Extractor{
		Site:      "testsite",
		Index:     ds.BuildIndex(),
		Available: ds.Available,
		Log:       testLogger(),
	}
}

func baseEligible(t *testing.T, ds *clif.Dataset) Eligible {
	t.Helper()
	return Eligible{
		Hosp:          ds.Hospitalizations[0],
		AnchorOrder:   ts(t, "2020-03-02T10:00:00Z"),
		Organisms:     "streptococcus_anginosus",
		OrganismCount: 1,
	}
}

func mkVital(t *testing.T, hospID, at, category string, value float64) clif.Vital {
	t.Helper()
	return clif.Vital{
		HospitalizationID: hospID,
		RecordedDttm:      tsp(t, at),
		VitalCategory:     category,
		VitalValue:        f64(value),
	}
}

func mkLab(t *testing.T, hospID, at, category string, value float64) clif.Lab {
	t.Helper()
	return clif.Lab{
		HospitalizationID: hospID,
		LabResultDttm:     tsp(t, at),
		LabCategory:       category,
		LabValueNumeric:   f64(value),
	}
}

func TestExtractBasics(t *testing.T) {
	ds := baseDataset(t)
	ex := buildExtractor(t, ds)

	row, err := ex.Extract(baseEligible(t, ds))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if row.TreatmentGroup != string(AntibioticsOnly) {
		t.Errorf("group = %s, want antibiotics_only", row.TreatmentGroup)
	}
	if row.SexCategory != "female" {
		t.Errorf("sex = %q", row.SexCategory)
	}
	if row.RaceEthnicity != "non_hispanic_white" {
		t.Errorf("race_ethnicity = %q", row.RaceEthnicity)
	}
	if want := 19.0 + 4.0/24; math.Abs(row.HospitalLOSDays-want) > 1e-9 {
		t.Errorf("hospital LOS = %v, want %v", row.HospitalLOSDays, want)
	}
	if row.VancomycinEver == nil || !*row.VancomycinEver {
		t.Error("vancomycin ever-flag not set from administrations")
	}
	if row.CefepimeEver == nil || *row.CefepimeEver {
		t.Error("cefepime ever-flag should be evaluable false")
	}
	if row.Polymicrobial {
		t.Error("single organism flagged polymicrobial")
	}
	// Tables the site never loaded stay not-evaluable.
	if row.VasopressorEver != nil || row.IMVEver != nil || row.ICULOSDays != nil || row.ComorbidityCount != nil {
		t.Error("features from unavailable tables should be nil")
	}
	if row.SeverityScore != nil {
		t.Error("severity score set without a scorer")
	}
}

func TestExtractBMIAndVitalExtremes(t *testing.T) {
	ds := baseDataset(t)
	ds.Available[clif.TableVitals] = true
	ds.Vitals = []clif.Vital{
		mkVital(t, "h1", "2020-03-01T09:00:00Z", "height_cm", 170),
		mkVital(t, "h1", "2020-03-01T09:00:00Z", "weight_kg", 72.5),
		// A later weight must not override the first recorded one.
		mkVital(t, "h1", "2020-03-10T09:00:00Z", "weight_kg", 80),
		mkVital(t, "h1", "2020-03-03T06:00:00Z", "temp_c", 39.4),
		mkVital(t, "h1", "2020-03-04T06:00:00Z", "temp_c", 35.9),
		mkVital(t, "h1", "2020-03-03T07:00:00Z", "map", 58),
		mkVital(t, "h1", "2020-03-05T07:00:00Z", "map", 77),
	}
	ex := buildExtractor(t, ds)

	row, err := ex.Extract(baseEligible(t, ds))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if row.BMI == nil || math.Abs(*row.BMI-72.5/(1.7*1.7)) > 1e-9 {
		t.Errorf("bmi = %v", row.BMI)
	}
	if row.HighestTemperature == nil || *row.HighestTemperature != 39.4 {
		t.Errorf("highest temp = %v", row.HighestTemperature)
	}
	if row.LowestTemperature == nil || *row.LowestTemperature != 35.9 {
		t.Errorf("lowest temp = %v", row.LowestTemperature)
	}
	if row.LowestMAP == nil || *row.LowestMAP != 58 {
		t.Errorf("lowest map = %v", row.LowestMAP)
	}
}

func TestExtractPreAnchorLabs(t *testing.T) {
	ds := baseDataset(t)
	ds.Available[clif.TableLabs] = true
	ds.Labs = []clif.Lab{
		mkLab(t, "h1", "2020-03-01T12:00:00Z", "wbc", 18.2),
		mkLab(t, "h1", "2020-03-02T08:00:00Z", "wbc", 21.5),
		// At and after the anchor order: out of scope.
		mkLab(t, "h1", "2020-03-02T10:00:00Z", "wbc", 30),
		mkLab(t, "h1", "2020-03-06T10:00:00Z", "creatinine", 4),
		mkLab(t, "h1", "2020-03-02T01:00:00Z", "creatinine", 1.4),
	}
	ex := buildExtractor(t, ds)

	row, err := ex.Extract(baseEligible(t, ds))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if row.HighestWBCBeforeCulture == nil || *row.HighestWBCBeforeCulture != 21.5 {
		t.Errorf("pre-anchor wbc = %v, want 21.5", row.HighestWBCBeforeCulture)
	}
	if row.HighestCreatinineBeforeCulture == nil || *row.HighestCreatinineBeforeCulture != 1.4 {
		t.Errorf("pre-anchor creatinine = %v, want 1.4", row.HighestCreatinineBeforeCulture)
	}
}

func TestExtractVasopressorAndICUScoping(t *testing.T) {
	ds := baseDataset(t)
	ds.Available[clif.TableMedContinuous] = true
	ds.Available[clif.TableADT] = true
	norepi := func(at string) clif.MedAdmin {
		return clif.MedAdmin{
			HospitalizationID: "h1",
			AdminDttm:         tsp(t, at),
			MedCategory:       "norepinephrine",
		}
	}
	ds.MedsContinuous = []clif.MedAdmin{norepi("2020-03-03T02:00:00Z")}
	ds.Locations = []clif.LocationStay{
		{HospitalizationID: "h1", LocationCategory: "ward",
			InDttm: tsp(t, "2020-03-01T08:00:00Z"), OutDttm: tsp(t, "2020-03-05T08:00:00Z")},
		{HospitalizationID: "h1", LocationCategory: "ICU",
			InDttm: tsp(t, "2020-03-05T08:00:00Z"), OutDttm: tsp(t, "2020-03-08T08:00:00Z")},
	}
	ex := buildExtractor(t, ds)

	row, err := ex.Extract(baseEligible(t, ds))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if row.VasopressorEver == nil || !*row.VasopressorEver {
		t.Error("vasopressor_ever not set for in-window administration")
	}
	// The administration happened on the ward, not in the ICU.
	if row.VasopressorICUEver == nil || *row.VasopressorICUEver {
		t.Errorf("vasopressor_icu_ever = %v, want false", row.VasopressorICUEver)
	}
	if row.ICULOSDays == nil || math.Abs(*row.ICULOSDays-3) > 1e-9 {
		t.Errorf("icu los = %v, want 3", row.ICULOSDays)
	}

	// Same agent inside the ICU interval flips the scoped flag.
	ds.MedsContinuous = append(ds.MedsContinuous, norepi("2020-03-06T02:00:00Z"))
	ex = buildExtractor(t, ds)
	row, err = ex.Extract(baseEligible(t, ds))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if row.VasopressorICUEver == nil || !*row.VasopressorICUEver {
		t.Error("vasopressor_icu_ever not set for ICU administration")
	}
}

func TestExtractLyticDoses(t *testing.T) {
	ds := baseDataset(t)
	ds.MedsIntermittent = append(ds.MedsIntermittent,
		mkLytic(t, "h1", "2020-03-04T08:00:00Z", "alteplase", 10),
		mkLytic(t, "h1", "2020-03-05T08:00:00Z", "alteplase", 6),
		mkLytic(t, "h1", "2020-03-06T08:00:00Z", "alteplase", 8),
		mkLytic(t, "h1", "2020-03-04T09:00:00Z", "dornase_alfa", 5))
	ex := buildExtractor(t, ds)

	row, err := ex.Extract(baseEligible(t, ds))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if row.TreatmentGroup != string(IntrapleuralLytics) {
		t.Errorf("group = %s, want intrapleural_lytics", row.TreatmentGroup)
	}
	if !row.ReceivedIntrapleuralLytic {
		t.Error("lytic flag not set")
	}
	if row.NDosesAlteplase != 3 || row.NDosesDornaseAlfa != 1 {
		t.Errorf("doses = %d/%d, want 3/1", row.NDosesAlteplase, row.NDosesDornaseAlfa)
	}
	if row.MedianDoseAlteplase != 8 {
		t.Errorf("median alteplase dose = %v, want 8", row.MedianDoseAlteplase)
	}
	if row.MedianDoseDornaseAlfa != 5 {
		t.Errorf("median dornase dose = %v, want 5", row.MedianDoseDornaseAlfa)
	}
}

func TestExtractMortality(t *testing.T) {
	ds := baseDataset(t)
	ds.Hospitalizations[0].DischargeCategory = "Expired"
	ex := buildExtractor(t, ds)
	row, err := ex.Extract(baseEligible(t, ds))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !row.InpatientMortality {
		t.Error("mortality not set from discharge category")
	}

	ds = baseDataset(t)
	ds.Hospitalizations[0].DischargeCategory = "Dead"
	ex = buildExtractor(t, ds)
	row, err = ex.Extract(baseEligible(t, ds))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !row.InpatientMortality {
		t.Error("mortality not set from Dead discharge category")
	}

	ds = baseDataset(t)
	death := ts(t, "2020-03-18T00:00:00Z")
	ds.Patients[0].DeathDttm = &death
	ex = buildExtractor(t, ds)
	row, err = ex.Extract(baseEligible(t, ds))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !row.InpatientMortality {
		t.Error("mortality not set from in-stay death timestamp")
	}

	// Death after discharge is not inpatient mortality.
	ds.Patients[0].DeathDttm = tsp(t, "2020-04-18T00:00:00Z")
	ex = buildExtractor(t, ds)
	row, err = ex.Extract(baseEligible(t, ds))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if row.InpatientMortality {
		t.Error("post-discharge death counted as inpatient mortality")
	}
}

func TestExtractComorbidityCount(t *testing.T) {
	ds := baseDataset(t)
	ds.Available[clif.TableDiagnosis] = true
	ds.Diagnoses = []clif.DiagnosisEvent{
		{HospitalizationID: "h1", DiagnosisCode: "I50.9", DiagnosisCodeFormat: "ICD10CM"},
		{HospitalizationID: "h1", DiagnosisCode: "E11.65", DiagnosisCodeFormat: "ICD10CM"},
		{HospitalizationID: "h1", DiagnosisCode: "E10.9", DiagnosisCodeFormat: "ICD10CM"},
		// Non ICD-10 codes are ignored.
		{HospitalizationID: "h1", DiagnosisCode: "428.0", DiagnosisCodeFormat: "ICD9CM"},
	}
	ex := buildExtractor(t, ds)

	row, err := ex.Extract(baseEligible(t, ds))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	// chf + diabetes; the two diabetes codes collapse to one category.
	if row.ComorbidityCount == nil || *row.ComorbidityCount != 2 {
		t.Errorf("comorbidity count = %v, want 2", row.ComorbidityCount)
	}
}

type stubScorer struct {
	score float64
	err   error
}

func (s stubScorer) Score(string, time.Time, time.Time) (float64, error) {
	return s.score, s.err
}

func TestExtractSeverityScorer(t *testing.T) {
	ds := baseDataset(t)
	ex := buildExtractor(t, ds)
	ex.Scorer = stubScorer{score: 7}

	row, err := ex.Extract(baseEligible(t, ds))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if row.SeverityScore == nil || *row.SeverityScore != 7 {
		t.Errorf("severity = %v, want 7", row.SeverityScore)
	}

	ex.Scorer = stubScorer{err: errors.New("scorer offline")}
	row, err = ex.Extract(baseEligible(t, ds))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if row.SeverityScore != nil {
		t.Error("severity set despite scorer error")
	}
}

func TestBuildAllIsolatesFailures(t *testing.T) {
	ds := baseDataset(t)
	ex := buildExtractor(t, ds)

	good := baseEligible(t, ds)
	// A hospitalization with nil timestamps panics inside Extract; the
	// batch must survive and count it.
	bad := Eligible{Hosp: clif.Hospitalization{PatientID: "p9", HospitalizationID: "h9"}}

	funnel := &Funnel{}
	rows := ex.BuildAll([]Eligible{bad, good}, funnel)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].HospitalizationID != "h1" {
		t.Errorf("surviving row = %s", rows[0].HospitalizationID)
	}
	if funnel.FeatureFailures != 1 {
		t.Errorf("feature failures = %d, want 1", funnel.FeatureFailures)
	}
}

func TestRaceEthnicityBuckets(t *testing.T) {
	cases := []struct {
		race, ethnicity, want string
	}{
		{"White", "Hispanic", "hispanic"},
		{"Black or African American", "Non-Hispanic", "non_hispanic_black"},
		{"African American", "Not Hispanic", "non_hispanic_black"},
		{"White", "Non-Hispanic", "non_hispanic_white"},
		{"White", "Not Hispanic", "non_hispanic_white"},
		{"White", "Not Hispanic or Latino", "non_hispanic_white"},
		{"Asian", "Non-Hispanic", "non_hispanic_asian"},
		{"Unknown", "Non-Hispanic", "not_reported"},
		{"", "", "not_reported"},
		{"American Indian", "Non-Hispanic", "other"},
	}
	for _, tc := range cases {
		if got := raceEthnicity(tc.race, tc.ethnicity); got != tc.want {
			t.Errorf("raceEthnicity(%q, %q) = %q, want %q", tc.race, tc.ethnicity, got, tc.want)
		}
	}
}
