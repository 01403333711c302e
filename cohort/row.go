package cohort

import "time"

// FeatureRow is the patient-level output: one hospitalization's cohort
// assignment plus its full feature vector. Written to the restricted
// parquet output and the site Postgres store, never to the shareable
// directory.
//
// Pointer fields are nullable three ways: value absent in source data,
// source table unavailable at the site (not-evaluable), or the external
// severity scorer not wired. Plain fields are always derivable for an
// eligible hospitalization.
type FeatureRow struct {
	SiteName          string `parquet:"site_name"`
	HospitalizationID string `parquet:"hospitalization_id"`
	PatientID         string `parquet:"patient_id"`
	TreatmentGroup    string `parquet:"treatment_group"`

	AdmissionDttm   time.Time `parquet:"admission_dttm,timestamp(millisecond)"`
	DischargeDttm   time.Time `parquet:"discharge_dttm,timestamp(millisecond)"`
	AnchorOrderDttm time.Time `parquet:"anchor_order_dttm,timestamp(millisecond)"`

	AgeAtAdmission float64 `parquet:"age_at_admission"`
	SexCategory    string  `parquet:"sex_category,optional"`
	RaceEthnicity  string  `parquet:"race_ethnicity,optional"`

	OrganismCategory string `parquet:"organism_category"`
	OrganismCount    int32  `parquet:"organism_count"`
	Polymicrobial    bool   `parquet:"polymicrobial"`
	CultureFungus    bool   `parquet:"culture_fungus"`

	BMI                            *float64 `parquet:"bmi,optional"`
	HighestTemperature             *float64 `parquet:"highest_temperature,optional"`
	LowestTemperature              *float64 `parquet:"lowest_temperature,optional"`
	LowestMAP                      *float64 `parquet:"lowest_map,optional"`
	HighestWBCBeforeCulture        *float64 `parquet:"highest_wbc_before_culture,optional"`
	HighestCreatinineBeforeCulture *float64 `parquet:"highest_creatinine_before_culture,optional"`

	VasopressorEver    *bool `parquet:"vasopressor_ever,optional"`
	VasopressorICUEver *bool `parquet:"vasopressor_icu_ever,optional"`
	NIPPVEver          *bool `parquet:"nippv_ever,optional"`
	HFNOEver           *bool `parquet:"hfno_ever,optional"`
	IMVEver            *bool `parquet:"imv_ever,optional"`

	CefepimeEver               *bool `parquet:"cefepime_ever,optional"`
	CeftriaxoneEver            *bool `parquet:"ceftriaxone_ever,optional"`
	PiperacillinTazobactamEver *bool `parquet:"piperacillin_tazobactam_ever,optional"`
	AmpicillinSulbactamEver    *bool `parquet:"ampicillin_sulbactam_ever,optional"`
	VancomycinEver             *bool `parquet:"vancomycin_ever,optional"`
	MetronidazoleEver          *bool `parquet:"metronidazole_ever,optional"`
	ClindamycinEver            *bool `parquet:"clindamycin_ever,optional"`
	MeropenemEver              *bool `parquet:"meropenem_ever,optional"`
	ImipenemEver               *bool `parquet:"imipenem_ever,optional"`
	ErtapenemEver              *bool `parquet:"ertapenem_ever,optional"`
	GentamicinEver             *bool `parquet:"gentamicin_ever,optional"`
	AmikacinEver               *bool `parquet:"amikacin_ever,optional"`
	LevofloxacinEver           *bool `parquet:"levofloxacin_ever,optional"`
	CiprofloxacinEver          *bool `parquet:"ciprofloxacin_ever,optional"`

	ReceivedIntrapleuralLytic bool    `parquet:"received_intrapleural_lytic"`
	NDosesAlteplase           int32   `parquet:"n_doses_alteplase"`
	NDosesDornaseAlfa         int32   `parquet:"n_doses_dornase_alfa"`
	MedianDoseAlteplase       float64 `parquet:"median_dose_alteplase"`
	MedianDoseDornaseAlfa     float64 `parquet:"median_dose_dornase_alfa"`
	ReceivedVATS              bool    `parquet:"received_vats_decortication"`

	HospitalLOSDays    float64  `parquet:"hospital_los_days"`
	ICULOSDays         *float64 `parquet:"icu_los_days,optional"`
	InpatientMortality bool     `parquet:"inpatient_mortality"`
	ComorbidityCount   *int32   `parquet:"comorbidity_count,optional"`
	SeverityScore      *float64 `parquet:"severity_score,optional"`
}

// AntibioticEver returns the ever-flag for one tracked antibiotic
// category; nil means not-evaluable at this site.
func (r *FeatureRow) AntibioticEver(category string) *bool {
	switch category {
	case "cefepime":
		return r.CefepimeEver
	case "ceftriaxone":
		return r.CeftriaxoneEver
	case "piperacillin_tazobactam":
		return r.PiperacillinTazobactamEver
	case "ampicillin_sulbactam":
		return r.AmpicillinSulbactamEver
	case "vancomycin":
		return r.VancomycinEver
	case "metronidazole":
		return r.MetronidazoleEver
	case "clindamycin":
		return r.ClindamycinEver
	case "meropenem":
		return r.MeropenemEver
	case "imipenem":
		return r.ImipenemEver
	case "ertapenem":
		return r.ErtapenemEver
	case "gentamicin":
		return r.GentamicinEver
	case "amikacin":
		return r.AmikacinEver
	case "levofloxacin":
		return r.LevofloxacinEver
	case "ciprofloxacin":
		return r.CiprofloxacinEver
	}
	return nil
}

func (r *FeatureRow) setAntibioticEver(category string, v *bool) {
	switch category {
	case "cefepime":
		r.CefepimeEver = v
	case "ceftriaxone":
		r.CeftriaxoneEver = v
	case "piperacillin_tazobactam":
		r.PiperacillinTazobactamEver = v
	case "ampicillin_sulbactam":
		r.AmpicillinSulbactamEver = v
	case "vancomycin":
		r.VancomycinEver = v
	case "metronidazole":
		r.MetronidazoleEver = v
	case "clindamycin":
		r.ClindamycinEver = v
	case "meropenem":
		r.MeropenemEver = v
	case "imipenem":
		r.ImipenemEver = v
	case "ertapenem":
		r.ErtapenemEver = v
	case "gentamicin":
		r.GentamicinEver = v
	case "amikacin":
		r.AmikacinEver = v
	case "levofloxacin":
		r.LevofloxacinEver = v
	case "ciprofloxacin":
		r.CiprofloxacinEver = v
	}
}
