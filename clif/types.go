package clif

import "time"

// Row types for the CLIF event tables this pipeline reads. Column names
// follow the CLIF schema so the parquet files produced by sites map
// directly onto these structs. Optional (*type) fields use the Parquet
// null bitmap; the CSV reader leaves them nil for empty cells.

// Patient is one row of clif_patient.
type Patient struct {
	PatientID         string     `parquet:"patient_id"`
	SexCategory       string     `parquet:"sex_category,optional"`
	RaceCategory      string     `parquet:"race_category,optional"`
	EthnicityCategory string     `parquet:"ethnicity_category,optional"`
	DeathDttm         *time.Time `parquet:"death_dttm,optional,timestamp(millisecond)"`
}

// Hospitalization is one row of clif_hospitalization, the unit of
// analysis for the whole pipeline.
type Hospitalization struct {
	PatientID         string     `parquet:"patient_id"`
	HospitalizationID string     `parquet:"hospitalization_id"`
	AdmissionDttm     *time.Time `parquet:"admission_dttm,optional,timestamp(millisecond)"`
	DischargeDttm     *time.Time `parquet:"discharge_dttm,optional,timestamp(millisecond)"`
	AgeAtAdmission    *float64   `parquet:"age_at_admission,optional"`
	DischargeCategory string     `parquet:"discharge_category,optional"`
}

// CultureEvent is one organism result row of clif_microbiology_culture.
// A polymicrobial culture appears as multiple rows sharing order_dttm.
type CultureEvent struct {
	PatientID         string     `parquet:"patient_id"`
	HospitalizationID string     `parquet:"hospitalization_id"`
	OrderDttm         *time.Time `parquet:"order_dttm,optional,timestamp(millisecond)"`
	CollectDttm       *time.Time `parquet:"collect_dttm,optional,timestamp(millisecond)"`
	FluidCategory     string     `parquet:"fluid_category,optional"`
	OrganismCategory  string     `parquet:"organism_category,optional"`
}

// MedAdmin is one dose row of clif_medication_admin_intermittent or
// clif_medication_admin_continuous (the two tables share this shape).
type MedAdmin struct {
	HospitalizationID string     `parquet:"hospitalization_id"`
	AdminDttm         *time.Time `parquet:"admin_dttm,optional,timestamp(millisecond)"`
	MedCategory       string     `parquet:"med_category,optional"`
	MedGroup          string     `parquet:"med_group,optional"`
	MedRouteCategory  string     `parquet:"med_route_category,optional"`
	MedDose           *float64   `parquet:"med_dose,optional"`
	MedDoseUnit       string     `parquet:"med_dose_unit,optional"`
}

// ProcedureEvent is one row of clif_patient_procedures.
type ProcedureEvent struct {
	HospitalizationID   string     `parquet:"hospitalization_id"`
	ProcedureCode       string     `parquet:"procedure_code,optional"`
	ProcedureCodeFormat string     `parquet:"procedure_code_format,optional"`
	ProcedureDttm       *time.Time `parquet:"procedure_billed_dttm,optional,timestamp(millisecond)"`
}

// DiagnosisEvent is one row of clif_hospital_diagnosis. POA is the
// present-on-admission flag ("yes"/"no", free-cased at some sites).
type DiagnosisEvent struct {
	HospitalizationID   string `parquet:"hospitalization_id"`
	DiagnosisCode       string `parquet:"diagnosis_code,optional"`
	DiagnosisCodeFormat string `parquet:"diagnosis_code_format,optional"`
	POA                 string `parquet:"poa_present,optional"`
}

// LocationStay is one ADT interval of clif_adt: a contiguous stay in one
// care-location category (ed, ward, icu, ...).
type LocationStay struct {
	HospitalizationID string     `parquet:"hospitalization_id"`
	LocationCategory  string     `parquet:"location_category,optional"`
	InDttm            *time.Time `parquet:"in_dttm,optional,timestamp(millisecond)"`
	OutDttm           *time.Time `parquet:"out_dttm,optional,timestamp(millisecond)"`
}

// Vital is one row of clif_vitals.
type Vital struct {
	HospitalizationID string     `parquet:"hospitalization_id"`
	RecordedDttm      *time.Time `parquet:"recorded_dttm,optional,timestamp(millisecond)"`
	VitalCategory     string     `parquet:"vital_category,optional"`
	VitalValue        *float64   `parquet:"vital_value,optional"`
}

// Lab is one row of clif_labs.
type Lab struct {
	HospitalizationID string     `parquet:"hospitalization_id"`
	LabResultDttm     *time.Time `parquet:"lab_result_dttm,optional,timestamp(millisecond)"`
	LabCategory       string     `parquet:"lab_category,optional"`
	LabValueNumeric   *float64   `parquet:"lab_value_numeric,optional"`
}

// RespSupport is one row of clif_respiratory_support.
type RespSupport struct {
	HospitalizationID string     `parquet:"hospitalization_id"`
	RecordedDttm      *time.Time `parquet:"recorded_dttm,optional,timestamp(millisecond)"`
	DeviceCategory    string     `parquet:"device_category,optional"`
}

// Table names the CLIF tables the pipeline can read. The value doubles
// as the file stem: clif_<table>.parquet / clif_<table>.csv.
type Table string

const (
	TablePatient          Table = "patient"
	TableHospitalization  Table = "hospitalization"
	TableMicrobiology     Table = "microbiology_culture"
	TableMedIntermittent  Table = "medication_admin_intermittent"
	TableMedContinuous    Table = "medication_admin_continuous"
	TableProcedures       Table = "patient_procedures"
	TableDiagnosis        Table = "hospital_diagnosis"
	TableADT              Table = "adt"
	TableVitals           Table = "vitals"
	TableLabs             Table = "labs"
	TableRespSupport      Table = "respiratory_support"
)
