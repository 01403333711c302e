package clif

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// readCSV streams a CLIF CSV export and maps each record through fn.
// The first row is the header; lookups are case-insensitive on the
// trimmed column name. Timestamps are parsed in loc.
func readCSV[T any](path string, loc *time.Location, fn func(row []string, idx map[string]int, loc *time.Location) T) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", path, err)
	}
	defer f.Close()

	bufReader := bufio.NewReaderSize(f, 256*1024)

	// Skip UTF-8 BOM if present
	bom, err := bufReader.Peek(3)
	if err == nil && len(bom) >= 3 && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		bufReader.Discard(3)
	}

	reader := csv.NewReader(bufReader)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header %s: %w", path, err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var rows []T
	for {
		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("read csv %s: %w", path, err)
		}
		if len(record) == 0 || (len(record) == 1 && record[0] == "") {
			continue
		}
		rows = append(rows, fn(record, idx, loc))
	}
	return rows, nil
}

// Column access helpers, shared by all table mappers.

func valAt(row []string, idx map[string]int, col string) string {
	if i, ok := idx[col]; ok && i < len(row) {
		return strings.ToValidUTF8(strings.TrimSpace(row[i]), "�")
	}
	return ""
}

func optFloat(row []string, idx map[string]int, col string) *float64 {
	s := valAt(row, idx, col)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// csvTimeLayouts covers the timestamp encodings seen in site exports.
// Layouts without a zone are interpreted in the site timezone.
var csvTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
}

func optTime(row []string, idx map[string]int, col string, loc *time.Location) *time.Time {
	s := valAt(row, idx, col)
	if s == "" {
		return nil
	}
	for _, layout := range csvTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t
		}
	}
	return nil
}

// Per-table record mappers. Unknown or malformed cells map to the zero
// value / nil so the eligibility filter can count and drop them.

func patientFromCSV(row []string, idx map[string]int, loc *time.Location) Patient {
	return Patient{
		PatientID:         valAt(row, idx, "patient_id"),
		SexCategory:       valAt(row, idx, "sex_category"),
		RaceCategory:      valAt(row, idx, "race_category"),
		EthnicityCategory: valAt(row, idx, "ethnicity_category"),
		DeathDttm:         optTime(row, idx, "death_dttm", loc),
	}
}

func hospitalizationFromCSV(row []string, idx map[string]int, loc *time.Location) Hospitalization {
	return Hospitalization{
		PatientID:         valAt(row, idx, "patient_id"),
		HospitalizationID: valAt(row, idx, "hospitalization_id"),
		AdmissionDttm:     optTime(row, idx, "admission_dttm", loc),
		DischargeDttm:     optTime(row, idx, "discharge_dttm", loc),
		AgeAtAdmission:    optFloat(row, idx, "age_at_admission"),
		DischargeCategory: valAt(row, idx, "discharge_category"),
	}
}

func cultureFromCSV(row []string, idx map[string]int, loc *time.Location) CultureEvent {
	return CultureEvent{
		PatientID:         valAt(row, idx, "patient_id"),
		HospitalizationID: valAt(row, idx, "hospitalization_id"),
		OrderDttm:         optTime(row, idx, "order_dttm", loc),
		CollectDttm:       optTime(row, idx, "collect_dttm", loc),
		FluidCategory:     valAt(row, idx, "fluid_category"),
		OrganismCategory:  valAt(row, idx, "organism_category"),
	}
}

func medAdminFromCSV(row []string, idx map[string]int, loc *time.Location) MedAdmin {
	return MedAdmin{
		HospitalizationID: valAt(row, idx, "hospitalization_id"),
		AdminDttm:         optTime(row, idx, "admin_dttm", loc),
		MedCategory:       valAt(row, idx, "med_category"),
		MedGroup:          valAt(row, idx, "med_group"),
		MedRouteCategory:  valAt(row, idx, "med_route_category"),
		MedDose:           optFloat(row, idx, "med_dose"),
		MedDoseUnit:       valAt(row, idx, "med_dose_unit"),
	}
}

func procedureFromCSV(row []string, idx map[string]int, loc *time.Location) ProcedureEvent {
	return ProcedureEvent{
		HospitalizationID:   valAt(row, idx, "hospitalization_id"),
		ProcedureCode:       valAt(row, idx, "procedure_code"),
		ProcedureCodeFormat: valAt(row, idx, "procedure_code_format"),
		ProcedureDttm:       optTime(row, idx, "procedure_billed_dttm", loc),
	}
}

func diagnosisFromCSV(row []string, idx map[string]int, loc *time.Location) DiagnosisEvent {
	return DiagnosisEvent{
		HospitalizationID:   valAt(row, idx, "hospitalization_id"),
		DiagnosisCode:       valAt(row, idx, "diagnosis_code"),
		DiagnosisCodeFormat: valAt(row, idx, "diagnosis_code_format"),
		POA:                 valAt(row, idx, "poa_present"),
	}
}

func locationFromCSV(row []string, idx map[string]int, loc *time.Location) LocationStay {
	return LocationStay{
		HospitalizationID: valAt(row, idx, "hospitalization_id"),
		LocationCategory:  valAt(row, idx, "location_category"),
		InDttm:            optTime(row, idx, "in_dttm", loc),
		OutDttm:           optTime(row, idx, "out_dttm", loc),
	}
}

func vitalFromCSV(row []string, idx map[string]int, loc *time.Location) Vital {
	return Vital{
		HospitalizationID: valAt(row, idx, "hospitalization_id"),
		RecordedDttm:      optTime(row, idx, "recorded_dttm", loc),
		VitalCategory:     valAt(row, idx, "vital_category"),
		VitalValue:        optFloat(row, idx, "vital_value"),
	}
}

func labFromCSV(row []string, idx map[string]int, loc *time.Location) Lab {
	return Lab{
		HospitalizationID: valAt(row, idx, "hospitalization_id"),
		LabResultDttm:     optTime(row, idx, "lab_result_dttm", loc),
		LabCategory:       valAt(row, idx, "lab_category"),
		LabValueNumeric:   optFloat(row, idx, "lab_value_numeric"),
	}
}

func respSupportFromCSV(row []string, idx map[string]int, loc *time.Location) RespSupport {
	return RespSupport{
		HospitalizationID: valAt(row, idx, "hospitalization_id"),
		RecordedDttm:      optTime(row, idx, "recorded_dttm", loc),
		DeviceCategory:    valAt(row, idx, "device_category"),
	}
}
