package clif

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Dataset holds one site's CLIF tables in memory. All slices are
// read-only after Load: feature computation never mutates event tables.
type Dataset struct {
	Patients         []Patient
	Hospitalizations []Hospitalization
	Cultures         []CultureEvent
	MedsIntermittent []MedAdmin
	MedsContinuous   []MedAdmin
	Procedures       []ProcedureEvent
	Diagnoses        []DiagnosisEvent
	Locations        []LocationStay
	Vitals           []Vital
	Labs             []Lab
	RespSupport      []RespSupport

	// Available marks tables that were actually loaded. A table the
	// site does not collect stays false so derived ever-flags can be
	// reported as not-evaluable instead of a silent zero.
	Available map[Table]bool
}

// requiredTables must exist for the pipeline to run at all; the rest
// degrade to not-evaluable features when missing.
var requiredTables = map[Table]bool{
	TablePatient:         true,
	TableHospitalization: true,
	TableMicrobiology:    true,
	TableMedIntermittent: true,
}

// Loader reads CLIF tables from a site data directory in the configured
// file format.
type Loader struct {
	cfg *SiteConfig
	log zerolog.Logger
}

func NewLoader(cfg *SiteConfig, log zerolog.Logger) *Loader {
	return &Loader{cfg: cfg, log: log}
}

func (l *Loader) tablePath(t Table) string {
	return filepath.Join(l.cfg.DataPath, fmt.Sprintf("clif_%s.%s", t, l.cfg.FileType))
}

// Load reads every table the site provides. Tables configured as
// unavailable are skipped; a missing file for an optional table is
// logged and treated the same way.
func (l *Loader) Load() (*Dataset, error) {
	ds := &Dataset{Available: make(map[Table]bool)}

	load := func(t Table, read func(path string, loc *time.Location) (int, error)) error {
		if !l.cfg.TableAvailable(t) {
			l.log.Info().Str("table", string(t)).Msg("table configured unavailable at site")
			return nil
		}
		path := l.tablePath(t)
		if _, err := os.Stat(path); err != nil {
			if requiredTables[t] {
				return fmt.Errorf("required table %s: %w", t, err)
			}
			l.log.Warn().Str("table", string(t)).Str("path", path).
				Msg("optional table file missing, features will be not-evaluable")
			return nil
		}
		start := time.Now()
		n, err := read(path, l.cfg.Location())
		if err != nil {
			return err
		}
		ds.Available[t] = true
		l.log.Info().Str("table", string(t)).Int("rows", n).
			Dur("elapsed", time.Since(start)).Msg("table loaded")
		return nil
	}

	steps := []struct {
		table Table
		read  func(path string, loc *time.Location) (int, error)
	}{
		{TablePatient, func(p string, loc *time.Location) (int, error) {
			var err error
			if l.cfg.FileType == "csv" {
				ds.Patients, err = readCSV(p, loc, patientFromCSV)
			} else {
				ds.Patients, err = readParquet[Patient](p)
			}
			return len(ds.Patients), err
		}},
		{TableHospitalization, func(p string, loc *time.Location) (int, error) {
			var err error
			if l.cfg.FileType == "csv" {
				ds.Hospitalizations, err = readCSV(p, loc, hospitalizationFromCSV)
			} else {
				ds.Hospitalizations, err = readParquet[Hospitalization](p)
			}
			return len(ds.Hospitalizations), err
		}},
		{TableMicrobiology, func(p string, loc *time.Location) (int, error) {
			var err error
			if l.cfg.FileType == "csv" {
				ds.Cultures, err = readCSV(p, loc, cultureFromCSV)
			} else {
				ds.Cultures, err = readParquet[CultureEvent](p)
			}
			return len(ds.Cultures), err
		}},
		{TableMedIntermittent, func(p string, loc *time.Location) (int, error) {
			var err error
			if l.cfg.FileType == "csv" {
				ds.MedsIntermittent, err = readCSV(p, loc, medAdminFromCSV)
			} else {
				ds.MedsIntermittent, err = readParquet[MedAdmin](p)
			}
			return len(ds.MedsIntermittent), err
		}},
		{TableMedContinuous, func(p string, loc *time.Location) (int, error) {
			var err error
			if l.cfg.FileType == "csv" {
				ds.MedsContinuous, err = readCSV(p, loc, medAdminFromCSV)
			} else {
				ds.MedsContinuous, err = readParquet[MedAdmin](p)
			}
			return len(ds.MedsContinuous), err
		}},
		{TableProcedures, func(p string, loc *time.Location) (int, error) {
			var err error
			if l.cfg.FileType == "csv" {
				ds.Procedures, err = readCSV(p, loc, procedureFromCSV)
			} else {
				ds.Procedures, err = readParquet[ProcedureEvent](p)
			}
			return len(ds.Procedures), err
		}},
		{TableDiagnosis, func(p string, loc *time.Location) (int, error) {
			var err error
			if l.cfg.FileType == "csv" {
				ds.Diagnoses, err = readCSV(p, loc, diagnosisFromCSV)
			} else {
				ds.Diagnoses, err = readParquet[DiagnosisEvent](p)
			}
			return len(ds.Diagnoses), err
		}},
		{TableADT, func(p string, loc *time.Location) (int, error) {
			var err error
			if l.cfg.FileType == "csv" {
				ds.Locations, err = readCSV(p, loc, locationFromCSV)
			} else {
				ds.Locations, err = readParquet[LocationStay](p)
			}
			return len(ds.Locations), err
		}},
		{TableVitals, func(p string, loc *time.Location) (int, error) {
			var err error
			if l.cfg.FileType == "csv" {
				ds.Vitals, err = readCSV(p, loc, vitalFromCSV)
			} else {
				ds.Vitals, err = readParquet[Vital](p)
			}
			return len(ds.Vitals), err
		}},
		{TableLabs, func(p string, loc *time.Location) (int, error) {
			var err error
			if l.cfg.FileType == "csv" {
				ds.Labs, err = readCSV(p, loc, labFromCSV)
			} else {
				ds.Labs, err = readParquet[Lab](p)
			}
			return len(ds.Labs), err
		}},
		{TableRespSupport, func(p string, loc *time.Location) (int, error) {
			var err error
			if l.cfg.FileType == "csv" {
				ds.RespSupport, err = readCSV(p, loc, respSupportFromCSV)
			} else {
				ds.RespSupport, err = readParquet[RespSupport](p)
			}
			return len(ds.RespSupport), err
		}},
	}

	for _, s := range steps {
		if err := load(s.table, s.read); err != nil {
			return nil, fmt.Errorf("load %s: %w", s.table, err)
		}
	}
	return ds, nil
}

// Index gives per-hospitalization access to the event tables. Built
// once after load; lookups return nil slices for absent IDs.
type Index struct {
	Patients         map[string]Patient
	MedsIntermittent map[string][]MedAdmin
	MedsContinuous   map[string][]MedAdmin
	Procedures       map[string][]ProcedureEvent
	Diagnoses        map[string][]DiagnosisEvent
	Locations        map[string][]LocationStay
	Vitals           map[string][]Vital
	Labs             map[string][]Lab
	RespSupport      map[string][]RespSupport
}

// BuildIndex groups event rows by hospitalization identifier.
func (ds *Dataset) BuildIndex() *Index {
	ix := &Index{
		Patients:         make(map[string]Patient, len(ds.Patients)),
		MedsIntermittent: make(map[string][]MedAdmin),
		MedsContinuous:   make(map[string][]MedAdmin),
		Procedures:       make(map[string][]ProcedureEvent),
		Diagnoses:        make(map[string][]DiagnosisEvent),
		Locations:        make(map[string][]LocationStay),
		Vitals:           make(map[string][]Vital),
		Labs:             make(map[string][]Lab),
		RespSupport:      make(map[string][]RespSupport),
	}
	for _, p := range ds.Patients {
		ix.Patients[p.PatientID] = p
	}
	for _, m := range ds.MedsIntermittent {
		ix.MedsIntermittent[m.HospitalizationID] = append(ix.MedsIntermittent[m.HospitalizationID], m)
	}
	for _, m := range ds.MedsContinuous {
		ix.MedsContinuous[m.HospitalizationID] = append(ix.MedsContinuous[m.HospitalizationID], m)
	}
	for _, p := range ds.Procedures {
		ix.Procedures[p.HospitalizationID] = append(ix.Procedures[p.HospitalizationID], p)
	}
	for _, d := range ds.Diagnoses {
		ix.Diagnoses[d.HospitalizationID] = append(ix.Diagnoses[d.HospitalizationID], d)
	}
	for _, l := range ds.Locations {
		ix.Locations[l.HospitalizationID] = append(ix.Locations[l.HospitalizationID], l)
	}
	for _, v := range ds.Vitals {
		ix.Vitals[v.HospitalizationID] = append(ix.Vitals[v.HospitalizationID], v)
	}
	for _, l := range ds.Labs {
		ix.Labs[l.HospitalizationID] = append(ix.Labs[l.HospitalizationID], l)
	}
	for _, r := range ds.RespSupport {
		ix.RespSupport[r.HospitalizationID] = append(ix.RespSupport[r.HospitalizationID], r)
	}
	return ix
}
