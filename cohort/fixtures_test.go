package cohort

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"empyema/clif"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return v
}

func tsp(t *testing.T, s string) *time.Time {
	t.Helper()
	v := ts(t, s)
	return &v
}

func f64(v float64) *float64 { return &v }

func mkHosp(t *testing.T, patID, hospID, admit, discharge string, age float64) clif.Hospitalization {
	t.Helper()
	return clif.Hospitalization{
		PatientID:         patID,
		HospitalizationID: hospID,
		AdmissionDttm:     tsp(t, admit),
		DischargeDttm:     tsp(t, discharge),
		AgeAtAdmission:    f64(age),
	}
}

func mkCulture(t *testing.T, patID, hospID, order, organism string) clif.CultureEvent {
	t.Helper()
	return clif.CultureEvent{
		PatientID:         patID,
		HospitalizationID: hospID,
		OrderDttm:         tsp(t, order),
		FluidCategory:     "pleural",
		OrganismCategory:  organism,
	}
}

// mkDailyAbx builds one qualifying administration in each of the five
// 24h buckets after order.
func mkDailyAbx(t *testing.T, hospID, order string) []clif.MedAdmin {
	t.Helper()
	anchor := ts(t, order)
	meds := make([]clif.MedAdmin, 0, abxRequiredDays)
	for d := 0; d < abxRequiredDays; d++ {
		at := anchor.Add(time.Duration(d)*24*time.Hour + time.Hour)
		meds = append(meds, clif.MedAdmin{
			HospitalizationID: hospID,
			AdminDttm:         &at,
			MedCategory:       "vancomycin",
			MedGroup:          "cms_sepsis_qualifying_antibiotics",
		})
	}
	return meds
}

func mkLytic(t *testing.T, hospID, admin, agent string, dose float64) clif.MedAdmin {
	t.Helper()
	return clif.MedAdmin{
		HospitalizationID: hospID,
		AdminDttm:         tsp(t, admin),
		MedCategory:       agent,
		MedRouteCategory:  "intrapleural",
		MedDose:           f64(dose),
	}
}

func mkProcedure(t *testing.T, hospID, code, at string) clif.ProcedureEvent {
	t.Helper()
	return clif.ProcedureEvent{
		HospitalizationID:   hospID,
		ProcedureCode:       code,
		ProcedureCodeFormat: "CPT",
		ProcedureDttm:       tsp(t, at),
	}
}

// baseDataset returns a dataset with one eligible hospitalization: an
// adult admitted in 2020 with a positive pleural culture and full
// antibiotic coverage.
func baseDataset(t *testing.T) *clif.Dataset {
	t.Helper()
	return &clif.Dataset{
		Patients: []clif.Patient{{PatientID: "p1", SexCategory: "Female", RaceCategory: "White", EthnicityCategory: "Non-Hispanic"}},
		Hospitalizations: []clif.Hospitalization{
			mkHosp(t, "p1", "h1", "2020-03-01T08:00:00Z", "2020-03-20T12:00:00Z", 57),
		},
		Cultures: []clif.CultureEvent{
			mkCulture(t, "p1", "h1", "2020-03-02T10:00:00Z", "streptococcus_anginosus"),
		},
		MedsIntermittent: mkDailyAbx(t, "h1", "2020-03-02T10:00:00Z"),
		Available: map[clif.Table]bool{
			clif.TablePatient:         true,
			clif.TableHospitalization: true,
			clif.TableMicrobiology:    true,
			clif.TableMedIntermittent: true,
		},
	}
}

func runFilter(t *testing.T, ds *clif.Dataset) ([]Eligible, *Funnel) {
	t.Helper()
	f := &Filter{Site: "testsite", StartYear: 2018, EndYear: 2024, Log: testLogger()}
	eligible, funnel, err := f.Run(ds)
	if err != nil {
		t.Fatalf("filter run: %v", err)
	}
	return eligible, funnel
}
