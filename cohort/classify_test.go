package cohort

import (
	"testing"

	"empyema/clif"
)

func testEvidence(t *testing.T) Evidence {
	t.Helper()
	return Evidence{
		Anchor:    ts(t, "2020-03-02T10:00:00Z"),
		Discharge: ts(t, "2020-03-20T12:00:00Z"),
	}
}

func TestClassifyDefaultsToAntibioticsOnly(t *testing.T) {
	if got := Classify(testEvidence(t)); got != AntibioticsOnly {
		t.Errorf("Classify = %s, want %s", got, AntibioticsOnly)
	}
}

func TestClassifyLytics(t *testing.T) {
	ev := testEvidence(t)
	ev.Meds = []clif.MedAdmin{mkLytic(t, "h1", "2020-03-05T10:00:00Z", "alteplase", 10)}
	if got := Classify(ev); got != IntrapleuralLytics {
		t.Errorf("Classify = %s, want %s", got, IntrapleuralLytics)
	}
}

func TestClassifyVATSWinsOverLytics(t *testing.T) {
	ev := testEvidence(t)
	ev.Meds = []clif.MedAdmin{mkLytic(t, "h1", "2020-03-05T10:00:00Z", "dornase_alfa", 5)}
	ev.Procedures = []clif.ProcedureEvent{mkProcedure(t, "h1", "32651", "2020-03-08T09:00:00Z")}
	if got := Classify(ev); got != VATSCohort {
		t.Errorf("Classify = %s, want %s with both triggers", got, VATSCohort)
	}
}

func TestClassifyLyticOutsideWindowIgnored(t *testing.T) {
	ev := testEvidence(t)
	// Before the anchor culture order.
	ev.Meds = []clif.MedAdmin{mkLytic(t, "h1", "2020-03-01T09:00:00Z", "alteplase", 10)}
	if got := Classify(ev); got != AntibioticsOnly {
		t.Errorf("Classify = %s, want %s for pre-anchor lytic", got, AntibioticsOnly)
	}

	// After discharge.
	ev.Meds = []clif.MedAdmin{mkLytic(t, "h1", "2020-03-21T09:00:00Z", "alteplase", 10)}
	if got := Classify(ev); got != AntibioticsOnly {
		t.Errorf("Classify = %s, want %s for post-discharge lytic", got, AntibioticsOnly)
	}
}

func TestClassifyLyticRequiresIntrapleuralRoute(t *testing.T) {
	ev := testEvidence(t)
	m := mkLytic(t, "h1", "2020-03-05T10:00:00Z", "alteplase", 10)
	m.MedRouteCategory = "intravenous"
	ev.Meds = []clif.MedAdmin{m}
	if got := Classify(ev); got != AntibioticsOnly {
		t.Errorf("Classify = %s, want %s for IV alteplase", got, AntibioticsOnly)
	}
}

func TestClassifyLyticCaseInsensitive(t *testing.T) {
	ev := testEvidence(t)
	m := mkLytic(t, "h1", "2020-03-05T10:00:00Z", "Alteplase", 10)
	m.MedRouteCategory = "Intrapleural"
	ev.Meds = []clif.MedAdmin{m}
	if got := Classify(ev); got != IntrapleuralLytics {
		t.Errorf("Classify = %s, want %s for mixed-case record", got, IntrapleuralLytics)
	}
}

func TestClassifyVATSByProcedureAnyTime(t *testing.T) {
	ev := testEvidence(t)
	// Surgical procedure before the anchor still counts.
	ev.Procedures = []clif.ProcedureEvent{mkProcedure(t, "h1", "32035", "2020-03-01T15:00:00Z")}
	if got := Classify(ev); got != VATSCohort {
		t.Errorf("Classify = %s, want %s", got, VATSCohort)
	}
}

func TestClassifyVATSRequiresCPTFormat(t *testing.T) {
	ev := testEvidence(t)
	p := mkProcedure(t, "h1", "32651", "2020-03-08T09:00:00Z")
	p.ProcedureCodeFormat = "ICD9"
	ev.Procedures = []clif.ProcedureEvent{p}
	if got := Classify(ev); got != AntibioticsOnly {
		t.Errorf("Classify = %s, want %s for non-CPT code", got, AntibioticsOnly)
	}
}

func TestClassifyVATSByDiagnosisNeedsPOANo(t *testing.T) {
	ev := testEvidence(t)
	ev.Diagnoses = []clif.DiagnosisEvent{{
		HospitalizationID:   "h1",
		DiagnosisCode:       "0BBN0ZZ",
		DiagnosisCodeFormat: "ICD10PCS",
		POA:                 "No",
	}}
	if got := Classify(ev); got != VATSCohort {
		t.Errorf("Classify = %s, want %s for POA=no surgical code", got, VATSCohort)
	}

	ev.Diagnoses[0].POA = "Yes"
	if got := Classify(ev); got != AntibioticsOnly {
		t.Errorf("Classify = %s, want %s for POA=yes", got, AntibioticsOnly)
	}
}

func TestCohortPriorityOrder(t *testing.T) {
	want := []Cohort{VATSCohort, IntrapleuralLytics, AntibioticsOnly}
	if len(Cohorts) != len(want) {
		t.Fatalf("Cohorts has %d entries", len(Cohorts))
	}
	for i, c := range want {
		if Cohorts[i] != c {
			t.Errorf("Cohorts[%d] = %s, want %s", i, Cohorts[i], c)
		}
	}
}
