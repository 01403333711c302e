package cohort

import (
	"strings"
	"time"

	"empyema/clif"
)

// Cohort is the treatment group label. Every eligible hospitalization
// maps to exactly one.
type Cohort string

const (
	AntibioticsOnly    Cohort = "antibiotics_only"
	IntrapleuralLytics Cohort = "intrapleural_lytics"
	VATSCohort         Cohort = "vats_cohort"
)

// Cohorts lists the labels in priority order (most intensive first).
var Cohorts = []Cohort{VATSCohort, IntrapleuralLytics, AntibioticsOnly}

// Evidence is the per-hospitalization event slice the classifier reads.
// It is assembled only for hospitalizations that passed the eligibility
// filter, so the classifier can never label an ineligible stay.
type Evidence struct {
	Anchor     time.Time
	Discharge  time.Time
	Procedures []clif.ProcedureEvent
	Diagnoses  []clif.DiagnosisEvent
	// Meds holds the intermittent administrations for the stay; the
	// lytics trigger only looks at intrapleural fibrinolytics between
	// the anchor and discharge.
	Meds []clif.MedAdmin
}

// trigger is one classification rule: if Match fires, the
// hospitalization belongs to Label.
type trigger struct {
	Label Cohort
	Name  string
	Match func(ev Evidence) bool
}

// triggers is evaluated in order; the first match wins. The ordering
// VATS > lytics > antibiotics-only reflects clinical escalation and is
// a fixed design decision, not an artifact of the data. Do not reorder.
var triggers = []trigger{
	{
		Label: VATSCohort,
		Name:  "vats_procedure_or_diagnosis",
		Match: hasVATS,
	},
	{
		Label: IntrapleuralLytics,
		Name:  "intrapleural_fibrinolytic",
		Match: hasIntrapleuralLytic,
	},
}

// Classify assigns the treatment group for one eligible
// hospitalization. Total: falls through to antibiotics_only when no
// trigger fires.
func Classify(ev Evidence) Cohort {
	for _, t := range triggers {
		if t.Match(ev) {
			return t.Label
		}
	}
	return AntibioticsOnly
}

// hasVATS fires on any decortication/thoracoscopy/thoracotomy CPT
// procedure at any time during the stay, or an equivalent surgical
// diagnosis code with POA=no.
func hasVATS(ev Evidence) bool {
	for _, p := range ev.Procedures {
		if isCPT(p.ProcedureCodeFormat) && inSet(vatsCPTCodes, p.ProcedureCode) {
			return true
		}
	}
	for _, d := range ev.Diagnoses {
		if inSet(vatsICD10PCSCodes, d.DiagnosisCode) && poaNo(d.POA) {
			return true
		}
	}
	return false
}

// hasIntrapleuralLytic fires on any intrapleural administration of a
// designated fibrinolytic between the anchor culture order and
// discharge.
func hasIntrapleuralLytic(ev Evidence) bool {
	for _, m := range ev.Meds {
		if !lyticAdmin(m) {
			continue
		}
		t := *m.AdminDttm
		if !t.Before(ev.Anchor) && !t.After(ev.Discharge) {
			return true
		}
	}
	return false
}

// lyticAdmin is the shared predicate for a fibrinolytic given by the
// intrapleural route; category and route match case-insensitively.
func lyticAdmin(m clif.MedAdmin) bool {
	return m.AdminDttm != nil &&
		strings.ToLower(m.MedRouteCategory) == intrapleuralRoute &&
		inSet(lyticAgents, strings.ToLower(m.MedCategory))
}
