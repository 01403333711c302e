package cohort

import "strings"

// Clinical code sets and category lists driving eligibility and
// classification. Kept as package constants so the trigger definitions
// are auditable in one place.

// vatsCPTCodes are the decortication / thoracoscopy / thoracotomy CPT
// codes that put a hospitalization in the surgical cohort.
var vatsCPTCodes = codeSet(
	"32035", "32036", "32100", "32124", "32220", "32225",
	"32310", "32320", "32601", "32651", "32652", "32653",
	"32656", "32663", "32669", "32670", "32671", "32810",
)

// vatsICD10PCSCodes are the equivalent ICD-10-PCS surgical codes; a
// diagnosis-side code only triggers when coded POA=no (acquired or
// performed during the stay, not pre-existing).
var vatsICD10PCSCodes = codeSet(
	"0BBN0ZZ", "0BBN4ZZ", "0BBP0ZZ", "0BBP4ZZ",
	"0B5N0ZZ", "0B5N4ZZ", "0B5P0ZZ", "0B5P4ZZ",
	"0BDN4ZZ", "0BDP4ZZ",
)

// lyticAgents are the fibrinolytic med categories that, with an
// intrapleural route, put a hospitalization in the lytics cohort.
var lyticAgents = codeSet("alteplase", "dornase_alfa")

const intrapleuralRoute = "intrapleural"

// qualifyingAbxGroup is the med_group whose administrations satisfy the
// 5-day antibiotic inclusion rule.
const qualifyingAbxGroup = "cms_sepsis_qualifying_antibiotics"

// AntibioticCategories are the agents tracked as ever-flags and in the
// days-of-therapy variant.
var AntibioticCategories = []string{
	"cefepime", "ceftriaxone", "piperacillin_tazobactam", "ampicillin_sulbactam",
	"vancomycin", "metronidazole", "clindamycin",
	"meropenem", "imipenem", "ertapenem",
	"gentamicin", "amikacin",
	"levofloxacin", "ciprofloxacin",
}

// vasopressorCategories are continuous-infusion agents counted for the
// vasopressor ever-flag.
var vasopressorCategories = codeSet(
	"norepinephrine", "epinephrine", "phenylephrine", "angiotensin",
	"vasopressin", "dopamine", "dobutamine", "milrinone", "isoproterenol",
)

// noGrowthVariants are organism_category spellings that mean a negative
// culture.
var noGrowthVariants = codeSet("no_growth", "no growth", "nogrowth")

func codeSet(codes ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

func inSet(s map[string]struct{}, v string) bool {
	_, ok := s[v]
	return ok
}

// organismPositive reports whether an organism_category value counts as
// a positive result.
func organismPositive(organism string) bool {
	norm := strings.ToLower(strings.TrimSpace(organism))
	if norm == "" {
		return false
	}
	return !inSet(noGrowthVariants, norm)
}

// organismExcluded reports whether an organism forces exclusion of the
// whole hospitalization (TB / mycobacterial disease is a different
// clinical entity from bacterial empyema).
func organismExcluded(organism string) bool {
	norm := strings.ToLower(organism)
	return strings.Contains(norm, "tuberculosis") || strings.Contains(norm, "mycobacterium")
}

// organismFungal reports whether the merged organism string contains a
// fungal species.
func organismFungal(organisms string) bool {
	norm := strings.ToLower(organisms)
	return strings.Contains(norm, "candida") ||
		strings.Contains(norm, "aspergillus") ||
		strings.Contains(norm, "fungus")
}

// pleuralFluid reports whether a fluid_category value is a pleural
// specimen.
func pleuralFluid(fluid string) bool {
	return strings.Contains(strings.ToLower(fluid), "pleural")
}

// isCPT matches procedure_code_format values like "CPT" or "cpt4".
func isCPT(format string) bool {
	return strings.Contains(strings.ToLower(format), "cpt")
}

// poaNo matches present-on-admission flags meaning "not present on
// admission".
func poaNo(poa string) bool {
	switch strings.ToLower(strings.TrimSpace(poa)) {
	case "n", "no", "0", "false":
		return true
	}
	return false
}
