package cohort

import (
	"strings"

	"empyema/clif"
)

// comorbidityCategories maps a comorbidity category to the ICD-10 code
// prefixes that flag it. The count of distinct categories present
// anywhere in the hospitalization's diagnosis set is the comorbidity
// index feature. Prefix matching is done on the dotless code.
var comorbidityCategories = map[string][]string{
	"chf":               {"I50", "I110"},
	"copd":              {"J44", "J43"},
	"diabetes":          {"E10", "E11", "E13"},
	"renal_disease":     {"N18", "N19", "Z992"},
	"liver_disease":     {"K70", "K74", "K766"},
	"malignancy":        {"C"},
	"cerebrovascular":   {"I60", "I61", "I62", "I63", "I69"},
	"peripheral_vasc":   {"I70", "I71", "I73"},
	"alcohol_use":       {"F10"},
	"immunosuppression": {"D80", "D81", "D82", "D83", "D84", "Z940", "Z941", "B20"},
}

// comorbidityCount returns the number of comorbidity categories with at
// least one matching ICD-10 diagnosis code.
func comorbidityCount(diagnoses []clif.DiagnosisEvent) int {
	present := make(map[string]struct{})
	for _, d := range diagnoses {
		if !isICD10(d.DiagnosisCodeFormat) {
			continue
		}
		code := strings.ToUpper(strings.ReplaceAll(d.DiagnosisCode, ".", ""))
		if code == "" {
			continue
		}
		for cat, prefixes := range comorbidityCategories {
			if _, ok := present[cat]; ok {
				continue
			}
			for _, p := range prefixes {
				if strings.HasPrefix(code, p) {
					present[cat] = struct{}{}
					break
				}
			}
		}
	}
	return len(present)
}

func isICD10(format string) bool {
	f := strings.ToLower(format)
	return strings.Contains(f, "icd10") || strings.Contains(f, "icd-10")
}
