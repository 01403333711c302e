// Package report writes the pipeline outputs. It is the privacy
// boundary: the shareable writers only accept aggregate documents
// (summary tables, funnels, utilization rates), so patient-level rows
// cannot reach the shareable directory by construction. The restricted
// writer is the single place feature rows are persisted.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"empyema/clif"
	"empyema/cohort"
	"empyema/dot"
	"empyema/stats"
)

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", dir, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Close()
}

// WriteTable1 emits the site's shareable summary: the long CSV, the
// organisms-by-cohort counts, and the JSON exchange document the
// aggregator consumes.
func WriteTable1(dir string, t *stats.Table1) error {
	if err := ensureDir(dir); err != nil {
		return err
	}

	header := append([]string{"site_name", "variable"}, stats.GroupOrder...)
	header = append(header, "p_value", "test")
	rows := make([][]string, 0, len(t.Variables))
	for _, name := range t.Variables {
		row := []string{t.SiteName, name}
		for _, g := range stats.GroupOrder {
			row = append(row, t.CohortGroups[g][name])
		}
		if res, ok := t.TestFor(name); ok {
			row = append(row, res.Format(), res.Test)
		} else {
			row = append(row, "", "")
		}
		rows = append(rows, row)
	}
	csvPath := filepath.Join(dir, fmt.Sprintf("%s_table1.csv", t.SiteName))
	if err := writeCSV(csvPath, header, rows); err != nil {
		return err
	}

	orgRows := make([][]string, 0, len(t.Organisms))
	for _, o := range t.Organisms {
		orgRows = append(orgRows, []string{
			t.SiteName, o.Organism, o.Group, stats.FormatCount(o.Count),
		})
	}
	orgPath := filepath.Join(dir, fmt.Sprintf("%s_organisms.csv", t.SiteName))
	if err := writeCSV(orgPath, []string{"site_name", "organism_category", "cohort_group", "count"}, orgRows); err != nil {
		return err
	}

	return writeJSON(filepath.Join(dir, fmt.Sprintf("%s_table1.json", t.SiteName)), t)
}

// WriteFunnel emits the filtering funnel audit document.
func WriteFunnel(dir string, f *cohort.Funnel) error {
	if err := ensureDir(dir); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, fmt.Sprintf("%s_filtering_funnel.json", f.Site)), f)
}

// WriteDOT emits the days-of-therapy report as JSON plus a CSV
// rendition of the rate table.
func WriteDOT(dir string, rep *dot.Report) error {
	if err := ensureDir(dir); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, fmt.Sprintf("%s_dot.json", rep.SiteName)), rep); err != nil {
		return err
	}
	rows := make([][]string, 0, len(rep.Rates))
	for _, r := range rep.Rates {
		rows = append(rows, []string{
			rep.SiteName, r.Group, r.Antibiotic,
			fmt.Sprintf("%d", r.DOT),
			fmt.Sprintf("%.1f", r.PatientDays),
			fmt.Sprintf("%.2f", r.RatePer1000PD),
		})
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_dot.csv", rep.SiteName))
	header := []string{"site_name", "cohort_group", "antibiotic", "days_of_therapy", "patient_days", "dot_per_1000_patient_days"}
	return writeCSV(path, header, rows)
}

// WriteRestrictedCohort persists the patient-level feature rows to the
// restricted directory as parquet. This file stays at the site.
func WriteRestrictedCohort(dir, site string, rows []cohort.FeatureRow) (string, error) {
	if err := ensureDir(dir); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_cohort.parquet", site))
	w, err := clif.NewWriter[cohort.FeatureRow](path)
	if err != nil {
		return "", err
	}
	if err := w.Write(rows); err != nil {
		w.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}
