package report

import (
	"fmt"
	"path/filepath"

	"empyema/stats"
)

// WriteAggregated emits the pooled multi-site table plus one
// site-column table per cohort group.
func WriteAggregated(dir string, agg *stats.Aggregated) error {
	if err := ensureDir(dir); err != nil {
		return err
	}

	header := append([]string{"variable"}, stats.GroupOrder...)
	rows := make([][]string, 0, len(agg.Variables))
	for _, name := range agg.Variables {
		row := []string{name}
		for _, g := range stats.GroupOrder {
			row = append(row, agg.Groups[g][name])
		}
		rows = append(rows, row)
	}
	if err := writeCSV(filepath.Join(dir, "aggregated_table1.csv"), header, rows); err != nil {
		return err
	}

	for _, g := range stats.GroupOrder {
		header := append([]string{"variable"}, agg.Sites...)
		header = append(header, "aggregated")
		rows := make([][]string, 0, len(agg.Variables))
		for _, name := range agg.Variables {
			row := []string{name}
			for _, site := range agg.Sites {
				row = append(row, agg.BySite[g][name][site])
			}
			row = append(row, agg.Groups[g][name])
			rows = append(rows, row)
		}
		path := filepath.Join(dir, fmt.Sprintf("table1_by_site_%s.csv", g))
		if err := writeCSV(path, header, rows); err != nil {
			return err
		}
	}
	return nil
}
