package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Cross-site pooling of the Table1 JSON exchange documents. Sites
// export formatted aggregate strings, so aggregation parses them back,
// pools, and re-renders: sums for Ns and counts (percentages recomputed
// against the pooled denominators), averages for means and SDs, medians
// for medians and quartiles. Suppressed "<5" cells are excluded from
// pooling rather than guessed at.

// Aggregated is the pooled multi-site summary.
type Aggregated struct {
	DateGenerated string
	Sites         []string
	Variables     []string
	// Groups holds the pooled formatted value per cohort group and
	// variable; BySite keeps each site's raw string for the per-cohort
	// site-column tables.
	Groups map[string]map[string]string
	BySite map[string]map[string]map[string]string
}

// LoadSiteExports reads every site Table1 JSON under dir. File names
// are expected to contain "table1" (the site export naming convention).
func LoadSiteExports(dir string, log zerolog.Logger) ([]Table1, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*table1*.json"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no site table1 exports under %s", dir)
	}
	var sites []Table1
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		var t Table1
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
		if t.SiteName == "" {
			return nil, fmt.Errorf("%s: missing site_name", p)
		}
		normalizeExport(&t)
		log.Info().Str("site", t.SiteName).Str("path", p).Msg("site export loaded")
		sites = append(sites, t)
	}
	return sites, nil
}

// normalizeExport lowercases group and variable names so exports with
// drifted casing (Sex vs sex) pool into the same rows.
func normalizeExport(t *Table1) {
	groups := make(map[string]map[string]string, len(t.CohortGroups))
	for g, vars := range t.CohortGroups {
		m := make(map[string]string, len(vars))
		for k, v := range vars {
			m[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
		groups[strings.ToLower(strings.TrimSpace(g))] = m
	}
	t.CohortGroups = groups
}

var (
	reMeanSD    = regexp.MustCompile(`^(-?[0-9.]+) ± (-?[0-9.]+)$`)
	reMedianIQR = regexp.MustCompile(`^(-?[0-9.]+) \[(-?[0-9.]+), (-?[0-9.]+)\]$`)
	reCountPct  = regexp.MustCompile(`^([0-9]+) \((-?[0-9.]+)%\)$`)
	reCount     = regexp.MustCompile(`^[0-9]+$`)
)

// Aggregate pools the site exports into one table.
func Aggregate(sites []Table1) (*Aggregated, error) {
	if len(sites) == 0 {
		return nil, fmt.Errorf("aggregate: no site exports")
	}
	agg := &Aggregated{
		DateGenerated: time.Now().Format("2006-01-02"),
		Groups:        make(map[string]map[string]string),
		BySite:        make(map[string]map[string]map[string]string),
	}
	for _, s := range sites {
		agg.Sites = append(agg.Sites, s.SiteName)
	}

	// Variable order: first site's order, then anything only later
	// sites carry.
	seen := make(map[string]struct{})
	for _, s := range sites {
		var names []string
		for _, g := range GroupOrder {
			for name := range s.CohortGroups[g] {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				agg.Variables = append(agg.Variables, name)
			}
		}
	}

	for _, g := range GroupOrder {
		agg.Groups[g] = make(map[string]string)
		agg.BySite[g] = make(map[string]map[string]string)
		pooledN := pooledGroupN(sites, g)
		for _, name := range agg.Variables {
			var cells []string
			perSite := make(map[string]string, len(sites))
			for _, s := range sites {
				v, ok := s.CohortGroups[g][name]
				if !ok {
					continue
				}
				perSite[s.SiteName] = v
				cells = append(cells, v)
			}
			agg.BySite[g][name] = perSite
			agg.Groups[g][name] = poolCells(name, cells, pooledN)
		}
	}
	return agg, nil
}

// pooledGroupN sums the parseable per-site group sizes; suppressed
// sites contribute nothing to the denominator.
func pooledGroupN(sites []Table1, group string) int {
	total := 0
	for _, s := range sites {
		if v, ok := s.CohortGroups[group]["n"]; ok && reCount.MatchString(v) {
			n, _ := strconv.Atoi(v)
			total += n
		}
	}
	return total
}

// poolCells merges one variable's formatted values across sites.
func poolCells(name string, cells []string, pooledN int) string {
	var means, sds, medians, q1s, q3s []float64
	var counts, plains []int
	suppressedAny := false
	var other []string

	for _, c := range cells {
		switch {
		case c == suppressed || c == "":
			suppressedAny = true
		case reMeanSD.MatchString(c):
			m := reMeanSD.FindStringSubmatch(c)
			means = append(means, atof(m[1]))
			sds = append(sds, atof(m[2]))
		case reMedianIQR.MatchString(c):
			m := reMedianIQR.FindStringSubmatch(c)
			medians = append(medians, atof(m[1]))
			q1s = append(q1s, atof(m[2]))
			q3s = append(q3s, atof(m[3]))
		case reCountPct.MatchString(c):
			m := reCountPct.FindStringSubmatch(c)
			n, _ := strconv.Atoi(m[1])
			counts = append(counts, n)
		case reCount.MatchString(c):
			n, _ := strconv.Atoi(c)
			plains = append(plains, n)
		default:
			other = append(other, c)
		}
	}

	switch {
	case len(means) > 0:
		return fmt.Sprintf("%.1f ± %.1f", meanOf(means), meanOf(sds))
	case len(medians) > 0:
		return fmt.Sprintf("%.1f [%.1f, %.1f]", medianOf(medians), medianOf(q1s), medianOf(q3s))
	case len(counts) > 0:
		total := 0
		for _, n := range counts {
			total += n
		}
		return FormatCountPct(total, pooledN)
	case len(plains) > 0:
		total := 0
		for _, n := range plains {
			total += n
		}
		return FormatCount(total)
	case len(other) > 0:
		// Non-numeric cells pool only when every site agrees.
		for _, o := range other[1:] {
			if o != other[0] {
				return ""
			}
		}
		return other[0]
	case suppressedAny:
		return suppressed
	}
	return ""
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func medianOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	if len(s)%2 == 1 {
		return s[len(s)/2]
	}
	return (s[len(s)/2-1] + s[len(s)/2]) / 2
}
