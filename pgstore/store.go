// Package pgstore persists the restricted patient-level cohort table
// into a site-local PostgreSQL database. It exists for site analysts
// who query the cohort with SQL; nothing in this package feeds the
// shareable exports.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"empyema/cohort"
)

//go:embed schema.sql
var schema string

// Store wraps a pgx pool over the site cohort database.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// Connect opens a pool against connStr and pings it.
func Connect(ctx context.Context, connStr string, log zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// EnsureSchema creates the cohort table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// cohortColumns matches the schema column order and copyValues below.
var cohortColumns = []string{
	"site_name", "hospitalization_id", "patient_id", "treatment_group",
	"admission_dttm", "discharge_dttm", "anchor_order_dttm",
	"age_at_admission", "sex_category", "race_ethnicity",
	"organism_category", "organism_count", "polymicrobial", "culture_fungus",
	"bmi", "highest_temperature", "lowest_temperature", "lowest_map",
	"highest_wbc_before_culture", "highest_creatinine_before_culture",
	"vasopressor_ever", "vasopressor_icu_ever",
	"nippv_ever", "hfno_ever", "imv_ever",
	"cefepime_ever", "ceftriaxone_ever", "piperacillin_tazobactam_ever",
	"ampicillin_sulbactam_ever", "vancomycin_ever", "metronidazole_ever",
	"clindamycin_ever", "meropenem_ever", "imipenem_ever", "ertapenem_ever",
	"gentamicin_ever", "amikacin_ever", "levofloxacin_ever", "ciprofloxacin_ever",
	"received_intrapleural_lytic", "n_doses_alteplase", "n_doses_dornase_alfa",
	"median_dose_alteplase", "median_dose_dornase_alfa",
	"received_vats_decortication", "hospital_los_days", "icu_los_days",
	"inpatient_mortality", "comorbidity_count", "severity_score",
}

func copyValues(r cohort.FeatureRow) []any {
	return []any{
		r.SiteName, r.HospitalizationID, r.PatientID, r.TreatmentGroup,
		r.AdmissionDttm, r.DischargeDttm, r.AnchorOrderDttm,
		r.AgeAtAdmission, nullStr(r.SexCategory), nullStr(r.RaceEthnicity),
		r.OrganismCategory, r.OrganismCount, r.Polymicrobial, r.CultureFungus,
		r.BMI, r.HighestTemperature, r.LowestTemperature, r.LowestMAP,
		r.HighestWBCBeforeCulture, r.HighestCreatinineBeforeCulture,
		r.VasopressorEver, r.VasopressorICUEver,
		r.NIPPVEver, r.HFNOEver, r.IMVEver,
		r.CefepimeEver, r.CeftriaxoneEver, r.PiperacillinTazobactamEver,
		r.AmpicillinSulbactamEver, r.VancomycinEver, r.MetronidazoleEver,
		r.ClindamycinEver, r.MeropenemEver, r.ImipenemEver, r.ErtapenemEver,
		r.GentamicinEver, r.AmikacinEver, r.LevofloxacinEver, r.CiprofloxacinEver,
		r.ReceivedIntrapleuralLytic, r.NDosesAlteplase, r.NDosesDornaseAlfa,
		r.MedianDoseAlteplase, r.MedianDoseDornaseAlfa,
		r.ReceivedVATS, r.HospitalLOSDays, r.ICULOSDays,
		r.InpatientMortality, r.ComorbidityCount, r.SeverityScore,
	}
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// LoadCohort replaces the site's rows inside one transaction: delete
// then bulk COPY, so a re-run leaves exactly one row per
// hospitalization.
func (s *Store) LoadCohort(ctx context.Context, site string, rows []cohort.FeatureRow) (int64, error) {
	start := time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM empyema_cohort WHERE site_name = $1`, site); err != nil {
		return 0, fmt.Errorf("clear site rows: %w", err)
	}

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{"empyema_cohort"},
		cohortColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			return copyValues(rows[i]), nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy cohort rows: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.log.Info().Str("site", site).Int64("rows", copied).
		Dur("elapsed", time.Since(start)).Msg("cohort loaded into postgres")
	return copied, nil
}

// GroupCounts returns the stored cohort sizes for one site, mostly for
// post-load verification.
func (s *Store) GroupCounts(ctx context.Context, site string) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT treatment_group, count(*) FROM empyema_cohort WHERE site_name = $1 GROUP BY treatment_group`,
		site)
	if err != nil {
		return nil, fmt.Errorf("query group counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var g string
		var n int64
		if err := rows.Scan(&g, &n); err != nil {
			return nil, fmt.Errorf("scan group count: %w", err)
		}
		counts[g] = n
	}
	return counts, rows.Err()
}
