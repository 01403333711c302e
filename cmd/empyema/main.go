// Command empyema runs the multi-site empyema cohort pipeline: builds
// the eligible cohort from a site's CLIF tables, classifies treatment
// groups, and emits the shareable aggregate exports plus the restricted
// patient-level outputs.
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"empyema/clif"
	"empyema/cohort"
	"empyema/dot"
	"empyema/pgstore"
	"empyema/report"
	"empyema/stats"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "empyema",
		Short: "Multi-site culture-positive empyema cohort pipeline",
	}
	rootCmd.PersistentFlags().Bool("pretty", false, "human-readable console logging")

	rootCmd.AddCommand(cohortCmd())
	rootCmd.AddCommand(table1Cmd())
	rootCmd.AddCommand(dotCmd())
	rootCmd.AddCommand(aggregateCmd())
	rootCmd.AddCommand(loadCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cmd *cobra.Command) zerolog.Logger {
	pretty, _ := cmd.Flags().GetBool("pretty")
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// pipeline is the shared cohort build: load tables, filter, classify,
// extract features.
type pipeline struct {
	cfg    *clif.SiteConfig
	ds     *clif.Dataset
	ix     *clif.Index
	rows   []cohort.FeatureRow
	funnel *cohort.Funnel
}

func runPipeline(configPath string, log zerolog.Logger) (*pipeline, error) {
	cfg, err := clif.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log = log.With().Str("site", cfg.Site).Logger()

	ds, err := clif.NewLoader(cfg, log).Load()
	if err != nil {
		return nil, err
	}
	ix := ds.BuildIndex()

	filter := &cohort.Filter{
		Site:      cfg.Site,
		StartYear: cfg.StudyStartYear,
		EndYear:   cfg.StudyEndYear,
		Log:       log,
	}
	eligible, funnel, err := filter.Run(ds)
	if err != nil {
		return nil, err
	}

	ex := &cohort.Extractor{
		Site:      cfg.Site,
		Index:     ix,
		Available: ds.Available,
		Log:       log,
	}
	rows := ex.BuildAll(eligible, funnel)
	log.Info().Int("eligible", len(eligible)).Int("rows", len(rows)).Msg("cohort built")

	return &pipeline{cfg: cfg, ds: ds, ix: ix, rows: rows, funnel: funnel}, nil
}

func cohortCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "cohort",
		Short: "Build the eligible cohort: restricted parquet + filtering funnel",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(cmd)
			p, err := runPipeline(configPath, log)
			if err != nil {
				return err
			}
			path, err := report.WriteRestrictedCohort(p.cfg.RestrictedDir, p.cfg.Site, p.rows)
			if err != nil {
				return err
			}
			log.Info().Str("path", path).Msg("restricted cohort written")
			return report.WriteFunnel(p.cfg.OutputDir, p.funnel)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "clif_config.json", "site config file")
	return cmd
}

func table1Cmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "table1",
		Short: "Cohort-stratified summary statistics and between-cohort tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(cmd)
			p, err := runPipeline(configPath, log)
			if err != nil {
				return err
			}
			t := stats.BuildTable1(p.cfg.Site, p.rows, log)
			if err := report.WriteTable1(p.cfg.OutputDir, t); err != nil {
				return err
			}
			log.Info().Str("dir", p.cfg.OutputDir).Msg("table1 exports written")
			return report.WriteFunnel(p.cfg.OutputDir, p.funnel)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "clif_config.json", "site config file")
	return cmd
}

func dotCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "dot",
		Short: "Antibiotic days of therapy per 1000 patient-days by cohort",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(cmd)
			p, err := runPipeline(configPath, log)
			if err != nil {
				return err
			}
			rep := dot.Build(p.cfg.Site, p.rows, p.ix)
			if err := report.WriteDOT(p.cfg.OutputDir, rep); err != nil {
				return err
			}
			log.Info().Str("dir", p.cfg.OutputDir).Msg("dot exports written")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "clif_config.json", "site config file")
	return cmd
}

func aggregateCmd() *cobra.Command {
	var inputDir, outputDir string
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Pool site table1 JSON exports into cross-site tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(cmd)
			sites, err := stats.LoadSiteExports(inputDir, log)
			if err != nil {
				return err
			}
			agg, err := stats.Aggregate(sites)
			if err != nil {
				return err
			}
			if err := report.WriteAggregated(outputDir, agg); err != nil {
				return err
			}
			log.Info().Int("sites", len(sites)).Str("dir", outputDir).Msg("aggregated tables written")
			return nil
		},
	}
	cmd.Flags().StringVarP(&inputDir, "input", "i", ".", "directory holding site table1 JSON exports")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "aggregated", "output directory")
	return cmd
}

func loadCmd() *cobra.Command {
	var configPath, connStr string
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load the restricted cohort table into site PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(cmd)
			ctx := context.Background()

			p, err := runPipeline(configPath, log)
			if err != nil {
				return err
			}
			store, err := pgstore.Connect(ctx, connStr, log)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}
			n, err := store.LoadCohort(ctx, p.cfg.Site, p.rows)
			if err != nil {
				return err
			}
			log.Info().Int64("rows", n).Msg("cohort stored")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "clif_config.json", "site config file")
	cmd.Flags().StringVar(&connStr, "db", "postgres://localhost:5432/empyema?sslmode=disable", "postgres connection string")
	return cmd
}
