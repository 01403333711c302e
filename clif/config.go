package clif

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// SiteConfig is the per-site configuration (the Go rendition of
// clif_config.json): where the CLIF tables live, how they are encoded,
// and which tables the site does not collect at all.
type SiteConfig struct {
	Site     string `mapstructure:"site"`
	DataPath string `mapstructure:"data_path"`
	FileType string `mapstructure:"file_type"` // parquet | csv
	Timezone string `mapstructure:"timezone"`

	// Study window applied by the eligibility filter.
	StudyStartYear int `mapstructure:"study_start_year"`
	StudyEndYear   int `mapstructure:"study_end_year"`

	// Tables this site does not collect. Features sourced from a table
	// listed here are reported as not-evaluable rather than false.
	TablesUnavailable []string `mapstructure:"tables_unavailable"`

	// Shareable aggregate outputs (safe for cross-site upload).
	OutputDir string `mapstructure:"output_dir"`
	// Restricted patient-level outputs. Never shared across sites.
	RestrictedDir string `mapstructure:"restricted_dir"`

	loc *time.Location
}

// LoadConfig reads a site config file (JSON, YAML, or TOML; viper
// detects by extension) and validates it.
func LoadConfig(path string) (*SiteConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("file_type", "parquet")
	v.SetDefault("timezone", "UTC")
	v.SetDefault("study_start_year", 2018)
	v.SetDefault("study_end_year", 2024)
	v.SetDefault("output_dir", "upload")
	v.SetDefault("restricted_dir", "restricted")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read site config %s: %w", path, err)
	}

	cfg := &SiteConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal site config: %w", err)
	}

	if cfg.Site == "" {
		return nil, fmt.Errorf("site config: site name is required")
	}
	if cfg.DataPath == "" {
		return nil, fmt.Errorf("site config: data_path is required")
	}
	if cfg.FileType != "parquet" && cfg.FileType != "csv" {
		return nil, fmt.Errorf("site config: file_type must be parquet or csv, got %q", cfg.FileType)
	}
	if cfg.StudyStartYear > cfg.StudyEndYear {
		return nil, fmt.Errorf("site config: study_start_year %d after study_end_year %d",
			cfg.StudyStartYear, cfg.StudyEndYear)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("site config: bad timezone %q: %w", cfg.Timezone, err)
	}
	cfg.loc = loc

	return cfg, nil
}

// Location returns the site timezone used to parse CSV timestamps.
func (c *SiteConfig) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// TableAvailable reports whether the site collects the given table.
func (c *SiteConfig) TableAvailable(t Table) bool {
	for _, name := range c.TablesUnavailable {
		if name == string(t) {
			return false
		}
	}
	return true
}
