// Package config loads settings for the learning store from defaults,
// an optional config file, and environment variable overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// Config holds all settings for the learning store.
type Config struct {
	SQLite        SQLite
	Learnings     Learnings
	Consolidation Consolidation
	Embedding     Embedding
}

// SQLite holds database settings.
type SQLite struct {
	DBPath string
}

// Learnings holds file discovery and search settings.
type Learnings struct {
	GlobalDir                 string
	RepoSearchPath            string
	ArchiveDir                string
	HighConfidenceThreshold   float64
	PossiblyRelevantThreshold float64
	KeywordBoostWeight        float64
}

// Consolidation holds duplicate/outdated discovery settings.
type Consolidation struct {
	DuplicateThreshold float64
	OutdatedKeywords   []string
}

// Embedding holds embedding provider settings.
type Embedding struct {
	BaseURL        string
	Model          string
	TimeoutSeconds int
	MaxInputBytes  int
}

// DefaultOutdatedKeywords are the marker phrases scanned for during
// outdated-learning discovery.
var DefaultOutdatedKeywords = []string{
	"temporary", "workaround", "deprecated", "todo", "fixme",
	"hack", "remove later", "obsolete", "no longer needed",
}

// Load reads configuration in priority order: defaults, then the config
// file (if present), then environment variables. Invalid numeric overrides
// are logged and ignored rather than failing startup.
func Load() *Config {
	return LoadFrom(defaultConfigFile())
}

// LoadFrom loads configuration using an explicit config file path.
// An empty or missing path means file configuration is skipped.
func LoadFrom(configFile string) *Config {
	home, _ := os.UserHomeDir()

	v := viper.New()
	v.SetDefault("sqlite.db_path", filepath.Join(home, ".config", "compound-learning", "learnings.db"))
	v.SetDefault("learnings.global_dir", filepath.Join(home, ".projects", "learnings"))
	v.SetDefault("learnings.repo_search_path", home)
	v.SetDefault("learnings.archive_dir", filepath.Join(home, ".projects", "archive", "learnings"))
	v.SetDefault("learnings.high_confidence_threshold", 0.5)
	v.SetDefault("learnings.possibly_relevant_threshold", 0.7)
	v.SetDefault("learnings.keyword_boost_weight", 0.4)
	v.SetDefault("consolidation.duplicate_threshold", 0.25)
	v.SetDefault("consolidation.outdated_keywords", DefaultOutdatedKeywords)
	v.SetDefault("embedding.base_url", "http://localhost:11434/v1")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.timeout_seconds", 30)
	v.SetDefault("embedding.max_input_bytes", 8192)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					log.Warn("failed to read config file", "path", configFile, "error", err)
				}
			}
		}
	}

	// Environment overrides, same names the Python tooling used.
	bindEnv(v, "sqlite.db_path", "SQLITE_DB_PATH")
	bindEnv(v, "learnings.global_dir", "LEARNINGS_GLOBAL_DIR")
	bindEnv(v, "learnings.repo_search_path", "LEARNINGS_REPO_SEARCH_PATH")
	bindEnv(v, "learnings.archive_dir", "LEARNINGS_ARCHIVE_DIR")
	bindEnv(v, "learnings.high_confidence_threshold", "LEARNINGS_DISTANCE_THRESHOLD")
	bindEnv(v, "embedding.base_url", "EMBEDDING_BASE_URL")
	bindEnv(v, "embedding.model", "EMBEDDING_MODEL")

	cfg := &Config{
		SQLite: SQLite{
			DBPath: expandHome(v.GetString("sqlite.db_path"), home),
		},
		Learnings: Learnings{
			GlobalDir:                 expandHome(v.GetString("learnings.global_dir"), home),
			RepoSearchPath:            expandHome(v.GetString("learnings.repo_search_path"), home),
			ArchiveDir:                expandHome(v.GetString("learnings.archive_dir"), home),
			HighConfidenceThreshold:   v.GetFloat64("learnings.high_confidence_threshold"),
			PossiblyRelevantThreshold: v.GetFloat64("learnings.possibly_relevant_threshold"),
			KeywordBoostWeight:        v.GetFloat64("learnings.keyword_boost_weight"),
		},
		Consolidation: Consolidation{
			DuplicateThreshold: v.GetFloat64("consolidation.duplicate_threshold"),
			OutdatedKeywords:   v.GetStringSlice("consolidation.outdated_keywords"),
		},
		Embedding: Embedding{
			BaseURL:        v.GetString("embedding.base_url"),
			Model:          v.GetString("embedding.model"),
			TimeoutSeconds: v.GetInt("embedding.timeout_seconds"),
			MaxInputBytes:  v.GetInt("embedding.max_input_bytes"),
		},
	}

	cfg.validate()
	return cfg
}

// validate replaces out-of-range numeric values with defaults.
func (c *Config) validate() {
	if c.Learnings.HighConfidenceThreshold <= 0 || c.Learnings.HighConfidenceThreshold > 2 {
		log.Warn("invalid high confidence threshold, using default", "value", c.Learnings.HighConfidenceThreshold)
		c.Learnings.HighConfidenceThreshold = 0.5
	}
	if c.Learnings.PossiblyRelevantThreshold <= c.Learnings.HighConfidenceThreshold || c.Learnings.PossiblyRelevantThreshold > 2 {
		log.Warn("invalid possibly relevant threshold, using default", "value", c.Learnings.PossiblyRelevantThreshold)
		c.Learnings.PossiblyRelevantThreshold = 0.7
	}
	if c.Learnings.KeywordBoostWeight < 0 || c.Learnings.KeywordBoostWeight >= 1 {
		c.Learnings.KeywordBoostWeight = 0.4
	}
	if c.Consolidation.DuplicateThreshold <= 0 || c.Consolidation.DuplicateThreshold >= c.Learnings.HighConfidenceThreshold {
		c.Consolidation.DuplicateThreshold = 0.25
	}
	if len(c.Consolidation.OutdatedKeywords) == 0 {
		c.Consolidation.OutdatedKeywords = DefaultOutdatedKeywords
	}
	if c.Embedding.TimeoutSeconds <= 0 {
		c.Embedding.TimeoutSeconds = 30
	}
	if c.Embedding.MaxInputBytes <= 0 {
		c.Embedding.MaxInputBytes = 8192
	}
}

func defaultConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".config", "compound-learning", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func bindEnv(v *viper.Viper, key, envVar string) {
	if val := os.Getenv(envVar); val != "" {
		v.Set(key, val)
	}
}

func expandHome(path, home string) string {
	if home == "" {
		return path
	}
	path = strings.ReplaceAll(path, "${HOME}", home)
	if path == "~" || strings.HasPrefix(path, "~/") {
		path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}
