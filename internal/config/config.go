package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/example/adaptengine/internal/database"
	"github.com/example/adaptengine/internal/engine"
)

type Config struct {
	Database   DatabaseConfig         `yaml:"database" mapstructure:"database"`
	Engine     EngineConfig           `yaml:"engine" mapstructure:"engine"`
	Estimation engine.EstimateOptions `yaml:"estimation" mapstructure:"estimation"`
	Scheduler  SchedulerConfig        `yaml:"scheduler" mapstructure:"scheduler"`
}

type DatabaseConfig struct {
	Type string `yaml:"type" mapstructure:"type"` // sqlite or postgres
	DSN  string `yaml:"dsn" mapstructure:"dsn"`
}

type EngineConfig struct {
	Formulation      string            `yaml:"formulation" mapstructure:"formulation"`
	Epsilon          float64           `yaml:"epsilon" mapstructure:"epsilon"`
	MasteryThreshold float64           `yaml:"mastery_threshold" mapstructure:"mastery_threshold"`
	ReadinessSlack   float64           `yaml:"readiness_slack" mapstructure:"readiness_slack"`
	Weights          engine.Weights    `yaml:"weights" mapstructure:"weights"`
	Defaults         ParameterDefaults `yaml:"defaults" mapstructure:"defaults"`
}

// ParameterDefaults are the probabilities used where the catalog leaves
// guess, slip, transit or prior unset.
type ParameterDefaults struct {
	Guess   float64 `yaml:"guess" mapstructure:"guess"`
	Slip    float64 `yaml:"slip" mapstructure:"slip"`
	Transit float64 `yaml:"transit" mapstructure:"transit"`
	Prior   float64 `yaml:"prior" mapstructure:"prior"`
}

type SchedulerConfig struct {
	CalibrationInterval time.Duration `yaml:"calibration_interval" mapstructure:"calibration_interval"`
	CheckpointInterval  time.Duration `yaml:"checkpoint_interval" mapstructure:"checkpoint_interval"`
}

func DefaultConfig() *Config {
	d := engine.DefaultConfig()
	return &Config{
		Database: DatabaseConfig{
			Type: database.TypeSQLite,
			DSN:  database.DefaultSQLitePath,
		},
		Engine: EngineConfig{
			Formulation:      d.Formulation,
			Epsilon:          d.Epsilon,
			MasteryThreshold: *d.MasteryThreshold,
			ReadinessSlack:   d.ReadinessSlack,
			Weights:          d.Weights,
			Defaults: ParameterDefaults{
				Guess:   d.DefaultGuess,
				Slip:    d.DefaultSlip,
				Transit: d.DefaultTransit,
				Prior:   d.DefaultPrior,
			},
		},
		Estimation: *d.Estimation,
		Scheduler: SchedulerConfig{
			CalibrationInterval: 24 * time.Hour,
			CheckpointInterval:  15 * time.Minute,
		},
	}
}

// Load reads config.yaml from the working directory or the user config
// directory, then applies ADAPTENGINE_* environment overrides. DB_TYPE is
// honoured for the database type. An explicit path skips the search.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// Search paths
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "adaptengine"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "adaptengine"))
		}
	}

	// Environment variables
	v.SetEnvPrefix("ADAPTENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("database.type", "ADAPTENGINE_DATABASE_TYPE", "DB_TYPE"); err != nil {
		return nil, err
	}
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("config: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment variables can override
// keys absent from the config file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("database.type", cfg.Database.Type)
	v.SetDefault("database.dsn", cfg.Database.DSN)

	v.SetDefault("engine.formulation", cfg.Engine.Formulation)
	v.SetDefault("engine.epsilon", cfg.Engine.Epsilon)
	v.SetDefault("engine.mastery_threshold", cfg.Engine.MasteryThreshold)
	v.SetDefault("engine.readiness_slack", cfg.Engine.ReadinessSlack)
	v.SetDefault("engine.weights.readiness", cfg.Engine.Weights.Readiness)
	v.SetDefault("engine.weights.demand", cfg.Engine.Weights.Demand)
	v.SetDefault("engine.weights.appropriateness", cfg.Engine.Weights.Appropriateness)
	v.SetDefault("engine.weights.continuity", cfg.Engine.Weights.Continuity)
	v.SetDefault("engine.defaults.guess", cfg.Engine.Defaults.Guess)
	v.SetDefault("engine.defaults.slip", cfg.Engine.Defaults.Slip)
	v.SetDefault("engine.defaults.transit", cfg.Engine.Defaults.Transit)
	v.SetDefault("engine.defaults.prior", cfg.Engine.Defaults.Prior)

	v.SetDefault("estimation.relevance_threshold", cfg.Estimation.RelevanceThreshold)
	v.SetDefault("estimation.information_threshold", cfg.Estimation.InformationThreshold)
	v.SetDefault("estimation.remove_degeneracy", cfg.Estimation.RemoveDegeneracy)

	v.SetDefault("scheduler.calibration_interval", cfg.Scheduler.CalibrationInterval)
	v.SetDefault("scheduler.checkpoint_interval", cfg.Scheduler.CheckpointInterval)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case database.TypeSQLite:
	case database.TypePostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("config: database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config: database.type %q must be sqlite or postgres", c.Database.Type)
	}

	if _, err := engine.FormulationByName(c.Engine.Formulation); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !(c.Engine.Epsilon > 0 && c.Engine.Epsilon < 0.5) {
		return fmt.Errorf("config: engine.epsilon %g out of range (0, 0.5)", c.Engine.Epsilon)
	}
	if math.IsNaN(c.Engine.MasteryThreshold) || math.IsInf(c.Engine.MasteryThreshold, 0) {
		return fmt.Errorf("config: engine.mastery_threshold must be finite")
	}
	w := c.Engine.Weights
	if w.Readiness < 0 || w.Demand < 0 || w.Appropriateness < 0 || w.Continuity < 0 {
		return fmt.Errorf("config: engine.weights must be non-negative")
	}

	d := c.Engine.Defaults
	for name, p := range map[string]float64{"guess": d.Guess, "slip": d.Slip, "prior": d.Prior} {
		if !(p > 0 && p < 1) {
			return fmt.Errorf("config: engine.defaults.%s %g out of range (0, 1)", name, p)
		}
	}
	if !(d.Transit >= 0 && d.Transit < 1) {
		return fmt.Errorf("config: engine.defaults.transit %g out of range [0, 1)", d.Transit)
	}
	if c.Estimation.InformationThreshold < 0 {
		return fmt.Errorf("config: estimation.information_threshold must not be negative")
	}

	if c.Scheduler.CalibrationInterval < 0 || c.Scheduler.CheckpointInterval < 0 {
		return fmt.Errorf("config: scheduler intervals must not be negative")
	}
	return nil
}

// ModelConfig returns the model settings as an engine.Config. The
// catalog fields are left for the caller to fill.
// Every setting is passed through as configured, so zero values here are
// not replaced by engine defaults.
func (c *Config) ModelConfig() engine.Config {
	threshold := c.Engine.MasteryThreshold
	estimation := c.Estimation
	return engine.Config{
		Formulation:      c.Engine.Formulation,
		Epsilon:          c.Engine.Epsilon,
		MasteryThreshold: &threshold,
		ReadinessSlack:   c.Engine.ReadinessSlack,
		Weights:          c.Engine.Weights,
		DefaultGuess:     c.Engine.Defaults.Guess,
		DefaultSlip:      c.Engine.Defaults.Slip,
		DefaultTransit:   c.Engine.Defaults.Transit,
		DefaultPrior:     c.Engine.Defaults.Prior,
		Estimation:       &estimation,
	}
}
