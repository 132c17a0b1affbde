package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"echoloc/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Data        DataConfig        `yaml:"data" validate:"required"`
	Query       QueryConfig       `yaml:"query" validate:"required"`
	Sensitivity SensitivityConfig `yaml:"sensitivity" validate:"required"`
	Bootstrap   BootstrapConfig   `yaml:"bootstrap" validate:"required"`
	LogLevel    string            `yaml:"log_level" validate:"omitempty,oneof=ERROR WARN INFO DEBUG TRACE"`
}

// DataConfig holds file system locations of the trial logs
type DataConfig struct {
	LogDirs []string `yaml:"log_dirs" validate:"required,min=1,dive,required"`
}

// QueryConfig holds the canonical experiment context applied to every query
type QueryConfig struct {
	DefaultVersion string `yaml:"default_version" validate:"required"`
	DefaultModel   string `yaml:"default_model" validate:"required"`
}

// SensitivityConfig holds d-prime regularization settings
type SensitivityConfig struct {
	Epsilon float64 `yaml:"epsilon" validate:"gt=0,lt=0.5"`
}

// BootstrapConfig holds resampling settings
type BootstrapConfig struct {
	Seed            int64   `yaml:"seed"`
	Iterations      int     `yaml:"iterations" validate:"gt=0"`
	SampleSize      int     `yaml:"sample_size" validate:"gt=0"`
	Workers         int     `yaml:"workers" validate:"gte=1"`
	Strategy        string  `yaml:"strategy" validate:"oneof=pooled rmcorr"`
	LowerPercentile float64 `yaml:"lower_percentile" validate:"gte=0,lte=100"`
	UpperPercentile float64 `yaml:"upper_percentile" validate:"gte=0,lte=100,gtfield=LowerPercentile"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Data: DataConfig{
			LogDirs: []string{"./data"},
		},
		Query: QueryConfig{
			DefaultVersion: "v1-up-stims",
			DefaultModel:   "spherical",
		},
		Sensitivity: SensitivityConfig{
			Epsilon: 0.001,
		},
		Bootstrap: BootstrapConfig{
			Seed:            8675309,
			Iterations:      10000,
			SampleSize:      12,
			Workers:         1,
			Strategy:        "pooled",
			LowerPercentile: 0.025,
			UpperPercentile: 100 - 0.025,
		},
		LogLevel: "INFO",
	}
}

// Load builds configuration from defaults, an optional YAML file named by
// ECHO_CONFIG_FILE, and environment overrides, then validates it
func Load() (*Config, error) {
	config := Default()

	if path := os.Getenv("ECHO_CONFIG_FILE"); path != "" {
		if err := mergeFile(config, path); err != nil {
			return nil, errors.Wrap(err, "failed to load configuration file")
		}
	}

	applyEnv(config)

	if err := Validate(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func mergeFile(config *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.IOError(path, err)
	}
	if err := yaml.Unmarshal(raw, config); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return nil
}

func applyEnv(config *Config) {
	if dirs := os.Getenv("ECHO_DATA_DIRS"); dirs != "" {
		config.Data.LogDirs = splitList(dirs)
	}
	config.Query.DefaultVersion = getEnvOrDefault("ECHO_DEFAULT_VERSION", config.Query.DefaultVersion)
	config.Query.DefaultModel = getEnvOrDefault("ECHO_DEFAULT_MODEL", config.Query.DefaultModel)
	config.Sensitivity.Epsilon = getEnvFloatOrDefault("ECHO_EPSILON", config.Sensitivity.Epsilon)

	b := &config.Bootstrap
	b.Seed = getEnvInt64OrDefault("ECHO_BOOTSTRAP_SEED", b.Seed)
	b.Iterations = getEnvIntOrDefault("ECHO_BOOTSTRAP_ITERATIONS", b.Iterations)
	b.SampleSize = getEnvIntOrDefault("ECHO_BOOTSTRAP_SAMPLE_SIZE", b.SampleSize)
	b.Workers = getEnvIntOrDefault("ECHO_BOOTSTRAP_WORKERS", b.Workers)
	b.Strategy = getEnvOrDefault("ECHO_BOOTSTRAP_STRATEGY", b.Strategy)
	b.LowerPercentile = getEnvFloatOrDefault("ECHO_CI_LOWER", b.LowerPercentile)
	b.UpperPercentile = getEnvFloatOrDefault("ECHO_CI_UPPER", b.UpperPercentile)

	config.LogLevel = strings.ToUpper(getEnvOrDefault("LOG_LEVEL", config.LogLevel))
}

// Validate checks struct constraints
func Validate(config *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(config); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
