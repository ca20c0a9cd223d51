// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like MODEL_API_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment overlay, ignored when absent.
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig()

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile tries .env in the working directory and upwards, then the
// module root, so tests running from package directories still pick it up.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up directories looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// overrideEmptyConfig fills secrets from well-known env vars when the config
// file leaves them blank.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Model.APIKey == "" {
		if val := os.Getenv("MODEL_API_KEY"); val != "" {
			cfg.Model.APIKey = val
		}
	}
	if cfg.Ingest.SigningSecret == "" {
		if val := os.Getenv("INGEST_SIGNING_SECRET"); val != "" {
			cfg.Ingest.SigningSecret = val
		}
	}
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.MetricsAddress == "" {
		cfg.Server.MetricsAddress = ":9090"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10000
	}

	// Flow defaults
	if cfg.Flow.MaxRevisions == 0 {
		cfg.Flow.MaxRevisions = 2
	}
	if cfg.Flow.TimeoutMs == 0 {
		cfg.Flow.TimeoutMs = 30000
	}
	if cfg.Flow.RecentErrorsLimit == 0 {
		cfg.Flow.RecentErrorsLimit = 3
	}

	// Agent defaults
	applySpecialistDefaults(&cfg.Agents.Standard, 0.5, 0.1, 0.9, 0.3)
	applySpecialistDefaults(&cfg.Agents.Senior, 0.6, 0.2, 0.95, 0.4)
	if cfg.Agents.Senior.AnalysisDepthBonus == 0 {
		cfg.Agents.Senior.AnalysisDepthBonus = 0.05
	}
	if cfg.Agents.Orchestrator.ClassifyTimeoutMs == 0 {
		cfg.Agents.Orchestrator.ClassifyTimeoutMs = 10000
	}

	// Validation defaults
	if cfg.Validation.ApprovalThreshold == 0 {
		cfg.Validation.ApprovalThreshold = 0.85
	}
	if cfg.Validation.RevisionBand == 0 {
		cfg.Validation.RevisionBand = 0.15
	}
	if len(cfg.Validation.CategoryWeights) == 0 {
		cfg.Validation.CategoryWeights = map[string]float64{
			"data_accuracy":  0.35,
			"methodology":    0.25,
			"business_logic": 0.25,
			"compliance":     0.15,
		}
	}
	if cfg.Validation.MethodologyMinConf == 0 {
		cfg.Validation.MethodologyMinConf = 0.7
	}
	if cfg.Validation.StatisticalMinRows == 0 {
		cfg.Validation.StatisticalMinRows = 30
	}
	if cfg.Validation.ReviewModelFallback == 0 {
		cfg.Validation.ReviewModelFallback = 0.7
	}

	// Query engine defaults
	if cfg.Query.MaxRows == 0 {
		cfg.Query.MaxRows = 1000
	}
	if cfg.Query.TimeoutMs == 0 {
		cfg.Query.TimeoutMs = 10000
	}
	if cfg.Query.CacheTTLMs == 0 {
		cfg.Query.CacheTTLMs = 1800000
	}
	if cfg.Query.ScopeParam == "" {
		cfg.Query.ScopeParam = "dealership_id"
	}

	// Database defaults
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.InsightIndex == "" {
		cfg.Database.Elasticsearch.InsightIndex = "vendora-insights"
	}

	// Model defaults
	if cfg.Model.Provider == "" {
		cfg.Model.Provider = "gemini"
	}
	if cfg.Model.TimeoutMs == 0 {
		cfg.Model.TimeoutMs = 60000
	}
	if cfg.Model.MaxRetries == 0 {
		cfg.Model.MaxRetries = 3
	}
	if cfg.Model.BackoffBaseMs == 0 {
		cfg.Model.BackoffBaseMs = 200
	}
	if cfg.Model.BackoffMultiplier == 0 {
		cfg.Model.BackoffMultiplier = 2.0
	}
	if cfg.Model.MaxBackoffMs == 0 {
		cfg.Model.MaxBackoffMs = 10000
	}
	if cfg.Model.MaxResponseBytes == 0 {
		cfg.Model.MaxResponseBytes = 4 << 20
	}
	if cfg.Model.BreakerThreshold == 0 {
		cfg.Model.BreakerThreshold = 5
	}
	if cfg.Model.BreakerCooldownMs == 0 {
		cfg.Model.BreakerCooldownMs = 30000
	}

	// Registry defaults
	if cfg.Registry.Path == "" {
		cfg.Registry.Path = "configs/data_sources.json"
	}

	// Ingest defaults
	if cfg.Ingest.MaxAttachment == 0 {
		cfg.Ingest.MaxAttachment = 10 << 20
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

func applySpecialistDefaults(sc *SpecialistConfig, base, min, max, degraded float64) {
	if sc.BaseConfidence == 0 {
		sc.BaseConfidence = base
	}
	if sc.MinConfidence == 0 {
		sc.MinConfidence = min
	}
	if sc.MaxConfidence == 0 {
		sc.MaxConfidence = max
	}
	if sc.DegradedConfidence == 0 {
		sc.DegradedConfidence = degraded
	}
	if sc.RevisionBoost == 0 {
		sc.RevisionBoost = 1.1
	}
	if sc.RevisionBoostCap == 0 {
		sc.RevisionBoostCap = 0.95
	}
	if sc.FailedRevisionPenalty == 0 {
		sc.FailedRevisionPenalty = 0.8
	}
	if sc.MaxDataSources == 0 {
		sc.MaxDataSources = 3
	}
}

// validateConfig validates critical configuration fields.
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if len(cfg.Database.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("database.elasticsearch.addresses is required")
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Model.BaseURL == "" {
		return fmt.Errorf("model.base_url is required")
	}

	if cfg.Validation.RevisionBand >= cfg.Validation.ApprovalThreshold {
		return fmt.Errorf("validation.revision_band must be below validation.approval_threshold")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration.
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
