// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Server        ServerConfig       `mapstructure:"server"`
	Flow          FlowConfig         `mapstructure:"flow"`
	Agents        AgentsConfig       `mapstructure:"agents"`
	Validation    ValidationConfig   `mapstructure:"validation"`
	Query         QueryConfig        `mapstructure:"query"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Model         ModelConfig        `mapstructure:"model"`
	Registry      RegistryConfig     `mapstructure:"registry"`
	Ingest        IngestConfig       `mapstructure:"ingest"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Notifications NotificationConfig `mapstructure:"notifications"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	MetricsAddress  string `mapstructure:"metrics_address"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int    `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

// FlowConfig controls the task lifecycle owned by the flow manager.
type FlowConfig struct {
	MaxRevisions      int `mapstructure:"max_revisions"`
	TimeoutMs         int `mapstructure:"timeout_ms"`
	RecentErrorsLimit int `mapstructure:"recent_errors_limit"`
}

// AgentsConfig carries the per-tier agent settings.
type AgentsConfig struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Standard     SpecialistConfig   `mapstructure:"standard_analyst"`
	Senior       SpecialistConfig   `mapstructure:"senior_analyst"`
}

type OrchestratorConfig struct {
	ClassifyTimeoutMs int `mapstructure:"classify_timeout_ms"`
}

type SpecialistConfig struct {
	BaseConfidence        float64 `mapstructure:"base_confidence"`
	MinConfidence         float64 `mapstructure:"min_confidence"`
	MaxConfidence         float64 `mapstructure:"max_confidence"`
	DegradedConfidence    float64 `mapstructure:"degraded_confidence"`
	RevisionBoost         float64 `mapstructure:"revision_boost"`
	RevisionBoostCap      float64 `mapstructure:"revision_boost_cap"`
	FailedRevisionPenalty float64 `mapstructure:"failed_revision_penalty"`
	// AnalysisDepthBonus rewards statistical and predictive content in the
	// confidence score. Zero for the standard tier.
	AnalysisDepthBonus float64 `mapstructure:"analysis_depth_bonus"`
	MaxDataSources     int     `mapstructure:"max_data_sources"`
}

// ValidationConfig carries the quality gate thresholds and weights.
type ValidationConfig struct {
	ApprovalThreshold   float64            `mapstructure:"approval_threshold"`
	RevisionBand        float64            `mapstructure:"revision_band"`
	CategoryWeights     map[string]float64 `mapstructure:"category_weights"`
	MethodologyMinConf  float64            `mapstructure:"methodology_min_confidence"`
	Denylist            []string           `mapstructure:"denylist"`
	StatisticalMinRows  int                `mapstructure:"statistical_min_rows"`
	EnhancementEnabled  bool               `mapstructure:"enhancement_enabled"`
	ReviewModelFallback float64            `mapstructure:"review_model_fallback"`
}

// QueryConfig carries the secure query engine settings.
type QueryConfig struct {
	MaxRows      int    `mapstructure:"max_rows"`
	TimeoutMs    int    `mapstructure:"timeout_ms"`
	CacheTTLMs   int    `mapstructure:"cache_ttl_ms"`
	CacheEnabled bool   `mapstructure:"cache_enabled"`
	ScopeParam   string `mapstructure:"scope_param"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses    []string `mapstructure:"addresses"`
	Username     string   `mapstructure:"username"`
	Password     string   `mapstructure:"password"`
	SSLEnabled   bool     `mapstructure:"ssl_enabled"`
	InsightIndex string   `mapstructure:"insight_index"`
}

// GetURL returns the first configured address.
func (e ElasticsearchConfig) GetURL() string {
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ModelConfig holds settings for the external generative model API.
type ModelConfig struct {
	Provider          string  `mapstructure:"provider"` // gemini or openrouter
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	Model             string  `mapstructure:"model"`
	TimeoutMs         int     `mapstructure:"timeout_ms"`
	MaxRetries        int     `mapstructure:"max_retries"`
	BackoffBaseMs     int     `mapstructure:"backoff_base_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	MaxBackoffMs      int     `mapstructure:"max_backoff_ms"`
	MaxResponseBytes  int64   `mapstructure:"max_response_bytes"`
	BreakerThreshold  int     `mapstructure:"breaker_threshold"`
	BreakerCooldownMs int     `mapstructure:"breaker_cooldown_ms"`
}

// RegistryConfig points at the analytical data source registry.
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

// IngestConfig holds settings for the report ingestion webhook.
type IngestConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	SigningSecret string `mapstructure:"signing_secret"`
	MaxAttachment int64  `mapstructure:"max_attachment_bytes"`
}

// NotificationConfig holds settings for insight delivery notifications.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled  bool   `mapstructure:"enabled"`
		SenderID string `mapstructure:"sender_id"`
		AlertTo  string `mapstructure:"alert_to"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
