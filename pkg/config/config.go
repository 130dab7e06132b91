// Package config reads the process configuration once at startup.
// Every knob comes from the environment with a sensible default; CLI
// flags cover the handful of operational settings (listen address, data
// dir, log level, playbook file).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Remediation holds the knobs consumed by the executor
type Remediation struct {
	// Enabled gates Execute entirely; when false every request returns
	// a skip result
	Enabled bool

	// MaxRetries is the default retry budget when a playbook omits one
	MaxRetries int

	// RetryBaseDelay and RetryMaxDelay bound the exponential backoff
	// between primary attempts
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Scale action parameters
	AutoScaleEnabled  bool
	MaxClusterWorkers int
	ScaleUpPercentage int

	// Restart action parameters
	AutoRestartEnabled bool
	RestartTimeout     time.Duration

	// Default breaker tuning for playbooks that omit their own
	BreakerEnabled   bool
	BreakerThreshold int
	BreakerTimeout   time.Duration

	// Health verification
	HealthCheckEnabled   bool
	HealthCheckTimeout   time.Duration
	JobCompletionTimeout time.Duration

	// Per-action feature flags; a disabled action short-circuits to
	// failure without touching the breaker
	EnableJobRetry        bool
	EnableClusterRestart  bool
	EnableClusterScaling  bool
	EnableLibraryFallback bool
	EnableConfigRollback  bool
}

// Server holds the HTTP ingress and operator surface settings
type Server struct {
	ListenAddr string
	APIKey     string // required on the webhook endpoint when set
}

// Integrations holds external endpoints and credentials
type Integrations struct {
	DatabricksHost  string
	DatabricksToken string

	ADFRerunWebhookURL  string
	ADFStatusWebhookURL string

	SlackWebhookURL string

	OpenAIAPIKey string
	OpenAIModel  string
}

// Config is the full process configuration
type Config struct {
	Remediation  Remediation
	Server       Server
	Integrations Integrations

	DataDir      string
	PlaybookFile string
	LogLevel     string
	LogJSON      bool
}

// FromEnv reads configuration from the environment, applying defaults
func FromEnv() *Config {
	return &Config{
		Remediation: Remediation{
			Enabled:        envBool("AUTO_REMEDIATION_ENABLED", false),
			MaxRetries:     envInt("AUTO_REMEDIATION_MAX_RETRIES", 3),
			RetryBaseDelay: envSeconds("RETRY_BASE_DELAY_SECONDS", 30),
			RetryMaxDelay:  envSeconds("RETRY_MAX_DELAY_SECONDS", 300),

			AutoScaleEnabled:  envBool("AUTO_SCALE_ENABLED", true),
			MaxClusterWorkers: envInt("MAX_CLUSTER_WORKERS", 10),
			ScaleUpPercentage: envInt("SCALE_UP_PERCENTAGE", 50),

			AutoRestartEnabled: envBool("AUTO_RESTART_ENABLED", true),
			RestartTimeout:     time.Duration(envInt("RESTART_TIMEOUT_MINUTES", 10)) * time.Minute,

			BreakerEnabled:   envBool("CIRCUIT_BREAKER_ENABLED", true),
			BreakerThreshold: envInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5),
			BreakerTimeout:   envSeconds("CIRCUIT_BREAKER_TIMEOUT_SECONDS", 300),

			HealthCheckEnabled:   envBool("HEALTH_CHECK_ENABLED", true),
			HealthCheckTimeout:   envSeconds("HEALTH_CHECK_TIMEOUT_SECONDS", 300),
			JobCompletionTimeout: envSeconds("JOB_COMPLETION_TIMEOUT_SECONDS", 600),

			EnableJobRetry:        envBool("ENABLE_JOB_RETRY", true),
			EnableClusterRestart:  envBool("ENABLE_CLUSTER_RESTART", true),
			EnableClusterScaling:  envBool("ENABLE_CLUSTER_SCALING", true),
			EnableLibraryFallback: envBool("ENABLE_LIBRARY_FALLBACK", true),
			EnableConfigRollback:  envBool("ENABLE_CONFIG_ROLLBACK", true),
		},
		Server: Server{
			ListenAddr: envString("LISTEN_ADDR", "127.0.0.1:8080"),
			APIKey:     envString("WEBHOOK_API_KEY", ""),
		},
		Integrations: Integrations{
			DatabricksHost:      envString("DATABRICKS_HOST", ""),
			DatabricksToken:     envString("DATABRICKS_TOKEN", ""),
			ADFRerunWebhookURL:  envString("ADF_RETRY_LOGIC_APP_WEBHOOK", ""),
			ADFStatusWebhookURL: envString("ADF_STATUS_LOGIC_APP_WEBHOOK", ""),
			SlackWebhookURL:     envString("SLACK_WEBHOOK_URL", ""),
			OpenAIAPIKey:        envString("OPENAI_API_KEY", ""),
			OpenAIModel:         envString("OPENAI_MODEL", "gpt-4o-mini"),
		},
		DataDir:      envString("DATA_DIR", "./pipeheal-data"),
		PlaybookFile: envString("PLAYBOOK_FILE", ""),
		LogLevel:     envString("LOG_LEVEL", "info"),
		LogJSON:      envBool("LOG_JSON", false),
	}
}

// ActionEnabled reports whether the per-action feature flag allows the
// named action. Actions without a flag are always enabled.
func (r Remediation) ActionEnabled(action string) bool {
	switch action {
	case "retry_job", "rerun_pipeline":
		return r.EnableJobRetry
	case "restart_cluster":
		return r.EnableClusterRestart && r.AutoRestartEnabled
	case "scale_cluster":
		return r.EnableClusterScaling && r.AutoScaleEnabled
	case "library_fallback":
		return r.EnableLibraryFallback
	case "rollback_config":
		return r.EnableConfigRollback
	default:
		return true
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envSeconds(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Second
}
