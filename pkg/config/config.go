package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Carrier   CarrierConfig   `json:"carrier"`
	Providers ProvidersConfig `json:"providers"`
	Agent     AgentConfig     `json:"agent"`
	Queue     QueueConfig     `json:"queue"`
	Logging   LoggingConfig   `json:"logging"`
}

type ServerConfig struct {
	Host string `json:"host" env:"ECHODIAL_SERVER_HOST"`
	Port int    `json:"port" env:"ECHODIAL_SERVER_PORT"`
}

// CarrierConfig configures the telephony carrier used to place calls.
// Numbers is the fixed outbound caller-ID pool; effective call concurrency
// is bounded by its size.
type CarrierConfig struct {
	AccountSid        string   `json:"account_sid" env:"ECHODIAL_CARRIER_ACCOUNT_SID"`
	AuthToken         string   `json:"auth_token" env:"ECHODIAL_CARRIER_AUTH_TOKEN"`
	APIBase           string   `json:"api_base" env:"ECHODIAL_CARRIER_API_BASE"`
	Numbers           []string `json:"numbers" env:"ECHODIAL_CARRIER_NUMBERS"`
	RelayURL          string   `json:"relay_url" env:"ECHODIAL_CARRIER_RELAY_URL"`
	StatusCallbackURL string   `json:"status_callback_url" env:"ECHODIAL_CARRIER_STATUS_CALLBACK_URL"`
}

type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base"`
}

type AgentConfig struct {
	Model           string  `json:"model" env:"ECHODIAL_AGENT_MODEL"`
	ExtractionModel string  `json:"extraction_model" env:"ECHODIAL_AGENT_EXTRACTION_MODEL"`
	MaxTokens       int     `json:"max_tokens" env:"ECHODIAL_AGENT_MAX_TOKENS"`
	Temperature     float64 `json:"temperature" env:"ECHODIAL_AGENT_TEMPERATURE"`
}

type QueueConfig struct {
	DataDir             string `json:"data_dir" env:"ECHODIAL_QUEUE_DATA_DIR"`
	Workers             int    `json:"workers" env:"ECHODIAL_QUEUE_WORKERS"`
	MaxAttempts         int    `json:"max_attempts" env:"ECHODIAL_QUEUE_MAX_ATTEMPTS"`
	BackoffBaseSeconds  int    `json:"backoff_base_seconds" env:"ECHODIAL_QUEUE_BACKOFF_BASE_SECONDS"`
	CompletedRetention  int    `json:"completed_retention" env:"ECHODIAL_QUEUE_COMPLETED_RETENTION"`
	FailedRetention     int    `json:"failed_retention" env:"ECHODIAL_QUEUE_FAILED_RETENTION"`
	SetupTimeoutSeconds int    `json:"setup_timeout_seconds" env:"ECHODIAL_QUEUE_SETUP_TIMEOUT_SECONDS"`
	CallTimeoutSeconds  int    `json:"call_timeout_seconds" env:"ECHODIAL_QUEUE_CALL_TIMEOUT_SECONDS"`
	MaintenanceCron     string `json:"maintenance_cron" env:"ECHODIAL_QUEUE_MAINTENANCE_CRON"`
}

type LoggingConfig struct {
	FileEnabled     bool   `json:"file_enabled" env:"ECHODIAL_LOGGING_FILE_ENABLED"`
	FilePath        string `json:"file_path" env:"ECHODIAL_LOGGING_FILE_PATH"`
	RotationEnabled bool   `json:"rotation_enabled" env:"ECHODIAL_LOGGING_ROTATION_ENABLED"`
	MaxSizeMB       int    `json:"max_size_mb" env:"ECHODIAL_LOGGING_MAX_SIZE_MB"`
	MaxAgeDays      int    `json:"max_age_days" env:"ECHODIAL_LOGGING_MAX_AGE_DAYS"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 18600,
		},
		Carrier: CarrierConfig{
			APIBase: "https://api.twilio.com/2010-04-01",
			Numbers: []string{},
		},
		Providers: ProvidersConfig{
			Anthropic: ProviderConfig{},
			OpenAI:    ProviderConfig{},
		},
		Agent: AgentConfig{
			Model:           "claude-sonnet-4-5",
			ExtractionModel: "claude-haiku-4-5",
			MaxTokens:       1024,
			Temperature:     0.7,
		},
		Queue: QueueConfig{
			DataDir:             "~/.echodial",
			Workers:             4,
			MaxAttempts:         2,
			BackoffBaseSeconds:  5,
			CompletedRetention:  1000,
			FailedRetention:     5000,
			SetupTimeoutSeconds: 15,
			CallTimeoutSeconds:  600,
			MaintenanceCron:     "*/5 * * * *",
		},
		Logging: LoggingConfig{
			FileEnabled:     true,
			FilePath:        "~/.echodial/echodial.log",
			RotationEnabled: true,
			MaxSizeMB:       50,
			MaxAgeDays:      7,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	applyProviderEnvOverrides(cfg)
	resolveSecretRefs(cfg)

	return cfg, nil
}

func applyProviderEnvOverrides(cfg *Config) {
	bindings := []struct {
		target *ProviderConfig
		apiKey string
	}{
		{target: &cfg.Providers.Anthropic, apiKey: "ECHODIAL_PROVIDERS_ANTHROPIC_API_KEY"},
		{target: &cfg.Providers.OpenAI, apiKey: "ECHODIAL_PROVIDERS_OPENAI_API_KEY"},
	}
	for _, b := range bindings {
		if v := strings.TrimSpace(os.Getenv(b.apiKey)); v != "" {
			b.target.APIKey = v
		}
	}
}

func resolveSecretRefs(cfg *Config) {
	cfg.Carrier.AccountSid = resolveEnvRef(cfg.Carrier.AccountSid)
	cfg.Carrier.AuthToken = resolveEnvRef(cfg.Carrier.AuthToken)
	for _, p := range []*ProviderConfig{&cfg.Providers.Anthropic, &cfg.Providers.OpenAI} {
		p.APIKey = resolveEnvRef(p.APIKey)
		p.APIBase = resolveEnvRef(p.APIBase)
	}
}

// resolveEnvRef expands "$VAR" and "${VAR}" values from the environment,
// leaving the literal in place when the variable is unset.
func resolveEnvRef(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return v
	}
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		key := strings.TrimSpace(s[2 : len(s)-1])
		if key == "" {
			return v
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return v
	}
	if strings.HasPrefix(s, "$") && len(s) > 1 {
		if val, ok := os.LookupEnv(strings.TrimSpace(s[1:])); ok {
			return val
		}
	}
	return v
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DataDirPath returns the queue data directory with ~ expanded.
func (c *Config) DataDirPath() string {
	return expandHome(c.Queue.DataDir)
}

func (c *Config) Validate() error {
	if len(c.Carrier.Numbers) == 0 {
		return fmt.Errorf("carrier.numbers must list at least one outbound number")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be positive")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be positive")
	}
	return nil
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
