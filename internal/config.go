package internal

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the main application configuration.
type AppConfig struct {
	// Server holds HTTP server configuration.
	Server struct {
		Port           int    `yaml:"port"`
		ReadTimeoutMS  int64  `yaml:"read_timeout_ms"`
		WriteTimeoutMS int64  `yaml:"write_timeout_ms"`
		IdleTimeoutMS  int64  `yaml:"idle_timeout_ms"`
		ReadHeaderMS   int64  `yaml:"read_header_timeout_ms"`
		MaxBodyBytes   int64  `yaml:"max_body_bytes"`
		RateLimitRPS   int64  `yaml:"rate_limit_rps"`
		RateLimitBurst int64  `yaml:"rate_limit_burst"`
		MetricsEnabled bool   `yaml:"metrics_enabled"`
		MetricsPath    string `yaml:"metrics_path"`
	} `yaml:"server"`
	// Slack configures the inbound events endpoint.
	Slack SlackConfig `yaml:"slack"`
	// Sheets configures the Google Sheets row sink.
	Sheets SheetsConfig `yaml:"sheets"`
	// Mirror configures the optional record fan-out.
	Mirror MirrorConfig `yaml:"mirror"`
	// Extract configures the field extractor.
	Extract ExtractConfig `yaml:"extract"`
}

// Config is the full configuration including exclusion rules.
type Config struct {
	AppConfig `yaml:",inline"`
	Exclude   []ExclusionRule `yaml:"exclude"`
}

// SlackConfig holds the Slack Events API endpoint settings. An empty
// SigningSecret disables signature verification (local testing only).
type SlackConfig struct {
	Path          string `yaml:"path"`
	SigningSecret string `yaml:"signing_secret"`
}

// SheetsConfig addresses the spreadsheet and carries the service-account
// credentials. Either CredentialsFile points at a service-account JSON key,
// or ServiceAccountEmail and PrivateKey are set directly (the key may
// contain literal \n sequences, as env-provided keys usually do).
type SheetsConfig struct {
	SpreadsheetID       string `yaml:"spreadsheet_id"`
	Range               string `yaml:"range"`
	ValueInputOption    string `yaml:"value_input_option"`
	CredentialsFile     string `yaml:"credentials_file"`
	ServiceAccountEmail string `yaml:"service_account_email"`
	PrivateKey          string `yaml:"private_key"`
	TimeoutMS           int64  `yaml:"timeout_ms"`
	Breaker             struct {
		Enabled     bool   `yaml:"enabled"`
		MaxFailures uint32 `yaml:"max_failures"`
		OpenForMS   int64  `yaml:"open_for_ms"`
	} `yaml:"breaker"`
}

// ExtractConfig overrides the extractor's relevance keyword list. Empty
// means the built-in default set.
type ExtractConfig struct {
	Keywords []string `yaml:"keywords"`
}

// MirrorConfig holds configuration for the record mirror fan-out.
type MirrorConfig struct {
	Drivers   []string        `yaml:"drivers"`
	Topic     string          `yaml:"topic"`
	GoChannel GoChannelConfig `yaml:"gochannel"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	NATS      NATSConfig      `yaml:"nats"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	SQL       SQLConfig       `yaml:"sql"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// Enabled reports whether any mirror driver is configured.
func (m MirrorConfig) Enabled() bool {
	return len(m.Drivers) > 0
}

// GoChannelConfig holds configuration for the in-process pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer int64 `yaml:"output_buffer"`
	Persistent          bool  `yaml:"persistent"`
}

// KafkaConfig holds configuration for the Kafka mirror driver.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

// NATSConfig holds configuration for the NATS Streaming mirror driver.
type NATSConfig struct {
	ClusterID string `yaml:"cluster_id"`
	ClientID  string `yaml:"client_id"`
	URL       string `yaml:"url"`
}

// AMQPConfig holds configuration for the AMQP mirror driver.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig holds configuration for the SQL mirror driver.
type SQLConfig struct {
	Driver           string `yaml:"driver"`
	DSN              string `yaml:"dsn"`
	Dialect          string `yaml:"dialect"`
	InitializeSchema bool   `yaml:"initialize_schema"`
}

// HTTPConfig holds configuration for the HTTP mirror driver.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// LoadConfig loads the full configuration from a YAML file. Environment
// variables are expanded before parsing, defaults are applied, and
// exclusion rules are normalized.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg.AppConfig)
	normalized, err := normalizeExclusions(cfg.Exclude)
	if err != nil {
		return cfg, err
	}
	cfg.Exclude = normalized

	return cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutMS == 0 {
		cfg.Server.ReadTimeoutMS = 5000
	}
	if cfg.Server.WriteTimeoutMS == 0 {
		cfg.Server.WriteTimeoutMS = 10000
	}
	if cfg.Server.IdleTimeoutMS == 0 {
		cfg.Server.IdleTimeoutMS = 60000
	}
	if cfg.Server.ReadHeaderMS == 0 {
		cfg.Server.ReadHeaderMS = 5000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Slack.Path == "" {
		cfg.Slack.Path = "/slack/events"
	}
	if cfg.Sheets.Range == "" {
		cfg.Sheets.Range = "Sheet1!A:N"
	}
	if cfg.Sheets.ValueInputOption == "" {
		cfg.Sheets.ValueInputOption = "USER_ENTERED"
	}
	if cfg.Sheets.TimeoutMS == 0 {
		cfg.Sheets.TimeoutMS = 10000
	}
	if cfg.Sheets.Breaker.MaxFailures == 0 {
		cfg.Sheets.Breaker.MaxFailures = 5
	}
	if cfg.Sheets.Breaker.OpenForMS == 0 {
		cfg.Sheets.Breaker.OpenForMS = 30000
	}
	if cfg.Mirror.Topic == "" {
		cfg.Mirror.Topic = "sheetlog.records"
	}
	if cfg.Mirror.GoChannel.OutputChannelBuffer == 0 {
		cfg.Mirror.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Mirror.HTTP.Mode == "" {
		cfg.Mirror.HTTP.Mode = "topic_url"
	}
}

func normalizeExclusions(rules []ExclusionRule) ([]ExclusionRule, error) {
	out := make([]ExclusionRule, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		rule.When = strings.TrimSpace(rule.When)
		rule.Name = strings.TrimSpace(rule.Name)
		if rule.When == "" {
			return nil, fmt.Errorf("exclusion rule %d is missing when", i)
		}
		if rule.Name == "" {
			rule.Name = fmt.Sprintf("rule-%d", i)
		}
		out = append(out, rule)
	}
	return out, nil
}
