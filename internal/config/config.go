package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"pitchroom/internal/domain"
)

// Config stores runtime configuration for the pitch room client.
type Config struct {
	Backend BackendConfig            `toml:"backend"`
	Session SessionConfig            `toml:"session"`
	Judges  []domain.SpeakerIdentity `toml:"judges"`
	Rules   RulesConfig              `toml:"rules"`
	Logging LoggingConfig            `toml:"logging"`
	Kafka   KafkaConfig              `toml:"kafka"`
	Metrics MetricsConfig            `toml:"metrics"`

	// Source is the config file that was loaded, empty when none was found.
	Source string `toml:"-"`
}

type BackendConfig struct {
	BaseURL           string `toml:"base_url"`
	StartPath         string `toml:"start_path"`
	QnAPath           string `toml:"qna_path"`
	StopPath          string `toml:"stop_path"`
	AnalysisPath      string `toml:"analysis_path"`
	VideoPath         string `toml:"video_path"`
	TranscriptPath    string `toml:"transcript_path"`
	HTTPTimeoutMS     int    `toml:"http_timeout_ms"`
	DialTimeoutMS     int    `toml:"dial_timeout_ms"`
	AnalysisTimeoutMS int    `toml:"analysis_timeout_ms"`
}

func (b BackendConfig) HTTPTimeout() time.Duration {
	return time.Duration(b.HTTPTimeoutMS) * time.Millisecond
}

func (b BackendConfig) DialTimeout() time.Duration {
	return time.Duration(b.DialTimeoutMS) * time.Millisecond
}

func (b BackendConfig) AnalysisTimeout() time.Duration {
	return time.Duration(b.AnalysisTimeoutMS) * time.Millisecond
}

type SessionConfig struct {
	DurationSeconds int `toml:"duration_seconds"`
	TickMS          int `toml:"tick_ms"`
	QueueSize       int `toml:"queue_size"`
	DecodeWorkers   int `toml:"decode_workers"`
	CloseGraceMS    int `toml:"close_grace_ms"`
}

func (s SessionConfig) Duration() time.Duration {
	return time.Duration(s.DurationSeconds) * time.Second
}

func (s SessionConfig) TickInterval() time.Duration {
	return time.Duration(s.TickMS) * time.Millisecond
}

func (s SessionConfig) CloseGrace() time.Duration {
	return time.Duration(s.CloseGraceMS) * time.Millisecond
}

type RulesConfig struct {
	Path           string `toml:"path"`
	IterationLimit int    `toml:"iteration_limit"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type KafkaConfig struct {
	Enabled         bool     `toml:"enabled"`
	Brokers         []string `toml:"brokers"`
	ClientID        string   `toml:"client_id"`
	LifecycleTopic  string   `toml:"lifecycle_topic"`
	TranscriptTopic string   `toml:"transcript_topic"`
	AnalysisTopic   string   `toml:"analysis_topic"`
}

type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:           "http://localhost:8000",
			StartPath:         "/start_chat",
			QnAPath:           "/begin_qna",
			StopPath:          "/stop",
			AnalysisPath:      "/generate_analysis",
			VideoPath:         "/ws",
			TranscriptPath:    "/ws_transcript",
			HTTPTimeoutMS:     10000,
			DialTimeoutMS:     5000,
			AnalysisTimeoutMS: 60000,
		},
		Session: SessionConfig{
			DurationSeconds: 300,
			TickMS:          1000,
			QueueSize:       256,
			DecodeWorkers:   2,
			CloseGraceMS:    2000,
		},
		Judges: domain.DefaultJudges(),
		Rules: RulesConfig{
			IterationLimit: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Kafka: KafkaConfig{
			ClientID:        "pitchroom",
			LifecycleTopic:  "pitchroom.session.lifecycle",
			TranscriptTopic: "pitchroom.session.transcript",
			AnalysisTopic:   "pitchroom.session.analysis",
		},
	}
}

// Load resolves configuration from defaults, the optional config file, and
// environment variables, in that order.
func Load() (Config, error) {
	cfg := Default()

	path, err := configFilePath()
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
		cfg.Source = path
	}

	if cfg.Rules.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Rules.Path = filepath.Join(home, ".config", "pitchroom", "substitutions.rules")
		}
	}

	applyEnvOverrides(&cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	defaultJudges := cfg.Judges
	cfg.Judges = nil

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if len(cfg.Judges) == 0 {
		cfg.Judges = defaultJudges
	}
	cfg.Rules.Path = expandTilde(cfg.Rules.Path)
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Backend.BaseURL = envOrDefault("PITCHROOM_BACKEND_URL", cfg.Backend.BaseURL)
	cfg.Backend.HTTPTimeoutMS = envOrDefaultInt("PITCHROOM_HTTP_TIMEOUT_MS", cfg.Backend.HTTPTimeoutMS)
	cfg.Backend.AnalysisTimeoutMS = envOrDefaultInt("PITCHROOM_ANALYSIS_TIMEOUT_MS", cfg.Backend.AnalysisTimeoutMS)

	cfg.Session.DurationSeconds = envOrDefaultInt("PITCHROOM_SESSION_SECONDS", cfg.Session.DurationSeconds)
	cfg.Session.TickMS = envOrDefaultInt("PITCHROOM_TICK_MS", cfg.Session.TickMS)
	cfg.Session.DecodeWorkers = envOrDefaultInt("PITCHROOM_DECODE_WORKERS", cfg.Session.DecodeWorkers)

	cfg.Rules.Path = expandTilde(envOrDefault("PITCHROOM_RULES_FILE", cfg.Rules.Path))
	cfg.Rules.IterationLimit = envOrDefaultInt("PITCHROOM_RULE_ITERATION_LIMIT", cfg.Rules.IterationLimit)

	cfg.Logging.Level = envOrDefault("PITCHROOM_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envOrDefault("PITCHROOM_LOG_FORMAT", cfg.Logging.Format)

	cfg.Kafka.Enabled = envOrDefaultBool("PITCHROOM_KAFKA_ENABLED", cfg.Kafka.Enabled)
	if brokers := splitList(os.Getenv("PITCHROOM_KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.Kafka.Brokers = brokers
	}

	cfg.Metrics.Addr = envOrDefault("PITCHROOM_METRICS_ADDR", cfg.Metrics.Addr)
}

func (c *Config) normalize() {
	defaults := Default()
	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	if c.Backend.HTTPTimeoutMS <= 0 {
		c.Backend.HTTPTimeoutMS = defaults.Backend.HTTPTimeoutMS
	}
	if c.Backend.DialTimeoutMS <= 0 {
		c.Backend.DialTimeoutMS = defaults.Backend.DialTimeoutMS
	}
	if c.Backend.AnalysisTimeoutMS <= 0 {
		c.Backend.AnalysisTimeoutMS = defaults.Backend.AnalysisTimeoutMS
	}
	if c.Session.DurationSeconds <= 0 {
		c.Session.DurationSeconds = defaults.Session.DurationSeconds
	}
	if c.Session.TickMS <= 0 {
		c.Session.TickMS = defaults.Session.TickMS
	}
	if c.Session.QueueSize < 16 {
		c.Session.QueueSize = defaults.Session.QueueSize
	}
	if c.Session.DecodeWorkers < 1 {
		c.Session.DecodeWorkers = defaults.Session.DecodeWorkers
	}
	if c.Session.CloseGraceMS <= 0 {
		c.Session.CloseGraceMS = defaults.Session.CloseGraceMS
	}
	if c.Rules.IterationLimit <= 0 {
		c.Rules.IterationLimit = defaults.Rules.IterationLimit
	}
}

// Validate reports configuration that cannot produce a working client.
func (c Config) Validate() error {
	base, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid backend base_url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return fmt.Errorf("backend base_url must be http or https, got %q", c.Backend.BaseURL)
	}
	for i, judge := range c.Judges {
		if strings.TrimSpace(judge.Name) == "" {
			return fmt.Errorf("judge %d has no name", i)
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka is enabled but no brokers are configured")
	}
	return nil
}

// Encode writes c as TOML.
func (c Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// configFilePath returns $PITCHROOM_CONFIG, which must exist, or the XDG
// config file when present.
func configFilePath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("PITCHROOM_CONFIG")); explicit != "" {
		explicit = expandTilde(explicit)
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}

	var configDir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "pitchroom")
	} else if home, err := os.UserHomeDir(); err == nil {
		configDir = filepath.Join(home, ".config", "pitchroom")
	} else {
		return "", nil
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	return "", nil
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
