// Package config handles configuration loading from YAML files and environment variables.
// Configuration precedence: environment variables > config file > defaults.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vitalis-app/selector/internal/errors"
	"github.com/vitalis-app/selector/internal/models"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "15s", "30s", "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return errors.Wrapf(err, "invalid duration %q", value.Value)
		}
		d.Duration = parsed
		return nil
	default:
		return errors.Newf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all selector configuration.
type Config struct {
	Selector  SelectorConfig       `yaml:"selector"`
	Variants  []models.VariantSpec `yaml:"variants"`
	Telemetry TelemetryConfig      `yaml:"telemetry"`
	Log       LogConfig            `yaml:"log"`
	Charts    ChartsConfig         `yaml:"charts"`
	Sender    SenderConfig         `yaml:"sender"`
	MQTT      MQTTConfig           `yaml:"mqtt"`
	Host      HostConfig           `yaml:"host"`
	Logging   LoggingConfig        `yaml:"logging"`
}

// SelectorConfig tunes the aggregator and the selection policy.
type SelectorConfig struct {
	Window              int      `yaml:"window"`
	AcceptanceThreshold float64  `yaml:"acceptance_threshold"`
	SwitchMargin        float64  `yaml:"switch_margin"`
	MinDwell            Duration `yaml:"min_dwell"`
	ConfidenceWeight    float64  `yaml:"confidence_weight"`
	PowerWeight         float64  `yaml:"power_weight"`
	MaxInFlight         int      `yaml:"max_in_flight"`
}

// TelemetryConfig holds sampler settings.
type TelemetryConfig struct {
	Timeout      Duration `yaml:"timeout"`
	IdleWatts    float64  `yaml:"idle_watts"`
	PerCoreWatts float64  `yaml:"per_core_watts"`
	PowerSupply  string   `yaml:"power_supply"`
}

// LogConfig holds CSV metric log settings.
type LogConfig struct {
	Dir       string `yaml:"dir"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// ChartsConfig controls chart export on shutdown.
type ChartsConfig struct {
	OutputDir string `yaml:"output_dir"`
	PNG       bool   `yaml:"png"`
	HTML      bool   `yaml:"html"`
}

// SenderConfig holds the optional remote ingest endpoint.
type SenderConfig struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	BatchSize int    `yaml:"batch_size"`
}

// MQTTConfig holds the optional broker that receives one message per tick.
// Topic may contain {run_id}.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// HostConfig drives the bundled host binary.
type HostConfig struct {
	FrameInterval Duration `yaml:"frame_interval"`
	Frames        int      `yaml:"frames"`
	Seed          int64    `yaml:"seed"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Selector: SelectorConfig{
			Window:              30,
			AcceptanceThreshold: 0.3,
			SwitchMargin:        0.05,
			MinDwell:            Duration{2 * time.Second},
			ConfidenceWeight:    1.0,
			PowerWeight:         0.05,
			MaxInFlight:         2,
		},
		Variants: models.DefaultCatalog(),
		Telemetry: TelemetryConfig{
			Timeout:      Duration{50 * time.Millisecond},
			IdleWatts:    0.5,
			PerCoreWatts: 0.6,
		},
		Log: LogConfig{
			Dir:       "./metrics",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		Charts: ChartsConfig{
			OutputDir: "./charts",
			PNG:       true,
			HTML:      true,
		},
		Sender: SenderConfig{
			BatchSize: 50,
		},
		MQTT: MQTTConfig{
			ClientID: "adaptive-selector",
			Topic:    "selector/{run_id}/metrics",
			QoS:      0,
		},
		Host: HostConfig{
			FrameInterval: Duration{100 * time.Millisecond},
			Frames:        0,
			Seed:          1,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// Catalog returns the configured variants as a models.Catalog.
func (c *Config) Catalog() models.Catalog {
	return models.Catalog(c.Variants)
}

// LoadFromBytes parses YAML configuration from a byte slice and merges with defaults.
// Environment variables take highest precedence and override values from the byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parsing config data")
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load reads configuration from a YAML file and merges with defaults.
// If path is empty or the file does not exist, only defaults and environment
// variables are used.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromBytes(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "reading config file")
		}
		return LoadFromBytes(nil)
	}

	return LoadFromBytes(data)
}

// WriteConfig serializes the config to a YAML file at the given path.
// Creates parent directories if needed.
func WriteConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "creating config directory")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshaling config")
	}
	return os.WriteFile(path, data, 0640)
}

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "loading %s", path)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Malformed numeric values are rejected rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	if level := os.Getenv("SEL_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if dir := os.Getenv("SEL_LOG_DIR"); dir != "" {
		cfg.Log.Dir = dir
	}
	if v := os.Getenv("SEL_MAX_IN_FLIGHT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.WithHint(errors.Wrapf(err, "SEL_MAX_IN_FLIGHT=%q", v),
				"set a positive integer or unset the variable")
		}
		cfg.Selector.MaxInFlight = n
	}
	if url := os.Getenv("SEL_SENDER_URL"); url != "" {
		cfg.Sender.URL = url
	}
	if token := os.Getenv("SEL_SENDER_TOKEN"); token != "" {
		cfg.Sender.Token = token
	}
	if broker := os.Getenv("SEL_MQTT_BROKER"); broker != "" {
		cfg.MQTT.Broker = broker
	}
	if pass := os.Getenv("SEL_MQTT_PASSWORD"); pass != "" {
		cfg.MQTT.Password = pass
	}
	return nil
}

// Validate checks that the configuration can drive the selector.
func (c *Config) Validate() error {
	s := c.Selector
	if s.Window <= 0 {
		return errors.WithHint(errors.Newf("window must be positive (got %d)", s.Window),
			"a few dozen frames keeps the average responsive")
	}
	if s.AcceptanceThreshold < 0 || s.AcceptanceThreshold > 1 {
		return errors.Newf("acceptance_threshold must be in [0,1] (got %v)", s.AcceptanceThreshold)
	}
	if s.SwitchMargin < 0 {
		return errors.Newf("switch_margin must not be negative (got %v)", s.SwitchMargin)
	}
	if s.MinDwell.Duration < 0 {
		return errors.Newf("min_dwell must not be negative (got %v)", s.MinDwell.Duration)
	}
	if s.MaxInFlight <= 0 {
		return errors.Newf("max_in_flight must be positive (got %d)", s.MaxInFlight)
	}
	if c.MQTT.QoS > 2 {
		return errors.Newf("mqtt qos must be 0, 1 or 2 (got %d)", c.MQTT.QoS)
	}
	if len(c.Variants) == 0 {
		return errors.New("at least one variant is required")
	}

	seen := make(map[models.Variant]bool, len(c.Variants))
	for _, v := range c.Variants {
		if v.Name == "" {
			return errors.New("variant name is required")
		}
		if seen[v.Name] {
			return errors.Newf("duplicate variant %q", v.Name)
		}
		seen[v.Name] = true
		if v.PowerWatts < 0 {
			return errors.Newf("variant %q: power_watts must not be negative", v.Name)
		}
		if v.PriorConfidence < 0 || v.PriorConfidence > 1 {
			return errors.Newf("variant %q: prior_confidence must be in [0,1]", v.Name)
		}
	}
	return nil
}
