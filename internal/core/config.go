package core

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the entire casewatch configuration.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Engine    EngineConfig    `yaml:"engine"`
	Detection DetectionConfig `yaml:"detection"`
	Collect   CollectConfig   `yaml:"collect"`
	Syslog    SyslogConfig    `yaml:"syslog"`
	Bus       BusConfig       `yaml:"bus"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// EngineConfig controls how detection work is scheduled.
type EngineConfig struct {
	Shards            int           `yaml:"shards"`
	CorrelateInterval time.Duration `yaml:"correlate_interval"`
	// DedupTTL drops a line re-delivered by a second source within this
	// window in watch mode. Zero disables deduplication.
	DedupTTL time.Duration `yaml:"dedup_ttl"`
	// ReorderWindow holds watch-mode events this long so sources that lag
	// each other are merged in time order. Zero disables reordering.
	ReorderWindow time.Duration `yaml:"reorder_window"`
}

// DetectionConfig holds detector windows and the shared alert cooldown.
type DetectionConfig struct {
	Cooldown       time.Duration `yaml:"cooldown"`
	WebLoginWindow time.Duration `yaml:"web_login_window"`
	FirewallWindow time.Duration `yaml:"firewall_window"`
	SSHWindow      time.Duration `yaml:"ssh_window"`
	WindowsWindow  time.Duration `yaml:"windows_window"`
	AnomalyWindow  time.Duration `yaml:"anomaly_window"`
}

// CollectConfig holds log source settings.
type CollectConfig struct {
	// AssumedYear is applied to syslog timestamps, which carry no year.
	AssumedYear int            `yaml:"assumed_year"`
	Sources     []SourceConfig `yaml:"sources"`
}

// SourceConfig describes a single tailed log file.
type SourceConfig struct {
	Type    string `yaml:"type"` // "file"
	LogPath string `yaml:"log_path"`
	Tag     string `yaml:"tag"`
}

// SyslogConfig holds syslog ingestion settings.
type SyslogConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Protocol string `yaml:"protocol"` // "udp", "tcp", or "both"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
}

// BusConfig holds NATS publication settings.
type BusConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`
	Embedded       bool   `yaml:"embedded"`
	DataDir        string `yaml:"data_dir"`
	Port           int    `yaml:"port"`
	DedupCacheSize int    `yaml:"dedup_cache_size"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig returns a Config with the stock detection parameters.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Engine: EngineConfig{
			Shards:            4,
			CorrelateInterval: 30 * time.Second,
			DedupTTL:          30 * time.Second,
			ReorderWindow:     5 * time.Second,
		},
		Detection: DetectionConfig{
			Cooldown:       10 * time.Minute,
			WebLoginWindow: 2 * time.Minute,
			FirewallWindow: 3 * time.Minute,
			SSHWindow:      3 * time.Minute,
			WindowsWindow:  3 * time.Minute,
			AnomalyWindow:  5 * time.Minute,
		},
		Collect: CollectConfig{
			AssumedYear: 2025,
		},
		Syslog: SyslogConfig{
			Enabled:  false,
			Protocol: "udp",
			Host:     "0.0.0.0",
			Port:     1514,
		},
		Bus: BusConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			Embedded:       true,
			DataDir:        "./data/nats",
			Port:           4222,
			DedupCacheSize: 4096,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}

// LoadConfig loads configuration from a YAML file, falling back to defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("CASEWATCH_CONFIG")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if lvl := os.Getenv("CASEWATCH_LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes the configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	d := c.Detection
	for name, v := range map[string]time.Duration{
		"detection.cooldown":         d.Cooldown,
		"detection.web_login_window": d.WebLoginWindow,
		"detection.firewall_window":  d.FirewallWindow,
		"detection.ssh_window":       d.SSHWindow,
		"detection.windows_window":   d.WindowsWindow,
		"detection.anomaly_window":   d.AnomalyWindow,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, v))
		}
	}
	if c.Engine.Shards < 1 {
		errs = append(errs, fmt.Errorf("engine.shards must be at least 1, got %d", c.Engine.Shards))
	}
	if c.Engine.CorrelateInterval <= 0 {
		errs = append(errs, fmt.Errorf("engine.correlate_interval must be positive, got %s", c.Engine.CorrelateInterval))
	}
	if c.Engine.DedupTTL < 0 {
		errs = append(errs, fmt.Errorf("engine.dedup_ttl must not be negative, got %s", c.Engine.DedupTTL))
	}
	if c.Engine.ReorderWindow < 0 {
		errs = append(errs, fmt.Errorf("engine.reorder_window must not be negative, got %s", c.Engine.ReorderWindow))
	}
	switch c.Syslog.Protocol {
	case "udp", "tcp", "both":
	default:
		errs = append(errs, fmt.Errorf("syslog.protocol must be udp, tcp or both, got %q", c.Syslog.Protocol))
	}
	for i, src := range c.Collect.Sources {
		if src.LogPath == "" {
			errs = append(errs, fmt.Errorf("collect.sources[%d]: log_path is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// LogLevel returns the parsed log level string.
func (c *Config) LogLevel() string {
	return strings.ToLower(c.Logging.Level)
}
