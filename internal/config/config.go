package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidClassifier is returned for a classifier definition that cannot be activated.
	ErrInvalidClassifier = errors.New("invalid classifier definition")
	// ErrInvalidCapture is returned for unusable capture settings.
	ErrInvalidCapture = errors.New("invalid capture settings")
)

const (
	defaultMemoryMB       = 64
	defaultFlushThreshold = 0.5
	defaultPollWait       = 500 * time.Millisecond
	defaultBatchSize      = 1024
	defaultBuckets        = 1024
	defaultFlushInterval  = time.Second
	defaultSnapLen        = 1600
)

// CaptureConfig holds the memory budget and loop settings of the capture stage.
type CaptureConfig struct {
	MemoryMB       int     `yaml:"memory_mb"`
	FlushThreshold float64 `yaml:"flush_threshold"`
	PollWait       string  `yaml:"poll_wait"`
	BatchSize      int     `yaml:"batch_size"`

	pollWait time.Duration
}

// FilterDef restricts the packets a classifier is interested in.
type FilterDef struct {
	Protocols []string `yaml:"protocols"`
	Ports     []uint16 `yaml:"ports"`
	Nets      []string `yaml:"nets"`
}

// ClassifierDef defines a single classifier from the config file.
type ClassifierDef struct {
	Name             string    `yaml:"name"`
	Type             string    `yaml:"type"`
	Buckets          int       `yaml:"buckets"`
	FlushInterval    string    `yaml:"flush_interval"`
	MinFlushInterval string    `yaml:"min_flush_interval"`
	KeyFields        []string  `yaml:"key_fields"`
	MaxPackets       uint64    `yaml:"max_packets"`
	Filter           FilterDef `yaml:"filter"`
}

// SourceDef defines a packet source.
type SourceDef struct {
	Type    string `yaml:"type"` // pcap, live, nats
	Path    string `yaml:"path"`
	Iface   string `yaml:"iface"`
	SnapLen int32  `yaml:"snaplen"`
	BPF     string `yaml:"bpf"`
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// ClickHouseConfig holds the connection details for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NATSConfig holds the connection details for a NATS exporter.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// RedisConfig holds the connection details for a Redis exporter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTL      string `yaml:"ttl"`
}

// ExporterDef defines one downstream writer.
type ExporterDef struct {
	Type       string           `yaml:"type"` // gob, text, clickhouse, nats, redis
	Enabled    bool             `yaml:"enabled"`
	RootPath   string           `yaml:"root_path"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	NATS       NATSConfig       `yaml:"nats"`
	Redis      RedisConfig      `yaml:"redis"`
}

// APIConfig holds the listen addresses of the status endpoints.
type APIConfig struct {
	HttpListenAddr string `yaml:"http_listen_addr"`
	GrpcListenAddr string `yaml:"grpc_listen_addr"`
}

// LogConfig selects the logger flavour.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Capture     CaptureConfig   `yaml:"capture"`
	Classifiers []ClassifierDef `yaml:"classifiers"`
	Sources     []SourceDef     `yaml:"sources"`
	Exporters   []ExporterDef   `yaml:"exporters"`
	API         APIConfig       `yaml:"api"`
	Log         LogConfig       `yaml:"log"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse unmarshals YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	if c.Capture.MemoryMB <= 0 {
		c.Capture.MemoryMB = defaultMemoryMB
	}
	if c.Capture.FlushThreshold <= 0 {
		c.Capture.FlushThreshold = defaultFlushThreshold
	}
	if c.Capture.PollWait == "" {
		c.Capture.PollWait = defaultPollWait.String()
	}
	if c.Capture.BatchSize <= 0 {
		c.Capture.BatchSize = defaultBatchSize
	}
	for i := range c.Classifiers {
		cls := &c.Classifiers[i]
		if cls.Buckets <= 0 {
			cls.Buckets = defaultBuckets
		}
		if cls.FlushInterval == "" {
			cls.FlushInterval = defaultFlushInterval.String()
		}
		if cls.MinFlushInterval == "" {
			cls.MinFlushInterval = "0s"
		}
	}
	for i := range c.Sources {
		if c.Sources[i].SnapLen <= 0 {
			c.Sources[i].SnapLen = defaultSnapLen
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks that the config is usable.
func (c *Config) Validate() error {
	if c.Capture.FlushThreshold > 1 {
		return fmt.Errorf("%w: flush_threshold must be within (0, 1], got %.2f", ErrInvalidCapture, c.Capture.FlushThreshold)
	}
	d, err := time.ParseDuration(c.Capture.PollWait)
	if err != nil || d <= 0 {
		return fmt.Errorf("%w: invalid poll_wait %q", ErrInvalidCapture, c.Capture.PollWait)
	}
	c.Capture.pollWait = d

	seen := make(map[string]bool, len(c.Classifiers))
	for i := range c.Classifiers {
		cls := &c.Classifiers[i]
		if cls.Name == "" {
			return fmt.Errorf("%w: classifier #%d has no name", ErrInvalidClassifier, i)
		}
		if seen[cls.Name] {
			return fmt.Errorf("%w: duplicate classifier name '%s'", ErrInvalidClassifier, cls.Name)
		}
		seen[cls.Name] = true
		if cls.Type == "" {
			return fmt.Errorf("%w: classifier '%s' has no type", ErrInvalidClassifier, cls.Name)
		}
		if _, _, err := cls.Intervals(); err != nil {
			return err
		}
	}
	return nil
}

// PollWaitDuration returns the parsed poll_wait, or the default when it is
// unset or unparsable.
func (c CaptureConfig) PollWaitDuration() time.Duration {
	if c.pollWait > 0 {
		return c.pollWait
	}
	if d, err := time.ParseDuration(c.PollWait); err == nil && d > 0 {
		return d
	}
	return defaultPollWait
}

// MemoryBytes returns the arena budget in bytes.
func (c CaptureConfig) MemoryBytes() int64 {
	return int64(c.MemoryMB) * 1024 * 1024
}

// Intervals parses flush_interval and min_flush_interval. Empty values mean
// the default interval and no minimum.
func (d ClassifierDef) Intervals() (flush, minFlush time.Duration, err error) {
	flush = defaultFlushInterval
	if d.FlushInterval != "" {
		flush, err = time.ParseDuration(d.FlushInterval)
		if err != nil || flush <= 0 {
			return 0, 0, fmt.Errorf("%w: classifier '%s' has invalid flush_interval %q", ErrInvalidClassifier, d.Name, d.FlushInterval)
		}
	}
	if d.MinFlushInterval != "" {
		minFlush, err = time.ParseDuration(d.MinFlushInterval)
		if err != nil || minFlush < 0 {
			return 0, 0, fmt.Errorf("%w: classifier '%s' has invalid min_flush_interval %q", ErrInvalidClassifier, d.Name, d.MinFlushInterval)
		}
	}
	return flush, minFlush, nil
}
