package config

// Defaults applied to fields left unset in the configuration file.
const (
	DefaultListenAddress   = ":9090"
	DefaultMetricsPath     = "/metrics"
	DefaultReportsPath     = "/v1/reports"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultEventBufferSize = 256
)

// Config is the cumetricsd configuration file.
type Config struct {
	SchemaVersion     string   `yaml:"schemaVersion"`
	ListenAddress     string   `yaml:"listen_address,omitempty"`
	MetricsPath       string   `yaml:"metrics_path,omitempty"`
	ReportsPath       string   `yaml:"reports_path,omitempty"`
	Namespace         string   `yaml:"namespace,omitempty"`
	LogLevel          string   `yaml:"log_level,omitempty"`
	LogFormat         string   `yaml:"log_format,omitempty"`
	EventBufferSize   *int     `yaml:"event_buffer_size,omitempty"`
	RuntimeCollectors bool     `yaml:"runtime_collectors,omitempty"`
	Workers           []string `yaml:"workers,omitempty"`

	// FilePath is where the configuration was read from, for messages only.
	FilePath string `yaml:"-"`
}

// Default returns a configuration with every default applied and no
// pre-registered workers.
func Default() *Config {
	c := &Config{SchemaVersion: SupportedSchemaVersionConstraint}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.MetricsPath == "" {
		c.MetricsPath = DefaultMetricsPath
	}
	if c.ReportsPath == "" {
		c.ReportsPath = DefaultReportsPath
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.EventBufferSize == nil {
		size := DefaultEventBufferSize
		c.EventBufferSize = &size
	}
}

// GetEventBufferSize returns the configured event buffer size or the default.
func (c *Config) GetEventBufferSize() int {
	if c.EventBufferSize == nil {
		return DefaultEventBufferSize
	}
	return *c.EventBufferSize
}
