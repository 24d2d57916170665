// Package config holds the server configuration: bind endpoints, tick rate,
// UDP middleware tuning and the injectable socket factories used by tests.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults used when the configuration leaves a field unset.
const (
	DefaultPeekSize     = 4096
	DefaultSniffTimeout = 5 * time.Second
	DefaultMaxPending   = 256
	DefaultFPS          = 20
	DefaultMaxCatchUp   = 10
	DefaultFloodRate    = 200
	DefaultFloodBurst   = 400
	DefaultQueueSize    = 4096
	DefaultMaxWebsocket = 1024
	DefaultWriteTimeout = 5 * time.Second
	DefaultHostname     = "gamenet"
)

// Config is the complete server configuration.
type Config struct {
	Listen  Listen  `yaml:"listen"`
	Tick    Tick    `yaml:"tick"`
	UDP     UDP     `yaml:"udp"`
	Session Session `yaml:"session"`
	HTTP    HTTP    `yaml:"http"`
	Verbose bool    `yaml:"verbose"`

	// Deps is never read from the file.
	Deps *Dependencies `yaml:"-"`
}

// Listen is the bind configuration handed to the listen manager.
type Listen struct {
	TCPEndpoints []string      `yaml:"tcp_endpoints"`
	UDPEndpoints []string      `yaml:"udp_endpoints"`
	PeekSize     int           `yaml:"peek_size"`
	SniffTimeout time.Duration `yaml:"sniff_timeout"`
	MaxPending   int           `yaml:"max_pending"`
}

// Tick configures the run loop.
type Tick struct {
	FPS        int `yaml:"fps"`
	MaxCatchUp int `yaml:"max_catch_up"` // 0 = unbounded
}

// UDP configures the datagram middleware.
type UDP struct {
	FloodRate  float64 `yaml:"flood_rate"` // datagrams per second per peer, negative disables
	FloodBurst int     `yaml:"flood_burst"`
	Hostname   string  `yaml:"hostname"`
}

// Session configures the reliable session layer.
type Session struct {
	QueueSize     int           `yaml:"queue_size"`
	MaxWebsockets int           `yaml:"max_websockets"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// HTTP configures the built-in HTTP routes.
type HTTP struct {
	Metrics bool `yaml:"metrics"`
	Info    bool `yaml:"info"`
}

// Default returns a configuration with every default applied and no
// endpoints.
func Default() *Config {
	cfg := &Config{
		Tick: Tick{MaxCatchUp: DefaultMaxCatchUp},
		HTTP: HTTP{Metrics: true, Info: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads a YAML file on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("os.ReadFile(%s): %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("yaml.Unmarshal(%s): %w", path, err)
	}
	cfg.ApplyDefaults()

	return cfg, nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Listen.PeekSize == 0 {
		c.Listen.PeekSize = DefaultPeekSize
	}
	if c.Listen.SniffTimeout == 0 {
		c.Listen.SniffTimeout = DefaultSniffTimeout
	}
	if c.Listen.MaxPending == 0 {
		c.Listen.MaxPending = DefaultMaxPending
	}
	if c.Tick.FPS == 0 {
		c.Tick.FPS = DefaultFPS
	}
	if c.UDP.FloodRate == 0 {
		c.UDP.FloodRate = DefaultFloodRate
	}
	if c.UDP.FloodBurst == 0 {
		c.UDP.FloodBurst = DefaultFloodBurst
	}
	if c.UDP.Hostname == "" {
		c.UDP.Hostname = DefaultHostname
	}
	if c.Session.QueueSize == 0 {
		c.Session.QueueSize = DefaultQueueSize
	}
	if c.Session.MaxWebsockets == 0 {
		c.Session.MaxWebsockets = DefaultMaxWebsocket
	}
	if c.Session.WriteTimeout == 0 {
		c.Session.WriteTimeout = DefaultWriteTimeout
	}
}

// Validate ...
func (c *Config) Validate() []error {
	var errors []error

	errors = append(errors, c.Listen.Validate()...)
	errors = append(errors, c.Tick.Validate()...)

	if c.Session.QueueSize < 1 {
		errors = append(errors, fmt.Errorf("'session.queue_size' must be positive"))
	}
	if c.Session.MaxWebsockets < 1 {
		errors = append(errors, fmt.Errorf("'session.max_websockets' must be positive"))
	}

	return errors
}

// Validate ...
func (l *Listen) Validate() []error {
	var errors []error

	if len(l.TCPEndpoints) == 0 && len(l.UDPEndpoints) == 0 {
		errors = append(errors, fmt.Errorf("at least one TCP or UDP endpoint is required"))
	}
	if l.PeekSize < 16 || l.PeekSize > 1<<20 {
		errors = append(errors, fmt.Errorf("'listen.peek_size' must be in [16, 1048576]"))
	}
	if l.SniffTimeout < 0 {
		errors = append(errors, fmt.Errorf("'listen.sniff_timeout' must not be negative"))
	}
	if l.MaxPending < 1 {
		errors = append(errors, fmt.Errorf("'listen.max_pending' must be positive"))
	}

	return errors
}

// Validate ...
func (t *Tick) Validate() []error {
	var errors []error

	if t.FPS < 1 || t.FPS > 1000 {
		errors = append(errors, fmt.Errorf("'tick.fps' must be in [1, 1000]"))
	}
	if t.MaxCatchUp < 0 {
		errors = append(errors, fmt.Errorf("'tick.max_catch_up' must not be negative"))
	}

	return errors
}
