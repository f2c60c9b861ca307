package server

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"

	"github.com/clusterkit/elector/pkg/election"
)

type Config struct {
	// MetricsAddr is the address to listen on for metrics.
	MetricsAddr string `yaml:"metricsAddr" default:":9090"`
	// HealthCheckAddr is the address to listen on for healthcheck.
	HealthCheckAddr *string `yaml:"healthCheckAddr"`
	// PProfAddr is the address to listen on for pprof.
	PProfAddr *string `yaml:"pprofAddr"`
	// APIAddr is the address to listen on for the status API.
	APIAddr string `yaml:"apiAddr" default:":8080"`
	// LoggingLevel is the logging level to use.
	LoggingLevel string `yaml:"logging" default:"info"`
	// Election is the election coordinator configuration.
	Election *election.Config `yaml:"election"`
	// Duty is the leader duty configuration.
	Duty DutyConfig `yaml:"duty"`
	// ShutdownTimeout is the timeout for shutting down the server.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"10s"`
}

// DutyConfig configures the built-in leader duties.
type DutyConfig struct {
	// HeartbeatInterval is the period of the leadership heartbeat duty.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval" default:"15s"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Election == nil {
		return fmt.Errorf("election configuration is required")
	}

	// The election section arrives as a pointer, so struct-tag defaults are
	// not applied during the top-level defaults pass.
	if err := defaults.Set(c.Election); err != nil {
		return fmt.Errorf("failed to apply election defaults: %w", err)
	}

	if err := c.Election.Validate(); err != nil {
		return fmt.Errorf("invalid election configuration: %w", err)
	}

	if c.Duty.HeartbeatInterval <= 0 {
		c.Duty.HeartbeatInterval = 15 * time.Second
	}

	return nil
}
