package coordination

import (
	"fmt"
	"time"
)

// Config carries the connection parameters shared by all backend
// implementations.
type Config struct {
	// Endpoints is the coordination ensemble address list.
	Endpoints []string
	// ElectionPath is the normalized root path contenders register under.
	ElectionPath string
	// BaseRetrySleep is the initial backoff between connect retries.
	BaseRetrySleep time.Duration
	// MaxRetries bounds the connect retry loop.
	MaxRetries int
	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration
	// SessionTTL is the session lease time-to-live in seconds. Registrations
	// created by the session disappear at most SessionTTL after the session
	// stops heartbeating.
	SessionTTL int
}

func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}

	if c.ElectionPath == "" {
		return fmt.Errorf("election path is required")
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	return nil
}
