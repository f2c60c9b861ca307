package election

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/clusterkit/elector/pkg/coordination"
)

// MaxRetriesLimit caps the connect retry count, matching the ceiling of the
// coordination client's exponential backoff policy.
const MaxRetriesLimit = 29

// Config holds configuration for the election coordinator.
type Config struct {
	// ConnectString is the coordination ensemble address list,
	// comma-separated.
	ConnectString string `yaml:"connectString"`
	// BaseRetrySleepMs is the initial backoff between connect retries, in
	// milliseconds.
	BaseRetrySleepMs int `yaml:"baseRetrySleepMs" default:"1000"`
	// MaxRetries bounds the connect retry loop. Capped at MaxRetriesLimit.
	MaxRetries int `yaml:"maxRetries" default:"29"`
	// RootPath is the election path contenders register under. A missing
	// leading slash is added during validation.
	RootPath string `yaml:"rootPath" default:"/election"`
	// ContenderID is this process's identity in the election. When blank, a
	// unique "{hostname}/{uuid}" value is generated. Uniqueness across the
	// ensemble is the caller's responsibility when set explicitly.
	ContenderID string `yaml:"contenderId"`
	// TextEncoding is the IANA charset name used to decode contender-id
	// payloads read from roster nodes.
	TextEncoding string `yaml:"textEncoding" default:"utf-8"`
	// SessionTTLSeconds is the session lease time-to-live.
	SessionTTLSeconds int `yaml:"sessionTTLSeconds" default:"15"`
	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration `yaml:"dialTimeout" default:"5s"`
	// RestartCooldown is the minimum interval between recovery restarts
	// triggered by self-removal or session loss, so a flapping watch cannot
	// cause a restart storm.
	RestartCooldown time.Duration `yaml:"restartCooldown" default:"5s"`

	enc encoding.Encoding
}

// Validate checks required fields, normalizes the root path and generates a
// contender id when none is configured.
func (c *Config) Validate() error {
	if c.ConnectString == "" {
		return ErrConnectStringRequired
	}

	if c.RootPath == "" {
		return ErrRootPathRequired
	}

	if !strings.HasPrefix(c.RootPath, "/") {
		c.RootPath = "/" + c.RootPath
	}

	if c.BaseRetrySleepMs <= 0 {
		c.BaseRetrySleepMs = 1000
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("'maxRetries' must not be negative")
	}

	if c.MaxRetries > MaxRetriesLimit {
		c.MaxRetries = MaxRetriesLimit
	}

	if c.SessionTTLSeconds <= 0 {
		c.SessionTTLSeconds = 15
	}

	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}

	if c.ContenderID == "" {
		c.ContenderID = generateContenderID()
	}

	return c.resolveEncoding()
}

func (c *Config) resolveEncoding() error {
	name := c.TextEncoding
	if name == "" {
		name = "utf-8"
	}

	// UTF-8 payloads need no transform, Go strings already are UTF-8.
	normalized := strings.ToLower(name)
	if normalized == "utf-8" || normalized == "utf8" {
		c.enc = nil

		return nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return fmt.Errorf("unsupported text encoding %q", name)
	}

	c.enc = enc

	return nil
}

// DecodeValue decodes a roster node payload using the configured text
// encoding.
func (c *Config) DecodeValue(b []byte) (string, error) {
	if c.enc == nil {
		return string(b), nil
	}

	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("failed to decode payload: %w", err)
	}

	return string(out), nil
}

// CoordinationConfig derives the connection parameters for the coordination
// client facade.
func (c *Config) CoordinationConfig() *coordination.Config {
	endpoints := strings.Split(c.ConnectString, ",")
	for i := range endpoints {
		endpoints[i] = strings.TrimSpace(endpoints[i])
	}

	return &coordination.Config{
		Endpoints:      endpoints,
		ElectionPath:   c.RootPath,
		BaseRetrySleep: time.Duration(c.BaseRetrySleepMs) * time.Millisecond,
		MaxRetries:     c.MaxRetries,
		DialTimeout:    c.DialTimeout,
		SessionTTL:     c.SessionTTLSeconds,
	}
}

func generateContenderID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	return fmt.Sprintf("%s/%s", host, uuid.NewString())
}
