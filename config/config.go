// Package config provides YAML-loadable configuration for the inferlink
// client: server address, timeout budgets, frame queue depth, and the
// opaque authentication token passed through to the server.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/axionml/inferlink/address"
	"github.com/axionml/inferlink/errors"
)

// Defaults applied when a field is not configured.
const (
	DefaultConnectionTimeout = 10 * time.Second
	DefaultInferenceTimeout  = 180 * time.Second
	DefaultFrameQueueDepth   = 8
)

// Config holds client configuration. Timeout fields are duration strings
// such as "10s" or "250ms".
type Config struct {
	// ServerURL is the AI server address in "[scheme://]host[:port]" form.
	ServerURL string `yaml:"server_url"`
	// ConnectionTimeout bounds connection establishment and control requests.
	ConnectionTimeout string `yaml:"connection_timeout,omitempty"`
	// InferenceTimeout bounds stream response waits and queue-full waits.
	InferenceTimeout string `yaml:"inference_timeout,omitempty"`
	// FrameQueueDepth is the default outstanding-frame window for streams.
	FrameQueueDepth int `yaml:"frame_queue_depth,omitempty"`
	// Token is an opaque authentication token passed through to the server.
	Token string `yaml:"token,omitempty"`
}

// DefaultConfig returns a configuration with default timeouts and queue
// depth. ServerURL must still be provided.
func DefaultConfig() Config {
	return Config{
		ConnectionTimeout: DefaultConnectionTimeout.String(),
		InferenceTimeout:  DefaultInferenceTimeout.String(),
		FrameQueueDepth:   DefaultFrameQueueDepth,
	}
}

// Parse decodes YAML configuration on top of the defaults.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, errors.KindParseError, "failed to parse configuration")
	}
	return cfg, nil
}

// Load reads and decodes a YAML configuration file on top of the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, errors.KindBadParameter,
			"failed to read configuration file %q", path)
	}
	return Parse(data)
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New(errors.KindBadParameter, "server_url is required")
	}
	if _, err := address.Parse(c.ServerURL); err != nil {
		return err
	}
	if d, err := c.connectionTimeout(); err != nil {
		return err
	} else if d <= 0 {
		return errors.New(errors.KindBadParameter, "connection_timeout must be positive")
	}
	if d, err := c.inferenceTimeout(); err != nil {
		return err
	} else if d <= 0 {
		return errors.New(errors.KindBadParameter, "inference_timeout must be positive")
	}
	if c.FrameQueueDepth < 1 {
		return errors.New(errors.KindBadParameter, "frame_queue_depth must be at least 1")
	}
	return nil
}

// Timeouts returns the parsed timeout budgets.
func (c Config) Timeouts() (connection, inference time.Duration, err error) {
	if connection, err = c.connectionTimeout(); err != nil {
		return 0, 0, err
	}
	if inference, err = c.inferenceTimeout(); err != nil {
		return 0, 0, err
	}
	return connection, inference, nil
}

func (c Config) connectionTimeout() (time.Duration, error) {
	return parseTimeout("connection_timeout", c.ConnectionTimeout, DefaultConnectionTimeout)
}

func (c Config) inferenceTimeout() (time.Duration, error) {
	return parseTimeout("inference_timeout", c.InferenceTimeout, DefaultInferenceTimeout)
}

func parseTimeout(field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, errors.KindBadParameter, "invalid %s %q", field, value)
	}
	return d, nil
}
