package client

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/client-go/util/homedir"
	"sigs.k8s.io/yaml"
)

// Config holds the information needed to reach the analysis backend.
type Config struct {
	Service Service `json:"service"`
	Stream  Stream  `json:"stream,omitempty"`
}

// Service is the backend's HTTP address (the part before /upload, /history...).
type Service struct {
	Server string `json:"server"`
	// Timeout bounds upload and analysis requests. Zero means the default.
	Timeout Duration `json:"timeout,omitempty"`
}

// Stream tunes re-attaching to a dropped progress stream.
type Stream struct {
	RetryAttempts int      `json:"retryAttempts,omitempty"`
	RetryInterval Duration `json:"retryInterval,omitempty"`
}

// Duration reads "90s" style values from the config file.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", d.Duration.String())), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		d.Duration = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (c *Config) Equal(c2 *Config) bool {
	if c == c2 {
		return true
	}
	if c == nil || c2 == nil {
		return false
	}
	return c.Service == c2.Service && c.Stream == c2.Stream
}

func NewDefault() *Config {
	return &Config{}
}

// DefaultClientConfigPath returns the default path to the client config file.
func DefaultClientConfigPath() string {
	return filepath.Join(homedir.HomeDir(), ".seqtrack", "client.yaml")
}

func ParseConfigFile(filename string) (*Config, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	config := NewDefault()
	if err := yaml.Unmarshal(contents, config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// WriteConfig writes a client config file pointing at server.
func WriteConfig(filename string, server string) error {
	config := NewDefault()
	config.Service = Service{Server: server}
	return config.Persist(filename)
}

func (c *Config) Persist(filename string) error {
	contents, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.WriteFile(filename, contents, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	validationErrors := make([]error, 0)
	validationErrors = append(validationErrors, validateService(c.Service)...)
	if c.Stream.RetryAttempts < 0 {
		validationErrors = append(validationErrors, fmt.Errorf("stream retryAttempts must not be negative"))
	}
	if c.Stream.RetryInterval.Duration < 0 {
		validationErrors = append(validationErrors, fmt.Errorf("stream retryInterval must not be negative"))
	}
	if len(validationErrors) > 0 {
		return fmt.Errorf("invalid configuration: %v", utilerrors.NewAggregate(validationErrors).Error())
	}
	return nil
}

func validateService(service Service) []error {
	validationErrors := make([]error, 0)
	if len(service.Server) == 0 {
		validationErrors = append(validationErrors, fmt.Errorf("no server found"))
	} else {
		u, err := url.Parse(service.Server)
		if err != nil {
			validationErrors = append(validationErrors, fmt.Errorf("invalid server format %q: %w", service.Server, err))
		}
		if err == nil && len(u.Hostname()) == 0 {
			validationErrors = append(validationErrors, fmt.Errorf("invalid server format %q: no hostname", service.Server))
		}
	}
	if service.Timeout.Duration < 0 {
		validationErrors = append(validationErrors, fmt.Errorf("service timeout must not be negative"))
	}
	return validationErrors
}
