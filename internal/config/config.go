package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
}

type dbConfig struct {
	Type     string `envconfig:"SEQTRACK_DB_TYPE" default:"sqlite"`
	Hostname string `envconfig:"SEQTRACK_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"SEQTRACK_DB_PORT" default:"5432"`
	Name     string `envconfig:"SEQTRACK_DB_NAME" default:"seqtrack.db"`
	User     string `envconfig:"SEQTRACK_DB_USER" default:"seqtrack"`
	Password string `envconfig:"SEQTRACK_DB_PASS" default:""`
}

type svcConfig struct {
	ServerURL       string        `envconfig:"SEQTRACK_SERVER_URL" default:"http://127.0.0.1:8000"`
	StatusAddress   string        `envconfig:"SEQTRACK_STATUS_ADDRESS" default:"127.0.0.1:3333"`
	StatusRateLimit float64       `envconfig:"SEQTRACK_STATUS_RATE_LIMIT" default:"50"`
	StatusBurst     int           `envconfig:"SEQTRACK_STATUS_BURST" default:"100"`
	LogLevel        string        `envconfig:"SEQTRACK_LOG_LEVEL" default:"info"`
	HealthInterval  time.Duration `envconfig:"SEQTRACK_HEALTH_INTERVAL" default:"10s"`
	RequestTimeout  time.Duration `envconfig:"SEQTRACK_REQUEST_TIMEOUT" default:"300s"`
}

const (
	DBTypeSqlite   = "sqlite"
	DBTypePostgres = "pgsql"
)

// New reads the process configuration from the environment once.
func New() (*Config, error) {
	if singleConfig == nil {
		cfg := new(Config)
		if err := envconfig.Process("", cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		singleConfig = cfg
	}
	return singleConfig, nil
}

// NewDefault returns the defaults with an in-memory sqlite database.
func NewDefault() *Config {
	return &Config{
		Database: &dbConfig{
			Type: DBTypeSqlite,
			Name: "file::memory:?cache=shared",
		},
		Service: &svcConfig{
			ServerURL:       "http://127.0.0.1:8000",
			StatusAddress:   "127.0.0.1:3333",
			StatusRateLimit: 50,
			StatusBurst:     100,
			LogLevel:        "info",
			HealthInterval:  10 * time.Second,
			RequestTimeout:  300 * time.Second,
		},
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Type {
	case DBTypeSqlite, DBTypePostgres:
	default:
		errs = append(errs, fmt.Errorf("unsupported database type %q", c.Database.Type))
	}
	if c.Database.Name == "" {
		errs = append(errs, fmt.Errorf("database name is required"))
	}
	if c.Service.HealthInterval <= 0 {
		errs = append(errs, fmt.Errorf("health interval must be positive"))
	}
	if c.Service.StatusRateLimit < 0 || c.Service.StatusBurst < 0 {
		errs = append(errs, fmt.Errorf("status rate limit and burst must not be negative"))
	}
	if c.Service.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request timeout must not be negative"))
	}
	return utilerrors.NewAggregate(errs)
}
