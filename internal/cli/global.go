package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/oceanomics/seqtrack/internal/client"
	"github.com/oceanomics/seqtrack/internal/config"
	"github.com/oceanomics/seqtrack/internal/stream"
	"github.com/oceanomics/seqtrack/pkg/log"
)

type GlobalOptions struct {
	ConfigFilePath string
	ServerURL      string
	Database       string
	LogLevel       string

	cfg          *config.Config
	clientConfig *client.Config
}

func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		ConfigFilePath: client.DefaultClientConfigPath(),
	}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigFilePath, "config", "c", o.ConfigFilePath, "Path to the client configuration file")
	fs.StringVarP(&o.ServerURL, "server-url", "u", o.ServerURL, "Address of the analysis backend")
	fs.StringVar(&o.Database, "database", o.Database, "Local history database (sqlite file or postgres database name)")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level (debug, info, warn, error)")
}

// Complete resolves the effective settings: flags override the client
// configuration file, which overrides the environment.
func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	local := *cfg
	db := *cfg.Database
	local.Database = &db
	if o.Database != "" {
		local.Database.Name = o.Database
	}
	o.cfg = &local

	level := o.LogLevel
	if level == "" {
		level = cfg.Service.LogLevel
	}
	zap.ReplaceGlobals(log.InitLog(log.ParseLevel(level)))

	o.clientConfig = client.NewDefault()
	if o.ConfigFilePath != "" {
		fileConfig, err := client.ParseConfigFile(o.ConfigFilePath)
		switch {
		case err == nil:
			o.clientConfig = fileConfig
		case errors.Is(err, fs.ErrNotExist):
			zap.S().Named("cli").Debugf("no client configuration at %s", o.ConfigFilePath)
		default:
			return err
		}
	}

	if o.ServerURL != "" {
		o.clientConfig.Service.Server = o.ServerURL
	}
	if o.clientConfig.Service.Server == "" {
		o.clientConfig.Service.Server = cfg.Service.ServerURL
	}
	if o.clientConfig.Service.Timeout.Duration == 0 {
		o.clientConfig.Service.Timeout.Duration = cfg.Service.RequestTimeout
	}
	return nil
}

func (o *GlobalOptions) Validate(args []string) error {
	if o.clientConfig == nil {
		return fmt.Errorf("options are not completed")
	}
	return o.clientConfig.Validate()
}

func (o *GlobalOptions) Backend() *client.Backend {
	return client.NewFromConfig(o.clientConfig)
}

func (o *GlobalOptions) Server() string {
	return o.clientConfig.Service.Server
}

// RetryPolicy bounds the re-attach attempts of the stream.
func (o *GlobalOptions) RetryPolicy() stream.RetryPolicy {
	policy := stream.DefaultRetryPolicy
	if o.clientConfig.Stream.RetryAttempts > 0 {
		policy.Attempts = o.clientConfig.Stream.RetryAttempts
	}
	if o.clientConfig.Stream.RetryInterval.Duration > 0 {
		policy.Interval = o.clientConfig.Stream.RetryInterval.Duration
	}
	return policy
}

func (o *GlobalOptions) HealthInterval() time.Duration {
	return o.cfg.Service.HealthInterval
}
