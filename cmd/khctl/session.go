// ABOUTME: Builds the configured User API client shared by every subcommand.
// ABOUTME: Layers dotenv, config file, environment and flags, then validates.

package main

import (
	"flag"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/krakenhashes/khctl/internal/buildinfo"
	"github.com/krakenhashes/khctl/internal/config"
	"github.com/krakenhashes/khctl/internal/logging"
	"github.com/krakenhashes/khctl/internal/metrics"
	"github.com/krakenhashes/khctl/internal/userapi"
)

const (
	defaultEnvFile      = ".env"
	jsonFlagDescription = "output json"
)

type commonFlags struct {
	configPath string
	envFile    string
	baseURL    string
	email      string
	output     outputFormat
	jsonOutput bool
	logLevel   string
	timeout    time.Duration
}

func (c *commonFlags) bind(fs *flag.FlagSet) {
	fs.BoolVar(&c.jsonOutput, "json", c.jsonOutput, jsonFlagDescription)
	fs.Var(&c.output, "output", "output format: text, json or yaml")
}

func (c commonFlags) format() outputFormat {
	if c.jsonOutput {
		return outputJSON
	}
	return c.output
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, usage func(), help *bool) error {
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		usage()
		if err == flag.ErrHelp {
			return errHelp
		}
		return usageError(err)
	}
	if help != nil && *help {
		usage()
		return errHelp
	}
	return nil
}

// session carries the resolved configuration and the collaborators built from it.
type session struct {
	cfg     config.Config
	client  *userapi.Client
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func newSession(base commonFlags) (*session, error) {
	if err := config.LoadDotEnv(base.envFile); err != nil {
		return nil, wrapCLIError(err, "load "+base.envFile+": "+err.Error(), "")
	}
	cfg, err := config.Load(base.configPath)
	if err != nil {
		return nil, wrapCLIError(err, err.Error(), "", "check --config or fix the file it points to")
	}
	if base.baseURL != "" {
		cfg.BaseURL = base.baseURL
	}
	if base.email != "" {
		cfg.Email = base.email
	}
	if base.timeout > 0 {
		cfg.Timeout = base.timeout
	}
	if base.logLevel != "" {
		cfg.LogLevel = base.logLevel
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = buildinfo.UserAgent()
	}
	if err := cfg.ResolveCredentials(); err != nil {
		return nil, wrapCLIError(err, "resolve credentials: "+err.Error(), "",
			"set "+config.EnvCredentialsFile+" and "+config.EnvAgeKeyPath+" for sealed credentials")
	}
	if err := cfg.Validate(); err != nil {
		return nil, wrapCLIError(err, "invalid configuration: "+errorMessage(err), "",
			"set "+config.EnvBaseURL+", "+config.EnvEmail+" and "+config.EnvAPIKey+" or use --config")
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, wrapCLIError(err, err.Error(), "", "check --log-level or "+config.EnvLogFormat)
	}
	for _, warn := range cfg.Warnings {
		logger.Warn(warn)
	}

	mx := metrics.New()
	client, err := userapi.New(cfg.UserAPI(),
		userapi.WithTimeout(cfg.Timeout),
		userapi.WithLogger(logger),
		userapi.WithMetrics(mx),
		userapi.WithUserAgent(cfg.UserAgent),
		userapi.WithMaxResponseBytes(cfg.MaxResponseBytes),
	)
	if err != nil {
		return nil, wrapCLIError(err, "invalid configuration: "+errorMessage(err), "")
	}
	logger.Debugw("session ready", "base_url", client.BaseURL(), "email", client.Email())
	return &session{cfg: cfg, client: client, logger: logger, metrics: mx}, nil
}

func (s *session) close() {
	if s == nil || s.logger == nil {
		return
	}
	_ = s.logger.Sync()
}
