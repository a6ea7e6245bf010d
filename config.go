package arangox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/arangox/client"
	"pkt.systems/arangox/internal/pathutil"
	"pkt.systems/pslog"
)

const (
	// DefaultEndpoint is used when no endpoint is configured.
	DefaultEndpoint = "http://127.0.0.1:8529"
	// DefaultDatabase is the database requests are scoped to by default.
	DefaultDatabase = client.DefaultDatabase
	// DefaultUsername is the user assumed when no credentials are configured.
	DefaultUsername = client.DefaultUsername
	// DefaultLoadBalancing selects the host strategy when none is configured.
	DefaultLoadBalancing = string(client.LoadBalancingNone)
	// DefaultTimeout bounds each request when no timeout is configured.
	DefaultTimeout = client.DefaultHTTPTimeout
	// DefaultBatchSize is the query batch size used by the CLI.
	DefaultBatchSize = 1000
	// DefaultProbeInterval paces the probe loop.
	DefaultProbeInterval = 10 * time.Second
	// DefaultConfigFileName is the config file searched for when --config is omitted.
	DefaultConfigFileName = "config.yaml"
	// DefaultHostsFileName is the host list watched by the probe loop by default.
	DefaultHostsFileName = "hosts"
)

// Config captures connection and telemetry settings shared by the CLI and
// embedding programs.
type Config struct {
	// Endpoints lists server URLs. Comma-separated entries are split.
	Endpoints []string `mapstructure:"endpoints" yaml:"endpoints"`
	// Database scopes requests to /_db/<name>.
	Database string `mapstructure:"database" yaml:"database"`
	// Username and Password set Basic credentials. Empty Username falls back
	// to credentials embedded in the endpoint URLs.
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	// Token sets a bearer token and takes precedence over Basic credentials.
	Token string `mapstructure:"token" yaml:"token,omitempty"`
	// LoadBalancing is none, round-robin or one-random.
	LoadBalancing string `mapstructure:"load-balancing" yaml:"load-balancing"`
	// Timeout bounds each request.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// HostsFile lists extra endpoints, one per line, merged into the pool
	// whenever the file changes.
	HostsFile string `mapstructure:"hosts-file" yaml:"hosts-file,omitempty"`
	// HTTPTrace logs connection reuse and first-byte events at trace level.
	HTTPTrace bool `mapstructure:"http-trace" yaml:"http-trace"`
	// Tracing wraps the HTTP transport with OpenTelemetry instrumentation.
	Tracing bool `mapstructure:"tracing" yaml:"tracing"`
	// Telemetry configures exporters.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() Config {
	return Config{
		Endpoints:     []string{DefaultEndpoint},
		Database:      DefaultDatabase,
		LoadBalancing: DefaultLoadBalancing,
		Timeout:       DefaultTimeout,
	}
}

// Validate fills defaults and normalizes the configuration in place.
func (c *Config) Validate() error {
	var endpoints []string
	for _, raw := range c.Endpoints {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				endpoints = append(endpoints, part)
			}
		}
	}
	if len(endpoints) == 0 {
		endpoints = []string{DefaultEndpoint}
	}
	normalized, err := client.ParseEndpoints(strings.Join(endpoints, ","))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Endpoints = normalized
	c.Database = strings.TrimSpace(c.Database)
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if strings.ContainsAny(c.Database, "/?#") {
		return fmt.Errorf("config: invalid database name %q", c.Database)
	}
	strategy, err := client.ParseLoadBalancing(c.LoadBalancing)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.LoadBalancing = string(strategy)
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	} else if c.Timeout < 0 {
		return fmt.Errorf("config: timeout must be >= 0")
	}
	if c.Password != "" && strings.TrimSpace(c.Username) == "" {
		c.Username = DefaultUsername
	}
	if c.HostsFile != "" {
		expanded, err := pathutil.Expand(c.HostsFile)
		if err != nil {
			return fmt.Errorf("config: expand hosts-file: %w", err)
		}
		c.HostsFile = expanded
	}
	if c.Telemetry.RuntimeMetrics && strings.TrimSpace(c.Telemetry.MetricsListen) == "" {
		return fmt.Errorf("config: runtime metrics require telemetry.metrics-listen")
	}
	return nil
}

// ClientOptions translates the configuration into client options. Validate
// must have been called.
func (c Config) ClientOptions(logger pslog.Logger) []client.Option {
	opts := []client.Option{
		client.WithDatabase(c.Database),
		client.WithLoadBalancing(client.LoadBalancing(c.LoadBalancing)),
		client.WithHTTPTimeout(c.Timeout),
	}
	if logger != nil {
		opts = append(opts, client.WithLogger(logger))
	}
	switch {
	case strings.TrimSpace(c.Token) != "":
		opts = append(opts, client.WithBearerToken(c.Token))
	case strings.TrimSpace(c.Username) != "":
		opts = append(opts, client.WithBasicAuth(c.Username, c.Password))
	}
	if c.HTTPTrace {
		opts = append(opts, client.WithHTTPTrace())
	}
	if c.Tracing {
		opts = append(opts, client.WithTracing())
	}
	return opts
}

// NewClient validates the configuration and builds a client from it. Extra
// options are applied last.
func (c *Config) NewClient(logger pslog.Logger, extra ...client.Option) (*client.Client, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	opts := append(c.ClientOptions(logger), extra...)
	return client.NewWithEndpoints(c.Endpoints, opts...)
}

// DefaultConfigDir returns the default configuration directory ($HOME/.arangox),
// overridable through ARANGOX_CONFIG_DIR.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("ARANGOX_CONFIG_DIR")); override != "" {
		if filepath.IsAbs(override) {
			return override, nil
		}
		abs, err := filepath.Abs(override)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".arangox"), nil
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFileName), nil
}
