package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/arangox"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage arangox configuration files",
	}
	cmd.AddCommand(newConfigGenCommand())
	return cmd
}

func newConfigGenCommand() *cobra.Command {
	var outPath string
	var force bool
	var stdout bool
	defaultOutput := "$HOME/.arangox/" + arangox.DefaultConfigFileName
	if path, err := arangox.DefaultConfigPath(); err == nil {
		defaultOutput = path
	}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default arangox configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			if outPath == "" {
				path, err := arangox.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("resolve config dir: %w", err)
				}
				outPath = path
			}

			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}

			if stdout {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}

			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", fmt.Sprintf("output path for generated config (defaults to %s)", defaultOutput))
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}

// configDefaults mirrors arangox.Config with durations rendered as strings so
// the generated file reads naturally.
type configDefaults struct {
	Endpoints     []string          `yaml:"endpoints"`
	Database      string            `yaml:"database"`
	Username      string            `yaml:"username"`
	Password      string            `yaml:"password"`
	Token         string            `yaml:"token"`
	LoadBalancing string            `yaml:"load-balancing"`
	Timeout       string            `yaml:"timeout"`
	HostsFile     string            `yaml:"hosts-file"`
	HTTPTrace     bool              `yaml:"http-trace"`
	Tracing       bool              `yaml:"tracing"`
	Telemetry     telemetryDefaults `yaml:"telemetry"`
	LogLevel      string            `yaml:"log-level"`
}

type telemetryDefaults struct {
	OTLPEndpoint   string `yaml:"otlp-endpoint"`
	MetricsListen  string `yaml:"metrics-listen"`
	RuntimeMetrics bool   `yaml:"runtime-metrics"`
	ServiceName    string `yaml:"service-name"`
}

func defaultConfigYAML(overrides ...func(*configDefaults)) ([]byte, error) {
	cfg := arangox.DefaultConfig()
	hostsFile := ""
	if dir, err := arangox.DefaultConfigDir(); err == nil {
		hostsFile = filepath.Join(dir, arangox.DefaultHostsFileName)
	}
	defaults := configDefaults{
		Endpoints:     cfg.Endpoints,
		Database:      cfg.Database,
		Username:      arangox.DefaultUsername,
		LoadBalancing: cfg.LoadBalancing,
		Timeout:       cfg.Timeout.String(),
		HostsFile:     hostsFile,
		Telemetry: telemetryDefaults{
			ServiceName: "arangox",
		},
		LogLevel: "info",
	}
	for _, fn := range overrides {
		if fn != nil {
			fn(&defaults)
		}
	}

	out, err := yaml.Marshal(&defaults)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
