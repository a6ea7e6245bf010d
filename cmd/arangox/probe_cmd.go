package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/arangox"
)

func newProbeCommand(cfg *cliConfig) *cobra.Command {
	var interval time.Duration
	var once bool
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Ask every host for its version at a fixed interval",
		Long: `Probe every host in the pool with a version request pinned to that host. The
hosts file, when configured, is watched and new endpoints join the next round.
Latency, availability and failures are exported through --metrics-listen and
--otlp-endpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.load(); err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := cfg.subsystemLogger("probe")

			// Providers must be installed before the client resolves its instruments.
			tel, err := arangox.SetupTelemetry(ctx, cfg.config.Telemetry, logger)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tel.Shutdown(shutdownCtx); err != nil {
					logger.Warn("cli.probe.telemetry_shutdown", "error", err)
				}
			}()

			cli, err := cfg.client()
			if err != nil {
				return err
			}
			defer cli.Close()

			if path := cfg.config.HostsFile; path != "" {
				hw, err := arangox.WatchHosts(ctx, path, cli, cfg.rootLogger)
				if err != nil {
					return err
				}
				defer hw.Close()
			}

			prober, err := arangox.NewProber(cli, interval, cfg.rootLogger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if once {
				ctx, _ := commandContextWithCorrelation(cmd)
				results := prober.ProbeOnce(ctx)
				printProbeResults(out, results)
				for _, r := range results {
					if r.OK() {
						return nil
					}
				}
				return fmt.Errorf("no host answered")
			}
			return prober.Run(ctx, func(results []arangox.ProbeResult) {
				printProbeResults(out, results)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", arangox.DefaultProbeInterval, "pause between probe rounds")
	cmd.Flags().BoolVar(&once, "once", false, "probe every host once and exit (non-zero when none answered)")
	return cmd
}

func printProbeResults(w io.Writer, results []arangox.ProbeResult) {
	for _, r := range results {
		if r.OK() {
			fmt.Fprintf(w, "host=%d endpoint=%s status=ok version=%s latency=%s\n", r.Host, r.Endpoint, r.Version, humanizeDuration(r.Latency))
			continue
		}
		fmt.Fprintf(w, "host=%d endpoint=%s status=down latency=%s error=%q\n", r.Host, r.Endpoint, humanizeDuration(r.Latency), r.Err.Error())
	}
}
