package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/arangox/api"
	"pkt.systems/arangox/internal/version"
)

func newVersionCommand(cfg *cliConfig) *cobra.Command {
	var server bool
	var details bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the arangox version, optionally with the server's",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Read()
			if !details {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), info.String()); err != nil {
					return err
				}
			}
			if !server && !details {
				return nil
			}
			cli, err := cfg.client()
			if err != nil {
				return err
			}
			defer cli.Close()
			ctx, _ := commandContextWithCorrelation(cmd)
			v, err := cli.Version(ctx, details)
			if err != nil {
				return err
			}
			if details {
				return writeJSON(cmd.OutOrStdout(), struct {
					Client version.Info         `json:"client"`
					Server *api.VersionResponse `json:"server"`
				}{info, v})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "server %s %s %s\n", v.Server, v.Version, v.License)
			return err
		},
	}
	cmd.Flags().BoolVar(&server, "server", false, "also query the server version")
	cmd.Flags().BoolVar(&details, "details", false, "query the server version with build details (implies --server)")
	return cmd
}
