package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/arangox/api"
	"pkt.systems/arangox/client"
)

// Cursor ids are only valid on the host that created them, so every cursor
// subcommand takes the host index explicitly.
func newCursorCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Resume or discard server-side cursors by id",
	}
	cmd.AddCommand(
		newCursorNextCommand(cfg),
		newCursorKillCommand(cfg),
	)
	return cmd
}

func resumeCursor(cli *client.Client, id string, host int, dirtyRead bool) (*client.Cursor[json.RawMessage], error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("cursor id required")
	}
	return client.NewCursor[json.RawMessage](cli, api.CursorResponse{ID: id, HasMore: true}, host,
		client.WithCursorDirtyRead(dirtyRead),
	)
}

func newCursorNextCommand(cfg *cliConfig) *cobra.Command {
	var host int
	var dirtyRead bool
	cmd := &cobra.Command{
		Use:   "next <id>",
		Short: "Fetch the next batch of a cursor as NDJSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cfg.client()
			if err != nil {
				return err
			}
			defer cli.Close()
			cur, err := resumeCursor(cli, args[0], host, dirtyRead)
			if err != nil {
				return err
			}
			ctx, _ := commandContextWithCorrelation(cmd)
			batch, _, err := cur.NextBatch(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, item := range batch {
				if _, err := fmt.Fprintf(out, "%s\n", item); err != nil {
					return err
				}
			}
			cfg.subsystemLogger("cursor").Debug("cli.cursor.next", "cursor", cur.ID(), "host", host, "items", len(batch), "has_more", cur.HasMore())
			if cur.HasMore() {
				fmt.Fprintf(cmd.ErrOrStderr(), "has_more=true cursor=%s host=%d\n", cur.ID(), host)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&host, "host", 0, "index of the host that owns the cursor")
	cmd.Flags().BoolVar(&dirtyRead, "dirty-read", false, "fetch as a dirty read")
	return cmd
}

func newCursorKillCommand(cfg *cliConfig) *cobra.Command {
	var host int
	cmd := &cobra.Command{
		Use:   "kill <id>",
		Short: "Delete a server-side cursor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cfg.client()
			if err != nil {
				return err
			}
			defer cli.Close()
			cur, err := resumeCursor(cli, args[0], host, false)
			if err != nil {
				return err
			}
			ctx, _ := commandContextWithCorrelation(cmd)
			if err := cur.Kill(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "killed cursor=%s host=%d\n", cur.ID(), host)
			return nil
		},
	}
	cmd.Flags().IntVar(&host, "host", 0, "index of the host that owns the cursor")
	return cmd
}
