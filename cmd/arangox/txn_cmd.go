package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/arangox/api"
	"pkt.systems/arangox/client"
)

func newTxnCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "txn",
		Short: "Manage stream transactions",
	}
	cmd.AddCommand(
		newTxnBeginCommand(cfg),
		newTxnStatusCommand(cfg),
		newTxnCommitCommand(cfg),
		newTxnAbortCommand(cfg),
		newTxnListCommand(cfg),
	)
	return cmd
}

func newTxnBeginCommand(cfg *cliConfig) *cobra.Command {
	var read, write, exclusive []string
	var lockTimeout int
	var waitForSync bool
	var allowImplicit bool
	var idOnly bool
	var output string
	cmd := &cobra.Command{
		Use:   "begin",
		Short: "Begin a stream transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			collections := api.TransactionCollections{Read: read, Write: write, Exclusive: exclusive}
			if len(read)+len(write)+len(exclusive) == 0 {
				return fmt.Errorf("at least one of --read, --write or --exclusive is required")
			}
			opts := api.TransactionOptions{LockTimeout: lockTimeout, WaitForSync: waitForSync}
			if cmd.Flags().Changed("allow-implicit") {
				opts.AllowImplicit = &allowImplicit
			}
			cli, err := cfg.client()
			if err != nil {
				return err
			}
			defer cli.Close()
			ctx, _ := commandContextWithCorrelation(cmd)
			txn, err := cli.BeginTransaction(ctx, collections, opts)
			if err != nil {
				return err
			}
			if idOnly {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), txn.ID())
				return err
			}
			return printTxnStatus(cmd, output, api.TransactionStatus{ID: txn.ID(), Status: api.TxnStateRunning})
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVar(&read, "read", nil, "collections opened for reading")
	flags.StringSliceVar(&write, "write", nil, "collections opened for writing")
	flags.StringSliceVar(&exclusive, "exclusive", nil, "collections opened for exclusive writing")
	flags.IntVar(&lockTimeout, "lock-timeout", 0, "lock acquisition timeout in seconds (0 uses the server default)")
	flags.BoolVar(&waitForSync, "wait-for-sync", false, "sync the commit to disk")
	flags.BoolVar(&allowImplicit, "allow-implicit", true, "allow reads from undeclared collections")
	flags.BoolVar(&idOnly, "id-only", false, "print only the transaction id")
	flags.StringVarP(&output, "output", "o", "text", "output format (text|json)")
	return cmd
}

type txnAction func(t *client.Transaction, cmd *cobra.Command) (api.TransactionStatus, error)

func newTxnIDCommand(cfg *cliConfig, use, short string, action txnAction) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return fmt.Errorf("transaction id required")
			}
			cli, err := cfg.client()
			if err != nil {
				return err
			}
			defer cli.Close()
			status, err := action(cli.Transaction(id), cmd)
			if err != nil {
				return err
			}
			return printTxnStatus(cmd, output, status)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text|json)")
	return cmd
}

func newTxnStatusCommand(cfg *cliConfig) *cobra.Command {
	return newTxnIDCommand(cfg, "status", "Show the state of a stream transaction", func(t *client.Transaction, cmd *cobra.Command) (api.TransactionStatus, error) {
		ctx, _ := commandContextWithCorrelation(cmd)
		return t.Status(ctx)
	})
}

func newTxnCommitCommand(cfg *cliConfig) *cobra.Command {
	return newTxnIDCommand(cfg, "commit", "Commit a stream transaction", func(t *client.Transaction, cmd *cobra.Command) (api.TransactionStatus, error) {
		ctx, _ := commandContextWithCorrelation(cmd)
		return t.Commit(ctx)
	})
}

func newTxnAbortCommand(cfg *cliConfig) *cobra.Command {
	return newTxnIDCommand(cfg, "abort", "Abort a stream transaction", func(t *client.Transaction, cmd *cobra.Command) (api.TransactionStatus, error) {
		ctx, _ := commandContextWithCorrelation(cmd)
		return t.Abort(ctx)
	})
}

func newTxnListCommand(cfg *cliConfig) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List running stream transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cfg.client()
			if err != nil {
				return err
			}
			defer cli.Close()
			ctx, _ := commandContextWithCorrelation(cmd)
			list, err := cli.ListTransactions(ctx)
			if err != nil {
				return err
			}
			if strings.EqualFold(output, outputJSON) {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			for _, entry := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "id=%s state=%s\n", entry.ID, entry.State)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text|json)")
	return cmd
}

func printTxnStatus(cmd *cobra.Command, output string, status api.TransactionStatus) error {
	if strings.EqualFold(output, outputJSON) {
		return writeJSON(cmd.OutOrStdout(), status)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "id=%s status=%s\n", status.ID, status.Status)
	return err
}
