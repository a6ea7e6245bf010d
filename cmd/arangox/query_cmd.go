package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkt.systems/arangox"
	"pkt.systems/arangox/api"
	"pkt.systems/arangox/client"
	"pkt.systems/arangox/internal/pathutil"
	"pkt.systems/pslog"
)

const (
	outputNDJSON = "ndjson"
	outputJSON   = "json"
)

type queryFlags struct {
	file      string
	binds     []string
	batchSize int
	count     bool
	fullCount bool
	stream    bool
	dirtyRead bool
	host      int
	limit     int
	txn       string
	output    string
	stats     bool
}

func newQueryCommand(cfg *cliConfig) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "query [AQL]",
		Short: "Run a query and stream its results",
		Long: `Run a query and write every result item to stdout, one JSON document per line.
Batches are fetched lazily from the host that served the first one. With --limit the
remaining server-side cursor is killed once enough items were printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := readQuery(cmd, args, f.file)
			if err != nil {
				return err
			}
			bindVars, err := parseBindVars(f.binds)
			if err != nil {
				return err
			}
			output := strings.ToLower(strings.TrimSpace(f.output))
			if output != outputNDJSON && output != outputJSON {
				return fmt.Errorf("unknown output format %q (ndjson|json)", f.output)
			}
			cli, err := cfg.client()
			if err != nil {
				return err
			}
			defer cli.Close()

			ctx, _ := commandContextWithCorrelation(cmd)
			if txn := strings.TrimSpace(f.txn); txn != "" {
				ctx = client.WithTransactionID(ctx, txn)
			}
			req := api.QueryRequest{
				Query:     query,
				BindVars:  bindVars,
				BatchSize: f.batchSize,
				Count:     f.count,
			}
			if f.fullCount || f.stream {
				req.Options = &api.QueryOptions{FullCount: f.fullCount, Stream: f.stream}
			}
			var opts []client.QueryOption
			if f.dirtyRead {
				opts = append(opts, client.WithQueryAllowDirtyRead(true))
			}
			if cmd.Flags().Changed("host") {
				opts = append(opts, client.WithQueryHost(f.host))
			}

			started := time.Now()
			cur, err := cli.Query(ctx, req, opts...)
			if err != nil {
				return err
			}
			logger := cfg.subsystemLogger("query")
			logger.Debug("cli.query.cursor", "cursor", cur.ID(), "host", cur.Host(), "has_more", cur.HasMore())

			out := bufio.NewWriter(cmd.OutOrStdout())
			var written int
			var bytesOut int64
			switch output {
			case outputJSON:
				written, bytesOut, err = writeQueryArray(ctx, out, cur, f.limit)
			default:
				written, bytesOut, err = writeQueryLines(ctx, out, cur, f.limit)
			}
			if flushErr := out.Flush(); err == nil {
				err = flushErr
			}
			if err != nil {
				killCursor(cur, logger)
				return err
			}
			if cur.HasMore() {
				killCursor(cur, logger)
			}
			if f.stats {
				printQueryStats(cmd.ErrOrStderr(), cur, written, bytesOut, time.Since(started), cli.LastQueueTime())
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&f.file, "file", "f", "", "read the query from a file (- for stdin)")
	flags.StringArrayVarP(&f.binds, "bind", "b", nil, "bind variable name=value (value parsed as JSON, falling back to a string)")
	flags.IntVar(&f.batchSize, "batch-size", arangox.DefaultBatchSize, "items per batch")
	flags.BoolVar(&f.count, "count", false, "ask the server for the total result count")
	flags.BoolVar(&f.fullCount, "full-count", false, "report the count before the last LIMIT in the query statistics")
	flags.BoolVar(&f.stream, "stream", false, "run the query as a streaming query")
	flags.BoolVar(&f.dirtyRead, "dirty-read", false, "allow reading from followers")
	flags.IntVar(&f.host, "host", 0, "pin the query to this host index")
	flags.IntVar(&f.limit, "limit", 0, "stop after this many items and kill the cursor (0 prints everything)")
	flags.StringVar(&f.txn, "txn", "", "run inside this stream transaction")
	flags.StringVarP(&f.output, "output", "o", outputNDJSON, "output format (ndjson|json)")
	flags.BoolVar(&f.stats, "stats", false, "print a summary to stderr")
	return cmd
}

func readQuery(cmd *cobra.Command, args []string, file string) (string, error) {
	if file != "" && len(args) > 0 {
		return "", fmt.Errorf("--file and a query argument are mutually exclusive")
	}
	if file == "" {
		if len(args) == 0 {
			return "", fmt.Errorf("query required (argument or --file)")
		}
		return args[0], nil
	}
	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		var path string
		path, err = pathutil.Abs(file)
		if err == nil {
			data, err = os.ReadFile(path)
		}
	}
	if err != nil {
		return "", fmt.Errorf("read query: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func parseBindVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid bind variable %q (expected name=value)", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		out[name] = value
	}
	return out, nil
}

func writeQueryLines(ctx context.Context, out io.Writer, cur *client.Cursor[json.RawMessage], limit int) (int, int64, error) {
	var written int
	var bytesOut int64
	_, err := cur.ForEach(ctx, func(item json.RawMessage, _ int) error {
		n, err := fmt.Fprintf(out, "%s\n", item)
		if err != nil {
			return err
		}
		written++
		bytesOut += int64(n)
		if limit > 0 && written >= limit {
			return client.ErrStop
		}
		return nil
	})
	return written, bytesOut, err
}

func writeQueryArray(ctx context.Context, out io.Writer, cur *client.Cursor[json.RawMessage], limit int) (int, int64, error) {
	var items []json.RawMessage
	if limit > 0 {
		if _, err := cur.ForEach(ctx, func(item json.RawMessage, index int) error {
			items = append(items, item)
			if index+1 >= limit {
				return client.ErrStop
			}
			return nil
		}); err != nil {
			return 0, 0, err
		}
	} else {
		all, err := cur.All(ctx)
		if err != nil {
			return 0, 0, err
		}
		items = all
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return 0, 0, err
	}
	n, err := fmt.Fprintf(out, "%s\n", data)
	return len(items), int64(n), err
}

// killCursor releases a cursor the command no longer reads from. It runs on a
// fresh context so an interrupted command still frees the server cursor.
func killCursor(cur *client.Cursor[json.RawMessage], logger pslog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cur.Kill(ctx); err != nil {
		logger.Warn("cli.query.kill_failed", "cursor", cur.ID(), "error", err)
	}
}

func printQueryStats(w io.Writer, cur *client.Cursor[json.RawMessage], written int, bytesOut int64, elapsed, queueTime time.Duration) {
	parts := []string{
		"items=" + humanize.Comma(int64(written)),
		"bytes=" + humanizeBytes(bytesOut),
		"elapsed=" + humanizeDuration(elapsed),
	}
	if count, ok := cur.Count(); ok {
		parts = append(parts, "count="+humanize.Comma(count))
	}
	if cur.Cached() {
		parts = append(parts, "cached=true")
	}
	if queueTime > 0 {
		parts = append(parts, "queue_time="+humanizeDuration(queueTime))
	}
	extra := cur.Extra()
	for _, warning := range extra.Warnings {
		parts = append(parts, fmt.Sprintf("warning=%d:%q", warning.Code, warning.Message))
	}
	fmt.Fprintln(w, strings.Join(parts, " "))
}
