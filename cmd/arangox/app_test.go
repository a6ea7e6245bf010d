package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/arangox"
	"pkt.systems/arangox/api"
	"pkt.systems/arangox/internal/version"
	"pkt.systems/pslog"
)

func isolateCLI(t *testing.T) {
	t.Helper()
	t.Setenv("ARANGOX_CONFIG_DIR", t.TempDir())
	for _, key := range []string{"ARANGOX_CONFIG", "ARANGOX_ENDPOINTS", "ARANGOX_DATABASE", "ARANGOX_USERNAME", "ARANGOX_PASSWORD", "ARANGOX_TOKEN", "ARANGOX_LOG_LEVEL", "ARANGOX_HOSTS_FILE"} {
		t.Setenv(key, "")
	}
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func executeRootCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(pslog.NewStructured(context.Background(), io.Discard))
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommandPrintsCurrentVersion(t *testing.T) {
	isolateCLI(t)

	stdout, stderr, err := executeRootCommand(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if stderr != "" {
		t.Fatalf("expected empty stderr, got %q", stderr)
	}
	want := version.Module() + " " + version.Current() + "\n"
	if stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}
}

func TestVersionCommandQueriesServer(t *testing.T) {
	isolateCLI(t)
	ts := arangox.StartTestServer(t, arangox.WithoutTestClient())

	stdout, _, err := executeRootCommand(t, "-e", ts.BaseURL, "version", "--server")
	if err != nil {
		t.Fatalf("version --server: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 || lines[1] != "server arango 3.12.4 community" {
		t.Fatalf("unexpected output %q", stdout)
	}
}

func TestRootRejectsInvalidLogLevel(t *testing.T) {
	isolateCLI(t)
	ts := arangox.StartTestServer(t, arangox.WithoutTestClient())

	_, _, err := executeRootCommand(t, "-e", ts.BaseURL, "--log-level", "loud", "version", "--server")
	if err == nil || !strings.Contains(err.Error(), "invalid log level") {
		t.Fatalf("expected invalid log level error, got %v", err)
	}
}

func TestRootRejectsUnknownStrategy(t *testing.T) {
	isolateCLI(t)

	_, _, err := executeRootCommand(t, "--load-balancing", "fastest", "query", "RETURN 1")
	if err == nil || !strings.Contains(err.Error(), "load balancing") {
		t.Fatalf("expected strategy error, got %v", err)
	}
}

func TestConfigFileSuppliesConnection(t *testing.T) {
	isolateCLI(t)
	ts := arangox.StartTestServer(t, arangox.WithoutTestClient(), arangox.WithTestCredentials("reader", "pw"))

	data, err := defaultConfigYAML(func(d *configDefaults) {
		d.Endpoints = []string{ts.BaseURL}
		d.Database = "orders"
		d.Username = "reader"
		d.Password = "pw"
		d.HostsFile = ""
	})
	if err != nil {
		t.Fatalf("config yaml: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	stdout, _, err := executeRootCommand(t, "-c", path, "version", "--server")
	if err != nil {
		t.Fatalf("version with config: %v", err)
	}
	if !strings.Contains(stdout, "server arango") {
		t.Fatalf("unexpected output %q", stdout)
	}
	reqs := ts.Requests()
	if len(reqs) != 1 || reqs[0].Database != "orders" {
		t.Fatalf("expected request scoped to orders, got %+v", reqs)
	}
}

func TestConfigFileMissingExplicitPath(t *testing.T) {
	isolateCLI(t)

	_, _, err := executeRootCommand(t, "-c", filepath.Join(t.TempDir(), "absent.yaml"), "query", "RETURN 1")
	if err == nil || !strings.Contains(err.Error(), "config file") {
		t.Fatalf("expected config file error, got %v", err)
	}
}

func TestConfigGenStdout(t *testing.T) {
	isolateCLI(t)

	stdout, _, err := executeRootCommand(t, "config", "gen", "--stdout")
	if err != nil {
		t.Fatalf("config gen: %v", err)
	}
	var parsed configDefaults
	if err := yaml.Unmarshal([]byte(stdout), &parsed); err != nil {
		t.Fatalf("parse generated config: %v", err)
	}
	if len(parsed.Endpoints) != 1 || parsed.Endpoints[0] != arangox.DefaultEndpoint {
		t.Fatalf("unexpected endpoints %v", parsed.Endpoints)
	}
	if parsed.Timeout != arangox.DefaultTimeout.String() || parsed.LoadBalancing != arangox.DefaultLoadBalancing {
		t.Fatalf("unexpected defaults %+v", parsed)
	}
}

func TestConfigGenRefusesOverwrite(t *testing.T) {
	isolateCLI(t)
	out := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if _, _, err := executeRootCommand(t, "config", "gen", "--out", out); err != nil {
		t.Fatalf("config gen: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("expected config written: %v", err)
	}
	if _, _, err := executeRootCommand(t, "config", "gen", "--out", out); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}
	if _, _, err := executeRootCommand(t, "config", "gen", "--out", out, "--force"); err != nil {
		t.Fatalf("config gen --force: %v", err)
	}
	if _, _, err := executeRootCommand(t, "config", "gen", "--out", out, "--stdout"); err == nil {
		t.Fatal("expected --out and --stdout to conflict")
	}
}

func TestTxnCommandsLifecycle(t *testing.T) {
	isolateCLI(t)
	ts := arangox.StartTestServer(t, arangox.WithoutTestClient())

	stdout, _, err := executeRootCommand(t, "-e", ts.BaseURL, "txn", "begin", "--write", "orders", "--id-only")
	if err != nil {
		t.Fatalf("txn begin: %v", err)
	}
	id := strings.TrimSpace(stdout)
	if id == "" {
		t.Fatal("expected transaction id")
	}

	if _, _, err := executeRootCommand(t, "-e", ts.BaseURL, "query", "--txn", id, "FOR x IN 1..2 RETURN x"); err != nil {
		t.Fatalf("query in txn: %v", err)
	}

	stdout, _, err = executeRootCommand(t, "-e", ts.BaseURL, "txn", "list", "-o", "json")
	if err != nil {
		t.Fatalf("txn list: %v", err)
	}
	var list []api.TransactionListEntry
	if err := json.Unmarshal([]byte(stdout), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != id {
		t.Fatalf("unexpected list %+v", list)
	}

	stdout, _, err = executeRootCommand(t, "-e", ts.BaseURL, "txn", "commit", id)
	if err != nil {
		t.Fatalf("txn commit: %v", err)
	}
	if stdout != "id="+id+" status=committed\n" {
		t.Fatalf("unexpected commit output %q", stdout)
	}
	stdout, _, err = executeRootCommand(t, "-e", ts.BaseURL, "txn", "status", id, "-o", "json")
	if err != nil {
		t.Fatalf("txn status: %v", err)
	}
	var status api.TransactionStatus
	if err := json.Unmarshal([]byte(stdout), &status); err != nil || status.Status != api.TxnStateCommitted {
		t.Fatalf("unexpected status %q (%v)", stdout, err)
	}
	if _, _, err := executeRootCommand(t, "-e", ts.BaseURL, "txn", "abort", id); err == nil {
		t.Fatal("expected abort after commit to fail")
	}

	var sawTxn bool
	for _, req := range ts.Requests() {
		if req.Path == "/_api/cursor" && req.TxnID == id {
			sawTxn = true
		}
	}
	if !sawTxn {
		t.Fatal("expected query to carry the transaction header")
	}
}

func TestTxnBeginRequiresCollections(t *testing.T) {
	isolateCLI(t)

	_, _, err := executeRootCommand(t, "txn", "begin")
	if err == nil || !strings.Contains(err.Error(), "--write") {
		t.Fatalf("expected collections error, got %v", err)
	}
}

func TestProbeOnce(t *testing.T) {
	isolateCLI(t)
	ts := arangox.StartTestServer(t, arangox.WithoutTestClient())

	stdout, _, err := executeRootCommand(t, "-e", ts.BaseURL+",http://127.0.0.1:1", "--timeout", "2s", "probe", "--once")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two probe lines, got %q", stdout)
	}
	if !strings.HasPrefix(lines[0], "host=0 ") || !strings.Contains(lines[0], "status=ok version=3.12.4") {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "host=1 ") || !strings.Contains(lines[1], "status=down") {
		t.Fatalf("unexpected second line %q", lines[1])
	}
}

func TestProbeOnceMergesHostsFile(t *testing.T) {
	isolateCLI(t)
	ts := arangox.StartTestServer(t, arangox.WithoutTestClient())
	hosts := filepath.Join(t.TempDir(), "hosts")
	if err := os.WriteFile(hosts, []byte("# extra\nhttp://127.0.0.1:1\n"), 0o600); err != nil {
		t.Fatalf("write hosts: %v", err)
	}

	stdout, _, err := executeRootCommand(t, "-e", ts.BaseURL, "--hosts-file", hosts, "probe", "--once")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if strings.Count(stdout, "\n") != 2 || !strings.Contains(stdout, "host=1 endpoint=http://127.0.0.1:1 status=down") {
		t.Fatalf("expected hosts file endpoint to be probed, got %q", stdout)
	}
}

func TestProbeOnceFailsWhenNoHostAnswers(t *testing.T) {
	isolateCLI(t)

	_, _, err := executeRootCommand(t, "-e", "http://127.0.0.1:1", "probe", "--once")
	if err == nil || !strings.Contains(err.Error(), "no host answered") {
		t.Fatalf("expected probe failure, got %v", err)
	}
}
