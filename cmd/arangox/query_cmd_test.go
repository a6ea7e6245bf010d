package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"pkt.systems/arangox"
	"pkt.systems/arangox/api"
)

func TestQueryCommandStreamsNDJSON(t *testing.T) {
	isolateCLI(t)
	ts := arangox.StartTestServer(t, arangox.WithoutTestClient())

	stdout, _, err := executeRootCommand(t, "-e", ts.BaseURL, "-d", "shop", "query", "--batch-size", "2", "FOR x IN 1..5 RETURN x")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if stdout != "1\n2\n3\n4\n5\n" {
		t.Fatalf("unexpected output %q", stdout)
	}
	if ts.OpenCursors() != 0 {
		t.Fatalf("expected cursor drained, %d open", ts.OpenCursors())
	}
	var fetches int
	for _, req := range ts.Requests() {
		if req.Database != "shop" {
			t.Fatalf("expected shop database, got %+v", req)
		}
		if strings.HasPrefix(req.Path, "/_api/cursor/") {
			fetches++
		}
	}
	if fetches != 2 {
		t.Fatalf("expected two follow-up fetches, got %d", fetches)
	}
}

func TestQueryCommandLimitKillsCursor(t *testing.T) {
	isolateCLI(t)
	ts := arangox.StartTestServer(t, arangox.WithoutTestClient())

	stdout, _, err := executeRootCommand(t, "-e", ts.BaseURL, "query", "--batch-size", "2", "--limit", "3", "FOR x IN 1..10 RETURN x")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if stdout != "1\n2\n3\n" {
		t.Fatalf("unexpected output %q", stdout)
	}
	if ts.OpenCursors() != 0 {
		t.Fatalf("expected cursor killed, %d open", ts.OpenCursors())
	}
	var deletes int
	for _, req := range ts.Requests() {
		if req.Method == "DELETE" && strings.HasPrefix(req.Path, "/_api/cursor/") {
			deletes++
		}
	}
	if deletes != 1 {
		t.Fatalf("expected one kill request, got %d", deletes)
	}
}

func TestQueryCommandJSONOutput(t *testing.T) {
	isolateCLI(t)
	docs := []any{map[string]any{"_key": "a"}, map[string]any{"_key": "b"}}
	ts := arangox.StartTestServer(t, arangox.WithoutTestClient(), arangox.WithTestQuery("FOR d IN docs RETURN d", docs))

	stdout, _, err := executeRootCommand(t, "-e", ts.BaseURL, "query", "-o", "json", "FOR d IN docs RETURN d")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var got []map[string]string
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("decode output %q: %v", stdout, err)
	}
	if len(got) != 2 || got[0]["_key"] != "a" || got[1]["_key"] != "b" {
		t.Fatalf("unexpected documents %+v", got)
	}

	stdout, _, err = executeRootCommand(t, "-e", ts.BaseURL, "query", "-o", "json", "FOR x IN 1..0 RETURN x")
	if err != nil {
		t.Fatalf("empty query: %v", err)
	}
	if strings.TrimSpace(stdout) != "[]" {
		t.Fatalf("expected empty array, got %q", stdout)
	}
}

func TestQueryCommandStats(t *testing.T) {
	isolateCLI(t)
	ts := arangox.StartTestServer(t, arangox.WithoutTestClient())

	_, stderr, err := executeRootCommand(t, "-e", ts.BaseURL, "query", "--count", "--stats", "FOR x IN 1..1500 RETURN x")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !strings.Contains(stderr, "items=1,500") || !strings.Contains(stderr, "count=1,500") {
		t.Fatalf("unexpected stats %q", stderr)
	}
}

func TestQueryCommandReadsFile(t *testing.T) {
	isolateCLI(t)
	ts := arangox.StartTestServer(t, arangox.WithoutTestClient())
	path := filepath.Join(t.TempDir(), "q.aql")
	if err := os.WriteFile(path, []byte("FOR x IN 1..2 RETURN x\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	stdout, _, err := executeRootCommand(t, "-e", ts.BaseURL, "query", "-f", path)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if stdout != "1\n2\n" {
		t.Fatalf("unexpected output %q", stdout)
	}
	if _, _, err := executeRootCommand(t, "-e", ts.BaseURL, "query", "-f", path, "RETURN 1"); err == nil {
		t.Fatal("expected --file and argument to conflict")
	}
	if _, _, err := executeRootCommand(t, "-e", ts.BaseURL, "query"); err == nil {
		t.Fatal("expected missing query error")
	}
}

func TestQueryCommandSurfacesServerError(t *testing.T) {
	isolateCLI(t)
	ts := arangox.StartTestServer(t, arangox.WithoutTestClient())

	_, _, err := executeRootCommand(t, "-e", ts.BaseURL, "query", "FOR")
	if err == nil || !strings.Contains(err.Error(), "syntax error") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestParseBindVars(t *testing.T) {
	got, err := parseBindVars([]string{"n=42", "name=alice", "tags=[\"a\",\"b\"]", "empty="})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := map[string]any{
		"n":     float64(42),
		"name":  "alice",
		"tags":  []any{"a", "b"},
		"empty": "",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %#v, got %#v", want, got)
	}
	if _, err := parseBindVars([]string{"novalue"}); err == nil {
		t.Fatal("expected error for missing '='")
	}
	if vars, err := parseBindVars(nil); err != nil || vars != nil {
		t.Fatalf("expected nil map, got %v %v", vars, err)
	}
}

func TestCursorCommandsResumeAndKill(t *testing.T) {
	isolateCLI(t)
	ts := arangox.StartTestServer(t)

	cur, err := ts.Client.Query(t.Context(), api.QueryRequest{Query: "FOR x IN 1..7 RETURN x", BatchSize: 3})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	id := cur.ID()
	if id == "" {
		t.Fatal("expected server cursor")
	}

	stdout, stderr, err := executeRootCommand(t, "-e", ts.BaseURL, "cursor", "next", id)
	if err != nil {
		t.Fatalf("cursor next: %v", err)
	}
	if stdout != "4\n5\n6\n" {
		t.Fatalf("unexpected batch %q", stdout)
	}
	if !strings.Contains(stderr, "has_more=true") {
		t.Fatalf("expected has_more hint, got %q", stderr)
	}

	stdout, _, err = executeRootCommand(t, "-e", ts.BaseURL, "cursor", "kill", id)
	if err != nil {
		t.Fatalf("cursor kill: %v", err)
	}
	if !strings.HasPrefix(stdout, "killed cursor="+id) {
		t.Fatalf("unexpected kill output %q", stdout)
	}
	if ts.OpenCursors() != 0 {
		t.Fatalf("expected cursor released, %d open", ts.OpenCursors())
	}

	// An expired cursor is reported by next and ignored by kill.
	if _, _, err := executeRootCommand(t, "-e", ts.BaseURL, "cursor", "next", id); err == nil {
		t.Fatal("expected next on a deleted cursor to fail")
	}
	if _, _, err := executeRootCommand(t, "-e", ts.BaseURL, "cursor", "kill", id); err != nil {
		t.Fatalf("kill of expired cursor: %v", err)
	}
}
