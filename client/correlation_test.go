package client_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"pkt.systems/arangox/client"
)

func TestNormalizeCorrelationID(t *testing.T) {
	cases := map[string]bool{
		"  req-42  ":             true,
		"":                       false,
		"   ":                    false,
		"tab\tinside":            false,
		"naïve":                  false,
		strings.Repeat("x", 128): true,
		strings.Repeat("x", 129): false,
	}
	for in, wantOK := range cases {
		got, ok := client.NormalizeCorrelationID(in)
		if ok != wantOK {
			t.Fatalf("NormalizeCorrelationID(%q) ok=%v, want %v", in, ok, wantOK)
		}
		if ok && got != strings.TrimSpace(in) {
			t.Fatalf("NormalizeCorrelationID(%q) = %q", in, got)
		}
	}
}

func TestWithCorrelationIDIgnoresInvalid(t *testing.T) {
	ctx := client.WithCorrelationID(context.Background(), "first")
	ctx = client.WithCorrelationID(ctx, "bad\nid")
	if got := client.CorrelationIDFromContext(ctx); got != "first" {
		t.Fatalf("expected previous id to survive, got %q", got)
	}
	if got := client.CorrelationIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}

func TestGenerateCorrelationIDIsUUIDv7(t *testing.T) {
	a := client.GenerateCorrelationID()
	b := client.GenerateCorrelationID()
	if a == b {
		t.Fatal("expected distinct ids")
	}
	parsed, err := uuid.Parse(a)
	if err != nil {
		t.Fatalf("parse %q: %v", a, err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
	if _, ok := client.NormalizeCorrelationID(a); !ok {
		t.Fatalf("generated id %q rejected", a)
	}
}
