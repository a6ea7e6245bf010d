package client_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"pkt.systems/arangox/client"
)

func TestClassifyStructuredServerError(t *testing.T) {
	body := []byte(`{"error":true,"code":404,"errorNum":1202,"errorMessage":"document not found"}`)
	err := client.Classify(http.StatusNotFound, http.Header{}, body)
	var serr *client.ServerError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *ServerError, got %T", err)
	}
	if serr.ErrorNum != 1202 || serr.Code != 404 || serr.Message != "document not found" {
		t.Fatalf("unexpected server error: %+v", serr)
	}
	if n, ok := client.ErrorNum(err); !ok || n != 1202 {
		t.Fatalf("ErrorNum = %d, %v", n, ok)
	}
	if !client.IsErrorNum(fmt.Errorf("wrapped: %w", err), 1600, 1202) {
		t.Fatalf("expected wrapped error to match errorNum")
	}
	if client.StatusCode(err) != http.StatusNotFound {
		t.Fatalf("unexpected status %d", client.StatusCode(err))
	}
}

func TestClassifyUnparseableBody(t *testing.T) {
	err := client.Classify(http.StatusServiceUnavailable, http.Header{}, []byte("<html>bad gateway</html>"))
	var herr *client.HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("expected *HTTPError, got %T", err)
	}
	if herr.Message != "Service Unavailable" || herr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unexpected http error: %+v", herr)
	}
	if _, ok := client.ErrorNum(err); ok {
		t.Fatalf("http errors carry no errorNum")
	}
}

func TestClassifyRejectsIncompleteEnvelopes(t *testing.T) {
	cases := map[string]string{
		"no errorNum":   `{"error":true,"code":500,"errorMessage":"boom"}`,
		"error false":   `{"error":false,"code":500,"errorNum":4}`,
		"array body":    `[{"error":true,"errorNum":4}]`,
		"empty body":    ``,
		"wrong type":    `{"error":true,"errorNum":"4"}`,
		"truncated obj": `{"error":true,"errorNum":4`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			err := client.Classify(http.StatusInternalServerError, nil, []byte(body))
			var herr *client.HTTPError
			if !errors.As(err, &herr) {
				t.Fatalf("expected *HTTPError, got %T (%v)", err, err)
			}
		})
	}
}

func TestStatusMessageDefault(t *testing.T) {
	if got := client.StatusMessage(799); got != "Internal Server Error" {
		t.Fatalf("unexpected default message %q", got)
	}
	if got := client.StatusMessage(418); got != "I'm a teapot" {
		t.Fatalf("unexpected 418 message %q", got)
	}
}

func TestNetworkErrorTimeout(t *testing.T) {
	err := &client.NetworkError{Method: http.MethodGet, URL: "http://db:8529/_api/version", Err: context.DeadlineExceeded}
	if !err.Timeout() {
		t.Fatalf("expected timeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected unwrap to deadline exceeded")
	}
	if !client.IsNetworkError(fmt.Errorf("op: %w", err)) {
		t.Fatalf("expected network error to be detected")
	}
	if client.StatusCode(err) != 0 {
		t.Fatalf("network errors carry no status")
	}
	other := &client.NetworkError{Err: errors.New("connection refused")}
	if other.Timeout() {
		t.Fatalf("refused connection is not a timeout")
	}
}
