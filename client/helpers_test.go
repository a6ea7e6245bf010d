package client_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"pkt.systems/arangox/client"
)

type recordedRequest struct {
	Host     string
	Method   string
	Path     string
	RawPath  string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// hostTransport serves every host through handler and records the requests it
// sees, so multi-host pools can be exercised without listeners.
type hostTransport struct {
	handler http.Handler

	mu       sync.Mutex
	requests []recordedRequest
}

func (tr *hostTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		body = data
	}
	tr.mu.Lock()
	tr.requests = append(tr.requests, recordedRequest{
		Host:     req.URL.Host,
		Method:   req.Method,
		Path:     req.URL.Path,
		RawPath:  req.URL.EscapedPath(),
		RawQuery: req.URL.RawQuery,
		Header:   req.Header.Clone(),
		Body:     body,
	})
	tr.mu.Unlock()
	inbound := req.Clone(req.Context())
	inbound.Body = io.NopCloser(bytes.NewReader(body))
	rec := httptest.NewRecorder()
	tr.handler.ServeHTTP(rec, inbound)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

func (tr *hostTransport) calls() []recordedRequest {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]recordedRequest(nil), tr.requests...)
}

func (tr *hostTransport) last(t *testing.T) recordedRequest {
	t.Helper()
	calls := tr.calls()
	if len(calls) == 0 {
		t.Fatalf("expected at least one request")
	}
	return calls[len(calls)-1]
}

type refusedTransport struct{}

func (refusedTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, fmt.Errorf("dial tcp: connect: connection refused")
}

func newTestClient(t *testing.T, endpoints []string, handler http.Handler, opts ...client.Option) (*client.Client, *hostTransport) {
	t.Helper()
	tr := &hostTransport{handler: handler}
	all := append([]client.Option{client.WithHTTPClient(&http.Client{Transport: tr})}, opts...)
	cli, err := client.NewWithEndpoints(endpoints, all...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	return cli, tr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeServerError(w http.ResponseWriter, status, errorNum int, msg string) {
	writeJSON(w, status, map[string]any{
		"error":        true,
		"code":         status,
		"errorNum":     errorNum,
		"errorMessage": msg,
	})
}

// batchServer hands out a fixed sequence of follow-up batches for one cursor
// id. Batches are consumed in order; deletes are counted.
type batchServer struct {
	id      string
	batches [][]any
	fail    map[int]int

	mu      sync.Mutex
	next    int
	puts    int
	deletes int
	killed  bool
}

func (s *batchServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !strings.HasSuffix(r.URL.Path, "/_api/cursor/"+s.id) {
		writeServerError(w, http.StatusNotFound, 1600, "cursor not found")
		return
	}
	switch r.Method {
	case http.MethodPut:
		s.puts++
		if status, ok := s.fail[s.puts]; ok {
			w.WriteHeader(status)
			fmt.Fprint(w, "upstream unavailable")
			return
		}
		if s.killed || s.next >= len(s.batches) {
			writeServerError(w, http.StatusNotFound, 1600, "cursor not found")
			return
		}
		batch := s.batches[s.next]
		s.next++
		hasMore := s.next < len(s.batches)
		body := map[string]any{"result": batch, "hasMore": hasMore}
		if hasMore {
			body["id"] = s.id
		}
		writeJSON(w, http.StatusOK, body)
	case http.MethodDelete:
		s.deletes++
		if s.killed {
			writeServerError(w, http.StatusNotFound, 1600, "cursor not found")
			return
		}
		s.killed = true
		writeJSON(w, http.StatusAccepted, map[string]any{"id": s.id, "error": false, "code": 202})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *batchServer) counts() (puts, deletes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts, s.deletes
}

func rawItems(t *testing.T, values ...any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, len(values))
	for i, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %v: %v", v, err)
		}
		out[i] = data
	}
	return out
}
