package arangox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/rs/xid"

	"pkt.systems/arangox/api"
	"pkt.systems/arangox/client"
	"pkt.systems/pslog"
)

const testServerDefaultBatchSize = 1000

// TestServer is an in-process stand-in for the database HTTP API. It serves
// cursors, stream transactions and the version endpoint, enough to exercise
// the client and CLI without a real server.
type TestServer struct {
	// BaseURL is the server's endpoint, without credentials.
	BaseURL string
	// Client is connected to BaseURL unless WithoutTestClient was given.
	Client *client.Client

	srv         *httptest.Server
	logger      pslog.Logger
	username    string
	password    string
	version     api.VersionResponse
	queries     map[string][]any
	clientOpts  []client.Option
	skipClient  bool
	unavailable bool

	mu       sync.Mutex
	cursors  map[string]*testCursor
	txns     map[string]string
	nextTxn  int
	requests []TestRequest
}

// TestRequest records one request seen by the TestServer.
type TestRequest struct {
	Method    string
	Path      string
	Database  string
	TxnID     string
	DirtyRead bool
}

type testCursor struct {
	items     []any
	batchSize int
}

// TestServerOption customises StartTestServer.
type TestServerOption func(*TestServer)

// WithTestQuery registers the result set returned for query. Queries of the
// form "FOR x IN a..b RETURN x" are answered without registration.
func WithTestQuery(query string, results []any) TestServerOption {
	return func(ts *TestServer) {
		ts.queries[strings.TrimSpace(query)] = results
	}
}

// WithTestCredentials makes the server require Basic credentials.
func WithTestCredentials(username, password string) TestServerOption {
	return func(ts *TestServer) {
		ts.username = username
		ts.password = password
	}
}

// WithTestVersion overrides the version reported by /_api/version.
func WithTestVersion(v api.VersionResponse) TestServerOption {
	return func(ts *TestServer) {
		ts.version = v
	}
}

// WithTestClientOptions appends options used when constructing ts.Client.
func WithTestClientOptions(opts ...client.Option) TestServerOption {
	return func(ts *TestServer) {
		ts.clientOpts = append(ts.clientOpts, opts...)
	}
}

// WithoutTestClient skips constructing ts.Client.
func WithoutTestClient() TestServerOption {
	return func(ts *TestServer) {
		ts.skipClient = true
	}
}

// WithTestLogger overrides the logger used by the server.
func WithTestLogger(logger pslog.Logger) TestServerOption {
	return func(ts *TestServer) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// StartTestServer starts a TestServer and registers cleanup with t.
func StartTestServer(t testing.TB, opts ...TestServerOption) *TestServer {
	t.Helper()
	ts := &TestServer{
		logger:  NewTestingLogger(t, pslog.InfoLevel),
		version: api.VersionResponse{Server: "arango", Version: "3.12.4", License: "community"},
		queries: make(map[string][]any),
		cursors: make(map[string]*testCursor),
		txns:    make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	ts.srv = httptest.NewServer(http.HandlerFunc(ts.serveHTTP))
	ts.BaseURL = ts.srv.URL
	t.Cleanup(ts.Close)
	if !ts.skipClient {
		cli, err := ts.NewClient(ts.clientOpts...)
		if err != nil {
			t.Fatalf("test server client: %v", err)
		}
		ts.Client = cli
	}
	ts.logger.Debug("testserver.started", "url", ts.BaseURL)
	return ts
}

// NewClient returns a client connected to the server with its credentials.
func (ts *TestServer) NewClient(opts ...client.Option) (*client.Client, error) {
	options := []client.Option{client.WithHTTPClient(ts.srv.Client())}
	if ts.username != "" {
		options = append(options, client.WithBasicAuth(ts.username, ts.password))
	}
	options = append(options, opts...)
	return client.New(ts.BaseURL, options...)
}

// Close stops the server.
func (ts *TestServer) Close() {
	if ts.Client != nil {
		_ = ts.Client.Close()
	}
	ts.srv.Close()
}

// SetUnavailable makes every request fail with a bare 503.
func (ts *TestServer) SetUnavailable(down bool) {
	ts.mu.Lock()
	ts.unavailable = down
	ts.mu.Unlock()
}

// OpenCursors returns the number of server-side cursors still held.
func (ts *TestServer) OpenCursors() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.cursors)
}

// TransactionState returns the state of a transaction and whether it exists.
func (ts *TestServer) TransactionState(id string) (string, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	state, ok := ts.txns[id]
	return state, ok
}

// Requests returns the requests seen so far.
func (ts *TestServer) Requests() []TestRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]TestRequest(nil), ts.requests...)
}

var rangeQueryPattern = regexp.MustCompile(`^FOR\s+\w+\s+IN\s+(-?\d+)\.\.(-?\d+)\s+RETURN\s+\w+$`)

func (ts *TestServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	db, path := splitDatabasePath(r.URL.Path)
	txnID := r.Header.Get("x-arango-trx-id")
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.requests = append(ts.requests, TestRequest{
		Method:    r.Method,
		Path:      path,
		Database:  db,
		TxnID:     txnID,
		DirtyRead: r.Header.Get("x-arango-allow-dirty-read") == "true",
	})
	ts.logger.Trace("testserver.request", "method", r.Method, "path", path, "db", db, "txn", txnID)
	if ts.unavailable {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "service unavailable")
		return
	}
	if !ts.authorized(r) {
		writeTestError(w, http.StatusUnauthorized, 11, "not authorized to execute this request")
		return
	}
	if txnID != "" {
		if state, ok := ts.txns[txnID]; !ok || state != api.TxnStateRunning {
			writeTestError(w, http.StatusNotFound, api.ErrNumTransactionNotFound, "transaction '"+txnID+"' not found")
			return
		}
	}
	w.Header().Set("x-arango-queue-time-seconds", "0.000000")
	switch {
	case path == "/_api/version" && r.Method == http.MethodGet:
		v := ts.version
		if r.URL.Query().Get("details") == "true" && v.Details == nil {
			v.Details = map[string]string{"mode": "server", "role": "SINGLE"}
		}
		writeTestJSON(w, http.StatusOK, v)
	case path == "/_api/cursor" && r.Method == http.MethodPost:
		ts.createCursor(w, r)
	case strings.HasPrefix(path, "/_api/cursor/"):
		ts.cursorOp(w, r.Method, strings.TrimPrefix(path, "/_api/cursor/"))
	case path == "/_api/transaction/begin" && r.Method == http.MethodPost:
		ts.beginTxn(w, r)
	case path == "/_api/transaction" && r.Method == http.MethodGet:
		ts.listTxns(w)
	case strings.HasPrefix(path, "/_api/transaction/"):
		ts.txnOp(w, r.Method, strings.TrimPrefix(path, "/_api/transaction/"))
	default:
		writeTestError(w, http.StatusNotFound, 404, "unknown path '"+path+"'")
	}
}

func (ts *TestServer) authorized(r *http.Request) bool {
	if ts.username == "" {
		return true
	}
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte(ts.username+":"+ts.password))
	return r.Header.Get("Authorization") == want
}

func splitDatabasePath(p string) (string, string) {
	if !strings.HasPrefix(p, "/_db/") {
		return client.DefaultDatabase, p
	}
	rest := strings.TrimPrefix(p, "/_db/")
	name, tail, _ := strings.Cut(rest, "/")
	return name, "/" + tail
}

func (ts *TestServer) createCursor(w http.ResponseWriter, r *http.Request) {
	var req api.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeTestError(w, http.StatusBadRequest, api.ErrNumBadParameter, "invalid query request: "+err.Error())
		return
	}
	items, ok := ts.resolveQuery(req.Query)
	if !ok {
		writeTestError(w, http.StatusBadRequest, api.ErrNumQueryParse, "syntax error, unexpected query '"+req.Query+"'")
		return
	}
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = testServerDefaultBatchSize
	}
	resp := map[string]any{
		"extra": map[string]any{
			"warnings": []any{},
			"stats":    map[string]any{"writesExecuted": 0, "scannedFull": len(items)},
		},
		"cached": false,
	}
	if req.Count {
		resp["count"] = len(items)
	}
	first := items
	if len(items) > batchSize {
		first = items[:batchSize]
		id := xid.New().String()
		ts.cursors[id] = &testCursor{items: items[batchSize:], batchSize: batchSize}
		resp["id"] = id
		resp["hasMore"] = true
	} else {
		resp["hasMore"] = false
	}
	resp["result"] = nonNilItems(first)
	writeTestJSON(w, http.StatusCreated, resp)
}

func (ts *TestServer) resolveQuery(query string) ([]any, bool) {
	query = strings.TrimSpace(query)
	if items, ok := ts.queries[query]; ok {
		return append([]any(nil), items...), true
	}
	m := rangeQueryPattern.FindStringSubmatch(query)
	if m == nil {
		return nil, false
	}
	from, _ := strconv.Atoi(m[1])
	to, _ := strconv.Atoi(m[2])
	var items []any
	for i := from; i <= to; i++ {
		items = append(items, i)
	}
	return items, true
}

func (ts *TestServer) cursorOp(w http.ResponseWriter, method, id string) {
	cur, ok := ts.cursors[id]
	if !ok {
		writeTestError(w, http.StatusNotFound, api.ErrNumCursorNotFound, "cursor not found")
		return
	}
	switch method {
	case http.MethodPut, http.MethodPost:
		batch := cur.items
		if len(batch) > cur.batchSize {
			batch = batch[:cur.batchSize]
		}
		cur.items = cur.items[len(batch):]
		resp := map[string]any{"result": nonNilItems(batch), "hasMore": len(cur.items) > 0}
		if len(cur.items) > 0 {
			resp["id"] = id
		} else {
			delete(ts.cursors, id)
		}
		writeTestJSON(w, http.StatusOK, resp)
	case http.MethodDelete:
		delete(ts.cursors, id)
		writeTestJSON(w, http.StatusAccepted, map[string]any{"id": id, "error": false, "code": http.StatusAccepted})
	default:
		writeTestError(w, http.StatusMethodNotAllowed, 405, "method not supported")
	}
}

func (ts *TestServer) beginTxn(w http.ResponseWriter, r *http.Request) {
	var req api.BeginTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeTestError(w, http.StatusBadRequest, api.ErrNumBadParameter, "invalid transaction request: "+err.Error())
		return
	}
	c := req.Collections
	if len(c.Read)+len(c.Write)+len(c.Exclusive) == 0 {
		writeTestError(w, http.StatusBadRequest, api.ErrNumBadParameter, "missing collections")
		return
	}
	ts.nextTxn++
	id := strconv.Itoa(1000 + ts.nextTxn)
	ts.txns[id] = api.TxnStateRunning
	writeTestJSON(w, http.StatusCreated, api.TransactionStatusResponse{Result: api.TransactionStatus{ID: id, Status: api.TxnStateRunning}})
}

func (ts *TestServer) listTxns(w http.ResponseWriter) {
	ids := make([]string, 0, len(ts.txns))
	for id := range ts.txns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := api.TransactionListResponse{Transactions: []api.TransactionListEntry{}}
	for _, id := range ids {
		out.Transactions = append(out.Transactions, api.TransactionListEntry{ID: id, State: ts.txns[id]})
	}
	writeTestJSON(w, http.StatusOK, out)
}

func (ts *TestServer) txnOp(w http.ResponseWriter, method, id string) {
	state, ok := ts.txns[id]
	if !ok {
		writeTestError(w, http.StatusNotFound, api.ErrNumTransactionNotFound, "transaction '"+id+"' not found")
		return
	}
	switch method {
	case http.MethodGet:
	case http.MethodPut:
		if state == api.TxnStateAborted {
			writeTestError(w, http.StatusConflict, api.ErrNumTransactionAborted, "transaction aborted")
			return
		}
		state = api.TxnStateCommitted
	case http.MethodDelete:
		if state == api.TxnStateCommitted {
			writeTestError(w, http.StatusConflict, 1653, "transaction already committed")
			return
		}
		state = api.TxnStateAborted
	default:
		writeTestError(w, http.StatusMethodNotAllowed, 405, "method not supported")
		return
	}
	ts.txns[id] = state
	writeTestJSON(w, http.StatusOK, api.TransactionStatusResponse{Result: api.TransactionStatus{ID: id, Status: state}})
}

func nonNilItems(items []any) []any {
	if items == nil {
		return []any{}
	}
	return items
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeTestError(w http.ResponseWriter, status, errorNum int, msg string) {
	writeTestJSON(w, status, api.ErrorResponse{Error: true, Code: status, ErrorNum: errorNum, ErrorMessage: msg})
}

type testingWriter struct {
	t      testing.TB
	mu     sync.Mutex
	closed bool
}

func (w *testingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return len(p), nil
	}
	for _, line := range bytes.Split(p, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		w.t.Log(string(line))
	}
	return len(p), nil
}

func (w *testingWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// NewTestingLogger creates a structured logger that writes through t.
func NewTestingLogger(t testing.TB, level pslog.Level) pslog.Logger {
	writer := &testingWriter{t: t}
	t.Cleanup(writer.close)
	logger := pslog.NewStructured(context.Background(), writer)
	if level != pslog.NoLevel {
		logger = logger.LogLevel(level)
	}
	return logger.With("app", "testserver")
}
