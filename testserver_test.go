package arangox

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"pkt.systems/arangox/api"
	"pkt.systems/arangox/client"
)

func queryRequest(query string, batchSize int) api.QueryRequest {
	return api.QueryRequest{Query: query, BatchSize: batchSize, Count: true}
}

func TestTestServerStreamsRangeQuery(t *testing.T) {
	ts := StartTestServer(t)
	ctx := t.Context()
	cur, err := client.QueryAs[int](ctx, ts.Client, queryRequest("FOR x IN 1..7 RETURN x", 3))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if count, ok := cur.Count(); !ok || count != 7 {
		t.Fatalf("expected count 7, got %d (%v)", count, ok)
	}
	if cur.State() != client.StateHasBuffered {
		t.Fatalf("expected buffered state, got %s", cur.State())
	}
	if ts.OpenCursors() != 1 {
		t.Fatalf("expected one open server cursor, got %d", ts.OpenCursors())
	}
	items, err := cur.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	for i, v := range items {
		if v != i+1 {
			t.Fatalf("unexpected order %v", items)
		}
	}
	if len(items) != 7 {
		t.Fatalf("expected 7 items, got %v", items)
	}
	if cur.State() != client.StateDone {
		t.Fatalf("expected done, got %s", cur.State())
	}
	if ts.OpenCursors() != 0 {
		t.Fatalf("expected server cursor exhausted, got %d open", ts.OpenCursors())
	}
}

func TestTestServerRegisteredQuery(t *testing.T) {
	docs := []any{
		map[string]any{"_key": "a", "n": 1},
		map[string]any{"_key": "b", "n": 2},
	}
	ts := StartTestServer(t, WithTestQuery("FOR d IN docs RETURN d", docs))
	type doc struct {
		Key string `json:"_key"`
		N   int    `json:"n"`
	}
	cur, err := client.QueryAs[doc](t.Context(), ts.Client, api.QueryRequest{Query: "FOR d IN docs RETURN d"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if cur.ID() != "" || cur.HasMore() {
		t.Fatalf("expected single-batch cursor without id")
	}
	sum, err := client.Reduce(t.Context(), cur, 0, func(acc int, d doc, _ int) (int, error) {
		return acc + d.N, nil
	})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if sum != 3 {
		t.Fatalf("expected sum 3, got %d", sum)
	}
}

func TestTestServerKillReleasesCursor(t *testing.T) {
	ts := StartTestServer(t)
	ctx := t.Context()
	cur, err := ts.Client.Query(ctx, queryRequest("FOR x IN 1..100 RETURN x", 10))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if _, _, err := cur.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := cur.Kill(ctx); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if ts.OpenCursors() != 0 {
		t.Fatalf("expected cursor released, got %d open", ts.OpenCursors())
	}
	if cur.State() != client.StateDone {
		t.Fatalf("expected done after kill, got %s", cur.State())
	}
	if err := cur.Kill(ctx); err != nil {
		t.Fatalf("second kill: %v", err)
	}
}

func TestTestServerParseError(t *testing.T) {
	ts := StartTestServer(t)
	_, err := ts.Client.Query(t.Context(), api.QueryRequest{Query: "FOR"})
	var serr *client.ServerError
	if !errors.As(err, &serr) {
		t.Fatalf("expected server error, got %T %v", err, err)
	}
	if serr.ErrorNum != api.ErrNumQueryParse || serr.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected server error %+v", serr)
	}
}

func TestTestServerTransactions(t *testing.T) {
	ts := StartTestServer(t)
	ctx := t.Context()
	txn, err := ts.Client.BeginTransaction(ctx, api.TransactionCollections{Write: []string{"orders"}}, api.TransactionOptions{})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	err = txn.Run(ctx, func(ctx context.Context) error {
		cur, err := ts.Client.Query(ctx, api.QueryRequest{Query: "FOR x IN 1..2 RETURN x"})
		if err != nil {
			return err
		}
		_, err = cur.All(ctx)
		return err
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	list, err := ts.Client.ListTransactions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != txn.ID() || list[0].State != api.TxnStateRunning {
		t.Fatalf("unexpected transaction list %+v", list)
	}
	status, err := txn.Commit(ctx)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if status.Status != api.TxnStateCommitted {
		t.Fatalf("expected committed, got %q", status.Status)
	}
	if state, ok := ts.TransactionState(txn.ID()); !ok || state != api.TxnStateCommitted {
		t.Fatalf("server state %q (%v)", state, ok)
	}
	if _, err := txn.Abort(ctx); !client.IsErrorNum(err, 1653) {
		t.Fatalf("expected abort after commit to conflict, got %v", err)
	}

	var sawTxnQuery bool
	for _, req := range ts.Requests() {
		switch req.Path {
		case "/_api/cursor":
			if req.TxnID != txn.ID() {
				t.Fatalf("expected query inside transaction, got %+v", req)
			}
			sawTxnQuery = true
		case "/_api/transaction/begin", "/_api/transaction", "/_api/transaction/" + txn.ID():
			if req.TxnID != "" {
				t.Fatalf("management call carried transaction header: %+v", req)
			}
		}
	}
	if !sawTxnQuery {
		t.Fatal("expected query request")
	}

	// The transaction is no longer running, so its id is rejected.
	_, err = ts.Client.Query(txn.Context(ctx), api.QueryRequest{Query: "FOR x IN 1..2 RETURN x"})
	if !client.IsErrorNum(err, api.ErrNumTransactionNotFound) {
		t.Fatalf("expected transaction not found, got %v", err)
	}
	exists, err := ts.Client.Transaction("999").Exists(ctx)
	if err != nil || exists {
		t.Fatalf("expected unknown transaction to not exist, got %v %v", exists, err)
	}
}

func TestTestServerCredentials(t *testing.T) {
	ts := StartTestServer(t, WithTestCredentials("root", "pw"))
	if _, err := ts.Client.Version(t.Context(), true); err != nil {
		t.Fatalf("authorized version: %v", err)
	}
	anon, err := client.New(ts.BaseURL)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer anon.Close()
	_, err = anon.Version(t.Context(), false)
	if client.StatusCode(err) != http.StatusUnauthorized || !client.IsErrorNum(err, 11) {
		t.Fatalf("expected 401/11, got %v", err)
	}
	withURLAuth, err := client.New("http://root:pw@" + ts.BaseURL[len("http://"):])
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer withURLAuth.Close()
	v, err := withURLAuth.Version(t.Context(), true)
	if err != nil {
		t.Fatalf("userinfo auth: %v", err)
	}
	if v.Details["role"] != "SINGLE" {
		t.Fatalf("expected details, got %+v", v)
	}
}

func TestTestServerUnavailable(t *testing.T) {
	ts := StartTestServer(t)
	ts.SetUnavailable(true)
	_, err := ts.Client.Version(t.Context(), false)
	var herr *client.HTTPError
	if !errors.As(err, &herr) || herr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected bare http error, got %T %v", err, err)
	}
	ts.SetUnavailable(false)
	if _, err := ts.Client.Version(t.Context(), false); err != nil {
		t.Fatalf("version after recovery: %v", err)
	}
}
