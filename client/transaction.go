package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"pkt.systems/arangox/api"
)

type transactionIDKey struct{}

// WithTransactionID returns a context whose requests run inside the stream
// transaction id. An empty id detaches the context from any transaction,
// including the client's ambient one.
func WithTransactionID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, transactionIDKey{}, strings.TrimSpace(id))
}

// TransactionIDFromContext returns the transaction id bound to ctx.
func TransactionIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(transactionIDKey{}).(string)
	return id, ok
}

// SetTransactionID installs id as the ambient transaction for requests whose
// context carries none. Prefer WithTransactionID.
func (c *Client) SetTransactionID(id string) {
	c.txnMu.Lock()
	c.ambientTxn = strings.TrimSpace(id)
	c.txnMu.Unlock()
}

// ClearTransactionID removes the ambient transaction.
func (c *Client) ClearTransactionID() {
	c.SetTransactionID("")
}

// AmbientTransactionID returns the ambient transaction id, if any.
func (c *Client) AmbientTransactionID() string {
	c.txnMu.RLock()
	defer c.txnMu.RUnlock()
	return c.ambientTxn
}

// WithAmbientTransaction runs fn with id installed as the ambient transaction
// and clears it when fn returns, panics included. Concurrent callers share the
// ambient slot; use Transaction.Run for isolated scopes.
func (c *Client) WithAmbientTransaction(id string, fn func() error) error {
	c.SetTransactionID(id)
	defer c.ClearTransactionID()
	return fn()
}

func (c *Client) transactionFor(ctx context.Context) string {
	if id, ok := TransactionIDFromContext(ctx); ok {
		return id
	}
	return c.AmbientTransactionID()
}

// Transaction is a handle on a server-side stream transaction.
type Transaction struct {
	client *Client
	id     string
}

// Transaction returns a handle for an existing transaction id. No request is
// made.
func (c *Client) Transaction(id string) *Transaction {
	return &Transaction{client: c, id: strings.TrimSpace(id)}
}

// BeginTransaction starts a stream transaction over collections.
func (c *Client) BeginTransaction(ctx context.Context, collections api.TransactionCollections, opts api.TransactionOptions) (*Transaction, error) {
	var out api.TransactionStatusResponse
	_, err := c.DispatchJSON(withoutTransaction(ctx), Request{
		Method: http.MethodPost,
		Path:   "/_api/transaction/begin",
		Body: api.BeginTransactionRequest{
			Collections:        collections,
			TransactionOptions: opts,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Result.ID == "" {
		return nil, fmt.Errorf("arangox: begin transaction: server returned no id")
	}
	c.logDebugCtx(ctx, "client.txn.begin", "txn", out.Result.ID, "status", out.Result.Status)
	return c.Transaction(out.Result.ID), nil
}

// ListTransactions returns the running stream transactions of the database.
func (c *Client) ListTransactions(ctx context.Context) ([]api.TransactionListEntry, error) {
	var out api.TransactionListResponse
	if _, err := c.DispatchJSON(withoutTransaction(ctx), Request{Path: "/_api/transaction"}, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// ID returns the transaction id.
func (t *Transaction) ID() string {
	return t.id
}

// Context binds ctx to the transaction.
func (t *Transaction) Context(ctx context.Context) context.Context {
	return WithTransactionID(ctx, t.id)
}

// Exists reports whether the server still knows the transaction.
func (t *Transaction) Exists(ctx context.Context) (bool, error) {
	if _, err := t.Status(ctx); err != nil {
		if IsErrorNum(err, api.ErrNumBadParameter, api.ErrNumTransactionNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Status fetches the transaction state.
func (t *Transaction) Status(ctx context.Context) (api.TransactionStatus, error) {
	return t.request(ctx, http.MethodGet)
}

// Commit commits the transaction.
func (t *Transaction) Commit(ctx context.Context) (api.TransactionStatus, error) {
	status, err := t.request(ctx, http.MethodPut)
	if err == nil {
		t.client.logDebugCtx(ctx, "client.txn.commit", "txn", t.id, "status", status.Status)
	}
	return status, err
}

// Abort aborts the transaction.
func (t *Transaction) Abort(ctx context.Context) (api.TransactionStatus, error) {
	status, err := t.request(ctx, http.MethodDelete)
	if err == nil {
		t.client.logDebugCtx(ctx, "client.txn.abort", "txn", t.id, "status", status.Status)
	}
	return status, err
}

// Run calls fn with a context bound to the transaction. The binding ends when
// fn returns. Run neither commits nor aborts.
func (t *Transaction) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(t.Context(ctx))
}

func (t *Transaction) request(ctx context.Context, method string) (api.TransactionStatus, error) {
	if t.id == "" {
		return api.TransactionStatus{}, fmt.Errorf("arangox: transaction id required")
	}
	var out api.TransactionStatusResponse
	_, err := t.client.DispatchJSON(withoutTransaction(ctx), Request{
		Method: method,
		Path:   "/_api/transaction/" + url.PathEscape(t.id),
	}, &out)
	if err != nil {
		return api.TransactionStatus{}, err
	}
	return out.Result, nil
}

// Transaction management calls must not carry a transaction header themselves.
func withoutTransaction(ctx context.Context) context.Context {
	return WithTransactionID(ctx, "")
}
