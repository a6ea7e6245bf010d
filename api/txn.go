package api

// Transaction states reported by the server.
const (
	TxnStateRunning   = "running"
	TxnStateCommitted = "committed"
	TxnStateAborted   = "aborted"
)

// TransactionCollections lists the collections a stream transaction locks.
type TransactionCollections struct {
	// Read lists collections opened for reading.
	Read []string `json:"read,omitempty"`
	// Write lists collections opened for writing.
	Write []string `json:"write,omitempty"`
	// Exclusive lists collections opened for exclusive writing.
	Exclusive []string `json:"exclusive,omitempty"`
}

// TransactionOptions tune POST /_api/transaction/begin.
type TransactionOptions struct {
	// AllowImplicit permits reading from collections not declared up front.
	AllowImplicit *bool `json:"allowImplicit,omitempty"`
	// LockTimeout is the lock acquisition timeout in seconds.
	LockTimeout int `json:"lockTimeout,omitempty"`
	// MaxTransactionSize caps the transaction size in bytes.
	MaxTransactionSize int64 `json:"maxTransactionSize,omitempty"`
	// WaitForSync forces the commit to be synced to disk.
	WaitForSync bool `json:"waitForSync,omitempty"`
}

// BeginTransactionRequest models the JSON payload for POST /_api/transaction/begin.
type BeginTransactionRequest struct {
	// Collections declares the collections involved in the transaction.
	Collections TransactionCollections `json:"collections"`
	TransactionOptions
}

// TransactionStatus describes a stream transaction.
type TransactionStatus struct {
	// ID is the server-assigned transaction identifier.
	ID string `json:"id"`
	// Status is one of running, committed or aborted.
	Status string `json:"status"`
}

// TransactionStatusResponse wraps a TransactionStatus in the server's result envelope.
type TransactionStatusResponse struct {
	Result TransactionStatus `json:"result"`
}

// TransactionListEntry is one row of GET /_api/transaction.
type TransactionListEntry struct {
	// ID is the transaction identifier.
	ID string `json:"id"`
	// State is the transaction state.
	State string `json:"state"`
}

// TransactionListResponse is returned by GET /_api/transaction.
type TransactionListResponse struct {
	Transactions []TransactionListEntry `json:"transactions"`
}
