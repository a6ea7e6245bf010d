package api

import "encoding/json"

// ErrorResponse is the structured error envelope returned by the server for
// failed requests.
type ErrorResponse struct {
	// Error is always true on error envelopes.
	Error bool `json:"error"`
	// Code mirrors the HTTP status code of the response.
	Code int `json:"code"`
	// ErrorNum is the server-defined numeric error code (see the ErrNum constants).
	ErrorNum int `json:"errorNum"`
	// ErrorMessage is the human-readable message supplied by the server.
	ErrorMessage string `json:"errorMessage"`
}

// Warning is a single query warning attached to a cursor.
type Warning struct {
	// Code is the server-defined warning number.
	Code int `json:"code"`
	// Message describes the warning.
	Message string `json:"message"`
}

// CursorExtras carries diagnostic metadata attached to a query result.
type CursorExtras struct {
	// Warnings lists warnings raised while executing the query.
	Warnings []Warning `json:"warnings"`
	// Plan is the execution plan, when profiling was requested.
	Plan json.RawMessage `json:"plan,omitempty"`
	// Profile carries per-phase timings, when profiling was requested.
	Profile json.RawMessage `json:"profile,omitempty"`
	// Stats carries execution statistics (scanned documents, runtime, fullCount, ...).
	Stats map[string]any `json:"stats,omitempty"`
}

// CursorResponse models the body returned by POST /_api/cursor and by
// PUT /_api/cursor/{id}.
type CursorResponse struct {
	// ID is the server-assigned cursor identifier. Empty when the whole result
	// fit in the first batch.
	ID string `json:"id,omitempty"`
	// Result holds the items of this batch in server order.
	Result []json.RawMessage `json:"result"`
	// HasMore reports whether further batches are available on the server.
	HasMore bool `json:"hasMore"`
	// Count is the total number of result items, when requested.
	Count *int64 `json:"count,omitempty"`
	// Extra carries warnings, plan, profile and stats.
	Extra CursorExtras `json:"extra"`
	// Cached reports whether the result was served from the query result cache.
	Cached bool `json:"cached,omitempty"`
}

// QueryOptions maps to the "options" object of a query request.
type QueryOptions struct {
	// FullCount asks the server to report the number of matches ignoring the last LIMIT.
	FullCount bool `json:"fullCount,omitempty"`
	// MaxRuntime aborts the query after the given number of seconds.
	MaxRuntime float64 `json:"maxRuntime,omitempty"`
	// Profile enables plan/profile collection (1 or 2).
	Profile int `json:"profile,omitempty"`
	// Stream makes the server produce results lazily as batches are fetched.
	Stream bool `json:"stream,omitempty"`
	// MaxWarningCount caps the number of warnings returned.
	MaxWarningCount int `json:"maxWarningCount,omitempty"`
	// FailOnWarning turns warnings into query errors.
	FailOnWarning bool `json:"failOnWarning,omitempty"`
}

// QueryRequest models the JSON payload for POST /_api/cursor.
type QueryRequest struct {
	// Query is the query string. It is passed through untouched.
	Query string `json:"query"`
	// BindVars holds bind parameter values referenced by the query.
	BindVars map[string]any `json:"bindVars,omitempty"`
	// Count asks the server to return the total result count.
	Count bool `json:"count,omitempty"`
	// BatchSize caps the number of items per batch.
	BatchSize int `json:"batchSize,omitempty"`
	// TTL is the server-side cursor idle time-to-live in seconds.
	TTL int `json:"ttl,omitempty"`
	// Cache toggles the query result cache.
	Cache *bool `json:"cache,omitempty"`
	// MemoryLimit caps query memory usage in bytes.
	MemoryLimit int64 `json:"memoryLimit,omitempty"`
	// Options carries additional execution options.
	Options *QueryOptions `json:"options,omitempty"`
}

// VersionResponse is returned by GET /_api/version.
type VersionResponse struct {
	// Server is the server product name.
	Server string `json:"server"`
	// Version is the server version string.
	Version string `json:"version"`
	// License is the license flavour (community or enterprise).
	License string `json:"license,omitempty"`
	// Details carries build details when requested.
	Details map[string]string `json:"details,omitempty"`
}
