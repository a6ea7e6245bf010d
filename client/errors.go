package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"pkt.systems/arangox/api"
)

// ErrStop is returned by a ForEach visitor to end iteration early. It is never
// surfaced to the caller of ForEach.
var ErrStop = errors.New("arangox: stop iteration")

// NetworkError reports a request that never produced an HTTP response:
// DNS failures, refused connections, resets and timeouts before headers.
// It carries no server error number.
type NetworkError struct {
	// Method is the HTTP method of the failed request.
	Method string
	// URL is the request URL with credentials removed.
	URL string
	// Host is the index of the host in the pool the request was sent to.
	Host int
	// Err is the underlying transport error.
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("arangox: network error: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline expiry.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	if errors.As(e.Err, &te) {
		return te.Timeout()
	}
	return false
}

// HTTPError reports a non-2xx response whose body was not a structured
// server error envelope.
type HTTPError struct {
	// StatusCode is the HTTP status code.
	StatusCode int
	// Message is the status text from the static table.
	Message string
	// Header is the response header.
	Header http.Header
	// Body is the raw response body.
	Body []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("arangox: http %d: %s", e.StatusCode, e.Message)
}

// ServerError reports a non-2xx response carrying the structured error
// envelope. ErrorNum is stable and safe to branch on.
type ServerError struct {
	// StatusCode is the HTTP status code of the response.
	StatusCode int
	// Code is the HTTP code echoed in the body.
	Code int
	// ErrorNum is the server-defined error number.
	ErrorNum int
	// Message is the server's error message.
	Message string
	// Header is the response header.
	Header http.Header
	// Body is the raw response body.
	Body []byte
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("arangox: %s (errorNum %d, http %d)", e.Message, e.ErrorNum, e.StatusCode)
}

// Classify turns a completed non-2xx response into a *ServerError when the body
// decodes as the structured error envelope, or into an *HTTPError otherwise.
func Classify(status int, header http.Header, body []byte) error {
	if serr, ok := decodeServerError(status, header, body); ok {
		return serr
	}
	return &HTTPError{
		StatusCode: status,
		Message:    StatusMessage(status),
		Header:     header,
		Body:       body,
	}
}

func decodeServerError(status int, header http.Header, body []byte) (*ServerError, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	// errorNum must be present, so probe it separately from the typed envelope.
	var probe struct {
		ErrorNum *int `json:"errorNum"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil || probe.ErrorNum == nil {
		return nil, false
	}
	var envelope api.ErrorResponse
	if err := json.Unmarshal(trimmed, &envelope); err != nil || !envelope.Error {
		return nil, false
	}
	return &ServerError{
		StatusCode: status,
		Code:       envelope.Code,
		ErrorNum:   envelope.ErrorNum,
		Message:    envelope.ErrorMessage,
		Header:     header,
		Body:       body,
	}, true
}

// ErrorNum extracts the server error number from err.
func ErrorNum(err error) (int, bool) {
	var serr *ServerError
	if errors.As(err, &serr) {
		return serr.ErrorNum, true
	}
	return 0, false
}

// IsErrorNum reports whether err is a *ServerError with one of nums.
func IsErrorNum(err error, nums ...int) bool {
	n, ok := ErrorNum(err)
	if !ok {
		return false
	}
	for _, want := range nums {
		if n == want {
			return true
		}
	}
	return false
}

// IsNetworkError reports whether err is a transport-level failure.
func IsNetworkError(err error) bool {
	var nerr *NetworkError
	return errors.As(err, &nerr)
}

// StatusCode returns the HTTP status carried by err, or 0 for network errors
// and foreign errors.
func StatusCode(err error) int {
	var serr *ServerError
	if errors.As(err, &serr) {
		return serr.StatusCode
	}
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.StatusCode
	}
	return 0
}

// StatusMessage returns the table text for code, defaulting to
// "Internal Server Error".
func StatusMessage(code int) string {
	if msg, ok := statusMessages[code]; ok {
		return msg
	}
	return statusMessages[http.StatusInternalServerError]
}

var statusMessages = map[int]string{
	0:   "Network Error",
	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	305: "Use Proxy",
	306: "Switch Proxy",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	402: "Payment Required",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	407: "Proxy Authentication Required",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	412: "Precondition Failed",
	413: "Payload Too Large",
	414: "Request-URI Too Long",
	415: "Unsupported Media Type",
	416: "Requested Range Not Satisfiable",
	417: "Expectation Failed",
	418: "I'm a teapot",
	421: "Misdirected Request",
	422: "Unprocessable Entity",
	423: "Locked",
	424: "Failed Dependency",
	426: "Upgrade Required",
	428: "Precondition Required",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",
	444: "Connection Closed Without Response",
	451: "Unavailable For Legal Reasons",
	499: "Client Closed Request",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
	506: "Variant Also Negotiates",
	507: "Insufficient Storage",
	508: "Loop Detected",
	510: "Not Extended",
	511: "Network Authentication Required",
	599: "Network Connect Timeout Error",
}
