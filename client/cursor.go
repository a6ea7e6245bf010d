package client

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/xid"

	"pkt.systems/arangox/api"
)

// CursorState is the local state of a Cursor.
type CursorState int

const (
	// StateHasBuffered means items are buffered locally.
	StateHasBuffered CursorState = iota
	// StateExhaustedLocalMoreRemote means the buffer is empty and the server
	// holds further batches.
	StateExhaustedLocalMoreRemote
	// StateDone means the buffer is empty and the server holds nothing more.
	StateDone
)

func (s CursorState) String() string {
	switch s {
	case StateHasBuffered:
		return "has_buffered"
	case StateExhaustedLocalMoreRemote:
		return "exhausted_local_more_remote"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("CursorState(%d)", int(s))
	}
}

// Cursor streams a query result set batch by batch. Follow-up batches are
// fetched from the host that produced the first one. A Cursor is single-pass
// and must not be used from more than one goroutine at a time.
type Cursor[T any] struct {
	client    *Client
	ref       string
	id        string
	host      int
	dirtyRead bool
	timeout   time.Duration

	buffer  []T
	hasMore bool

	count  *int64
	extra  api.CursorExtras
	cached bool
}

// CursorOption customises a Cursor built by NewCursor.
type CursorOption func(*cursorConfig)

type cursorConfig struct {
	dirtyRead bool
	timeout   time.Duration
}

// WithCursorDirtyRead marks follow-up fetches as dirty reads.
func WithCursorDirtyRead(enabled bool) CursorOption {
	return func(cfg *cursorConfig) {
		cfg.dirtyRead = enabled
	}
}

// WithCursorTimeout bounds every follow-up fetch and the kill request.
func WithCursorTimeout(d time.Duration) CursorOption {
	return func(cfg *cursorConfig) {
		cfg.timeout = d
	}
}

// NewCursor builds a cursor from the first batch of a query served by host.
// Items are decoded into T before the cursor is returned.
func NewCursor[T any](c *Client, first api.CursorResponse, host int, opts ...CursorOption) (*Cursor[T], error) {
	if c == nil {
		return nil, fmt.Errorf("arangox: cursor requires a client")
	}
	var cfg cursorConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	items, err := api.DecodeBatch[T](first.Result)
	if err != nil {
		return nil, fmt.Errorf("arangox: decode cursor batch: %w", err)
	}
	return &Cursor[T]{
		client:    c,
		ref:       xid.New().String(),
		id:        first.ID,
		host:      host,
		dirtyRead: cfg.dirtyRead,
		timeout:   cfg.timeout,
		buffer:    items,
		// A cursor without a server id has nothing left to fetch.
		hasMore: first.ID != "" && first.HasMore,
		count:   first.Count,
		extra:   first.Extra,
		cached:  first.Cached,
	}, nil
}

// ID returns the server-assigned cursor id. It is empty when the whole result
// arrived in the first batch.
func (cur *Cursor[T]) ID() string { return cur.id }

// Host returns the pool index of the host that owns the server-side cursor.
func (cur *Cursor[T]) Host() int { return cur.host }

// Count returns the total result count when the query asked for it.
func (cur *Cursor[T]) Count() (int64, bool) {
	if cur.count == nil {
		return 0, false
	}
	return *cur.count, true
}

// Extra returns warnings, plan, profile and stats reported with the first batch.
func (cur *Cursor[T]) Extra() api.CursorExtras { return cur.extra }

// Cached reports whether the result came from the server's query cache.
func (cur *Cursor[T]) Cached() bool { return cur.cached }

// HasMore reports whether the server holds batches not yet fetched.
func (cur *Cursor[T]) HasMore() bool { return cur.hasMore }

// HasNext reports whether any item remains, buffered or remote.
func (cur *Cursor[T]) HasNext() bool { return cur.hasMore || len(cur.buffer) > 0 }

// Buffered returns the number of items held locally.
func (cur *Cursor[T]) Buffered() int { return len(cur.buffer) }

// State returns the local cursor state.
func (cur *Cursor[T]) State() CursorState {
	switch {
	case len(cur.buffer) > 0:
		return StateHasBuffered
	case cur.hasMore:
		return StateExhaustedLocalMoreRemote
	default:
		return StateDone
	}
}

// more fetches one follow-up batch. State changes only after the whole batch
// decoded, so a failed fetch can be retried.
func (cur *Cursor[T]) more(ctx context.Context) error {
	if !cur.hasMore {
		return nil
	}
	var body api.CursorResponse
	_, err := cur.client.DispatchJSON(ctx, Request{
		Method:         http.MethodPut,
		Path:           "/_api/cursor/" + url.PathEscape(cur.id),
		Host:           HostIndex(cur.host),
		AllowDirtyRead: cur.dirtyRead,
		Timeout:        cur.timeout,
	}, &body)
	if err != nil {
		cur.client.metrics.recordCursorFetch(ctx, cur.host, 0, err)
		cur.client.logDebugCtx(ctx, "client.cursor.fetch.error", cur.logFields("error", err)...)
		return err
	}
	items, err := api.DecodeBatch[T](body.Result)
	if err != nil {
		err = fmt.Errorf("arangox: decode cursor batch: %w", err)
		cur.client.metrics.recordCursorFetch(ctx, cur.host, 0, err)
		return err
	}
	cur.buffer = append(cur.buffer, items...)
	cur.hasMore = body.HasMore
	cur.client.metrics.recordCursorFetch(ctx, cur.host, len(items), nil)
	cur.client.logTraceCtx(ctx, "client.cursor.fetch", cur.logFields("items", len(items))...)
	return nil
}

// fill fetches until something is buffered or the server is drained.
func (cur *Cursor[T]) fill(ctx context.Context) error {
	for len(cur.buffer) == 0 && cur.hasMore {
		if err := cur.more(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (cur *Cursor[T]) drain(ctx context.Context) error {
	for cur.hasMore {
		if err := cur.more(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (cur *Cursor[T]) pop() T {
	item := cur.buffer[0]
	var zero T
	cur.buffer[0] = zero
	cur.buffer = cur.buffer[1:]
	if len(cur.buffer) == 0 {
		cur.buffer = nil
	}
	return item
}

// Next returns the next item. The boolean is false once the cursor is
// exhausted.
func (cur *Cursor[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if err := cur.fill(ctx); err != nil {
		return zero, false, err
	}
	if len(cur.buffer) == 0 {
		return zero, false, nil
	}
	return cur.pop(), true, nil
}

// NextBatch returns every buffered item, fetching one batch first when the
// buffer is empty. The boolean is false once the cursor is exhausted.
func (cur *Cursor[T]) NextBatch(ctx context.Context) ([]T, bool, error) {
	if err := cur.fill(ctx); err != nil {
		return nil, false, err
	}
	if len(cur.buffer) == 0 {
		return nil, false, nil
	}
	batch := cur.buffer
	cur.buffer = nil
	return batch, true, nil
}

// All fetches every remaining batch and returns all items in server order.
// The whole result is held in memory.
func (cur *Cursor[T]) All(ctx context.Context) ([]T, error) {
	if err := cur.drain(ctx); err != nil {
		return nil, err
	}
	items := cur.buffer
	cur.buffer = nil
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// ForEach calls fn for every remaining item with its position. Returning
// ErrStop from fn ends iteration with false and leaves the rest of the
// cursor untouched; unfetched batches stay on the server. Any other error
// from fn is returned as is.
func (cur *Cursor[T]) ForEach(ctx context.Context, fn func(item T, index int) error) (bool, error) {
	index := 0
	for len(cur.buffer) > 0 || cur.hasMore {
		for len(cur.buffer) > 0 {
			err := fn(cur.pop(), index)
			index++
			if errors.Is(err, ErrStop) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
		}
		if err := cur.more(ctx); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Items adapts the cursor to a range-over-func sequence. A fetch error is
// yielded once with the zero item and ends the sequence.
func (cur *Cursor[T]) Items(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			item, ok, err := cur.Next(ctx)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !ok || !yield(item, nil) {
				return
			}
		}
	}
}

// Kill discards the cursor. When the server still holds batches the
// server-side cursor is deleted on its origin host. The cursor is done
// afterwards whether or not the delete succeeded; a cursor the server already
// expired is not an error.
func (cur *Cursor[T]) Kill(ctx context.Context) error {
	if !cur.hasMore {
		cur.buffer = nil
		return nil
	}
	_, err := cur.client.Dispatch(ctx, Request{
		Method:  http.MethodDelete,
		Path:    "/_api/cursor/" + url.PathEscape(cur.id),
		Host:    HostIndex(cur.host),
		Timeout: cur.timeout,
	})
	cur.hasMore = false
	cur.buffer = nil
	cur.client.metrics.recordCursorKill(ctx, cur.host, err)
	if cursorGone(err) {
		cur.client.logDebugCtx(ctx, "client.cursor.kill.expired", cur.logFields()...)
		return nil
	}
	if err != nil {
		cur.client.logWarnCtx(ctx, "client.cursor.kill.error", cur.logFields("error", err)...)
		return err
	}
	cur.client.logDebugCtx(ctx, "client.cursor.kill", cur.logFields()...)
	return nil
}

// cursorGone reports whether a delete failed only because the server no
// longer holds the cursor. A structured 404 for another reason, such as a
// missing database, is a real failure.
func cursorGone(err error) bool {
	if err == nil {
		return false
	}
	if IsErrorNum(err, api.ErrNumCursorNotFound) {
		return true
	}
	var herr *HTTPError
	return errors.As(err, &herr) && herr.StatusCode == http.StatusNotFound
}

func (cur *Cursor[T]) logFields(extra ...any) []any {
	fields := []any{"cursor", cur.id, "cursor_ref", cur.ref, "host", cur.host, "has_more", cur.hasMore, "buffered", len(cur.buffer)}
	return append(fields, extra...)
}

// Map depletes cur, collecting fn's result for every item.
func Map[T, R any](ctx context.Context, cur *Cursor[T], fn func(item T, index int) (R, error)) ([]R, error) {
	out := []R{}
	_, err := cur.ForEach(ctx, func(item T, index int) error {
		mapped, err := fn(item, index)
		if err != nil {
			return err
		}
		out = append(out, mapped)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FlatMap depletes cur, concatenating fn's results for every item.
func FlatMap[T, R any](ctx context.Context, cur *Cursor[T], fn func(item T, index int) ([]R, error)) ([]R, error) {
	out := []R{}
	_, err := cur.ForEach(ctx, func(item T, index int) error {
		mapped, err := fn(item, index)
		if err != nil {
			return err
		}
		out = append(out, mapped...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reduce depletes cur, folding every item into acc starting from seed.
func Reduce[T, R any](ctx context.Context, cur *Cursor[T], seed R, fn func(acc R, item T, index int) (R, error)) (R, error) {
	acc := seed
	_, err := cur.ForEach(ctx, func(item T, index int) error {
		next, err := fn(acc, item, index)
		if err != nil {
			return err
		}
		acc = next
		return nil
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return acc, nil
}

// ReduceNoSeed depletes cur using the first item as the seed. The boolean is
// false, and fn is never called, when no item remains.
func ReduceNoSeed[T any](ctx context.Context, cur *Cursor[T], fn func(acc T, item T, index int) (T, error)) (T, bool, error) {
	var zero T
	first, ok, err := cur.Next(ctx)
	if err != nil || !ok {
		return zero, false, err
	}
	acc := first
	_, err = cur.ForEach(ctx, func(item T, index int) error {
		next, err := fn(acc, item, index+1)
		if err != nil {
			return err
		}
		acc = next
		return nil
	})
	if err != nil {
		return zero, false, err
	}
	return acc, true, nil
}
