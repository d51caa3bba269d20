// Package idempotency implements the idempotent-write guard: a write that
// carries a client-supplied key runs its side effect at most once, and every
// retry with the same key receives the stored response instead.
//
// The guard is storage-agnostic. Concrete stores live in sub-packages
// (memstore, redisstore, pgstore) and in internal/repo (GORM/SQLite).
package idempotency

import "time"

// State is the lifecycle state of a Record.
type State string

const (
	// StatePending marks a reservation held while the handler runs.
	StatePending State = "pending"
	// StateCompleted marks a stored response that is replayed on retries.
	StateCompleted State = "completed"
)

// Record is one stored outcome keyed by an idempotency key.
type Record struct {
	Key         string
	Token       string
	State       State
	StatusCode  int
	ContentType string
	Location    string
	Body        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Completed reports whether the record holds a replayable response.
func (r *Record) Completed() bool { return r != nil && r.State == StateCompleted }

// Expired reports whether the record is past its expiry at now.
// Expired records are treated as if they had never been stored.
func (r *Record) Expired(now time.Time) bool { return !now.Before(r.ExpiresAt) }

// Response returns a copy of the stored response payload.
func (r *Record) Response() *Response {
	return &Response{
		StatusCode:  r.StatusCode,
		ContentType: r.ContentType,
		Location:    r.Location,
		Body:        append([]byte(nil), r.Body...),
	}
}

// Clone returns a deep copy so stores never hand out shared byte slices.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Body = append([]byte(nil), r.Body...)
	return &cp
}

// Response is the payload produced by a guarded handler. Location carries
// the URL of a resource created by the handler, if any.
type Response struct {
	StatusCode  int
	ContentType string
	Location    string
	Body        []byte
}

// Success reports whether the response has a 2xx status. Only successful
// responses are stored for replay.
func (r *Response) Success() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}
