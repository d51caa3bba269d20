// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for unsafe HTTP methods (POST).
// Two pieces cooperate:
//   - IdempotencyValidator runs globally. It validates the Idempotency-Key
//     header when present, stashes it, and peeks the store so replays can
//     bypass the rate limiter.
//   - Idempotent(guard) runs on write routes. It requires the key, executes the
//     rest of the chain at most once per key through the guard, and writes
//     either the fresh response or the stored one.
package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-idempotent-orders/internal/idempotency"
)

// HeaderIdempotencyKey is the canonical request header that clients use to
// convey an idempotency key for unsafe operations (e.g., POST).
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed is set to "true" on responses served from a
// stored record.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

// StatusClientClosedRequest is logged, never sent, when the client went away
// before a response was produced.
const StatusClientClosedRequest = 499

// Context keys used internally to stash idempotency state.
const (
	ctxKeyIdemKey      = "idem.key"
	ctxKeyIdemReplay   = "idem.replay"   // bool: true when a stored replay exists
	ctxKeyRateBypass   = "rate.bypass"   // bool: true to skip rate limiting
	ctxKeyClientClosed = "client.closed" // bool: request abandoned by the client
)

// errNoResponse is returned to the guard when the handler chain finished
// without writing anything, so the reservation is released instead of an
// empty response being stored.
var errNoResponse = errors.New("handler wrote no response")

// Error codes written by this file.
const (
	codeBadIdempotencyKey     = "bad_idempotency_key"
	codeMissingIdempotencyKey = "missing_idempotency_key"
	codeIdempotencyBusy       = "idempotency_in_progress"
	codeIdempotencyDown       = "idempotency_unavailable"
)

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by IdempotencyValidator. The second return value indicates presence.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether this request is, or will be, answered from a
// stored record.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// MarkClientClosed records that the client disconnected and no response will
// be written. The access log reports such requests with status 499.
func MarkClientClosed(c *gin.Context) {
	c.Set(ctxKeyClientClosed, true)
}

// IsClientClosed reports whether MarkClientClosed was called.
func IsClientClosed(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyClientClosed)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation for IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. If nil, a conservative RFC7230-like
	// token pattern is used: ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
}

// IdempotencyLookup answers whether a completed, unexpired record exists for
// key. Errors are ignored by the validator; the route-level guard decides
// how to handle an unavailable store.
type IdempotencyLookup func(ctx context.Context, key string) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header (if present),
// stashes it in the request context, and marks the request as a replay when
// lookup finds a completed record.
//
// Behavior:
//   - If header is absent: the middleware is a no-op.
//   - If header fails validation: responds 400 bad_idempotency_key.
//   - If lookup indicates a replay: sets replay + rate-bypass flags.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			abortJSON(c, http.StatusBadRequest, codeBadIdempotencyKey, "invalid Idempotency-Key")
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			if exists, _ := lookup(c.Request.Context(), key); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// Idempotent guards the remaining handler chain with g.
//
// Responses:
//   - 400 missing_idempotency_key when the header is absent; the handler is
//     never reached.
//   - the handler's own response on first execution.
//   - the stored response, with Idempotency-Replayed: true, on retries.
//   - 409 idempotency_in_progress when another request holds the key too long.
//   - 503 idempotency_unavailable when the store cannot be reached.
//   - nothing at all when the client disconnected.
func Idempotent(g *idempotency.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := GetIdempotencyKey(c)
		if !ok {
			key = strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		}
		if key == "" {
			abortJSON(c, http.StatusBadRequest, codeMissingIdempotencyKey, "Idempotency-Key header missing")
			return
		}

		orig := c.Writer
		var captured *bufferedWriter

		resp, outcome, err := g.Do(c.Request.Context(), key, func(ctx context.Context) (*idempotency.Response, error) {
			captured = newBufferedWriter(orig)
			c.Writer = captured
			defer func() { c.Writer = orig }()

			c.Next()
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if IsClientClosed(c) {
				return nil, context.Canceled
			}
			if !captured.produced() {
				return nil, errNoResponse
			}
			return captured.response(), nil
		})
		c.Writer = orig

		switch {
		case errors.Is(err, idempotency.ErrMissingKey):
			abortJSON(c, http.StatusBadRequest, codeMissingIdempotencyKey, "Idempotency-Key header missing")
			return
		case errors.Is(err, idempotency.ErrInProgress):
			abortJSON(c, http.StatusConflict, codeIdempotencyBusy, "a request with this Idempotency-Key is still in progress")
			return
		case errors.Is(err, idempotency.ErrStoreUnavailable):
			LoggerFrom(c).Error().Err(err).Msg("idempotency store unavailable")
			abortJSON(c, http.StatusServiceUnavailable, codeIdempotencyDown, "idempotency store unavailable, request not processed")
			return
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			MarkClientClosed(c)
			c.Abort()
			return
		case err != nil || resp == nil:
			LoggerFrom(c).Error().Err(err).Msg("idempotent handler failed")
			abortJSON(c, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}

		if outcome == idempotency.Replayed {
			c.Set(ctxKeyIdemReplay, true)
			c.Writer.Header().Set(HeaderIdempotencyReplayed, "true")
		} else if captured != nil {
			for k, vv := range captured.header {
				c.Writer.Header()[k] = vv
			}
		}
		writeResponse(c.Writer, resp)
		c.Abort()
	}
}

func writeResponse(w gin.ResponseWriter, resp *idempotency.Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	if resp.Location != "" {
		w.Header().Set("Location", resp.Location)
	}
	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) == 0 {
		w.WriteHeaderNow()
		return
	}
	_, _ = w.Write(resp.Body)
}

// abortJSON writes the standard error envelope and stops the chain.
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": RequestIDFrom(c),
		"code":       code,
		"message":    msg,
	})
}

// bufferedWriter holds a handler's response in memory so it can be stored
// before anything reaches the client.
type bufferedWriter struct {
	gin.ResponseWriter
	header  http.Header
	status  int
	body    bytes.Buffer
	written bool
}

func newBufferedWriter(w gin.ResponseWriter) *bufferedWriter {
	h := make(http.Header)
	for k, vv := range w.Header() {
		h[k] = append([]string(nil), vv...)
	}
	return &bufferedWriter{ResponseWriter: w, header: h}
}

func (w *bufferedWriter) Header() http.Header { return w.header }

// WriteHeader records code. Like gin's writer it takes effect only once the
// header is flushed or the body written.
func (w *bufferedWriter) WriteHeader(code int) {
	if code > 0 && !w.written {
		w.status = code
	}
}

func (w *bufferedWriter) WriteHeaderNow() {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.written = true
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	w.WriteHeaderNow()
	return w.body.Write(b)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	w.WriteHeaderNow()
	return w.body.WriteString(s)
}

func (w *bufferedWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *bufferedWriter) Size() int {
	if !w.written {
		return -1
	}
	return w.body.Len()
}

func (w *bufferedWriter) Written() bool { return w.written }

// produced reports whether the handler set a status or wrote a body.
func (w *bufferedWriter) produced() bool { return w.written || w.status != 0 }

func (w *bufferedWriter) Flush() {}

func (w *bufferedWriter) response() *idempotency.Response {
	return &idempotency.Response{
		StatusCode:  w.Status(),
		ContentType: w.header.Get("Content-Type"),
		Location:    w.header.Get("Location"),
		Body:        append([]byte(nil), w.body.Bytes()...),
	}
}
