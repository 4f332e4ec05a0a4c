// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key support for unsafe requests. The
// first successful response for (scope, key) is recorded; a retry with the
// same key gets the recorded status and body back without reaching the
// handler, so accepting a receipt twice never counts its items twice.
//
// Scope is the request method plus the URL path, e.g.
// "POST /api/v1/tables/<id>/accept". The same key may be reused against a
// different resource.
package middleware

import (
	"bytes"
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed is set to "true" on replayed responses.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
)

// StoredResponse is a recorded response.
type StoredResponse struct {
	Status int
	Body   []byte
}

// IdempotencyStore persists recorded responses. Lookup returns (nil, nil)
// when nothing live is stored for (scope, key).
type IdempotencyStore interface {
	Lookup(ctx context.Context, scope, key string, now time.Time) (*StoredResponse, error)
	Save(ctx context.Context, scope, key string, resp StoredResponse) error
}

// IdempotencyOptions configures header validation.
type IdempotencyOptions struct {
	// MaxLen caps the key length. <= 0 means 200.
	MaxLen int
	// Pattern restricts allowed characters. nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// GetIdempotencyKey returns the validated key, if any.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, _ := c.Get(ctxKeyIdemKey)
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the response was served from the store.
func IsReplay(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyIdemReplay)
	b, _ := v.(bool)
	return b
}

// IdempotencyScope is the scope recorded for the current request.
func IdempotencyScope(c *gin.Context) string {
	return c.Request.Method + " " + c.Request.URL.Path
}

// Idempotency validates the Idempotency-Key header and, when store is
// non-nil, replays or records responses.
//
//   - Not POST, PUT, PATCH or DELETE, or no header: no-op.
//   - Malformed header: 400 bad_request.
//   - Stored response found: it is written with Idempotency-Replayed: true
//     and the chain is aborted.
//   - Otherwise the handler runs and a 2xx response is saved. Lookup and save
//     failures are logged and never fail the request.
func Idempotency(opts IdempotencyOptions, store IdempotencyStore) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || !unsafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_request",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)
		if store == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		scope := IdempotencyScope(c)
		prev, err := store.Lookup(ctx, scope, key, time.Now().UTC())
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Str("scope", scope).Msg("idempotency lookup failed")
		}
		if prev != nil {
			c.Set(ctxKeyIdemReplay, true)
			c.Header(HeaderIdempotencyReplayed, "true")
			c.Data(prev.Status, "application/json; charset=utf-8", prev.Body)
			c.Abort()
			return
		}

		rec := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		status := rec.Status()
		if status < 200 || status >= 300 {
			return
		}
		if err := store.Save(ctx, scope, key, StoredResponse{Status: status, Body: rec.buf.Bytes()}); err != nil {
			LoggerFrom(c).Warn().Err(err).Str("scope", scope).Msg("idempotency save failed")
		}
	}
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// recordingWriter tees the response body into buf.
type recordingWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
