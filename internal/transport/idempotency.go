package transport

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Chunkys0up7/Atoms-sub002/internal/idempotency"
	"github.com/Chunkys0up7/Atoms-sub002/internal/observability"
)

const idempotencyKeyHeader = "X-Idempotency-Key"

// maxIdempotentBody bounds the request body buffered for hashing.
const maxIdempotentBody = 1 << 20

// withIdempotency wraps a mutating handler with idempotency-key support.
// Requests without the header pass straight through. A replay with the same
// key and body returns the cached response; a replay with a different body
// is a conflict. Only 2xx responses are cached.
func withIdempotency(store idempotency.Store, ttl time.Duration, logger *zap.Logger, metrics *observability.Metrics, operation string, next http.HandlerFunc) http.HandlerFunc {
	if store == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotencyKeyHeader)
		if key == "" {
			next(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody))
		if err != nil {
			WriteError(w, err)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		fullKey := idempotency.FormatKey(operation, key)
		hash := idempotency.HashInput(body)

		cached, found, err := store.Check(r.Context(), fullKey, hash)
		if err != nil {
			WriteError(w, err)
			return
		}
		if found {
			if metrics != nil {
				metrics.RecordIdempotencyHit()
			}
			w.Header().Set("X-Idempotent-Replay", "true")
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(cached.Status)
			w.Write(cached.Body)
			return
		}

		rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		if rec.status >= 200 && rec.status < 300 {
			result := idempotency.Result{Status: rec.status, Body: rec.buf.Bytes()}
			if err := store.Store(r.Context(), fullKey, hash, result, ttl); err != nil {
				logger.Warn("storing idempotency result",
					zap.String("operation", operation),
					zap.Error(err),
				)
			}
		}
	}
}

// recordingWriter tees the response body so it can be cached.
type recordingWriter struct {
	http.ResponseWriter
	status  int
	written bool
	buf     bytes.Buffer
}

func (w *recordingWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}
