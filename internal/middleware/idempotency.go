package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arhansuba/zr-don-pay/pkg/errors"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
)

const maxCapturedBody = 1 << 20

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key on unsafe methods.
type IdempotencyMiddleware struct {
	cache   *redis.Client
	ttl     time.Duration
	wait    time.Duration
	logger  logger.Logger
	require bool
}

// NewIdempotencyMiddleware constructs an IdempotencyMiddleware with a TTL.
// When require is false, requests without a key pass through untouched.
func NewIdempotencyMiddleware(cache *redis.Client, ttl time.Duration, require bool, log logger.Logger) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{
		cache:   cache,
		ttl:     ttl,
		wait:    5 * time.Second,
		logger:  log,
		require: require,
	}
}

// Require handles POST/PUT/PATCH/DELETE requests carrying an Idempotency-Key.
func (m *IdempotencyMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut &&
			r.Method != http.MethodPatch && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			if m.require {
				jsonError(w, http.StatusBadRequest, "Idempotency-Key header required")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		// Keys are scoped per caller so two tokens never share a replay.
		subject, _ := SubjectFromContext(r.Context())
		scope := fmt.Sprintf("%s:%s %s:%s", subject, r.Method, r.URL.Path, key)
		dataKey := "oracle:idem:resp:" + scope
		lockKey := "oracle:idem:lock:" + scope

		if m.replayCached(w, r, dataKey) {
			m.logger.Debug("Replayed idempotent response", map[string]interface{}{
				"key":  key,
				"path": r.URL.Path,
			})
			return
		}

		owner := RequestIDFromContext(r.Context())
		if owner == "" {
			owner = "unknown"
		}

		ok, err := m.cache.SetNX(r.Context(), lockKey, owner, m.ttl).Result()
		if err != nil {
			m.logger.Error("Idempotency store unavailable", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
			jsonError(w, http.StatusServiceUnavailable, "Idempotency store unavailable")
			return
		}

		if !ok {
			// Another request holds the key; wait for its response.
			deadline := time.Now().Add(m.wait)
			for time.Now().Before(deadline) {
				select {
				case <-r.Context().Done():
					return
				case <-time.After(100 * time.Millisecond):
				}
				if m.replayCached(w, r, dataKey) {
					return
				}
			}
			m.logger.Warn("Idempotency key still in flight", map[string]interface{}{
				"key":  key,
				"path": r.URL.Path,
			})
			jsonError(w, http.StatusConflict, errors.ErrDuplicateRequest.Error())
			return
		}
		defer m.cache.Del(r.Context(), lockKey)

		cw := newCaptureWriter(w, maxCapturedBody)
		next.ServeHTTP(cw, r)

		if err := m.cacheResponse(r, dataKey, cw); err != nil {
			m.logger.Warn("Failed to store idempotent response", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	})
}

type capturedResponse struct {
	Status  int               `json:"status"`
	Body    []byte            `json:"body"`
	Headers map[string]string `json:"headers"`
}

func (m *IdempotencyMiddleware) replayCached(w http.ResponseWriter, r *http.Request, dataKey string) bool {
	payload, err := m.cache.Get(r.Context(), dataKey).Bytes()
	if err != nil {
		return false
	}

	var cr capturedResponse
	if err := json.Unmarshal(payload, &cr); err != nil {
		return false
	}

	for k, v := range cr.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(cr.Status)
	_, _ = w.Write(cr.Body)
	return true
}

// cacheResponse stores completed responses. Server errors and truncated
// bodies are not stored so a retry can succeed.
func (m *IdempotencyMiddleware) cacheResponse(r *http.Request, dataKey string, cw *captureWriter) error {
	if cw.status == 0 || cw.status >= 500 || cw.truncated {
		return nil
	}

	payload, err := json.Marshal(capturedResponse{
		Status:  cw.status,
		Body:    cw.buf,
		Headers: cw.headers,
	})
	if err != nil {
		return err
	}
	return m.cache.Set(r.Context(), dataKey, payload, m.ttl).Err()
}

type captureWriter struct {
	http.ResponseWriter
	buf       []byte
	limit     int
	status    int
	truncated bool
	headers   map[string]string
}

func newCaptureWriter(w http.ResponseWriter, limit int) *captureWriter {
	return &captureWriter{
		ResponseWriter: w,
		buf:            make([]byte, 0, 1024),
		limit:          limit,
		headers:        make(map[string]string),
	}
}

func (w *captureWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	for k, v := range w.ResponseWriter.Header() {
		if len(v) > 0 {
			w.headers[k] = v[0]
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *captureWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	space := w.limit - len(w.buf)
	switch {
	case space >= len(p):
		w.buf = append(w.buf, p...)
	default:
		if space > 0 {
			w.buf = append(w.buf, p[:space]...)
		}
		w.truncated = true
	}
	return w.ResponseWriter.Write(p)
}
