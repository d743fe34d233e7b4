// Package fetcher retrieves payloads from remote HTTP sources with bounded
// retries and an optional cache.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/arhansuba/zr-don-pay/internal/domain"
	"github.com/arhansuba/zr-don-pay/internal/metrics"
	"github.com/arhansuba/zr-don-pay/pkg/cache"
	"github.com/arhansuba/zr-don-pay/pkg/errors"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
)

const maxBodyBytes = 10 << 20

// Service fetches payloads. It never returns an error: every failure ends
// in the absence result (nil, false).
type Service struct {
	httpClient *http.Client
	cache      cache.Cache
	cacheTTL   time.Duration
	logger     logger.Logger
	metrics    *metrics.Metrics
	maxBody    int64
}

// NewService constructs a fetcher. A nil cache disables caching even when
// requested per call.
func NewService(httpClient *http.Client, c cache.Cache, cacheTTL time.Duration, log logger.Logger, m *metrics.Metrics) *Service {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Service{
		httpClient: httpClient,
		cache:      c,
		cacheTTL:   cacheTTL,
		logger:     log,
		metrics:    m,
		maxBody:    maxBodyBytes,
	}
}

// LinearBackoff waits delay*n before the n-th retry.
func LinearBackoff(delay time.Duration) retryablehttp.Backoff {
	return func(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
		return delay * time.Duration(attemptNum+1)
	}
}

// FetchRequest is Fetch for a prepared request.
func (s *Service) FetchRequest(ctx context.Context, req domain.FetchRequest) (domain.Payload, bool) {
	return s.Fetch(ctx, req.SourceURI, req.Options)
}

// Fetch returns the payload served at sourceURI, or (nil, false).
func (s *Service) Fetch(ctx context.Context, sourceURI string, opts domain.FetchOptions) (payload domain.Payload, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Error fetching data", map[string]interface{}{
				"source_uri": sourceURI,
				"error":      fmt.Sprint(r),
			})
			payload, ok = nil, false
		}
	}()

	if err := validateSourceURI(sourceURI); err != nil {
		s.logger.Error("Invalid source URI", map[string]interface{}{
			"source_uri": sourceURI,
			"error":      err.Error(),
		})
		return nil, false
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}

	useCache := opts.UseCache && s.cache != nil
	if useCache {
		if cached, hit := s.lookup(ctx, sourceURI); hit {
			return cached, true
		}
	}

	body, err := s.get(ctx, sourceURI, opts)
	if err != nil {
		s.metrics.FetchExhausted.Inc()
		s.logger.Error("Failed to fetch data after retries", map[string]interface{}{
			"source_uri":  sourceURI,
			"max_retries": opts.MaxRetries,
			"error":       err.Error(),
		})
		return nil, false
	}

	payload = domain.NormalizePayload(body)
	if useCache {
		s.store(ctx, sourceURI, payload)
	}
	return payload, true
}

// get performs the attempts. The body is read while deciding whether to
// retry, so a broken or oversized body counts as a failed attempt.
func (s *Service) get(ctx context.Context, sourceURI string, opts domain.FetchOptions) ([]byte, error) {
	attempt := 0
	var (
		body []byte
		read bool
	)
	client := &retryablehttp.Client{
		HTTPClient:   s.httpClient,
		RetryMax:     opts.MaxRetries,
		RetryWaitMin: opts.RetryDelay,
		RetryWaitMax: opts.RetryDelay * time.Duration(opts.MaxRetries+1),
		Backoff:      LinearBackoff(opts.RetryDelay),
		RequestLogHook: func(_ retryablehttp.Logger, _ *http.Request, n int) {
			attempt = n + 1
			s.metrics.FetchAttempts.Inc()
		},
		CheckRetry: func(ctx context.Context, resp *http.Response, err error) (bool, error) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			if err != nil {
				s.attemptFailed(sourceURI, attempt, opts.MaxRetries, map[string]interface{}{"error": err.Error()})
				return true, nil
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				s.attemptFailed(sourceURI, attempt, opts.MaxRetries, map[string]interface{}{"status": resp.StatusCode})
				return true, nil
			}
			b, readErr := s.readBody(resp)
			if readErr != nil {
				s.attemptFailed(sourceURI, attempt, opts.MaxRetries, map[string]interface{}{
					"status": resp.StatusCode,
					"error":  readErr.Error(),
				})
				return true, nil
			}
			body, read = b, true
			return false, nil
		},
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, sourceURI, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	if !read {
		return nil, errors.New("no response body read")
	}
	return body, nil
}

// readBody consumes resp.Body up to the size limit and leaves an empty body
// behind for the retry client to drain.
func (s *Service) readBody(resp *http.Response) ([]byte, error) {
	defer func() {
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(nil))
	}()
	b, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody+1))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}
	if int64(len(b)) > s.maxBody {
		return nil, fmt.Errorf("response body exceeds %d bytes", s.maxBody)
	}
	return b, nil
}

func (s *Service) attemptFailed(sourceURI string, attempt, maxRetries int, fields map[string]interface{}) {
	s.metrics.FetchFailures.Inc()
	fields["source_uri"] = sourceURI
	fields["attempt"] = attempt
	fields["will_retry"] = attempt <= maxRetries
	s.logger.Warn("Error fetching data", fields)
}

func (s *Service) lookup(ctx context.Context, key string) (domain.Payload, bool) {
	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		s.metrics.CacheMisses.Inc()
		if !errors.Is(err, errors.ErrCacheMiss) {
			s.logger.Warn("Cache lookup failed", map[string]interface{}{
				"source_uri": key,
				"error":      err.Error(),
			})
		}
		return nil, false
	}
	s.metrics.CacheHits.Inc()
	s.logger.Info("Using cached data", map[string]interface{}{"source_uri": key})
	return domain.Payload(cached), true
}

func (s *Service) store(ctx context.Context, key string, payload domain.Payload) {
	s.logger.Info("Caching data", map[string]interface{}{"source_uri": key})
	if err := s.cache.Set(ctx, key, payload, s.cacheTTL); err != nil {
		s.logger.Warn("Cache write failed", map[string]interface{}{
			"source_uri": key,
			"error":      err.Error(),
		})
	}
}

func validateSourceURI(sourceURI string) error {
	if strings.TrimSpace(sourceURI) == "" {
		return errors.New("source URI is empty")
	}
	u, err := url.Parse(sourceURI)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("source URI has no host")
	}
	return nil
}
