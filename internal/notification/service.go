// Package notification delivers completion events to external webhooks.
package notification

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/arhansuba/zr-don-pay/internal/domain"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
)

const (
	SignatureHeader = "X-Oracle-Signature"
	EventTypeHeader = "X-Oracle-Event"
	eventType       = "DATA_SUBMITTED"
)

// Notification is the webhook body.
type Notification struct {
	ID        uuid.UUID              `json:"id"`
	Type      string                 `json:"type"`
	Event     domain.CompletionEvent `json:"event"`
	CreatedAt time.Time              `json:"created_at"`
}

type WebhookConfig struct {
	URL string
	// Secret signs bodies with HMAC-SHA256 when set.
	Secret     string
	MaxRetries int
	RetryWait  time.Duration
	QueueSize  int
	Timeout    time.Duration
}

// WebhookNotifier posts completion events from a bounded queue on a single
// worker. Publish never blocks; a full queue drops the event.
type WebhookNotifier struct {
	cfg    WebhookConfig
	client *retryablehttp.Client
	logger logger.Logger

	queue  chan domain.CompletionEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewWebhookNotifier(cfg WebhookConfig, log logger.Logger) *WebhookNotifier {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = cfg.RetryWait
	client.RetryWaitMax = cfg.RetryWait * 8
	client.Logger = nil

	ctx, cancel := context.WithCancel(context.Background())
	n := &WebhookNotifier{
		cfg:    cfg,
		client: client,
		logger: log,
		queue:  make(chan domain.CompletionEvent, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// Publish implements submitter.EventPublisher.
func (n *WebhookNotifier) Publish(ev domain.CompletionEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- ev:
	default:
		n.logger.Warn("Webhook queue full, dropping event", map[string]interface{}{
			"submission_id": ev.SubmissionID,
			"request_id":    ev.RequestID,
		})
	}
}

func (n *WebhookNotifier) run() {
	defer n.wg.Done()
	for ev := range n.queue {
		if err := n.Send(n.ctx, ev); err != nil {
			n.logger.Error("Webhook delivery failed", map[string]interface{}{
				"submission_id": ev.SubmissionID,
				"request_id":    ev.RequestID,
				"error":         err.Error(),
			})
		}
	}
}

// Send delivers one event synchronously.
func (n *WebhookNotifier) Send(ctx context.Context, ev domain.CompletionEvent) error {
	note := Notification{
		ID:        uuid.New(),
		Type:      eventType,
		Event:     ev,
		CreatedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(note)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventTypeHeader, eventType)
	if n.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(n.cfg.Secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Info("Notification Sent", map[string]interface{}{
		"notification_id": note.ID,
		"submission_id":   ev.SubmissionID,
		"request_id":      ev.RequestID,
	})
	return nil
}

// Close stops accepting events, drains the queue and waits for the worker.
// In-flight retries are abandoned after grace.
func (n *WebhookNotifier) Close(grace time.Duration) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		n.cancel()
		<-done
	}
	n.cancel()
}

// Sign returns the hex HMAC-SHA256 of body, prefixed with the scheme.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
