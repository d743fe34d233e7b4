package submitter

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/arhansuba/zr-don-pay/internal/domain"
	"github.com/arhansuba/zr-don-pay/internal/ledger"
	"github.com/arhansuba/zr-don-pay/pkg/errors"
)

// ListenerInfo describes a live completion listener.
type ListenerInfo struct {
	SubmissionID    uuid.UUID `json:"submission_id"`
	RequestID       uint64    `json:"request_id"`
	OperationHandle string    `json:"operation_handle"`
	Channel         string    `json:"channel"`
	StartedAt       time.Time `json:"started_at"`
	Events          uint64    `json:"events"`
}

type listener struct {
	info   ListenerInfo
	sub    ledger.Subscription
	cancel context.CancelFunc
	events atomic.Uint64
}

// eventData is the part of a completion event payload used for correlation.
type eventData struct {
	RequestID json.RawMessage `json:"request_id"`
	TxHash    string          `json:"tx_hash"`
}

func (s *Service) listen(record *domain.Submission) error {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.cfg.ListenerTTL > 0 {
		ctx, cancel = context.WithTimeout(s.baseCtx, s.cfg.ListenerTTL)
	} else {
		ctx, cancel = context.WithCancel(s.baseCtx)
	}

	l := &listener{
		cancel: cancel,
		info: ListenerInfo{
			SubmissionID:    record.ID,
			RequestID:       record.RequestID,
			OperationHandle: record.OperationHandle,
			Channel:         s.ChannelName(),
			StartedAt:       s.now(),
		},
	}

	sub, err := s.ledger.Subscribe(ctx, l.info.Channel, ledger.HandlerFunc(func(_ context.Context, ev ledger.Event) error {
		return s.handleEvent(l, ev)
	}))
	if err != nil {
		cancel()
		return err
	}
	l.sub = sub

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = sub.Close()
		return errors.New("submitter is closed")
	}
	s.listeners[record.ID] = l
	s.wg.Add(1)
	s.mu.Unlock()
	s.metrics.ActiveListeners.Inc()

	go func() {
		defer s.wg.Done()
		select {
		case <-sub.Done():
		case <-ctx.Done():
		}
		s.removeListener(l)
	}()

	s.logger.Info("Listening for completion events", map[string]interface{}{
		"submission_id": record.ID,
		"channel":       l.info.Channel,
	})
	return nil
}

func (s *Service) handleEvent(l *listener, ev ledger.Event) error {
	if !correlates(l.info, ev) {
		return nil
	}
	l.events.Add(1)
	s.metrics.CompletionEvents.Inc()

	s.logger.Info("Data submitted event received", map[string]interface{}{
		"submission_id":    l.info.SubmissionID,
		"request_id":       l.info.RequestID,
		"operation_handle": l.info.OperationHandle,
		"channel":          ev.Channel,
		"sequence_number":  ev.SequenceNumber,
		"version":          ev.Version,
	})

	if s.publisher != nil {
		s.publisher.Publish(domain.CompletionEvent{
			Channel:         ev.Channel,
			SequenceNumber:  ev.SequenceNumber,
			Version:         ev.Version,
			OperationHandle: l.info.OperationHandle,
			RequestID:       l.info.RequestID,
			SubmissionID:    l.info.SubmissionID,
			Data:            ev.Data,
			ReceivedAt:      s.now(),
		})
	}
	return nil
}

// correlates matches an event to a submission by transaction hash when the
// event carries one, and by request id otherwise.
func correlates(info ListenerInfo, ev ledger.Event) bool {
	var data eventData
	_ = json.Unmarshal(ev.Data, &data)

	hash := ev.TxHash
	if hash == "" {
		hash = data.TxHash
	}
	if hash != "" {
		return strings.EqualFold(hash, info.OperationHandle)
	}

	id, ok := parseRequestID(data.RequestID)
	return ok && id == info.RequestID
}

func parseRequestID(raw json.RawMessage) (uint64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		id, err := strconv.ParseUint(s, 10, 64)
		return id, err == nil
	}
	var id uint64
	if json.Unmarshal(raw, &id) == nil {
		return id, true
	}
	return 0, false
}

// Listeners lists the live completion listeners.
func (s *Service) Listeners() []ListenerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ListenerInfo, 0, len(s.listeners))
	for _, l := range s.listeners {
		info := l.info
		info.Events = l.events.Load()
		out = append(out, info)
	}
	return out
}

// StopListener unsubscribes the listener of a submission.
func (s *Service) StopListener(submissionID uuid.UUID) error {
	s.mu.Lock()
	l, ok := s.listeners[submissionID]
	s.mu.Unlock()
	if !ok {
		return errors.ErrSubmissionNotFound
	}
	s.removeListener(l)
	return nil
}

func (s *Service) removeListener(l *listener) {
	s.mu.Lock()
	current, ok := s.listeners[l.info.SubmissionID]
	if !ok || current != l {
		s.mu.Unlock()
		return
	}
	delete(s.listeners, l.info.SubmissionID)
	s.mu.Unlock()

	l.cancel()
	if err := l.sub.Close(); err != nil {
		s.logger.Warn("Failed to close subscription", map[string]interface{}{
			"submission_id": l.info.SubmissionID,
			"error":         err.Error(),
		})
	}
	s.metrics.ActiveListeners.Dec()
	s.logger.Info("Completion listener stopped", map[string]interface{}{
		"submission_id": l.info.SubmissionID,
		"events":        l.events.Load(),
	})
}
