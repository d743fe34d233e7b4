// Package submitter puts fetched payloads on the ledger. A submission is
// emitted exactly once, awaited to finality and then observed through a
// long-lived completion event listener.
package submitter

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arhansuba/zr-don-pay/internal/domain"
	"github.com/arhansuba/zr-don-pay/internal/ledger"
	"github.com/arhansuba/zr-don-pay/internal/metrics"
	"github.com/arhansuba/zr-don-pay/pkg/errors"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
)

// Names of the on-chain oracle module members.
const (
	SubmitFunction = "OracleNetwork::submitData"
	EventChannel   = "OracleNetwork::DataSubmitted"
	DataResource   = "OracleNetwork::DataStore"
)

// feeExponent converts gas units times unit price into whole coins.
const feeExponent = -8

type Config struct {
	// ModuleAddress prefixes the module members; empty leaves them bare.
	ModuleAddress string
	// FinalityTimeout bounds the finality wait. Zero waits as long as the
	// caller's context allows.
	FinalityTimeout time.Duration
	// ListenerTTL bounds each completion listener. Zero keeps listeners
	// until StopListener or Close.
	ListenerTTL time.Duration
}

type Service struct {
	ledger    ledger.Client
	repo      Repository
	publisher EventPublisher
	cfg       Config
	logger    logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.Mutex
	listeners map[uuid.UUID]*listener
	closed    bool
}

// NewService wires a submitter. publisher may be nil.
func NewService(
	client ledger.Client,
	repo Repository,
	publisher EventPublisher,
	cfg Config,
	log logger.Logger,
	m *metrics.Metrics,
) *Service {
	if m == nil {
		m = metrics.New(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		ledger:    client,
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		logger:    log,
		metrics:   m,
		now:       time.Now,
		baseCtx:   ctx,
		cancel:    cancel,
		listeners: make(map[uuid.UUID]*listener),
	}
}

// FunctionName is the fully qualified submit entry function.
func (s *Service) FunctionName() string {
	return ledger.QualifiedName(s.cfg.ModuleAddress, SubmitFunction)
}

// ChannelName is the fully qualified completion event channel.
func (s *Service) ChannelName() string {
	return ledger.QualifiedName(s.cfg.ModuleAddress, EventChannel)
}

// ResourceType is the fully qualified data store resource.
func (s *Service) ResourceType() string {
	return ledger.QualifiedName(s.cfg.ModuleAddress, DataResource)
}

// Submit emits payload for requestID, waits for finality and registers the
// completion listener. No receipt is returned unless finality was reached.
// The emit is never retried.
func (s *Service) Submit(ctx context.Context, requestID uint64, sourceURI string, payload domain.Payload) (*domain.SubmissionReceipt, error) {
	if len(payload) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "payload is empty")
	}
	req, err := domain.NewSubmissionRequest(requestID, payload)
	if err != nil {
		return nil, errors.Join(errors.ErrInvalidRequest, err)
	}

	now := s.now()
	record := &domain.Submission{
		ID:         uuid.New(),
		RequestID:  req.RequestID,
		SourceURI:  sourceURI,
		PayloadCID: req.PayloadCID,
		Payload:    domain.RawJSON(req.Payload),
		Status:     domain.SubmissionStatusCreated,
		Fee:        decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		if errors.Is(err, errors.ErrDuplicateSubmission) {
			s.metrics.Submissions.WithLabelValues("duplicate").Inc()
			s.logger.Warn("Duplicate submission rejected", map[string]interface{}{
				"request_id":  requestID,
				"payload_cid": req.PayloadCID,
			})
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to record submission")
	}

	if err := s.emit(ctx, record, req); err != nil {
		return nil, err
	}
	if err := s.awaitFinality(ctx, record); err != nil {
		return nil, err
	}
	s.observe(record)

	s.metrics.Submissions.WithLabelValues("confirmed").Inc()
	return record.Receipt(), nil
}

func (s *Service) emit(ctx context.Context, record *domain.Submission, req domain.SubmissionRequest) error {
	tx := ledger.Transaction{
		Function:  s.FunctionName(),
		Arguments: []interface{}{req.RequestID, json.RawMessage(req.Payload)},
	}

	pending, err := s.ledger.Submit(ctx, tx)
	if err != nil {
		s.metrics.Submissions.WithLabelValues("emit_failed").Inc()
		s.logger.Error("Error submitting data", map[string]interface{}{
			"submission_id": record.ID,
			"request_id":    record.RequestID,
			"function":      tx.Function,
			"error":         err.Error(),
		})
		s.fail(ctx, record, err)
		return errors.Join(errors.ErrEmitFailed, err)
	}

	emittedAt := s.now()
	record.OperationHandle = pending.Hash
	record.EmittedAt = &emittedAt
	s.transition(ctx, record, domain.SubmissionStatusEmitted)

	s.logger.Info("Transaction submitted", map[string]interface{}{
		"submission_id":    record.ID,
		"request_id":       record.RequestID,
		"operation_handle": pending.Hash,
		"sequence_number":  pending.SequenceNumber,
	})
	return nil
}

// awaitFinality waits for the emitted operation of record and moves it to
// confirmed. Cancellation by the caller leaves the record emitted so that
// RecoverPending can pick it up again.
func (s *Service) awaitFinality(ctx context.Context, record *domain.Submission) error {
	waitCtx := ctx
	if s.cfg.FinalityTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.cfg.FinalityTimeout)
		defer cancel()
	}

	fin, err := s.ledger.AwaitFinality(waitCtx, record.OperationHandle)
	if err != nil {
		fields := map[string]interface{}{
			"submission_id":    record.ID,
			"operation_handle": record.OperationHandle,
			"error":            err.Error(),
		}
		switch {
		case errors.Is(err, ledger.ErrRejected):
			s.metrics.Submissions.WithLabelValues("rejected").Inc()
			s.logger.Error("Transaction rejected", fields)
			s.fail(ctx, record, err)
			return errors.Join(errors.ErrFinalityRejected, err)
		case ctx.Err() != nil:
			s.logger.Warn("Finality wait aborted", fields)
			return errors.Wrap(ctx.Err(), "finality wait aborted")
		case errors.Is(err, ledger.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			s.metrics.Submissions.WithLabelValues("timeout").Inc()
			s.logger.Error("Transaction confirmation timeout", fields)
			s.fail(ctx, record, err)
			return errors.Join(errors.ErrFinalityTimeout, err)
		default:
			s.metrics.Submissions.WithLabelValues("await_failed").Inc()
			s.logger.Error("Failed to await transaction finality", fields)
			s.fail(ctx, record, err)
			return errors.Wrap(err, "failed to await finality")
		}
	}

	confirmedAt := fin.Timestamp
	if confirmedAt.IsZero() {
		confirmedAt = s.now()
	}
	record.FinalityMarker = fin.Marker()
	record.LedgerVersion = fin.Version
	record.GasUsed = fin.GasUsed
	record.Fee = Fee(fin.GasUsed, fin.GasUnitPrice)
	record.ConfirmedAt = &confirmedAt
	s.transition(ctx, record, domain.SubmissionStatusConfirmed)

	if record.EmittedAt != nil {
		s.metrics.FinalityLatency.Observe(s.now().Sub(*record.EmittedAt).Seconds())
	}
	s.logger.Info("Transaction confirmed", map[string]interface{}{
		"submission_id":    record.ID,
		"operation_handle": record.OperationHandle,
		"finality_marker":  record.FinalityMarker,
		"version":          fin.Version,
		"block_height":     fin.BlockHeight,
	})
	return nil
}

// observe registers the completion listener. A failure is logged and leaves
// the record confirmed.
func (s *Service) observe(record *domain.Submission) {
	if err := s.listen(record); err != nil {
		s.logger.Error("Failed to register completion listener", map[string]interface{}{
			"submission_id": record.ID,
			"channel":       s.ChannelName(),
			"error":         errors.Join(errors.ErrSubscriptionFailed, err).Error(),
		})
		return
	}
	s.transition(s.baseCtx, record, domain.SubmissionStatusListening)
}

// Fee converts gas used at a unit price into coins.
func Fee(gasUsed, gasUnitPrice uint64) decimal.Decimal {
	return decimal.NewFromInt(int64(gasUsed)).
		Mul(decimal.NewFromInt(int64(gasUnitPrice))).
		Shift(feeExponent)
}

// RecoverPending resumes the finality wait of every emitted submission in
// the background. Nothing is emitted again.
func (s *Service) RecoverPending(ctx context.Context) error {
	pending, err := s.repo.FindByStatus(ctx, domain.SubmissionStatusEmitted)
	if err != nil {
		return errors.Wrap(err, "failed to load emitted submissions")
	}

	for _, record := range pending {
		if record.OperationHandle == "" {
			continue
		}
		record := record
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.wg.Done()
			if err := s.awaitFinality(s.baseCtx, record); err != nil {
				return
			}
			s.observe(record)
		}()
		s.logger.Info("Resumed monitoring for submission", map[string]interface{}{
			"submission_id":    record.ID,
			"operation_handle": record.OperationHandle,
		})
	}
	return nil
}

// Close stops every listener and waits for background work to finish.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Service) transition(ctx context.Context, record *domain.Submission, to domain.SubmissionStatus) {
	if !domain.CanTransition(record.Status, to) {
		s.logger.Error("Invalid submission status transition", map[string]interface{}{
			"submission_id": record.ID,
			"from":          record.Status,
			"to":            to,
			"error":         errors.ErrInvalidTransition.Error(),
		})
		return
	}
	record.Status = to
	record.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, record); err != nil {
		s.logger.Error("Failed to update submission", map[string]interface{}{
			"submission_id": record.ID,
			"status":        to,
			"error":         err.Error(),
		})
	}
}

func (s *Service) fail(ctx context.Context, record *domain.Submission, cause error) {
	record.Error = cause.Error()
	s.transition(context.WithoutCancel(ctx), record, domain.SubmissionStatusFailed)
}

type Repository interface {
	Create(ctx context.Context, submission *domain.Submission) error
	Update(ctx context.Context, submission *domain.Submission) error
	FindByStatus(ctx context.Context, status domain.SubmissionStatus) ([]*domain.Submission, error)
}

// EventPublisher receives correlated completion events.
type EventPublisher interface {
	Publish(event domain.CompletionEvent)
}
