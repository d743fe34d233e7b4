// Package oracle runs the fetch and submit workflow.
package oracle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/arhansuba/zr-don-pay/internal/domain"
	"github.com/arhansuba/zr-don-pay/internal/ledger"
	"github.com/arhansuba/zr-don-pay/pkg/errors"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
	"github.com/arhansuba/zr-don-pay/pkg/validator"
)

// RunRequest asks for one fetch and submit cycle.
type RunRequest struct {
	RequestID uint64              `json:"request_id"`
	SourceURI string              `json:"source_uri" validate:"required,source_uri"`
	Options   domain.FetchOptions `json:"options"`
}

type Fetcher interface {
	Fetch(ctx context.Context, sourceURI string, opts domain.FetchOptions) (domain.Payload, bool)
}

type Submitter interface {
	Submit(ctx context.Context, requestID uint64, sourceURI string, payload domain.Payload) (*domain.SubmissionReceipt, error)
}

type Service struct {
	fetcher   Fetcher
	submitter Submitter
	ledger    ledger.Client
	validator *validator.Validator
	logger    logger.Logger
}

func NewService(f Fetcher, s Submitter, client ledger.Client, val *validator.Validator, log logger.Logger) *Service {
	return &Service{
		fetcher:   f,
		submitter: s,
		ledger:    client,
		validator: val,
		logger:    log,
	}
}

// Run fetches the source and submits the payload. When the fetch produced
// nothing, no submission is attempted and ErrNoData is returned.
func (s *Service) Run(ctx context.Context, req RunRequest) (*domain.SubmissionReceipt, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, errors.Join(errors.ErrInvalidRequest, err)
	}

	start := time.Now()
	payload, ok := s.fetcher.Fetch(ctx, req.SourceURI, req.Options)
	if !ok {
		s.logger.Warn("No data fetched, skipping submission", map[string]interface{}{
			"request_id": req.RequestID,
			"source_uri": req.SourceURI,
		})
		return nil, errors.ErrNoData
	}

	receipt, err := s.submitter.Submit(ctx, req.RequestID, req.SourceURI, payload)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Oracle request fulfilled", map[string]interface{}{
		"request_id":       req.RequestID,
		"submission_id":    receipt.SubmissionID,
		"operation_handle": receipt.OperationHandle,
		"finality_marker":  receipt.FinalityMarker,
		"duration_ms":      time.Since(start).Milliseconds(),
	})
	return receipt, nil
}

// Data fetches a source for display without submitting it.
func (s *Service) Data(ctx context.Context, sourceURI string, opts domain.FetchOptions) (domain.Payload, error) {
	if err := s.validator.Validate(domain.FetchRequest{SourceURI: sourceURI, Options: opts}); err != nil {
		return nil, errors.Join(errors.ErrInvalidRequest, err)
	}
	payload, ok := s.fetcher.Fetch(ctx, sourceURI, opts)
	if !ok {
		return nil, errors.ErrNoData
	}
	return payload, nil
}

// Resource reads an on-chain resource.
func (s *Service) Resource(ctx context.Context, address, resourceType string) (json.RawMessage, error) {
	if err := s.validator.Var(address, "required,ledger_address"); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "invalid address")
	}
	if err := s.validator.Var(resourceType, "required,move_type"); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "invalid resource type")
	}
	data, err := s.ledger.ReadResource(ctx, address, resourceType)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, errors.ErrResourceNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read resource")
	}
	return data, nil
}
