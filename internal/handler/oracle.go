// Package handler provides HTTP handlers for the oracle service.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/arhansuba/zr-don-pay/internal/domain"
	"github.com/arhansuba/zr-don-pay/internal/oracle"
	"github.com/arhansuba/zr-don-pay/internal/submitter"
	"github.com/arhansuba/zr-don-pay/pkg/errors"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
	"github.com/arhansuba/zr-don-pay/pkg/validator"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Oracle is the workflow behind the request endpoints.
type Oracle interface {
	Run(ctx context.Context, req oracle.RunRequest) (*domain.SubmissionReceipt, error)
	Data(ctx context.Context, sourceURI string, opts domain.FetchOptions) (domain.Payload, error)
	Resource(ctx context.Context, address, resourceType string) (json.RawMessage, error)
}

type SubmissionReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Submission, error)
	List(ctx context.Context, limit, offset int) ([]*domain.Submission, error)
}

type ListenerRegistry interface {
	Listeners() []submitter.ListenerInfo
	StopListener(submissionID uuid.UUID) error
}

// OracleHandler manages the oracle request endpoints.
type OracleHandler struct {
	oracle      Oracle
	submissions SubmissionReader
	listeners   ListenerRegistry
	validator   *validator.Validator
	logger      logger.Logger
	// requestTimeout bounds a synchronous request run. Zero keeps the
	// client's context.
	requestTimeout time.Duration
}

func NewOracleHandler(o Oracle, submissions SubmissionReader, listeners ListenerRegistry, val *validator.Validator, requestTimeout time.Duration, log logger.Logger) *OracleHandler {
	return &OracleHandler{
		oracle:         o,
		submissions:    submissions,
		listeners:      listeners,
		validator:      val,
		logger:         log,
		requestTimeout: requestTimeout,
	}
}

// CreateRequest is the body of POST /api/v1/requests.
type CreateRequest struct {
	RequestID    uint64 `json:"request_id"`
	SourceURI    string `json:"source_uri" validate:"required,source_uri"`
	MaxRetries   *int   `json:"max_retries,omitempty" validate:"omitempty,gte=0,lte=20"`
	RetryDelayMs *int64 `json:"retry_delay_ms,omitempty" validate:"omitempty,gte=0,lte=600000"`
	UseCache     *bool  `json:"use_cache,omitempty"`
}

func (c CreateRequest) runRequest() oracle.RunRequest {
	opts := domain.DefaultFetchOptions()
	if c.MaxRetries != nil {
		opts.MaxRetries = *c.MaxRetries
	}
	if c.RetryDelayMs != nil {
		opts.RetryDelay = time.Duration(*c.RetryDelayMs) * time.Millisecond
	}
	if c.UseCache != nil {
		opts.UseCache = *c.UseCache
	}
	return oracle.RunRequest{
		RequestID: c.RequestID,
		SourceURI: strings.TrimSpace(c.SourceURI),
		Options:   opts,
	}
}

// CreateRequest runs the fetch and submit workflow and returns the receipt.
func (h *OracleHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "Request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if valErrs := h.validator.ValidateStructured(&req); valErrs != nil {
		h.respondValidationErrors(w, valErrs)
		return
	}

	ctx := r.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	receipt, err := h.oracle.Run(ctx, req.runRequest())
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Oracle request failed", map[string]interface{}{
				"request_id": req.RequestID,
				"source_uri": req.SourceURI,
				"error":      err.Error(),
			})
		}
		h.respondError(w, status, msg)
		return
	}

	h.respondJSON(w, http.StatusCreated, receipt)
}

// ListSubmissions returns stored submissions, newest first.
func (h *OracleHandler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageSize
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	subs, err := h.submissions.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list submissions", map[string]interface{}{"error": err.Error()})
		h.respondError(w, http.StatusInternalServerError, "Failed to list submissions")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"submissions": subs,
		"limit":       limit,
		"offset":      offset,
	})
}

func (h *OracleHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid submission ID")
		return
	}

	sub, err := h.submissions.FindByID(r.Context(), id)
	if errors.Is(err, errors.ErrSubmissionNotFound) {
		h.respondError(w, http.StatusNotFound, "Submission not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load submission", map[string]interface{}{
			"submission_id": id,
			"error":         err.Error(),
		})
		h.respondError(w, http.StatusInternalServerError, "Failed to load submission")
		return
	}

	h.respondJSON(w, http.StatusOK, sub)
}

// GetData fetches a source for display (?source_uri=...&use_cache=true).
func (h *OracleHandler) GetData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uri := strings.TrimSpace(q.Get("source_uri"))
	if uri == "" {
		h.respondError(w, http.StatusBadRequest, "source_uri query parameter is required")
		return
	}
	opts := domain.DefaultFetchOptions()
	if v := q.Get("use_cache"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.UseCache = b
		}
	}
	if v := q.Get("max_retries"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.MaxRetries = n
		}
	}

	payload, err := h.oracle.Data(r.Context(), uri, opts)
	if err != nil {
		status, msg := statusFor(err)
		h.respondError(w, status, msg)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"source_uri": uri,
		"data":       payload,
	})
}

func (h *OracleHandler) GetResource(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	data, err := h.oracle.Resource(r.Context(), vars["address"], vars["type"])
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Failed to read resource", map[string]interface{}{
				"address": vars["address"],
				"type":    vars["type"],
				"error":   err.Error(),
			})
		}
		h.respondError(w, status, msg)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"type": vars["type"],
		"data": data,
	})
}

func (h *OracleHandler) ListListeners(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"listeners": h.listeners.Listeners()})
}

func (h *OracleHandler) StopListener(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid submission ID")
		return
	}
	if err := h.listeners.StopListener(id); err != nil {
		if errors.Is(err, errors.ErrSubmissionNotFound) {
			h.respondError(w, http.StatusNotFound, "Listener not found")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "Failed to stop listener")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps workflow errors onto HTTP statuses and client-safe messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errors.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, errors.ErrNoData):
		return http.StatusBadGateway, "No data fetched from source"
	case errors.Is(err, errors.ErrDuplicateSubmission):
		return http.StatusConflict, "Submission already exists for request and payload"
	case errors.Is(err, errors.ErrResourceNotFound):
		return http.StatusNotFound, "Resource not found"
	case errors.Is(err, errors.ErrFinalityRejected):
		return http.StatusUnprocessableEntity, "Transaction rejected by ledger"
	case errors.Is(err, errors.ErrFinalityTimeout):
		return http.StatusGatewayTimeout, "Timed out waiting for transaction finality"
	case errors.Is(err, errors.ErrEmitFailed):
		return http.StatusBadGateway, "Failed to submit transaction"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Request aborted before completion"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (h *OracleHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	respondJSON(w, status, data, h.logger)
}

func (h *OracleHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *OracleHandler) respondValidationErrors(w http.ResponseWriter, errors map[string]string) {
	h.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":             "Validation failed",
		"validation_errors": errors,
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}, log logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("json encode failed", map[string]interface{}{"error": err.Error()})
	}
}
