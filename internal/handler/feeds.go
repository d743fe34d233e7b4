package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/arhansuba/zr-don-pay/internal/domain"
	"github.com/arhansuba/zr-don-pay/internal/scheduler"
	"github.com/arhansuba/zr-don-pay/pkg/errors"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
	"github.com/arhansuba/zr-don-pay/pkg/validator"
)

type FeedScheduler interface {
	Schedule(f scheduler.Feed) (scheduler.Feed, error)
	Cancel(id string) error
	Feeds() []scheduler.Feed
}

// FeedsHandler manages recurring oracle feeds.
type FeedsHandler struct {
	scheduler FeedScheduler
	validator *validator.Validator
	logger    logger.Logger
}

func NewFeedsHandler(s FeedScheduler, val *validator.Validator, log logger.Logger) *FeedsHandler {
	return &FeedsHandler{scheduler: s, validator: val, logger: log}
}

type CreateFeedRequest struct {
	ID             string `json:"id,omitempty" validate:"omitempty,max=64"`
	SourceURI      string `json:"source_uri" validate:"required,source_uri"`
	IntervalMs     int64  `json:"interval_ms" validate:"required,gte=1000"`
	StartRequestID uint64 `json:"start_request_id"`
	MaxRetries     *int   `json:"max_retries,omitempty" validate:"omitempty,gte=0,lte=20"`
	RetryDelayMs   *int64 `json:"retry_delay_ms,omitempty" validate:"omitempty,gte=0,lte=60000"`
	UseCache       bool   `json:"use_cache"`
}

func (h *FeedsHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"feeds": h.scheduler.Feeds()}, h.logger)
}

func (h *FeedsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateFeedRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"}, h.logger)
		return
	}
	if valErrs := h.validator.ValidateStructured(&req); valErrs != nil {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":             "Validation failed",
			"validation_errors": valErrs,
		}, h.logger)
		return
	}

	opts := domain.DefaultFetchOptions()
	opts.UseCache = req.UseCache
	if req.MaxRetries != nil {
		opts.MaxRetries = *req.MaxRetries
	}
	if req.RetryDelayMs != nil {
		opts.RetryDelay = time.Duration(*req.RetryDelayMs) * time.Millisecond
	}

	feed, err := h.scheduler.Schedule(scheduler.Feed{
		ID:            strings.TrimSpace(req.ID),
		SourceURI:     req.SourceURI,
		Interval:      time.Duration(req.IntervalMs) * time.Millisecond,
		Options:       opts,
		NextRequestID: req.StartRequestID,
	})
	if err != nil {
		status, msg := statusFor(err)
		respondJSON(w, status, map[string]string{"error": msg}, h.logger)
		return
	}
	respondJSON(w, http.StatusCreated, feed, h.logger)
}

func (h *FeedsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Cancel(mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, errors.ErrFeedNotFound) {
			respondJSON(w, http.StatusNotFound, map[string]string{"error": "Feed not found"}, h.logger)
			return
		}
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to cancel feed"}, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
