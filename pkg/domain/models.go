package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payload is the opaque structured data returned by a source.
type Payload = json.RawMessage

// FetchOptions controls retries and caching for a single fetch.
type FetchOptions struct {
	MaxRetries int           `json:"max_retries" validate:"gte=0"`
	RetryDelay time.Duration `json:"retry_delay" validate:"gte=0"`
	UseCache   bool          `json:"use_cache"`
}

// DefaultFetchOptions returns three retries, one second delay and no cache.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		MaxRetries: 3,
		RetryDelay: time.Second,
		UseCache:   false,
	}
}

type FetchRequest struct {
	SourceURI string       `json:"source_uri" validate:"required,source_uri"`
	Options   FetchOptions `json:"options"`
}

// SubmissionRequest is built once per successful fetch and never mutated.
type SubmissionRequest struct {
	RequestID  uint64  `json:"request_id"`
	Payload    Payload `json:"payload"`
	PayloadCID string  `json:"payload_cid"`
}

// SubmissionReceipt is returned once the operation reached finality.
type SubmissionReceipt struct {
	SubmissionID    uuid.UUID       `json:"submission_id"`
	RequestID       uint64          `json:"request_id"`
	OperationHandle string          `json:"operation_handle"`
	FinalityMarker  string          `json:"finality_marker"`
	Version         uint64          `json:"version"`
	GasUsed         uint64          `json:"gas_used"`
	Fee             decimal.Decimal `json:"fee"`
	ConfirmedAt     time.Time       `json:"confirmed_at"`
	Listening       bool            `json:"listening"`
}

type SubmissionStatus string

const (
	SubmissionStatusCreated   SubmissionStatus = "created"
	SubmissionStatusEmitted   SubmissionStatus = "emitted"
	SubmissionStatusConfirmed SubmissionStatus = "confirmed"
	SubmissionStatusListening SubmissionStatus = "listening"
	SubmissionStatusFailed    SubmissionStatus = "failed"
)

var submissionTransitions = map[SubmissionStatus][]SubmissionStatus{
	SubmissionStatusCreated:   {SubmissionStatusEmitted, SubmissionStatusFailed},
	SubmissionStatusEmitted:   {SubmissionStatusConfirmed, SubmissionStatusFailed},
	SubmissionStatusConfirmed: {SubmissionStatusListening},
}

// CanTransition reports whether a submission may move from one status to another.
func CanTransition(from, to SubmissionStatus) bool {
	for _, s := range submissionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s SubmissionStatus) IsTerminal() bool {
	return len(submissionTransitions[s]) == 0
}

// Submission is the persisted record of one submit call.
type Submission struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	RequestID       uint64           `json:"request_id" db:"request_id"`
	SourceURI       string           `json:"source_uri" db:"source_uri"`
	PayloadCID      string           `json:"payload_cid" db:"payload_cid"`
	Payload         RawJSON          `json:"payload" db:"payload"`
	Status          SubmissionStatus `json:"status" db:"status"`
	OperationHandle string           `json:"operation_handle" db:"operation_handle"`
	FinalityMarker  string           `json:"finality_marker" db:"finality_marker"`
	LedgerVersion   uint64           `json:"ledger_version" db:"ledger_version"`
	GasUsed         uint64           `json:"gas_used" db:"gas_used"`
	Fee             decimal.Decimal  `json:"fee" db:"fee"`
	Error           string           `json:"error,omitempty" db:"error"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	EmittedAt       *time.Time       `json:"emitted_at" db:"emitted_at"`
	ConfirmedAt     *time.Time       `json:"confirmed_at" db:"confirmed_at"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`
}

// Receipt builds the receipt view of a confirmed submission.
func (s *Submission) Receipt() *SubmissionReceipt {
	r := &SubmissionReceipt{
		SubmissionID:    s.ID,
		RequestID:       s.RequestID,
		OperationHandle: s.OperationHandle,
		FinalityMarker:  s.FinalityMarker,
		Version:         s.LedgerVersion,
		GasUsed:         s.GasUsed,
		Fee:             s.Fee,
		Listening:       s.Status == SubmissionStatusListening,
	}
	if s.ConfirmedAt != nil {
		r.ConfirmedAt = *s.ConfirmedAt
	}
	return r
}

// CompletionEvent is a ledger notification correlated to a submission.
type CompletionEvent struct {
	Channel         string          `json:"channel"`
	SequenceNumber  uint64          `json:"sequence_number"`
	Version         uint64          `json:"version"`
	OperationHandle string          `json:"operation_handle"`
	RequestID       uint64          `json:"request_id"`
	SubmissionID    uuid.UUID       `json:"submission_id"`
	Data            json.RawMessage `json:"data"`
	ReceivedAt      time.Time       `json:"received_at"`
}

// RawJSON is a json.RawMessage that can be stored in a JSONB column.
type RawJSON json.RawMessage

func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func (r *RawJSON) UnmarshalJSON(b []byte) error {
	*r = append((*r)[:0], b...)
	return nil
}

func (r RawJSON) Value() (driver.Value, error) {
	if len(r) == 0 {
		return nil, nil
	}
	return []byte(r), nil
}

func (r *RawJSON) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*r = nil
	case []byte:
		*r = append((*r)[:0], v...)
	case string:
		*r = RawJSON(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return nil
}
