// Package domain re-exports core domain types so internal code can import
// `internal/domain` while using definitions from `pkg/domain`.
package domain

import pkg "github.com/arhansuba/zr-don-pay/pkg/domain"

// Payload is opaque structured data fetched from a source.
type Payload = pkg.Payload

type FetchOptions = pkg.FetchOptions

type FetchRequest = pkg.FetchRequest

type SubmissionRequest = pkg.SubmissionRequest

type SubmissionReceipt = pkg.SubmissionReceipt

type Submission = pkg.Submission

type SubmissionStatus = pkg.SubmissionStatus

type CompletionEvent = pkg.CompletionEvent

type RawJSON = pkg.RawJSON

// Re-exported submission statuses.
const (
	SubmissionStatusCreated   = pkg.SubmissionStatusCreated
	SubmissionStatusEmitted   = pkg.SubmissionStatusEmitted
	SubmissionStatusConfirmed = pkg.SubmissionStatusConfirmed
	SubmissionStatusListening = pkg.SubmissionStatusListening
	SubmissionStatusFailed    = pkg.SubmissionStatusFailed
)

var (
	DefaultFetchOptions  = pkg.DefaultFetchOptions
	CanTransition        = pkg.CanTransition
	NormalizePayload     = pkg.NormalizePayload
	PayloadCID           = pkg.PayloadCID
	NewSubmissionRequest = pkg.NewSubmissionRequest
)
