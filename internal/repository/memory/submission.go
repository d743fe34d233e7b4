// Package memory keeps submissions in process memory. It backs the
// one-shot entry point and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/arhansuba/zr-don-pay/internal/domain"
	"github.com/arhansuba/zr-don-pay/pkg/errors"
)

type SubmissionRepository struct {
	mu          sync.RWMutex
	submissions map[uuid.UUID]*domain.Submission
}

func NewSubmissionRepository() *SubmissionRepository {
	return &SubmissionRepository{submissions: make(map[uuid.UUID]*domain.Submission)}
}

// Create stores a copy of submission. A live submission with the same
// request id and payload fingerprint is a duplicate.
func (r *SubmissionRepository) Create(ctx context.Context, submission *domain.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.submissions[submission.ID]; ok {
		return errors.ErrDuplicateSubmission
	}
	for _, s := range r.submissions {
		if s.RequestID == submission.RequestID &&
			s.PayloadCID == submission.PayloadCID &&
			s.Status != domain.SubmissionStatusFailed {
			return errors.ErrDuplicateSubmission
		}
	}
	r.submissions[submission.ID] = clone(submission)
	return nil
}

func (r *SubmissionRepository) Update(ctx context.Context, submission *domain.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.submissions[submission.ID]; !ok {
		return errors.ErrSubmissionNotFound
	}
	r.submissions[submission.ID] = clone(submission)
	return nil
}

func (r *SubmissionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.submissions[id]
	if !ok {
		return nil, errors.ErrSubmissionNotFound
	}
	return clone(s), nil
}

func (r *SubmissionRepository) FindByPayload(ctx context.Context, requestID uint64, payloadCID string) ([]*domain.Submission, error) {
	return r.filter(func(s *domain.Submission) bool {
		return s.RequestID == requestID && s.PayloadCID == payloadCID
	}), nil
}

func (r *SubmissionRepository) FindByStatus(ctx context.Context, status domain.SubmissionStatus) ([]*domain.Submission, error) {
	return r.filter(func(s *domain.Submission) bool {
		return s.Status == status
	}), nil
}

// List returns the newest submissions first.
func (r *SubmissionRepository) List(ctx context.Context, limit, offset int) ([]*domain.Submission, error) {
	all := r.filter(func(*domain.Submission) bool { return true })
	if offset >= len(all) {
		return []*domain.Submission{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *SubmissionRepository) filter(keep func(*domain.Submission) bool) []*domain.Submission {
	r.mu.RLock()
	out := make([]*domain.Submission, 0)
	for _, s := range r.submissions {
		if keep(s) {
			out = append(out, clone(s))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func clone(s *domain.Submission) *domain.Submission {
	c := *s
	c.Payload = append(domain.RawJSON(nil), s.Payload...)
	if s.EmittedAt != nil {
		t := *s.EmittedAt
		c.EmittedAt = &t
	}
	if s.ConfirmedAt != nil {
		t := *s.ConfirmedAt
		c.ConfirmedAt = &t
	}
	return &c
}
