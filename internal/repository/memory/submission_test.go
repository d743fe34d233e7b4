package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arhansuba/zr-don-pay/internal/domain"
	"github.com/arhansuba/zr-don-pay/pkg/errors"
)

func newSubmission(requestID uint64, cid string, createdAt time.Time) *domain.Submission {
	return &domain.Submission{
		ID:         uuid.New(),
		RequestID:  requestID,
		PayloadCID: cid,
		Payload:    domain.RawJSON(`{"value":42}`),
		Status:     domain.SubmissionStatusCreated,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func TestSubmissionRepository_CreateAndFind(t *testing.T) {
	repo := NewSubmissionRepository()
	ctx := context.Background()
	s := newSubmission(1, "cid-a", time.Now())

	require.NoError(t, repo.Create(ctx, s))

	found, err := repo.FindByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.RequestID, found.RequestID)
	assert.JSONEq(t, `{"value":42}`, string(found.Payload))

	// Stored records are copies.
	found.Status = domain.SubmissionStatusFailed
	again, _ := repo.FindByID(ctx, s.ID)
	assert.Equal(t, domain.SubmissionStatusCreated, again.Status)
}

func TestSubmissionRepository_RejectsLiveDuplicate(t *testing.T) {
	repo := NewSubmissionRepository()
	ctx := context.Background()
	first := newSubmission(1, "cid-a", time.Now())
	require.NoError(t, repo.Create(ctx, first))

	err := repo.Create(ctx, newSubmission(1, "cid-a", time.Now()))
	assert.ErrorIs(t, err, errors.ErrDuplicateSubmission)

	// Same request with another payload is fine.
	assert.NoError(t, repo.Create(ctx, newSubmission(1, "cid-b", time.Now())))

	// A failed submission may be retried.
	first.Status = domain.SubmissionStatusFailed
	require.NoError(t, repo.Update(ctx, first))
	assert.NoError(t, repo.Create(ctx, newSubmission(1, "cid-a", time.Now())))

	matches, err := repo.FindByPayload(ctx, 1, "cid-a")
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestSubmissionRepository_UpdateUnknown(t *testing.T) {
	repo := NewSubmissionRepository()

	err := repo.Update(context.Background(), newSubmission(1, "cid", time.Now()))
	assert.ErrorIs(t, err, errors.ErrSubmissionNotFound)

	_, err = repo.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errors.ErrSubmissionNotFound)
}

func TestSubmissionRepository_FindByStatusAndList(t *testing.T) {
	repo := NewSubmissionRepository()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		s := newSubmission(uint64(i), "cid", base.Add(time.Duration(i)*time.Second))
		if i%2 == 0 {
			s.Status = domain.SubmissionStatusEmitted
		}
		require.NoError(t, repo.Create(ctx, s))
	}

	emitted, err := repo.FindByStatus(ctx, domain.SubmissionStatusEmitted)
	require.NoError(t, err)
	assert.Len(t, emitted, 3)

	page, err := repo.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(4), page[0].RequestID)
	assert.Equal(t, uint64(3), page[1].RequestID)

	page, err = repo.List(ctx, 10, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, uint64(0), page[0].RequestID)

	page, err = repo.List(ctx, 10, 9)
	require.NoError(t, err)
	assert.Empty(t, page)
}
