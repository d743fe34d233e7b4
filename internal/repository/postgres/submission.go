package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/arhansuba/zr-don-pay/internal/domain"
	"github.com/arhansuba/zr-don-pay/pkg/errors"
)

const uniqueViolation = "23505"

type SubmissionRepository struct {
	db *sqlx.DB
}

func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

func (r *SubmissionRepository) Create(ctx context.Context, submission *domain.Submission) error {
	query := `
		INSERT INTO submissions (
			id, request_id, source_uri, payload_cid, payload, status,
			operation_handle, finality_marker, ledger_version, gas_used, fee, error,
			created_at, emitted_at, confirmed_at, updated_at
		) VALUES (
			:id, :request_id, :source_uri, :payload_cid, :payload, :status,
			:operation_handle, :finality_marker, :ledger_version, :gas_used, :fee, :error,
			:created_at, :emitted_at, :confirmed_at, :updated_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, submission)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return errors.ErrDuplicateSubmission
		}
		return errors.Wrap(err, "failed to create submission")
	}
	return nil
}

func (r *SubmissionRepository) Update(ctx context.Context, submission *domain.Submission) error {
	query := `
		UPDATE submissions SET
			status = :status,
			operation_handle = :operation_handle,
			finality_marker = :finality_marker,
			ledger_version = :ledger_version,
			gas_used = :gas_used,
			fee = :fee,
			error = :error,
			emitted_at = :emitted_at,
			confirmed_at = :confirmed_at,
			updated_at = :updated_at
		WHERE id = :id
	`
	res, err := r.db.NamedExecContext(ctx, query, submission)
	if err != nil {
		return errors.Wrap(err, "failed to update submission")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.ErrSubmissionNotFound
	}
	return nil
}

func (r *SubmissionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Submission, error) {
	var submission domain.Submission
	query := `SELECT * FROM submissions WHERE id = $1`
	err := r.db.GetContext(ctx, &submission, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find submission")
	}
	return &submission, nil
}

func (r *SubmissionRepository) FindByPayload(ctx context.Context, requestID uint64, payloadCID string) ([]*domain.Submission, error) {
	var submissions []*domain.Submission
	query := `
		SELECT * FROM submissions
		WHERE request_id = $1 AND payload_cid = $2
		ORDER BY created_at DESC
	`
	if err := r.db.SelectContext(ctx, &submissions, query, requestID, payloadCID); err != nil {
		return nil, errors.Wrap(err, "failed to find submissions by payload")
	}
	return submissions, nil
}

func (r *SubmissionRepository) FindByStatus(ctx context.Context, status domain.SubmissionStatus) ([]*domain.Submission, error) {
	var submissions []*domain.Submission
	query := `SELECT * FROM submissions WHERE status = $1 ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &submissions, query, status); err != nil {
		return nil, errors.Wrap(err, "failed to find submissions by status")
	}
	return submissions, nil
}

func (r *SubmissionRepository) List(ctx context.Context, limit, offset int) ([]*domain.Submission, error) {
	submissions := []*domain.Submission{}
	query := `SELECT * FROM submissions ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &submissions, query, limit, offset); err != nil {
		return nil, errors.Wrap(err, "failed to list submissions")
	}
	return submissions, nil
}
