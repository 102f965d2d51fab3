package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/neomorfeo/propgate/internal/domain"
)

// Compile-time check: ApprovalRepository implements domain.ApprovalRepository.
var _ domain.ApprovalRepository = (*ApprovalRepository)(nil)

// ApprovalRepository implements domain.ApprovalRepository using SQLite.
type ApprovalRepository struct {
	db *sql.DB
}

// NewApprovalRepository wraps a database connection, runs migrations, and
// returns a ready repository.
func NewApprovalRepository(db *sql.DB) (*ApprovalRepository, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &ApprovalRepository{db: db}, nil
}

func (r *ApprovalRepository) Create(ctx context.Context, a domain.PropertyApproval) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO property_approvals (property_id, status, reason, continuation_token, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.PropertyID, string(a.Status), string(a.Reason), a.ContinuationToken,
		a.CreatedAt.UTC().Format(timeFormat),
		a.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting approval: %w", err)
	}
	return nil
}

func (r *ApprovalRepository) Get(ctx context.Context, propertyID string) (domain.PropertyApproval, error) {
	return r.scanApproval(r.db.QueryRowContext(ctx,
		`SELECT property_id, status, reason, continuation_token, created_at, updated_at
		 FROM property_approvals WHERE property_id = ?`, propertyID,
	))
}

func (r *ApprovalRepository) GetByToken(ctx context.Context, token string) (domain.PropertyApproval, error) {
	if token == "" {
		return domain.PropertyApproval{}, domain.ErrApprovalNotFound
	}
	return r.scanApproval(r.db.QueryRowContext(ctx,
		`SELECT property_id, status, reason, continuation_token, created_at, updated_at
		 FROM property_approvals WHERE continuation_token = ?`, token,
	))
}

// Update persists a new state for an approval. The guard on the stored
// status enforces terminal immutability: a row that already reached
// APPROVED or DECLINED cannot be mutated again.
func (r *ApprovalRepository) Update(ctx context.Context, a domain.PropertyApproval) error {
	return r.update(ctx, r.db, a)
}

// UpdateTx is Update inside a caller-owned transaction. The outbox uses it
// to commit a terminal row together with the completion job it stages.
func (r *ApprovalRepository) UpdateTx(ctx context.Context, tx *sql.Tx, a domain.PropertyApproval) error {
	return r.update(ctx, tx, a)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *ApprovalRepository) update(ctx context.Context, q querier, a domain.PropertyApproval) error {
	result, err := q.ExecContext(ctx,
		`UPDATE property_approvals
		 SET status = ?, reason = ?, continuation_token = ?, updated_at = ?
		 WHERE property_id = ? AND status NOT IN (?, ?)`,
		string(a.Status), string(a.Reason), a.ContinuationToken,
		time.Now().UTC().Format(timeFormat),
		a.PropertyID, string(domain.StatusApproved), string(domain.StatusDeclined),
	)
	if err != nil {
		return fmt.Errorf("updating approval: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		if _, getErr := r.scanApproval(q.QueryRowContext(ctx,
			`SELECT property_id, status, reason, continuation_token, created_at, updated_at
			 FROM property_approvals WHERE property_id = ?`, a.PropertyID,
		)); getErr != nil {
			if errors.Is(getErr, domain.ErrApprovalNotFound) {
				return domain.ErrApprovalNotFound
			}
			return getErr
		}
		return domain.ErrApprovalTerminal
	}

	return nil
}

// scanApproval scans a single row into a domain.PropertyApproval.
func (r *ApprovalRepository) scanApproval(row *sql.Row) (domain.PropertyApproval, error) {
	var a domain.PropertyApproval
	var status, reason, createdAt, updatedAt string

	err := row.Scan(&a.PropertyID, &status, &reason, &a.ContinuationToken, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PropertyApproval{}, domain.ErrApprovalNotFound
		}
		return domain.PropertyApproval{}, fmt.Errorf("scanning approval: %w", err)
	}

	a.Status = domain.EvaluationStatus(status)
	a.Reason = domain.DeclineReason(reason)
	a.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	a.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)

	return a, nil
}
