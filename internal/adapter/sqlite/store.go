package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/neomorfeo/propgate/internal/domain"
)

// Compile-time checks: ContractStatusStore implements both store ports.
var (
	_ domain.ContractStatusStore = (*ContractStatusStore)(nil)
	_ domain.ChangeFeed          = (*ContractStatusStore)(nil)
)

// ContractStatusStore implements the replicated contract status table and
// its change feed. Every applied mutation appends a row to the ordered
// contract_changes log within the same transaction, so the feed never
// misses or invents a mutation.
type ContractStatusStore struct {
	db *sql.DB
}

// NewContractStatusStore wraps a database connection, runs migrations, and
// returns a ready store.
func NewContractStatusStore(db *sql.DB) (*ContractStatusStore, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &ContractStatusStore{db: db}, nil
}

// Upsert applies a contract status record with last-write-wins semantics on
// LastModifiedOn. Stale or duplicate records leave state unchanged and
// return applied=false. The pending continuation token is never touched by
// an upsert.
func (s *ContractStatusStore) Upsert(ctx context.Context, rec domain.ContractStatusRecord) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning upsert tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	result, err := tx.ExecContext(ctx,
		`INSERT INTO contract_status (property_id, contract_id, contract_status, last_modified_on)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(property_id) DO UPDATE SET
		     contract_id = excluded.contract_id,
		     contract_status = excluded.contract_status,
		     last_modified_on = excluded.last_modified_on
		 WHERE excluded.last_modified_on > contract_status.last_modified_on`,
		rec.PropertyID, rec.ContractID, string(rec.ContractStatus),
		rec.LastModifiedOn.UTC().Format(timeFormat),
	)
	if err != nil {
		return false, fmt.Errorf("upserting contract status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		// Stale delivery; nothing changed, nothing to announce.
		return false, tx.Commit()
	}

	if err := appendChange(ctx, tx, rec.PropertyID); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing upsert: %w", err)
	}
	return true, nil
}

func (s *ContractStatusStore) Get(ctx context.Context, propertyID string) (domain.ContractStatusRecord, error) {
	var rec domain.ContractStatusRecord
	var status, lastModified string
	var token sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT property_id, contract_id, contract_status, last_modified_on, pending_continuation_token
		 FROM contract_status WHERE property_id = ?`, propertyID,
	).Scan(&rec.PropertyID, &rec.ContractID, &status, &lastModified, &token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ContractStatusRecord{}, domain.ErrContractNotFound
		}
		return domain.ContractStatusRecord{}, fmt.Errorf("scanning contract status: %w", err)
	}

	rec.ContractStatus = domain.ContractStatus(status)
	rec.LastModifiedOn, _ = time.Parse(timeFormat, lastModified)
	if token.Valid {
		rec.PendingContinuationToken = token.String
	}

	return rec, nil
}

// AttachContinuation attaches a continuation token to the record. The guard
// on the token column makes the attach atomic: when a token is already
// attached and unconsumed the call returns false and changes nothing, so at
// most one wait can be outstanding per property.
func (s *ContractStatusStore) AttachContinuation(ctx context.Context, propertyID, token string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning attach tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.ExecContext(ctx,
		`UPDATE contract_status SET pending_continuation_token = ?
		 WHERE property_id = ? AND pending_continuation_token IS NULL`,
		token, propertyID,
	)
	if err != nil {
		return false, fmt.Errorf("attaching continuation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM contract_status WHERE property_id = ?`, propertyID,
		).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return false, domain.ErrContractNotFound
		}
		if err != nil {
			return false, fmt.Errorf("checking contract existence: %w", err)
		}
		// A token is already attached and unconsumed.
		return false, tx.Commit()
	}

	// The attach itself is an observable mutation. If the contract was
	// approved between the orchestrator's status read and this attach, the
	// change row written here is what wakes the instance back up.
	if err := appendChange(ctx, tx, propertyID); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing attach: %w", err)
	}
	return true, nil
}

// ConsumeContinuation atomically claims and clears the attached token.
// Exactly one caller observes any given token; later calls return "".
func (s *ContractStatusStore) ConsumeContinuation(ctx context.Context, propertyID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning consume tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var token sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT pending_continuation_token FROM contract_status WHERE property_id = ?`, propertyID,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrContractNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading continuation: %w", err)
	}
	if !token.Valid || token.String == "" {
		return "", tx.Commit()
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE contract_status SET pending_continuation_token = NULL
		 WHERE property_id = ? AND pending_continuation_token = ?`,
		propertyID, token.String,
	)
	if err != nil {
		return "", fmt.Errorf("clearing continuation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		// Claimed by a concurrent consumer.
		return "", tx.Commit()
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing consume: %w", err)
	}
	return token.String, nil
}

// appendChange snapshots the current record into the change log inside the
// caller's transaction.
func appendChange(ctx context.Context, tx *sql.Tx, propertyID string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO contract_changes (property_id, contract_status, continuation_token, changed_at)
		 SELECT property_id, contract_status, COALESCE(pending_continuation_token, ''), ?
		 FROM contract_status WHERE property_id = ?`,
		time.Now().UTC().Format(timeFormat), propertyID,
	)
	if err != nil {
		return fmt.Errorf("appending change record: %w", err)
	}
	return nil
}

// --- ChangeFeed ---

func (s *ContractStatusStore) ReadAfter(ctx context.Context, seq int64, limit int) ([]domain.Change, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, property_id, contract_status, continuation_token, changed_at
		 FROM contract_changes WHERE seq > ? ORDER BY seq LIMIT ?`,
		seq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("reading change feed: %w", err)
	}
	defer rows.Close()

	var changes []domain.Change
	for rows.Next() {
		var c domain.Change
		var status, changedAt string
		if err := rows.Scan(&c.Seq, &c.PropertyID, &status, &c.ContinuationToken, &changedAt); err != nil {
			return nil, fmt.Errorf("scanning change row: %w", err)
		}
		c.ContractStatus = domain.ContractStatus(status)
		c.ChangedAt, _ = time.Parse(timeFormat, changedAt)
		changes = append(changes, c)
	}

	return changes, rows.Err()
}

func (s *ContractStatusStore) Cursor(ctx context.Context, consumer string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT seq FROM change_cursors WHERE consumer = ?`, consumer,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading change cursor: %w", err)
	}
	return seq, nil
}

func (s *ContractStatusStore) SaveCursor(ctx context.Context, consumer string, seq int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO change_cursors (consumer, seq) VALUES (?, ?)
		 ON CONFLICT(consumer) DO UPDATE SET seq = excluded.seq`,
		consumer, seq,
	)
	if err != nil {
		return fmt.Errorf("saving change cursor: %w", err)
	}
	return nil
}
