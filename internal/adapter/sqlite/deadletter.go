package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/neomorfeo/propgate/internal/domain"
)

// Compile-time check: DeadLetterStore implements domain.DeadLetters.
var _ domain.DeadLetters = (*DeadLetterStore)(nil)

// DeadLetterStore records messages that failed processing and await
// operator intervention.
type DeadLetterStore struct {
	db *sql.DB
}

// NewDeadLetterStore wraps a database connection, runs migrations, and
// returns a ready store.
func NewDeadLetterStore(db *sql.DB) (*DeadLetterStore, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &DeadLetterStore{db: db}, nil
}

func (s *DeadLetterStore) Add(ctx context.Context, letter domain.DeadLetter) error {
	receivedAt := letter.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (source, reason, payload, received_at) VALUES (?, ?, ?, ?)`,
		letter.Source, letter.Reason, letter.Payload, receivedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}
	return nil
}

func (s *DeadLetterStore) List(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, reason, payload, received_at
		 FROM dead_letters ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	defer rows.Close()

	var letters []domain.DeadLetter
	for rows.Next() {
		var l domain.DeadLetter
		var receivedAt string
		if err := rows.Scan(&l.ID, &l.Source, &l.Reason, &l.Payload, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		l.ReceivedAt, _ = time.Parse(timeFormat, receivedAt)
		letters = append(letters, l)
	}

	return letters, rows.Err()
}
