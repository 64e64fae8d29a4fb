// Package recipients streams recipient batches out of PostgreSQL in stable
// list order. Normal reads consume rows exactly once; warmup reads wrap the
// list cyclically with a persisted cursor so restarts resume mid-cycle.
package recipients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/campaign-engine/internal/domain"
)

// ErrExhausted is returned when a non-warmup read finds no unconsumed
// recipients.
var ErrExhausted = errors.New("recipient list exhausted")

// Source reads recipients for one campaign at a time.
type Source struct{ db *sql.DB }

// NewSource creates a Postgres-backed recipient source.
func NewSource(db *sql.DB) *Source { return &Source{db: db} }

// Import loads a recipient list for a campaign, assigning stable positions
// in input order. Duplicate emails within the campaign are skipped.
func (s *Source) Import(ctx context.Context, campaignID string, emails []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position) + 1, 0) FROM campaign_recipients WHERE campaign_id = $1
	`, campaignID).Scan(&next); err != nil {
		return 0, fmt.Errorf("next position: %w", err)
	}

	inserted := 0
	for _, email := range emails {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO campaign_recipients (campaign_id, email, position)
			VALUES ($1, $2, $3)
			ON CONFLICT (campaign_id, email) DO NOTHING
		`, campaignID, email, next)
		if err != nil {
			return 0, fmt.Errorf("insert recipient: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			next++
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// SeedCursor writes the campaign's initial warmup cursor position. A cursor
// row that already exists wins; re-seeding never rewinds a cycling campaign.
func (s *Source) SeedCursor(ctx context.Context, campaignID string, position int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_cursors (campaign_id, next_position)
		VALUES ($1, $2)
		ON CONFLICT (campaign_id) DO NOTHING
	`, campaignID, position)
	if err != nil {
		return fmt.Errorf("seed cursor: %w", err)
	}
	return nil
}

// Available returns how many unconsumed recipients remain.
func (s *Source) Available(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1 AND NOT consumed
	`, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count available: %w", err)
	}
	return n, nil
}

// NextBatch returns up to n recipients. With warmup disabled each recipient
// is returned at most once across the campaign's lifetime; with warmup
// enabled reads wrap the full list modulo its length.
func (s *Source) NextBatch(ctx context.Context, campaignID string, n int, warmup bool) ([]domain.Recipient, error) {
	if n <= 0 {
		return nil, nil
	}
	if warmup {
		return s.nextCyclic(ctx, campaignID, n)
	}
	return s.nextConsuming(ctx, campaignID, n)
}

func (s *Source) nextConsuming(ctx context.Context, campaignID string, n int) ([]domain.Recipient, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// SKIP LOCKED lets concurrent workers draw disjoint batches.
	rows, err := tx.QueryContext(ctx, `
		SELECT id, email FROM campaign_recipients
		WHERE campaign_id = $1 AND NOT consumed
		ORDER BY position
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, campaignID, n)
	if err != nil {
		return nil, fmt.Errorf("select batch: %w", err)
	}

	var batch []domain.Recipient
	var ids []int64
	for rows.Next() {
		var id int64
		var email string
		if err := rows.Scan(&id, &email); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		batch = append(batch, domain.Recipient{ID: fmt.Sprintf("%d", id), Email: email})
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batch rows: %w", err)
	}
	if len(batch) == 0 {
		return nil, ErrExhausted
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE campaign_recipients SET consumed = TRUE WHERE id = ANY($1)
	`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("mark consumed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return batch, nil
}

func (s *Source) nextCyclic(ctx context.Context, campaignID string, n int) ([]domain.Recipient, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var listLen int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1
	`, campaignID).Scan(&listLen); err != nil {
		return nil, fmt.Errorf("list length: %w", err)
	}
	if listLen == 0 {
		return nil, ErrExhausted
	}

	var cursor int64
	err = tx.QueryRowContext(ctx, `
		SELECT next_position FROM campaign_cursors WHERE campaign_id = $1 FOR UPDATE
	`, campaignID).Scan(&cursor)
	if err == sql.ErrNoRows {
		cursor = 0
	} else if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}

	positions := cyclicPositions(cursor, n, listLen)

	rows, err := tx.QueryContext(ctx, `
		SELECT id, email, position FROM campaign_recipients
		WHERE campaign_id = $1 AND position = ANY($2)
	`, campaignID, pq.Array(positions))
	if err != nil {
		return nil, fmt.Errorf("select cyclic batch: %w", err)
	}

	byPos := make(map[int64]domain.Recipient, len(positions))
	for rows.Next() {
		var id, pos int64
		var email string
		if err := rows.Scan(&id, &email, &pos); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		byPos[pos] = domain.Recipient{ID: fmt.Sprintf("%d", id), Email: email}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cyclic rows: %w", err)
	}

	// Re-emit in cursor order, repeating recipients when n exceeds the
	// list length.
	batch := make([]domain.Recipient, 0, n)
	for _, pos := range positions {
		if r, ok := byPos[pos]; ok {
			batch = append(batch, r)
		}
	}

	newCursor := (cursor + int64(n)) % listLen
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO campaign_cursors (campaign_id, next_position)
		VALUES ($1, $2)
		ON CONFLICT (campaign_id) DO UPDATE SET next_position = EXCLUDED.next_position
	`, campaignID, newCursor); err != nil {
		return nil, fmt.Errorf("advance cursor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return batch, nil
}

// cyclicPositions lists the n list positions starting at cursor, wrapping
// modulo listLen.
func cyclicPositions(cursor int64, n int, listLen int64) []int64 {
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		out[i] = (cursor + int64(i)) % listLen
	}
	return out
}
