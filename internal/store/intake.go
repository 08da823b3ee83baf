package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/crisisops/floodwatch/internal/models"
)

// InsertRawMessage persists an inbound message and returns inserted=false when
// it is a duplicate. Duplicate detection is enforced by the uniqueness
// constraint on (source, source_id), which makes ingestion safe to replay.
func (p *PostgresStore) InsertRawMessage(ctx context.Context, m models.RawMessage) (bool, error) {
	if m.Source == "" || m.SourceID == "" || m.Body == "" {
		return false, errors.New("source/source_id/body required")
	}

	// RETURNING 1 only when inserted; duplicates return no rows.
	var one int
	err := p.pool.QueryRow(ctx, `
		INSERT INTO raw_messages (source, source_id, sender, body, received_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
		ON CONFLICT (source, source_id) DO NOTHING
		RETURNING 1
	`, m.Source, m.SourceID, m.Sender, m.Body, nullableTime(m.ReceivedAt)).Scan(&one)

	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, err
}

// UnclassifiedMessages returns the classifier backlog, oldest first.
func (p *PostgresStore) UnclassifiedMessages(ctx context.Context) ([]models.RawMessage, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, source, source_id, sender, body, received_at, status
		FROM raw_messages
		WHERE status = 'unclassified'
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.RawMessage
	for rows.Next() {
		var m models.RawMessage
		if err := rows.Scan(&m.ID, &m.Source, &m.SourceID, &m.Sender, &m.Body, &m.ReceivedAt, &m.Status); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkMessageProcessed advances a raw message out of the classifier backlog.
// The transition is one-way; a processed message is never reconsidered.
func (p *PostgresStore) MarkMessageProcessed(ctx context.Context, id int64) error {
	// Matching zero rows (already processed, unknown id) is fine.
	_, err := p.pool.Exec(ctx, `
		UPDATE raw_messages
		SET status = 'processed'
		WHERE id = $1 AND status = 'unclassified'
	`, id)
	return err
}

// InsertActionable records a message judged actionable. Keyed on the source
// message id so re-running the classifier never duplicates rows.
func (p *PostgresStore) InsertActionable(ctx context.Context, sourceMessageID int64, text string) (bool, error) {
	var one int
	err := p.pool.QueryRow(ctx, `
		INSERT INTO actionable_messages (source_message_id, original_text)
		VALUES ($1, $2)
		ON CONFLICT (source_message_id) DO NOTHING
		RETURNING 1
	`, sourceMessageID, text).Scan(&one)

	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, err
}
