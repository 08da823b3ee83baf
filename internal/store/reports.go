package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/crisisops/floodwatch/internal/models"
)

// ActionableAwaitingExtraction returns actionable messages that have no
// incident report yet. The left anti-join is what makes the extractor
// restartable: rows already extracted are excluded automatically.
func (p *PostgresStore) ActionableAwaitingExtraction(ctx context.Context) ([]models.ActionableMessage, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT am.id, am.source_message_id, am.original_text, am.classified_at
		FROM actionable_messages am
		LEFT JOIN incident_reports ir ON am.source_message_id = ir.source_message_id
		WHERE ir.source_message_id IS NULL
		ORDER BY am.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.ActionableMessage
	for rows.Next() {
		var m models.ActionableMessage
		if err := rows.Scan(&m.ID, &m.SourceMessageID, &m.OriginalText, &m.ClassifiedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// InsertIncidentReport persists an extraction, keyed on the source message id.
func (p *PostgresStore) InsertIncidentReport(ctx context.Context, r models.IncidentReport) (bool, error) {
	var one int
	err := p.pool.QueryRow(ctx, `
		INSERT INTO incident_reports
			(source_message_id, extracted_location, extracted_issue, issue_time, original_text)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_message_id) DO NOTHING
		RETURNING 1
	`, r.SourceMessageID, r.Location, r.Issue, r.TimeRef, r.OriginalText).Scan(&one)

	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, err
}

// UnprocessedReports returns reports awaiting clustering, oldest first.
// maxAttempts > 0 drops reports that were labeled noise that many times,
// so permanently unclusterable singletons stop burning embedding calls.
func (p *PostgresStore) UnprocessedReports(ctx context.Context, maxAttempts int) ([]models.IncidentReport, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, source_message_id, extracted_location, extracted_issue,
		       issue_time, original_text, status, cluster_attempts, processed_at
		FROM incident_reports
		WHERE status = 'unprocessed'
		  AND ($1 <= 0 OR cluster_attempts < $1)
		ORDER BY id
	`, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []models.IncidentReport
	for rows.Next() {
		var r models.IncidentReport
		if err := rows.Scan(&r.ID, &r.SourceMessageID, &r.Location, &r.Issue,
			&r.TimeRef, &r.OriginalText, &r.Status, &r.ClusterAttempts, &r.ProcessedAt); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// BumpClusterAttempts records one more noise-labeled run for the given
// reports. Only still-unprocessed rows are touched.
func (p *PostgresStore) BumpClusterAttempts(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, `
		UPDATE incident_reports
		SET cluster_attempts = cluster_attempts + 1
		WHERE id = ANY($1) AND status = 'unprocessed'
	`, ids)
	return err
}
