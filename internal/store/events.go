package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/crisisops/floodwatch/internal/models"
)

// clusterLockKey identifies the advisory lock serializing clustering runs.
const clusterLockKey = int64(0x666c6f6f64) // "flood"

// CreateEvent inserts one summarized event and flips its member reports to
// "grouped" in a single transaction, so no report can ever belong to two
// events and no event exists without its members marked.
func (p *PostgresStore) CreateEvent(ctx context.Context, summary, location string, memberIDs []int64) (int64, error) {
	if len(memberIDs) == 0 {
		return 0, errors.New("event requires at least one member report")
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO events (event_summary, event_location, source_report_ids, number_of_reports)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, summary, location, memberIDs, len(memberIDs)).Scan(&id)
	if err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE incident_reports
		SET status = 'grouped'
		WHERE id = ANY($1) AND status = 'unprocessed'
	`, memberIDs)
	if err != nil {
		return 0, err
	}
	if int(tag.RowsAffected()) != len(memberIDs) {
		// A member was already grouped or missing; abort rather than create
		// an event with stolen or phantom members.
		return 0, fmt.Errorf("expected to group %d reports, matched %d", len(memberIDs), tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

// EventsAwaitingGeocode returns events with no geocoded row yet, skipping
// events whose location carries the summarizer failure sentinel (nothing
// useful to look up).
func (p *PostgresStore) EventsAwaitingGeocode(ctx context.Context) ([]models.Event, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT e.id, e.event_summary, e.event_location, e.source_report_ids,
		       e.number_of_reports, e.generated_at
		FROM events e
		LEFT JOIN geocoded_events ge ON e.id = ge.source_event_id
		WHERE ge.source_event_id IS NULL
		  AND e.event_location <> ''
		  AND e.event_location <> $1
		ORDER BY e.id
	`, models.LocationError)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.Summary, &e.Location, &e.SourceReportIDs,
			&e.ReportCount, &e.GeneratedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// InsertGeocodedEvent persists a resolved event with default status
// "reported", keyed on the source event id.
func (p *PostgresStore) InsertGeocodedEvent(ctx context.Context, ge models.GeocodedEvent) (bool, error) {
	var one int
	err := p.pool.QueryRow(ctx, `
		INSERT INTO geocoded_events
			(source_event_id, latitude, longitude, event_summary, event_location, number_of_reports)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_event_id) DO NOTHING
		RETURNING 1
	`, ge.SourceEventID, ge.Latitude, ge.Longitude, ge.Summary, ge.Location, ge.ReportCount).Scan(&one)

	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, err
}

// ActiveIncidents returns the dashboard's working set: geocoded events with
// coordinates whose dispatch status is not yet completed.
func (p *PostgresStore) ActiveIncidents(ctx context.Context) ([]models.GeocodedEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, source_event_id, latitude, longitude, event_summary,
		       event_location, number_of_reports, geocoded_at, status
		FROM geocoded_events
		WHERE latitude IS NOT NULL
		  AND longitude IS NOT NULL
		  AND status <> 'completed'
		ORDER BY source_event_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []models.GeocodedEvent
	for rows.Next() {
		var ge models.GeocodedEvent
		if err := rows.Scan(&ge.ID, &ge.SourceEventID, &ge.Latitude, &ge.Longitude,
			&ge.Summary, &ge.Location, &ge.ReportCount, &ge.GeocodedAt, &ge.Status); err != nil {
			return nil, err
		}
		incidents = append(incidents, ge)
	}
	return incidents, rows.Err()
}

// ToggleDispatch flips an incident between "reported" and "dispatched" and
// returns the new status. Completed incidents are terminal: the toggle is
// rejected with ErrCompleted rather than silently reviving the row.
func (p *PostgresStore) ToggleDispatch(ctx context.Context, sourceEventID int64) (string, error) {
	var status string
	err := p.pool.QueryRow(ctx, `
		UPDATE geocoded_events
		SET status = CASE status WHEN 'dispatched' THEN 'reported' ELSE 'dispatched' END
		WHERE source_event_id = $1 AND status IN ('reported', 'dispatched')
		RETURNING status
	`, sourceEventID).Scan(&status)

	if err == nil {
		return status, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	// Nothing matched: distinguish a missing row from a completed one.
	err = p.pool.QueryRow(ctx,
		`SELECT status FROM geocoded_events WHERE source_event_id = $1`,
		sourceEventID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return "", models.ErrCompleted
}

// CompleteIncident moves an incident to the terminal "completed" state.
// Completing an already-completed incident is a no-op success.
func (p *PostgresStore) CompleteIncident(ctx context.Context, sourceEventID int64) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE geocoded_events
		SET status = 'completed'
		WHERE source_event_id = $1
	`, sourceEventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// AcquireClusterLock takes the session advisory lock serializing clustering
// runs. When ok the caller must invoke release; when another run holds the
// lock it returns ok=false with no error.
func (p *PostgresStore) AcquireClusterLock(ctx context.Context) (release func(), ok bool, err error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}

	var got bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, clusterLockKey).Scan(&got); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !got {
		conn.Release()
		return nil, false, nil
	}

	// The lock is session-scoped, so the pinned connection must stay checked
	// out until release.
	release = func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, clusterLockKey)
		conn.Release()
	}
	return release, true, nil
}
