package models

import (
	"errors"
	"time"
)

// Message source kinds.
const (
	SourceTwitter = "twitter"
	SourceSMS     = "sms"
)

// RawMessage statuses. A message is classified exactly once; "processed" is
// terminal regardless of the classification outcome.
const (
	MessageUnclassified = "unclassified"
	MessageProcessed    = "processed"
)

// IncidentReport statuses. A report flips to "grouped" in the same transaction
// that creates the event absorbing it.
const (
	ReportUnprocessed = "unprocessed"
	ReportGrouped     = "grouped"
)

// Dispatch workflow statuses for geocoded events.
const (
	DispatchReported   = "reported"
	DispatchDispatched = "dispatched"
	DispatchCompleted  = "completed"
)

// Sentinel field values written by the pipeline. "Not specified" means the
// source text itself named no location/time; "Extraction Failed" means the
// extractor call failed or returned an unusable field.
const (
	NotSpecified     = "Not specified"
	ExtractionFailed = "Extraction Failed"
	SummaryFailed    = "Could not generate summary."
	LocationError    = "Error"
)

var (
	// ErrNotFound is returned when a row addressed by id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCompleted is returned when a dispatch toggle targets an incident
	// already in the terminal "completed" state.
	ErrCompleted = errors.New("incident already completed")
)

// RawMessage is one inbound communication (tweet or SMS) awaiting
// classification. Uniqueness is enforced on (source, source_id) so repeated
// ingestion of the same message is a no-op.
type RawMessage struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	SourceID   string    `json:"source_id"`
	Sender     string    `json:"sender"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
	Status     string    `json:"status"`
}

// ActionableMessage is a raw message the classifier judged actionable.
// Immutable after creation.
type ActionableMessage struct {
	ID              int64     `json:"id"`
	SourceMessageID int64     `json:"source_message_id"`
	OriginalText    string    `json:"original_text"`
	ClassifiedAt    time.Time `json:"classified_at"`
}

// IncidentReport is the structured extraction from one actionable message.
type IncidentReport struct {
	ID              int64     `json:"id"`
	SourceMessageID int64     `json:"source_message_id"`
	Location        string    `json:"extracted_location"`
	Issue           string    `json:"extracted_issue"`
	TimeRef         string    `json:"issue_time"`
	OriginalText    string    `json:"original_text"`
	Status          string    `json:"status"`
	ClusterAttempts int       `json:"cluster_attempts"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// Event is a cluster of incident reports describing the same real-world
// occurrence, summarized into one human-readable record. Immutable.
type Event struct {
	ID              int64     `json:"id"`
	Summary         string    `json:"event_summary"`
	Location        string    `json:"event_location"`
	SourceReportIDs []int64   `json:"source_report_ids"`
	ReportCount     int       `json:"number_of_reports"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// GeocodedEvent is an event resolved to coordinates, carrying the dispatch
// workflow status shown on the map dashboard. The dashboard addresses rows
// by SourceEventID.
type GeocodedEvent struct {
	ID            int64     `json:"-"`
	SourceEventID int64     `json:"source_event_id"`
	Latitude      *float64  `json:"latitude"`
	Longitude     *float64  `json:"longitude"`
	Summary       string    `json:"event_summary"`
	Location      string    `json:"event_location"`
	ReportCount   int       `json:"number_of_reports"`
	GeocodedAt    time.Time `json:"geocoded_at"`
	Status        string    `json:"status"`
}

// PointOfInterest is static reference data (police stations, hospitals, fire
// stations) rendered alongside incidents. Location is [lat, lon].
type PointOfInterest struct {
	Name     string     `json:"name"`
	Category string     `json:"type"`
	Location [2]float64 `json:"location"`
}
