package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/crisisops/floodwatch/internal/gemini"
	"github.com/crisisops/floodwatch/internal/metrics"
	"github.com/crisisops/floodwatch/internal/models"
)

// ExtractorStore is the slice of the store the extractor stage needs.
type ExtractorStore interface {
	ActionableAwaitingExtraction(ctx context.Context) ([]models.ActionableMessage, error)
	InsertIncidentReport(ctx context.Context, r models.IncidentReport) (bool, error)
}

// DetailExtractor is the language-model collaborator for field extraction.
type DetailExtractor interface {
	Extract(ctx context.Context, text string) (gemini.Extraction, error)
}

// Extractor turns actionable messages into structured incident reports.
type Extractor struct {
	store ExtractorStore
	llm   DetailExtractor
	log   *slog.Logger
}

// NewExtractor builds the extractor stage.
func NewExtractor(store ExtractorStore, llm DetailExtractor, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{store: store, llm: llm, log: log}
}

// Run processes actionable messages that have no incident report yet. A
// transport failure skips the item (the anti-join re-selects it next run);
// a malformed response writes the "Extraction Failed" sentinel on every
// missing field and the report is persisted anyway — distinguishable from
// "Not specified", which means the source text named no location or time.
func (e *Extractor) Run(ctx context.Context) (Stats, error) {
	msgs, err := e.store.ActionableAwaitingExtraction(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("extractor: select backlog: %w", err)
	}

	stats := Stats{Selected: len(msgs)}
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		ext, err := e.llm.Extract(ctx, m.OriginalText)
		if err != nil {
			if errors.Is(err, gemini.ErrUnavailable) {
				e.log.Warn("extractor: collaborator unavailable, will retry",
					"message_id", m.SourceMessageID, "err", err)
				stats.Failed++
				metrics.StageItems.WithLabelValues("extract", metrics.ResultFailed).Inc()
				continue
			}
			e.log.Warn("extractor: unusable response, writing sentinels",
				"message_id", m.SourceMessageID, "err", err)
			ext = gemini.Extraction{}
		}

		report := models.IncidentReport{
			SourceMessageID: m.SourceMessageID,
			Location:        orSentinel(ext.Location),
			Issue:           orSentinel(ext.Issue),
			TimeRef:         orSentinel(ext.Time),
			OriginalText:    m.OriginalText,
		}
		if _, err := e.store.InsertIncidentReport(ctx, report); err != nil {
			e.log.Error("extractor: persist report", "message_id", m.SourceMessageID, "err", err)
			stats.Failed++
			metrics.StageItems.WithLabelValues("extract", metrics.ResultFailed).Inc()
			continue
		}

		stats.Processed++
		metrics.StageItems.WithLabelValues("extract", metrics.ResultProcessed).Inc()
	}

	metrics.StageRuns.WithLabelValues("extract").Inc()
	e.log.Info("extractor: run complete",
		"selected", stats.Selected, "processed", stats.Processed, "failed", stats.Failed)
	return stats, nil
}

// orSentinel fills fields the collaborator left empty.
func orSentinel(v string) string {
	if v == "" {
		return models.ExtractionFailed
	}
	return v
}
