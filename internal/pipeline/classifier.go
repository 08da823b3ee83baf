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

// ClassifierStore is the slice of the store the classifier stage needs.
type ClassifierStore interface {
	UnclassifiedMessages(ctx context.Context) ([]models.RawMessage, error)
	InsertActionable(ctx context.Context, sourceMessageID int64, text string) (bool, error)
	MarkMessageProcessed(ctx context.Context, id int64) error
}

// LabelClassifier is the language-model collaborator for classification.
type LabelClassifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

// Classifier labels raw messages actionable or noise and advances them out
// of the intake backlog.
type Classifier struct {
	store ClassifierStore
	llm   LabelClassifier
	log   *slog.Logger
}

// NewClassifier builds the classifier stage.
func NewClassifier(store ClassifierStore, llm LabelClassifier, log *slog.Logger) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{store: store, llm: llm, log: log}
}

// Run processes the unclassified backlog. A transport failure leaves the
// message unclassified for the next run; a malformed response is recorded as
// the Error label and the message is still advanced, so a systematically
// confusing input cannot wedge the stage.
func (c *Classifier) Run(ctx context.Context) (Stats, error) {
	msgs, err := c.store.UnclassifiedMessages(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("classifier: select backlog: %w", err)
	}

	stats := Stats{Selected: len(msgs)}
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		label, err := c.llm.Classify(ctx, m.Body)
		if err != nil {
			if errors.Is(err, gemini.ErrUnavailable) {
				c.log.Warn("classifier: collaborator unavailable, will retry",
					"message_id", m.ID, "err", err)
				stats.Failed++
				metrics.StageItems.WithLabelValues("classify", metrics.ResultFailed).Inc()
				continue
			}
			// Malformed output counts as a permanent soft failure.
			c.log.Warn("classifier: unusable response, marking as error",
				"message_id", m.ID, "err", err)
			label = gemini.LabelError
		}

		if label == gemini.LabelActionable {
			if _, err := c.store.InsertActionable(ctx, m.ID, m.Body); err != nil {
				c.log.Error("classifier: persist actionable", "message_id", m.ID, "err", err)
				stats.Failed++
				metrics.StageItems.WithLabelValues("classify", metrics.ResultFailed).Inc()
				continue
			}
		}

		if err := c.store.MarkMessageProcessed(ctx, m.ID); err != nil {
			c.log.Error("classifier: advance status", "message_id", m.ID, "err", err)
			stats.Failed++
			metrics.StageItems.WithLabelValues("classify", metrics.ResultFailed).Inc()
			continue
		}

		c.log.Debug("classifier: message labeled", "message_id", m.ID, "label", label)
		stats.Processed++
		metrics.StageItems.WithLabelValues("classify", metrics.ResultProcessed).Inc()
	}

	metrics.StageRuns.WithLabelValues("classify").Inc()
	c.log.Info("classifier: run complete",
		"selected", stats.Selected, "processed", stats.Processed, "failed", stats.Failed)
	return stats, nil
}
