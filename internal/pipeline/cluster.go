package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crisisops/floodwatch/internal/gemini"
	"github.com/crisisops/floodwatch/internal/metrics"
	"github.com/crisisops/floodwatch/internal/models"
)

// ClusterStore is the slice of the store the clustering stage needs.
type ClusterStore interface {
	AcquireClusterLock(ctx context.Context) (release func(), ok bool, err error)
	UnprocessedReports(ctx context.Context, maxAttempts int) ([]models.IncidentReport, error)
	CreateEvent(ctx context.Context, summary, location string, memberIDs []int64) (int64, error)
	BumpClusterAttempts(ctx context.Context, ids []int64) error
}

// Embedder is the embedding collaborator. A failure invalidates the whole
// batch: clustering over a partial embedding set would be meaningless.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// Summarizer merges one cluster's original texts into an event description.
type Summarizer interface {
	Summarize(ctx context.Context, texts []string) (gemini.Summary, error)
}

// ClustererConfig carries the clustering parameters.
type ClustererConfig struct {
	Epsilon     float64 // cosine-distance neighborhood radius
	MinPts      int     // minimum dense-neighborhood size
	MaxAttempts int     // noise-retry cap per report; 0 = unbounded
}

// Clusterer groups unprocessed incident reports into events by embedding
// similarity. The hardest stage: it owns embedding orchestration, DBSCAN,
// summarization and the transactional cluster-to-event persistence.
type Clusterer struct {
	store      ClusterStore
	embedder   Embedder
	summarizer Summarizer
	cfg        ClustererConfig
	log        *slog.Logger
}

// NewClusterer builds the clustering stage.
func NewClusterer(store ClusterStore, embedder Embedder, summarizer Summarizer, cfg ClustererConfig, log *slog.Logger) *Clusterer {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 0.5
	}
	if cfg.MinPts < 1 {
		cfg.MinPts = 2
	}
	if log == nil {
		log = slog.Default()
	}
	return &Clusterer{store: store, embedder: embedder, summarizer: summarizer, cfg: cfg, log: log}
}

// Run executes one clustering pass. Concurrent passes would double-cluster
// the same backlog, so the run is guarded by an advisory lock and silently
// yields when another run holds it.
//
// Noise points (no dense neighborhood) keep status "unprocessed" with their
// attempt counter bumped: a lone report only becomes an event once it
// repeats. Summarizer failures do not drop the cluster — the event is
// persisted with sentinel summary/location.
func (c *Clusterer) Run(ctx context.Context) (Stats, error) {
	release, ok, err := c.store.AcquireClusterLock(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("clusterer: acquire lock: %w", err)
	}
	if !ok {
		c.log.Info("clusterer: another run holds the lock, yielding")
		return Stats{}, nil
	}
	defer release()

	reports, err := c.store.UnprocessedReports(ctx, c.cfg.MaxAttempts)
	if err != nil {
		return Stats{}, fmt.Errorf("clusterer: select backlog: %w", err)
	}
	stats := Stats{Selected: len(reports)}
	if len(reports) == 0 {
		metrics.StageRuns.WithLabelValues("cluster").Inc()
		return stats, nil
	}

	texts := make([]string, len(reports))
	for i, r := range reports {
		texts[i] = r.Location + ": " + r.Issue
	}

	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return stats, fmt.Errorf("clusterer: embed batch: %w", err)
	}

	labels := clusterEmbeddings(vectors, c.cfg.Epsilon, c.cfg.MinPts)

	// Group member indices per cluster, preserving discovery order.
	var order []int
	clusters := make(map[int][]int)
	var noiseIDs []int64
	for i, label := range labels {
		if label == noiseLabel {
			noiseIDs = append(noiseIDs, reports[i].ID)
			continue
		}
		if _, seen := clusters[label]; !seen {
			order = append(order, label)
		}
		clusters[label] = append(clusters[label], i)
	}

	for _, label := range order {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		members := clusters[label]
		ids := make([]int64, len(members))
		originals := make([]string, len(members))
		for i, idx := range members {
			ids[i] = reports[idx].ID
			originals[i] = reports[idx].OriginalText
		}

		summary, err := c.summarizer.Summarize(ctx, originals)
		if err != nil {
			c.log.Warn("clusterer: summarization failed, persisting sentinels",
				"cluster", label, "members", len(ids), "err", err)
			summary = gemini.Summary{Summary: models.SummaryFailed, Location: models.LocationError}
		}

		eventID, err := c.store.CreateEvent(ctx, summary.Summary, summary.Location, ids)
		if err != nil {
			// Members stay unprocessed and are re-clustered next run.
			c.log.Error("clusterer: persist event", "cluster", label, "err", err)
			stats.Failed += len(ids)
			metrics.StageItems.WithLabelValues("cluster", metrics.ResultFailed).Add(float64(len(ids)))
			continue
		}

		c.log.Info("clusterer: event created",
			"event_id", eventID, "members", len(ids), "location", summary.Location)
		stats.Processed += len(ids)
		metrics.StageItems.WithLabelValues("cluster", metrics.ResultProcessed).Add(float64(len(ids)))
	}

	if len(noiseIDs) > 0 {
		if err := c.store.BumpClusterAttempts(ctx, noiseIDs); err != nil {
			c.log.Error("clusterer: record noise attempts", "err", err)
		}
		stats.Skipped += len(noiseIDs)
		metrics.StageItems.WithLabelValues("cluster", metrics.ResultSkipped).Add(float64(len(noiseIDs)))
	}

	metrics.StageRuns.WithLabelValues("cluster").Inc()
	c.log.Info("clusterer: run complete",
		"selected", stats.Selected, "grouped", stats.Processed,
		"noise", stats.Skipped, "failed", stats.Failed)
	return stats, nil
}
