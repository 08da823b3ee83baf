package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/crisisops/floodwatch/internal/geocode"
	"github.com/crisisops/floodwatch/internal/metrics"
	"github.com/crisisops/floodwatch/internal/models"
)

// GeocoderStore is the slice of the store the geocoding stage needs.
type GeocoderStore interface {
	EventsAwaitingGeocode(ctx context.Context) ([]models.Event, error)
	InsertGeocodedEvent(ctx context.Context, ge models.GeocodedEvent) (bool, error)
}

// PlaceGeocoder is the geocoding collaborator.
type PlaceGeocoder interface {
	Lookup(ctx context.Context, place string) (geocode.Result, error)
}

// LocationRefiner rewrites vague location text into a searchable address.
// Optional; a nil refiner skips the cleanup step.
type LocationRefiner interface {
	RefineLocation(ctx context.Context, region, vague string) (string, error)
}

// GeocoderConfig carries the geocoding-stage settings.
type GeocoderConfig struct {
	Region string // disambiguating suffix region, e.g. "Vellore"
}

// Geocoder resolves event locations to coordinates and creates the
// dashboard-facing geocoded rows with default status "reported".
type Geocoder struct {
	store   GeocoderStore
	geo     PlaceGeocoder
	refiner LocationRefiner
	cfg     GeocoderConfig
	log     *slog.Logger
}

// NewGeocoder builds the geocoding stage.
func NewGeocoder(store GeocoderStore, geo PlaceGeocoder, refiner LocationRefiner, cfg GeocoderConfig, log *slog.Logger) *Geocoder {
	if log == nil {
		log = slog.Default()
	}
	return &Geocoder{store: store, geo: geo, refiner: refiner, cfg: cfg, log: log}
}

// Run geocodes events that have no geocoded row yet. A not-found or request
// error skips the item (the anti-join re-selects it next run). Refinement is
// best effort: on failure the raw location plus region suffix is looked up
// instead.
func (g *Geocoder) Run(ctx context.Context) (Stats, error) {
	events, err := g.store.EventsAwaitingGeocode(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("geocoder: select backlog: %w", err)
	}

	stats := Stats{Selected: len(events)}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		query := ev.Location
		if g.cfg.Region != "" {
			query = ev.Location + ", " + g.cfg.Region
		}
		if g.refiner != nil {
			refined, err := g.refiner.RefineLocation(ctx, g.cfg.Region, ev.Location)
			if err != nil {
				g.log.Warn("geocoder: refinement failed, using raw location",
					"event_id", ev.ID, "err", err)
			} else {
				query = refined
			}
		}

		res, err := g.geo.Lookup(ctx, query)
		if err != nil {
			if errors.Is(err, geocode.ErrNotFound) {
				g.log.Warn("geocoder: no match", "event_id", ev.ID, "query", query)
				stats.Skipped++
				metrics.StageItems.WithLabelValues("geocode", metrics.ResultSkipped).Inc()
				continue
			}
			g.log.Warn("geocoder: lookup failed, will retry", "event_id", ev.ID, "err", err)
			stats.Failed++
			metrics.StageItems.WithLabelValues("geocode", metrics.ResultFailed).Inc()
			continue
		}

		ge := models.GeocodedEvent{
			SourceEventID: ev.ID,
			Latitude:      &res.Lat,
			Longitude:     &res.Lon,
			Summary:       ev.Summary,
			Location:      ev.Location,
			ReportCount:   ev.ReportCount,
			Status:        models.DispatchReported,
		}
		if _, err := g.store.InsertGeocodedEvent(ctx, ge); err != nil {
			g.log.Error("geocoder: persist", "event_id", ev.ID, "err", err)
			stats.Failed++
			metrics.StageItems.WithLabelValues("geocode", metrics.ResultFailed).Inc()
			continue
		}

		g.log.Info("geocoder: event resolved",
			"event_id", ev.ID, "lat", res.Lat, "lon", res.Lon, "match", res.Formatted)
		stats.Processed++
		metrics.StageItems.WithLabelValues("geocode", metrics.ResultProcessed).Inc()
	}

	metrics.StageRuns.WithLabelValues("geocode").Inc()
	g.log.Info("geocoder: run complete",
		"selected", stats.Selected, "processed", stats.Processed,
		"skipped", stats.Skipped, "failed", stats.Failed)
	return stats, nil
}
