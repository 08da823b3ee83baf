// Command pipeline runs the incident consolidation stages as a periodic
// batch job: classify → extract → cluster → geocode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/crisisops/floodwatch/internal/config"
	"github.com/crisisops/floodwatch/internal/gemini"
	"github.com/crisisops/floodwatch/internal/geocode"
	"github.com/crisisops/floodwatch/internal/logging"
	"github.com/crisisops/floodwatch/internal/pipeline"
	"github.com/crisisops/floodwatch/internal/store"
)

// stage is anything with the batch Run contract.
type stage interface {
	Run(ctx context.Context) (pipeline.Stats, error)
}

type namedStage struct {
	name string
	s    stage
}

func main() {
	var (
		stageName  = flag.String("stage", "all", "stage to run: classify|extract|cluster|geocode|all")
		configPath = flag.String("config", "", "optional pipeline tuning YAML")
		every      = flag.Duration("every", 0, "rerun interval; 0 runs once and exits")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logging.Init(logging.ParseLevel(cfg.LogLevel))

	pc, err := config.LoadPipeline(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	db, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := db.EnsureSchema(); err != nil {
		log.Fatal(err)
	}

	stages, err := buildStages(*stageName, cfg, pc, db)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runAll := func() {
		for _, ns := range stages {
			if ctx.Err() != nil {
				return
			}
			if _, err := ns.s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("stage run aborted", "stage", ns.name, "err", err)
			}
		}
	}

	runAll()
	if *every <= 0 {
		return
	}

	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	slog.Info("pipeline looping", "every", *every)

	for {
		select {
		case <-ctx.Done():
			slog.Info("pipeline stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			runAll()
		}
	}
}

// buildStages assembles the requested stages in dependency order.
func buildStages(name string, cfg config.Config, pc config.Pipeline, db *store.PostgresStore) ([]namedStage, error) {
	needsModel := name == "all" || name == "classify" || name == "extract" || name == "cluster"
	if needsModel && cfg.GoogleAPIKey == "" {
		return nil, errors.New("GOOGLE_API_KEY required for the requested stages")
	}
	needsGeo := name == "all" || name == "geocode"
	if needsGeo && cfg.OpenCageAPIKey == "" {
		return nil, errors.New("OPENCAGE_API_KEY required for the geocode stage")
	}

	llm := gemini.NewClient(gemini.Config{
		APIKey:          cfg.GoogleAPIKey,
		GenerativeModel: pc.GenerativeModel,
		EmbeddingModel:  pc.EmbeddingModel,
	}, rate.NewLimiter(rate.Every(pc.ModelDelay), 1))

	geo := geocode.NewClient(cfg.OpenCageAPIKey, "", 0,
		rate.NewLimiter(rate.Every(pc.GeocodeDelay), 1))

	var refiner pipeline.LocationRefiner
	if pc.RefineLocations {
		refiner = llm
	}

	all := []namedStage{
		{"classify", pipeline.NewClassifier(db, llm, nil)},
		{"extract", pipeline.NewExtractor(db, llm, nil)},
		{"cluster", pipeline.NewClusterer(db, llm, llm, pipeline.ClustererConfig{
			Epsilon:     pc.Epsilon,
			MinPts:      pc.MinClusterSize,
			MaxAttempts: pc.MaxClusterAttempts,
		}, nil)},
		{"geocode", pipeline.NewGeocoder(db, geo, refiner,
			pipeline.GeocoderConfig{Region: pc.Region}, nil)},
	}

	if name == "all" {
		return all, nil
	}
	for _, ns := range all {
		if ns.name == name {
			return []namedStage{ns}, nil
		}
	}
	return nil, fmt.Errorf("unknown stage %q", name)
}
