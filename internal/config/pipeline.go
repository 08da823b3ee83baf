package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Pipeline holds the batch-pipeline tuning knobs. Defaults reproduce the
// production Vellore deployment; a YAML file overrides individual fields.
type Pipeline struct {
	// Clustering.
	Epsilon            float64 `yaml:"epsilon"`              // cosine-distance neighborhood radius
	MinClusterSize     int     `yaml:"min_cluster_size"`     // DBSCAN minPts
	MaxClusterAttempts int     `yaml:"max_cluster_attempts"` // 0 = retry noise points forever

	// Collaborator pacing. One outbound call at a time, with these
	// inter-call delays, keeps us inside the free-tier rate limits.
	ModelDelay   time.Duration `yaml:"model_delay"`
	GeocodeDelay time.Duration `yaml:"geocode_delay"`

	// Geocoding.
	Region          string `yaml:"region"`           // disambiguating region, e.g. "Vellore"
	RefineLocations bool   `yaml:"refine_locations"` // LLM cleanup of vague locations before lookup

	// Model selection.
	GenerativeModel string `yaml:"generative_model"`
	EmbeddingModel  string `yaml:"embedding_model"`
}

// DefaultPipeline returns the production defaults.
func DefaultPipeline() Pipeline {
	return Pipeline{
		Epsilon:         0.5,
		MinClusterSize:  2,
		ModelDelay:      time.Second,
		GeocodeDelay:    time.Second,
		Region:          "Vellore",
		RefineLocations: true,
	}
}

// LoadPipeline reads tuning overrides from a YAML file. An empty path yields
// the defaults unchanged.
func LoadPipeline(path string) (Pipeline, error) {
	p := DefaultPipeline()
	if path == "" {
		return p, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, err
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Pipeline{}, fmt.Errorf("parse %s: %w", path, err)
	}

	if p.Epsilon <= 0 {
		return Pipeline{}, fmt.Errorf("%s: epsilon must be > 0", path)
	}
	if p.MinClusterSize < 1 {
		return Pipeline{}, fmt.Errorf("%s: min_cluster_size must be >= 1", path)
	}
	return p, nil
}
