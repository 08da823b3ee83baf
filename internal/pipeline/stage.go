// Package pipeline implements the incident consolidation stages: classify,
// extract, cluster, geocode. Each stage is a restartable batch job that
// selects its backlog from the store, calls a collaborator per unit of work,
// and persists results with insert-if-absent writes so a re-run after a
// crash only touches the remaining backlog.
package pipeline

// Stats summarizes one stage run.
type Stats struct {
	Selected  int // backlog size at the start of the run
	Processed int // items advanced
	Skipped   int // items intentionally left for a later run
	Failed    int // items hit by a collaborator or store failure
}
