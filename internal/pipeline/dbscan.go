package pipeline

import "math"

// noiseLabel marks points in no dense neighborhood. They stay unprocessed and
// are retried on a later run, once the incident has (maybe) repeated.
const noiseLabel = -1

// clusterEmbeddings runs DBSCAN over the vectors using cosine distance.
// Returns one cluster label per input vector, noiseLabel for unclustered
// points. Labels are assigned in input index order and border-point ties go
// to the first cluster that reaches them, so the output is a pure function
// of (vectors, eps, minPts).
func clusterEmbeddings(vectors [][]float64, eps float64, minPts int) []int {
	n := len(vectors)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = noiseLabel
	}

	visited := make([]bool, n)
	cluster := 0

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := regionQuery(vectors, i, eps)
		if len(neighbors) < minPts {
			continue // noise for now; may later join a cluster as a border point
		}

		labels[i] = cluster
		// Seed-set expansion; appending to neighbors while iterating is the
		// textbook formulation.
		for k := 0; k < len(neighbors); k++ {
			j := neighbors[k]
			if !visited[j] {
				visited[j] = true
				next := regionQuery(vectors, j, eps)
				if len(next) >= minPts {
					neighbors = append(neighbors, next...)
				}
			}
			if labels[j] == noiseLabel {
				labels[j] = cluster
			}
		}
		cluster++
	}

	return labels
}

// regionQuery returns the indices within eps cosine distance of point i,
// including i itself.
func regionQuery(vectors [][]float64, i int, eps float64) []int {
	var neighbors []int
	for j := range vectors {
		if cosineDistance(vectors[i], vectors[j]) <= eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}

// cosineDistance is 1 - cosine similarity. Zero or mismatched vectors are
// treated as maximally distant.
func cosineDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
