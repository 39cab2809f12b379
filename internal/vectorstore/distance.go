package vectorstore

import (
	"fmt"
	"strings"
)

// Distance selects how similarity is reported as a distance. Both backends
// store unit-normalised vectors and score by cosine similarity, so every
// metric is derived from that score.
type Distance string

const (
	// DistanceL2 is the squared euclidean distance, 2 - 2cos for unit vectors.
	DistanceL2 Distance = "l2"

	// DistanceCosine is 1 - cos.
	DistanceCosine Distance = "cosine"

	// DistanceIP is 1 - dot, equal to 1 - cos for unit vectors.
	DistanceIP Distance = "ip"
)

// ParseDistance parses a configured metric name. Empty means l2.
func ParseDistance(s string) (Distance, error) {
	switch Distance(strings.ToLower(strings.TrimSpace(s))) {
	case "", DistanceL2:
		return DistanceL2, nil
	case DistanceCosine:
		return DistanceCosine, nil
	case DistanceIP:
		return DistanceIP, nil
	default:
		return "", fmt.Errorf("%w: unknown distance %q (supported: l2, cosine, ip)", ErrInvalidConfig, s)
	}
}

// FromSimilarity converts a cosine similarity in [-1, 1] to a distance.
// Smaller is closer for every metric.
func (d Distance) FromSimilarity(sim float32) float64 {
	s := float64(sim)
	switch d {
	case DistanceCosine, DistanceIP:
		return 1 - s
	default:
		dist := 2 - 2*s
		if dist < 0 {
			// Rounding on near-identical vectors.
			dist = 0
		}
		return dist
	}
}
