// Package simindex answers nearest-neighbor queries over stored workflow
// fingerprints, used to deduplicate semantically-equivalent requests.
package simindex

import (
	"context"
	"math"

	"github.com/jfarrand/ariadne/pkg/ariadne/store"
	"github.com/jfarrand/ariadne/pkg/ariadne/workflow"
)

// DefaultThreshold is the cosine-similarity bar for a cache hit. A request
// matches a prior completed workflow when distance <= 1 - DefaultThreshold.
const DefaultThreshold = 0.95

// FingerprintSource supplies the stored vectors to search over.
type FingerprintSource interface {
	Fingerprints(ctx context.Context, status workflow.Status) ([]store.Fingerprint, error)
}

// Match is the result of a nearest-neighbor query.
type Match struct {
	ID       string
	Distance float64
}

// Index performs read-only similarity queries against a fingerprint source.
// Queries are point-in-time snapshots; two near-identical requests created
// concurrently may both miss, which is accepted (best-effort dedup).
type Index struct {
	source FingerprintSource
}

// New creates an index over the given source.
func New(source FingerprintSource) *Index {
	return &Index{source: source}
}

// Nearest returns the closest stored fingerprint with the given status whose
// cosine distance from vec is at most maxDistance. The second return value
// is false when nothing qualifies.
func (ix *Index) Nearest(ctx context.Context, vec []float64, status workflow.Status, maxDistance float64) (Match, bool, error) {
	if len(vec) == 0 {
		return Match{}, false, nil
	}

	fps, err := ix.source.Fingerprints(ctx, status)
	if err != nil {
		return Match{}, false, err
	}

	best := Match{Distance: math.Inf(1)}
	for _, fp := range fps {
		d := CosineDistance(vec, fp.Vector)
		if d < best.Distance {
			best = Match{ID: fp.ID, Distance: d}
		}
	}
	if best.ID == "" || best.Distance > maxDistance {
		return Match{}, false, nil
	}
	return best, true, nil
}

// CosineDistance returns 1 minus the cosine similarity of a and b. Vectors
// of mismatched or zero length, and zero vectors, are treated as maximally
// distant.
func CosineDistance(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
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
