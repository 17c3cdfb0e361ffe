package cluster

import (
	"context"
	"fmt"
	"math"

	"github.com/yumyai/metamorph/pkg/model"
)

// KmerSimilarity scores two amino-acid strings by Jaccard overlap of their
// k-mer sets. This is the built-in sequence method; heavier external
// clustering tools plug in through the same Similarity interface.
type KmerSimilarity struct {
	K int
}

func (s *KmerSimilarity) Identity(_ context.Context, a, b *model.Sequence) (float64, error) {
	k := s.K
	if k <= 0 {
		k = 3
	}

	ka := kmerSet(a.Sequence, k)
	kb := kmerSet(b.Sequence, k)
	if len(ka) == 0 || len(kb) == 0 {
		return 0, fmt.Errorf("sequence shorter than k=%d", k)
	}

	shared := 0
	for mer := range ka {
		if _, ok := kb[mer]; ok {
			shared++
		}
	}
	union := len(ka) + len(kb) - shared
	return float64(shared) / float64(union), nil
}

func kmerSet(seq string, k int) map[string]struct{} {
	set := make(map[string]struct{})
	for i := 0; i+k <= len(seq); i++ {
		set[seq[i:i+k]] = struct{}{}
	}
	return set
}

// EmbeddingSimilarity scores sequences by cosine similarity of their stored
// embedding vectors, keyed by sequence id. Used for sub-clustering, where
// the partition is specific to one embedding type.
type EmbeddingSimilarity struct {
	Vectors map[int64][]float64
}

func (s *EmbeddingSimilarity) Identity(_ context.Context, a, b *model.Sequence) (float64, error) {
	va, ok := s.Vectors[a.ID]
	if !ok {
		return 0, fmt.Errorf("no embedding for sequence %d", a.ID)
	}
	vb, ok := s.Vectors[b.ID]
	if !ok {
		return 0, fmt.Errorf("no embedding for sequence %d", b.ID)
	}
	if len(va) != len(vb) {
		return 0, fmt.Errorf("embedding dimensions differ: %d vs %d", len(va), len(vb))
	}

	var dot, na, nb float64
	for i := range va {
		dot += va[i] * vb[i]
		na += va[i] * va[i]
		nb += vb[i] * vb[i]
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}

	// Clamp: cosine can drift a hair past 1 on float rounding.
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, cos)), nil
}
