// Package cluster partitions sequences into clusters and, per embedding
// type, into subclusters. The similarity computation itself is a
// collaborator; the engine only owns assignment and representative
// election.
package cluster

import (
	"context"
	"fmt"
	"sort"

	"github.com/yumyai/metamorph/pkg/model"
)

// Similarity scores two sequences in [0, 1]. Implementations may shell out
// to an external tool or read precomputed vectors; any failure aborts the
// whole run.
type Similarity interface {
	Identity(ctx context.Context, a, b *model.Sequence) (float64, error)
}

// Engine is the clustering method: greedy centroid assignment over a
// similarity threshold, then representative election per cluster.
// Deterministic for identical inputs and configuration.
type Engine struct {
	sim       Similarity
	threshold float64
}

func NewEngine(sim Similarity, threshold float64) *Engine {
	return &Engine{sim: sim, threshold: threshold}
}

// Partition groups sequences into cluster drafts. Sequences are visited in
// id order and join the best-matching existing cluster whose seed meets the
// threshold, otherwise they found a new one. Exactly one entry per cluster
// is the representative.
func (e *Engine) Partition(ctx context.Context, seqs []model.Sequence) ([]model.ClusterDraft, error) {
	if len(seqs) == 0 {
		return nil, &model.InputError{Msg: "no sequences to cluster"}
	}

	ordered := make([]model.Sequence, len(seqs))
	copy(ordered, seqs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	memo := newIdentityMemo(e.sim)

	// Greedy assignment against each cluster's seed (its first member).
	var members [][]int
	for i := range ordered {
		best, bestScore := -1, 0.0
		for c := range members {
			seed := &ordered[members[c][0]]
			score, err := memo.identity(ctx, seed, &ordered[i])
			if err != nil {
				return nil, err
			}
			if score >= e.threshold && score > bestScore {
				best, bestScore = c, score
			}
		}
		if best < 0 {
			members = append(members, []int{i})
			continue
		}
		members[best] = append(members[best], i)
	}

	drafts := make([]model.ClusterDraft, 0, len(members))
	for _, idx := range members {
		draft, err := e.buildDraft(ctx, ordered, idx, memo)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, draft)
	}
	return drafts, nil
}

// Subcluster partitions the members of one cluster under one embedding
// type, with the same representative contract as Partition.
func (e *Engine) Subcluster(ctx context.Context, clusterID, embeddingTypeID int64, seqs []model.Sequence) ([]model.SubclusterDraft, error) {
	drafts, err := e.Partition(ctx, seqs)
	if err != nil {
		return nil, err
	}

	out := make([]model.SubclusterDraft, 0, len(drafts))
	for i, d := range drafts {
		out = append(out, model.SubclusterDraft{
			ClusterID:       clusterID,
			EmbeddingTypeID: embeddingTypeID,
			Description:     fmt.Sprintf("cluster %d partition %d", clusterID, i+1),
			Entries:         d.Entries,
		})
	}
	return out, nil
}

// buildDraft elects the representative (highest mean identity to the other
// members, ties to the lowest sequence id) and scores every entry against
// it.
func (e *Engine) buildDraft(ctx context.Context, seqs []model.Sequence, idx []int, memo *identityMemo) (model.ClusterDraft, error) {
	rep := idx[0]
	if len(idx) > 1 {
		bestMean := -1.0
		for _, i := range idx {
			sum := 0.0
			for _, j := range idx {
				if i == j {
					continue
				}
				score, err := memo.identity(ctx, &seqs[i], &seqs[j])
				if err != nil {
					return model.ClusterDraft{}, err
				}
				sum += score
			}
			mean := sum / float64(len(idx)-1)
			// idx is in ascending sequence-id order, so a strict > keeps
			// the lowest id on ties.
			if mean > bestMean {
				bestMean, rep = mean, i
			}
		}
	}

	var draft model.ClusterDraft
	for _, i := range idx {
		identity := 1.0
		if i != rep {
			score, err := memo.identity(ctx, &seqs[rep], &seqs[i])
			if err != nil {
				return model.ClusterDraft{}, err
			}
			identity = score
		}
		draft.Entries = append(draft.Entries, model.ClusterEntryDraft{
			SequenceID:       seqs[i].ID,
			IsRepresentative: i == rep,
			SequenceLength:   len(seqs[i].Sequence),
			Identity:         identity,
		})
	}
	return draft, nil
}

// identityMemo caches pairwise scores so the collaborator is asked at most
// once per pair.
type identityMemo struct {
	sim   Similarity
	cache map[[2]int64]float64
}

func newIdentityMemo(sim Similarity) *identityMemo {
	return &identityMemo{sim: sim, cache: make(map[[2]int64]float64)}
}

func (m *identityMemo) identity(ctx context.Context, a, b *model.Sequence) (float64, error) {
	key := [2]int64{a.ID, b.ID}
	if key[0] > key[1] {
		key[0], key[1] = key[1], key[0]
	}
	if score, ok := m.cache[key]; ok {
		return score, nil
	}

	score, err := m.sim.Identity(ctx, a, b)
	if err != nil {
		return 0, &model.ExternalToolError{Tool: "similarity", Err: err}
	}
	m.cache[key] = score
	return score, nil
}
