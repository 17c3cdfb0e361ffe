package cluster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/metamorph/pkg/model"
)

// pairSimilarity is a scripted collaborator keyed by unordered id pairs.
type pairSimilarity struct {
	scores map[[2]int64]float64
	err    error
	calls  int
}

func (s *pairSimilarity) Identity(_ context.Context, a, b *model.Sequence) (float64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	key := [2]int64{a.ID, b.ID}
	if key[0] > key[1] {
		key[0], key[1] = key[1], key[0]
	}
	return s.scores[key], nil
}

func seqsByID(ids ...int64) []model.Sequence {
	out := make([]model.Sequence, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Sequence{ID: id, Sequence: "MKTAYIAKQR"})
	}
	return out
}

func TestPartitionEmptyInput(t *testing.T) {
	engine := NewEngine(&pairSimilarity{}, 0.8)

	_, err := engine.Partition(context.Background(), nil)
	require.Error(t, err)

	var inputErr *model.InputError
	assert.True(t, errors.As(err, &inputErr))
}

func TestPartitionSimilarityFailureAbortsRun(t *testing.T) {
	sim := &pairSimilarity{err: errors.New("mmseqs exited 137")}
	engine := NewEngine(sim, 0.8)

	_, err := engine.Partition(context.Background(), seqsByID(1, 2))
	require.Error(t, err)

	var toolErr *model.ExternalToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, "similarity", toolErr.Tool)
}

// Five sequences with one clearly most-central member: one cluster, five
// entries, exactly one representative, and it is the central one.
func TestPartitionElectsCentralRepresentative(t *testing.T) {
	scores := map[[2]int64]float64{}
	// Sequence 3 scores 0.95 against everyone; the rest are mutually 0.85.
	for _, id := range []int64{1, 2, 4, 5} {
		key := [2]int64{id, 3}
		if id > 3 {
			key = [2]int64{3, id}
		}
		scores[key] = 0.95
	}
	for _, pair := range [][2]int64{{1, 2}, {1, 4}, {1, 5}, {2, 4}, {2, 5}, {4, 5}} {
		scores[pair] = 0.85
	}

	engine := NewEngine(&pairSimilarity{scores: scores}, 0.8)
	drafts, err := engine.Partition(context.Background(), seqsByID(1, 2, 3, 4, 5))
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	require.Len(t, drafts[0].Entries, 5)

	var rep *model.ClusterEntryDraft
	reps := 0
	for i := range drafts[0].Entries {
		if drafts[0].Entries[i].IsRepresentative {
			reps++
			rep = &drafts[0].Entries[i]
		}
	}
	require.Equal(t, 1, reps)
	assert.EqualValues(t, 3, rep.SequenceID)
	assert.Equal(t, 1.0, rep.Identity)

	for _, e := range drafts[0].Entries {
		if !e.IsRepresentative {
			assert.InDelta(t, 0.95, e.Identity, 1e-9, "members are scored against the representative")
		}
	}
}

func TestPartitionTieBreaksOnLowestID(t *testing.T) {
	// Two sequences, symmetric by construction: the lower id must win.
	scores := map[[2]int64]float64{{7, 9}: 0.9}
	engine := NewEngine(&pairSimilarity{scores: scores}, 0.8)

	drafts, err := engine.Partition(context.Background(), seqsByID(9, 7))
	require.NoError(t, err)
	require.Len(t, drafts, 1)

	for _, e := range drafts[0].Entries {
		if e.IsRepresentative {
			assert.EqualValues(t, 7, e.SequenceID)
		}
	}
}

func TestPartitionSplitsDistantSequences(t *testing.T) {
	scores := map[[2]int64]float64{
		{1, 2}: 0.9,
		{1, 3}: 0.1,
		{2, 3}: 0.1,
	}
	engine := NewEngine(&pairSimilarity{scores: scores}, 0.8)

	drafts, err := engine.Partition(context.Background(), seqsByID(1, 2, 3))
	require.NoError(t, err)
	assert.Len(t, drafts, 2)

	for _, d := range drafts {
		reps := 0
		for _, e := range d.Entries {
			if e.IsRepresentative {
				reps++
			}
		}
		assert.Equal(t, 1, reps)
	}
}

func TestPartitionIsDeterministic(t *testing.T) {
	scores := map[[2]int64]float64{
		{1, 2}: 0.9, {1, 3}: 0.85, {2, 3}: 0.92,
		{1, 4}: 0.2, {2, 4}: 0.3, {3, 4}: 0.25,
	}

	var snapshots [][]model.ClusterDraft
	for run := 0; run < 3; run++ {
		engine := NewEngine(&pairSimilarity{scores: scores}, 0.8)
		// Input order shuffled between runs; ids are the only order.
		inputs := [][]int64{{1, 2, 3, 4}, {4, 3, 2, 1}, {2, 4, 1, 3}}
		drafts, err := engine.Partition(context.Background(), seqsByID(inputs[run]...))
		require.NoError(t, err)
		snapshots = append(snapshots, drafts)
	}

	assert.Equal(t, snapshots[0], snapshots[1])
	assert.Equal(t, snapshots[1], snapshots[2])
}

func TestSubclusterTagsDrafts(t *testing.T) {
	scores := map[[2]int64]float64{{1, 2}: 0.9}
	engine := NewEngine(&pairSimilarity{scores: scores}, 0.8)

	drafts, err := engine.Subcluster(context.Background(), 42, 7, seqsByID(1, 2))
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.EqualValues(t, 42, drafts[0].ClusterID)
	assert.EqualValues(t, 7, drafts[0].EmbeddingTypeID)
	assert.Len(t, drafts[0].Entries, 2)
}

func TestKmerSimilarity(t *testing.T) {
	sim := &KmerSimilarity{K: 3}
	ctx := context.Background()

	a := &model.Sequence{ID: 1, Sequence: "MKTAYIAKQR"}
	same, err := sim.Identity(ctx, a, a)
	require.NoError(t, err)
	assert.Equal(t, 1.0, same)

	b := &model.Sequence{ID: 2, Sequence: "WWWWWWWWWW"}
	zero, err := sim.Identity(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, 0.0, zero)

	short := &model.Sequence{ID: 3, Sequence: "MK"}
	_, err = sim.Identity(ctx, a, short)
	assert.Error(t, err)
}

func TestEmbeddingSimilarity(t *testing.T) {
	sim := &EmbeddingSimilarity{Vectors: map[int64][]float64{
		1: {1, 0, 0},
		2: {1, 0, 0},
		3: {0, 1, 0},
	}}
	ctx := context.Background()

	a, b, c := &model.Sequence{ID: 1}, &model.Sequence{ID: 2}, &model.Sequence{ID: 3}

	same, err := sim.Identity(ctx, a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, same, 1e-9)

	orth, err := sim.Identity(ctx, a, c)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, orth, 1e-9)

	_, err = sim.Identity(ctx, a, &model.Sequence{ID: 99})
	assert.Error(t, err)
}
