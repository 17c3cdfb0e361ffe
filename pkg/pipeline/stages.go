package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/yumyai/metamorph/logger"
	"github.com/yumyai/metamorph/pkg/align"
	"github.com/yumyai/metamorph/pkg/cluster"
	"github.com/yumyai/metamorph/pkg/db"
	"github.com/yumyai/metamorph/pkg/model"
)

// AccessionStage loads accession codes from the configured source into the
// store. Codes already present are skipped.
type AccessionStage struct {
	Store  *db.Store
	Source AccessionSource
}

func (s *AccessionStage) Name() string { return "accession" }

func (s *AccessionStage) Run(ctx context.Context) (StageResult, error) {
	var res StageResult

	records, err := s.Source.Load(ctx)
	if err != nil {
		return res, err
	}

	for _, rec := range records {
		added, err := s.Store.AddAccession(ctx, rec)
		if err != nil {
			return res, err
		}
		if added {
			res.Processed++
		}
	}
	logger.Info("Loaded accessions",
		zap.Int("new", res.Processed),
		zap.Int("total", len(records)))
	return res, nil
}

// ExtractionStage fetches the protein record for every accession that has
// none yet, then resolves the chain sequences of each referenced PDB entry
// through the structure fetcher. A single unreachable entry does not abort
// the stage: fetch failures are logged and retried on the next run, and
// accessions the source no longer knows are marked disappeared.
type ExtractionStage struct {
	Store     *db.Store
	Extractor Extractor
	// Structures is optional; without it PDB references are stored
	// without their chains.
	Structures StructureFetcher
}

func (s *ExtractionStage) Name() string { return "extraction" }

func (s *ExtractionStage) Run(ctx context.Context) (StageResult, error) {
	var res StageResult

	pending, err := s.Store.UnextractedAccessions(ctx)
	if err != nil {
		return res, err
	}

	for _, acc := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		rec, err := s.Extractor.Fetch(ctx, acc.Code)
		if errors.Is(err, model.ErrNotFound) {
			logger.Warn("Accession no longer exists upstream", zap.String("accession", acc.Code))
			if err := s.Store.MarkAccessionDisappeared(ctx, acc.Code); err != nil {
				return res, err
			}
			continue
		}
		if err != nil {
			logger.Warn("Could not extract accession",
				zap.String("accession", acc.Code),
				zap.Error(err))
			continue
		}

		if s.Structures != nil {
			for i := range rec.PDBRefs {
				chains, err := s.Structures.Chains(ctx, rec.PDBRefs[i].PDBID)
				if err != nil {
					// Reference is kept without chains; a later run
					// cannot repair it, but alignment only needs the
					// protein sequence.
					logger.Warn("Could not fetch PDB chains",
						zap.String("pdb_id", rec.PDBRefs[i].PDBID),
						zap.Error(err))
					continue
				}
				rec.PDBRefs[i].Chains = chains
			}
		}

		if err := s.Store.SaveProteinRecord(ctx, acc.Code, rec); err != nil {
			return res, err
		}
		res.Processed++
	}
	logger.Info("Extracted proteins",
		zap.Int("extracted", res.Processed),
		zap.Int("pending", len(pending)))
	return res, nil
}

// EmbeddingStage fills in missing embedding vectors for every configured
// embedding type. Unlike extraction, an embedder failure aborts the stage:
// the model either works or it does not, and half-embedded data would skew
// the sub-clustering that follows.
type EmbeddingStage struct {
	Store    *db.Store
	Embedder Embedder
	Types    []model.EmbeddingType
}

func (s *EmbeddingStage) Name() string { return "embedding" }

func (s *EmbeddingStage) Run(ctx context.Context) (StageResult, error) {
	var res StageResult

	for _, et := range s.Types {
		seqs, err := s.Store.SequencesMissingEmbedding(ctx, et.ID)
		if err != nil {
			return res, err
		}
		for i := range seqs {
			vector, err := s.Embedder.Embed(ctx, et, &seqs[i])
			if err != nil {
				return res, &model.ExternalToolError{Tool: et.Name, Err: err}
			}
			if err := s.Store.AddEmbedding(ctx, seqs[i].ID, et.ID, vector); err != nil {
				return res, err
			}
			res.Processed++
		}
	}
	return res, nil
}

// ClusteringStage partitions all stored sequences into clusters. Clustering
// runs once per dataset: if clusters already exist the stage is a no-op, so
// a resumed pipeline does not re-partition under the representatives that
// queued alignments refer to.
type ClusteringStage struct {
	Store  *db.Store
	Engine *cluster.Engine
}

func (s *ClusteringStage) Name() string { return "clustering" }

func (s *ClusteringStage) Run(ctx context.Context) (StageResult, error) {
	var res StageResult

	existing, err := s.Store.ListClusters(ctx)
	if err != nil {
		return res, err
	}
	if len(existing) > 0 {
		logger.Info("Clusters already exist, skipping", zap.Int("clusters", len(existing)))
		return res, nil
	}

	seqs, err := s.Store.ListSequences(ctx)
	if err != nil {
		return res, err
	}

	drafts, err := s.Engine.Partition(ctx, seqs)
	if err != nil {
		return res, err
	}
	if _, err := s.Store.SaveClusters(ctx, drafts); err != nil {
		return res, err
	}
	res.Processed = len(drafts)
	return res, nil
}

// SubclusteringStage re-partitions each cluster by embedding cosine
// similarity, once per embedding type. Clusters with a single member,
// clusters already partitioned under the type, and clusters whose members
// lack a vector are skipped.
type SubclusteringStage struct {
	Store     *db.Store
	Threshold float64
	Types     []model.EmbeddingType
}

func (s *SubclusteringStage) Name() string { return "subclustering" }

func (s *SubclusteringStage) Run(ctx context.Context) (StageResult, error) {
	var res StageResult

	clusters, err := s.Store.ListClusters(ctx)
	if err != nil {
		return res, err
	}

	for _, cl := range clusters {
		entries, err := s.Store.ListClusterEntries(ctx, cl.ID)
		if err != nil {
			return res, err
		}
		if len(entries) < 2 {
			continue
		}

		seqs := make([]model.Sequence, 0, len(entries))
		for _, entry := range entries {
			seq, err := s.Store.GetSequence(ctx, entry.SequenceID)
			if err != nil {
				return res, err
			}
			seqs = append(seqs, *seq)
		}

		for _, et := range s.Types {
			done, err := s.Store.HasSubclusters(ctx, cl.ID, et.ID)
			if err != nil {
				return res, err
			}
			if done {
				continue
			}

			vectors, ok, err := s.loadVectors(ctx, entries, et.ID)
			if err != nil {
				return res, err
			}
			if !ok {
				logger.Warn("Cluster not fully embedded, skipping subclustering",
					zap.Int64("cluster_id", cl.ID),
					zap.String("embedding_type", et.Name))
				continue
			}

			eng := cluster.NewEngine(&cluster.EmbeddingSimilarity{Vectors: vectors}, s.Threshold)
			drafts, err := eng.Subcluster(ctx, cl.ID, et.ID, seqs)
			if err != nil {
				return res, err
			}
			if _, err := s.Store.SaveSubclusters(ctx, drafts); err != nil {
				return res, err
			}
			res.Processed += len(drafts)
		}
	}
	return res, nil
}

func (s *SubclusteringStage) loadVectors(ctx context.Context, entries []model.ClusterEntry, embeddingTypeID int64) (map[int64][]float64, bool, error) {
	vectors := make(map[int64][]float64, len(entries))
	for _, entry := range entries {
		vec, err := s.Store.GetEmbedding(ctx, entry.SequenceID, embeddingTypeID)
		if errors.Is(err, model.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		vectors[entry.SequenceID] = vec
	}
	return vectors, true, nil
}

// SeedStage enqueues one alignment task per non-representative cluster
// entry and alignment type. Enqueue is idempotent while a task is open, so
// re-running the stage never double-queues work.
type SeedStage struct {
	Store *db.Store
	Types []model.AlignmentType
}

func (s *SeedStage) Name() string { return "queue-seed" }

func (s *SeedStage) Run(ctx context.Context) (StageResult, error) {
	var res StageResult

	clusters, err := s.Store.ListClusters(ctx)
	if err != nil {
		return res, err
	}

	for _, cl := range clusters {
		entries, err := s.Store.ListClusterEntries(ctx, cl.ID)
		if err != nil {
			return res, err
		}
		for _, entry := range entries {
			if entry.IsRepresentative {
				continue
			}
			for _, at := range s.Types {
				if err := s.Store.Enqueue(ctx, entry.ID, at.ID); err != nil {
					return res, err
				}
				res.Processed++
			}
		}
	}
	return res, nil
}

// AlignmentStage drains the structural alignment queue through the
// dispatcher. Individual alignment failures land on the task rows; only
// storage failures abort the stage.
type AlignmentStage struct {
	Store      *db.Store
	Dispatcher *align.Dispatcher
}

func (s *AlignmentStage) Name() string { return "alignment" }

func (s *AlignmentStage) Run(ctx context.Context) (StageResult, error) {
	var res StageResult

	before, err := s.completedCount(ctx)
	if err != nil {
		return res, err
	}
	if err := s.Dispatcher.Run(ctx); err != nil {
		return res, err
	}
	after, err := s.completedCount(ctx)
	if err != nil {
		return res, err
	}
	res.Processed = after - before
	return res, nil
}

func (s *AlignmentStage) completedCount(ctx context.Context) (int, error) {
	tasks, err := s.Store.ListTasks(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, task := range tasks {
		if task.State == model.TaskCompleted {
			n++
		}
	}
	return n, nil
}

// AnnotationStage transfers the representative's GO terms to every other
// member of its cluster as predictions, one set per embedding type.
// Members that already carry predictions for a type are left alone.
type AnnotationStage struct {
	Store *db.Store
	Types []model.EmbeddingType
}

func (s *AnnotationStage) Name() string { return "annotation-transfer" }

func (s *AnnotationStage) Run(ctx context.Context) (StageResult, error) {
	var res StageResult

	clusters, err := s.Store.ListClusters(ctx)
	if err != nil {
		return res, err
	}

	for _, cl := range clusters {
		rep, err := s.Store.RepresentativeEntry(ctx, cl.ID)
		if err != nil {
			return res, err
		}

		prot, err := s.Store.ProteinBySequence(ctx, rep.SequenceID)
		if errors.Is(err, model.ErrNotFound) {
			// Representative is a bare chain sequence with no protein
			// entry; there is nothing to transfer.
			continue
		}
		if err != nil {
			return res, err
		}

		terms, err := s.Store.GOTermsForProtein(ctx, prot.EntryName)
		if err != nil {
			return res, err
		}
		if len(terms) == 0 {
			continue
		}

		entries, err := s.Store.ListClusterEntries(ctx, cl.ID)
		if err != nil {
			return res, err
		}
		for _, entry := range entries {
			if entry.IsRepresentative {
				continue
			}
			for _, et := range s.Types {
				existing, err := s.Store.GOPredictionsBySequence(ctx, entry.SequenceID, et.ID)
				if err != nil {
					return res, err
				}
				if len(existing) > 0 {
					continue
				}
				for _, term := range terms {
					err := s.Store.AddGOPrediction(ctx, model.SequenceGOPrediction{
						SequenceID:          entry.SequenceID,
						RefProteinEntryName: prot.EntryName,
						GoID:                term.GoID,
						EmbeddingTypeID:     et.ID,
						K:                   1,
					})
					if err != nil {
						return res, err
					}
					res.Processed++
				}
			}
		}
	}
	return res, nil
}

// MetricsStage scores, per protein and embedding type, how far the terms
// predicted onto its sequence sit from its own annotation. The distance is
// one minus the Jaccard overlap of the two GO id sets; 0 means the
// predictions restate the annotation, 1 means they share nothing. Pairs
// already scored are left alone on re-runs.
type MetricsStage struct {
	Store *db.Store
	Types []model.EmbeddingType
}

func (s *MetricsStage) Name() string { return "semantic-metrics" }

func (s *MetricsStage) Run(ctx context.Context) (StageResult, error) {
	var res StageResult

	proteins, err := s.Store.ListProteins(ctx)
	if err != nil {
		return res, err
	}

	for _, prot := range proteins {
		terms, err := s.Store.GOTermsForProtein(ctx, prot.EntryName)
		if err != nil {
			return res, err
		}
		if len(terms) == 0 {
			continue
		}
		annotated := make(map[string]bool, len(terms))
		for _, t := range terms {
			annotated[t.GoID] = true
		}

		for _, et := range s.Types {
			scored, err := s.Store.HasSemanticDistance(ctx, prot.EntryName, et.ID)
			if err != nil {
				return res, err
			}
			if scored {
				continue
			}

			preds, err := s.Store.GOPredictionsBySequence(ctx, prot.SequenceID, et.ID)
			if err != nil {
				return res, err
			}
			if len(preds) == 0 {
				continue
			}
			predicted := make(map[string]bool, len(preds))
			for _, p := range preds {
				predicted[p.GoID] = true
			}

			err = s.Store.AddSemanticDistance(ctx, model.GOPerProteinSemanticDistance{
				ProteinEntryName: prot.EntryName,
				EmbeddingTypeID:  et.ID,
				GroupDistance:    1 - jaccard(annotated, predicted),
			})
			if err != nil {
				return res, err
			}
			res.Processed++
		}
	}
	return res, nil
}

func jaccard(a, b map[string]bool) float64 {
	inter := 0
	for id := range a {
		if b[id] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
