package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// TaskState is the lifecycle state of a structural alignment task.
type TaskState int

const (
	TaskPending    TaskState = 0
	TaskProcessing TaskState = 1
	TaskCompleted  TaskState = 2
	TaskError      TaskState = 3
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskProcessing:
		return "processing"
	case TaskCompleted:
		return "completed"
	case TaskError:
		return "error"
	}
	return "unknown"
}

// Terminal reports whether no further transitions happen from this state.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskError
}

// Sequence is a unique amino-acid string, content-addressed by hash.
type Sequence struct {
	ID        int64     `json:"id"`
	Sequence  string    `json:"sequence"`
	Hash      string    `json:"sequence_hash"`
	CreatedAt time.Time `json:"created_at"`
}

// SequenceHash is the content address of an amino-acid string. Every
// lookup and dedup goes through this, so it has to stay stable.
func SequenceHash(seq string) string {
	sum := sha256.Sum256([]byte(seq))
	return hex.EncodeToString(sum[:])
}

type Protein struct {
	EntryName   string    `json:"entry_name"`
	SequenceID  int64     `json:"sequence_id"`
	Description string    `json:"description"`
	GeneName    string    `json:"gene_name"`
	Organism    string    `json:"organism"`
	TaxonomyID  string    `json:"taxonomy_id"`
	Disappeared bool      `json:"disappeared"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Accession struct {
	ID               int64  `json:"id"`
	Code             string `json:"accession_code"`
	ProteinEntryName string `json:"protein_entry_name"`
	Tag              string `json:"tag"`
	Primary          bool   `json:"primary"`
	Disappeared      bool   `json:"disappeared"`
}

type PDBReference struct {
	ID               int64   `json:"id"`
	PDBID            string  `json:"pdb_id"`
	ProteinEntryName string  `json:"protein_entry_name"`
	Method           string  `json:"method"`
	Resolution       float64 `json:"resolution"`
	SequenceID       int64   `json:"sequence_id"`
}

type PDBChain struct {
	ID             int64  `json:"id"`
	PDBReferenceID int64  `json:"pdb_reference_id"`
	Chain          string `json:"chain"`
	Model          int    `json:"model"`
	SequenceID     int64  `json:"sequence_id"`
}

// EmbeddingType is a named embedding method (ESM, Prost-T5, ...).
type EmbeddingType struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	TaskName    string `json:"task_name"`
	ModelName   string `json:"model_name"`
}

type SequenceEmbedding struct {
	ID              int64     `json:"id"`
	SequenceID      int64     `json:"sequence_id"`
	EmbeddingTypeID int64     `json:"embedding_type_id"`
	Vector          []float64 `json:"vector"`
	CreatedAt       time.Time `json:"created_at"`
}

// Cluster groups sequences judged similar by a clustering method.
// Clusters and their entries are written once per run and never mutated;
// re-clustering creates new rows.
type Cluster struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type ClusterEntry struct {
	ID               int64   `json:"id"`
	ClusterID        int64   `json:"cluster_id"`
	SequenceID       int64   `json:"sequence_id"`
	IsRepresentative bool    `json:"is_representative"`
	SequenceLength   int     `json:"sequence_length"`
	Identity         float64 `json:"identity"`
}

// Subcluster is a finer partition of one cluster, tied to one embedding type.
type Subcluster struct {
	ID              int64     `json:"id"`
	ClusterID       int64     `json:"cluster_id"`
	EmbeddingTypeID int64     `json:"embedding_type_id"`
	Description     string    `json:"description"`
	CreatedAt       time.Time `json:"created_at"`
}

type SubclusterEntry struct {
	ID               int64   `json:"id"`
	SubclusterID     int64   `json:"subcluster_id"`
	SequenceID       int64   `json:"sequence_id"`
	IsRepresentative bool    `json:"is_representative"`
	SequenceLength   int     `json:"sequence_length"`
	Identity         float64 `json:"identity"`
}

// AlignmentType is a named structural alignment method (CE-align, US-align,
// FATCAT). TaskName selects the external operation the dispatcher invokes.
type AlignmentType struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	TaskName    string `json:"task_name"`
}

// AlignmentTask is one row of the structural alignment queue: a cluster
// entry paired with an alignment type, plus retry bookkeeping.
type AlignmentTask struct {
	ID              int64     `json:"id"`
	ClusterEntryID  int64     `json:"cluster_entry_id"`
	AlignmentTypeID int64     `json:"alignment_type_id"`
	State           TaskState `json:"state"`
	RetryCount      int       `json:"retry_count"`
	ErrorMessage    string    `json:"error_message"`
	WorkerID        string    `json:"worker_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AlignmentMetrics holds the method-specific scores one alignment run
// produces. A method fills only its own fields; the rest stay zero.
type AlignmentMetrics struct {
	CeRMS         float64 `json:"ce_rms"`
	TmRMS         float64 `json:"tm_rms"`
	TmSeqID       float64 `json:"tm_seq_id"`
	TmScoreChainA float64 `json:"tm_score_chain_1"`
	TmScoreChainB float64 `json:"tm_score_chain_2"`
	FcRMS         float64 `json:"fc_rms"`
	FcIdentity    float64 `json:"fc_identity"`
	FcSimilarity  float64 `json:"fc_similarity"`
	FcScore       float64 `json:"fc_score"`
	FcAlignLen    float64 `json:"fc_align_len"`
}

// AlignmentResult is the persisted outcome of one completed task. Written
// exactly once, never mutated.
type AlignmentResult struct {
	ID             int64 `json:"id"`
	ClusterEntryID int64 `json:"cluster_entry_id"`
	AlignmentMetrics
	CreatedAt time.Time `json:"created_at"`
}

type GOTerm struct {
	GoID        string `json:"go_id"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Evidences   string `json:"evidences"`
}

type ProteinGOTermAssociation struct {
	ProteinEntryName string `json:"protein_entry_name"`
	GoID             string `json:"go_id"`
}

type SequenceGOPrediction struct {
	ID                  int64  `json:"id"`
	SequenceID          int64  `json:"sequence_id"`
	RefProteinEntryName string `json:"ref_protein_entry_name"`
	GoID                string `json:"go_id"`
	EmbeddingTypeID     int64  `json:"embedding_type_id"`
	K                   int    `json:"k"`
}

type GOPerProteinSemanticDistance struct {
	ID               int64   `json:"id"`
	ProteinEntryName string  `json:"protein_entry_name"`
	EmbeddingTypeID  int64   `json:"embedding_type_id"`
	GroupDistance    float64 `json:"group_distance"`
}
