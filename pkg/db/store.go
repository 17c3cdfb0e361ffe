package db

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/yumyai/metamorph/pkg/model"
)

// --- Sequences ---

// AddSequence stores an amino-acid string and returns its id. Sequences are
// content-addressed by hash, so storing the same string twice returns the
// same id.
func (s *Store) AddSequence(ctx context.Context, seq string) (int64, error) {
	hash := model.SequenceHash(seq)

	_, err := s.sql.ExecContext(ctx,
		`INSERT INTO sequences (sequence, sequence_hash, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(sequence_hash) DO NOTHING`,
		seq, hash, s.timestamp())
	if err != nil {
		return 0, &model.StorageError{Op: "add sequence", Err: err}
	}

	var id int64
	err = s.sql.QueryRowContext(ctx,
		`SELECT id FROM sequences WHERE sequence_hash = ?`, hash).Scan(&id)
	if err != nil {
		return 0, &model.StorageError{Op: "add sequence", Err: err}
	}
	return id, nil
}

func (s *Store) GetSequence(ctx context.Context, id int64) (*model.Sequence, error) {
	var seq model.Sequence
	var createdAt int64

	err := s.sql.QueryRowContext(ctx,
		`SELECT id, sequence, sequence_hash, created_at FROM sequences WHERE id = ?`, id).
		Scan(&seq.ID, &seq.Sequence, &seq.Hash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, &model.StorageError{Op: "get sequence", Err: err}
	}

	seq.CreatedAt = time.Unix(0, createdAt)
	return &seq, nil
}

func (s *Store) ListSequences(ctx context.Context) ([]model.Sequence, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, sequence, sequence_hash, created_at FROM sequences ORDER BY id`)
	if err != nil {
		return nil, &model.StorageError{Op: "list sequences", Err: err}
	}
	defer rows.Close()

	var out []model.Sequence
	for rows.Next() {
		var seq model.Sequence
		var createdAt int64
		if err := rows.Scan(&seq.ID, &seq.Sequence, &seq.Hash, &createdAt); err != nil {
			return nil, &model.StorageError{Op: "list sequences", Err: err}
		}
		seq.CreatedAt = time.Unix(0, createdAt)
		out = append(out, seq)
	}
	return out, rows.Err()
}

// --- Accessions and proteins ---

// AddAccession registers an accession code. Reports whether the code was new.
func (s *Store) AddAccession(ctx context.Context, rec model.AccessionRecord) (bool, error) {
	res, err := s.sql.ExecContext(ctx,
		`INSERT INTO accessions (accession_code, tag, is_primary) VALUES (?, ?, ?)
		 ON CONFLICT(accession_code) DO NOTHING`,
		rec.Code, rec.Tag, rec.Primary)
	if err != nil {
		return false, &model.StorageError{Op: "add accession", Err: err}
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) ListAccessions(ctx context.Context) ([]model.Accession, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, accession_code, protein_entry_name, tag, is_primary, disappeared
		 FROM accessions ORDER BY id`)
	if err != nil {
		return nil, &model.StorageError{Op: "list accessions", Err: err}
	}
	defer rows.Close()

	var out []model.Accession
	for rows.Next() {
		var a model.Accession
		if err := rows.Scan(&a.ID, &a.Code, &a.ProteinEntryName, &a.Tag, &a.Primary, &a.Disappeared); err != nil {
			return nil, &model.StorageError{Op: "list accessions", Err: err}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UnextractedAccessions returns accessions not yet linked to a protein,
// skipping ones marked disappeared.
func (s *Store) UnextractedAccessions(ctx context.Context) ([]model.Accession, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, accession_code, protein_entry_name, tag, is_primary, disappeared
		 FROM accessions WHERE protein_entry_name = '' AND disappeared = 0 ORDER BY id`)
	if err != nil {
		return nil, &model.StorageError{Op: "unextracted accessions", Err: err}
	}
	defer rows.Close()

	var out []model.Accession
	for rows.Next() {
		var a model.Accession
		if err := rows.Scan(&a.ID, &a.Code, &a.ProteinEntryName, &a.Tag, &a.Primary, &a.Disappeared); err != nil {
			return nil, &model.StorageError{Op: "unextracted accessions", Err: err}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkAccessionDisappeared flags an accession the upstream source no longer
// knows. The row stays so later runs do not re-fetch it.
func (s *Store) MarkAccessionDisappeared(ctx context.Context, code string) error {
	_, err := s.sql.ExecContext(ctx,
		`UPDATE accessions SET disappeared = 1 WHERE accession_code = ?`, code)
	if err != nil {
		return &model.StorageError{Op: "mark accession disappeared", Err: err}
	}
	return nil
}

// SaveProteinRecord stores one extracted protein with its sequence, PDB
// references, chains and GO terms in a single transaction, and links the
// accession that produced it.
func (s *Store) SaveProteinRecord(ctx context.Context, accessionCode string, rec *model.ProteinRecord) error {
	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return &model.StorageError{Op: "save protein", Err: err}
	}
	defer tx.Rollback()

	seqID, err := addSequenceTx(ctx, tx, rec.Sequence, s.timestamp())
	if err != nil {
		return &model.StorageError{Op: "save protein", Err: err}
	}

	now := s.timestamp()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO proteins (entry_name, sequence_id, description, gene_name, organism, taxonomy_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(entry_name) DO UPDATE SET
			sequence_id = excluded.sequence_id,
			description = excluded.description,
			gene_name   = excluded.gene_name,
			organism    = excluded.organism,
			taxonomy_id = excluded.taxonomy_id,
			updated_at  = excluded.updated_at`,
		rec.EntryName, seqID, rec.Description, rec.GeneName, rec.Organism, rec.TaxonomyID, now, now)
	if err != nil {
		return &model.StorageError{Op: "save protein", Err: err}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE accessions SET protein_entry_name = ? WHERE accession_code = ?`,
		rec.EntryName, accessionCode); err != nil {
		return &model.StorageError{Op: "save protein", Err: err}
	}

	for _, ref := range rec.PDBRefs {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO pdb_references (pdb_id, protein_entry_name, method, resolution, sequence_id)
			 VALUES (?, ?, ?, ?, ?)`,
			ref.PDBID, rec.EntryName, ref.Method, ref.Resolution, seqID)
		if err != nil {
			return &model.StorageError{Op: "save pdb reference", Err: err}
		}
		refID, err := res.LastInsertId()
		if err != nil {
			return &model.StorageError{Op: "save pdb reference", Err: err}
		}

		for _, ch := range ref.Chains {
			chainSeqID, err := addSequenceTx(ctx, tx, ch.Sequence, s.timestamp())
			if err != nil {
				return &model.StorageError{Op: "save pdb chain", Err: err}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO pdb_chains (pdb_reference_id, chain, model, sequence_id) VALUES (?, ?, ?, ?)`,
				refID, ch.Chain, ch.Model, chainSeqID); err != nil {
				return &model.StorageError{Op: "save pdb chain", Err: err}
			}
		}
	}

	for _, term := range rec.GOTerms {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO go_terms (go_id, category, description, evidences) VALUES (?, ?, ?, ?)
			 ON CONFLICT(go_id) DO NOTHING`,
			term.GoID, term.Category, term.Description, term.Evidences); err != nil {
			return &model.StorageError{Op: "save go term", Err: err}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO protein_go_term_association (protein_entry_name, go_id) VALUES (?, ?)
			 ON CONFLICT DO NOTHING`,
			rec.EntryName, term.GoID); err != nil {
			return &model.StorageError{Op: "save go association", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &model.StorageError{Op: "save protein", Err: err}
	}
	return nil
}

func addSequenceTx(ctx context.Context, tx *sql.Tx, seq string, ts int64) (int64, error) {
	hash := model.SequenceHash(seq)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sequences (sequence, sequence_hash, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(sequence_hash) DO NOTHING`, seq, hash, ts); err != nil {
		return 0, err
	}
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM sequences WHERE sequence_hash = ?`, hash).Scan(&id)
	return id, err
}

func (s *Store) ListProteins(ctx context.Context) ([]model.Protein, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT entry_name, sequence_id, description, gene_name, organism, taxonomy_id, disappeared
		 FROM proteins ORDER BY entry_name`)
	if err != nil {
		return nil, &model.StorageError{Op: "list proteins", Err: err}
	}
	defer rows.Close()

	var out []model.Protein
	for rows.Next() {
		var p model.Protein
		if err := rows.Scan(&p.EntryName, &p.SequenceID, &p.Description, &p.GeneName, &p.Organism, &p.TaxonomyID, &p.Disappeared); err != nil {
			return nil, &model.StorageError{Op: "list proteins", Err: err}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ProteinBySequence resolves the protein owning a sequence, if any.
func (s *Store) ProteinBySequence(ctx context.Context, sequenceID int64) (*model.Protein, error) {
	var p model.Protein
	err := s.sql.QueryRowContext(ctx,
		`SELECT entry_name, sequence_id, description, gene_name, organism, taxonomy_id, disappeared
		 FROM proteins WHERE sequence_id = ? ORDER BY entry_name LIMIT 1`, sequenceID).
		Scan(&p.EntryName, &p.SequenceID, &p.Description, &p.GeneName, &p.Organism, &p.TaxonomyID, &p.Disappeared)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, &model.StorageError{Op: "protein by sequence", Err: err}
	}
	return &p, nil
}

// --- Method catalogues ---

// UpsertEmbeddingType seeds or refreshes one embedding method by name.
func (s *Store) UpsertEmbeddingType(ctx context.Context, t model.EmbeddingType) (int64, error) {
	_, err := s.sql.ExecContext(ctx,
		`INSERT INTO embedding_types (name, description, task_name, model_name) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			task_name   = excluded.task_name,
			model_name  = excluded.model_name`,
		t.Name, t.Description, t.TaskName, t.ModelName)
	if err != nil {
		return 0, &model.StorageError{Op: "upsert embedding type", Err: err}
	}
	var id int64
	err = s.sql.QueryRowContext(ctx, `SELECT id FROM embedding_types WHERE name = ?`, t.Name).Scan(&id)
	if err != nil {
		return 0, &model.StorageError{Op: "upsert embedding type", Err: err}
	}
	return id, nil
}

func (s *Store) ListEmbeddingTypes(ctx context.Context) ([]model.EmbeddingType, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, name, description, task_name, model_name FROM embedding_types ORDER BY id`)
	if err != nil {
		return nil, &model.StorageError{Op: "list embedding types", Err: err}
	}
	defer rows.Close()

	var out []model.EmbeddingType
	for rows.Next() {
		var t model.EmbeddingType
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.TaskName, &t.ModelName); err != nil {
			return nil, &model.StorageError{Op: "list embedding types", Err: err}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertAlignmentType seeds or refreshes one alignment method by name.
func (s *Store) UpsertAlignmentType(ctx context.Context, t model.AlignmentType) (int64, error) {
	_, err := s.sql.ExecContext(ctx,
		`INSERT INTO structural_alignment_types (name, description, task_name) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			task_name   = excluded.task_name`,
		t.Name, t.Description, t.TaskName)
	if err != nil {
		return 0, &model.StorageError{Op: "upsert alignment type", Err: err}
	}
	var id int64
	err = s.sql.QueryRowContext(ctx, `SELECT id FROM structural_alignment_types WHERE name = ?`, t.Name).Scan(&id)
	if err != nil {
		return 0, &model.StorageError{Op: "upsert alignment type", Err: err}
	}
	return id, nil
}

func (s *Store) GetAlignmentType(ctx context.Context, id int64) (*model.AlignmentType, error) {
	var t model.AlignmentType
	err := s.sql.QueryRowContext(ctx,
		`SELECT id, name, description, task_name FROM structural_alignment_types WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.Description, &t.TaskName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, &model.StorageError{Op: "get alignment type", Err: err}
	}
	return &t, nil
}

func (s *Store) ListAlignmentTypes(ctx context.Context) ([]model.AlignmentType, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, name, description, task_name FROM structural_alignment_types ORDER BY id`)
	if err != nil {
		return nil, &model.StorageError{Op: "list alignment types", Err: err}
	}
	defer rows.Close()

	var out []model.AlignmentType
	for rows.Next() {
		var t model.AlignmentType
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.TaskName); err != nil {
			return nil, &model.StorageError{Op: "list alignment types", Err: err}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Embeddings ---

// AddEmbedding stores one vector for a (sequence, embedding type) pair.
// Re-embedding replaces the previous vector.
func (s *Store) AddEmbedding(ctx context.Context, sequenceID, embeddingTypeID int64, vector []float64) error {
	_, err := s.sql.ExecContext(ctx,
		`INSERT INTO sequence_embeddings (sequence_id, embedding_type_id, embedding, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(sequence_id, embedding_type_id) DO UPDATE SET
			embedding  = excluded.embedding,
			created_at = excluded.created_at`,
		sequenceID, embeddingTypeID, encodeVector(vector), s.timestamp())
	if err != nil {
		return &model.StorageError{Op: "add embedding", Err: err}
	}
	return nil
}

func (s *Store) GetEmbedding(ctx context.Context, sequenceID, embeddingTypeID int64) ([]float64, error) {
	var blob []byte
	err := s.sql.QueryRowContext(ctx,
		`SELECT embedding FROM sequence_embeddings WHERE sequence_id = ? AND embedding_type_id = ?`,
		sequenceID, embeddingTypeID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, &model.StorageError{Op: "get embedding", Err: err}
	}
	return decodeVector(blob), nil
}

// SequencesMissingEmbedding lists sequences with no vector for the given
// embedding type, so re-running the embedding stage only fills the gaps.
func (s *Store) SequencesMissingEmbedding(ctx context.Context, embeddingTypeID int64) ([]model.Sequence, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT s.id, s.sequence, s.sequence_hash, s.created_at
		 FROM sequences s
		 WHERE NOT EXISTS (
			SELECT 1 FROM sequence_embeddings e
			WHERE e.sequence_id = s.id AND e.embedding_type_id = ?
		 )
		 ORDER BY s.id`, embeddingTypeID)
	if err != nil {
		return nil, &model.StorageError{Op: "sequences missing embedding", Err: err}
	}
	defer rows.Close()

	var out []model.Sequence
	for rows.Next() {
		var seq model.Sequence
		var createdAt int64
		if err := rows.Scan(&seq.ID, &seq.Sequence, &seq.Hash, &createdAt); err != nil {
			return nil, &model.StorageError{Op: "sequences missing embedding", Err: err}
		}
		seq.CreatedAt = time.Unix(0, createdAt)
		out = append(out, seq)
	}
	return out, rows.Err()
}

// Vectors are stored as little-endian float64 blobs. Nothing downstream
// queries inside a vector, so an opaque blob keeps the schema portable.
func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

// --- Clusters ---

// SaveClusters commits one clustering run. All clusters and entries land in
// a single transaction; a failure leaves nothing behind.
func (s *Store) SaveClusters(ctx context.Context, drafts []model.ClusterDraft) ([]int64, error) {
	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, &model.StorageError{Op: "save clusters", Err: err}
	}
	defer tx.Rollback()

	entryStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cluster_entries (cluster_id, sequence_id, is_representative, sequence_length, identity)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, &model.StorageError{Op: "save clusters", Err: err}
	}
	defer entryStmt.Close()

	ids := make([]int64, 0, len(drafts))
	for _, d := range drafts {
		res, err := tx.ExecContext(ctx, `INSERT INTO clusters (created_at) VALUES (?)`, s.timestamp())
		if err != nil {
			return nil, &model.StorageError{Op: "save clusters", Err: err}
		}
		clusterID, err := res.LastInsertId()
		if err != nil {
			return nil, &model.StorageError{Op: "save clusters", Err: err}
		}

		for _, e := range d.Entries {
			if _, err := entryStmt.ExecContext(ctx,
				clusterID, e.SequenceID, e.IsRepresentative, e.SequenceLength, e.Identity); err != nil {
				return nil, &model.StorageError{Op: "save cluster entry", Err: err}
			}
		}
		ids = append(ids, clusterID)
	}

	if err := tx.Commit(); err != nil {
		return nil, &model.StorageError{Op: "save clusters", Err: err}
	}
	return ids, nil
}

func (s *Store) ListClusters(ctx context.Context) ([]model.Cluster, error) {
	rows, err := s.sql.QueryContext(ctx, `SELECT id, created_at FROM clusters ORDER BY id`)
	if err != nil {
		return nil, &model.StorageError{Op: "list clusters", Err: err}
	}
	defer rows.Close()

	var out []model.Cluster
	for rows.Next() {
		var c model.Cluster
		var createdAt int64
		if err := rows.Scan(&c.ID, &createdAt); err != nil {
			return nil, &model.StorageError{Op: "list clusters", Err: err}
		}
		c.CreatedAt = time.Unix(0, createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListClusterEntries(ctx context.Context, clusterID int64) ([]model.ClusterEntry, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, cluster_id, sequence_id, is_representative, sequence_length, identity
		 FROM cluster_entries WHERE cluster_id = ? ORDER BY id`, clusterID)
	if err != nil {
		return nil, &model.StorageError{Op: "list cluster entries", Err: err}
	}
	defer rows.Close()

	var out []model.ClusterEntry
	for rows.Next() {
		var e model.ClusterEntry
		if err := rows.Scan(&e.ID, &e.ClusterID, &e.SequenceID, &e.IsRepresentative, &e.SequenceLength, &e.Identity); err != nil {
			return nil, &model.StorageError{Op: "list cluster entries", Err: err}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetClusterEntry(ctx context.Context, id int64) (*model.ClusterEntry, error) {
	var e model.ClusterEntry
	err := s.sql.QueryRowContext(ctx,
		`SELECT id, cluster_id, sequence_id, is_representative, sequence_length, identity
		 FROM cluster_entries WHERE id = ?`, id).
		Scan(&e.ID, &e.ClusterID, &e.SequenceID, &e.IsRepresentative, &e.SequenceLength, &e.Identity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, &model.StorageError{Op: "get cluster entry", Err: err}
	}
	return &e, nil
}

// RepresentativeEntry returns the designated representative of a cluster.
func (s *Store) RepresentativeEntry(ctx context.Context, clusterID int64) (*model.ClusterEntry, error) {
	var e model.ClusterEntry
	err := s.sql.QueryRowContext(ctx,
		`SELECT id, cluster_id, sequence_id, is_representative, sequence_length, identity
		 FROM cluster_entries WHERE cluster_id = ? AND is_representative = 1`, clusterID).
		Scan(&e.ID, &e.ClusterID, &e.SequenceID, &e.IsRepresentative, &e.SequenceLength, &e.Identity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, &model.StorageError{Op: "representative entry", Err: err}
	}
	return &e, nil
}

// SaveSubclusters commits one sub-clustering run, same all-or-nothing
// contract as SaveClusters.
// HasSubclusters reports whether a cluster was already sub-partitioned
// under the given embedding type.
func (s *Store) HasSubclusters(ctx context.Context, clusterID, embeddingTypeID int64) (bool, error) {
	var n int
	err := s.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subclusters WHERE cluster_id = ? AND embedding_type_id = ?`,
		clusterID, embeddingTypeID).Scan(&n)
	if err != nil {
		return false, &model.StorageError{Op: "has subclusters", Err: err}
	}
	return n > 0, nil
}

func (s *Store) SaveSubclusters(ctx context.Context, drafts []model.SubclusterDraft) ([]int64, error) {
	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, &model.StorageError{Op: "save subclusters", Err: err}
	}
	defer tx.Rollback()

	entryStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO subcluster_entries (subcluster_id, sequence_id, is_representative, sequence_length, identity)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, &model.StorageError{Op: "save subclusters", Err: err}
	}
	defer entryStmt.Close()

	ids := make([]int64, 0, len(drafts))
	for _, d := range drafts {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO subclusters (cluster_id, embedding_type_id, description, created_at) VALUES (?, ?, ?, ?)`,
			d.ClusterID, d.EmbeddingTypeID, d.Description, s.timestamp())
		if err != nil {
			return nil, &model.StorageError{Op: "save subclusters", Err: err}
		}
		subID, err := res.LastInsertId()
		if err != nil {
			return nil, &model.StorageError{Op: "save subclusters", Err: err}
		}

		for _, e := range d.Entries {
			if _, err := entryStmt.ExecContext(ctx,
				subID, e.SequenceID, e.IsRepresentative, e.SequenceLength, e.Identity); err != nil {
				return nil, &model.StorageError{Op: "save subcluster entry", Err: err}
			}
		}
		ids = append(ids, subID)
	}

	if err := tx.Commit(); err != nil {
		return nil, &model.StorageError{Op: "save subclusters", Err: err}
	}
	return ids, nil
}

func (s *Store) ListSubclusterEntries(ctx context.Context, subclusterID int64) ([]model.SubclusterEntry, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, subcluster_id, sequence_id, is_representative, sequence_length, identity
		 FROM subcluster_entries WHERE subcluster_id = ? ORDER BY id`, subclusterID)
	if err != nil {
		return nil, &model.StorageError{Op: "list subcluster entries", Err: err}
	}
	defer rows.Close()

	var out []model.SubclusterEntry
	for rows.Next() {
		var e model.SubclusterEntry
		if err := rows.Scan(&e.ID, &e.SubclusterID, &e.SequenceID, &e.IsRepresentative, &e.SequenceLength, &e.Identity); err != nil {
			return nil, &model.StorageError{Op: "list subcluster entries", Err: err}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- GO annotation ---

func (s *Store) GOTermsForProtein(ctx context.Context, entryName string) ([]model.GOTerm, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT g.go_id, g.category, g.description, g.evidences
		 FROM go_terms g
		 JOIN protein_go_term_association a ON a.go_id = g.go_id
		 WHERE a.protein_entry_name = ?
		 ORDER BY g.go_id`, entryName)
	if err != nil {
		return nil, &model.StorageError{Op: "go terms for protein", Err: err}
	}
	defer rows.Close()

	var out []model.GOTerm
	for rows.Next() {
		var t model.GOTerm
		if err := rows.Scan(&t.GoID, &t.Category, &t.Description, &t.Evidences); err != nil {
			return nil, &model.StorageError{Op: "go terms for protein", Err: err}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) AddGOPrediction(ctx context.Context, p model.SequenceGOPrediction) error {
	_, err := s.sql.ExecContext(ctx,
		`INSERT INTO sequence_go_predictions (sequence_id, ref_protein_entry_name, go_id, embedding_type_id, k)
		 VALUES (?, ?, ?, ?, ?)`,
		p.SequenceID, p.RefProteinEntryName, p.GoID, p.EmbeddingTypeID, p.K)
	if err != nil {
		return &model.StorageError{Op: "add go prediction", Err: err}
	}
	return nil
}

// GOPredictionsBySequence lists predicted terms for one sequence and
// embedding type.
func (s *Store) GOPredictionsBySequence(ctx context.Context, sequenceID, embeddingTypeID int64) ([]model.SequenceGOPrediction, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, sequence_id, ref_protein_entry_name, go_id, embedding_type_id, k
		 FROM sequence_go_predictions
		 WHERE sequence_id = ? AND embedding_type_id = ?
		 ORDER BY id`, sequenceID, embeddingTypeID)
	if err != nil {
		return nil, &model.StorageError{Op: "go predictions by sequence", Err: err}
	}
	defer rows.Close()

	var out []model.SequenceGOPrediction
	for rows.Next() {
		var p model.SequenceGOPrediction
		if err := rows.Scan(&p.ID, &p.SequenceID, &p.RefProteinEntryName, &p.GoID, &p.EmbeddingTypeID, &p.K); err != nil {
			return nil, &model.StorageError{Op: "go predictions by sequence", Err: err}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HasSemanticDistance reports whether a protein was already scored under
// the given embedding type.
func (s *Store) HasSemanticDistance(ctx context.Context, entryName string, embeddingTypeID int64) (bool, error) {
	var n int
	err := s.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM go_per_protein_semantic_distances
		 WHERE protein_entry_name = ? AND embedding_type_id = ?`,
		entryName, embeddingTypeID).Scan(&n)
	if err != nil {
		return false, &model.StorageError{Op: "has semantic distance", Err: err}
	}
	return n > 0, nil
}

func (s *Store) AddSemanticDistance(ctx context.Context, d model.GOPerProteinSemanticDistance) error {
	_, err := s.sql.ExecContext(ctx,
		`INSERT INTO go_per_protein_semantic_distances (protein_entry_name, embedding_type_id, group_distance)
		 VALUES (?, ?, ?)`,
		d.ProteinEntryName, d.EmbeddingTypeID, d.GroupDistance)
	if err != nil {
		return &model.StorageError{Op: "add semantic distance", Err: err}
	}
	return nil
}
