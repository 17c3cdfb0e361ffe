package db

import (
	"context"
	"fmt"
)

// Timestamps are written from Go as unix nanoseconds so that staleness
// comparisons never depend on the driver's text formatting of time values.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sequences (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		sequence      TEXT NOT NULL,
		sequence_hash TEXT NOT NULL UNIQUE,
		created_at    INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sequence_hash ON sequences(sequence_hash);`,

	`CREATE TABLE IF NOT EXISTS proteins (
		entry_name  TEXT PRIMARY KEY,
		sequence_id INTEGER REFERENCES sequences(id),
		description TEXT NOT NULL DEFAULT '',
		gene_name   TEXT NOT NULL DEFAULT '',
		organism    TEXT NOT NULL DEFAULT '',
		taxonomy_id TEXT NOT NULL DEFAULT '',
		disappeared INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS accessions (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		accession_code     TEXT NOT NULL UNIQUE,
		protein_entry_name TEXT NOT NULL DEFAULT '',
		tag                TEXT NOT NULL DEFAULT '',
		is_primary         INTEGER NOT NULL DEFAULT 0,
		disappeared        INTEGER NOT NULL DEFAULT 0
	);`,

	`CREATE TABLE IF NOT EXISTS pdb_references (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		pdb_id             TEXT NOT NULL,
		protein_entry_name TEXT NOT NULL REFERENCES proteins(entry_name),
		method             TEXT NOT NULL DEFAULT '',
		resolution         REAL NOT NULL DEFAULT 0,
		sequence_id        INTEGER REFERENCES sequences(id)
	);`,

	`CREATE TABLE IF NOT EXISTS pdb_chains (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		pdb_reference_id INTEGER NOT NULL REFERENCES pdb_references(id),
		chain            TEXT NOT NULL,
		model            INTEGER NOT NULL DEFAULT 0,
		sequence_id      INTEGER NOT NULL REFERENCES sequences(id)
	);`,

	`CREATE TABLE IF NOT EXISTS embedding_types (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		name        TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		task_name   TEXT NOT NULL DEFAULT '',
		model_name  TEXT NOT NULL DEFAULT ''
	);`,

	`CREATE TABLE IF NOT EXISTS sequence_embeddings (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		sequence_id       INTEGER NOT NULL REFERENCES sequences(id),
		embedding_type_id INTEGER NOT NULL REFERENCES embedding_types(id),
		embedding         BLOB NOT NULL,
		created_at        INTEGER NOT NULL,
		UNIQUE(sequence_id, embedding_type_id)
	);`,

	`CREATE TABLE IF NOT EXISTS clusters (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at INTEGER NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS cluster_entries (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		cluster_id        INTEGER NOT NULL REFERENCES clusters(id),
		sequence_id       INTEGER NOT NULL REFERENCES sequences(id),
		is_representative INTEGER NOT NULL DEFAULT 0,
		sequence_length   INTEGER NOT NULL DEFAULT 0,
		identity          REAL NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_cluster_entries_cluster ON cluster_entries(cluster_id);`,

	`CREATE TABLE IF NOT EXISTS subclusters (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		cluster_id        INTEGER NOT NULL REFERENCES clusters(id),
		embedding_type_id INTEGER NOT NULL REFERENCES embedding_types(id),
		description       TEXT NOT NULL DEFAULT '',
		created_at        INTEGER NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS subcluster_entries (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		subcluster_id     INTEGER NOT NULL REFERENCES subclusters(id),
		sequence_id       INTEGER NOT NULL REFERENCES sequences(id),
		is_representative INTEGER NOT NULL DEFAULT 0,
		sequence_length   INTEGER NOT NULL DEFAULT 0,
		identity          REAL NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_subcluster_entries_subcluster ON subcluster_entries(subcluster_id);`,

	`CREATE TABLE IF NOT EXISTS structural_alignment_types (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		name        TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		task_name   TEXT NOT NULL DEFAULT ''
	);`,

	`CREATE TABLE IF NOT EXISTS structural_alignment_queue (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		cluster_entry_id  INTEGER NOT NULL REFERENCES cluster_entries(id),
		alignment_type_id INTEGER NOT NULL REFERENCES structural_alignment_types(id),
		state             INTEGER NOT NULL DEFAULT 0,
		retry_count       INTEGER NOT NULL DEFAULT 0,
		error_message     TEXT,
		worker_id         TEXT,
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL
	);`,
	// One live task per (cluster entry, alignment type) pair. Terminal rows
	// stay behind as an audit trail and do not block a new enqueue.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_open_pair
		ON structural_alignment_queue(cluster_entry_id, alignment_type_id)
		WHERE state IN (0, 1);`,
	`CREATE INDEX IF NOT EXISTS idx_queue_state ON structural_alignment_queue(state);`,

	`CREATE TABLE IF NOT EXISTS structural_alignment_results (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id          INTEGER NOT NULL UNIQUE REFERENCES structural_alignment_queue(id),
		cluster_entry_id INTEGER NOT NULL REFERENCES cluster_entries(id),
		ce_rms           REAL NOT NULL DEFAULT 0,
		tm_rms           REAL NOT NULL DEFAULT 0,
		tm_seq_id        REAL NOT NULL DEFAULT 0,
		tm_score_chain_1 REAL NOT NULL DEFAULT 0,
		tm_score_chain_2 REAL NOT NULL DEFAULT 0,
		fc_rms           REAL NOT NULL DEFAULT 0,
		fc_identity      REAL NOT NULL DEFAULT 0,
		fc_similarity    REAL NOT NULL DEFAULT 0,
		fc_score         REAL NOT NULL DEFAULT 0,
		fc_align_len     REAL NOT NULL DEFAULT 0,
		created_at       INTEGER NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS go_terms (
		go_id       TEXT PRIMARY KEY,
		category    TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		evidences   TEXT NOT NULL DEFAULT ''
	);`,

	`CREATE TABLE IF NOT EXISTS protein_go_term_association (
		protein_entry_name TEXT NOT NULL REFERENCES proteins(entry_name),
		go_id              TEXT NOT NULL REFERENCES go_terms(go_id),
		PRIMARY KEY (protein_entry_name, go_id)
	);`,

	`CREATE TABLE IF NOT EXISTS sequence_go_predictions (
		id                     INTEGER PRIMARY KEY AUTOINCREMENT,
		sequence_id            INTEGER NOT NULL REFERENCES sequences(id),
		ref_protein_entry_name TEXT NOT NULL DEFAULT '',
		go_id                  TEXT NOT NULL REFERENCES go_terms(go_id),
		embedding_type_id      INTEGER NOT NULL REFERENCES embedding_types(id),
		k                      INTEGER NOT NULL DEFAULT 0
	);`,

	`CREATE TABLE IF NOT EXISTS go_per_protein_semantic_distances (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		protein_entry_name TEXT NOT NULL REFERENCES proteins(entry_name),
		embedding_type_id  INTEGER NOT NULL REFERENCES embedding_types(id),
		group_distance     REAL NOT NULL
	);`,
}

// Init creates the schema if it is not there yet. Safe to call on every
// startup.
func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
