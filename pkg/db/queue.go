package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/yumyai/metamorph/pkg/model"
	"github.com/yumyai/metamorph/pkg/queue"
)

// Queue operations. Tasks are rows in structural_alignment_queue; they are
// created by the sub-clustering stage, driven to a terminal state by the
// dispatcher and never deleted.

// Enqueue registers a (cluster entry, alignment type) pair as pending work.
// Idempotent while a non-terminal row for the pair exists: the partial
// unique index turns the duplicate insert into a no-op.
func (s *Store) Enqueue(ctx context.Context, clusterEntryID, alignmentTypeID int64) error {
	now := s.timestamp()
	_, err := s.sql.ExecContext(ctx,
		`INSERT INTO structural_alignment_queue
			(cluster_entry_id, alignment_type_id, state, retry_count, created_at, updated_at)
		 VALUES (?, ?, 0, 0, ?, ?)
		 ON CONFLICT(cluster_entry_id, alignment_type_id) WHERE state IN (0, 1) DO NOTHING`,
		clusterEntryID, alignmentTypeID, now, now)
	if err != nil {
		return &model.StorageError{Op: "enqueue", Err: err}
	}
	return nil
}

// Claim atomically picks one claimable task, marks it processing under the
// worker's id and returns it. The selection and the state flip happen in a
// single conditional UPDATE, so two concurrent claimers can never hold the
// same row. Returns model.ErrNoTask when nothing is claimable.
func (s *Store) Claim(ctx context.Context, workerID string, maxRetries int) (*model.AlignmentTask, error) {
	row := s.sql.QueryRowContext(ctx,
		`UPDATE structural_alignment_queue
		 SET state = 1, worker_id = ?, updated_at = ?
		 WHERE id = (
			SELECT id FROM structural_alignment_queue
			WHERE state = 0 OR (state = 3 AND retry_count < ?)
			ORDER BY id
			LIMIT 1
		 ) AND state IN (0, 3)
		 RETURNING id, cluster_entry_id, alignment_type_id, state, retry_count,
			COALESCE(error_message, ''), COALESCE(worker_id, ''), created_at, updated_at`,
		workerID, s.timestamp(), maxRetries)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNoTask
	}
	if err != nil {
		return nil, &model.StorageError{Op: "claim", Err: err}
	}
	return task, nil
}

// Complete writes the result row and flips the task to completed in one
// transaction. A crash in between rolls back both, leaving the task in
// processing for the stale sweep to requeue; a completed task therefore
// always has its result row.
func (s *Store) Complete(ctx context.Context, taskID int64, m model.AlignmentMetrics) error {
	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return &model.StorageError{Op: "complete", Err: err}
	}
	defer tx.Rollback()

	var clusterEntryID int64
	var state model.TaskState
	var retryCount int
	err = tx.QueryRowContext(ctx,
		`SELECT cluster_entry_id, state, retry_count FROM structural_alignment_queue WHERE id = ?`,
		taskID).Scan(&clusterEntryID, &state, &retryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return &model.StorageError{Op: "complete", Err: err}
	}

	next, _, err := queue.Transition(state, retryCount, 0, queue.EventComplete)
	if err != nil {
		return model.ErrNotClaimed
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO structural_alignment_results
			(task_id, cluster_entry_id, ce_rms, tm_rms, tm_seq_id, tm_score_chain_1, tm_score_chain_2,
			 fc_rms, fc_identity, fc_similarity, fc_score, fc_align_len, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		taskID, clusterEntryID, m.CeRMS, m.TmRMS, m.TmSeqID, m.TmScoreChainA, m.TmScoreChainB,
		m.FcRMS, m.FcIdentity, m.FcSimilarity, m.FcScore, m.FcAlignLen, s.timestamp()); err != nil {
		return &model.StorageError{Op: "complete", Err: err}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE structural_alignment_queue SET state = ?, updated_at = ? WHERE id = ? AND state = 1`,
		int(next), s.timestamp(), taskID)
	if err != nil {
		return &model.StorageError{Op: "complete", Err: err}
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return model.ErrNotClaimed
	}

	if err := tx.Commit(); err != nil {
		return &model.StorageError{Op: "complete", Err: err}
	}
	return nil
}

// Fail records a failed attempt. Below the retry budget the task goes back
// to pending with the message kept for diagnosis; at the budget it goes
// terminally to error. The update is conditioned on the row still being in
// processing with the retry count the transition was computed from.
func (s *Store) Fail(ctx context.Context, taskID int64, maxRetries int, errMsg string) (model.TaskState, error) {
	var state model.TaskState
	var retryCount int
	err := s.sql.QueryRowContext(ctx,
		`SELECT state, retry_count FROM structural_alignment_queue WHERE id = ?`,
		taskID).Scan(&state, &retryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, model.ErrNotFound
	}
	if err != nil {
		return 0, &model.StorageError{Op: "fail", Err: err}
	}

	next, nextRetry, err := queue.Transition(state, retryCount, maxRetries, queue.EventFail)
	if err != nil {
		return state, model.ErrNotClaimed
	}

	res, err := s.sql.ExecContext(ctx,
		`UPDATE structural_alignment_queue
		 SET state = ?, retry_count = ?, error_message = ?, worker_id = NULL, updated_at = ?
		 WHERE id = ? AND state = 1 AND retry_count = ?`,
		int(next), nextRetry, errMsg, s.timestamp(), taskID, retryCount)
	if err != nil {
		return state, &model.StorageError{Op: "fail", Err: err}
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return state, model.ErrNotClaimed
	}
	return next, nil
}

// RecoverStale requeues processing tasks whose last update is older than
// timeout, treating their workers as crashed. Each goes through the normal
// fail path with a synthetic stale-claim message, so the retry budget still
// bounds how often a poisonous task is retried. Returns how many tasks were
// swept.
func (s *Store) RecoverStale(ctx context.Context, timeout time.Duration, maxRetries int) (int, error) {
	cutoff := s.now().Add(-timeout).UnixNano()

	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, COALESCE(worker_id, ''), updated_at
		 FROM structural_alignment_queue
		 WHERE state = 1 AND updated_at <= ?`, cutoff)
	if err != nil {
		return 0, &model.StorageError{Op: "recover stale", Err: err}
	}

	type stale struct {
		id        int64
		workerID  string
		updatedAt int64
	}
	var found []stale
	for rows.Next() {
		var st stale
		if err := rows.Scan(&st.id, &st.workerID, &st.updatedAt); err != nil {
			rows.Close()
			return 0, &model.StorageError{Op: "recover stale", Err: err}
		}
		found = append(found, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, &model.StorageError{Op: "recover stale", Err: err}
	}

	swept := 0
	for _, st := range found {
		age := s.now().Sub(time.Unix(0, st.updatedAt))
		msg := (&model.StaleClaimError{WorkerID: st.workerID, Age: age.Round(time.Second)}).Error()

		_, err := s.Fail(ctx, st.id, maxRetries, msg)
		if errors.Is(err, model.ErrNotClaimed) {
			// The owner finished between the scan and the sweep. Leave it.
			continue
		}
		if err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// GetTask fetches one queue row.
func (s *Store) GetTask(ctx context.Context, id int64) (*model.AlignmentTask, error) {
	row := s.sql.QueryRowContext(ctx,
		`SELECT id, cluster_entry_id, alignment_type_id, state, retry_count,
			COALESCE(error_message, ''), COALESCE(worker_id, ''), created_at, updated_at
		 FROM structural_alignment_queue WHERE id = ?`, id)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, &model.StorageError{Op: "get task", Err: err}
	}
	return task, nil
}

// ListTasks returns the whole queue, oldest first. The queue doubles as an
// audit trail, so this is the inspection surface for failed runs.
func (s *Store) ListTasks(ctx context.Context) ([]model.AlignmentTask, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, cluster_entry_id, alignment_type_id, state, retry_count,
			COALESCE(error_message, ''), COALESCE(worker_id, ''), created_at, updated_at
		 FROM structural_alignment_queue ORDER BY id`)
	if err != nil {
		return nil, &model.StorageError{Op: "list tasks", Err: err}
	}
	defer rows.Close()

	var out []model.AlignmentTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, &model.StorageError{Op: "list tasks", Err: err}
		}
		out = append(out, *task)
	}
	return out, rows.Err()
}

// OpenTaskCount counts tasks that are pending or processing. The drain loop
// uses it to decide when the queue is exhausted.
func (s *Store) OpenTaskCount(ctx context.Context) (int, error) {
	var n int
	err := s.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM structural_alignment_queue WHERE state IN (0, 1)`).Scan(&n)
	if err != nil {
		return 0, &model.StorageError{Op: "open task count", Err: err}
	}
	return n, nil
}

// ResultsByClusterEntry lists persisted alignment results for one cluster
// entry.
func (s *Store) ResultsByClusterEntry(ctx context.Context, clusterEntryID int64) ([]model.AlignmentResult, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, cluster_entry_id, ce_rms, tm_rms, tm_seq_id, tm_score_chain_1, tm_score_chain_2,
			fc_rms, fc_identity, fc_similarity, fc_score, fc_align_len, created_at
		 FROM structural_alignment_results WHERE cluster_entry_id = ? ORDER BY id`, clusterEntryID)
	if err != nil {
		return nil, &model.StorageError{Op: "results by cluster entry", Err: err}
	}
	defer rows.Close()

	var out []model.AlignmentResult
	for rows.Next() {
		var r model.AlignmentResult
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.ClusterEntryID, &r.CeRMS, &r.TmRMS, &r.TmSeqID,
			&r.TmScoreChainA, &r.TmScoreChainB, &r.FcRMS, &r.FcIdentity, &r.FcSimilarity,
			&r.FcScore, &r.FcAlignLen, &createdAt); err != nil {
			return nil, &model.StorageError{Op: "results by cluster entry", Err: err}
		}
		r.CreatedAt = time.Unix(0, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*model.AlignmentTask, error) {
	var t model.AlignmentTask
	var state int
	var createdAt, updatedAt int64

	err := row.Scan(&t.ID, &t.ClusterEntryID, &t.AlignmentTypeID, &state, &t.RetryCount,
		&t.ErrorMessage, &t.WorkerID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.State = model.TaskState(state)
	t.CreatedAt = time.Unix(0, createdAt)
	t.UpdatedAt = time.Unix(0, updatedAt)
	return &t, nil
}
