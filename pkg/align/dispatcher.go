package align

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yumyai/metamorph/logger"
	"github.com/yumyai/metamorph/pkg/db"
	"github.com/yumyai/metamorph/pkg/model"
)

// Config tunes the dispatcher. Zero values fall back to the defaults below.
type Config struct {
	Workers      int
	MaxRetries   int
	TaskTimeout  time.Duration
	StaleTimeout time.Duration
	PollInterval time.Duration

	// Drain makes Run return once the queue holds no open task, instead
	// of polling forever. The pipeline's alignment stage runs in this
	// mode.
	Drain bool
}

const (
	DefaultWorkers      = 4
	DefaultMaxRetries   = 3
	DefaultTaskTimeout  = 5 * time.Minute
	DefaultStaleTimeout = 30 * time.Minute
	DefaultPollInterval = 2 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = DefaultStaleTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Dispatcher owns the worker pool that drives queued alignment tasks to a
// terminal state. Multiple dispatcher processes may run against the same
// store; the claim operation is the only cross-worker coordination point.
type Dispatcher struct {
	store   *db.Store
	aligner Aligner
	cfg     Config
}

func NewDispatcher(store *db.Store, aligner Aligner, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:   store,
		aligner: aligner,
		cfg:     cfg.withDefaults(),
	}
}

// Run starts the pool and blocks until the queue is drained (Drain mode),
// the context is cancelled, or a storage failure kills a worker. Alignment
// failures never propagate; they end up in the task's error_message.
func (d *Dispatcher) Run(ctx context.Context) error {
	// Reclaim anything a crashed previous run left in processing.
	swept, err := d.store.RecoverStale(ctx, d.cfg.StaleTimeout, d.cfg.MaxRetries)
	if err != nil {
		return err
	}
	if swept > 0 {
		logger.Warn("Requeued stale tasks from a previous run", zap.Int("count", swept))
	}

	g, gctx := errgroup.WithContext(ctx)

	done := make(chan struct{})
	sweeperStopped := make(chan struct{})
	go d.sweepLoop(gctx, done, sweeperStopped)

	for i := 0; i < d.cfg.Workers; i++ {
		workerID := uuid.NewString()
		g.Go(func() error {
			return d.worker(gctx, workerID)
		})
	}

	runErr := g.Wait()
	close(done)
	<-sweeperStopped
	return runErr
}

// sweepLoop periodically requeues stale claims while the pool runs. This is
// what un-strands tasks whose worker died mid-alignment.
func (d *Dispatcher) sweepLoop(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	interval := d.cfg.StaleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := d.store.RecoverStale(ctx, d.cfg.StaleTimeout, d.cfg.MaxRetries)
			if err != nil {
				logger.Error("Stale sweep failed", zap.Error(err))
				continue
			}
			if swept > 0 {
				logger.Warn("Requeued stale tasks", zap.Int("count", swept))
			}
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context, workerID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		task, err := d.store.Claim(ctx, workerID, d.cfg.MaxRetries)
		if errors.Is(err, model.ErrNoTask) {
			if d.cfg.Drain {
				open, err := d.store.OpenTaskCount(ctx)
				if err != nil {
					return err
				}
				if open == 0 {
					return nil
				}
				// Open tasks are held by sibling workers; they will
				// either finish or requeue them.
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.cfg.PollInterval):
			}
			continue
		}
		if err != nil {
			return err
		}

		d.process(ctx, workerID, task)
	}
}

// process runs one claimed task to complete or fail. Nothing here returns
// an error to the caller: every failure mode is captured on the task row.
func (d *Dispatcher) process(ctx context.Context, workerID string, task *model.AlignmentTask) {
	logger.Debug("Claimed alignment task",
		zap.Int64("task_id", task.ID),
		zap.String("worker", workerID),
		zap.Int("retry_count", task.RetryCount))

	rep, member, taskName, err := d.resolve(ctx, task)
	if err != nil {
		d.fail(ctx, task, fmt.Sprintf("resolve task inputs: %v", err))
		return
	}

	// The store is not touched while the external call runs; the claim
	// row itself is the only lock this worker holds.
	alignCtx, cancel := context.WithTimeout(ctx, d.cfg.TaskTimeout)
	metrics, alignErr := d.aligner.Align(alignCtx, taskName, rep, member)
	cancel()

	if alignErr != nil {
		toolErr := &model.ExternalToolError{Tool: taskName, Err: alignErr}
		msg := toolErr.Error()
		if errors.Is(alignErr, context.DeadlineExceeded) || errors.Is(alignCtx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("%s: timed out after %s", taskName, d.cfg.TaskTimeout)
		}
		d.fail(ctx, task, msg)
		return
	}

	if err := d.store.Complete(ctx, task.ID, metrics); err != nil {
		// ErrNotClaimed means the stale sweep took the task back while
		// the alignment ran; the requeued attempt will redo it.
		logger.Warn("Could not complete task",
			zap.Int64("task_id", task.ID),
			zap.Error(err))
		return
	}

	logger.Debug("Completed alignment task", zap.Int64("task_id", task.ID))
}

// resolve loads the alignment method plus the representative and member
// sequences the task refers to.
func (d *Dispatcher) resolve(ctx context.Context, task *model.AlignmentTask) (rep, member *model.Sequence, taskName string, err error) {
	atype, err := d.store.GetAlignmentType(ctx, task.AlignmentTypeID)
	if err != nil {
		return nil, nil, "", err
	}

	entry, err := d.store.GetClusterEntry(ctx, task.ClusterEntryID)
	if err != nil {
		return nil, nil, "", err
	}

	repEntry, err := d.store.RepresentativeEntry(ctx, entry.ClusterID)
	if err != nil {
		return nil, nil, "", err
	}

	rep, err = d.store.GetSequence(ctx, repEntry.SequenceID)
	if err != nil {
		return nil, nil, "", err
	}
	member, err = d.store.GetSequence(ctx, entry.SequenceID)
	if err != nil {
		return nil, nil, "", err
	}
	return rep, member, atype.TaskName, nil
}

func (d *Dispatcher) fail(ctx context.Context, task *model.AlignmentTask, msg string) {
	state, err := d.store.Fail(ctx, task.ID, d.cfg.MaxRetries, msg)
	if err != nil {
		logger.Warn("Could not record task failure",
			zap.Int64("task_id", task.ID),
			zap.Error(err))
		return
	}

	if state == model.TaskError {
		logger.Error("Task failed terminally",
			zap.Int64("task_id", task.ID),
			zap.String("error_message", msg))
		return
	}
	logger.Debug("Task requeued after failure",
		zap.Int64("task_id", task.ID),
		zap.String("error_message", msg))
}
