// Package pipeline runs the stages that take raw accession codes all the
// way to structural alignment results and GO annotation transfer. Stages
// run in order; the first failure stops the run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yumyai/metamorph/logger"
)

// Stage is one unit of pipeline work. Run fills in Processed; the
// orchestrator stamps the name and duration.
type Stage interface {
	Name() string
	Run(ctx context.Context) (StageResult, error)
}

type StageResult struct {
	Stage     string
	Processed int
	Duration  time.Duration
}

// Orchestrator executes stages sequentially under one run id. A stage
// error aborts the run; results for the stages that did finish are still
// returned.
type Orchestrator struct {
	runID  string
	stages []Stage
}

func NewOrchestrator(stages ...Stage) *Orchestrator {
	return &Orchestrator{
		runID:  uuid.NewString(),
		stages: stages,
	}
}

func (o *Orchestrator) RunID() string {
	return o.runID
}

func (o *Orchestrator) Run(ctx context.Context) ([]StageResult, error) {
	logger.Info("Starting pipeline run",
		zap.String("run_id", o.runID),
		zap.Int("stages", len(o.stages)))

	results := make([]StageResult, 0, len(o.stages))
	for _, stage := range o.stages {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		logger.Info("Starting stage", zap.String("stage", stage.Name()))
		start := time.Now()

		res, err := stage.Run(ctx)
		res.Stage = stage.Name()
		res.Duration = time.Since(start)
		if err != nil {
			logger.Error("Stage failed",
				zap.String("run_id", o.runID),
				zap.String("stage", stage.Name()),
				zap.Error(err))
			return results, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}

		results = append(results, res)
		logger.Info("Finished stage",
			zap.String("stage", res.Stage),
			zap.Int("processed", res.Processed),
			zap.Duration("duration", res.Duration))
	}

	logger.Info("Pipeline run finished", zap.String("run_id", o.runID))
	return results, nil
}
