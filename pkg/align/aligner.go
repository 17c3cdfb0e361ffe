// Package align drains the structural alignment queue: a pool of workers
// claims tasks, invokes the external alignment operation named by the
// task's alignment type and reports the outcome back to the store.
package align

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/yumyai/metamorph/pkg/model"
)

// Aligner is the opaque external alignment operation. taskName comes from
// the task's StructuralAlignmentType (cealign, usalign, fatcat) and selects
// the method; rep and member are the chains being compared.
type Aligner interface {
	Align(ctx context.Context, taskName string, rep, member *model.Sequence) (model.AlignmentMetrics, error)
}

// CommandAligner shells out to one external binary per task name. The
// binary gets two FASTA files and must print its metrics as JSON on stdout.
type CommandAligner struct {
	// Commands maps an alignment task name to the binary to run.
	Commands map[string]string
}

func (a *CommandAligner) Align(ctx context.Context, taskName string, rep, member *model.Sequence) (model.AlignmentMetrics, error) {
	var metrics model.AlignmentMetrics

	bin, ok := a.Commands[taskName]
	if !ok {
		return metrics, fmt.Errorf("no command configured for alignment task %q", taskName)
	}

	dir, err := os.MkdirTemp("", "metamorph-align-")
	if err != nil {
		return metrics, err
	}
	defer os.RemoveAll(dir)

	repPath := filepath.Join(dir, "rep.fasta")
	memberPath := filepath.Join(dir, "member.fasta")
	if err := writeFasta(repPath, fmt.Sprintf("seq_%d", rep.ID), rep.Sequence); err != nil {
		return metrics, err
	}
	if err := writeFasta(memberPath, fmt.Sprintf("seq_%d", member.ID), member.Sequence); err != nil {
		return metrics, err
	}

	cmd := exec.CommandContext(ctx, bin, repPath, memberPath)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return metrics, fmt.Errorf("%s: %w: %s", taskName, err, ee.Stderr)
		}
		return metrics, fmt.Errorf("%s: %w", taskName, err)
	}

	if err := json.Unmarshal(out, &metrics); err != nil {
		return metrics, fmt.Errorf("%s: bad metrics output: %w", taskName, err)
	}
	return metrics, nil
}

func writeFasta(path, id, seq string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf(">%s\n%s\n", id, seq)), 0o644)
}
