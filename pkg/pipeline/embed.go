package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/yumyai/metamorph/pkg/model"
)

// Embedder computes one embedding vector for a sequence under a given
// embedding type.
type Embedder interface {
	Embed(ctx context.Context, et model.EmbeddingType, seq *model.Sequence) ([]float64, error)
}

// CommandEmbedder shells out to one external binary per embedding type.
// The binary gets a FASTA file and must print the vector as a JSON array
// of numbers on stdout.
type CommandEmbedder struct {
	// Commands maps an embedding type name to the binary to run.
	Commands map[string]string
}

func (e *CommandEmbedder) Embed(ctx context.Context, et model.EmbeddingType, seq *model.Sequence) ([]float64, error) {
	bin, ok := e.Commands[et.Name]
	if !ok {
		return nil, fmt.Errorf("no command configured for embedding type %q", et.Name)
	}

	dir, err := os.MkdirTemp("", "metamorph-embed-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "seq.fasta")
	fasta := fmt.Sprintf(">seq_%d\n%s\n", seq.ID, seq.Sequence)
	if err := os.WriteFile(path, []byte(fasta), 0o644); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, bin, path)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %w: %s", et.Name, err, ee.Stderr)
		}
		return nil, fmt.Errorf("%s: %w", et.Name, err)
	}

	var vector []float64
	if err := json.Unmarshal(out, &vector); err != nil {
		return nil, fmt.Errorf("%s: bad vector output: %w", et.Name, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%s: empty vector", et.Name)
	}
	return vector, nil
}
