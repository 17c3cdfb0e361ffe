package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/yumyai/metamorph/pkg/model"
)

// AccessionSource hands the pipeline the accession codes to work on.
type AccessionSource interface {
	Load(ctx context.Context) ([]model.AccessionRecord, error)
}

// CSVAccessionSource reads accession codes from one column of a CSV file
// with a header row. This matches the usual "download a table from UniProt
// and point the pipeline at it" workflow.
type CSVAccessionSource struct {
	Path   string
	Column string
	// Tag is attached to every accession loaded from this file.
	Tag string
}

func (s *CSVAccessionSource) Load(ctx context.Context) ([]model.AccessionRecord, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), s.Column) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("column %q not found in %s", s.Column, s.Path)
	}

	seen := make(map[string]bool)
	var out []model.AccessionRecord
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		code := strings.TrimSpace(row[col])
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, model.AccessionRecord{Code: code, Tag: s.Tag, Primary: true})
	}
	return out, nil
}
