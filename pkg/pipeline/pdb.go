package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yumyai/metamorph/pkg/model"
)

// StructureFetcher resolves the chain sequences of one PDB entry.
type StructureFetcher interface {
	Chains(ctx context.Context, pdbID string) ([]model.ChainRecord, error)
}

// RCSBChainExtractor fetches chain sequences from the RCSB FASTA endpoint.
// One FASTA record covers one polymer entity; its header names the chains
// that share the sequence.
type RCSBChainExtractor struct {
	// BaseURL defaults to the public RCSB endpoint.
	BaseURL string
	Client  *http.Client
}

const defaultRCSBBaseURL = "https://www.rcsb.org/fasta/entry"

func (e *RCSBChainExtractor) Chains(ctx context.Context, pdbID string) ([]model.ChainRecord, error) {
	base := e.BaseURL
	if base == "" {
		base = defaultRCSBBaseURL
	}
	client := e.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	url := fmt.Sprintf("%s/%s", base, pdbID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &model.ExternalToolError{Tool: "rcsb", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("pdb entry %s: %w", pdbID, model.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &model.ExternalToolError{
			Tool: "rcsb",
			Err:  fmt.Errorf("GET %s: status %d", url, resp.StatusCode),
		}
	}

	chains, err := parseRCSBFasta(resp.Body)
	if err != nil {
		return nil, &model.ExternalToolError{Tool: "rcsb", Err: err}
	}
	return chains, nil
}

// parseRCSBFasta reads RCSB entity FASTA, e.g.
//
//	>1A3N_1|Chains A,C|Hemoglobin subunit alpha|Homo sapiens (9606)
//	VLSPADKTNVKAAW...
//
// and emits one ChainRecord per chain id named in the header.
func parseRCSBFasta(r io.Reader) ([]model.ChainRecord, error) {
	var out []model.ChainRecord
	var chains []string
	var seq strings.Builder

	flush := func() {
		for _, id := range chains {
			out = append(out, model.ChainRecord{Chain: id, Model: 1, Sequence: seq.String()})
		}
		chains = nil
		seq.Reset()
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			flush()
			chains = headerChains(line)
			continue
		}
		seq.WriteString(line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()

	if len(out) == 0 {
		return nil, fmt.Errorf("no chains in fasta")
	}
	return out, nil
}

// headerChains pulls the chain ids out of the second header field, which
// reads "Chain A" or "Chains A,C". Author ids like "B[auth D]" keep the
// label id.
func headerChains(header string) []string {
	fields := strings.Split(strings.TrimPrefix(header, ">"), "|")
	if len(fields) < 2 {
		return nil
	}
	spec := strings.TrimSpace(fields[1])
	spec = strings.TrimPrefix(spec, "Chains ")
	spec = strings.TrimPrefix(spec, "Chain ")

	var ids []string
	for _, part := range strings.Split(spec, ",") {
		id := strings.TrimSpace(part)
		if i := strings.Index(id, "["); i > 0 {
			id = strings.TrimSpace(id[:i])
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
