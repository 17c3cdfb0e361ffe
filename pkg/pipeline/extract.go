package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yumyai/metamorph/pkg/model"
)

// Extractor turns an accession code into a full protein record.
type Extractor interface {
	Fetch(ctx context.Context, accessionCode string) (*model.ProteinRecord, error)
}

// UniProtExtractor fetches protein entries from the UniProtKB REST API.
type UniProtExtractor struct {
	// BaseURL defaults to the public UniProtKB endpoint.
	BaseURL string
	Client  *http.Client
}

const defaultUniProtBaseURL = "https://rest.uniprot.org/uniprotkb"

// Subset of the UniProtKB entry JSON we actually consume.
type uniprotEntry struct {
	PrimaryAccession string `json:"primaryAccession"`
	UniProtkbID      string `json:"uniProtkbId"`
	Organism         struct {
		ScientificName string `json:"scientificName"`
		TaxonID        int    `json:"taxonId"`
	} `json:"organism"`
	ProteinDescription struct {
		RecommendedName struct {
			FullName struct {
				Value string `json:"value"`
			} `json:"fullName"`
		} `json:"recommendedName"`
	} `json:"proteinDescription"`
	Genes []struct {
		GeneName struct {
			Value string `json:"value"`
		} `json:"geneName"`
	} `json:"genes"`
	Sequence struct {
		Value string `json:"value"`
	} `json:"sequence"`
	CrossReferences []uniprotXref `json:"uniProtKBCrossReferences"`
}

type uniprotXref struct {
	Database   string `json:"database"`
	ID         string `json:"id"`
	Properties []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"properties"`
}

func (x uniprotXref) property(key string) string {
	for _, p := range x.Properties {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

func (e *UniProtExtractor) Fetch(ctx context.Context, accessionCode string) (*model.ProteinRecord, error) {
	base := e.BaseURL
	if base == "" {
		base = defaultUniProtBaseURL
	}
	client := e.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	url := fmt.Sprintf("%s/%s.json", base, accessionCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &model.ExternalToolError{Tool: "uniprot", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("accession %s: %w", accessionCode, model.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &model.ExternalToolError{
			Tool: "uniprot",
			Err:  fmt.Errorf("GET %s: status %d", url, resp.StatusCode),
		}
	}

	var entry uniprotEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, &model.ExternalToolError{Tool: "uniprot", Err: fmt.Errorf("decode entry: %w", err)}
	}
	if entry.UniProtkbID == "" || entry.Sequence.Value == "" {
		return nil, fmt.Errorf("accession %s: incomplete entry", accessionCode)
	}

	rec := &model.ProteinRecord{
		EntryName:   entry.UniProtkbID,
		Description: entry.ProteinDescription.RecommendedName.FullName.Value,
		Organism:    entry.Organism.ScientificName,
		TaxonomyID:  strconv.Itoa(entry.Organism.TaxonID),
		Sequence:    entry.Sequence.Value,
	}
	if len(entry.Genes) > 0 {
		rec.GeneName = entry.Genes[0].GeneName.Value
	}

	for _, xref := range entry.CrossReferences {
		switch xref.Database {
		case "PDB":
			rec.PDBRefs = append(rec.PDBRefs, model.PDBRecord{
				PDBID:      xref.ID,
				Method:     xref.property("Method"),
				Resolution: parseResolution(xref.property("Resolution")),
			})
		case "GO":
			term := xref.property("GoTerm")
			cat, desc := splitGoTerm(term)
			rec.GOTerms = append(rec.GOTerms, model.GOTerm{
				GoID:        xref.ID,
				Category:    cat,
				Description: desc,
				Evidences:   xref.property("GoEvidenceType"),
			})
		}
	}
	return rec, nil
}

// parseResolution turns UniProt's "2.30 A" into 2.30. Entries without a
// crystal structure carry "-", which maps to zero.
func parseResolution(s string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(s, "A"))
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// splitGoTerm splits UniProt's "F:protein binding" form into the category
// letter and the description.
func splitGoTerm(s string) (category, description string) {
	if len(s) > 2 && s[1] == ':' {
		return s[:1], s[2:]
	}
	return "", s
}
