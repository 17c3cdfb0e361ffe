package model

// Drafts are the in-memory output of one clustering run before it is
// committed. The store writes a whole run in a single transaction, so a
// failing run leaves no partial clusters behind.

type ClusterEntryDraft struct {
	SequenceID       int64
	IsRepresentative bool
	SequenceLength   int
	Identity         float64
}

type ClusterDraft struct {
	Entries []ClusterEntryDraft
}

type SubclusterDraft struct {
	ClusterID       int64
	EmbeddingTypeID int64
	Description     string
	Entries         []ClusterEntryDraft
}

// Records below are what the extraction collaborators hand over before any
// row exists. Entities reference each other by id once stored; records are
// the only place the object graph is nested.

type AccessionRecord struct {
	Code    string
	Tag     string
	Primary bool
}

type ChainRecord struct {
	Chain    string
	Model    int
	Sequence string
}

type PDBRecord struct {
	PDBID      string
	Method     string
	Resolution float64
	Chains     []ChainRecord
}

type ProteinRecord struct {
	EntryName   string
	Description string
	GeneName    string
	Organism    string
	TaxonomyID  string
	Sequence    string
	PDBRefs     []PDBRecord
	GOTerms     []GOTerm
}
