package domain

import "time"

// Standard patent section names. Any non-empty name is accepted.
const (
	SectionTitle       = "title"
	SectionAbstract    = "abstract"
	SectionClaims      = "claims"
	SectionDescription = "description"
)

// Document is an ingested patent record. Sections keep their input order.
type Document struct {
	ID              string    `json:"id" yaml:"id"`
	Title           string    `json:"title" yaml:"title"`
	Sections        []Section `json:"sections" yaml:"sections"`
	Class           string    `json:"cpc_class,omitempty" yaml:"cpc_class,omitempty"`
	PublicationDate time.Time `json:"publication_date,omitempty" yaml:"publication_date,omitempty"`
	Inventor        string    `json:"inventor,omitempty" yaml:"inventor,omitempty"`
	Assignee        string    `json:"assignee,omitempty" yaml:"assignee,omitempty"`
}

// Section is one named, contiguous block of document text.
type Section struct {
	Name string `json:"name" yaml:"name"`
	Text string `json:"text" yaml:"text"`
}

// SectionText returns the text of the named section.
func (d Document) SectionText(name string) (string, bool) {
	for _, s := range d.Sections {
		if s.Name == name {
			return s.Text, true
		}
	}
	return "", false
}

// Chunk is a window of section text. Start and End are rune offsets into the
// section text, not into Text.
type Chunk struct {
	ID         string
	DocID      string
	Section    string
	Class      string
	Text       string
	Start      int
	End        int
	Seq        int
	TokenCount int
	Terms      []string
}

// ScoredID is a ranked reference to a chunk as exchanged between the indexes,
// fusion and reranking.
type ScoredID struct {
	ChunkID string
	DocID   string
	Seq     int
	Score   float64
}

// Filters restrict candidates before scoring. Zero value matches everything.
type Filters struct {
	Sections []string `json:"sections,omitempty" yaml:"sections,omitempty"`
	Class    string   `json:"cpc_class,omitempty" yaml:"cpc_class,omitempty"`
}

// IsEmpty reports whether no filter is set.
func (f Filters) IsEmpty() bool {
	return len(f.Sections) == 0 && f.Class == ""
}

// Match reports whether a chunk with the given section and class passes.
func (f Filters) Match(section, class string) bool {
	if f.Class != "" && f.Class != class {
		return false
	}
	if len(f.Sections) == 0 {
		return true
	}
	for _, s := range f.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Query is a single retrieval request.
type Query struct {
	Text    string  `json:"query"`
	K       int     `json:"top_k"`
	Filters Filters `json:"filters"`
}

// Passage is a chunk returned to a caller as a citation.
type Passage struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Section    string  `json:"section"`
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
	Query      string  `json:"query"`
}

// ContextPack is the passage bundle handed to the generation collaborator.
type ContextPack struct {
	Query           string    `json:"query"`
	Passages        []Passage `json:"passages"`
	TotalChunks     int       `json:"total_chunks"`
	RetrievalTimeMS float64   `json:"retrieval_time_ms"`
}

// IngestStatus reports the outcome for one document of a batch.
type IngestStatus struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Err        error  `json:"-"`
}

// OK reports whether the document was indexed.
func (s IngestStatus) OK() bool {
	return s.Err == nil
}

// EmbeddingRecord pairs a chunk id with its vector and the attributes the
// vector index filters on.
type EmbeddingRecord struct {
	ChunkID string
	DocID   string
	Section string
	Class   string
	Seq     int
	Vector  []float32
}
