package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"priorart/internal/adapter/analyzer"
	"priorart/internal/domain"
	"priorart/internal/port"
)

// Window is one chunk position over a section: the token range it covers and
// the rune offsets it maps back to.
type Window struct {
	FirstToken int
	Tokens     int
	Start      int
	End        int
}

// WindowChunker slides a fixed-size token window over each section.
type WindowChunker struct {
	size      int
	overlap   int
	tokenizer port.Tokenizer
}

// NewWindowChunker validates size and overlap. The tokenizer produces the
// lexical terms stored on each chunk.
func NewWindowChunker(size, overlap int, tokenizer port.Tokenizer) (*WindowChunker, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	if tokenizer == nil {
		tokenizer = analyzer.NewTokenizer()
	}
	return &WindowChunker{
		size:      size,
		overlap:   overlap,
		tokenizer: tokenizer,
	}, nil
}

func validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrInvalidConfiguration, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", domain.ErrInvalidConfiguration, size, overlap)
	}
	return nil
}

// Chunk splits one section of doc. Offsets are rune offsets into section.Text.
func (c *WindowChunker) Chunk(doc domain.Document, section domain.Section) ([]domain.Chunk, error) {
	text := []rune(section.Text)
	windows, err := Windows(text, c.size, c.overlap)
	if err != nil {
		return nil, fmt.Errorf("document %s section %q: %w", doc.ID, section.Name, err)
	}

	chunks := make([]domain.Chunk, 0, len(windows))
	for seq, w := range windows {
		chunkText := string(text[w.Start:w.End])
		chunks = append(chunks, domain.Chunk{
			ID:         GenerateChunkID(doc.ID, section.Name, seq),
			DocID:      doc.ID,
			Section:    section.Name,
			Class:      doc.Class,
			Text:       chunkText,
			Start:      w.Start,
			End:        w.End,
			Seq:        seq,
			TokenCount: w.Tokens,
			Terms:      c.tokenizer.Tokenize(chunkText),
		})
	}
	return chunks, nil
}

// Windows computes the chunk windows of text. Each window starts where its
// first token starts (the first window at 0) and ends where the token after
// it starts (the last window at len(text)), so the windows cover text
// without gaps.
func Windows(text []rune, size, overlap int) ([]Window, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	spans := analyzer.Spans(text)
	if len(spans) == 0 {
		return nil, domain.ErrEmptySection
	}

	step := size - overlap
	var windows []Window
	for first := 0; ; first += step {
		last := min(first+size, len(spans))

		start := spans[first].Start
		if first == 0 {
			start = 0
		}
		end := len(text)
		if last < len(spans) {
			end = spans[last].Start
		}

		windows = append(windows, Window{
			FirstToken: first,
			Tokens:     last - first,
			Start:      start,
			End:        end,
		})
		if last == len(spans) {
			break
		}
	}
	return windows, nil
}

// Reconstruct joins chunk spans of one section, skipping overlapped runes.
// Chunks must be ordered by Seq.
func Reconstruct(section string, chunks []domain.Chunk) string {
	text := []rune(section)
	out := make([]rune, 0, len(text))
	covered := 0
	for _, ch := range chunks {
		from := max(ch.Start, covered)
		if from < ch.End {
			out = append(out, text[from:ch.End]...)
			covered = ch.End
		}
	}
	return string(out)
}

// GenerateChunkID derives a stable id from the chunk's position.
func GenerateChunkID(docID, section string, seq int) string {
	data := fmt.Sprintf("%s:%s:%d", docID, section, seq)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}
