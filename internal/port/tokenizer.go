package port

// Tokenizer produces normalized lexical terms. Chunking, BM25 and the local
// reranker must share one instance so their terms agree.
type Tokenizer interface {
	Tokenize(text string) []string

	// CountTokens counts whitespace-delimited tokens, the chunk size unit.
	CountTokens(text string) int
}
