// Package chunker splits extracted document text into overlapping,
// bounded-size segments with deterministic identifiers.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Chunk is one contiguous segment of a document's text, the unit of
// embedding and retrieval.
type Chunk struct {
	ID         string // stable hash of (document id, start offset, text)
	DocumentID string
	Ordinal    int // position of the chunk within the document
	Start      int // rune offset of the first rune
	Text       string
	Length     int // rune count of Text
}

// Chunker produces overlapping chunks of a fixed target size.
// Size and Overlap are measured in runes; 0 <= Overlap < Size.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker with the given target size and overlap.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("overlap must satisfy 0 <= overlap < size, got size=%d overlap=%d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split divides text into chunks. Chunk i starts at rune offset i*(size-overlap),
// so consecutive chunks share `overlap` runes and together cover the whole
// text with no gaps. Splitting the same text with the same parameters always
// yields identical chunk ids, which makes re-ingestion idempotent.
//
// Text shorter than the chunk size yields exactly one chunk; empty text
// yields none.
func (c *Chunker) Split(documentID, text string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	stride := c.size - c.overlap
	var chunks []Chunk
	for start, ordinal := 0, 0; start < len(runes); start, ordinal = start+stride, ordinal+1 {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		segment := string(runes[start:end])
		chunks = append(chunks, Chunk{
			ID:         ChunkID(documentID, start, segment),
			DocumentID: documentID,
			Ordinal:    ordinal,
			Start:      start,
			Text:       segment,
			Length:     end - start,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// ChunkID computes the deterministic id for a chunk: the hex SHA-256 of the
// owning document id, the start offset, and the chunk text.
func ChunkID(documentID string, start int, text string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", documentID, start, text)))
	return hex.EncodeToString(h[:])
}

// ContentHash returns the hex SHA-256 of the text alone. It keys the
// embedding cache, so identical content embeds only once per model.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
