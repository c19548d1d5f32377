package dataset

import (
	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/textutil"
)

// ChunkingOptions configures the sliding-window chunker.
type ChunkingOptions struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

// DefaultChunkingOptions returns the standard window parameters.
func DefaultChunkingOptions() ChunkingOptions {
	return ChunkingOptions{ChunkSize: 1000, ChunkOverlap: 200}
}

// Validate checks the window parameters.
func (o ChunkingOptions) Validate() error {
	if o.ChunkSize <= 0 {
		return apperr.New(apperr.KindValidation, "Chunk size must be greater than zero")
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		return apperr.New(apperr.KindValidation, "Chunk overlap must be non-negative and less than chunk size")
	}
	return nil
}

// ChunkText sanitizes text and splits it into overlapping windows. Windows
// advance by chunk_size minus chunk_overlap characters; orders are dense
// and start at zero.
func ChunkText(text string, opts ChunkingOptions) ([]Chunk, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	sanitized := textutil.Sanitize(text)
	if sanitized == "" {
		return nil, apperr.New(apperr.KindUnprocessable, "No textual content available for chunking")
	}

	// Windows are measured in characters, not bytes.
	runes := []rune(sanitized)
	length := len(runes)

	var chunks []Chunk
	start := 0
	order := 0

	for start < length {
		end := start + opts.ChunkSize
		if end > length {
			end = length
		}

		chunkText := textutil.Sanitize(string(runes[start:end]))
		if chunkText != "" {
			chunks = append(chunks, Chunk{Order: order, Text: chunkText})
			order++
		}

		if end >= length {
			break
		}
		start = end - opts.ChunkOverlap
		if start < 0 {
			start = 0
		}
	}

	return chunks, nil
}

// rowsToChunks converts pre-structured rows into chunks, one row per chunk,
// bypassing the sliding window so row boundaries survive.
func rowsToChunks(rows []string) ([]Chunk, error) {
	chunks := make([]Chunk, 0, len(rows))
	order := 0
	for _, row := range rows {
		sanitized := textutil.Sanitize(row)
		if sanitized == "" {
			continue
		}
		chunks = append(chunks, Chunk{Order: order, Text: sanitized})
		order++
	}

	if len(chunks) == 0 {
		return nil, apperr.New(apperr.KindUnprocessable, "No valid rows available for chunking")
	}
	return chunks, nil
}
