// Package rag implements document ingestion (chunk → embed → upsert) and
// query-time retrieval over the per-deal chunk index.
package rag

import (
	"strings"
	"unicode/utf8"
)

// ChunkerConfig configures the text chunker. The policy is deterministic:
// the same text and config always produce the same chunks.
type ChunkerConfig struct {
	ChunkSize    int    // Target chunk size in runes (default 512)
	ChunkOverlap int    // Overlap carried between chunks in runes (default 50)
	Separator    string // Preferred separator to split on (default "\n\n")
}

// DefaultChunkerConfig returns sensible defaults for RfX documents.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		ChunkSize:    512,
		ChunkOverlap: 50,
		Separator:    "\n\n",
	}
}

// Chunk holds a single chunk of text with its position in the source.
type Chunk struct {
	Text         string
	Index        int // 0-based chunk index
	SourceOffset int // rune offset of the chunk's fresh content in the source
}

// segment is a piece of the source text with its rune offset.
type segment struct {
	text   string
	offset int
}

// ChunkText splits text into overlapping chunks. It splits on the first
// separator that produces segments ("\n\n", "\n", ". ", " ", then raw
// runes), merges segments up to the target size, and carries an overlap
// tail from each chunk into the next.
func ChunkText(text string, config ChunkerConfig) []Chunk {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 512
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = 0
	}

	if utf8.RuneCountInString(text) <= config.ChunkSize {
		return []Chunk{{Text: text, Index: 0, SourceOffset: 0}}
	}

	separators := []string{"\n\n", "\n", ". ", " "}
	if config.Separator != "" {
		separators = append([]string{config.Separator}, separators...)
	}

	segments, sep := splitSegments(text, separators, config.ChunkSize)
	return mergeSegments(segments, sep, config.ChunkSize, config.ChunkOverlap)
}

// splitSegments splits text on the first separator that yields more than
// one piece, recursively re-splitting any segment still larger than the
// chunk size with the remaining separators, and falling back to
// fixed-size rune windows.
func splitSegments(text string, separators []string, chunkSize int) ([]segment, string) {
	for i, sep := range separators {
		parts := strings.Split(text, sep)
		if len(parts) <= 1 {
			continue
		}
		var segments []segment
		offset := 0
		for _, p := range parts {
			plen := utf8.RuneCountInString(p)
			if plen > chunkSize {
				sub, _ := splitSegments(p, separators[i+1:], chunkSize)
				for _, s := range sub {
					s.offset += offset
					segments = append(segments, s)
				}
			} else {
				segments = append(segments, segment{text: p, offset: offset})
			}
			offset += plen + utf8.RuneCountInString(sep)
		}
		return segments, sep
	}

	// Rune-window fallback for separator-free text.
	runes := []rune(text)
	var segments []segment
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, segment{text: string(runes[i:end]), offset: i})
	}
	return segments, ""
}

// mergeSegments packs segments into chunks of at most chunkSize runes,
// prefixing each chunk after the first with the tail of its predecessor.
func mergeSegments(segments []segment, sep string, chunkSize, overlap int) []Chunk {
	var chunks []Chunk
	var current strings.Builder
	currentOffset := 0
	started := false

	flush := func(tailNext string, nextOffset int) {
		chunks = append(chunks, Chunk{
			Text:         current.String(),
			Index:        len(chunks),
			SourceOffset: currentOffset,
		})
		current.Reset()
		if tailNext != "" {
			current.WriteString(tailNext)
			current.WriteString(sep)
		}
		currentOffset = nextOffset
		started = false
	}

	for _, seg := range segments {
		candidateLen := utf8.RuneCountInString(current.String()) + utf8.RuneCountInString(seg.text)
		if started {
			candidateLen += utf8.RuneCountInString(sep)
		}

		if candidateLen > chunkSize && current.Len() > 0 {
			flush(overlapTail(current.String(), overlap), seg.offset)
		}
		if current.Len() > 0 && started {
			current.WriteString(sep)
		}
		if !started {
			if current.Len() == 0 {
				currentOffset = seg.offset
			}
			started = true
		}
		current.WriteString(seg.text)
	}
	if current.Len() > 0 {
		chunks = append(chunks, Chunk{
			Text:         current.String(),
			Index:        len(chunks),
			SourceOffset: currentOffset,
		})
	}
	return chunks
}

// overlapTail returns the last n runes of s.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[len(runes)-n:])
}
