// Package voice implements the per-call audio pipeline: sentence chunking,
// bounded-parallel TTS scheduling, ordered reassembly, paced playout, and the
// controllers that drive it from either a streaming agent engine or a
// realtime speech session.
package voice

import (
	"strings"
	"unicode"
)

// sentence boundary runes recognized by the chunker.
const boundaryRunes = ".!?\n—"

// Chunk is a sentence-sized piece of streamed text tagged with its dense
// sequence number within one response.
type Chunk struct {
	Seq  int64
	Text string
}

// Chunker splits streamed text into chunks whose length lies within
// [minChars, maxChars], preferring sentence boundaries. Chunks are emitted in
// source order with seq numbers dense from 0 per response.
//
// Chunker is not safe for concurrent use; the controller feeds it from a
// single goroutine.
type Chunker struct {
	minChars int
	maxChars int

	buf     []rune
	nextSeq int64
}

// NewChunker creates a Chunker with the given character bounds.
func NewChunker(minChars, maxChars int) *Chunker {
	return &Chunker{minChars: minChars, maxChars: maxChars}
}

// Write appends streamed text and returns any chunks that became complete.
func (c *Chunker) Write(text string) []Chunk {
	c.buf = append(c.buf, []rune(text)...)

	var out []Chunk
	for {
		chunk, ok := c.next()
		if !ok {
			break
		}
		out = append(out, chunk)
	}
	return out
}

// Flush emits whatever remains in the buffer as a final chunk.
func (c *Chunker) Flush() []Chunk {
	text := strings.TrimSpace(string(c.buf))
	c.buf = c.buf[:0]
	if text == "" {
		return nil
	}
	return []Chunk{c.emit(text)}
}

// next extracts one chunk from the buffer if a split point is available.
func (c *Chunker) next() (Chunk, bool) {
	if len(c.buf) < c.minChars {
		return Chunk{}, false
	}

	// Prefer the first sentence boundary at or after minChars.
	limit := len(c.buf)
	if limit > c.maxChars {
		limit = c.maxChars
	}
	for i := c.minChars - 1; i < limit; i++ {
		if strings.ContainsRune(boundaryRunes, c.buf[i]) {
			return c.take(i + 1), true
		}
	}

	if len(c.buf) < c.maxChars {
		return Chunk{}, false
	}

	// No boundary before maxChars: fall back to the last whitespace, then to
	// a hard split.
	for i := c.maxChars - 1; i > 0; i-- {
		if unicode.IsSpace(c.buf[i]) {
			return c.take(i + 1), true
		}
	}
	return c.take(c.maxChars), true
}

// take removes the first n runes from the buffer and wraps them as a chunk.
func (c *Chunker) take(n int) Chunk {
	text := strings.TrimSpace(string(c.buf[:n]))
	c.buf = append(c.buf[:0], c.buf[n:]...)
	return c.emit(text)
}

func (c *Chunker) emit(text string) Chunk {
	chunk := Chunk{Seq: c.nextSeq, Text: text}
	c.nextSeq++
	return chunk
}
