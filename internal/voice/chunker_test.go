package voice

import (
	"strings"
	"testing"
)

func TestChunker_SplitsAtSentenceBoundary(t *testing.T) {
	t.Parallel()

	c := NewChunker(10, 100)
	chunks := c.Write("Hello there, caller. How can I help you today?")

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %+v", len(chunks), chunks)
	}
	if chunks[0].Text != "Hello there, caller." {
		t.Errorf("chunk 0 = %q", chunks[0].Text)
	}
	if chunks[1].Text != "How can I help you today?" {
		t.Errorf("chunk 1 = %q", chunks[1].Text)
	}
}

func TestChunker_DenseSeqFromZero(t *testing.T) {
	t.Parallel()

	c := NewChunker(5, 50)
	var all []Chunk
	all = append(all, c.Write("One sentence. Two sentence. ")...)
	all = append(all, c.Write("Three sentence.")...)
	all = append(all, c.Flush()...)

	for i, chunk := range all {
		if chunk.Seq != int64(i) {
			t.Errorf("chunk %d has seq %d", i, chunk.Seq)
		}
	}
}

func TestChunker_HoldsUntilMinChars(t *testing.T) {
	t.Parallel()

	c := NewChunker(20, 200)
	if got := c.Write("Hi."); len(got) != 0 {
		t.Fatalf("short text emitted %d chunks, want 0", len(got))
	}
	// The early period is before minChars, so the split waits for the next
	// boundary at or after it.
	got := c.Write(" This is a longer continuation of speech.")
	if len(got) != 1 {
		t.Fatalf("got %d chunks, want 1", len(got))
	}
	if !strings.HasSuffix(got[0].Text, ".") {
		t.Errorf("chunk does not end at a boundary: %q", got[0].Text)
	}
}

func TestChunker_FallsBackToWhitespace(t *testing.T) {
	t.Parallel()

	c := NewChunker(10, 30)
	text := "there are no boundary characters anywhere in this run of words"
	chunks := c.Write(text)

	if len(chunks) == 0 {
		t.Fatal("no chunks emitted")
	}
	for _, chunk := range chunks {
		if len(chunk.Text) > 30 {
			t.Errorf("chunk exceeds max chars: %q (%d)", chunk.Text, len(chunk.Text))
		}
	}
}

func TestChunker_HardSplitWithoutWhitespace(t *testing.T) {
	t.Parallel()

	c := NewChunker(10, 20)
	chunks := c.Write(strings.Repeat("a", 45))
	chunks = append(chunks, c.Flush()...)

	total := 0
	for _, chunk := range chunks {
		if len(chunk.Text) > 20 {
			t.Errorf("chunk exceeds max chars: %d", len(chunk.Text))
		}
		total += len(chunk.Text)
	}
	if total != 45 {
		t.Errorf("characters lost: got %d, want 45", total)
	}
}

func TestChunker_BoundaryRunes(t *testing.T) {
	t.Parallel()

	for _, boundary := range []string{".", "!", "?", "\n", "—"} {
		c := NewChunker(5, 100)
		chunks := c.Write("hello world" + boundary + " more text to follow here")
		if len(chunks) != 1 {
			t.Errorf("boundary %q: got %d chunks, want 1", boundary, len(chunks))
			continue
		}
	}
}

func TestChunker_FlushEmptyBuffer(t *testing.T) {
	t.Parallel()

	c := NewChunker(10, 100)
	if got := c.Flush(); got != nil {
		t.Errorf("Flush of empty chunker = %+v, want nil", got)
	}
}
