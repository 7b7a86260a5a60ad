package voice

import (
	"bytes"
	"testing"
)

// frame builds a one-byte-tagged test frame.
func frame(tag byte) []byte {
	return []byte{tag}
}

func drainAll(q *OrderedQueue) [][]byte {
	var out [][]byte
	for {
		f, ok := q.Dequeue()
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

func TestOrderedQueue_OutOfOrderCompletion(t *testing.T) {
	t.Parallel()

	q := NewOrderedQueue(1)

	// Chunks 0, 1, 2 where 1 resolves last.
	q.Enqueue(0, [][]byte{frame(0), frame(1)})
	q.Enqueue(2, [][]byte{frame(4)})

	got := drainAll(q)
	if len(got) != 2 {
		t.Fatalf("dequeued %d frames before seq 1 arrived, want 2", len(got))
	}

	// Seq 2 frames must never be emitted before seq 1.
	q.Enqueue(1, [][]byte{frame(2), frame(3)})
	got = append(got, drainAll(q)...)

	want := [][]byte{frame(0), frame(1), frame(2), frame(3), frame(4)}
	if len(got) != len(want) {
		t.Fatalf("dequeued %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("frame %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestOrderedQueue_SkipAdvances(t *testing.T) {
	t.Parallel()

	q := NewOrderedQueue(1)
	q.Enqueue(2, [][]byte{frame(9)})
	q.Skip(0)
	q.Skip(1)

	f, ok := q.Dequeue()
	if !ok {
		t.Fatal("skipping 0 and 1 did not unblock seq 2")
	}
	if !bytes.Equal(f, frame(9)) {
		t.Errorf("frame = %v, want %v", f, frame(9))
	}
}

func TestOrderedQueue_JitterGateTotalFrames(t *testing.T) {
	t.Parallel()

	q := NewOrderedQueue(3)

	// Head seq missing: gate must hold until the total reaches the
	// threshold.
	q.Enqueue(1, [][]byte{frame(1), frame(2)})
	if _, ok := q.Dequeue(); ok {
		t.Fatal("gate opened below jitter threshold without head frames")
	}
	q.Enqueue(2, [][]byte{frame(3)})
	// Threshold reached; gate opens, but the head seq is still missing so
	// nothing is deliverable.
	if _, ok := q.Dequeue(); ok {
		t.Fatal("dequeued despite missing head seq")
	}
	q.Enqueue(0, [][]byte{frame(0)})
	if _, ok := q.Dequeue(); !ok {
		t.Fatal("gate should be open after threshold")
	}
}

func TestOrderedQueue_JitterGateHeadReady(t *testing.T) {
	t.Parallel()

	// A short utterance must not wait for the full jitter budget when the
	// head seq is present.
	q := NewOrderedQueue(25)
	q.Enqueue(0, [][]byte{frame(0)})

	if _, ok := q.Dequeue(); !ok {
		t.Fatal("head-ready trigger did not open the gate")
	}
}

func TestOrderedQueue_GateDisabledAfterFirstDequeue(t *testing.T) {
	t.Parallel()

	q := NewOrderedQueue(5)
	q.Enqueue(0, [][]byte{frame(0), frame(1)})

	if _, ok := q.Dequeue(); !ok {
		t.Fatal("first dequeue failed")
	}
	// One frame left, far below the threshold; the gate must stay open.
	if _, ok := q.Dequeue(); !ok {
		t.Fatal("gate re-armed mid-response")
	}
}

func TestOrderedQueue_EmptyChunkDoesNotBlock(t *testing.T) {
	t.Parallel()

	q := NewOrderedQueue(1)
	q.Skip(0) // empty TTS output is skipped
	q.Enqueue(1, [][]byte{frame(1)})

	if _, ok := q.Dequeue(); !ok {
		t.Fatal("queue blocked behind an empty chunk")
	}
}

func TestOrderedQueue_ZeroFrameEnqueueIsIgnored(t *testing.T) {
	t.Parallel()

	q := NewOrderedQueue(1)
	q.Enqueue(0, nil)
	q.Enqueue(1, [][]byte{frame(1)})

	// Seq 0 is still outstanding, not satisfied-but-empty; nothing may be
	// delivered yet, and filling it later must unblock the queue.
	if _, ok := q.Dequeue(); ok {
		t.Fatal("dequeued past an outstanding head seq")
	}
	q.Enqueue(0, [][]byte{frame(0)})

	got := drainAll(q)
	want := [][]byte{frame(0), frame(1)}
	if len(got) != len(want) {
		t.Fatalf("dequeued %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("frame %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestOrderedQueue_ClearKeepsPointer(t *testing.T) {
	t.Parallel()

	q := NewOrderedQueue(1)
	q.Enqueue(0, [][]byte{frame(0)})
	if _, ok := q.Dequeue(); !ok {
		t.Fatal("dequeue failed")
	}

	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", q.Len())
	}
	// A stale enqueue for a passed seq must be discarded.
	q.Enqueue(0, [][]byte{frame(9)})
	if _, ok := q.Dequeue(); ok {
		t.Fatal("cancelled response resurfaced after Clear")
	}
}

func TestOrderedQueue_ResetStartsOver(t *testing.T) {
	t.Parallel()

	q := NewOrderedQueue(1)
	q.Enqueue(0, [][]byte{frame(0)})
	_, _ = q.Dequeue()

	q.Reset()
	q.Enqueue(0, [][]byte{frame(5)})
	f, ok := q.Dequeue()
	if !ok || !bytes.Equal(f, frame(5)) {
		t.Fatalf("queue did not restart at seq 0 after Reset: %v %v", f, ok)
	}
}
