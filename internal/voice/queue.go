package voice

import "sync"

// OrderedQueue reassembles out-of-order TTS results into strict chunk-seq
// order and applies jitter-buffer gating to the first dequeue of a response.
//
// Frames enter keyed by chunk-seq; Dequeue only ever releases frames for the
// next expected seq. A seq may be marked skipped, which advances the expected
// pointer across it. Delivery of the first frame is delayed until either the
// total buffered frame count reaches the jitter threshold or a frame for the
// expected seq is present, whichever happens first; after the first dequeue
// the gate stays open for the rest of the response.
//
// All methods are safe for concurrent use. No I/O happens under the lock.
type OrderedQueue struct {
	mu sync.Mutex

	frames  map[int64][][]byte
	skipped map[int64]bool
	next    int64
	total   int

	jitterFrames int
	gateOpen     bool
}

// NewOrderedQueue creates a queue gated on jitterFrames buffered frames.
func NewOrderedQueue(jitterFrames int) *OrderedQueue {
	return &OrderedQueue{
		frames:       make(map[int64][][]byte),
		skipped:      make(map[int64]bool),
		jitterFrames: jitterFrames,
	}
}

// Enqueue stores frames under seq. Frames for an already-passed seq are
// discarded. An empty batch is ignored: the seq stays outstanding and can
// still be filled or skipped, but never blocks Dequeue as a present-but-empty
// entry.
func (q *OrderedQueue) Enqueue(seq int64, frames [][]byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(frames) == 0 || seq < q.next || q.skipped[seq] {
		return
	}
	q.frames[seq] = append(q.frames[seq], frames...)
	q.total += len(frames)
}

// Skip marks seq as producing no frames and advances the expected pointer
// across consecutive skipped seqs.
func (q *OrderedQueue) Skip(seq int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if seq < q.next {
		return
	}
	if fs, ok := q.frames[seq]; ok {
		q.total -= len(fs)
		delete(q.frames, seq)
	}
	q.skipped[seq] = true
	q.advance()
}

// Dequeue returns the next in-order frame, or false when nothing is
// deliverable yet: the expected seq is missing, or the jitter gate has not
// opened.
func (q *OrderedQueue) Dequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.gateOpen {
		_, headReady := q.frames[q.next]
		if q.total < q.jitterFrames && !headReady {
			return nil, false
		}
		q.gateOpen = true
	}

	q.advance()
	fs, ok := q.frames[q.next]
	if !ok || len(fs) == 0 {
		return nil, false
	}

	frame := fs[0]
	if len(fs) == 1 {
		delete(q.frames, q.next)
		// An exhausted seq only advances once its producer is done; a TTS
		// result arrives as one batch, so an empty list means done.
		q.next++
		q.advance()
	} else {
		q.frames[q.next] = fs[1:]
	}
	q.total--
	return frame, true
}

// Len reports the number of buffered frames.
func (q *OrderedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

// Clear drops all buffered frames and skip markers, keeping the expected
// pointer so a cancelled response cannot resurface. The jitter gate re-arms
// for the next response.
func (q *OrderedQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames = make(map[int64][][]byte)
	q.skipped = make(map[int64]bool)
	q.total = 0
	q.gateOpen = false
}

// Reset prepares the queue for a new response: seq starts at 0 again and the
// jitter gate re-arms.
func (q *OrderedQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames = make(map[int64][][]byte)
	q.skipped = make(map[int64]bool)
	q.total = 0
	q.next = 0
	q.gateOpen = false
}

// advance moves the expected pointer across consecutive skipped seqs.
// Caller holds the lock.
func (q *OrderedQueue) advance() {
	for q.skipped[q.next] {
		delete(q.skipped, q.next)
		q.next++
	}
}
