package voice

import (
	"context"
	"sync"
	"time"

	"github.com/arens-io/voicelink/pkg/audio"
)

// recoveryWindow is how long after a barge-in flush the pacer keeps
// discarding enqueues, so stale deltas from a cancelled upstream response
// never reach the wire.
const recoveryWindow = 100 * time.Millisecond

// FrameSink receives paced 16 kHz frames and flush signals. Implemented by
// the call session, which assigns wire sequence numbers.
type FrameSink interface {
	SendAudioFrame(frame []byte) error
	SendFlush() error
}

// Pacer drives the outbound audio stream at one frame per 20 ms.
//
// Frames are pulled from an OrderedQueue by a single drain goroutine; Kick
// starts a drain if none is running, and a drain that finds the queue empty
// exits, to be restarted by the next Kick. The draining flag plus the pending
// re-check serialize drains so that at most one runs per call at any instant.
//
// Within one drain run the schedule is absolute: target[n] = start + n·20 ms,
// with each dispatch sleeping max(0, target − now). A drain that resumes
// after a queue underrun re-anchors its start time instead of bursting to
// catch up.
type Pacer struct {
	queue *OrderedQueue
	sink  FrameSink

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	draining    bool
	pending     bool
	drainCancel context.CancelFunc
	idle        chan struct{}
	playing     bool

	// responseStart anchors the echo-suppression window: set when the first
	// frame of a response is delivered, cleared by BeginResponse. An underrun
	// pause within the same response must not move it.
	responseStart time.Time

	recoveryUntil time.Time
	framesSent    int64
}

// NewPacer creates a Pacer that feeds sink from queue. The pacer stops
// permanently when ctx is cancelled.
func NewPacer(ctx context.Context, queue *OrderedQueue, sink FrameSink) *Pacer {
	pctx, cancel := context.WithCancel(ctx)
	idle := make(chan struct{})
	close(idle)
	return &Pacer{
		queue:  queue,
		sink:   sink,
		ctx:    pctx,
		cancel: cancel,
		idle:   idle,
	}
}

// Enqueue adds frames for seq and kicks the drain. Frames arriving inside
// the post-flush recovery window are discarded. An empty batch skips the seq
// so the ones behind it stay deliverable.
func (p *Pacer) Enqueue(seq int64, frames [][]byte) {
	p.mu.Lock()
	inRecovery := time.Now().Before(p.recoveryUntil)
	p.mu.Unlock()
	if inRecovery {
		return
	}
	if len(frames) == 0 {
		p.Skip(seq)
		return
	}
	p.queue.Enqueue(seq, frames)
	p.Kick()
}

// Skip marks seq as skipped and kicks the drain in case the skip unblocked
// the head of the queue.
func (p *Pacer) Skip(seq int64) {
	p.queue.Skip(seq)
	p.Kick()
}

// Kick ensures a drain goroutine is running. If one is already active it is
// flagged to re-check the queue before exiting, closing the race between an
// exiting drain and a concurrent enqueue.
func (p *Pacer) Kick() {
	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	if p.draining {
		p.pending = true
		p.mu.Unlock()
		return
	}
	p.draining = true
	p.idle = make(chan struct{})
	dctx, dcancel := context.WithCancel(p.ctx)
	p.drainCancel = dcancel
	p.mu.Unlock()

	go p.drain(dctx)
}

// drain delivers in-order frames at the 20 ms cadence until the queue runs
// dry or the drain is cancelled.
func (p *Pacer) drain(ctx context.Context) {
	var (
		start time.Time
		n     int64
	)

	finish := func() {
		p.mu.Lock()
		p.draining = false
		p.playing = false
		close(p.idle)
		p.mu.Unlock()
	}

	for {
		if ctx.Err() != nil {
			finish()
			return
		}

		frame, ok := p.queue.Dequeue()
		if !ok {
			p.mu.Lock()
			if p.pending && ctx.Err() == nil {
				p.pending = false
				p.mu.Unlock()
				continue
			}
			p.mu.Unlock()
			finish()
			return
		}

		now := time.Now()
		if start.IsZero() || now.Sub(start.Add(time.Duration(n)*audio.FrameDuration)) > audio.FrameDuration {
			// First frame of this run, or an underrun gap: re-anchor the
			// pacing schedule. The response anchor stays put.
			start = now
			n = 0
			p.mu.Lock()
			p.playing = true
			if p.responseStart.IsZero() {
				p.responseStart = now
			}
			p.mu.Unlock()
		}

		target := start.Add(time.Duration(n) * audio.FrameDuration)
		if wait := time.Until(target); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				finish()
				return
			case <-timer.C:
			}
		}

		if err := p.sink.SendAudioFrame(frame); err != nil {
			finish()
			return
		}
		n++
		p.mu.Lock()
		p.framesSent++
		p.mu.Unlock()
	}
}

// BargeIn cancels the active drain, clears the queue, sends a flush to the
// gateway, and opens the recovery window.
func (p *Pacer) BargeIn() {
	p.mu.Lock()
	dcancel := p.drainCancel
	p.recoveryUntil = time.Now().Add(recoveryWindow)
	p.mu.Unlock()

	if dcancel != nil {
		dcancel()
	}
	p.queue.Clear()
	_ = p.sink.SendFlush()
}

// BeginResponse resets queue ordering, the jitter gate, and the playout
// anchor for a new response.
func (p *Pacer) BeginResponse() {
	p.mu.Lock()
	p.responseStart = time.Time{}
	p.mu.Unlock()
	p.queue.Reset()
}

// IsPlaying reports whether a drain is actively delivering frames.
func (p *Pacer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// PlayoutStart returns when the current response's playout began. Zero until
// the response's first frame has been delivered.
func (p *Pacer) PlayoutStart() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.responseStart
}

// FramesSent reports the total frames delivered over the pacer's lifetime.
func (p *Pacer) FramesSent() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.framesSent
}

// WaitIdle blocks until no drain is running or ctx is cancelled.
func (p *Pacer) WaitIdle(ctx context.Context) error {
	for {
		p.mu.Lock()
		idle := p.idle
		p.mu.Unlock()
		select {
		case <-idle:
			// Re-check: a new drain may have started between the snapshot
			// and the wait.
			p.mu.Lock()
			done := !p.draining
			p.mu.Unlock()
			if done {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops the pacer permanently.
func (p *Pacer) Close() {
	p.cancel()
}
