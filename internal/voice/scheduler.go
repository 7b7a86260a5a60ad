package voice

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/arens-io/voicelink/internal/observe"
	"github.com/arens-io/voicelink/pkg/audio"
	"github.com/arens-io/voicelink/pkg/provider/tts"
)

// MaxPendingSentences caps the number of chunks in flight per response.
// Chunks arriving past the cap are dropped and their seqs marked skipped so
// playout never stalls on them.
const MaxPendingSentences = 5

// comfortToneFrames is one second of silence, emitted in place of a failed
// synthesis so the turn completes instead of stalling.
const comfortToneFrames = 50

// SynthesisParams carries the per-call TTS settings applied to every chunk.
type SynthesisParams struct {
	Model        string
	Voice        string
	Speed        float64
	Instructions string
}

// Scheduler runs bounded-parallel TTS over sentence chunks and feeds results
// into the pacer under their chunk seqs. The semaphore grants permits in
// FIFO order, so earlier chunks cannot be starved by later ones.
type Scheduler struct {
	provider tts.Provider
	pacer    *Pacer
	params   SynthesisParams
	sem      *semaphore.Weighted
	log      *slog.Logger
	metrics  *observe.Metrics

	pending atomic.Int64
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler with maxParallel concurrent syntheses.
func NewScheduler(provider tts.Provider, pacer *Pacer, params SynthesisParams, maxParallel int64, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		provider: provider,
		pacer:    pacer,
		params:   params,
		sem:      semaphore.NewWeighted(maxParallel),
		log:      log,
		metrics:  observe.DefaultMetrics(),
	}
}

// Schedule submits one chunk for synthesis. It never blocks: past the
// back-pressure cap the chunk is skipped immediately.
func (s *Scheduler) Schedule(ctx context.Context, chunk Chunk) {
	if s.pending.Load() >= MaxPendingSentences {
		s.log.Debug("tts back-pressure, skipping chunk", "seq", chunk.Seq)
		s.pacer.Skip(chunk.Seq)
		return
	}
	s.pending.Add(1)
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.pending.Add(-1)
		s.synthesize(ctx, chunk)
	}()
}

// synthesize runs one TTS job and routes its outcome into the pacer.
func (s *Scheduler) synthesize(ctx context.Context, chunk Chunk) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.pacer.Skip(chunk.Seq)
		return
	}
	defer s.sem.Release(1)

	start := time.Now()
	pcm, err := s.provider.Synthesize(ctx, tts.Request{
		Text:         chunk.Text,
		Model:        s.params.Model,
		Voice:        s.params.Voice,
		Speed:        s.params.Speed,
		Instructions: s.params.Instructions,
	})
	if ctx.Err() != nil {
		s.pacer.Skip(chunk.Seq)
		return
	}
	if err != nil {
		s.log.Warn("tts synthesis failed, emitting comfort tone", "seq", chunk.Seq, "error", err)
		s.metrics.RecordUpstreamError(ctx, "tts", "synthesize")
		s.pacer.Enqueue(chunk.Seq, audio.SilentFrames(comfortToneFrames, audio.GatewayFrameBytes))
		return
	}
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if len(pcm) == 0 {
		s.pacer.Skip(chunk.Seq)
		return
	}

	frames := audio.SplitFrames(audio.Downsample24To16(pcm), audio.GatewayFrameBytes)
	s.pacer.Enqueue(chunk.Seq, frames)
}

// Wait blocks until every scheduled synthesis has settled or ctx is
// cancelled.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
