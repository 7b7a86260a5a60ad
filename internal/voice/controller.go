package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arens-io/voicelink/internal/observe"
	"github.com/arens-io/voicelink/pkg/provider/agent"
)

// State is the chunked controller's lifecycle position.
type State string

const (
	// StateIdle means no response is in progress.
	StateIdle State = "idle"

	// StateStreaming means agent text is flowing into TTS.
	StateStreaming State = "streaming"

	// StateDraining means generation finished and queued audio is playing
	// out.
	StateDraining State = "draining"
)

// historyTurns is how many recent turns are sent as context with each
// response request.
const historyTurns = 10

// ControllerConfig carries the per-call parameters of the chunked pipeline.
type ControllerConfig struct {
	// Model and SystemPrompt configure the agent engine request.
	Model        string
	SystemPrompt string

	// ResponseTimeout bounds one full generation. On expiry the stream is
	// cancelled and the controller returns to idle; the call stays open.
	ResponseTimeout time.Duration

	// SentenceMinChars and SentenceMaxChars bound chunk sizes.
	SentenceMinChars int
	SentenceMaxChars int

	// EchoSuppress is how long after playout start VAD user-speaking events
	// are ignored, absorbing the gateway loopback of our own audio. Set to
	// the jitter-buffer duration.
	EchoSuppress time.Duration
}

// ChunkedController orchestrates one call's agent-to-speech pipeline:
// final transcript → streaming agent text → sentence chunks → parallel TTS →
// ordered queue → paced playout. State machine: idle → streaming → draining
// → idle.
//
// At most one response is active at any time; a new final transcript cancels
// the previous response before starting.
type ChunkedController struct {
	agent     agent.Provider
	scheduler *Scheduler
	pacer     *Pacer
	convo     *ConversationLog
	cfg       ControllerConfig
	log       *slog.Logger
	metrics   *observe.Metrics

	sessionCtx context.Context

	mu         sync.Mutex
	state      State
	respCancel context.CancelFunc
	respDone   chan struct{}
}

// NewChunkedController wires a controller for one call. sessionCtx parents
// every response context; cancelling it stops all activity.
func NewChunkedController(sessionCtx context.Context, engine agent.Provider, scheduler *Scheduler, pacer *Pacer, convo *ConversationLog, cfg ControllerConfig, log *slog.Logger) *ChunkedController {
	if log == nil {
		log = slog.Default()
	}
	return &ChunkedController{
		agent:      engine,
		scheduler:  scheduler,
		pacer:      pacer,
		convo:      convo,
		cfg:        cfg,
		log:        log,
		metrics:    observe.DefaultMetrics(),
		sessionCtx: sessionCtx,
		state:      StateIdle,
	}
}

// State returns the controller's current lifecycle position.
func (c *ChunkedController) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnFinalTranscript starts a response turn for one committed user utterance.
// Any in-flight response is cancelled first.
func (c *ChunkedController) OnFinalTranscript(text string) {
	if text == "" {
		return
	}

	c.cancelActive()

	c.convo.Append("user", text)

	var (
		respCtx context.Context
		cancel  context.CancelFunc
	)
	if c.cfg.ResponseTimeout > 0 {
		respCtx, cancel = context.WithTimeout(c.sessionCtx, c.cfg.ResponseTimeout)
	} else {
		respCtx, cancel = context.WithCancel(c.sessionCtx)
	}
	done := make(chan struct{})

	c.mu.Lock()
	c.state = StateStreaming
	c.respCancel = cancel
	c.respDone = done
	c.mu.Unlock()

	c.pacer.BeginResponse()

	go func() {
		defer close(done)
		defer cancel()
		c.runResponse(respCtx)
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
	}()
}

// runResponse streams one agent response through the chunker and scheduler,
// then drains playout.
func (c *ChunkedController) runResponse(ctx context.Context) {
	ctx, span := observe.StartSpan(ctx, "voice.response")
	defer span.End()
	start := time.Now()

	history := c.convo.Recent(historyTurns)
	msgs := make([]agent.Message, 0, len(history))
	for _, t := range history {
		msgs = append(msgs, agent.Message{Role: t.Role, Content: t.Text})
	}

	stream, err := c.agent.StreamResponse(ctx, agent.Request{
		Model:        c.cfg.Model,
		SystemPrompt: c.cfg.SystemPrompt,
		Messages:     msgs,
	})
	if err != nil {
		c.log.Warn("agent stream failed to start", "error", err)
		c.metrics.RecordUpstreamError(ctx, "agent", "start")
		return
	}

	chunker := NewChunker(c.cfg.SentenceMinChars, c.cfg.SentenceMaxChars)
	var full []byte

	for delta := range stream {
		if delta.FinishReason == "error" {
			c.log.Warn("agent stream error", "error", delta.Text)
			c.metrics.RecordUpstreamError(ctx, "agent", "stream")
			break
		}
		if delta.Text == "" {
			continue
		}
		full = append(full, delta.Text...)
		for _, chunk := range chunker.Write(delta.Text) {
			c.scheduler.Schedule(ctx, chunk)
		}
	}
	for _, chunk := range chunker.Flush() {
		c.scheduler.Schedule(ctx, chunk)
	}

	if len(full) > 0 {
		c.convo.Append("assistant", string(full))
	}
	c.metrics.AgentDuration.Record(ctx, time.Since(start).Seconds())

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.log.Warn("response generation timed out")
		}
		return
	}

	// Generation complete: let queued audio play out.
	c.mu.Lock()
	c.state = StateDraining
	c.mu.Unlock()

	if err := c.scheduler.Wait(ctx); err != nil {
		return
	}
	_ = c.pacer.WaitIdle(ctx)
}

// OnUserSpeaking handles a VAD speech-start event. During playout it triggers
// barge-in: the response is cancelled, the queue cleared, and a flush sent.
// Events inside the echo-suppression window after playout start are ignored.
func (c *ChunkedController) OnUserSpeaking() {
	if !c.pacer.IsPlaying() {
		return
	}
	if start := c.pacer.PlayoutStart(); !start.IsZero() && time.Since(start) < c.cfg.EchoSuppress {
		c.log.Debug("user-speaking event suppressed as probable echo")
		return
	}

	c.log.Info("barge-in detected, cancelling response")
	c.metrics.BargeIns.Add(c.sessionCtx, 1)
	c.cancelActive()
	c.pacer.BargeIn()
}

// cancelActive cancels the in-flight response, if any, and waits for it to
// settle so pipelines never overlap on the wire.
func (c *ChunkedController) cancelActive() {
	c.mu.Lock()
	cancel := c.respCancel
	done := c.respDone
	c.respCancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// Close cancels any in-flight response.
func (c *ChunkedController) Close() {
	c.cancelActive()
}
