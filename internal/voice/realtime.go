package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arens-io/voicelink/internal/observe"
	"github.com/arens-io/voicelink/internal/tools"
	"github.com/arens-io/voicelink/pkg/audio"
	"github.com/arens-io/voicelink/pkg/provider/realtime"
)

// ErrSessionExpired is the end reason when the realtime session hits its
// configured maximum duration.
var ErrSessionExpired = errors.New("voice: realtime session duration exceeded")

// RealtimeConfig carries the per-call parameters of the realtime pipeline.
type RealtimeConfig struct {
	Model         string
	Voice         string
	Instructions  string
	TurnDetection realtime.TurnDetection

	// MaxSessionDuration ends the call when it elapses. Zero disables the
	// terminator.
	MaxSessionDuration time.Duration

	// Executor runs host tools; nil advertises no tools at all.
	Executor tools.Executor

	// Policy filters which executor tools are advertised.
	Policy *tools.Policy

	// ExecCtx identifies the call for tool invocations.
	ExecCtx tools.ExecutionContext
}

// RealtimeAgent drives one call through a bidirectional speech session:
// inbound 24 kHz PCM flows upstream, audio deltas flow back through the
// shared pacer, and tool calls execute synchronously against the host
// executor.
type RealtimeAgent struct {
	session realtime.SessionHandle
	pacer   *Pacer
	convo   *ConversationLog
	cfg     RealtimeConfig
	log     *slog.Logger
	metrics *observe.Metrics

	// onUserTranscript fires for each committed user turn, feeding the
	// session recorder.
	onUserTranscript func(text string)

	// onEnd fires exactly once when the session terminates. A nil reason
	// means a clean close.
	onEnd func(reason error)

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	nextSeq     int64
	interrupted bool
	endOnce     sync.Once
	timer       *time.Timer
}

// StartRealtimeAgent connects the upstream session and starts the event
// loop. Tools are filtered through the policy; with no executor the session
// advertises none.
func StartRealtimeAgent(ctx context.Context, provider realtime.Provider, pacer *Pacer, convo *ConversationLog, cfg RealtimeConfig, onUserTranscript func(string), onEnd func(error), log *slog.Logger) (*RealtimeAgent, error) {
	if log == nil {
		log = slog.Default()
	}

	var defs []realtime.ToolDefinition
	if cfg.Executor != nil {
		available := cfg.Executor.Definitions()
		if cfg.Policy != nil {
			available = cfg.Policy.Filter(available)
		}
		for _, d := range available {
			defs = append(defs, realtime.ToolDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			})
		}
	}

	session, err := provider.Connect(ctx, realtime.SessionConfig{
		Model:         cfg.Model,
		Voice:         cfg.Voice,
		Instructions:  cfg.Instructions,
		Tools:         defs,
		TurnDetection: cfg.TurnDetection,
	})
	if err != nil {
		return nil, fmt.Errorf("voice: connect realtime session: %w", err)
	}

	actx, cancel := context.WithCancel(ctx)
	a := &RealtimeAgent{
		session:          session,
		pacer:            pacer,
		convo:            convo,
		cfg:              cfg,
		log:              log,
		metrics:          observe.DefaultMetrics(),
		onUserTranscript: onUserTranscript,
		onEnd:            onEnd,
		ctx:              actx,
		cancel:           cancel,
	}

	if cfg.MaxSessionDuration > 0 {
		a.timer = time.AfterFunc(cfg.MaxSessionDuration, func() {
			a.log.Info("realtime session reached max duration, ending call")
			a.end(ErrSessionExpired)
		})
	}

	go a.eventLoop()
	return a, nil
}

// SendAudio forwards one chunk of 24 kHz PCM to the model.
func (a *RealtimeAgent) SendAudio(chunk []byte) error {
	return a.session.SendAudio(chunk)
}

// Close terminates the agent and its upstream session.
func (a *RealtimeAgent) Close() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.cancel()
	_ = a.session.Close()
}

// end fires the termination callback exactly once and tears down.
func (a *RealtimeAgent) end(reason error) {
	a.endOnce.Do(func() {
		a.Close()
		if a.onEnd != nil {
			a.onEnd(reason)
		}
	})
}

// eventLoop consumes upstream events until the session ends.
func (a *RealtimeAgent) eventLoop() {
	for {
		select {
		case <-a.ctx.Done():
			a.end(nil)
			return
		case ev, ok := <-a.session.Events():
			if !ok {
				a.end(nil)
				return
			}
			a.handleEvent(ev)
		}
	}
}

func (a *RealtimeAgent) handleEvent(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventAudioDelta:
		a.mu.Lock()
		dropped := a.interrupted
		seq := a.nextSeq
		if !dropped {
			a.nextSeq++
		}
		a.mu.Unlock()
		if dropped {
			return
		}
		frames := audio.SplitFrames(audio.Downsample24To16(ev.Audio), audio.GatewayFrameBytes)
		a.pacer.Enqueue(seq, frames)

	case realtime.EventSpeechStarted:
		if !a.pacer.IsPlaying() {
			return
		}
		a.log.Info("realtime barge-in detected")
		a.metrics.BargeIns.Add(a.ctx, 1)
		a.mu.Lock()
		a.interrupted = true
		a.mu.Unlock()
		// The endpoint cancels its own response; no client-side cancel.
		a.pacer.BargeIn()
		// Realign delta numbering with the reset queue so the next
		// response starts deliverable at seq 0.
		a.pacer.BeginResponse()
		a.mu.Lock()
		a.nextSeq = 0
		a.mu.Unlock()

	case realtime.EventResponseCancelled:
		a.mu.Lock()
		a.interrupted = false
		a.mu.Unlock()

	case realtime.EventResponseDone:
		// Some endpoints report a barged-in response as done rather than
		// cancelled; either way the next response's deltas must flow.
		a.mu.Lock()
		a.interrupted = false
		a.mu.Unlock()
		a.log.Debug("realtime response complete")

	case realtime.EventToolCall:
		a.handleToolCall(ev)

	case realtime.EventUserTranscript:
		if a.convo != nil {
			a.convo.Append("user", ev.Text)
		}
		if a.onUserTranscript != nil {
			a.onUserTranscript(ev.Text)
		}

	case realtime.EventAssistantTranscript:
		if a.convo != nil {
			a.convo.Append("assistant", ev.Text)
		}

	case realtime.EventError:
		a.log.Error("realtime session failed", "error", ev.Err)
		a.metrics.RecordUpstreamError(a.ctx, "realtime", "session")
		a.end(ev.Err)
	}
}

// handleToolCall executes one completed tool invocation synchronously and
// returns the clamped result so the model continues its response.
func (a *RealtimeAgent) handleToolCall(ev realtime.Event) {
	start := time.Now()
	output := a.executeTool(ev)
	a.metrics.RealtimeDuration.Record(a.ctx, time.Since(start).Seconds())

	if err := a.session.SubmitToolResult(ev.CallID, output); err != nil {
		a.log.Warn("tool result submission failed", "tool", ev.Name, "error", err)
	}
}

func (a *RealtimeAgent) executeTool(ev realtime.Event) string {
	if a.cfg.Executor == nil {
		return fmt.Sprintf(`{"error": "tool %q is not available"}`, ev.Name)
	}
	if a.cfg.Policy != nil && !a.cfg.Policy.Permitted(ev.Name) {
		return fmt.Sprintf(`{"error": "tool %q is not permitted in voice sessions"}`, ev.Name)
	}

	var args map[string]any
	if ev.Arguments != "" {
		if err := json.Unmarshal([]byte(ev.Arguments), &args); err != nil {
			return fmt.Sprintf(`{"error": "invalid tool arguments: %s"}`, err)
		}
	}

	ec := a.cfg.ExecCtx
	ec.ToolCallID = ev.CallID

	result, err := a.cfg.Executor.Execute(a.ctx, ev.Name, args, ec)
	if err != nil {
		a.log.Warn("tool execution failed", "tool", ev.Name, "error", err)
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return tools.ClampResult(result)
}
