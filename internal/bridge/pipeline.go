package bridge

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/arens-io/voicelink/internal/call"
	"github.com/arens-io/voicelink/internal/config"
	"github.com/arens-io/voicelink/internal/observe"
	"github.com/arens-io/voicelink/internal/protocol"
	"github.com/arens-io/voicelink/internal/recorder"
	"github.com/arens-io/voicelink/internal/tools"
	"github.com/arens-io/voicelink/internal/voice"
	"github.com/arens-io/voicelink/pkg/memory"
	"github.com/arens-io/voicelink/pkg/provider/agent"
	"github.com/arens-io/voicelink/pkg/provider/realtime"
	"github.com/arens-io/voicelink/pkg/provider/stt"
	"github.com/arens-io/voicelink/pkg/provider/tts"
)

// Providers bundles the upstream services a pipeline composes. Unused fields
// may be nil depending on the effective TTS mode.
type Providers struct {
	STT      stt.Provider
	TTS      tts.Provider
	Agent    agent.Provider
	Realtime realtime.Provider

	// Executor runs host tools in realtime mode; nil disables tool calling.
	Executor tools.Executor
}

// Pipeline builds per-call voice pipelines in the configured mode and binds
// them to their session.
type Pipeline struct {
	cfg       *config.Config
	providers Providers
	rec       *recorder.Recorder
	log       *slog.Logger
	metrics   *observe.Metrics
}

// Compile-time interface check.
var _ PipelineStarter = (*Pipeline)(nil)

// NewPipeline builds the pipeline factory.
func NewPipeline(cfg *config.Config, providers Providers, rec *recorder.Recorder, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		providers: providers,
		rec:       rec,
		log:       log,
		metrics:   observe.DefaultMetrics(),
	}
}

// Start implements PipelineStarter.
func (p *Pipeline) Start(s *call.Session, endCall func(reason string)) error {
	switch p.cfg.EffectiveTTSMode() {
	case config.TTSModeRealtime:
		return p.startRealtime(s, endCall)
	default:
		return p.startChunked(s, endCall)
	}
}

// startChunked wires STT → controller → agent → chunker → scheduler → queue
// → pacer, with the session itself as the frame sink.
func (p *Pipeline) startChunked(s *call.Session, endCall func(reason string)) error {
	if p.providers.STT == nil || p.providers.TTS == nil || p.providers.Agent == nil {
		return fmt.Errorf("bridge: chunked mode requires stt, tts, and agent providers")
	}
	log := p.log.With("call_id", s.CallID)

	jitter := p.cfg.Streaming.JitterBufferFrames
	queue := voice.NewOrderedQueue(jitter)
	pacer := voice.NewPacer(s.Context(), queue, s)
	convo := voice.NewConversationLog()
	sched := voice.NewScheduler(p.providers.TTS, pacer, voice.SynthesisParams{
		Model:        p.cfg.TTS.Model,
		Voice:        p.cfg.TTS.Voice,
		Speed:        p.cfg.TTS.Speed,
		Instructions: p.cfg.TTS.Instructions,
	}, int64(p.cfg.Streaming.MaxParallelTTS), log)

	ctrl := voice.NewChunkedController(s.Context(), p.providers.Agent, sched, pacer, convo, voice.ControllerConfig{
		Model:            p.cfg.ResponseModel,
		SystemPrompt:     p.cfg.ResponseSystemPrompt,
		ResponseTimeout:  p.cfg.ResponseTimeout(),
		SentenceMinChars: p.cfg.Streaming.SentenceMinChars,
		SentenceMaxChars: p.cfg.Streaming.SentenceMaxChars,
		EchoSuppress:     time.Duration(jitter) * 20 * time.Millisecond,
	}, log)

	userID := ""
	if s.Metadata != nil {
		userID = s.Metadata.UserID
	}

	// lastAudioAt approximates the end of user speech for the transcription
	// latency histogram.
	var lastAudioAt atomic.Int64

	stream, err := stt.StartManagedStream(s.Context(), p.providers.STT, stt.StreamConfig{
		Model:             p.cfg.Streaming.STTModel,
		SampleRate:        24000,
		VADThreshold:      p.cfg.Streaming.VADThreshold,
		SilenceDurationMs: p.cfg.Streaming.SilenceDurationMs,
		OnPartial: func(text string) {
			log.Debug("partial transcript", "text", text)
		},
		OnFinal: func(text string) {
			if at := lastAudioAt.Load(); at > 0 {
				p.metrics.STTDuration.Record(s.Context(), time.Since(time.Unix(0, at)).Seconds())
			}
			log.Info("final transcript", "text", text)
			if p.rec != nil {
				p.rec.TranscriptFinal(s.Context(), s.CallID, userID, "user", text)
			}
			ctrl.OnFinalTranscript(text)
		},
		OnUserSpeaking: ctrl.OnUserSpeaking,
	}, stt.WithLogger(log))
	if err != nil {
		ctrl.Close()
		pacer.Close()
		return fmt.Errorf("bridge: start transcription stream: %w", err)
	}

	// STT exhausting its reconnect budget ends the call; a clean close is
	// session teardown already in progress.
	go func() {
		<-stream.Done()
		if err := stream.Err(); err != nil {
			log.Error("transcription stream failed, ending call", "error", err)
			endCall(protocol.ReasonError)
		}
	}()

	s.BindPipeline(func(pcm []byte) error {
		lastAudioAt.Store(time.Now().UnixNano())
		return stream.SendAudio(pcm)
	},
		func() { _ = stream.Close() },
		ctrl.Close,
		pacer.Close,
	)

	if p.cfg.Inbound.Greeting != "" && s.Direction == protocol.DirectionInbound {
		p.speakGreeting(s, pacer, sched, convo)
	}
	return nil
}

// speakGreeting plays the configured greeting as the call's first response.
func (p *Pipeline) speakGreeting(s *call.Session, pacer *voice.Pacer, sched *voice.Scheduler, convo *voice.ConversationLog) {
	greeting := p.cfg.Inbound.Greeting
	convo.Append("assistant", greeting)
	pacer.BeginResponse()
	go sched.Schedule(s.Context(), voice.Chunk{Seq: 0, Text: greeting})
}

// startRealtime wires a single bidirectional speech session sharing the
// pacer path with chunked mode.
func (p *Pipeline) startRealtime(s *call.Session, endCall func(reason string)) error {
	if p.providers.Realtime == nil {
		return fmt.Errorf("bridge: realtime mode requires a realtime provider")
	}
	log := p.log.With("call_id", s.CallID)

	queue := voice.NewOrderedQueue(p.cfg.Streaming.JitterBufferFrames)
	pacer := voice.NewPacer(s.Context(), queue, s)
	convo := voice.NewConversationLog()

	model := p.cfg.Realtime.Model
	if model == "" {
		model = p.cfg.Streaming.RealtimeModel
	}
	instructions := p.cfg.ResponseSystemPrompt
	if p.cfg.Inbound.Greeting != "" && s.Direction == protocol.DirectionInbound {
		instructions += "\nGreet the caller first with: " + p.cfg.Inbound.Greeting
	}

	userID, sessionKey := "", ""
	if s.Metadata != nil {
		userID = s.Metadata.UserID
		sessionKey = memory.SessionKey(userID)
	}

	// Configuration spells the VAD mode "server-vad"; the realtime wire
	// protocol spells it "server_vad".
	tdType := p.cfg.Realtime.TurnDetection.Type
	if tdType == "server-vad" {
		tdType = "server_vad"
	}

	agentHandle, err := voice.StartRealtimeAgent(s.Context(), p.providers.Realtime, pacer, convo, voice.RealtimeConfig{
		Model:        model,
		Voice:        p.cfg.Realtime.Voice,
		Instructions: instructions,
		TurnDetection: realtime.TurnDetection{
			Type:              tdType,
			Threshold:         p.cfg.Realtime.TurnDetection.Threshold,
			SilenceDurationMs: p.cfg.Realtime.TurnDetection.SilenceDurationMs,
			PrefixPaddingMs:   p.cfg.Realtime.TurnDetection.PrefixPaddingMs,
		},
		MaxSessionDuration: p.cfg.SessionDuration(),
		Executor:           p.providers.Executor,
		Policy:             tools.NewPolicy(p.cfg.Realtime.Tools.Allow, p.cfg.Realtime.Tools.Deny),
		ExecCtx: tools.ExecutionContext{
			CallID:     s.CallID,
			UserID:     userID,
			SessionKey: sessionKey,
		},
	}, func(text string) {
		if p.rec != nil {
			p.rec.TranscriptFinal(s.Context(), s.CallID, userID, "user", text)
		}
	}, func(reason error) {
		if reason != nil {
			log.Warn("realtime session ended the call", "reason", reason)
			endCall(protocol.ReasonError)
		}
	}, log)
	if err != nil {
		pacer.Close()
		return fmt.Errorf("bridge: start realtime session: %w", err)
	}

	s.BindPipeline(agentHandle.SendAudio,
		agentHandle.Close,
		pacer.Close,
	)
	return nil
}
