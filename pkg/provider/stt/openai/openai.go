// Package openai provides an OpenAI-backed STT provider using the realtime
// transcription WebSocket API. It implements the stt.Provider interface.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/arens-io/voicelink/pkg/provider/stt"
)

const (
	transcriptionEndpoint = "wss://api.openai.com/v1/realtime?intent=transcription"
	defaultModel          = "gpt-4o-transcribe"
	defaultSampleRate     = 24000
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithEndpoint overrides the realtime transcription endpoint URL. Intended
// for tests and API-compatible gateways.
func WithEndpoint(url string) Option {
	return func(p *Provider) {
		p.endpoint = url
	}
}

// WithModel sets the default transcription model.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// Provider implements stt.Provider backed by the OpenAI realtime
// transcription API.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
}

// Compile-time assertion that Provider satisfies the stt interface.
var _ stt.Provider = (*Provider)(nil)

// New creates a new Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: transcriptionEndpoint,
		model:    defaultModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a realtime transcription session. It sends the session
// configuration (pcm16 input, server VAD with cfg thresholds) immediately
// after the dial so audio may follow without waiting for an acknowledgement.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.apiKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.Dial(ctx, p.endpoint, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	update, err := p.sessionUpdate(cfg)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "bad session config")
		return nil, fmt.Errorf("openai: encode session update: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, update); err != nil {
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: send session update: %w", err)
	}

	sess := &session{
		conn:  conn,
		cfg:   cfg,
		audio: make(chan []byte, 256),
		done:  make(chan struct{}),
	}
	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// sessionUpdate builds the transcription_session.update payload for cfg.
func (p *Provider) sessionUpdate(cfg stt.StreamConfig) ([]byte, error) {
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}

	transcription := map[string]any{"model": model}
	if cfg.Language != "" {
		transcription["language"] = cfg.Language
	}

	turnDetection := map[string]any{"type": "server_vad"}
	if cfg.VADThreshold > 0 {
		turnDetection["threshold"] = cfg.VADThreshold
	}
	if cfg.SilenceDurationMs > 0 {
		turnDetection["silence_duration_ms"] = cfg.SilenceDurationMs
	}

	return json.Marshal(map[string]any{
		"type": "transcription_session.update",
		"session": map[string]any{
			"input_audio_format":        "pcm16",
			"input_audio_sample_rate":   sr,
			"input_audio_transcription": transcription,
			"turn_detection":            turnDetection,
		},
	})
}

// ---- session ----

// serverEvent is the subset of realtime API events the session reacts to.
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Error      struct {
		Message string `json:"message"`
	} `json:"error"`
}

// session is a live transcription session. It implements stt.SessionHandle.
type session struct {
	conn  *websocket.Conn
	cfg   stt.StreamConfig
	audio chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// SendAudio queues a PCM chunk for delivery to the transcription service.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("openai: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("openai: session is closed")
	}
}

// Done implements stt.SessionHandle.
func (s *session) Done() <-chan struct{} { return s.done }

// Err implements stt.SessionHandle.
func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.shutdown(nil)
	s.wg.Wait()
	return nil
}

// shutdown records the terminal error and closes the connection exactly once.
func (s *session) shutdown(err error) {
	s.once.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.done)
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
}

// writeLoop wraps queued audio chunks in input_audio_buffer.append events.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			msg, err := json.Marshal(map[string]any{
				"type":  "input_audio_buffer.append",
				"audio": base64.StdEncoding.EncodeToString(chunk),
			})
			if err != nil {
				continue
			}
			if err := s.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				s.shutdown(fmt.Errorf("openai: write audio: %w", err))
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			s.shutdown(ctx.Err())
			return
		}
	}
}

// readLoop receives realtime events and dispatches the configured callbacks.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				// Close already in progress; keep its error.
			default:
				s.shutdown(fmt.Errorf("openai: read: %w", err))
			}
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "conversation.item.input_audio_transcription.delta":
			if s.cfg.OnPartial != nil && ev.Delta != "" {
				s.cfg.OnPartial(ev.Delta)
			}
		case "conversation.item.input_audio_transcription.completed":
			if s.cfg.OnFinal != nil && ev.Transcript != "" {
				s.cfg.OnFinal(ev.Transcript)
			}
		case "input_audio_buffer.speech_started":
			if s.cfg.OnUserSpeaking != nil {
				s.cfg.OnUserSpeaking()
			}
		case "error":
			s.shutdown(fmt.Errorf("openai: server error: %s", ev.Error.Message))
			return
		}
	}
}
