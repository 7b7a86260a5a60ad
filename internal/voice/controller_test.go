package voice

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/arens-io/voicelink/pkg/provider/agent"
	agentmock "github.com/arens-io/voicelink/pkg/provider/agent/mock"
	"github.com/arens-io/voicelink/pkg/provider/tts"
	ttsmock "github.com/arens-io/voicelink/pkg/provider/tts/mock"
)

func chunksOf(texts ...string) []agent.Chunk {
	out := make([]agent.Chunk, 0, len(texts)+1)
	for _, t := range texts {
		out = append(out, agent.Chunk{Text: t})
	}
	out = append(out, agent.Chunk{FinishReason: "stop"})
	return out
}

type controllerFixture struct {
	ctrl  *ChunkedController
	sink  *recordSink
	convo *ConversationLog
	pacer *Pacer
}

func newControllerFixture(t *testing.T, engine agent.Provider, provider tts.Provider, cfg ControllerConfig) *controllerFixture {
	t.Helper()
	sink := &recordSink{}
	q := NewOrderedQueue(2)
	p := NewPacer(context.Background(), q, sink)
	t.Cleanup(p.Close)

	s := NewScheduler(provider, p, SynthesisParams{Voice: "alloy"}, 3, nil)
	convo := NewConversationLog()

	if cfg.SentenceMinChars == 0 {
		cfg.SentenceMinChars = 10
	}
	if cfg.SentenceMaxChars == 0 {
		cfg.SentenceMaxChars = 200
	}
	ctrl := NewChunkedController(context.Background(), engine, s, p, convo, cfg, nil)
	t.Cleanup(ctrl.Close)
	return &controllerFixture{ctrl: ctrl, sink: sink, convo: convo, pacer: p}
}

func waitState(t *testing.T, c *ChunkedController, want State, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %q, want %q", c.State(), want)
}

func TestChunkedController_HappyPath(t *testing.T) {
	t.Parallel()

	engine := agentmock.New(chunksOf("Hello there, how can I help you? "))
	provider := &ttsmock.Provider{
		SynthesizeFunc: func(ctx context.Context, req tts.Request) ([]byte, error) {
			return pcm24k(2), nil
		},
	}
	f := newControllerFixture(t, engine, provider, ControllerConfig{Model: "gpt-4o-mini"})

	f.ctrl.OnFinalTranscript("What can you do?")
	waitState(t, f.ctrl, StateIdle, 3*time.Second)

	if got := f.sink.frameCount(); got == 0 {
		t.Error("no audio delivered for a successful response")
	}
	turns := f.convo.Recent(10)
	if len(turns) != 2 || turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Fatalf("conversation log = %+v, want user then assistant", turns)
	}
	reqs := engine.Requests()
	if len(reqs) != 1 {
		t.Fatalf("engine saw %d requests, want 1", len(reqs))
	}
	if reqs[0].Messages[len(reqs[0].Messages)-1].Content != "What can you do?" {
		t.Error("transcript not passed as the final history entry")
	}
}

func TestChunkedController_BargeInDuringPlayout(t *testing.T) {
	t.Parallel()

	// A long response: many sentences, each one gateway frame of audio.
	var sentences []string
	for i := 0; i < 30; i++ {
		sentences = append(sentences, fmt.Sprintf("This is spoken sentence number %d. ", i))
	}
	engine := agentmock.New(chunksOf(sentences...))
	provider := &ttsmock.Provider{
		SynthesizeFunc: func(ctx context.Context, req tts.Request) ([]byte, error) {
			return pcm24k(6), nil
		},
	}
	f := newControllerFixture(t, engine, provider, ControllerConfig{EchoSuppress: 0})

	f.ctrl.OnFinalTranscript("Tell me a long story.")

	deadline := time.Now().Add(2 * time.Second)
	for f.sink.frameCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if f.sink.frameCount() < 3 {
		t.Fatal("playout never started")
	}

	f.ctrl.OnUserSpeaking()
	waitState(t, f.ctrl, StateIdle, 2*time.Second)

	if got := f.sink.flushCount(); got != 1 {
		t.Errorf("flush count = %d, want exactly 1", got)
	}
	sent := f.sink.frameCount()
	time.Sleep(100 * time.Millisecond)
	if after := f.sink.frameCount(); after > sent+2 {
		t.Errorf("%d frames sent after cancellation settled", after-sent)
	}
}

func TestChunkedController_EchoSuppressionIgnoresEarlyVAD(t *testing.T) {
	t.Parallel()

	engine := agentmock.New(chunksOf("A reasonably long sentence to synthesize and play. "))
	provider := &ttsmock.Provider{
		SynthesizeFunc: func(ctx context.Context, req tts.Request) ([]byte, error) {
			return pcm24k(30), nil
		},
	}
	f := newControllerFixture(t, engine, provider, ControllerConfig{EchoSuppress: 10 * time.Second})

	f.ctrl.OnFinalTranscript("Say something.")

	deadline := time.Now().Add(2 * time.Second)
	for !f.pacer.IsPlaying() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !f.pacer.IsPlaying() {
		t.Fatal("playout never started")
	}

	f.ctrl.OnUserSpeaking()
	if got := f.sink.flushCount(); got != 0 {
		t.Errorf("flush count = %d, want 0: early VAD event must be treated as echo", got)
	}
}

func TestChunkedController_NewTranscriptCancelsPrevious(t *testing.T) {
	t.Parallel()

	engine := agentmock.New(
		chunksOf("First response, which will be cancelled mid-flight. "),
		chunksOf("Second response that should complete. "),
	)
	provider := &ttsmock.Provider{
		SynthesizeFunc: func(ctx context.Context, req tts.Request) ([]byte, error) {
			return pcm24k(2), nil
		},
	}
	f := newControllerFixture(t, engine, provider, ControllerConfig{})

	f.ctrl.OnFinalTranscript("first question")
	f.ctrl.OnFinalTranscript("second question")
	waitState(t, f.ctrl, StateIdle, 3*time.Second)

	if got := len(engine.Requests()); got != 2 {
		t.Fatalf("engine saw %d requests, want 2", got)
	}
}

// stallingEngine emits one delta and then holds the stream open until the
// request context is cancelled.
type stallingEngine struct{}

func (stallingEngine) StreamResponse(ctx context.Context, _ agent.Request) (<-chan agent.Chunk, error) {
	ch := make(chan agent.Chunk, 1)
	ch <- agent.Chunk{Text: "partial text that never completes "}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func TestChunkedController_ResponseTimeoutReturnsToIdle(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{}
	f := newControllerFixture(t, stallingEngine{}, provider, ControllerConfig{ResponseTimeout: 50 * time.Millisecond})

	f.ctrl.OnFinalTranscript("hello?")

	// The stream stalls past the response timeout; the controller must give
	// up and return to idle without tearing anything else down.
	waitState(t, f.ctrl, StateStreaming, time.Second)
	waitState(t, f.ctrl, StateIdle, 2*time.Second)
}

func TestConversationLog_BoundedAtCap(t *testing.T) {
	t.Parallel()

	l := NewConversationLog()
	for i := 0; i < maxLogEntries*2; i++ {
		l.Append("user", fmt.Sprintf("turn %d", i))
		if l.Len() > maxLogEntries {
			t.Fatalf("log grew to %d entries, cap is %d", l.Len(), maxLogEntries)
		}
	}
	if l.Len() != maxLogEntries {
		t.Errorf("final length = %d, want %d", l.Len(), maxLogEntries)
	}
	recent := l.Recent(1)
	if recent[0].Text != fmt.Sprintf("turn %d", maxLogEntries*2-1) {
		t.Errorf("newest turn = %q", recent[0].Text)
	}
}
