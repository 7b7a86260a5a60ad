package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arens-io/voicelink/internal/tools"
	"github.com/arens-io/voicelink/pkg/provider/realtime"
	rtmock "github.com/arens-io/voicelink/pkg/provider/realtime/mock"
)

type stubExecutor struct {
	mu     sync.Mutex
	calls  []string
	result any
	err    error
	defs   []tools.Definition
}

func (e *stubExecutor) Execute(_ context.Context, name string, _ map[string]any, _ tools.ExecutionContext) (any, error) {
	e.mu.Lock()
	e.calls = append(e.calls, name)
	e.mu.Unlock()
	return e.result, e.err
}

func (e *stubExecutor) Definitions() []tools.Definition { return e.defs }

type realtimeFixture struct {
	agent    *RealtimeAgent
	provider *rtmock.Provider
	session  *rtmock.Session
	sink     *recordSink
	convo    *ConversationLog

	mu         sync.Mutex
	endReasons []error
}

func newRealtimeFixture(t *testing.T, cfg RealtimeConfig) *realtimeFixture {
	t.Helper()
	f := &realtimeFixture{
		provider: rtmock.New(),
		sink:     &recordSink{},
		convo:    NewConversationLog(),
	}
	q := NewOrderedQueue(1)
	p := NewPacer(context.Background(), q, f.sink)
	t.Cleanup(p.Close)

	onEnd := func(reason error) {
		f.mu.Lock()
		f.endReasons = append(f.endReasons, reason)
		f.mu.Unlock()
	}
	a, err := StartRealtimeAgent(context.Background(), f.provider, p, f.convo, cfg, nil, onEnd, nil)
	if err != nil {
		t.Fatalf("StartRealtimeAgent() error: %v", err)
	}
	t.Cleanup(a.Close)
	f.agent = a
	f.session = f.provider.Sessions()[0]
	return f
}

func (f *realtimeFixture) endCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.endReasons)
}

func TestRealtimeAgent_AudioDeltasReachTheWire(t *testing.T) {
	t.Parallel()

	f := newRealtimeFixture(t, RealtimeConfig{Voice: "alloy"})

	f.session.Emit(realtime.Event{Type: realtime.EventAudioDelta, Audio: pcm24k(3)})

	deadline := time.Now().Add(2 * time.Second)
	for f.sink.frameCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// 2880 bytes at 24 kHz downsample to 1920 bytes: three gateway frames.
	if got := f.sink.frameCount(); got != 3 {
		t.Errorf("delivered %d frames, want 3", got)
	}
}

func TestRealtimeAgent_ToolCallExecutedAndClamped(t *testing.T) {
	t.Parallel()

	exec := &stubExecutor{
		result: strings.Repeat("r", 5000),
		defs:   []tools.Definition{{Name: "memory_search"}},
	}
	f := newRealtimeFixture(t, RealtimeConfig{
		Executor: exec,
		Policy:   tools.NewPolicy(nil, nil),
		ExecCtx:  tools.ExecutionContext{CallID: "c1", UserID: "u1"},
	})

	if len(f.session.Config.Tools) != 1 || f.session.Config.Tools[0].Name != "memory_search" {
		t.Fatalf("advertised tools = %+v, want memory_search only", f.session.Config.Tools)
	}

	f.session.Emit(realtime.Event{
		Type:      realtime.EventToolCall,
		Name:      "memory_search",
		CallID:    "tc-1",
		Arguments: `{"query":"notes"}`,
	})

	deadline := time.Now().Add(2 * time.Second)
	for len(f.session.ToolResults()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	results := f.session.ToolResults()
	if len(results) != 1 {
		t.Fatalf("got %d tool results, want 1", len(results))
	}
	if results[0].CallID != "tc-1" {
		t.Errorf("result callID = %q", results[0].CallID)
	}
	if len(results[0].Output) != tools.MaxResultChars {
		t.Errorf("result length = %d, want clamped to %d", len(results[0].Output), tools.MaxResultChars)
	}
}

func TestRealtimeAgent_DeniedToolReturnsError(t *testing.T) {
	t.Parallel()

	exec := &stubExecutor{defs: []tools.Definition{{Name: "memory_search"}}}
	f := newRealtimeFixture(t, RealtimeConfig{
		Executor: exec,
		Policy:   tools.NewPolicy(nil, nil),
	})

	f.session.Emit(realtime.Event{
		Type:   realtime.EventToolCall,
		Name:   "shell_exec",
		CallID: "tc-2",
	})

	deadline := time.Now().Add(2 * time.Second)
	for len(f.session.ToolResults()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	results := f.session.ToolResults()
	if len(results) != 1 {
		t.Fatalf("got %d tool results, want 1", len(results))
	}
	if !strings.Contains(results[0].Output, "not permitted") {
		t.Errorf("denied tool output = %q", results[0].Output)
	}
	exec.mu.Lock()
	defer exec.mu.Unlock()
	if len(exec.calls) != 0 {
		t.Error("denied tool reached the executor")
	}
}

func TestRealtimeAgent_BargeInDropsDeltasUntilCancelled(t *testing.T) {
	t.Parallel()

	f := newRealtimeFixture(t, RealtimeConfig{})

	// Long response so playout is active when VAD fires.
	f.session.Emit(realtime.Event{Type: realtime.EventAudioDelta, Audio: pcm24k(90)})
	deadline := time.Now().Add(2 * time.Second)
	for f.sink.frameCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	f.session.Emit(realtime.Event{Type: realtime.EventSpeechStarted})
	deadline = time.Now().Add(2 * time.Second)
	for f.sink.flushCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := f.sink.flushCount(); got != 1 {
		t.Fatalf("flush count = %d, want 1", got)
	}

	// Deltas between the barge-in and the upstream cancellation are stale.
	sent := f.sink.frameCount()
	f.session.Emit(realtime.Event{Type: realtime.EventAudioDelta, Audio: pcm24k(30)})
	time.Sleep(50 * time.Millisecond)
	if got := f.sink.frameCount(); got != sent {
		t.Errorf("stale delta played %d frames after barge-in", got-sent)
	}

	// After response.cancelled and the recovery window, playback resumes.
	f.session.Emit(realtime.Event{Type: realtime.EventResponseCancelled})
	time.Sleep(recoveryWindow + 20*time.Millisecond)
	f.session.Emit(realtime.Event{Type: realtime.EventAudioDelta, Audio: pcm24k(3)})

	deadline = time.Now().Add(2 * time.Second)
	for f.sink.frameCount() == sent && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if f.sink.frameCount() == sent {
		t.Error("audio did not resume after response_cancelled")
	}
}

func TestRealtimeAgent_ResponseDoneClearsInterrupt(t *testing.T) {
	t.Parallel()

	f := newRealtimeFixture(t, RealtimeConfig{})

	f.session.Emit(realtime.Event{Type: realtime.EventAudioDelta, Audio: pcm24k(90)})
	deadline := time.Now().Add(2 * time.Second)
	for f.sink.frameCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	f.session.Emit(realtime.Event{Type: realtime.EventSpeechStarted})
	deadline = time.Now().Add(2 * time.Second)
	for f.sink.flushCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	// Endpoints that settle a barged-in response with response.done rather
	// than response.cancelled must still unblock the next response.
	f.session.Emit(realtime.Event{Type: realtime.EventResponseDone})
	time.Sleep(recoveryWindow + 20*time.Millisecond)
	sent := f.sink.frameCount()
	f.session.Emit(realtime.Event{Type: realtime.EventAudioDelta, Audio: pcm24k(3)})

	deadline = time.Now().Add(2 * time.Second)
	for f.sink.frameCount() == sent && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if f.sink.frameCount() == sent {
		t.Error("audio did not resume after response_done")
	}
}

func TestRealtimeAgent_SessionTerminatorEndsCall(t *testing.T) {
	t.Parallel()

	f := newRealtimeFixture(t, RealtimeConfig{MaxSessionDuration: 30 * time.Millisecond})

	deadline := time.Now().Add(2 * time.Second)
	for f.endCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.endReasons) != 1 {
		t.Fatalf("onEnd fired %d times, want 1", len(f.endReasons))
	}
	if !errors.Is(f.endReasons[0], ErrSessionExpired) {
		t.Errorf("end reason = %v, want ErrSessionExpired", f.endReasons[0])
	}
}

func TestRealtimeAgent_TranscriptsFeedConversationLog(t *testing.T) {
	t.Parallel()

	f := newRealtimeFixture(t, RealtimeConfig{})

	f.session.Emit(realtime.Event{Type: realtime.EventUserTranscript, Text: "hello bridge"})
	f.session.Emit(realtime.Event{Type: realtime.EventAssistantTranscript, Text: "hello caller"})

	deadline := time.Now().Add(2 * time.Second)
	for f.convo.Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	turns := f.convo.Recent(10)
	if len(turns) != 2 || turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Fatalf("conversation log = %+v", turns)
	}
}

func TestRealtimeAgent_UpstreamErrorEndsCall(t *testing.T) {
	t.Parallel()

	f := newRealtimeFixture(t, RealtimeConfig{})

	f.session.Emit(realtime.Event{Type: realtime.EventError, Err: errors.New("socket torn")})

	deadline := time.Now().Add(2 * time.Second)
	for f.endCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if f.endCount() != 1 {
		t.Fatalf("onEnd fired %d times, want 1", f.endCount())
	}
}
