package transcript

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeEngine records Start/Abort calls and lets tests fire events manually.
type fakeEngine struct {
	mu     sync.Mutex
	events EngineEvents
	starts atomic.Int32
	aborts atomic.Int32
	errOn  error
}

func (f *fakeEngine) Bind(events EngineEvents) {
	f.mu.Lock()
	f.events = events
	f.mu.Unlock()
}

func (f *fakeEngine) Start() error {
	f.starts.Add(1)
	return f.errOn
}

func (f *fakeEngine) Abort() {
	f.aborts.Add(1)
}

func (f *fakeEngine) fire() EngineEvents {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDeviceService_ConnectStartsEngine(t *testing.T) {
	eng := &fakeEngine{}
	s := NewDeviceService(eng, nil, nil)
	defer s.Disconnect()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if eng.starts.Load() != 1 {
		t.Errorf("starts = %d, want 1", eng.starts.Load())
	}
}

func TestDeviceService_RestartsAfterEnd(t *testing.T) {
	eng := &fakeEngine{}
	s := NewDeviceService(eng, nil, nil)
	defer s.Disconnect()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	eng.fire().OnEnd()
	waitFor(t, func() bool { return eng.starts.Load() >= 2 },
		"engine should restart after a session end")
}

func TestDeviceService_NoRestartAfterDisconnect(t *testing.T) {
	eng := &fakeEngine{}
	s := NewDeviceService(eng, nil, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s.Disconnect()

	if eng.aborts.Load() != 1 {
		t.Errorf("aborts = %d, want 1", eng.aborts.Load())
	}
	eng.fire().OnEnd()
	time.Sleep(700 * time.Millisecond)
	if eng.starts.Load() != 1 {
		t.Errorf("starts = %d, want 1 (no restart after Disconnect)", eng.starts.Load())
	}
}

func TestDeviceService_PermissionErrorIsTerminal(t *testing.T) {
	eng := &fakeEngine{}
	s := NewDeviceService(eng, nil, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	eng.fire().OnError(CausePermission, "not-allowed")

	if msg := s.LastError(); msg == "" {
		t.Error("expected user-facing message for permission error")
	}
	if again := s.LastError(); again != "" {
		t.Errorf("LastError should clear on read, got %q", again)
	}
	eng.fire().OnEnd()
	time.Sleep(700 * time.Millisecond)
	if eng.starts.Load() != 1 {
		t.Errorf("starts = %d, want 1 (permission error stops recovery)", eng.starts.Load())
	}
}

func TestDeviceService_NoSpeechSurfacesGuidanceAndRetries(t *testing.T) {
	eng := &fakeEngine{}
	s := NewDeviceService(eng, nil, nil)
	defer s.Disconnect()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	eng.fire().OnError(CauseNoSpeech, "no-speech")

	if msg := s.LastError(); !strings.Contains(msg, "No speech detected") {
		t.Errorf("LastError = %q, want microphone guidance", msg)
	}
	if again := s.LastError(); again != "" {
		t.Errorf("LastError should clear on read, got %q", again)
	}
	waitFor(t, func() bool { return eng.starts.Load() >= 2 },
		"engine should restart after no-speech")
}

func TestDeviceService_AbortedWithoutCaptureRetriesQuietly(t *testing.T) {
	eng := &fakeEngine{}
	s := NewDeviceService(eng, nil, nil)
	defer s.Disconnect()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	eng.fire().OnError(CauseAborted, "aborted")
	if msg := s.LastError(); msg != "" {
		t.Errorf("aborted should not surface an error, got %q", msg)
	}
	waitFor(t, func() bool { return eng.starts.Load() >= 2 },
		"engine should restart after an abort")
}

func TestDeviceService_FragmentsForwardedAndSpeakerFlips(t *testing.T) {
	var mu sync.Mutex
	var texts []string
	var speakers []Speaker

	eng := &fakeEngine{}
	s := NewDeviceService(eng,
		func(text string, isFinal bool) {
			mu.Lock()
			texts = append(texts, text)
			mu.Unlock()
		},
		func(sp Speaker) {
			mu.Lock()
			speakers = append(speakers, sp)
			mu.Unlock()
		})
	defer s.Disconnect()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	eng.fire().OnResult("tell me about", false)
	eng.fire().OnResult("tell me about your background", true)

	mu.Lock()
	if len(texts) != 2 {
		mu.Unlock()
		t.Fatalf("got %d fragments, want 2", len(texts))
	}
	mu.Unlock()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(speakers) == 1
	}, "speaker should flip after the settle window")

	mu.Lock()
	defer mu.Unlock()
	if speakers[0] != SpeakerCandidate {
		t.Errorf("speaker = %v, want candidate after the first flip", speakers[0])
	}
}

func TestDeviceService_ClearPendingAbortsAndRestarts(t *testing.T) {
	eng := &fakeEngine{}
	s := NewDeviceService(eng, nil, nil)
	defer s.Disconnect()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	s.ClearPending()
	if eng.aborts.Load() != 1 {
		t.Errorf("aborts = %d, want 1", eng.aborts.Load())
	}
	waitFor(t, func() bool { return eng.starts.Load() >= 2 },
		"engine should restart after ClearPending")
}

func TestDeviceService_PauseResume(t *testing.T) {
	eng := &fakeEngine{}
	s := NewDeviceService(eng, nil, nil)
	defer s.Disconnect()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	s.Pause()
	if eng.aborts.Load() != 1 {
		t.Errorf("aborts = %d, want 1 after Pause", eng.aborts.Load())
	}
	eng.fire().OnEnd()
	time.Sleep(700 * time.Millisecond)
	if eng.starts.Load() != 1 {
		t.Errorf("starts = %d, want 1 (paused service must not restart)", eng.starts.Load())
	}

	s.Resume()
	if eng.starts.Load() != 2 {
		t.Errorf("starts = %d, want 2 after Resume", eng.starts.Load())
	}
}
