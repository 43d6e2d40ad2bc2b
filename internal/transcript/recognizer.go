package transcript

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrorCause classifies recognition engine failures; each cause gets its own
// recovery behavior.
type ErrorCause int

const (
	CauseOther ErrorCause = iota
	CauseNetwork
	CauseNoSpeech
	CausePermission
	CauseAborted
)

func (c ErrorCause) String() string {
	switch c {
	case CauseNetwork:
		return "network"
	case CauseNoSpeech:
		return "no-speech"
	case CausePermission:
		return "not-allowed"
	case CauseAborted:
		return "aborted"
	default:
		return "other"
	}
}

// EngineEvents receives callbacks from a RecognitionEngine. The engine calls
// them from its own goroutine; the service serializes internally.
type EngineEvents struct {
	OnResult func(text string, isFinal bool)
	OnEnd    func()
	OnError  func(cause ErrorCause, message string)
}

// RecognitionEngine is the primitive continuous recognizer the device
// service drives. A session ends on its own (OnEnd) or with an error, and
// must be Started again for recognition to continue.
type RecognitionEngine interface {
	Bind(events EngineEvents)
	Start() error
	Abort()
}

const (
	restartSettleDelay = 500 * time.Millisecond
	clearRestartDelay  = 300 * time.Millisecond
	speakerFlipDelay   = time.Second

	networkRetryDelay  = 3 * time.Second
	noSpeechRetryDelay = time.Second
	abortedBusyDelay   = 2 * time.Second
	abortedIdleDelay   = time.Second
	defaultRetryDelay  = time.Second
)

// DeviceService adapts an on-device continuous recognizer to the Provider
// interface. The engine owns the microphone, so SendAudio is a no-op; the
// service's job is keeping the engine running: recognition sessions end on
// silence or error and must be restarted, with a settle delay so a restart
// issued immediately after an end does not race the engine's teardown.
type DeviceService struct {
	engine     RecognitionEngine
	onFragment FragmentHandler
	onSpeaker  SpeakerHandler

	mu            sync.Mutex
	shouldRun     bool
	captureActive bool
	restartTimer  *time.Timer
	flipTimer     *time.Timer
	current       Speaker
	lastErr       string
}

// NewDeviceService wires a recognition engine into the provider contract.
func NewDeviceService(engine RecognitionEngine, onFragment FragmentHandler, onSpeaker SpeakerHandler) *DeviceService {
	s := &DeviceService{
		engine:     engine,
		onFragment: onFragment,
		onSpeaker:  onSpeaker,
		current:    SpeakerInterviewer,
	}
	engine.Bind(EngineEvents{
		OnResult: s.handleResult,
		OnEnd:    s.handleEnd,
		OnError:  s.handleError,
	})
	return s
}

// Connect starts continuous recognition.
func (s *DeviceService) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.shouldRun = true
	s.lastErr = ""
	s.mu.Unlock()
	if err := s.engine.Start(); err != nil {
		return fmt.Errorf("recognizer start: %w", err)
	}
	log.Println("recognizer: started")
	return nil
}

// Disconnect stops recognition for good: the run flag is cleared before the
// engine is told to abort, so the resulting end event does not restart it.
func (s *DeviceService) Disconnect() {
	s.mu.Lock()
	s.shouldRun = false
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	if s.flipTimer != nil {
		s.flipTimer.Stop()
		s.flipTimer = nil
	}
	s.mu.Unlock()
	s.engine.Abort()
	log.Println("recognizer: stopped")
}

// SendAudio is a no-op: the engine captures audio from the device directly.
func (s *DeviceService) SendAudio(pcm []byte) error { return nil }

// LastError returns and clears the most recent user-facing error message.
func (s *DeviceService) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.lastErr
	s.lastErr = ""
	return msg
}

// Pause suspends recognition without tearing the service down.
func (s *DeviceService) Pause() {
	s.mu.Lock()
	s.shouldRun = false
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	s.mu.Unlock()
	s.engine.Abort()
}

// Resume restarts recognition after a Pause.
func (s *DeviceService) Resume() {
	s.mu.Lock()
	s.shouldRun = true
	s.mu.Unlock()
	if err := s.engine.Start(); err != nil {
		log.Printf("recognizer: resume failed: %v", err)
		s.scheduleRestart(restartSettleDelay)
	}
}

// SetCaptureActive records whether a capture stream is live; abort recovery
// backs off longer while one is.
func (s *DeviceService) SetCaptureActive(active bool) {
	s.mu.Lock()
	s.captureActive = active
	s.mu.Unlock()
}

// ClearPending aborts the in-flight recognition session so partial results
// accumulated so far are discarded, then restarts shortly after.
func (s *DeviceService) ClearPending() {
	s.mu.Lock()
	running := s.shouldRun
	s.mu.Unlock()
	if !running {
		return
	}
	s.engine.Abort()
	s.scheduleRestart(clearRestartDelay)
}

func (s *DeviceService) handleResult(text string, isFinal bool) {
	if text == "" {
		return
	}
	if s.onFragment != nil {
		s.onFragment(text, isFinal)
	}
	if isFinal {
		s.armSpeakerFlip()
	}
}

// armSpeakerFlip flips the attributed speaker one second after a final
// result, on the heuristic that a completed utterance is followed by the
// other party. A new final within the window re-arms the timer.
func (s *DeviceService) armSpeakerFlip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.shouldRun {
		return
	}
	if s.flipTimer != nil {
		s.flipTimer.Stop()
	}
	s.flipTimer = time.AfterFunc(speakerFlipDelay, func() {
		s.mu.Lock()
		if !s.shouldRun {
			s.mu.Unlock()
			return
		}
		s.current = s.current.Other()
		sp := s.current
		s.mu.Unlock()
		if s.onSpeaker != nil {
			s.onSpeaker(sp)
		}
	})
}

func (s *DeviceService) handleEnd() {
	s.mu.Lock()
	running := s.shouldRun
	s.mu.Unlock()
	if !running {
		return
	}
	// Sessions end on their own after silence; keep them rolling.
	s.scheduleRestart(restartSettleDelay)
}

// handleError applies the per-cause recovery policy. Permission failures are
// terminal; everything else retries with a cause-specific delay.
func (s *DeviceService) handleError(cause ErrorCause, message string) {
	s.mu.Lock()
	if !s.shouldRun {
		s.mu.Unlock()
		return
	}
	log.Printf("recognizer: error: cause=%s msg=%s", cause, message)

	switch cause {
	case CausePermission:
		s.shouldRun = false
		s.lastErr = "Microphone access was denied. Enable microphone permissions and restart the session."
		s.mu.Unlock()
		return
	case CauseNetwork:
		s.lastErr = "Speech recognition lost its network connection. Retrying..."
		s.mu.Unlock()
		s.scheduleRestart(networkRetryDelay)
	case CauseNoSpeech:
		s.lastErr = "No speech detected. Make sure your microphone is working and you are speaking."
		s.mu.Unlock()
		s.scheduleRestart(noSpeechRetryDelay)
	case CauseAborted:
		busy := s.captureActive
		s.mu.Unlock()
		if busy {
			s.scheduleRestart(abortedBusyDelay)
		} else {
			s.scheduleRestart(abortedIdleDelay)
		}
	default:
		s.lastErr = "Speech recognition error: " + message
		s.mu.Unlock()
		s.scheduleRestart(defaultRetryDelay)
	}
}

func (s *DeviceService) scheduleRestart(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.shouldRun {
		return
	}
	if s.restartTimer != nil {
		s.restartTimer.Stop()
	}
	s.restartTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.restartTimer = nil
		if !s.shouldRun {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		if err := s.engine.Start(); err != nil {
			log.Printf("recognizer: restart failed: %v", err)
			s.scheduleRestart(defaultRetryDelay)
		}
	})
}
