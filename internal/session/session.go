package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solomid123/marooc/internal/aggregate"
	"github.com/solomid123/marooc/internal/answer"
	"github.com/solomid123/marooc/internal/transcript"
)

// State is the session lifecycle phase.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StatePaused     State = "paused"
	StateTornDown   State = "torn_down"
)

// ErrGenerationInFlight rejects a manual trigger while a previous one is
// still running.
var ErrGenerationInFlight = errors.New("answer generation already in progress")

// pausable is implemented by providers that support cheap suspend/resume
// without a full disconnect.
type pausable interface {
	Pause()
	Resume()
}

// readyWaiter is implemented by providers whose session starts asynchronously
// after Connect; the controller fails fast when readiness never arrives.
type readyWaiter interface {
	WaitReady(ctx context.Context) bool
}

// fatalReporter is implemented by providers that can fail terminally, for
// example when reconnection attempts are exhausted.
type fatalReporter interface {
	Fatal() error
}

// Config wires a Controller. Source, NewProvider, and Aggregator are
// required.
type Config struct {
	Source AudioSource
	// NewProvider builds a fresh transcription backend. The controller owns
	// the instance exclusively and replaces it wholesale on reset.
	NewProvider func() transcript.Provider
	Aggregator  *aggregate.Aggregator
	Attributor  *transcript.Attributor

	// SilenceGap is the quiet period treated as a speaker turn; zero uses
	// the monitor default.
	SilenceGap time.Duration
	// AudioCleanupDelay separates provider disconnect from audio-processor
	// teardown, letting in-flight frames drain. Zero means one second.
	AudioCleanupDelay time.Duration
	// ErrorPollInterval is how often the provider's error mailbox is checked
	// while no audio is flowing. Zero means one second.
	ErrorPollInterval time.Duration

	OnStatus func(message string)
}

// Controller drives the session lifecycle: capture, transcription,
// aggregation, and ordered teardown.
type Controller struct {
	cfg Config

	mu       sync.Mutex
	state    State
	provider transcript.Provider
	monitor  *transcript.LevelMonitor
	stream   MediaStream
	stopPump context.CancelFunc

	paused     atomic.Bool
	generating atomic.Bool

	resumeText     string
	jobDescription string
	profile        answer.Profile
	userAuthored   bool
}

func NewController(cfg Config) *Controller {
	if cfg.AudioCleanupDelay == 0 {
		cfg.AudioCleanupDelay = time.Second
	}
	if cfg.ErrorPollInterval == 0 {
		cfg.ErrorPollInterval = time.Second
	}
	if cfg.Attributor == nil {
		cfg.Attributor = transcript.NewAttributor()
	}
	return &Controller{cfg: cfg, state: StateIdle}
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start opens capture, connects a fresh transcription backend, and begins
// pumping audio. Only valid from the idle state.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot start session from state %q", st)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	stream, err := c.cfg.Source.Start(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return fmt.Errorf("audio capture: %w", err)
	}

	provider := c.cfg.NewProvider()
	if err := provider.Connect(ctx); err != nil {
		stopTracks(stream)
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return fmt.Errorf("transcription connect: %w", err)
	}
	if w, ok := provider.(readyWaiter); ok && !w.WaitReady(ctx) {
		runStep("provider disconnect", provider.Disconnect)
		stopTracks(stream)
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return fmt.Errorf("transcription session never became ready")
	}

	monitor := transcript.NewLevelMonitor(c.cfg.SilenceGap, func() {
		c.cfg.Attributor.Swap()
	})

	pumpCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.provider = provider
	c.monitor = monitor
	c.stream = stream
	c.stopPump = cancel
	c.state = StateActive
	c.mu.Unlock()

	stream.OnEnded(func() {
		log.Println("session: capture stream ended")
		c.Teardown()
	})
	go c.pump(pumpCtx, stream, monitor)

	log.Println("session: active")
	return nil
}

// pump forwards capture frames to the level monitor and the transcription
// backend until the stream or the session ends.
func (c *Controller) pump(ctx context.Context, stream MediaStream, monitor *transcript.LevelMonitor) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("session: recovered from panic in pump: %v", r)
		}
	}()
	ticker := time.NewTicker(c.cfg.ErrorPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.pollProvider() {
				return
			}
		case frame, ok := <-stream.AudioFrames():
			if !ok {
				return
			}
			if c.paused.Load() {
				continue
			}
			monitor.Feed(frame)
			c.mu.Lock()
			provider := c.provider
			c.mu.Unlock()
			if provider == nil {
				continue
			}
			if err := provider.SendAudio(frame); err != nil {
				log.Printf("session: send audio: %v", err)
			}
			if c.pollProvider() {
				return
			}
		}
	}
}

// pollProvider drains the provider's clear-on-read error mailbox into the
// status callback and tears the session down on a terminal failure. Returns
// true when the session ended.
func (c *Controller) pollProvider() bool {
	c.mu.Lock()
	provider := c.provider
	c.mu.Unlock()
	if provider == nil {
		return false
	}
	if msg := provider.LastError(); msg != "" {
		log.Printf("session: transcription: %s", msg)
		if c.cfg.OnStatus != nil {
			c.cfg.OnStatus(msg)
		}
	}
	if f, ok := provider.(fatalReporter); ok {
		if err := f.Fatal(); err != nil {
			log.Printf("session: transcription failed terminally: %v", err)
			c.Teardown()
			return true
		}
	}
	return false
}

// Pause suspends transcription without disconnecting, so resume is cheap.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state != StateActive {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot pause from state %q", st)
	}
	c.state = StatePaused
	provider := c.provider
	c.mu.Unlock()

	c.paused.Store(true)
	if p, ok := provider.(pausable); ok {
		p.Pause()
	}
	log.Println("session: paused")
	return nil
}

// Resume reverses Pause.
func (c *Controller) Resume() error {
	c.mu.Lock()
	if c.state != StatePaused {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot resume from state %q", st)
	}
	c.state = StateActive
	provider := c.provider
	c.mu.Unlock()

	c.paused.Store(false)
	if p, ok := provider.(pausable); ok {
		p.Resume()
	}
	log.Println("session: resumed")
	return nil
}

// Reset fully disconnects the transcription backend and connects a fresh
// instance. The old instance is replaced wholesale so stale callbacks cannot
// feed the new session.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateTornDown || c.state == StateIdle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot reset from state %q", st)
	}
	old := c.provider
	c.provider = nil
	c.mu.Unlock()

	if old != nil {
		runStep("provider disconnect", old.Disconnect)
	}

	fresh := c.cfg.NewProvider()
	if err := fresh.Connect(ctx); err != nil {
		return fmt.Errorf("transcription reconnect: %w", err)
	}
	if w, ok := fresh.(readyWaiter); ok && !w.WaitReady(ctx) {
		runStep("provider disconnect", fresh.Disconnect)
		return fmt.Errorf("transcription session never became ready")
	}
	c.mu.Lock()
	c.provider = fresh
	c.mu.Unlock()
	log.Println("session: transcription backend reset")
	return nil
}

// GenerateAnswer fires a manual generation cycle. A second call while one is
// in flight is rejected; GenerationFinished re-arms the gate.
func (c *Controller) GenerateAnswer(ctx context.Context) error {
	if !c.generating.CompareAndSwap(false, true) {
		return ErrGenerationInFlight
	}
	if err := c.cfg.Aggregator.GenerateNow(ctx); err != nil {
		c.generating.Store(false)
		return err
	}
	return nil
}

// GenerationFinished re-arms the manual trigger gate; wire it to the
// aggregator's completion callback.
func (c *Controller) GenerationFinished() {
	c.generating.Store(false)
}

// Generating reports whether a manual cycle is in flight.
func (c *Controller) Generating() bool {
	return c.generating.Load()
}

// Teardown shuts the session down in order: transcription backend first,
// then the audio processor after a drain delay, then the raw capture tracks.
// Each step is guarded so one failure cannot block the next. Idempotent.
func (c *Controller) Teardown() {
	c.mu.Lock()
	if c.state == StateTornDown {
		c.mu.Unlock()
		return
	}
	c.state = StateTornDown
	provider := c.provider
	monitor := c.monitor
	stream := c.stream
	stopPump := c.stopPump
	c.provider = nil
	c.monitor = nil
	c.stream = nil
	c.stopPump = nil
	c.mu.Unlock()

	if stopPump != nil {
		stopPump()
	}
	if provider != nil {
		runStep("provider disconnect", provider.Disconnect)
	}
	time.Sleep(c.cfg.AudioCleanupDelay)
	if monitor != nil {
		runStep("audio monitor stop", monitor.Stop)
	}
	if stream != nil {
		runStep("capture tracks stop", func() { stopTracks(stream) })
	}
	runStep("capture source stop", c.cfg.Source.Stop)
	log.Println("session: torn down")
}

// SetResumeText stores free-form resume text.
func (c *Controller) SetResumeText(text string) {
	c.mu.Lock()
	c.resumeText = text
	c.userAuthored = text != ""
	c.mu.Unlock()
}

// SetProfile stores structured resume fields.
func (c *Controller) SetProfile(p answer.Profile) {
	c.mu.Lock()
	c.profile = p
	c.mu.Unlock()
}

// SetJobDescription stores the target job description.
func (c *Controller) SetJobDescription(text string) {
	c.mu.Lock()
	c.jobDescription = text
	c.mu.Unlock()
}

// HasResume reports whether any resume input has been supplied; manual
// triggers require one.
func (c *Controller) HasResume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeText != "" || !profileEmpty(c.profile)
}

// Background returns the stored personalization inputs for a generation
// request.
func (c *Controller) Background() (resumeText string, profile answer.Profile, jobDescription string, userAuthored bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeText, c.profile, c.jobDescription, c.userAuthored
}

func profileEmpty(p answer.Profile) bool {
	return p.Name == "" && p.Summary == "" &&
		len(p.Skills) == 0 && len(p.Experience) == 0 && len(p.Education) == 0
}

func stopTracks(stream MediaStream) {
	for _, tr := range stream.Tracks() {
		tr.Stop()
	}
}

// runStep executes one teardown step, containing panics so later steps still
// run.
func runStep(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("session: %s failed: %v", name, r)
		}
	}()
	fn()
}
