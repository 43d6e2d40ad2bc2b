package aggregate

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solomid123/marooc/internal/transcript"
)

// ResponseSource marks how an answer was initiated.
type ResponseSource string

const (
	SourceAuto   ResponseSource = "auto"
	SourceManual ResponseSource = "manual"
)

// Item is one committed transcript entry. Continuations mutate it in place;
// everything else is append-only.
type Item struct {
	ID        string
	Speaker   transcript.Speaker
	Text      string
	Timestamp time.Time
}

// Response is one generated answer. Immutable once created; the response log
// is append-only in chronological order.
type Response struct {
	ID               string
	Question         string
	Answer           string
	Timestamp        time.Time
	Source           ResponseSource
	IsMultipleChoice bool
}

// GenerateRequest is what the aggregator hands to the answer backend.
type GenerateRequest struct {
	Question       string
	Context        string
	MultipleChoice bool
	Manual         bool
}

// GeneratedAnswer is the backend's extracted question/answer pair.
type GeneratedAnswer struct {
	Question string
	Answer   string
}

// GenerateFunc produces an answer for a detected question. On error the
// aggregator drops the cycle after surfacing a status message.
type GenerateFunc func(ctx context.Context, req GenerateRequest) (GeneratedAnswer, error)

const defaultContextLimit = 1500

// ErrResumeRequired is returned when a manual trigger arrives before any
// resume text has been supplied.
var ErrResumeRequired = fmt.Errorf("resume required before manual answer generation")

// ErrEmptyTranscript is returned when a manual trigger arrives with nothing
// to analyze; no generation cycle starts.
var ErrEmptyTranscript = fmt.Errorf("transcript is empty")

// Config wires the aggregator's collaborators. Generate is required;
// everything else has a sensible zero behavior.
type Config struct {
	// ContinuationWindow bounds how old the previous item may be for a new
	// fragment to merge into it. Zero means 3 seconds.
	ContinuationWindow time.Duration
	// ContextLimit caps the context passed to the backend, keeping the
	// trailing characters. Zero means 1500.
	ContextLimit int

	Speaker  func() transcript.Speaker
	Generate GenerateFunc
	// HasResume gates manual triggers.
	HasResume func() bool
	// HasJobDescription tailors the progress messages of a manual cycle.
	HasJobDescription func() bool
	// ResetBackend tears down and restarts the transcription backend; called
	// synchronously during a manual trigger, before generation is issued.
	ResetBackend func()

	// CraftingStatusDelay is how long a manual cycle runs before the
	// "crafting" progress message replaces the "analyzing" one. Zero means
	// 2.5 seconds.
	CraftingStatusDelay time.Duration

	OnResponse func(Response)
	OnStatus   func(message string)
	// OnItem fires after each commit or merge with the item's new state.
	OnItem func(Item)
	// OnGenerationFinished fires once per generation cycle, auto or manual;
	// the source tells the caller which gate to re-arm.
	OnGenerationFinished func(source ResponseSource)

	// Now is the clock; tests substitute it.
	Now func() time.Time
}

// Aggregator merges transcript fragments into items and decides when a
// complete question has arrived.
type Aggregator struct {
	cfg Config

	mu        sync.Mutex
	items     []*Item
	live      string
	responses []Response
}

func New(cfg Config) *Aggregator {
	if cfg.ContinuationWindow == 0 {
		cfg.ContinuationWindow = 3 * time.Second
	}
	if cfg.ContextLimit == 0 {
		cfg.ContextLimit = defaultContextLimit
	}
	if cfg.CraftingStatusDelay == 0 {
		cfg.CraftingStatusDelay = 2500 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Speaker == nil {
		cfg.Speaker = func() transcript.Speaker { return transcript.SpeakerInterviewer }
	}
	return &Aggregator{cfg: cfg}
}

// HandleFragment consumes one transcription fragment. Partials replace the
// live buffer; finals commit, merging into the previous item when the
// continuation criteria hold, then run the trigger decision.
func (a *Aggregator) HandleFragment(text string, isFinal bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if !isFinal {
		a.mu.Lock()
		a.live = text
		a.mu.Unlock()
		return
	}

	now := a.cfg.Now()
	speaker := a.cfg.Speaker()

	a.mu.Lock()
	a.live = ""
	var committed *Item
	var prev *Item
	if len(a.items) > 0 {
		prev = a.items[len(a.items)-1]
	}
	if isContinuation(prev, speaker, text, now, a.cfg.ContinuationWindow) {
		prev.Text = prev.Text + " " + text
		prev.Timestamp = now
		committed = prev
	} else {
		committed = &Item{
			ID:        uuid.New().String(),
			Speaker:   speaker,
			Text:      text,
			Timestamp: now,
		}
		a.items = append(a.items, committed)
	}
	combined := committed.Text
	snapshot := *committed
	contextText := a.contextWindowLocked()
	a.mu.Unlock()

	if a.cfg.OnItem != nil {
		a.cfg.OnItem(snapshot)
	}
	trigger, multipleChoice := shouldTrigger(combined)
	if !trigger {
		return
	}
	log.Printf("aggregate: auto trigger (multiple_choice=%v)", multipleChoice)
	go a.generate(context.Background(), GenerateRequest{
		Question:       combined,
		Context:        contextText,
		MultipleChoice: multipleChoice,
	}, SourceAuto)
}

// GenerateNow fires a manual generation cycle over the entire accumulated
// transcript. Before the generation call is issued, the transcript is cleared
// and the transcription backend is reset, both synchronously, so speech
// arriving during generation cannot leak into the stale context.
func (a *Aggregator) GenerateNow(ctx context.Context) error {
	a.mu.Lock()
	var parts []string
	for _, it := range a.items {
		parts = append(parts, it.Text)
	}
	if a.live != "" {
		parts = append(parts, a.live)
	}
	snapshot := strings.TrimSpace(strings.Join(parts, " "))
	if snapshot == "" {
		a.mu.Unlock()
		return ErrEmptyTranscript
	}
	if a.cfg.HasResume != nil && !a.cfg.HasResume() {
		a.mu.Unlock()
		a.status("Add your resume first so answers can be personalized.")
		return ErrResumeRequired
	}
	a.items = nil
	a.live = ""
	a.mu.Unlock()

	if a.cfg.ResetBackend != nil {
		a.cfg.ResetBackend()
	}

	_, multipleChoice := shouldTrigger(snapshot)
	go a.generate(ctx, GenerateRequest{
		Question:       snapshot,
		Context:        snapshot,
		MultipleChoice: multipleChoice,
		Manual:         true,
	}, SourceManual)
	return nil
}

func (a *Aggregator) generate(ctx context.Context, req GenerateRequest, source ResponseSource) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("aggregate: recovered from panic in generate: %v", r)
		}
		if a.cfg.OnGenerationFinished != nil {
			a.cfg.OnGenerationFinished(source)
		}
	}()

	if source == SourceManual {
		hasJob := a.cfg.HasJobDescription != nil && a.cfg.HasJobDescription()
		hasResume := a.cfg.HasResume != nil && a.cfg.HasResume()
		if hasJob {
			a.status("Analyzing interview response for the target position...")
		} else {
			a.status("Analyzing interview response...")
		}
		crafting := time.AfterFunc(a.cfg.CraftingStatusDelay, func() {
			if hasJob && hasResume {
				a.status("Crafting personalized response based on your resume and the job...")
			} else {
				a.status("Crafting interview response...")
			}
		})
		defer crafting.Stop()
	}

	req.Context = tailTruncate(req.Context, a.cfg.ContextLimit)

	out, err := a.cfg.Generate(ctx, req)
	if err != nil {
		log.Printf("aggregate: generation failed: %v", err)
		a.status("Answer generation failed. Please try again.")
		return
	}

	resp := Response{
		ID:               uuid.New().String(),
		Question:         Redact(out.Question),
		Answer:           Redact(out.Answer),
		Timestamp:        a.cfg.Now(),
		Source:           source,
		IsMultipleChoice: req.MultipleChoice,
	}
	a.mu.Lock()
	a.responses = append(a.responses, resp)
	a.mu.Unlock()
	if a.cfg.OnResponse != nil {
		a.cfg.OnResponse(resp)
	}
}

// Reset drops the committed transcript and live buffer.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.items = nil
	a.live = ""
	a.mu.Unlock()
}

// Items returns a snapshot of committed transcript entries.
func (a *Aggregator) Items() []Item {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Item, len(a.items))
	for i, it := range a.items {
		out[i] = *it
	}
	return out
}

// LiveText returns the current uncommitted fragment, if any.
func (a *Aggregator) LiveText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// Responses returns the append-only answer log in chronological order.
func (a *Aggregator) Responses() []Response {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Response, len(a.responses))
	copy(out, a.responses)
	return out
}

func (a *Aggregator) contextWindowLocked() string {
	var parts []string
	for _, it := range a.items {
		parts = append(parts, it.Text)
	}
	return strings.Join(parts, " ")
}

func (a *Aggregator) status(message string) {
	if a.cfg.OnStatus != nil {
		a.cfg.OnStatus(message)
	}
}

// tailTruncate keeps the trailing limit characters: the end of a transcript
// holds the question most recently asked.
func tailTruncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}
