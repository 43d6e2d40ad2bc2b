package transcript

import "sync"

// Attributor tracks which party the current transcript fragments belong to.
// Provider diarization hints set the speaker outright; silence gaps toggle it
// on the assumption that the floor changed hands.
type Attributor struct {
	mu      sync.Mutex
	current Speaker
}

// NewAttributor starts attribution at the interviewer, matching the usual
// opening of an interview.
func NewAttributor() *Attributor {
	return &Attributor{current: SpeakerInterviewer}
}

// Hint sets the speaker from a provider diarization label.
func (a *Attributor) Hint(sp Speaker) {
	a.mu.Lock()
	a.current = sp
	a.mu.Unlock()
}

// Swap toggles the speaker and returns the new value.
func (a *Attributor) Swap() Speaker {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = a.current.Other()
	return a.current
}

// Current returns the speaker fragments are attributed to right now.
func (a *Attributor) Current() Speaker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}
