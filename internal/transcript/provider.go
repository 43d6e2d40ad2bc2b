package transcript

import (
	"context"
	"errors"
)

// Speaker identifies which side of the interview produced an utterance.
type Speaker string

const (
	SpeakerInterviewer Speaker = "interviewer"
	SpeakerCandidate   Speaker = "candidate"
)

// Other returns the opposite role.
func (s Speaker) Other() Speaker {
	if s == SpeakerInterviewer {
		return SpeakerCandidate
	}
	return SpeakerInterviewer
}

// FragmentHandler receives transcription updates. Non-final fragments are
// ephemeral and superseded by the next event for the same utterance; final
// fragments are durable.
type FragmentHandler func(text string, isFinal bool)

// SpeakerHandler receives coarse speaker hints from the provider.
type SpeakerHandler func(speaker Speaker)

// Provider is the contract shared by both transcription backends.
// Disconnect must be idempotent and safe to call when never connected, and
// must cancel any scheduled reconnect or restart so a stale timer cannot
// resurrect a torn-down instance.
type Provider interface {
	Connect(ctx context.Context) error
	Disconnect()
	// SendAudio feeds raw 16-bit little-endian PCM. The on-device backend
	// listens directly and ignores it.
	SendAudio(pcm []byte) error
	// LastError returns the most recent user-facing error message and clears
	// it, so transient errors are surfaced at most once.
	LastError() string
}

// FatalError marks a transcription failure as non-recoverable for the
// current session; the caller must tear down and reconnect explicitly.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	if e == nil || e.Err == nil {
		return "fatal transcription error"
	}
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewFatalError(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

func IsFatalError(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
