package session

import "context"

// Track is one independently stoppable media track of a capture stream.
type Track interface {
	Stop()
}

// MediaStream is a live capture handle. AudioFrames yields 16-bit PCM frames
// until the stream ends; OnEnded registers a callback for asynchronous
// termination (the platform revoking capture, a device unplug).
type MediaStream interface {
	Tracks() []Track
	AudioFrames() <-chan []byte
	OnEnded(func())
}

// AudioSource opens capture streams. The platform capture capability sits
// behind this contract; tests substitute fakes.
type AudioSource interface {
	Start(ctx context.Context) (MediaStream, error)
	Stop()
}
