package capture

import (
	"context"
	"errors"
	"log"
	"sync"

	opuscodec "github.com/jj11hh/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/solomid123/marooc/internal/session"
)

const (
	// SampleRate of the decoded capture audio.
	SampleRate = 16000
	// chunkBytes is 100ms of 16kHz mono 16-bit PCM.
	chunkBytes = 3200
	// frameBuffer bounds queued frames; a stalled consumer drops the oldest.
	frameBuffer = 32
)

// SessionDescription is a small DTO to avoid exposing webrtc types in
// transport.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Stream is the decoded audio of one WebRTC peer, exposed as a
// session.MediaStream. Remote Opus packets are decoded to 16kHz mono PCM and
// delivered in fixed-size frames.
type Stream struct {
	pc     *webrtc.PeerConnection
	frames chan []byte

	mu      sync.Mutex
	onEnded func()
	ended   bool
	closed  bool
}

func (s *Stream) Tracks() []session.Track {
	return []session.Track{peerTrack{s}}
}

func (s *Stream) AudioFrames() <-chan []byte { return s.frames }

func (s *Stream) OnEnded(fn func()) {
	s.mu.Lock()
	s.onEnded = fn
	alreadyEnded := s.ended
	s.mu.Unlock()
	if alreadyEnded && fn != nil {
		fn()
	}
}

// Close tears the peer connection down. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	_ = s.pc.Close()
}

func (s *Stream) end() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	fn := s.onEnded
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// peerTrack maps track-level Stop onto the peer connection; the browser owns
// the real capture tracks.
type peerTrack struct{ s *Stream }

func (t peerTrack) Stop() { t.s.Close() }

// Source adapts an accepted Stream to the session.AudioSource contract.
type Source struct{ stream *Stream }

func NewSource(stream *Stream) *Source { return &Source{stream: stream} }

func (s *Source) Start(ctx context.Context) (session.MediaStream, error) {
	return s.stream, nil
}

func (s *Source) Stop() { s.stream.Close() }

// AcceptOffer answers a browser SDP offer and starts decoding its audio
// track. The returned Stream delivers PCM frames until the peer disconnects.
func AcceptOffer(ctx context.Context, offer SessionDescription) (SessionDescription, *Stream, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, nil, errors.New("invalid offer")
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return SessionDescription{}, nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return SessionDescription{}, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return SessionDescription{}, nil, err
	}

	stream := &Stream{pc: pc, frames: make(chan []byte, frameBuffer)}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("capture: peer connection state: %s", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			stream.end()
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("capture: remote audio track: codec=%s", remote.Codec().MimeType)

		dec, derr := opuscodec.NewDecoder(SampleRate, 1)
		if derr != nil {
			log.Printf("capture: opus decoder: %v", derr)
			return
		}
		go stream.readLoop(remote, dec)
	})

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(remoteOffer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, nil, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, nil, err
	}
	<-gatherComplete
	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return SessionDescription{}, nil, errors.New("no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, stream, nil
}

func (s *Stream) readLoop(remote *webrtc.TrackRemote, dec *opuscodec.Decoder) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("capture: recovered from panic in readLoop: %v", r)
		}
	}()

	ck := newChunker(chunkBytes)
	pcm := make([]int16, 1920)
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			log.Printf("capture: rtp read: %v", err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			log.Printf("capture: opus decode: %v", err)
			continue
		}
		for _, frame := range ck.push(pcm[:n]) {
			s.deliver(frame)
		}
	}
}

// deliver hands a frame to the consumer; when the buffer is full the oldest
// frame is dropped so live audio keeps flowing.
func (s *Stream) deliver(frame []byte) {
	select {
	case s.frames <- frame:
	default:
		select {
		case <-s.frames:
		default:
		}
		select {
		case s.frames <- frame:
		default:
		}
	}
}
