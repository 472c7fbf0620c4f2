// Package peermedia defines the black-box peer-media adaptor (§4.9): the
// interface the Supervisor drives for inbound/outbound audio and SDP
// signaling, without depending on any concrete WebRTC/ICE stack. Shape
// grounded on `_examples/MrWong99-glyphoxa/pkg/audio/webrtc/transport.go`'s
// PeerTransport: that package deliberately keeps pion/webrtc out from
// behind an interface and ships only a mock/loopback implementation, which
// is exactly what peer-connection negotiation being an external black box
// (a spec Non-goal) calls for here too.
package peermedia

import (
	"context"
	"sync"
)

// AudioFrame is one frame of PCM audio crossing the adaptor boundary, at
// whatever rate/channel-count the concrete Adaptor natively carries (the
// Supervisor's Reframer handles the conversion to/from the gateway's fixed
// 10ms/48kHz/mono/16-bit wire format).
type AudioFrame struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Adaptor abstracts one peer connection's audio and signaling surface.
type Adaptor interface {
	// CreateOffer creates an SDP offer for a new peer, for the rare case the
	// Supervisor initiates negotiation itself (e.g. a renegotiation).
	CreateOffer(ctx context.Context) (sdpOffer string, err error)

	// AcceptOffer processes a client-initiated SDP offer (the `offer`
	// control message, §6) and returns the answer to send back as `signal`.
	AcceptOffer(ctx context.Context, sdpOffer string) (sdpAnswer string, err error)

	// AcceptAnswer processes the remote peer's SDP answer to a
	// Supervisor-initiated offer.
	AcceptAnswer(ctx context.Context, sdpAnswer string) error

	// AddICECandidate adds a remote ICE candidate.
	AddICECandidate(candidate string) error

	// AudioInput returns the channel delivering audio frames received from
	// this peer. Closed when the peer disconnects.
	AudioInput() <-chan AudioFrame

	// SendAudio sends an audio frame to this peer's outbound track.
	SendAudio(frame AudioFrame) error

	// Close tears down the connection and releases resources. Safe to call
	// more than once.
	Close() error
}

// Loopback is the reference Adaptor: it has no real network transport, and
// simply echoes whatever the Supervisor injects into it via Inject on
// AudioInput, and buffers outbound frames for inspection via Sent. It is
// the default adaptor when no real peer transport is wired (the `audio`
// fallback control message path never touches it at all), and the Adaptor
// tests exercise it directly.
type Loopback struct {
	mu        sync.Mutex
	audioIn   chan AudioFrame
	audioOut  chan AudioFrame
	closed    chan struct{}
	closeOnce sync.Once
	encoder   *OpusEncoder
	decoder   *OpusDecoder
}

func NewLoopback() *Loopback {
	return &Loopback{
		audioIn:  make(chan AudioFrame, 32),
		audioOut: make(chan AudioFrame, 32),
		closed:   make(chan struct{}),
	}
}

// NewLoopbackWithOpusCodec builds a Loopback that additionally round-trips
// every outbound frame through a real Opus encode/decode pass before
// buffering it, simulating the lossy compression a real peer transport
// would apply. SendAudio frames must carry exactly one 20ms/48kHz/mono
// frame's worth of PCM16LE (opusFrameSize samples).
func NewLoopbackWithOpusCodec() (*Loopback, error) {
	enc, err := NewOpusEncoder()
	if err != nil {
		return nil, err
	}
	dec, err := NewOpusDecoder()
	if err != nil {
		return nil, err
	}
	l := NewLoopback()
	l.encoder = enc
	l.decoder = dec
	return l, nil
}

func (l *Loopback) CreateOffer(_ context.Context) (string, error) {
	return "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=gateway-loopback\r\n", nil
}

func (l *Loopback) AcceptOffer(_ context.Context, _ string) (string, error) {
	return "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=gateway-loopback-answer\r\n", nil
}

func (l *Loopback) AcceptAnswer(_ context.Context, _ string) error { return nil }

func (l *Loopback) AddICECandidate(_ string) error { return nil }

func (l *Loopback) AudioInput() <-chan AudioFrame { return l.audioIn }

func (l *Loopback) SendAudio(frame AudioFrame) error {
	if l.encoder != nil && l.decoder != nil {
		opus, err := l.encoder.Encode(frame.PCM)
		if err != nil {
			return err
		}
		pcm, err := l.decoder.Decode(opus)
		if err != nil {
			return err
		}
		frame.PCM = pcm
	}
	select {
	case l.audioOut <- frame:
		return nil
	case <-l.closed:
		return nil
	}
}

// Inject simulates a peer audio frame arriving, for tests and for a real
// transport's read goroutine to feed decoded frames through.
func (l *Loopback) Inject(frame AudioFrame) {
	select {
	case l.audioIn <- frame:
	case <-l.closed:
	}
}

// Sent drains one outbound frame for assertions; returns ok=false if none
// is pending.
func (l *Loopback) Sent() (AudioFrame, bool) {
	select {
	case f := <-l.audioOut:
		return f, true
	default:
		return AudioFrame{}, false
	}
}

func (l *Loopback) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.mu.Lock()
		close(l.audioIn)
		l.mu.Unlock()
	})
	return nil
}
