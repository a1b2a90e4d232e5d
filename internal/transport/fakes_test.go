package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/peercam/config"
	"github.com/mossy-p/peercam/internal/handlers"
	"github.com/mossy-p/peercam/internal/metrics"
	"github.com/mossy-p/peercam/internal/models"
	"github.com/mossy-p/peercam/internal/registry"
	"github.com/mossy-p/peercam/internal/relay"
	"github.com/mossy-p/peercam/internal/session"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

// fakeFactory hands out fakePeers. A peer "connects" once both descriptions
// are set; with remoteTracks it then also reports a remote video track.
type fakeFactory struct {
	mu           sync.Mutex
	peers        []*fakePeer
	remoteTracks bool
	fail         bool
}

func (f *fakeFactory) New() (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{factory: f}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) Peers() []*fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePeer(nil), f.peers...)
}

type fakeSender struct {
	mu       sync.Mutex
	track    webrtc.TrackLocal
	replaced []webrtc.TrackLocal
}

func (s *fakeSender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	s.replaced = append(s.replaced, track)
	return nil
}

func (s *fakeSender) Replaced() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), s.replaced...)
}

func (s *fakeSender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

type fakeRemoteTrack struct {
	kind webrtc.RTPCodecType
}

func (t fakeRemoteTrack) ID() string                { return "remote-" + t.kind.String() }
func (t fakeRemoteTrack) StreamID() string          { return "remote" }
func (t fakeRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

type fakePeer struct {
	factory *fakeFactory

	mu         sync.Mutex
	senders    []*fakeSender
	receivers  []webrtc.RTPCodecType
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	connected  bool
	closed     bool
	onICE      func(*webrtc.ICECandidateInit)
	onTrack    func(RemoteTrack)
	onState    func(webrtc.PeerConnectionState)
}

func (p *fakePeer) AddTrack(track webrtc.TrackLocal) (TrackSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSender{track: track}
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *fakePeer) AddReceiver(kind webrtc.RTPCodecType) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receivers = append(p.receivers, kind)
	return nil
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake-offer"}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake-answer"}, nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	p.local = &desc
	onICE := p.onICE
	p.mu.Unlock()

	go onICE(&webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 5000 typ host"})
	p.maybeConnect()
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	p.remote = &desc
	p.mu.Unlock()
	p.maybeConnect()
	return nil
}

func (p *fakePeer) maybeConnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected || p.local == nil || p.remote == nil {
		return
	}
	p.connected = true

	onState, onTrack := p.onState, p.onTrack
	if p.factory.fail {
		go onState(webrtc.PeerConnectionStateFailed)
		return
	}
	go func() {
		onState(webrtc.PeerConnectionStateConnected)
		if p.factory.remoteTracks {
			onTrack(fakeRemoteTrack{kind: webrtc.RTPCodecTypeVideo})
		}
	}()
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnTrack(fn func(RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type peerState struct {
	senders    []*fakeSender
	receivers  []webrtc.RTPCodecType
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     bool
}

func (p *fakePeer) Snapshot() peerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return peerState{
		senders:    append([]*fakeSender(nil), p.senders...),
		receivers:  append([]webrtc.RTPCodecType(nil), p.receivers...),
		local:      p.local,
		remote:     p.remote,
		candidates: append([]webrtc.ICECandidateInit(nil), p.candidates...),
		closed:     p.closed,
	}
}

// memSignaler is a Signaler whose inbound messages are pushed by the test.
type memSignaler struct {
	id        string
	in        chan models.SignalMessage
	mu        sync.Mutex
	sent      []models.SignalMessage
	closeOnce sync.Once
}

func newMemSignaler(id string) *memSignaler {
	return &memSignaler{id: id, in: make(chan models.SignalMessage, 32)}
}

func (s *memSignaler) ID() string { return s.id }

func (s *memSignaler) Send(msg models.SignalMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *memSignaler) Messages() <-chan models.SignalMessage { return s.in }

func (s *memSignaler) Close() error {
	s.closeOnce.Do(func() { close(s.in) })
	return nil
}

func (s *memSignaler) Sent(typ models.SignalType) []models.SignalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SignalMessage
	for _, m := range s.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// recorder collects adapter notifications.
type recorder struct {
	incoming chan *Call
	streams  chan RemoteTrack
	statuses chan models.SessionState
	errs     chan error
	closed   chan *Call
}

func record(a *Adapter) *recorder {
	r := &recorder{
		incoming: make(chan *Call, 16),
		streams:  make(chan RemoteTrack, 16),
		statuses: make(chan models.SessionState, 32),
		errs:     make(chan error, 16),
		closed:   make(chan *Call, 16),
	}
	a.OnIncoming(func(c *Call) { r.incoming <- c })
	a.OnRemoteStream(func(_ *Call, t RemoteTrack) { r.streams <- t })
	a.OnStatusChange(func(_ *Call, s models.SessionState) { r.statuses <- s })
	a.OnError(func(_ *Call, err error) { r.errs <- err })
	a.OnClose(func(c *Call) { r.closed <- c })
	return r
}

func (r *recorder) waitStatus(t *testing.T, want models.SessionState) {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case s := <-r.statuses:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("no %s status", want)
		}
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func startSignalServer(t *testing.T, maxPeers int) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Environment: "test",
		Session:     config.SessionConfig{Policy: "reject"},
		Signaling:   config.SignalingConfig{SendBuffer: 64, MaxMessagesPerSecond: 200, MaxMessageBytes: 64 << 10},
	}
	m := metrics.New()
	reg := registry.New(registry.Options{MaxPeers: maxPeers, Metrics: m})
	ts := httptest.NewServer(handlers.NewRouter(handlers.Deps{
		Config:   cfg,
		Registry: reg,
		Relay:    relay.New(cfg.Signaling.SendBuffer, nil, m),
		Sessions: session.NewCoordinator(reg, session.Options{Policy: session.PolicyReject, Metrics: m}),
		Metrics:  m,
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/signal"
}

func newWSAdapter(t *testing.T, url string, factory *fakeFactory, source CaptureSource) (*Adapter, *WSSignaler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	sig, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	require.NotEmpty(t, sig.ID())

	a := NewAdapter(Options{Signaler: sig, Source: source, NewPeer: factory.New, CallTimeout: waitFor})
	t.Cleanup(func() { a.Close() })
	return a, sig
}
