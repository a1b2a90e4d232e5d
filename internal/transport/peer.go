package transport

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// PeerConnection is the part of a WebRTC peer connection the Adapter drives.
// Callbacks may be invoked from any goroutine.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) (TrackSender, error)
	// AddReceiver adds a receive-only transceiver, used when placing a call
	// without local media.
	AddReceiver(kind webrtc.RTPCodecType) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(fn func(candidate *webrtc.ICECandidateInit))
	OnTrack(fn func(track RemoteTrack))
	OnConnectionStateChange(fn func(state webrtc.PeerConnectionState))
	Close() error
}

// TrackSender swaps the track sent on an existing transceiver.
type TrackSender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// RemoteTrack is a track received from the other party.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// PeerFactory creates a fresh peer connection for one call.
type PeerFactory func() (PeerConnection, error)

// PionConfig configures peer connections backed by pion.
type PionConfig struct {
	STUNURLs []string
	Logger   *zap.Logger
}

// NewPionFactory builds a PeerFactory sharing one pion API. pion's own logs
// go to cfg.Logger.
func NewPionFactory(cfg PionConfig) (PeerFactory, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	se := webrtc.SettingEngine{
		LoggerFactory: NewLoggerFactory(cfg.Logger.Named("pion")),
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))

	var iceServers []webrtc.ICEServer
	if len(cfg.STUNURLs) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.STUNURLs}}
	}
	rtcConfig := webrtc.Configuration{ICEServers: iceServers}

	return func() (PeerConnection, error) {
		pc, err := api.NewPeerConnection(rtcConfig)
		if err != nil {
			return nil, fmt.Errorf("new peer connection: %w", err)
		}
		return &pionPeer{pc: pc, logger: cfg.Logger}, nil
	}, nil
}

type pionPeer struct {
	pc     *webrtc.PeerConnection
	logger *zap.Logger
}

func (p *pionPeer) AddTrack(track webrtc.TrackLocal) (TrackSender, error) {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}

	// RTCP has to be read for interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return sender, nil
}

func (p *pionPeer) AddReceiver(kind webrtc.RTPCodecType) error {
	_, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) OnICECandidate(fn func(candidate *webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			fn(nil)
			return
		}
		ci := c.ToJSON()
		fn(&ci)
	})
}

// OnTrack reports each remote track and drains its RTP. Rendering is left
// to the caller's UI.
func (p *pionPeer) OnTrack(fn func(track RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.logger.Debug("remote track",
			zap.String("kind", track.Kind().String()),
			zap.String("codec", track.Codec().MimeType),
			zap.String("stream_id", track.StreamID()))
		fn(track)
		go func() {
			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})
}

func (p *pionPeer) OnConnectionStateChange(fn func(state webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
