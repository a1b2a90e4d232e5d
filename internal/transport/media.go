package transport

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Device is a capture device as reported by a DeviceEnumerator.
type Device struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// DeviceEnumerator lists the capture devices available to this process.
type DeviceEnumerator interface {
	Devices(ctx context.Context) ([]Device, error)
}

// CaptureSource opens a capture device. An empty deviceID selects the
// default device. Acquire fails with DeviceUnavailable or PermissionDenied.
type CaptureSource interface {
	Acquire(ctx context.Context, deviceID string) (*MediaEndpoint, error)
}

// MediaEndpoint owns the local tracks captured from one device. The device
// stays held until Stop is called.
type MediaEndpoint struct {
	deviceID string
	tracks   []webrtc.TrackLocal

	stopOnce sync.Once
	stop     func()
	stopped  chan struct{}
}

// NewMediaEndpoint wraps tracks captured from deviceID. release is called
// once, on the first Stop.
func NewMediaEndpoint(deviceID string, tracks []webrtc.TrackLocal, release func()) *MediaEndpoint {
	return &MediaEndpoint{
		deviceID: deviceID,
		tracks:   tracks,
		stop:     release,
		stopped:  make(chan struct{}),
	}
}

func (m *MediaEndpoint) DeviceID() string { return m.deviceID }

// Tracks returns the local tracks; nil once stopped.
func (m *MediaEndpoint) Tracks() []webrtc.TrackLocal {
	if m.Stopped() {
		return nil
	}
	return m.tracks
}

// Track returns the track of the given kind, if any.
func (m *MediaEndpoint) Track(kind webrtc.RTPCodecType) (webrtc.TrackLocal, bool) {
	for _, t := range m.Tracks() {
		if t.Kind() == kind {
			return t, true
		}
	}
	return nil, false
}

// Stop releases the device. It is safe to call more than once.
func (m *MediaEndpoint) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopped)
		if m.stop != nil {
			m.stop()
		}
	})
}

func (m *MediaEndpoint) Stopped() bool {
	select {
	case <-m.stopped:
		return true
	default:
		return false
	}
}
