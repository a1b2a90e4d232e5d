package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/mossy-p/peercam/internal/errors"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
)

const (
	videoFrameInterval = 33 * time.Millisecond
	audioFrameInterval = 20 * time.Millisecond
)

// SyntheticSource is a CaptureSource producing a VP8 test pattern and Opus
// silence. A device can be held by one endpoint at a time, like a real
// camera.
type SyntheticSource struct {
	mu      sync.Mutex
	devices []Device
	held    map[string]bool
	denied  bool
	active  int
	logger  *zap.Logger
}

// NewSyntheticSource creates a source exposing devices. With no devices a
// single "synthetic-0" device is used.
func NewSyntheticSource(logger *zap.Logger, devices ...Device) *SyntheticSource {
	if len(devices) == 0 {
		devices = []Device{{ID: "synthetic-0", Label: "Synthetic camera"}}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyntheticSource{
		devices: devices,
		held:    make(map[string]bool),
		logger:  logger,
	}
}

func (s *SyntheticSource) Devices(ctx context.Context) ([]Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Device, len(s.devices))
	copy(out, s.devices)
	return out, nil
}

// SetDenied makes subsequent Acquire calls fail with PermissionDenied.
func (s *SyntheticSource) SetDenied(denied bool) {
	s.mu.Lock()
	s.denied = denied
	s.mu.Unlock()
}

// ActiveTracks returns the number of tracks currently capturing.
func (s *SyntheticSource) ActiveTracks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *SyntheticSource) Acquire(ctx context.Context, deviceID string) (*MediaEndpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.denied {
		return nil, apperrors.ErrPermissionDenied
	}
	if deviceID == "" {
		deviceID = s.devices[0].ID
	}
	if !s.hasDeviceLocked(deviceID) {
		return nil, apperrors.ErrDeviceUnavailable.WithMessage("no capture device %q", deviceID)
	}
	if s.held[deviceID] {
		return nil, apperrors.ErrDeviceUnavailable.WithMessage("capture device %q is busy", deviceID)
	}

	streamID := "peercam-" + deviceID
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	s.held[deviceID] = true
	s.active += 2

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go s.pump(video, videoFrameInterval, videoFrame(), done, &wg)
	go s.pump(audio, audioFrameInterval, []byte{0xf8, 0xff, 0xfe}, done, &wg)

	s.logger.Debug("capture started", zap.String("device_id", deviceID))

	release := func() {
		close(done)
		wg.Wait()

		s.mu.Lock()
		delete(s.held, deviceID)
		s.active -= 2
		s.mu.Unlock()

		s.logger.Debug("capture stopped", zap.String("device_id", deviceID))
	}
	return NewMediaEndpoint(deviceID, []webrtc.TrackLocal{video, audio}, release), nil
}

func (s *SyntheticSource) hasDeviceLocked(id string) bool {
	for _, d := range s.devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

// pump writes one sample per interval until done is closed. Writes to an
// unbound track are no-ops.
func (s *SyntheticSource) pump(track *webrtc.TrackLocalStaticSample, interval time.Duration, frame []byte, done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := track.WriteSample(media.Sample{Data: frame, Duration: interval}); err != nil {
				s.logger.Debug("write sample failed", zap.String("track", track.ID()), zap.Error(err))
			}
		}
	}
}

// videoFrame is a minimal VP8 key frame header followed by filler.
func videoFrame() []byte {
	frame := []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x40, 0x01, 0xf0, 0x00}
	for i := 0; i < 64; i++ {
		frame = append(frame, byte(i))
	}
	return frame
}
