// Package media abstracts acquisition of the host's local broadcast tracks.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"
)

// Acquisition failure taxonomy. Sources wrap their device errors in one of
// these sentinels so callers can classify without knowing the device layer.
var (
	// ErrPermissionDenied means capture access was refused.
	ErrPermissionDenied = errors.New("media: permission denied")
	// ErrNoDevice means no capture device or input is present.
	ErrNoDevice = errors.New("media: no capture device")
)

// Profile is the requested capture quality. The broadcast profile is fixed
// high quality: 1280x720 at 30fps with audio.
type Profile struct {
	Width     int
	Height    int
	Framerate int
	Audio     bool
}

// DefaultProfile returns the standard broadcast capture profile.
func DefaultProfile() Profile {
	return Profile{Width: 1280, Height: 720, Framerate: 30, Audio: true}
}

// Source produces local media streams. Acquire may block on device startup
// and must honor ctx cancellation.
type Source interface {
	Acquire(ctx context.Context, profile Profile) (*Stream, error)
}

// Stream is an exclusively owned set of local tracks. It is not released
// implicitly: the owner must call Stop on teardown or role change.
type Stream struct {
	mu         sync.Mutex
	video      webrtc.TrackLocal
	audio      webrtc.TrackLocal
	stop       func()
	stopped    bool
	videoEnded bool
}

// NewStream wraps acquired tracks. stop releases the underlying capture and
// may be nil. audio may be nil when the profile disabled it.
func NewStream(video, audio webrtc.TrackLocal, stop func()) *Stream {
	return &Stream{video: video, audio: audio, stop: stop}
}

// VideoTrack returns the local video track.
func (s *Stream) VideoTrack() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

// AudioTrack returns the local audio track, or nil.
func (s *Stream) AudioTrack() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

// Tracks returns all non-nil local tracks, video first.
func (s *Stream) Tracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]webrtc.TrackLocal, 0, 2)
	if s.video != nil {
		out = append(out, s.video)
	}
	if s.audio != nil {
		out = append(out, s.audio)
	}
	return out
}

// Stop releases the capture. Idempotent.
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Stopped reports whether Stop has run.
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// MarkVideoEnded records that the video input died underneath the stream
// (device revoked, capture EOF). The owner detects this via VideoEnded and
// re-acquires.
func (s *Stream) MarkVideoEnded() {
	s.mu.Lock()
	s.videoEnded = true
	s.mu.Unlock()
}

// VideoEnded reports whether the video input ended while the stream was live.
func (s *Stream) VideoEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoEnded || s.stopped
}

// ClassifyError maps an acquisition error to a user-facing notification.
func ClassifyError(err error) (title, message string) {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Camera access denied", "Allow camera and microphone access to start the broadcast, then retry."
	case errors.Is(err, ErrNoDevice):
		return "No camera found", "Connect a camera and microphone, then retry."
	default:
		return "Camera unavailable", "The camera could not be started. Check that no other application is using it, then retry."
	}
}
