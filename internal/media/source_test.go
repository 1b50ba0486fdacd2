package media

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTrack(t *testing.T, mime, id string) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "test-stream")
	require.NoError(t, err)
	return track
}

func TestStreamStopIsIdempotent(t *testing.T) {
	stops := 0
	stream := NewStream(newTestTrack(t, webrtc.MimeTypeVP8, "video"), nil, func() { stops++ })

	stream.Stop()
	stream.Stop()

	assert.Equal(t, 1, stops)
	assert.True(t, stream.Stopped())
}

func TestStreamTracksVideoFirst(t *testing.T) {
	video := newTestTrack(t, webrtc.MimeTypeVP8, "video")
	audio := newTestTrack(t, webrtc.MimeTypeOpus, "audio")
	stream := NewStream(video, audio, nil)

	tracks := stream.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, video, tracks[0])
	assert.Equal(t, audio, tracks[1])

	videoOnly := NewStream(video, nil, nil)
	assert.Len(t, videoOnly.Tracks(), 1)
	assert.Nil(t, videoOnly.AudioTrack())
}

func TestStreamVideoEnded(t *testing.T) {
	stream := NewStream(newTestTrack(t, webrtc.MimeTypeVP8, "video"), nil, nil)
	assert.False(t, stream.VideoEnded())

	stream.MarkVideoEnded()
	assert.True(t, stream.VideoEnded())

	stopped := NewStream(newTestTrack(t, webrtc.MimeTypeVP8, "video"), nil, nil)
	stopped.Stop()
	assert.True(t, stopped.VideoEnded())
}

func TestClassifyError(t *testing.T) {
	title, _ := ClassifyError(fmt.Errorf("device: %w", ErrPermissionDenied))
	assert.Equal(t, "Camera access denied", title)

	title, _ = ClassifyError(fmt.Errorf("device: %w", ErrNoDevice))
	assert.Equal(t, "No camera found", title)

	title, message := ClassifyError(errors.New("boom"))
	assert.Equal(t, "Camera unavailable", title)
	assert.NotEmpty(t, message)
}

func TestFileSourceMissingVideoFile(t *testing.T) {
	source := &FileSource{VideoPath: "/nonexistent/broadcast.ivf"}
	_, err := source.Acquire(context.Background(), DefaultProfile())
	assert.ErrorIs(t, err, ErrNoDevice)
}
