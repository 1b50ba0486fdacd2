package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"
)

const oggClockRate = 48000

// FileSource streams a pre-encoded VP8/IVF video file and an optional
// Opus/Ogg audio file as local tracks. It is the broadcast input of the
// headless host agent; Loop controls whether playback restarts at EOF or
// ends the video track (which drives the owner's media recovery path).
type FileSource struct {
	VideoPath string
	AudioPath string
	Loop      bool
	Logger    *zap.Logger
}

// Acquire opens the files and starts the pacing goroutines. The returned
// stream's tracks produce samples until Stop is called or, with Loop off,
// the files are exhausted.
func (f *FileSource) Acquire(ctx context.Context, profile Profile) (*Stream, error) {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := checkReadable(f.VideoPath); err != nil {
		return nil, err
	}
	if profile.Audio && f.AudioPath != "" {
		if err := checkReadable(f.AudioPath); err != nil {
			return nil, err
		}
	}

	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "glowcart-live")
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}

	var audioTrack *webrtc.TrackLocalStaticSample
	if profile.Audio && f.AudioPath != "" {
		audioTrack, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "glowcart-live")
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	var stream *Stream
	if audioTrack != nil {
		stream = NewStream(videoTrack, audioTrack, cancel)
	} else {
		stream = NewStream(videoTrack, nil, cancel)
	}

	go f.pumpVideo(streamCtx, videoTrack, stream, logger)
	if audioTrack != nil {
		go f.pumpAudio(streamCtx, audioTrack, logger)
	}
	return stream, nil
}

func checkReadable(path string) error {
	file, err := os.Open(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return fmt.Errorf("%s: %w", path, ErrNoDevice)
		case os.IsPermission(err):
			return fmt.Errorf("%s: %w", path, ErrPermissionDenied)
		default:
			return fmt.Errorf("open %s: %w", path, err)
		}
	}
	return file.Close()
}

func (f *FileSource) pumpVideo(ctx context.Context, track *webrtc.TrackLocalStaticSample, stream *Stream, logger *zap.Logger) {
	for {
		file, err := os.Open(f.VideoPath)
		if err != nil {
			logger.Warn("video source open failed", zap.Error(err))
			stream.MarkVideoEnded()
			return
		}
		ivf, header, err := ivfreader.NewWith(file)
		if err != nil {
			_ = file.Close()
			logger.Warn("video source not IVF", zap.Error(err))
			stream.MarkVideoEnded()
			return
		}

		frameDuration := time.Millisecond *
			time.Duration((float32(header.TimebaseNumerator)/float32(header.TimebaseDenominator))*1000)
		ticker := time.NewTicker(frameDuration)
		eof := false
		for !eof {
			select {
			case <-ctx.Done():
				ticker.Stop()
				_ = file.Close()
				return
			case <-ticker.C:
				frame, _, err := ivf.ParseNextFrame()
				if errors.Is(err, io.EOF) {
					eof = true
					continue
				}
				if err != nil {
					logger.Warn("video frame read failed", zap.Error(err))
					eof = true
					continue
				}
				if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
					logger.Debug("video sample write failed", zap.Error(err))
				}
			}
		}
		ticker.Stop()
		_ = file.Close()
		if !f.Loop {
			stream.MarkVideoEnded()
			return
		}
	}
}

func (f *FileSource) pumpAudio(ctx context.Context, track *webrtc.TrackLocalStaticSample, logger *zap.Logger) {
	for {
		file, err := os.Open(f.AudioPath)
		if err != nil {
			logger.Warn("audio source open failed", zap.Error(err))
			return
		}
		ogg, _, err := oggreader.NewWith(file)
		if err != nil {
			_ = file.Close()
			logger.Warn("audio source not Ogg", zap.Error(err))
			return
		}

		// Opus pages are paced by granule position deltas at 48kHz.
		ticker := time.NewTicker(20 * time.Millisecond)
		var lastGranule uint64
		eof := false
		for !eof {
			select {
			case <-ctx.Done():
				ticker.Stop()
				_ = file.Close()
				return
			case <-ticker.C:
				pageData, pageHeader, err := ogg.ParseNextPage()
				if errors.Is(err, io.EOF) {
					eof = true
					continue
				}
				if err != nil {
					logger.Warn("audio page read failed", zap.Error(err))
					eof = true
					continue
				}
				sampleCount := float64(pageHeader.GranulePosition - lastGranule)
				lastGranule = pageHeader.GranulePosition
				duration := time.Duration((sampleCount/oggClockRate)*1000) * time.Millisecond
				if err := track.WriteSample(pionmedia.Sample{Data: pageData, Duration: duration}); err != nil {
					logger.Debug("audio sample write failed", zap.Error(err))
				}
			}
		}
		ticker.Stop()
		_ = file.Close()
		if !f.Loop {
			return
		}
	}
}
