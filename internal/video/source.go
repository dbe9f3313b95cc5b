// Package video wraps sequential frame decoding over a video file. The rest
// of the pipeline only sees the FrameSource interface, so tests can substitute
// synthetic sources.
package video

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// FrameSource is the decode boundary used by the frame buffer. Grab advances
// to the next frame, Retrieve returns a copy of the current decoded image.
// SeekRead is the slow fallback for out-of-order requests. Exhaustion is
// reported as io.EOF by ReadAt, never as a distinct error type.
type FrameSource interface {
	Grab() bool
	Retrieve() (gocv.Mat, bool)
	PosMsec() int64
	SeekRead(msec int64) (gocv.Mat, bool)
	DurationMsec() int64
	Close() error
}

// Source is a FrameSource over a gocv.VideoCapture.
type Source struct {
	capture    *gocv.VideoCapture
	current    gocv.Mat
	fps        float64
	frameCount float64
}

// Open opens a video file for sequential decoding. A file that cannot be
// opened, or that reports zero frames, is treated as immediately exhausted
// and returns io.EOF.
func Open(path string) (*Source, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, io.EOF)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("open %s: %w", path, io.EOF)
	}
	s := &Source{
		capture:    capture,
		current:    gocv.NewMat(),
		fps:        capture.Get(gocv.VideoCaptureFPS),
		frameCount: capture.Get(gocv.VideoCaptureFrameCount),
	}
	if s.frameCount == 0 || s.fps == 0 {
		s.Close()
		return nil, fmt.Errorf("open %s: zero frames: %w", path, io.EOF)
	}
	return s, nil
}

// Grab decodes the next frame into the internal buffer, returning false on
// exhaustion.
func (s *Source) Grab() bool {
	return s.capture.Read(&s.current)
}

// Retrieve returns a copy of the most recently grabbed frame.
func (s *Source) Retrieve() (gocv.Mat, bool) {
	if s.current.Empty() {
		return gocv.Mat{}, false
	}
	return s.current.Clone(), true
}

// PosMsec reports the source position of the current frame in milliseconds.
func (s *Source) PosMsec() int64 {
	return int64(s.capture.Get(gocv.VideoCapturePosMsec))
}

// SeekRead jumps to the given position and decodes a frame there. Seeking is
// much slower than sequential decode and only used as a fallback.
func (s *Source) SeekRead(msec int64) (gocv.Mat, bool) {
	s.capture.Set(gocv.VideoCapturePosMsec, float64(msec))
	if !s.capture.Read(&s.current) {
		return gocv.Mat{}, false
	}
	return s.current.Clone(), true
}

// FPS returns the source frame rate.
func (s *Source) FPS() float64 { return s.fps }

// FrameCount returns the number of frames the container reports.
func (s *Source) FrameCount() float64 { return s.frameCount }

// DurationMsec returns the reported clip duration in milliseconds.
func (s *Source) DurationMsec() int64 {
	return int64(s.frameCount / s.fps * 1000)
}

// Close releases the capture and the internal frame buffer.
func (s *Source) Close() error {
	s.current.Close()
	return s.capture.Close()
}

// ReadAt returns the decoded image covering the requested time. Decode
// proceeds strictly forward; a request behind the current position falls back
// to a seek, which is logged since it should be rare. Exhaustion of the
// source is reported as io.EOF.
func ReadAt(src FrameSource, msec int64) (gocv.Mat, error) {
	prev := src.PosMsec()
	if prev > msec {
		log.Warn().Int64("time_ms", msec).Int64("pos_ms", prev).
			Msg("reading frame out of sequence, falling back to slow seek")
		img, ok := src.SeekRead(msec)
		if !ok {
			return gocv.Mat{}, io.EOF
		}
		return img, nil
	}
	for {
		if !src.Grab() {
			return gocv.Mat{}, io.EOF
		}
		pos := src.PosMsec()
		if prev <= msec && msec <= pos {
			img, ok := src.Retrieve()
			if !ok {
				return gocv.Mat{}, io.EOF
			}
			return img, nil
		}
		prev = pos
	}
}
