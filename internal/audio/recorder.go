// Package audio owns the sound card: microphone capture split into
// utterances, speech playback, and lowering other applications while DOM
// talks.
package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

const SampleRate = 16000

var (
	// ErrNoDevice means there is no default input device to record from.
	ErrNoDevice = errors.New("no input device")
	// ErrDeviceDenied means the device exists but could not be opened.
	ErrDeviceDenied = errors.New("input device access denied")
)

var (
	initMu   sync.Mutex
	initRefs int
)

// Init initializes portaudio. Every successful Init needs a matching
// Terminate; recorder and player share the library.
func Init() error {
	initMu.Lock()
	defer initMu.Unlock()

	if initRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio init: %w", err)
		}
	}
	initRefs++
	return nil
}

func Terminate() {
	initMu.Lock()
	defer initMu.Unlock()

	if initRefs == 0 {
		return
	}
	initRefs--
	if initRefs == 0 {
		portaudio.Terminate()
	}
}

// Endpointing decides where an utterance starts and ends.
type Endpointing struct {
	FrameSize  int
	SilenceRMS float64
	Silence    time.Duration
	MaxLength  time.Duration
}

func DefaultEndpointing() Endpointing {
	return Endpointing{
		FrameSize:  320, // 20ms
		SilenceRMS: 0.015,
		Silence:    600 * time.Millisecond,
		MaxLength:  10 * time.Second,
	}
}

// endpointer accumulates frames of one utterance: nothing is kept until a
// frame rises above the threshold, then capture runs until enough trailing
// silence or the length cap.
type endpointer struct {
	ep            Endpointing
	speaking      bool
	silenceFrames int
	out           []float32
}

func (e *endpointer) frameDuration() time.Duration {
	return time.Duration(e.ep.FrameSize) * time.Second / SampleRate
}

// push adds a frame and reports whether the utterance is complete.
func (e *endpointer) push(frame []float32) bool {
	if frameRMS(frame) > e.ep.SilenceRMS {
		e.speaking = true
		e.silenceFrames = 0
		e.out = append(e.out, frame...)
	} else if e.speaking {
		e.silenceFrames++
		if time.Duration(e.silenceFrames)*e.frameDuration() >= e.ep.Silence {
			return true
		}
		e.out = append(e.out, frame...)
	}

	maxSamples := int(e.ep.MaxLength.Seconds() * SampleRate)
	return e.speaking && len(e.out) >= maxSamples
}

func (e *endpointer) reset() {
	e.speaking = false
	e.silenceFrames = 0
	e.out = nil
}

// Recorder reads the default input device. Only one capture runs at a
// time; a second caller waits for the first to release the device.
type Recorder struct {
	ep Endpointing
	mu sync.Mutex
}

func NewRecorder(ep Endpointing) *Recorder {
	if ep.FrameSize <= 0 {
		ep = DefaultEndpointing()
	}
	return &Recorder{ep: ep}
}

// Frames opens the microphone and calls fn with every frame until ctx is
// done or fn returns false. The frame slice is reused between calls.
func (r *Recorder) Frames(ctx context.Context, fn func(frame []float32) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := make([]float32, r.ep.FrameSize)

	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(buf), buf)
	if err != nil {
		return classify(err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return classify(err)
	}
	defer stream.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			return fmt.Errorf("read input: %w", err)
		}

		if !fn(buf) {
			return nil
		}
	}
}

// Capture calls fn with each complete utterance until ctx is done or fn
// returns false. Utterances are mono 16kHz samples in [-1, 1].
func (r *Recorder) Capture(ctx context.Context, fn func(pcm []float32) bool) error {
	e := &endpointer{ep: r.ep}
	return r.Frames(ctx, func(frame []float32) bool {
		if !e.push(frame) {
			return true
		}
		pcm := e.out
		e.reset()
		return fn(pcm)
	})
}

func classify(err error) error {
	switch {
	case errors.Is(err, portaudio.InvalidDevice), errors.Is(err, portaudio.DeviceUnavailable):
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	case strings.Contains(strings.ToLower(err.Error()), "permission"):
		return fmt.Errorf("%w: %v", ErrDeviceDenied, err)
	default:
		return fmt.Errorf("open input: %w", err)
	}
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
