package voice

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied means the microphone was refused. Listening is
	// switched off and not retried.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrUnavailable means no speech recognition backend can run here.
	ErrUnavailable = errors.New("speech recognition unavailable")
)

// RecognitionEvent is one transcript delivered by a recognition stream.
type RecognitionEvent struct {
	Transcript string
	IsFinal    bool
}

type RecognitionConfig struct {
	Language       string
	Continuous     bool
	InterimResults bool
}

// Callbacks are invoked by a Stream from any goroutine.
type Callbacks struct {
	OnResult func(RecognitionEvent)
	OnError  func(error)
	// OnEnd fires exactly once when the stream terminates for any reason
	// other than Abort or Stop.
	OnEnd func()
}

// Stream is one open continuous recognition session.
type Stream interface {
	// Abort drops the stream immediately, discarding buffered audio.
	Abort()
	// Stop ends the stream after the current utterance.
	Stop()
}

// Recognizer opens continuous speech-to-text streams.
type Recognizer interface {
	Start(ctx context.Context, cfg RecognitionConfig, cb Callbacks) (Stream, error)
}

// Synthesizer speaks text. Speak blocks until playback has finished.
type Synthesizer interface {
	Voices(ctx context.Context) []string
	Speak(ctx context.Context, text, voice string) error
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Clock is the time source for the session. Tests swap in a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock is backed by the time package.
var SystemClock Clock = systemClock{}
