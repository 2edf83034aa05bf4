// Package tts holds the cloud speech backends DOM talks through. Each one
// blocks in Speak until playback has finished.
package tts

import "context"

// Output plays mono samples. audio.Player is the real one.
type Output interface {
	Play(ctx context.Context, samples []float32, rate int) error
}
