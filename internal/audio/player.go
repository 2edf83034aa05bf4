package audio

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"

	"github.com/gordonklaus/portaudio"
)

type PlayerOption func(*Player)

// WithDucker lowers other applications for the length of each playback.
func WithDucker(d *Ducker) PlayerOption {
	return func(p *Player) { p.ducker = d }
}

// Player writes mono PCM to the default output device.
type Player struct {
	frameSize int
	ducker    *Ducker
}

func NewPlayer(opts ...PlayerOption) *Player {
	p := &Player{frameSize: 1024}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Play blocks until samples have been written or ctx is done.
func (p *Player) Play(ctx context.Context, samples []float32, rate int) error {
	if len(samples) == 0 {
		return nil
	}

	if p.ducker != nil {
		if err := p.ducker.Duck(ctx); err != nil {
			log.Warn("Failed to duck other streams", "err", err)
		}
		defer func() {
			// restore even when playback was cancelled
			if err := p.ducker.Restore(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Failed to restore other streams", "err", err)
			}
		}()
	}

	buf := make([]float32, p.frameSize)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(rate), len(buf), buf)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start output: %w", err)
	}
	defer stream.Stop()

	for off := 0; off < len(samples); off += len(buf) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n := copy(buf, samples[off:])
		clear(buf[n:])

		if err := stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return fmt.Errorf("write output: %w", err)
		}
	}

	return nil
}
