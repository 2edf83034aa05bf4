package notify

import (
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

const chimeRate = beep.SampleRate(44100)

var (
	speakerOnce sync.Once
	speakerErr  error
)

func initSpeaker() error {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(chimeRate, chimeRate.N(time.Second/10))
	})
	return speakerErr
}

// Beep plays the chime at path, or a short two-note tone when path is
// empty. It blocks until the sound has finished.
func Beep(path string) error {
	if err := initSpeaker(); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}

	var s beep.Streamer
	if path == "" {
		s = beep.Seq(tone(880, 90*time.Millisecond), tone(1320, 120*time.Millisecond))
	} else {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open chime: %w", err)
		}
		streamer, format, err := mp3.Decode(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("decode chime: %w", err)
		}
		defer streamer.Close()
		s = beep.Resample(4, format.SampleRate, chimeRate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))
	<-done
	return nil
}

// tone is a sine at freq Hz with a linear fade out.
func tone(freq float64, d time.Duration) beep.Streamer {
	total := chimeRate.N(d)
	pos := 0
	return beep.Take(total, beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			t := float64(pos) / float64(chimeRate)
			fade := 1 - float64(pos)/float64(total)
			v := 0.3 * fade * math.Sin(2*math.Pi*freq*t)
			samples[i][0], samples[i][1] = v, v
			pos++
		}
		return len(samples), true
	}))
}
