package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

type SinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type fadeTarget struct {
	id   int
	from int
	to   int
}

// Mixer is the pulse/pipewire volume control the Ducker drives.
type Mixer interface {
	SinkInputs(ctx context.Context) ([]SinkInput, error)
	SetVolume(ctx context.Context, id, percent int) error
}

type DuckOptions struct {
	// Apps whose streams are left alone, by application.name.
	SelfNames []string
	// Factor scales the volume of other streams while ducked.
	Factor    float64
	MinVolume int
	Fade      time.Duration
}

func DefaultDuckOptions() DuckOptions {
	return DuckOptions{
		SelfNames: []string{"nebula", "PortAudio", "ALSA plug-in [nebula-daemon]"},
		Factor:    0.3,
		MinVolume: 10,
		Fade:      150 * time.Millisecond,
	}
}

// Ducker fades every other application's playback down while DOM speaks
// and back up afterwards.
type Ducker struct {
	mixer Mixer
	opt   DuckOptions
	sleep func(time.Duration)

	mu          sync.Mutex
	active      bool
	originalVol map[int]int
}

func NewDucker(mixer Mixer, opt DuckOptions) *Ducker {
	if mixer == nil {
		mixer = Pactl{}
	}
	opt.MinVolume = max(0, min(opt.MinVolume, 150))

	return &Ducker{
		mixer:       mixer,
		opt:         opt,
		sleep:       time.Sleep,
		originalVol: make(map[int]int),
	}
}

// Duck is a no-op while already ducked.
func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	streams, err := d.mixer.SinkInputs(ctx)
	if err != nil {
		return fmt.Errorf("list sink inputs: %w", err)
	}

	d.originalVol = make(map[int]int)

	var targets []fadeTarget
	for _, s := range streams {
		if d.isSelf(s) {
			continue
		}

		to := math.Max(float64(s.Volume)*d.opt.Factor, float64(d.opt.MinVolume))
		to = math.Min(to, 150)

		d.originalVol[s.ID] = s.Volume
		targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: int(math.Round(to))})
	}

	if err := d.fade(ctx, targets); err != nil {
		return err
	}

	d.active = true
	return nil
}

// Restore brings ducked streams back to the volume they had. Streams that
// appeared after Duck are not touched.
func (d *Ducker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	streams, err := d.mixer.SinkInputs(ctx)
	if err != nil {
		return fmt.Errorf("list sink inputs: %w", err)
	}

	var targets []fadeTarget
	for _, s := range streams {
		if d.isSelf(s) {
			continue
		}
		orig, ok := d.originalVol[s.ID]
		if !ok {
			continue
		}
		targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: orig})
	}

	if err := d.fade(ctx, targets); err != nil {
		return err
	}

	d.originalVol = make(map[int]int)
	d.active = false
	return nil
}

func (d *Ducker) isSelf(s SinkInput) bool {
	for _, name := range d.opt.SelfNames {
		if s.AppName == name {
			return true
		}
	}
	return false
}

func (d *Ducker) fade(ctx context.Context, targets []fadeTarget) error {
	if len(targets) == 0 {
		return nil
	}

	if d.opt.Fade <= 0 {
		for _, t := range targets {
			if err := d.mixer.SetVolume(ctx, t.id, t.to); err != nil {
				return fmt.Errorf("set volume id=%d: %w", t.id, err)
			}
		}
		return nil
	}

	const minStep = 10 * time.Millisecond

	steps := max(int(d.opt.Fade/minStep), 1)
	step := d.opt.Fade / time.Duration(steps)

	for i := 0; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frac := float64(i) / float64(steps)
		for _, t := range targets {
			v := int(math.Round(float64(t.from) + float64(t.to-t.from)*frac))
			if err := d.mixer.SetVolume(ctx, t.id, v); err != nil {
				return fmt.Errorf("set volume id=%d: %w", t.id, err)
			}
		}

		if i < steps {
			d.sleep(step)
		}
	}

	return nil
}

// Pactl drives the mixer through the pactl command.
type Pactl struct{}

func (Pactl) SinkInputs(ctx context.Context) ([]SinkInput, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "sink-inputs").Output()
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

func (Pactl) SetVolume(ctx context.Context, id, percent int) error {
	percent = max(0, min(percent, 150))
	arg := fmt.Sprintf("%d%%", percent)
	return exec.CommandContext(ctx, "pactl", "set-sink-input-volume", strconv.Itoa(id), arg).Run()
}

// parseSinkInputs reads the id, first volume and application.name of each
// block in `pactl list sink-inputs` output.
func parseSinkInputs(text string) []SinkInput {
	parts := strings.Split(text, "Sink Input #")
	if len(parts) <= 1 {
		return nil
	}

	var res []SinkInput
	for _, block := range parts[1:] {
		newline := strings.IndexByte(block, '\n')
		if newline <= 0 {
			continue
		}

		id, err := strconv.Atoi(strings.TrimSpace(block[:newline]))
		if err != nil {
			continue
		}

		s := SinkInput{ID: id}
		for _, line := range strings.Split(block[newline+1:], "\n") {
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "Volume:") && s.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); len(m) >= 2 {
					if v, err := strconv.Atoi(m[1]); err == nil {
						s.Volume = v
					}
				}
			}

			if strings.HasPrefix(line, "application.name =") && s.AppName == "" {
				if first := strings.Index(line, `"`); first >= 0 {
					rest := line[first+1:]
					if second := strings.Index(rest, `"`); second >= 0 {
						s.AppName = rest[:second]
					}
				}
			}
		}

		if s.Volume == 0 && s.AppName == "" {
			continue
		}
		res = append(res, s)
	}

	return res
}
