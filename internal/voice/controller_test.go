package voice

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"nebula/internal/nlu"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// next pops the earliest due timer at or before target.
func (c *fakeClock) next(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })

	t := due[0]
	t.fired = true
	c.now = t.at
	return t
}

type fakeStream struct {
	cb      Callbacks
	aborted bool
	stopped bool
}

func (s *fakeStream) Abort() { s.aborted = true }
func (s *fakeStream) Stop()  { s.stopped = true }

type fakeRecognizer struct {
	streams []*fakeStream
	errs    []error
}

func (r *fakeRecognizer) Start(_ context.Context, cfg RecognitionConfig, cb Callbacks) (Stream, error) {
	if !cfg.Continuous || cfg.InterimResults || cfg.Language != "en-US" {
		return nil, errors.New("unexpected recognition config")
	}
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := &fakeStream{cb: cb}
	r.streams = append(r.streams, s)
	return s, nil
}

func (r *fakeRecognizer) last() *fakeStream {
	return r.streams[len(r.streams)-1]
}

type fakeSynth struct {
	voices []string
	spoken []string
	voice  string
	err    error
}

func (s *fakeSynth) Voices(context.Context) []string { return s.voices }

func (s *fakeSynth) Speak(_ context.Context, text, voice string) error {
	s.spoken = append(s.spoken, text)
	s.voice = voice
	return s.err
}

type fakeDispatcher struct {
	intents []nlu.Intent
}

func (d *fakeDispatcher) Dispatch(_ context.Context, intent nlu.Intent) error {
	d.intents = append(d.intents, intent)
	return nil
}

type harness struct {
	c        *Controller
	clock    *fakeClock
	rec      *fakeRecognizer
	synth    *fakeSynth
	disp     *fakeDispatcher
	statuses []Status
}

func newHarness(t *testing.T, opts ...ControllerOption) *harness {
	t.Helper()

	h := &harness{
		clock: &fakeClock{now: t0},
		rec:   &fakeRecognizer{},
		synth: &fakeSynth{},
		disp:  &fakeDispatcher{},
	}
	interp := nlu.NewInterpreter(nil,
		nlu.WithPicker(func(int) int { return 0 }),
		nlu.WithClock(func() time.Time { return t0 }),
	)
	opts = append([]ControllerOption{
		WithClock(h.clock),
		WithSpawn(func(f func()) { f() }),
	}, opts...)
	h.c = NewController(h.rec, h.synth, interp, h.disp, opts...)
	h.c.OnStatus(func(s Status) { h.statuses = append(h.statuses, s) })
	return h
}

// drain runs every queued event on the calling goroutine.
func (h *harness) drain() {
	for {
		select {
		case ev := <-h.c.events:
			h.c.apply(ev)
		default:
			return
		}
	}
}

// advance moves the clock forward, firing timers in order.
func (h *harness) advance(d time.Duration) {
	target := h.clock.Now().Add(d)
	for {
		t := h.clock.next(target)
		if t == nil {
			break
		}
		t.f()
		h.drain()
	}
	h.clock.mu.Lock()
	h.clock.now = target
	h.clock.mu.Unlock()
}

func (h *harness) hear(text string) {
	h.rec.last().cb.OnResult(RecognitionEvent{Transcript: text, IsFinal: true})
	h.drain()
}

func (h *harness) count(message string) int {
	n := 0
	for _, s := range h.statuses {
		if s.Message == message {
			n++
		}
	}
	return n
}

func TestReadTasksScenario(t *testing.T) {
	h := newHarness(t)

	h.c.Enable()
	h.drain()
	if h.c.State() != Dormant || len(h.rec.streams) != 1 {
		t.Fatalf("expected dormant with one stream, got %v", h.c.State())
	}

	h.hear("hey dom read tasks")

	if len(h.synth.spoken) != 1 || h.synth.spoken[0] != "You have zero tasks." {
		t.Fatalf("spoken = %q", h.synth.spoken)
	}
	if !h.rec.streams[0].aborted {
		t.Fatalf("expected stream aborted while speaking")
	}
	if h.c.State() != Suppressed {
		t.Fatalf("expected suppressed, got %v", h.c.State())
	}
	if h.count(`Heard: "hey dom read tasks"`) != 1 {
		t.Fatalf("missing heard notice: %+v", h.statuses)
	}

	h.advance(499 * time.Millisecond)
	if h.c.State() != Suppressed {
		t.Fatalf("resumed before grace elapsed")
	}

	h.advance(time.Millisecond)
	if h.c.State() != Active {
		t.Fatalf("expected active, got %v", h.c.State())
	}
	if len(h.rec.streams) != 2 {
		t.Fatalf("expected recognition restarted, got %d streams", len(h.rec.streams))
	}
	if len(h.disp.intents) != 0 {
		t.Fatalf("list tasks has no side effect, got %+v", h.disp.intents)
	}
}

func TestAddTaskByVoice(t *testing.T) {
	h := newHarness(t)
	h.c.Enable()
	h.drain()

	h.hear("hey dom add buy milk")

	if len(h.disp.intents) != 1 {
		t.Fatalf("expected one dispatch, got %+v", h.disp.intents)
	}
	if got := h.disp.intents[0]; got.Kind != nlu.CreateTask || got.Text != "Add buy milk" {
		t.Fatalf("intent = %+v", got)
	}
	if len(h.synth.spoken) != 1 || h.synth.spoken[0] != "Copy that. Adding add buy milk" {
		t.Fatalf("spoken = %q", h.synth.spoken)
	}
}

func TestResultsDuringSpeechIgnored(t *testing.T) {
	h := newHarness(t)
	h.c.Enable()
	h.drain()

	h.c.Say("Greetings.")
	h.drain()

	// the aborted stream delivers a late result
	h.hear("hey dom add buy milk")

	if len(h.disp.intents) != 0 {
		t.Fatalf("dispatched during speech: %+v", h.disp.intents)
	}
	if len(h.synth.spoken) != 1 {
		t.Fatalf("spoken = %q", h.synth.spoken)
	}
}

func TestConversationTimeout(t *testing.T) {
	h := newHarness(t)
	h.c.Enable()
	h.drain()

	h.hear("hey dom")
	if h.synth.spoken[0] != PromptWake {
		t.Fatalf("expected wake prompt, got %q", h.synth.spoken)
	}
	h.advance(500 * time.Millisecond)

	h.advance(4500 * time.Millisecond)
	h.hear("what time is it")
	if want := t0.Add(13 * time.Second); !h.c.Snapshot().ConversationDeadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", h.c.Snapshot().ConversationDeadline, want)
	}
	h.advance(500 * time.Millisecond)

	h.advance(7400 * time.Millisecond)
	if h.c.State() != Active {
		t.Fatalf("window closed early: %v", h.c.State())
	}

	h.advance(100 * time.Millisecond)
	if h.c.Snapshot().ConversationActive {
		t.Fatalf("expected window closed at 13s")
	}
	if last := h.synth.spoken[len(h.synth.spoken)-1]; last != PromptStandby {
		t.Fatalf("last spoken = %q", last)
	}

	h.advance(30 * time.Second)
	if h.count(StatusStandby) != 1 {
		t.Fatalf("expected a single expiry, got %d", h.count(StatusStandby))
	}
	if h.c.State() != Dormant {
		t.Fatalf("expected dormant, got %v", h.c.State())
	}
}

func TestDisableDuringSpeech(t *testing.T) {
	h := newHarness(t)
	h.c.Enable()
	h.drain()

	h.c.Say("hello")
	h.drain()
	h.c.Disable()
	h.drain()

	h.advance(time.Second)
	if h.c.State() != Idle {
		t.Fatalf("expected idle, got %v", h.c.State())
	}
	if len(h.rec.streams) != 1 {
		t.Fatalf("recognition restarted after disable")
	}
}

func TestUnexpectedEndRestarts(t *testing.T) {
	h := newHarness(t)
	h.c.Enable()
	h.drain()

	h.rec.last().cb.OnEnd()
	h.drain()

	h.advance(199 * time.Millisecond)
	if len(h.rec.streams) != 1 {
		t.Fatalf("restarted before delay")
	}
	h.advance(time.Millisecond)
	if len(h.rec.streams) != 2 {
		t.Fatalf("expected restart after 200ms")
	}
}

func TestAbortEndDoesNotDoubleRestart(t *testing.T) {
	h := newHarness(t)
	h.c.Enable()
	h.drain()

	h.c.Say("hello")
	h.drain()
	h.rec.streams[0].cb.OnEnd()
	h.drain()

	h.advance(200 * time.Millisecond)
	if len(h.rec.streams) != 1 {
		t.Fatalf("abort end restarted recognition")
	}
	h.advance(2 * time.Second)
	if len(h.rec.streams) != 2 {
		t.Fatalf("expected exactly one restart after speech, got %d", len(h.rec.streams))
	}
}

func TestStartFailureRetries(t *testing.T) {
	h := newHarness(t)
	h.rec.errs = []error{errors.New("device busy")}

	h.c.Enable()
	h.drain()
	if len(h.rec.streams) != 0 || h.c.State() != Dormant {
		t.Fatalf("expected dormant without a stream")
	}

	h.advance(200 * time.Millisecond)
	if len(h.rec.streams) != 1 {
		t.Fatalf("expected retry, got %d streams", len(h.rec.streams))
	}
}

func TestPermissionDenied(t *testing.T) {
	h := newHarness(t)
	h.c.Enable()
	h.drain()

	h.rec.last().cb.OnError(ErrPermissionDenied)
	h.drain()

	if h.c.State() != Idle {
		t.Fatalf("expected idle, got %v", h.c.State())
	}
	if !h.rec.streams[0].stopped {
		t.Fatalf("expected stream stopped")
	}
	last := h.statuses[len(h.statuses)-1]
	if !last.Alert || last.Message != StatusDenied {
		t.Fatalf("last status = %+v", last)
	}

	h.advance(time.Second)
	if len(h.rec.streams) != 1 {
		t.Fatalf("recognition retried after denial")
	}
}

func TestNoRecognizerReportsOnce(t *testing.T) {
	clock := &fakeClock{now: t0}
	c := NewController(nil, nil, nil, nil, WithClock(clock))
	var alerts int
	c.OnStatus(func(s Status) {
		if s.Alert {
			alerts++
		}
	})

	c.Enable()
	c.Enable()
	c.Toggle()
	for {
		select {
		case ev := <-c.events:
			c.apply(ev)
			continue
		default:
		}
		break
	}

	if alerts != 1 {
		t.Fatalf("expected one alert, got %d", alerts)
	}
	if c.State() != Idle || !c.Snapshot().Unavailable {
		t.Fatalf("expected idle and unavailable")
	}
}

func TestMuteCommand(t *testing.T) {
	h := newHarness(t)
	h.c.Enable()
	h.drain()

	h.hear("dom shut up")

	if len(h.synth.spoken) != 1 || h.synth.spoken[0] != "Going quiet." {
		t.Fatalf("spoken = %q", h.synth.spoken)
	}
	if !h.c.Snapshot().Listening {
		t.Fatalf("mute must not disable listening")
	}
}

func TestActivate(t *testing.T) {
	h := newHarness(t)

	h.c.Activate()
	h.drain()

	s := h.c.Snapshot()
	if s.State() != Active || !s.ConversationDeadline.Equal(t0.Add(10*time.Second)) {
		t.Fatalf("expected 10s window, got %v until %v", s.State(), s.ConversationDeadline)
	}

	h.hear("buy milk")
	if len(h.disp.intents) != 1 || h.disp.intents[0].Text != "Buy milk" {
		t.Fatalf("expected dispatch without wake word, got %+v", h.disp.intents)
	}
}

func TestActivateChime(t *testing.T) {
	chimes := 0
	h := newHarness(t, WithChime(func(context.Context) error {
		chimes++
		return nil
	}))

	h.c.Enable()
	h.drain()
	first := h.rec.last()

	h.c.Activate()
	h.drain()
	if chimes != 1 || !first.aborted {
		t.Fatalf("expected chime over an aborted stream, chimes=%d aborted=%v", chimes, first.aborted)
	}
	if h.c.State() != Suppressed || h.count(StatusActive) != 1 {
		t.Fatalf("state = %v", h.c.State())
	}

	h.advance(400 * time.Millisecond)
	if len(h.rec.streams) != 1 {
		t.Fatalf("microphone reopened before the grace interval")
	}

	h.advance(200 * time.Millisecond)
	if len(h.rec.streams) != 2 || h.c.State() != Active {
		t.Fatalf("expected active with a new stream, got %v with %d streams", h.c.State(), len(h.rec.streams))
	}

	h.hear("buy milk")
	if len(h.disp.intents) != 1 || h.disp.intents[0].Text != "Buy milk" {
		t.Fatalf("expected dispatch after chime, got %+v", h.disp.intents)
	}
}

func TestWakeWordDoesNotChime(t *testing.T) {
	chimes := 0
	h := newHarness(t, WithChime(func(context.Context) error {
		chimes++
		return nil
	}))

	h.c.Enable()
	h.drain()
	h.hear("hey dom")
	if chimes != 0 {
		t.Fatalf("wake word played the chime")
	}
}

func TestRunStopsOnClose(t *testing.T) {
	rec := &fakeRecognizer{}
	c := NewController(rec, &fakeSynth{voices: []string{"espeak en-us", "Google US English"}}, nil, nil)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	c.Enable()
	deadline := time.Now().Add(2 * time.Second)
	for c.State() != Dormant {
		if time.Now().After(deadline) {
			t.Fatalf("controller never enabled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.Close()
	<-done

	if c.State() != Idle {
		t.Fatalf("expected idle after close, got %v", c.State())
	}
	if c.voice != "Google US English" {
		t.Fatalf("voice = %q", c.voice)
	}
}

func TestPickVoice(t *testing.T) {
	available := []string{"en-US-Standard-A", "Microsoft Zira Desktop", "Google US English"}

	if got := PickVoice(available, []string{"Google US English", "Microsoft Zira"}); got != "Google US English" {
		t.Fatalf("got %q", got)
	}
	if got := PickVoice(available, []string{"microsoft zira"}); got != "Microsoft Zira Desktop" {
		t.Fatalf("got %q", got)
	}
	if got := PickVoice(available, []string{"Samantha"}); got != "" {
		t.Fatalf("got %q", got)
	}
	if got := PickVoice(nil, DefaultConfig().PreferredVoices); got != "" {
		t.Fatalf("got %q", got)
	}
}
