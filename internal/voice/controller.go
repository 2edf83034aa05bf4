package voice

import (
	"context"
	log "log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"nebula/internal/nlu"
)

// MinGrace is the shortest pause allowed between the end of playback and
// reopening the microphone.
const MinGrace = 400 * time.Millisecond

type Config struct {
	Machine

	Grace           time.Duration
	Language        string
	PreferredVoices []string
}

func DefaultConfig() Config {
	return Config{
		Machine: Machine{
			ConversationWindow: 8 * time.Second,
			ActivateWindow:     10 * time.Second,
			RestartDelay:       200 * time.Millisecond,
		},
		Grace:           500 * time.Millisecond,
		Language:        "en-US",
		PreferredVoices: []string{"Google US English", "Microsoft Zira", "en-US-Neural2-F", "nova", "en-us"},
	}
}

// Interpreter maps a command to an intent and the reply to speak.
type Interpreter interface {
	Interpret(utterance string) (nlu.Intent, string)
}

// Dispatcher performs the side effects of an intent.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent nlu.Intent) error
}

// Status is published on every session notice.
type Status struct {
	State   State
	Message string
	Alert   bool
}

type ControllerOption func(*Controller)

func WithConfig(cfg Config) ControllerOption {
	return func(c *Controller) { c.cfg = cfg }
}

func WithClock(clock Clock) ControllerOption {
	return func(c *Controller) { c.clock = clock }
}

// WithSpawn replaces the goroutine launcher used for speech and dispatch.
func WithSpawn(spawn func(func())) ControllerOption {
	return func(c *Controller) { c.spawn = spawn }
}

// WithChime sets the cue played when a conversation is opened without the
// wake phrase.
func WithChime(play func(ctx context.Context) error) ControllerOption {
	return func(c *Controller) { c.chime = play }
}

// Controller owns the Session. Every transition runs on the goroutine
// executing Run; the public methods and all capability callbacks only post
// events to it.
type Controller struct {
	cfg    Config
	rec    Recognizer
	synth  Synthesizer
	interp Interpreter
	disp   Dispatcher
	clock  Clock
	spawn  func(func())
	chime  func(context.Context) error

	events chan Event
	done   chan struct{}

	mu        sync.Mutex
	session   Session
	observers []func(Status)
	cancel    context.CancelFunc

	// owned by the loop
	ctx    context.Context
	stream Stream
	timer  Timer
	voice  string
}

// NewController wires the session to its capabilities. rec and synth may be
// nil: enabling without a recognizer reports recognition as unavailable, and
// replies are only logged without a synthesizer.
func NewController(rec Recognizer, synth Synthesizer, interp Interpreter, disp Dispatcher, opts ...ControllerOption) *Controller {
	c := &Controller{
		cfg:    DefaultConfig(),
		rec:    rec,
		synth:  synth,
		interp: interp,
		disp:   disp,
		clock:  SystemClock,
		spawn:  func(f func()) { go f() },
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.Grace < MinGrace {
		c.cfg.Grace = MinGrace
	}
	c.cfg.Chime = c.chime != nil
	return c
}

// OnStatus registers fn to receive status notices. fn runs on the loop
// goroutine and must not block.
func (c *Controller) OnStatus(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Run processes events until ctx is cancelled or Close is called. Listening
// is disabled on the way out.
func (c *Controller) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.ctx = ctx
	if c.synth != nil {
		c.voice = PickVoice(c.synth.Voices(ctx), c.cfg.PreferredVoices)
		log.Debug("Voice selected", "voice", c.voice)
	}

	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.apply(DisableEvent{})
			if c.timer != nil {
				c.timer.Stop()
			}
			return
		case ev := <-c.events:
			c.apply(ev)
		}
	}
}

// Close stops Run and waits for it to return.
func (c *Controller) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-c.done
}

func (c *Controller) Enable()   { c.post(EnableEvent{}) }
func (c *Controller) Disable()  { c.post(DisableEvent{}) }
func (c *Controller) Toggle()   { c.post(ToggleEvent{}) }
func (c *Controller) Activate() { c.post(ActivateEvent{}) }

// Say queues text for speech. It returns immediately.
func (c *Controller) Say(text string) { c.post(SayEvent{Text: text}) }

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Controller) State() State {
	return c.Snapshot().State()
}

func (c *Controller) post(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) apply(ev Event) {
	c.mu.Lock()
	next, effects := c.cfg.Step(c.session, ev, c.clock.Now())
	c.session = next
	c.mu.Unlock()

	for _, e := range effects {
		c.exec(e)
	}
}

func (c *Controller) exec(e Effect) {
	switch e := e.(type) {
	case StartRecognition:
		c.startRecognition(e.Stream)

	case AbortRecognition:
		if c.stream != nil {
			c.stream.Abort()
			c.stream = nil
		}

	case StopRecognition:
		if c.stream != nil {
			c.stream.Stop()
			c.stream = nil
		}

	case Speak:
		c.speak(e.Text)

	case PlayChime:
		c.playChime()

	case Dispatch:
		c.dispatch(e.Command)

	case ArmTimer:
		if c.timer != nil {
			c.timer.Stop()
		}
		gen := e.Gen
		c.timer = c.clock.AfterFunc(e.After, func() { c.post(TimerEvent{Gen: gen}) })

	case CancelTimer:
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}

	case ScheduleRestart:
		gen := e.Stream
		log.Debug("Recognition ended, restarting", "after", e.After)
		c.clock.AfterFunc(e.After, func() { c.post(RestartEvent{Stream: gen}) })

	case Notice:
		c.publish(e)
	}
}

func (c *Controller) startRecognition(gen uint64) {
	if c.rec == nil {
		c.apply(ErrorEvent{Stream: gen, Err: ErrUnavailable})
		return
	}

	stream, err := c.rec.Start(c.ctx, RecognitionConfig{
		Language:       c.cfg.Language,
		Continuous:     true,
		InterimResults: false,
	}, Callbacks{
		OnResult: func(r RecognitionEvent) { c.post(ResultEvent{Stream: gen, RecognitionEvent: r}) },
		OnError:  func(err error) { c.post(ErrorEvent{Stream: gen, Err: err}) },
		OnEnd:    func() { c.post(EndEvent{Stream: gen}) },
	})
	if err != nil {
		log.Warn("Failed to start recognition", "err", err)
		c.apply(ErrorEvent{Stream: gen, Err: err})
		// a transient failure is retried like any other stream end
		c.apply(EndEvent{Stream: gen})
		return
	}

	c.stream = stream
}

func (c *Controller) speak(text string) {
	log.Info("Speaking", "text", text)

	ctx, synth, voice, grace := c.ctx, c.synth, c.voice, c.cfg.Grace
	c.spawn(func() {
		var err error
		if synth != nil {
			err = synth.Speak(ctx, text, voice)
		}
		if err != nil {
			log.Error("Failed to speak", "text", text, "err", err)
		}
		c.clock.AfterFunc(grace, func() { c.post(SpeechDoneEvent{Err: err}) })
	})
}

func (c *Controller) playChime() {
	ctx, play, grace := c.ctx, c.chime, c.cfg.Grace
	c.spawn(func() {
		var err error
		if play != nil {
			err = play(ctx)
		}
		if err != nil {
			log.Debug("Chime failed", "err", err)
		}
		c.clock.AfterFunc(grace, func() { c.post(SpeechDoneEvent{Err: err}) })
	})
}

func (c *Controller) dispatch(command string) {
	if c.interp == nil {
		return
	}

	intent, reply := c.interp.Interpret(command)
	log.Info("Command", "text", command, "intent", intent.Kind)

	switch intent.Kind {
	case nlu.Mute:
		c.apply(MuteEvent{})
	case nlu.CreateTask:
		if c.disp != nil {
			ctx, disp := c.ctx, c.disp
			c.spawn(func() {
				if err := disp.Dispatch(ctx, intent); err != nil {
					log.Error("Failed to dispatch intent", "intent", intent.Kind, "err", err)
				}
			})
		}
	}

	c.apply(SayEvent{Text: reply})
}

func (c *Controller) publish(n Notice) {
	c.mu.Lock()
	status := Status{State: c.session.State(), Message: n.Text, Alert: n.Alert}
	observers := slices.Clone(c.observers)
	c.mu.Unlock()

	if n.Alert {
		log.Warn("Assistant", "status", n.Text)
	} else {
		log.Debug("Assistant", "status", n.Text, "state", status.State)
	}

	for _, fn := range observers {
		fn(status)
	}
}

// PickVoice returns the first available voice whose name contains one of
// the preferred names, in preference order. It returns "" when none match,
// which selects the backend default.
func PickVoice(available, preferred []string) string {
	for _, p := range preferred {
		p = strings.ToLower(p)
		for _, v := range available {
			if strings.Contains(strings.ToLower(v), p) {
				return v
			}
		}
	}
	return ""
}
