// Package voice runs the "Hey DOM" assistant: a continuous recognition
// stream gated by a wake word, a rolling conversation window, and speech
// output that mutes the microphone while DOM is talking.
//
// All session state lives in a Session value. Machine.Step is the only
// place it changes; the Controller feeds it events one at a time from a
// single goroutine and carries out the returned effects.
package voice

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	PromptWake    = "Yes Commander?"
	PromptStandby = "Standing by."

	StatusListening   = "Listening... (Say 'Hey DOM')"
	StatusActive      = "Listening (Active)..."
	StatusStandby     = "Standing By... (Say 'Hey DOM')"
	StatusOff         = "Voice assistant off"
	StatusDenied      = "Microphone access denied. Voice assistant turned off."
	StatusUnavailable = "Speech recognition is not available on this machine."
)

type State int

const (
	Idle State = iota
	Dormant
	Active
	Suppressed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dormant:
		return "dormant"
	case Active:
		return "active"
	case Suppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Session is the assistant's whole mutable state.
type Session struct {
	Listening            bool
	BotSpeaking          bool
	ConversationActive   bool
	ConversationDeadline time.Time
	Unavailable          bool

	streamOpen bool
	stream     uint64
	timer      uint64
	pending    []string
}

func (s Session) State() State {
	switch {
	case !s.Listening:
		return Idle
	case s.BotSpeaking:
		return Suppressed
	case s.ConversationActive:
		return Active
	default:
		return Dormant
	}
}

// StreamOpen reports whether a recognition stream is supposed to be running.
func (s Session) StreamOpen() bool {
	return s.streamOpen
}

// Pending is the number of replies waiting behind the one being spoken.
func (s Session) Pending() int {
	return len(s.pending)
}

type Event interface{ event() }

type (
	EnableEvent   struct{}
	DisableEvent  struct{}
	ToggleEvent   struct{}
	ActivateEvent struct{}
	// MuteEvent drops replies that are queued but not yet spoken.
	MuteEvent struct{}

	SayEvent struct{ Text string }
	// SpeechDoneEvent arrives once playback has ended and the grace
	// interval has passed.
	SpeechDoneEvent struct{ Err error }

	ResultEvent struct {
		Stream uint64
		RecognitionEvent
	}
	EndEvent   struct{ Stream uint64 }
	ErrorEvent struct {
		Stream uint64
		Err    error
	}
	RestartEvent struct{ Stream uint64 }
	TimerEvent   struct{ Gen uint64 }
)

func (EnableEvent) event()     {}
func (DisableEvent) event()    {}
func (ToggleEvent) event()     {}
func (ActivateEvent) event()   {}
func (MuteEvent) event()       {}
func (SayEvent) event()        {}
func (SpeechDoneEvent) event() {}
func (ResultEvent) event()     {}
func (EndEvent) event()        {}
func (ErrorEvent) event()      {}
func (RestartEvent) event()    {}
func (TimerEvent) event()      {}

type Effect interface{ effect() }

type (
	StartRecognition struct{ Stream uint64 }
	AbortRecognition struct{}
	StopRecognition  struct{}
	Speak            struct{ Text string }
	// PlayChime is answered with a SpeechDoneEvent like Speak.
	PlayChime        struct{}
	Dispatch         struct{ Command string }
	ArmTimer         struct {
		Gen   uint64
		After time.Duration
	}
	CancelTimer     struct{}
	ScheduleRestart struct {
		Stream uint64
		After  time.Duration
	}
	Notice struct {
		Text  string
		Alert bool
	}
)

func (StartRecognition) effect() {}
func (AbortRecognition) effect() {}
func (StopRecognition) effect()  {}
func (Speak) effect()            {}
func (PlayChime) effect()        {}
func (Dispatch) effect()         {}
func (ArmTimer) effect()         {}
func (CancelTimer) effect()      {}
func (ScheduleRestart) effect()  {}
func (Notice) effect()           {}

// Machine holds the timings of the session transitions.
type Machine struct {
	ConversationWindow time.Duration
	ActivateWindow     time.Duration
	RestartDelay       time.Duration

	// Chime plays a cue when a conversation is opened without the wake
	// phrase. The microphone stays closed while it plays.
	Chime bool
}

// Step applies ev to s at time now. It does not modify s in place.
func (m Machine) Step(s Session, ev Event, now time.Time) (Session, []Effect) {
	s.pending = append([]string(nil), s.pending...)

	switch ev := ev.(type) {
	case EnableEvent:
		return m.enable(s)

	case DisableEvent:
		return m.disable(s, Notice{Text: StatusOff})

	case ToggleEvent:
		if s.Listening {
			return m.disable(s, Notice{Text: StatusOff})
		}
		return m.enable(s)

	case ActivateEvent:
		if s.Unavailable {
			return s, nil
		}
		s, out := m.cue(s)
		s, enabled := m.enable(s)
		out = append(out, enabled...)
		s, open := m.openConversation(s, now, m.ActivateWindow)
		out = append(out, open...)
		return s, append(out, Notice{Text: StatusActive})

	case MuteEvent:
		s.pending = nil
		return s, nil

	case SayEvent:
		if strings.TrimSpace(ev.Text) == "" {
			return s, nil
		}
		return m.say(s, ev.Text)

	case SpeechDoneEvent:
		return m.speechDone(s)

	case ResultEvent:
		return m.result(s, ev, now)

	case EndEvent:
		if ev.Stream != s.stream || !s.streamOpen {
			return s, nil
		}
		s.streamOpen = false
		if s.Listening && !s.BotSpeaking {
			return s, []Effect{ScheduleRestart{Stream: s.stream, After: m.RestartDelay}}
		}
		return s, nil

	case RestartEvent:
		if ev.Stream != s.stream || !s.Listening || s.BotSpeaking || s.streamOpen {
			return s, nil
		}
		return m.openStream(s)

	case ErrorEvent:
		if ev.Stream != s.stream {
			return s, nil
		}
		switch {
		case errors.Is(ev.Err, ErrPermissionDenied):
			return m.disable(s, Notice{Text: StatusDenied, Alert: true})
		case errors.Is(ev.Err, ErrUnavailable):
			s.Unavailable = true
			return m.disable(s, Notice{Text: StatusUnavailable, Alert: true})
		}
		return s, nil

	case TimerEvent:
		if ev.Gen != s.timer || !s.ConversationActive {
			return s, nil
		}
		return m.expire(s)
	}

	return s, nil
}

func (m Machine) enable(s Session) (Session, []Effect) {
	if s.Listening || s.Unavailable {
		return s, nil
	}
	s.Listening = true
	if s.BotSpeaking {
		// speechDone opens the stream
		return s, nil
	}
	return m.openStream(s)
}

func (m Machine) openStream(s Session) (Session, []Effect) {
	s.stream++
	s.streamOpen = true
	return s, []Effect{StartRecognition{Stream: s.stream}, Notice{Text: StatusListening}}
}

func (m Machine) disable(s Session, notice Notice) (Session, []Effect) {
	var out []Effect

	s.Listening = false
	s, out = m.closeConversation(s, out)

	if s.streamOpen {
		out = append(out, StopRecognition{})
		s.streamOpen = false
	}
	// results still in flight from the old stream are dropped
	s.stream++
	s.pending = nil

	return s, append(out, notice)
}

func (m Machine) closeConversation(s Session, out []Effect) (Session, []Effect) {
	if s.ConversationActive {
		out = append(out, CancelTimer{})
	}
	s.ConversationActive = false
	s.ConversationDeadline = time.Time{}
	s.timer++
	return s, out
}

func (m Machine) openConversation(s Session, now time.Time, window time.Duration) (Session, []Effect) {
	s.ConversationActive = true
	s.ConversationDeadline = now.Add(window)
	s.timer++
	return s, []Effect{ArmTimer{Gen: s.timer, After: window}}
}

func (m Machine) expire(s Session) (Session, []Effect) {
	s.ConversationActive = false
	s.ConversationDeadline = time.Time{}
	s.timer++

	out := []Effect{Notice{Text: StatusStandby}}
	if !s.Listening {
		return s, out
	}

	s, spoken := m.say(s, PromptStandby)
	return s, append(out, spoken...)
}

func (m Machine) say(s Session, text string) (Session, []Effect) {
	if s.BotSpeaking {
		s.pending = append(s.pending, text)
		return s, nil
	}

	var out []Effect

	s.BotSpeaking = true
	if s.streamOpen {
		out = append(out, AbortRecognition{})
		s.streamOpen = false
		s.stream++
	}

	return s, append(out, Speak{Text: text})
}

// cue plays the chime under the same suppression as speech. Nothing is
// played over a reply already being spoken.
func (m Machine) cue(s Session) (Session, []Effect) {
	if !m.Chime || s.BotSpeaking {
		return s, nil
	}

	var out []Effect

	s.BotSpeaking = true
	if s.streamOpen {
		out = append(out, AbortRecognition{})
		s.streamOpen = false
		s.stream++
	}

	return s, append(out, PlayChime{})
}

func (m Machine) speechDone(s Session) (Session, []Effect) {
	if !s.BotSpeaking {
		return s, nil
	}

	if len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		return s, []Effect{Speak{Text: next}}
	}

	s.BotSpeaking = false
	if s.Listening && !s.streamOpen {
		return m.openStream(s)
	}
	return s, nil
}

func (m Machine) result(s Session, ev ResultEvent, now time.Time) (Session, []Effect) {
	if ev.Stream != s.stream || !s.streamOpen || !s.Listening || s.BotSpeaking || !ev.IsFinal {
		return s, nil
	}

	transcript := strings.ToLower(strings.TrimSpace(ev.Transcript))
	if transcript == "" {
		return s, nil
	}

	var out []Effect

	wake := HasWakeWord(transcript)
	reopens := wake || IsActionCommand(transcript)

	// a late timer must not leave the window open past its deadline. When
	// the result reopens it anyway, nothing is announced.
	if s.ConversationActive && !now.Before(s.ConversationDeadline) && !reopens {
		var expired []Effect
		s, expired = m.expire(s)
		out = append(out, expired...)
	}

	out = append(out, Notice{Text: fmt.Sprintf("Heard: %q", transcript)})

	if !s.ConversationActive && !reopens {
		return s, out
	}

	command := transcript
	if wake {
		command = StripWakeWord(transcript)
	}

	if command != "" {
		out = append(out, Dispatch{Command: command})
	} else {
		var spoken []Effect
		s, spoken = m.say(s, PromptWake)
		out = append(out, spoken...)
		out = append(out, Notice{Text: StatusActive})
	}

	s, open := m.openConversation(s, now, m.ConversationWindow)
	return s, append(out, open...)
}
