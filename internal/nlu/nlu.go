// Package nlu turns an utterance into an intent and the sentence DOM says
// back. Matching is plain substring tests in a fixed priority order.
package nlu

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"nebula/internal/store"
	"nebula/internal/utter"
)

type Kind int

const (
	Identity Kind = iota
	SmallTalk
	TimeQuery
	ListTasks
	Mute
	CreateTask
)

func (k Kind) String() string {
	switch k {
	case Identity:
		return "identity"
	case SmallTalk:
		return "small_talk"
	case TimeQuery:
		return "time_query"
	case ListTasks:
		return "list_tasks"
	case Mute:
		return "mute"
	case CreateTask:
		return "create_task"
	default:
		return "unknown"
	}
}

// Intent is the interpreted meaning of an utterance. Text is only set for
// CreateTask and holds the normalized task text.
type Intent struct {
	Kind Kind
	Text string
}

const (
	identityReply = "I am DOM, your Digital Operations Manager. I keep your nebula of missions in order."
	meaningReply  = "Forty two. Also, finishing your tasks."
	thanksReply   = "You're welcome, Commander."
	muteReply     = "Going quiet."
)

var (
	Greetings     = []string{"Hello Commander.", "Greetings, Commander.", "Good to hear from you, Commander."}
	Confirmations = []string{"Copy that.", "Affirmative.", "Task logged.", "Sure thing.", "On it."}
)

// Snapshotter exposes the live task list.
type Snapshotter interface {
	Snapshot() []store.Task
}

type Interpreter struct {
	tasks Snapshotter
	now   func() time.Time
	pick  func(n int) int
}

type Option func(*Interpreter)

// WithClock overrides the wall clock used for time queries.
func WithClock(now func() time.Time) Option {
	return func(in *Interpreter) { in.now = now }
}

// WithPicker overrides the random choice among canned replies. pick(n) must
// return a value in [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(in *Interpreter) { in.pick = pick }
}

func NewInterpreter(tasks Snapshotter, opts ...Option) *Interpreter {
	in := &Interpreter{
		tasks: tasks,
		now:   time.Now,
		pick:  rand.IntN,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

type rule struct {
	match func(s string) bool
	apply func(in *Interpreter, utterance string) (Intent, string)
}

func contains(subs ...string) func(string) bool {
	return func(s string) bool {
		for _, sub := range subs {
			if strings.Contains(s, sub) {
				return true
			}
		}
		return false
	}
}

var rules = []rule{
	{
		match: contains("who are you", "your name"),
		apply: func(*Interpreter, string) (Intent, string) {
			return Intent{Kind: Identity}, identityReply
		},
	},
	{
		match: contains("meaning of life"),
		apply: func(*Interpreter, string) (Intent, string) {
			return Intent{Kind: SmallTalk}, meaningReply
		},
	},
	{
		match: func(s string) bool {
			return s == "hello" || s == "hi" || strings.Contains(s, "good morning")
		},
		apply: func(in *Interpreter, _ string) (Intent, string) {
			return Intent{Kind: SmallTalk}, Greetings[in.pick(len(Greetings))]
		},
	},
	{
		match: contains("thank you", "thanks"),
		apply: func(*Interpreter, string) (Intent, string) {
			return Intent{Kind: SmallTalk}, thanksReply
		},
	},
	{
		match: contains("what time"),
		apply: func(in *Interpreter, _ string) (Intent, string) {
			return Intent{Kind: TimeQuery}, fmt.Sprintf("It is %s.", in.now().Format("3:04 PM"))
		},
	},
	{
		match: contains("read tasks", "my list"),
		apply: func(in *Interpreter, _ string) (Intent, string) {
			return Intent{Kind: ListTasks}, in.describeTasks()
		},
	},
	{
		match: contains("shut up"),
		apply: func(*Interpreter, string) (Intent, string) {
			return Intent{Kind: Mute}, muteReply
		},
	},
}

// Interpret never fails: anything unrecognized becomes a new task.
func (in *Interpreter) Interpret(utterance string) (Intent, string) {
	lower := strings.ToLower(strings.TrimSpace(utterance))

	for _, r := range rules {
		if r.match(lower) {
			return r.apply(in, utterance)
		}
	}

	confirmation := Confirmations[in.pick(len(Confirmations))]
	return Intent{Kind: CreateTask, Text: utter.Normalize(utterance)},
		fmt.Sprintf("%s Adding %s", confirmation, utterance)
}

func (in *Interpreter) describeTasks() string {
	var tasks []store.Task
	if in.tasks != nil {
		tasks = in.tasks.Snapshot()
	}

	if len(tasks) == 0 {
		return "You have zero tasks."
	}
	return fmt.Sprintf("You have %d pending missions. Top one is %s.", len(tasks), tasks[0].Text)
}
