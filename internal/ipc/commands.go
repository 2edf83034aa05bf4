package ipc

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"

	"nebula/internal/store"
	"nebula/internal/voice"
)

type Voice interface {
	Enable()
	Disable()
	Toggle()
	Activate()
	Say(text string)
	Snapshot() voice.Session
}

type Tasks interface {
	Complete(ctx context.Context, id string) error
	Snapshot() []store.Task
}

type Adder interface {
	AddTask(ctx context.Context, text string) (string, error)
}

// Commands routes control requests to the assistant and the task store.
type Commands struct {
	Voice Voice
	Tasks Tasks
	Adder Adder
}

func (c *Commands) Handle(ctx context.Context, req Request) Response {
	switch req.Cmd {
	case "listen":
		c.Voice.Enable()
		return ok("listening")
	case "stop":
		c.Voice.Disable()
		return ok("stopped")
	case "toggle":
		c.Voice.Toggle()
		return ok("toggled")
	case "activate":
		c.Voice.Activate()
		return ok("active")
	case "say":
		text := strings.TrimSpace(req.Text)
		if text == "" {
			return fail("nothing to say")
		}
		c.Voice.Say(text)
		return ok("")
	case "add":
		text := strings.TrimSpace(req.Text)
		if text == "" {
			return fail("empty task")
		}
		id, err := c.Adder.AddTask(ctx, text)
		if err != nil {
			log.Error("Failed to add task", "text", text, "err", err)
			return fail(err.Error())
		}
		return ok(id)
	case "complete":
		if err := c.Tasks.Complete(ctx, req.ID); err != nil {
			return fail(err.Error())
		}
		return ok("completed")
	case "list":
		return Response{OK: true, Tasks: store.Filter(c.Tasks.Snapshot(), req.Text)}
	case "status":
		return ok(describe(c.Voice.Snapshot()))
	default:
		return fail(fmt.Sprintf("unknown command %q", req.Cmd))
	}
}

func describe(s voice.Session) string {
	desc := s.State().String()
	if s.BotSpeaking {
		desc += ", speaking"
	}
	if n := s.Pending(); n > 0 {
		desc += fmt.Sprintf(", %d queued", n)
	}
	return desc
}

func ok(msg string) Response   { return Response{OK: true, Message: msg} }
func fail(msg string) Response { return Response{OK: false, Message: msg} }
