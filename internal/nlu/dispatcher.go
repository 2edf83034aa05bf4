package nlu

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	"nebula/internal/duedate"
)

// Creator is the part of the task store the dispatcher writes to.
type Creator interface {
	Create(ctx context.Context, text string, scheduledFor *time.Time) (string, error)
}

// Scheduler raises an alert for a task at its due time.
type Scheduler interface {
	Schedule(text string, at time.Time)
}

type Dispatcher struct {
	tasks  Creator
	alerts Scheduler
	now    func() time.Time
}

func NewDispatcher(tasks Creator, alerts Scheduler) *Dispatcher {
	return &Dispatcher{tasks: tasks, alerts: alerts, now: time.Now}
}

// Dispatch performs the side effect of an intent. Only CreateTask has one.
func (d *Dispatcher) Dispatch(ctx context.Context, intent Intent) error {
	switch intent.Kind {
	case CreateTask:
		_, err := d.AddTask(ctx, intent.Text)
		return err
	default:
		return nil
	}
}

// AddTask parses a due date out of text, stores the task and schedules its
// alert. The returned id is empty on failure.
func (d *Dispatcher) AddTask(ctx context.Context, text string) (string, error) {
	due, err := duedate.Parse(text, d.now())
	if err != nil {
		log.Debug("Date parsing skipped", "text", text, "err", err)
		due = nil
	}

	id, err := d.tasks.Create(ctx, text, due)
	if err != nil {
		log.Error("Failed to add task", "text", text, "err", err)
		return "", fmt.Errorf("add task: %w", err)
	}

	if due != nil && d.alerts != nil {
		d.alerts.Schedule(text, *due)
	}

	return id, nil
}
