// Package notify raises desktop notifications and the due-date alerts for
// scheduled tasks.
package notify

import (
	"context"
	"fmt"
	log "log/slog"
	"os/exec"
	"sync"
	"time"

	"nebula/internal/store"
)

const (
	AlertTitle  = "Nebula Alert!"
	alertPrefix = "Identify Signal: "
)

type Notifier interface {
	// RequestPermission reports whether notifications can be shown.
	RequestPermission() bool
	Notify(title, body string) error
}

// Desktop sends notifications with notify-send.
type Desktop struct {
	App string

	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error
}

func NewDesktop(app string) *Desktop {
	return &Desktop{
		App:      app,
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

func (d *Desktop) RequestPermission() bool {
	_, err := d.lookPath("notify-send")
	return err == nil
}

func (d *Desktop) Notify(title, body string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.run(ctx, "notify-send", "-a", d.App, title, body); err != nil {
		return fmt.Errorf("notify-send: %w", err)
	}
	return nil
}

type stopper interface {
	Stop() bool
}

// Alerts fires a notification when a task falls due.
type Alerts struct {
	n   Notifier
	now func() time.Time
	// returns the pending timer
	after func(d time.Duration, f func()) stopper

	mu      sync.Mutex
	allowed *bool
	pending map[int]stopper
	next    int
}

func NewAlerts(n Notifier) *Alerts {
	return &Alerts{
		n:       n,
		now:     time.Now,
		after:   func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) },
		pending: make(map[int]stopper),
	}
}

// Schedule arranges an alert for text at at. Past times and a refused
// permission are skipped.
func (a *Alerts) Schedule(text string, at time.Time) {
	delay := at.Sub(a.now())
	if delay <= 0 {
		log.Debug("Alert time already passed", "text", text, "at", at)
		return
	}
	if !a.permitted() {
		log.Debug("Notifications not permitted", "text", text)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.next
	a.next++
	a.pending[id] = a.after(delay, func() {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()

		if err := a.n.Notify(AlertTitle, alertPrefix+text); err != nil {
			log.Error("Failed to raise alert", "text", text, "err", err)
		}
	})
	log.Info("Alert scheduled", "text", text, "at", at.Format(time.RFC3339))
}

// Restore schedules alerts for every task still due in the future, as
// after a restart.
func (a *Alerts) Restore(tasks []store.Task) {
	for _, t := range tasks {
		if t.ScheduledFor != nil && !t.Completed {
			a.Schedule(t.Text, *t.ScheduledFor)
		}
	}
}

// Pending is the number of alerts still waiting.
func (a *Alerts) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Close cancels every pending alert.
func (a *Alerts) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, t := range a.pending {
		t.Stop()
		delete(a.pending, id)
	}
}

func (a *Alerts) permitted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.allowed == nil {
		ok := a.n != nil && a.n.RequestPermission()
		a.allowed = &ok
	}
	return *a.allowed
}
