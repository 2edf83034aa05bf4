// Package store keeps the task list in SQLite and pushes a fresh snapshot
// to subscribers on every change.
package store

import (
	"strings"
	"time"
)

// Task is one nebula bubble.
type Task struct {
	ID           string     `json:"id"`
	Text         string     `json:"text"`
	Completed    bool       `json:"completed"`
	ScheduledFor *time.Time `json:"scheduledFor"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Filter returns the tasks whose text contains term, ignoring case.
// An empty term returns tasks unchanged.
func Filter(tasks []Task, term string) []Task {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return tasks
	}

	var out []Task
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Text), term) {
			out = append(out, t)
		}
	}
	return out
}

func sameTasks(a, b []Task) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.Text != y.Text || x.Completed != y.Completed || !x.CreatedAt.Equal(y.CreatedAt) {
			return false
		}
		if (x.ScheduledFor == nil) != (y.ScheduledFor == nil) {
			return false
		}
		if x.ScheduledFor != nil && !x.ScheduledFor.Equal(*y.ScheduledFor) {
			return false
		}
	}
	return true
}
