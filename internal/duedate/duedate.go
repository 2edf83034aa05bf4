// Package duedate extracts a due time from free-form task text such as
// "call the dentist tomorrow at 9am".
package duedate

import (
	"fmt"
	"sync"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var (
	once   sync.Once
	parser *when.Parser
)

func get() *when.Parser {
	once.Do(func() {
		parser = when.New(nil)
		parser.Add(en.All...)
		parser.Add(common.All...)
	})
	return parser
}

// Parse returns the first date mentioned in text relative to now, or nil
// when the text carries no date.
func Parse(text string, now time.Time) (*time.Time, error) {
	if text == "" {
		return nil, nil
	}

	r, err := get().Parse(text, now)
	if err != nil {
		return nil, fmt.Errorf("parse date: %w", err)
	}
	if r == nil {
		return nil, nil
	}

	t := r.Time
	return &t, nil
}
