package voice

import (
	"regexp"
	"strings"
)

var (
	// Greeting prefixes followed by DOM or one of its usual mis-hearings,
	// as whole words.
	wakeRe = regexp.MustCompile(`(?i)\b(?:(?:hey|high|hi|hello)\s+)?(?:dom|dumb|done|doom|don|dawn|damm|dome)\b`)

	actionRe = regexp.MustCompile(`(?i)^(?:add|create|remind|delete|remove|clear)\b`)
)

// HasWakeWord reports whether transcript mentions the assistant.
func HasWakeWord(transcript string) bool {
	return wakeRe.MatchString(transcript)
}

// IsActionCommand reports whether transcript opens with a task verb, which
// is accepted without the wake word.
func IsActionCommand(transcript string) bool {
	return actionRe.MatchString(strings.TrimSpace(transcript))
}

// StripWakeWord removes the first wake phrase and returns the command
// that remains, with whitespace collapsed.
func StripWakeWord(transcript string) string {
	loc := wakeRe.FindStringIndex(transcript)
	if loc == nil {
		return strings.Join(strings.Fields(transcript), " ")
	}
	return strings.Join(strings.Fields(transcript[:loc[0]]+" "+transcript[loc[1]:]), " ")
}
