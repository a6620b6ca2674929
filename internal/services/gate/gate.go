package gate

import (
	"errors"
	"strings"

	"github.com/fabell4/marion/internal/models"
)

// Mode controls wake word enforcement
type Mode string

const (
	ModeRequire Mode = "require"
	ModePrefer  Mode = "prefer"
	ModeOff     Mode = "off"
)

// ErrWakeWordRequired is returned when the last user message does not
// contain the configured wake word in require mode.
var ErrWakeWordRequired = errors.New("wake word required")

// ParseMode converts the configured string into a Mode, defaulting to off
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(s)) {
	case ModeRequire, ModePrefer:
		return Mode(strings.ToLower(s))
	default:
		return ModeOff
	}
}

// Check inspects the last user message for the wake word. Matching is a
// case-insensitive substring test; message content is never rewritten.
func Check(messages []models.Message, mode Mode, wakeWord string) error {
	if mode != ModeRequire || wakeWord == "" {
		// prefer is advisory only and off skips inspection entirely
		return nil
	}

	last := lastUserMessage(messages)
	if last == nil {
		return ErrWakeWordRequired
	}

	if !strings.Contains(strings.ToLower(last.Content), strings.ToLower(wakeWord)) {
		return ErrWakeWordRequired
	}

	return nil
}

func lastUserMessage(messages []models.Message) *models.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return &messages[i]
		}
	}
	return nil
}
