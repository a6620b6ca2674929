package prompt

import (
	"fmt"
	"time"

	"github.com/fabell4/marion/internal/models"
)

// Injector prepends a system message carrying the assistant persona and
// the current wall-clock time, so the model has real-time awareness.
type Injector struct {
	assistantName string
	location      *time.Location
	now           func() time.Time
}

// NewInjector creates an injector for the given persona and IANA timezone.
// An unresolvable timezone falls back to UTC; it must never fail a request.
func NewInjector(assistantName, timezone string) *Injector {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return &Injector{
		assistantName: assistantName,
		location:      loc,
		now:           time.Now,
	}
}

// Inject returns a new message slice with one additional system message
// at position 0. The input slice is not mutated.
func (i *Injector) Inject(messages []models.Message) []models.Message {
	now := i.now().In(i.location)

	system := models.Message{
		Role: models.RoleSystem,
		Content: fmt.Sprintf(
			"You are %s, a helpful assistant. The current date and time is %s (%s).",
			i.assistantName,
			now.Format("Monday, January 2, 2006 15:04"),
			i.location.String(),
		),
	}

	out := make([]models.Message, 0, len(messages)+1)
	out = append(out, system)
	out = append(out, messages...)
	return out
}
