package prompt

import (
	"testing"
	"time"

	"github.com/fabell4/marion/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInject_PrependsSingleSystemMessage(t *testing.T) {
	inj := NewInjector("Marion", "UTC")
	inj.now = func() time.Time {
		return time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)
	}

	input := []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
		{Role: models.RoleUser, Content: "what day is it?"},
	}

	out := inj.Inject(input)

	require.Len(t, out, len(input)+1)
	assert.Equal(t, models.RoleSystem, out[0].Role)
	assert.Contains(t, out[0].Content, "Marion")
	assert.Contains(t, out[0].Content, "Monday, August 31, 2026 14:30")
	assert.Equal(t, input, out[1:])
}

func TestInject_DoesNotMutateInput(t *testing.T) {
	inj := NewInjector("Marion", "UTC")

	input := []models.Message{{Role: models.RoleUser, Content: "hi"}}
	snapshot := make([]models.Message, len(input))
	copy(snapshot, input)

	inj.Inject(input)

	assert.Equal(t, snapshot, input)
}

func TestInject_UsesConfiguredTimezone(t *testing.T) {
	inj := NewInjector("Marion", "America/New_York")
	inj.now = func() time.Time {
		return time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)
	}

	out := inj.Inject(nil)

	require.Len(t, out, 1)
	// 14:30 UTC is 10:30 in New York during DST
	assert.Contains(t, out[0].Content, "10:30")
	assert.Contains(t, out[0].Content, "America/New_York")
}

func TestInject_BadTimezoneFallsBackToUTC(t *testing.T) {
	inj := NewInjector("Marion", "Not/AZone")
	inj.now = func() time.Time {
		return time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)
	}

	out := inj.Inject(nil)

	require.Len(t, out, 1)
	assert.Contains(t, out[0].Content, "14:30")
	assert.Contains(t, out[0].Content, "UTC")
}
