package gate

import (
	"testing"

	"github.com/fabell4/marion/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgs(pairs ...string) []models.Message {
	var out []models.Message
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, models.Message{Role: pairs[i], Content: pairs[i+1]})
	}
	return out
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeRequire, ParseMode("require"))
	assert.Equal(t, ModePrefer, ParseMode("PREFER"))
	assert.Equal(t, ModeOff, ParseMode("off"))
	assert.Equal(t, ModeOff, ParseMode(""))
	assert.Equal(t, ModeOff, ParseMode("bogus"))
}

func TestCheck_RequireBlocksWithoutWakeWord(t *testing.T) {
	err := Check(msgs("user", "hello there"), ModeRequire, "marion")
	require.ErrorIs(t, err, ErrWakeWordRequired)
}

func TestCheck_RequirePassesWithWakeWord(t *testing.T) {
	require.NoError(t, Check(msgs("user", "hey Marion, what time is it?"), ModeRequire, "marion"))
}

func TestCheck_MatchIsCaseInsensitive(t *testing.T) {
	require.NoError(t, Check(msgs("user", "MARION please"), ModeRequire, "Marion"))
}

func TestCheck_InspectsLastUserMessage(t *testing.T) {
	conversation := msgs(
		"user", "marion, hello",
		"assistant", "hi!",
		"user", "and now?",
	)
	// The wake word in an earlier message does not satisfy require mode
	require.ErrorIs(t, Check(conversation, ModeRequire, "marion"), ErrWakeWordRequired)

	conversation = msgs(
		"user", "hello",
		"assistant", "hi!",
		"user", "marion, and now?",
	)
	require.NoError(t, Check(conversation, ModeRequire, "marion"))
}

func TestCheck_RequireBlocksWithoutAnyUserMessage(t *testing.T) {
	err := Check(msgs("system", "setup"), ModeRequire, "marion")
	require.ErrorIs(t, err, ErrWakeWordRequired)
}

func TestCheck_PreferNeverBlocks(t *testing.T) {
	require.NoError(t, Check(msgs("user", "no trigger here"), ModePrefer, "marion"))
}

func TestCheck_OffNeverInspects(t *testing.T) {
	require.NoError(t, Check(msgs("user", "anything at all"), ModeOff, "marion"))
	require.NoError(t, Check(nil, ModeOff, "marion"))
}
