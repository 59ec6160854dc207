package partyline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryLogRecent(t *testing.T) {
	env := newTestEnv(t)

	for i := 1; i <= 30; i++ {
		require.NoError(
			t,
			env.history.Append("partyline", fmt.Sprintf("line %d", i)),
		)
	}

	lines, err := env.history.Recent("partyline", 5)
	require.NoError(t, err)
	require.Len(t, lines, 7)
	assert.Equal(t, "The past 5 lines in partyline", lines[0])
	assert.Equal(t, "line 26", lines[1])
	assert.Equal(t, "line 30", lines[5])
	assert.Equal(t, "End of log output.", lines[6])
}

func TestHistoryLogRecentOverLimit(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.history.Append("partyline", "hello"))

	_, err := env.history.Recent("partyline", 21)
	assert.ErrorIs(t, err, ErrHistoryLimit)

	lines, err := env.history.Recent("partyline", 20)
	require.NoError(t, err)
	assert.Equal(t, "The past 1 lines in partyline", lines[0])
}

func TestHistoryLogRecentClampsToAvailable(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.history.Append("general", "first"))
	require.NoError(t, env.history.Append("general", "second"))

	lines, err := env.history.Recent("general", 10)
	require.NoError(t, err)
	require.Len(t, lines, 4)
	assert.Equal(t, "The past 2 lines in general", lines[0])
	assert.Equal(t, "first", lines[1])
	assert.Equal(t, "second", lines[2])
}

func TestHistoryLogRecentNoLog(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.history.Recent("ghost", 5)
	assert.ErrorIs(t, err, ErrLogNotFound)
}

func TestHistoryLogReadDoesNotConsume(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.history.Append("partyline", "only line"))

	first, err := env.history.Recent("partyline", 1)
	require.NoError(t, err)
	second, err := env.history.Recent("partyline", 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestHistoryLogPerChannelFiles(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.history.Append("alpha", "in alpha"))
	require.NoError(t, env.history.Append("beta", "in beta"))

	lines, err := env.history.Recent("alpha", 1)
	require.NoError(t, err)
	assert.Equal(t, "in alpha", lines[1])

	lines, err = env.history.Recent("beta", 1)
	require.NoError(t, err)
	assert.Equal(t, "in beta", lines[1])
}
