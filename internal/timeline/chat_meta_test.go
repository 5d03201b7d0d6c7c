package timeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatMetaDefaultsWithoutCreating(t *testing.T) {
	store := NewChatMetaStore()
	meta, found := store.Get("c1")
	assert.False(t, found)
	assert.Equal(t, StatusConnecting, meta.ConnectionStatus)
	assert.Nil(t, meta.ModelName)
	assert.Nil(t, meta.CurrentTurnStats)
	assert.Empty(t, store.Conversations())
}

func TestChatMetaTurnStats(t *testing.T) {
	store := NewChatMetaStore()
	require.NoError(t, store.MarkStreamStart("c1", time.Unix(100, 0)))
	require.NoError(t, store.UpdateStreamTokens("c1", 40))
	require.NoError(t, store.SetTurnStats("c1", 12, 90, 1000))

	meta, found := store.Get("c1")
	require.True(t, found)
	require.NotNil(t, meta.CurrentTurnStats)
	assert.Equal(t, 90.0, meta.CurrentTurnStats.TPS)
	assert.Equal(t, 12, meta.CurrentTurnStats.InputTokens)
	assert.Nil(t, meta.StreamStartTime)
	assert.Equal(t, 0, meta.StreamOutputTokens)

	require.NoError(t, store.SetTurnStats("c1", 1, 90, 0))
	meta, _ = store.Get("c1")
	assert.Equal(t, 0.0, meta.CurrentTurnStats.TPS)
}

func TestChatMetaStreamTokensAreAuthoritative(t *testing.T) {
	store := NewChatMetaStore()
	require.NoError(t, store.UpdateStreamTokens("c1", 10))
	require.NoError(t, store.UpdateStreamTokens("c1", 7))
	meta, _ := store.Get("c1")
	assert.Equal(t, 7, meta.StreamOutputTokens)

	require.NoError(t, store.UpdateStreamTokens("c1", -3))
	meta, _ = store.Get("c1")
	assert.Equal(t, 0, meta.StreamOutputTokens)
}

func TestChatMetaStreamErrorClearsStart(t *testing.T) {
	store := NewChatMetaStore()
	require.NoError(t, store.MarkStreamStart("c1", time.Unix(5, 0)))
	require.NoError(t, store.UpdateStreamTokens("c1", 3))
	require.NoError(t, store.SetStreamError("c1", "socket reset"))
	meta, _ := store.Get("c1")
	require.NotNil(t, meta.LastError)
	assert.Equal(t, "socket reset", *meta.LastError)
	assert.Nil(t, meta.StreamStartTime)
	assert.Equal(t, 3, meta.StreamOutputTokens)
}

func TestChatMetaResetPreservesConnectionStatus(t *testing.T) {
	store := NewChatMetaStore()
	require.NoError(t, store.SetConnectionStatus("c1", StatusConnected))
	require.NoError(t, store.SetModelName("c1", "gpt-test"))
	require.NoError(t, store.MarkStreamStart("c1", time.Unix(1, 0)))
	require.NoError(t, store.UpdateStreamTokens("c1", 5))
	require.NoError(t, store.SetTurnStats("c1", 1, 2, 3))
	require.NoError(t, store.SetStreamError("c1", "boom"))

	require.NoError(t, store.ResetConversation("c1"))
	meta, _ := store.Get("c1")
	assert.Equal(t, ConversationChatMeta{ConnectionStatus: StatusConnected}, meta)
}

func TestChatMetaRemoveOnlyTargetsOneConversation(t *testing.T) {
	store := NewChatMetaStore()
	require.NoError(t, store.SetModelName("c1", "a"))
	require.NoError(t, store.SetModelName("c2", "b"))

	assert.True(t, store.RemoveConversation("c1"))
	_, found := store.Get("c1")
	assert.False(t, found)
	other, found := store.Get("c2")
	require.True(t, found)
	assert.Equal(t, "b", *other.ModelName)

	err := store.SetModelName("c1", "late")
	assert.True(t, errors.Is(err, ErrConversationClosed))
	_, found = store.Get("c1")
	assert.False(t, found)
}

func TestChatMetaGetReturnsCopy(t *testing.T) {
	store := NewChatMetaStore()
	require.NoError(t, store.SetModelName("c1", "original"))
	meta, _ := store.Get("c1")
	*meta.ModelName = "mutated"
	again, _ := store.Get("c1")
	assert.Equal(t, "original", *again.ModelName)
}

func TestParseConnectionStatus(t *testing.T) {
	status, ok := ParseConnectionStatus(" Connected ")
	assert.True(t, ok)
	assert.Equal(t, StatusConnected, status)
	_, ok = ParseConnectionStatus("sleeping")
	assert.False(t, ok)
}
