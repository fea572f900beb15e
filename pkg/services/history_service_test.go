package services

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSession(t *testing.T) {
	h := NewHistoryService()

	assert.Equal(t, "abc", h.EnsureSession("abc"))

	minted := h.EnsureSession("")
	assert.NotEmpty(t, minted)
	assert.NotEqual(t, minted, h.EnsureSession(""))
}

func TestHistoryAppendAndTrim(t *testing.T) {
	h := NewHistoryService()

	for i := 0; i < maxHistoryTurns+5; i++ {
		h.Append("s1", fmt.Sprintf("query %d", i), "route", "summary")
	}

	entries := h.Get("s1")
	require.Len(t, entries, maxHistoryTurns)
	// 古いターンから順に捨てられる
	assert.Equal(t, "query 5", entries[0].Query)
	assert.Equal(t, fmt.Sprintf("query %d", maxHistoryTurns+4), entries[len(entries)-1].Query)

	assert.Empty(t, h.Get("unknown"))
}

func TestHistoryGetReturnsCopy(t *testing.T) {
	h := NewHistoryService()
	h.Append("s1", "q", "delay", "s")

	entries := h.Get("s1")
	entries[0].Query = "mutated"
	assert.Equal(t, "q", h.Get("s1")[0].Query)
}
