package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"hermes-chat-api/pkg/models"
)

// maxHistoryTurns bounds how many past turns a session keeps.
const maxHistoryTurns = 20

// HistoryService keeps per-session conversation memory in process.
// セッションはプロセス内のみで保持し、再起動で消えます。
type HistoryService struct {
	mu       sync.RWMutex
	sessions map[string][]models.HistoryEntry
}

// NewHistoryService creates an empty session store.
func NewHistoryService() *HistoryService {
	return &HistoryService{sessions: make(map[string][]models.HistoryEntry)}
}

// EnsureSession returns the given session ID, minting a fresh one when absent.
func (h *HistoryService) EnsureSession(sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	return uuid.New().String()
}

// Get returns a copy of the session's history.
func (h *HistoryService) Get(sessionID string) []models.HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entries := h.sessions[sessionID]
	out := make([]models.HistoryEntry, len(entries))
	copy(out, entries)
	return out
}

// Append records one completed turn, trimming to the retention bound.
func (h *HistoryService) Append(sessionID, query, intent, summary string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := append(h.sessions[sessionID], models.HistoryEntry{
		Query:     query,
		Intent:    intent,
		Summary:   summary,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if len(entries) > maxHistoryTurns {
		entries = entries[len(entries)-maxHistoryTurns:]
	}
	h.sessions[sessionID] = entries
}
