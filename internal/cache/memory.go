package cache

import (
	"context"
	"sync"

	"github.com/cadencehq/cadence/internal/domain"
)

// Memory is a process-local SequenceCache.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]*domain.SequenceDocument
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]*domain.SequenceDocument)}
}

// Get returns the cached document for a session, or nil.
func (m *Memory) Get(_ context.Context, sessionID string) (*domain.SequenceDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docs[sessionID].Clone(), nil
}

// Put stores the document for a session.
func (m *Memory) Put(_ context.Context, sessionID string, doc *domain.SequenceDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[sessionID] = doc.Clone()
	return nil
}

// Clear removes the cached document for a session.
func (m *Memory) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, sessionID)
	return nil
}

var _ SequenceCache = (*Memory)(nil)
