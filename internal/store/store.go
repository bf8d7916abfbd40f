// Package store provides durable storage backends for FlowRouter.
//
// It implements the conversation_state table with upsert-by-phone
// semantics over PostgreSQL and SQLite, plus an in-memory store for
// tests and ephemeral deployments.
package store

import (
	"strings"
	"sync"

	"github.com/BTreeMap/FlowRouter/internal/models"
)

// Store is the durable persistence contract for conversation state.
// Implementations must provide upsert-by-phone semantics: saving a state
// for a phone that already has one replaces it.
type Store interface {
	// SaveConversationState stores or replaces the state for a phone.
	SaveConversationState(state models.FlowState) error
	// GetConversationState retrieves the state for a phone, or nil if none.
	GetConversationState(phone string) (*models.FlowState, error)
	// DeleteConversationState removes the state for a phone.
	DeleteConversationState(phone string) error
	// Close releases the underlying resources.
	Close() error
}

// Opts holds configuration options for store construction.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a map-backed Store for tests and ephemeral use.
type InMemoryStore struct {
	mu     sync.RWMutex
	states map[string]models.FlowState
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{states: make(map[string]models.FlowState)}
}

// SaveConversationState stores or replaces the state for a phone.
func (s *InMemoryStore) SaveConversationState(state models.FlowState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Phone] = state
	return nil
}

// GetConversationState retrieves the state for a phone, or nil if none.
func (s *InMemoryStore) GetConversationState(phone string) (*models.FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[phone]
	if !ok {
		return nil, nil
	}
	copied := state
	return &copied, nil
}

// DeleteConversationState removes the state for a phone.
func (s *InMemoryStore) DeleteConversationState(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, phone)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
