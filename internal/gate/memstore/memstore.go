// Package memstore is the default in-process Store backend: a
// mutex-guarded mapping with no external dependencies, sufficient for a
// single gate process. It satisfies gate.Store in full, including lazy
// token eviction and atomic check-and-consume-pending verification.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/0xaron/agentdoor/internal/gate"
)

// Store is a mutex-guarded, map-backed implementation of gate.Store.
type Store struct {
	mu       sync.Mutex
	pending  map[string]gate.PendingRegistration
	agents   map[string]gate.AgentRecord
	byAPIKey map[string]string // api_key -> agent_id
	tokens   map[string]gate.TokenRecord
	clock    gate.Clock
}

// New returns an empty Store. clock is used only for lazy token eviction;
// a nil clock defaults to the wall clock.
func New(clock gate.Clock) *Store {
	if clock == nil {
		clock = gate.RealClock()
	}
	return &Store{
		pending:  make(map[string]gate.PendingRegistration),
		agents:   make(map[string]gate.AgentRecord),
		byAPIKey: make(map[string]string),
		tokens:   make(map[string]gate.TokenRecord),
		clock:    clock,
	}
}

func (s *Store) CreatePendingRegistration(_ context.Context, reg gate.PendingRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[reg.RegistrationID] = reg
	return nil
}

func (s *Store) GetPendingRegistration(_ context.Context, registrationID string) (gate.PendingRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.pending[registrationID]
	if !ok {
		return gate.PendingRegistration{}, gate.ErrNotFound
	}
	return reg, nil
}

func (s *Store) CompleteRegistration(_ context.Context, registrationID string, agent gate.AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[registrationID]; !ok {
		return gate.ErrNotFound
	}
	delete(s.pending, registrationID)
	s.agents[agent.AgentID] = agent
	s.byAPIKey[agent.APIKey] = agent.AgentID
	return nil
}

func (s *Store) GetAgent(_ context.Context, agentID string) (gate.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return gate.AgentRecord{}, gate.ErrNotFound
	}
	return agent, nil
}

func (s *Store) GetAgentByAPIKey(_ context.Context, apiKey string) (gate.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agentID, ok := s.byAPIKey[apiKey]
	if !ok {
		return gate.AgentRecord{}, gate.ErrNotFound
	}
	agent, ok := s.agents[agentID]
	if !ok {
		return gate.AgentRecord{}, gate.ErrNotFound
	}
	return agent, nil
}

func (s *Store) StoreToken(_ context.Context, token gate.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.Token] = token
	return nil
}

func (s *Store) GetToken(_ context.Context, token string) (gate.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tokens[token]
	if !ok {
		return gate.TokenRecord{}, gate.ErrNotFound
	}
	if s.clock.Now().After(rec.ExpiresAt) {
		delete(s.tokens, token)
		return gate.TokenRecord{}, gate.ErrNotFound
	}
	return rec, nil
}

// SweepExpiredPending removes PendingRegistrations older than olderThan,
// measured against now. Used by the gate's optional pending-registration
// sweeper (see gate.Config.PendingTTL); never called on the baseline path.
func (s *Store) SweepExpiredPending(now time.Time, olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, reg := range s.pending {
		if now.Sub(reg.CreatedAt) > olderThan {
			delete(s.pending, id)
			removed++
		}
	}
	return removed
}
