// Package pgstore is a PostgreSQL-backed implementation of gate.Store,
// for hosts that run multiple gate processes against shared state instead
// of the single-process memstore default. It satisfies the same seven
// operations with the same atomicity and expiry guarantees, using
// transactions and row-level locking where the in-process store relies
// on a mutex.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/0xaron/agentdoor/internal/gate"
)

// Store is a pgx-backed gate.Store.
type Store struct {
	db    *pgxpool.Pool
	clock gate.Clock
}

// New wraps an existing pgxpool.Pool, using clock as the time source for
// token expiry checks. Schema() returns the DDL the caller is expected to
// have applied (via a migration tool) before use.
func New(db *pgxpool.Pool, clock gate.Clock) *Store {
	return &Store{db: db, clock: clock}
}

// Schema returns the DDL for the three tables this store depends on.
// Callers run this through their own migration tooling; Store never
// creates or alters schema itself.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS agentdoor_pending_registrations (
	registration_id TEXT PRIMARY KEY,
	agent_name      TEXT NOT NULL,
	public_key      TEXT NOT NULL,
	challenge       TEXT NOT NULL,
	scopes          JSONB NOT NULL DEFAULT '[]',
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS agentdoor_agents (
	agent_id   TEXT PRIMARY KEY,
	agent_name TEXT NOT NULL,
	public_key TEXT NOT NULL,
	api_key    TEXT NOT NULL UNIQUE,
	scopes     JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS agentdoor_tokens (
	token      TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	scopes     JSONB NOT NULL DEFAULT '[]'
);
`
}

func (s *Store) CreatePendingRegistration(ctx context.Context, reg gate.PendingRegistration) error {
	scopes, err := json.Marshal(reg.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO agentdoor_pending_registrations
			(registration_id, agent_name, public_key, challenge, scopes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		reg.RegistrationID, reg.AgentName, reg.PublicKey, reg.Challenge, scopes, reg.CreatedAt)
	return err
}

func (s *Store) GetPendingRegistration(ctx context.Context, registrationID string) (gate.PendingRegistration, error) {
	var reg gate.PendingRegistration
	var scopes []byte
	err := s.db.QueryRow(ctx, `
		SELECT registration_id, agent_name, public_key, challenge, scopes, created_at
		FROM agentdoor_pending_registrations WHERE registration_id = $1`,
		registrationID,
	).Scan(&reg.RegistrationID, &reg.AgentName, &reg.PublicKey, &reg.Challenge, &scopes, &reg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return gate.PendingRegistration{}, gate.ErrNotFound
	}
	if err != nil {
		return gate.PendingRegistration{}, err
	}
	if err := json.Unmarshal(scopes, &reg.Scopes); err != nil {
		return gate.PendingRegistration{}, fmt.Errorf("unmarshal scopes: %w", err)
	}
	return reg, nil
}

func (s *Store) CompleteRegistration(ctx context.Context, registrationID string, agent gate.AgentRecord) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// SELECT ... FOR UPDATE serializes concurrent verifies on the same
	// registration_id against each other, the transactional analogue of
	// memstore's mutex.
	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT true FROM agentdoor_pending_registrations WHERE registration_id = $1 FOR UPDATE`,
		registrationID,
	).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return gate.ErrNotFound
	}
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM agentdoor_pending_registrations WHERE registration_id = $1`, registrationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return gate.ErrNotFound
	}

	scopes, err := json.Marshal(agent.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO agentdoor_agents (agent_id, agent_name, public_key, api_key, scopes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		agent.AgentID, agent.AgentName, agent.PublicKey, agent.APIKey, scopes, agent.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) GetAgent(ctx context.Context, agentID string) (gate.AgentRecord, error) {
	return s.scanAgent(ctx, `
		SELECT agent_id, agent_name, public_key, api_key, scopes, created_at
		FROM agentdoor_agents WHERE agent_id = $1`, agentID)
}

func (s *Store) GetAgentByAPIKey(ctx context.Context, apiKey string) (gate.AgentRecord, error) {
	return s.scanAgent(ctx, `
		SELECT agent_id, agent_name, public_key, api_key, scopes, created_at
		FROM agentdoor_agents WHERE api_key = $1`, apiKey)
}

func (s *Store) scanAgent(ctx context.Context, query string, arg any) (gate.AgentRecord, error) {
	var agent gate.AgentRecord
	var scopes []byte
	err := s.db.QueryRow(ctx, query, arg).Scan(
		&agent.AgentID, &agent.AgentName, &agent.PublicKey, &agent.APIKey, &scopes, &agent.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return gate.AgentRecord{}, gate.ErrNotFound
	}
	if err != nil {
		return gate.AgentRecord{}, err
	}
	if err := json.Unmarshal(scopes, &agent.Scopes); err != nil {
		return gate.AgentRecord{}, fmt.Errorf("unmarshal scopes: %w", err)
	}
	return agent, nil
}

func (s *Store) StoreToken(ctx context.Context, token gate.TokenRecord) error {
	scopes, err := json.Marshal(token.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO agentdoor_tokens (token, agent_id, expires_at, scopes)
		VALUES ($1, $2, $3, $4)`,
		token.Token, token.AgentID, token.ExpiresAt, scopes)
	return err
}

func (s *Store) GetToken(ctx context.Context, token string) (gate.TokenRecord, error) {
	var rec gate.TokenRecord
	var scopes []byte
	err := s.db.QueryRow(ctx, `
		SELECT token, agent_id, expires_at, scopes FROM agentdoor_tokens WHERE token = $1`,
		token,
	).Scan(&rec.Token, &rec.AgentID, &rec.ExpiresAt, &scopes)
	if errors.Is(err, pgx.ErrNoRows) {
		return gate.TokenRecord{}, gate.ErrNotFound
	}
	if err != nil {
		return gate.TokenRecord{}, err
	}
	if err := json.Unmarshal(scopes, &rec.Scopes); err != nil {
		return gate.TokenRecord{}, fmt.Errorf("unmarshal scopes: %w", err)
	}

	if s.clock.Now().After(rec.ExpiresAt) {
		if _, err := s.db.Exec(ctx, `DELETE FROM agentdoor_tokens WHERE token = $1`, token); err != nil {
			return gate.TokenRecord{}, fmt.Errorf("evict expired token: %w", err)
		}
		return gate.TokenRecord{}, gate.ErrNotFound
	}

	return rec, nil
}

// SweepExpiredPending removes pending registrations older than olderThan,
// measured against now, satisfying the same optional interface memstore
// implements for Config.PendingTTL.
func (s *Store) SweepExpiredPending(now time.Time, olderThan time.Duration) int {
	tag, err := s.db.Exec(context.Background(),
		`DELETE FROM agentdoor_pending_registrations WHERE created_at < $1`, now.Add(-olderThan))
	if err != nil {
		return 0
	}
	return int(tag.RowsAffected())
}
