package gate

import (
	"context"
	"errors"
)

// ErrNotFound is returned by store lookups that find nothing. Handlers
// translate it into the appropriate gateerr.Kind for the operation.
var ErrNotFound = errors.New("gate: not found")

// Store is the abstract capability set the gate depends on for pending
// registrations, agent records, and tokens. It is expressed as a flat set
// of seven operations rather than an inheritance hierarchy: any backend
// that implements these methods with linearizable semantics per key can
// be plugged in without touching the handlers. All operations must be
// logically atomic with respect to concurrent callers.
type Store interface {
	// CreatePendingRegistration persists a new PendingRegistration.
	CreatePendingRegistration(ctx context.Context, reg PendingRegistration) error

	// GetPendingRegistration looks up a PendingRegistration by id. Returns
	// ErrNotFound if absent.
	GetPendingRegistration(ctx context.Context, registrationID string) (PendingRegistration, error)

	// CompleteRegistration atomically removes the pending registration
	// identified by registrationID and persists agent as the new
	// AgentRecord. Two concurrent calls for the same registrationID must
	// result in exactly one success; the loser must observe ErrNotFound.
	CompleteRegistration(ctx context.Context, registrationID string, agent AgentRecord) error

	// GetAgent looks up an AgentRecord by agent id. Returns ErrNotFound if
	// absent.
	GetAgent(ctx context.Context, agentID string) (AgentRecord, error)

	// GetAgentByAPIKey looks up an AgentRecord by api key. Returns
	// ErrNotFound if absent. Implementations need not use a constant-time
	// comparison here themselves — the handler performs the
	// constant-time api_key check against the looked-up record.
	GetAgentByAPIKey(ctx context.Context, apiKey string) (AgentRecord, error)

	// StoreToken persists a new TokenRecord.
	StoreToken(ctx context.Context, token TokenRecord) error

	// GetToken looks up a TokenRecord by token value. If the record exists
	// but is past its ExpiresAt, the implementation MUST evict it and
	// return ErrNotFound (lazy expiry).
	GetToken(ctx context.Context, token string) (TokenRecord, error)
}
