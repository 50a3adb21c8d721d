package gate

import "time"

// ScopeDefinition is a named permission a service declares at configuration
// time. The set of names across a Gate's configured scopes is the
// authoritative whitelist for registration requests.
type ScopeDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PendingRegistration is the challenge state created by register and
// consumed exactly once by verify.
type PendingRegistration struct {
	RegistrationID string
	AgentName      string
	PublicKey      string
	Challenge      string
	Scopes         []string
	CreatedAt      time.Time
}

// AgentRecord is the identity created by a successful verify. Immutable
// after creation: no renaming, no key rotation in this version.
type AgentRecord struct {
	AgentID   string
	AgentName string
	PublicKey string
	APIKey    string
	Scopes    []string
	CreatedAt time.Time
}

// TokenRecord is a bearer token minted on a successful auth call. Scopes
// are copied from the AgentRecord at issue time and never re-derived.
type TokenRecord struct {
	Token     string
	AgentID   string
	ExpiresAt time.Time
	Scopes    []string
}

// AgentContext is handed to downstream handlers by the AgentRequired
// middleware once a bearer token has been validated.
type AgentContext struct {
	AgentID   string
	AgentName string
	Scopes    []string
}
