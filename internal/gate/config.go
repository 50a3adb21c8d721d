package gate

import (
	"time"

	"go.uber.org/zap"
)

// Config is the Gate's construction-time configuration. It is frozen once
// New is called: the gate never observes changes to it after mount, and
// has no environment variable, flag, or hot-reload surface of its own —
// that assembly work belongs to the host process embedding the gate.
type Config struct {
	// ServiceName is shown in the discovery document.
	ServiceName string

	// ServiceTag names the well-known discovery path
	// (/.well-known/<tag>.json) and is the conventional root of the
	// client's default credential directory (~/.<tag>/). Defaults to
	// "agentdoor".
	ServiceTag string

	// Scopes is the ordered whitelist of scopes this service accepts at
	// registration. An empty list accepts any scope name.
	Scopes []ScopeDefinition

	// TokenTTL is how long a minted bearer token remains valid. Nil
	// defaults to 3600 seconds; an explicit zero duration is honored
	// as-is (tokens expire immediately on mint), which the lazy-eviction
	// property relies on being configurable down to zero. Use Duration
	// to build a pointer from a literal.
	TokenTTL *time.Duration

	// MaxTimestampDrift bounds how far an auth request's timestamp may
	// diverge from server wall clock. Defaults to 300 seconds.
	MaxTimestampDrift time.Duration

	// RoutePrefix is the mount point for register/verify/auth. Defaults
	// to "/agentdoor". It does not affect the discovery path.
	RoutePrefix string

	// PendingTTL, if positive, enables an optional background sweeper
	// that removes PendingRegistrations older than this duration. Unset
	// (zero) reproduces the baseline spec behavior: pending registrations
	// never auto-expire. See SPEC_FULL.md §9, Open Question (a).
	PendingTTL time.Duration

	// Store is the pluggable backend for pending registrations, agent
	// records, and tokens. Required.
	Store Store

	// Clock is the injectable time source. Defaults to the wall clock.
	Clock Clock

	// Logger receives structured diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
}

// withDefaults returns a copy of cfg with every unset field replaced by
// its documented default.
func (cfg Config) withDefaults() Config {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "AgentDoor Service"
	}
	if cfg.ServiceTag == "" {
		cfg.ServiceTag = "agentdoor"
	}
	if cfg.TokenTTL == nil {
		cfg.TokenTTL = Duration(3600 * time.Second)
	}
	if cfg.MaxTimestampDrift <= 0 {
		cfg.MaxTimestampDrift = 300 * time.Second
	}
	if cfg.RoutePrefix == "" {
		cfg.RoutePrefix = "/agentdoor"
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

// Duration returns a pointer to d, for building Config fields (like
// TokenTTL) that must distinguish "unset" (nil) from an explicit zero
// value.
func Duration(d time.Duration) *time.Duration {
	return &d
}

// scopeWhitelist returns the set of configured scope names, or nil if the
// whitelist is empty (meaning: accept anything).
func (cfg Config) scopeWhitelist() map[string]struct{} {
	if len(cfg.Scopes) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(cfg.Scopes))
	for _, s := range cfg.Scopes {
		set[s.Name] = struct{}{}
	}
	return set
}
