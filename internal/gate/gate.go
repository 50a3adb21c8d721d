// Package gate implements the server-side half of the AgentDoor protocol:
// discovery, challenge/response enrollment, timestamp-signed token
// issuance, and the bearer-token guard middleware that protects downstream
// routes. It has no opinion on how the host process is configured,
// logged, or deployed beyond the Config it is constructed with.
package gate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Gate is the mountable server-side half of the protocol. Construct one
// with New and mount its routes with Register.
type Gate struct {
	cfg    Config
	cancel context.CancelFunc
}

// New validates and defaults cfg, returning a ready-to-mount Gate. Store
// must be set; New panics if it is nil, since a gate with no backing
// store cannot satisfy any of its invariants.
func New(cfg Config) *Gate {
	cfg = cfg.withDefaults()
	if cfg.Store == nil {
		panic("gate: Config.Store must not be nil")
	}

	g := &Gate{cfg: cfg}

	if cfg.PendingTTL > 0 {
		g.startPendingSweeper()
	}

	return g
}

// Register mounts the gate's four HTTP endpoints on router: the
// well-known discovery document at the root (since /.well-known is
// outside any API versioned prefix) and register/verify/auth in a group
// under Config.RoutePrefix.
func (g *Gate) Register(router gin.IRouter) {
	router.GET("/.well-known/"+g.cfg.ServiceTag+".json", g.handleDiscovery)

	grp := router.Group(g.cfg.RoutePrefix)
	grp.POST("/register", g.handleRegister)
	grp.POST("/register/verify", g.handleVerify)
	grp.POST("/auth", g.handleAuth)
}

// discoveryDoc is the well-known discovery document. Its mandatory version
// field is keyed "<tag>_version" per Config.ServiceTag, so it cannot be
// expressed as a fixed struct tag — MarshalJSON builds the map itself.
type discoveryDoc struct {
	tag                  string
	Version              string
	ServiceName          string
	RegistrationEndpoint string
	VerificationEndpoint string
	AuthEndpoint         string
	Scopes               []ScopeDefinition
	TokenTTLSeconds      int64
}

func (d discoveryDoc) MarshalJSON() ([]byte, error) {
	scopes := d.Scopes
	if scopes == nil {
		scopes = []ScopeDefinition{}
	}
	return json.Marshal(map[string]any{
		d.tag + "_version":      d.Version,
		"service_name":          d.ServiceName,
		"registration_endpoint": d.RegistrationEndpoint,
		"verification_endpoint": d.VerificationEndpoint,
		"auth_endpoint":         d.AuthEndpoint,
		"scopes":                scopes,
		"token_ttl_seconds":     d.TokenTTLSeconds,
	})
}

func (g *Gate) discoveryDocument() discoveryDoc {
	return discoveryDoc{
		tag:                  g.cfg.ServiceTag,
		Version:              "0.1",
		ServiceName:          g.cfg.ServiceName,
		RegistrationEndpoint: g.cfg.RoutePrefix + "/register",
		VerificationEndpoint: g.cfg.RoutePrefix + "/register/verify",
		AuthEndpoint:         g.cfg.RoutePrefix + "/auth",
		Scopes:               g.cfg.Scopes,
		TokenTTLSeconds:      int64(g.cfg.TokenTTL.Seconds()),
	}
}

// pendingSweeper is satisfied by store backends that can enumerate and
// drop stale pending registrations. memstore.Store implements it; a
// database-backed Store may instead expire rows with a TTL column and
// need not implement this interface at all.
type pendingSweeper interface {
	SweepExpiredPending(now time.Time, olderThan time.Duration) int
}

// startPendingSweeper launches the optional background goroutine
// described in SPEC_FULL.md §5 and §9 (Open Question a). It is disabled
// unless Config.PendingTTL is positive, and even when enabled it only
// removes registrations that natural lookups would already be unable to
// distinguish from "never existed" — no wire-visible behavior changes.
func (g *Gate) startPendingSweeper() {
	sweeper, ok := g.cfg.Store.(pendingSweeper)
	if !ok {
		g.cfg.Logger.Warn("gate: PendingTTL configured but store does not support sweeping")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel

	interval := g.cfg.PendingTTL / 2
	if interval < time.Second {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n := sweeper.SweepExpiredPending(g.cfg.Clock.Now(), g.cfg.PendingTTL)
				if n > 0 {
					g.cfg.Logger.Info("gate: swept expired pending registrations", zap.Int("count", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the optional pending-registration sweeper, if one was
// started. Safe to call even if PendingTTL was never configured.
func (g *Gate) Close() {
	if g.cancel != nil {
		g.cancel()
	}
}
