package agentclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0xaron/agentdoor/pkg/agentclient"
	"github.com/0xaron/agentdoor/pkg/agentcrypto"
)

// stubGate is a minimal hand-rolled server implementing just enough of
// the wire protocol to exercise the Agent's state machine, independent of
// the real gate package (so these tests only fail if the client's
// protocol understanding drifts, not the server's).
type stubGate struct {
	authCalls       int32
	pendingChallenge string
	pendingPub       string
	agentID          string
	apiKey           string
	tokenSerial      int32
	failAuthOnce     bool
	failedOnce       bool
}

func newStubGate() *stubGate {
	return &stubGate{agentID: "agent_1", apiKey: "ak_1"}
}

func (g *stubGate) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/agentdoor.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"agentdoor_version": "0.1",
			"service_name":      "Stub",
			"token_ttl_seconds": 3600,
		})
	})
	mux.HandleFunc("/agentdoor/register", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PublicKey string `json:"public_key"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		g.pendingPub = req.PublicKey
		g.pendingChallenge = "challenge-123"
		json.NewEncoder(w).Encode(map[string]any{
			"registration_id": "reg_1",
			"challenge":        g.pendingChallenge,
		})
	})
	mux.HandleFunc("/agentdoor/register/verify", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Signature string `json:"signature"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if !agentcrypto.Verify(g.pendingChallenge, req.Signature, g.pendingPub) {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"detail": "Invalid signature"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"agent_id": g.agentID, "api_key": g.apiKey})
	})
	mux.HandleFunc("/agentdoor/auth", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&g.authCalls, 1)
		serial := atomic.AddInt32(&g.tokenSerial, 1)
		token := "agt_" + strconv.Itoa(int(serial))
		json.NewEncoder(w).Encode(map[string]any{"token": token, "expires_in": 3600})
	})
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !g.failedOnce && g.failAuthOnce && auth != "" {
			g.failedOnce = true
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"detail": "Invalid or expired token"})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
	return httptest.NewServer(mux)
}

func connectedAgent(t *testing.T, srv *httptest.Server, opts ...agentclient.Option) *agentclient.Agent {
	t.Helper()
	a, err := agentclient.New(opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := a.Connect(context.Background(), srv.URL); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	return a
}

func TestRegister_idempotent(t *testing.T) {
	g := newStubGate()
	srv := g.server(t)
	defer srv.Close()

	a := connectedAgent(t, srv)
	cred1, err := a.Register(context.Background(), "read")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	cred2, err := a.Register(context.Background(), "write") // different scopes, should be ignored
	if err != nil {
		t.Fatalf("second Register() error: %v", err)
	}
	if cred1.APIKey != cred2.APIKey {
		t.Error("Register() was not idempotent: api keys differ across calls")
	}
}

func TestRegister_beforeConnect(t *testing.T) {
	a, _ := agentclient.New()
	_, err := a.Register(context.Background())
	var cfgErr *agentclient.ConfigError
	if !asConfigError(err, &cfgErr) {
		t.Errorf("Register() before Connect error = %v, want ConfigError", err)
	}
}

func TestAuthenticate_cachesUnderSafetyMargin(t *testing.T) {
	g := newStubGate()
	srv := g.server(t)
	defer srv.Close()

	clock := &agentclient.FixedClock{At: time.Unix(1_700_000_000, 0)}
	a := connectedAgent(t, srv, agentclient.WithClock(clock))
	if _, err := a.Register(context.Background()); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	tok1, err := a.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}

	// Advance well within TTL-30s: must not trigger a new round trip.
	clock.At = clock.At.Add(time.Minute)
	tok2, err := a.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("second Authenticate() error: %v", err)
	}
	if tok1 != tok2 {
		t.Errorf("Authenticate() returned a new token within the safety margin: %q != %q", tok1, tok2)
	}
	if g.authCalls != 1 {
		t.Errorf("auth endpoint called %d times, want 1", g.authCalls)
	}
}

func TestAuthenticate_refreshesPastSafetyMargin(t *testing.T) {
	g := newStubGate()
	srv := g.server(t)
	defer srv.Close()

	clock := &agentclient.FixedClock{At: time.Unix(1_700_000_000, 0)}
	a := connectedAgent(t, srv, agentclient.WithClock(clock))
	_, _ = a.Register(context.Background())

	tok1, _ := a.Authenticate(context.Background())

	clock.At = clock.At.Add(3600 * time.Second) // past TTL entirely
	tok2, err := a.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if tok1 == tok2 {
		t.Error("Authenticate() reused a token past its safety margin")
	}
	if g.authCalls != 2 {
		t.Errorf("auth endpoint called %d times, want 2", g.authCalls)
	}
}

func TestConnect_trailingSlashNormalization(t *testing.T) {
	g := newStubGate()
	srv := g.server(t)
	defer srv.Close()

	store := agentclient.NewMemoryCredentialStore()
	a1 := connectedAgent(t, srv, agentclient.WithCredentialStore(store))
	cred, _ := a1.Register(context.Background())
	_ = cred

	a2, _ := agentclient.New(agentclient.WithCredentialStore(store))
	if err := a2.Connect(context.Background(), srv.URL+"/"); err != nil {
		t.Fatalf("Connect() with trailing slash error: %v", err)
	}
	tok2, err := a2.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate() via trailing-slash connect error: %v", err)
	}
	if tok2 == "" {
		t.Error("expected a token reusing the credential registered without a trailing slash")
	}
}

func TestDo_retriesOnceOn401(t *testing.T) {
	g := newStubGate()
	g.failAuthOnce = true
	srv := g.server(t)
	defer srv.Close()

	a := connectedAgent(t, srv)
	_, _ = a.Register(context.Background())

	resp, err := a.Do(context.Background(), http.MethodGet, "/protected", nil)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Do() status = %d, want 200 after one retry", resp.StatusCode)
	}
	// Exactly two auth round-trips: the initial one plus the refresh
	// triggered by the 401.
	if g.authCalls != 2 {
		t.Errorf("auth endpoint called %d times, want 2 (initial + refresh-on-401)", g.authCalls)
	}
}

func asConfigError(err error, target **agentclient.ConfigError) bool {
	ce, ok := err.(*agentclient.ConfigError)
	if !ok {
		return false
	}
	*target = ce
	return true
}
