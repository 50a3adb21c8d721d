// Package agentclient is the client-side half of the AgentDoor protocol:
// an Agent discovers a gate, enrolls a keypair-bound identity, caches and
// transparently refreshes bearer tokens, and attaches them to outbound
// requests.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/0xaron/agentdoor/pkg/agentcrypto"
	"github.com/0xaron/agentdoor/pkg/discovery"
)

// Agent is a stateful client for one gate. Its lifecycle is
// new -> connected -> registered -> authenticated -> (request loop) -> closed.
// An Agent is safe for concurrent use: Authenticate serializes token
// refreshes internally so only one refresh round-trip is ever in flight.
type Agent struct {
	httpClient *http.Client
	credStore  CredentialStore
	clock      Clock
	serviceTag string
	agentName  string

	mu         sync.Mutex // guards everything below
	baseURL    string
	discovery  discovery.Document
	credential Credential
	connected  bool
	closed     bool
}

// Option configures an Agent at construction time.
type Option func(*Agent) error

// WithHTTPClient overrides the HTTP client used for all gate requests.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Agent) error {
		if c == nil {
			return fmt.Errorf("agentclient: WithHTTPClient: client must not be nil")
		}
		a.httpClient = c
		return nil
	}
}

// WithCredentialStore overrides the default MemoryCredentialStore.
func WithCredentialStore(store CredentialStore) Option {
	return func(a *Agent) error {
		if store == nil {
			return fmt.Errorf("agentclient: WithCredentialStore: store must not be nil")
		}
		a.credStore = store
		return nil
	}
}

// WithServiceTag overrides the default "agentdoor" well-known tag used to
// locate the discovery document.
func WithServiceTag(tag string) Option {
	return func(a *Agent) error {
		if tag == "" {
			return fmt.Errorf("agentclient: WithServiceTag: tag must not be empty")
		}
		a.serviceTag = tag
		return nil
	}
}

// WithAgentName sets the agent_name presented at registration. Defaults
// to "agentdoor-go-sdk".
func WithAgentName(name string) Option {
	return func(a *Agent) error {
		a.agentName = name
		return nil
	}
}

// WithFilePassphrase is a convenience that swaps in a FileCredentialStore
// at the default "~/.<tag>/credentials.json" path, with the given
// passphrase enabling at-rest secret-key encryption. Pass an empty
// passphrase for plaintext storage.
func WithFilePassphrase(passphrase string) Option {
	return func(a *Agent) error {
		tag := a.serviceTag
		if tag == "" {
			tag = "agentdoor"
		}
		dir, err := DefaultCredentialDir(tag)
		if err != nil {
			return err
		}
		a.credStore = NewFileCredentialStore(dir+"/credentials.json", passphrase)
		return nil
	}
}

// WithClock overrides the Agent's time source. Intended for tests that
// need deterministic control over cached-token validity and the signed
// auth timestamp.
func WithClock(c Clock) Option {
	return func(a *Agent) error {
		if c == nil {
			return fmt.Errorf("agentclient: WithClock: clock must not be nil")
		}
		a.clock = c
		return nil
	}
}

// New constructs an Agent. By default it uses an in-memory credential
// store, a 30-second-timeout HTTP client, and the "agentdoor" service
// tag; apply Options to override any of these.
func New(opts ...Option) (*Agent, error) {
	a := &Agent{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		credStore:  NewMemoryCredentialStore(),
		clock:      realClock{},
		serviceTag: "agentdoor",
		agentName:  "agentdoor-go-sdk",
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// MustNew is New, panicking on error. Convenient for package-level
// construction where Options are all statically known-good.
func MustNew(opts ...Option) *Agent {
	a, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return a
}

// Connect normalizes baseURL, fetches the gate's discovery document, and
// adopts any existing credential the store has for this service.
func (a *Agent) Connect(ctx context.Context, baseURL string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return &ConfigError{Op: "Connect", Message: "agent is closed"}
	}

	normalized := normalizeURL(baseURL)
	doc, err := a.fetchDiscovery(ctx, normalized)
	if err != nil {
		return err
	}

	a.baseURL = normalized
	a.discovery = doc
	a.connected = true

	if cred, err := a.credStore.Get(normalized); err == nil {
		a.credential = cred
	} else {
		a.credential = Credential{ServiceURL: normalized}
	}

	return nil
}

func (a *Agent) fetchDiscovery(ctx context.Context, baseURL string) (discovery.Document, error) {
	url := baseURL + "/.well-known/" + a.serviceTag + ".json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return discovery.Document{}, &TransportError{Op: "Connect", Err: err}
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return discovery.Document{}, &TransportError{Op: "Connect", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return discovery.Document{}, &TransportError{Op: "Connect", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return discovery.Document{}, &TransportError{Op: "Connect", StatusCode: resp.StatusCode, Detail: string(body)}
	}

	doc, err := discovery.Parse(a.serviceTag, body)
	if err != nil {
		return discovery.Document{}, &TransportError{Op: "Connect", Err: err}
	}
	return doc, nil
}

// Register enrolls a fresh keypair-bound identity, unless the current
// credential is already registered (api_key set), in which case it
// returns that credential unchanged — Register is idempotent per
// connected service.
func (a *Agent) Register(ctx context.Context, scopes ...string) (Credential, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return Credential{}, &ConfigError{Op: "Register", Message: "agent is closed"}
	}
	if !a.connected {
		return Credential{}, &ConfigError{Op: "Register", Message: "Connect must be called first"}
	}
	if a.credential.IsRegistered() {
		return a.credential, nil
	}

	pub, sec, err := agentcrypto.GenerateKeypair()
	if err != nil {
		return Credential{}, fmt.Errorf("agentclient: generate keypair: %w", err)
	}

	var regResp struct {
		RegistrationID string `json:"registration_id"`
		Challenge      string `json:"challenge"`
	}
	if err := a.postJSON(ctx, a.baseURL+a.discovery.RegistrationEndpoint, map[string]any{
		"agent_name": a.agentName,
		"public_key": pub,
		"scopes":     scopes,
	}, &regResp); err != nil {
		return Credential{}, err
	}

	sig, err := agentcrypto.Sign(regResp.Challenge, sec)
	if err != nil {
		return Credential{}, fmt.Errorf("agentclient: sign challenge: %w", err)
	}

	var verifyResp struct {
		AgentID string `json:"agent_id"`
		APIKey  string `json:"api_key"`
	}
	if err := a.postJSON(ctx, a.baseURL+a.discovery.VerificationEndpoint, map[string]any{
		"registration_id": regResp.RegistrationID,
		"challenge":       regResp.Challenge,
		"signature":       sig,
	}, &verifyResp); err != nil {
		return Credential{}, err
	}

	cred := Credential{
		ServiceURL: a.baseURL,
		AgentID:    verifyResp.AgentID,
		PublicKey:  pub,
		SecretKey:  sec,
		APIKey:     verifyResp.APIKey,
		Scopes:     scopes,
	}
	if err := a.credStore.Save(cred); err != nil {
		return Credential{}, fmt.Errorf("agentclient: persist credential: %w", err)
	}
	a.credential = cred
	return cred, nil
}

// Authenticate returns a valid bearer token, reusing the cached one under
// the 30-second safety margin or performing a fresh auth round-trip
// otherwise. Concurrent callers are serialized so at most one refresh is
// in flight at a time.
func (a *Agent) Authenticate(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authenticateLocked(ctx)
}

func (a *Agent) authenticateLocked(ctx context.Context) (string, error) {
	if a.closed {
		return "", &ConfigError{Op: "Authenticate", Message: "agent is closed"}
	}
	if !a.credential.IsRegistered() {
		return "", &ConfigError{Op: "Authenticate", Message: "Register must be called first"}
	}

	now := a.clock.Now()
	if a.credential.IsTokenValid(now) {
		return a.credential.Token, nil
	}

	timestamp := strconv.FormatInt(now.Unix(), 10)
	sig, err := agentcrypto.Sign(timestamp, a.credential.SecretKey)
	if err != nil {
		return "", fmt.Errorf("agentclient: sign timestamp: %w", err)
	}

	var authResp struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
	}
	if err := a.postJSON(ctx, a.baseURL+a.discovery.AuthEndpoint, map[string]any{
		"agent_id":  a.credential.AgentID,
		"api_key":   a.credential.APIKey,
		"timestamp": timestamp,
		"signature": sig,
	}, &authResp); err != nil {
		return "", err
	}

	expiresIn := authResp.ExpiresIn
	if expiresIn == 0 {
		expiresIn = a.discovery.TokenTTLSeconds
	}

	a.credential.Token = authResp.Token
	a.credential.TokenExpiresAt = now.Add(time.Duration(expiresIn) * time.Second)
	if err := a.credStore.Save(a.credential); err != nil {
		return "", fmt.Errorf("agentclient: persist credential: %w", err)
	}

	return a.credential.Token, nil
}

// Do authenticates, attaches the bearer token, and performs the request.
// On a 401 response it clears the cached token, re-authenticates exactly
// once, and retries the request exactly once before returning whatever
// response results.
func (a *Agent) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return nil, &ConfigError{Op: "Do", Message: "agent is closed"}
	}

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return nil, &TransportError{Op: "Do", Err: err}
		}
	}

	resp, err := a.doOnce(ctx, method, path, bodyBytes)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	a.mu.Lock()
	a.credential.Token = ""
	a.credential.TokenExpiresAt = time.Time{}
	a.mu.Unlock()

	return a.doOnce(ctx, method, path, bodyBytes)
}

func (a *Agent) doOnce(ctx context.Context, method, path string, bodyBytes []byte) (*http.Response, error) {
	token, err := a.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	url := a.baseURL + path
	a.mu.Unlock()

	var reqBody io.Reader
	if bodyBytes != nil {
		reqBody = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, &TransportError{Op: "Do", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "Do", Err: err}
	}
	return resp, nil
}

func (a *Agent) postJSON(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("agentclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Op: "postJSON", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: "postJSON", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: "postJSON", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := extractDetail(respBody)
		return &TransportError{Op: "postJSON", StatusCode: resp.StatusCode, Detail: detail}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("agentclient: decode response: %w", err)
		}
	}
	return nil
}

func extractDetail(body []byte) string {
	var errBody struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &errBody) == nil && errBody.Detail != "" {
		return errBody.Detail
	}
	return strings.TrimSpace(string(body))
}

// Close releases the Agent's HTTP transport. Subsequent calls on this
// Agent fail with a ConfigError. Idempotent.
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.httpClient.CloseIdleConnections()
	return nil
}
