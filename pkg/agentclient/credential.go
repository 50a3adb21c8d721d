package agentclient

import "time"

// Credential is the client-side record of one enrolled identity against
// one gate, keyed by normalized service URL in a CredentialStore.
type Credential struct {
	ServiceURL      string    `json:"service_url"`
	AgentID         string    `json:"agent_id"`
	PublicKey       string    `json:"public_key"`
	SecretKey       string    `json:"secret_key"`
	APIKey          string    `json:"api_key,omitempty"`
	Token           string    `json:"token,omitempty"`
	TokenExpiresAt  time.Time `json:"token_expires_at,omitempty"`
	Scopes          []string  `json:"scopes,omitempty"`
}

// tokenSafetyMargin is subtracted from TokenExpiresAt when deciding
// whether a cached token is still usable, so a token is never handed out
// so close to expiry that it might lapse mid-flight.
const tokenSafetyMargin = 30 * time.Second

// IsTokenValid reports whether the credential carries a usable cached
// token as of now, honoring the 30-second safety margin.
func (c Credential) IsTokenValid(now time.Time) bool {
	if c.Token == "" || c.TokenExpiresAt.IsZero() {
		return false
	}
	return now.Before(c.TokenExpiresAt.Add(-tokenSafetyMargin))
}

// IsRegistered reports whether the credential has completed enrollment
// (holds an api key), independent of token state.
func (c Credential) IsRegistered() bool {
	return c.APIKey != ""
}
