// Package discovery defines the client-visible shape of a gate's
// well-known discovery document and a tolerant parser for it. Only
// "<tag>_version" and "service_name" are mandatory; everything else
// defaults, and unknown fields are preserved rather than dropped.
package discovery

import (
	"encoding/json"
	"fmt"
)

// ScopeDefinition mirrors gate.ScopeDefinition on the wire.
type ScopeDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Document is the parsed discovery document, plus the raw map it was
// parsed from so unknown fields survive a round trip.
type Document struct {
	Version              string            `json:"-"`
	ServiceName           string            `json:"-"`
	RegistrationEndpoint  string            `json:"-"`
	VerificationEndpoint  string            `json:"-"`
	AuthEndpoint          string            `json:"-"`
	Scopes                []ScopeDefinition `json:"-"`
	TokenTTLSeconds       int64             `json:"-"`
	Raw                   map[string]any    `json:"-"`
}

// Parse decodes a discovery document for the given service tag (e.g.
// "agentdoor", yielding the mandatory key "agentdoor_version"). Unknown
// fields are preserved in Raw; missing optional fields fall back to their
// documented defaults.
func Parse(tag string, body []byte) (Document, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Document{}, fmt.Errorf("discovery: decode document: %w", err)
	}

	versionKey := tag + "_version"
	version, ok := raw[versionKey].(string)
	if !ok || version == "" {
		return Document{}, fmt.Errorf("discovery: missing required field %q", versionKey)
	}
	serviceName, ok := raw["service_name"].(string)
	if !ok || serviceName == "" {
		return Document{}, fmt.Errorf("discovery: missing required field %q", "service_name")
	}

	doc := Document{
		Version:              version,
		ServiceName:           serviceName,
		RegistrationEndpoint:  stringOr(raw["registration_endpoint"], "/"+tag+"/register"),
		VerificationEndpoint:  stringOr(raw["verification_endpoint"], "/"+tag+"/register/verify"),
		AuthEndpoint:          stringOr(raw["auth_endpoint"], "/"+tag+"/auth"),
		TokenTTLSeconds:       int64Or(raw["token_ttl_seconds"], 3600),
		Raw:                   raw,
	}

	if rawScopes, ok := raw["scopes"].([]any); ok {
		for _, s := range rawScopes {
			m, ok := s.(map[string]any)
			if !ok {
				continue
			}
			name, _ := m["name"].(string)
			desc, _ := m["description"].(string)
			doc.Scopes = append(doc.Scopes, ScopeDefinition{Name: name, Description: desc})
		}
	}

	return doc, nil
}

func stringOr(v any, fallback string) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return fallback
	}
	return s
}

func int64Or(v any, fallback int64) int64 {
	f, ok := v.(float64) // encoding/json decodes numbers as float64 into any
	if !ok {
		return fallback
	}
	return int64(f)
}
