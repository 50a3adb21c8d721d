package discovery_test

import (
	"testing"

	"github.com/0xaron/agentdoor/pkg/discovery"
)

func TestParse_minimalDocument(t *testing.T) {
	body := []byte(`{"agentdoor_version":"0.1","service_name":"Test Service"}`)

	doc, err := discovery.Parse("agentdoor", body)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if doc.Version != "0.1" {
		t.Errorf("Version = %q, want 0.1", doc.Version)
	}
	if doc.RegistrationEndpoint != "/agentdoor/register" {
		t.Errorf("RegistrationEndpoint = %q, want default", doc.RegistrationEndpoint)
	}
	if doc.TokenTTLSeconds != 3600 {
		t.Errorf("TokenTTLSeconds = %d, want default 3600", doc.TokenTTLSeconds)
	}
}

func TestParse_missingMandatoryField(t *testing.T) {
	body := []byte(`{"service_name":"Test Service"}`)
	if _, err := discovery.Parse("agentdoor", body); err == nil {
		t.Error("Parse() error = nil, want error for missing version field")
	}
}

func TestParse_preservesUnknownFields(t *testing.T) {
	body := []byte(`{"agentdoor_version":"0.1","service_name":"Test","extra_field":"keep-me"}`)
	doc, err := discovery.Parse("agentdoor", body)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if doc.Raw["extra_field"] != "keep-me" {
		t.Errorf("Raw[extra_field] = %v, want keep-me", doc.Raw["extra_field"])
	}
}

func TestParse_explicitScopesAndEndpoints(t *testing.T) {
	body := []byte(`{
		"agentdoor_version": "0.1",
		"service_name": "Test",
		"registration_endpoint": "/custom/register",
		"scopes": [{"name":"read","description":"read access"}],
		"token_ttl_seconds": 120
	}`)
	doc, err := discovery.Parse("agentdoor", body)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if doc.RegistrationEndpoint != "/custom/register" {
		t.Errorf("RegistrationEndpoint = %q, want /custom/register", doc.RegistrationEndpoint)
	}
	if len(doc.Scopes) != 1 || doc.Scopes[0].Name != "read" {
		t.Errorf("Scopes = %+v, want [{read ...}]", doc.Scopes)
	}
	if doc.TokenTTLSeconds != 120 {
		t.Errorf("TokenTTLSeconds = %d, want 120", doc.TokenTTLSeconds)
	}
}
