package agentclient_test

import (
	"testing"
	"time"

	"github.com/0xaron/agentdoor/pkg/agentclient"
)

func TestCredential_IsTokenValid(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name string
		cred agentclient.Credential
		want bool
	}{
		{"no token", agentclient.Credential{}, false},
		{
			"well within margin",
			agentclient.Credential{Token: "t", TokenExpiresAt: now.Add(time.Hour)},
			true,
		},
		{
			"inside the 30s margin",
			agentclient.Credential{Token: "t", TokenExpiresAt: now.Add(15 * time.Second)},
			false,
		},
		{
			"exactly at margin boundary",
			agentclient.Credential{Token: "t", TokenExpiresAt: now.Add(30 * time.Second)},
			false,
		},
		{
			"already expired",
			agentclient.Credential{Token: "t", TokenExpiresAt: now.Add(-time.Second)},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cred.IsTokenValid(now); got != tt.want {
				t.Errorf("IsTokenValid() = %v, want %v", got, tt.want)
			}
		})
	}
}
