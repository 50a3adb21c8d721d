package agentcrypto_test

import (
	"testing"
	"time"

	"github.com/0xaron/agentdoor/pkg/agentcrypto"
)

func TestSignVerify_roundTrip(t *testing.T) {
	pub, sec, err := agentcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}

	sig, err := agentcrypto.Sign("hello-challenge", sec)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	if !agentcrypto.Verify("hello-challenge", sig, pub) {
		t.Error("Verify() = false, want true for untampered message")
	}
}

func TestSignVerify_tamperedMessage(t *testing.T) {
	pub, sec, _ := agentcrypto.GenerateKeypair()
	sig, _ := agentcrypto.Sign("original", sec)

	if agentcrypto.Verify("tampered", sig, pub) {
		t.Error("Verify() = true for a different message, want false")
	}
}

func TestSignVerify_tamperedSignature(t *testing.T) {
	pub, sec, _ := agentcrypto.GenerateKeypair()
	sig, _ := agentcrypto.Sign("original", sec)
	tampered := []byte(sig)
	tampered[0] ^= 0xff

	if agentcrypto.Verify("original", string(tampered), pub) {
		t.Error("Verify() = true for a tampered signature, want false")
	}
}

func TestSignVerify_wrongKey(t *testing.T) {
	_, sec, _ := agentcrypto.GenerateKeypair()
	otherPub, _, _ := agentcrypto.GenerateKeypair()
	sig, _ := agentcrypto.Sign("original", sec)

	if agentcrypto.Verify("original", sig, otherPub) {
		t.Error("Verify() = true under an unrelated public key, want false")
	}
}

func TestVerify_malformedInputsNeverPanic(t *testing.T) {
	cases := []struct {
		name   string
		sig    string
		pub    string
	}{
		{"not base64 signature", "!!!not-base64!!!", "YWJj"},
		{"not base64 key", "YWJj", "!!!not-base64!!!"},
		{"empty signature", "", "YWJj"},
		{"empty key", "YWJj", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if agentcrypto.Verify("m", tc.sig, tc.pub) {
				t.Error("Verify() = true, want false on malformed input")
			}
		})
	}
}

func TestIsTimestampValid(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name     string
		ts       string
		maxDrift int64
		want     bool
	}{
		{"exact now", "1700000000", 300, true},
		{"within drift", "1699999800", 300, true},
		{"outside drift", "1699999000", 300, false},
		{"future within drift", "1700000200", 300, true},
		{"non-integer", "not-a-number", 300, false},
		{"empty string", "", 300, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := agentcrypto.IsTimestampValid(tt.ts, tt.maxDrift, now); got != tt.want {
				t.Errorf("IsTimestampValid(%q) = %v, want %v", tt.ts, got, tt.want)
			}
		})
	}
}

func TestRandomToken_prefixAndUniqueness(t *testing.T) {
	a, err := agentcrypto.RandomToken("agt_", 32)
	if err != nil {
		t.Fatalf("RandomToken() error: %v", err)
	}
	b, err := agentcrypto.RandomToken("agt_", 32)
	if err != nil {
		t.Fatalf("RandomToken() error: %v", err)
	}

	if a == b {
		t.Error("two RandomToken() calls produced identical output")
	}
	if len(a) <= len("agt_") {
		t.Error("RandomToken() did not include entropy beyond the prefix")
	}
	if a[:4] != "agt_" {
		t.Errorf("RandomToken() = %q, want agt_ prefix", a)
	}
}
