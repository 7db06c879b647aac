package oauth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/oauth2"
)

// RFC 7636 Appendix B.
const (
	rfcVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	rfcChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

func TestVerifyS256(t *testing.T) {
	generated := oauth2.GenerateVerifier()

	tests := []struct {
		name      string
		verifier  string
		challenge string
		want      bool
	}{
		{"rfc vector", rfcVerifier, rfcChallenge, true},
		{"generated verifier", generated, oauth2.S256ChallengeFromVerifier(generated), true},
		{"wrong verifier", strings.Repeat("a", 43), rfcChallenge, false},
		{"plain comparison rejected", rfcVerifier, rfcVerifier, false},
		{"empty verifier", "", rfcChallenge, false},
		{"short verifier", "abc", oauth2.S256ChallengeFromVerifier("abc"), false},
		{"too long verifier", strings.Repeat("a", 129), oauth2.S256ChallengeFromVerifier(strings.Repeat("a", 129)), false},
		{"invalid characters", strings.Repeat("a", 42) + "!", oauth2.S256ChallengeFromVerifier(strings.Repeat("a", 42) + "!"), false},
		{"empty challenge", rfcVerifier, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyS256(tt.verifier, tt.challenge))
		})
	}
}

func TestValidS256Challenge(t *testing.T) {
	assert.True(t, validS256Challenge(rfcChallenge))
	assert.False(t, validS256Challenge("short"))
	assert.False(t, validS256Challenge(strings.Repeat("=", 43)))
}
