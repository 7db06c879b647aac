package oauth

import (
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// RFC 7636 §4.1 verifier length bounds. An S256 challenge is always 43 characters.
const (
	minVerifierLength   = 43
	maxVerifierLength   = 128
	s256ChallengeLength = 43
)

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

// validVerifier reports whether v is a syntactically valid code_verifier.
func validVerifier(v string) bool {
	if len(v) < minVerifierLength || len(v) > maxVerifierLength {
		return false
	}
	for i := 0; i < len(v); i++ {
		if !isUnreserved(v[i]) {
			return false
		}
	}
	return true
}

// validS256Challenge reports whether c looks like BASE64URL(SHA256(verifier)).
func validS256Challenge(c string) bool {
	if len(c) != s256ChallengeLength {
		return false
	}
	for i := 0; i < len(c); i++ {
		ch := c[i]
		if !((ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') || ch == '-' || ch == '_') {
			return false
		}
	}
	return true
}

// VerifyS256 reports whether BASE64URL(SHA256(verifier)) equals challenge.
func VerifyS256(verifier, challenge string) bool {
	if !validVerifier(verifier) || challenge == "" {
		return false
	}
	computed := oauth2.S256ChallengeFromVerifier(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
