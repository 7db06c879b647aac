package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContinuation_RoundTrip(t *testing.T) {
	s, err := NewContinuationSigner([]byte("test-secret"), "https://mcp.example", 0)
	require.NoError(t, err)

	want := Continuation{
		ClientID:      "client-1",
		RedirectURI:   "https://client.example/cb",
		State:         "abc123",
		CodeChallenge: rfcChallenge,
	}
	token, err := s.Sign(want)
	require.NoError(t, err)

	got, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestContinuation_Rejections(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	signer, err := NewContinuationSigner([]byte("test-secret"), "https://mcp.example", 10*time.Minute)
	require.NoError(t, err)
	signer.now = func() time.Time { return now }

	token, err := signer.Sign(Continuation{ClientID: "c", RedirectURI: "https://client.example/cb"})
	require.NoError(t, err)

	other, err := NewContinuationSigner([]byte("other-secret"), "https://mcp.example", 0)
	require.NoError(t, err)
	other.now = signer.now

	otherIssuer, err := NewContinuationSigner([]byte("test-secret"), "https://elsewhere.example", 0)
	require.NoError(t, err)
	otherIssuer.now = signer.now

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidContinuation, "wrong key")

	_, err = otherIssuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidContinuation, "wrong issuer")

	_, err = signer.Verify(token[:len(token)-2] + "xx")
	assert.ErrorIs(t, err, ErrInvalidContinuation, "tampered signature")

	_, err = signer.Verify("")
	assert.ErrorIs(t, err, ErrInvalidContinuation, "empty")

	signer.now = func() time.Time { return now.Add(11 * time.Minute) }
	_, err = signer.Verify(token)
	require.ErrorIs(t, err, ErrInvalidContinuation, "expired")
	assert.Contains(t, AsError(err).Description, "expired")
}

func TestContinuation_RandomSecret(t *testing.T) {
	a, err := NewContinuationSigner(nil, "iss", 0)
	require.NoError(t, err)
	b, err := NewContinuationSigner(nil, "iss", 0)
	require.NoError(t, err)

	token, err := a.Sign(Continuation{ClientID: "c"})
	require.NoError(t, err)

	_, err = a.Verify(token)
	assert.NoError(t, err)
	_, err = b.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidContinuation)
}
