package oauth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultContinuationTTL bounds how long a rendered login form stays usable.
	DefaultContinuationTTL = 10 * time.Minute
	continuationAudience   = "oauth2-login"
)

// Continuation is the authorization request state carried through the login form.
type Continuation struct {
	ClientID      string
	RedirectURI   string
	State         string
	CodeChallenge string
}

type continuationClaims struct {
	ClientID      string `json:"cid"`
	RedirectURI   string `json:"redirect_uri"`
	State         string `json:"state,omitempty"`
	CodeChallenge string `json:"code_challenge,omitempty"`
	jwt.RegisteredClaims
}

// ContinuationSigner signs and verifies login continuations as HS256 JWTs so
// the login endpoint never trusts hidden form fields it did not issue.
type ContinuationSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewContinuationSigner returns a signer keyed with secret. An empty secret
// is replaced with 32 random bytes, which only works for a single instance.
func NewContinuationSigner(secret []byte, issuer string, ttl time.Duration) (*ContinuationSigner, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate continuation secret: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = DefaultContinuationTTL
	}
	return &ContinuationSigner{
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Sign encodes c into a signed token.
func (s *ContinuationSigner) Sign(c Continuation) (string, error) {
	now := s.now()
	claims := continuationClaims{
		ClientID:      c.ClientID,
		RedirectURI:   c.RedirectURI,
		State:         c.State,
		CodeChallenge: c.CodeChallenge,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{continuationAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign continuation: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of token and returns its contents.
// Any failure is reported as ErrInvalidContinuation.
func (s *ContinuationSigner) Verify(token string) (Continuation, error) {
	if token == "" {
		return Continuation{}, continuationError("missing login continuation")
	}

	var claims continuationClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(continuationAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Continuation{}, continuationError("login session expired, please start again")
		}
		return Continuation{}, continuationError("login continuation is invalid")
	}

	return Continuation{
		ClientID:      claims.ClientID,
		RedirectURI:   claims.RedirectURI,
		State:         claims.State,
		CodeChallenge: claims.CodeChallenge,
	}, nil
}

func continuationError(description string) *Error {
	return newError(ErrInvalidContinuation, CodeInvalidRequest, http.StatusBadRequest, description)
}
