package oauth

import (
	"strings"

	"github.com/go-training/workspace-mcp/pkg/core"
)

// Endpoint paths served by the bridge, relative to the issuer.
const (
	AuthorizePath = "/oauth2/authorize"
	LoginPath     = "/oauth2/login"
	TokenPath     = "/oauth2/token"
	RegisterPath  = "/oauth2/register"
)

// DefaultScopes are advertised in discovery. Scopes are not negotiated.
var DefaultScopes = []string{"openid", "profile", "workspace"}

// Document is the OpenID Connect discovery / RFC 8414 metadata document.
type Document struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
}

// Metadata builds the discovery document for issuer.
func Metadata(issuer string) Document {
	issuer = strings.TrimRight(issuer, "/")
	return Document{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + AuthorizePath,
		TokenEndpoint:                     issuer + TokenPath,
		RegistrationEndpoint:              issuer + RegisterPath,
		ResponseTypesSupported:            []string{core.ResponseTypeCode},
		GrantTypesSupported:               []string{core.GrantTypeAuthorizationCode},
		TokenEndpointAuthMethodsSupported: []string{core.AuthMethodNone, core.AuthMethodClientSecretPost},
		CodeChallengeMethodsSupported:     []string{core.CodeChallengeMethodS256},
		ScopesSupported:                   DefaultScopes,
		ClaimsSupported:                   []string{"sub", "iss", "name", "email"},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{"RS256"},
	}
}
