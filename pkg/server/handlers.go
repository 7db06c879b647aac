package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-training/workspace-mcp/pkg/core"
	"github.com/go-training/workspace-mcp/pkg/oauth"
	"github.com/go-training/workspace-mcp/pkg/operation/health"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/client/transport"
)

// ProtectedResourcePath is the RFC 9728 metadata location.
const ProtectedResourcePath = "/.well-known/oauth-protected-resource"

type handlers struct {
	bridge  *oauth.Bridge
	metrics *oauth.Metrics
}

func (h *handlers) discovery(c *gin.Context) {
	c.JSON(http.StatusOK, h.bridge.Metadata())
}

func (h *handlers) protectedResource(c *gin.Context) {
	issuer := h.bridge.Config().Issuer
	c.JSON(http.StatusOK, &transport.OAuthProtectedResource{
		AuthorizationServers: []string{issuer},
		Resource:             issuer + MCPPath,
		ResourceName:         health.ServiceName,
	})
}

func (h *handlers) register(c *gin.Context) {
	var req oauth.RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.ObserveRegistration(oauth.ErrInvalidClientMetadata)
		c.JSON(http.StatusBadRequest, &oauth.Error{
			Code:        oauth.CodeInvalidClientMetadata,
			Description: "request body must be a JSON client metadata document",
			Status:      http.StatusBadRequest,
		})
		return
	}

	client, err := h.bridge.Registry().Register(c.Request.Context(), req)
	h.metrics.ObserveRegistration(err)
	if err != nil {
		writeOAuthError(c, err)
		return
	}

	core.LoggerFromCtx(c.Request.Context()).Info("client registered",
		"client_id", client.ID,
		"client_name", client.Name,
		"token_endpoint_auth_method", client.TokenAuthMethod,
	)
	c.JSON(http.StatusCreated, client.Response())
}

func (h *handlers) authorize(c *gin.Context) {
	form, err := h.bridge.Authorize(c.Request.Context(), oauth.AuthorizeRequest{
		ResponseType:        c.Query("response_type"),
		ClientID:            c.Query("client_id"),
		RedirectURI:         c.Query("redirect_uri"),
		State:               c.Query("state"),
		Scope:               c.Query("scope"),
		CodeChallenge:       c.Query("code_challenge"),
		CodeChallengeMethod: c.Query("code_challenge_method"),
	})
	if err != nil {
		writeOAuthError(c, err)
		return
	}
	renderLogin(c, http.StatusOK, form)
}

func (h *handlers) login(c *gin.Context) {
	ctx := c.Request.Context()
	req := oauth.LoginRequest{
		Username:     strings.TrimSpace(c.PostForm("username")),
		Password:     c.PostForm("password"),
		Continuation: c.PostForm("continuation"),
	}

	redirect, err := h.bridge.Login(ctx, req)
	if err == nil {
		c.Redirect(http.StatusFound, redirect.String())
		return
	}

	// Credential and upstream failures keep the user on the form.
	status := 0
	switch {
	case errors.Is(err, oauth.ErrInvalidCredentials):
		status = http.StatusOK
	case errors.Is(err, oauth.ErrUpstreamUnavailable):
		status = http.StatusBadGateway
	}
	if status == 0 {
		writeOAuthError(c, err)
		return
	}

	form, ferr := h.bridge.ResumeForm(ctx, req.Continuation, req.Username, oauth.AsError(err).Description)
	if ferr != nil {
		writeOAuthError(c, ferr)
		return
	}
	renderLogin(c, status, form)
}

func (h *handlers) token(c *gin.Context) {
	resp, err := h.bridge.Token(c.Request.Context(), oauth.TokenRequest{
		GrantType:    c.PostForm("grant_type"),
		Code:         c.PostForm("code"),
		RedirectURI:  c.PostForm("redirect_uri"),
		ClientID:     c.PostForm("client_id"),
		ClientSecret: c.PostForm("client_secret"),
		CodeVerifier: c.PostForm("code_verifier"),
	})
	if err != nil {
		writeOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func healthz(c *gin.Context) {
	c.JSON(http.StatusOK, health.Status{Status: "healthy", Service: health.ServiceName})
}

func renderLogin(c *gin.Context, status int, form *oauth.LoginForm) {
	c.Header("Cache-Control", "no-store")
	c.Header("X-Frame-Options", "DENY")
	c.Header("Content-Security-Policy", loginCSP(form.RedirectURI))
	c.HTML(status, loginTemplateName, newLoginView(form))
}

// loginCSP returns the policy for the login page. form-action also governs
// the redirect that follows the POST, so the callback origin must be allowed.
func loginCSP(redirectURI string) string {
	const base = "default-src 'none'; style-src 'unsafe-inline'"
	source := callbackSource(redirectURI)
	if source == "" {
		return base
	}
	return base + "; form-action 'self' " + source
}

func callbackSource(redirectURI string) string {
	u, err := url.Parse(redirectURI)
	if err != nil || u.Scheme == "" {
		return ""
	}
	source := u.Scheme + ":"
	if u.Host != "" {
		source = u.Scheme + "://" + u.Host
	}
	if strings.ContainsAny(source, " ;,'\"\t\r\n") {
		return ""
	}
	return source
}
