package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/templui/tracker/internal/config"
	"github.com/templui/tracker/internal/ctxkeys"
	"github.com/templui/tracker/internal/model"
	"github.com/templui/tracker/internal/service"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

const (
	oauthStateCookie = "oauth_state"
	oauthTimeout     = 15 * time.Second

	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	githubUserURL     = "https://api.github.com/user"
	githubEmailsURL   = "https://api.github.com/user/emails"

	// Browser navigation ends here after a federated sign-in.
	signedInPath = "/app/session"
)

type authHandler struct {
	authService       *service.AuthService
	googleOAuthConfig *oauth2.Config
	githubOAuthConfig *oauth2.Config
}

func NewAuthHandler(authService *service.AuthService, cfg *config.Config) *authHandler {
	return &authHandler{
		authService: authService,
		googleOAuthConfig: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.AppURL + "/auth/google/callback",
			Scopes:       []string{"https://www.googleapis.com/auth/userinfo.email", "https://www.googleapis.com/auth/userinfo.profile"},
			Endpoint:     google.Endpoint,
		},
		githubOAuthConfig: &oauth2.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.AppURL + "/auth/github/callback",
			Scopes:       []string{"user:email"},
			Endpoint:     github.Endpoint,
		},
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type signedIn struct {
	Principal *model.Principal `json:"principal"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

func (h *authHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if !decodeJSON(w, r, &in) {
		return
	}

	principal, err := h.authService.SignUp(r.Context(), ctxkeys.ContextID(r.Context()), in.Email, in.Password, in.Name)
	if err != nil {
		slog.Warn("sign up failed", "error", err, "email", in.Email)
		writeError(w, r, err)
		return
	}
	h.issue(w, r, principal, http.StatusCreated)
}

func (h *authHandler) PasswordSignIn(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if !decodeJSON(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		badRequest(w, "Email and password are required")
		return
	}

	principal, err := h.authService.SignInWithCredentials(r.Context(), ctxkeys.ContextID(r.Context()), in.Email, in.Password)
	if err != nil {
		slog.Warn("password sign in failed", "error", err, "email", in.Email)
		writeError(w, r, err)
		return
	}
	h.issue(w, r, principal, http.StatusOK)
}

func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authService.SignOut(r.Context(), ctxkeys.ContextID(r.Context())); err != nil {
		slog.Error("sign out failed", "error", err, "context_id", ctxkeys.ContextID(r.Context()))
	}
	h.authService.ClearJWTCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *authHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if !decodeJSON(w, r, &in) {
		return
	}

	err := h.authService.SendPasswordReset(r.Context(), in.Email)
	if code, ok := service.CodeOf(err); ok && code == service.CodeInvalidEmail {
		writeError(w, r, err)
		return
	}
	if err != nil {
		// Don't reveal specific errors to user
		slog.Warn("password reset send failed", "error", err, "email", in.Email)
	}

	// Always accept to prevent email enumeration
	w.WriteHeader(http.StatusAccepted)
}

func (h *authHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if !decodeJSON(w, r, &in) {
		return
	}

	if err := h.authService.ResetPassword(r.Context(), r.PathValue("token"), in.Password); err != nil {
		slog.Warn("password reset failed", "error", err)
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *authHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Current string `json:"currentPassword"`
		Next    string `json:"newPassword"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}

	if err := h.authService.ChangePassword(r.Context(), ctxkeys.ContextID(r.Context()), in.Current, in.Next); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GoogleAuth redirects to the Google consent screen.
func (h *authHandler) GoogleAuth(w http.ResponseWriter, r *http.Request) {
	h.startOAuth(w, r, model.ProviderGoogle, h.googleOAuthConfig)
}

func (h *authHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	h.finishOAuth(w, r, model.ProviderGoogle, h.googleOAuthConfig, googleIdentity)
}

// GitHubAuth redirects to the GitHub consent screen.
func (h *authHandler) GitHubAuth(w http.ResponseWriter, r *http.Request) {
	h.startOAuth(w, r, model.ProviderGitHub, h.githubOAuthConfig)
}

func (h *authHandler) GitHubCallback(w http.ResponseWriter, r *http.Request) {
	h.finishOAuth(w, r, model.ProviderGitHub, h.githubOAuthConfig, githubIdentity)
}

func (h *authHandler) startOAuth(w http.ResponseWriter, r *http.Request, provider string, oc *oauth2.Config) {
	if !h.authService.ProviderEnabled(provider) {
		writeError(w, r, &service.AuthError{Code: service.CodeMethodDisabled})
		return
	}
	if err := h.authService.AuthorizeHost(r.Host); err != nil {
		slog.Warn("federated sign in from unauthorized host", "host", r.Host, "provider", provider)
		writeError(w, r, err)
		return
	}

	// Generate secure state token for CSRF protection
	state := generateOAuthState()

	cfg := ctxkeys.Config(r.Context())
	isProduction := cfg != nil && cfg.IsProduction()

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   isProduction,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600, // 10 minutes
	})

	http.Redirect(w, r, oc.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

type identityFetcher func(ctx context.Context, client *http.Client) (service.FederatedIdentity, error)

func (h *authHandler) finishOAuth(w http.ResponseWriter, r *http.Request, provider string, oc *oauth2.Config, fetch identityFetcher) {
	q := r.URL.Query()

	// Validate state parameter for CSRF protection
	state := q.Get("state")
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || cookie.Value != state {
		slog.Warn("oauth state validation failed", "error", err, "provider", provider)
		oauthFailed(w, r, service.CodeNetworkFailure)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:   oauthStateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	// The user closed or declined the consent screen.
	if q.Get("error") == "access_denied" {
		oauthFailed(w, r, service.CodePopupCancelled)
		return
	}
	if err := h.authService.AuthorizeHost(r.Host); err != nil {
		oauthFailed(w, r, service.CodeDomainUnauthorized)
		return
	}

	code := q.Get("code")
	if code == "" {
		slog.Warn("oauth callback missing code", "provider", provider)
		oauthFailed(w, r, service.CodeNetworkFailure)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), oauthTimeout)
	defer cancel()

	token, err := oc.Exchange(ctx, code)
	if err != nil {
		slog.Error("oauth token exchange failed", "error", err, "provider", provider)
		oauthFailed(w, r, service.CodeNetworkFailure)
		return
	}

	identity, err := fetch(ctx, oc.Client(ctx, token))
	if err != nil {
		slog.Error("failed to get federated identity", "error", err, "provider", provider)
		oauthFailed(w, r, service.CodeNetworkFailure)
		return
	}
	identity.Provider = provider

	principal, err := h.authService.SignInWithFederatedProvider(r.Context(), ctxkeys.ContextID(r.Context()), identity)
	if err != nil {
		slog.Error("federated sign in failed", "error", err, "email", identity.Email, "provider", provider)
		code, ok := service.CodeOf(err)
		if !ok {
			code = service.CodeNetworkFailure
		}
		oauthFailed(w, r, code)
		return
	}

	if _, err := h.setCookie(w, r, principal); err != nil {
		oauthFailed(w, r, service.CodeNetworkFailure)
		return
	}
	http.Redirect(w, r, signedInPath, http.StatusSeeOther)
}

func (h *authHandler) issue(w http.ResponseWriter, r *http.Request, principal *model.Principal, status int) {
	expiry, err := h.setCookie(w, r, principal)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, signedIn{Principal: principal, ExpiresAt: expiry})
}

func (h *authHandler) setCookie(w http.ResponseWriter, r *http.Request, principal *model.Principal) (time.Time, error) {
	token, expiry, err := h.authService.GenerateJWT(principal, ctxkeys.ContextID(r.Context()))
	if err != nil {
		slog.Error("failed to generate JWT", "error", err, "principal_id", principal.ID)
		return time.Time{}, err
	}
	h.authService.SetJWTCookie(w, token, expiry)
	return expiry, nil
}

// oauthFailed sends the browser home with the reason attached.
func oauthFailed(w http.ResponseWriter, r *http.Request, code service.AuthCode) {
	http.Redirect(w, r, "/?auth_error="+url.QueryEscape(string(code)), http.StatusSeeOther)
}

func googleIdentity(ctx context.Context, client *http.Client) (service.FederatedIdentity, error) {
	var info struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := getJSON(ctx, client, googleUserInfoURL, &info); err != nil {
		return service.FederatedIdentity{}, err
	}
	return service.FederatedIdentity{Email: info.Email, Name: info.Name, PhotoURL: info.Picture}, nil
}

func githubIdentity(ctx context.Context, client *http.Client) (service.FederatedIdentity, error) {
	var info struct {
		Email     string `json:"email"`
		Name      string `json:"name"`
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := getJSON(ctx, client, githubUserURL, &info); err != nil {
		return service.FederatedIdentity{}, err
	}

	// GitHub leaves email empty when it is private; ask the emails endpoint.
	if info.Email == "" {
		var emails []struct {
			Email   string `json:"email"`
			Primary bool   `json:"primary"`
		}
		if err := getJSON(ctx, client, githubEmailsURL, &emails); err != nil {
			return service.FederatedIdentity{}, err
		}
		for _, e := range emails {
			if e.Primary {
				info.Email = e.Email
				break
			}
		}
	}
	if info.Email == "" {
		return service.FederatedIdentity{}, errors.New("no email on github account")
	}

	name := info.Name
	if name == "" {
		name = info.Login
	}
	return service.FederatedIdentity{Email: info.Email, Name: name, PhotoURL: info.AvatarURL}, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Error("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", endpoint, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// generateOAuthState creates cryptographically secure random state token for OAuth CSRF protection
func generateOAuthState() string {
	bytes := make([]byte, 32)
	_, err := rand.Read(bytes)
	if err != nil {
		panic("failed to generate oauth state: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}
