package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/templui/tracker/internal/model"
	"github.com/templui/tracker/internal/repository"
	"github.com/templui/tracker/internal/session"
	"github.com/templui/tracker/internal/validation"
)

const (
	AuthCookieName = "auth_token"

	// recentAuthWindow bounds how old a sign-in may be for sensitive changes.
	recentAuthWindow = 5 * time.Minute

	failedAttemptBurst = 5
	failedAttemptEvery = time.Minute
)

// PrincipalChange is published whenever the principal of a browsing
// context changes. Principal is nil after a sign-out. Restored marks a
// context picked up again from its cookie, for example after a restart.
type PrincipalChange struct {
	ContextID string
	Principal *model.Principal
	Restored  bool
}

// FederatedIdentity is what a federated provider vouched for.
type FederatedIdentity struct {
	Provider string
	Email    string
	Name     string
	PhotoURL string
}

// StampLookup reports the persisted session of a browsing context.
type StampLookup interface {
	Load(ctx context.Context, contextID string) (*model.SessionStamps, error)
}

type Mailer interface {
	SendPasswordResetEmail(ctx context.Context, email, token, name string) error
	SendWelcomeEmail(ctx context.Context, email, name string) error
}

type AuthOptions struct {
	JWTSecret           string
	JWTExpiry           time.Duration
	PasswordResetExpiry time.Duration
	IsProduction        bool
	// Providers lists the enabled federated providers.
	Providers []string
	// AllowedHosts restricts the hosts federated sign-in may start from.
	// Empty allows every host.
	AllowedHosts []string
}

type AuthService struct {
	principals repository.PrincipalRepository
	tokens     repository.TokenRepository
	stamps     StampLookup
	mailer     Mailer
	clock      clockwork.Clock
	opts       AuthOptions

	mu       sync.Mutex
	contexts map[string]*model.Principal
	attempts map[string]*rate.Limiter

	listenersMu  sync.Mutex
	listeners    map[uint64]func(PrincipalChange)
	nextListener uint64
}

func NewAuthService(
	principals repository.PrincipalRepository,
	tokens repository.TokenRepository,
	stamps StampLookup,
	mailer Mailer,
	clock clockwork.Clock,
	opts AuthOptions,
) *AuthService {
	return &AuthService{
		principals: principals,
		tokens:     tokens,
		stamps:     stamps,
		mailer:     mailer,
		clock:      clock,
		opts:       opts,
		contexts:   make(map[string]*model.Principal),
		attempts:   make(map[string]*rate.Limiter),
		listeners:  make(map[uint64]func(PrincipalChange)),
	}
}

// SignInWithCredentials authenticates email and password for contextID.
func (s *AuthService) SignInWithCredentials(ctx context.Context, contextID, email, password string) (*model.Principal, error) {
	email = normalizeEmail(email)
	if validation.ValidateEmail(email) != nil {
		return nil, authErr(CodeInvalidEmail, nil)
	}

	limiter := s.limiter(email)
	if limiter.TokensAt(s.clock.Now()) < 1 {
		return nil, authErr(CodeRateLimited, nil)
	}

	principal, err := s.principals.ByEmail(email)
	if errors.Is(err, repository.ErrPrincipalNotFound) {
		limiter.AllowN(s.clock.Now(), 1)
		return nil, authErr(CodeNotFound, err)
	}
	if err != nil {
		return nil, authErr(CodeNetworkFailure, fmt.Errorf("failed to get principal: %w", err))
	}

	if !principal.HasPassword() {
		return nil, authErr(CodeMethodDisabled, errors.New("account has no password"))
	}
	if err := s.ComparePassword(password, *principal.PasswordHash); err != nil {
		limiter.AllowN(s.clock.Now(), 1)
		return nil, authErr(CodeWrongCredential, err)
	}
	if principal.IsDisabled() {
		return nil, authErr(CodeDisabledAccount, nil)
	}

	return s.signIn(ctx, contextID, principal)
}

// SignUp creates a password account and signs it in.
func (s *AuthService) SignUp(ctx context.Context, contextID, email, password, name string) (*model.Principal, error) {
	email = normalizeEmail(email)
	if validation.ValidateEmail(email) != nil {
		return nil, authErr(CodeInvalidEmail, nil)
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, authErr(CodeWeakCredential, err)
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	principal := &model.Principal{
		ID:           uuid.New().String(),
		Email:        email,
		DisplayName:  strings.TrimSpace(name),
		PasswordHash: &hash,
		Provider:     model.ProviderPassword,
		CreatedAt:    s.clock.Now().UTC(),
	}
	err = s.principals.Create(principal)
	if errors.Is(err, repository.ErrDuplicateEmail) {
		return nil, authErr(CodeAlreadyExists, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create principal: %w", err)
	}
	slog.Info("principal created", "principal_id", principal.ID, "provider", principal.Provider)

	if err := s.mailer.SendWelcomeEmail(ctx, principal.Email, principal.Name()); err != nil {
		slog.Warn("failed to send welcome email", "error", err, "principal_id", principal.ID)
	}

	return s.signIn(ctx, contextID, principal)
}

// SignInWithFederatedProvider signs in the identity a provider vouched
// for, creating the principal on first use.
func (s *AuthService) SignInWithFederatedProvider(ctx context.Context, contextID string, identity FederatedIdentity) (*model.Principal, error) {
	if !s.ProviderEnabled(identity.Provider) {
		return nil, authErr(CodeMethodDisabled, fmt.Errorf("provider %q", identity.Provider))
	}

	email := normalizeEmail(identity.Email)
	if validation.ValidateEmail(email) != nil {
		return nil, authErr(CodeInvalidEmail, nil)
	}

	now := s.clock.Now().UTC()
	principal, err := s.principals.ByEmail(email)
	switch {
	case errors.Is(err, repository.ErrPrincipalNotFound):
		principal = &model.Principal{
			ID:              uuid.New().String(),
			Email:           email,
			DisplayName:     strings.TrimSpace(identity.Name),
			Provider:        identity.Provider,
			EmailVerifiedAt: &now,
			CreatedAt:       now,
		}
		if identity.PhotoURL != "" {
			principal.PhotoURL = &identity.PhotoURL
		}
		if err := s.principals.Create(principal); err != nil {
			return nil, fmt.Errorf("failed to create principal: %w", err)
		}
		slog.Info("principal created", "principal_id", principal.ID, "provider", identity.Provider)
	case err != nil:
		return nil, authErr(CodeNetworkFailure, fmt.Errorf("failed to lookup principal: %w", err))
	default:
		if principal.IsDisabled() {
			return nil, authErr(CodeDisabledAccount, nil)
		}
		if principal.EmailVerifiedAt == nil {
			principal.EmailVerifiedAt = &now
			if err := s.principals.Update(principal); err != nil {
				slog.Warn("failed to mark email as verified", "error", err, "principal_id", principal.ID)
			}
		}
	}

	return s.signIn(ctx, contextID, principal)
}

// SignOut ends the principal's authentication in contextID. Signing out a
// context that is not signed in is not an error.
func (s *AuthService) SignOut(_ context.Context, contextID string) error {
	s.mu.Lock()
	principal, ok := s.contexts[contextID]
	delete(s.contexts, contextID)
	s.mu.Unlock()

	if ok {
		s.signedOut(contextID, principal.ID)
	}
	return nil
}

// SignOutPrincipal signs principalID out of contextID. A context that has
// since been signed in to by someone else is left as is and
// session.ErrSuperseded is returned; session expiry relies on this so a
// late teardown never ends a newer sign-in.
func (s *AuthService) SignOutPrincipal(_ context.Context, contextID, principalID string) error {
	s.mu.Lock()
	current, ok := s.contexts[contextID]
	if ok && current.ID != principalID {
		s.mu.Unlock()
		return session.ErrSuperseded
	}
	delete(s.contexts, contextID)
	s.mu.Unlock()

	if ok {
		s.signedOut(contextID, principalID)
	}
	return nil
}

func (s *AuthService) signedOut(contextID, principalID string) {
	slog.Info("principal signed out", "principal_id", principalID, "context_id", contextID)
	s.emit(PrincipalChange{ContextID: contextID})
}

// CurrentPrincipal returns the principal signed in to contextID, or nil.
func (s *AuthService) CurrentPrincipal(_ context.Context, contextID string) *model.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contexts[contextID]
}

// Restore re-attaches a principal proven by a cookie to its context. The
// persisted session must still exist; once it has been cleared by expiry
// or sign-out the cookie is no longer honoured.
func (s *AuthService) Restore(ctx context.Context, contextID, principalID string) (*model.Principal, error) {
	s.mu.Lock()
	current := s.contexts[contextID]
	s.mu.Unlock()
	if current != nil && current.ID == principalID {
		return current, nil
	}

	stamps, err := s.stamps.Load(ctx, contextID)
	if errors.Is(err, session.ErrNoStamps) || (err == nil && stamps.PrincipalID != principalID) {
		return nil, authErr(CodeUnauthenticated, errors.New("no live session for context"))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	principal, err := s.principals.ByID(principalID)
	if err != nil {
		return nil, authErr(CodeNotFound, err)
	}
	if principal.IsDisabled() {
		return nil, authErr(CodeDisabledAccount, nil)
	}
	principal.PasswordHash = nil

	s.mu.Lock()
	s.contexts[contextID] = principal
	s.mu.Unlock()

	s.emit(PrincipalChange{ContextID: contextID, Principal: principal, Restored: true})
	return principal, nil
}

// OnPrincipalChanged registers fn for principal changes. The returned
// function unsubscribes and may be called more than once.
func (s *AuthService) OnPrincipalChanged(fn func(PrincipalChange)) func() {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

// SendPasswordReset mails a reset link. Unknown addresses succeed silently
// so the endpoint cannot be used to discover accounts.
func (s *AuthService) SendPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if validation.ValidateEmail(email) != nil {
		return authErr(CodeInvalidEmail, nil)
	}

	principal, err := s.principals.ByEmail(email)
	if err != nil {
		slog.Info("password reset requested for unknown email", "email", email)
		return nil
	}
	if !principal.HasPassword() {
		slog.Info("password reset requested for federated account", "principal_id", principal.ID)
		return nil
	}

	resetToken, err := s.GenerateToken()
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	now := s.clock.Now()
	err = s.tokens.Issue(ctx, &model.Token{
		PrincipalID: principal.ID,
		Type:        model.TokenTypePasswordReset,
		Token:       resetToken,
		ExpiresAt:   now.Add(s.opts.PasswordResetExpiry),
		CreatedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("failed to issue reset token: %w", err)
	}

	if err := s.mailer.SendPasswordResetEmail(ctx, principal.Email, resetToken, principal.Name()); err != nil {
		return authErr(CodeNetworkFailure, fmt.Errorf("failed to send email: %w", err))
	}
	slog.Info("password reset link sent", "principal_id", principal.ID)
	return nil
}

// ResetPassword redeems a reset token and sets a new password.
func (s *AuthService) ResetPassword(ctx context.Context, token, password string) error {
	if err := validation.ValidatePassword(password); err != nil {
		return authErr(CodeWeakCredential, err)
	}

	tok, err := s.tokens.Consume(ctx, token, model.TokenTypePasswordReset, s.clock.Now())
	if err != nil {
		return authErr(CodeNotFound, fmt.Errorf("invalid or expired reset link: %w", err))
	}

	principal, err := s.principals.ByID(tok.PrincipalID)
	if err != nil {
		return authErr(CodeNotFound, err)
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	principal.PasswordHash = &hash
	if principal.EmailVerifiedAt == nil {
		now := s.clock.Now().UTC()
		principal.EmailVerifiedAt = &now
	}
	if err := s.principals.Update(principal); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	slog.Info("password reset", "principal_id", principal.ID)
	return nil
}

// ChangePassword replaces the password of the principal signed in to
// contextID. The sign-in must be recent.
func (s *AuthService) ChangePassword(ctx context.Context, contextID, current, next string) error {
	signedIn := s.CurrentPrincipal(ctx, contextID)
	if signedIn == nil {
		return authErr(CodeUnauthenticated, errors.New("not signed in"))
	}

	principal, err := s.principals.ByID(signedIn.ID)
	if err != nil {
		return authErr(CodeNotFound, err)
	}
	if principal.LastLoginAt == nil || s.clock.Since(*principal.LastLoginAt) > recentAuthWindow {
		return authErr(CodeRequiresRecentAuth, nil)
	}
	if !principal.HasPassword() {
		return authErr(CodeMethodDisabled, errors.New("account has no password"))
	}
	if err := s.ComparePassword(current, *principal.PasswordHash); err != nil {
		return authErr(CodeWrongCredential, err)
	}
	if err := validation.ValidatePassword(next); err != nil {
		return authErr(CodeWeakCredential, err)
	}

	hash, err := s.HashPassword(next)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	principal.PasswordHash = &hash
	if err := s.principals.Update(principal); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	slog.Info("password changed", "principal_id", principal.ID)
	return nil
}

// ProviderEnabled reports whether federated sign-in via provider is on.
func (s *AuthService) ProviderEnabled(provider string) bool {
	return slices.Contains(s.opts.Providers, provider)
}

// AuthorizeHost rejects federated sign-in started from a host that is not
// on the allow list.
func (s *AuthService) AuthorizeHost(host string) error {
	if len(s.opts.AllowedHosts) == 0 {
		return nil
	}
	host = strings.ToLower(host)
	if i := strings.LastIndex(host, ":"); i != -1 {
		host = host[:i]
	}
	if slices.Contains(s.opts.AllowedHosts, host) {
		return nil
	}
	return authErr(CodeDomainUnauthorized, fmt.Errorf("host %q", host))
}

func (s *AuthService) HashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

func (s *AuthService) ComparePassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func (s *AuthService) GenerateToken() (string, error) {
	bytes := make([]byte, 32)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// GenerateJWT issues the cookie token binding a principal to one browsing
// context.
func (s *AuthService) GenerateJWT(principal *model.Principal, contextID string) (string, time.Time, error) {
	now := s.clock.Now()
	expiry := now.Add(s.opts.JWTExpiry)
	claims := jwt.MapClaims{
		"principal_id": principal.ID,
		"context_id":   contextID,
		"exp":          expiry.Unix(),
		"iat":          now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(s.opts.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiry, nil
}

// VerifyJWT returns the principal and context ids carried by tokenString.
func (s *AuthService) VerifyJWT(tokenString string) (principalID, contextID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.opts.JWTSecret), nil
	}, jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		return "", "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", errors.New("invalid token")
	}

	principalID, _ = claims["principal_id"].(string)
	contextID, _ = claims["context_id"].(string)
	if principalID == "" || contextID == "" {
		return "", "", errors.New("token is missing principal or context")
	}
	return principalID, contextID, nil
}

func (s *AuthService) SetJWTCookie(w http.ResponseWriter, token string, expiry time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    token,
		Expires:  expiry,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.IsProduction,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *AuthService) ClearJWTCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    "",
		Expires:  time.Unix(0, 0),
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.IsProduction,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *AuthService) signIn(_ context.Context, contextID string, principal *model.Principal) (*model.Principal, error) {
	now := s.clock.Now().UTC()
	if err := s.principals.TouchLastLogin(principal.ID, now); err != nil {
		slog.Warn("failed to record last login", "error", err, "principal_id", principal.ID)
	}
	principal.LastLoginAt = &now
	principal.PasswordHash = nil

	s.mu.Lock()
	s.contexts[contextID] = principal
	delete(s.attempts, principal.Email)
	s.mu.Unlock()

	slog.Info("principal signed in", "principal_id", principal.ID, "context_id", contextID, "provider", principal.Provider)
	s.emit(PrincipalChange{ContextID: contextID, Principal: principal})
	return principal, nil
}

func (s *AuthService) limiter(email string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.attempts[email]
	if !ok {
		l = rate.NewLimiter(rate.Every(failedAttemptEvery), failedAttemptBurst)
		s.attempts[email] = l
	}
	return l
}

func (s *AuthService) emit(change PrincipalChange) {
	s.listenersMu.Lock()
	fns := make([]func(PrincipalChange), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
