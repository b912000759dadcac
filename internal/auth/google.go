package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/xu-registrar/doctrack/internal/audit"
)

const (
	// DefaultOAuthTimeout bounds every call to Google.
	DefaultOAuthTimeout = 10 * time.Second

	googleRevokeURL = "https://oauth2.googleapis.com/revoke"
	stateIssuer     = "doctrack"
	stateSubject    = "oauth_state"
	stateTTL        = 10 * time.Minute
	minCodeLength   = 10
)

// Exchanger trades an authorization code for tokens.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// Verifier resolves an access token into a verified identity.
type Verifier interface {
	Verify(ctx context.Context, accessToken string) (GoogleIdentity, error)
}

// Revoker invalidates a Google token.
type Revoker interface {
	Revoke(ctx context.Context, token string) error
}

// GoogleConfig configures the OAuth flow.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// StateSecret signs the CSRF state parameter.
	StateSecret string
	Timeout     time.Duration
	HTTPClient  *http.Client

	// Optional overrides; defaults talk to Google.
	Exchanger Exchanger
	Verifier  Verifier
	Revoker   Revoker
	Clock     func() time.Time
}

// GoogleService runs the Google sign-in flow on top of Service.
type GoogleService struct {
	core      *Service
	oauth     *oauth2.Config
	secret    []byte
	timeout   time.Duration
	exchanger Exchanger
	verifier  Verifier
	revoker   Revoker
	clock     func() time.Time
	logger    *slog.Logger
}

// NewGoogleService constructs the OAuth flow.
func NewGoogleService(core *Service, cfg GoogleConfig) *GoogleService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOAuthTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     endpoints.Google,
		Scopes:       []string{"openid", "email", "profile"},
	}
	g := &GoogleService{
		core:      core,
		oauth:     oauthCfg,
		secret:    []byte(cfg.StateSecret),
		timeout:   cfg.Timeout,
		exchanger: cfg.Exchanger,
		verifier:  cfg.Verifier,
		revoker:   cfg.Revoker,
		clock:     cfg.Clock,
		logger:    core.logger.With(slog.String("component", "google_oauth")),
	}
	if g.exchanger == nil {
		g.exchanger = &codeExchanger{config: oauthCfg, client: cfg.HTTPClient}
	}
	if g.verifier == nil {
		g.verifier = NewGoogleVerifier(cfg.HTTPClient)
	}
	if g.revoker == nil {
		g.revoker = &httpRevoker{client: cfg.HTTPClient, endpoint: googleRevokeURL}
	}
	return g
}

// NewState returns a signed, expiring CSRF state value.
func (g *GoogleService) NewState() (string, error) {
	now := g.clock()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    stateIssuer,
		Subject:   stateSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign oauth state: %w", err)
	}
	return signed, nil
}

// VerifyState checks the signature and expiry of a state value.
func (g *GoogleService) VerifyState(state string) error {
	_, err := jwt.ParseWithClaims(state, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithSubject(stateSubject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.clock),
	)
	return err
}

// AuthURL returns the Google consent URL. An empty state gets a fresh signed one.
func (g *GoogleService) AuthURL(state string) (string, string, error) {
	if state == "" {
		var err error
		if state, err = g.NewState(); err != nil {
			return "", "", err
		}
	}
	domains := g.core.registry.Domains()
	hints := make([]string, 0, len(domains))
	for _, d := range domains {
		hints = append(hints, strings.TrimPrefix(d, "@"))
	}
	authURL := g.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
		oauth2.SetAuthURLParam("hd", strings.Join(hints, ",")),
	)
	return authURL, state, nil
}

// HandleCallback completes the authorization-code flow and issues a session.
func (g *GoogleService) HandleCallback(ctx context.Context, code, state string) (*LoginResult, error) {
	if len(code) < minCodeLength {
		return nil, ErrInvalidParams.with("Invalid authorization code")
	}
	if state == "" || g.VerifyState(state) != nil {
		g.core.record(ctx, audit.TypeOAuth, "INVALID_STATE", nil)
		return nil, ErrInvalidParams.with("Invalid CSRF state token")
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, g.timeout)
	token, err := g.exchanger.Exchange(exchangeCtx, code)
	cancel()
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) && retrieve.ErrorCode == "invalid_grant" {
			g.core.observe(MethodGoogle, string(CodeInvalidAuthCode))
			return nil, ErrInvalidAuthCode
		}
		g.logger.WarnContext(ctx, "oauth code exchange failed", slog.Any("error", err))
		g.core.observe(MethodGoogle, string(CodeTokenExchangeFailed))
		return nil, ErrTokenExchangeFailed.with(err.Error())
	}
	if token == nil || token.AccessToken == "" {
		g.core.observe(MethodGoogle, string(CodeTokenExchangeFailed))
		return nil, ErrTokenExchangeFailed
	}
	return g.Authenticate(ctx, token.AccessToken)
}

// Authenticate verifies accessToken with Google and issues a session.
func (g *GoogleService) Authenticate(ctx context.Context, accessToken string) (*LoginResult, error) {
	if accessToken == "" {
		return nil, ErrMissingToken
	}
	verifyCtx, cancel := context.WithTimeout(ctx, g.timeout)
	identity, err := g.verifier.Verify(verifyCtx, accessToken)
	cancel()
	if err != nil {
		var authErr *Error
		if errors.As(err, &authErr) {
			g.core.observe(MethodGoogle, string(authErr.Code))
			return nil, authErr
		}
		g.logger.WarnContext(ctx, "google token verification failed", slog.Any("error", err))
		g.core.observe(MethodGoogle, string(CodeVerificationFailed))
		return nil, ErrVerificationFailed.with(err.Error())
	}
	return g.core.AuthenticateWithGoogle(ctx, identity)
}

// GoogleLogoutResult reports the outcome of Logout.
type GoogleLogoutResult struct {
	Message            string `json:"message"`
	SessionID          string `json:"sessionId"`
	GoogleTokenRevoked bool   `json:"googleTokenRevoked"`
}

// Logout revokes the Google token when given, best effort, then ends the local session.
func (g *GoogleService) Logout(ctx context.Context, sessionID, googleToken string) *GoogleLogoutResult {
	revoked := false
	if googleToken != "" {
		revokeCtx, cancel := context.WithTimeout(ctx, g.timeout)
		err := g.revoker.Revoke(revokeCtx, googleToken)
		cancel()
		if err != nil {
			g.logger.WarnContext(ctx, "revoke google token", slog.String("session_id", sessionID), slog.Any("error", err))
		} else {
			revoked = true
		}
	}
	if err := g.core.Logout(ctx, sessionID); err != nil {
		g.logger.DebugContext(ctx, "local logout after google logout", slog.Any("error", err))
	}
	msg := "Session terminated successfully (Google token revocation failed)"
	if revoked {
		msg = "Google OAuth session terminated successfully"
	}
	return &GoogleLogoutResult{Message: msg, SessionID: sessionID, GoogleTokenRevoked: revoked}
}

type codeExchanger struct {
	config *oauth2.Config
	client *http.Client
}

func (e *codeExchanger) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	return e.config.Exchange(ctx, code)
}

// GoogleVerifier checks access tokens against Google's token-info and user-info endpoints.
type GoogleVerifier struct {
	client *http.Client
}

// NewGoogleVerifier constructs a verifier using client for outbound calls.
func NewGoogleVerifier(client *http.Client) *GoogleVerifier {
	if client == nil {
		client = &http.Client{Timeout: DefaultOAuthTimeout}
	}
	return &GoogleVerifier{client: client}
}

// Verify implements Verifier.
func (v *GoogleVerifier) Verify(ctx context.Context, accessToken string) (GoogleIdentity, error) {
	authed := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, v.client),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}),
	)
	svc, err := oauth2api.NewService(ctx, option.WithHTTPClient(authed))
	if err != nil {
		return GoogleIdentity{}, fmt.Errorf("auth: google client: %w", err)
	}
	info, err := svc.Tokeninfo().AccessToken(accessToken).Context(ctx).Do()
	if err != nil {
		return GoogleIdentity{}, ErrInvalidToken.with(err.Error())
	}
	if info.Email == "" || info.Audience == "" {
		return GoogleIdentity{}, ErrInvalidToken
	}
	profile, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return GoogleIdentity{}, fmt.Errorf("auth: google userinfo: %w", err)
	}
	email := profile.Email
	if email == "" {
		email = info.Email
	}
	if !strings.EqualFold(email, info.Email) {
		return GoogleIdentity{}, ErrInvalidToken
	}
	return GoogleIdentity{
		Email:         email,
		EmailVerified: info.VerifiedEmail,
		Audience:      info.Audience,
		Name:          profile.Name,
		Picture:       profile.Picture,
	}, nil
}

type httpRevoker struct {
	client   *http.Client
	endpoint string
}

func (r *httpRevoker) Revoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: revoke returned %d", resp.StatusCode)
	}
	return nil
}

