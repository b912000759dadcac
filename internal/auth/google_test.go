package auth

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeExchanger struct {
	token *oauth2.Token
	err   error
	codes []string
}

func (f *fakeExchanger) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	f.codes = append(f.codes, code)
	return f.token, f.err
}

type fakeVerifier struct {
	identities map[string]GoogleIdentity
	block      bool
}

func (f *fakeVerifier) Verify(ctx context.Context, accessToken string) (GoogleIdentity, error) {
	if f.block {
		<-ctx.Done()
		return GoogleIdentity{}, ctx.Err()
	}
	id, ok := f.identities[accessToken]
	if !ok {
		return GoogleIdentity{}, ErrInvalidToken
	}
	return id, nil
}

type fakeRevoker struct {
	err     error
	revoked []string
}

func (f *fakeRevoker) Revoke(_ context.Context, token string) error {
	if f.err != nil {
		return f.err
	}
	f.revoked = append(f.revoked, token)
	return nil
}

type googleFixture struct {
	*fixture
	google    *GoogleService
	exchanger *fakeExchanger
	verifier  *fakeVerifier
	revoker   *fakeRevoker
}

func newGoogleFixture(t *testing.T) *googleFixture {
	t.Helper()
	f := newFixture(t)
	exchanger := &fakeExchanger{token: &oauth2.Token{AccessToken: "ya29.registrar"}}
	verifier := &fakeVerifier{identities: map[string]GoogleIdentity{
		"ya29.registrar": {Email: "registrar@xu.edu.ph", EmailVerified: true, Audience: testClientID, Name: "Reg"},
		"ya29.outsider":  {Email: "someone@gmail.com", EmailVerified: true, Audience: testClientID},
	}}
	revoker := &fakeRevoker{}
	g := NewGoogleService(f.svc, GoogleConfig{
		ClientID:     testClientID,
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:3000/auth/google/callback",
		StateSecret:  "state-signing-key",
		Timeout:      50 * time.Millisecond,
		Exchanger:    exchanger,
		Verifier:     verifier,
		Revoker:      revoker,
		Clock:        f.clock.Now,
	})
	return &googleFixture{fixture: f, google: g, exchanger: exchanger, verifier: verifier, revoker: revoker}
}

func TestAuthURL(t *testing.T) {
	g := newGoogleFixture(t)
	raw, state, err := g.google.AuthURL("")
	require.NoError(t, err)
	require.NotEmpty(t, state)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "accounts.google.com", u.Host)
	q := u.Query()
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, state, q.Get("state"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "my.xu.edu.ph,xu.edu.ph", q.Get("hd"))
	assert.NoError(t, g.google.VerifyState(state))
}

func TestStateExpiresAndResistsTampering(t *testing.T) {
	g := newGoogleFixture(t)
	state, err := g.google.NewState()
	require.NoError(t, err)

	assert.Error(t, g.google.VerifyState(state+"x"))
	assert.Error(t, g.google.VerifyState("csrf_not_a_token_at_all"))

	g.clock.Advance(stateTTL + time.Second)
	assert.Error(t, g.google.VerifyState(state))
}

func TestHandleCallbackSuccess(t *testing.T) {
	g := newGoogleFixture(t)
	state, err := g.google.NewState()
	require.NoError(t, err)

	res, err := g.google.HandleCallback(context.Background(), "4/0AbCdEfGhIjK", state)
	require.NoError(t, err)
	assert.Equal(t, "registrar@xu.edu.ph", res.User.Email)
	assert.Equal(t, "Reg", res.User.Name)
	assert.Equal(t, MethodGoogle, res.LoginMethod)
	assert.Equal(t, []string{"4/0AbCdEfGhIjK"}, g.exchanger.codes)
}

func TestHandleCallbackParamErrors(t *testing.T) {
	g := newGoogleFixture(t)
	state, err := g.google.NewState()
	require.NoError(t, err)

	_, err = g.google.HandleCallback(context.Background(), "short", state)
	var authErr *Error
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, CodeInvalidParams, authErr.Code)
	assert.Equal(t, "Invalid authorization code", authErr.Detail)

	_, err = g.google.HandleCallback(context.Background(), "4/0AbCdEfGhIjK", "forged")
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "Invalid CSRF state token", authErr.Detail)
	assert.Empty(t, g.exchanger.codes)
}

func TestHandleCallbackExchangeFailures(t *testing.T) {
	g := newGoogleFixture(t)
	state, err := g.google.NewState()
	require.NoError(t, err)

	g.exchanger.token, g.exchanger.err = nil, &oauth2.RetrieveError{ErrorCode: "invalid_grant"}
	_, err = g.google.HandleCallback(context.Background(), "4/0AbCdEfGhIjK", state)
	assert.ErrorIs(t, err, ErrInvalidAuthCode)

	g.exchanger.err = errors.New("connection reset")
	_, err = g.google.HandleCallback(context.Background(), "4/0AbCdEfGhIjK", state)
	require.ErrorIs(t, err, ErrTokenExchangeFailed)
	var authErr *Error
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "connection reset", authErr.Detail)

	g.exchanger.err = nil
	g.exchanger.token = &oauth2.Token{}
	_, err = g.google.HandleCallback(context.Background(), "4/0AbCdEfGhIjK", state)
	assert.ErrorIs(t, err, ErrTokenExchangeFailed)
}

func TestAuthenticateVerification(t *testing.T) {
	g := newGoogleFixture(t)
	ctx := context.Background()

	_, err := g.google.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = g.google.Authenticate(ctx, "invalid_token_12345")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = g.google.Authenticate(ctx, "ya29.outsider")
	assert.ErrorIs(t, err, ErrUnauthorizedDomain)
}

func TestAuthenticateTimesOut(t *testing.T) {
	g := newGoogleFixture(t)
	g.verifier.block = true

	start := time.Now()
	_, err := g.google.Authenticate(context.Background(), "ya29.registrar")
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestGoogleLogout(t *testing.T) {
	g := newGoogleFixture(t)
	ctx := context.Background()
	res, err := g.google.Authenticate(ctx, "ya29.registrar")
	require.NoError(t, err)

	out := g.google.Logout(ctx, res.Session.SessionID, "ya29.registrar")
	assert.True(t, out.GoogleTokenRevoked)
	assert.Equal(t, "Google OAuth session terminated successfully", out.Message)
	assert.Equal(t, []string{"ya29.registrar"}, g.revoker.revoked)
	_, err = g.svc.ValidateSession(ctx, res.Session.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	res, err = g.google.Authenticate(ctx, "ya29.registrar")
	require.NoError(t, err)
	g.revoker.err = errors.New("revoke failed")
	out = g.google.Logout(ctx, res.Session.SessionID, "ya29.registrar")
	assert.False(t, out.GoogleTokenRevoked)
	assert.Equal(t, "Session terminated successfully (Google token revocation failed)", out.Message)
	_, err = g.svc.ValidateSession(ctx, res.Session.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
