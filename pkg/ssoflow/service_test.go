package ssoflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcplibrary/entra-sso/pkg/entra"
	ssoerr "github.com/dcplibrary/entra-sso/pkg/errors"
	"github.com/dcplibrary/entra-sso/pkg/rolemap"
	"github.com/dcplibrary/entra-sso/pkg/session"
	"github.com/dcplibrary/entra-sso/pkg/user"
)

// fakeProvider is an in-process stand-in for the Entra token endpoint and
// the Graph API
type fakeProvider struct {
	tokenServer *httptest.Server
	graphServer *httptest.Server

	idTokenClaims map[string]interface{}
	groups        []entra.Group
	groupsStatus  int
	tokenCalls    int
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		groups:       []entra.Group{},
		groupsStatus: http.StatusOK,
	}

	p.tokenServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.tokenCalls++
		resp := map[string]interface{}{
			"access_token":  "fake-access-token",
			"refresh_token": "fake-refresh-token",
			"expires_in":    3600,
		}
		if p.idTokenClaims != nil {
			payload, err := json.Marshal(p.idTokenClaims)
			require.NoError(t, err)
			resp["id_token"] = "header." + base64.RawURLEncoding.EncodeToString(payload) + ".signature"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(p.tokenServer.Close)

	p.graphServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/me":
			json.NewEncoder(w).Encode(map[string]string{
				"id":          "entra-obj-1",
				"displayName": "Jordan Reed",
				"mail":        "jordan@example.org",
			})
		case "/me/memberOf":
			if p.groupsStatus != http.StatusOK {
				w.WriteHeader(p.groupsStatus)
				w.Write([]byte(`{"error":{"code":"Authorization_RequestDenied"}}`))
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"value": p.groups})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(p.graphServer.Close)

	return p
}

func (p *fakeProvider) client() *entra.Client {
	return entra.NewClient("tenant-123", "client-abc", "secret", "https://app.example.org/cb",
		entra.WithBaseURL(p.tokenServer.URL),
		entra.WithGraphURL(p.graphServer.URL),
	)
}

func newFlowFixture(t *testing.T, p *fakeProvider, opts ...Option) (*SSOFlowService, *user.InMemUserRepository, *session.SessionService) {
	t.Helper()

	userRepo := user.NewInMemUserRepository()
	userService := user.NewUserService(userRepo)

	issuer := session.NewTokenIssuer("test-secret-at-least-32-bytes-long!!", "entra-sso-test")
	sessions := session.NewSessionService(session.NewInMemSessionRepository(), issuer)

	flow := NewSSOFlowService(p.client(), userService, sessions, opts...)
	return flow, userRepo, sessions
}

// stateFromAuthURL extracts the CSRF state a BeginLogin call produced
func stateFromAuthURL(t *testing.T, authURL string) string {
	t.Helper()
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestLoginFlow_HappyPath(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider(t)
	p.groups = []entra.Group{
		{ID: "g1", DisplayName: "Developers"},
		{ID: "g2", DisplayName: "IT Admins"},
	}

	flow, _, sessions := newFlowFixture(t, p,
		WithAutoCreateUsers(true),
		WithGroupSync(true, true),
		WithTokenRetention(true),
		WithRoleMapping(rolemap.NewMapping(map[string]string{"IT Admins": "admin"}, "user")),
	)

	authURL, pending, _, err := flow.BeginLogin(ctx, nil)
	require.NoError(t, err)
	state := stateFromAuthURL(t, authURL)

	resolved, authenticated, sessionToken, err := flow.CompleteLogin(ctx, pending, "auth-code", state, "", "")
	require.NoError(t, err)

	assert.Equal(t, "jordan@example.org", resolved.Email)
	assert.Equal(t, "admin", resolved.Role)
	assert.Equal(t, []string{"Developers", "IT Admins"}, resolved.EntraGroups)

	assert.True(t, authenticated.Authenticated)
	assert.NotEqual(t, pending.ID, authenticated.ID)
	require.NotNil(t, authenticated.TokenSet)
	assert.Equal(t, "fake-access-token", authenticated.TokenSet.AccessToken)
	assert.Equal(t, "fake-refresh-token", authenticated.TokenSet.RefreshToken)

	resumed, err := sessions.Resume(ctx, sessionToken)
	require.NoError(t, err)
	assert.Equal(t, authenticated.ID, resumed.ID)
}

func TestLoginFlow_ReplayedCallback(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider(t)

	flow, _, _ := newFlowFixture(t, p, WithAutoCreateUsers(true))

	authURL, pending, _, err := flow.BeginLogin(ctx, nil)
	require.NoError(t, err)
	state := stateFromAuthURL(t, authURL)

	_, _, _, err = flow.CompleteLogin(ctx, pending, "auth-code", state, "", "")
	require.NoError(t, err)

	// The same callback again: the state was consumed by the first attempt
	_, _, _, err = flow.CompleteLogin(ctx, pending, "auth-code", state, "", "")
	require.Error(t, err)
	assert.True(t, ssoerr.IsCode(err, ssoerr.ErrCodeCsrfValidation))
}

func TestLoginFlow_StateMismatchConsumesSlot(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider(t)

	flow, _, _ := newFlowFixture(t, p, WithAutoCreateUsers(true))

	authURL, pending, _, err := flow.BeginLogin(ctx, nil)
	require.NoError(t, err)
	state := stateFromAuthURL(t, authURL)

	_, _, _, err = flow.CompleteLogin(ctx, pending, "auth-code", "forged-state", "", "")
	require.Error(t, err)
	assert.True(t, ssoerr.IsCode(err, ssoerr.ErrCodeCsrfValidation))
	assert.Zero(t, p.tokenCalls)

	// The slot was cleared on the failed check; the real state can no
	// longer complete either
	_, _, _, err = flow.CompleteLogin(ctx, pending, "auth-code", state, "", "")
	require.Error(t, err)
	assert.True(t, ssoerr.IsCode(err, ssoerr.ErrCodeCsrfValidation))
}

func TestLoginFlow_MissingState(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider(t)

	flow, _, _ := newFlowFixture(t, p, WithAutoCreateUsers(true))

	_, pending, _, err := flow.BeginLogin(ctx, nil)
	require.NoError(t, err)

	_, _, _, err = flow.CompleteLogin(ctx, pending, "auth-code", "", "", "")
	require.Error(t, err)
	assert.True(t, ssoerr.IsCode(err, ssoerr.ErrCodeCsrfValidation))
}

func TestLoginFlow_ProviderDenied(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider(t)

	flow, userRepo, _ := newFlowFixture(t, p, WithAutoCreateUsers(true))

	_, pending, _, err := flow.BeginLogin(ctx, nil)
	require.NoError(t, err)

	_, _, _, err = flow.CompleteLogin(ctx, pending, "", "", "access_denied", "User declined consent")
	require.Error(t, err)
	assert.True(t, ssoerr.IsCode(err, ssoerr.ErrCodeProviderDenied))
	assert.Contains(t, err.Error(), "User declined consent")

	// No token call and no user materialized
	assert.Zero(t, p.tokenCalls)
	_, err = userRepo.FindByEmail(ctx, "jordan@example.org")
	require.Error(t, err)
}

func TestLoginFlow_ProviderDeniedWithoutDescription(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider(t)

	flow, _, _ := newFlowFixture(t, p)

	_, pending, _, err := flow.BeginLogin(ctx, nil)
	require.NoError(t, err)

	_, _, _, err = flow.CompleteLogin(ctx, pending, "", "", "access_denied", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_denied")
}

func TestLoginFlow_UserNotProvisioned(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider(t)

	flow, _, _ := newFlowFixture(t, p) // autoCreate off

	authURL, pending, _, err := flow.BeginLogin(ctx, nil)
	require.NoError(t, err)

	_, _, _, err = flow.CompleteLogin(ctx, pending, "auth-code", stateFromAuthURL(t, authURL), "", "")
	require.Error(t, err)
	assert.True(t, ssoerr.IsCode(err, ssoerr.ErrCodeUserNotProvisioned))
}

func TestLoginFlow_GroupSyncFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider(t)
	p.groupsStatus = http.StatusForbidden

	flow, _, _ := newFlowFixture(t, p,
		WithAutoCreateUsers(true),
		WithGroupSync(true, true),
		WithRoleMapping(rolemap.NewMapping(map[string]string{"IT Admins": "admin"}, "user")),
	)

	authURL, pending, _, err := flow.BeginLogin(ctx, nil)
	require.NoError(t, err)

	resolved, authenticated, _, err := flow.CompleteLogin(ctx, pending, "auth-code", stateFromAuthURL(t, authURL), "", "")
	require.NoError(t, err)
	assert.True(t, authenticated.Authenticated)
	// No sync happened, so the just-created user keeps defaults
	assert.Empty(t, resolved.Role)
	assert.Empty(t, resolved.EntraGroups)
	assert.Equal(t, "user", flow.CurrentRole(resolved))
}

func TestLoginFlow_SyncOnlyOnCreate(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider(t)
	p.groups = []entra.Group{{ID: "g2", DisplayName: "IT Admins"}}

	flow, userRepo, _ := newFlowFixture(t, p,
		WithAutoCreateUsers(true),
		WithGroupSync(true, false),
		WithRoleMapping(rolemap.NewMapping(map[string]string{"IT Admins": "admin"}, "user")),
	)

	// First login provisions and syncs
	authURL, pending, _, err := flow.BeginLogin(ctx, nil)
	require.NoError(t, err)
	first, _, _, err := flow.CompleteLogin(ctx, pending, "auth-code", stateFromAuthURL(t, authURL), "", "")
	require.NoError(t, err)
	assert.Equal(t, "admin", first.Role)

	// Directory changes, but an existing user is not re-synced
	p.groups = []entra.Group{{ID: "g9", DisplayName: "HR"}}

	authURL, pending, _, err = flow.BeginLogin(ctx, nil)
	require.NoError(t, err)
	second, _, _, err := flow.CompleteLogin(ctx, pending, "auth-code", stateFromAuthURL(t, authURL), "", "")
	require.NoError(t, err)
	assert.Equal(t, "admin", second.Role)
	assert.Equal(t, []string{"IT Admins"}, second.EntraGroups)

	stored, err := userRepo.FindByEmail(ctx, "jordan@example.org")
	require.NoError(t, err)
	assert.Equal(t, "admin", stored.Role)
}

func TestLoginFlow_TokensNotRetainedByDefault(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider(t)

	flow, _, _ := newFlowFixture(t, p, WithAutoCreateUsers(true))

	authURL, pending, _, err := flow.BeginLogin(ctx, nil)
	require.NoError(t, err)

	_, authenticated, _, err := flow.CompleteLogin(ctx, pending, "auth-code", stateFromAuthURL(t, authURL), "", "")
	require.NoError(t, err)
	assert.Nil(t, authenticated.TokenSet)
}

func TestLoginFlow_CustomClaimsMapped(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider(t)
	p.idTokenClaims = map[string]interface{}{
		"oid":        "entra-obj-1",
		"email":      "jordan@example.org",
		"department": "Library IT",
		"jobTitle":   "Systems Librarian",
	}

	flow, _, _ := newFlowFixture(t, p,
		WithAutoCreateUsers(true),
		WithClaimMapping(rolemap.ClaimMapping{
			Attributes: map[string]string{"department": "department"},
			StoreAll:   true,
		}),
	)

	authURL, pending, _, err := flow.BeginLogin(ctx, nil)
	require.NoError(t, err)

	resolved, _, _, err := flow.CompleteLogin(ctx, pending, "auth-code", stateFromAuthURL(t, authURL), "", "")
	require.NoError(t, err)

	assert.Equal(t, "Library IT", resolved.Attributes["department"])
	// Store-all keeps the full custom set but never the standard claims
	assert.Equal(t, map[string]interface{}{
		"department": "Library IT",
		"jobTitle":   "Systems Librarian",
	}, resolved.CustomClaims)
}

func TestLoginFlow_MalformedIDTokenAborts(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider(t)

	// The token endpoint returns a one-segment id token
	malformed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fake-access-token","id_token":"notatoken","expires_in":3600}`))
	}))
	defer malformed.Close()

	client := entra.NewClient("tenant-123", "client-abc", "secret", "https://app.example.org/cb",
		entra.WithBaseURL(malformed.URL),
		entra.WithGraphURL(p.graphServer.URL),
	)

	userService := user.NewUserService(user.NewInMemUserRepository())
	issuer := session.NewTokenIssuer("test-secret-at-least-32-bytes-long!!", "entra-sso-test")
	sessions := session.NewSessionService(session.NewInMemSessionRepository(), issuer)
	flow := NewSSOFlowService(client, userService, sessions, WithAutoCreateUsers(true))

	authURL, pending, _, err := flow.BeginLogin(ctx, nil)
	require.NoError(t, err)

	_, _, _, err = flow.CompleteLogin(ctx, pending, "auth-code", stateFromAuthURL(t, authURL), "", "")
	require.Error(t, err)
	assert.True(t, ssoerr.IsCode(err, ssoerr.ErrCodeMalformedToken))
}

func TestLoginFlow_ReusesPendingSession(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider(t)

	flow, _, _ := newFlowFixture(t, p, WithAutoCreateUsers(true))

	_, first, _, err := flow.BeginLogin(ctx, nil)
	require.NoError(t, err)

	// A second click on "login" reuses the same browser session slot
	authURL, second, _, err := flow.BeginLogin(ctx, &first)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Only the newest state completes
	_, authenticated, _, err := flow.CompleteLogin(ctx, second, "auth-code", stateFromAuthURL(t, authURL), "", "")
	require.NoError(t, err)
	assert.True(t, authenticated.Authenticated)
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider(t)

	flow, _, sessions := newFlowFixture(t, p, WithAutoCreateUsers(true), WithTokenRetention(true))

	authURL, pending, _, err := flow.BeginLogin(ctx, nil)
	require.NoError(t, err)
	_, authenticated, _, err := flow.CompleteLogin(ctx, pending, "auth-code", stateFromAuthURL(t, authURL), "", "")
	require.NoError(t, err)

	require.NoError(t, flow.Logout(ctx, authenticated.ID))

	// The record and its token set are gone together
	_, err = sessions.Get(ctx, authenticated.ID)
	require.Error(t, err)
	assert.True(t, ssoerr.IsCode(err, ssoerr.ErrCodeNotFound))
}
