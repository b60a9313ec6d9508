package entra

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ssoerr "github.com/dcplibrary/entra-sso/pkg/errors"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGenerateState(t *testing.T) {
	first, err := GenerateState()
	require.NoError(t, err)
	assert.Len(t, first, 32)

	second, err := GenerateState()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestAuthorizationURL(t *testing.T) {
	client := NewClient("tenant-123", "client-abc", "secret", "https://app.example.org/auth/entra/callback")

	authURL := client.AuthorizationURL("state-token")
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)

	assert.Equal(t, "/tenant-123/oauth2/v2.0/authorize", parsed.Path)
	query := parsed.Query()
	assert.Equal(t, "client-abc", query.Get("client_id"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "https://app.example.org/auth/entra/callback", query.Get("redirect_uri"))
	assert.Equal(t, "query", query.Get("response_mode"))
	assert.Equal(t, Scopes, query.Get("scope"))
	assert.Equal(t, "state-token", query.Get("state"))
}

func TestExchangeCode(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var gotForm url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.True(t, strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/token"))
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","id_token":"h.p.s","expires_in":1800}`))
	}))
	defer server.Close()

	client := NewClient("tenant-123", "client-abc", "secret", "https://app.example.org/cb",
		WithBaseURL(server.URL),
		WithClock(fixedClock(now)),
	)

	tokens, err := client.ExchangeCode(context.Background(), "auth-code")
	require.NoError(t, err)

	assert.Equal(t, "auth-code", gotForm.Get("code"))
	assert.Equal(t, "client-abc", gotForm.Get("client_id"))
	assert.Equal(t, "secret", gotForm.Get("client_secret"))
	assert.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	assert.Equal(t, "https://app.example.org/cb", gotForm.Get("redirect_uri"))

	assert.Equal(t, "at-1", tokens.AccessToken)
	assert.Equal(t, "rt-1", tokens.RefreshToken)
	assert.Equal(t, "h.p.s", tokens.IDToken)
	assert.Equal(t, now.Add(1800*time.Second), tokens.ExpiresAt)
}

func TestExchangeCode_DefaultExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1"}`))
	}))
	defer server.Close()

	client := NewClient("tenant-123", "client-abc", "secret", "https://app.example.org/cb",
		WithBaseURL(server.URL),
		WithClock(fixedClock(now)),
	)

	tokens, err := client.ExchangeCode(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultExpiresIn*time.Second), tokens.ExpiresAt)
}

func TestExchangeCode_ProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"AADSTS70008: The provided authorization code is expired."}`))
	}))
	defer server.Close()

	client := NewClient("tenant-123", "client-abc", "secret", "https://app.example.org/cb",
		WithBaseURL(server.URL))

	_, err := client.ExchangeCode(context.Background(), "expired-code")
	require.Error(t, err)
	assert.True(t, ssoerr.IsCode(err, ssoerr.ErrCodeTokenExchange))
	// The provider body must survive wrapping verbatim
	assert.Contains(t, err.Error(), "AADSTS70008")
	assert.Contains(t, err.Error(), "status 400")
}

func TestRefreshTokens(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var gotForm url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-2","expires_in":3600}`))
	}))
	defer server.Close()

	client := NewClient("tenant-123", "client-abc", "secret", "https://app.example.org/cb",
		WithBaseURL(server.URL),
		WithClock(fixedClock(now)),
	)

	tokens, err := client.RefreshTokens(context.Background(), "rt-1")
	require.NoError(t, err)

	assert.Equal(t, "rt-1", gotForm.Get("refresh_token"))
	assert.Equal(t, "refresh_token", gotForm.Get("grant_type"))
	// Refresh re-requests the original scopes
	assert.Equal(t, Scopes, gotForm.Get("scope"))

	// Provider omitted a new refresh token; the set carries none and the
	// caller keeps the old one
	assert.Equal(t, "at-2", tokens.AccessToken)
	assert.Empty(t, tokens.RefreshToken)
	assert.Equal(t, now.Add(time.Hour), tokens.ExpiresAt)
}

func TestRefreshTokens_ProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	client := NewClient("tenant-123", "client-abc", "secret", "https://app.example.org/cb",
		WithBaseURL(server.URL))

	_, err := client.RefreshTokens(context.Background(), "revoked")
	require.Error(t, err)
	assert.True(t, ssoerr.IsCode(err, ssoerr.ErrCodeTokenRefresh))
}

func TestFetchProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/me", r.URL.Path)
		require.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"obj-1","displayName":"Jordan Reed","mail":"jordan@example.org","userPrincipalName":"jordan_example.org#EXT@tenant.onmicrosoft.com"}`))
	}))
	defer server.Close()

	client := NewClient("tenant-123", "client-abc", "secret", "https://app.example.org/cb",
		WithGraphURL(server.URL))

	profile, err := client.FetchProfile(context.Background(), "at-1")
	require.NoError(t, err)
	assert.Equal(t, "obj-1", profile.ID)
	assert.Equal(t, "Jordan Reed", profile.DisplayName)
	assert.Equal(t, "jordan@example.org", profile.Email())
}

func TestProfileEmail_FallsBackToUPN(t *testing.T) {
	profile := Profile{UserPrincipalName: "jordan@tenant.onmicrosoft.com"}
	assert.Equal(t, "jordan@tenant.onmicrosoft.com", profile.Email())
}

func TestFetchGroupMemberships(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/me/memberOf", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value":[{"id":"g1","displayName":"Developers"},{"id":"g2","displayName":"IT Admins"}]}`))
	}))
	defer server.Close()

	client := NewClient("tenant-123", "client-abc", "secret", "https://app.example.org/cb",
		WithGraphURL(server.URL))

	groups, err := client.FetchGroupMemberships(context.Background(), "at-1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	// Directory order is preserved
	assert.Equal(t, "Developers", groups[0].DisplayName)
	assert.Equal(t, "IT Admins", groups[1].DisplayName)
}

func TestFetchGroupMemberships_NoCollection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient("tenant-123", "client-abc", "secret", "https://app.example.org/cb",
		WithGraphURL(server.URL))

	groups, err := client.FetchGroupMemberships(context.Background(), "at-1")
	require.NoError(t, err)
	assert.NotNil(t, groups)
	assert.Empty(t, groups)
}

func TestFetchGroupMemberships_GraphError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"Authorization_RequestDenied"}}`))
	}))
	defer server.Close()

	client := NewClient("tenant-123", "client-abc", "secret", "https://app.example.org/cb",
		WithGraphURL(server.URL))

	_, err := client.FetchGroupMemberships(context.Background(), "at-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Authorization_RequestDenied")
}

func TestFetchAppRoleAssignments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/me/appRoleAssignments", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value":[{"id":"a1","appRoleId":"role-1","resourceDisplayName":"entra-sso"}]}`))
	}))
	defer server.Close()

	client := NewClient("tenant-123", "client-abc", "secret", "https://app.example.org/cb",
		WithGraphURL(server.URL))

	assignments, err := client.FetchAppRoleAssignments(context.Background(), "at-1")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, "role-1", assignments[0].AppRoleID)
}
