package entra

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	ssoerr "github.com/dcplibrary/entra-sso/pkg/errors"
)

// Scopes requested on both the initial authorization and every refresh
const Scopes = "openid profile email User.Read offline_access GroupMember.Read.All"

// Client wraps the network calls to the Entra ID OAuth2 endpoints and the
// Microsoft Graph directory API. All calls are synchronous and no retries
// are attempted; every failure is surfaced to the caller.
type Client struct {
	tenantID     string
	clientID     string
	clientSecret string
	redirectURI  string
	baseURL      string
	graphURL     string
	httpClient   *http.Client
	now          func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for provider and directory calls
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithBaseURL overrides the login.microsoftonline.com base URL (tests)
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithGraphURL overrides the Graph API base URL (tests)
func WithGraphURL(graphURL string) Option {
	return func(c *Client) {
		c.graphURL = strings.TrimSuffix(graphURL, "/")
	}
}

// WithClock overrides the time source used for token expiry computation
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a client for a single Entra tenant
func NewClient(tenantID, clientID, clientSecret, redirectURI string, opts ...Option) *Client {
	client := &Client{
		tenantID:     tenantID,
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		baseURL:      fmt.Sprintf("https://login.microsoftonline.com/%s", tenantID),
		graphURL:     "https://graph.microsoft.com/v1.0",
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// GenerateState generates a cryptographically random CSRF state token
// with 16 bytes of entropy
func GenerateState() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// AuthorizationURL builds the authorization endpoint URL for the given
// state token. The caller must persist the state for callback validation.
func (c *Client) AuthorizationURL(state string) string {
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", c.redirectURI)
	params.Set("response_mode", "query")
	params.Set("scope", Scopes)
	params.Set("state", state)

	return fmt.Sprintf("%s/oauth2/v2.0/authorize?%s", c.baseURL, params.Encode())
}

// ExchangeCode exchanges an authorization code for a token set
func (c *Client) ExchangeCode(ctx context.Context, code string) (TokenSet, error) {
	data := url.Values{}
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)
	data.Set("code", code)
	data.Set("redirect_uri", c.redirectURI)
	data.Set("grant_type", "authorization_code")

	tokens, err := c.postTokenEndpoint(ctx, data)
	if err != nil {
		return TokenSet{}, ssoerr.Wrap(err, ssoerr.ErrCodeTokenExchange, "failed to obtain access token")
	}

	slog.Info("Token exchange successful", "tenant", c.tenantID, "has_refresh_token", tokens.RefreshToken != "", "has_id_token", tokens.IDToken != "")
	return tokens, nil
}

// RefreshTokens exchanges a refresh token for a new token set, requesting
// the same scopes as the original flow. The provider may omit a new
// refresh token; the returned set then has an empty RefreshToken and the
// caller must keep the previous one.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (TokenSet, error) {
	data := url.Values{}
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)
	data.Set("refresh_token", refreshToken)
	data.Set("grant_type", "refresh_token")
	data.Set("scope", Scopes)

	tokens, err := c.postTokenEndpoint(ctx, data)
	if err != nil {
		return TokenSet{}, ssoerr.Wrap(err, ssoerr.ErrCodeTokenRefresh, "failed to refresh access token")
	}

	slog.Info("Token refresh successful", "tenant", c.tenantID, "expires_at", tokens.ExpiresAt)
	return tokens, nil
}

// FetchProfile retrieves the signed-in user's profile from Graph /me
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	var profile Profile
	if err := c.getGraph(ctx, "/me", accessToken, &profile); err != nil {
		return Profile{}, fmt.Errorf("failed to get user info: %w", err)
	}
	return profile, nil
}

// FetchGroupMemberships retrieves the user's directory group memberships
// from Graph /me/memberOf, preserving directory order. Returns an empty
// slice, never nil, when the response has no membership collection.
func (c *Client) FetchGroupMemberships(ctx context.Context, accessToken string) ([]Group, error) {
	var list directoryList[Group]
	if err := c.getGraph(ctx, "/me/memberOf", accessToken, &list); err != nil {
		return nil, fmt.Errorf("failed to get user groups: %w", err)
	}
	if list.Value == nil {
		return []Group{}, nil
	}
	return list.Value, nil
}

// FetchAppRoleAssignments retrieves the user's application role assignments
// from Graph /me/appRoleAssignments
func (c *Client) FetchAppRoleAssignments(ctx context.Context, accessToken string) ([]AppRoleAssignment, error) {
	var list directoryList[AppRoleAssignment]
	if err := c.getGraph(ctx, "/me/appRoleAssignments", accessToken, &list); err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	if list.Value == nil {
		return []AppRoleAssignment{}, nil
	}
	return list.Value, nil
}

// postTokenEndpoint POSTs a form grant to the tenant token endpoint and
// converts the wire response into a TokenSet
func (c *Client) postTokenEndpoint(ctx context.Context, data url.Values) (TokenSet, error) {
	endpoint := fmt.Sprintf("%s/oauth2/v2.0/token", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return TokenSet{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TokenSet{}, fmt.Errorf("failed to make token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenSet{}, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// The provider body is passed through verbatim for diagnosis
		return TokenSet{}, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return TokenSet{}, fmt.Errorf("failed to parse token response: %w", err)
	}

	expiresIn := tokenResp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = DefaultExpiresIn
	}

	return TokenSet{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		IDToken:      tokenResp.IDToken,
		ExpiresAt:    c.now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// getGraph GETs a Graph API path with a bearer token and decodes the JSON
// response into out
func (c *Client) getGraph(ctx context.Context, path, accessToken string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.graphURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}
