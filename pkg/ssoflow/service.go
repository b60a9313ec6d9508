// Package ssoflow orchestrates the end-to-end Entra login transaction:
// CSRF state issuance and validation, token acquisition, identity
// resolution, session materialization and local sign-out.
package ssoflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dcplibrary/entra-sso/pkg/entra"
	ssoerr "github.com/dcplibrary/entra-sso/pkg/errors"
	"github.com/dcplibrary/entra-sso/pkg/idtoken"
	"github.com/dcplibrary/entra-sso/pkg/rolemap"
	"github.com/dcplibrary/entra-sso/pkg/session"
	"github.com/dcplibrary/entra-sso/pkg/user"
)

// SSOFlowService drives the authentication state machine. One login
// transaction is strictly sequential: state validation, token exchange,
// profile fetch, optional group fetch - each step depends on the previous
// result and every external failure is terminal for the transaction.
type SSOFlowService struct {
	entraClient  *entra.Client
	userService  *user.UserService
	sessions     *session.SessionService
	roleMapping  rolemap.Mapping
	claimMapping rolemap.ClaimMapping

	autoCreateUsers bool
	syncGroups      bool
	syncOnLogin     bool
	retainTokens    bool
}

// Option is a function that configures an SSOFlowService
type Option func(*SSOFlowService)

// WithAutoCreateUsers enables provisioning of missing users on login
func WithAutoCreateUsers(enabled bool) Option {
	return func(s *SSOFlowService) {
		s.autoCreateUsers = enabled
	}
}

// WithGroupSync enables directory group sync; onEveryLogin controls
// whether existing users are re-synced on each login or only newly
// created users get an initial sync
func WithGroupSync(enabled, onEveryLogin bool) Option {
	return func(s *SSOFlowService) {
		s.syncGroups = enabled
		s.syncOnLogin = onEveryLogin
	}
}

// WithTokenRetention controls whether the provider token set is stored on
// the session; required for silent token refresh
func WithTokenRetention(enabled bool) Option {
	return func(s *SSOFlowService) {
		s.retainTokens = enabled
	}
}

// WithRoleMapping sets the group-to-role mapping rules
func WithRoleMapping(mapping rolemap.Mapping) Option {
	return func(s *SSOFlowService) {
		s.roleMapping = mapping
	}
}

// WithClaimMapping sets the custom-claim to user-attribute mapping rules
func WithClaimMapping(mapping rolemap.ClaimMapping) Option {
	return func(s *SSOFlowService) {
		s.claimMapping = mapping
	}
}

// NewSSOFlowService creates the login flow service
func NewSSOFlowService(entraClient *entra.Client, userService *user.UserService, sessions *session.SessionService, opts ...Option) *SSOFlowService {
	service := &SSOFlowService{
		entraClient:  entraClient,
		userService:  userService,
		sessions:     sessions,
		roleMapping:  rolemap.NewMapping(nil, ""),
		claimMapping: rolemap.ClaimMapping{},
		// Security by default: no auto-provisioning, no token retention
		autoCreateUsers: false,
		syncGroups:      false,
		syncOnLogin:     true,
		retainTokens:    false,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service
}

// BeginLogin starts a login transaction: a fresh CSRF state token is
// generated and stored as the session's single pending-login slot, and
// the provider authorization URL is returned together with the pending
// session record and the signed session token the browser must carry
// through the redirect.
func (s *SSOFlowService) BeginLogin(ctx context.Context, current *session.Session) (string, session.Session, string, error) {
	state, err := entra.GenerateState()
	if err != nil {
		return "", session.Session{}, "", err
	}

	record, sessionToken, err := s.sessions.BeginPending(ctx, current, state)
	if err != nil {
		return "", session.Session{}, "", err
	}

	authURL := s.entraClient.AuthorizationURL(state)
	slog.Info("Login initiated", "session_id", record.ID)
	return authURL, record, sessionToken, nil
}

// CompleteLogin processes the provider callback and either materializes an
// authenticated session or fails the transaction with a coded error. No
// partial session is ever created: every fatal step aborts before
// materialization.
func (s *SSOFlowService) CompleteLogin(ctx context.Context, pending session.Session, code, state, errParam, errDescription string) (user.User, session.Session, string, error) {
	// Provider-reported denial short-circuits before anything else
	if errParam != "" {
		if errDescription == "" {
			errDescription = errParam
		}
		return user.User{}, session.Session{}, "", ssoerr.Newf(ssoerr.ErrCodeProviderDenied, "authentication failed: %s", errDescription)
	}

	// One-shot CSRF validation: the stored state is consumed on this
	// check regardless of match, so a retried callback always fails
	storedState, err := s.sessions.ConsumePendingState(ctx, pending.ID)
	if err != nil || state == "" || state != storedState {
		slog.Warn("State validation failed", "session_id", pending.ID, "state_present", state != "")
		return user.User{}, session.Session{}, "", ssoerr.New(ssoerr.ErrCodeCsrfValidation, "invalid state parameter, possible CSRF attack")
	}

	tokens, err := s.entraClient.ExchangeCode(ctx, code)
	if err != nil {
		return user.User{}, session.Session{}, "", err
	}

	profile, err := s.entraClient.FetchProfile(ctx, tokens.AccessToken)
	if err != nil {
		return user.User{}, session.Session{}, "", err
	}

	// Identity-token claims feed the user record; a malformed token
	// aborts the transaction
	var attrs, storedClaims map[string]interface{}
	if tokens.IDToken != "" {
		claims, err := idtoken.Decode(tokens.IDToken)
		if err != nil {
			return user.User{}, session.Session{}, "", err
		}
		attrs, storedClaims = rolemap.MapCustomClaims(idtoken.CustomClaims(claims), s.claimMapping)
	}

	resolved, created, err := s.userService.ResolveForLogin(ctx, profile, attrs, storedClaims, s.autoCreateUsers)
	if err != nil {
		return user.User{}, session.Session{}, "", err
	}

	resolved = s.syncGroupsAndRole(ctx, resolved, tokens.AccessToken, created)

	var retained *entra.TokenSet
	if s.retainTokens {
		retained = &tokens
	}

	authenticated, sessionToken, err := s.sessions.Authenticate(ctx, pending.ID, resolved.ID, retained)
	if err != nil {
		return user.User{}, session.Session{}, "", err
	}

	slog.Info("Login completed",
		"user_id", resolved.ID,
		"email", resolved.Email,
		"role", s.userService.CurrentRole(resolved),
		"created", created)

	return resolved, authenticated, sessionToken, nil
}

// Logout performs a local-only sign-out: the session record and its token
// set are discarded. The provider's end-session endpoint is not called.
func (s *SSOFlowService) Logout(ctx context.Context, sessionID uuid.UUID) error {
	return s.sessions.Destroy(ctx, sessionID)
}

// CurrentRole exposes the role resolution capability for callers that
// render identity state
func (s *SSOFlowService) CurrentRole(u user.User) string {
	return s.userService.CurrentRole(u)
}

// syncGroupsAndRole fetches directory groups and persists the resolved
// role and group projection. Directory failures are non-fatal: they are
// logged and login proceeds with previously-stored role and groups (or
// defaults for a just-created user).
func (s *SSOFlowService) syncGroupsAndRole(ctx context.Context, u user.User, accessToken string, justCreated bool) user.User {
	if !s.syncGroups {
		return u
	}
	if !s.syncOnLogin && !justCreated {
		return u
	}

	groups, err := s.entraClient.FetchGroupMemberships(ctx, accessToken)
	if err != nil {
		syncErr := ssoerr.Wrap(err, ssoerr.ErrCodeDirectorySync, "failed to sync groups and roles")
		slog.Warn("Group sync failed, continuing with stored role and groups", "user_id", u.ID, "error", syncErr)
		return u
	}

	role := rolemap.ResolveRole(groups, s.roleMapping)
	synced, err := s.userService.SyncGroupsAndRole(ctx, u, rolemap.GroupNames(groups), role)
	if err != nil {
		slog.Warn("Failed to persist synced groups and role", "user_id", u.ID, "error", err)
		return u
	}

	slog.Info("Groups and role synced", "user_id", u.ID, "role", role, "group_count", len(groups))
	return synced
}

// Describe returns a short, loggable description of the flow configuration
func (s *SSOFlowService) Describe() string {
	return fmt.Sprintf("auto_create=%t sync_groups=%t sync_on_login=%t retain_tokens=%t default_role=%s",
		s.autoCreateUsers, s.syncGroups, s.syncOnLogin, s.retainTokens, s.roleMapping.DefaultRole)
}
