package oauth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ghtak/stardust/internal/audit"
	"github.com/ghtak/stardust/internal/cache"
	"github.com/ghtak/stardust/internal/directory"
	"github.com/ghtak/stardust/internal/errorx"
)

// Default token lifetimes.
const (
	DefaultCodeTTL    = 10 * time.Minute
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// TokenTTL bundles the three lifetimes of a grant. Zero fields fall back to
// the defaults above.
type TokenTTL struct {
	Code    time.Duration
	Access  time.Duration
	Refresh time.Duration
}

func (t TokenTTL) withDefaults() TokenTTL {
	if t.Code <= 0 {
		t.Code = DefaultCodeTTL
	}
	if t.Access <= 0 {
		t.Access = DefaultAccessTTL
	}
	if t.Refresh <= 0 {
		t.Refresh = DefaultRefreshTTL
	}
	return t
}

// UserAggregate is the resolution of a bearer token: the principal the token
// acts for, the client it was issued to and the authorization that links
// them, all in their externally visible shapes.
type UserAggregate struct {
	User          *directory.Principal `json:"user"`
	Client        ClientView           `json:"client"`
	Authorization AuthorizationView    `json:"authorization"`
	Scope         string               `json:"scope"`
	ExpiresAt     time.Time            `json:"expires_at"`
}

// AuthorizationService drives the authorization-code flow: request
// verification, code issuance, the two token grants and bearer-token
// resolution. Refresh tokens are stored only as deterministic hashes
// (tokenHasher), never in plaintext.
type AuthorizationService struct {
	clients     *ClientService
	store       AuthorizationStore
	directory   directory.Directory
	tokenHasher SecretHasher
	ttl         TokenTTL
	audit       *audit.Publisher
	logger      *zap.Logger
	users       *cache.TTLCache[*UserAggregate]

	now func() time.Time
}

// NewAuthorizationService wires the flow. dir resolves principal ids to user
// records; ttl zero-fields take the defaults.
func NewAuthorizationService(clients *ClientService, store AuthorizationStore, dir directory.Directory, ttl TokenTTL, auditPub *audit.Publisher, logger *zap.Logger) *AuthorizationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthorizationService{
		clients:     clients,
		store:       store,
		directory:   dir,
		tokenHasher: &SHA256Hasher{},
		ttl:         ttl.withDefaults(),
		audit:       auditPub,
		logger:      logger,
		users:       cache.New[*UserAggregate](),
		now:         time.Now,
	}
}

// Verify checks an authorization request before any user interaction: the
// client must exist, the redirect URI must be registered verbatim and the
// scope must be one the client registered. Returns the client so callers can
// reuse the lookup.
func (s *AuthorizationService) Verify(ctx context.Context, cmd VerifyCommand) (*Client, error) {
	client, err := s.clients.FindClient(ctx, cmd.ClientID)
	if err != nil {
		return nil, err
	}
	if !client.AllowsRedirectURI(cmd.RedirectURI) {
		return nil, errorx.InvalidParameter("redirect_uri %q is not registered for client %q", cmd.RedirectURI, cmd.ClientID)
	}
	if !client.AllowsScope(cmd.Scope) {
		return nil, errorx.InvalidParameter("scope %q is not registered for client %q", cmd.Scope, cmd.ClientID)
	}
	return client, nil
}

// Authorize runs after the resource owner has authenticated: it re-verifies
// the request, confirms the principal exists and persists a fresh
// authorization holding only a short-lived code. The caller appends the
// returned code (and echoed state) to the redirect URI.
func (s *AuthorizationService) Authorize(ctx context.Context, cmd VerifyCommand, principalID int64) (*Authorization, error) {
	client, err := s.Verify(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if _, err := s.directory.Lookup(ctx, principalID); err != nil {
		return nil, err
	}

	authz := NewAuthorization(client.ID, principalID, cmd.Scope, cmd.State, s.now(), s.ttl.Code)
	stored, err := s.store.CreateAuthorization(ctx, authz)
	if err != nil {
		return nil, err
	}

	s.logger.Info("authorization code issued",
		zap.String("client_id", client.ClientID),
		zap.Int64("principal_id", principalID),
		zap.String("scope", cmd.Scope))
	s.audit.Publish(ctx, audit.EventCodeIssued, principalID, map[string]any{
		"client_id": client.ClientID,
		"scope":     cmd.Scope,
	})
	return stored, nil
}

// Token is the token-endpoint dispatcher. Unsupported grant types are
// rejected as invalid parameters.
func (s *AuthorizationService) Token(ctx context.Context, cmd TokenCommand) (*Token, error) {
	switch cmd.GrantType {
	case GrantAuthorizationCode:
		return s.issueToken(ctx, cmd)
	case GrantRefreshToken:
		return s.refreshToken(ctx, cmd)
	default:
		return nil, errorx.InvalidParameter("unsupported grant_type %q", cmd.GrantType)
	}
}

// issueToken exchanges an authorization code for tokens. The store applies
// the transition as one conditional write that also binds the code to the
// verified client, so a spent or expired code, or one issued to a different
// client, fails there without side effects. The refresh token plaintext
// appears only in the response; the store keeps its hash.
func (s *AuthorizationService) issueToken(ctx context.Context, cmd TokenCommand) (*Token, error) {
	if cmd.Code == "" {
		return nil, errorx.InvalidParameter("code is required")
	}
	if err := s.clients.VerifyClient(ctx, cmd.ClientID, cmd.ClientSecret); err != nil {
		return nil, err
	}
	client, err := s.clients.FindClient(ctx, cmd.ClientID)
	if err != nil {
		return nil, err
	}

	accessToken, err := newAccessToken()
	if err != nil {
		return nil, errorx.Internal("access token generation failed", err)
	}
	refreshToken, err := newRefreshToken()
	if err != nil {
		return nil, errorx.Internal("refresh token generation failed", err)
	}
	refreshHash, err := s.tokenHasher.Hash(refreshToken)
	if err != nil {
		return nil, errorx.Internal("refresh token hashing failed", err)
	}

	now := s.now()
	authz, err := s.store.RedeemCode(ctx, cmd.Code, TokenGrant{
		Now:              now,
		ClientID:         client.ID,
		AccessToken:      accessToken,
		AccessExpiresAt:  now.Add(s.ttl.Access),
		RefreshTokenHash: refreshHash,
		RefreshExpiresAt: now.Add(s.ttl.Refresh),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("token issued",
		zap.String("client_id", cmd.ClientID),
		zap.Int64("principal_id", authz.PrincipalID))
	s.audit.Publish(ctx, audit.EventTokenIssued, authz.PrincipalID, map[string]any{
		"client_id": cmd.ClientID,
	})
	return &Token{
		AccessToken:  accessToken,
		ExpiresIn:    int64(s.ttl.Access.Seconds()),
		RefreshToken: refreshToken,
		Scope:        authz.Scope,
		TokenType:    TokenTypeBearer,
	}, nil
}

// refreshToken rotates the access token of a live grant. The refresh token
// value itself survives the rotation and is echoed back unchanged, with its
// expiry window pushed out.
func (s *AuthorizationService) refreshToken(ctx context.Context, cmd TokenCommand) (*Token, error) {
	if cmd.RefreshToken == "" {
		return nil, errorx.InvalidParameter("refresh_token is required")
	}
	if err := s.clients.VerifyClient(ctx, cmd.ClientID, cmd.ClientSecret); err != nil {
		return nil, err
	}

	refreshHash, err := s.tokenHasher.Hash(cmd.RefreshToken)
	if err != nil {
		return nil, errorx.Internal("refresh token hashing failed", err)
	}

	accessToken, err := newAccessToken()
	if err != nil {
		return nil, errorx.Internal("access token generation failed", err)
	}

	// The rotation replaces the access token, so any memoized resolution of
	// the outgoing one must go with it.
	if prev, err := s.store.FindAuthorization(ctx, FindAuthorizationQuery{RefreshTokenHash: refreshHash}); err == nil && prev.AccessTokenValue != "" {
		s.users.Delete(prev.AccessTokenValue)
	}

	now := s.now()
	authz, err := s.store.RotateAccess(ctx, refreshHash, AccessRotation{
		Now:              now,
		AccessToken:      accessToken,
		AccessExpiresAt:  now.Add(s.ttl.Access),
		RefreshExpiresAt: now.Add(s.ttl.Refresh),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("access token refreshed",
		zap.String("client_id", cmd.ClientID),
		zap.Int64("principal_id", authz.PrincipalID))
	s.audit.Publish(ctx, audit.EventTokenRefreshed, authz.PrincipalID, map[string]any{
		"client_id": cmd.ClientID,
	})
	return &Token{
		AccessToken:  accessToken,
		ExpiresIn:    int64(s.ttl.Access.Seconds()),
		RefreshToken: cmd.RefreshToken,
		Scope:        authz.Scope,
		TokenType:    TokenTypeBearer,
	}, nil
}

// FindUser resolves a bearer access token to its user aggregate. Unknown and
// expired tokens resolve to (nil, nil) so callers can distinguish "no such
// session" from infrastructure failure. Resolutions are memoized until the
// token expires.
func (s *AuthorizationService) FindUser(ctx context.Context, accessToken string) (*UserAggregate, error) {
	if accessToken == "" {
		return nil, nil
	}
	if agg, ok := s.users.Get(accessToken); ok {
		return agg, nil
	}

	authz, err := s.store.FindAuthorization(ctx, FindAuthorizationQuery{AccessToken: accessToken})
	if err != nil {
		if errors.Is(err, errorx.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	now := s.now()
	if authz.AccessTokenExpiresAt.Before(now) {
		return nil, nil
	}

	client, err := s.clients.GetClientByID(ctx, authz.ClientID)
	if err != nil {
		if errors.Is(err, errorx.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	user, err := s.directory.Lookup(ctx, authz.PrincipalID)
	if err != nil {
		if errors.Is(err, errorx.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	agg := &UserAggregate{
		User:          user,
		Client:        client.View(),
		Authorization: authz.View(),
		Scope:         authz.Scope,
		ExpiresAt:     authz.AccessTokenExpiresAt,
	}
	s.users.Set(accessToken, agg, authz.AccessTokenExpiresAt.Sub(now))
	return agg, nil
}

// ForgetClient drops every memoized resolution belonging to the client. Call
// it when a client is deleted so its live tokens stop resolving immediately
// instead of riding out the cache TTL.
func (s *AuthorizationService) ForgetClient(clientID int64) {
	s.users.DeleteFunc(func(agg *UserAggregate) bool {
		return agg.Client.ID == clientID
	})
}

// FindAuthorization exposes the raw record lookup for administrative reads.
func (s *AuthorizationService) FindAuthorization(ctx context.Context, q FindAuthorizationQuery) (*Authorization, error) {
	return s.store.FindAuthorization(ctx, q)
}
