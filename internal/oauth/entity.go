// Package oauth implements the OAuth2 authorization-code protocol core:
// client registration, authorization-code issuance, token exchange, refresh
// rotation and bearer-token resolution. Persistence and secret hashing are
// pluggable through the ClientStore, AuthorizationStore and SecretHasher
// interfaces so the same services run against Postgres in production and the
// in-memory store in tests.
package oauth

import (
	"slices"
	"time"
)

// Grant types understood by the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
)

// TokenTypeBearer is the only token_type this server issues.
const TokenTypeBearer = "Bearer"

// Client is a registered OAuth2 client. The secret is kept only as a hash;
// the plaintext is discarded at registration time and never logged.
type Client struct {
	ID               int64
	Name             string
	ClientID         string
	ClientSecretHash string
	RedirectURIs     []string
	GrantTypes       []string
	AuthMethods      []string
	Scopes           []string
	CreatedAt        time.Time
}

// AllowsRedirectURI reports whether uri is literally present in the client's
// registered redirect URIs. No wildcard or prefix matching.
func (c *Client) AllowsRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// AllowsScope reports whether scope is one of the client's registered scopes.
func (c *Client) AllowsScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// View strips the secret hash for responses that leave the server.
func (c *Client) View() ClientView {
	return ClientView{
		ID:           c.ID,
		Name:         c.Name,
		ClientID:     c.ClientID,
		RedirectURIs: c.RedirectURIs,
		GrantTypes:   c.GrantTypes,
		AuthMethods:  c.AuthMethods,
		Scopes:       c.Scopes,
	}
}

// ClientView is the externally visible shape of a client.
type ClientView struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	ClientID     string   `json:"client_id"`
	RedirectURIs []string `json:"redirect_uris"`
	GrantTypes   []string `json:"grant_types"`
	AuthMethods  []string `json:"auth_methods"`
	Scopes       []string `json:"scopes"`
}

// Authorization owns the full protocol lifecycle of one grant: it is created
// holding only an authorization code, mutated once when the code is redeemed
// for tokens, and mutated again on every refresh. ClientID is the row id of
// the owning Client (not the public client_id string).
type Authorization struct {
	ID          int64
	ClientID    int64
	PrincipalID int64
	GrantType   string
	Scope       string
	State       string

	AuthCodeValue     string
	AuthCodeIssuedAt  time.Time
	AuthCodeExpiresAt time.Time

	AccessTokenValue     string
	AccessTokenIssuedAt  time.Time
	AccessTokenExpiresAt time.Time

	RefreshTokenHash      string
	RefreshTokenIssuedAt  time.Time
	RefreshTokenExpiresAt time.Time

	Config map[string]any
}

// NewAuthorization builds a code-only record: a fresh opaque code with the
// given TTL, empty access and refresh fields, scope and state copied from the
// request and frozen from then on.
func NewAuthorization(clientID, principalID int64, scope, state string, now time.Time, codeTTL time.Duration) *Authorization {
	return &Authorization{
		ClientID:          clientID,
		PrincipalID:       principalID,
		GrantType:         GrantAuthorizationCode,
		Scope:             scope,
		State:             state,
		AuthCodeValue:     NewUID(),
		AuthCodeIssuedAt:  now,
		AuthCodeExpiresAt: now.Add(codeTTL),
		Config:            map[string]any{},
	}
}

// Redeemed reports whether the code has already been exchanged for tokens.
func (a *Authorization) Redeemed() bool {
	return a.AccessTokenValue != ""
}

// CodeExpired reports whether the authorization code is past its expiry.
// After redemption the expiry is forced to the redemption instant, so a
// redeemed record always reads as expired here.
func (a *Authorization) CodeExpired(now time.Time) bool {
	return a.AuthCodeExpiresAt.Before(now)
}

// ApplyRedemption performs the code→token transition in place: fills the
// access and refresh fields and forces the code expiry to now so the code can
// never be redeemed twice.
func (a *Authorization) ApplyRedemption(g TokenGrant) {
	a.AuthCodeExpiresAt = g.Now
	a.AccessTokenValue = g.AccessToken
	a.AccessTokenIssuedAt = g.Now
	a.AccessTokenExpiresAt = g.AccessExpiresAt
	a.RefreshTokenHash = g.RefreshTokenHash
	a.RefreshTokenIssuedAt = g.Now
	a.RefreshTokenExpiresAt = g.RefreshExpiresAt
}

// ApplyRotation performs the refresh transition in place: a new access token
// and a pushed-out refresh expiry. The refresh token hash is untouched.
func (a *Authorization) ApplyRotation(r AccessRotation) {
	a.AccessTokenValue = r.AccessToken
	a.AccessTokenIssuedAt = r.Now
	a.AccessTokenExpiresAt = r.AccessExpiresAt
	a.RefreshTokenExpiresAt = r.RefreshExpiresAt
}

// Clone returns a deep enough copy for the in-memory store to hand out
// without aliasing its internal state.
func (a *Authorization) Clone() *Authorization {
	dup := *a
	if a.Config != nil {
		dup.Config = make(map[string]any, len(a.Config))
		for k, v := range a.Config {
			dup.Config[k] = v
		}
	}
	return &dup
}

// View strips the token values and the refresh hash, which never leave the
// server.
func (a *Authorization) View() AuthorizationView {
	return AuthorizationView{
		ID:                    a.ID,
		PrincipalID:           a.PrincipalID,
		GrantType:             a.GrantType,
		Scope:                 a.Scope,
		State:                 a.State,
		AuthCodeIssuedAt:      a.AuthCodeIssuedAt,
		AccessTokenIssuedAt:   a.AccessTokenIssuedAt,
		AccessTokenExpiresAt:  a.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: a.RefreshTokenExpiresAt,
	}
}

// AuthorizationView is the externally visible shape of an authorization.
type AuthorizationView struct {
	ID                    int64     `json:"id"`
	PrincipalID           int64     `json:"principal_id"`
	GrantType             string    `json:"grant_type"`
	Scope                 string    `json:"scope"`
	State                 string    `json:"state,omitempty"`
	AuthCodeIssuedAt      time.Time `json:"auth_code_issued_at"`
	AccessTokenIssuedAt   time.Time `json:"access_token_issued_at"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
}

// TokenGrant carries the precomputed values of a code redemption so stores
// can apply the code→token transition as one conditional write. ClientID is
// the row id of the verified client presenting the code; redemption succeeds
// only when it matches the record, so a code stolen by another registered
// client fails without being spent.
type TokenGrant struct {
	Now              time.Time
	ClientID         int64
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshTokenHash string
	RefreshExpiresAt time.Time
}

// AccessRotation carries the precomputed values of a refresh: a new access
// token and the extended refresh window.
type AccessRotation struct {
	Now              time.Time
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Token is the token-endpoint response. RefreshToken holds the plaintext
// value and is populated exactly once per authorization, at redemption; the
// refresh grant echoes the same string back.
type Token struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}
