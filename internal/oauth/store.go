package oauth

import (
	"context"
	"time"
)

// ClientStore persists registered clients. It is the uniqueness authority for
// client_id: CreateClient returns errorx.ErrAlreadyExists on a duplicate.
type ClientStore interface {
	CreateClient(ctx context.Context, client *Client) (*Client, error)
	GetClientByID(ctx context.Context, id int64) (*Client, error)
	FindClients(ctx context.Context, q FindClientQuery) ([]*Client, error)
	DeleteClient(ctx context.Context, id int64) error
}

// AuthorizationStore persists authorization records. RedeemCode and
// RotateAccess are the two protocol transitions and must be atomic: each is a
// single conditional write that either applies the transition and returns the
// updated record, or fails without side effects. Two concurrent redemptions
// of the same code must not both succeed.
type AuthorizationStore interface {
	CreateAuthorization(ctx context.Context, authz *Authorization) (*Authorization, error)

	// FindAuthorization returns errorx.ErrNotFound when no record matches.
	FindAuthorization(ctx context.Context, q FindAuthorizationQuery) (*Authorization, error)

	// RedeemCode applies the code→token transition to the record whose
	// auth_code_value equals code, but only while the code is unexpired,
	// unredeemed and owned by grant.ClientID. errorx.ErrNotFound when no
	// record carries the code, errorx.ErrUnauthorized when the code exists
	// but is expired, spent or bound to another client. A failed redemption
	// has no side effects.
	RedeemCode(ctx context.Context, code string, grant TokenGrant) (*Authorization, error)

	// RotateAccess applies the refresh transition to the record whose
	// refresh_token_hash equals hash and whose refresh window is still open.
	// errorx.ErrNotFound otherwise.
	RotateAccess(ctx context.Context, hash string, rot AccessRotation) (*Authorization, error)
}

// AuthRequest is a pending authorization request parked while the resource
// owner goes through login. It carries the verified request parameters so the
// flow can resume without re-sending them.
type AuthRequest struct {
	RequestID    string    `json:"request_id"`
	ClientID     string    `json:"client_id"`
	RedirectURI  string    `json:"redirect_uri"`
	ResponseType string    `json:"response_type"`
	Scope        string    `json:"scope"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RequestStore holds pending authorization requests between the initial
// authorize call and the post-login completion. Take is single-use: it
// returns the request and removes it. Expired requests behave as absent.
type RequestStore interface {
	SaveRequest(ctx context.Context, req *AuthRequest) error
	TakeRequest(ctx context.Context, requestID string) (*AuthRequest, error)
}
