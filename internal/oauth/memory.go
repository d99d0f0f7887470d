package oauth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ghtak/stardust/internal/errorx"
)

// MemoryStore implements ClientStore, AuthorizationStore and RequestStore in
// memory. It backs tests and single-node development; an RWMutex makes the
// conditional transitions atomic.
type MemoryStore struct {
	mu sync.RWMutex

	nextClientID int64
	nextAuthzID  int64

	clients        map[int64]*Client
	authorizations map[int64]*Authorization
	requests       map[string]*AuthRequest
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextClientID:   1,
		nextAuthzID:    1,
		clients:        make(map[int64]*Client),
		authorizations: make(map[int64]*Authorization),
		requests:       make(map[string]*AuthRequest),
	}
}

func (s *MemoryStore) CreateClient(ctx context.Context, client *Client) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.clients {
		if existing.ClientID == client.ClientID {
			return nil, errorx.ErrAlreadyExists
		}
	}

	stored := *client
	stored.ID = s.nextClientID
	s.nextClientID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.clients[stored.ID] = &stored

	out := stored
	return &out, nil
}

func (s *MemoryStore) GetClientByID(ctx context.Context, id int64) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		return nil, errorx.ErrNotFound
	}
	out := *client
	return &out, nil
}

func (s *MemoryStore) FindClients(ctx context.Context, q FindClientQuery) ([]*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Client
	for _, client := range s.clients {
		if q.ClientID != "" && client.ClientID != q.ClientID {
			continue
		}
		dup := *client
		out = append(out, &dup)
	}

	// Most recently created first, matching the Postgres ORDER BY id DESC.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryStore) DeleteClient(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, id)
	return nil
}

func (s *MemoryStore) CreateAuthorization(ctx context.Context, authz *Authorization) (*Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := authz.Clone()
	stored.ID = s.nextAuthzID
	s.nextAuthzID++
	s.authorizations[stored.ID] = stored

	return stored.Clone(), nil
}

func (s *MemoryStore) FindAuthorization(ctx context.Context, q FindAuthorizationQuery) (*Authorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, authz := range s.authorizations {
		if matchAuthorization(authz, q) {
			return authz.Clone(), nil
		}
	}
	return nil, errorx.ErrNotFound
}

func (s *MemoryStore) RedeemCode(ctx context.Context, code string, grant TokenGrant) (*Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, authz := range s.authorizations {
		if authz.AuthCodeValue != code {
			continue
		}
		if authz.ClientID != grant.ClientID || authz.Redeemed() || authz.CodeExpired(grant.Now) {
			return nil, errorx.Unauthorized("authorization code expired")
		}
		authz.ApplyRedemption(grant)
		return authz.Clone(), nil
	}
	return nil, errorx.ErrNotFound
}

func (s *MemoryStore) RotateAccess(ctx context.Context, hash string, rot AccessRotation) (*Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, authz := range s.authorizations {
		if authz.RefreshTokenHash != hash || hash == "" {
			continue
		}
		if authz.RefreshTokenExpiresAt.Before(rot.Now) {
			return nil, errorx.ErrNotFound
		}
		authz.ApplyRotation(rot)
		return authz.Clone(), nil
	}
	return nil, errorx.ErrNotFound
}

func (s *MemoryStore) SaveRequest(ctx context.Context, req *AuthRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dup := *req
	s.requests[req.RequestID] = &dup
	return nil
}

func (s *MemoryStore) TakeRequest(ctx context.Context, requestID string) (*AuthRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return nil, errorx.ErrNotFound
	}
	delete(s.requests, requestID)
	if req.ExpiresAt.Before(time.Now()) {
		return nil, errorx.ErrNotFound
	}
	return req, nil
}

func matchAuthorization(a *Authorization, q FindAuthorizationQuery) bool {
	if q.AuthCodeValue == "" && q.RefreshTokenHash == "" && q.AccessToken == "" {
		return false
	}
	if q.AuthCodeValue != "" && a.AuthCodeValue != q.AuthCodeValue {
		return false
	}
	if q.RefreshTokenHash != "" && a.RefreshTokenHash != q.RefreshTokenHash {
		return false
	}
	if q.AccessToken != "" && a.AccessTokenValue != q.AccessToken {
		return false
	}
	return true
}
