package oauth

import (
	"context"

	"go.uber.org/zap"

	"github.com/ghtak/stardust/internal/audit"
	"github.com/ghtak/stardust/internal/errorx"
)

// ClientService is the registry of OAuth2 clients: registration, listing,
// deletion and secret verification. It is the only place client secrets are
// checked; the authorization service calls VerifyClient before every code or
// token exchange.
type ClientService struct {
	store  ClientStore
	hasher SecretHasher
	audit  *audit.Publisher
	logger *zap.Logger
}

// NewClientService wires the registry. hasher is the strategy for client
// secrets (bcrypt in production).
func NewClientService(store ClientStore, hasher SecretHasher, auditPub *audit.Publisher, logger *zap.Logger) *ClientService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientService{
		store:  store,
		hasher: hasher,
		audit:  auditPub,
		logger: logger,
	}
}

// CreateClient hashes the secret and persists the client. The store is the
// uniqueness authority: a duplicate client_id surfaces as AlreadyExists, no
// pre-check here. The plaintext secret is discarded after hashing.
func (s *ClientService) CreateClient(ctx context.Context, cmd CreateClientCommand) (*Client, error) {
	hash, err := s.hasher.Hash(cmd.ClientSecret)
	if err != nil {
		return nil, errorx.Internal("client secret hashing failed", err)
	}

	client := &Client{
		Name:             cmd.Name,
		ClientID:         cmd.ClientID,
		ClientSecretHash: hash,
		RedirectURIs:     cmd.RedirectURIs,
		GrantTypes:       cmd.GrantTypes,
		AuthMethods:      cmd.AuthMethods,
		Scopes:           cmd.Scopes,
	}

	stored, err := s.store.CreateClient(ctx, client)
	if err != nil {
		return nil, err
	}

	s.logger.Info("oauth2 client created",
		zap.String("client_id", stored.ClientID),
		zap.Int64("id", stored.ID))
	s.audit.Publish(ctx, audit.EventClientCreated, 0, map[string]any{
		"client_id": stored.ClientID,
	})
	return stored, nil
}

// FindClients lists clients most-recently-created first. An empty query
// returns all.
func (s *ClientService) FindClients(ctx context.Context, q FindClientQuery) ([]*Client, error) {
	return s.store.FindClients(ctx, q)
}

// FindClient loads one client by its public client_id.
func (s *ClientService) FindClient(ctx context.Context, clientID string) (*Client, error) {
	clients, err := s.store.FindClients(ctx, FindClientQuery{ClientID: clientID})
	if err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		return nil, errorx.NotFound("client %q", clientID)
	}
	return clients[0], nil
}

// GetClientByID loads one client by row id, used for aggregate assembly.
func (s *ClientService) GetClientByID(ctx context.Context, id int64) (*Client, error) {
	return s.store.GetClientByID(ctx, id)
}

// DeleteClient removes the client unconditionally. Outstanding authorization
// records are left in place; bearer resolution treats their tokens as dead
// sessions once the client row is gone. Callers holding an
// AuthorizationService should follow up with ForgetClient so memoized
// resolutions die with the row.
func (s *ClientService) DeleteClient(ctx context.Context, id int64) error {
	if err := s.store.DeleteClient(ctx, id); err != nil {
		return err
	}

	s.logger.Info("oauth2 client deleted", zap.Int64("id", id))
	s.audit.Publish(ctx, audit.EventClientDeleted, 0, map[string]any{"id": id})
	return nil
}

// VerifyClient authenticates a client: NotFound for an unknown client_id,
// Unauthorized when the secret does not match the stored hash. Secrets are
// never logged.
func (s *ClientService) VerifyClient(ctx context.Context, clientID, secret string) error {
	client, err := s.FindClient(ctx, clientID)
	if err != nil {
		return err
	}

	result, err := s.hasher.Verify(secret, client.ClientSecretHash)
	if err != nil {
		return errorx.Internal("client secret verification failed", err)
	}
	if !result.Valid {
		s.logger.Warn("client secret mismatch", zap.String("client_id", clientID))
		return errorx.Unauthorized("invalid client secret")
	}
	return nil
}
