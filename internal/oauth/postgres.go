package oauth

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ghtak/stardust/internal/errorx"
)

// PostgresStore implements ClientStore, AuthorizationStore and RequestStore
// on PostgreSQL. Both protocol transitions are single conditional UPDATEs
// with RETURNING, so concurrent redemptions of one code race on the row
// instead of on application state and exactly one wins.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool, verifies connectivity and
// bootstraps the schema.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS oauth2_client (
		id BIGSERIAL PRIMARY KEY,
		client_id VARCHAR(255) UNIQUE NOT NULL,
		client_secret_hash VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		redirect_uris TEXT[] NOT NULL,
		grant_types TEXT[] NOT NULL,
		auth_methods TEXT[] NOT NULL,
		scopes TEXT[] NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS oauth2_authorization (
		id BIGSERIAL PRIMARY KEY,
		oauth2_client_id BIGINT NOT NULL REFERENCES oauth2_client(id),
		principal_id BIGINT NOT NULL,
		grant_type VARCHAR(50) NOT NULL,
		scope TEXT NOT NULL DEFAULT '',
		state VARCHAR(255) NOT NULL DEFAULT '',
		auth_code_value VARCHAR(255) NOT NULL,
		auth_code_issued_at TIMESTAMPTZ NOT NULL,
		auth_code_expires_at TIMESTAMPTZ NOT NULL,
		access_token_value VARCHAR(255) NOT NULL DEFAULT '',
		access_token_issued_at TIMESTAMPTZ,
		access_token_expires_at TIMESTAMPTZ,
		refresh_token_hash VARCHAR(255) NOT NULL DEFAULT '',
		refresh_token_issued_at TIMESTAMPTZ,
		refresh_token_expires_at TIMESTAMPTZ,
		config JSONB NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS oauth2_auth_request (
		request_id VARCHAR(255) PRIMARY KEY,
		client_id VARCHAR(255) NOT NULL,
		redirect_uri TEXT NOT NULL,
		response_type VARCHAR(50) NOT NULL,
		scope TEXT NOT NULL DEFAULT '',
		state VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_oauth2_authorization_code ON oauth2_authorization(auth_code_value);
	CREATE INDEX IF NOT EXISTS idx_oauth2_authorization_access ON oauth2_authorization(access_token_value);
	CREATE INDEX IF NOT EXISTS idx_oauth2_authorization_refresh ON oauth2_authorization(refresh_token_hash);
	`

	_, err := s.db.Exec(query)
	return err
}

// Ping tests database connectivity.
func (s *PostgresStore) Ping() error {
	return s.db.Ping()
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const clientColumns = `id, client_id, client_secret_hash, name, redirect_uris, grant_types, auth_methods, scopes, created_at`

func (s *PostgresStore) CreateClient(ctx context.Context, client *Client) (*Client, error) {
	query := `
		INSERT INTO oauth2_client
			(client_id, client_secret_hash, name, redirect_uris, grant_types, auth_methods, scopes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + clientColumns

	row := s.db.QueryRowContext(ctx, query,
		client.ClientID,
		client.ClientSecretHash,
		client.Name,
		pq.Array(client.RedirectURIs),
		pq.Array(client.GrantTypes),
		pq.Array(client.AuthMethods),
		pq.Array(client.Scopes),
	)

	stored, err := scanClient(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errorx.ErrAlreadyExists
		}
		return nil, errorx.Internal("insert client failed", err)
	}
	return stored, nil
}

func (s *PostgresStore) GetClientByID(ctx context.Context, id int64) (*Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM oauth2_client WHERE id = $1`, id)

	client, err := scanClient(row)
	if err == sql.ErrNoRows {
		return nil, errorx.ErrNotFound
	}
	if err != nil {
		return nil, errorx.Internal("select client failed", err)
	}
	return client, nil
}

func (s *PostgresStore) FindClients(ctx context.Context, q FindClientQuery) ([]*Client, error) {
	query := `SELECT ` + clientColumns + ` FROM oauth2_client WHERE 1 = 1`
	var args []any
	if q.ClientID != "" {
		args = append(args, q.ClientID)
		query += fmt.Sprintf(" AND client_id = $%d", len(args))
	}
	query += " ORDER BY id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errorx.Internal("select clients failed", err)
	}
	defer rows.Close()

	var out []*Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, errorx.Internal("scan client failed", err)
		}
		out = append(out, client)
	}
	if err := rows.Err(); err != nil {
		return nil, errorx.Internal("iterate clients failed", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteClient(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth2_client WHERE id = $1`, id); err != nil {
		return errorx.Internal("delete client failed", err)
	}
	return nil
}

const authorizationColumns = `id, oauth2_client_id, principal_id, grant_type, scope, state,
	auth_code_value, auth_code_issued_at, auth_code_expires_at,
	access_token_value, access_token_issued_at, access_token_expires_at,
	refresh_token_hash, refresh_token_issued_at, refresh_token_expires_at, config`

func (s *PostgresStore) CreateAuthorization(ctx context.Context, authz *Authorization) (*Authorization, error) {
	config, err := json.Marshal(authz.Config)
	if err != nil {
		return nil, errorx.Internal("marshal authorization config failed", err)
	}

	query := `
		INSERT INTO oauth2_authorization
			(oauth2_client_id, principal_id, grant_type, scope, state,
			auth_code_value, auth_code_issued_at, auth_code_expires_at,
			access_token_value, access_token_issued_at, access_token_expires_at,
			refresh_token_hash, refresh_token_issued_at, refresh_token_expires_at, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING ` + authorizationColumns

	row := s.db.QueryRowContext(ctx, query,
		authz.ClientID,
		authz.PrincipalID,
		authz.GrantType,
		authz.Scope,
		authz.State,
		authz.AuthCodeValue,
		authz.AuthCodeIssuedAt,
		authz.AuthCodeExpiresAt,
		authz.AccessTokenValue,
		nullableTime(authz.AccessTokenIssuedAt),
		nullableTime(authz.AccessTokenExpiresAt),
		authz.RefreshTokenHash,
		nullableTime(authz.RefreshTokenIssuedAt),
		nullableTime(authz.RefreshTokenExpiresAt),
		config,
	)

	stored, err := scanAuthorization(row)
	if err != nil {
		return nil, errorx.Internal("insert authorization failed", err)
	}
	return stored, nil
}

func (s *PostgresStore) FindAuthorization(ctx context.Context, q FindAuthorizationQuery) (*Authorization, error) {
	query := `SELECT ` + authorizationColumns + ` FROM oauth2_authorization WHERE 1 = 1`
	var args []any
	if q.AuthCodeValue != "" {
		args = append(args, q.AuthCodeValue)
		query += fmt.Sprintf(" AND auth_code_value = $%d", len(args))
	}
	if q.RefreshTokenHash != "" {
		args = append(args, q.RefreshTokenHash)
		query += fmt.Sprintf(" AND refresh_token_hash = $%d", len(args))
	}
	if q.AccessToken != "" {
		args = append(args, q.AccessToken)
		query += fmt.Sprintf(" AND access_token_value = $%d", len(args))
	}
	if len(args) == 0 {
		return nil, errorx.ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, query, args...)
	authz, err := scanAuthorization(row)
	if err == sql.ErrNoRows {
		return nil, errorx.ErrNotFound
	}
	if err != nil {
		return nil, errorx.Internal("select authorization failed", err)
	}
	return authz, nil
}

func (s *PostgresStore) RedeemCode(ctx context.Context, code string, grant TokenGrant) (*Authorization, error) {
	query := `
		UPDATE oauth2_authorization SET
			auth_code_expires_at = $1,
			access_token_value = $2,
			access_token_issued_at = $1,
			access_token_expires_at = $3,
			refresh_token_hash = $4,
			refresh_token_issued_at = $1,
			refresh_token_expires_at = $5
		WHERE auth_code_value = $6
			AND oauth2_client_id = $7
			AND auth_code_expires_at >= $1
			AND access_token_value = ''
		RETURNING ` + authorizationColumns

	row := s.db.QueryRowContext(ctx, query,
		grant.Now,
		grant.AccessToken,
		grant.AccessExpiresAt,
		grant.RefreshTokenHash,
		grant.RefreshExpiresAt,
		code,
		grant.ClientID,
	)

	authz, err := scanAuthorization(row)
	if err == sql.ErrNoRows {
		// The conditional update lost: either the code never existed, or it
		// exists but is expired, already spent or bound to another client.
		// Classify for the caller.
		return nil, s.classifyRedeemFailure(ctx, code)
	}
	if err != nil {
		return nil, errorx.Internal("redeem code failed", err)
	}
	return authz, nil
}

func (s *PostgresStore) classifyRedeemFailure(ctx context.Context, code string) error {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM oauth2_authorization WHERE auth_code_value = $1`, code).Scan(&id)
	if err == sql.ErrNoRows {
		return errorx.ErrNotFound
	}
	if err != nil {
		return errorx.Internal("classify redemption failure failed", err)
	}
	return errorx.Unauthorized("authorization code expired")
}

func (s *PostgresStore) RotateAccess(ctx context.Context, hash string, rot AccessRotation) (*Authorization, error) {
	if hash == "" {
		return nil, errorx.ErrNotFound
	}

	query := `
		UPDATE oauth2_authorization SET
			access_token_value = $1,
			access_token_issued_at = $2,
			access_token_expires_at = $3,
			refresh_token_expires_at = $4
		WHERE refresh_token_hash = $5
			AND refresh_token_expires_at >= $2
		RETURNING ` + authorizationColumns

	row := s.db.QueryRowContext(ctx, query,
		rot.AccessToken,
		rot.Now,
		rot.AccessExpiresAt,
		rot.RefreshExpiresAt,
		hash,
	)

	authz, err := scanAuthorization(row)
	if err == sql.ErrNoRows {
		return nil, errorx.ErrNotFound
	}
	if err != nil {
		return nil, errorx.Internal("rotate access token failed", err)
	}
	return authz, nil
}

func (s *PostgresStore) SaveRequest(ctx context.Context, req *AuthRequest) error {
	query := `
		INSERT INTO oauth2_auth_request
			(request_id, client_id, redirect_uri, response_type, scope, state, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		req.RequestID,
		req.ClientID,
		req.RedirectURI,
		req.ResponseType,
		req.Scope,
		req.State,
		req.CreatedAt,
		req.ExpiresAt,
	)
	if err != nil {
		return errorx.Internal("insert auth request failed", err)
	}
	return nil
}

func (s *PostgresStore) TakeRequest(ctx context.Context, requestID string) (*AuthRequest, error) {
	query := `
		DELETE FROM oauth2_auth_request
		WHERE request_id = $1
		RETURNING request_id, client_id, redirect_uri, response_type, scope, state, created_at, expires_at
	`
	var req AuthRequest
	err := s.db.QueryRowContext(ctx, query, requestID).Scan(
		&req.RequestID,
		&req.ClientID,
		&req.RedirectURI,
		&req.ResponseType,
		&req.Scope,
		&req.State,
		&req.CreatedAt,
		&req.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, errorx.ErrNotFound
	}
	if err != nil {
		return nil, errorx.Internal("take auth request failed", err)
	}
	if req.ExpiresAt.Before(time.Now()) {
		return nil, errorx.ErrNotFound
	}
	return &req, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*Client, error) {
	var client Client
	var redirectURIs, grantTypes, authMethods, scopes []string

	err := row.Scan(
		&client.ID,
		&client.ClientID,
		&client.ClientSecretHash,
		&client.Name,
		pq.Array(&redirectURIs),
		pq.Array(&grantTypes),
		pq.Array(&authMethods),
		pq.Array(&scopes),
		&client.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	client.RedirectURIs = redirectURIs
	client.GrantTypes = grantTypes
	client.AuthMethods = authMethods
	client.Scopes = scopes
	return &client, nil
}

func scanAuthorization(row rowScanner) (*Authorization, error) {
	var authz Authorization
	var accessIssued, accessExpires, refreshIssued, refreshExpires sql.NullTime
	var config []byte

	err := row.Scan(
		&authz.ID,
		&authz.ClientID,
		&authz.PrincipalID,
		&authz.GrantType,
		&authz.Scope,
		&authz.State,
		&authz.AuthCodeValue,
		&authz.AuthCodeIssuedAt,
		&authz.AuthCodeExpiresAt,
		&authz.AccessTokenValue,
		&accessIssued,
		&accessExpires,
		&authz.RefreshTokenHash,
		&refreshIssued,
		&refreshExpires,
		&config,
	)
	if err != nil {
		return nil, err
	}

	authz.AccessTokenIssuedAt = accessIssued.Time
	authz.AccessTokenExpiresAt = accessExpires.Time
	authz.RefreshTokenIssuedAt = refreshIssued.Time
	authz.RefreshTokenExpiresAt = refreshExpires.Time

	if len(config) > 0 {
		if err := json.Unmarshal(config, &authz.Config); err != nil {
			return nil, err
		}
	}
	if authz.Config == nil {
		authz.Config = map[string]any{}
	}
	return &authz, nil
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
