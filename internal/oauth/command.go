package oauth

// CreateClientCommand registers a new client. Secret arrives in plaintext and
// is hashed before anything is persisted.
type CreateClientCommand struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURIs []string
	GrantTypes   []string
	AuthMethods  []string
	Scopes       []string
}

// VerifyCommand is the authorization-request pre-check: the query-string
// parameters of GET /oauth2/authorize. ResponseType and State are currently
// unvalidated pass-through fields.
type VerifyCommand struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
	State        string
}

// TokenCommand is the token-endpoint request. Code is set for the
// authorization_code grant, RefreshToken for the refresh_token grant.
type TokenCommand struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Code         string
	RefreshToken string
}

// FindClientQuery filters client listing. The zero value matches everything.
type FindClientQuery struct {
	ClientID string
}

// FindAuthorizationQuery locates one authorization record. Set exactly one
// field; stores AND any that are non-empty, mirroring the lookup keys the
// protocol uses (code redemption, refresh, bearer resolution).
type FindAuthorizationQuery struct {
	AuthCodeValue    string
	RefreshTokenHash string
	AccessToken      string
}
