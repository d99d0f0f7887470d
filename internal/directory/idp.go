package directory

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ghtak/stardust/internal/errorx"
)

// IdentityProvider verifies login tokens minted by the upstream identity
// provider (the user module's session service) and turns them into
// principals. Tokens are RS256 JWTs checked against the provider's JWKS
// endpoint; the subject claim carries the principal id.
//
// These are the resource owner's login credentials, not the tokens this
// server issues. Issued access and refresh tokens stay opaque.
type IdentityProvider struct {
	jwksURL    string
	issuer     string
	httpClient *http.Client

	keysMu     sync.RWMutex
	publicKeys map[string]*rsa.PublicKey

	seenMu sync.RWMutex
	seen   map[int64]*Principal
}

type idpClaims struct {
	jwt.RegisteredClaims
	Username string `json:"preferred_username"`
	Email    string `json:"email"`
}

// NewIdentityProvider builds a verifier against the given JWKS endpoint.
// Keys are fetched lazily and cached; an unknown kid triggers one refresh.
func NewIdentityProvider(jwksURL, issuer string) *IdentityProvider {
	return &IdentityProvider{
		jwksURL:    jwksURL,
		issuer:     issuer,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		publicKeys: make(map[string]*rsa.PublicKey),
		seen:       make(map[int64]*Principal),
	}
}

// VerifyToken validates the login token and returns the principal it names.
func (p *IdentityProvider) VerifyToken(ctx context.Context, tokenString string) (*Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256"})}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &idpClaims{}, func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in token header")
		}
		return p.publicKey(ctx, kid)
	}, opts...)
	if err != nil {
		return nil, errorx.Unauthorized("login token verification failed: %v", err)
	}

	claims, ok := token.Claims.(*idpClaims)
	if !ok || !token.Valid {
		return nil, errorx.Unauthorized("invalid login token")
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, errorx.Unauthorized("login token subject is not a principal id")
	}

	principal := &Principal{
		ID:       id,
		Username: claims.Username,
		Email:    claims.Email,
	}

	p.seenMu.Lock()
	p.seen[id] = principal
	p.seenMu.Unlock()

	return principal, nil
}

// Lookup serves principals this provider has verified before, making the
// provider usable as the Directory when the upstream exposes no user API.
// Verified principals outlive their login tokens here so bearer resolution
// keeps working for the life of the access token.
func (p *IdentityProvider) Lookup(ctx context.Context, id int64) (*Principal, error) {
	p.seenMu.RLock()
	defer p.seenMu.RUnlock()

	principal, ok := p.seen[id]
	if !ok {
		return nil, errorx.NotFound("principal %d", id)
	}
	out := *principal
	return &out, nil
}

func (p *IdentityProvider) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	p.keysMu.RLock()
	key, ok := p.publicKeys[kid]
	p.keysMu.RUnlock()
	if ok {
		return key, nil
	}

	if err := p.refreshPublicKeys(ctx); err != nil {
		return nil, err
	}

	p.keysMu.RLock()
	key, ok = p.publicKeys[kid]
	p.keysMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("public key not found for kid %q", kid)
	}
	return key, nil
}

func (p *IdentityProvider) refreshPublicKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.jwksURL, nil)
	if err != nil {
		return err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch JWKS: status %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return err
	}

	p.keysMu.Lock()
	defer p.keysMu.Unlock()

	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}

		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}

		var e int
		for _, b := range eBytes {
			e = e<<8 + int(b)
		}

		p.publicKeys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: e,
		}
	}
	return nil
}
