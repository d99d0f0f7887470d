// Package api exposes the OAuth2 endpoints over HTTP: client management,
// the authorize/token pair and bearer-token resolution.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ghtak/stardust/internal/directory"
	"github.com/ghtak/stardust/internal/errorx"
	"github.com/ghtak/stardust/internal/oauth"
)

// Pending authorize requests wait this long for the resource owner to finish
// logging in.
const requestTTL = 10 * time.Minute

// TokenVerifier authenticates a resource owner from an identity-provider
// token. Satisfied by directory.IdentityProvider.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*directory.Principal, error)
}

// Server wires the OAuth2 services to HTTP.
type Server struct {
	clients  *oauth.ClientService
	authz    *oauth.AuthorizationService
	requests oauth.RequestStore
	verifier TokenVerifier
	loginURL string
	logger   *zap.Logger
}

// NewServer builds the HTTP layer. loginURL is where unauthenticated
// authorize requests are redirected; empty means such requests get a 401.
func NewServer(clients *oauth.ClientService, authz *oauth.AuthorizationService, requests oauth.RequestStore, verifier TokenVerifier, loginURL string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		clients:  clients,
		authz:    authz,
		requests: requests,
		verifier: verifier,
		loginURL: loginURL,
		logger:   logger,
	}
}

// Routes registers all endpoints on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/oauth2/client", s.handleClients)
	mux.HandleFunc("/oauth2/client/", s.handleClientByID)
	mux.HandleFunc("/oauth2/authorize", s.handleAuthorize)
	mux.HandleFunc("/oauth2/authorize/complete", s.handleAuthorizeComplete)
	mux.HandleFunc("/oauth2/token", s.handleToken)
	mux.HandleFunc("/oauth2/me", s.handleMe)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createClient(w, r)
	case http.MethodGet:
		s.listClients(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) createClient(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name         string   `json:"name"`
		ClientID     string   `json:"client_id"`
		ClientSecret string   `json:"client_secret"`
		RedirectURIs []string `json:"redirect_uris"`
		GrantTypes   []string `json:"grant_types"`
		AuthMethods  []string `json:"auth_methods"`
		Scopes       []string `json:"scopes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if payload.ClientID == "" || payload.ClientSecret == "" {
		s.writeError(w, errorx.InvalidParameter("client_id and client_secret are required"))
		return
	}

	client, err := s.clients.CreateClient(r.Context(), oauth.CreateClientCommand{
		Name:         payload.Name,
		ClientID:     payload.ClientID,
		ClientSecret: payload.ClientSecret,
		RedirectURIs: payload.RedirectURIs,
		GrantTypes:   payload.GrantTypes,
		AuthMethods:  payload.AuthMethods,
		Scopes:       payload.Scopes,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, client.View())
}

func (s *Server) listClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.clients.FindClients(r.Context(), oauth.FindClientQuery{
		ClientID: r.URL.Query().Get("client_id"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]oauth.ClientView, 0, len(clients))
	for _, c := range clients {
		views = append(views, c.View())
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleClientByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/oauth2/client/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.writeError(w, errorx.InvalidParameter("invalid client id %q", raw))
		return
	}
	if err := s.clients.DeleteClient(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	// Memoized bearer resolutions for the deleted client die with it.
	s.authz.ForgetClient(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cmd := oauth.VerifyCommand{
		ResponseType: r.URL.Query().Get("response_type"),
		ClientID:     r.URL.Query().Get("client_id"),
		RedirectURI:  r.URL.Query().Get("redirect_uri"),
		Scope:        r.URL.Query().Get("scope"),
		State:        r.URL.Query().Get("state"),
	}
	if _, err := s.authz.Verify(r.Context(), cmd); err != nil {
		s.writeError(w, err)
		return
	}

	principal, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if principal == nil {
		s.parkRequest(w, r, cmd)
		return
	}

	redirectTo, err := s.completeAuthorize(r.Context(), cmd, principal.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

// parkRequest stores the verified request and sends the resource owner to the
// login flow carrying the request id.
func (s *Server) parkRequest(w http.ResponseWriter, r *http.Request, cmd oauth.VerifyCommand) {
	if s.loginURL == "" {
		s.writeError(w, errorx.Unauthorized("authentication required"))
		return
	}

	now := time.Now()
	req := &oauth.AuthRequest{
		RequestID:    oauth.NewUID(),
		ClientID:     cmd.ClientID,
		RedirectURI:  cmd.RedirectURI,
		ResponseType: cmd.ResponseType,
		Scope:        cmd.Scope,
		State:        cmd.State,
		CreatedAt:    now,
		ExpiresAt:    now.Add(requestTTL),
	}
	if err := s.requests.SaveRequest(r.Context(), req); err != nil {
		s.writeError(w, err)
		return
	}

	login, err := url.Parse(s.loginURL)
	if err != nil {
		s.writeError(w, errorx.Internal("invalid login url", err))
		return
	}
	q := login.Query()
	q.Set("request_id", req.RequestID)
	login.RawQuery = q.Encode()
	http.Redirect(w, r, login.String(), http.StatusFound)
}

func (s *Server) handleAuthorizeComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		RequestID string `json:"request_id"`
		IDToken   string `json:"id_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if payload.RequestID == "" || payload.IDToken == "" {
		s.writeError(w, errorx.InvalidParameter("request_id and id_token are required"))
		return
	}

	req, err := s.requests.TakeRequest(r.Context(), payload.RequestID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.verifier == nil {
		s.writeError(w, errorx.Unauthorized("identity provider not configured"))
		return
	}
	principal, err := s.verifier.VerifyToken(r.Context(), payload.IDToken)
	if err != nil {
		s.writeError(w, err)
		return
	}

	redirectTo, err := s.completeAuthorize(r.Context(), oauth.VerifyCommand{
		ResponseType: req.ResponseType,
		ClientID:     req.ClientID,
		RedirectURI:  req.RedirectURI,
		Scope:        req.Scope,
		State:        req.State,
	}, principal.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"redirect_to": redirectTo})
}

// completeAuthorize issues the code and builds the final redirect URL with
// code and echoed state appended.
func (s *Server) completeAuthorize(ctx context.Context, cmd oauth.VerifyCommand, principalID int64) (string, error) {
	authz, err := s.authz.Authorize(ctx, cmd, principalID)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(cmd.RedirectURI)
	if err != nil {
		return "", errorx.InvalidParameter("invalid redirect_uri %q", cmd.RedirectURI)
	}
	q := u.Query()
	q.Set("code", authz.AuthCodeValue)
	if cmd.State != "" {
		q.Set("state", cmd.State)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form body", http.StatusBadRequest)
		return
	}

	clientID, clientSecret := clientCredentials(r)
	token, err := s.authz.Token(r.Context(), oauth.TokenCommand{
		GrantType:    r.FormValue("grant_type"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  r.FormValue("redirect_uri"),
		Code:         r.FormValue("code"),
		RefreshToken: r.FormValue("refresh_token"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, token)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := bearerToken(r)
	if token == "" {
		s.writeError(w, errorx.Unauthorized("missing bearer token"))
		return
	}
	agg, err := s.authz.FindUser(r.Context(), token)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if agg == nil {
		s.writeError(w, errorx.Unauthorized("invalid or expired access token"))
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// authenticate resolves the resource owner from the Authorization header.
// A missing header means "not logged in yet", not an error.
func (s *Server) authenticate(r *http.Request) (*directory.Principal, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, nil
	}
	if s.verifier == nil {
		return nil, nil
	}
	principal, err := s.verifier.VerifyToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, errorx.ErrUnauthorized) {
			return nil, nil
		}
		return nil, err
	}
	return principal, nil
}

// clientCredentials reads client_id/client_secret from the form body, falling
// back to HTTP basic auth.
func clientCredentials(r *http.Request) (string, string) {
	clientID := r.FormValue("client_id")
	clientSecret := r.FormValue("client_secret")
	if clientID == "" {
		if id, secret, ok := r.BasicAuth(); ok {
			return id, secret
		}
	}
	return clientID, clientSecret
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errorx.StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		http.Error(w, "Internal server error", status)
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
