package api

import (
	"encoding/json"
	"net/http"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/auth"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/tokens"
)

// AuthHandler issues bearer tokens for a fixed pool of API clients, trimmed
// down from the reference repo's tenant/session-aware login flow: there are
// no users, tenants, or lockout tracking here, just a client_id/client_secret
// pair checked against an operator-provisioned credential map.
type AuthHandler struct {
	Clients   map[string]string
	Tokens    *tokens.Manager
	Blacklist auth.TokenBlacklist
}

func NewAuthHandler(clients map[string]string, t *tokens.Manager, bl auth.TokenBlacklist) *AuthHandler {
	return &AuthHandler{Clients: clients, Tokens: t, Blacklist: bl}
}

type TokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
}

// Issue handles POST /auth/token: exchanges a client_id/client_secret pair
// for an access and refresh token.
func (h *AuthHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	hash, ok := h.Clients[req.ClientID]
	if !ok {
		h.genericError(w)
		return
	}
	match, err := auth.CheckPassword(req.ClientSecret, hash)
	if err != nil || !match {
		h.genericError(w)
		return
	}

	access, err := h.Tokens.GenerateAccessToken(req.ClientID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	refresh, err := h.Tokens.GenerateRefreshToken(req.ClientID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}

	respondJSON(w, http.StatusOK, TokenResponse{AccessToken: access, RefreshToken: refresh, ExpiresIn: 900})
}

// Refresh handles POST /auth/refresh: exchanges a still-valid refresh token
// for a new access token, without re-checking the client secret.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	claims, err := h.Tokens.ValidateToken(req.RefreshToken)
	if err != nil || claims.TokenType != tokens.Refresh {
		h.genericError(w)
		return
	}
	blacklisted, err := h.Blacklist.IsBlacklisted(r.Context(), claims.ID)
	if err != nil || blacklisted {
		h.genericError(w)
		return
	}

	access, err := h.Tokens.GenerateAccessToken(claims.ClientID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	respondJSON(w, http.StatusOK, TokenResponse{AccessToken: access, ExpiresIn: 900})
}

func (h *AuthHandler) genericError(w http.ResponseWriter) {
	respondError(w, http.StatusUnauthorized, "invalid client credentials")
}
