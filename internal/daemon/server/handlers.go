package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/agentfloor/agentfloor/internal/daemon/registry"
	"github.com/agentfloor/agentfloor/internal/daemon/token"
	"github.com/agentfloor/agentfloor/internal/models"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/heartbeat", s.authed(s.handleHeartbeat))
	mux.HandleFunc("POST /api/agents", s.authed(s.handleCreateAgent))
	mux.HandleFunc("GET /api/agents", s.authed(s.handleListAgents))
	mux.HandleFunc("GET /api/agents/{id}", s.authed(s.handleGetAgent))
	mux.HandleFunc("PUT /api/agents/{id}", s.authed(s.handleUpdateAgent))
	mux.HandleFunc("DELETE /api/agents/{id}", s.authed(s.handleDeleteAgent))
	return mux
}

type authedHandler func(w http.ResponseWriter, r *http.Request, user token.User)

// authed validates the bearer token, refreshing its activity clock, and
// passes the owning user through.
func (s *Server) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || value == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		t, ok := s.tokens.Validate(value)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next(w, r, t.User)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "apiKey is required")
		return
	}

	user, ok := s.cfg.LookupUser(req.APIKey)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown api key")
		return
	}

	// Token lifetime follows the live config, so a reload changes the next
	// login's expiry.
	s.tokens.SetLifetime(s.cfg.TokenExpiry())
	t := s.tokens.Issue(token.User{Key: user.Key, DisplayName: user.DisplayName})

	log.Printf("[server] issued token for %s", user.DisplayName)
	writeJSON(w, http.StatusOK, models.LoginResponse{
		Token:       t.Value,
		DisplayName: t.User.DisplayName,
		ExpiresAt:   t.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, _ *http.Request, _ token.User) {
	// Validation already refreshed the token's activity clock.
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request, user token.User) {
	var req models.CreateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ID == "" || req.DisplayName == "" || req.Activity == "" {
		writeError(w, http.StatusBadRequest, "id, displayName and activity are required")
		return
	}

	agent, err := s.registry.Create(registry.CreateParams{
		ID:               req.ID,
		DisplayName:      req.DisplayName,
		Activity:         req.Activity,
		OwnerKey:         user.Key,
		OwnerDisplayName: user.DisplayName,
		ParentID:         req.ParentID,
		IsSidechain:      req.IsSidechain,
		ContextUsage:     req.ContextPercentage,
		VariantIndex:     req.VariantIndex,
	})
	if errors.Is(err, registry.ErrExists) {
		writeError(w, http.StatusConflict, "agent id already exists")
		return
	}

	writeJSON(w, http.StatusCreated, agentResponse(agent))
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request, user token.User) {
	id := r.PathValue("id")
	var req models.UpdateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Activity == "" {
		writeError(w, http.StatusBadRequest, "activity is required")
		return
	}

	agent, err := s.registry.Update(id, req.Activity, req.ContextPercentage, user.Key)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "agent not found")
	case errors.Is(err, registry.ErrForbidden):
		writeError(w, http.StatusForbidden, "agent owned by another user")
	default:
		writeJSON(w, http.StatusOK, agentResponse(agent))
	}
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request, user token.User) {
	id := r.PathValue("id")
	err := s.registry.Remove(id, user.Key)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "agent not found")
	case errors.Is(err, registry.ErrForbidden):
		writeError(w, http.StatusForbidden, "agent owned by another user")
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request, user token.User) {
	agents := s.registry.ListByOwner(user.Key)
	out := make([]models.AgentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request, user token.User) {
	agent, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	if agent.OwnerKey != user.Key {
		writeError(w, http.StatusForbidden, "agent owned by another user")
		return
	}
	writeJSON(w, http.StatusOK, agentResponse(agent))
}

func agentResponse(a registry.Agent) models.AgentResponse {
	return models.AgentResponse{
		ID:                a.ID,
		DisplayName:       a.DisplayName,
		State:             a.State,
		Activity:          a.Activity,
		ContextPercentage: a.ContextUsage,
		ParentID:          a.ParentID,
		IsSidechain:       a.IsSidechain,
		CreatedAt:         a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}
