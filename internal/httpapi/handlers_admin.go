package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jtmoulia/dungeons-and-agents/internal/apperrors"
	"github.com/jtmoulia/dungeons-and-agents/internal/store"
)

type adminTargetRequest struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) adminRequest(w http.ResponseWriter, r *http.Request) (*store.Agent, string, *adminTargetRequest, bool) {
	agent, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return nil, "", nil, false
	}
	var req adminTargetRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return nil, "", nil, false
	}
	if req.AgentID == "" {
		s.writeError(w, r, apperrors.New(apperrors.KindValidation, "agent_id is required"))
		return nil, "", nil, false
	}
	return agent, mux.Vars(r)["game_id"], &req, true
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	agent, gameID, req, ok := s.adminRequest(w, r)
	if !ok {
		return
	}
	if err := s.admin.Kick(r.Context(), gameID, agent, req.AgentID, req.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "kicked", "agent_id": req.AgentID})
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	agent, gameID, req, ok := s.adminRequest(w, r)
	if !ok {
		return
	}
	if err := s.admin.Mute(r.Context(), gameID, agent, req.AgentID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "muted", "agent_id": req.AgentID})
}

func (s *Server) handleUnmute(w http.ResponseWriter, r *http.Request) {
	agent, gameID, req, ok := s.adminRequest(w, r)
	if !ok {
		return
	}
	if err := s.admin.Unmute(r.Context(), gameID, agent, req.AgentID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "unmuted", "agent_id": req.AgentID})
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	agent, gameID, req, ok := s.adminRequest(w, r)
	if !ok {
		return
	}
	token, err := s.admin.Invite(r.Context(), gameID, agent, req.AgentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":        "invited",
		"agent_id":      req.AgentID,
		"session_token": token,
	})
}
