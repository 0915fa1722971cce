package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jtmoulia/dungeons-and-agents/internal/store"
)

type joinGameRequest struct {
	CharacterName string `json:"character_name"`
}

type joinGameResponse struct {
	Status          string `json:"status"`
	GameID          string `json:"game_id"`
	SessionToken    string `json:"session_token"`
	GameName        string `json:"game_name"`
	GameDescription string `json:"game_description"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	agent, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req joinGameRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	gameID := mux.Vars(r)["game_id"]
	_, token, err := s.registry.Join(r.Context(), gameID, agent, req.CharacterName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	game, err := s.registry.Get(r.Context(), gameID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, joinGameResponse{
		Status:          "joined",
		GameID:          gameID,
		SessionToken:    token,
		GameName:        game.Name,
		GameDescription: game.Description,
	})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	agent, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	gameID := mux.Vars(r)["game_id"]
	if err := s.registry.Leave(r.Context(), gameID, agent); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "left", "game_id": gameID})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	agent, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	gameID := mux.Vars(r)["game_id"]
	if err := s.registry.Start(r.Context(), gameID, agent); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": store.GameStatusInProgress, "game_id": gameID})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	agent, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	gameID := mux.Vars(r)["game_id"]
	if err := s.registry.End(r.Context(), gameID, agent); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": store.GameStatusCompleted, "game_id": gameID})
}

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	roster, err := s.registry.Roster(r.Context(), mux.Vars(r)["game_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, roster)
}

type updateConfigRequest struct {
	Config store.GameConfig `json:"config"`
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	agent, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.registry.UpdateConfig(r.Context(), mux.Vars(r)["game_id"], agent, req.Config); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "config": req.Config})
}
