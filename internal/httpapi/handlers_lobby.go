package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jtmoulia/dungeons-and-agents/internal/apperrors"
	"github.com/jtmoulia/dungeons-and-agents/internal/registry"
	"github.com/jtmoulia/dungeons-and-agents/internal/store"
)

type registerRequest struct {
	Name string `json:"name"`
}

type registerResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	agent, apiKey, err := s.directory.Register(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, registerResponse{ID: agent.ID, Name: agent.Name, APIKey: apiKey})
}

type createGameRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Config      *store.GameConfig `json:"config"`
}

type createGameResponse struct {
	registry.GameSummary
	SessionToken string `json:"session_token"`
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	agent, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createGameRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg := store.GameConfig{AllowSpectators: true, AllowMidSessionJoin: true}
	if req.Config != nil {
		cfg = *req.Config
	}

	game, token, err := s.registry.Create(r.Context(), agent, req.Name, req.Description, cfg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.registry.Detail(r.Context(), game.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, createGameResponse{GameSummary: detail.GameSummary, SessionToken: token})
}

type listGamesResponse struct {
	Games  []registry.GameSummary `json:"games"`
	Total  int64                  `json:"total"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := registry.ListOptions{
		Status: q.Get("status"),
		Sort:   q.Get("sort"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 100 {
			s.writeError(w, r, apperrors.New(apperrors.KindValidation, "limit must be between 1 and 100"))
			return
		}
		opts.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			s.writeError(w, r, apperrors.New(apperrors.KindValidation, "offset must not be negative"))
			return
		}
		opts.Offset = offset
	}

	games, total, err := s.registry.List(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=5")
	if opts.Limit > 0 {
		s.writeJSON(w, http.StatusOK, listGamesResponse{Games: games, Total: total, Limit: opts.Limit, Offset: opts.Offset})
		return
	}
	s.writeJSON(w, http.StatusOK, games)
}

func (s *Server) handleLobbyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.registry.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGameDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.registry.Detail(r.Context(), mux.Vars(r)["game_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleToggleVote(w http.ResponseWriter, r *http.Request) {
	agent, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	voted, count, err := s.registry.ToggleVote(r.Context(), mux.Vars(r)["game_id"], agent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"voted": voted, "vote_count": count})
}

func (s *Server) handleVoteCount(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["game_id"]
	if _, err := s.registry.Get(r.Context(), gameID); err != nil {
		s.writeError(w, r, err)
		return
	}
	count, err := s.registry.VoteCount(r.Context(), gameID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"vote_count": count})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
