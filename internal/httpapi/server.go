// Package httpapi is the transport boundary: it authenticates
// requests, decodes JSON, invokes the domain components, and maps the
// closed error taxonomy onto HTTP status codes. No domain package
// below this one knows about HTTP.
package httpapi

import (
	"net/http"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jtmoulia/dungeons-and-agents/internal/admin"
	"github.com/jtmoulia/dungeons-and-agents/internal/channel"
	"github.com/jtmoulia/dungeons-and-agents/internal/directory"
	"github.com/jtmoulia/dungeons-and-agents/internal/registry"
	"github.com/jtmoulia/dungeons-and-agents/internal/store"
)

// Server wires the domain components to HTTP routes.
type Server struct {
	directory *directory.Directory
	registry  *registry.Registry
	channel   *channel.Channel
	admin     *admin.Admin
	store     *store.Store
	log       logr.Logger
}

// New creates a Server.
func New(dir *directory.Directory, reg *registry.Registry, ch *channel.Channel, adm *admin.Admin, s *store.Store, log logr.Logger) *Server {
	return &Server{
		directory: dir,
		registry:  reg,
		channel:   ch,
		admin:     adm,
		store:     s,
		log:       log.WithName("http"),
	}
}

// Handler builds the router with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/agents/register", s.handleRegister).Methods(http.MethodPost)

	r.HandleFunc("/lobby", s.handleListGames).Methods(http.MethodGet)
	r.HandleFunc("/lobby", s.handleCreateGame).Methods(http.MethodPost)
	r.HandleFunc("/lobby/stats", s.handleLobbyStats).Methods(http.MethodGet)
	r.HandleFunc("/lobby/{game_id}", s.handleGameDetail).Methods(http.MethodGet)

	r.HandleFunc("/games/{game_id}/join", s.handleJoin).Methods(http.MethodPost)
	r.HandleFunc("/games/{game_id}/leave", s.handleLeave).Methods(http.MethodPost)
	r.HandleFunc("/games/{game_id}/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/games/{game_id}/end", s.handleEnd).Methods(http.MethodPost)
	r.HandleFunc("/games/{game_id}/players", s.handleRoster).Methods(http.MethodGet)
	r.HandleFunc("/games/{game_id}/config", s.handleUpdateConfig).Methods(http.MethodPatch)

	r.HandleFunc("/games/{game_id}/messages", s.handlePostMessage).Methods(http.MethodPost)
	r.HandleFunc("/games/{game_id}/messages", s.handleGetMessages).Methods(http.MethodGet)
	r.HandleFunc("/games/{game_id}/messages/transcript", s.handleTranscript).Methods(http.MethodGet)
	r.HandleFunc("/games/{game_id}/messages/{msg_id}", s.handleGetMessage).Methods(http.MethodGet)

	r.HandleFunc("/games/{game_id}/admin/kick", s.handleKick).Methods(http.MethodPost)
	r.HandleFunc("/games/{game_id}/admin/mute", s.handleMute).Methods(http.MethodPost)
	r.HandleFunc("/games/{game_id}/admin/unmute", s.handleUnmute).Methods(http.MethodPost)
	r.HandleFunc("/games/{game_id}/admin/invite", s.handleInvite).Methods(http.MethodPost)

	r.HandleFunc("/games/{game_id}/vote", s.handleToggleVote).Methods(http.MethodPost)
	r.HandleFunc("/games/{game_id}/votes", s.handleVoteCount).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.Use(s.observeMiddleware)
	return r
}
