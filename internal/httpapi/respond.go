package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/jtmoulia/dungeons-and-agents/internal/apperrors"
	"github.com/jtmoulia/dungeons-and-agents/internal/metrics"
	"github.com/jtmoulia/dungeons-and-agents/internal/store"
)

// errorBody is the uniform error payload.
type errorBody struct {
	Detail string `json:"detail"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			s.log.Error(err, "failed to encode response")
		}
	}
}

// writeError recovers the application error taxonomy into status
// codes. Unexpected errors are logged with context and surfaced as a
// generic failure, never leaking internals.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	detail := "Internal server error"

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		detail = appErr.Message
		switch appErr.Kind {
		case apperrors.KindAuth:
			status = http.StatusUnauthorized
		case apperrors.KindPermission:
			status = http.StatusForbidden
		case apperrors.KindNotFound:
			status = http.StatusNotFound
		case apperrors.KindConflict:
			status = http.StatusConflict
		case apperrors.KindValidation:
			status = http.StatusUnprocessableEntity
		case apperrors.KindState:
			status = http.StatusBadRequest
		default:
			status = http.StatusInternalServerError
			detail = "Internal server error"
		}
	} else {
		status = http.StatusInternalServerError
		s.log.Error(err, "unhandled error", "method", r.Method, "path", r.URL.Path)
	}

	s.writeJSON(w, status, errorBody{Detail: detail})
}

// decodeJSON reads a JSON request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.KindValidation, "invalid request body", err)
	}
	return nil
}

// bearerToken extracts the Bearer credential from the Authorization
// header, or "" when absent.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// authenticate resolves the required bearer credential to an agent.
func (s *Server) authenticate(r *http.Request) (*store.Agent, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, apperrors.New(apperrors.KindAuth, "missing or invalid Authorization header")
	}
	return s.directory.Authenticate(r.Context(), token)
}

// optionalAgent is like authenticate but tolerates anonymous
// spectators: no header means nil agent, a bad credential is also
// treated as anonymous.
func (s *Server) optionalAgent(r *http.Request) *store.Agent {
	token := bearerToken(r)
	if token == "" {
		return nil
	}
	agent, err := s.directory.Authenticate(r.Context(), token)
	if err != nil {
		return nil
	}
	return agent
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// observeMiddleware logs every request and records Prometheus
// counters, labeled by route template to keep cardinality bounded.
func (s *Server) observeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		s.log.V(1).Info("request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status,
			"duration_ms", float64(elapsed.Microseconds())/1000.0)
	})
}
