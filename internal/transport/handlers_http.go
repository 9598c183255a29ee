package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/topichub/topichub/internal/broker"
)

// topicNameRe is the admission rule for topic names. The broker itself does
// not validate names; this layer does.
var topicNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,200}$`)

type createTopicRequest struct {
	Name string `json:"name"`
}

// handleCreateTopic implements POST /topics.
func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req createTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "BAD_REQUEST",
			"message": "invalid request body",
		})
		return
	}
	if !topicNameRe.MatchString(req.Name) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "BAD_REQUEST",
			"message": "topic name must match [A-Za-z0-9._-]{1,200}",
		})
		return
	}

	switch err := s.broker.CreateTopic(req.Name); {
	case errors.Is(err, broker.ErrTopicExists):
		writeJSON(w, http.StatusConflict, map[string]any{
			"status": "conflict",
			"topic":  req.Name,
		})
	case errors.Is(err, broker.ErrBrokerClosed):
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
	case err != nil:
		http.Error(w, "Internal error", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusCreated, map[string]any{
			"status": "created",
			"topic":  req.Name,
		})
	}
}

// handleDeleteTopic implements DELETE /topics/{name}. Deletion notifies and
// closes every subscriber of the topic.
func (s *Server) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !topicNameRe.MatchString(name) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "BAD_REQUEST",
			"message": "topic name must match [A-Za-z0-9._-]{1,200}",
		})
		return
	}

	switch err := s.broker.DeleteTopic(name); {
	case errors.Is(err, broker.ErrTopicNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{
			"status": "not_found",
			"topic":  name,
		})
	case err != nil:
		http.Error(w, "Internal error", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "deleted",
			"topic":  name,
		})
	}
}

// handleListTopics implements GET /topics.
func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics := s.broker.TopicList()
	if topics == nil {
		topics = []broker.TopicInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

// handleHealth implements GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.Health())
}

// handleStats implements GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"topics": s.broker.Stats()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// requestIDMiddleware tags each request with a unique ID for correlation.
// The response writer is left unwrapped so the /ws upgrade can hijack it.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// requestLoggingMiddleware logs each HTTP request at debug level.
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", w.Header().Get("X-Request-ID")).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}
