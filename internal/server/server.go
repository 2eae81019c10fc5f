// ABOUTME: HTTP callback surface that connected bots post replies to
// ABOUTME: Implements the v3 conversations routes plus history and export endpoints

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/southworks/botemulator/internal/activity"
	"github.com/southworks/botemulator/internal/conversation"
	"github.com/southworks/botemulator/internal/emulator"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the HTTP surface a bot uses to reach a conversation. Bots
// deliver asynchronous replies here; UI clients attach over WebSocket to
// observe the conversation as it grows.
type Server struct {
	em       *emulator.Emulator
	verifier TokenVerifier
	logger   *slog.Logger
}

// New creates a server around the emulator. A nil verifier disables
// authentication on the callback routes.
func New(em *emulator.Emulator, verifier TokenVerifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		em:       em,
		verifier: verifier,
		logger:   logger.With("component", "server"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Routes the bot calls back on. These carry Bearer auth when enabled.
	mux.Handle("POST /v3/conversations/{conversationId}/activities",
		authMiddleware(s.verifier, http.HandlerFunc(s.handlePostActivity)))
	mux.Handle("POST /v3/conversations/{conversationId}/activities/{activityId}",
		authMiddleware(s.verifier, http.HandlerFunc(s.handlePostActivity)))

	// Local inspection routes for UI clients. Never authenticated; the
	// listener binds to loopback by default.
	mux.HandleFunc("GET /v3/conversations/{conversationId}/activities", s.handleGetActivities)
	mux.HandleFunc("GET /v3/conversations/{conversationId}/history", s.handleGetHistory)
	mux.HandleFunc("GET /v3/conversations/{conversationId}/export", s.handleExport)
	mux.HandleFunc("GET /ws/conversations/{conversationId}", s.handleAttach)

	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("callback server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handlePostActivity accepts an activity from the bot and appends it to the
// conversation. The reply variant carries the activity being replied to in
// the path; it wins over any replyToId already in the body.
func (s *Server) handlePostActivity(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	conv := s.em.Registry().ConversationByID(conversationID)
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	var a activity.Activity
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "malformed activity payload")
		return
	}

	if replyTo := r.PathValue("activityId"); replyTo != "" {
		a.ReplyToID = replyTo
	}

	stamped, err := conv.PostActivityToUser(r.Context(), &a)
	if err != nil {
		s.logger.Warn("rejected bot activity",
			"conversation_id", conversationID,
			"error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Debug("bot activity accepted",
		"conversation_id", conversationID,
		"activity_id", stamped.ID,
		"type", stamped.Type)

	writeJSON(w, http.StatusOK, map[string]string{"id": stamped.ID})
}

func (s *Server) handleGetActivities(w http.ResponseWriter, r *http.Request) {
	conv := s.em.Registry().ConversationByID(r.PathValue("conversationId"))
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": conv.Transcript()})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records, err := s.em.History(r.Context(), conversationID, limit)
	if err != nil {
		s.logger.Error("history lookup failed",
			"conversation_id", conversationID,
			"error", err)
		writeError(w, http.StatusInternalServerError, "history lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	html, err := s.em.ExportTranscriptHTML(conversationID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(html)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"conversations": s.em.Registry().Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
