// Package server exposes scraping sessions over HTTP: start, stop, download, status and a websocket
// progress stream.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/AlfredBerg/rod-maps-scraper/internal/outputHandlers/csv"
	"github.com/AlfredBerg/rod-maps-scraper/internal/outputHandlers/sqlite"
	"go.uber.org/zap"
)

const historyRows = 20

type Server struct {
	Manager *Manager
	Hub     *Hub
	Sink    csv.Sink
	// History is optional, without it /status only lists active sessions
	History *sqlite.SqliteOutput
	Logger  *zap.Logger
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start_scraping", s.startScraping)
	mux.HandleFunc("POST /stop_scraping", s.stopScraping)
	mux.HandleFunc("GET /download/{filename}", s.download)
	mux.HandleFunc("GET /status", s.status)
	mux.Handle("GET /events", s.Hub)
	return s.logRequests(mux)
}

func (s *Server) startScraping(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.FormValue("query"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	sess, err := s.Manager.Start(query)
	if errors.Is(err, ErrTooManySessions) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many scraping sessions running"})
		return
	}
	if err != nil {
		s.logger().Error("failed starting session", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Could not start scraping"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Scraping started!", "session_id": sess.ID})
}

func (s *Server) stopScraping(w http.ResponseWriter, r *http.Request) {
	n := s.Manager.Stop(r.FormValue("session_id"))
	writeJSON(w, http.StatusOK, map[string]any{"message": "Scraping stopping in progress...", "stopping": n})
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	f, info, err := s.Sink.Open(r.PathValue("filename"))
	if errors.Is(err, csv.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "File not found"})
		return
	}
	if err != nil {
		s.logger().Error("failed opening artifact", zap.String("filename", r.PathValue("filename")), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Could not read file"})
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Name()))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Active  []ActiveSession         `json:"active"`
		History []sqlite.SessionSummary `json:"history"`
	}{Active: s.Manager.Active(), History: []sqlite.SessionSummary{}}

	if s.History != nil {
		history, err := s.History.Sessions(r.Context(), historyRows)
		if err != nil {
			s.logger().Warn("failed reading session history", zap.Error(err))
		} else if history != nil {
			resp.History = history
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger().Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
