// Package api exposes the login / document-selection / question workflow
// over HTTP. Sessions are held in memory and keyed by an opaque token; the
// chat UI in front of this API is out of scope here.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/docchat/doc-chat/access"
	"github.com/docchat/doc-chat/chat"
)

type Server struct {
	registry *access.Registry
	svc      *chat.Service
	logger   *log.Logger
	handler  http.Handler

	mu       sync.Mutex
	sessions map[string]*chat.Session
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type loginRequest struct {
	Email string `json:"email"`
}

type loginResponse struct {
	Token     string   `json:"token"`
	Documents []string `json:"documents"`
}

type selectRequest struct {
	Document string `json:"document"`
}

type askRequest struct {
	Question string `json:"question"`
	Limit    int    `json:"limit"`
}

type askResponse struct {
	Answer  string      `json:"answer"`
	Sources []askSource `json:"sources"`
}

type askSource struct {
	Document   string  `json:"document"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
	ChunkCount int     `json:"chunkCount"`
	TableCount int     `json:"tableCount"`
}

func New(registry *access.Registry, svc *chat.Service, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		registry: registry,
		svc:      svc,
		logger:   logger,
		sessions: make(map[string]*chat.Session),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/login", s.handleLogin)
	mux.HandleFunc("/v1/documents", s.handleDocuments)
	mux.HandleFunc("/v1/select", s.handleSelect)
	mux.HandleFunc("/v1/ask", s.handleAsk)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("email is required"))
		return
	}

	session, err := chat.NewSession(s.registry, email)
	if err != nil {
		if errors.Is(err, access.ErrUnknownUser) {
			s.writeError(w, http.StatusUnauthorized, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.sessions[token] = session
	s.mu.Unlock()

	s.logger.Printf("login %s", session.UserEmail)
	s.writeJSON(w, http.StatusOK, loginResponse{Token: token, Documents: session.Documents})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	session, ok := s.session(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid or missing session token"))
		return
	}

	s.writeJSON(w, http.StatusOK, loginResponse{Documents: session.Documents})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	session, ok := s.session(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid or missing session token"))
		return
	}

	var req selectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	if err := session.SelectDocument(strings.TrimSpace(req.Document)); err != nil {
		if errors.Is(err, chat.ErrNotAuthorized) {
			s.writeError(w, http.StatusForbidden, err)
			return
		}
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "document selected"})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	session, ok := s.session(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid or missing session token"))
		return
	}

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}

	resp, err := s.svc.Ask(r.Context(), session, req.Question, chat.Options{SimilarityLimit: req.Limit})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("answer unavailable: %w", err))
		return
	}

	converted := askResponse{Answer: resp.Answer}
	for _, src := range resp.Sources {
		converted.Sources = append(converted.Sources, askSource{
			Document:   src.Document,
			Snippet:    src.Snippet,
			Score:      src.Score,
			ChunkCount: src.ChunkCount,
			TableCount: src.TableCount,
		})
	}

	s.writeJSON(w, http.StatusOK, converted)
}

func (s *Server) session(r *http.Request) (*chat.Session, bool) {
	token := r.Header.Get("Authorization")
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	return session, ok
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
