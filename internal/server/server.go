package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taleweaver/internal/app"
	"taleweaver/internal/ratelimit"
	"taleweaver/internal/story"
	"taleweaver/internal/util"
	"taleweaver/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                    *app.App
	RedisAddr              string
	RedisPassword          string
	RateLimitPerMinute     int
	GenerateLimitPerMinute int
	TrustedProxies         *util.TrustedProxies
}

// Server exposes HTTP endpoints for the backend.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	trustedProxies  *util.TrustedProxies
	commentLimiter  *ratelimit.FixedWindowLimiter
	chatLimiter     *ratelimit.FixedWindowLimiter
	generateLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	publicLimit := cfg.RateLimitPerMinute
	if publicLimit <= 0 {
		publicLimit = 120
	}
	generateLimit := cfg.GenerateLimitPerMinute
	if generateLimit <= 0 {
		generateLimit = 5
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "taleweaver:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	commentLimiter, err := newLimiter("comments", publicLimit)
	if err != nil {
		return nil, err
	}
	chatLimiter, err := newLimiter("chatbot", publicLimit)
	if err != nil {
		return nil, err
	}
	generateLimiter, err := newLimiter("generate", generateLimit)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:             cfg.App,
		mux:             http.NewServeMux(),
		trustedProxies:  cfg.TrustedProxies,
		commentLimiter:  commentLimiter,
		chatLimiter:     chatLimiter,
		generateLimiter: generateLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.Handle("/api/auth/me", s.authenticated(s.handleMe))

	// stories (auth required)
	s.mux.Handle("/api/stories/generate", s.authenticated(s.handleGenerate))
	s.mux.Handle("/api/stories/mine", s.authenticated(s.handleMine))
	s.mux.Handle("/api/stories/", s.authenticated(s.handleStoryByID))

	// public gallery
	s.mux.HandleFunc("/api/public/stories", s.handlePublicList)
	s.mux.HandleFunc("/api/public/stories/search", s.handlePublicSearch)
	s.mux.HandleFunc("/api/public/stories/", s.handlePublicStoryByID)

	// chat assistant
	s.mux.HandleFunc("/api/chatbot", s.handleChatbot)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		user, err := s.app.Authenticate(token)
		if err != nil {
			writeAppError(w, err)
			return
		}
		next(w, r, user)
	})
}

// auth handlers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Register(req.Name, req.Email, req.Password)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"user": user, "token": token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"user": user, "token": token})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"user": user})
}

// story handlers
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.generateLimiter, "too many generation requests") {
		return
	}
	var req story.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	logger := util.LoggerFromContext(r.Context()).With("user_id", user.ID)
	book, err := s.app.GenerateStory(r.Context(), user.ID, req, func(percent int, message string) {
		logger.Debug("generation progress", "percent", percent, "message", message)
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"storybook": book})
}

func (s *Server) handleMine(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stories, err := s.app.ListMine(user.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"stories": stories})
}

// /api/stories/{id} plus /share and /unshare
func (s *Server) handleStoryByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/stories/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "share":
			s.handleVisibility(w, r, user, id, true)
		case "unshare":
			s.handleVisibility(w, r, user, id, false)
		default:
			http.NotFound(w, r)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		book, comments, err := s.app.GetOwned(user.ID, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{"story": book, "comments": comments})
	case http.MethodDelete:
		if err := s.app.DeleteStory(r.Context(), user.ID, id); err != nil {
			writeAppError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{"message": "story deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request, user domain.User, id string, isPublic bool) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	book, err := s.app.SetVisibility(r.Context(), user.ID, id, isPublic)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"story": book})
}

// public handlers
func (s *Server) handlePublicList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	page, limit, ok := pageParams(w, r)
	if !ok {
		return
	}
	stories, pagination, err := s.app.ListPublic(page, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"stories": stories, "pagination": pagination})
}

func (s *Server) handlePublicSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	page, limit, ok := pageParams(w, r)
	if !ok {
		return
	}
	stories, pagination, err := s.app.SearchPublic(r.URL.Query().Get("q"), page, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"stories": stories, "pagination": pagination})
}

// /api/public/stories/{id} and /api/public/stories/{id}/comments
func (s *Server) handlePublicStoryByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/public/stories/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 {
		if parts[1] != "comments" {
			http.NotFound(w, r)
			return
		}
		s.handleComments(w, r, id)
		return
	}

	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	book, comments, err := s.app.GetPublic(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"story": book, "comments": comments})
}

func (s *Server) handleComments(w http.ResponseWriter, r *http.Request, storyID string) {
	switch r.Method {
	case http.MethodPost:
		if !s.allowRate(w, r, s.commentLimiter, "too many comments") {
			return
		}
		var req commentRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		comment, err := s.app.AddComment(storyID, req.Name, req.Text)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeSuccess(w, http.StatusCreated, map[string]any{"comment": comment})
	case http.MethodGet:
		page, limit, ok := pageParams(w, r)
		if !ok {
			return
		}
		comments, pagination, err := s.app.ListCommentsPage(storyID, page, limit)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{"comments": comments, "pagination": pagination})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleChatbot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.chatLimiter, "too many chat requests") {
		return
	}
	var req chatbotRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	reply, err := s.app.Chat(r.Context(), req.Query)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"response":  reply,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// allowRate keys each limiter by client IP only. The limiter already
// names the route class, so quotas cover the class, not individual paths.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter.Allow(util.ClientIP(r, s.trustedProxies)) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type commentRequest struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type chatbotRequest struct {
	Query string `json:"query"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

// pageParams parses page/limit query values. Absent values stay zero so
// the application applies its defaults; malformed or non-positive values
// are rejected.
func pageParams(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	parse := func(name string) (int, bool) {
		raw := strings.TrimSpace(r.URL.Query().Get(name))
		if raw == "" {
			return 0, true
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, name+" must be a positive integer")
			return 0, false
		}
		return n, true
	}
	page, ok := parse("page")
	if !ok {
		return 0, 0, false
	}
	limit, ok := parse("limit")
	if !ok {
		return 0, 0, false
	}
	return page, limit, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, payload map[string]any) {
	payload["success"] = true
	writeJSON(w, status, payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrInvalidCredential):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrGenerationFailure):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
