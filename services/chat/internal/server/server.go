package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"streamchat/internal/usertoken"
	"streamchat/internal/util"
	"streamchat/pkg/domain"
	"streamchat/pkg/store"
	"streamchat/services/chat/internal/app"
)

const (
	maxJSONBody      = 1 << 20
	multipartMemory  = 8 << 20
	multipartOverrun = 1 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier *usertoken.Verifier
	CORSOrigins   []string
	// StreamTimeout bounds one reply stream. Zero means no limit.
	StreamTimeout time.Duration
}

// Server exposes HTTP endpoints for the chat service.
type Server struct {
	app           *app.App
	tokenVerifier *usertoken.Verifier
	corsOrigins   []string
	streamTimeout time.Duration
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:           cfg.App,
		tokenVerifier: cfg.TokenVerifier,
		corsOrigins:   cfg.CORSOrigins,
		streamTimeout: cfg.StreamTimeout,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("chat", util.WithSecurityHeaders(util.WithCORS(s.corsOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/models", s.handleModels)

	// chats
	s.mux.Handle("/chats", s.withUser(s.handleChats))
	s.mux.Handle("/chats/", s.withUser(s.handleChatByID))

	s.mux.Handle("/files", s.withUser(s.handleUpload))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	models, def := s.app.Models()
	writeJSON(w, http.StatusOK, map[string]any{"models": models, "default": def})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenVerifier == nil {
			writeError(w, http.StatusInternalServerError, "token verifier not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		subject, err := s.tokenVerifier.VerifySubject(token)
		if err != nil {
			util.LoggerFromContext(r.Context()).Info("token rejected", "err", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		logger := util.LoggerFromContext(r.Context()).With("user_id", subject)
		r = r.WithContext(util.ContextWithLogger(r.Context(), logger))
		next(w, r, domain.User{ID: subject})
	})
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		s.handleListChats(w, r, user)
	case http.MethodPost:
		s.handleCreateChat(w, r, user)
	default:
		methodNotAllowed(w)
	}
}

// /chats/{id} or /chats/{id}/stream
func (s *Server) handleChatByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/chats/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 && parts[1] == "stream" {
		s.handleStream(w, r, user, id)
		return
	}
	if len(parts) == 2 {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		detail, err := s.app.GetChat(user, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	case http.MethodPatch:
		s.handleUpdateChat(w, r, user, id)
	case http.MethodDelete:
		if err := s.app.DeleteChat(user, id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request, user domain.User) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))
	result, err := s.app.ListChats(user, page, perPage)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type createChatRequest struct {
	Message    string `json:"message"`
	Model      string `json:"model"`
	Visibility string `json:"visibility"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req createChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	chat, err := s.app.CreateChat(user, app.CreateChatInput{
		Message:    req.Message,
		Model:      req.Model,
		Visibility: domain.Visibility(strings.TrimSpace(req.Visibility)),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

type updateChatRequest struct {
	Title      *string `json:"title"`
	Visibility *string `json:"visibility"`
	MessageID  string  `json:"messageId"`
	// IsUpvoted distinguishes an absent field from an explicit null.
	IsUpvoted json.RawMessage `json:"isUpvoted"`
	Truncate  bool            `json:"truncate"`
}

func (s *Server) handleUpdateChat(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	var req updateChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in := app.UpdateChatInput{
		Title:     req.Title,
		MessageID: req.MessageID,
		Truncate:  req.Truncate,
	}
	if req.Visibility != nil {
		v := domain.Visibility(strings.TrimSpace(*req.Visibility))
		in.Visibility = &v
	}
	if len(req.IsUpvoted) > 0 {
		in.SetUpvote = true
		if string(req.IsUpvoted) != "null" {
			var up bool
			if err := json.Unmarshal(req.IsUpvoted, &up); err != nil {
				writeError(w, http.StatusBadRequest, "isUpvoted must be a boolean or null")
				return
			}
			in.IsUpvoted = &up
		}
	}
	detail, err := s.app.UpdateChat(user, id, in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type streamRequest struct {
	Message     string   `json:"message"`
	Model       string   `json:"model"`
	Attachments []string `json:"attachments"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, user domain.User, chatID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req streamRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	turn, err := s.app.PrepareTurn(ctx, user, app.StreamRequest{
		ChatID:      chatID,
		Message:     req.Message,
		Model:       req.Model,
		Attachments: req.Attachments,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if s.streamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.streamTimeout)
		defer cancel()
	}
	turn.Run(ctx, startStream(w))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, app.MaxAttachmentBytes+multipartOverrun)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	att, err := s.app.UploadAttachment(r.Context(), user, header.Filename, header.Size, header.Header.Get("Content-Type"), file)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr      *app.ValidationError
		malformed *app.MalformedMessageError
		perr      *store.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, app.ErrChatNotFound), errors.Is(err, app.ErrMessageNotFound):
		notFound(w, err.Error())
	case errors.Is(err, app.ErrChatForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrStorageDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &malformed):
		writeError(w, http.StatusInternalServerError, "chat history is corrupt")
	case errors.As(err, &perr):
		util.LoggerFromContext(r.Context()).Error("persistence failed", "op", perr.Op, "err", perr.Err)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("write response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
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
