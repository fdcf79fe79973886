package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/wfunc/babyfoot/apperr"
	"github.com/wfunc/babyfoot/auth"
	"github.com/wfunc/babyfoot/logger"
	"github.com/wfunc/babyfoot/models"
)

// 未配置 JWT 时身份由前置网关通过请求头注入
const (
	HeaderUserID    = "X-User-ID"
	HeaderUsername  = "X-Username"
	HeaderAvatarURL = "X-Avatar-URL"
)

type ctxKey struct{}

// identity rejects requests without an authenticated user. With a verifier
// the player comes from the bearer token, otherwise from gateway headers.
func (s *GameServer) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		player, err := s.playerOf(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, player)))
	})
}

func (s *GameServer) playerOf(r *http.Request) (models.Player, error) {
	if s.verifier != nil {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			return models.Player{}, errors.New("missing bearer token")
		}
		return s.verifier.Player(token)
	}
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		return models.Player{}, errors.New("missing " + HeaderUserID)
	}
	username := r.Header.Get(HeaderUsername)
	if username == "" {
		username = userID
	}
	return models.Player{
		UserID:    userID,
		Username:  username,
		AvatarURL: r.Header.Get(HeaderAvatarURL),
	}, nil
}

func playerFrom(r *http.Request) models.Player {
	p, _ := r.Context().Value(ctxKey{}).(models.Player)
	return p
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Log.Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"requestId", middleware.GetReqID(r.Context()),
		)
	})
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	if errors.Is(err, errBadBody) {
		return http.StatusBadRequest
	}
	switch apperr.Kind(err) {
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrConflict:
		return http.StatusConflict
	case apperr.ErrUnauthorized:
		return http.StatusForbidden
	case apperr.ErrStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	body := errorBody{Error: err.Error()}
	if kind := apperr.Kind(err); kind != nil {
		body.Kind = kind.Error()
	}
	if status == http.StatusInternalServerError {
		logger.Log.Errorw("request failed", "path", r.URL.Path, "error", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warnw("encode response", "error", err)
	}
}

var errBadBody = errors.New("malformed request body")

// decode reads an optional JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}
