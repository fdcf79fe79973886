package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/wfunc/babyfoot/auth"
	"github.com/wfunc/babyfoot/logger"
	"github.com/wfunc/babyfoot/persistence"
	"github.com/wfunc/babyfoot/services"
)

// HeartbeatInterval 观战连接的心跳周期
const HeartbeatInterval = 30 * time.Second

// GameServer 对外的 HTTP + WebSocket 入口
type GameServer struct {
	addr        string
	coordinator *services.Coordinator
	store       persistence.Store
	upgrader    websocket.Upgrader
	verifier    *auth.Verifier
	router      chi.Router
	httpServer  *http.Server
}

// NewGameServer wires the API. verifier may be nil, in which case identity
// is read from gateway headers.
func NewGameServer(addr string, coordinator *services.Coordinator, store persistence.Store, verifier *auth.Verifier) *GameServer {
	s := &GameServer{
		addr:        addr,
		coordinator: coordinator,
		store:       store,
		verifier:    verifier,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *GameServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/sessions", func(r chi.Router) {
		r.Use(s.identity)
		r.Post("/", s.handleCreateSession)
		r.Post("/join", s.handleJoinSessionByPin)
		r.Get("/pin/{pin}", s.handleResolveSessionPin)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/join", s.handleJoinSession)
			r.Post("/leave", s.handleLeaveSession)
			r.Post("/cancel", s.handleCancelSession)
			r.Post("/start", s.handleStartSession)
		})
	})

	r.Route("/games/{gameID}", func(r chi.Router) {
		r.Use(s.identity)
		r.Get("/", s.handleGetGame)
		r.Get("/results", s.handleGameResults)
		r.Post("/goals", s.handleRecordGoal)
		r.Post("/retract", s.handleRetractGoal)
		r.Post("/finish", s.handleFinishGame)
		r.Post("/abandon", s.handleAbandonGame)
	})

	r.Route("/tournaments", func(r chi.Router) {
		r.Use(s.identity)
		r.Post("/", s.handleCreateTournament)
		r.Get("/pin/{pin}", s.handleResolveTournamentPin)
		r.Route("/{tournamentID}", func(r chi.Router) {
			r.Get("/", s.handleGetTournament)
			r.Get("/standings", s.handleStandings)
			r.Post("/join", s.handleJoinTournament)
			r.Post("/teams", s.handleFormTeams)
			r.Post("/start", s.handleStartTournament)
			r.Post("/cancel", s.handleCancelTournament)
			r.Post("/resume", s.handleResumeTournament)
			r.Post("/matches/{matchID}/result", s.handleMatchResult)
		})
	})
	return r
}

// Handler exposes the router, mostly for tests.
func (s *GameServer) Handler() http.Handler {
	return s.router
}

func (s *GameServer) Start() error {
	logger.Log.Infof("Game server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones. Hijacked
// websocket connections are not tracked by http.Server and close with the
// process.
func (s *GameServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *GameServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
