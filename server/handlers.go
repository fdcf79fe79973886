package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wfunc/babyfoot/game"
	"github.com/wfunc/babyfoot/models"
	"github.com/wfunc/babyfoot/services"
	"github.com/wfunc/babyfoot/tournament"
)

// --- sessions ---

type createSessionRequest struct {
	Format   models.Format `json:"format"`
	VenueRef string        `json:"venueRef,omitempty"`
}

type joinRequest struct {
	PinCode string `json:"pinCode"`
}

func (s *GameServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.coordinator.CreateSession(r.Context(), playerFrom(r), req.VenueRef, req.Format)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *GameServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.coordinator.Sessions().Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *GameServer) handleResolveSessionPin(w http.ResponseWriter, r *http.Request) {
	sess, err := s.coordinator.Sessions().ResolveByPin(r.Context(), chi.URLParam(r, "pin"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *GameServer) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.coordinator.JoinSession(r.Context(), chi.URLParam(r, "sessionID"), "", playerFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *GameServer) handleJoinSessionByPin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.coordinator.JoinSession(r.Context(), "", req.PinCode, playerFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *GameServer) handleLeaveSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.coordinator.Sessions().Leave(r.Context(), chi.URLParam(r, "sessionID"), playerFrom(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *GameServer) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.coordinator.Sessions().Cancel(r.Context(), chi.URLParam(r, "sessionID"), playerFrom(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *GameServer) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req services.StartRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.coordinator.StartSession(r.Context(), chi.URLParam(r, "sessionID"), playerFrom(r).UserID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// --- games ---

func (s *GameServer) handleGetGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.coordinator.Games().Get(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *GameServer) handleGameResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.coordinator.GameResults(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *GameServer) handleRecordGoal(w http.ResponseWriter, r *http.Request) {
	var in game.GoalInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := s.coordinator.RecordGoal(r.Context(), chi.URLParam(r, "gameID"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *GameServer) handleRetractGoal(w http.ResponseWriter, r *http.Request) {
	g, err := s.coordinator.RetractLastGoal(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *GameServer) handleFinishGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.coordinator.FinishGame(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *GameServer) handleAbandonGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.coordinator.AbandonGame(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// --- tournaments ---

type createTournamentRequest struct {
	Name        string                `json:"name"`
	VenueRef    string                `json:"venueRef,omitempty"`
	Format      models.Format         `json:"format"`
	TargetScore int                   `json:"targetScore"`
	Mode        models.TournamentMode `json:"mode"`
}

type teamsRequest struct {
	Teams []tournament.TeamSpec `json:"teams"`
}

type resultRequest struct {
	Score        models.MatchScore `json:"score"`
	WinnerTeamID string            `json:"winnerTeamId,omitempty"`
}

type standingsResponse struct {
	Standings      []models.TournamentStanding `json:"standings"`
	Complete       bool                        `json:"complete"`
	ChampionTeamID string                      `json:"championTeamId,omitempty"`
}

func (s *GameServer) handleCreateTournament(w http.ResponseWriter, r *http.Request) {
	var req createTournamentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.coordinator.Tournaments().Create(r.Context(), tournament.CreateSpec{
		Host:        playerFrom(r),
		Name:        req.Name,
		VenueRef:    req.VenueRef,
		Format:      req.Format,
		TargetScore: req.TargetScore,
		Mode:        req.Mode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *GameServer) handleGetTournament(w http.ResponseWriter, r *http.Request) {
	t, err := s.coordinator.Tournaments().Get(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *GameServer) handleResolveTournamentPin(w http.ResponseWriter, r *http.Request) {
	t, err := s.coordinator.Tournaments().ResolveByPin(r.Context(), chi.URLParam(r, "pin"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *GameServer) handleStandings(w http.ResponseWriter, r *http.Request) {
	scheduler := s.coordinator.Tournaments()
	t, err := scheduler.Get(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := standingsResponse{
		Standings: tournament.Standings(t, scheduler.Points()),
		Complete:  tournament.IsComplete(t),
	}
	if champion, ok := tournament.Champion(t, scheduler.Points()); ok {
		resp.ChampionTeamID = champion.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *GameServer) handleJoinTournament(w http.ResponseWriter, r *http.Request) {
	t, err := s.coordinator.Tournaments().Join(r.Context(), chi.URLParam(r, "tournamentID"), playerFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *GameServer) handleFormTeams(w http.ResponseWriter, r *http.Request) {
	var req teamsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.coordinator.Tournaments().FormTeams(r.Context(), chi.URLParam(r, "tournamentID"), playerFrom(r).UserID, req.Teams)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *GameServer) handleStartTournament(w http.ResponseWriter, r *http.Request) {
	t, err := s.coordinator.Tournaments().Start(r.Context(), chi.URLParam(r, "tournamentID"), playerFrom(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleResumeTournament creates the active match's game if it is missing.
func (s *GameServer) handleResumeTournament(w http.ResponseWriter, r *http.Request) {
	t, err := s.coordinator.Tournaments().EnsureActiveGame(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *GameServer) handleCancelTournament(w http.ResponseWriter, r *http.Request) {
	t, err := s.coordinator.CancelTournament(r.Context(), chi.URLParam(r, "tournamentID"), playerFrom(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *GameServer) handleMatchResult(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.coordinator.IngestMatchResult(r.Context(),
		chi.URLParam(r, "tournamentID"), playerFrom(r).UserID, chi.URLParam(r, "matchID"),
		req.Score, req.WinnerTeamID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
