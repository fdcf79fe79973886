// services/coordinator.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wfunc/babyfoot/apperr"
	"github.com/wfunc/babyfoot/archive"
	"github.com/wfunc/babyfoot/game"
	"github.com/wfunc/babyfoot/logger"
	"github.com/wfunc/babyfoot/models"
	"github.com/wfunc/babyfoot/monitor"
	"github.com/wfunc/babyfoot/session"
	"github.com/wfunc/babyfoot/tournament"
)

// Coordinator 串联大厅、比赛与赛事，负责交接与指标
type Coordinator struct {
	sessions    *session.Manager
	games       *game.Engine
	tournaments *tournament.Scheduler
	monitor     *monitor.Monitor
	archiver    *archive.Archiver
}

func NewCoordinator(sessions *session.Manager, games *game.Engine, tournaments *tournament.Scheduler, mon *monitor.Monitor) *Coordinator {
	c := &Coordinator{
		sessions:    sessions,
		games:       games,
		tournaments: tournaments,
		monitor:     mon,
	}
	games.OnEnded(c.gameEnded)
	return c
}

func (c *Coordinator) Sessions() *session.Manager         { return c.sessions }
func (c *Coordinator) Games() *game.Engine                { return c.games }
func (c *Coordinator) Tournaments() *tournament.Scheduler { return c.tournaments }
func (c *Coordinator) Monitor() *monitor.Monitor          { return c.monitor }

// SetArchiver enables archiving of finished games and tournaments.
func (c *Coordinator) SetArchiver(a *archive.Archiver) {
	c.archiver = a
}

// 存档失败不影响比赛结果，只记录日志
func (c *Coordinator) archiveGame(ctx context.Context, g *models.Game) {
	if c.archiver == nil {
		return
	}
	if err := c.archiver.Game(ctx, g); err != nil {
		logger.Log.Warnw("archive game", "gameId", g.ID, "error", err)
	}
}

func (c *Coordinator) tournamentCompleted(ctx context.Context, t *models.Tournament) {
	c.monitor.IncTournamentsCompleted()
	if c.archiver == nil {
		return
	}
	if err := c.archiver.Tournament(ctx, t, t.Standings); err != nil {
		logger.Log.Warnw("archive tournament", "tournamentId", t.ID, "error", err)
	}
}

func (c *Coordinator) observe(op string, start time.Time) {
	c.monitor.ObserveRequest(op, time.Since(start))
}

func (c *Coordinator) CreateSession(ctx context.Context, host models.Player, venueRef string, format models.Format) (*models.Session, error) {
	defer c.observe("create_session", time.Now())
	s, err := c.sessions.Create(ctx, host, venueRef, format)
	if err != nil {
		return nil, err
	}
	c.monitor.IncSessionsCreated()
	return s, nil
}

func joinOutcome(err error) string {
	switch {
	case err == nil:
		return "joined"
	case errors.Is(err, session.ErrSessionFull):
		return "full"
	case errors.Is(err, session.ErrSessionExpired):
		return "expired"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	}
	return "rejected"
}

// JoinSession joins by session id, or by PIN when sessionID is empty.
func (c *Coordinator) JoinSession(ctx context.Context, sessionID, pin string, player models.Player) (*models.Session, error) {
	defer c.observe("join_session", time.Now())
	var s *models.Session
	var err error
	if sessionID != "" {
		s, err = c.sessions.Join(ctx, sessionID, player)
	} else {
		s, err = c.sessions.JoinByPin(ctx, pin, player)
	}
	c.monitor.IncSessionJoin(joinOutcome(err))
	return s, err
}

type StartKind string

const (
	StartGame       StartKind = "game"
	StartTournament StartKind = "tournament"
)

// StartRequest describes what a ready session turns into.
type StartRequest struct {
	Kind        StartKind          `json:"kind"`
	Teams       session.Assignment `json:"teams"`
	TargetScore int                `json:"targetScore"`
	// Tournament only.
	Name      string                `json:"name,omitempty"`
	Mode      models.TournamentMode `json:"mode,omitempty"`
	TeamNames []string              `json:"teamNames,omitempty"`
}

type StartResult struct {
	Session    *models.Session    `json:"session"`
	Game       *models.Game       `json:"game,omitempty"`
	Tournament *models.Tournament `json:"tournament,omitempty"`
}

// StartSession hands a ready session over to a new game or tournament. The
// created entity is deleted again if the session cannot be activated, so a
// rejected start leaves nothing behind.
func (c *Coordinator) StartSession(ctx context.Context, sessionID, actorID string, req StartRequest) (*StartResult, error) {
	defer c.observe("start_session", time.Now())

	s, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if actorID != s.HostID {
		return nil, session.ErrNotHost
	}
	switch s.Status {
	case models.SessionReady:
	case models.SessionExpired:
		return nil, session.ErrSessionExpired
	case models.SessionWaiting:
		return nil, session.ErrSessionNotReady
	default:
		return nil, session.ErrSessionClosed
	}
	teams, err := session.ValidateAssignment(s, req.Teams)
	if err != nil {
		return nil, err
	}

	result := &StartResult{}
	var link session.Link
	var discard func(context.Context) error
	switch req.Kind {
	case StartGame, "":
		g, err := c.games.Create(ctx, game.CreateSpec{
			Teams:       [2][]models.Player{teams[0], teams[1]},
			TargetScore: req.TargetScore,
			VenueRef:    s.VenueRef,
			SessionRef:  s.ID,
		})
		if err != nil {
			return nil, err
		}
		result.Game = g
		link.GameRef = g.ID
		discard = func(ctx context.Context) error { return c.games.Delete(ctx, g.ID) }
	case StartTournament:
		specs := make([]tournament.TeamSpec, len(req.Teams))
		for i, ids := range req.Teams {
			specs[i] = tournament.TeamSpec{PlayerIDs: ids, Color: game.Colors[i]}
			if i < len(req.TeamNames) {
				specs[i].Name = req.TeamNames[i]
			}
		}
		host := s.Players[s.PlayerIndex(s.HostID)]
		t, err := c.tournaments.Create(ctx, tournament.CreateSpec{
			Host:        host,
			Name:        req.Name,
			VenueRef:    s.VenueRef,
			Format:      s.Format,
			TargetScore: req.TargetScore,
			Mode:        req.Mode,
			Roster:      s.Players,
			Teams:       specs,
			SessionRef:  s.ID,
		})
		if err != nil {
			return nil, err
		}
		result.Tournament = t
		link.TournamentRef = t.ID
		discard = func(ctx context.Context) error { return c.tournaments.Delete(ctx, t.ID) }
	default:
		return nil, fmt.Errorf("start kind %q: %w", req.Kind, tournament.ErrInvalidSettings)
	}

	activated, err := c.sessions.Activate(ctx, sessionID, actorID, req.Teams, link)
	if err != nil {
		if derr := discard(ctx); derr != nil {
			logger.Log.Errorw("discard entity after failed start", "sessionId", sessionID, "error", derr)
		}
		return nil, err
	}
	result.Session = activated
	return result, nil
}

// gameEnded runs once per game, after the write that ended it. It updates
// metrics and feeds a completed tournament game into its tournament. The game
// is already stored, so failures here are logged and the host can still
// enter the result by hand.
func (c *Coordinator) gameEnded(ctx context.Context, g *models.Game) {
	c.monitor.IncGameFinished(string(g.Status))
	c.archiveGame(ctx, g)
	if g.Status != models.GameCompleted || g.TournamentRef == "" {
		return
	}
	if err := c.ingestGame(ctx, g); err != nil {
		logger.Log.Errorw("ingest tournament game", "tournamentId", g.TournamentRef, "matchId", g.MatchRef, "gameId", g.ID, "error", err)
	}
}

func (c *Coordinator) ingestGame(ctx context.Context, g *models.Game) error {
	t, err := c.tournaments.Get(ctx, g.TournamentRef)
	if err != nil {
		return err
	}
	m := t.Match(g.MatchRef)
	if m == nil {
		return fmt.Errorf("%s: %w", g.MatchRef, tournament.ErrMatchNotFound)
	}
	winner := ""
	if g.WinnerTeamIndex != nil {
		winner = []string{m.Team1Ref, m.Team2Ref}[*g.WinnerTeamIndex]
	}
	score := models.MatchScore{Team1: g.Teams[0].Score, Team2: g.Teams[1].Score}

	t, err = c.tournaments.IngestMatchResult(ctx, t.ID, m.ID, score, winner)
	if errors.Is(err, tournament.ErrMatchAlreadyComplete) {
		return nil
	}
	if errors.Is(err, tournament.ErrBracketDraw) {
		// 淘汰赛平局需要主办方手动指定胜者
		logger.Log.Warnw("bracket game ended in a draw", "tournamentId", g.TournamentRef, "matchId", g.MatchRef)
		return nil
	}
	if err != nil {
		return err
	}
	if t.Status == models.TournamentCompleted {
		c.tournamentCompleted(ctx, t)
	}
	return nil
}

func (c *Coordinator) RecordGoal(ctx context.Context, gameID string, in game.GoalInput) (*models.Game, error) {
	defer c.observe("record_goal", time.Now())
	before, err := c.games.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	g, err := c.games.RecordGoal(ctx, gameID, in)
	if err != nil {
		return nil, err
	}
	if len(g.Goals) > len(before.Goals) {
		c.monitor.IncGoal(string(in.Type))
	}
	return g, nil
}

func (c *Coordinator) RetractLastGoal(ctx context.Context, gameID string) (*models.Game, error) {
	defer c.observe("retract_goal", time.Now())
	return c.games.RetractLastGoal(ctx, gameID)
}

func (c *Coordinator) FinishGame(ctx context.Context, gameID string) (*models.Game, error) {
	defer c.observe("finish_game", time.Now())
	return c.games.Finish(ctx, gameID)
}

func (c *Coordinator) AbandonGame(ctx context.Context, gameID string) (*models.Game, error) {
	defer c.observe("abandon_game", time.Now())
	return c.games.Abandon(ctx, gameID)
}

func (c *Coordinator) GameResults(ctx context.Context, gameID string) (game.Results, error) {
	g, err := c.games.Get(ctx, gameID)
	if err != nil {
		return game.Results{}, err
	}
	return game.ComputeResults(g), nil
}

// IngestMatchResult records a result by hand, e.g. a winner for a drawn
// bracket game. A game still running for that match is abandoned.
func (c *Coordinator) IngestMatchResult(ctx context.Context, tournamentID, actorID, matchID string, score models.MatchScore, winnerTeamID string) (*models.Tournament, error) {
	defer c.observe("ingest_result", time.Now())
	t, err := c.tournaments.Get(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if actorID != t.HostID {
		return nil, tournament.ErrNotHost
	}
	gameRef := ""
	if m := t.Match(matchID); m != nil {
		gameRef = m.GameRef
	}
	t, err = c.tournaments.IngestMatchResult(ctx, tournamentID, matchID, score, winnerTeamID)
	if err != nil {
		return nil, err
	}
	// 手动录入的结果优先，仍在进行的比赛直接放弃
	if gameRef != "" {
		if _, err := c.games.Abandon(ctx, gameRef); err != nil && !errors.Is(err, game.ErrGameNotInProgress) {
			logger.Log.Warnw("abandon game of manually scored match", "gameId", gameRef, "error", err)
		}
	}
	if t.Status == models.TournamentCompleted {
		c.tournamentCompleted(ctx, t)
	}
	return t, nil
}

// CancelTournament also abandons the game of the active match.
func (c *Coordinator) CancelTournament(ctx context.Context, tournamentID, actorID string) (*models.Tournament, error) {
	defer c.observe("cancel_tournament", time.Now())
	t, err := c.tournaments.Cancel(ctx, tournamentID, actorID)
	if err != nil {
		return nil, err
	}
	if m := t.ActiveMatch(); m != nil && m.GameRef != "" {
		if _, err := c.games.Abandon(ctx, m.GameRef); err != nil && !errors.Is(err, game.ErrGameNotInProgress) {
			logger.Log.Warnw("abandon game of cancelled tournament", "gameId", m.GameRef, "error", err)
		}
	}
	return t, nil
}
