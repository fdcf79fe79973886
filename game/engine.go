package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/wfunc/babyfoot/broadcast"
	"github.com/wfunc/babyfoot/logger"
	"github.com/wfunc/babyfoot/models"
	"github.com/wfunc/babyfoot/persistence"
)

// Team colors, team 0 first.
var Colors = [2]string{"red", "blue"}

type Options struct {
	// WinMargin is the lead a team needs at the target score. Values below
	// 1 mean first to target wins.
	WinMargin int
	Clock     clockwork.Clock
}

// Engine 比赛引擎，所有写操作都是 CAS 事务
type Engine struct {
	store     persistence.Store
	clock     clockwork.Clock
	winMargin int
	ended     []func(context.Context, *models.Game)
}

func NewEngine(store persistence.Store, opts Options) *Engine {
	if opts.WinMargin < 1 {
		opts.WinMargin = 1
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Engine{store: store, clock: opts.Clock, winMargin: opts.WinMargin}
}

// CreateSpec describes a game about to start.
type CreateSpec struct {
	Teams         [2][]models.Player
	TargetScore   int
	VenueRef      string
	SessionRef    string
	TournamentRef string
	MatchRef      string
}

func validTarget(target int) bool {
	return target == 6 || target == 11
}

func validateTeams(teams [2][]models.Player) error {
	if len(teams[0]) == 0 || len(teams[0]) != len(teams[1]) {
		return ErrInvalidTeams
	}
	seen := map[string]bool{}
	for _, team := range teams {
		for _, p := range team {
			if p.UserID == "" || seen[p.UserID] {
				return ErrInvalidTeams
			}
			seen[p.UserID] = true
		}
	}
	return nil
}

func notFound(id string, err error) error {
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", id, ErrGameNotFound)
	}
	return err
}

func (e *Engine) Create(ctx context.Context, spec CreateSpec) (*models.Game, error) {
	if !validTarget(spec.TargetScore) {
		return nil, fmt.Errorf("%d: %w", spec.TargetScore, ErrInvalidTargetScore)
	}
	if err := validateTeams(spec.Teams); err != nil {
		return nil, err
	}

	g := &models.Game{
		ID:            uuid.NewString(),
		SessionRef:    spec.SessionRef,
		TournamentRef: spec.TournamentRef,
		MatchRef:      spec.MatchRef,
		VenueRef:      spec.VenueRef,
		Goals:         []models.Goal{},
		TargetScore:   spec.TargetScore,
		WinMargin:     e.winMargin,
		Status:        models.GameInProgress,
		StartedAt:     e.clock.Now(),
	}
	for i := range g.Teams {
		g.Teams[i] = models.Team{
			Players: append([]models.Player(nil), spec.Teams[i]...),
			Color:   Colors[i],
		}
	}

	if err := persistence.Insert(ctx, e.store, models.CollectionGames, g); err != nil {
		logger.Log.Errorw("create game", "error", err)
		return nil, err
	}
	logger.Log.Infow("game started", "gameId", g.ID, "sessionRef", g.SessionRef, "tournamentRef", g.TournamentRef)
	return g, nil
}

func (e *Engine) Get(ctx context.Context, gameID string) (*models.Game, error) {
	g, err := persistence.Load[models.Game](ctx, e.store, models.CollectionGames, gameID)
	if err != nil {
		return nil, notFound(gameID, err)
	}
	return g, nil
}

// OnEnded registers fn to run after the write that takes a game out of
// in_progress. Replays that write nothing do not trigger it. Register before
// the engine is used.
func (e *Engine) OnEnded(fn func(ctx context.Context, g *models.Game)) {
	e.ended = append(e.ended, fn)
}

func (e *Engine) mutate(ctx context.Context, gameID string, fn func(*models.Game) error) (*models.Game, error) {
	var before models.GameStatus
	g, written, err := persistence.MutateWritten(ctx, e.store, models.CollectionGames, gameID, func(g *models.Game) error {
		before = g.Status
		return fn(g)
	})
	if err != nil {
		return nil, notFound(gameID, err)
	}
	if written && before == models.GameInProgress && g.Status != models.GameInProgress {
		for _, fn := range e.ended {
			fn(ctx, g)
		}
	}
	return g, nil
}

func (e *Engine) RecordGoal(ctx context.Context, gameID string, in GoalInput) (*models.Game, error) {
	goalID := uuid.NewString()
	now := e.clock.Now()
	g, err := e.mutate(ctx, gameID, func(g *models.Game) error {
		return ApplyGoal(g, goalID, in, now)
	})
	if err != nil {
		return nil, err
	}
	if g.Status == models.GameCompleted {
		logger.Log.Infow("game completed", "gameId", g.ID, "score", [2]int{g.Teams[0].Score, g.Teams[1].Score})
	}
	return g, nil
}

func (e *Engine) RetractLastGoal(ctx context.Context, gameID string) (*models.Game, error) {
	return e.mutate(ctx, gameID, ApplyRetract)
}

func (e *Engine) Abandon(ctx context.Context, gameID string) (*models.Game, error) {
	now := e.clock.Now()
	return e.mutate(ctx, gameID, func(g *models.Game) error {
		return ApplyAbandon(g, now)
	})
}

// Finish ends the game early on the current score.
func (e *Engine) Finish(ctx context.Context, gameID string) (*models.Game, error) {
	now := e.clock.Now()
	return e.mutate(ctx, gameID, func(g *models.Game) error {
		return ApplyFinish(g, now)
	})
}

// Delete removes a game that never got linked anywhere.
func (e *Engine) Delete(ctx context.Context, gameID string) error {
	return notFound(gameID, e.store.Delete(ctx, models.CollectionGames, gameID))
}

func (e *Engine) Subscribe(gameID string, fn func(*models.Game)) (cancel func()) {
	return e.store.Subscribe(models.CollectionGames, gameID, func(snap broadcast.Snapshot) {
		if snap.Deleted {
			return
		}
		g, err := persistence.DecodeSnapshot[models.Game](snap)
		if err != nil {
			logger.Log.Warnw("decode game snapshot", "gameId", snap.ID, "error", err)
			return
		}
		fn(g)
	})
}
