package tournament

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/wfunc/babyfoot/broadcast"
	"github.com/wfunc/babyfoot/game"
	"github.com/wfunc/babyfoot/logger"
	"github.com/wfunc/babyfoot/models"
	"github.com/wfunc/babyfoot/persistence"
	"github.com/wfunc/babyfoot/pincode"
)

// Games creates the game played for each match.
type Games interface {
	Create(ctx context.Context, spec game.CreateSpec) (*models.Game, error)
	Delete(ctx context.Context, gameID string) error
}

type Options struct {
	Points      PointsTable
	PinAttempts int
	Clock       clockwork.Clock
	Pins        *pincode.Generator
	// Games may be nil, in which case matches are activated without a game.
	Games Games
}

// Scheduler 赛事调度
type Scheduler struct {
	store       persistence.Store
	clock       clockwork.Clock
	pins        *pincode.Generator
	pinAttempts int
	points      PointsTable
	games       Games
}

func NewScheduler(store persistence.Store, opts Options) *Scheduler {
	if opts.Points == (PointsTable{}) {
		opts.Points = DefaultPoints
	}
	if opts.PinAttempts <= 0 {
		opts.PinAttempts = 16
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Pins == nil {
		opts.Pins = pincode.NewGenerator()
	}
	return &Scheduler{
		store:       store,
		clock:       opts.Clock,
		pins:        opts.Pins,
		pinAttempts: opts.PinAttempts,
		points:      opts.Points,
		games:       opts.Games,
	}
}

func (s *Scheduler) Points() PointsTable { return s.points }

func notFound(id string, err error) error {
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", id, ErrTournamentNotFound)
	}
	return err
}

var openStatuses = []string{
	string(models.TournamentWaiting),
	string(models.TournamentTeamSetup),
	string(models.TournamentInProgress),
}

func (s *Scheduler) byPin(ctx context.Context, code string) (*models.Tournament, error) {
	found, err := persistence.QueryAll[models.Tournament](ctx, s.store, models.CollectionTournaments,
		persistence.Eq(models.FieldPinCode, code),
		persistence.In(models.FieldStatus, openStatuses...),
	)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

// CreateSpec describes a new tournament. Teams, when given, skip the roster
// phase and the tournament starts in team_setup.
type CreateSpec struct {
	Host        models.Player
	Name        string
	VenueRef    string
	Format      models.Format
	TargetScore int
	Mode        models.TournamentMode
	Roster      []models.Player
	Teams       []TeamSpec
	SessionRef  string
}

func (s *Scheduler) Create(ctx context.Context, spec CreateSpec) (*models.Tournament, error) {
	switch {
	case spec.Host.UserID == "":
		return nil, fmt.Errorf("host: %w", ErrInvalidSettings)
	case !spec.Format.Valid():
		return nil, fmt.Errorf("format %q: %w", spec.Format, ErrInvalidSettings)
	case !spec.Mode.Valid():
		return nil, fmt.Errorf("mode %q: %w", spec.Mode, ErrInvalidSettings)
	case spec.TargetScore != 6 && spec.TargetScore != 11:
		return nil, fmt.Errorf("target score %d: %w", spec.TargetScore, ErrInvalidSettings)
	}

	roster := []models.Player{spec.Host}
	for _, p := range spec.Roster {
		if p.UserID != "" && p.UserID != spec.Host.UserID {
			roster = append(roster, p)
		}
	}

	t := &models.Tournament{
		ID:          uuid.NewString(),
		Name:        spec.Name,
		HostID:      spec.Host.UserID,
		VenueRef:    spec.VenueRef,
		Format:      spec.Format,
		TargetScore: spec.TargetScore,
		Mode:        spec.Mode,
		Players:     roster,
		Status:      models.TournamentWaiting,
		SessionRef:  spec.SessionRef,
		CreatedAt:   s.clock.Now(),
	}
	if len(spec.Teams) > 0 {
		if err := ApplyFormTeams(t, spec.Host.UserID, spec.Teams); err != nil {
			return nil, err
		}
	}

	pin, err := pincode.Allocate(ctx, s.pins, func(ctx context.Context, code string) (bool, error) {
		found, err := s.byPin(ctx, code)
		return found != nil, err
	}, s.pinAttempts)
	if err != nil {
		return nil, err
	}
	t.PinCode = pin

	if err := persistence.Insert(ctx, s.store, models.CollectionTournaments, t); err != nil {
		logger.Log.Errorw("create tournament", "error", err)
		return nil, err
	}
	logger.Log.Infow("tournament created", "tournamentId", t.ID, "mode", t.Mode, "status", t.Status)
	return t, nil
}

func (s *Scheduler) Get(ctx context.Context, tournamentID string) (*models.Tournament, error) {
	t, err := persistence.Load[models.Tournament](ctx, s.store, models.CollectionTournaments, tournamentID)
	if err != nil {
		return nil, notFound(tournamentID, err)
	}
	return t, nil
}

func (s *Scheduler) ResolveByPin(ctx context.Context, pin string) (*models.Tournament, error) {
	code, ok := pincode.Canonical(pin)
	if !ok {
		return nil, fmt.Errorf("pin %q: %w", pin, ErrTournamentNotFound)
	}
	t, err := s.byPin(ctx, code)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("pin %s: %w", code, ErrTournamentNotFound)
	}
	return t, nil
}

func (s *Scheduler) mutate(ctx context.Context, tournamentID string, fn func(*models.Tournament) error) (*models.Tournament, error) {
	t, err := persistence.Mutate(ctx, s.store, models.CollectionTournaments, tournamentID, fn)
	if err != nil {
		return nil, notFound(tournamentID, err)
	}
	return t, nil
}

func (s *Scheduler) Join(ctx context.Context, tournamentID string, player models.Player) (*models.Tournament, error) {
	return s.mutate(ctx, tournamentID, func(t *models.Tournament) error {
		return ApplyJoin(t, player)
	})
}

func (s *Scheduler) FormTeams(ctx context.Context, tournamentID, actorID string, specs []TeamSpec) (*models.Tournament, error) {
	return s.mutate(ctx, tournamentID, func(t *models.Tournament) error {
		return ApplyFormTeams(t, actorID, specs)
	})
}

// Start schedules the matches and puts the first one in play.
func (s *Scheduler) Start(ctx context.Context, tournamentID, actorID string) (*models.Tournament, error) {
	t, err := s.mutate(ctx, tournamentID, func(t *models.Tournament) error {
		return ApplyStart(t, actorID, s.points)
	})
	if err != nil {
		return nil, err
	}
	logger.Log.Infow("tournament started", "tournamentId", t.ID, "matches", len(t.Matches))
	return s.startActiveGame(ctx, t)
}

// IngestMatchResult records a finished match and advances the tournament.
func (s *Scheduler) IngestMatchResult(ctx context.Context, tournamentID, matchID string, score models.MatchScore, winnerTeamID string) (*models.Tournament, error) {
	t, err := s.mutate(ctx, tournamentID, func(t *models.Tournament) error {
		return ApplyResult(t, matchID, score, winnerTeamID, s.points)
	})
	if err != nil {
		return nil, err
	}
	if t.Status == models.TournamentCompleted {
		logger.Log.Infow("tournament completed", "tournamentId", t.ID, "champion", t.ChampionTeamID)
		return t, nil
	}
	logger.Log.Infow("tournament advanced", "tournamentId", t.ID, "match", matchID)
	return s.startActiveGame(ctx, t)
}

// startActiveGame creates the game for the active match and links it. The
// tournament is already written when this runs, so a failure is logged and
// the stored tournament is returned; EnsureActiveGame retries later. The game
// is removed again when the link cannot be written.
func (s *Scheduler) startActiveGame(ctx context.Context, t *models.Tournament) (*models.Tournament, error) {
	linked, err := s.linkActiveGame(ctx, t)
	if err != nil {
		logger.Log.Errorw("start game of active match", "tournamentId", t.ID, "error", err)
		return t, nil
	}
	return linked, nil
}

func (s *Scheduler) linkActiveGame(ctx context.Context, t *models.Tournament) (*models.Tournament, error) {
	m := t.ActiveMatch()
	if s.games == nil || m == nil || m.GameRef != "" {
		return t, nil
	}
	team1, _ := t.Team(m.Team1Ref)
	team2, _ := t.Team(m.Team2Ref)
	g, err := s.games.Create(ctx, game.CreateSpec{
		Teams:         [2][]models.Player{team1.Players, team2.Players},
		TargetScore:   t.TargetScore,
		VenueRef:      t.VenueRef,
		TournamentRef: t.ID,
		MatchRef:      m.ID,
	})
	if err != nil {
		return nil, err
	}

	matchID := m.ID
	linked, err := s.mutate(ctx, t.ID, func(t *models.Tournament) error {
		return ApplyLinkGame(t, matchID, g.ID)
	})
	if err != nil {
		if derr := s.games.Delete(ctx, g.ID); derr != nil {
			logger.Log.Errorw("discard unlinked game", "gameId", g.ID, "error", derr)
		}
		return nil, err
	}
	return linked, nil
}

// EnsureActiveGame creates the game of the active match when an earlier
// attempt failed. It is a no-op once the match has a game.
func (s *Scheduler) EnsureActiveGame(ctx context.Context, tournamentID string) (*models.Tournament, error) {
	t, err := s.Get(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.TournamentInProgress {
		return nil, ErrTournamentNotInProgress
	}
	return s.linkActiveGame(ctx, t)
}

func (s *Scheduler) Cancel(ctx context.Context, tournamentID, actorID string) (*models.Tournament, error) {
	return s.mutate(ctx, tournamentID, func(t *models.Tournament) error {
		return ApplyCancel(t, actorID)
	})
}

// Delete removes a tournament that never got linked anywhere.
func (s *Scheduler) Delete(ctx context.Context, tournamentID string) error {
	return notFound(tournamentID, s.store.Delete(ctx, models.CollectionTournaments, tournamentID))
}

func (s *Scheduler) Subscribe(tournamentID string, fn func(*models.Tournament)) (cancel func()) {
	return s.store.Subscribe(models.CollectionTournaments, tournamentID, func(snap broadcast.Snapshot) {
		if snap.Deleted {
			return
		}
		t, err := persistence.DecodeSnapshot[models.Tournament](snap)
		if err != nil {
			logger.Log.Warnw("decode tournament snapshot", "tournamentId", snap.ID, "error", err)
			return
		}
		fn(t)
	})
}
