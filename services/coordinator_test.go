package services

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/babyfoot/apperr"
	"github.com/wfunc/babyfoot/archive"
	"github.com/wfunc/babyfoot/game"
	"github.com/wfunc/babyfoot/models"
	"github.com/wfunc/babyfoot/monitor"
	"github.com/wfunc/babyfoot/persistence"
	"github.com/wfunc/babyfoot/pincode"
	"github.com/wfunc/babyfoot/session"
	"github.com/wfunc/babyfoot/tournament"
)

var (
	alice = models.Player{UserID: "u1", Username: "alice"}
	bob   = models.Player{UserID: "u2", Username: "bob"}
)

// flakyStore fails session or tournament updates while the flags are set.
type flakyStore struct {
	*persistence.MemoryStore
	failSessions    atomic.Bool
	failTournaments atomic.Bool
}

func (f *flakyStore) Update(ctx context.Context, doc *persistence.Document, expectedVersion int64) error {
	if doc.Collection == models.CollectionSessions && f.failSessions.Load() {
		return apperr.ErrStoreUnavailable
	}
	if doc.Collection == models.CollectionTournaments && f.failTournaments.Load() {
		return apperr.ErrStoreUnavailable
	}
	return f.MemoryStore.Update(ctx, doc, expectedVersion)
}

type recordingSink struct {
	mutex   sync.Mutex
	objects map[string][]byte
	puts    map[string]int
}

func (r *recordingSink) Put(_ context.Context, key string, body []byte) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.puts == nil {
		r.puts = map[string]int{}
	}
	r.objects[key] = body
	r.puts[key]++
	return nil
}

func (r *recordingSink) putCount(key string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.puts[key]
}

func (r *recordingSink) keys() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	keys := make([]string, 0, len(r.objects))
	for k := range r.objects {
		keys = append(keys, k)
	}
	return keys
}

func newTestCoordinator(t *testing.T, store persistence.Store, pins *pincode.Generator) *Coordinator {
	t.Helper()
	clock := clockwork.NewFakeClock()
	sessions := session.NewManager(store, session.Options{Clock: clock, Pins: pins})
	games := game.NewEngine(store, game.Options{Clock: clock})
	tournaments := tournament.NewScheduler(store, tournament.Options{Clock: clock, Games: games})
	return NewCoordinator(sessions, games, tournaments, monitor.NewMonitor("test"))
}

func TestCoordinator_DuelEndToEnd(t *testing.T) {
	// 随机字节 0,1,2 / 1,2,3 生成 ABC-123
	pins := pincode.NewGeneratorFrom(bytes.NewReader([]byte{0, 1, 2, 1, 2, 3}))
	c := newTestCoordinator(t, persistence.NewMemoryStore(nil), pins)
	ctx := context.Background()

	s, err := c.CreateSession(ctx, alice, "bar-du-coin", models.Format1v1)
	require.NoError(t, err)
	require.Equal(t, "ABC-123", s.PinCode)

	s, err = c.JoinSession(ctx, "", "abc-123", bob)
	require.NoError(t, err)
	require.Equal(t, models.SessionReady, s.Status)

	res, err := c.StartSession(ctx, s.ID, alice.UserID, StartRequest{
		Kind:        StartGame,
		Teams:       session.Assignment{{"u1"}, {"u2"}},
		TargetScore: 6,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Game)
	assert.Equal(t, models.SessionActive, res.Session.Status)
	assert.Equal(t, res.Game.ID, res.Session.GameRef)
	assert.Len(t, res.Game.Teams[0].Players, 1)
	assert.Len(t, res.Game.Teams[1].Players, 1)
	assert.Equal(t, 6, res.Game.TargetScore)

	var g *models.Game
	for i := 0; i < 6; i++ {
		g, err = c.RecordGoal(ctx, res.Game.ID, game.GoalInput{
			TeamIndex: 0, ScorerID: "u1", Position: models.PositionAttack, Type: models.GoalNormal,
		})
		require.NoError(t, err)
	}
	assert.Equal(t, models.GameCompleted, g.Status)
	require.NotNil(t, g.WinnerTeamIndex)
	assert.Equal(t, 0, *g.WinnerTeamIndex)

	results, err := c.GameResults(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", results.MVP.UserID)
}

func TestCoordinator_StartRejections(t *testing.T) {
	c := newTestCoordinator(t, persistence.NewMemoryStore(nil), nil)
	ctx := context.Background()
	s, err := c.CreateSession(ctx, alice, "", models.Format1v1)
	require.NoError(t, err)

	req := StartRequest{Teams: session.Assignment{{"u1"}, {"u2"}}, TargetScore: 6}
	_, err = c.StartSession(ctx, s.ID, alice.UserID, req)
	assert.ErrorIs(t, err, session.ErrSessionNotReady)

	_, err = c.JoinSession(ctx, s.ID, "", bob)
	require.NoError(t, err)

	_, err = c.StartSession(ctx, s.ID, bob.UserID, req)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = c.StartSession(ctx, s.ID, alice.UserID, StartRequest{Teams: session.Assignment{{"u1", "u2"}, {}}, TargetScore: 6})
	assert.ErrorIs(t, err, session.ErrInvalidTeamAssignment)
}

func TestCoordinator_StartRollsBackOnActivationFailure(t *testing.T) {
	store := &flakyStore{MemoryStore: persistence.NewMemoryStore(nil)}
	c := newTestCoordinator(t, store, nil)
	ctx := context.Background()
	s, _ := c.CreateSession(ctx, alice, "", models.Format1v1)
	_, err := c.JoinSession(ctx, s.ID, "", bob)
	require.NoError(t, err)

	store.failSessions.Store(true)
	_, err = c.StartSession(ctx, s.ID, alice.UserID, StartRequest{Teams: session.Assignment{{"u1"}, {"u2"}}, TargetScore: 6})
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)

	games, err := store.Query(ctx, models.CollectionGames)
	require.NoError(t, err)
	assert.Empty(t, games)

	store.failSessions.Store(false)
	got, err := c.Sessions().Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionReady, got.Status)
}

func TestCoordinator_TournamentHandoff(t *testing.T) {
	c := newTestCoordinator(t, persistence.NewMemoryStore(nil), nil)
	sink := &recordingSink{objects: map[string][]byte{}}
	c.SetArchiver(archive.New(sink))
	ctx := context.Background()
	s, _ := c.CreateSession(ctx, alice, "", models.Format1v1)
	_, err := c.JoinSession(ctx, s.ID, "", bob)
	require.NoError(t, err)

	res, err := c.StartSession(ctx, s.ID, alice.UserID, StartRequest{
		Kind:        StartTournament,
		Teams:       session.Assignment{{"u1"}, {"u2"}},
		TargetScore: 6,
		Name:        "Lunch final",
		Mode:        models.ModeBracket,
		TeamNames:   []string{"Alice", "Bob"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Tournament)
	assert.Equal(t, models.TournamentTeamSetup, res.Tournament.Status)
	assert.Equal(t, res.Tournament.ID, res.Session.TournamentRef)
	assert.Equal(t, s.ID, res.Tournament.SessionRef)

	tour, err := c.Tournaments().Start(ctx, res.Tournament.ID, alice.UserID)
	require.NoError(t, err)
	m := tour.ActiveMatch()
	require.NotNil(t, m)
	require.NotEmpty(t, m.GameRef)

	// 比赛结束后自动写回赛事
	for i := 0; i < 6; i++ {
		_, err = c.RecordGoal(ctx, m.GameRef, game.GoalInput{
			TeamIndex: 1, ScorerID: "u2", Position: models.PositionMidfield, Type: models.GoalNormal,
		})
		require.NoError(t, err)
	}

	tour, err = c.Tournaments().Get(ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentCompleted, tour.Status)
	assert.Equal(t, "bob", tour.ChampionTeamID)
	assert.Equal(t, &models.MatchScore{Team1: 0, Team2: 6}, tour.Match(m.ID).Score)

	assert.Contains(t, sink.keys(), archive.GameKey(m.GameRef))
	assert.Contains(t, sink.keys(), archive.TournamentKey(tour.ID))
}

func TestCoordinator_CancelTournamentAbandonsGame(t *testing.T) {
	c := newTestCoordinator(t, persistence.NewMemoryStore(nil), nil)
	ctx := context.Background()

	tour, err := c.Tournaments().Create(ctx, tournament.CreateSpec{
		Host: alice, Format: models.Format1v1, TargetScore: 6, Mode: models.ModeRoundRobin,
		Roster: []models.Player{bob},
		Teams: []tournament.TeamSpec{
			{Name: "A", PlayerIDs: []string{"u1"}},
			{Name: "B", PlayerIDs: []string{"u2"}},
		},
	})
	require.NoError(t, err)
	tour, err = c.Tournaments().Start(ctx, tour.ID, alice.UserID)
	require.NoError(t, err)
	gameID := tour.ActiveMatch().GameRef

	_, err = c.CancelTournament(ctx, tour.ID, alice.UserID)
	require.NoError(t, err)

	g, err := c.Games().Get(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, models.GameAbandoned, g.Status)
}

func TestCoordinator_ManualResultAbandonsRunningGame(t *testing.T) {
	c := newTestCoordinator(t, persistence.NewMemoryStore(nil), nil)
	ctx := context.Background()

	tour, err := c.Tournaments().Create(ctx, tournament.CreateSpec{
		Host: alice, Format: models.Format1v1, TargetScore: 6, Mode: models.ModeRoundRobin,
		Roster: []models.Player{bob},
		Teams: []tournament.TeamSpec{
			{Name: "A", PlayerIDs: []string{"u1"}},
			{Name: "B", PlayerIDs: []string{"u2"}},
		},
	})
	require.NoError(t, err)
	tour, err = c.Tournaments().Start(ctx, tour.ID, alice.UserID)
	require.NoError(t, err)
	active := tour.ActiveMatch()
	require.NotNil(t, active)

	tour, err = c.IngestMatchResult(ctx, tour.ID, alice.UserID, active.ID, models.MatchScore{Team1: 6, Team2: 1}, "")
	require.NoError(t, err)
	assert.Equal(t, models.TournamentCompleted, tour.Status)

	g, err := c.Games().Get(ctx, active.GameRef)
	require.NoError(t, err)
	assert.Equal(t, models.GameAbandoned, g.Status)
}

// startSoloTournament starts a 1v1 round robin with one team per player.
func startSoloTournament(t *testing.T, c *Coordinator, roster ...models.Player) *models.Tournament {
	t.Helper()
	ctx := context.Background()
	specs := make([]tournament.TeamSpec, len(roster))
	for i, p := range roster {
		specs[i] = tournament.TeamSpec{Name: p.Username, PlayerIDs: []string{p.UserID}}
	}
	tour, err := c.Tournaments().Create(ctx, tournament.CreateSpec{
		Host: roster[0], Format: models.Format1v1, TargetScore: 6, Mode: models.ModeRoundRobin,
		Roster: roster[1:], Teams: specs,
	})
	require.NoError(t, err)
	tour, err = c.Tournaments().Start(ctx, tour.ID, roster[0].UserID)
	require.NoError(t, err)
	require.NotNil(t, tour.ActiveMatch())
	return tour
}

func scoreFor(tour *models.Tournament, m *models.TournamentMatch, side int) game.GoalInput {
	ref := m.Team1Ref
	if side == 1 {
		ref = m.Team2Ref
	}
	team, _ := tour.Team(ref)
	return game.GoalInput{TeamIndex: side, ScorerID: team.Players[0].UserID, Position: models.PositionAttack, Type: models.GoalNormal}
}

func TestCoordinator_RetractRefusedOnceTournamentHasResult(t *testing.T) {
	c := newTestCoordinator(t, persistence.NewMemoryStore(nil), nil)
	ctx := context.Background()
	carol := models.Player{UserID: "u3", Username: "carol"}
	tour := startSoloTournament(t, c, alice, bob, carol)
	first := *tour.ActiveMatch()

	for i := 0; i < 6; i++ {
		_, err := c.RecordGoal(ctx, first.GameRef, scoreFor(tour, &first, 0))
		require.NoError(t, err)
	}

	_, err := c.RetractLastGoal(ctx, first.GameRef)
	assert.ErrorIs(t, err, game.ErrResultFinal)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	g, err := c.Games().Get(ctx, first.GameRef)
	require.NoError(t, err)
	assert.Equal(t, models.GameCompleted, g.Status)
	assert.Equal(t, 6, g.Teams[0].Score)

	tour, err = c.Tournaments().Get(ctx, tour.ID)
	require.NoError(t, err)
	m := tour.Match(first.ID)
	assert.Equal(t, models.MatchCompleted, m.Status)
	assert.Equal(t, first.Team1Ref, m.WinnerTeamID)

	running := 0
	for _, m := range tour.Matches {
		if m.GameRef == "" {
			continue
		}
		g, err := c.Games().Get(ctx, m.GameRef)
		require.NoError(t, err)
		if g.Status == models.GameInProgress {
			running++
		}
	}
	assert.Equal(t, 1, running)
}

func TestCoordinator_GoalKeptWhenTournamentWriteFails(t *testing.T) {
	store := &flakyStore{MemoryStore: persistence.NewMemoryStore(nil)}
	c := newTestCoordinator(t, store, nil)
	ctx := context.Background()
	tour := startSoloTournament(t, c, alice, bob)
	m := *tour.ActiveMatch()

	for i := 0; i < 5; i++ {
		_, err := c.RecordGoal(ctx, m.GameRef, scoreFor(tour, &m, 1))
		require.NoError(t, err)
	}
	store.failTournaments.Store(true)
	g, err := c.RecordGoal(ctx, m.GameRef, scoreFor(tour, &m, 1))
	require.NoError(t, err)
	assert.Equal(t, models.GameCompleted, g.Status)
	assert.Len(t, g.Goals, 6)

	tour, err = c.Tournaments().Get(ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchInProgress, tour.Match(m.ID).Status)

	// 主办方手动补录
	store.failTournaments.Store(false)
	tour, err = c.IngestMatchResult(ctx, tour.ID, alice.UserID, m.ID, models.MatchScore{Team1: 0, Team2: 6}, "")
	require.NoError(t, err)
	assert.Equal(t, models.TournamentCompleted, tour.Status)
	assert.Equal(t, m.Team2Ref, tour.ChampionTeamID)

	g, err = c.Games().Get(ctx, m.GameRef)
	require.NoError(t, err)
	assert.Equal(t, models.GameCompleted, g.Status)
}

func TestCoordinator_RacingReplayEndsGameOnce(t *testing.T) {
	c := newTestCoordinator(t, persistence.NewMemoryStore(nil), nil)
	sink := &recordingSink{objects: map[string][]byte{}}
	c.SetArchiver(archive.New(sink))
	ctx := context.Background()
	s, _ := c.CreateSession(ctx, alice, "", models.Format1v1)
	_, err := c.JoinSession(ctx, s.ID, "", bob)
	require.NoError(t, err)
	res, err := c.StartSession(ctx, s.ID, alice.UserID, StartRequest{
		Teams: session.Assignment{{"u1"}, {"u2"}}, TargetScore: 6,
	})
	require.NoError(t, err)
	gameID := res.Game.ID

	goal := game.GoalInput{TeamIndex: 0, ScorerID: "u1", Position: models.PositionAttack, Type: models.GoalNormal}
	for i := 0; i < 5; i++ {
		_, err := c.RecordGoal(ctx, gameID, goal)
		require.NoError(t, err)
	}

	goal.ClientKey = "winner"
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := c.RecordGoal(ctx, gameID, goal)
			assert.NoError(t, err)
			if err == nil {
				assert.Equal(t, models.GameCompleted, g.Status)
			}
		}()
	}
	wg.Wait()

	g, err := c.Games().Get(ctx, gameID)
	require.NoError(t, err)
	assert.Len(t, g.Goals, 6)
	assert.Equal(t, 1, sink.putCount(archive.GameKey(gameID)))
}
