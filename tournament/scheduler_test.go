package tournament

import (
	"context"
	"fmt"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/babyfoot/apperr"
	"github.com/wfunc/babyfoot/game"
	"github.com/wfunc/babyfoot/models"
	"github.com/wfunc/babyfoot/persistence"
)

var teamNames = []string{"Alpha", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot", "Golf", "Hotel"}

func players(n int) []models.Player {
	out := make([]models.Player, n)
	for i := range out {
		out[i] = models.Player{UserID: fmt.Sprintf("u%d", i+1), Username: fmt.Sprintf("player%d", i+1)}
	}
	return out
}

func soloTeams(roster []models.Player) []TeamSpec {
	specs := make([]TeamSpec, len(roster))
	for i, p := range roster {
		specs[i] = TeamSpec{Name: teamNames[i], PlayerIDs: []string{p.UserID}}
	}
	return specs
}

// newStarted builds an in-progress 1v1 tournament of n solo teams.
func newStarted(t *testing.T, s *Scheduler, n int, mode models.TournamentMode) *models.Tournament {
	t.Helper()
	ctx := context.Background()
	roster := players(n)
	tour, err := s.Create(ctx, CreateSpec{
		Host:        roster[0],
		Name:        "Friday cup",
		Format:      models.Format1v1,
		TargetScore: 6,
		Mode:        mode,
		Roster:      roster,
	})
	require.NoError(t, err)
	_, err = s.FormTeams(ctx, tour.ID, roster[0].UserID, soloTeams(roster))
	require.NoError(t, err)
	tour, err = s.Start(ctx, tour.ID, roster[0].UserID)
	require.NoError(t, err)
	return tour
}

func newTestScheduler(games Games) *Scheduler {
	return NewScheduler(persistence.NewMemoryStore(nil), Options{Clock: clockwork.NewFakeClock(), Games: games})
}

func TestScheduler_CreateJoinFormTeams(t *testing.T) {
	s := newTestScheduler(nil)
	ctx := context.Background()
	roster := players(4)

	tour, err := s.Create(ctx, CreateSpec{Host: roster[0], Format: models.Format2v2, TargetScore: 11, Mode: models.ModeRoundRobin})
	require.NoError(t, err)
	assert.Equal(t, models.TournamentWaiting, tour.Status)

	found, err := s.ResolveByPin(ctx, tour.PinCode)
	require.NoError(t, err)
	assert.Equal(t, tour.ID, found.ID)

	for _, p := range roster[1:] {
		_, err = s.Join(ctx, tour.ID, p)
		require.NoError(t, err)
	}
	tour, err = s.Join(ctx, tour.ID, roster[1])
	require.NoError(t, err)
	assert.Len(t, tour.Players, 4)

	specs := []TeamSpec{
		{Name: "Les Bleus", PlayerIDs: []string{"u1", "u2"}},
		{Name: "Les Bleus", PlayerIDs: []string{"u3", "u4"}},
	}
	_, err = s.FormTeams(ctx, tour.ID, "u2", specs)
	assert.ErrorIs(t, err, ErrNotHost)

	tour, err = s.FormTeams(ctx, tour.ID, "u1", specs)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentTeamSetup, tour.Status)
	assert.Equal(t, "les-bleus", tour.Teams[0].ID)
	assert.Equal(t, "les-bleus-2", tour.Teams[1].ID)

	_, err = s.Join(ctx, tour.ID, models.Player{UserID: "u9"})
	assert.ErrorIs(t, err, ErrTournamentNotOpen)
}

func TestBuildTeams_Partition(t *testing.T) {
	roster := players(4)
	_, err := BuildTeams(roster, 2, []TeamSpec{{PlayerIDs: []string{"u1", "u2"}}})
	assert.ErrorIs(t, err, ErrInvalidTeamAssignment)

	_, err = BuildTeams(roster, 2, []TeamSpec{{PlayerIDs: []string{"u1", "u2"}}, {PlayerIDs: []string{"u2", "u3"}}})
	assert.ErrorIs(t, err, ErrInvalidTeamAssignment)

	_, err = BuildTeams(roster, 1, []TeamSpec{{PlayerIDs: []string{"u1"}}, {PlayerIDs: []string{"u2"}}})
	assert.ErrorIs(t, err, ErrInvalidTeamAssignment, "u3 and u4 left out")

	teams, err := BuildTeams(roster, 2, []TeamSpec{{PlayerIDs: []string{"u1", "u2"}}, {PlayerIDs: []string{"u3", "u4"}}})
	require.NoError(t, err)
	assert.Equal(t, "team-1", teams[0].ID)
	assert.Equal(t, "Team 2", teams[1].Name)
}

func TestGenerateSchedule_RoundRobin(t *testing.T) {
	for n := 2; n <= 8; n++ {
		tour := &models.Tournament{Mode: models.ModeRoundRobin}
		for i := 0; i < n; i++ {
			tour.Teams = append(tour.Teams, models.TournamentTeam{ID: teamNames[i]})
		}

		matches := GenerateSchedule(tour)
		require.Len(t, matches, n*(n-1)/2)

		seen := map[[2]string]bool{}
		for _, m := range matches {
			pair := [2]string{m.Team1Ref, m.Team2Ref}
			if pair[0] > pair[1] {
				pair[0], pair[1] = pair[1], pair[0]
			}
			require.False(t, seen[pair], "pair %v scheduled twice", pair)
			seen[pair] = true
			require.Equal(t, models.MatchPending, m.Status)
		}

		if n >= 5 {
			for i := 1; i < len(matches); i++ {
				assert.False(t, sharesTeam(matches[i-1], matches[i]), "n=%d: back-to-back at %d", n, i)
			}
		}
	}
}

// 4 队循环赛，强队全胜且比分各不相同
func TestScheduler_RoundRobinStandings(t *testing.T) {
	s := newTestScheduler(nil)
	ctx := context.Background()
	tour := newStarted(t, s, 4, models.ModeRoundRobin)
	strength := map[string]int{"alpha": 4, "bravo": 3, "charlie": 2, "delta": 1}

	for i := 0; tour.Status == models.TournamentInProgress; i++ {
		m := tour.ActiveMatch()
		require.NotNil(t, m)
		score := models.MatchScore{Team1: 6, Team2: i % 5}
		if strength[m.Team2Ref] > strength[m.Team1Ref] {
			score = models.MatchScore{Team1: i % 5, Team2: 6}
		}
		var err error
		tour, err = s.IngestMatchResult(ctx, tour.ID, m.ID, score, "")
		require.NoError(t, err)
	}

	require.Equal(t, models.TournamentCompleted, tour.Status)
	assert.True(t, IsComplete(tour))
	assert.Equal(t, "alpha", tour.ChampionTeamID)

	order := make([]string, 0, 4)
	wins, losses := 0, 0
	for _, row := range tour.Standings {
		order = append(order, row.TeamID)
		wins += row.Wins
		losses += row.Losses
	}
	assert.Equal(t, []string{"alpha", "bravo", "charlie", "delta"}, order)
	assert.Equal(t, 6, wins)
	assert.Equal(t, 6, losses)
	assert.Equal(t, []int{9, 6, 3, 0}, []int{
		tour.Standings[0].Points, tour.Standings[1].Points, tour.Standings[2].Points, tour.Standings[3].Points,
	})
}

func TestStandings_TieBreaks(t *testing.T) {
	result := func(t1, t2 string, s1, s2 int) models.TournamentMatch {
		m := models.TournamentMatch{Team1Ref: t1, Team2Ref: t2, Status: models.MatchCompleted, Score: &models.MatchScore{Team1: s1, Team2: s2}}
		if s1 > s2 {
			m.WinnerTeamID = t1
		} else if s2 > s1 {
			m.WinnerTeamID = t2
		}
		return m
	}
	teams := []models.TournamentTeam{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}

	cases := []struct {
		name    string
		matches []models.TournamentMatch
		want    []string
	}{
		{"goal difference", []models.TournamentMatch{result("a", "c", 6, 4), result("b", "d", 6, 0)}, []string{"b", "a", "c", "d"}},
		{"goals for", []models.TournamentMatch{result("a", "c", 6, 4), result("b", "d", 8, 6)}, []string{"b", "a", "d", "c"}},
		{"registration order", []models.TournamentMatch{result("a", "c", 6, 4), result("b", "d", 6, 4)}, []string{"a", "b", "c", "d"}},
		{"draw points", []models.TournamentMatch{result("a", "b", 3, 3), result("c", "d", 6, 5)}, []string{"c", "a", "b", "d"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows := Standings(&models.Tournament{Teams: teams, Matches: tc.matches}, DefaultPoints)
			got := make([]string, len(rows))
			for i, row := range rows {
				got[i] = row.TeamID
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestScheduler_BracketFiveTeams(t *testing.T) {
	s := newTestScheduler(nil)
	ctx := context.Background()
	tour := newStarted(t, s, 5, models.ModeBracket)

	require.Len(t, tour.Bracket, 1)
	byes, real := 0, 0
	for _, m := range tour.Matches {
		if m.Status == models.MatchBye {
			byes++
			assert.Equal(t, "alpha", m.Team1Ref)
		} else {
			real++
		}
	}
	assert.Equal(t, 1, byes)
	assert.Equal(t, 2, real)

	// 注册顺序靠前的队伍总是获胜
	for tour.Status == models.TournamentInProgress {
		m := tour.ActiveMatch()
		require.NotNil(t, m)
		score := models.MatchScore{Team1: 6, Team2: 3}
		if tour.TeamIndex(m.Team2Ref) < tour.TeamIndex(m.Team1Ref) {
			score = models.MatchScore{Team1: 3, Team2: 6}
		}
		var err error
		tour, err = s.IngestMatchResult(ctx, tour.ID, m.ID, score, "")
		require.NoError(t, err)
	}

	assert.Len(t, tour.Bracket, 3)
	assert.Equal(t, "alpha", tour.ChampionTeamID)
	champion, ok := Champion(tour, DefaultPoints)
	require.True(t, ok)
	assert.Equal(t, "Alpha", champion.Name)

	// 第二轮轮空给还没轮空过的 bravo
	r2 := tour.Match(tour.Bracket[1].MatchIDs[0])
	assert.Equal(t, models.MatchBye, r2.Status)
	assert.Equal(t, "bravo", r2.Team1Ref)
}

func TestScheduler_IngestRejections(t *testing.T) {
	s := newTestScheduler(nil)
	ctx := context.Background()
	tour := newStarted(t, s, 5, models.ModeBracket)
	active := tour.ActiveMatch()
	require.NotNil(t, active)

	_, err := s.IngestMatchResult(ctx, tour.ID, "nope", models.MatchScore{}, "")
	assert.ErrorIs(t, err, ErrMatchNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = s.IngestMatchResult(ctx, tour.ID, "r1-m1", models.MatchScore{Team1: 6}, "")
	assert.ErrorIs(t, err, ErrMatchAlreadyComplete)

	_, err = s.IngestMatchResult(ctx, tour.ID, "r1-m3", models.MatchScore{Team1: 6}, "")
	assert.ErrorIs(t, err, ErrMatchNotActive)

	_, err = s.IngestMatchResult(ctx, tour.ID, active.ID, models.MatchScore{Team1: 3, Team2: 3}, "")
	assert.ErrorIs(t, err, ErrBracketDraw)

	_, err = s.IngestMatchResult(ctx, tour.ID, active.ID, models.MatchScore{Team1: 6, Team2: 3}, active.Team2Ref)
	assert.ErrorIs(t, err, ErrInvalidWinner)

	tour, err = s.IngestMatchResult(ctx, tour.ID, active.ID, models.MatchScore{Team1: 6, Team2: 3}, "")
	require.NoError(t, err)
	_, err = s.IngestMatchResult(ctx, tour.ID, active.ID, models.MatchScore{Team1: 6, Team2: 3}, "")
	assert.ErrorIs(t, err, ErrMatchAlreadyComplete)
}

func TestScheduler_StartCreatesGames(t *testing.T) {
	store := persistence.NewMemoryStore(nil)
	engine := game.NewEngine(store, game.Options{})
	s := NewScheduler(store, Options{Games: engine})
	ctx := context.Background()

	tour := newStarted(t, s, 3, models.ModeRoundRobin)
	m := tour.ActiveMatch()
	require.NotNil(t, m)
	require.NotEmpty(t, m.GameRef)

	g, err := engine.Get(ctx, m.GameRef)
	require.NoError(t, err)
	assert.Equal(t, tour.ID, g.TournamentRef)
	assert.Equal(t, m.ID, g.MatchRef)
	assert.Equal(t, 6, g.TargetScore)

	tour, err = s.IngestMatchResult(ctx, tour.ID, m.ID, models.MatchScore{Team1: 6, Team2: 1}, "")
	require.NoError(t, err)
	next := tour.ActiveMatch()
	require.NotNil(t, next)
	assert.NotEmpty(t, next.GameRef)
	assert.NotEqual(t, m.GameRef, next.GameRef)
}

// flakyGames fails Create until fail is cleared.
type flakyGames struct {
	*game.Engine
	fail bool
}

func (f *flakyGames) Create(ctx context.Context, spec game.CreateSpec) (*models.Game, error) {
	if f.fail {
		return nil, apperr.ErrStoreUnavailable
	}
	return f.Engine.Create(ctx, spec)
}

func TestScheduler_GameCreateFailureKeepsTournament(t *testing.T) {
	store := persistence.NewMemoryStore(nil)
	games := &flakyGames{Engine: game.NewEngine(store, game.Options{}), fail: true}
	s := NewScheduler(store, Options{Games: games})
	ctx := context.Background()

	tour := newStarted(t, s, 3, models.ModeRoundRobin)
	assert.Equal(t, models.TournamentInProgress, tour.Status)
	m := tour.ActiveMatch()
	require.NotNil(t, m)
	assert.Empty(t, m.GameRef)

	stored, err := s.Get(ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentInProgress, stored.Status)

	_, err = s.EnsureActiveGame(ctx, tour.ID)
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)

	games.fail = false
	tour, err = s.EnsureActiveGame(ctx, tour.ID)
	require.NoError(t, err)
	m = tour.ActiveMatch()
	require.NotNil(t, m)
	require.NotEmpty(t, m.GameRef)

	again, err := s.EnsureActiveGame(ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, m.GameRef, again.ActiveMatch().GameRef)

	g, err := games.Get(ctx, m.GameRef)
	require.NoError(t, err)
	assert.Equal(t, m.ID, g.MatchRef)
}

func TestScheduler_Cancel(t *testing.T) {
	s := newTestScheduler(nil)
	ctx := context.Background()
	tour := newStarted(t, s, 2, models.ModeRoundRobin)

	_, err := s.Cancel(ctx, tour.ID, "u2")
	assert.ErrorIs(t, err, ErrNotHost)

	tour, err = s.Cancel(ctx, tour.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.TournamentCancelled, tour.Status)
	_, err = s.Cancel(ctx, tour.ID, "u1")
	require.NoError(t, err)

	_, err = s.IngestMatchResult(ctx, tour.ID, tour.Matches[0].ID, models.MatchScore{Team1: 6}, "")
	assert.ErrorIs(t, err, ErrTournamentNotInProgress)

	_, err = s.ResolveByPin(ctx, tour.PinCode)
	assert.ErrorIs(t, err, ErrTournamentNotFound)
}
