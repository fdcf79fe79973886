package tournament

import (
	"fmt"
	"strconv"

	"github.com/gosimple/slug"

	"github.com/wfunc/babyfoot/models"
	"github.com/wfunc/babyfoot/persistence"
	"github.com/wfunc/babyfoot/state"
)

// TeamSpec is a team as composed by the host.
type TeamSpec struct {
	Name      string   `json:"name"`
	PlayerIDs []string `json:"playerIds"`
	Color     string   `json:"color,omitempty"`
}

// BuildTeams validates that specs partition roster into teams of teamSize
// and derives a unique slug id for every team.
func BuildTeams(roster []models.Player, teamSize int, specs []TeamSpec) ([]models.TournamentTeam, error) {
	if len(specs) < 2 {
		return nil, fmt.Errorf("need at least 2 teams: %w", ErrInvalidTeamAssignment)
	}
	byID := make(map[string]models.Player, len(roster))
	for _, p := range roster {
		byID[p.UserID] = p
	}

	assigned := map[string]bool{}
	used := map[string]bool{}
	teams := make([]models.TournamentTeam, 0, len(specs))
	for i, spec := range specs {
		if len(spec.PlayerIDs) != teamSize {
			return nil, fmt.Errorf("team %d has %d players, want %d: %w", i, len(spec.PlayerIDs), teamSize, ErrInvalidTeamAssignment)
		}
		players := make([]models.Player, 0, teamSize)
		for _, id := range spec.PlayerIDs {
			p, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("player %s is not on the roster: %w", id, ErrInvalidTeamAssignment)
			}
			if assigned[id] {
				return nil, fmt.Errorf("player %s assigned twice: %w", id, ErrInvalidTeamAssignment)
			}
			assigned[id] = true
			players = append(players, p)
		}

		name := spec.Name
		if name == "" {
			name = "Team " + strconv.Itoa(i+1)
		}
		base := slug.Make(name)
		if base == "" {
			base = "team-" + strconv.Itoa(i+1)
		}
		id := base
		for n := 2; used[id]; n++ {
			id = base + "-" + strconv.Itoa(n)
		}
		used[id] = true

		teams = append(teams, models.TournamentTeam{ID: id, Name: name, Players: players, Color: spec.Color})
	}
	if len(assigned) != len(roster) {
		return nil, fmt.Errorf("%d of %d players assigned: %w", len(assigned), len(roster), ErrInvalidTeamAssignment)
	}
	return teams, nil
}

func ApplyJoin(t *models.Tournament, player models.Player) error {
	if t.HasPlayer(player.UserID) {
		return persistence.ErrSkipWrite
	}
	if t.Status != models.TournamentWaiting {
		return ErrTournamentNotOpen
	}
	t.Players = append(t.Players, player)
	return nil
}

func ApplyFormTeams(t *models.Tournament, actorID string, specs []TeamSpec) error {
	if actorID != t.HostID {
		return ErrNotHost
	}
	if err := state.Tournament.Check(t.Status, models.TournamentTeamSetup); err != nil {
		return err
	}
	teams, err := BuildTeams(t.Players, t.Format.TeamSize(), specs)
	if err != nil {
		return err
	}
	t.Teams = teams
	t.Status = models.TournamentTeamSetup
	return nil
}

// activateNext puts the first pending match in play.
func activateNext(t *models.Tournament) *models.TournamentMatch {
	for i := range t.Matches {
		if t.Matches[i].Status == models.MatchPending {
			t.Matches[i].Status = models.MatchInProgress
			return &t.Matches[i]
		}
	}
	return nil
}

// ApplyStart generates the schedule and activates the first match.
func ApplyStart(t *models.Tournament, actorID string, points PointsTable) error {
	if actorID != t.HostID {
		return ErrNotHost
	}
	if err := state.Tournament.Check(t.Status, models.TournamentInProgress); err != nil {
		return err
	}
	if t.Status != models.TournamentTeamSetup {
		return ErrTournamentNotOpen
	}
	if len(t.Teams) < 2 {
		return fmt.Errorf("need at least 2 teams: %w", ErrInvalidTeamAssignment)
	}

	t.Status = models.TournamentInProgress
	t.Matches = nil
	t.Bracket = nil
	matches := GenerateSchedule(t)
	if t.Mode == models.ModeBracket {
		appendBracketRound(t, matches, 1)
	} else {
		t.Matches = matches
	}
	t.Standings = Standings(t, points)
	advance(t, points)
	return nil
}

// advance activates the next match, materializing the next bracket round
// when the current one is over, or completes the tournament.
func advance(t *models.Tournament, points PointsTable) {
	for {
		if t.ActiveMatch() != nil {
			return
		}
		if activateNext(t) != nil {
			return
		}
		if t.Mode == models.ModeBracket {
			round := lastRound(t)
			if roundTerminal(t, round) {
				if winners := roundWinners(t, round); len(winners) > 1 {
					appendBracketRound(t, bracketRound(t, winners, round+1), round+1)
					continue
				}
			}
		}
		break
	}

	if champion, ok := Champion(t, points); ok {
		t.ChampionTeamID = champion.ID
		t.Status = models.TournamentCompleted
	}
}

// ApplyResult records the final score of the active match, recomputes
// standings and moves the tournament on.
func ApplyResult(t *models.Tournament, matchID string, score models.MatchScore, winnerTeamID string, points PointsTable) error {
	m := t.Match(matchID)
	if m == nil {
		return fmt.Errorf("%s: %w", matchID, ErrMatchNotFound)
	}
	if m.Status.Terminal() {
		return fmt.Errorf("%s: %w", matchID, ErrMatchAlreadyComplete)
	}
	if t.Status != models.TournamentInProgress {
		return ErrTournamentNotInProgress
	}
	if m.Status != models.MatchInProgress {
		return fmt.Errorf("%s: %w", matchID, ErrMatchNotActive)
	}
	if score.Team1 < 0 || score.Team2 < 0 {
		return ErrInvalidScore
	}

	switch {
	case winnerTeamID == "" && score.Team1 > score.Team2:
		winnerTeamID = m.Team1Ref
	case winnerTeamID == "" && score.Team2 > score.Team1:
		winnerTeamID = m.Team2Ref
	case winnerTeamID == "":
	case winnerTeamID == m.Team1Ref && score.Team1 < score.Team2,
		winnerTeamID == m.Team2Ref && score.Team2 < score.Team1,
		winnerTeamID != m.Team1Ref && winnerTeamID != m.Team2Ref:
		return fmt.Errorf("%s: %w", winnerTeamID, ErrInvalidWinner)
	}
	if winnerTeamID == "" && t.Mode == models.ModeBracket {
		return ErrBracketDraw
	}
	if err := state.Match.Check(m.Status, models.MatchCompleted); err != nil {
		return err
	}

	m.Status = models.MatchCompleted
	m.Score = &score
	m.WinnerTeamID = winnerTeamID
	t.Standings = Standings(t, points)
	advance(t, points)
	return nil
}

// ApplyLinkGame records the game created for the active match.
func ApplyLinkGame(t *models.Tournament, matchID, gameID string) error {
	m := t.Match(matchID)
	if m == nil {
		return fmt.Errorf("%s: %w", matchID, ErrMatchNotFound)
	}
	if m.Status != models.MatchInProgress || m.GameRef != "" {
		return fmt.Errorf("%s: %w", matchID, ErrMatchNotActive)
	}
	m.GameRef = gameID
	return nil
}

// ApplyCancel is host-only and idempotent.
func ApplyCancel(t *models.Tournament, actorID string) error {
	if actorID != t.HostID {
		return ErrNotHost
	}
	if t.Status == models.TournamentCancelled {
		return persistence.ErrSkipWrite
	}
	if err := state.Tournament.Check(t.Status, models.TournamentCancelled); err != nil {
		return err
	}
	t.Status = models.TournamentCancelled
	return nil
}
