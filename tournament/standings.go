package tournament

import (
	"sort"

	"github.com/wfunc/babyfoot/models"
)

// PointsTable awards standing points per match outcome.
type PointsTable struct {
	Win  int `json:"win"`
	Draw int `json:"draw"`
	Loss int `json:"loss"`
}

var DefaultPoints = PointsTable{Win: 3, Draw: 1, Loss: 0}

// Standings sums every completed match per team and ranks by points, goal
// difference, goals for, then registration order.
func Standings(t *models.Tournament, points PointsTable) []models.TournamentStanding {
	rows := make([]models.TournamentStanding, len(t.Teams))
	index := make(map[string]int, len(t.Teams))
	for i, tm := range t.Teams {
		rows[i].TeamID = tm.ID
		index[tm.ID] = i
	}

	for _, m := range t.Matches {
		if m.Status != models.MatchCompleted || m.Score == nil {
			continue
		}
		i, ok1 := index[m.Team1Ref]
		j, ok2 := index[m.Team2Ref]
		if !ok1 || !ok2 {
			continue
		}
		a, b := &rows[i], &rows[j]
		a.Played++
		b.Played++
		a.GoalsFor += m.Score.Team1
		a.GoalsAgainst += m.Score.Team2
		b.GoalsFor += m.Score.Team2
		b.GoalsAgainst += m.Score.Team1

		switch m.WinnerTeamID {
		case m.Team1Ref:
			a.Wins++
			b.Losses++
			a.Points += points.Win
			b.Points += points.Loss
		case m.Team2Ref:
			b.Wins++
			a.Losses++
			b.Points += points.Win
			a.Points += points.Loss
		default:
			a.Draws++
			b.Draws++
			a.Points += points.Draw
			b.Points += points.Draw
		}
	}

	sort.SliceStable(rows, func(x, y int) bool {
		a, b := rows[x], rows[y]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if a.GoalDifference() != b.GoalDifference() {
			return a.GoalDifference() > b.GoalDifference()
		}
		return a.GoalsFor > b.GoalsFor
	})
	return rows
}

// IsComplete is true once matches exist and all of them are terminal.
func IsComplete(t *models.Tournament) bool {
	if len(t.Matches) == 0 {
		return false
	}
	for _, m := range t.Matches {
		if !m.Status.Terminal() {
			return false
		}
	}
	if t.Mode == models.ModeBracket {
		return len(roundWinners(t, lastRound(t))) == 1
	}
	return true
}

// Champion is the top of the final standings in round robin and the winner
// of the final in a bracket. It is undefined until the tournament is complete.
func Champion(t *models.Tournament, points PointsTable) (models.TournamentTeam, bool) {
	if !IsComplete(t) {
		return models.TournamentTeam{}, false
	}
	var id string
	if t.Mode == models.ModeBracket {
		id = roundWinners(t, lastRound(t))[0]
	} else {
		standings := Standings(t, points)
		if len(standings) == 0 {
			return models.TournamentTeam{}, false
		}
		id = standings[0].TeamID
	}
	return t.Team(id)
}
