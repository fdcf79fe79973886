package game

import "github.com/wfunc/babyfoot/models"

// Results is the derived summary of a game's goal ledger.
type Results struct {
	MVP              *models.Player          `json:"mvp,omitempty"`
	GoalsByPlayer    map[string]int          `json:"goalsByPlayer"`
	GoalsByPosition  map[models.Position]int `json:"goalsByPosition"`
	GamellesByPlayer map[string]int          `json:"gamellesByPlayer"`
}

// ComputeResults counts scoring goals per player and per position. The MVP
// has the most scoring goals; on a tie it is whoever reached that count first.
func ComputeResults(g *models.Game) Results {
	r := Results{
		GoalsByPlayer:    map[string]int{},
		GoalsByPosition:  map[models.Position]int{},
		GamellesByPlayer: map[string]int{},
	}

	best := 0
	mvp := ""
	for _, goal := range g.Goals {
		if goal.Type == models.GoalGamelle {
			r.GamellesByPlayer[goal.ScorerID]++
		}
		points := goal.Type.Points()
		if points == 0 {
			continue
		}
		r.GoalsByPlayer[goal.ScorerID] += points
		r.GoalsByPosition[goal.Position] += points
		if r.GoalsByPlayer[goal.ScorerID] > best {
			best = r.GoalsByPlayer[goal.ScorerID]
			mvp = goal.ScorerID
		}
	}

	if mvp != "" {
		for _, team := range g.Teams {
			for _, p := range team.Players {
				if p.UserID == mvp {
					player := p
					r.MVP = &player
				}
			}
		}
	}
	return r
}
