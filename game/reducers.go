package game

import (
	"fmt"
	"time"

	"github.com/wfunc/babyfoot/models"
	"github.com/wfunc/babyfoot/persistence"
	"github.com/wfunc/babyfoot/state"
)

// GoalInput is one goal as reported by the scorekeeper. ClientKey, when set,
// makes resubmitting the same goal a no-op.
type GoalInput struct {
	TeamIndex  int             `json:"teamIndex"`
	ScorerID   string          `json:"scorerId"`
	ScorerName string          `json:"scorerName,omitempty"`
	Position   models.Position `json:"position"`
	Type       models.GoalType `json:"type"`
	ClientKey  string          `json:"clientKey,omitempty"`
}

// Rescore recomputes both team scores from the goal ledger.
func Rescore(g *models.Game) {
	g.Teams[0].Score, g.Teams[1].Score = 0, 0
	for _, goal := range g.Goals {
		g.Teams[goal.TeamIndex].Score += goal.Type.Points()
	}
}

// leader returns the team that has met the win condition, if any.
func leader(g *models.Game) (int, bool) {
	margin := g.WinMargin
	if margin < 1 {
		margin = 1
	}
	for i := 0; i < 2; i++ {
		if g.Teams[i].Score >= g.TargetScore && g.Teams[i].Score-g.Teams[1-i].Score >= margin {
			return i, true
		}
	}
	return 0, false
}

func end(g *models.Game, status models.GameStatus, at time.Time) {
	g.Status = status
	endedAt := at
	g.EndedAt = &endedAt
	g.DurationMs = at.Sub(g.StartedAt).Milliseconds()
}

func hasClientKey(g *models.Game, key string) bool {
	if key == "" {
		return false
	}
	for _, goal := range g.Goals {
		if goal.ClientKey == key {
			return true
		}
	}
	return false
}

// ApplyGoal appends a goal and completes the game when it decides it.
func ApplyGoal(g *models.Game, goalID string, in GoalInput, now time.Time) error {
	if hasClientKey(g, in.ClientKey) {
		return persistence.ErrSkipWrite
	}
	if g.Status != models.GameInProgress {
		return ErrGameNotInProgress
	}
	if in.TeamIndex < 0 || in.TeamIndex > 1 {
		return fmt.Errorf("team index %d: %w", in.TeamIndex, ErrInvalidGoal)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("goal type %q: %w", in.Type, ErrInvalidGoal)
	}
	if !in.Position.Valid() {
		return fmt.Errorf("position %q: %w", in.Position, ErrInvalidGoal)
	}

	var scorer *models.Player
	for i, p := range g.Teams[in.TeamIndex].Players {
		if p.UserID == in.ScorerID {
			scorer = &g.Teams[in.TeamIndex].Players[i]
			break
		}
	}
	if scorer == nil {
		return fmt.Errorf("%s on team %d: %w", in.ScorerID, in.TeamIndex, ErrInvalidScorer)
	}
	name := in.ScorerName
	if name == "" {
		name = scorer.Username
	}

	// 时间戳严格递增
	ts := now
	if n := len(g.Goals); n > 0 && !ts.After(g.Goals[n-1].Timestamp) {
		ts = g.Goals[n-1].Timestamp.Add(time.Millisecond)
	}

	g.Goals = append(g.Goals, models.Goal{
		ID:         goalID,
		ScorerID:   in.ScorerID,
		ScorerName: name,
		TeamIndex:  in.TeamIndex,
		Position:   in.Position,
		Type:       in.Type,
		Timestamp:  ts,
		ClientKey:  in.ClientKey,
	})
	Rescore(g)

	if winner, ok := leader(g); ok {
		if err := state.Game.Check(g.Status, models.GameCompleted); err != nil {
			return err
		}
		end(g, models.GameCompleted, ts)
		g.WinnerTeamIndex = &winner
	}
	return nil
}

// ApplyRetract removes the most recent goal. A game completed by that goal
// is reopened; a game ended any other way cannot be edited. A completed
// tournament game stays closed since its result belongs to the tournament.
func ApplyRetract(g *models.Game) error {
	if len(g.Goals) == 0 || g.Status == models.GameAbandoned {
		return ErrNothingToRetract
	}
	if g.Status == models.GameCompleted {
		if g.TournamentRef != "" {
			return ErrResultFinal
		}
		if _, ok := leader(g); !ok || g.Draw {
			return ErrNothingToRetract
		}
		if err := state.Game.Check(g.Status, models.GameInProgress); err != nil {
			return err
		}
		g.Status = models.GameInProgress
		g.EndedAt = nil
		g.DurationMs = 0
		g.WinnerTeamIndex = nil
	}

	g.Goals = g.Goals[:len(g.Goals)-1]
	Rescore(g)
	return nil
}

// ApplyAbandon stops the game without a winner.
func ApplyAbandon(g *models.Game, now time.Time) error {
	if g.Status != models.GameInProgress {
		return ErrGameNotInProgress
	}
	if err := state.Game.Check(g.Status, models.GameAbandoned); err != nil {
		return err
	}
	end(g, models.GameAbandoned, now)
	return nil
}

// ApplyFinish ends the game on the current score; equal scores are a draw.
func ApplyFinish(g *models.Game, now time.Time) error {
	if g.Status != models.GameInProgress {
		return ErrGameNotInProgress
	}
	if err := state.Game.Check(g.Status, models.GameCompleted); err != nil {
		return err
	}
	end(g, models.GameCompleted, now)
	switch {
	case g.Teams[0].Score > g.Teams[1].Score:
		winner := 0
		g.WinnerTeamIndex = &winner
	case g.Teams[1].Score > g.Teams[0].Score:
		winner := 1
		g.WinnerTeamIndex = &winner
	default:
		g.Draw = true
	}
	return nil
}
