package session

import (
	"fmt"
	"time"

	"github.com/wfunc/babyfoot/models"
	"github.com/wfunc/babyfoot/persistence"
	"github.com/wfunc/babyfoot/state"
)

// Assignment lists the user ids of each team, team 0 first.
type Assignment [][]string

// checkOpen rejects sessions that can no longer change. Expiry is judged by
// the clock, not the stored status, which the sweeper may not have flipped yet.
func checkOpen(s *models.Session, now time.Time) error {
	switch {
	case s.Status == models.SessionExpired || s.IsExpired(now):
		return ErrSessionExpired
	case s.Status.Terminal():
		return fmt.Errorf("%s: %w", s.Status, ErrSessionClosed)
	}
	return nil
}

func readiness(s *models.Session) models.SessionStatus {
	if len(s.Players) == s.MaxPlayers {
		return models.SessionReady
	}
	return models.SessionWaiting
}

// ApplyJoin appends player and recomputes readiness.
func ApplyJoin(s *models.Session, player models.Player, now time.Time) error {
	if err := checkOpen(s, now); err != nil {
		return err
	}
	if s.HasPlayer(player.UserID) {
		return persistence.ErrSkipWrite
	}
	if len(s.Players) >= s.MaxPlayers {
		return ErrSessionFull
	}

	s.Players = append(s.Players, player)
	next := readiness(s)
	if err := state.Session.Check(s.Status, next); err != nil {
		return err
	}
	s.Status = next
	return nil
}

// ApplyLeave removes a non-host player; a ready session drops back to waiting.
func ApplyLeave(s *models.Session, userID string, now time.Time) error {
	if err := checkOpen(s, now); err != nil {
		return err
	}
	if userID == s.HostID {
		return ErrHostCannotLeave
	}
	i := s.PlayerIndex(userID)
	if i < 0 {
		return persistence.ErrSkipWrite
	}

	s.Players = append(s.Players[:i:i], s.Players[i+1:]...)
	next := readiness(s)
	if err := state.Session.Check(s.Status, next); err != nil {
		return err
	}
	s.Status = next
	return nil
}

// ApplyActivate moves a ready session to active with frozen teams.
func ApplyActivate(s *models.Session, actorID string, assignment Assignment, link Link, now time.Time) error {
	if actorID != s.HostID {
		return ErrNotHost
	}
	if err := checkOpen(s, now); err != nil {
		return err
	}
	if s.Status != models.SessionReady {
		return ErrSessionNotReady
	}
	teams, err := ValidateAssignment(s, assignment)
	if err != nil {
		return err
	}
	if err := state.Session.Check(s.Status, models.SessionActive); err != nil {
		return err
	}

	s.Teams = teams
	s.GameRef = link.GameRef
	s.TournamentRef = link.TournamentRef
	s.Status = models.SessionActive
	return nil
}

// ApplyCancel closes the session. Cancelling twice is a no-op.
func ApplyCancel(s *models.Session, actorID string, now time.Time) error {
	if actorID != s.HostID {
		return ErrNotHost
	}
	if s.Status == models.SessionCancelled {
		return persistence.ErrSkipWrite
	}
	if err := checkOpen(s, now); err != nil {
		return err
	}
	if err := state.Session.Check(s.Status, models.SessionCancelled); err != nil {
		return err
	}
	s.Status = models.SessionCancelled
	return nil
}

// ApplyExpire flips a stale open session to expired.
func ApplyExpire(s *models.Session, now time.Time) error {
	if s.Status.Terminal() || !s.IsExpired(now) {
		return persistence.ErrSkipWrite
	}
	if err := state.Session.Check(s.Status, models.SessionExpired); err != nil {
		return err
	}
	s.Status = models.SessionExpired
	return nil
}

// ValidateAssignment checks that assignment splits the session's players into
// exactly two teams of maxPlayers/2, with no overlaps and no omissions, and
// resolves the ids into player snapshots.
func ValidateAssignment(s *models.Session, assignment Assignment) ([][]models.Player, error) {
	if len(assignment) != 2 {
		return nil, fmt.Errorf("want 2 teams, got %d: %w", len(assignment), ErrInvalidTeamAssignment)
	}
	size := s.MaxPlayers / 2
	seen := make(map[string]bool, len(s.Players))
	teams := make([][]models.Player, 0, 2)
	for i, ids := range assignment {
		if len(ids) != size {
			return nil, fmt.Errorf("team %d has %d players, want %d: %w", i, len(ids), size, ErrInvalidTeamAssignment)
		}
		team := make([]models.Player, 0, size)
		for _, id := range ids {
			if seen[id] {
				return nil, fmt.Errorf("player %s assigned twice: %w", id, ErrInvalidTeamAssignment)
			}
			idx := s.PlayerIndex(id)
			if idx < 0 {
				return nil, fmt.Errorf("player %s is not in the session: %w", id, ErrInvalidTeamAssignment)
			}
			seen[id] = true
			team = append(team, s.Players[idx])
		}
		teams = append(teams, team)
	}
	if len(seen) != len(s.Players) {
		return nil, fmt.Errorf("%d of %d players assigned: %w", len(seen), len(s.Players), ErrInvalidTeamAssignment)
	}
	return teams, nil
}
