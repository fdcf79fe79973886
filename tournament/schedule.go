package tournament

import (
	"fmt"

	"github.com/wfunc/babyfoot/models"
)

// GenerateSchedule builds the matches a tournament starts with: every
// round-robin pairing, or the first bracket round.
func GenerateSchedule(t *models.Tournament) []models.TournamentMatch {
	if t.Mode == models.ModeBracket {
		entrants := make([]string, 0, len(t.Teams))
		for _, tm := range t.Teams {
			entrants = append(entrants, tm.ID)
		}
		return bracketRound(t, entrants, 1)
	}
	return roundRobin(t.Teams)
}

// roundRobin 圆桌轮转法：固定第一个位置，其余顺时针旋转；奇数队伍补一个空位
func roundRobin(teams []models.TournamentTeam) []models.TournamentMatch {
	ids := make([]string, 0, len(teams)+1)
	for _, tm := range teams {
		ids = append(ids, tm.ID)
	}
	if len(ids)%2 == 1 {
		ids = append(ids, "")
	}
	n := len(ids)

	var pairs []models.TournamentMatch
	for round := 1; round < n; round++ {
		for i := 0; i < n/2; i++ {
			a, b := ids[i], ids[n-1-i]
			if a == "" || b == "" {
				continue
			}
			pairs = append(pairs, models.TournamentMatch{
				Team1Ref: a,
				Team2Ref: b,
				Status:   models.MatchPending,
				Round:    round,
			})
		}
		last := ids[n-1]
		copy(ids[2:], ids[1:n-1])
		ids[1] = last
	}

	ordered := interleave(pairs)
	for i := range ordered {
		ordered[i].ID = fmt.Sprintf("m%d", i+1)
	}
	return ordered
}

// interleave greedily reorders matches so no team plays twice in a row
// when another match is available.
func interleave(pairs []models.TournamentMatch) []models.TournamentMatch {
	remaining := append([]models.TournamentMatch(nil), pairs...)
	out := make([]models.TournamentMatch, 0, len(pairs))
	for len(remaining) > 0 {
		pick := 0
		if len(out) > 0 {
			prev := out[len(out)-1]
			for i, m := range remaining {
				if !sharesTeam(prev, m) {
					pick = i
					break
				}
			}
		}
		out = append(out, remaining[pick])
		remaining = append(remaining[:pick], remaining[pick+1:]...)
	}
	return out
}

func sharesTeam(a, b models.TournamentMatch) bool {
	return a.Team1Ref == b.Team1Ref || a.Team1Ref == b.Team2Ref ||
		a.Team2Ref == b.Team1Ref || a.Team2Ref == b.Team2Ref
}

// hadBye reports whether team already received a bye in t.
func hadBye(t *models.Tournament, team string) bool {
	for _, m := range t.Matches {
		if m.Status == models.MatchBye && m.Team1Ref == team {
			return true
		}
	}
	return false
}

// bracketRound pairs entrants in order. With an odd count the bye goes to
// the entrant with the lowest registration index that has not had one yet,
// falling back to the lowest index overall. The bye match is listed first.
func bracketRound(t *models.Tournament, entrants []string, round int) []models.TournamentMatch {
	entrants = append([]string(nil), entrants...)
	var matches []models.TournamentMatch
	id := func() string { return fmt.Sprintf("r%d-m%d", round, len(matches)+1) }

	if len(entrants)%2 == 1 {
		bye := -1
		for i, team := range entrants {
			if hadBye(t, team) {
				continue
			}
			if bye < 0 || t.TeamIndex(team) < t.TeamIndex(entrants[bye]) {
				bye = i
			}
		}
		if bye < 0 {
			bye = 0
			for i, team := range entrants {
				if t.TeamIndex(team) < t.TeamIndex(entrants[bye]) {
					bye = i
				}
			}
		}
		matches = append(matches, models.TournamentMatch{
			ID:           id(),
			Team1Ref:     entrants[bye],
			Status:       models.MatchBye,
			Round:        round,
			WinnerTeamID: entrants[bye],
		})
		entrants = append(entrants[:bye], entrants[bye+1:]...)
	}

	for i := 0; i+1 < len(entrants); i += 2 {
		matches = append(matches, models.TournamentMatch{
			ID:       id(),
			Team1Ref: entrants[i],
			Team2Ref: entrants[i+1],
			Status:   models.MatchPending,
			Round:    round,
		})
	}
	return matches
}

// roundWinners lists the winners of round in match order.
func roundWinners(t *models.Tournament, round int) []string {
	var winners []string
	for _, m := range t.Matches {
		if m.Round == round && m.WinnerTeamID != "" {
			winners = append(winners, m.WinnerTeamID)
		}
	}
	return winners
}

func roundTerminal(t *models.Tournament, round int) bool {
	for _, m := range t.Matches {
		if m.Round == round && !m.Status.Terminal() {
			return false
		}
	}
	return true
}

func lastRound(t *models.Tournament) int {
	r := 0
	for _, m := range t.Matches {
		if m.Round > r {
			r = m.Round
		}
	}
	return r
}

func appendBracketRound(t *models.Tournament, matches []models.TournamentMatch, round int) {
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	t.Matches = append(t.Matches, matches...)
	t.Bracket = append(t.Bracket, models.BracketRound{Round: round, MatchIDs: ids})
}
