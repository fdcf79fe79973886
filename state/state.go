package state

import (
	"fmt"
	"sync"

	"github.com/wfunc/babyfoot/apperr"
	"github.com/wfunc/babyfoot/models"
)

// ErrTransitionNotAllowed is returned when a status change is not in the table.
var ErrTransitionNotAllowed = apperr.Conflict("state transition not allowed")

// Table 状态转换表：from -> to -> 可选条件
type Table[S ~string] struct {
	name        string
	transitions map[S]map[S]func() bool
	mutex       sync.RWMutex
}

func NewTable[S ~string](name string) *Table[S] {
	return &Table[S]{
		name:        name,
		transitions: make(map[S]map[S]func() bool),
	}
}

// Allow registers unconditional transitions from one status to each of to.
func (t *Table[S]) Allow(from S, to ...S) *Table[S] {
	for _, s := range to {
		t.AddTransition(from, s, nil)
	}
	return t
}

// AddTransition registers from -> to, guarded by condition when non-nil.
func (t *Table[S]) AddTransition(from, to S, condition func() bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, exists := t.transitions[from]; !exists {
		t.transitions[from] = make(map[S]func() bool)
	}
	t.transitions[from][to] = condition
}

// Can reports whether from -> to is registered and its condition holds.
func (t *Table[S]) Can(from, to S) bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	targets, exists := t.transitions[from]
	if !exists {
		return false
	}
	condition, exists := targets[to]
	if !exists {
		return false
	}
	return condition == nil || condition()
}

// Check returns ErrTransitionNotAllowed, annotated with the statuses, when
// from -> to is not allowed.
func (t *Table[S]) Check(from, to S) error {
	if t.Can(from, to) {
		return nil
	}
	return fmt.Errorf("%s %s -> %s: %w", t.name, from, to, ErrTransitionNotAllowed)
}

var Session = NewTable[models.SessionStatus]("session").
	Allow(models.SessionWaiting, models.SessionWaiting, models.SessionReady, models.SessionExpired, models.SessionCancelled).
	Allow(models.SessionReady, models.SessionWaiting, models.SessionActive, models.SessionExpired, models.SessionCancelled)

// Game allows completed -> in_progress only for the retract-last-goal path,
// which the engine guards itself.
var Game = NewTable[models.GameStatus]("game").
	Allow(models.GameInProgress, models.GameInProgress, models.GameCompleted, models.GameAbandoned).
	Allow(models.GameCompleted, models.GameInProgress)

var Tournament = NewTable[models.TournamentStatus]("tournament").
	Allow(models.TournamentWaiting, models.TournamentWaiting, models.TournamentTeamSetup, models.TournamentCancelled).
	Allow(models.TournamentTeamSetup, models.TournamentTeamSetup, models.TournamentInProgress, models.TournamentCancelled).
	Allow(models.TournamentInProgress, models.TournamentInProgress, models.TournamentCompleted, models.TournamentCancelled)

var Match = NewTable[models.MatchStatus]("match").
	Allow(models.MatchPending, models.MatchInProgress).
	Allow(models.MatchInProgress, models.MatchCompleted)
