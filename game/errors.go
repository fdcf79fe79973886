package game

import "github.com/wfunc/babyfoot/apperr"

var (
	ErrGameNotFound       = apperr.NotFound("game not found")
	ErrGameNotInProgress  = apperr.Conflict("game is not in progress")
	ErrInvalidScorer      = apperr.Conflict("scorer does not play for that team")
	ErrInvalidGoal        = apperr.Conflict("invalid goal")
	ErrNothingToRetract   = apperr.Conflict("nothing to retract")
	ErrResultFinal        = apperr.Conflict("tournament game result is final")
	ErrInvalidTargetScore = apperr.Conflict("target score must be 6 or 11")
	ErrInvalidTeams       = apperr.Conflict("a game needs two disjoint teams of equal size")
)
