package tournament

import "github.com/wfunc/babyfoot/apperr"

var (
	ErrTournamentNotFound      = apperr.NotFound("tournament not found")
	ErrMatchNotFound           = apperr.NotFound("match not found")
	ErrMatchAlreadyComplete    = apperr.Conflict("match already complete")
	ErrMatchNotActive          = apperr.Conflict("match is not the active match")
	ErrTournamentNotOpen       = apperr.Conflict("tournament no longer accepts players")
	ErrTournamentNotInProgress = apperr.Conflict("tournament is not in progress")
	ErrInvalidTeamAssignment   = apperr.Conflict("invalid team assignment")
	ErrInvalidWinner           = apperr.Conflict("winner must be one of the match teams and agree with the score")
	ErrInvalidScore            = apperr.Conflict("scores cannot be negative")
	ErrBracketDraw             = apperr.Conflict("a bracket match needs a winner")
	ErrInvalidSettings         = apperr.Conflict("invalid tournament settings")
	ErrNotHost                 = apperr.Unauthorized("only the host can do that")
)
