package session

import "github.com/wfunc/babyfoot/apperr"

var (
	ErrSessionNotFound       = apperr.NotFound("session not found")
	ErrSessionFull           = apperr.Conflict("session is full")
	ErrSessionExpired        = apperr.Conflict("session has expired")
	ErrSessionClosed         = apperr.Conflict("session is no longer open")
	ErrSessionNotReady       = apperr.Conflict("session is not ready to start")
	ErrInvalidTeamAssignment = apperr.Conflict("invalid team assignment")
	ErrInvalidFormat         = apperr.Conflict("unknown session format")
	ErrInvalidPlayer         = apperr.Conflict("player must have a user id")
	ErrNotHost               = apperr.Unauthorized("only the host can do that")
	ErrHostCannotLeave       = apperr.Unauthorized("the host cannot leave, cancel the session instead")
)
