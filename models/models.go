// models/models.go
package models

import (
	"time"
)

// Player 是账号的快照，写入后不再随账号变化
type Player struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Format 对局人数格式
type Format string

const (
	Format1v1 Format = "1v1"
	Format2v2 Format = "2v2"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	return f == Format1v1 || f == Format2v2
}

// MaxPlayers is the lobby capacity for the format.
func (f Format) MaxPlayers() int {
	if f == Format2v2 {
		return 4
	}
	return 2
}

// TeamSize is the number of players on each side.
func (f Format) TeamSize() int {
	return f.MaxPlayers() / 2
}

// --- Session ---

type SessionStatus string

const (
	SessionWaiting   SessionStatus = "waiting"
	SessionReady     SessionStatus = "ready"
	SessionActive    SessionStatus = "active"
	SessionExpired   SessionStatus = "expired"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal sessions are immutable.
func (s SessionStatus) Terminal() bool {
	return s == SessionActive || s == SessionExpired || s == SessionCancelled
}

// Session 开局前的大厅
type Session struct {
	ID            string        `json:"sessionId"`
	PinCode       string        `json:"pinCode"`
	Format        Format        `json:"format"`
	MaxPlayers    int           `json:"maxPlayers"`
	VenueRef      string        `json:"venueRef,omitempty"`
	HostID        string        `json:"hostId"`
	Players       []Player      `json:"players"`
	CreatedAt     time.Time     `json:"createdAt"`
	ExpiresAt     time.Time     `json:"expiresAt"`
	Status        SessionStatus `json:"status"`
	Teams         [][]Player    `json:"teams,omitempty"`
	GameRef       string        `json:"gameRef,omitempty"`
	TournamentRef string        `json:"tournamentRef,omitempty"`
}

// HasPlayer reports whether userID already joined.
func (s *Session) HasPlayer(userID string) bool {
	return s.PlayerIndex(userID) >= 0
}

func (s *Session) PlayerIndex(userID string) int {
	for i, p := range s.Players {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// IsExpired is true once now is past ExpiresAt for a session that could
// still be joined.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.Status.Terminal() && now.After(s.ExpiresAt)
}

// EffectiveStatus reports expired for stale sessions whose stored status has
// not been flipped by the sweeper yet.
func (s *Session) EffectiveStatus(now time.Time) SessionStatus {
	if s.IsExpired(now) {
		return SessionExpired
	}
	return s.Status
}

// --- Game ---

type GameStatus string

const (
	GameInProgress GameStatus = "in_progress"
	GameCompleted  GameStatus = "completed"
	GameAbandoned  GameStatus = "abandoned"
)

type GoalType string

const (
	GoalNormal           GoalType = "normal"
	GoalGamelle          GoalType = "gamelle"
	GoalGamelleRentrante GoalType = "gamelle_rentrante"
)

// Points is the score contribution of a goal of this type.
func (t GoalType) Points() int {
	switch t {
	case GoalNormal, GoalGamelleRentrante:
		return 1
	default:
		return 0
	}
}

func (t GoalType) Valid() bool {
	return t == GoalNormal || t == GoalGamelle || t == GoalGamelleRentrante
}

// Position 进球时球员所在的杆位
type Position string

const (
	PositionGoalkeeper Position = "goalkeeper"
	PositionDefense    Position = "defense"
	PositionMidfield   Position = "midfield"
	PositionAttack     Position = "attack"
)

func (p Position) Valid() bool {
	switch p {
	case PositionGoalkeeper, PositionDefense, PositionMidfield, PositionAttack:
		return true
	}
	return false
}

type Team struct {
	Players []Player `json:"players"`
	Color   string   `json:"color"`
	Score   int      `json:"score"`
}

// HasPlayer reports whether userID plays on this team.
func (t Team) HasPlayer(userID string) bool {
	for _, p := range t.Players {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

type Goal struct {
	ID         string    `json:"goalId"`
	ScorerID   string    `json:"scorerId"`
	ScorerName string    `json:"scorerName"`
	TeamIndex  int       `json:"teamIndex"`
	Position   Position  `json:"position"`
	Type       GoalType  `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	ClientKey  string    `json:"clientKey,omitempty"`
}

// Game 一场比赛
type Game struct {
	ID              string     `json:"gameId"`
	SessionRef      string     `json:"sessionRef,omitempty"`
	TournamentRef   string     `json:"tournamentRef,omitempty"`
	MatchRef        string     `json:"matchRef,omitempty"`
	VenueRef        string     `json:"venueRef,omitempty"`
	Teams           [2]Team    `json:"teams"`
	Goals           []Goal     `json:"goals"`
	TargetScore     int        `json:"targetScore"`
	WinMargin       int        `json:"winMargin"`
	Status          GameStatus `json:"status"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationMs      int64      `json:"durationMs,omitempty"`
	WinnerTeamIndex *int       `json:"winnerTeamIndex,omitempty"`
	Draw            bool       `json:"draw,omitempty"`
}

// --- Tournament ---

type TournamentMode string

const (
	ModeRoundRobin TournamentMode = "round_robin"
	ModeBracket    TournamentMode = "bracket"
)

func (m TournamentMode) Valid() bool {
	return m == ModeRoundRobin || m == ModeBracket
}

type TournamentStatus string

const (
	TournamentWaiting    TournamentStatus = "waiting"
	TournamentTeamSetup  TournamentStatus = "team_setup"
	TournamentInProgress TournamentStatus = "in_progress"
	TournamentCompleted  TournamentStatus = "completed"
	TournamentCancelled  TournamentStatus = "cancelled"
)

func (s TournamentStatus) Terminal() bool {
	return s == TournamentCompleted || s == TournamentCancelled
}

type MatchStatus string

const (
	MatchPending    MatchStatus = "pending"
	MatchInProgress MatchStatus = "in_progress"
	MatchCompleted  MatchStatus = "completed"
	MatchBye        MatchStatus = "bye"
)

// Terminal matches no longer take results.
func (s MatchStatus) Terminal() bool {
	return s == MatchCompleted || s == MatchBye
}

type TournamentTeam struct {
	ID      string   `json:"teamId"`
	Name    string   `json:"name"`
	Players []Player `json:"players"`
	Color   string   `json:"color,omitempty"`
}

type MatchScore struct {
	Team1 int `json:"team1"`
	Team2 int `json:"team2"`
}

type TournamentMatch struct {
	ID           string      `json:"matchId"`
	GameRef      string      `json:"gameRef,omitempty"`
	Team1Ref     string      `json:"team1Ref"`
	Team2Ref     string      `json:"team2Ref,omitempty"`
	Status       MatchStatus `json:"status"`
	Round        int         `json:"round"`
	Score        *MatchScore `json:"score,omitempty"`
	WinnerTeamID string      `json:"winnerTeamId,omitempty"`
}

// Draw reports a completed match without a winner.
func (m TournamentMatch) Draw() bool {
	return m.Status == MatchCompleted && m.WinnerTeamID == ""
}

type TournamentStanding struct {
	TeamID       string `json:"teamId"`
	Played       int    `json:"played"`
	Wins         int    `json:"wins"`
	Draws        int    `json:"draws"`
	Losses       int    `json:"losses"`
	GoalsFor     int    `json:"goalsFor"`
	GoalsAgainst int    `json:"goalsAgainst"`
	Points       int    `json:"points"`
}

// GoalDifference is GoalsFor minus GoalsAgainst.
func (s TournamentStanding) GoalDifference() int {
	return s.GoalsFor - s.GoalsAgainst
}

type BracketRound struct {
	Round    int      `json:"round"`
	MatchIDs []string `json:"matchIds"`
}

// Tournament 多场比赛组成的赛事
type Tournament struct {
	ID             string               `json:"tournamentId"`
	Name           string               `json:"name"`
	HostID         string               `json:"hostId"`
	VenueRef       string               `json:"venueRef,omitempty"`
	Format         Format               `json:"format"`
	TargetScore    int                  `json:"targetScore"`
	Mode           TournamentMode       `json:"mode"`
	Players        []Player             `json:"players"`
	Teams          []TournamentTeam     `json:"teams,omitempty"`
	PinCode        string               `json:"pinCode"`
	Status         TournamentStatus     `json:"status"`
	Matches        []TournamentMatch    `json:"matches,omitempty"`
	Standings      []TournamentStanding `json:"standings,omitempty"`
	Bracket        []BracketRound       `json:"bracket,omitempty"`
	ChampionTeamID string               `json:"championTeamId,omitempty"`
	SessionRef     string               `json:"sessionRef,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
}

// Team looks a team up by id.
func (t *Tournament) Team(id string) (TournamentTeam, bool) {
	for _, tm := range t.Teams {
		if tm.ID == id {
			return tm, true
		}
	}
	return TournamentTeam{}, false
}

// TeamIndex is the registration order of a team, -1 when unknown.
func (t *Tournament) TeamIndex(id string) int {
	for i, tm := range t.Teams {
		if tm.ID == id {
			return i
		}
	}
	return -1
}

// Match returns a pointer into Matches so callers can mutate in place.
func (t *Tournament) Match(id string) *TournamentMatch {
	for i := range t.Matches {
		if t.Matches[i].ID == id {
			return &t.Matches[i]
		}
	}
	return nil
}

// ActiveMatch is the single in-progress match, if any.
func (t *Tournament) ActiveMatch() *TournamentMatch {
	for i := range t.Matches {
		if t.Matches[i].Status == MatchInProgress {
			return &t.Matches[i]
		}
	}
	return nil
}

func (t *Tournament) HasPlayer(userID string) bool {
	for _, p := range t.Players {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
