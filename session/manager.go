package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/wfunc/babyfoot/broadcast"
	"github.com/wfunc/babyfoot/logger"
	"github.com/wfunc/babyfoot/models"
	"github.com/wfunc/babyfoot/persistence"
	"github.com/wfunc/babyfoot/pincode"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultPinAttempts = 16
)

type Options struct {
	TTL         time.Duration
	PinAttempts int
	Clock       clockwork.Clock
	Pins        *pincode.Generator
}

// Manager 管理开局前的大厅
type Manager struct {
	store       persistence.Store
	clock       clockwork.Clock
	pins        *pincode.Generator
	ttl         time.Duration
	pinAttempts int
	scheduler   gocron.Scheduler
}

func NewManager(store persistence.Store, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.PinAttempts <= 0 {
		opts.PinAttempts = DefaultPinAttempts
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Pins == nil {
		opts.Pins = pincode.NewGenerator()
	}
	return &Manager{
		store:       store,
		clock:       opts.Clock,
		pins:        opts.Pins,
		ttl:         opts.TTL,
		pinAttempts: opts.PinAttempts,
	}
}

func notFound(id string, err error) error {
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return err
}

// pinInUse reports whether an open, unexpired session already holds code.
func (m *Manager) pinInUse(ctx context.Context, code string) (bool, error) {
	open, err := m.openByPin(ctx, code)
	if err != nil {
		return false, err
	}
	return open != nil, nil
}

func (m *Manager) openByPin(ctx context.Context, code string) (*models.Session, error) {
	sessions, err := persistence.QueryAll[models.Session](ctx, m.store, models.CollectionSessions,
		persistence.Eq(models.FieldPinCode, code),
		persistence.In(models.FieldStatus, string(models.SessionWaiting), string(models.SessionReady)),
	)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	for _, s := range sessions {
		if !s.IsExpired(now) {
			return s, nil
		}
	}
	return nil, nil
}

// Create opens a lobby with the host as its first player.
func (m *Manager) Create(ctx context.Context, host models.Player, venueRef string, format models.Format) (*models.Session, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("%q: %w", format, ErrInvalidFormat)
	}
	if host.UserID == "" {
		return nil, ErrInvalidPlayer
	}

	pin, err := pincode.Allocate(ctx, m.pins, m.pinInUse, m.pinAttempts)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	s := &models.Session{
		ID:         uuid.NewString(),
		PinCode:    pin,
		Format:     format,
		MaxPlayers: format.MaxPlayers(),
		VenueRef:   venueRef,
		HostID:     host.UserID,
		Players:    []models.Player{host},
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
		Status:     models.SessionWaiting,
	}
	if err := persistence.Insert(ctx, m.store, models.CollectionSessions, s); err != nil {
		logger.Log.Errorw("create session", "error", err)
		return nil, err
	}
	logger.Log.Infow("session created", "sessionId", s.ID, "pin", s.PinCode, "format", s.Format)
	return s, nil
}

// Get returns the session with its effective status.
func (m *Manager) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	s, err := persistence.Load[models.Session](ctx, m.store, models.CollectionSessions, sessionID)
	if err != nil {
		return nil, notFound(sessionID, err)
	}
	s.Status = s.EffectiveStatus(m.clock.Now())
	return s, nil
}

// ResolveByPin finds the open session holding pin.
func (m *Manager) ResolveByPin(ctx context.Context, pin string) (*models.Session, error) {
	code, ok := pincode.Canonical(pin)
	if !ok {
		return nil, fmt.Errorf("pin %q: %w", pin, ErrSessionNotFound)
	}
	s, err := m.openByPin(ctx, code)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("pin %s: %w", code, ErrSessionNotFound)
	}
	return s, nil
}

// Join admits player. Joining twice returns the session unchanged.
func (m *Manager) Join(ctx context.Context, sessionID string, player models.Player) (*models.Session, error) {
	if player.UserID == "" {
		return nil, ErrInvalidPlayer
	}
	now := m.clock.Now()
	s, err := persistence.Mutate(ctx, m.store, models.CollectionSessions, sessionID, func(s *models.Session) error {
		return ApplyJoin(s, player, now)
	})
	if err != nil {
		return nil, notFound(sessionID, err)
	}
	return s, nil
}

func (m *Manager) JoinByPin(ctx context.Context, pin string, player models.Player) (*models.Session, error) {
	s, err := m.ResolveByPin(ctx, pin)
	if err != nil {
		return nil, err
	}
	return m.Join(ctx, s.ID, player)
}

// Leave removes a non-host player from an open session.
func (m *Manager) Leave(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	now := m.clock.Now()
	s, err := persistence.Mutate(ctx, m.store, models.CollectionSessions, sessionID, func(s *models.Session) error {
		return ApplyLeave(s, userID, now)
	})
	if err != nil {
		return nil, notFound(sessionID, err)
	}
	return s, nil
}

// Link records what a session was started into.
type Link struct {
	GameRef       string
	TournamentRef string
}

// Activate freezes the roster into teams and closes the lobby. Only the host
// may activate, and only a ready session.
func (m *Manager) Activate(ctx context.Context, sessionID, actorID string, assignment Assignment, link Link) (*models.Session, error) {
	now := m.clock.Now()
	s, err := persistence.Mutate(ctx, m.store, models.CollectionSessions, sessionID, func(s *models.Session) error {
		return ApplyActivate(s, actorID, assignment, link, now)
	})
	if err != nil {
		return nil, notFound(sessionID, err)
	}
	logger.Log.Infow("session activated", "sessionId", s.ID, "gameRef", s.GameRef, "tournamentRef", s.TournamentRef)
	return s, nil
}

// Cancel is host-only and idempotent.
func (m *Manager) Cancel(ctx context.Context, sessionID, actorID string) (*models.Session, error) {
	now := m.clock.Now()
	s, err := persistence.Mutate(ctx, m.store, models.CollectionSessions, sessionID, func(s *models.Session) error {
		return ApplyCancel(s, actorID, now)
	})
	if err != nil {
		return nil, notFound(sessionID, err)
	}
	return s, nil
}

// Subscribe delivers the session after every change until cancel is called.
func (m *Manager) Subscribe(sessionID string, fn func(*models.Session)) (cancel func()) {
	return m.store.Subscribe(models.CollectionSessions, sessionID, func(snap broadcast.Snapshot) {
		if snap.Deleted {
			return
		}
		s, err := persistence.DecodeSnapshot[models.Session](snap)
		if err != nil {
			logger.Log.Warnw("decode session snapshot", "sessionId", snap.ID, "error", err)
			return
		}
		fn(s)
	})
}
