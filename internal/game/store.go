package game

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// EntityStore holds the tanks, bullets and map of every running battle.
// Every single-key operation is atomic; Apply commits a whole tick's
// changes as one unit relative to other callers.
type EntityStore interface {
	Open(sessionID string, m *Map) error
	Deactivate(sessionID string) error
	Drop(sessionID string)

	Tanks(sessionID string) ([]Tank, error)
	Tank(sessionID, playerID string) (Tank, bool, error)
	PutTank(sessionID string, t Tank) error
	CreateTank(sessionID, playerID string, place func(m *Map, tanks []Tank) (Point, error)) (Tank, error)
	UpdateTank(sessionID, playerID string, fn func(t *Tank, m *Map) error) (Tank, error)
	DeleteTank(sessionID, playerID string) error

	Bullets(sessionID string) ([]Bullet, error)
	AddBullet(sessionID string, b Bullet) (Bullet, error)
	DeleteBullet(sessionID, bulletID string) error

	Map(sessionID string) (*Map, error)
	SetMap(sessionID string, m *Map) error

	Apply(sessionID string, batch Batch) error
}

// Death marks a tank as destroyed at a point in time
type Death struct {
	PlayerID string
	At       time.Time
}

// Respawn revives a dead tank on a spawn point. It only applies if the
// tank is still dead since DiedAt.
type Respawn struct {
	PlayerID string
	DiedAt   time.Time
	At       Point
}

// BulletMove sets a bullet's new position
type BulletMove struct {
	ID   string
	X, Y float64
}

// Batch is one tick's worth of changes
type Batch struct {
	Deaths         []Death
	Respawns       []Respawn
	BulletMoves    []BulletMove
	BulletRemovals []string
	BrokenTiles    []int
}

// Empty reports whether the batch changes nothing
func (b Batch) Empty() bool {
	return len(b.Deaths) == 0 && len(b.Respawns) == 0 && len(b.BulletMoves) == 0 &&
		len(b.BulletRemovals) == 0 && len(b.BrokenTiles) == 0
}

type storedBullet struct {
	Bullet
	expiresAt time.Time
}

// arena is the state of one battle
type arena struct {
	mu      sync.Mutex
	active  bool
	tanks   map[string]*Tank
	bullets map[string]*storedBullet
	m       *Map
}

// MemoryStore is an in-process EntityStore. Each battle has its own lock;
// the index lock is only held to look a battle up.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*arena
	bulletTTL time.Duration
	now       func() time.Time
}

// NewMemoryStore creates a store whose bullets expire after ttl. A nil
// clock means time.Now.
func NewMemoryStore(ttl time.Duration, now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = BulletLifetime
	}
	return &MemoryStore{
		sessions:  make(map[string]*arena),
		bulletTTL: ttl,
		now:       now,
	}
}

// Open creates the collections of a battle and stores its map
func (s *MemoryStore) Open(sessionID string, m *Map) error {
	if m == nil {
		return fmt.Errorf("%w: session %s has no map", ErrMapLoad, sessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; ok {
		return fmt.Errorf("session %s already open", sessionID)
	}
	s.sessions[sessionID] = &arena{
		active:  true,
		tanks:   make(map[string]*Tank),
		bullets: make(map[string]*storedBullet),
		m:       m.Clone(),
	}
	return nil
}

// Deactivate rejects every later write to the battle
func (s *MemoryStore) Deactivate(sessionID string) error {
	a, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.active = false
	a.mu.Unlock()
	return nil
}

// Drop deletes the tanks, bullets and map of a battle
func (s *MemoryStore) Drop(sessionID string) {
	s.mu.Lock()
	a, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return
	}
	a.mu.Lock()
	a.active = false
	a.tanks = nil
	a.bullets = nil
	a.m = nil
	a.mu.Unlock()
}

func (s *MemoryStore) lookup(sessionID string) (*arena, error) {
	s.mu.RLock()
	a, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return a, nil
}

// read runs fn with the battle locked
func (s *MemoryStore) read(sessionID string, fn func(a *arena) error) error {
	a, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tanks == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return fn(a)
}

// write runs fn with the battle locked, refusing inactive battles
func (s *MemoryStore) write(sessionID string, fn func(a *arena) error) error {
	return s.read(sessionID, func(a *arena) error {
		if !a.active {
			return fmt.Errorf("%w: %s", ErrSessionInactive, sessionID)
		}
		return fn(a)
	})
}

func (a *arena) tankList() []Tank {
	tanks := make([]Tank, 0, len(a.tanks))
	for _, t := range a.tanks {
		tanks = append(tanks, *t)
	}
	sort.Slice(tanks, func(i, j int) bool { return tanks[i].PlayerID < tanks[j].PlayerID })
	return tanks
}

func (s *MemoryStore) Tanks(sessionID string) ([]Tank, error) {
	var tanks []Tank
	err := s.read(sessionID, func(a *arena) error {
		tanks = a.tankList()
		return nil
	})
	return tanks, err
}

func (s *MemoryStore) Tank(sessionID, playerID string) (Tank, bool, error) {
	var (
		tank Tank
		ok   bool
	)
	err := s.read(sessionID, func(a *arena) error {
		if t, found := a.tanks[playerID]; found {
			tank, ok = *t, true
		}
		return nil
	})
	return tank, ok, err
}

func (s *MemoryStore) PutTank(sessionID string, t Tank) error {
	return s.write(sessionID, func(a *arena) error {
		cp := t
		a.tanks[t.PlayerID] = &cp
		return nil
	})
}

// CreateTank inserts a tank for a player that has none, at the point
// chosen by place. place sees the map and all tanks under the same lock.
func (s *MemoryStore) CreateTank(sessionID, playerID string, place func(m *Map, tanks []Tank) (Point, error)) (Tank, error) {
	var tank Tank
	err := s.write(sessionID, func(a *arena) error {
		if _, ok := a.tanks[playerID]; ok {
			return fmt.Errorf("%w: %s", ErrAlreadyJoined, playerID)
		}
		at, err := place(a.m, a.tankList())
		if err != nil {
			return err
		}
		tank = NewTank(playerID, at)
		cp := tank
		a.tanks[playerID] = &cp
		return nil
	})
	return tank, err
}

// UpdateTank is an atomic read-modify-write of one tank. fn works on a
// copy; returning an error discards it. The map must not be modified.
func (s *MemoryStore) UpdateTank(sessionID, playerID string, fn func(t *Tank, m *Map) error) (Tank, error) {
	var tank Tank
	err := s.write(sessionID, func(a *arena) error {
		t, ok := a.tanks[playerID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
		}
		cp := *t
		if err := fn(&cp, a.m); err != nil {
			return err
		}
		*t = cp
		tank = cp
		return nil
	})
	return tank, err
}

// DeleteTank removes a player's tank. Removing from a battle that has
// ended is not an error.
func (s *MemoryStore) DeleteTank(sessionID, playerID string) error {
	err := s.write(sessionID, func(a *arena) error {
		delete(a.tanks, playerID)
		return nil
	})
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionInactive) {
		return nil
	}
	return err
}

// evictExpired drops bullets older than the store's TTL
func (a *arena) evictExpired(now time.Time) {
	for id, b := range a.bullets {
		if !now.Before(b.expiresAt) {
			delete(a.bullets, id)
		}
	}
}

func (s *MemoryStore) Bullets(sessionID string) ([]Bullet, error) {
	var bullets []Bullet
	err := s.read(sessionID, func(a *arena) error {
		a.evictExpired(s.now())
		bullets = make([]Bullet, 0, len(a.bullets))
		for _, b := range a.bullets {
			bullets = append(bullets, b.Bullet)
		}
		return nil
	})
	sort.Slice(bullets, func(i, j int) bool {
		if bullets[i].CreatedAt.Equal(bullets[j].CreatedAt) {
			return bullets[i].ID < bullets[j].ID
		}
		return bullets[i].CreatedAt.Before(bullets[j].CreatedAt)
	})
	return bullets, err
}

// AddBullet stores a new bullet with the store's TTL. If the id is taken
// the id's timestamp is nudged forward until it is unique; the bullet
// still expires relative to its real creation time.
func (s *MemoryStore) AddBullet(sessionID string, b Bullet) (Bullet, error) {
	err := s.write(sessionID, func(a *arena) error {
		idAt := b.CreatedAt
		for {
			if _, taken := a.bullets[b.ID]; !taken {
				break
			}
			idAt = idAt.Add(time.Nanosecond)
			b.ID = BulletID(b.ShooterID, idAt)
		}
		a.bullets[b.ID] = &storedBullet{Bullet: b, expiresAt: b.CreatedAt.Add(s.bulletTTL)}
		return nil
	})
	return b, err
}

func (s *MemoryStore) DeleteBullet(sessionID, bulletID string) error {
	return s.write(sessionID, func(a *arena) error {
		delete(a.bullets, bulletID)
		return nil
	})
}

// Map returns a copy of the battle's current map
func (s *MemoryStore) Map(sessionID string) (*Map, error) {
	var m *Map
	err := s.read(sessionID, func(a *arena) error {
		m = a.m.Clone()
		return nil
	})
	return m, err
}

func (s *MemoryStore) SetMap(sessionID string, m *Map) error {
	return s.write(sessionID, func(a *arena) error {
		a.m = m.Clone()
		return nil
	})
}

// Apply commits a tick. Deaths touch only Alive and DiedAt; respawns only
// apply to tanks that are still dead since the recorded time, so they
// never race a move command.
func (s *MemoryStore) Apply(sessionID string, batch Batch) error {
	return s.write(sessionID, func(a *arena) error {
		for _, r := range batch.Respawns {
			t, ok := a.tanks[r.PlayerID]
			if !ok || t.Alive || !t.DiedAt.Equal(r.DiedAt) {
				continue
			}
			t.X, t.Y = r.At.X, r.At.Y
			t.Alive = true
			t.DiedAt = time.Time{}
		}
		for _, d := range batch.Deaths {
			t, ok := a.tanks[d.PlayerID]
			if !ok || !t.Alive {
				continue
			}
			t.Alive = false
			t.DiedAt = d.At
		}
		for _, id := range batch.BulletRemovals {
			delete(a.bullets, id)
		}
		for _, mv := range batch.BulletMoves {
			if b, ok := a.bullets[mv.ID]; ok {
				b.X, b.Y = mv.X, mv.Y
			}
		}
		for _, idx := range batch.BrokenTiles {
			a.m.Break(idx)
		}
		return nil
	})
}
