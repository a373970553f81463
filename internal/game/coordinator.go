package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const maxBattles = 100

// BattleSpec is what the room layer knows about a battle
type BattleSpec struct {
	Map     MapDef
	EndTime time.Time
}

// RoomResolver looks up battles created by the room layer and is told
// when one of them times out
type RoomResolver interface {
	ResolveBattle(ctx context.Context, battleID string) (BattleSpec, error)
	MarkInactive(ctx context.Context, battleID string) error
}

// Coordinator owns every running battle and routes players and commands
// to them
type Coordinator struct {
	mu      sync.Mutex
	battles map[string]*Battle
	store   EntityStore
	rooms   RoomResolver
	opts    Options
	log     zerolog.Logger
}

// NewCoordinator creates a Coordinator. rooms may be nil, in which case
// battles must be started explicitly with StartSession.
func NewCoordinator(store EntityStore, rooms RoomResolver, opts Options) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		battles: make(map[string]*Battle),
		store:   store,
		rooms:   rooms,
		opts:    opts,
		log:     *opts.Logger,
	}
}

// StartSession starts the tick loop of a battle. Starting a battle that
// is already running returns the running one. A zero endTime means the
// default match duration from now.
func (c *Coordinator) StartSession(ctx context.Context, battleID string, def MapDef, endTime time.Time) (*Battle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(battleID, def, endTime)
}

func (c *Coordinator) startLocked(battleID string, def MapDef, endTime time.Time) (*Battle, error) {
	if b, ok := c.battles[battleID]; ok {
		return b, nil
	}
	if len(c.battles) >= maxBattles {
		return nil, fmt.Errorf("too many active battles")
	}

	b, err := NewBattle(battleID, def, endTime, c.store, c.opts)
	if err != nil {
		c.log.Error().Err(err).Str("battle", battleID).Msg("battle failed to start")
		return nil, err
	}
	b.onEnded = c.markInactive
	b.onStopped = c.remove
	c.battles[battleID] = b
	b.Start()
	return b, nil
}

// Join creates the player's tank in a battle, starting the battle from the
// room layer's definition if it is not running yet
func (c *Coordinator) Join(ctx context.Context, battleID, playerID string, out Broadcaster) (*Handle, error) {
	var spec *BattleSpec
	if c.Battle(battleID) == nil && c.rooms != nil {
		resolved, err := c.rooms.ResolveBattle(ctx, battleID)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve battle %s: %w", ErrMapLoad, battleID, err)
		}
		spec = &resolved
	}

	c.mu.Lock()
	b, ok := c.battles[battleID]
	if !ok {
		if spec == nil {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, battleID)
		}
		var err error
		if b, err = c.startLocked(battleID, spec.Map, spec.EndTime); err != nil {
			c.mu.Unlock()
			return nil, err
		}
	}

	tank, err := b.join(playerID, out)
	abandoned := err != nil && !ok && b.PlayerCount() == 0
	if abandoned {
		delete(c.battles, battleID)
	}
	c.mu.Unlock()

	if err != nil {
		if abandoned {
			b.Stop()
		}
		return nil, err
	}
	return &Handle{BattleID: battleID, PlayerID: playerID, Tank: tank, c: c}, nil
}

// Leave removes a player's tank. The battle is torn down when its last
// player leaves.
func (c *Coordinator) Leave(battleID, playerID string) {
	c.mu.Lock()
	b, ok := c.battles[battleID]
	if !ok {
		c.mu.Unlock()
		return
	}
	remaining := b.leave(playerID)
	if remaining == 0 {
		delete(c.battles, battleID)
	}
	c.mu.Unlock()

	if remaining == 0 {
		b.Stop()
		c.log.Info().Str("battle", battleID).Msg("last player left")
	}
}

// Dispatch applies a player command. Commands for ended battles, unknown
// players or dead tanks are dropped.
func (c *Coordinator) Dispatch(battleID, playerID string, cmd Command) error {
	b := c.Battle(battleID)
	if b == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, battleID)
	}
	err := b.Dispatch(playerID, cmd)
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionInactive), errors.Is(err, ErrUnknownPlayer), errors.Is(err, ErrTankDead):
		c.log.Debug().Err(err).Str("battle", battleID).Str("player", playerID).Msg("command ignored")
	default:
		c.log.Warn().Err(err).Str("battle", battleID).Str("player", playerID).Msg("command rejected")
	}
	return err
}

// Battle returns a running battle by id
func (c *Coordinator) Battle(battleID string) *Battle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.battles[battleID]
}

// Sessions lists the running battles
func (c *Coordinator) Sessions() []SessionInfo {
	c.mu.Lock()
	battles := make([]*Battle, 0, len(c.battles))
	for _, b := range c.battles {
		battles = append(battles, b)
	}
	c.mu.Unlock()

	list := make([]SessionInfo, 0, len(battles))
	for _, b := range battles {
		list = append(list, b.Info())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Shutdown stops every battle
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	battles := c.battles
	c.battles = make(map[string]*Battle)
	c.mu.Unlock()

	for _, b := range battles {
		b.Stop()
	}
}

// remove forgets a battle that stopped on its own, unless its id has
// already been taken by a newer one
func (c *Coordinator) remove(b *Battle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.battles[b.id] == b {
		delete(c.battles, b.id)
	}
}

func (c *Coordinator) markInactive(battleID string) {
	if c.rooms == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.rooms.MarkInactive(ctx, battleID); err != nil {
		c.log.Warn().Err(err).Str("battle", battleID).Msg("mark battle inactive")
	}
}

// Handle is one player's membership in a battle
type Handle struct {
	BattleID string
	PlayerID string
	Tank     Tank // as created on join

	c    *Coordinator
	once sync.Once
}

// Dispatch applies a command on behalf of the handle's player
func (h *Handle) Dispatch(cmd Command) error {
	return h.c.Dispatch(h.BattleID, h.PlayerID, cmd)
}

// Leave removes the player from the battle. Only the first call has an
// effect.
func (h *Handle) Leave() {
	h.once.Do(func() {
		h.c.Leave(h.BattleID, h.PlayerID)
	})
}
