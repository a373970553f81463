package game

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultTickInterval  = 10 * time.Millisecond
	DefaultMatchDuration = 5 * time.Minute
)

// Phase is the lifecycle state of a battle's tick loop
type Phase int32

const (
	PhaseStarting Phase = iota
	PhaseRunning
	PhaseEnding
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseEnding:
		return "ending"
	case PhaseStopped:
		return "stopped"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// Broadcaster receives the snapshots and events of a battle. Send must not
// block the tick loop.
type Broadcaster interface {
	Send(msg Message)
}

// Options tunes battles. Zero values fall back to the defaults.
type Options struct {
	TickInterval  time.Duration
	MatchDuration time.Duration
	Now           func() time.Time
	Rand          *rand.Rand // seeded source for spawn choice
	Logger        *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.MatchDuration <= 0 {
		o.MatchDuration = DefaultMatchDuration
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}

type subscriber struct {
	out      Broadcaster
	needsMap bool
}

// Battle is the tick engine and command processor of one session
type Battle struct {
	id      string
	mapName string
	endTime time.Time
	store   EntityStore
	opts    Options
	log     zerolog.Logger

	phase   atomic.Int32
	started atomic.Bool

	// stepMu serializes ticks with each other and with teardown
	stepMu     sync.Mutex
	mapChanged bool

	mu   sync.Mutex
	subs map[string]*subscriber

	randMu sync.Mutex

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	// onEnded runs once when the match times out, onStopped whenever the
	// battle reaches PhaseStopped on its own
	onEnded   func(id string)
	onStopped func(b *Battle)
}

// NewBattle loads the map into the store and leaves the battle ready to
// run. On a map error the battle never leaves PhaseStarting.
func NewBattle(id string, def MapDef, endTime time.Time, store EntityStore, opts Options) (*Battle, error) {
	opts = opts.withDefaults()
	b := &Battle{
		id:      id,
		mapName: def.Name,
		endTime: endTime,
		store:   store,
		opts:    opts,
		log:     opts.Logger.With().Str("battle", id).Logger(),
		subs:    make(map[string]*subscriber),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if b.endTime.IsZero() {
		b.endTime = opts.Now().Add(opts.MatchDuration)
	}

	m, err := NewMap(def)
	if err != nil {
		return b, err
	}
	if err := store.Open(id, m); err != nil {
		return b, fmt.Errorf("%w: %w", ErrMapLoad, err)
	}
	b.mapChanged = true
	b.phase.Store(int32(PhaseRunning))
	return b, nil
}

func (b *Battle) ID() string         { return b.id }
func (b *Battle) MapName() string    { return b.mapName }
func (b *Battle) EndTime() time.Time { return b.endTime }
func (b *Battle) Phase() Phase       { return Phase(b.phase.Load()) }

// Active reports whether the battle still accepts commands
func (b *Battle) Active() bool {
	return b.Phase() == PhaseRunning
}

// Start launches the tick loop
func (b *Battle) Start() {
	if b.started.Swap(true) {
		return
	}
	go b.run()
}

func (b *Battle) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.opts.TickInterval)
	defer ticker.Stop()

	b.log.Info().Time("ends_at", b.endTime).Msg("battle loop started")
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			start := time.Now()
			if !b.Step() {
				return
			}
			if elapsed := time.Since(start); elapsed > b.opts.TickInterval {
				b.log.Warn().Dur("elapsed", elapsed).Dur("period", b.opts.TickInterval).Msg("slow tick")
			}
		}
	}
}

// Step runs one simulation step. It returns false once the battle has
// stopped and no further steps will run.
func (b *Battle) Step() bool {
	b.stepMu.Lock()
	defer b.stepMu.Unlock()

	if b.Phase() != PhaseRunning {
		return false
	}
	now := b.opts.Now()
	if !now.Before(b.endTime) {
		b.end()
		return false
	}
	if err := b.advance(now); err != nil {
		b.log.Warn().Err(err).Msg("tick abandoned")
	}
	return true
}

// advance resolves respawns, bullet flight and hits, commits them in one
// batch and publishes a snapshot
func (b *Battle) advance(now time.Time) error {
	tanks, err := b.store.Tanks(b.id)
	if err != nil {
		return err
	}
	bullets, err := b.store.Bullets(b.id)
	if err != nil {
		return err
	}
	m, err := b.store.Map(b.id)
	if err != nil {
		return err
	}

	var batch Batch

	// Living tanks are moved by commands between ticks; only the dead
	// ones need attention here.
	living := make([]Point, 0, len(tanks))
	for _, t := range tanks {
		if t.Alive {
			living = append(living, Point{t.X, t.Y})
		}
	}
	var spawns []Point
	for i := range tanks {
		t := &tanks[i]
		if !t.CanRespawn(now) {
			continue
		}
		if spawns == nil {
			spawns = m.SpawnPoints()
		}
		free := freeSpawns(spawns, living)
		if len(free) == 0 {
			continue
		}
		at := free[b.randIntN(len(free))]
		batch.Respawns = append(batch.Respawns, Respawn{PlayerID: t.PlayerID, DiedAt: t.DiedAt, At: at})
		t.X, t.Y = at.X, at.Y
		t.Alive = true
		t.DiedAt = time.Time{}
		living = append(living, at)
	}

	mapChanged := false
	for _, bl := range bullets {
		bl.Advance()

		hit := false
		for i := range tanks {
			t := &tanks[i]
			if !t.Alive || !HitBoxContains(t.X, t.Y, bl.X, bl.Y) {
				continue
			}
			t.Alive = false
			t.DiedAt = now
			batch.Deaths = append(batch.Deaths, Death{PlayerID: t.PlayerID, At: now})
			hit = true
			break
		}
		if hit {
			batch.BulletRemovals = append(batch.BulletRemovals, bl.ID)
			continue
		}

		if !m.InBounds(bl.X, bl.Y) {
			batch.BulletRemovals = append(batch.BulletRemovals, bl.ID)
			continue
		}
		switch m.TileAt(bl.X, bl.Y) {
		case TileWall:
			batch.BulletRemovals = append(batch.BulletRemovals, bl.ID)
		case TileBreakable:
			idx := m.tileIndex(bl.X, bl.Y)
			m.Break(idx)
			batch.BrokenTiles = append(batch.BrokenTiles, idx)
			batch.BulletRemovals = append(batch.BulletRemovals, bl.ID)
			mapChanged = true
		default:
			batch.BulletMoves = append(batch.BulletMoves, BulletMove{ID: bl.ID, X: bl.X, Y: bl.Y})
		}
	}

	if !batch.Empty() {
		if err := b.store.Apply(b.id, batch); err != nil {
			return err
		}
	}
	for _, d := range batch.Deaths {
		b.log.Debug().Str("player", d.PlayerID).Msg("tank destroyed")
	}
	if mapChanged {
		b.mapChanged = true
	}
	return b.publish(now, m)
}

// publish sends the post-tick snapshot to every subscriber. The map is
// attached when it changed or when a subscriber has not received it yet.
func (b *Battle) publish(now time.Time, m *Map) error {
	tanks, err := b.store.Tanks(b.id)
	if err != nil {
		return err
	}
	bullets, err := b.store.Bullets(b.id)
	if err != nil {
		return err
	}

	state := &StateMessage{
		Type:            MsgState,
		BattleID:        b.id,
		Tanks:           make([]TankState, 0, len(tanks)),
		Bullets:         make([]BulletState, 0, len(bullets)),
		TimeLeftSeconds: b.timeLeft(now),
	}
	for _, t := range tanks {
		state.Tanks = append(state.Tanks, t.ToState())
	}
	for _, bl := range bullets {
		state.Bullets = append(state.Bullets, bl.ToState())
	}

	var withMap *StateMessage
	mapChanged := b.mapChanged
	b.mapChanged = false

	type delivery struct {
		out Broadcaster
		msg *StateMessage
	}
	b.mu.Lock()
	deliveries := make([]delivery, 0, len(b.subs))
	for _, s := range b.subs {
		msg := state
		if mapChanged || s.needsMap {
			if withMap == nil {
				cp := *state
				def := m.Def()
				cp.Map = &def
				withMap = &cp
			}
			msg = withMap
			s.needsMap = false
		}
		deliveries = append(deliveries, delivery{out: s.out, msg: msg})
	}
	b.mu.Unlock()

	for _, d := range deliveries {
		d.out.Send(d.msg)
	}
	return nil
}

func (b *Battle) timeLeft(now time.Time) *int {
	left := b.endTime.Sub(now)
	if left <= 0 {
		return nil
	}
	secs := int(left / time.Second)
	return &secs
}

// end is the Ending phase: it runs once, with stepMu held
func (b *Battle) end() {
	if !b.phase.CompareAndSwap(int32(PhaseRunning), int32(PhaseEnding)) {
		return
	}
	if err := b.store.Deactivate(b.id); err != nil {
		b.log.Warn().Err(err).Msg("deactivate battle")
	}
	b.broadcast(&EventMessage{Type: MsgEvent, Event: EventGameOver, Reason: ReasonTimeUp})
	b.store.Drop(b.id)
	b.phase.Store(int32(PhaseStopped))
	b.halt()
	b.log.Info().Msg("battle ended: time up")

	if b.onEnded != nil {
		b.onEnded(b.id)
	}
	if b.onStopped != nil {
		b.onStopped(b)
	}
}

func (b *Battle) halt() {
	b.stopOnce.Do(func() { close(b.stop) })
}

// Stop cancels the tick loop and discards the battle's entities without
// announcing a game over. It is safe to call more than once and after
// the battle ended on its own.
func (b *Battle) Stop() {
	b.halt()
	if b.started.Load() {
		<-b.done
	}

	b.stepMu.Lock()
	defer b.stepMu.Unlock()
	for {
		p := b.Phase()
		if p == PhaseStopped {
			return
		}
		if b.phase.CompareAndSwap(int32(p), int32(PhaseStopped)) {
			break
		}
	}
	b.store.Drop(b.id)
	b.log.Info().Msg("battle stopped")
}

// Done is closed when the tick loop has exited
func (b *Battle) Done() <-chan struct{} {
	return b.done
}

func (b *Battle) broadcast(msg Message) {
	b.mu.Lock()
	outs := make([]Broadcaster, 0, len(b.subs))
	for _, s := range b.subs {
		outs = append(outs, s.out)
	}
	b.mu.Unlock()
	for _, out := range outs {
		out.Send(msg)
	}
}

// Subscribe attaches a receiver for a player; it gets the map with its
// first snapshot
func (b *Battle) Subscribe(playerID string, out Broadcaster) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[playerID] = &subscriber{out: out, needsMap: true}
}

// Unsubscribe detaches a player's receiver and returns how many remain
func (b *Battle) Unsubscribe(playerID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, playerID)
	return len(b.subs)
}

// PlayerCount returns the number of subscribed players
func (b *Battle) PlayerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Battle) randIntN(n int) int {
	if b.opts.Rand == nil {
		return rand.IntN(n)
	}
	b.randMu.Lock()
	defer b.randMu.Unlock()
	return b.opts.Rand.IntN(n)
}

// Info summarizes the battle for listings
func (b *Battle) Info() SessionInfo {
	left := 0
	if tl := b.timeLeft(b.opts.Now()); tl != nil {
		left = *tl
	}
	return SessionInfo{
		ID:              b.id,
		Map:             b.mapName,
		Players:         b.PlayerCount(),
		TimeLeftSeconds: left,
	}
}
