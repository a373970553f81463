package game

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var swMap = MapDef{Name: "sw", Width: 128, Height: 64, Obstacles: "SW"}

func TestNewBattleRejectsBadMap(t *testing.T) {
	store := NewMemoryStore(0, nil)
	b, err := NewBattle("bad", MapDef{Name: "bad", Width: 128, Height: 64, Obstacles: "S"}, time.Time{}, store, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMapLoad))
	assert.Equal(t, PhaseStarting, b.Phase())
	assert.False(t, b.Step())

	_, err = store.Tanks("bad")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestNewBattleDefaultEndTime(t *testing.T) {
	clock := newFakeClock()
	b, err := NewBattle("b", swMap, time.Time{}, NewMemoryStore(0, clock.Now), Options{Now: clock.Now})
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(DefaultMatchDuration), b.EndTime())
	assert.Equal(t, PhaseRunning, b.Phase())
}

func TestJoinShootOffMap(t *testing.T) {
	tb := newTestBattle(t, swMap, time.Minute)
	mock := &mockBroadcaster{}

	tank, err := tb.join("p1", mock)
	require.NoError(t, err)
	assert.Equal(t, Point{32, 32}, Point{tank.X, tank.Y})
	assert.Equal(t, DirUp, tank.Direction)
	assert.True(t, tank.Alive)

	require.NoError(t, tb.ApplyShoot("p1"))
	bullets, err := tb.store.Bullets(tb.id)
	require.NoError(t, err)
	require.Len(t, bullets, 1)
	assert.Equal(t, Point{32, 0}, Point{bullets[0].X, bullets[0].Y})
	assert.Equal(t, "p1", bullets[0].ShooterID)

	require.True(t, tb.Step())
	bullets, err = tb.store.Bullets(tb.id)
	require.NoError(t, err)
	assert.Empty(t, bullets, "bullet left the map")

	state := mock.lastState(t)
	assert.Empty(t, state.Bullets)
	want := []TankState{{PlayerID: "p1", X: 32, Y: 32, Direction: DirUp, Alive: true}}
	if diff := cmp.Diff(want, state.Tanks); diff != "" {
		t.Errorf("tanks mismatch (-want +got):\n%s", diff)
	}
}

func TestJoinTwoSpawns(t *testing.T) {
	tb := newTestBattle(t, MapDef{Name: "ss", Width: 128, Height: 64, Obstacles: "SS"}, time.Minute)

	t1, err := tb.join("p1", nil)
	require.NoError(t, err)
	t2, err := tb.join("p2", nil)
	require.NoError(t, err)
	assert.NotEqual(t, Point{t1.X, t1.Y}, Point{t2.X, t2.Y})

	_, err = tb.join("p3", nil)
	assert.True(t, errors.Is(err, ErrNoSpawnAvailable))
	assert.Equal(t, 2, tb.PlayerCount())

	_, err = tb.join("p1", nil)
	assert.True(t, errors.Is(err, ErrAlreadyJoined))
}

func TestConcurrentJoinsGetDistinctSpawns(t *testing.T) {
	tb := newTestBattle(t, MapDef{Name: "row", Width: 512, Height: 64, Obstacles: "SSSSSSSS"}, time.Minute)

	var wg sync.WaitGroup
	points := make([]Point, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tank, err := tb.join(fmt.Sprintf("p%d", i), nil)
			points[i], errs[i] = Point{tank.X, tank.Y}, err
		}(i)
	}
	wg.Wait()

	seen := make(map[Point]bool)
	for i := range points {
		require.NoError(t, errs[i])
		assert.False(t, seen[points[i]], "spawn %v handed out twice", points[i])
		seen[points[i]] = true
	}
}

func TestBulletHitsTank(t *testing.T) {
	tb := newTestBattle(t, blankMap(4, 4, map[int]Tile{0: TileSpawn}), time.Minute)
	now := tb.clock.Now()

	require.NoError(t, tb.store.PutTank(tb.id, NewTank("victim", Point{100, 100})))
	_, err := tb.store.AddBullet(tb.id, Bullet{ID: "x:1", ShooterID: "x", X: 100, Y: 100, Direction: DirUp, CreatedAt: now})
	require.NoError(t, err)

	require.True(t, tb.Step())

	victim := tb.tank(t, "victim")
	assert.False(t, victim.Alive)
	assert.Equal(t, now, victim.DiedAt)
	bullets, err := tb.store.Bullets(tb.id)
	require.NoError(t, err)
	assert.Empty(t, bullets)
}

func TestOneBulletKillsOneTank(t *testing.T) {
	tb := newTestBattle(t, blankMap(4, 4, nil), time.Minute)

	require.NoError(t, tb.store.PutTank(tb.id, NewTank("a", Point{100, 100})))
	require.NoError(t, tb.store.PutTank(tb.id, NewTank("b", Point{105, 100})))
	_, err := tb.store.AddBullet(tb.id, Bullet{ID: "x:1", ShooterID: "x", X: 102, Y: 110, Direction: DirUp, CreatedAt: tb.clock.Now()})
	require.NoError(t, err)

	require.True(t, tb.Step())
	assert.False(t, tb.tank(t, "a").Alive, "tanks are tested in player order")
	assert.True(t, tb.tank(t, "b").Alive)
}

func TestRespawnAfterCooldown(t *testing.T) {
	tb := newTestBattle(t, blankMap(4, 4, map[int]Tile{0: TileSpawn}), time.Minute)

	require.NoError(t, tb.store.PutTank(tb.id, NewTank("p1", Point{100, 100})))
	_, err := tb.store.AddBullet(tb.id, Bullet{ID: "x:1", ShooterID: "x", X: 100, Y: 110, Direction: DirUp, CreatedAt: tb.clock.Now()})
	require.NoError(t, err)
	require.True(t, tb.Step())
	require.False(t, tb.tank(t, "p1").Alive)

	assert.True(t, errors.Is(tb.ApplyShoot("p1"), ErrTankDead))
	assert.True(t, errors.Is(tb.ApplyMove("p1", DirLeft), ErrTankDead))

	tb.clock.Advance(RespawnCooldown - time.Millisecond)
	require.True(t, tb.Step())
	assert.False(t, tb.tank(t, "p1").Alive)

	tb.clock.Advance(time.Millisecond)
	require.True(t, tb.Step())
	tank := tb.tank(t, "p1")
	assert.True(t, tank.Alive)
	assert.True(t, tank.DiedAt.IsZero())
	assert.Equal(t, Point{32, 32}, Point{tank.X, tank.Y})
}

func TestRespawnWaitsForFreeSpawn(t *testing.T) {
	tb := newTestBattle(t, blankMap(4, 4, map[int]Tile{0: TileSpawn}), time.Minute)

	diedAt := tb.clock.Now()
	require.NoError(t, tb.store.PutTank(tb.id, NewTank("camper", Point{32, 32})))
	require.NoError(t, tb.store.PutTank(tb.id, Tank{PlayerID: "dead", X: 200, Y: 200, Direction: DirUp, DiedAt: diedAt}))

	tb.clock.Advance(RespawnCooldown)
	require.True(t, tb.Step())
	assert.False(t, tb.tank(t, "dead").Alive, "spawn is covered by a living tank")

	_, err := tb.store.UpdateTank(tb.id, "camper", func(t *Tank, _ *Map) error {
		t.X, t.Y = 200, 200
		return nil
	})
	require.NoError(t, err)
	require.True(t, tb.Step())
	assert.True(t, tb.tank(t, "dead").Alive)
}

func TestMoveBlockedByWall(t *testing.T) {
	tb := newTestBattle(t, swMap, time.Minute)
	_, err := tb.join("p1", nil)
	require.NoError(t, err)

	require.NoError(t, tb.ApplyMove("p1", DirRight))
	tank := tb.tank(t, "p1")
	assert.Equal(t, Point{32, 32}, Point{tank.X, tank.Y}, "wall blocks the step")
	assert.Equal(t, DirRight, tank.Direction, "a blocked move still turns the tank")

	require.NoError(t, tb.ApplyMove("p1", DirUp))
	tank = tb.tank(t, "p1")
	assert.Equal(t, Point{32, 27}, Point{tank.X, tank.Y})
}

func TestMoveClampsToMap(t *testing.T) {
	tb := newTestBattle(t, swMap, time.Minute)
	_, err := tb.join("p1", nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, tb.ApplyMove("p1", DirUp))
	}
	assert.Equal(t, 0.0, tb.tank(t, "p1").Y)
	for i := 0; i < 10; i++ {
		require.NoError(t, tb.ApplyMove("p1", DirLeft))
	}
	assert.Equal(t, 0.0, tb.tank(t, "p1").X)
}

func TestCommandErrors(t *testing.T) {
	tb := newTestBattle(t, swMap, time.Minute)

	assert.True(t, errors.Is(tb.ApplyShoot("ghost"), ErrUnknownPlayer))
	assert.True(t, errors.Is(tb.ApplyMove("ghost", DirUp), ErrUnknownPlayer))
	assert.True(t, errors.Is(tb.Dispatch("ghost", Command{Action: "jump"}), ErrInvalidCommand))
	assert.True(t, errors.Is(tb.Dispatch("ghost", Command{Action: ActionMove, Direction: "north"}), ErrInvalidCommand))
}

func TestDispatch(t *testing.T) {
	tb := newTestBattle(t, swMap, time.Minute)
	_, err := tb.join("p1", nil)
	require.NoError(t, err)

	require.NoError(t, tb.Dispatch("p1", Command{Action: ActionMove, Direction: "down"}))
	assert.Equal(t, 37.0, tb.tank(t, "p1").Y)

	require.NoError(t, tb.Dispatch("p1", Command{Action: ActionShoot}))
	bullets, err := tb.store.Bullets(tb.id)
	require.NoError(t, err)
	require.Len(t, bullets, 1)
	assert.Equal(t, DirDown, bullets[0].Direction)
}

func TestBreakableTileBreaks(t *testing.T) {
	tb := newTestBattle(t, MapDef{Name: "b", Width: 256, Height: 64, Obstacles: "S B "}, time.Minute)
	mock := &mockBroadcaster{}
	_, err := tb.join("p1", mock)
	require.NoError(t, err)

	require.True(t, tb.Step())
	require.NotNil(t, mock.lastState(t).Map, "first snapshot carries the map")
	require.True(t, tb.Step())
	assert.Nil(t, mock.lastState(t).Map, "unchanged map is not resent")

	_, err = tb.store.AddBullet(tb.id, Bullet{ID: "x:1", ShooterID: "x", X: 120, Y: 32, Direction: DirRight, CreatedAt: tb.clock.Now()})
	require.NoError(t, err)
	require.True(t, tb.Step())

	state := mock.lastState(t)
	require.NotNil(t, state.Map)
	assert.Equal(t, "S   ", state.Map.Obstacles)
	assert.Empty(t, state.Bullets)

	for i := 0; i < 3; i++ {
		require.True(t, tb.Step())
		m, err := tb.store.Map(tb.id)
		require.NoError(t, err)
		assert.Equal(t, TileEmpty, m.TileAt(130, 32), "broken tiles stay broken")
	}
	assert.Nil(t, mock.lastState(t).Map)
}

func TestBulletStoppedByWall(t *testing.T) {
	tb := newTestBattle(t, MapDef{Name: "w", Width: 192, Height: 64, Obstacles: "S W"}, time.Minute)
	_, err := tb.store.AddBullet(tb.id, Bullet{ID: "x:1", ShooterID: "x", X: 108, Y: 32, Direction: DirRight, CreatedAt: tb.clock.Now()})
	require.NoError(t, err)

	require.True(t, tb.Step())
	bullets, err := tb.store.Bullets(tb.id)
	require.NoError(t, err)
	require.Len(t, bullets, 1)
	assert.Equal(t, 118.0, bullets[0].X)

	require.True(t, tb.Step())
	bullets, err = tb.store.Bullets(tb.id)
	require.NoError(t, err)
	assert.Empty(t, bullets)

	m, err := tb.store.Map(tb.id)
	require.NoError(t, err)
	assert.Equal(t, "S W", m.Def().Obstacles)
}

func TestLateSubscriberGetsMap(t *testing.T) {
	tb := newTestBattle(t, swMap, time.Minute)
	first := &mockBroadcaster{}
	tb.Subscribe("a", first)
	require.True(t, tb.Step())
	require.True(t, tb.Step())

	late := &mockBroadcaster{}
	tb.Subscribe("b", late)
	require.True(t, tb.Step())

	assert.NotNil(t, late.lastState(t).Map)
	assert.Nil(t, first.lastState(t).Map)
}

func TestTimeLeft(t *testing.T) {
	tb := newTestBattle(t, swMap, 90*time.Second+500*time.Millisecond)
	mock := &mockBroadcaster{}
	tb.Subscribe("a", mock)

	require.True(t, tb.Step())
	left := mock.lastState(t).TimeLeftSeconds
	require.NotNil(t, left)
	assert.Equal(t, 90, *left)
	assert.Equal(t, 90, tb.Info().TimeLeftSeconds)
}

func TestBattleEndsOnce(t *testing.T) {
	tb := newTestBattle(t, swMap, time.Second)
	mock := &mockBroadcaster{}
	_, err := tb.join("p1", mock)
	require.NoError(t, err)

	ended := 0
	tb.onEnded = func(string) { ended++ }

	require.True(t, tb.Step())
	tb.clock.Advance(time.Second)
	assert.False(t, tb.Step())
	assert.False(t, tb.Step())

	events := mock.events()
	require.Len(t, events, 1)
	assert.Equal(t, EventGameOver, events[0].Event)
	assert.Equal(t, ReasonTimeUp, events[0].Reason)
	assert.Equal(t, 1, ended)
	assert.Equal(t, PhaseStopped, tb.Phase())

	states := len(mock.states())
	assert.True(t, errors.Is(tb.ApplyMove("p1", DirDown), ErrSessionInactive))
	assert.True(t, errors.Is(tb.ApplyShoot("p1"), ErrSessionInactive))
	_, err = tb.join("p2", nil)
	assert.True(t, errors.Is(err, ErrSessionInactive))
	assert.Len(t, mock.states(), states, "no snapshot after the game is over")

	_, err = tb.store.Tanks(tb.id)
	assert.True(t, errors.Is(err, ErrSessionNotFound), "entities are discarded")

	tb.Stop()
	assert.Len(t, mock.events(), 1)
}

func TestStopWithoutGameOver(t *testing.T) {
	tb := newTestBattle(t, swMap, time.Minute)
	tb.opts.TickInterval = time.Millisecond
	mock := &mockBroadcaster{}
	_, err := tb.join("p1", mock)
	require.NoError(t, err)

	tb.Start()
	require.Eventually(t, func() bool { return len(mock.states()) > 0 }, time.Second, time.Millisecond)

	tb.Stop()
	tb.Stop()
	select {
	case <-tb.Done():
	default:
		t.Fatal("tick loop still running after Stop")
	}
	assert.Empty(t, mock.events())
	assert.Equal(t, PhaseStopped, tb.Phase())
	assert.False(t, tb.Step())
}

func TestStoreFailureAbandonsTick(t *testing.T) {
	tb := newTestBattle(t, swMap, time.Minute)
	mock := &mockBroadcaster{}
	tb.Subscribe("a", mock)

	tb.store.Drop(tb.id)
	assert.True(t, tb.Step(), "a failed tick does not stop the loop")
	assert.Empty(t, mock.states())
}

// solidOverlap scans every tile of the map instead of only the ones under
// the rectangle
func solidOverlap(m *Map, r Rect) bool {
	for row := 0; row < m.Height()/TileSize; row++ {
		for col := 0; col < m.Width()/TileSize; col++ {
			x, y := float64(col*TileSize+TileSize/2), float64(row*TileSize+TileSize/2)
			if m.TileAt(x, y).Solid() && AABBOverlap(r, tileRect(col, row)) {
				return true
			}
		}
	}
	return false
}

func TestRandomWalkNeverEntersObstacles(t *testing.T) {
	def := blankMap(8, 6, map[int]Tile{
		9:  TileSpawn,
		3:  TileWall,
		11: TileWall,
		12: TileBreakable,
		18: TileBreakable,
		26: TileWall,
		27: TileWall,
		36: TileBreakable,
		44: TileWall,
	})
	tb := newTestBattle(t, def, time.Hour)
	_, err := tb.join("p1", nil)
	require.NoError(t, err)
	m, err := tb.store.Map(tb.id)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(7, 11))
	dirs := []Direction{DirUp, DirDown, DirLeft, DirRight}
	for i := 0; i < 20000; i++ {
		dir := dirs[rng.IntN(len(dirs))]
		require.NoError(t, tb.ApplyMove("p1", dir))

		tank := tb.tank(t, "p1")
		require.True(t, tank.X >= 0 && tank.X <= float64(m.Width()), "x=%v out of the map after %d moves", tank.X, i)
		require.True(t, tank.Y >= 0 && tank.Y <= float64(m.Height()), "y=%v out of the map after %d moves", tank.Y, i)
		require.False(t, m.IsBlocked(TankRect(tank.X, tank.Y)), "tank at %v,%v overlaps an obstacle", tank.X, tank.Y)
		require.False(t, solidOverlap(m, TankRect(tank.X, tank.Y)), "tank at %v,%v overlaps an obstacle", tank.X, tank.Y)
	}
}

func TestMovesSurviveConcurrentTicks(t *testing.T) {
	// top row: a gunner firing off the map, bottom row: a mover
	tb := newTestBattle(t, blankMap(10, 2, map[int]Tile{0: TileSpawn, 10: TileSpawn}), time.Hour)
	for _, id := range []string{"a", "b"} {
		_, err := tb.join(id, nil)
		require.NoError(t, err)
	}
	mover, gunner := "a", "b"
	if tb.tank(t, "a").Y == 32 {
		mover, gunner = "b", "a"
	}
	require.Equal(t, Point{32, 96}, Point{tb.tank(t, mover).X, tb.tank(t, mover).Y})

	stop := make(chan struct{})
	ticks := make(chan struct{})
	go func() {
		defer close(ticks)
		for {
			select {
			case <-stop:
				return
			default:
				tb.Step()
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, tb.ApplyMove(mover, DirRight))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, tb.ApplyShoot(gunner))
		}()
	}
	wg.Wait()
	close(stop)
	<-ticks

	tank := tb.tank(t, mover)
	assert.Equal(t, Point{532, 96}, Point{tank.X, tank.Y}, "every move was kept")
	assert.True(t, tank.Alive)
	assert.True(t, tb.tank(t, gunner).Alive)
}

func TestSeededSpawnChoice(t *testing.T) {
	def := MapDef{Name: "row", Width: 512, Height: 64, Obstacles: "SSSSSSSS"}
	spawnOrder := func() []Point {
		clock := newFakeClock()
		b, err := NewBattle("seeded", def, time.Time{}, NewMemoryStore(0, clock.Now), Options{
			Now:  clock.Now,
			Rand: rand.New(rand.NewPCG(1, 2)),
		})
		require.NoError(t, err)
		var points []Point
		for i := 0; i < 8; i++ {
			tank, err := b.join(fmt.Sprintf("p%d", i), nil)
			require.NoError(t, err)
			points = append(points, Point{tank.X, tank.Y})
		}
		return points
	}

	first := spawnOrder()
	if diff := cmp.Diff(first, spawnOrder()); diff != "" {
		t.Errorf("same seed, different spawns (-first +second):\n%s", diff)
	}
}
