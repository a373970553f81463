package game

import "fmt"

// ApplyMove steps a living tank MoveStep units towards dir. A blocked
// step leaves the tank in place but still turns it. Only position and
// facing are written.
func (b *Battle) ApplyMove(playerID string, dir Direction) error {
	if !b.Active() {
		return ErrSessionInactive
	}
	dx, dy := dir.Vector()
	if dx == 0 && dy == 0 {
		return fmt.Errorf("%w: direction %q", ErrInvalidCommand, dir)
	}
	_, err := b.store.UpdateTank(b.id, playerID, func(t *Tank, m *Map) error {
		if !t.Alive {
			return ErrTankDead
		}
		x := Clamp(t.X+dx*MoveStep, 0, float64(m.Width()))
		y := Clamp(t.Y+dy*MoveStep, 0, float64(m.Height()))
		if !m.IsBlocked(TankRect(x, y)) {
			t.X, t.Y = x, y
		}
		t.Direction = dir
		return nil
	})
	return err
}

// ApplyShoot fires a bullet from a living tank's muzzle
func (b *Battle) ApplyShoot(playerID string) error {
	if !b.Active() {
		return ErrSessionInactive
	}
	t, ok, err := b.store.Tank(b.id, playerID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}
	if !t.Alive {
		return ErrTankDead
	}
	_, err = b.store.AddBullet(b.id, NewBullet(t, b.opts.Now()))
	return err
}

// Dispatch routes a wire command to the matching operation
func (b *Battle) Dispatch(playerID string, cmd Command) error {
	switch cmd.Action {
	case ActionMove:
		dir, ok := ParseDirection(cmd.Direction)
		if !ok {
			return fmt.Errorf("%w: direction %q", ErrInvalidCommand, cmd.Direction)
		}
		return b.ApplyMove(playerID, dir)
	case ActionShoot:
		return b.ApplyShoot(playerID)
	}
	return fmt.Errorf("%w: action %q", ErrInvalidCommand, cmd.Action)
}

// join creates the player's tank on a spawn tile no tank covers and
// subscribes out to the battle's snapshots
func (b *Battle) join(playerID string, out Broadcaster) (Tank, error) {
	if !b.Active() {
		return Tank{}, ErrSessionInactive
	}
	tank, err := b.store.CreateTank(b.id, playerID, func(m *Map, tanks []Tank) (Point, error) {
		occupants := make([]Point, 0, len(tanks))
		for _, t := range tanks {
			occupants = append(occupants, Point{t.X, t.Y})
		}
		free := freeSpawns(m.SpawnPoints(), occupants)
		if len(free) == 0 {
			return Point{}, ErrNoSpawnAvailable
		}
		return free[b.randIntN(len(free))], nil
	})
	if err != nil {
		return Tank{}, err
	}
	if out == nil {
		out = discard{}
	}
	b.Subscribe(playerID, out)
	b.log.Info().Str("player", playerID).Float64("x", tank.X).Float64("y", tank.Y).Msg("tank created")
	return tank, nil
}

// leave removes the player's tank and subscription and returns how many
// players remain
func (b *Battle) leave(playerID string) int {
	remaining := b.Unsubscribe(playerID)
	if err := b.store.DeleteTank(b.id, playerID); err != nil {
		b.log.Warn().Err(err).Str("player", playerID).Msg("remove tank")
	}
	return remaining
}

type discard struct{}

func (discard) Send(Message) {}
