package game

import "time"

const (
	MoveStep        = 5.0  // world units per move command
	MuzzleOffset    = 32.0 // bullet spawn distance from the tank center
	RespawnCooldown = 2 * time.Second
)

// Direction is one of the four facings a tank or bullet can have
type Direction string

const (
	DirUp    Direction = "up"
	DirDown  Direction = "down"
	DirLeft  Direction = "left"
	DirRight Direction = "right"
)

// ParseDirection validates a direction received from a client
func ParseDirection(s string) (Direction, bool) {
	switch d := Direction(s); d {
	case DirUp, DirDown, DirLeft, DirRight:
		return d, true
	}
	return "", false
}

// Vector returns the unit step for the direction; y grows downward
func (d Direction) Vector() (dx, dy float64) {
	switch d {
	case DirUp:
		return 0, -1
	case DirDown:
		return 0, 1
	case DirLeft:
		return -1, 0
	case DirRight:
		return 1, 0
	}
	return 0, 0
}

// Tank is a player's vehicle in one battle.
//
// Commands own X, Y and Direction; the tick loop owns Alive and DiedAt
// (and X, Y while the tank is dead, to place it on a spawn tile).
type Tank struct {
	PlayerID  string
	X, Y      float64
	Direction Direction
	Alive     bool
	DiedAt    time.Time // zero while alive
}

// NewTank places a fresh tank facing up on a spawn point
func NewTank(playerID string, at Point) Tank {
	return Tank{
		PlayerID:  playerID,
		X:         at.X,
		Y:         at.Y,
		Direction: DirUp,
		Alive:     true,
	}
}

// CanRespawn reports whether the death cooldown has elapsed at now
func (t Tank) CanRespawn(now time.Time) bool {
	return !t.Alive && !t.DiedAt.IsZero() && now.Sub(t.DiedAt) >= RespawnCooldown
}

// ToState converts to protocol state
func (t Tank) ToState() TankState {
	return TankState{
		PlayerID:  t.PlayerID,
		X:         t.X,
		Y:         t.Y,
		Direction: t.Direction,
		Alive:     t.Alive,
	}
}
