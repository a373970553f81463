package game

import (
	"fmt"
	"time"
)

const (
	BulletSpeed    = 10.0 // world units per tick
	BulletLifetime = 10 * time.Second
)

// Bullet travels in a straight line until it leaves the map, hits
// something, or outlives BulletLifetime
type Bullet struct {
	ID        string
	ShooterID string
	X, Y      float64
	Direction Direction
	CreatedAt time.Time
}

// BulletID builds the identity of a bullet from its shooter and creation time
func BulletID(shooterID string, createdAt time.Time) string {
	return fmt.Sprintf("%s:%d", shooterID, createdAt.UnixNano())
}

// NewBullet fires a bullet from the muzzle of a tank
func NewBullet(t Tank, now time.Time) Bullet {
	dx, dy := t.Direction.Vector()
	return Bullet{
		ID:        BulletID(t.PlayerID, now),
		ShooterID: t.PlayerID,
		X:         t.X + dx*MuzzleOffset,
		Y:         t.Y + dy*MuzzleOffset,
		Direction: t.Direction,
		CreatedAt: now,
	}
}

// Advance moves the bullet one tick along its direction
func (b *Bullet) Advance() {
	dx, dy := b.Direction.Vector()
	b.X += dx * BulletSpeed
	b.Y += dy * BulletSpeed
}

// ToState converts to protocol state
func (b Bullet) ToState() BulletState {
	return BulletState{
		ID:        b.ID,
		ShooterID: b.ShooterID,
		X:         b.X,
		Y:         b.Y,
		Direction: b.Direction,
	}
}
