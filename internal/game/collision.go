package game

const (
	TankSize       = 60.0 // edge of the square a tank occupies on the map
	HitBoxHalfSize = 20.0 // half extent of the square a bullet must enter to hit a tank
)

// Point is a world position
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned box with its origin at the top-left corner
type Rect struct {
	X, Y, W, H float64
}

// AABBOverlap reports whether two boxes overlap with positive area.
// Boxes that only share an edge do not collide.
func AABBOverlap(a, b Rect) bool {
	return a.X < b.X+b.W &&
		a.X+a.W > b.X &&
		a.Y < b.Y+b.H &&
		a.Y+a.H > b.Y
}

// TankRect is the box a tank centered on (x, y) occupies for movement
func TankRect(x, y float64) Rect {
	return Rect{X: x - TankSize/2, Y: y - TankSize/2, W: TankSize, H: TankSize}
}

// tileRect is the box covered by the tile at (col, row)
func tileRect(col, row int) Rect {
	return Rect{X: float64(col * TileSize), Y: float64(row * TileSize), W: TileSize, H: TileSize}
}

// HitBoxContains reports whether a bullet at (px, py) hits a tank centered on
// (tx, ty). The edge of the hit box does not count.
func HitBoxContains(tx, ty, px, py float64) bool {
	dx := px - tx
	dy := py - ty
	return dx > -HitBoxHalfSize && dx < HitBoxHalfSize && dy > -HitBoxHalfSize && dy < HitBoxHalfSize
}
