package game

import "math"

// tileRange returns the inclusive column and row span of tiles a box can
// touch, clamped to the grid. ok is false when the box misses the grid.
func (m *Map) tileRange(r Rect) (minCol, maxCol, minRow, maxRow int, ok bool) {
	minCol = int(math.Floor(r.X / TileSize))
	maxCol = int(math.Ceil((r.X+r.W)/TileSize)) - 1
	minRow = int(math.Floor(r.Y / TileSize))
	maxRow = int(math.Ceil((r.Y+r.H)/TileSize)) - 1
	if minCol < 0 {
		minCol = 0
	}
	if maxCol >= m.cols {
		maxCol = m.cols - 1
	}
	if minRow < 0 {
		minRow = 0
	}
	if maxRow >= m.rows {
		maxRow = m.rows - 1
	}
	return minCol, maxCol, minRow, maxRow, minCol <= maxCol && minRow <= maxRow
}

// IsBlocked reports whether a box overlaps any wall or breakable tile.
// Only tiles inside the box's tile span are tested; each of them still
// goes through the exact AABB test, so the result matches a full scan.
func (m *Map) IsBlocked(r Rect) bool {
	minCol, maxCol, minRow, maxRow, ok := m.tileRange(r)
	if !ok {
		return false
	}
	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			if !m.obstacles[row*m.cols+col].Solid() {
				continue
			}
			if AABBOverlap(r, tileRect(col, row)) {
				return true
			}
		}
	}
	return false
}

// SpawnPoints returns the center of every spawn tile in row-major order
func (m *Map) SpawnPoints() []Point {
	var points []Point
	for row := 0; row < m.rows; row++ {
		for col := 0; col < m.cols; col++ {
			if m.obstacles[row*m.cols+col] != TileSpawn {
				continue
			}
			points = append(points, Point{
				X: float64(col*TileSize + TileSize/2),
				Y: float64(row*TileSize + TileSize/2),
			})
		}
	}
	return points
}

// spawnOccupied reports whether any of the given tank positions covers
// the spawn tile centered on p
func spawnOccupied(p Point, occupants []Point) bool {
	tile := Rect{X: p.X - TileSize/2, Y: p.Y - TileSize/2, W: TileSize, H: TileSize}
	for _, o := range occupants {
		if AABBOverlap(TankRect(o.X, o.Y), tile) {
			return true
		}
	}
	return false
}

// freeSpawns filters spawn points down to those no occupant covers
func freeSpawns(spawns, occupants []Point) []Point {
	free := make([]Point, 0, len(spawns))
	for _, p := range spawns {
		if !spawnOccupied(p, occupants) {
			free = append(free, p)
		}
	}
	return free
}
