package game

import "fmt"

// TileSize is the edge length of one map tile in world units
const TileSize = 64

// Tile is one cell of a map's obstacle grid
type Tile byte

const (
	TileEmpty     Tile = ' '
	TileWall      Tile = 'W' // indestructible
	TileBreakable Tile = 'B' // becomes TileEmpty when hit by a bullet
	TileSpawn     Tile = 'S'
)

// Solid reports whether tanks and bullets collide with the tile
func (t Tile) Solid() bool {
	return t == TileWall || t == TileBreakable
}

// MapDef is a map as handed over by the room layer
type MapDef struct {
	Name      string `json:"name" msgpack:"name"`
	Width     int    `json:"width" msgpack:"width"`
	Height    int    `json:"height" msgpack:"height"`
	Obstacles string `json:"obstacles" msgpack:"obstacles"`
}

// Map is a battle-local copy of a map definition. Only the obstacle
// grid mutates, and only from breakable to empty.
type Map struct {
	name      string
	width     int
	height    int
	cols      int
	rows      int
	obstacles []Tile
}

// NewMap validates a definition and builds a map from it
func NewMap(def MapDef) (*Map, error) {
	if def.Width <= 0 || def.Height <= 0 {
		return nil, fmt.Errorf("%w: map %q has size %dx%d", ErrMapLoad, def.Name, def.Width, def.Height)
	}
	if def.Width%TileSize != 0 || def.Height%TileSize != 0 {
		return nil, fmt.Errorf("%w: map %q size %dx%d is not a multiple of %d", ErrMapLoad, def.Name, def.Width, def.Height, TileSize)
	}
	cols := def.Width / TileSize
	rows := def.Height / TileSize
	if len(def.Obstacles) != cols*rows {
		return nil, fmt.Errorf("%w: map %q has %d tiles, want %d", ErrMapLoad, def.Name, len(def.Obstacles), cols*rows)
	}

	obstacles := make([]Tile, len(def.Obstacles))
	for i := 0; i < len(def.Obstacles); i++ {
		switch t := Tile(def.Obstacles[i]); t {
		case TileWall, TileBreakable, TileSpawn:
			obstacles[i] = t
		default:
			obstacles[i] = TileEmpty
		}
	}
	return &Map{
		name:      def.Name,
		width:     def.Width,
		height:    def.Height,
		cols:      cols,
		rows:      rows,
		obstacles: obstacles,
	}, nil
}

func (m *Map) Name() string { return m.name }
func (m *Map) Width() int   { return m.width }
func (m *Map) Height() int  { return m.height }

// Clone returns an independent copy
func (m *Map) Clone() *Map {
	c := *m
	c.obstacles = make([]Tile, len(m.obstacles))
	copy(c.obstacles, m.obstacles)
	return &c
}

// Def converts the map back to its wire form, including broken tiles
func (m *Map) Def() MapDef {
	b := make([]byte, len(m.obstacles))
	for i, t := range m.obstacles {
		b[i] = byte(t)
	}
	return MapDef{
		Name:      m.name,
		Width:     m.width,
		Height:    m.height,
		Obstacles: string(b),
	}
}

// InBounds reports whether a point lies in [0, width] x [0, height]
func (m *Map) InBounds(x, y float64) bool {
	return x >= 0 && x <= float64(m.width) && y >= 0 && y <= float64(m.height)
}

// tileIndex returns the row-major index of the tile under (x, y), or -1
// when the point is outside the grid
func (m *Map) tileIndex(x, y float64) int {
	if x < 0 || y < 0 {
		return -1
	}
	col := int(x / TileSize)
	row := int(y / TileSize)
	if col >= m.cols || row >= m.rows {
		return -1
	}
	return row*m.cols + col
}

// TileAt returns the tile under a world position. Points outside the
// grid read as walls.
func (m *Map) TileAt(x, y float64) Tile {
	idx := m.tileIndex(x, y)
	if idx < 0 {
		return TileWall
	}
	return m.obstacles[idx]
}

// Break turns the breakable tile at idx into an empty one. It returns
// false if the tile was not breakable.
func (m *Map) Break(idx int) bool {
	if idx < 0 || idx >= len(m.obstacles) || m.obstacles[idx] != TileBreakable {
		return false
	}
	m.obstacles[idx] = TileEmpty
	return true
}
