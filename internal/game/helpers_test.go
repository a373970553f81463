package game

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// mockBroadcaster captures sent messages for testing
type mockBroadcaster struct {
	mu       sync.Mutex
	messages []Message
}

func (m *mockBroadcaster) Send(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

func (m *mockBroadcaster) states() []*StateMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*StateMessage
	for _, msg := range m.messages {
		if s, ok := msg.(*StateMessage); ok {
			out = append(out, s)
		}
	}
	return out
}

func (m *mockBroadcaster) events() []*EventMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*EventMessage
	for _, msg := range m.messages {
		if e, ok := msg.(*EventMessage); ok {
			out = append(out, e)
		}
	}
	return out
}

func (m *mockBroadcaster) lastState(t *testing.T) *StateMessage {
	t.Helper()
	states := m.states()
	require.NotEmpty(t, states, "no state message received")
	return states[len(states)-1]
}

// blankMap returns a definition of the given size in tiles with every
// tile empty except the ones set in tiles
func blankMap(cols, rows int, tiles map[int]Tile) MapDef {
	b := make([]byte, cols*rows)
	for i := range b {
		b[i] = byte(TileEmpty)
	}
	for idx, t := range tiles {
		b[idx] = byte(t)
	}
	return MapDef{Name: "test", Width: cols * TileSize, Height: rows * TileSize, Obstacles: string(b)}
}

type testBattle struct {
	*Battle
	clock *fakeClock
	store *MemoryStore
}

func newTestBattle(t *testing.T, def MapDef, matchLength time.Duration) *testBattle {
	t.Helper()
	clock := newFakeClock()
	store := NewMemoryStore(BulletLifetime, clock.Now)
	b, err := NewBattle("battle-1", def, clock.Now().Add(matchLength), store, Options{Now: clock.Now})
	require.NoError(t, err)
	return &testBattle{Battle: b, clock: clock, store: store}
}

func (tb *testBattle) tank(t *testing.T, playerID string) Tank {
	t.Helper()
	tank, ok, err := tb.store.Tank(tb.id, playerID)
	require.NoError(t, err)
	require.True(t, ok, "no tank for %s", playerID)
	return tank
}
