package game

// Client -> Server actions
const (
	ActionMove  = "move"
	ActionShoot = "shoot"
)

// Server -> Client message types
const (
	MsgState = "state"
	MsgEvent = "event"
)

// Events carried by an EventMessage
const (
	EventGameOver = "game_over"
	ReasonTimeUp  = "time_up"
)

// Command is one player action as received from the transport
type Command struct {
	Action    string `json:"action" msgpack:"action"`
	Direction string `json:"direction,omitempty" msgpack:"direction,omitempty"`
}

// Message is anything the engine hands to a Broadcaster
type Message interface {
	MessageType() string
}

// TankState is broadcast per tank each tick
type TankState struct {
	PlayerID  string    `json:"playerId" msgpack:"playerId"`
	X         float64   `json:"x" msgpack:"x"`
	Y         float64   `json:"y" msgpack:"y"`
	Direction Direction `json:"direction" msgpack:"direction"`
	Alive     bool      `json:"alive" msgpack:"alive"`
}

// BulletState is broadcast per bullet each tick
type BulletState struct {
	ID        string    `json:"id" msgpack:"id"`
	ShooterID string    `json:"shooterId" msgpack:"shooterId"`
	X         float64   `json:"x" msgpack:"x"`
	Y         float64   `json:"y" msgpack:"y"`
	Direction Direction `json:"direction" msgpack:"direction"`
}

// StateMessage is the snapshot produced after every tick. Map is only set
// when the obstacle grid changed or the receiver has not seen it yet.
type StateMessage struct {
	Type            string        `json:"type" msgpack:"type"`
	BattleID        string        `json:"battleId" msgpack:"battleId"`
	Tanks           []TankState   `json:"tanks" msgpack:"tanks"`
	Bullets         []BulletState `json:"bullets" msgpack:"bullets"`
	TimeLeftSeconds *int          `json:"timeLeftSeconds" msgpack:"timeLeftSeconds"`
	Map             *MapDef       `json:"map,omitempty" msgpack:"map,omitempty"`
}

func (*StateMessage) MessageType() string { return MsgState }

// EventMessage announces a battle-wide event such as the end of the match
type EventMessage struct {
	Type   string `json:"type" msgpack:"type"`
	Event  string `json:"event" msgpack:"event"`
	Reason string `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

func (*EventMessage) MessageType() string { return MsgEvent }

// SessionInfo is used in the battle list
type SessionInfo struct {
	ID              string `json:"id"`
	Map             string `json:"map"`
	Players         int    `json:"players"`
	TimeLeftSeconds int    `json:"timeLeftSeconds"`
}
