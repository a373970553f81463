package game

import "errors"

var (
	ErrNoSpawnAvailable = errors.New("no free spawn point")
	ErrSessionInactive  = errors.New("session inactive")
	ErrSessionNotFound  = errors.New("session not found")
	ErrUnknownPlayer    = errors.New("player has no tank")
	ErrTankDead         = errors.New("tank is dead")
	ErrMapLoad          = errors.New("map load failure")
	ErrAlreadyJoined    = errors.New("player already joined")
	ErrInvalidCommand   = errors.New("invalid command")
)
