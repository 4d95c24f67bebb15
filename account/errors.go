package account

import "github.com/rotisserie/eris"

var (
	ErrGameAlreadyActive = eris.New("a game session is already active")
	ErrGameNotActive     = eris.New("no game session is currently active")
	ErrBattleRoomFull    = eris.New("the battle room is full")
)
