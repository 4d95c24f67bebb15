package account

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rotisserie/eris"
)

// BattleSeed is the address seed tag for battle rooms.
const BattleSeed = "battle"

var ErrInvalidCapacity = eris.New("a battle room needs room for at least one player")

// Battle is a shared room. The host controls the session boundaries (start, end) while any joined player may
// record kills.
type Battle struct {
	Host             common.Address `json:"host"`
	RoomID           uint64         `json:"roomId"`
	MaxPlayers       uint8          `json:"maxPlayers"`
	PlayerCount      uint8          `json:"playerCount"`
	TotalZombieKills uint64         `json:"totalZombieKills"`
	TotalPoints      uint64         `json:"totalPoints"`
	Active           bool           `json:"active"`
}

// NewBattle returns a room that has not been started yet.
func NewBattle(host common.Address, roomID uint64, maxPlayers uint8) (Battle, error) {
	if maxPlayers == 0 {
		return Battle{}, ErrInvalidCapacity
	}
	return Battle{
		Host:       host,
		RoomID:     roomID,
		MaxPlayers: maxPlayers,
	}, nil
}

// RoomSeed encodes a room id the way it appears in the battle address seeds.
func RoomSeed(roomID uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, roomID)
	return buf
}

// Start activates the room. The host takes the first slot.
func (b *Battle) Start() error {
	if b.Active {
		return ErrGameAlreadyActive
	}
	b.Active = true
	b.PlayerCount = saturatingInc8(b.PlayerCount, b.MaxPlayers)
	return nil
}

// Join adds one player to an active room.
func (b *Battle) Join() error {
	if !b.Active {
		return ErrGameNotActive
	}
	if b.PlayerCount >= b.MaxPlayers {
		return ErrBattleRoomFull
	}
	b.PlayerCount = saturatingInc8(b.PlayerCount, b.MaxPlayers)
	return nil
}

// RecordKill adds one kill and reward points to the room totals.
func (b *Battle) RecordKill(reward uint64) error {
	if !b.Active {
		return ErrGameNotActive
	}
	b.TotalZombieKills = SaturatingAdd(b.TotalZombieKills, 1)
	b.TotalPoints = SaturatingAdd(b.TotalPoints, reward)
	return nil
}

// End freezes the room. Roster and score can no longer change.
func (b *Battle) End() error {
	if !b.Active {
		return ErrGameNotActive
	}
	b.Active = false
	return nil
}

// CanSettle reports whether payer may commit the room back to the base layer: the host always can, anyone
// else only when a single player is left in the room.
func (b *Battle) CanSettle(payer common.Address) bool {
	return payer == b.Host || b.PlayerCount == 1
}
