// Package account holds the two ledger objects the game mutates, Profile and Battle, and the state machines
// that govern them. Nothing in this package touches storage or checks signatures: every method is a pure
// transition on an in-memory value that either succeeds or returns an error and leaves the value untouched.
package account

import (
	"github.com/ethereum/go-ethereum/common"
)

// ProfileSeed is the address seed tag for profiles.
const ProfileSeed = "profile"

// Profile is the per-wallet singleton that accumulates points across game sessions.
type Profile struct {
	// Authority is the wallet that owns this profile. It never changes after creation.
	Authority common.Address `json:"authority"`
	// Points is the accumulated zombie-kill reward.
	Points uint64 `json:"points"`
	// GameActive is set while a single-player session is in progress.
	GameActive bool `json:"gameActive"`
}

// NewProfile returns an idle profile with no points.
func NewProfile(authority common.Address) Profile {
	return Profile{
		Authority:  authority,
		Points:     0,
		GameActive: false,
	}
}

// StartGame moves the profile from idle into a session.
func (p *Profile) StartGame() error {
	if p.GameActive {
		return ErrGameAlreadyActive
	}
	p.GameActive = true
	return nil
}

// KillZombie awards reward points. Points saturate at the maximum uint64.
func (p *Profile) KillZombie(reward uint64) error {
	if !p.GameActive {
		return ErrGameNotActive
	}
	p.Points = SaturatingAdd(p.Points, reward)
	return nil
}

// EndGame closes the session. The points stay on the rollup copy until the profile is undelegated.
func (p *Profile) EndGame() error {
	if !p.GameActive {
		return ErrGameNotActive
	}
	p.GameActive = false
	return nil
}
