package program

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/datmedevil17/apocalypse/account"
	"github.com/datmedevil17/apocalypse/auth"
	"github.com/datmedevil17/apocalypse/events"
	"github.com/datmedevil17/apocalypse/ledger"
)

// BattleState is a battle room together with the layer that currently owns it.
type BattleState struct {
	account.Battle
	Owner     ledger.Layer `json:"owner"`
	Validator string       `json:"validator,omitempty"`
}

// CreateBattle opens room roomID on the base layer with host as its host.
func (p *Program) CreateBattle(
	ctx context.Context, host common.Address, roomID uint64, maxPlayers uint8,
) (account.Battle, error) {
	if host == (common.Address{}) {
		return account.Battle{}, eris.Wrap(auth.ErrInvalidAuth, "battle host is required")
	}
	battle, err := account.NewBattle(host, roomID, maxPlayers)
	if err != nil {
		return account.Battle{}, eris.Wrapf(err, "room %d", roomID)
	}
	data, err := json.Marshal(battle)
	if err != nil {
		return account.Battle{}, eris.Wrap(err, "failed to encode battle")
	}
	err = p.base.Create(ctx, p.BattleAddress(roomID), ledger.Record{
		Kind:  KindBattle,
		Owner: ledger.LayerBase,
		Data:  data,
	})
	if err != nil {
		return account.Battle{}, eris.Wrapf(err, "room %d", roomID)
	}

	p.logger.Info().
		Str("host", host.Hex()).
		Uint64("room_id", roomID).
		Uint8("max_players", maxPlayers).
		Msg("Battle created")
	p.emit(events.BattleCreated, ledger.LayerBase, battle)
	return battle, nil
}

// DelegateBattle hands room roomID to the rollup layer. Only the host may delegate.
func (p *Program) DelegateBattle(ctx context.Context, signer common.Address, roomID uint64) error {
	addr := p.BattleAddress(roomID)
	rec, err := p.base.Read(ctx, addr)
	if err != nil {
		return err
	}
	battle, err := decode[account.Battle](KindBattle, rec)
	if err != nil {
		return err
	}
	if err := p.gate.Authorize(ctx, auth.NewDirect(signer), battle.Host); err != nil {
		return err
	}
	if err := p.ctrl.Delegate(ctx, addr); err != nil {
		return err
	}

	p.logger.Info().Uint64("room_id", roomID).Str("host", battle.Host.Hex()).Msg("Battle delegated")
	p.emit(events.BattleDelegated, ledger.LayerBase, battle)
	return nil
}

// updateBattle runs fn against the rollup copy of room roomID. authorize sees the decoded battle before fn
// does, so a rejected caller never reaches the transition.
func (p *Program) updateBattle(
	ctx context.Context,
	roomID uint64,
	authorize func(*account.Battle) error,
	fn func(*account.Battle) error,
) (account.Battle, error) {
	var out account.Battle
	err := p.mutate(ctx, p.BattleAddress(roomID), func(data []byte) ([]byte, error) {
		var battle account.Battle
		if err := json.Unmarshal(data, &battle); err != nil {
			return nil, eris.Wrap(err, "failed to decode battle")
		}
		if err := authorize(&battle); err != nil {
			return nil, err
		}
		if err := fn(&battle); err != nil {
			return nil, eris.Wrapf(err, "room %d", roomID)
		}
		out = battle
		return json.Marshal(battle)
	})
	if err != nil {
		return account.Battle{}, err
	}
	return out, nil
}

func (p *Program) hostOnly(ctx context.Context, cred auth.Credential) func(*account.Battle) error {
	return func(b *account.Battle) error {
		return p.gate.Authorize(ctx, cred, b.Host)
	}
}

func (p *Program) playerOnly(
	ctx context.Context, cred auth.Credential, player common.Address,
) func(*account.Battle) error {
	return func(*account.Battle) error {
		return p.gate.AuthorizePlayer(ctx, cred, player)
	}
}

// StartBattle activates room roomID. The host takes the first slot.
func (p *Program) StartBattle(ctx context.Context, cred auth.Credential, roomID uint64) (account.Battle, error) {
	battle, err := p.updateBattle(ctx, roomID, p.hostOnly(ctx, cred), (*account.Battle).Start)
	if err != nil {
		return battle, err
	}
	p.logger.Info().
		Uint64("room_id", roomID).
		Uint8("player_count", battle.PlayerCount).
		Msg("Battle started")
	p.emit(events.BattleStarted, ledger.LayerRollup, battle)
	return battle, nil
}

// JoinBattle adds player to the active room roomID.
func (p *Program) JoinBattle(
	ctx context.Context, cred auth.Credential, roomID uint64, player common.Address,
) (account.Battle, error) {
	battle, err := p.updateBattle(ctx, roomID, p.playerOnly(ctx, cred, player), (*account.Battle).Join)
	if err != nil {
		return battle, err
	}
	p.logger.Info().
		Uint64("room_id", roomID).
		Str("player", player.Hex()).
		Uint8("player_count", battle.PlayerCount).
		Uint8("max_players", battle.MaxPlayers).
		Msg("Player joined battle")
	p.emit(events.BattleJoined, ledger.LayerRollup, battleEvent{Battle: battle, Player: player})
	return battle, nil
}

// KillZombieBattle records a kill by player in room roomID.
func (p *Program) KillZombieBattle(
	ctx context.Context, cred auth.Credential, roomID uint64, player common.Address, reward uint64,
) (account.Battle, error) {
	battle, err := p.updateBattle(ctx, roomID, p.playerOnly(ctx, cred, player), func(b *account.Battle) error {
		return b.RecordKill(reward)
	})
	if err != nil {
		return battle, err
	}
	p.logger.Info().
		Uint64("room_id", roomID).
		Str("player", player.Hex()).
		Uint64("reward", reward).
		Uint64("total_zombie_kills", battle.TotalZombieKills).
		Uint64("total_points", battle.TotalPoints).
		Msg("Zombie killed in battle")
	p.emit(events.BattleZombieKilled, ledger.LayerRollup, battleEvent{Battle: battle, Player: player, Reward: reward})
	return battle, nil
}

// EndBattle freezes room roomID.
func (p *Program) EndBattle(ctx context.Context, cred auth.Credential, roomID uint64) (account.Battle, error) {
	battle, err := p.updateBattle(ctx, roomID, p.hostOnly(ctx, cred), (*account.Battle).End)
	if err != nil {
		return battle, err
	}
	p.logger.Info().
		Uint64("room_id", roomID).
		Uint64("total_zombie_kills", battle.TotalZombieKills).
		Uint64("total_points", battle.TotalPoints).
		Msg("Battle ended")
	p.emit(events.BattleEnded, ledger.LayerRollup, battle)
	return battle, nil
}

// CommitBattle settles room roomID back to the base layer. The host may always settle; anyone may settle a
// room with a single player left. An active room cannot be settled.
func (p *Program) CommitBattle(ctx context.Context, payer common.Address, roomID uint64) (account.Battle, error) {
	var settled account.Battle
	err := p.ctrl.CommitAndUndelegate(ctx, p.BattleAddress(roomID), func(data []byte) error {
		var battle account.Battle
		if err := json.Unmarshal(data, &battle); err != nil {
			return eris.Wrap(err, "failed to decode battle")
		}
		if !battle.CanSettle(payer) {
			return eris.Wrapf(auth.ErrInvalidAuth, "%s cannot settle room %d", payer.Hex(), roomID)
		}
		if battle.Active {
			return eris.Wrapf(account.ErrGameAlreadyActive, "room %d must be ended before it is settled", roomID)
		}
		settled = battle
		return nil
	})
	if err != nil {
		return account.Battle{}, err
	}

	p.logger.Info().
		Uint64("room_id", roomID).
		Str("payer", payer.Hex()).
		Uint8("player_count", settled.PlayerCount).
		Uint64("total_points", settled.TotalPoints).
		Msg("Battle committed")
	p.emit(events.BattleCommitted, ledger.LayerBase, settled)
	return settled, nil
}

// Battle returns room roomID as seen on the layer that owns it.
func (p *Program) Battle(ctx context.Context, roomID uint64) (BattleState, error) {
	rec, err := p.ctrl.Read(ctx, p.BattleAddress(roomID))
	if err != nil {
		return BattleState{}, err
	}
	battle, err := decode[account.Battle](KindBattle, rec)
	if err != nil {
		return BattleState{}, err
	}
	return BattleState{Battle: battle, Owner: rec.Owner, Validator: rec.Validator}, nil
}

type battleEvent struct {
	account.Battle
	Player common.Address `json:"player"`
	Reward uint64         `json:"reward,omitempty"`
}
