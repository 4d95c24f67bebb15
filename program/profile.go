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

// ProfileState is a profile together with the layer that currently owns it.
type ProfileState struct {
	account.Profile
	Owner     ledger.Layer `json:"owner"`
	Validator string       `json:"validator,omitempty"`
}

// InitializeProfile creates signer's profile on the base layer. Calling it again returns the existing profile
// untouched.
func (p *Program) InitializeProfile(ctx context.Context, signer common.Address) (account.Profile, error) {
	if signer == (common.Address{}) {
		return account.Profile{}, eris.Wrap(auth.ErrInvalidAuth, "profile authority is required")
	}
	addr := p.ProfileAddress(signer)
	prof := account.NewProfile(signer)
	data, err := json.Marshal(prof)
	if err != nil {
		return account.Profile{}, eris.Wrap(err, "failed to encode profile")
	}

	err = p.base.Create(ctx, addr, ledger.Record{Kind: KindProfile, Owner: ledger.LayerBase, Data: data})
	if eris.Is(err, ledger.ErrDuplicateObject) {
		existing, err := p.Profile(ctx, signer)
		if err != nil {
			return account.Profile{}, err
		}
		p.logger.Debug().Str("authority", signer.Hex()).Msg("Profile already initialized")
		return existing.Profile, nil
	}
	if err != nil {
		return account.Profile{}, err
	}

	p.logger.Info().Str("authority", signer.Hex()).Msg("Profile initialized")
	p.emit(events.ProfileInitialized, ledger.LayerBase, prof)
	return prof, nil
}

// DelegateProfile hands signer's own profile to the rollup layer.
func (p *Program) DelegateProfile(ctx context.Context, signer common.Address) error {
	if signer == (common.Address{}) {
		return eris.Wrap(auth.ErrInvalidAuth, "profile authority is required")
	}
	if err := p.ctrl.Delegate(ctx, p.ProfileAddress(signer)); err != nil {
		return err
	}
	p.logger.Info().Str("authority", signer.Hex()).Msg("Profile delegated")
	p.emit(events.ProfileDelegated, ledger.LayerBase, map[string]common.Address{"authority": signer})
	return nil
}

func (p *Program) updateProfile(
	ctx context.Context, cred auth.Credential, fn func(*account.Profile) error,
) (account.Profile, error) {
	if cred == nil {
		return account.Profile{}, eris.Wrap(auth.ErrInvalidAuth, "no credential")
	}
	var out account.Profile
	err := p.mutate(ctx, p.ProfileAddress(cred.Authority()), func(data []byte) ([]byte, error) {
		var prof account.Profile
		if err := json.Unmarshal(data, &prof); err != nil {
			return nil, eris.Wrap(err, "failed to decode profile")
		}
		if err := p.gate.Authorize(ctx, cred, prof.Authority); err != nil {
			return nil, err
		}
		if err := fn(&prof); err != nil {
			return nil, err
		}
		out = prof
		return json.Marshal(prof)
	})
	if err != nil {
		return account.Profile{}, err
	}
	return out, nil
}

// StartGame opens a single-player session on the profile of cred's authority.
func (p *Program) StartGame(ctx context.Context, cred auth.Credential) (account.Profile, error) {
	prof, err := p.updateProfile(ctx, cred, (*account.Profile).StartGame)
	if err != nil {
		return prof, err
	}
	p.logger.Info().Str("authority", prof.Authority.Hex()).Msg("Game started")
	p.emit(events.GameStarted, ledger.LayerRollup, prof)
	return prof, nil
}

// KillZombie awards reward points to the profile of cred's authority.
func (p *Program) KillZombie(ctx context.Context, cred auth.Credential, reward uint64) (account.Profile, error) {
	prof, err := p.updateProfile(ctx, cred, func(prof *account.Profile) error {
		return prof.KillZombie(reward)
	})
	if err != nil {
		return prof, err
	}
	p.logger.Info().
		Str("authority", prof.Authority.Hex()).
		Uint64("reward", reward).
		Uint64("points", prof.Points).
		Msg("Zombie killed")
	p.emit(events.ZombieKilled, ledger.LayerRollup, prof)
	return prof, nil
}

// EndGame closes the session on the profile of cred's authority.
func (p *Program) EndGame(ctx context.Context, cred auth.Credential) (account.Profile, error) {
	prof, err := p.updateProfile(ctx, cred, (*account.Profile).EndGame)
	if err != nil {
		return prof, err
	}
	p.logger.Info().Str("authority", prof.Authority.Hex()).Uint64("points", prof.Points).Msg("Game ended")
	p.emit(events.GameEnded, ledger.LayerRollup, prof)
	return prof, nil
}

// UndelegateProfile commits payer's profile back to the base layer. Only the profile authority may settle its
// own profile; a session credential is not enough.
func (p *Program) UndelegateProfile(ctx context.Context, payer common.Address) (account.Profile, error) {
	if payer == (common.Address{}) {
		return account.Profile{}, eris.Wrap(auth.ErrInvalidAuth, "profile authority is required")
	}
	addr := p.ProfileAddress(payer)
	err := p.ctrl.CommitAndUndelegate(ctx, addr, func(data []byte) error {
		var prof account.Profile
		if err := json.Unmarshal(data, &prof); err != nil {
			return eris.Wrap(err, "failed to decode profile")
		}
		if prof.Authority != payer {
			return eris.Wrapf(auth.ErrInvalidAuth, "%s cannot settle the profile of %s",
				payer.Hex(), prof.Authority.Hex())
		}
		return nil
	})
	if err != nil {
		return account.Profile{}, err
	}

	state, err := p.Profile(ctx, payer)
	if err != nil {
		return account.Profile{}, err
	}
	p.logger.Info().
		Str("authority", payer.Hex()).
		Uint64("points", state.Points).
		Bool("game_active", state.GameActive).
		Msg("Profile undelegated")
	p.emit(events.ProfileUndelegated, ledger.LayerBase, state.Profile)
	return state.Profile, nil
}

// Profile returns authority's profile as seen on the layer that owns it.
func (p *Program) Profile(ctx context.Context, authority common.Address) (ProfileState, error) {
	rec, err := p.ctrl.Read(ctx, p.ProfileAddress(authority))
	if err != nil {
		return ProfileState{}, err
	}
	prof, err := decode[account.Profile](KindProfile, rec)
	if err != nil {
		return ProfileState{}, err
	}
	return ProfileState{Profile: prof, Owner: rec.Owner, Validator: rec.Validator}, nil
}
