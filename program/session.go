package program

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rotisserie/eris"

	"github.com/datmedevil17/apocalypse/auth"
	"github.com/datmedevil17/apocalypse/events"
	"github.com/datmedevil17/apocalypse/ledger"
	"github.com/datmedevil17/apocalypse/session"
)

// CreateSession lets signer act for authority for validFor. It must be requested by authority itself.
func (p *Program) CreateSession(
	ctx context.Context, authority, signer common.Address, validFor time.Duration,
) (session.Token, error) {
	if p.sessions == nil {
		return session.Token{}, ErrSessionsDisabled
	}
	if authority == (common.Address{}) || signer == (common.Address{}) {
		return session.Token{}, eris.Wrap(auth.ErrInvalidAuth, "session authority and signer are required")
	}
	token, err := p.sessions.Create(ctx, authority, signer, validFor)
	if err != nil {
		return session.Token{}, err
	}
	p.emit(events.SessionCreated, ledger.LayerBase, token)
	return token, nil
}

// RevokeSession deletes token id. Either the authority or the session signer may revoke it.
func (p *Program) RevokeSession(ctx context.Context, caller common.Address, id common.Hash) error {
	if p.sessions == nil {
		return ErrSessionsDisabled
	}
	if err := p.sessions.Revoke(ctx, id, caller); err != nil {
		return err
	}
	p.emit(events.SessionRevoked, ledger.LayerBase, map[string]common.Hash{"id": id})
	return nil
}

// Session returns token id.
func (p *Program) Session(ctx context.Context, id common.Hash) (session.Token, error) {
	if p.sessions == nil {
		return session.Token{}, ErrSessionsDisabled
	}
	return p.sessions.Get(ctx, id)
}
