// Package auth decides whether a caller may act for an authority. A caller proves itself either by signing
// directly as the authority, or by signing with a session key whose token is scoped to that authority.
package auth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rotisserie/eris"
)

var ErrInvalidAuth = eris.New("invalid authentication")

// Verifier checks session tokens.
type Verifier interface {
	IsValid(ctx context.Context, token common.Hash, signer, authority common.Address) (bool, error)
}

// Credential is what a caller presents with a transaction. The set of credentials is closed: Direct and
// Session are the only implementations.
type Credential interface {
	// Signer is the address that signed the transaction.
	Signer() common.Address
	// Authority is the address the caller claims to act for.
	Authority() common.Address
	isCredential()
}

// Direct is a transaction signed by the acting wallet itself.
type Direct struct {
	signer common.Address
}

func NewDirect(signer common.Address) Direct {
	return Direct{signer: signer}
}

func (d Direct) Signer() common.Address    { return d.signer }
func (d Direct) Authority() common.Address { return d.signer }
func (Direct) isCredential()               {}

// Session is a transaction signed by a session key on behalf of an authority.
type Session struct {
	signer    common.Address
	authority common.Address
	token     common.Hash
}

func NewSession(signer, authority common.Address, token common.Hash) Session {
	return Session{signer: signer, authority: authority, token: token}
}

func (s Session) Signer() common.Address    { return s.signer }
func (s Session) Authority() common.Address { return s.authority }
func (s Session) Token() common.Hash        { return s.token }
func (Session) isCredential()               {}

// Gate evaluates credentials against the authority a call requires. It holds no per-caller state: every call
// is checked against the verifier again.
type Gate struct {
	verifier Verifier
}

func NewGate(verifier Verifier) *Gate {
	return &Gate{verifier: verifier}
}

// Authorize approves cred if its signer is required, or if it carries a session token that is currently valid
// for that signer and required.
func (g *Gate) Authorize(ctx context.Context, cred Credential, required common.Address) error {
	if cred == nil {
		return eris.Wrap(ErrInvalidAuth, "no credential")
	}
	if cred.Signer() == required {
		return nil
	}
	sess, ok := cred.(Session)
	if !ok {
		return eris.Wrapf(ErrInvalidAuth, "%s cannot act for %s", cred.Signer().Hex(), required.Hex())
	}
	return g.checkSession(ctx, sess, required)
}

// AuthorizePlayer approves a per-player action on a shared object. The declared player must be a real
// address; a presented session token must be valid for that same player.
func (g *Gate) AuthorizePlayer(ctx context.Context, cred Credential, player common.Address) error {
	if cred == nil {
		return eris.Wrap(ErrInvalidAuth, "no credential")
	}
	if player == (common.Address{}) || cred.Signer() == (common.Address{}) {
		return eris.Wrap(ErrInvalidAuth, "player identity is required")
	}
	sess, ok := cred.(Session)
	if !ok {
		return nil
	}
	if sess.Signer() == player {
		return nil
	}
	return g.checkSession(ctx, sess, player)
}

func (g *Gate) checkSession(ctx context.Context, sess Session, required common.Address) error {
	if sess.Authority() != required {
		return eris.Wrapf(ErrInvalidAuth, "session for %s cannot act for %s", sess.Authority().Hex(), required.Hex())
	}
	if g.verifier == nil {
		return eris.Wrap(ErrInvalidAuth, "session credentials are not accepted")
	}
	valid, err := g.verifier.IsValid(ctx, sess.Token(), sess.Signer(), required)
	if err != nil {
		return eris.Wrap(err, "failed to verify session token")
	}
	if !valid {
		return eris.Wrapf(ErrInvalidAuth, "session token %s is not valid for signer %s",
			sess.Token().Hex(), sess.Signer().Hex())
	}
	return nil
}
