// Package program implements the game's caller-facing operations on top of the two ledger layers.
//
// Profiles and battles are created on the base layer, delegated to the rollup layer for gameplay and committed
// back when play is over. Every mutating call authorizes the caller, runs one state transition as a single
// read-modify-write on the layer that owns the object and emits one event.
package program

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/datmedevil17/apocalypse/account"
	"github.com/datmedevil17/apocalypse/auth"
	"github.com/datmedevil17/apocalypse/delegation"
	"github.com/datmedevil17/apocalypse/events"
	"github.com/datmedevil17/apocalypse/ledger"
	"github.com/datmedevil17/apocalypse/session"
)

const (
	KindProfile ledger.Kind = "profile"
	KindBattle  ledger.Kind = "battle"
)

var ErrSessionsDisabled = eris.New("session management is not enabled")

type Program struct {
	namespace string
	ctrl      *delegation.Controller
	base      ledger.Store
	rollup    ledger.Store
	gate      *auth.Gate
	sessions  *session.Manager
	emitter   events.Emitter
	logger    zerolog.Logger
}

type Option func(*Program)

func WithEmitter(emitter events.Emitter) Option {
	return func(p *Program) {
		p.emitter = emitter
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Program) {
		p.logger = logger
	}
}

// WithSessions lets the program issue and revoke session tokens through manager.
func WithSessions(manager *session.Manager) Option {
	return func(p *Program) {
		p.sessions = manager
	}
}

// New returns a program whose objects live under namespace.
func New(namespace string, ctrl *delegation.Controller, gate *auth.Gate, opts ...Option) (*Program, error) {
	if namespace == "" {
		return nil, eris.New("program namespace must not be empty")
	}
	if ctrl == nil || gate == nil {
		return nil, eris.New("program requires a delegation controller and an authorization gate")
	}
	p := &Program{
		namespace: namespace,
		ctrl:      ctrl,
		base:      ctrl.Base(),
		rollup:    ctrl.Rollup(),
		gate:      gate,
		emitter:   events.Nop(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Program) Namespace() string {
	return p.namespace
}

// ProfileAddress is where authority's profile lives on both layers.
func (p *Program) ProfileAddress(authority common.Address) ledger.Address {
	return ledger.DeriveAddress(p.namespace, []byte(account.ProfileSeed), authority.Bytes())
}

// BattleAddress is where the room roomID lives on both layers.
func (p *Program) BattleAddress(roomID uint64) ledger.Address {
	return ledger.DeriveAddress(p.namespace, []byte(account.BattleSeed), account.RoomSeed(roomID))
}

func (p *Program) emit(typ string, layer ledger.Layer, payload any) {
	if err := p.emitter.Emit(events.New(typ, layer, payload)); err != nil {
		p.logger.Error().Err(err).Str("event", typ).Msg("failed to emit event")
	}
}

// mutate runs one transition against the rollup copy of addr. A missing rollup copy of an object that exists
// on base is reported as ErrNotOwner: the object has not been delegated.
func (p *Program) mutate(ctx context.Context, addr ledger.Address, fn ledger.WriteFunc) error {
	err := p.rollup.Write(ctx, addr, fn)
	if !eris.Is(err, ledger.ErrObjectNotFound) {
		return err
	}
	if _, baseErr := p.base.Read(ctx, addr); baseErr == nil {
		return eris.Wrapf(ledger.ErrNotOwner, "address %s has not been delegated to the rollup layer", addr.Hex())
	}
	return err
}

func decode[T any](kind ledger.Kind, rec ledger.Record) (T, error) {
	var v T
	if rec.Kind != kind {
		return v, eris.Errorf("expected a %s object, found %s", kind, rec.Kind)
	}
	if err := json.Unmarshal(rec.Data, &v); err != nil {
		return v, eris.Wrapf(err, "failed to decode %s", kind)
	}
	return v, nil
}
