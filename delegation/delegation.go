// Package delegation moves write-ownership of ledger objects between the base layer and the rollup layer.
//
// An object's life is: created on base, delegated (base marks it owned by the rollup and a working copy is
// placed on the rollup), mutated on the rollup, then committed and undelegated (the rollup copy is written
// back to base, base takes ownership again and the rollup copy is dropped). The cycle may repeat.
//
// The controller never changes object data. Callers must finish every mutation before committing.
package delegation

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/datmedevil17/apocalypse/ledger"
)

var ErrNotDelegated = eris.New("object is not delegated to the rollup layer")

// CheckFunc inspects the frozen rollup data right before it is committed. Returning an error cancels the
// commit and leaves the object delegated.
type CheckFunc func(data []byte) error

type Controller struct {
	base      ledger.Store
	rollup    ledger.Store
	validator string
	logger    zerolog.Logger
}

// NewController returns a controller moving objects between base and rollup. validator is recorded on every
// delegation as the rollup validator the object was handed to.
func NewController(base, rollup ledger.Store, validator string, logger zerolog.Logger) (*Controller, error) {
	if base == nil || rollup == nil {
		return nil, eris.New("delegation requires both a base and a rollup store")
	}
	if base.Layer() != ledger.LayerBase {
		return nil, eris.Errorf("base store is the %s layer", base.Layer())
	}
	if rollup.Layer() != ledger.LayerRollup {
		return nil, eris.Errorf("rollup store is the %s layer", rollup.Layer())
	}
	return &Controller{
		base:      base,
		rollup:    rollup,
		validator: validator,
		logger:    logger,
	}, nil
}

// Delegate hands ownership of addr to the rollup layer.
func (c *Controller) Delegate(ctx context.Context, addr ledger.Address) error {
	// Flip ownership first so base rejects writes while the copy is being made.
	if err := c.base.Transfer(ctx, addr, ledger.LayerBase, ledger.LayerRollup, c.validator, nil); err != nil {
		return eris.Wrap(err, "failed to transfer ownership to the rollup layer")
	}

	rec, err := c.base.Read(ctx, addr)
	if err == nil {
		err = c.dropStaleCopy(ctx, addr)
	}
	if err == nil {
		err = c.rollup.Create(ctx, addr, ledger.Record{
			Kind:      rec.Kind,
			Owner:     ledger.LayerRollup,
			Validator: c.validator,
			Data:      rec.Data,
		})
	}
	if err != nil {
		if rbErr := c.base.Transfer(ctx, addr, ledger.LayerRollup, ledger.LayerBase, "", nil); rbErr != nil {
			c.logger.Error().Err(rbErr).Str("address", addr.Hex()).Msg("failed to roll back delegation")
		}
		return eris.Wrap(err, "failed to place object on the rollup layer")
	}

	c.logger.Info().
		Str("address", addr.Hex()).
		Str("kind", string(rec.Kind)).
		Str("validator", c.validator).
		Msg("Object delegated")
	return nil
}

// dropStaleCopy removes a fenced rollup copy left behind by a commit whose cleanup failed. A copy the rollup
// still owns is left alone so Create reports it.
func (c *Controller) dropStaleCopy(ctx context.Context, addr ledger.Address) error {
	stale, err := c.rollup.Read(ctx, addr)
	if eris.Is(err, ledger.ErrObjectNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if stale.Owner == ledger.LayerRollup {
		return nil
	}
	c.logger.Warn().Str("address", addr.Hex()).Uint64("version", stale.Version).Msg("Dropping stale rollup copy")
	return c.rollup.Delete(ctx, addr)
}

// CommitAndUndelegate writes the rollup copy of addr back to base and returns ownership to base. check may be
// nil.
func (c *Controller) CommitAndUndelegate(ctx context.Context, addr ledger.Address, check CheckFunc) error {
	// Fence the rollup copy so no further gameplay write can land after it has been read.
	err := c.rollup.Transfer(ctx, addr, ledger.LayerRollup, ledger.LayerBase, c.validator, nil)
	if eris.Is(err, ledger.ErrObjectNotFound) || eris.Is(err, ledger.ErrNotOwner) {
		// No copy, or one that is already fenced.
		return eris.Wrapf(ErrNotDelegated, "address %s", addr.Hex())
	}
	if err != nil {
		return eris.Wrap(err, "failed to fence the rollup copy")
	}

	rec, err := c.rollup.Read(ctx, addr)
	if err == nil && check != nil {
		if err = check(rec.Data); err != nil {
			c.unfence(ctx, addr)
			return err
		}
	}
	if err == nil {
		err = c.base.Transfer(ctx, addr, ledger.LayerRollup, ledger.LayerBase, "", rec.Data)
	}
	if err != nil {
		c.unfence(ctx, addr)
		return eris.Wrap(err, "failed to commit object to the base layer")
	}

	if err := c.rollup.Delete(ctx, addr); err != nil {
		// The commit has landed on base. The fenced copy is dropped by the next Delegate.
		c.logger.Error().Err(err).Str("address", addr.Hex()).Msg("failed to drop the rollup copy")
	}

	c.logger.Info().Str("address", addr.Hex()).Str("kind", string(rec.Kind)).Msg("Object committed and undelegated")
	return nil
}

func (c *Controller) unfence(ctx context.Context, addr ledger.Address) {
	if err := c.rollup.Transfer(ctx, addr, ledger.LayerBase, ledger.LayerRollup, c.validator, nil); err != nil {
		c.logger.Error().Err(err).Str("address", addr.Hex()).Msg("failed to unfence the rollup copy")
	}
}

// Read returns the record of addr from the layer that currently owns it. The returned Owner is the one base
// records.
func (c *Controller) Read(ctx context.Context, addr ledger.Address) (ledger.Record, error) {
	rec, err := c.base.Read(ctx, addr)
	if err != nil || rec.Owner != ledger.LayerRollup {
		return rec, err
	}
	copied, err := c.rollup.Read(ctx, addr)
	if eris.Is(err, ledger.ErrObjectNotFound) {
		// Committed between the two reads.
		return c.base.Read(ctx, addr)
	}
	if err != nil {
		return ledger.Record{}, err
	}
	copied.Owner = ledger.LayerRollup
	return copied, nil
}

func (c *Controller) Base() ledger.Store {
	return c.base
}

func (c *Controller) Rollup() ledger.Store {
	return c.rollup
}
