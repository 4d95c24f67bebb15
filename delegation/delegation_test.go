package delegation_test

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"

	"github.com/datmedevil17/apocalypse/delegation"
	"github.com/datmedevil17/apocalypse/ledger"
	"github.com/datmedevil17/apocalypse/testutils"
)

const testValidator = "validator-1"

func setup(t *testing.T) (testutils.Layers, *delegation.Controller, ledger.Address) {
	t.Helper()
	layers := testutils.NewLayers(t)
	ctrl, err := delegation.NewController(layers.Base, layers.Rollup, testValidator, zerolog.Nop())
	testutils.AssertNilErrorWithTrace(t, err)

	addr := ledger.DeriveAddress(testutils.TestNamespace, []byte("counter"))
	err = layers.Base.Create(context.Background(), addr, ledger.Record{
		Kind:  "counter",
		Owner: ledger.LayerBase,
		Data:  []byte("0"),
	})
	testutils.AssertNilErrorWithTrace(t, err)
	return layers, ctrl, addr
}

func ownerOf(t *testing.T, ctrl *delegation.Controller, addr ledger.Address) ledger.Layer {
	t.Helper()
	rec, err := ctrl.Read(context.Background(), addr)
	testutils.AssertNilErrorWithTrace(t, err)
	return rec.Owner
}

func set(value string) ledger.WriteFunc {
	return func([]byte) ([]byte, error) { return []byte(value), nil }
}

func TestNewControllerChecksLayers(t *testing.T) {
	layers := testutils.NewLayers(t)

	_, err := delegation.NewController(layers.Rollup, layers.Base, testValidator, zerolog.Nop())
	assert.ErrorContains(t, err, "base store is the rollup layer")

	_, err = delegation.NewController(layers.Base, layers.Base, testValidator, zerolog.Nop())
	assert.ErrorContains(t, err, "rollup store is the base layer")

	_, err = delegation.NewController(nil, layers.Rollup, testValidator, zerolog.Nop())
	assert.Check(t, err != nil)
}

func TestDelegateMovesOwnership(t *testing.T) {
	ctx := context.Background()
	layers, ctrl, addr := setup(t)

	testutils.AssertNilErrorWithTrace(t, ctrl.Delegate(ctx, addr))

	assert.Equal(t, ledger.LayerRollup, ownerOf(t, ctrl, addr))

	base, err := layers.Base.Read(ctx, addr)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, testValidator, base.Validator)

	copied, err := layers.Rollup.Read(ctx, addr)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, ledger.LayerRollup, copied.Owner)
	assert.Equal(t, ledger.Kind("counter"), copied.Kind)
	assert.Equal(t, "0", string(copied.Data))

	// Base refuses direct mutation while delegated; the rollup accepts it.
	err = layers.Base.Write(ctx, addr, set("1"))
	assert.Check(t, eris.Is(err, ledger.ErrNotOwner))
	testutils.AssertNilErrorWithTrace(t, layers.Rollup.Write(ctx, addr, set("7")))

	// Reads follow the owning layer.
	rec, err := ctrl.Read(ctx, addr)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, "7", string(rec.Data))
}

func TestDelegateTwiceFails(t *testing.T) {
	ctx := context.Background()
	_, ctrl, addr := setup(t)

	testutils.AssertNilErrorWithTrace(t, ctrl.Delegate(ctx, addr))
	err := ctrl.Delegate(ctx, addr)
	assert.Check(t, eris.Is(err, ledger.ErrNotOwner))
}

func TestDelegateMissingObject(t *testing.T) {
	ctx := context.Background()
	_, ctrl, _ := setup(t)

	err := ctrl.Delegate(ctx, ledger.DeriveAddress(testutils.TestNamespace, []byte("missing")))
	assert.Check(t, eris.Is(err, ledger.ErrObjectNotFound))
}

func TestDelegateRollsBackWhenCopyExists(t *testing.T) {
	ctx := context.Background()
	layers, ctrl, addr := setup(t)

	// A stale copy on the rollup blocks delegation.
	err := layers.Rollup.Create(ctx, addr, ledger.Record{Kind: "counter", Owner: ledger.LayerRollup})
	testutils.AssertNilErrorWithTrace(t, err)

	err = ctrl.Delegate(ctx, addr)
	assert.Check(t, eris.Is(err, ledger.ErrDuplicateObject))

	assert.Equal(t, ledger.LayerBase, ownerOf(t, ctrl, addr))
	testutils.AssertNilErrorWithTrace(t, layers.Base.Write(ctx, addr, set("1")))
}

func TestCommitAndUndelegate(t *testing.T) {
	ctx := context.Background()
	layers, ctrl, addr := setup(t)

	testutils.AssertNilErrorWithTrace(t, ctrl.Delegate(ctx, addr))
	testutils.AssertNilErrorWithTrace(t, layers.Rollup.Write(ctx, addr, set("42")))
	testutils.AssertNilErrorWithTrace(t, ctrl.CommitAndUndelegate(ctx, addr, nil))

	base, err := layers.Base.Read(ctx, addr)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, ledger.LayerBase, base.Owner)
	assert.Equal(t, "", base.Validator)
	assert.Equal(t, "42", string(base.Data))

	_, err = layers.Rollup.Read(ctx, addr)
	assert.Check(t, eris.Is(err, ledger.ErrObjectNotFound))

	// Rollup writes after settlement have nowhere to land.
	err = layers.Rollup.Write(ctx, addr, set("43"))
	assert.Check(t, eris.Is(err, ledger.ErrObjectNotFound))
}

func TestCommitCheckCancels(t *testing.T) {
	ctx := context.Background()
	layers, ctrl, addr := setup(t)
	errBusy := eris.New("still busy")

	testutils.AssertNilErrorWithTrace(t, ctrl.Delegate(ctx, addr))
	testutils.AssertNilErrorWithTrace(t, layers.Rollup.Write(ctx, addr, set("5")))

	var seen string
	err := ctrl.CommitAndUndelegate(ctx, addr, func(data []byte) error {
		seen = string(data)
		return errBusy
	})
	assert.Check(t, eris.Is(err, errBusy))
	assert.Equal(t, "5", seen)

	// Still delegated and writable on the rollup.
	assert.Equal(t, ledger.LayerRollup, ownerOf(t, ctrl, addr))
	testutils.AssertNilErrorWithTrace(t, layers.Rollup.Write(ctx, addr, set("6")))

	base, err := layers.Base.Read(ctx, addr)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, "0", string(base.Data))
}

func TestCommitWithoutDelegation(t *testing.T) {
	ctx := context.Background()
	_, ctrl, addr := setup(t)

	err := ctrl.CommitAndUndelegate(ctx, addr, nil)
	assert.Check(t, eris.Is(err, delegation.ErrNotDelegated))
}

func TestRedelegationPreservesData(t *testing.T) {
	ctx := context.Background()
	layers, ctrl, addr := setup(t)

	for round, value := range []string{"10", "25", "60"} {
		testutils.AssertNilErrorWithTrace(t, ctrl.Delegate(ctx, addr))

		copied, err := layers.Rollup.Read(ctx, addr)
		testutils.AssertNilErrorWithTrace(t, err)
		if round > 0 {
			assert.Check(t, string(copied.Data) != "0")
		}

		testutils.AssertNilErrorWithTrace(t, layers.Rollup.Write(ctx, addr, set(value)))
		testutils.AssertNilErrorWithTrace(t, ctrl.CommitAndUndelegate(ctx, addr, nil))

		base, err := layers.Base.Read(ctx, addr)
		testutils.AssertNilErrorWithTrace(t, err)
		assert.Equal(t, value, string(base.Data))
	}
}

// flakyStore fails the next failDeletes calls to Delete.
type flakyStore struct {
	*ledger.RedisStore
	failDeletes int
}

func (f *flakyStore) Delete(ctx context.Context, addr ledger.Address) error {
	if f.failDeletes > 0 {
		f.failDeletes--
		return eris.New("transient redis error")
	}
	return f.RedisStore.Delete(ctx, addr)
}

func TestCommitSurvivesFailedCleanup(t *testing.T) {
	ctx := context.Background()
	layers, _, addr := setup(t)
	rollup := &flakyStore{RedisStore: layers.Rollup, failDeletes: 1}
	ctrl, err := delegation.NewController(layers.Base, rollup, testValidator, zerolog.Nop())
	testutils.AssertNilErrorWithTrace(t, err)

	testutils.AssertNilErrorWithTrace(t, ctrl.Delegate(ctx, addr))
	testutils.AssertNilErrorWithTrace(t, rollup.Write(ctx, addr, set("42")))

	// Base holds the committed state even though the rollup copy could not be dropped.
	testutils.AssertNilErrorWithTrace(t, ctrl.CommitAndUndelegate(ctx, addr, nil))
	base, err := layers.Base.Read(ctx, addr)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, ledger.LayerBase, base.Owner)
	assert.Equal(t, "42", string(base.Data))

	leftover, err := rollup.Read(ctx, addr)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, ledger.LayerBase, leftover.Owner)

	// The fenced leftover accepts no gameplay writes and reads come from base.
	err = rollup.Write(ctx, addr, set("99"))
	assert.Check(t, eris.Is(err, ledger.ErrNotOwner))
	rec, err := ctrl.Read(ctx, addr)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, "42", string(rec.Data))

	// A second commit finds nothing delegated.
	err = ctrl.CommitAndUndelegate(ctx, addr, nil)
	assert.Check(t, eris.Is(err, delegation.ErrNotDelegated))

	// Re-delegation replaces the leftover with the committed state and the cycle continues.
	testutils.AssertNilErrorWithTrace(t, ctrl.Delegate(ctx, addr))
	copied, err := rollup.Read(ctx, addr)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, ledger.LayerRollup, copied.Owner)
	assert.Equal(t, "42", string(copied.Data))

	testutils.AssertNilErrorWithTrace(t, rollup.Write(ctx, addr, set("43")))
	testutils.AssertNilErrorWithTrace(t, ctrl.CommitAndUndelegate(ctx, addr, nil))
	base, err = layers.Base.Read(ctx, addr)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, "43", string(base.Data))
	_, err = rollup.Read(ctx, addr)
	assert.Check(t, eris.Is(err, ledger.ErrObjectNotFound))
}

func TestDelegateRollsBackWhenStaleCopyCannotBeDropped(t *testing.T) {
	ctx := context.Background()
	layers, _, addr := setup(t)
	rollup := &flakyStore{RedisStore: layers.Rollup, failDeletes: 2}
	ctrl, err := delegation.NewController(layers.Base, rollup, testValidator, zerolog.Nop())
	testutils.AssertNilErrorWithTrace(t, err)

	testutils.AssertNilErrorWithTrace(t, ctrl.Delegate(ctx, addr))
	testutils.AssertNilErrorWithTrace(t, ctrl.CommitAndUndelegate(ctx, addr, nil))

	// The leftover is still there and cannot be dropped yet.
	err = ctrl.Delegate(ctx, addr)
	assert.ErrorContains(t, err, "transient redis error")
	assert.Equal(t, ledger.LayerBase, ownerOf(t, ctrl, addr))
	testutils.AssertNilErrorWithTrace(t, layers.Base.Write(ctx, addr, set("8")))

	testutils.AssertNilErrorWithTrace(t, ctrl.Delegate(ctx, addr))
	copied, err := rollup.Read(ctx, addr)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, "8", string(copied.Data))
}
