package program_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rotisserie/eris"
	"gotest.tools/v3/assert"

	"github.com/datmedevil17/apocalypse/account"
	"github.com/datmedevil17/apocalypse/auth"
	"github.com/datmedevil17/apocalypse/delegation"
	"github.com/datmedevil17/apocalypse/events"
	"github.com/datmedevil17/apocalypse/ledger"
	"github.com/datmedevil17/apocalypse/session"
	"github.com/datmedevil17/apocalypse/testutils"
)

func TestProfileScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := testutils.NewAddress(t)
	cred := auth.NewDirect(a)

	prof, err := f.prog.InitializeProfile(ctx, a)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, account.Profile{Authority: a}, prof)

	testutils.AssertNilErrorWithTrace(t, f.prog.DelegateProfile(ctx, a))

	prof, err = f.prog.StartGame(ctx, cred)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Check(t, prof.GameActive)

	_, err = f.prog.KillZombie(ctx, cred, 10)
	testutils.AssertNilErrorWithTrace(t, err)
	prof, err = f.prog.KillZombie(ctx, cred, 5)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, uint64(15), prof.Points)

	prof, err = f.prog.EndGame(ctx, cred)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, account.Profile{Authority: a, Points: 15, GameActive: false}, prof)

	prof, err = f.prog.UndelegateProfile(ctx, a)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, account.Profile{Authority: a, Points: 15, GameActive: false}, prof)

	state, err := f.prog.Profile(ctx, a)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, ledger.LayerBase, state.Owner)
	assert.Equal(t, uint64(15), state.Points)
	assert.Check(t, !state.GameActive)

	assert.DeepEqual(t, []string{
		events.ProfileInitialized,
		events.ProfileDelegated,
		events.GameStarted,
		events.ZombieKilled,
		events.ZombieKilled,
		events.GameEnded,
		events.ProfileUndelegated,
	}, f.events.types())
}

func TestInitializeProfileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := testutils.NewAddress(t)
	cred := auth.NewDirect(a)

	_, err := f.prog.InitializeProfile(ctx, a)
	testutils.AssertNilErrorWithTrace(t, err)
	testutils.AssertNilErrorWithTrace(t, f.prog.DelegateProfile(ctx, a))
	_, err = f.prog.StartGame(ctx, cred)
	testutils.AssertNilErrorWithTrace(t, err)
	_, err = f.prog.KillZombie(ctx, cred, 30)
	testutils.AssertNilErrorWithTrace(t, err)
	_, err = f.prog.EndGame(ctx, cred)
	testutils.AssertNilErrorWithTrace(t, err)
	_, err = f.prog.UndelegateProfile(ctx, a)
	testutils.AssertNilErrorWithTrace(t, err)

	prof, err := f.prog.InitializeProfile(ctx, a)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, uint64(30), prof.Points)

	// Also a no-op while the profile is delegated.
	testutils.AssertNilErrorWithTrace(t, f.prog.DelegateProfile(ctx, a))
	prof, err = f.prog.InitializeProfile(ctx, a)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, uint64(30), prof.Points)

	initialized := 0
	for _, typ := range f.events.types() {
		if typ == events.ProfileInitialized {
			initialized++
		}
	}
	assert.Equal(t, 1, initialized)
}

func TestProfileTransitionsRejectMisuse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := testutils.NewAddress(t)
	cred := auth.NewDirect(a)

	_, err := f.prog.InitializeProfile(ctx, a)
	testutils.AssertNilErrorWithTrace(t, err)

	// Gameplay needs the profile on the rollup, and base refuses gameplay writes once delegated.
	_, err = f.prog.StartGame(ctx, cred)
	assert.Check(t, eris.Is(err, ledger.ErrNotOwner))
	testutils.AssertNilErrorWithTrace(t, f.prog.DelegateProfile(ctx, a))
	err = f.layers.Base.Write(ctx, f.prog.ProfileAddress(a), func(data []byte) ([]byte, error) { return data, nil })
	assert.Check(t, eris.Is(err, ledger.ErrNotOwner))

	_, err = f.prog.KillZombie(ctx, cred, 10)
	assert.Check(t, eris.Is(err, account.ErrGameNotActive))
	_, err = f.prog.EndGame(ctx, cred)
	assert.Check(t, eris.Is(err, account.ErrGameNotActive))

	_, err = f.prog.StartGame(ctx, cred)
	testutils.AssertNilErrorWithTrace(t, err)
	_, err = f.prog.StartGame(ctx, cred)
	assert.Check(t, eris.Is(err, account.ErrGameAlreadyActive))

	state, err := f.prog.Profile(ctx, a)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, ledger.LayerRollup, state.Owner)
	assert.Equal(t, "validator-1", state.Validator)
	assert.Check(t, state.GameActive)
	assert.Equal(t, uint64(0), state.Points)

	err = f.prog.DelegateProfile(ctx, a)
	assert.Check(t, eris.Is(err, ledger.ErrNotOwner))
}

func TestKillZombieSaturates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := testutils.NewAddress(t)
	cred := auth.NewDirect(a)

	_, err := f.prog.InitializeProfile(ctx, a)
	testutils.AssertNilErrorWithTrace(t, err)
	testutils.AssertNilErrorWithTrace(t, f.prog.DelegateProfile(ctx, a))
	_, err = f.prog.StartGame(ctx, cred)
	testutils.AssertNilErrorWithTrace(t, err)

	for _, reward := range []uint64{math.MaxUint64 - 1, 1, 1, math.MaxUint64} {
		_, err = f.prog.KillZombie(ctx, cred, reward)
		testutils.AssertNilErrorWithTrace(t, err)
	}
	state, err := f.prog.Profile(ctx, a)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, uint64(math.MaxUint64), state.Points)
}

func TestUndelegateProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := testutils.NewAddress(t)

	_, err := f.prog.InitializeProfile(ctx, a)
	testutils.AssertNilErrorWithTrace(t, err)

	_, err = f.prog.UndelegateProfile(ctx, a)
	assert.Check(t, eris.Is(err, delegation.ErrNotDelegated))

	testutils.AssertNilErrorWithTrace(t, f.prog.DelegateProfile(ctx, a))
	_, err = f.prog.StartGame(ctx, auth.NewDirect(a))
	testutils.AssertNilErrorWithTrace(t, err)

	// Settling mid-session is allowed and carries the flag back to base.
	prof, err := f.prog.UndelegateProfile(ctx, a)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Check(t, prof.GameActive)

	_, err = f.prog.UndelegateProfile(ctx, common.Address{})
	assert.Check(t, eris.Is(err, auth.ErrInvalidAuth))
}

func TestProfileRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := testutils.NewAddress(t)
	cred := auth.NewDirect(a)

	_, err := f.prog.InitializeProfile(ctx, a)
	testutils.AssertNilErrorWithTrace(t, err)

	for round := 1; round <= 3; round++ {
		testutils.AssertNilErrorWithTrace(t, f.prog.DelegateProfile(ctx, a))
		_, err = f.prog.StartGame(ctx, cred)
		testutils.AssertNilErrorWithTrace(t, err)
		_, err = f.prog.KillZombie(ctx, cred, 10)
		testutils.AssertNilErrorWithTrace(t, err)
		_, err = f.prog.EndGame(ctx, cred)
		testutils.AssertNilErrorWithTrace(t, err)
		prof, err := f.prog.UndelegateProfile(ctx, a)
		testutils.AssertNilErrorWithTrace(t, err)
		assert.Equal(t, uint64(10*round), prof.Points)
	}
}

func TestProfileWithSessionKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := testutils.NewAddress(t)
	sessionKey := testutils.NewAddress(t)
	stranger := testutils.NewAddress(t)

	_, err := f.prog.InitializeProfile(ctx, a)
	testutils.AssertNilErrorWithTrace(t, err)
	testutils.AssertNilErrorWithTrace(t, f.prog.DelegateProfile(ctx, a))

	token, err := f.prog.CreateSession(ctx, a, sessionKey, time.Hour)
	testutils.AssertNilErrorWithTrace(t, err)
	cred := auth.NewSession(sessionKey, a, token.ID)

	_, err = f.prog.StartGame(ctx, cred)
	testutils.AssertNilErrorWithTrace(t, err)
	prof, err := f.prog.KillZombie(ctx, cred, 3)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, uint64(3), prof.Points)

	// A token issued to another signer does not transfer.
	_, err = f.prog.KillZombie(ctx, auth.NewSession(stranger, a, token.ID), 3)
	assert.Check(t, eris.Is(err, auth.ErrInvalidAuth))

	// Revocation takes effect on the very next call.
	testutils.AssertNilErrorWithTrace(t, f.prog.RevokeSession(ctx, a, token.ID))
	_, err = f.prog.KillZombie(ctx, cred, 3)
	assert.Check(t, eris.Is(err, auth.ErrInvalidAuth))

	_, err = f.prog.Session(ctx, token.ID)
	assert.Check(t, eris.Is(err, session.ErrSessionNotFound))

	state, err := f.prog.Profile(ctx, a)
	testutils.AssertNilErrorWithTrace(t, err)
	assert.Equal(t, uint64(3), state.Points)
}
