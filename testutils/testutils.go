// Package testutils holds helpers shared by package tests: miniredis-backed stores and throwaway keys.
package testutils

import (
	"crypto/ecdsa"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"gotest.tools/v3/assert"

	"github.com/datmedevil17/apocalypse/ledger"
)

const TestNamespace = "apocalypse-test"

// AssertNilErrorWithTrace fails the test with the full eris stack trace when err is not nil.
func AssertNilErrorWithTrace(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		return
	}
	assert.NilError(t, err, eris.ToString(err, true))
}

// NewRedis starts a miniredis server that lives for the duration of the test.
func NewRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:     s.Addr(),
		Password: "", // no password set
		DB:       0,  // use default DB
	})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

// Layers bundles a base and a rollup store that share one miniredis.
type Layers struct {
	Redis  *miniredis.Miniredis
	Client *redis.Client
	Base   *ledger.RedisStore
	Rollup *ledger.RedisStore
}

// NewLayers returns fresh base and rollup stores.
func NewLayers(t testing.TB) Layers {
	t.Helper()
	s, client := NewRedis(t)
	return Layers{
		Redis:  s,
		Client: client,
		Base:   ledger.NewRedisStore(client, ledger.LayerBase, TestNamespace),
		Rollup: ledger.NewRedisStore(client, ledger.LayerRollup, TestNamespace),
	}
}

// NewKey generates a signing key and its address.
func NewKey(t testing.TB) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	assert.NilError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

// NewAddress returns a random address for callers that never sign anything.
func NewAddress(t testing.TB) common.Address {
	t.Helper()
	_, addr := NewKey(t)
	return addr
}
