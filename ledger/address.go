package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Address identifies an object in the ledger. It is derived from seeds so that the object a caller refers to
// is fully determined by its seeds: two objects with the same seeds are the same object.
type Address = common.Hash

// DeriveAddress hashes the program namespace followed by each seed. Seeds are length-prefixed so that
// ("ab", "c") and ("a", "bc") map to different addresses.
func DeriveAddress(namespace string, seeds ...[]byte) Address {
	buf := make([]byte, 0, 64)
	buf = appendSeed(buf, []byte(namespace))
	for _, s := range seeds {
		buf = appendSeed(buf, s)
	}
	return crypto.Keccak256Hash(buf)
}

func appendSeed(buf, seed []byte) []byte {
	buf = append(buf, byte(len(seed)>>8), byte(len(seed)))
	return append(buf, seed...)
}
