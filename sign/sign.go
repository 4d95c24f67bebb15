// Package sign allows for the cryptographic signing and verification of game transactions.
package sign

import (
	"crypto/ecdsa"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

var (
	// ErrSignatureValidationFailed is returned when a signature was not produced by the expected address.
	ErrSignatureValidationFailed = eris.New("signature validation failed")
	ErrMissingSignature          = eris.New("transaction is not signed")
)

// Transaction is a signed request to run one ledger operation. The signer is not carried in the payload; it is
// recovered from the signature.
type Transaction struct {
	Namespace string `json:"namespace"`
	Nonce     uint64 `json:"nonce"`
	// Timestamp is the signing time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
	// Session is the hex id of a session token the signer acts under. Empty for direct signatures.
	Session   string          `json:"session,omitempty"`
	Signature hexutil.Bytes   `json:"signature"`
	Body      json.RawMessage `json:"body"`
}

// NewTransaction serializes data as the transaction body and signs it with pk.
func NewTransaction(pk *ecdsa.PrivateKey, namespace string, nonce uint64, session string, data any) (
	*Transaction, error,
) {
	bz, err := json.Marshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "failed to marshal transaction body")
	}
	tx := &Transaction{
		Namespace: namespace,
		Nonce:     nonce,
		Timestamp: time.Now().UnixMilli(),
		Session:   session,
		Body:      bz,
	}
	if err := tx.Sign(pk); err != nil {
		return nil, err
	}
	return tx, nil
}

// Unmarshal attempts to unmarshal the given buf into a Transaction. Transaction.Verify must still be called to
// verify the signature.
func Unmarshal(buf []byte) (*Transaction, error) {
	tx := &Transaction{}
	if err := json.Unmarshal(buf, tx); err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal transaction")
	}
	return tx, nil
}

// Marshal serializes this Transaction to bytes, which can then be passed in to Unmarshal.
func (t *Transaction) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

// Sign (re)computes the signature over the current fields.
func (t *Transaction) Sign(pk *ecdsa.PrivateKey) error {
	sig, err := crypto.Sign(t.Hash().Bytes(), pk)
	if err != nil {
		return eris.Wrap(err, "failed to sign transaction")
	}
	t.Signature = sig
	return nil
}

// Signer recovers the address that produced the signature.
func (t *Transaction) Signer() (common.Address, error) {
	if len(t.Signature) == 0 {
		return common.Address{}, ErrMissingSignature
	}
	pub, err := crypto.SigToPub(t.Hash().Bytes(), t.Signature)
	if err != nil {
		return common.Address{}, eris.Wrap(err, "failed to recover signer")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that this Transaction was signed by addr. If nil is returned, the signature is valid.
func (t *Transaction) Verify(addr common.Address) error {
	signer, err := t.Signer()
	if err != nil {
		return err
	}
	if signer != addr {
		return eris.Wrapf(ErrSignatureValidationFailed, "signed by %s, expected %s", signer.Hex(), addr.Hex())
	}
	return nil
}

// SignedAt returns the signing time.
func (t *Transaction) SignedAt() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// Hash is the keccak digest the signature covers.
func (t *Transaction) Hash() common.Hash {
	hash := crypto.NewKeccakState()
	_, _ = hash.Write([]byte(t.Namespace))
	_, _ = hash.Write([]byte(strconv.FormatUint(t.Nonce, 10)))
	_, _ = hash.Write([]byte(strconv.FormatInt(t.Timestamp, 10)))
	_, _ = hash.Write([]byte(t.Session))
	_, _ = hash.Write(t.Body)
	var h common.Hash
	hash.Read(h[:]) //nolint:errcheck // keccak reads never fail
	return h
}
