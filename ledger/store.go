// Package ledger is the storage substrate the game program runs on. Each layer has its own Store; a Store
// knows which layer it represents and refuses writes to objects whose write-ownership currently sits on
// another layer.
package ledger

import (
	"context"

	"github.com/rotisserie/eris"
)

var (
	ErrDuplicateObject = eris.New("an object already exists at this address")
	ErrObjectNotFound  = eris.New("object not found")
	ErrNotOwner        = eris.New("object is owned by another layer")
)

// Kind tags what an object's data holds.
type Kind string

// Record is a stored object together with its ownership metadata.
type Record struct {
	Kind Kind `json:"kind"`
	// Owner is the layer that currently holds write-ownership.
	Owner Layer `json:"owner"`
	// Validator is the rollup validator the object was delegated to, if any.
	Validator string `json:"validator,omitempty"`
	// Version increases on every successful write.
	Version uint64 `json:"version"`
	Data    []byte `json:"data"`
}

// WriteFunc receives the current object data and returns the new data. Returning an error aborts the write
// and leaves the object untouched.
type WriteFunc func(data []byte) ([]byte, error)

// Store is one layer of the ledger.
type Store interface {
	// Layer reports which layer this store is.
	Layer() Layer

	// Create stores a new object. It fails with ErrDuplicateObject if the address is taken.
	Create(ctx context.Context, addr Address, rec Record) error

	// Read returns the object at addr or ErrObjectNotFound.
	Read(ctx context.Context, addr Address) (Record, error)

	// Write runs fn as a single read-modify-write of the object's data. It fails with ErrNotOwner unless this
	// layer owns the object. Concurrent writers to the same address are serialized.
	Write(ctx context.Context, addr Address, fn WriteFunc) error

	// Transfer moves write-ownership from one layer to another. The object must currently be owned by from.
	// When data is non-nil it replaces the stored data in the same step.
	Transfer(ctx context.Context, addr Address, from, to Layer, validator string, data []byte) error

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, addr Address) error
}
