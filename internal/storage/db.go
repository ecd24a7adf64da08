// Package storage provides database abstractions.
package storage

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key; the value is not copied,
	// so fn must copy it to keep or modify it.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batch accumulates writes for atomic commit. The write transaction the
// chain store's commit() wraps around a block application is one Batch.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// Batcher is implemented by DBs that can produce an atomic Batch. MemoryDB
// and BadgerDB both implement it; PrefixDB.NewBatch falls back to
// sequential writes when its inner DB does not.
type Batcher interface {
	NewBatch() Batch
}
