// Package kvdb wraps CometBFT's dbm.DB interface in a minimal Get/Set
// key-value adapter.
package kvdb

import (
	dbm "github.com/cometbft/cometbft-db"
)

// KVAdapter wraps a CometBFT dbm.DB and exposes it through Get and Set.
type KVAdapter struct {
	db dbm.DB
}

// NewKVAdapter creates a new KVAdapter for the given underlying DB.
func NewKVAdapter(db dbm.DB) *KVAdapter {
	return &KVAdapter{db: db}
}

// Get returns the value stored under key, or nil if it is absent.
func (a *KVAdapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}

	// CometBFT DB returns (val, error)
	if v, err := a.db.Get(key); err != nil {
		return nil, err
	} else {
		// v may be nil if key not found; nil means "not present".
		return v, nil
	}
}

// Set stores value under key with a synchronous write.
func (a *KVAdapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}

	// Use SetSync for durable writes at commit time
	if err := a.db.SetSync(key, value); err != nil {
		return err
	}
	return nil
}