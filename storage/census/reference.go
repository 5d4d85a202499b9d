package census

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vocdoni/arbo"
)

// CensusRef is a reference to a census. It holds the Merkle tree, every
// access to the tree goes through treeMu.
type CensusRef struct {
	ID        uuid.UUID
	MaxLevels int
	HashType  string
	LastUsed  time.Time
	tree      *arbo.Tree
	treeMu    sync.Mutex
}

// InsertIfAbsent inserts the key/value pair unless the key is already in the
// tree. It reports whether the key was added.
func (cr *CensusRef) InsertIfAbsent(key, value []byte) (bool, error) {
	cr.treeMu.Lock()
	defer cr.treeMu.Unlock()
	if err := cr.tree.Add(key, value); err != nil {
		if errors.Is(err, arbo.ErrKeyAlreadyExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// InsertBatch safely inserts a batch of key/value pairs into the Merkle tree.
// Keys that could not be added are returned as invalid.
func (cr *CensusRef) InsertBatch(keys, values [][]byte) ([]arbo.Invalid, error) {
	cr.treeMu.Lock()
	defer cr.treeMu.Unlock()
	return cr.tree.AddBatch(keys, values)
}

// Get returns the value stored for key, or ErrKeyNotFound.
func (cr *CensusRef) Get(key []byte) ([]byte, error) {
	cr.treeMu.Lock()
	defer cr.treeMu.Unlock()
	_, value, err := cr.tree.Get(key)
	if err != nil {
		if errors.Is(err, arbo.ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return value, nil
}

// Root safely returns the current Merkle tree root.
func (cr *CensusRef) Root() []byte {
	cr.treeMu.Lock()
	defer cr.treeMu.Unlock()
	root, err := cr.tree.Root()
	if err != nil {
		return nil
	}
	return root
}

// Size safely returns the number of leaves in the Merkle tree.
func (cr *CensusRef) Size() int {
	cr.treeMu.Lock()
	defer cr.treeMu.Unlock()
	size, err := cr.tree.GetNLeafs()
	if err != nil {
		return 0
	}
	return size
}

// GenProof safely generates a Merkle proof for the given leaf key.
// It returns the proof components and an inclusion boolean.
func (cr *CensusRef) GenProof(key []byte) ([]byte, []byte, []byte, bool, error) {
	cr.treeMu.Lock()
	defer cr.treeMu.Unlock()
	return cr.tree.GenProof(key)
}

// VerifyProof verifies a Merkle proof for the given leaf key.
func VerifyProof(key, value, root, siblings []byte) bool {
	valid, err := arbo.CheckProof(defaultHashFunction, key, value, root, siblings)
	if err != nil {
		return false
	}
	return valid
}
