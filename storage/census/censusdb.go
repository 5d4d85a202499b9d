// Package census implements the eligibility registry. Every voting owns a
// census, a Merkle tree whose leaves are the keys of the voters allowed to
// cast a ballot. The census of a voting shares the voting UUID.
package census

import (
	"bytes"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vocdoni/arbo"
	"github.com/vocdoni/vocdoni-decide/log"
	"github.com/vocdoni/vocdoni-decide/types"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

const (
	censusDBprefix          = "cs_"
	censusDBreferencePrefix = "cr_"
)

var (
	// ErrCensusNotFound is returned when a census is not found in the database.
	ErrCensusNotFound = fmt.Errorf("census not found in the local database")
	// ErrCensusAlreadyExists is returned by New() if the census already exists.
	ErrCensusAlreadyExists = fmt.Errorf("census already exists in the local database")
	// ErrKeyNotFound is returned when a key is not found in the Merkle tree.
	ErrKeyNotFound = fmt.Errorf("key not found")

	defaultHashFunction = arbo.HashFunctionMiMC_BLS12_377
)

// CensusDB is a safe and persistent database of census trees. Loaded trees
// are cached in memory.
type CensusDB struct {
	mu           sync.RWMutex
	db           db.Database
	loadedCensus map[uuid.UUID]*CensusRef
}

// NewCensusDB creates a new CensusDB object.
func NewCensusDB(db db.Database) *CensusDB {
	return &CensusDB{
		db:           db,
		loadedCensus: make(map[uuid.UUID]*CensusRef),
	}
}

// New creates a new census and adds it to the database.
// It returns ErrCensusAlreadyExists if a census with the given ID is already present.
func (c *CensusDB) New(censusID uuid.UUID) (*CensusRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newLocked(censusID)
}

// newLocked creates the census. The caller must hold c.mu.
func (c *CensusDB) newLocked(censusID uuid.UUID) (*CensusRef, error) {
	if _, exists := c.loadedCensus[censusID]; exists {
		return nil, ErrCensusAlreadyExists
	}
	if _, err := c.db.Get(referenceKey(censusID)); err == nil {
		return nil, ErrCensusAlreadyExists
	} else if !errors.Is(err, db.ErrKeyNotFound) {
		return nil, err
	}

	ref := &CensusRef{
		ID:        censusID,
		MaxLevels: types.CensusTreeMaxLevels,
		HashType:  string(defaultHashFunction.Type()),
		LastUsed:  time.Now(),
	}
	tree, err := arbo.NewTree(arbo.Config{
		Database:     prefixeddb.NewPrefixedDatabase(c.db, censusPrefix(censusID)),
		MaxLevels:    types.CensusTreeMaxLevels,
		HashFunction: defaultHashFunction,
	})
	if err != nil {
		return nil, err
	}
	ref.tree = tree
	if err := c.writeReference(ref); err != nil {
		return nil, err
	}
	c.loadedCensus[censusID] = ref
	log.Debugw("census created", "id", censusID.String())
	return ref, nil
}

// writeReference writes a census reference to the database.
func (c *CensusDB) writeReference(ref *CensusRef) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ref); err != nil {
		return err
	}
	wtx := c.db.WriteTx()
	defer wtx.Discard()
	if err := wtx.Set(referenceKey(ref.ID), buf.Bytes()); err != nil {
		return err
	}
	return wtx.Commit()
}

// HashLen returns the length of the hash function output in bytes.
func (c *CensusDB) HashLen() int {
	return defaultHashFunction.Len()
}

// Exists returns true if the censusID exists in the local database.
func (c *CensusDB) Exists(censusID uuid.UUID) bool {
	c.mu.RLock()
	_, exists := c.loadedCensus[censusID]
	c.mu.RUnlock()
	if exists {
		return true
	}
	_, err := c.db.Get(referenceKey(censusID))
	return err == nil
}

// Load returns a census from memory or from the persistent KV database.
func (c *CensusDB) Load(censusID uuid.UUID) (*CensusRef, error) {
	c.mu.RLock()
	if ref, exists := c.loadedCensus[censusID]; exists {
		c.mu.RUnlock()
		return ref, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(censusID)
}

// LoadOrNew returns the census with the given ID, creating it if it does not
// exist yet.
func (c *CensusDB) LoadOrNew(censusID uuid.UUID) (*CensusRef, error) {
	ref, err := c.Load(censusID)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, ErrCensusNotFound) {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ref, err := c.loadLocked(censusID); err == nil {
		return ref, nil
	}
	return c.newLocked(censusID)
}

// loadLocked loads a census reference from memory or persistent DB. The
// caller must hold c.mu.
func (c *CensusDB) loadLocked(censusID uuid.UUID) (*CensusRef, error) {
	if ref, exists := c.loadedCensus[censusID]; exists {
		return ref, nil
	}
	b, err := c.db.Get(referenceKey(censusID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCensusNotFound, censusID)
		}
		return nil, err
	}

	var ref CensusRef
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&ref); err != nil {
		return nil, err
	}
	tree, err := arbo.NewTree(arbo.Config{
		Database:     prefixeddb.NewPrefixedDatabase(c.db, censusPrefix(censusID)),
		MaxLevels:    ref.MaxLevels,
		HashFunction: defaultHashFunction,
	})
	if err != nil {
		return nil, err
	}
	ref.tree = tree
	ref.LastUsed = time.Now()
	if err := c.writeReference(&ref); err != nil {
		return nil, err
	}
	c.loadedCensus[censusID] = &ref
	return &ref, nil
}

// Del removes a census from the database and memory. The tree nodes are
// removed in the background.
func (c *CensusDB) Del(censusID uuid.UUID) error {
	wtx := c.db.WriteTx()
	if err := wtx.Delete(referenceKey(censusID)); err != nil {
		wtx.Discard()
		return err
	}
	if err := wtx.Commit(); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.loadedCensus, censusID)
	c.mu.Unlock()

	go func(id uuid.UUID) {
		if _, err := deleteCensusTreeFromDatabase(c.db, censusPrefix(id)); err != nil {
			log.Warnw("error deleting census tree", "id", id.String(), "err", err)
		}
	}(censusID)

	return nil
}

// deleteCensusTreeFromDatabase removes all keys belonging to a census tree from the database.
func deleteCensusTreeFromDatabase(kv db.Database, prefix []byte) (int, error) {
	database := prefixeddb.NewPrefixedDatabase(kv, prefix)
	wtx := database.WriteTx()
	count := 0
	err := database.Iterate(nil, func(k, _ []byte) bool {
		if err := wtx.Delete(bytes.Clone(k)); err != nil {
			log.Warnw("could not remove key from database", "key", hex.EncodeToString(k))
		} else {
			count++
		}
		return true
	})
	if err != nil {
		wtx.Discard()
		return 0, err
	}
	return count, wtx.Commit()
}

// censusPrefix returns the prefix used for the census tree in the database.
func censusPrefix(censusID uuid.UUID) []byte {
	return append([]byte(censusDBprefix), censusID[:]...)
}

func referenceKey(censusID uuid.UUID) []byte {
	return append([]byte(censusDBreferencePrefix), censusID[:]...)
}
