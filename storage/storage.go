// storage package contains all the artifacts that are stored in the database.
// It includes a prefixed key-value store that allows to store the different
// types of artifacts in the database. The following prefixes are used:
//   - 'vt/' for votings
//   - 'b/' for ballots, keyed by voting ID and submission sequence
//   - 'bc/' for the ballot counter of each voting
//   - 'bv/' for the index of voters that already cast a ballot
//   - 'ek/' for the encryption keys held by the local authority
//
// Census trees are stored by the census package in the same database.
package storage

import (
	"sync"

	"github.com/vocdoni/vocdoni-decide/log"
	"github.com/vocdoni/vocdoni-decide/storage/census"
	"go.vocdoni.io/dvote/db"
)

var (
	// Prefixes for the keys in the database.
	votingPrefix        = []byte("vt/")
	ballotPrefix        = []byte("b/")
	ballotCounterPrefix = []byte("bc/")
	ballotVoterPrefix   = []byte("bv/")
	encryptionKeyPrefix = []byte("ek/")
)

// Storage wraps the database and provides typed access to the artifacts.
type Storage struct {
	db       db.Database
	censusDB *census.CensusDB

	// globalLock serializes read-modify-write operations on votings.
	globalLock sync.Mutex
	// ballotLock serializes ballot appends and reads with the voting
	// updates. When both are held, globalLock is taken first.
	ballotLock sync.Mutex
}

// New creates a new Storage instance.
func New(db db.Database) *Storage {
	return &Storage{
		db:       db,
		censusDB: census.NewCensusDB(db),
	}
}

// CensusDB returns the census database sharing the storage database.
func (s *Storage) CensusDB() *census.CensusDB {
	return s.censusDB
}

// Close closes the storage.
func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		log.Warnw("error closing database", "error", err.Error())
	}
}
