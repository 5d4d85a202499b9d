package storage

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

var (
	// ErrNotFound is returned when an artifact is not found in the database.
	ErrNotFound = errors.New("not found")

	encMode cbor.EncMode
)

func init() {
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	em, err := encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("invalid cbor encoding options: %v", err))
	}
	encMode = em
}

// Artifact encoding/decoding
func encodeArtifact(a any) ([]byte, error) {
	return encMode.Marshal(a)
}

func decodeArtifact(data []byte, out any) error {
	return cbor.Unmarshal(data, out)
}

// setArtifact encodes and stores the artifact under the prefixed key.
func (s *Storage) setArtifact(prefix, key []byte, artifact any) error {
	data, err := encodeArtifact(artifact)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := wTx.Set(key, data); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}

// getArtifact retrieves and decodes the artifact stored under the prefixed
// key. It returns ErrNotFound if the key does not exist.
func (s *Storage) getArtifact(prefix, key []byte, out any) error {
	rd := prefixeddb.NewPrefixedReader(s.db, prefix)
	data, err := rd.Get(key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	if err := decodeArtifact(data, out); err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}
	return nil
}

// deleteArtifact removes the prefixed key.
func (s *Storage) deleteArtifact(prefix, key []byte) error {
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := wTx.Delete(key); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}

// listArtifacts returns the keys stored under the prefix.
func (s *Storage) listArtifacts(prefix []byte) ([][]byte, error) {
	rd := prefixeddb.NewPrefixedReader(s.db, prefix)
	var keys [][]byte
	if err := rd.Iterate(nil, func(k, _ []byte) bool {
		keys = append(keys, append([]byte(nil), k...))
		return true
	}); err != nil {
		return nil, err
	}
	return keys, nil
}
