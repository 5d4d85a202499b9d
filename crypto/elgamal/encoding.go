package elgamal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/vocdoni/arbo"
)

// Serialize returns a fixed size byte representation of the ciphertext, the
// little-endian encoding of A followed by B, each padded to the byte length of
// p. It is used to derive ballot receipts.
func (z *Ciphertext) Serialize(publicKey *PublicKey) []byte {
	size := (publicKey.P.BitLen() + 7) / 8
	var buf bytes.Buffer
	for _, bi := range []*big.Int{z.A, z.B} {
		buf.Write(arbo.BigIntToBytes(size, bi))
	}
	return buf.Bytes()
}

// Deserialize reconstructs a Ciphertext from the output of Serialize.
func (z *Ciphertext) Deserialize(publicKey *PublicKey, data []byte) error {
	size := (publicKey.P.BitLen() + 7) / 8
	if len(data) != 2*size {
		return fmt.Errorf("invalid input length: got %d bytes, expected %d bytes", len(data), 2*size)
	}
	z.A = arbo.BytesToBigInt(data[:size])
	z.B = arbo.BytesToBigInt(data[size:])
	return nil
}

// jsonBigInt accepts both JSON numbers and decimal strings, since clients
// written in languages without arbitrary precision integers send strings.
type jsonBigInt big.Int

func (b *jsonBigInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if _, ok := (*big.Int)(b).SetString(string(data), 10); !ok {
		return fmt.Errorf("%w: invalid integer %q", ErrCrypto, data)
	}
	return nil
}

// UnmarshalJSON deserializes the Ciphertext from JSON.
func (z *Ciphertext) UnmarshalJSON(data []byte) error {
	var tmp struct {
		A *jsonBigInt `json:"a"`
		B *jsonBigInt `json:"b"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return fmt.Errorf("failed to unmarshal ciphertext container: %w", err)
	}
	if tmp.A == nil || tmp.B == nil {
		return fmt.Errorf("%w: ciphertext requires both a and b", ErrCrypto)
	}
	z.A = (*big.Int)(tmp.A)
	z.B = (*big.Int)(tmp.B)
	return nil
}

// UnmarshalJSON deserializes the PublicKey from JSON.
func (pk *PublicKey) UnmarshalJSON(data []byte) error {
	var tmp struct {
		P *jsonBigInt `json:"p"`
		G *jsonBigInt `json:"g"`
		Y *jsonBigInt `json:"y"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return fmt.Errorf("failed to unmarshal public key: %w", err)
	}
	if tmp.P == nil || tmp.G == nil || tmp.Y == nil {
		return fmt.Errorf("%w: public key requires p, g and y", ErrCrypto)
	}
	pk.P = (*big.Int)(tmp.P)
	pk.G = (*big.Int)(tmp.G)
	pk.Y = (*big.Int)(tmp.Y)
	return nil
}
