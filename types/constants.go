package types

const (
	// CensusTreeMaxLevels is the maximum number of levels in the census merkle tree.
	CensusTreeMaxLevels = 160
	// CensusKeyMaxLen is the maximum length of a census key in bytes.
	CensusKeyMaxLen = CensusTreeMaxLevels / 8
	// DefaultKeyBits is the default size in bits of the ElGamal modulus.
	DefaultKeyBits = 256
	// MaxOptions is the maximum number of options of a question.
	MaxOptions = 1024
)
