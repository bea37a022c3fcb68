package llmq

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// UnsetHeight is the sentinel height of a null ChainLockSig.
const UnsetHeight int32 = -1

// ChainLockSig is a threshold signature over a specific block hash at a
// specific height. A valid chain lock marks its block as final: competing
// chains that do not contain the locked block must not be accepted past it.
// The value is immutable once constructed.
type ChainLockSig struct {
	Height    int32
	BlockHash Identifier
	Signature []byte
}

// NullChainLockSig returns the "unset" sentinel value.
func NullChainLockSig() ChainLockSig {
	return ChainLockSig{Height: UnsetHeight}
}

// IsNull returns true if the signature is the unset sentinel.
func (c ChainLockSig) IsNull() bool {
	return c.Height == UnsetHeight && c.BlockHash.IsZero()
}

// ID returns the content hash of the chain lock, used for inventory-style
// deduplication of announcements.
func (c ChainLockSig) ID() Identifier {
	bz, err := c.Encode()
	if err != nil {
		// all field types are trivially encodable
		panic(fmt.Sprintf("could not encode chain lock sig: %v", err))
	}
	return HashToID(bz)
}

// Encode serializes the chain lock to its canonical wire representation.
func (c ChainLockSig) Encode() ([]byte, error) {
	return cbor.Marshal(c)
}

// DecodeChainLockSig parses a chain lock from its wire representation.
func DecodeChainLockSig(data []byte) (ChainLockSig, error) {
	var clsig ChainLockSig
	err := cbor.Unmarshal(data, &clsig)
	if err != nil {
		return ChainLockSig{}, fmt.Errorf("could not decode chain lock sig: %w", err)
	}
	return clsig, nil
}

func (c ChainLockSig) String() string {
	return fmt.Sprintf("ChainLockSig(height=%d, hash=%s)", c.Height, c.BlockHash)
}
