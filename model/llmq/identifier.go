package llmq

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Identifier represents a 32-byte unique identifier for an entity: a block,
// a transaction, a masternode, or the content of a network payload.
type Identifier [32]byte

// ZeroID is the lowest value in the 32-byte ID space.
var ZeroID = Identifier{}

// HashToID hashes arbitrary bytes into an Identifier.
func HashToID(data []byte) Identifier {
	return Identifier(sha3.Sum256(data))
}

// HexToID converts a hex string to an Identifier. It returns an error if the
// input is not valid hex or has the wrong length.
func HexToID(hexString string) (Identifier, error) {
	var id Identifier
	bz, err := hex.DecodeString(hexString)
	if err != nil {
		return id, fmt.Errorf("could not decode identifier hex: %w", err)
	}
	if len(bz) != len(id) {
		return id, fmt.Errorf("malformed identifier: expected %d bytes, got %d", len(id), len(bz))
	}
	copy(id[:], bz)
	return id, nil
}

func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

func (id Identifier) IsZero() bool {
	return id == ZeroID
}

func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identifier) UnmarshalText(text []byte) error {
	var err error
	*id, err = HexToID(string(text))
	return err
}
