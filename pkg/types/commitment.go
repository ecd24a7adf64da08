package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CommitmentSize is the length of a compressed Pedersen commitment point.
const CommitmentSize = 33

// Commitment is a Pedersen commitment v*H + k*G: a blinded value that hides
// both the amount and the blinding factor while still supporting homomorphic
// addition/subtraction. pkg/crypto owns the curve arithmetic; this is the
// wire/storage representation a commitment reduces to everywhere else.
type Commitment [CommitmentSize]byte

// IsZero returns true if the commitment is all zeros.
func (c Commitment) IsZero() bool {
	return c == Commitment{}
}

// String returns the hex-encoded commitment.
func (c Commitment) String() string {
	return hex.EncodeToString(c[:])
}

// Bytes returns a copy of the commitment as a byte slice.
func (c Commitment) Bytes() []byte {
	b := make([]byte, CommitmentSize)
	copy(b, c[:])
	return b
}

// MarshalJSON encodes the commitment as a hex string.
func (c Commitment) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a hex string into a commitment.
func (c *Commitment) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*c = Commitment{}
		return nil
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid commitment hex: %w", err)
	}
	if len(decoded) != CommitmentSize {
		return fmt.Errorf("commitment must be %d bytes, got %d", CommitmentSize, len(decoded))
	}
	copy(c[:], decoded)
	return nil
}

// CommitmentFromBytes converts a byte slice to a Commitment.
func CommitmentFromBytes(b []byte) (Commitment, error) {
	if len(b) != CommitmentSize {
		return Commitment{}, fmt.Errorf("commitment must be %d bytes, got %d", CommitmentSize, len(b))
	}
	var c Commitment
	copy(c[:], b)
	return c, nil
}

// CommitmentRef identifies a spendable output by the hash of its
// commitment plus its enclosing block height, replacing the index-based
// outpoints a value-transparent UTXO chain uses — Mimblewimble outputs
// carry no txid:index since cut-through can remove the original transaction
// boundary entirely.
type CommitmentRef struct {
	Commitment Commitment `json:"commitment"`
	Height     uint64     `json:"height"`
}

// String returns a human-readable identifier for the referenced output.
func (r CommitmentRef) String() string {
	return fmt.Sprintf("%s@%d", r.Commitment.String(), r.Height)
}
