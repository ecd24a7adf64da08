package types

import "testing"

func TestCommitment_IsZero(t *testing.T) {
	var zero Commitment
	if !zero.IsZero() {
		t.Error("zero-value Commitment should be zero")
	}
	nonZero := Commitment{0x09}
	if nonZero.IsZero() {
		t.Error("non-zero Commitment should not be zero")
	}
}

func TestCommitment_JSONRoundtrip(t *testing.T) {
	var c Commitment
	for i := range c {
		c[i] = byte(i * 3)
	}

	data, err := c.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Commitment
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got != c {
		t.Errorf("roundtrip mismatch: got %s, want %s", got.String(), c.String())
	}
}

func TestCommitmentFromBytes_WrongSize(t *testing.T) {
	if _, err := CommitmentFromBytes([]byte{0x01}); err == nil {
		t.Error("expected error for wrong-size byte slice")
	}
}

func TestCommitmentRef_String(t *testing.T) {
	var c Commitment
	c[0] = 0xab
	ref := CommitmentRef{Commitment: c, Height: 42}
	s := ref.String()
	if s == "" {
		t.Error("CommitmentRef.String() should not be empty")
	}
}
