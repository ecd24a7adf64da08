package crypto

import (
	"testing"

	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

func TestPlaceholderRangeProof_ProveVerify(t *testing.T) {
	blind, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	commit, err := CommitValue(500, blind)
	if err != nil {
		t.Fatalf("CommitValue: %v", err)
	}

	var rp PlaceholderRangeProof
	proof, err := rp.Prove(commit, 500, blind)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if !rp.Verify(commit, proof) {
		t.Error("Verify should accept a proof Prove just produced")
	}
}

func TestPlaceholderRangeProof_RejectsMalformedProof(t *testing.T) {
	var rp PlaceholderRangeProof
	if rp.Verify(CommitValuePanicFree(t), []byte{0x01, 0x02}) {
		t.Error("Verify should reject a proof of the wrong length")
	}
}

// CommitValuePanicFree is a small test helper producing a throwaway
// commitment for cases where the actual committed value is irrelevant.
func CommitValuePanicFree(t *testing.T) types.Commitment {
	t.Helper()
	blind, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	commit, err := CommitValue(1, blind)
	if err != nil {
		t.Fatalf("CommitValue: %v", err)
	}
	return commit
}
