package crypto

import (
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// valueGeneratorLabel domain-separates the derivation of H, the second
// generator point used for Pedersen commitments, from G (the curve's
// standard base point). H must have no known discrete log relative to G;
// deriving it from a fixed label's hash-to-curve point satisfies that
// without a trusted setup.
const valueGeneratorLabel = "mimbleforge/pedersen/value-generator/v1"

var valueGenerator = deriveGeneratorPoint(valueGeneratorLabel)

// deriveGeneratorPoint derives a generator point deterministically from a
// label by hashing to a candidate x-coordinate and incrementing until a
// point on the curve is found (try-and-increment).
func deriveGeneratorPoint(label string) *secp256k1.JacobianPoint {
	for ctr := uint32(0); ; ctr++ {
		var ctrBuf [4]byte
		ctrBuf[0] = byte(ctr)
		ctrBuf[1] = byte(ctr >> 8)
		ctrBuf[2] = byte(ctr >> 16)
		ctrBuf[3] = byte(ctr >> 24)
		h := DomainHash(label, ctrBuf[:])

		var fx secp256k1.FieldVal
		if overflow := fx.SetByteSlice(h[:]); overflow {
			continue
		}
		var pt secp256k1.JacobianPoint
		if !secp256k1.DecompressY(&fx, false, &pt.Y) {
			continue
		}
		pt.X = fx
		pt.Z.SetInt(1)
		pt.ToAffine()
		return &pt
	}
}

// CommitValue computes a Pedersen commitment value*H + blinding*G, hiding
// both the transacted amount and the blinding factor while still
// supporting homomorphic addition across inputs, outputs, and the fee.
func CommitValue(value uint64, blinding *PrivateKey) (types.Commitment, error) {
	if blinding == nil {
		return types.Commitment{}, fmt.Errorf("commit: blinding factor is nil")
	}

	var valueScalar secp256k1.ModNScalar
	var valueBytes [8]byte
	binary.BigEndian.PutUint64(valueBytes[:], value)
	valueScalar.SetByteSlice(valueBytes[:])

	var vH, kG, sum secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&valueScalar, valueGenerator, &vH)

	blindScalar := blinding.scalar()
	secp256k1.ScalarBaseMultNonConst(blindScalar, &kG)

	secp256k1.AddNonConst(&vH, &kG, &sum)
	sum.ToAffine()

	pub := secp256k1.NewPublicKey(&sum.X, &sum.Y)
	c, err := types.CommitmentFromBytes(pub.SerializeCompressed())
	if err != nil {
		return types.Commitment{}, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

// SumCommitments homomorphically adds a set of commitments, returning the
// commitment to the sum of their hidden values (with blinding factors
// summed the same way). Used to validate that a transaction's outputs,
// less its inputs and fee, commit to zero.
func SumCommitments(commitments []types.Commitment, subtract []types.Commitment) (types.Commitment, error) {
	var acc secp256k1.JacobianPoint
	acc.X.SetInt(0)
	acc.Y.SetInt(0)
	acc.Z.SetInt(0)

	addPoint := func(c types.Commitment, negate bool) error {
		pub, err := secp256k1.ParsePubKey(c.Bytes())
		if err != nil {
			return fmt.Errorf("parse commitment: %w", err)
		}
		var pt secp256k1.JacobianPoint
		pub.AsJacobian(&pt)
		if negate {
			pt.Y.Negate(1)
			pt.Y.Normalize()
		}
		var next secp256k1.JacobianPoint
		secp256k1.AddNonConst(&acc, &pt, &next)
		acc = next
		return nil
	}

	for _, c := range commitments {
		if err := addPoint(c, false); err != nil {
			return types.Commitment{}, err
		}
	}
	for _, c := range subtract {
		if err := addPoint(c, true); err != nil {
			return types.Commitment{}, err
		}
	}

	acc.ToAffine()
	pub := secp256k1.NewPublicKey(&acc.X, &acc.Y)
	return types.CommitmentFromBytes(pub.SerializeCompressed())
}

// PublicKeyFromScalarBytes interprets a 32-byte scalar as a private key and
// returns scalar*G as a Commitment-shaped point. Used to turn the kernel
// offset and script offset — both raw blinding-factor scalars — into
// curve points so they can be folded into commitment-sum balance checks
// with SumCommitments.
func PublicKeyFromScalarBytes(scalar []byte) (types.Commitment, error) {
	pk, err := PrivateKeyFromBytes(scalar)
	if err != nil {
		return types.Commitment{}, fmt.Errorf("public key from scalar: %w", err)
	}
	return types.CommitmentFromBytes(pk.PublicKey())
}

// CommitmentFromFee returns the public commitment to a transparent fee
// value: fee*H with a zero blinding factor, matching the convention used
// when folding the fee into the kernel excess balance check.
func CommitmentFromFee(fee uint64) types.Commitment {
	var feeScalar secp256k1.ModNScalar
	var feeBytes [8]byte
	binary.BigEndian.PutUint64(feeBytes[:], fee)
	feeScalar.SetByteSlice(feeBytes[:])

	var feeH secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&feeScalar, valueGenerator, &feeH)
	feeH.ToAffine()

	pub := secp256k1.NewPublicKey(&feeH.X, &feeH.Y)
	c, _ := types.CommitmentFromBytes(pub.SerializeCompressed())
	return c
}
