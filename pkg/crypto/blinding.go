package crypto

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// privateKeyFromScalar wraps a raw scalar as a PrivateKey without a
// bytes round trip, for arithmetic that produces a scalar directly.
func privateKeyFromScalar(s *secp256k1.ModNScalar) *PrivateKey {
	return &PrivateKey{key: &secp256k1.PrivateKey{Key: *s}}
}

// SumPrivateKeys adds a set of blinding-factor scalars, returning the
// private key for their sum. Building a transaction's kernel offset or
// script offset means combining every participant's individual blinding
// factor this way before publishing the aggregate.
func SumPrivateKeys(keys ...*PrivateKey) *PrivateKey {
	var sum secp256k1.ModNScalar
	for _, k := range keys {
		sum.Add(k.scalar())
	}
	return privateKeyFromScalar(&sum)
}

// NegatePrivateKey returns the additive inverse of a blinding factor,
// used when a participant's contribution must be subtracted rather than
// added when assembling an aggregate offset.
func NegatePrivateKey(k *PrivateKey) *PrivateKey {
	s := *k.scalar()
	s.Negate()
	return privateKeyFromScalar(&s)
}
