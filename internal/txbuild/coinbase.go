package txbuild

import (
	"errors"

	"github.com/Klingon-tech/mimbleforge-node/config"
	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/tx"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// Coinbase builder errors, mirroring the teacher/original's
// CoinbaseBuildError variants (spec.md §4.F).
var (
	ErrMissingBlockHeight = errors.New("txbuild: block height not set")
	ErrMissingSpendKey    = errors.New("txbuild: spend key not set")
	ErrMissingNonce       = errors.New("txbuild: private nonce not set")
)

// UnblindedOutput is the wallet-side record of a just-built output: the
// plaintext value and blinding factor the builder used, kept alongside
// the output it produced so the caller (a miner's wallet) can later
// prove ownership or spend it. Mirrors the teacher/original's companion
// return value from CoinbaseBuilder.build.
type UnblindedOutput struct {
	Value           uint64
	SpendKey        *crypto.PrivateKey
	SenderOffsetKey *crypto.PrivateKey
	Output          tx.Output
}

// CoinbaseBuilder is a fluent, stateful builder for the single
// output/single kernel transaction that pays a block's reward plus fees
// to a miner. Spec.md §4.F: the sender-offset private key is derived
// deterministically from the spend key so coinbase outputs remain
// recoverable from the spend key alone — no separate offset key is ever
// supplied by the caller.
type CoinbaseBuilder struct {
	height   uint64
	haveH    bool
	fees     uint64
	spendKey *crypto.PrivateKey
	nonce    *crypto.PrivateKey
	covenant types.Covenant
	extra    []byte
	script   types.Script
}

// NewCoinbaseBuilder starts a fresh coinbase builder.
func NewCoinbaseBuilder() *CoinbaseBuilder {
	return &CoinbaseBuilder{script: types.Nop()}
}

// WithBlockHeight sets the block height the coinbase is paid at. Used to
// compute both the block reward and the maturity lock height.
func (b *CoinbaseBuilder) WithBlockHeight(height uint64) *CoinbaseBuilder {
	b.height = height
	b.haveH = true
	return b
}

// WithFees sets the sum of fees over and above the block reward.
func (b *CoinbaseBuilder) WithFees(fees uint64) *CoinbaseBuilder {
	b.fees = fees
	return b
}

// WithSpendKey provides the private blinding/spend key for the coinbase
// output and kernel excess.
func (b *CoinbaseBuilder) WithSpendKey(k *crypto.PrivateKey) *CoinbaseBuilder {
	b.spendKey = k
	return b
}

// WithNonce provides a private nonce. Build fails with ErrMissingNonce when
// none is set; the kernel signature is produced by signHash and does not
// use it.
func (b *CoinbaseBuilder) WithNonce(nonce *crypto.PrivateKey) *CoinbaseBuilder {
	b.nonce = nonce
	return b
}

// WithCovenant attaches a covenant restricting future spenders.
func (b *CoinbaseBuilder) WithCovenant(c types.Covenant) *CoinbaseBuilder {
	b.covenant = c
	return b
}

// WithExtra attaches miner-chosen extra bytes, stored in the output's
// features (e.g. a tag identifying the mining pool).
func (b *CoinbaseBuilder) WithExtra(extra []byte) *CoinbaseBuilder {
	b.extra = extra
	return b
}

// WithScript overrides the coinbase output's spending script. Defaults
// to the trivial "anyone can spend with a valid signature" Nop script.
func (b *CoinbaseBuilder) WithScript(s types.Script) *CoinbaseBuilder {
	b.script = s
	return b
}

// Build constructs the coinbase transaction using the block reward read
// from the emission schedule at the configured height.
func (b *CoinbaseBuilder) Build(constants config.ConsensusConstants, schedule config.EmissionSchedule) (*tx.Transaction, *UnblindedOutput, error) {
	if !b.haveH {
		return nil, nil, ErrMissingBlockHeight
	}
	reward := schedule.BlockReward(b.height)
	return b.BuildWithReward(constants, reward)
}

// BuildWithReward is Build with an explicit reward value, used by tests
// and by callers computing the reward out of band.
func (b *CoinbaseBuilder) BuildWithReward(constants config.ConsensusConstants, blockReward uint64) (*tx.Transaction, *UnblindedOutput, error) {
	if !b.haveH {
		return nil, nil, ErrMissingBlockHeight
	}
	if b.spendKey == nil {
		return nil, nil, ErrMissingSpendKey
	}
	if b.nonce == nil {
		return nil, nil, ErrMissingNonce
	}

	value := blockReward + b.fees

	senderOffsetKey, err := DeriveSenderOffsetKey(b.spendKey)
	if err != nil {
		return nil, nil, err
	}

	commitment, err := crypto.CommitValue(value, b.spendKey)
	if err != nil {
		return nil, nil, err
	}

	features := types.OutputFeatures{
		Version:        1,
		OutputType:     types.OutputCoinbase,
		Maturity:       b.height + constants.CoinbaseLockHeight,
		RangeProofType: types.RangeProofBulletProofPlus,
		Extra:          b.extra,
	}

	rangeProof, err := crypto.PlaceholderRangeProof{}.Prove(commitment, value, b.spendKey)
	if err != nil {
		return nil, nil, err
	}

	out := tx.Output{
		Features:        features,
		Commitment:      commitment,
		RangeProof:      rangeProof,
		Script:          b.script,
		SenderOffsetKey: mustPublicKey(senderOffsetKey),
		Covenant:        b.covenant,
	}
	metaSig, err := signHash(senderOffsetKey, out.MetadataSigningBytes())
	if err != nil {
		return nil, nil, err
	}
	out.MetadataSig = metaSig

	// Coinbase excess is a commitment to zero under the spend key: the
	// kernel offset is zero for a single-party coinbase, so the excess
	// carries the entire blinding factor.
	excess, err := crypto.CommitValue(0, b.spendKey)
	if err != nil {
		return nil, nil, err
	}
	kernel := tx.Kernel{
		Features:   types.KernelCoinbase,
		Fee:        0,
		LockHeight: 0,
		Excess:     excess,
	}
	sig, err := signHash(b.spendKey, kernel.ChallengeBytes())
	if err != nil {
		return nil, nil, err
	}
	kernel.Signature = sig

	transaction := &tx.Transaction{
		Version: 1,
		Outputs: []tx.Output{out},
		Kernels: []tx.Kernel{kernel},
	}

	unblinded := &UnblindedOutput{
		Value:           value,
		SpendKey:        b.spendKey,
		SenderOffsetKey: senderOffsetKey,
		Output:          out,
	}
	return transaction, unblinded, nil
}

// DeriveSenderOffsetKey derives a coinbase output's sender-offset private
// key deterministically from its spend key, via the
// "sender_offset_private_key" domain-separated hash (spec.md §9's Open
// Question: the label is a consensus constant, not an implementation
// detail — any deviation breaks wallet recovery).
func DeriveSenderOffsetKey(spendKey *crypto.PrivateKey) (*crypto.PrivateKey, error) {
	derived := crypto.DeriveSenderOffsetKey(spendKey.Serialize(), 0)
	return crypto.PrivateKeyFromBytes(derived[:])
}

// signHash hashes msg and produces a Schnorr signature over it with key,
// the same hash-then-sign convention pkg/tx's validator checks against
// (crypto.Hash followed by crypto.VerifySignature).
func signHash(key *crypto.PrivateKey, msg []byte) (types.Signature, error) {
	h := crypto.Hash(msg)
	sigBytes, err := key.Sign(h[:])
	if err != nil {
		return types.Signature{}, err
	}
	return types.SignatureFromBytes(sigBytes)
}

func mustPublicKey(k *crypto.PrivateKey) types.PublicKey {
	pk, err := types.PublicKeyFromBytes(k.PublicKey())
	if err != nil {
		// k.PublicKey() always returns a valid compressed point.
		panic(err)
	}
	return pk
}
