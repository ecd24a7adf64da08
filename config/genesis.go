package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
)

// =============================================================================
// Protocol Rules (immutable, defined in genesis)
// These MUST match across all nodes or consensus breaks.
// =============================================================================

// Denomination constants.
// 1 coin = 10^12 base units. All on-chain values are in base units.
const (
	Decimals  = 12
	Coin      = 1_000_000_000_000 // 10^12 base units per coin
	MilliCoin = 1_000_000_000     // 10^9
	MicroCoin = 1_000_000         // 10^6
)

// Structural limits shared by pkg/tx.Params and internal/mempool's Policy.
const (
	MaxTxInputs   = 2500   // Max inputs per transaction
	MaxTxOutputs  = 2500   // Max outputs per transaction
	MaxScriptData = 65_536 // 64 KB max script bytes per output/input
)

// MaxBlockSize bounds the wire size of a gossiped block, independent of
// genesis's consensus MaxBlockSize (which governs body validation). It
// sizes internal/p2p's pubsub message limit, so it needs to exist before
// any genesis is loaded.
const MaxBlockSize = 2_000_000

// PowRules bounds a single proof-of-work algorithm's initial difficulty
// and retargeting window — a Mimblewimble chain running dual PoW tracks
// one of these per algorithm, each independent of the other.
type PowRules struct {
	InitialDifficulty   uint64 `json:"initial_difficulty"`
	TargetBlockTimeSecs uint64 `json:"target_block_time_secs"`
	WindowSize          int    `json:"window_size"`
	MaxAdjustFactor     uint64 `json:"max_adjust_factor"`
}

// EmissionRules parametrizes the block reward curve: a reward that halves
// every HalvingInterval blocks down to a constant TailEmission floor, the
// same two-phase shape the teacher's genesis.go modeled with
// BlockReward/HalvingInterval/MaxSupply before this rewrite split the
// curve out into its own type.
type EmissionRules struct {
	InitialReward   uint64 `json:"initial_reward"`   // Base units paid at height 1.
	HalvingInterval uint64 `json:"halving_interval"` // Blocks between halvings (0 = constant reward).
	TailEmission    uint64 `json:"tail_emission"`    // Floor reward once halving would go below it.
	MaxSupply       uint64 `json:"max_supply"`       // Informational cap (0 = unbounded).
}

// EmissionSchedule computes the coinbase block reward at a given height,
// mirroring the teacher/original's `EmissionSchedule::block_reward`
// interface that `CoinbaseBuilder.build` calls.
type EmissionSchedule struct {
	rules EmissionRules
}

// NewEmissionSchedule wraps a set of emission rules for reward lookups.
func NewEmissionSchedule(rules EmissionRules) EmissionSchedule {
	return EmissionSchedule{rules: rules}
}

// BlockReward returns the coinbase reward owed at the given height.
func (e EmissionSchedule) BlockReward(height uint64) uint64 {
	r := e.rules
	if r.HalvingInterval == 0 {
		return r.InitialReward
	}
	halvings := height / r.HalvingInterval
	if halvings >= 64 {
		return r.TailEmission
	}
	reward := r.InitialReward >> halvings
	if reward < r.TailEmission {
		return r.TailEmission
	}
	return reward
}

// ConsensusConstants holds every network-wide rule nodes must agree on:
// structural transaction/block limits, the coinbase lock, timestamp
// tolerances, dual-PoW retargeting parameters, and the emission curve.
type ConsensusConstants struct {
	CoinbaseLockHeight    uint64 `json:"coinbase_lock_height"`
	MinFeeRate            uint64 `json:"min_fee_rate"`
	MaxBlockSize          int    `json:"max_block_size"`
	MaxScriptSize         int    `json:"max_script_size"`
	MaxCovenantSize       int    `json:"max_covenant_size"`
	FutureTimeLimitSecs   uint64 `json:"future_time_limit_secs"`
	TimestampMedianWindow int    `json:"timestamp_median_window"`
	MinHeaderVersion      uint32 `json:"min_header_version"`
	MaxHeaderVersion      uint32 `json:"max_header_version"`

	PowRandomX PowRules `json:"pow_randomx"`
	PowSha3x   PowRules `json:"pow_sha3x"`

	Emission EmissionRules `json:"emission"`
}

// EmissionSchedule builds the reward-lookup helper for these constants.
func (c ConsensusConstants) EmissionSchedule() EmissionSchedule {
	return NewEmissionSchedule(c.Emission)
}

// ForkSchedule defines block heights at which protocol upgrades activate.
// A zero value means the fork is not scheduled.
type ForkSchedule struct {
	// Future forks are added here as fields. Example:
	// ScriptEngineHeight uint64 `json:"script_engine_height,omitempty"`
}

// IsActive returns true if a fork at forkHeight has activated at currentHeight.
// Returns false if forkHeight is 0 (not scheduled).
func (f *ForkSchedule) IsActive(forkHeight, currentHeight uint64) bool {
	return forkHeight > 0 && currentHeight >= forkHeight
}

// Genesis holds the genesis block configuration and protocol rules. This
// is immutable after chain launch - changes require a hard fork. Unlike a
// value-transparent chain, there is no pre-mine allocation map: supply
// exists only through coinbase rewards, so genesis carries no balances.
type Genesis struct {
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`
	Symbol    string `json:"symbol,omitempty"`

	Timestamp uint64 `json:"timestamp"`
	ExtraData string `json:"extra_data,omitempty"`

	Consensus ConsensusConstants `json:"consensus"`
	Forks     ForkSchedule       `json:"forks,omitempty"`
}

// =============================================================================
// Pre-defined genesis configurations
// =============================================================================

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:   "mimbleforge-mainnet-1",
		ChainName: "Mimbleforge Mainnet",
		Symbol:    "MWF",
		Timestamp: 1770734103, // 2026-02-10
		ExtraData: "Mimbleforge Genesis",
		Consensus: ConsensusConstants{
			CoinbaseLockHeight:    1000,
			MinFeeRate:            10_000,
			MaxBlockSize:          2_000_000,
			MaxScriptSize:         4096,
			MaxCovenantSize:       16,
			FutureTimeLimitSecs:   600,
			TimestampMedianWindow: 11,
			MinHeaderVersion:      1,
			MaxHeaderVersion:      3,
			PowRandomX: PowRules{
				InitialDifficulty:   1_000_000,
				TargetBlockTimeSecs: 120,
				WindowSize:          90,
				MaxAdjustFactor:     4,
			},
			PowSha3x: PowRules{
				InitialDifficulty:   1_000_000,
				TargetBlockTimeSecs: 120,
				WindowSize:          90,
				MaxAdjustFactor:     4,
			},
			Emission: EmissionRules{
				InitialReward:   50 * Coin,
				HalvingInterval: 1_050_000,
				TailEmission:    1 * MilliCoin,
				MaxSupply:       0,
			},
		},
	}
}

// TestnetGenesis returns the testnet genesis configuration.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = "mimbleforge-testnet-1"
	g.ChainName = "Mimbleforge Testnet"
	g.ExtraData = "Mimbleforge Testnet Genesis"

	// More relaxed rules for testnet: cheap fees, quick coinbase maturity,
	// low starting difficulty so a single CPU can find blocks.
	g.Consensus.CoinbaseLockHeight = 10
	g.Consensus.MinFeeRate = 10
	g.Consensus.PowRandomX.InitialDifficulty = 1000
	g.Consensus.PowSha3x.InitialDifficulty = 1000

	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	default:
		return MainnetGenesis()
	}
}

// =============================================================================
// Genesis file I/O
// =============================================================================

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}

	return nil
}

// Validate checks that the genesis configuration is valid.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}

	c := g.Consensus
	if c.MaxBlockSize <= 0 {
		return fmt.Errorf("max_block_size must be positive")
	}
	if c.TimestampMedianWindow <= 0 {
		return fmt.Errorf("timestamp_median_window must be positive")
	}
	if c.MinHeaderVersion == 0 || c.MinHeaderVersion > c.MaxHeaderVersion {
		return fmt.Errorf("invalid header version range [%d, %d]", c.MinHeaderVersion, c.MaxHeaderVersion)
	}
	for name, pow := range map[string]PowRules{"pow_randomx": c.PowRandomX, "pow_sha3x": c.PowSha3x} {
		if pow.InitialDifficulty == 0 {
			return fmt.Errorf("%s requires a positive initial_difficulty", name)
		}
		if pow.TargetBlockTimeSecs == 0 {
			return fmt.Errorf("%s requires a positive target_block_time_secs", name)
		}
		if pow.WindowSize <= 0 {
			return fmt.Errorf("%s requires a positive window_size", name)
		}
		if pow.MaxAdjustFactor == 0 {
			return fmt.Errorf("%s requires a positive max_adjust_factor", name)
		}
	}
	if c.Emission.InitialReward == 0 {
		return fmt.Errorf("emission.initial_reward must be positive")
	}

	return nil
}

// Hash returns a BLAKE3 hash of the genesis configuration. Used to
// identify the chain and detect genesis mismatches.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}
