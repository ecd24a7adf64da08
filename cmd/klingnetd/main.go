// Mimbleforge full node daemon.
//
// Usage:
//
//	mimbleforged [--mine --coinbase=...]   Run node
//	mimbleforged --help                    Show help
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Klingon-tech/mimbleforge-node/config"
	"github.com/Klingon-tech/mimbleforge-node/internal/basenode"
	"github.com/Klingon-tech/mimbleforge-node/internal/chainstore"
	"github.com/Klingon-tech/mimbleforge-node/internal/consensus"
	klog "github.com/Klingon-tech/mimbleforge-node/internal/log"
	"github.com/Klingon-tech/mimbleforge-node/internal/mempool"
	"github.com/Klingon-tech/mimbleforge-node/internal/orphanpool"
	"github.com/Klingon-tech/mimbleforge-node/internal/p2p"
	"github.com/Klingon-tech/mimbleforge-node/internal/rpcproto"
	"github.com/Klingon-tech/mimbleforge-node/internal/storage"
	"github.com/Klingon-tech/mimbleforge-node/internal/syncstate"
	"github.com/Klingon-tech/mimbleforge-node/pkg/block"
	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/tx"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
	"github.com/libp2p/go-libp2p/core/peer"
)

// maxMempoolBytes is passed to mempool.New as its maxSize, which the pool
// counts in transactions, not bytes; the pool has no byte-size bound. It
// reflects no consensus rule.
const maxMempoolBytes = 64 << 20

func main() {
	// ── 1. Load config (defaults → file → flags) ────────────────────────
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ───────────────────────────────────────────────────
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Error: init logger: %v\n", err)
		os.Exit(1)
	}
	logger := klog.WithComponent("main")

	genesis := config.GenesisFor(cfg.Network)
	logger.Info().Str("chain_id", genesis.ChainID).Str("network", string(cfg.Network)).Msg("Mimbleforge node starting")

	// ── 3. Open chain storage ────────────────────────────────────────────
	chainDB, err := storage.NewBadger(cfg.ChainstoreDir())
	if err != nil {
		logger.Fatal().Err(err).Msg("open chainstore")
	}
	defer chainDB.Close()

	store := chainstore.New(chainDB)
	chain, err := chainstore.Open(store)
	if err != nil {
		logger.Fatal().Err(err).Msg("open chain")
	}

	if err := bootstrapGenesis(chain, genesis); err != nil {
		logger.Fatal().Err(err).Msg("bootstrap genesis")
	}
	logger.Info().Uint64("height", chain.Height()).Msg("chain ready")

	// ── 4. Derive validation parameters from genesis ────────────────────
	blockParams := block.Params{
		MaxInputs:          config.MaxTxInputs,
		MaxOutputs:         config.MaxTxOutputs,
		MaxKernels:         config.MaxTxOutputs, // roughly one kernel per included transaction
		MaxScriptSize:      genesis.Consensus.MaxScriptSize,
		MaxCovenantSize:    genesis.Consensus.MaxCovenantSize,
		CoinbaseLockHeight: genesis.Consensus.CoinbaseLockHeight,
	}
	txParams := tx.Params{
		MaxInputs:          config.MaxTxInputs,
		MaxOutputs:         config.MaxTxOutputs,
		MaxScriptSize:      genesis.Consensus.MaxScriptSize,
		MaxCovenantSize:    genesis.Consensus.MaxCovenantSize,
		CoinbaseLockHeight: genesis.Consensus.CoinbaseLockHeight,
	}
	contextualParams := consensus.Params{
		MinHeaderVersion:    genesis.Consensus.MinHeaderVersion,
		MaxHeaderVersion:    genesis.Consensus.MaxHeaderVersion,
		MaxBlockSize:        genesis.Consensus.MaxBlockSize,
		FutureTimeLimitSecs: genesis.Consensus.FutureTimeLimitSecs,
		TimestampWindow:     genesis.Consensus.TimestampMedianWindow,
	}
	retargetRandomX := consensus.RetargetParams{
		TargetBlockTimeSecs: genesis.Consensus.PowRandomX.TargetBlockTimeSecs,
		WindowSize:          genesis.Consensus.PowRandomX.WindowSize,
		MinDifficulty:       consensus.Difficulty(genesis.Consensus.PowRandomX.InitialDifficulty),
		MaxAdjustFactor:     genesis.Consensus.PowRandomX.MaxAdjustFactor,
	}
	retargetSha3x := consensus.RetargetParams{
		TargetBlockTimeSecs: genesis.Consensus.PowSha3x.TargetBlockTimeSecs,
		WindowSize:          genesis.Consensus.PowSha3x.WindowSize,
		MinDifficulty:       consensus.Difficulty(genesis.Consensus.PowSha3x.InitialDifficulty),
		MaxAdjustFactor:     genesis.Consensus.PowSha3x.MaxAdjustFactor,
	}

	pool := mempool.New(chain, txParams, chain.Height, maxMempoolBytes)

	handlers := &nodeHandlers{
		store:            store,
		chain:            chain,
		pool:             pool,
		orphans:          orphanpool.New(orphanpool.DefaultExpiry, orphanpool.DefaultMaxOrphans),
		genesis:          genesis,
		blockParams:      blockParams,
		contextualParams: contextualParams,
		rv:               crypto.PlaceholderRangeProof{},
		retargetRandomX:  retargetRandomX,
		retargetSha3x:    retargetSha3x,
		logger:           klog.WithComponent("handlers"),
	}

	// ── 5. Open peer/ban storage and construct the P2P node ─────────────
	peerDB, err := storage.NewBadger(cfg.PeerstoreDir())
	if err != nil {
		logger.Fatal().Err(err).Msg("open peerstore")
	}
	defer peerDB.Close()

	if cfg.P2P.ClearBans {
		cleared, err := clearBans(peerDB)
		if err != nil {
			logger.Warn().Err(err).Msg("clear bans failed")
		} else {
			logger.Info().Int("count", cleared).Msg("cleared all peer bans")
		}
	}

	if cfg.RebuildIndexes {
		// This chain store keeps no derived index beyond what ApplyBlock
		// writes transactionally as part of the same commit — there is
		// nothing cached to rebuild. Acknowledge the flag rather than
		// silently ignore it.
		logger.Info().Msg("rebuild-indexes requested, but chainstore has no derived indexes to rebuild")
	}

	node := p2p.New(p2p.Config{
		ListenAddr: cfg.P2P.ListenAddr,
		Port:       cfg.P2P.Port,
		Seeds:      cfg.P2P.Seeds,
		MaxPeers:   cfg.P2P.MaxPeers,
		NoDiscover: cfg.P2P.NoDiscover,
		DB:         peerDB,
		DHTServer:  cfg.P2P.DHTServer,
		NetworkID:  genesis.ChainID,
		DataDir:    cfg.ChainDataDir(),
	})

	genesisHash, err := genesis.Hash()
	if err != nil {
		logger.Fatal().Err(err).Msg("hash genesis")
	}
	node.SetGenesisHash(genesisHash)
	node.SetHeightFn(chain.Height)

	bootstrapped := func() bool { return chain.Tip() != nil }

	if err := node.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start p2p node")
	}
	defer node.Stop()
	logger.Info().Str("peer_id", node.ID().String()).Msg("p2p node listening")

	// ── 6. Wire the base-node request/response service ──────────────────
	var service *basenode.Service
	if cfg.RPC.Enabled {
		rpcCfg := rpcproto.Config{
			MaxFrameBytes:  uint32(cfg.RPC.MaxFrameBytes),
			MaxSessions:    cfg.RPC.MaxSessions,
			RequestTimeout: time.Duration(cfg.RPC.RequestTimeoutSecs) * time.Second,
			MinVersion:     1,
			Version:        1,
		}
		peerIDs := func() []peer.ID {
			list := node.PeerList()
			ids := make([]peer.ID, len(list))
			for i, p := range list {
				ids[i] = p.ID
			}
			return ids
		}
		transport := basenode.NewP2PTransport(node.Host(), rpcCfg, peerIDs)
		banFunc := func(p basenode.PeerRef, dur basenode.BanDuration, reason string) {
			id, err := peer.Decode(string(p))
			if err != nil {
				return
			}
			penalty := p2p.PenaltyInvalidTx
			if dur == basenode.BanLong {
				penalty = p2p.PenaltyInvalidBlock
			}
			if node.BanManager != nil {
				node.BanManager.RecordOffense(id, penalty, reason)
			}
		}
		service = basenode.NewService(transport, handlers, banFunc, bootstrapped, rpcCfg.RequestTimeout)
		transport.Attach(service)
		node.SetBlockHandler(service.GossipBlockHandler(basenode.BootstrappedFunc(bootstrapped)))
		logger.Info().Msg("base-node request service attached")
	}

	node.SetTxHandler(func(from peer.ID, data []byte) {
		var t tx.Transaction
		if err := json.Unmarshal(data, &t); err != nil {
			logger.Debug().Err(err).Str("peer", from.String()).Msg("malformed gossiped transaction")
			return
		}
		if _, err := pool.Add(&t); err != nil {
			logger.Debug().Err(err).Str("peer", from.String()).Msg("rejected gossiped transaction")
		}
	})

	// ── 7. Sync state machine and block sync protocol ────────────────────
	machine := syncstate.NewMachine()
	syncer := p2p.NewSyncer(node)
	syncer.RegisterHeightHandler(func() (uint64, string) {
		tip := chain.Tip()
		hash := types.Hash{}
		if tip != nil {
			hash = tip.Hash()
		}
		return chain.Height(), hash.String()
	})
	// This node retains outputs and kernels by commitment/hash and headers
	// by height, but keeps no height-indexed block body once a block has
	// been applied — there is nothing a historical range request could
	// read back out. Register no handler: a peer asking us for blocks
	// simply gets no response rather than a fabricated one (see
	// DESIGN.md).

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runSyncLoop(ctx, machine, node, syncer, chain, handlers, klog.WithComponent("sync"))

	// ── 8. Mining ──────────────────────────────────────────────────────
	if cfg.Mining.Enabled {
		go runMiningLoop(ctx, cfg, genesis, chain, store, pool, node, handlers, retargetRandomX, retargetSha3x, klog.WithComponent("miner"))
		logger.Info().Str("algo", cfg.Mining.Algo).Msg("mining enabled")
	}

	// ── 9. Startup banner ─────────────────────────────────────────────────
	tip := chain.Tip()
	tipHash := types.Hash{}
	if tip != nil {
		tipHash = tip.Hash()
	}
	logger.Info().
		Uint64("height", chain.Height()).
		Str("tip", tipHash.String()[:16]+"...").
		Bool("mining", cfg.Mining.Enabled).
		Msg("node started successfully")

	// ── 10. Wait for shutdown ─────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	cancel()
	logger.Info().Msg("goodbye!")
}

// clearBans deletes every persisted ban record from db, for the
// --clear-bans startup path. BanStore exposes per-record Get/Put/Delete
// but no bulk clear, so this walks ForEach collecting ids first since
// deleting while iterating a badger snapshot is unsafe.
func clearBans(db storage.DB) (int, error) {
	store := p2p.NewBanStore(db)
	var ids []string
	if err := store.ForEach(func(rec *p2p.BanRecord) error {
		ids = append(ids, rec.ID)
		return nil
	}); err != nil {
		return 0, err
	}
	cleared := 0
	for _, id := range ids {
		pid, err := peer.Decode(id)
		if err != nil {
			continue
		}
		if err := store.Delete(pid); err != nil {
			continue
		}
		cleared++
	}
	return cleared, nil
}
