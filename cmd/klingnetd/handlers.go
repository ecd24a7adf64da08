package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Klingon-tech/mimbleforge-node/config"
	"github.com/Klingon-tech/mimbleforge-node/internal/basenode"
	"github.com/Klingon-tech/mimbleforge-node/internal/chainstore"
	"github.com/Klingon-tech/mimbleforge-node/internal/consensus"
	"github.com/Klingon-tech/mimbleforge-node/internal/mempool"
	"github.com/Klingon-tech/mimbleforge-node/internal/orphanpool"
	"github.com/Klingon-tech/mimbleforge-node/pkg/block"
	"github.com/Klingon-tech/mimbleforge-node/pkg/crypto"
	"github.com/Klingon-tech/mimbleforge-node/pkg/tx"
	"github.com/Klingon-tech/mimbleforge-node/pkg/types"
	"github.com/rs/zerolog"
)

// maxHeadersPerRequest bounds a get_headers response so a malicious peer
// can't make us build an unbounded reply.
const maxHeadersPerRequest = 2000

// nodeHandlers implements basenode.InboundHandlers over this node's chain
// state: it answers peer requests, validates and applies gossiped or
// locally-produced blocks, and prunes the mempool once a block lands.
type nodeHandlers struct {
	store   *chainstore.Store
	chain   *chainstore.Chain
	pool    *mempool.Pool
	orphans *orphanpool.Pool

	genesis *config.Genesis

	blockParams      block.Params
	contextualParams consensus.Params
	rv               crypto.RangeVerifier

	retargetRandomX consensus.RetargetParams
	retargetSha3x   consensus.RetargetParams

	logger zerolog.Logger
}

func (h *nodeHandlers) HandleRequest(from basenode.PeerRef, req basenode.NodeCommsRequest) (*basenode.NodeCommsResponse, error) {
	switch req.Kind {
	case basenode.ReqChainMetadata:
		md, err := h.chain.Metadata()
		if err != nil {
			return nil, fmt.Errorf("chain metadata: %w", err)
		}
		payload, err := json.Marshal(md)
		if err != nil {
			return nil, err
		}
		return &basenode.NodeCommsResponse{Kind: req.Kind, Payload: payload}, nil

	case basenode.ReqGetHeaders:
		var q struct {
			FromHeight uint64 `json:"from_height"`
			Count      uint32 `json:"count"`
		}
		if err := json.Unmarshal(req.Payload, &q); err != nil {
			return nil, basenode.ShortBan("malformed get_headers request", err)
		}
		if q.Count == 0 || q.Count > maxHeadersPerRequest {
			q.Count = maxHeadersPerRequest
		}
		headers := make([]*block.Header, 0, q.Count)
		for i := uint64(0); i < uint64(q.Count); i++ {
			hdr, err := h.store.HeaderAtHeight(q.FromHeight + i)
			if err != nil {
				break
			}
			headers = append(headers, hdr)
		}
		payload, err := json.Marshal(headers)
		if err != nil {
			return nil, err
		}
		return &basenode.NodeCommsResponse{Kind: req.Kind, Payload: payload}, nil

	case basenode.ReqGetHeaderByHash:
		var q struct {
			Hash types.Hash `json:"hash"`
		}
		if err := json.Unmarshal(req.Payload, &q); err != nil {
			return nil, basenode.ShortBan("malformed get_header_by_hash request", err)
		}
		hdr, err := h.store.HeaderByHash(q.Hash)
		if err != nil {
			return nil, fmt.Errorf("header by hash: %w", err)
		}
		payload, err := json.Marshal(hdr)
		if err != nil {
			return nil, err
		}
		return &basenode.NodeCommsResponse{Kind: req.Kind, Payload: payload}, nil

	case basenode.ReqSubmitBlock:
		var b block.Block
		if err := json.Unmarshal(req.Payload, &b); err != nil {
			return nil, basenode.ShortBan("malformed submit_block request", err)
		}
		if err := h.applyBlock(&b, true); err != nil {
			return nil, err
		}
		return &basenode.NodeCommsResponse{Kind: req.Kind}, nil

	default:
		return nil, fmt.Errorf("nodehandlers: unknown request kind %q", req.Kind)
	}
}

func (h *nodeHandlers) HandleNewBlock(from basenode.PeerRef, msg basenode.NewBlockMessage) error {
	return h.applyBlock(&block.Block{Header: msg.Header, Body: msg.Body}, true)
}

func (h *nodeHandlers) SubmitBlock(b *block.Block) error {
	return h.applyBlock(b, false)
}

// applyBlock runs a candidate block through structural validation,
// dual-PoW retarget verification, and contextual validation, then commits
// it to the chain and prunes the mempool of anything it made obsolete.
// banOnInvalid controls whether a validation failure is reported as a
// peer-protocol violation (gossip/request path) or a plain error (local
// submission, where there is no peer to blame).
func (h *nodeHandlers) applyBlock(b *block.Block, banOnInvalid bool) error {
	if b.Header == nil {
		return violation(banOnInvalid, "nil header", block.ErrNilHeader)
	}

	tip := h.chain.Tip()
	if tip != nil && b.Header.Hash() == tip.Hash() {
		return fmt.Errorf("nodehandlers: block already applied")
	}

	reward := h.genesis.Consensus.EmissionSchedule().BlockReward(b.Header.Height)
	if err := b.Validate(h.blockParams, h.rv, reward, b.Header.Height); err != nil {
		return violation(banOnInvalid, "block failed structural validation", err)
	}

	prevHeight := uint64(0)
	if b.Header.Height > 0 {
		prevHeight = b.Header.Height - 1
	}

	retarget := h.retargetRandomX
	if b.Header.Pow.Algo == types.PowAlgoSha3x {
		retarget = h.retargetSha3x
	}
	if b.Header.Height > 0 {
		expected, err := consensus.NextDifficultyFor(h.store, prevHeight, b.Header.Pow.Algo, retarget)
		if err != nil {
			return fmt.Errorf("nodehandlers: compute expected difficulty: %w", err)
		}
		achieved, err := consensus.DifficultyFromPow(b.Header.Pow)
		if err != nil {
			return violation(banOnInvalid, "undecodable proof-of-work data", err)
		}
		if achieved != expected {
			return violation(banOnInvalid, "block does not meet the retargeted difficulty", consensus.ErrPowTargetMismatch)
		}
	}

	windowTimestamps := consensus.TimestampWindow(h.store, prevHeight, h.contextualParams.TimestampWindow)
	if err := consensus.ValidateContextual(b, tip, windowTimestamps, h.chain, uint64(time.Now().Unix()), h.contextualParams); err != nil {
		if errors.Is(err, consensus.ErrOrphanBlock) {
			// prev_hash matches nothing we've ever stored. This could be
			// a chain-lag race as much as a forged header, so it's
			// buffered for a later retry instead of costing the sender a
			// ban (spec.md's OrphanBlock failure class).
			h.orphans.Add(b)
			h.logger.Debug().
				Uint64("height", b.Header.Height).
				Str("prev_hash", b.Header.PrevHash.String()).
				Msg("buffered orphan block")
			return fmt.Errorf("nodehandlers: orphan block buffered, parent not yet known: %w", err)
		}
		return violation(banOnInvalid, "block failed contextual validation", err)
	}

	achievedDifficulty, err := consensus.DifficultyFromPow(b.Header.Pow)
	if err != nil {
		return violation(banOnInvalid, "undecodable proof-of-work data", err)
	}
	if err := h.chain.ApplyBlock(b, uint64(achievedDifficulty)); err != nil {
		if errors.Is(err, chainstore.ErrAddBlockLocked) {
			// Another ApplyBlock is in flight; spec.md treats this as
			// "already in progress", not a validation failure.
			return err
		}
		return fmt.Errorf("nodehandlers: apply block: %w", err)
	}

	h.pool.RemoveIncluded(b.Body.Kernels, inputCommitments(b.Body.Inputs))

	h.logger.Info().
		Uint64("height", b.Header.Height).
		Int("kernels", len(b.Body.Kernels)).
		Str("algo", b.Header.Pow.Algo.String()).
		Msg("block applied")

	h.resolveOrphans(b.Header.Hash())

	return nil
}

// resolveOrphans retries every buffered block whose prev_hash is now
// known, recursively: accepting one orphan may unblock another that was
// chained off it.
func (h *nodeHandlers) resolveOrphans(parentHash types.Hash) {
	for _, child := range h.orphans.Children(parentHash) {
		if err := h.applyBlock(child, true); err != nil {
			h.logger.Debug().Err(err).Str("hash", child.Header.Hash().String()).Msg("buffered orphan failed on retry")
		}
	}
}

func violation(ban bool, reason string, cause error) error {
	if ban {
		return basenode.LongBan(reason, cause)
	}
	return fmt.Errorf("%s: %w", reason, cause)
}

func inputCommitments(inputs []tx.Input) []types.Commitment {
	out := make([]types.Commitment, len(inputs))
	for i := range inputs {
		out[i] = inputs[i].Commitment
	}
	return out
}
