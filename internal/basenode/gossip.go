package basenode

import (
	"encoding/json"

	"github.com/Klingon-tech/mimbleforge-node/pkg/block"
	"github.com/libp2p/go-libp2p/core/peer"
)

// BootstrappedFunc reports whether the local node has a usable chain tip
// yet — gossip received before this is true is dropped rather than risk
// judging a well-behaved peer against a chain we can't yet validate
// against (spec.md §4.G item 4).
type BootstrappedFunc func() bool

// GossipBlockHandler adapts internal/p2p.Node.SetBlockHandler's
// func(peer.ID, []byte) shape to Service.HandleGossipNewBlock, decoding
// the full block.Block the p2p layer's BroadcastBlock already gossips
// and forwarding just its header and body.
func (s *Service) GossipBlockHandler(bootstrapped BootstrappedFunc) func(peer.ID, []byte) {
	return func(from peer.ID, data []byte) {
		var b block.Block
		if err := json.Unmarshal(data, &b); err != nil {
			s.reportError(PeerRef(from.String()), ShortBan("malformed block gossip", err))
			return
		}
		s.HandleGossipNewBlock(PeerRef(from.String()), bootstrapped(), NewBlockMessage{
			Header: b.Header,
			Body:   b.Body,
		})
	}
}
