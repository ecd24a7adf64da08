// Package basenode implements spec.md §4.G: request/response correlation
// over an encrypted transport, gossip ingress for new blocks, and ban
// routing on protocol violations. It is transport-agnostic — internal/p2p
// supplies gossip ingress and internal/rpcproto supplies the framed
// request/response substream, wired together by the Transport interface
// below — matching the teacher's layering where internal/p2p only carries
// bytes and a higher service interprets them.
package basenode

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/mimbleforge-node/pkg/block"
)

// PeerRef identifies a remote peer well enough to route a reply or a ban
// back to it, without committing this package to a specific transport's
// identity type (libp2p peer.ID, internal/peermgr.NodeID, ...).
type PeerRef string

// RequestKind tags the payload carried by a NodeCommsRequest/Response —
// spec.md §6's "tagged union identified by a small integer tag" rendered
// as a string enum for JSON readability.
type RequestKind string

const (
	ReqChainMetadata   RequestKind = "chain_metadata"
	ReqGetHeaders      RequestKind = "get_headers"
	ReqGetHeaderByHash RequestKind = "get_header_by_hash"
	ReqSubmitBlock     RequestKind = "submit_block"
)

// NodeCommsRequest is the inner request payload of a
// BaseNodeServiceRequest (spec.md §6).
type NodeCommsRequest struct {
	Kind    RequestKind     `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NodeCommsResponse is the inner response payload of a
// BaseNodeServiceResponse.
type NodeCommsResponse struct {
	Kind    RequestKind     `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// BaseNodeServiceRequest is the wire envelope for an outbound request:
// request_key correlates the eventual response back to the waiting
// caller (spec.md §4.G).
type BaseNodeServiceRequest struct {
	RequestKey uint64           `json:"request_key"`
	Request    NodeCommsRequest `json:"request"`
}

// BaseNodeServiceResponse is the wire envelope for a reply. IsSynced lets
// the caller judge whether the response is authoritative (spec.md §4.G
// item 2).
type BaseNodeServiceResponse struct {
	RequestKey uint64             `json:"request_key"`
	Response   *NodeCommsResponse `json:"response,omitempty"`
	Error      string             `json:"error,omitempty"`
	IsSynced   bool               `json:"is_synced"`
}

// NewBlockMessage is the compact block-announcement gossip payload
// (spec.md §6).
type NewBlockMessage struct {
	Header *block.Header `json:"header"`
	Body   block.Body    `json:"body"`
}

// BanDuration is the two-tier ban severity spec.md §7 assigns to every
// peer-protocol violation.
type BanDuration int

const (
	BanShort BanDuration = iota
	BanLong
)

func (d BanDuration) String() string {
	if d == BanLong {
		return "long"
	}
	return "short"
}

// BanError marks an error as a peer-protocol violation carrying a ban
// reason and duration tier, per spec.md §7's propagation policy:
// "anything that carries a ban reason is a peer-protocol violation;
// anything without one is a local or transient error." Handlers return a
// plain error for local/transient failures and a *BanError for anything
// that should cost the remote peer a ban.
type BanError struct {
	Reason   string
	Duration BanDuration
	Cause    error
}

func (e *BanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Cause)
	}
	return e.Reason
}

func (e *BanError) Unwrap() error { return e.Cause }

// ShortBan wraps cause as a short-duration ban violation.
func ShortBan(reason string, cause error) error {
	return &BanError{Reason: reason, Duration: BanShort, Cause: cause}
}

// LongBan wraps cause as a long-duration ban violation.
func LongBan(reason string, cause error) error {
	return &BanError{Reason: reason, Duration: BanLong, Cause: cause}
}

// InboundHandlers is the local logic the Service dispatches inbound
// traffic to — spec.md's InboundNodeCommsHandlers. Implementations
// return a *BanError to have the Service ban the offending peer.
type InboundHandlers interface {
	// HandleRequest answers a remote peer's NodeCommsRequest.
	HandleRequest(from PeerRef, req NodeCommsRequest) (*NodeCommsResponse, error)
	// HandleNewBlock processes a gossiped block announcement.
	HandleNewBlock(from PeerRef, msg NewBlockMessage) error
	// SubmitBlock validates and applies a locally-produced or
	// sync-delivered block (spec.md §4.G item 6).
	SubmitBlock(b *block.Block) error
}

// Transport sends requests/responses to a specific peer, or picks a
// random connected peer when none is specified. P2PTransport implements
// it over libp2p and rpcproto.
type Transport interface {
	SendRequest(to PeerRef, env BaseNodeServiceRequest) error
	SendResponse(to PeerRef, env BaseNodeServiceResponse) error
	RandomPeer() (PeerRef, bool)
}
