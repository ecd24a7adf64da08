package basenode

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/Klingon-tech/mimbleforge-node/internal/rpcproto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// RequestProtocol is the libp2p protocol id rpcproto streams are opened
// on for BaseNodeServiceRequest/Response round trips (spec.md §4.G over
// §4.I's substream framing).
const RequestProtocol = protocol.ID("/mimbleforge/basenode/1.0.0")

// P2PTransport implements Transport over a libp2p host. Its inbound
// handler uses rpcproto's framing directly (rather than rpcproto.Server)
// so it retains the stream's RemotePeer for ban routing and writes its
// reply on that same stream — one request, one response, one substream,
// per spec.md §4.I. Outbound requests go through rpcproto.Call.
type P2PTransport struct {
	host    host.Host
	cfg     rpcproto.Config
	clients rpcproto.ClientConfig
	peers   func() []peer.ID
	service *Service
}

// NewP2PTransport prepares a Transport bound to h. Call Attach once the
// owning Service exists to install the inbound stream handler.
func NewP2PTransport(h host.Host, cfg rpcproto.Config, peers func() []peer.ID) *P2PTransport {
	return &P2PTransport{
		host: h,
		cfg:  cfg,
		clients: rpcproto.ClientConfig{
			MaxFrameBytes: cfg.MaxFrameBytes,
			Version:       cfg.Version,
			MinVersion:    cfg.MinVersion,
			Timeout:       cfg.RequestTimeout,
		},
		peers: peers,
	}
}

// Attach wires this transport to svc and installs the inbound stream
// handler. The Service and Transport are mutually referential — the
// handler needs svc.Dispatch, svc.SendRequest needs this Transport — so
// construction happens in two steps instead of a single constructor.
func (t *P2PTransport) Attach(svc *Service) {
	t.service = svc
	t.host.SetStreamHandler(RequestProtocol, t.serve)
}

func (t *P2PTransport) serve(stream network.Stream) {
	defer stream.Close()

	deadline := t.cfg.RequestTimeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	_ = stream.SetDeadline(time.Now().Add(deadline))

	hsFrame, err := rpcproto.ReadFrame(stream, t.cfg.MaxFrameBytes)
	if err != nil {
		return
	}
	var hs rpcproto.HandshakeVersion
	if err := json.Unmarshal(hsFrame, &hs); err != nil || hs.Version < t.cfg.MinVersion {
		_ = rpcproto.WriteFrame(stream, []byte(`{"error":"`+rpcproto.ErrProtocolNotSupported.Error()+`"}`), t.cfg.MaxFrameBytes)
		return
	}
	if err := rpcproto.WriteFrame(stream, mustMarshal(rpcproto.HandshakeVersion{Version: t.cfg.Version}), t.cfg.MaxFrameBytes); err != nil {
		return
	}

	reqFrame, err := rpcproto.ReadFrame(stream, t.cfg.MaxFrameBytes)
	if err != nil {
		return
	}
	var env BaseNodeServiceRequest
	if err := json.Unmarshal(reqFrame, &env); err != nil {
		return
	}

	from := PeerRef(stream.Conn().RemotePeer().String())
	resp, err := t.service.Dispatch(from, env.Request)
	out := BaseNodeServiceResponse{RequestKey: env.RequestKey, IsSynced: t.service.IsSynced()}
	if err != nil {
		out.Error = err.Error()
	} else {
		out.Response = resp
	}
	_ = rpcproto.WriteFrame(stream, mustMarshal(out), t.cfg.MaxFrameBytes)
}

// SendRequest opens a fresh substream to `to`, performs the full
// request/response round trip, and feeds the decoded reply back into the
// Service's waiting-request table via HandleInboundResponse.
func (t *P2PTransport) SendRequest(to PeerRef, env BaseNodeServiceRequest) error {
	pid, err := peer.Decode(string(to))
	if err != nil {
		return fmt.Errorf("basenode: decode peer ref %q: %w", to, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout())
	defer cancel()

	var resp BaseNodeServiceResponse
	if err := rpcproto.Call(ctx, t.host, pid, RequestProtocol, t.clients, env, &resp); err != nil {
		return err
	}
	if t.service != nil {
		t.service.HandleInboundResponse(resp)
	}
	return nil
}

func (t *P2PTransport) timeout() time.Duration {
	if t.cfg.RequestTimeout > 0 {
		return t.cfg.RequestTimeout
	}
	return 30 * time.Second
}

// SendResponse is unused by P2PTransport: inbound replies are written
// directly on the request's own stream inside serve.
func (t *P2PTransport) SendResponse(to PeerRef, env BaseNodeServiceResponse) error {
	return nil
}

// RandomPeer returns a random connected peer's id as a PeerRef.
func (t *P2PTransport) RandomPeer() (PeerRef, bool) {
	ids := t.peers()
	if len(ids) == 0 {
		return "", false
	}
	return PeerRef(ids[rand.Intn(len(ids))].String()), true
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("basenode: marshal: %v", err))
	}
	return data
}
