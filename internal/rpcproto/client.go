package rpcproto

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// ClientConfig bounds an outbound call the same way Config bounds a
// server: frame size, the version this side advertises, and the minimum
// version it will accept back.
type ClientConfig struct {
	MaxFrameBytes uint32
	Version       uint32
	MinVersion    uint32
	Timeout       time.Duration
}

// Call opens one substream on protoID, performs the version handshake,
// sends req, and decodes a single response frame into resp. It is the
// client half of Server.serve's single-request-per-stream shape — the
// teacher's sync.go and heightreq.go open a stream per call the same way,
// just without the handshake or frame-size enforcement this adds.
func Call(ctx context.Context, h host.Host, p peer.ID, protoID protocol.ID, cfg ClientConfig, req interface{}, resp interface{}) error {
	stream, err := h.NewStream(ctx, p, protoID)
	if err != nil {
		return fmt.Errorf("rpcproto: open stream: %w", err)
	}
	defer stream.Close()

	deadline := cfg.Timeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	_ = stream.SetDeadline(time.Now().Add(deadline))

	if err := WriteFrame(stream, mustJSON(HandshakeVersion{Version: cfg.Version}), cfg.MaxFrameBytes); err != nil {
		return fmt.Errorf("rpcproto: send handshake: %w", err)
	}
	hsFrame, err := ReadFrame(stream, cfg.MaxFrameBytes)
	if err != nil {
		return fmt.Errorf("rpcproto: read handshake: %w", err)
	}
	var hs HandshakeVersion
	if err := json.Unmarshal(hsFrame, &hs); err != nil || hs.Version < cfg.MinVersion {
		return ErrProtocolNotSupported
	}

	reqBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("rpcproto: encode request: %w", err)
	}
	if err := WriteFrame(stream, reqBytes, cfg.MaxFrameBytes); err != nil {
		return fmt.Errorf("rpcproto: send request: %w", err)
	}

	respFrame, err := ReadFrame(stream, cfg.MaxFrameBytes)
	if err != nil {
		return fmt.Errorf("rpcproto: read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(respFrame, &env); err == nil && env.Error != "" {
		return fmt.Errorf("rpcproto: remote error: %s", env.Error)
	}
	if resp != nil {
		if err := json.Unmarshal(respFrame, resp); err != nil {
			return fmt.Errorf("rpcproto: decode response: %w", err)
		}
	}
	return nil
}

// OpenStream performs the handshake and request-frame send on protoID,
// then hands the raw stream back so the caller can read a sequence of
// additional frames — the shape SyncKernelsRequest/SyncUtxosRequest need
// (spec.md §6): one response "envelope" per item until the peer closes
// the write side.
func OpenStream(ctx context.Context, h host.Host, p peer.ID, protoID protocol.ID, cfg ClientConfig, req interface{}) (network.Stream, error) {
	stream, err := h.NewStream(ctx, p, protoID)
	if err != nil {
		return nil, fmt.Errorf("rpcproto: open stream: %w", err)
	}

	if err := WriteFrame(stream, mustJSON(HandshakeVersion{Version: cfg.Version}), cfg.MaxFrameBytes); err != nil {
		stream.Close()
		return nil, fmt.Errorf("rpcproto: send handshake: %w", err)
	}
	hsFrame, err := ReadFrame(stream, cfg.MaxFrameBytes)
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("rpcproto: read handshake: %w", err)
	}
	var hs HandshakeVersion
	if err := json.Unmarshal(hsFrame, &hs); err != nil || hs.Version < cfg.MinVersion {
		stream.Close()
		return nil, ErrProtocolNotSupported
	}

	reqBytes, err := json.Marshal(req)
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("rpcproto: encode request: %w", err)
	}
	if err := WriteFrame(stream, reqBytes, cfg.MaxFrameBytes); err != nil {
		stream.Close()
		return nil, fmt.Errorf("rpcproto: send request: %w", err)
	}
	return stream, nil
}

// ReadStreamItem reads the next streamed response frame into item.
// io.EOF (unwrapped) signals a clean end of stream; any other error means
// the peer closed mid-stream and the caller must treat the response as
// incomplete (spec.md §5's IncorrectResponse).
func ReadStreamItem(stream network.Stream, maxSize uint32, item interface{}) error {
	frame, err := ReadFrame(stream, maxSize)
	if err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("rpcproto: read stream item: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(frame, &env); err == nil && env.Error != "" {
		return fmt.Errorf("rpcproto: remote error: %s", env.Error)
	}
	return json.Unmarshal(frame, item)
}
