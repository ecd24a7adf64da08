package rpcproto

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	klog "github.com/Klingon-tech/mimbleforge-node/internal/log"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/rs/zerolog"
)

// HandshakeVersion is exchanged as the first frame of every substream,
// before any method-specific payload. A mismatch against MinVersion closes
// the stream with ErrProtocolNotSupported per spec.md §4.I.
type HandshakeVersion struct {
	Version uint32 `json:"version"`
}

// Config bounds one rpcproto Server: the max single-frame size, the
// number of concurrent inbound sessions allowed across all registered
// protocols, and the deadline applied to each request/response round.
type Config struct {
	MaxFrameBytes  uint32
	MaxSessions    int
	RequestTimeout time.Duration
	MinVersion     uint32
	Version        uint32
}

// Handler processes one decoded request frame and returns the response
// payload to frame back, or an error to close the stream without a reply.
type Handler func(req json.RawMessage) (resp interface{}, err error)

// Server registers method handlers keyed by libp2p protocol id and
// enforces the session cap and per-request deadline around every one of
// them.
type Server struct {
	cfg  Config
	host host.Host

	mu       sync.Mutex
	sessions int

	logger zerolog.Logger
}

// NewServer wires a Server to a libp2p host. cfg.MaxSessions <= 0 disables
// the session cap (unlimited).
func NewServer(h host.Host, cfg Config) *Server {
	return &Server{cfg: cfg, host: h, logger: klog.WithComponent("rpcproto")}
}

// Register installs handler as the responder for every stream opened on
// protoID. The handshake version check, session accounting, frame size
// enforcement, and request deadline are all applied uniformly regardless
// of which handler runs.
func (s *Server) Register(protoID protocol.ID, handler Handler) {
	s.host.SetStreamHandler(protoID, func(stream network.Stream) {
		defer stream.Close()
		s.serve(stream, handler)
	})
}

// StreamHandler processes a decoded request frame and emits zero or more
// response items via send, for protocols whose response is a stream
// rather than a single frame (spec.md §6's SyncKernelsRequest/
// SyncUtxosRequest). Returning an error after items have already been
// sent aborts the stream; the client sees a short read and must treat it
// as an incomplete response (spec.md §5).
type StreamHandler func(req json.RawMessage, send func(item interface{}) error) error

// RegisterStream is Register's streaming counterpart: after the version
// handshake and request frame, handler may write any number of frames
// before the stream closes. Each send() call resets the per-request
// deadline, so a slow-but-alive producer (e.g. walking a large kernel
// range) isn't killed by the first item's deadline alone.
func (s *Server) RegisterStream(protoID protocol.ID, handler StreamHandler) {
	s.host.SetStreamHandler(protoID, func(stream network.Stream) {
		defer stream.Close()
		if !s.acquireSession() {
			writeErrorFrame(stream, s.cfg.MaxFrameBytes, ErrNoSessionsAvailable)
			return
		}
		defer s.releaseSession()

		deadline := s.cfg.RequestTimeout
		if deadline <= 0 {
			deadline = 30 * time.Second
		}
		_ = stream.SetDeadline(time.Now().Add(deadline))

		hsFrame, err := ReadFrame(stream, s.cfg.MaxFrameBytes)
		if err != nil {
			return
		}
		var hs HandshakeVersion
		if err := json.Unmarshal(hsFrame, &hs); err != nil || hs.Version < s.cfg.MinVersion {
			writeErrorFrame(stream, s.cfg.MaxFrameBytes, ErrProtocolNotSupported)
			return
		}
		if err := WriteFrame(stream, mustJSON(HandshakeVersion{Version: s.cfg.Version}), s.cfg.MaxFrameBytes); err != nil {
			return
		}

		reqFrame, err := ReadFrame(stream, s.cfg.MaxFrameBytes)
		if err != nil {
			return
		}

		send := func(item interface{}) error {
			_ = stream.SetDeadline(time.Now().Add(deadline))
			data, err := json.Marshal(item)
			if err != nil {
				return err
			}
			return WriteFrame(stream, data, s.cfg.MaxFrameBytes)
		}
		if err := handler(reqFrame, send); err != nil {
			s.logger.Warn().Err(err).Msg("stream handler aborted")
		}
	})
}

func (s *Server) acquireSession() bool {
	if s.cfg.MaxSessions <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions >= s.cfg.MaxSessions {
		return false
	}
	s.sessions++
	return true
}

func (s *Server) releaseSession() {
	if s.cfg.MaxSessions <= 0 {
		return
	}
	s.mu.Lock()
	s.sessions--
	s.mu.Unlock()
}

func (s *Server) serve(stream network.Stream, handler Handler) {
	if !s.acquireSession() {
		s.logger.Warn().Str("peer", stream.Conn().RemotePeer().String()[:16]).Msg("rpc session cap reached, rejecting")
		writeErrorFrame(stream, s.cfg.MaxFrameBytes, ErrNoSessionsAvailable)
		return
	}
	defer s.releaseSession()

	deadline := s.cfg.RequestTimeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	_ = stream.SetDeadline(time.Now().Add(deadline))

	hsFrame, err := ReadFrame(stream, s.cfg.MaxFrameBytes)
	if err != nil {
		return
	}
	var hs HandshakeVersion
	if err := json.Unmarshal(hsFrame, &hs); err != nil || hs.Version < s.cfg.MinVersion {
		writeErrorFrame(stream, s.cfg.MaxFrameBytes, ErrProtocolNotSupported)
		return
	}
	if err := WriteFrame(stream, mustJSON(HandshakeVersion{Version: s.cfg.Version}), s.cfg.MaxFrameBytes); err != nil {
		return
	}

	reqFrame, err := ReadFrame(stream, s.cfg.MaxFrameBytes)
	if err != nil {
		return
	}
	resp, err := handler(reqFrame)
	if err != nil {
		writeErrorFrame(stream, s.cfg.MaxFrameBytes, err)
		return
	}
	respBytes, err := json.Marshal(resp)
	if err != nil {
		writeErrorFrame(stream, s.cfg.MaxFrameBytes, err)
		return
	}
	if err := WriteFrame(stream, respBytes, s.cfg.MaxFrameBytes); err != nil {
		var malformed *ErrMalformedResponse
		if ok := errorsAs(err, &malformed); ok {
			s.logger.Warn().Uint32("size", malformed.Size).Msg("response too large to frame")
		}
	}
}

// envelope is the wire shape of every response frame: either a payload or
// an error string, never both.
type envelope struct {
	Error string `json:"error,omitempty"`
}

func writeErrorFrame(stream network.Stream, maxSize uint32, err error) {
	_ = WriteFrame(stream, mustJSON(envelope{Error: err.Error()}), maxSize)
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("rpcproto: marshal handshake/envelope: %v", err))
	}
	return data
}

// errorsAs is a tiny indirection so server.go doesn't need a direct
// "errors" import solely for this one type assertion.
func errorsAs(err error, target **ErrMalformedResponse) bool {
	if e, ok := err.(*ErrMalformedResponse); ok {
		*target = e
		return true
	}
	return false
}
