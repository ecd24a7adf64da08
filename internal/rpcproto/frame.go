// Package rpcproto implements spec.md §4.I's substream RPC layer: a
// length-framed request/response protocol multiplexed over per-protocol-id
// libp2p streams, the way the teacher's internal/p2p/sync.go and
// heightreq.go open one stream per call but without any frame-size or
// session bookkeeping. rpcproto adds exactly that bookkeeping so
// internal/basenode and internal/syncstate share one substream transport
// instead of each hand-rolling stream I/O.
package rpcproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrMalformedResponse is returned when a peer's response frame exceeds the
// negotiated max frame size. The offending size is preserved for logging.
type ErrMalformedResponse struct {
	Size    uint32
	MaxSize uint32
}

func (e *ErrMalformedResponse) Error() string {
	return fmt.Sprintf("rpcproto: response frame %d bytes exceeds max %d", e.Size, e.MaxSize)
}

var (
	// ErrProtocolNotSupported is returned when a handshake advertises a
	// protocol version this side does not accept.
	ErrProtocolNotSupported = errors.New("rpcproto: protocol version not supported")
	// ErrNoSessionsAvailable is returned when an inbound session would
	// exceed the server's configured concurrent-session cap.
	ErrNoSessionsAvailable = errors.New("rpcproto: no sessions available")
	// ErrFrameTooLarge is returned by WriteFrame when asked to write a
	// frame bigger than the negotiated max.
	ErrFrameTooLarge = errors.New("rpcproto: frame exceeds max size")
)

// frameHeaderSize is the 4-byte big-endian length prefix every frame
// carries ahead of its payload.
const frameHeaderSize = 4

// WriteFrame writes a single length-prefixed frame. It fails without
// writing anything if payload exceeds maxSize.
func WriteFrame(w io.Writer, payload []byte, maxSize uint32) error {
	if uint32(len(payload)) > maxSize {
		return ErrFrameTooLarge
	}
	var hdr [frameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("rpcproto: write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("rpcproto: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads a single length-prefixed frame. A declared length over
// maxSize is reported as *ErrMalformedResponse rather than read into
// memory, mirroring spec.md §4.I: "replies exceeding it are rewritten to a
// MalformedResponse error carrying the size".
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > maxSize {
		return nil, &ErrMalformedResponse{Size: size, MaxSize: maxSize}
	}
	if size == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("rpcproto: read frame payload: %w", err)
	}
	return buf, nil
}
