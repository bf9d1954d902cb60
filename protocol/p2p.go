package protocol

import (
	"encoding/binary"
	"errors"
)

// P2PHeaderLength is the size of the binary header that starts every
// application/x-msnmsgrp2p body.
const P2PHeaderLength = 48

var ErrShortP2PHeader = errors.New("P2P body is shorter than its binary header")

// P2PHeader is the little endian header of a peer to peer data chunk.
type P2PHeader struct {
	SessionID uint32
	ID        uint32
	Offset    uint64
	TotalSize uint64
	Length    uint32
	Flags     uint32
	AckID     uint32
	AckSubID  uint32
	AckSize   uint64
}

// ParseP2PHeader decodes the header from the start of body and returns the
// remaining bytes, which hold the chunk data and a 4 byte big endian footer.
func ParseP2PHeader(body []byte) (*P2PHeader, []byte, error) {
	if len(body) < P2PHeaderLength {
		return nil, nil, ErrShortP2PHeader
	}

	le := binary.LittleEndian
	h := &P2PHeader{
		SessionID: le.Uint32(body[0:4]),
		ID:        le.Uint32(body[4:8]),
		Offset:    le.Uint64(body[8:16]),
		TotalSize: le.Uint64(body[16:24]),
		Length:    le.Uint32(body[24:28]),
		Flags:     le.Uint32(body[28:32]),
		AckID:     le.Uint32(body[32:36]),
		AckSubID:  le.Uint32(body[36:40]),
		AckSize:   le.Uint64(body[40:48]),
	}

	return h, body[P2PHeaderLength:], nil
}

// Marshal encodes the header into its 48 byte wire form.
func (h *P2PHeader) Marshal() []byte {
	b := make([]byte, P2PHeaderLength)

	le := binary.LittleEndian
	le.PutUint32(b[0:4], h.SessionID)
	le.PutUint32(b[4:8], h.ID)
	le.PutUint64(b[8:16], h.Offset)
	le.PutUint64(b[16:24], h.TotalSize)
	le.PutUint32(b[24:28], h.Length)
	le.PutUint32(b[28:32], h.Flags)
	le.PutUint32(b[32:36], h.AckID)
	le.PutUint32(b[36:40], h.AckSubID)
	le.PutUint64(b[40:48], h.AckSize)

	return b
}
