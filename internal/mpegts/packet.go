package mpegts

import (
	"errors"
	"fmt"
)

const (
	packetSize = 188
	syncByte   = 0x47
)

// PacketSize is the fixed size of an MPEG-TS packet.
const PacketSize = packetSize

var (
	// ErrPacketSize is returned when a packet is not exactly 188 bytes.
	ErrPacketSize = errors.New("mpegts: invalid packet size")
	// ErrSyncByte is returned when a packet does not start with 0x47.
	ErrSyncByte = errors.New("mpegts: invalid sync byte")
)

func parsePacket(buf []byte) (*Packet, error) {
	if len(buf) != packetSize {
		return nil, fmt.Errorf("%w: %d, expected %d", ErrPacketSize, len(buf), packetSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("%w 0x%02X", ErrSyncByte, buf[0])
	}

	p := &Packet{}
	p.Header.TransportErrorIndicator = buf[1]&0x80 != 0
	p.Header.PayloadUnitStartIndicator = buf[1]&0x40 != 0
	p.Header.PID = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	p.Header.HasAdaptationField = buf[3]&0x20 != 0
	p.Header.HasPayload = buf[3]&0x10 != 0
	p.Header.ContinuityCounter = buf[3] & 0x0F

	offset := 4

	if p.Header.HasAdaptationField {
		afLen := int(buf[offset])
		if afLen > 0 && offset+1 < packetSize {
			p.Header.DiscontinuityIndicator = buf[offset+1]&0x80 != 0
		}
		offset += 1 + afLen
	}

	// An adaptation field that runs to (or past) the end leaves no payload.
	if p.Header.HasPayload && offset < packetSize {
		p.Payload = buf[offset:packetSize]
	}

	return p, nil
}
