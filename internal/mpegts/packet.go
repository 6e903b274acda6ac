package mpegts

import "fmt"

// header holds the transport-packet fields the extractor cares about. The
// payload is a sub-slice of the packet buffer after the adaptation field,
// nil when the packet carries none.
type header struct {
	pid     uint16
	pusi    bool
	payload []byte
}

// parsePacket decodes one 188-byte transport packet. Packets with a bad
// sync byte or an adaptation field length that overruns the packet are
// rejected; callers skip them and keep scanning.
func parsePacket(buf []byte) (header, error) {
	var h header
	if len(buf) != packetSize {
		return h, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), packetSize)
	}
	if buf[0] != syncByte {
		return h, fmt.Errorf("mpegts: invalid sync byte 0x%02X", buf[0])
	}

	h.pid = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	h.pusi = buf[1]&0x40 != 0

	offset := 4
	if buf[3]&0x20 != 0 { // adaptation field present
		afLen := 1 + int(buf[4])
		if afLen > packetSize-4 {
			return h, fmt.Errorf("mpegts: adaptation field length %d overruns packet", afLen)
		}
		offset += afLen
	}

	if offset < packetSize {
		h.payload = buf[offset:]
	}
	return h, nil
}
