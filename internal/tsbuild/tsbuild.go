// Package tsbuild constructs synthetic MPEG transport streams for tests.
// The generated streams carry a single program with one H.264 elementary
// stream and are valid enough for PAT/PMT probing and PES reassembly; CRC32
// fields are left zero.
package tsbuild

import "bytes"

// TS packet and PSI constants, mirrored from the extractor's view of the
// format.
const (
	PacketSize = 188
	SyncByte   = 0x47

	StreamTypeH264 = 0x1B
)

// Packet builds one 188-byte transport packet with a payload and no
// adaptation field. Payload bytes beyond the packet capacity are dropped.
func Packet(pid uint16, cc byte, pusi bool, payload []byte) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = SyncByte
	buf[1] = byte(pid>>8) & 0x1F
	if pusi {
		buf[1] |= 0x40
	}
	buf[2] = byte(pid)
	buf[3] = 0x10 | (cc & 0x0F) // payload only
	copy(buf[4:], payload)
	return buf
}

// PAT builds a transport packet carrying a Program Association Table with a
// single program mapped to pmtPID.
func PAT(pmtPID uint16) []byte {
	section := []byte{
		0x00,       // table_id
		0xB0, 0x0D, // section_syntax_indicator=1, section_length=13
		0x00, 0x01, // transport_stream_id
		0xC1,       // version 0, current_next=1
		0x00, 0x00, // section_number, last_section_number
		0x00, 0x01, // program_number 1
		0xE0 | byte(pmtPID>>8)&0x1F, byte(pmtPID),
		0x00, 0x00, 0x00, 0x00, // CRC32 (unverified)
	}
	payload := append([]byte{0x00}, section...) // pointer field
	return Packet(0x0000, 0, true, payload)
}

// ESEntry describes one elementary stream for PMT.
type ESEntry struct {
	Type byte
	PID  uint16
}

// PMT builds a transport packet carrying a Program Map Table on pmtPID with
// the given elementary streams.
func PMT(pmtPID uint16, streams []ESEntry) []byte {
	sectionLength := 9 + 5*len(streams) + 4
	section := []byte{
		0x02, // table_id
		0xB0 | byte(sectionLength>>8)&0x0F, byte(sectionLength),
		0x00, 0x01, // program_number
		0xC1,
		0x00, 0x00,
		0xE0, 0x00, // PCR PID
		0xF0, 0x00, // program_info_length 0
	}
	for _, s := range streams {
		section = append(section,
			s.Type,
			0xE0|byte(s.PID>>8)&0x1F, byte(s.PID),
			0xF0, 0x00, // ES_info_length 0
		)
	}
	section = append(section, 0x00, 0x00, 0x00, 0x00) // CRC32

	payload := append([]byte{0x00}, section...)
	return Packet(pmtPID, 0, true, payload)
}

// StuffedPacket builds a transport packet whose payload is shorter than the
// packet capacity, filling the gap with adaptation-field stuffing so the
// demuxed payload matches exactly.
func StuffedPacket(pid uint16, cc byte, pusi bool, payload []byte) []byte {
	if len(payload) >= PacketSize-4 {
		return Packet(pid, cc, pusi, payload)
	}
	buf := make([]byte, PacketSize)
	buf[0] = SyncByte
	buf[1] = byte(pid>>8) & 0x1F
	if pusi {
		buf[1] |= 0x40
	}
	buf[2] = byte(pid)
	buf[3] = 0x30 | (cc & 0x0F) // adaptation field + payload

	afLen := PacketSize - 4 - 1 - len(payload) // value of the length byte
	buf[4] = byte(afLen)
	if afLen > 0 {
		buf[5] = 0x00 // no adaptation flags
		for i := 6; i < 5+afLen; i++ {
			buf[i] = 0xFF
		}
	}
	copy(buf[5+afLen:], payload)
	return buf
}

// MuxAccessUnit wraps es in a minimal PES packet (unbounded length, no
// optional fields) and splits it across as many transport packets as
// needed. The continuity counter is advanced through cc.
func MuxAccessUnit(pid uint16, cc *byte, es []byte) []byte {
	pes := make([]byte, 0, 9+len(es))
	pes = append(pes,
		0x00, 0x00, 0x01, // start code
		0xE0,       // video stream id
		0x00, 0x00, // packet_length 0: unbounded
		0x80, 0x00, // marker bits, no PTS/DTS
		0x00, // header_data_length
	)
	pes = append(pes, es...)

	var out bytes.Buffer
	for first := true; len(pes) > 0 || first; first = false {
		n := len(pes)
		if n > PacketSize-4 {
			n = PacketSize - 4
		}
		out.Write(StuffedPacket(pid, *cc, first, pes[:n]))
		pes = pes[n:]
		*cc = (*cc + 1) & 0x0F
	}
	return out.Bytes()
}

// Source assembles a complete single-program transport stream: PAT, PMT,
// then one PES packet per access unit on videoPID.
func Source(videoPID uint16, aus [][]byte) []byte {
	var out bytes.Buffer
	out.Write(PAT(0x1000))
	out.Write(PMT(0x1000, []ESEntry{{Type: StreamTypeH264, PID: videoPID}}))

	cc := byte(0)
	for _, au := range aus {
		out.Write(MuxAccessUnit(videoPID, &cc, au))
	}
	return out.Bytes()
}

// AccessUnit builds an Annex B elementary-stream payload of the given size
// containing a single NAL unit: an IDR slice when idr is true, a non-IDR
// slice otherwise. seq is embedded after the NAL header so tests can tell
// units apart.
func AccessUnit(idr bool, seq byte, size int) []byte {
	if size < 6 {
		size = 6
	}
	au := make([]byte, size)
	au[0], au[1], au[2], au[3] = 0x00, 0x00, 0x00, 0x01
	if idr {
		au[4] = 0x65 // IDR slice, nal_ref_idc=3
	} else {
		au[4] = 0x41 // non-IDR slice
	}
	au[5] = seq
	for i := 6; i < size; i++ {
		au[i] = 0xAA
	}
	return au
}
