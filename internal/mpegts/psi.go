package mpegts

// PSI traversal used during extractor initialization. Sections are read
// from the first packet that carries them; PAT and PMT sections small
// enough to need that is all the probe supports, which matches the streams
// the offline packager produces.

// probeVideoPID walks PAT -> PMT over the whole buffer and returns the PID
// of the first H.264 elementary stream. ErrNoVideoStream if none exists.
func probeVideoPID(data []byte) (uint16, error) {
	for off := 0; off+packetSize <= len(data); off += packetSize {
		h, err := parsePacket(data[off : off+packetSize])
		if err != nil || h.pid != pidPAT || !h.pusi {
			continue
		}

		for _, pmtPID := range patProgramPIDs(h.payload) {
			if pid, ok := findVideoInPMT(data, pmtPID); ok {
				return pid, nil
			}
		}
		break // one PAT is authoritative; a second scan would find the same programs
	}
	return 0, ErrNoVideoStream
}

// patProgramPIDs parses a PAT section payload (pointer field included) and
// returns the PMT PIDs of all programs, skipping the NIT entry.
func patProgramPIDs(payload []byte) []uint16 {
	section := sectionBytes(payload, tableIDPAT)
	if section == nil {
		return nil
	}

	// section layout after table_id/section_length:
	// [3-4] transport_stream_id, [5] version, [6] section_number,
	// [7] last_section_number, [8..] 4-byte program entries, CRC32 tail.
	var pids []uint16
	entryEnd := len(section) - 4
	for i := 8; i+4 <= entryEnd; i += 4 {
		programNumber := uint16(section[i])<<8 | uint16(section[i+1])
		pmtPID := uint16(section[i+2]&0x1F)<<8 | uint16(section[i+3])
		if programNumber == 0 {
			continue // NIT
		}
		pids = append(pids, pmtPID)
	}
	return pids
}

// findVideoInPMT scans the buffer for the PMT carried on pmtPID and returns
// the elementary PID of its first H.264 stream.
func findVideoInPMT(data []byte, pmtPID uint16) (uint16, bool) {
	for off := 0; off+packetSize <= len(data); off += packetSize {
		h, err := parsePacket(data[off : off+packetSize])
		if err != nil || h.pid != pmtPID || !h.pusi {
			continue
		}

		section := sectionBytes(h.payload, tableIDPMT)
		if section == nil {
			continue
		}
		if len(section) < 16 { // 12 header bytes + CRC32
			continue
		}

		// [8-9] PCR PID, [10-11] program_info_length, then 5-byte-plus-
		// descriptor stream entries up to the CRC32.
		programInfoLength := int(section[10]&0x0F)<<8 | int(section[11])
		entryEnd := len(section) - 4
		for i := 12 + programInfoLength; i+5 <= entryEnd; {
			streamType := section[i]
			elementaryPID := uint16(section[i+1]&0x1F)<<8 | uint16(section[i+2])
			esInfoLength := int(section[i+3]&0x0F)<<8 | int(section[i+4])
			if streamType == streamTypeH264 {
				return elementaryPID, true
			}
			i += 5 + esInfoLength
		}
	}
	return 0, false
}

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// sectionBytes skips the pointer field and validates the section header,
// returning the section (bounded by section_length) or nil. CRC32 is not
// verified: a corrupted table either fails the walk or yields a PID that
// never produces a valid PES, and the desync budget covers the rest.
func sectionBytes(payload []byte, tableID byte) []byte {
	if len(payload) < 1 {
		return nil
	}
	offset := 1 + int(payload[0])
	if offset+3 > len(payload) {
		return nil
	}
	if payload[offset] != tableID {
		return nil
	}
	if payload[offset+1]&0x80 == 0 { // section_syntax_indicator must be 1
		return nil
	}
	sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
	end := offset + 3 + sectionLength
	if end > len(payload) {
		return nil
	}
	return payload[offset:end]
}
