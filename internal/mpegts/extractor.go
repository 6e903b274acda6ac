package mpegts

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Extractor yields H.264 access units from a single transport-stream file.
// The file content is held in memory for the extractor's lifetime; the read
// cursor advances packet by packet and can be rewound with Restart without
// re-probing the program tables.
//
// Extractor is not safe for concurrent use; the playlist manager serializes
// all calls.
type Extractor struct {
	log      *slog.Logger
	path     string
	data     []byte
	offset   int
	videoPID uint16
}

// Open reads the transport-stream file at path and locates its H.264
// elementary stream. It returns ErrNoVideoStream (wrapped) when PAT/PMT
// traversal finds none, which is fatal for this source. If log is nil,
// slog.Default() is used.
func Open(path string, log *slog.Logger) (*Extractor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mpegts: open %s: %w", path, err)
	}
	e, err := New(data, log)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	e.path = path
	return e, nil
}

// New creates an Extractor over an in-memory transport stream.
func New(data []byte, log *slog.Logger) (*Extractor, error) {
	if log == nil {
		log = slog.Default()
	}
	e := &Extractor{
		log:  log.With("component", "mpegts"),
		data: data,
	}

	pid, err := probeVideoPID(data)
	if err != nil {
		return nil, err
	}
	e.videoPID = pid
	e.log.Debug("found H.264 stream", "pid", pid)
	return e, nil
}

// VideoPID returns the elementary PID carrying video, fixed at probe time.
func (e *Extractor) VideoPID() uint16 {
	return e.videoPID
}

// Restart rewinds the cursor to the start of the stream. The probe result
// is reused; the next NextAccessUnit call yields the first access unit
// again.
func (e *Extractor) Restart() {
	e.offset = 0
}

// NextAccessUnit reassembles and returns the next access unit, or io.EOF
// once the stream is exhausted. One PES packet makes one access unit: the
// payloads of consecutive video-PID packets are concatenated until the next
// payload-unit-start packet, which is left unconsumed as the start of the
// following unit.
func (e *Extractor) NextAccessUnit() (*AccessUnit, error) {
	var au []byte
	key := false
	started := false
	desync := 0

	for e.offset+packetSize <= len(e.data) {
		pkt, err := parsePacket(e.data[e.offset : e.offset+packetSize])
		if err != nil {
			if e.data[e.offset] != syncByte {
				desync++
				if desync >= maxDesync {
					e.log.Warn("transport stream desynchronized, abandoning source",
						"offset", e.offset, "path", e.path)
					e.offset = len(e.data)
					break
				}
			}
			e.offset += packetSize
			continue
		}
		desync = 0

		if pkt.pid != e.videoPID || len(pkt.payload) == 0 {
			e.offset += packetSize
			continue
		}

		pay := pkt.payload
		if pkt.pusi {
			if started {
				break // previous unit complete; this packet starts the next one
			}
			started = true

			// Strip the PES header: start code, stream id, length, flags,
			// then header_data_length extension bytes.
			if len(pay) < 9 || pay[0] != 0x00 || pay[1] != 0x00 || pay[2] != 0x01 {
				e.offset += packetSize
				continue
			}
			pesHeaderLen := 9 + int(pay[8])
			if pesHeaderLen > len(pay) {
				e.offset += packetSize
				continue
			}
			pay = pay[pesHeaderLen:]
		}

		if len(au)+len(pay) > maxAccessUnitSize {
			e.log.Warn("access unit exceeds scratch capacity, truncating",
				"size", len(au), "path", e.path)
			break
		}

		if !key && containsIDR(pay) {
			key = true
		}
		au = append(au, pay...)
		e.offset += packetSize
	}

	if len(au) == 0 {
		return nil, io.EOF
	}
	return &AccessUnit{Key: key, Data: au}, nil
}

// containsIDR reports whether pay contains a 3- or 4-byte Annex B start
// code followed by an IDR slice NAL header.
func containsIDR(pay []byte) bool {
	for i := 0; i+5 < len(pay); i++ {
		if pay[i] != 0x00 || pay[i+1] != 0x00 {
			continue
		}
		if pay[i+2] == 0x01 {
			if pay[i+3]&0x1F == nalTypeIDR {
				return true
			}
		} else if pay[i+2] == 0x00 && pay[i+3] == 0x01 {
			if pay[i+4]&0x1F == nalTypeIDR {
				return true
			}
			i += 3 // remainder of the 4-byte prefix
		}
	}
	return false
}
