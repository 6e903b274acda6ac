// Package mpegts extracts H.264 access units from MPEG transport streams.
// It implements just enough of the TS format to get there: PAT/PMT
// traversal to locate the video elementary stream, and PES payload
// reassembly across 188-byte packets. Everything operates on an in-memory
// byte buffer with an explicit cursor; every access is bounds checked.
package mpegts

import "errors"

const (
	packetSize = 188
	syncByte   = 0x47

	pidPAT = 0x0000

	streamTypeH264 = 0x1B

	nalTypeIDR = 5

	// maxDesync is the number of consecutive packets with a bad sync byte
	// tolerated before the rest of the source is abandoned.
	maxDesync = 128

	// maxAccessUnitSize caps a single reassembled access unit. Oversized
	// units are truncated rather than failing the stream.
	maxAccessUnitSize = 1 << 20
)

// ErrNoVideoStream is returned when PAT/PMT traversal finds no H.264
// elementary stream in the file.
var ErrNoVideoStream = errors.New("mpegts: no H.264 stream found")

// AccessUnit is one reassembled PES payload: a single decodable unit of
// video. Key is true when the unit contains an IDR slice.
type AccessUnit struct {
	Key  bool
	Data []byte
}
