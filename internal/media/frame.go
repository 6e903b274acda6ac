// Package media defines the frame type produced by the transport-stream
// extractor and the sink interface through which frames leave the engine.
package media

// Frame is a single H.264 access unit ready for delivery. Data holds the
// raw elementary-stream bytes (Annex B). Ownership transfers to the sink on
// Send; the engine never reuses a Frame after handing it off.
type Frame struct {
	IsKeyFrame bool
	Data       []byte
}

// FrameSink receives paced access units from the send loop. The
// framesPerSecond value is the configured target cadence, forwarded so a
// transport implementation can fill in its encoded-frame metadata.
type FrameSink interface {
	Send(f *Frame, framesPerSecond int) error
}
