package media

import "io"

// WriterSink appends the raw bytes of every frame to an io.Writer,
// reproducing the elementary stream exactly as a transport would receive
// it. Useful for dumping engine output to a file for inspection.
type WriterSink struct {
	w io.Writer
}

// NewWriterSink creates a WriterSink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Send writes the frame payload to the underlying writer.
func (s *WriterSink) Send(f *Frame, _ int) error {
	_, err := s.w.Write(f.Data)
	return err
}

// NullSink discards all frames. It stands in for the real transport when
// the engine runs without a consumer attached.
type NullSink struct{}

// Send discards the frame.
func (NullSink) Send(*Frame, int) error { return nil }
