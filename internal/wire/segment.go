package wire

import "io"

// SegmentWriter carries an opaque byte stream (the compressed chunk stream
// of a download) as a sequence of frames. Close appends a zero-length frame
// so the reader can tell where the stream ends without consuming what
// follows it on the same connection.
type SegmentWriter struct {
	w      io.Writer
	closed bool
}

// NewSegmentWriter returns a SegmentWriter writing frames to w.
func NewSegmentWriter(w io.Writer) *SegmentWriter {
	return &SegmentWriter{w: w}
}

// Write emits p as one or more non-empty frames.
func (s *SegmentWriter) Write(p []byte) (int, error) {
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	written := 0
	for len(p) > 0 {
		n := min(len(p), MaxFrameSize)
		if err := WriteFrame(s.w, p[:n]); err != nil {
			return written, err
		}
		written += n
		p = p[n:]
	}
	return written, nil
}

// Close writes the terminating zero-length frame. It does not close the
// underlying writer.
func (s *SegmentWriter) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return WriteFrame(s.w, nil)
}

// SegmentReader reassembles a stream written by SegmentWriter. Read
// returns io.EOF after the terminating frame and never reads past it.
type SegmentReader struct {
	r    io.Reader
	buf  []byte
	done bool
}

// NewSegmentReader returns a SegmentReader reading frames from r.
func NewSegmentReader(r io.Reader) *SegmentReader {
	return &SegmentReader{r: r}
}

func (s *SegmentReader) Read(p []byte) (int, error) {
	for len(s.buf) == 0 {
		if s.done {
			return 0, io.EOF
		}
		seg, err := ReadFrame(s.r)
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		if len(seg) == 0 {
			s.done = true
			return 0, io.EOF
		}
		s.buf = seg
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Drain discards the remainder of the stream through its terminator.
func (s *SegmentReader) Drain() error {
	_, err := io.Copy(io.Discard, s)
	return err
}
