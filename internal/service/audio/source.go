package audio

import (
	"fmt"
	"io"
	"os"
	"time"
)

// ChunkInterval is the audio duration carried by one streamed chunk.
const ChunkInterval = 100 * time.Millisecond

// Source is an opened audio file positioned at its payload.
type Source struct {
	Format Format

	f *os.File
	r *io.LimitedReader
}

// Open opens path, reads its header and positions the reader at the payload.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}

	format, err := ReadFormat(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read audio header %s: %w", path, err)
	}

	if _, err := f.Seek(format.DataOffset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek audio payload: %w", err)
	}

	return &Source{
		Format: format,
		f:      f,
		r:      &io.LimitedReader{R: f, N: format.DataSize},
	}, nil
}

// Read reads payload bytes. It returns io.EOF at the end of the data chunk.
func (s *Source) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

// NextChunk reads up to one chunk of payload. The returned slice is only
// valid until the next call.
func (s *Source) NextChunk(buf []byte) ([]byte, error) {
	n, err := io.ReadFull(s.r, buf)
	if err == io.ErrUnexpectedEOF {
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Remaining returns the number of payload bytes not read yet.
func (s *Source) Remaining() int64 {
	return s.r.N
}

// ChunkBuffer returns a buffer sized for one ChunkInterval of payload.
func (s *Source) ChunkBuffer() []byte {
	return make([]byte, s.Format.ChunkSize(ChunkInterval))
}

// Close releases the file handle. It is safe to call more than once.
func (s *Source) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
