// Package audio reads audio files for streaming recognition.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Encoding names understood by the recognition backends.
const (
	EncodingLinear16 = "LINEAR16"
	EncodingMulaw    = "MULAW"
	EncodingFLAC     = "FLAC"
)

// WAV format tags
const (
	wavFormatPCM        = 0x0001
	wavFormatMulaw      = 0x0007
	wavFormatExtensible = 0xFFFE
)

// Sent as-is when the payload has no fixed byte rate (FLAC).
const defaultChunkSize = 4096

var (
	// ErrUnsupportedFormat is returned for files that are neither WAV nor FLAC,
	// or WAV files with a codec the recognizer cannot take.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrMalformedHeader is returned when a header is truncated or inconsistent.
	ErrMalformedHeader = errors.New("malformed audio header")
)

// Format describes the audio payload of a file.
type Format struct {
	Encoding      string
	SampleRateHz  int
	Channels      int
	BitsPerSample int
	// DataOffset and DataSize locate the bytes to stream. For FLAC this is the
	// whole file, header included.
	DataOffset int64
	DataSize   int64
}

// ChunkSize returns the number of payload bytes covering interval.
func (f Format) ChunkSize(interval time.Duration) int {
	if f.Encoding == EncodingFLAC || f.SampleRateHz <= 0 || f.Channels <= 0 || f.BitsPerSample <= 0 {
		return defaultChunkSize
	}
	bytesPerSecond := f.SampleRateHz * f.Channels * f.BitsPerSample / 8
	n := int(int64(bytesPerSecond) * int64(interval) / int64(time.Second))
	if n <= 0 {
		return defaultChunkSize
	}
	return n
}

// Duration returns the playback time of n payload bytes, or 0 when the
// payload has no fixed byte rate (FLAC).
func (f Format) Duration(n int) time.Duration {
	if f.Encoding == EncodingFLAC || f.SampleRateHz <= 0 || f.Channels <= 0 || f.BitsPerSample <= 0 {
		return 0
	}
	bytesPerSecond := int64(f.SampleRateHz * f.Channels * f.BitsPerSample / 8)
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / bytesPerSecond)
}

// ReadFormat inspects the header of r and returns the payload format.
// r is left at an unspecified position.
func ReadFormat(r io.ReadSeeker) (Format, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return Format{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	switch string(magic[:]) {
	case "RIFF":
		return readWAVHeader(r)
	case "fLaC":
		return readFLACHeader(r)
	default:
		return Format{}, ErrUnsupportedFormat
	}
}

// readWAVHeader walks the RIFF chunks after the "RIFF" magic until it has seen
// both "fmt " and "data". Headers are not assumed to be 44 bytes.
func readWAVHeader(r io.ReadSeeker) (Format, error) {
	var riff [8]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Format{}, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if string(riff[4:8]) != "WAVE" {
		return Format{}, ErrUnsupportedFormat
	}

	var (
		format  Format
		haveFmt bool
		offset  int64 = 12
	)

	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Format{}, fmt.Errorf("%w: no data chunk", ErrMalformedHeader)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))
		offset += 8

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, fmt.Errorf("%w: fmt chunk of %d bytes", ErrMalformedHeader, size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return Format{}, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
			}
			enc, err := wavEncoding(body)
			if err != nil {
				return Format{}, err
			}
			format.Encoding = enc
			format.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			format.SampleRateHz = int(binary.LittleEndian.Uint32(body[4:8]))
			format.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFmt = true
			if size%2 == 1 {
				if _, err := r.Seek(1, io.SeekCurrent); err != nil {
					return Format{}, err
				}
			}

		case "data":
			if !haveFmt {
				return Format{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrMalformedHeader)
			}
			format.DataOffset = offset
			format.DataSize = size
			return format, nil

		default:
			skip := size + size%2
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return Format{}, err
			}
		}
		offset += size + size%2
	}
}

func wavEncoding(fmtChunk []byte) (string, error) {
	tag := binary.LittleEndian.Uint16(fmtChunk[0:2])
	if tag == wavFormatExtensible && len(fmtChunk) >= 26 {
		// First two bytes of the SubFormat GUID carry the real tag.
		tag = binary.LittleEndian.Uint16(fmtChunk[24:26])
	}

	switch tag {
	case wavFormatPCM:
		if bits := binary.LittleEndian.Uint16(fmtChunk[14:16]); bits != 16 {
			return "", fmt.Errorf("%w: %d-bit PCM", ErrUnsupportedFormat, bits)
		}
		return EncodingLinear16, nil
	case wavFormatMulaw:
		return EncodingMulaw, nil
	default:
		return "", fmt.Errorf("%w: WAV format tag 0x%04x", ErrUnsupportedFormat, tag)
	}
}

// readFLACHeader reads the STREAMINFO block that must follow the "fLaC" magic.
func readFLACHeader(r io.ReadSeeker) (Format, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Format{}, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if hdr[0]&0x7F != 0 {
		return Format{}, fmt.Errorf("%w: first FLAC block is not STREAMINFO", ErrMalformedHeader)
	}

	var info [34]byte
	if _, err := io.ReadFull(r, info[:]); err != nil {
		return Format{}, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return Format{}, err
	}

	return Format{
		Encoding:      EncodingFLAC,
		SampleRateHz:  int(info[10])<<12 | int(info[11])<<4 | int(info[12])>>4,
		Channels:      int(info[12]>>1&0x07) + 1,
		BitsPerSample: int(info[12]&0x01)<<4 | int(info[13]>>4) + 1,
		DataOffset:    0,
		DataSize:      size,
	}, nil
}
