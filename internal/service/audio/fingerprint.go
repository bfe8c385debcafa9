package audio

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// Fingerprint returns the hex BLAKE3-256 digest of the file at path.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	return FingerprintReader(f)
}

// FingerprintReader returns the hex BLAKE3-256 digest of everything read from r.
func FingerprintReader(r io.Reader) (string, error) {
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("calculating blake3 hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
