package transfer

import (
	"encoding/hex"
	"io"

	"lukechampine.com/blake3"
)

// Hash returns the hex BLAKE3-256 digest of everything read from r.
func Hash(r io.Reader) (string, error) {
	h := blake3.New(32, nil)
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
