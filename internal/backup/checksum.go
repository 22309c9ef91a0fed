package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// hashBlockSize is the read granularity for streaming checksums; backups can
// be multi-gigabyte, so the whole file never sits in memory.
const hashBlockSize = 4096

// ChecksumFile computes the SHA-256 of a file, streamed in fixed blocks.
func ChecksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return checksumReader(f)
}

func checksumReader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, hashBlockSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
