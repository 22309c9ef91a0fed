package backup

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"

	"github.com/dsnet/compress/bzip2"
)

// compressFile rewrites the raw dump through the configured codec and removes
// the original. Returns the final path. CompressionNone is a no-op.
func compressFile(path string, c Compression) (string, error) {
	if c == CompressionNone || c == "" {
		return path, nil
	}

	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	out := path + c.extension()
	dst, err := os.Create(out)
	if err != nil {
		return "", err
	}

	var w io.WriteCloser
	switch c {
	case CompressionGzip:
		w = gzip.NewWriter(dst)
	case CompressionBzip2:
		w, err = bzip2.NewWriter(dst, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		if err != nil {
			dst.Close()
			os.Remove(out)
			return "", err
		}
	default:
		dst.Close()
		os.Remove(out)
		return "", fmt.Errorf("unsupported compression %q", c)
	}

	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		dst.Close()
		os.Remove(out)
		return "", err
	}
	if err := w.Close(); err != nil {
		dst.Close()
		os.Remove(out)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(out)
		return "", err
	}

	if err := os.Remove(path); err != nil {
		return "", err
	}
	return out, nil
}
