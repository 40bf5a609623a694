package reader

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression identifies the compression codec of an input file.
type Compression uint8

const (
	// CompressionAuto detects the codec from the file extension.
	CompressionAuto Compression = iota
	// CompressionNone reads the file as-is.
	CompressionNone
	// CompressionGZIP decompresses with gzip.
	CompressionGZIP
	// CompressionZSTD decompresses with zstandard.
	CompressionZSTD
)

// ParseCompression maps a user-supplied compression name to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "auto", "":
		return CompressionAuto, nil
	case "none", "uncompressed":
		return CompressionNone, nil
	case "gzip":
		return CompressionGZIP, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return CompressionAuto, fmt.Errorf("unsupported compression type %q (expected auto, none, gzip or zstd)", s)
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionAuto:
		return "auto"
	case CompressionNone:
		return "none"
	case CompressionGZIP:
		return "gzip"
	case CompressionZSTD:
		return "zstd"
	default:
		return "invalid"
	}
}

// DetectCompression resolves CompressionAuto from the file extension.
// Unknown extensions mean no compression.
func DetectCompression(path string) Compression {
	switch {
	case strings.HasSuffix(path, ".gz"), strings.HasSuffix(path, ".gzip"):
		return CompressionGZIP
	case strings.HasSuffix(path, ".zst"), strings.HasSuffix(path, ".zstd"):
		return CompressionZSTD
	default:
		return CompressionNone
	}
}

// wrapDecompression layers the codec's reader over the raw file stream.
func wrapDecompression(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case CompressionNone:
		return io.NopCloser(r), nil
	case CompressionGZIP:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return gz, nil
	case CompressionZSTD:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("compression %q must be resolved before opening", c)
	}
}
