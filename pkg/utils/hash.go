package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// FileSHA256 returns the hex SHA-256 digest of a file and the number of bytes hashed.
func FileSHA256(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("%w: open '%s' for hashing: %w", ErrFilesystem, path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", n, fmt.Errorf("%w: hash '%s': %w", ErrFilesystem, path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// BytesSHA256 returns the hex SHA-256 digest of b
func BytesSHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
