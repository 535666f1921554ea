// Package integrity computes and verifies sha256 checksums of downloaded
// image files, gated behind the operator-configurable integrity-check
// setting.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// FileVerifier handles file integrity checks.
type FileVerifier struct{}

func NewFileVerifier() *FileVerifier {
	return &FileVerifier{}
}

// Verify reports an error if the file at path does not hash to expected.
func (v *FileVerifier) Verify(path string, expected string) error {
	actual, err := CalculateHash(path)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("integrity: hash mismatch for %s: expected %s, got %s", path, expected, actual)
	}
	return nil
}

// CalculateHash computes the sha256 hex digest of the file at path.
func CalculateHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
