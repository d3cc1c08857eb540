package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

// FileFingerprint returns the hex BLAKE3 digest of the file at path. It
// matches Config.Fingerprint for the same file.
func FileFingerprint(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return hashBytes(data), nil
}

func hashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyFingerprint fails unless the file still hashes to want.
func VerifyFingerprint(path, want string) error {
	got, err := FileFingerprint(path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("config %s changed: fingerprint %s, expected %s", path, got, want)
	}
	return nil
}
