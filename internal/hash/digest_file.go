package hash

import (
	"fmt"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
)

// DigestFile streams path through SHA-256 and returns the hex digest and the
// byte size. Hashing is bounded by file size; no retries.
func DigestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open file %s: %w", path, err)
	}
	defer f.Close()

	digester := digest.Canonical.Digester()
	n, err := io.Copy(digester.Hash(), f)
	if err != nil {
		return "", 0, fmt.Errorf("hash file %s: %w", path, err)
	}
	return digester.Digest().Encoded(), n, nil
}

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
