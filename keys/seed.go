package keys

import (
	"crypto/rand"
	"fmt"
	"os"
)

// SeedSize is the length of the node's key seed in bytes.
const SeedSize = 32

// LoadOrCreateSeed reads the node's key seed from path, generating and
// persisting a fresh one when the file does not exist yet. A seed file of the
// wrong length or an unwritable path is startup-fatal: the engine's entire
// key material derives from this value.
func LoadOrCreateSeed(path string) ([SeedSize]byte, error) {
	var seed [SeedSize]byte

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) != SeedSize {
			return seed, fmt.Errorf("keys: seed file %s has %d bytes, want %d", path, len(data), SeedSize)
		}
		copy(seed[:], data)
		return seed, nil
	case !os.IsNotExist(err):
		return seed, fmt.Errorf("keys: read seed file %s: %w", path, err)
	}

	if _, err := rand.Read(seed[:]); err != nil {
		return seed, fmt.Errorf("keys: generate seed: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return seed, fmt.Errorf("keys: create seed file %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(seed[:]); err != nil {
		return seed, fmt.Errorf("keys: write seed file %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return seed, fmt.Errorf("keys: sync seed file %s: %w", path, err)
	}
	return seed, nil
}
