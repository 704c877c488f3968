package keys

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const roleKDFInfo = "pcl-exchange-role-key-v1"

// DeriveRoleSeed deterministically derives a role-specific seed from a root
// seed using HKDF-SHA256. The role name is the HKDF salt.
func DeriveRoleSeed(rootSeed []byte, role string) ([]byte, error) {
	if len(rootSeed) != SeedSize {
		return nil, fmt.Errorf("%w: root seed must be %d bytes", ErrInvalidKey, SeedSize)
	}
	if err := CheckRole(role); err != nil {
		return nil, err
	}
	r := hkdf.New(sha256.New, rootSeed, []byte("role:"+role), []byte(roleKDFInfo))
	out := make([]byte, SeedSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("derive role seed: %w", err)
	}
	return out, nil
}
