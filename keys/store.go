package keys

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"filippo.io/age"
	"github.com/lestrrat-go/jwx/v3/jwa"
)

// ErrPassphraseRequired is returned when an encrypted key file is read by a
// KeyStore that has no passphrase.
var ErrPassphraseRequired = errors.New("key file is encrypted; passphrase required")

const ageHeaderPrefix = "age-encryption.org/"

// KeyStore is a filesystem-backed store of named signing keys.
//
// Layout:
//
//	<Directory>/<name>/root.key
//	<Directory>/<name>/root.jwk
//	<Directory>/<name>/roles/<role>.key
//	<Directory>/<name>/roles/<role>.jwk
//
// A .key file holds "<alg>:<seed hex>". When Passphrase is set the file is
// age-encrypted with an scrypt recipient. The .jwk file is the public half.
type KeyStore struct {
	Directory  string
	Passphrase string
	// WorkFactor is the scrypt log2 cost for new files. Zero keeps age's default.
	WorkFactor int
}

type KeyEntry struct {
	Name      string
	Algorithm string
	KeyID     string
	Roles     []string
}

func GetDefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".pclx", "keys"), nil
}

func CreateKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		directory, err = GetDefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

func (ks *KeyStore) keyPath(name, role string) string {
	if role == "" {
		return filepath.Join(ks.Directory, name, "root.key")
	}
	return filepath.Join(ks.Directory, name, "roles", role+".key")
}

func publicPath(keyPath string) string {
	return strings.TrimSuffix(keyPath, ".key") + ".jwk"
}

func checkName(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	for _, char := range s {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in %s", char, kind)
	}
	return nil
}

func CheckKeyName(name string) error { return checkName("key name", name) }

func CheckRole(role string) error { return checkName("role", role) }

func checkNameRole(name, role string) error {
	if err := CheckKeyName(name); err != nil {
		return err
	}
	if role != "" {
		return CheckRole(role)
	}
	return nil
}

func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", SeedSize, len(data))
	}
	return data, nil
}

// EncodeKeyFile renders the plaintext form of a key file.
func EncodeKeyFile(alg jwa.SignatureAlgorithm, seed []byte) []byte {
	return []byte(alg.String() + ":" + hex.EncodeToString(seed) + "\n")
}

// DecodeKeyFile parses "<alg>:<seed hex>". A bare hex seed is read as EdDSA.
func DecodeKeyFile(data []byte) (PrivateKey, error) {
	s := strings.TrimSpace(string(data))
	alg := EdDSA()
	if name, rest, ok := strings.Cut(s, ":"); ok {
		var err error
		if alg, err = ParseAlgorithm(name); err != nil {
			return nil, err
		}
		s = rest
	}
	seed, err := ParseSeedHex(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return FromSeed(alg, seed)
}

func (ks *KeyStore) seal(plain []byte) ([]byte, error) {
	if ks.Passphrase == "" {
		return plain, nil
	}
	r, err := age.NewScryptRecipient(ks.Passphrase)
	if err != nil {
		return nil, err
	}
	if ks.WorkFactor > 0 {
		r.SetWorkFactor(ks.WorkFactor)
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, r)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plain); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (ks *KeyStore) open(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, []byte(ageHeaderPrefix)) {
		return data, nil
	}
	if ks.Passphrase == "" {
		return nil, ErrPassphraseRequired
	}
	id, err := age.NewScryptIdentity(ks.Passphrase)
	if err != nil {
		return nil, err
	}
	r, err := age.Decrypt(bytes.NewReader(data), id)
	if err != nil {
		return nil, fmt.Errorf("decrypt key file: %w", err)
	}
	return io.ReadAll(r)
}

func writeFile(filePath string, data []byte, perm os.FileMode, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(filePath, flags, perm)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.Write(data); err != nil {
		return err
	}
	return file.Close()
}

func (ks *KeyStore) save(filePath string, alg jwa.SignatureAlgorithm, seed []byte, overwrite bool) (PrivateKey, error) {
	key, err := FromSeed(alg, seed)
	if err != nil {
		return nil, err
	}
	sealed, err := ks.seal(EncodeKeyFile(alg, seed))
	if err != nil {
		return nil, err
	}
	jwkBytes, err := MarshalPublicJWK(key.Public())
	if err != nil {
		return nil, err
	}
	if err := writeFile(filePath, sealed, 0o600, overwrite); err != nil {
		return nil, err
	}
	if err := writeFile(publicPath(filePath), append(jwkBytes, '\n'), 0o644, true); err != nil {
		return nil, err
	}
	return key, nil
}

// LoadFile reads a key file at an explicit path.
func (ks *KeyStore) LoadFile(filePath string) (PrivateKey, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	plain, err := ks.open(data)
	if err != nil {
		return nil, err
	}
	return DecodeKeyFile(plain)
}

// Init creates the root key for name. A nil seed draws a fresh one.
func (ks *KeyStore) Init(name string, alg jwa.SignatureAlgorithm, seed []byte, overwrite bool) (PrivateKey, string, error) {
	if err := CheckKeyName(name); err != nil {
		return nil, "", err
	}
	if seed == nil {
		seed = make([]byte, SeedSize)
		if _, err := io.ReadFull(rand.Reader, seed); err != nil {
			return nil, "", err
		}
	}
	filePath := ks.keyPath(name, "")
	key, err := ks.save(filePath, alg, seed, overwrite)
	if err != nil {
		return nil, "", err
	}
	return key, filePath, nil
}

// Derive writes a role key derived from name's root seed. The role key uses
// the root key's algorithm.
func (ks *KeyStore) Derive(name, role string, overwrite bool) (PrivateKey, string, error) {
	if err := CheckKeyName(name); err != nil {
		return nil, "", err
	}
	if err := CheckRole(role); err != nil {
		return nil, "", err
	}
	root, err := ks.LoadFile(ks.keyPath(name, ""))
	if err != nil {
		return nil, "", err
	}
	rootSeed, err := seedOf(root)
	if err != nil {
		return nil, "", err
	}
	roleSeed, err := DeriveRoleSeed(rootSeed, role)
	if err != nil {
		return nil, "", err
	}
	filePath := ks.keyPath(name, role)
	key, err := ks.save(filePath, root.Algorithm(), roleSeed, overwrite)
	if err != nil {
		return nil, "", err
	}
	return key, filePath, nil
}

// Load returns the root key (role == "") or a role key.
func (ks *KeyStore) Load(name, role string) (PrivateKey, error) {
	if err := checkNameRole(name, role); err != nil {
		return nil, err
	}
	return ks.LoadFile(ks.keyPath(name, role))
}

// ExportPublic returns the public JWK for a stored key.
func (ks *KeyStore) ExportPublic(name, role string) ([]byte, error) {
	if err := checkNameRole(name, role); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(publicPath(ks.keyPath(name, role)))
	if err == nil {
		return bytes.TrimSpace(data), nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	key, err := ks.Load(name, role)
	if err != nil {
		return nil, err
	}
	return MarshalPublicJWK(key.Public())
}

// LoadPublic reads the public half without touching the private key file.
func (ks *KeyStore) LoadPublic(name, role string) (PublicKey, error) {
	data, err := ks.ExportPublic(name, role)
	if err != nil {
		return nil, err
	}
	return ParsePublicJWK(data)
}

func (ks *KeyStore) List() ([]KeyEntry, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var result []KeyEntry
	for _, name := range names {
		entry := KeyEntry{Name: name}
		if pub, err := ks.LoadPublic(name, ""); err == nil {
			entry.Algorithm = pub.Algorithm().String()
			entry.KeyID = pub.KeyID()
		}
		roleEntries, rerr := os.ReadDir(filepath.Join(ks.Directory, name, "roles"))
		if rerr == nil {
			for _, roleEntry := range roleEntries {
				if roleEntry.IsDir() {
					continue
				}
				if role, ok := strings.CutSuffix(roleEntry.Name(), ".key"); ok {
					entry.Roles = append(entry.Roles, role)
				}
			}
			sort.Strings(entry.Roles)
		}
		result = append(result, entry)
	}
	return result, nil
}

func seedOf(key PrivateKey) ([]byte, error) {
	s, ok := key.(interface{ Seed() []byte })
	if !ok {
		return nil, fmt.Errorf("%w: key does not expose a seed", ErrInvalidKey)
	}
	return s.Seed(), nil
}
