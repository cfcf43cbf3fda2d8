package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrKeyAlreadyExists = errors.New("key already exists")
	ErrInvalidKeyFile   = errors.New("invalid key file")
	ErrInvalidKeySize   = errors.New("invalid key size")
)

const (
	// MasterKeySize is the size of the service master secret.
	MasterKeySize = 32

	// KeyStoreFileName is the name of the hex encoded master key file.
	KeyStoreFileName = "claim-master.key"
	// KeyFileMode allows the owner to read and write the key, nobody else.
	KeyFileMode = 0600
	// KeyDirMode keeps the key directory private to the owner.
	KeyDirMode = 0700
)

// KeyStore persists the master secret that claim digests and ticket bindings
// are derived from. Losing it makes every stored claim code unverifiable, so
// it has to live next to the database and be backed up with it.
type KeyStore struct {
	keyPath string
}

// NewKeyStore creates a key store in keyDir, creating the directory if needed.
// A directory readable by group or others is tightened to KeyDirMode.
func NewKeyStore(keyDir string) (*KeyStore, error) {
	if err := os.MkdirAll(keyDir, KeyDirMode); err != nil {
		return nil, errors.Wrap(err, "creating key directory")
	}

	info, err := os.Stat(keyDir)
	switch {
	case err != nil:
		return nil, errors.Wrap(err, "inspecting key directory")
	case !info.IsDir():
		return nil, errors.Errorf("key path %s is not a directory", keyDir)
	case info.Mode().Perm()&0077 != 0:
		if err := os.Chmod(keyDir, KeyDirMode); err != nil {
			return nil, errors.Wrap(err, "restricting key directory permissions")
		}
	}

	return &KeyStore{keyPath: filepath.Join(keyDir, KeyStoreFileName)}, nil
}

// LoadOrGenerate returns the stored master secret. On first start it draws a
// fresh one from crypto/rand and persists it before returning.
func (ks *KeyStore) LoadOrGenerate() ([]byte, error) {
	key, err := ks.Load()
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, errors.Wrap(err, "loading master key")
	}

	key = make([]byte, MasterKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errors.Wrap(err, "generating master key")
	}

	if err := ks.Save(key); err != nil {
		ClearBytes(key)
		return nil, errors.Wrap(err, "saving master key")
	}

	return key, nil
}

// Load reads the master secret. A key file that is readable by anyone but the
// owner is refused rather than used.
func (ks *KeyStore) Load() ([]byte, error) {
	info, err := os.Stat(ks.keyPath)
	if os.IsNotExist(err) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "inspecting key file")
	}
	if perm := info.Mode().Perm(); perm != KeyFileMode {
		return nil, errors.Wrapf(ErrInvalidKeyFile, "permissions %o", perm)
	}

	encoded, err := os.ReadFile(ks.keyPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading key file")
	}

	key := make([]byte, hex.DecodedLen(len(encoded)))
	n, err := hex.Decode(key, encoded)
	if err != nil {
		ClearBytes(key)
		return nil, errors.Wrapf(ErrInvalidKeyFile, "decoding: %v", err)
	}
	key = key[:n]

	if len(key) != MasterKeySize {
		ClearBytes(key)
		return nil, errors.Wrapf(ErrInvalidKeyFile, "expected %d bytes, got %d", MasterKeySize, len(key))
	}

	return key, nil
}

// Save writes a new master secret. An existing key is never overwritten; the
// file is written next to its target and renamed into place.
func (ks *KeyStore) Save(key []byte) error {
	if len(key) != MasterKeySize {
		return errors.Wrapf(ErrInvalidKeySize, "expected %d bytes, got %d", MasterKeySize, len(key))
	}
	if _, err := os.Stat(ks.keyPath); err == nil {
		return ErrKeyAlreadyExists
	}

	encoded := make([]byte, hex.EncodedLen(len(key)))
	hex.Encode(encoded, key)
	defer ClearBytes(encoded)

	tmpPath := ks.keyPath + ".tmp"
	if err := os.WriteFile(tmpPath, encoded, KeyFileMode); err != nil {
		return errors.Wrap(err, "writing temporary key file")
	}
	if err := os.Rename(tmpPath, ks.keyPath); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "moving key file into place")
	}

	return nil
}

// Path returns the key file path.
func (ks *KeyStore) Path() string {
	return ks.keyPath
}

// Fingerprint is a short public identifier of key, logged at startup so an
// operator can tell whether a restarted node picked up the same secret.
func Fingerprint(key []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte("claimescrow/key-fingerprint/"))
	h.Write(key)

	return hex.EncodeToString(h.Sum(nil)[:8])
}

// ClearBytes zeroes b.
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
