package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"os"
	"testing"
)

func TestKeyStore_LoadOrGenerate_NewKey(t *testing.T) {
	tmpDir := t.TempDir()

	ks, err := NewKeyStore(tmpDir)
	if err != nil {
		t.Fatalf("NewKeyStore failed: %v", err)
	}

	// First call should generate new key
	key1, err := ks.LoadOrGenerate()
	if err != nil {
		t.Fatalf("LoadOrGenerate failed: %v", err)
	}
	defer ClearBytes(key1)

	if len(key1) != MasterKeySize {
		t.Errorf("expected key size %d, got %d", MasterKeySize, len(key1))
	}

	// Second call should load the same key
	key2, err := ks.LoadOrGenerate()
	if err != nil {
		t.Fatalf("LoadOrGenerate failed on second call: %v", err)
	}
	defer ClearBytes(key2)

	if !bytes.Equal(key1, key2) {
		t.Error("LoadOrGenerate should return same key on subsequent calls")
	}
}

func TestKeyStore_SaveTwice(t *testing.T) {
	ks, err := NewKeyStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewKeyStore failed: %v", err)
	}

	key := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	if err := ks.Save(key); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := ks.Save(key); !errors.Is(err, ErrKeyAlreadyExists) {
		t.Fatalf("expected ErrKeyAlreadyExists, got %v", err)
	}

	info, err := os.Stat(ks.Path())
	if err != nil {
		t.Fatalf("failed to stat key file: %v", err)
	}
	if info.Mode().Perm() != KeyFileMode {
		t.Errorf("expected permissions %o, got %o", KeyFileMode, info.Mode().Perm())
	}
}

func TestKeyStore_RejectsLoosePermissions(t *testing.T) {
	ks, err := NewKeyStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewKeyStore failed: %v", err)
	}

	key, err := ks.LoadOrGenerate()
	if err != nil {
		t.Fatalf("LoadOrGenerate failed: %v", err)
	}
	ClearBytes(key)

	if err := os.Chmod(ks.Path(), 0644); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}

	if _, err := ks.Load(); !errors.Is(err, ErrInvalidKeyFile) {
		t.Fatalf("expected ErrInvalidKeyFile, got %v", err)
	}
}

func TestKeyStore_WrongSize(t *testing.T) {
	ks, err := NewKeyStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewKeyStore failed: %v", err)
	}

	if err := ks.Save([]byte{1, 2, 3}); !errors.Is(err, ErrInvalidKeySize) {
		t.Fatalf("expected ErrInvalidKeySize, got %v", err)
	}
}

func TestFingerprint(t *testing.T) {
	key := bytes.Repeat([]byte{7}, MasterKeySize)
	other := bytes.Repeat([]byte{8}, MasterKeySize)

	if len(Fingerprint(key)) != 16 {
		t.Fatalf("expected 16 hex characters, got %q", Fingerprint(key))
	}
	if Fingerprint(key) != Fingerprint(bytes.Clone(key)) {
		t.Error("fingerprint should only depend on the key")
	}
	if Fingerprint(key) == Fingerprint(other) {
		t.Error("different keys should have different fingerprints")
	}
	if bytes.Contains([]byte(Fingerprint(key)), []byte("0707070707")) {
		t.Error("fingerprint should not expose key bytes")
	}
}
