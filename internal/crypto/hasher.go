package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

const (
	derivedKeySize = 32

	infoClaimCode     = "claimescrow-code-v1"
	infoTicketBinding = "claimescrow-ticket-v1"
)

// hkdfSalt is fixed so digests stay stable across restarts.
var hkdfSalt = []byte("claimescrow-hkdf-salt-v1")

// ClaimHasher turns claim codes into keyed digests and binds tickets to
// claimants. Keys are derived from the master secret with HKDF, one per purpose.
type ClaimHasher struct {
	codeKey   []byte
	ticketKey []byte
}

// NewClaimHasher derives the purpose keys from masterKey.
func NewClaimHasher(masterKey []byte) (*ClaimHasher, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidKeySize, MasterKeySize, len(masterKey))
	}

	codeKey, err := deriveKey(masterKey, infoClaimCode)
	if err != nil {
		return nil, err
	}
	ticketKey, err := deriveKey(masterKey, infoTicketBinding)
	if err != nil {
		return nil, err
	}

	return &ClaimHasher{
		codeKey:   codeKey,
		ticketKey: ticketKey,
	}, nil
}

func deriveKey(masterKey []byte, info string) ([]byte, error) {
	key := make([]byte, derivedKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, hkdfSalt, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("key derivation failed for %s: %w", info, err)
	}

	return key, nil
}

// ClaimDigest is the stored form of a claim code. The registry ID is mixed in
// so equal codes in different registries never collide.
func (h *ClaimHasher) ClaimDigest(registryID, code string) string {
	return keyedSum(h.codeKey, registryID, code)
}

// VerificationHash binds a claim digest to the identity that initiated the claim.
func (h *ClaimHasher) VerificationHash(claimHash, claimer string) string {
	return keyedSum(h.ticketKey, claimHash, claimer)
}

// Equal compares two digests in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func keyedSum(key []byte, parts ...string) string {
	// blake2b.New256 only fails for keys longer than 64 bytes
	hash, err := blake2b.New256(key)
	if err != nil {
		panic(err)
	}

	for _, part := range parts {
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(part)))
		hash.Write(length[:])
		hash.Write([]byte(part))
	}

	return hex.EncodeToString(hash.Sum(nil))
}
