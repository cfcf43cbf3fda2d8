// Package verification implements the optional second factor of a claim and
// the per-caller limiter in front of the claim handshake.
package verification

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/iotaledger/hive.go/logger"

	"github.com/dueldanov/claimescrow/internal/crypto"
	"github.com/dueldanov/claimescrow/internal/escrow"
)

// SecondFactor checks the extra proof a claimant presents when an escrow
// requires additional verification.
type SecondFactor interface {
	Verify(ctx context.Context, claim *escrow.ClaimEscrow, claimer string, proof []byte) error
}

// PINVerifier checks a PIN against the bcrypt hash stored on the escrow.
type PINVerifier struct{}

func (PINVerifier) Verify(_ context.Context, claim *escrow.ClaimEscrow, _ string, proof []byte) error {
	if len(proof) == 0 {
		return escrow.Errorf(escrow.KindInvalidMetadata, "verification failed")
	}
	if err := crypto.VerifyPIN(claim.SecretVerification, string(proof)); err != nil {
		return escrow.Errorf(escrow.KindInvalidMetadata, "verification failed")
	}

	return nil
}

// MerchantSignatureVerifier checks an ed25519 signature over
// SignatureMessage(claim.ID, claimer) by the merchant key the escrow was
// created with. Later key rotations on the registry do not apply.
type MerchantSignatureVerifier struct {
	*logger.WrappedLogger
}

func NewMerchantSignatureVerifier(log *logger.Logger) *MerchantSignatureVerifier {
	return &MerchantSignatureVerifier{WrappedLogger: logger.NewWrappedLogger(log)}
}

func (v *MerchantSignatureVerifier) Verify(_ context.Context, claim *escrow.ClaimEscrow, claimer string, proof []byte) error {
	if len(claim.MerchantPublicKey) != ed25519.PublicKeySize {
		v.LogWarnf("claim %s has no usable merchant key", claim.ID)
		return escrow.Errorf(escrow.KindInvalidMetadata, "verification failed")
	}
	if len(proof) != ed25519.SignatureSize {
		return escrow.Errorf(escrow.KindInvalidMetadata, "verification failed")
	}
	if !ed25519.Verify(claim.MerchantPublicKey, SignatureMessage(claim.ID, claimer), proof) {
		return escrow.Errorf(escrow.KindInvalidMetadata, "verification failed")
	}

	return nil
}

// SignatureMessage is the byte string a merchant signs to approve claimer
// redeeming escrow claimID.
func SignatureMessage(claimID, claimer string) []byte {
	msg := make([]byte, 0, len("claimescrow/approve/")+len(claimID)+1+len(claimer))
	msg = append(msg, "claimescrow/approve/"...)
	msg = append(msg, claimID...)
	msg = append(msg, '/')
	msg = append(msg, claimer...)

	return msg
}

// Registry dispatches on the verification kind of an escrow.
type Registry struct {
	mu      sync.RWMutex
	factors map[escrow.VerificationKind]SecondFactor
}

// NewRegistry wires the built-in factors.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		factors: map[escrow.VerificationKind]SecondFactor{
			escrow.VerificationPIN:               PINVerifier{},
			escrow.VerificationMerchantSignature: NewMerchantSignatureVerifier(log),
		},
	}
}

// Register adds or replaces the verifier for kind.
func (r *Registry) Register(kind escrow.VerificationKind, factor SecondFactor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factors[kind] = factor
}

// Verify runs the factor the escrow was created with. Escrows without
// additional verification always pass.
func (r *Registry) Verify(ctx context.Context, claim *escrow.ClaimEscrow, claimer string, proof []byte) error {
	if !claim.RequiresAdditionalVerification {
		return nil
	}

	r.mu.RLock()
	factor, ok := r.factors[claim.VerificationKind]
	r.mu.RUnlock()
	if !ok {
		return escrow.Errorf(escrow.KindInvalidMetadata, "unsupported verification kind %q", claim.VerificationKind)
	}

	return factor.Verify(ctx, claim, claimer, proof)
}
