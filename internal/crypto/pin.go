package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrPINMismatch = errors.New("pin mismatch")

// PINCost is the bcrypt cost used for claim PINs.
var PINCost = bcrypt.DefaultCost

// HashPIN returns the bcrypt hash stored as an escrow's secret verification.
func HashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), PINCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// VerifyPIN checks pin against a hash produced by HashPIN.
func VerifyPIN(hash, pin string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
		return ErrPINMismatch
	}

	return nil
}
