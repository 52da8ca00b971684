package ingest

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"log"
	"net"

	"github.com/nicktill/tixcondenser/pkg/report"
)

var (
	// ErrInvalidUser is returned for a non-positive user id
	ErrInvalidUser = errors.New("user id must be positive")

	// ErrInvalidInstallation is returned for a non-positive installation id
	ErrInvalidInstallation = errors.New("installation id must be positive")

	// ErrInvalidAddress is returned when the source address is not host:port
	ErrInvalidAddress = errors.New("source address is not a host:port pair")

	// ErrInvalidPublicKey is returned when the public key is not a PKIX RSA key
	ErrInvalidPublicKey = errors.New("public key is not a PKIX RSA key")

	// ErrBadSignature is returned when the signature does not cover the payload
	ErrBadSignature = errors.New("signature does not match payload")
)

// Validator decides whether a report is internally consistent.
type Validator interface {
	IsValid(r report.Report) bool
}

// SignatureValidator checks identifiers, the payload layout and the
// installation's signature over the payload.
type SignatureValidator struct{}

// IsValid implements Validator
func (v SignatureValidator) IsValid(r report.Report) bool {
	if err := v.Validate(r); err != nil {
		log.Printf("Installation %d report rejected: %v", r.InstallationID, err)
		return false
	}
	return true
}

// Validate returns the first reason r is invalid, or nil
func (SignatureValidator) Validate(r report.Report) error {
	if r.UserID <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidUser, r.UserID)
	}
	if r.InstallationID <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidInstallation, r.InstallationID)
	}
	if _, _, err := net.SplitHostPort(r.SourceAddress); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, r.SourceAddress)
	}
	if err := report.CheckPayload(r.Payload); err != nil {
		return err
	}

	parsed, err := x509.ParsePKIXPublicKey(r.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: got %T", ErrInvalidPublicKey, parsed)
	}

	digest := sha256.Sum256(r.Payload)
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], r.Signature); err != nil {
		return ErrBadSignature
	}
	return nil
}
