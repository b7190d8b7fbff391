// Package crypto loads the Kalshi RSA credential, keeps it encrypted at rest
// and produces the RSA-PSS request signatures the Kalshi API expects.
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
)

// Credential is the Kalshi signing identity: an RSA private key and the API
// key ID it was registered under.
type Credential struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

// Signer produces RSA-PSS-SHA256 signatures with a salt as long as the
// digest, base64 encoded with the standard alphabet.
type Signer struct {
	cred   Credential
	random io.Reader
}

// NewSigner creates a Signer that owns cred for the rest of the process.
func NewSigner(cred Credential) (*Signer, error) {
	if cred.PrivateKey == nil {
		return nil, errors.New("crypto/signer: private key is nil")
	}
	if cred.KeyID == "" {
		return nil, errors.New("crypto/signer: key id is empty")
	}
	return &Signer{cred: cred, random: rand.Reader}, nil
}

// KeyID returns the API key identifier sent alongside each signature.
func (s *Signer) KeyID() string {
	return s.cred.KeyID
}

// Sign signs message and returns the base64 signature. Signatures are
// randomized, so two calls over the same message differ but both verify.
func (s *Signer) Sign(message string) (string, error) {
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPSS(s.random, s.cred.PrivateKey, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return "", fmt.Errorf("crypto/signer: %w: %v", domain.ErrSigning, err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a signature produced by Sign against the credential's public
// key.
func Verify(pub *rsa.PublicKey, message, signature string) error {
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("crypto/signer: decode signature: %w", err)
	}
	digest := sha256.Sum256([]byte(message))
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], raw, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
}
