package crypto

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"
)

// Signer signs and verifies gateway canonical strings with RSA.
//
// The gateway requires RSA-PSS with SHA-256 for both the digest and the MGF.
// A legacy PKCS#1 v1.5 path exists for signing only and is disabled unless
// explicitly enabled: it changes the signature scheme, and a gateway that
// enforces PSS will reject such signatures. Every use of the fallback is
// logged.
type Signer struct {
	logger             *zap.Logger
	allowPKCS1Fallback bool
}

// NewSigner creates a signer. allowPKCS1Fallback enables the legacy
// PKCS#1 v1.5 signing path when the PSS path fails.
func NewSigner(logger *zap.Logger, allowPKCS1Fallback bool) *Signer {
	return &Signer{logger: logger, allowPKCS1Fallback: allowPKCS1Fallback}
}

// Sign signs a canonical string and returns the base64 signature.
func (s *Signer) Sign(canonical string, privateKey string) (string, error) {
	priv, err := ParsePrivateKey(privateKey)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256([]byte(canonical))

	sig, err := rsa.SignPSS(rand.Reader, priv, stdcrypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       stdcrypto.SHA256,
	})
	if err == nil {
		return base64.StdEncoding.EncodeToString(sig), nil
	}

	if !s.allowPKCS1Fallback {
		return "", fmt.Errorf("rsa-pss sign failed (key %s): %w", RedactKey(privateKey), err)
	}

	s.logger.Warn("RSA-PSS signing failed, falling back to PKCS#1 v1.5",
		zap.String("key", RedactKey(privateKey)),
		zap.Error(err),
	)

	sig, err = rsa.SignPKCS1v15(rand.Reader, priv, stdcrypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("pkcs1 fallback sign failed (key %s): %w", RedactKey(privateKey), err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// SignFields canonicalizes a field set and signs it.
func (s *Signer) SignFields(fields *FieldSet, privateKey string) (string, error) {
	return s.Sign(Canonicalize(fields), privateKey)
}

// Verify reports whether signature is a valid RSA-PSS signature over the
// canonical string. Malformed keys or signatures verify as false.
func (s *Signer) Verify(canonical, signature, publicKey string) bool {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		s.logger.Warn("signature verification with unparseable public key",
			zap.String("key", RedactKey(publicKey)),
		)
		return false
	}

	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}

	digest := sha256.Sum256([]byte(canonical))

	err = rsa.VerifyPSS(pub, stdcrypto.SHA256, digest[:], raw, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       stdcrypto.SHA256,
	})
	return err == nil
}
