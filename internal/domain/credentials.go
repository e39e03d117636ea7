package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/addispay/telebirr-service/pkg/crypto"
)

// MerchantCredentials holds everything needed to make a signed gateway call
// on behalf of one merchant. In multi-tenant deployments the merchant record
// supplies the identity and keys while FabricAppID and AppSecret stay shared
// across tenants.
type MerchantCredentials struct {
	// MerchantID is the host-side record id, empty in single-tenant mode.
	MerchantID string
	Name       string

	FabricAppID   string
	MerchantAppID string
	MerchantCode  string
	AppSecret     string

	// RSAPrivateKey may be PEM or bare base64.
	RSAPrivateKey string
	// RSAPublicKey is derived from the private key when not configured.
	RSAPublicKey string
}

// Validate checks that every field required for a signed call is present.
// It runs before any network traffic so misconfiguration fails fast.
func (c *MerchantCredentials) Validate() error {
	missing := ""
	switch {
	case c.FabricAppID == "":
		missing = "fabric_app_id"
	case c.MerchantAppID == "":
		missing = "merchant_app_id"
	case c.MerchantCode == "":
		missing = "merchant_code"
	case c.AppSecret == "":
		missing = "app_secret"
	case c.RSAPrivateKey == "":
		missing = "rsa_private_key"
	}
	if missing != "" {
		return NewError(ErrorCodeConfigInvalid, fmt.Sprintf("missing required credential field %s", missing))
	}
	return nil
}

// EnsurePublicKey derives the public key from the private key when absent.
func (c *MerchantCredentials) EnsurePublicKey() error {
	if c.RSAPublicKey != "" {
		return nil
	}
	derived, err := crypto.DerivePublicKey(c.RSAPrivateKey)
	if err != nil {
		return WrapError(ErrorCodeSignatureInvalid, "derive public key", err)
	}
	c.RSAPublicKey = derived
	return nil
}

// CacheKey returns a stable hash of the merchant identity, used to key the
// fabric token cache. Secrets deliberately do not participate.
func (c *MerchantCredentials) CacheKey() string {
	h := sha256.Sum256([]byte(c.FabricAppID + "|" + c.MerchantAppID + "|" + c.MerchantCode))
	return hex.EncodeToString(h[:])
}
