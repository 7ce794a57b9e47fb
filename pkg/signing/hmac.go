package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HMACSigner implements the local_hmac backend: a master secret is
// expanded via HKDF-SHA256 into a per-key-id sub-key, which then signs
// state_hash bytes with HMAC-SHA256. A symmetric scheme fits
// same-trust-domain local deployments that don't need public
// verifiability.
type HMACSigner struct {
	subKey []byte
	keyID  string
}

// NewHMACSigner derives a sub-key for keyID from masterSecret via HKDF
// and returns a ready-to-use signer.
func NewHMACSigner(masterSecret []byte, keyID string) (*HMACSigner, error) {
	if len(masterSecret) == 0 {
		return nil, fmt.Errorf("signing: empty master secret")
	}
	h := hkdf.New(sha256.New, masterSecret, nil, []byte("truthmesh:state_hash:"+keyID))
	subKey := make([]byte, 32)
	if _, err := io.ReadFull(h, subKey); err != nil {
		return nil, fmt.Errorf("signing: derive sub-key for %s: %w", keyID, err)
	}
	return &HMACSigner{subKey: subKey, keyID: keyID}, nil
}

func (s *HMACSigner) Sign(stateHash []byte) (string, error) {
	mac := hmac.New(sha256.New, s.subKey)
	mac.Write(stateHash)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (s *HMACSigner) KeyID() string  { return s.keyID }
func (s *HMACSigner) Method() Method { return MethodLocalHMAC }
func (s *HMACSigner) Close() error   { return nil }

// HMACVerifier verifies local_hmac signatures given the same derived
// sub-keys the signer used.
type HMACVerifier struct {
	subKeys map[string][]byte
}

// NewHMACVerifier creates an empty verifier ready to Trust sub-keys into.
func NewHMACVerifier() *HMACVerifier {
	return &HMACVerifier{subKeys: make(map[string][]byte)}
}

// Trust derives and registers the sub-key for keyID from masterSecret.
func (v *HMACVerifier) Trust(masterSecret []byte, keyID string) error {
	h := hkdf.New(sha256.New, masterSecret, nil, []byte("truthmesh:state_hash:"+keyID))
	subKey := make([]byte, 32)
	if _, err := io.ReadFull(h, subKey); err != nil {
		return fmt.Errorf("signing: derive sub-key for %s: %w", keyID, err)
	}
	v.subKeys[keyID] = subKey
	return nil
}

func (v *HMACVerifier) Verify(stateHash []byte, signatureHex, keyID string, method Method) (bool, error) {
	if method != MethodLocalHMAC {
		return false, fmt.Errorf("signing: hmac verifier cannot verify method %q", method)
	}
	subKey, ok := v.subKeys[keyID]
	if !ok {
		return false, fmt.Errorf("signing: unknown key id %q", keyID)
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false, fmt.Errorf("signing: decode signature: %w", err)
	}
	mac := hmac.New(sha256.New, subKey)
	mac.Write(stateHash)
	return hmac.Equal(mac.Sum(nil), sig), nil
}
