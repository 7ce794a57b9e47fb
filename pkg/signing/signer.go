// Package signing implements the pluggable Signer/Verifier capability:
// the compiler signs only state_hash, and verification is a pure
// function of the state bytes and a public key identifier. No secret
// material ever appears in a TruthState or its hashes.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Method is the closed, bounded enumeration of signing backends
// verifiers must know.
type Method string

const (
	MethodLocalHMAC Method = "local_hmac"
	MethodEd25519   Method = "ed25519"
	MethodRemoteKMS Method = "remote_kms"
)

// Signer is the capability the compiler consumes: sign state_hash bytes,
// report the key id and method in use. Implementations must acquire any
// scoped resource (an HSM session, a KMS client) with guaranteed release
// on every exit path, including failure — see Close.
type Signer interface {
	Sign(stateHash []byte) (signatureHex string, err error)
	KeyID() string
	Method() Method
	Close() error
}

// Verifier verifies a signature produced by a Signer, given the method
// and key id carried in a TruthState's security envelope.
type Verifier interface {
	Verify(stateHash []byte, signatureHex, keyID string, method Method) (bool, error)
}

// Ed25519Signer signs with an in-process Ed25519 key.
type Ed25519Signer struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	keyID string
}

// NewEd25519Signer generates a fresh Ed25519 keypair under keyID.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signing: generate ed25519 key: %w", err)
	}
	return &Ed25519Signer{priv: priv, pub: pub, keyID: keyID}, nil
}

// NewEd25519SignerFromKey wraps an existing private key (e.g. loaded
// from an injected key provider).
func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey), keyID: keyID}
}

func (s *Ed25519Signer) Sign(stateHash []byte) (string, error) {
	sig := ed25519.Sign(s.priv, stateHash)
	return hex.EncodeToString(sig), nil
}

func (s *Ed25519Signer) KeyID() string   { return s.keyID }
func (s *Ed25519Signer) Method() Method  { return MethodEd25519 }
func (s *Ed25519Signer) Close() error    { return nil }
func (s *Ed25519Signer) PublicKey() ed25519.PublicKey { return s.pub }
func (s *Ed25519Signer) PublicKeyHex() string         { return hex.EncodeToString(s.pub) }

// Ed25519Verifier verifies signatures against a set of known public
// keys, keyed by key id.
type Ed25519Verifier struct {
	keys map[string]ed25519.PublicKey
}

// NewEd25519Verifier creates an empty verifier ready to Trust keys into.
func NewEd25519Verifier() *Ed25519Verifier {
	return &Ed25519Verifier{keys: make(map[string]ed25519.PublicKey)}
}

// Trust registers a public key under a key id so Verify can resolve it.
func (v *Ed25519Verifier) Trust(keyID string, pub ed25519.PublicKey) {
	v.keys[keyID] = pub
}

func (v *Ed25519Verifier) Verify(stateHash []byte, signatureHex, keyID string, method Method) (bool, error) {
	if method != MethodEd25519 {
		return false, fmt.Errorf("signing: ed25519 verifier cannot verify method %q", method)
	}
	pub, ok := v.keys[keyID]
	if !ok {
		return false, fmt.Errorf("signing: unknown key id %q", keyID)
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false, fmt.Errorf("signing: decode signature: %w", err)
	}
	return ed25519.Verify(pub, stateHash, sig), nil
}
