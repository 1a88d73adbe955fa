package signer

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/relayauth/ports"
)

// KeySigner signs AUTH payloads with a local secp256k1 key
type KeySigner struct {
	key      *ecdsa.PrivateKey
	identity string
}

// NewKeySigner wraps an existing private key
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		key:      key,
		identity: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
}

// NewKeySignerFromHex parses a hex encoded private key, with or without 0x
func NewKeySignerFromHex(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signer key: %w", err)
	}
	return NewKeySigner(key), nil
}

// GenerateKeySigner creates a signer with a fresh random key
func GenerateKeySigner() (*KeySigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signer key: %w", err)
	}
	return NewKeySigner(key), nil
}

var _ ports.Signer = (*KeySigner)(nil)

// Identity returns the checksummed address of the key
func (s *KeySigner) Identity() string {
	return s.identity
}

// Sign returns a 65 byte [R || S || V] signature over keccak256(payload)
func (s *KeySigner) Sign(payload []byte) ([]byte, error) {
	sig, err := crypto.Sign(crypto.Keccak256(payload), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}
	return sig, nil
}

// Verify checks that sig over payload was produced by identity
func Verify(identity string, payload, sig []byte) bool {
	if len(sig) != crypto.SignatureLength {
		return false
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(payload), sig)
	if err != nil {
		return false
	}
	return strings.EqualFold(crypto.PubkeyToAddress(*pub).Hex(), identity)
}

// EncodeSignature renders a signature the way it travels in AUTH responses
func EncodeSignature(sig []byte) string {
	return hexutil.Encode(sig)
}
