package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alphabot-ai/senddit/internal/address"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

const (
	AlgEd25519   = "ed25519"
	AlgSecp256k1 = "secp256k1"
)

var (
	ErrUnsupportedAlg   = errors.New("unsupported alg")
	ErrInvalidSignature = errors.New("invalid signature")
)

// VerifySignature checks signature over message for the given key. Keys and
// signatures are base58, with hex accepted as a fallback.
func VerifySignature(alg, publicKey, message, signature string) error {
	switch strings.ToLower(alg) {
	case AlgEd25519:
		pubKey, sig, err := decodeEd25519(publicKey, signature)
		if err != nil {
			return err
		}
		if !ed25519.Verify(pubKey, []byte(message), sig) {
			return fmt.Errorf("%w: ed25519", ErrInvalidSignature)
		}
		return nil
	case AlgSecp256k1:
		pubKeyBytes, sigBytes, err := decodePair(publicKey, signature)
		if err != nil {
			return err
		}
		pubKey, err := secp256k1.ParsePubKey(pubKeyBytes)
		if err != nil {
			return err
		}
		if len(sigBytes) != 64 {
			return errors.New("invalid secp256k1 signature length")
		}
		var r, s secp256k1.ModNScalar
		if overflow := r.SetByteSlice(sigBytes[:32]); overflow {
			return fmt.Errorf("%w: secp256k1 r overflows", ErrInvalidSignature)
		}
		if overflow := s.SetByteSlice(sigBytes[32:]); overflow {
			return fmt.Errorf("%w: secp256k1 s overflows", ErrInvalidSignature)
		}
		// Only the low-s form is accepted; (r, n-s) verifies for the same key.
		if s.IsOverHalfOrder() {
			return fmt.Errorf("%w: secp256k1 s is not canonical", ErrInvalidSignature)
		}
		if !ecdsa.NewSignature(&r, &s).Verify(PersonalHash([]byte(message)), pubKey) {
			return fmt.Errorf("%w: secp256k1", ErrInvalidSignature)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedAlg, alg)
	}
}

// SignerAddress returns the ledger address controlled by publicKey.
func SignerAddress(alg, publicKey string) (string, error) {
	pub, err := decodeKey(publicKey)
	if err != nil {
		return "", err
	}
	return AddressForKey(alg, pub)
}

// AddressForKey maps raw public key bytes to an address. An ed25519 key is
// its own address; secp256k1 keys are hashed down to address size.
func AddressForKey(alg string, pub []byte) (string, error) {
	switch strings.ToLower(alg) {
	case AlgEd25519:
		a, err := address.FromBytes(pub)
		if err != nil {
			return "", err
		}
		return a.String(), nil
	case AlgSecp256k1:
		if _, err := secp256k1.ParsePubKey(pub); err != nil {
			return "", err
		}
		return address.Hash(pub).String(), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlg, alg)
	}
}

// PersonalHash is the digest secp256k1 keys sign.
func PersonalHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Senddit Signed Message:\n%d", len(msg))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prefix))
	h.Write(msg)
	return h.Sum(nil)
}

func decodeEd25519(pub, sig string) (ed25519.PublicKey, []byte, error) {
	pubBytes, sigBytes, err := decodePair(pub, sig)
	if err != nil {
		return nil, nil, err
	}
	if l := len(pubBytes); l != ed25519.PublicKeySize {
		return nil, nil, errors.New("invalid ed25519 public key length")
	}
	if l := len(sigBytes); l != ed25519.SignatureSize {
		return nil, nil, errors.New("invalid ed25519 signature length")
	}
	return ed25519.PublicKey(pubBytes), sigBytes, nil
}

func decodePair(pub, sig string) ([]byte, []byte, error) {
	pubBytes, err := decodeKey(pub)
	if err != nil {
		return nil, nil, err
	}
	sigBytes, err := decodeKey(sig)
	if err != nil {
		return nil, nil, err
	}
	return pubBytes, sigBytes, nil
}

func decodeKey(input string) ([]byte, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.New("empty key material")
	}
	if strings.HasPrefix(input, "0x") {
		return decodeHex(input)
	}
	if b, err := base58.Decode(input); err == nil {
		return b, nil
	}
	return decodeHex(input)
}

func decodeHex(input string) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(input), "0x")
	return hex.DecodeString(clean)
}
