// Package identity loads, generates and persists the keypairs that sign
// senddit transactions. A keypair's address is the caller identity the ledger
// checks authority against.
package identity

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/alphabot-ai/senddit/internal/auth"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/mr-tron/base58"
)

const secp256k1PEMType = "SECP256K1 PRIVATE KEY"

type Keypair interface {
	Alg() string
	PublicKey() []byte
	// PublicKeyString is the base58 public key carried in signed transactions.
	PublicKeyString() string
	Address() string
	Sign(message []byte) ([]byte, error)
}

func Generate(alg string) (Keypair, error) {
	switch strings.ToLower(alg) {
	case "", auth.AlgEd25519:
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, err
		}
		return NewEd25519(priv), nil
	case auth.AlgSecp256k1:
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		return NewSecp256k1(priv), nil
	default:
		return nil, fmt.Errorf("%w: %s", auth.ErrUnsupportedAlg, alg)
	}
}

// LoadOrCreate loads the keypair stored at path, generating and saving a new
// one with alg if the file is missing or empty. Key files are PEM with 0600
// permissions.
func LoadOrCreate(path, alg string) (Keypair, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		kp, err := Generate(alg)
		if err != nil {
			return nil, err
		}
		if err := Save(path, kp); err != nil {
			return nil, err
		}
		return kp, nil
	}
	if err != nil {
		return nil, err
	}
	return Load(path)
}

func Load(path string) (Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block from key file")
	}

	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		priv, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, errors.New("key is not an ed25519 private key")
		}
		return NewEd25519(priv), nil
	case secp256k1PEMType:
		if len(block.Bytes) != secp256k1.PrivKeyBytesLen {
			return nil, errors.New("invalid secp256k1 private key length")
		}
		return NewSecp256k1(secp256k1.PrivKeyFromBytes(block.Bytes)), nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", block.Type)
	}
}

func Save(path string, kp Keypair) error {
	var block *pem.Block
	switch k := kp.(type) {
	case *Ed25519:
		der, err := x509.MarshalPKCS8PrivateKey(k.priv)
		if err != nil {
			return err
		}
		block = &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	case *Secp256k1:
		block = &pem.Block{Type: secp256k1PEMType, Bytes: k.priv.Serialize()}
	default:
		return fmt.Errorf("cannot persist %T", kp)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()
	return pem.Encode(file, block)
}

type Ed25519 struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func NewEd25519(priv ed25519.PrivateKey) *Ed25519 {
	return &Ed25519{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

func (k *Ed25519) Alg() string             { return auth.AlgEd25519 }
func (k *Ed25519) PublicKey() []byte       { return k.pub }
func (k *Ed25519) PublicKeyString() string { return base58.Encode(k.pub) }
func (k *Ed25519) Address() string         { return base58.Encode(k.pub) }

func (k *Ed25519) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, message), nil
}

type Secp256k1 struct {
	priv *secp256k1.PrivateKey
	pub  []byte
	addr string
}

func NewSecp256k1(priv *secp256k1.PrivateKey) *Secp256k1 {
	pub := priv.PubKey().SerializeCompressed()
	addr, _ := auth.AddressForKey(auth.AlgSecp256k1, pub)
	return &Secp256k1{priv: priv, pub: pub, addr: addr}
}

func (k *Secp256k1) Alg() string             { return auth.AlgSecp256k1 }
func (k *Secp256k1) PublicKey() []byte       { return k.pub }
func (k *Secp256k1) PublicKeyString() string { return base58.Encode(k.pub) }
func (k *Secp256k1) Address() string         { return k.addr }

// Sign returns the 64-byte r||s signature over the personal message hash.
func (k *Secp256k1) Sign(message []byte) ([]byte, error) {
	compact := ecdsa.SignCompact(k.priv, auth.PersonalHash(message), true)
	return compact[1:], nil
}
