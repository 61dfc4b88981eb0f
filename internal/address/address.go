package address

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

const Size = 32

var ErrInvalid = errors.New("invalid address")

// derivedMarker separates derived addresses from anything a key could hash to.
const derivedMarker = "senddit/derived"

type Address [Size]byte

func Parse(s string) (Address, error) {
	var a Address
	if s == "" {
		return a, fmt.Errorf("%w: empty", ErrInvalid)
	}
	b, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(b) != Size {
		return a, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalid, Size, len(b))
	}
	copy(a[:], b)
	return a, nil
}

func FromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != Size {
		return a, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalid, Size, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Hash returns the address of an arbitrary-length key.
func Hash(b []byte) Address {
	return Address(blake2b.Sum256(b))
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// Derive computes a deterministic record address owned by program. Each seed
// is length-prefixed so ("ab","c") and ("a","bc") never collide.
func Derive(program Address, seeds ...[]byte) Address {
	h, _ := blake2b.New256(nil)
	var n [8]byte
	for _, seed := range seeds {
		binary.BigEndian.PutUint64(n[:], uint64(len(seed)))
		h.Write(n[:])
		h.Write(seed)
	}
	h.Write(program[:])
	h.Write([]byte(derivedMarker))
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

// ProgramID maps a human program name onto an address.
func ProgramID(name string) Address {
	return Hash([]byte("senddit/program/" + name))
}
