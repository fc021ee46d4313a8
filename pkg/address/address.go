// Package address implements the 33-byte content/owner-derived block
// identifier used throughout the Doughnut storage stack.
package address

import (
	"encoding/hex"
	"fmt"
)

// Size is the total length of an Address: 32 content bytes plus one flag byte.
const Size = 33

// Flag encodes the block class an Address refers to, plus the "unflagged"
// legacy bit used for equality comparisons that must ignore class.
type Flag byte

const (
	// FlagUnflagged marks a legacy address with no class information. Two
	// addresses that differ only in flag byte are "unflagged equal".
	FlagUnflagged Flag = 0x00
	FlagMutable   Flag = 0x01
	FlagImmutable Flag = 0x02
	FlagNamed     Flag = 0x03
	FlagGroup     Flag = 0x04
	FlagUser      Flag = 0x05
)

// Address is a value type: it never owns any resource and is safe to copy,
// compare, and use as a map key.
type Address [Size]byte

// Null is the zero Address, used as a sentinel for "no owner".
var Null Address

// New builds an Address from 32 content bytes and a class flag.
func New(content [Size - 1]byte, flag Flag) Address {
	var a Address
	copy(a[:Size-1], content[:])
	a[Size-1] = byte(flag)
	return a
}

// FromBytes copies exactly Size bytes into an Address.
func FromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != Size {
		return a, fmt.Errorf("address: expected %d bytes, got %d", Size, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Bytes returns the raw 33-byte wire representation.
func (a Address) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, a[:])
	return out
}

// Flag returns the address's class flag.
func (a Address) Flag() Flag {
	return Flag(a[Size-1])
}

// WithFlag returns a copy of a with its flag byte replaced.
func (a Address) WithFlag(f Flag) Address {
	b := a
	b[Size-1] = byte(f)
	return b
}

// IsNull reports whether a is the zero Address.
func (a Address) IsNull() bool {
	return a == Null
}

// EqualUnflagged reports whether a and b carry the same content bytes,
// ignoring their flag byte. This is the equality notion used when an owner
// address is compared against an address whose flag may have been
// normalized independently.
func (a Address) EqualUnflagged(b Address) bool {
	return [Size - 1]byte(a[:Size-1]) == [Size - 1]byte(b[:Size-1])
}

// String renders the address as lowercase hex, matching the on-disk Silo
// key encoding.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// FirstByteHex returns the two-character hex encoding of the address's
// first byte, used as the Silo filesystem backend's shard directory name.
func (a Address) FirstByteHex() string {
	return hex.EncodeToString(a[:1])
}

// ParseString parses the hex encoding produced by String.
func ParseString(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("address: invalid hex: %w", err)
	}
	return FromBytes(b)
}
