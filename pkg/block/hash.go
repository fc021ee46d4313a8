package block

import (
	"crypto/sha256"

	"github.com/cuemby/doughnut/pkg/address"
)

// ContentAddress derives the CHB address of payload, optionally bound to an
// owner address. When owner is nil the block is removable by anyone.
func ContentAddress(payload []byte, owner *address.Address) address.Address {
	h := sha256.New()
	h.Write(payload)
	if owner != nil {
		h.Write(owner[:])
	}
	var content [address.Size - 1]byte
	copy(content[:], h.Sum(nil))
	return address.New(content, address.FlagImmutable)
}

// OwnerAddress derives the OKB/ACB/GB address for an owner key and salt.
func OwnerAddress(owner PublicKey, salt []byte, flag address.Flag) address.Address {
	h := sha256.New()
	h.Write(owner)
	h.Write(salt)
	var content [address.Size - 1]byte
	copy(content[:], h.Sum(nil))
	return address.New(content, flag)
}

// NamedAddress derives the NB address for an owner key and name.
func NamedAddress(owner PublicKey, name string) address.Address {
	h := sha256.New()
	h.Write([]byte("NB"))
	h.Write(owner)
	h.Write([]byte(name))
	var content [address.Size - 1]byte
	copy(content[:], h.Sum(nil))
	return address.New(content, address.FlagNamed)
}

// UserAddress derives the UB address for an owner key and username.
func UserAddress(owner PublicKey, username string) address.Address {
	h := sha256.New()
	h.Write([]byte("UB"))
	h.Write(owner)
	h.Write([]byte(username))
	var content [address.Size - 1]byte
	copy(content[:], h.Sum(nil))
	return address.New(content, address.FlagUser)
}
