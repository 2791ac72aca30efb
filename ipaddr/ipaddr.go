// Package ipaddr provides the family-parameterised IP address
// representation used throughout the pipeline: parsing, the numeric
// form used as the global node-index key, and the bucket-key functions
// that are part of the on-disk shard contract — changing these
// functions without changing the bucket count breaks every shard file
// already on disk.
package ipaddr

import (
	"fmt"
	"net"

	"github.com/m-lab/traceroute-graph/errkind"
)

// Family is the address family the pipeline was configured for.
type Family int

const (
	// V4 selects IPv4 addresses.
	V4 Family = iota
	// V6 selects IPv6 addresses.
	V6
)

func (f Family) String() string {
	if f == V4 {
		return "V4"
	}
	return "V6"
}

// ParseFamily parses the address_type config value ("V4" or "V6").
func ParseFamily(s string) (Family, error) {
	switch s {
	case "V4":
		return V4, nil
	case "V6":
		return V6, nil
	default:
		return 0, fmt.Errorf("unknown address_type %q", s)
	}
}

// Key128 is the 128-bit unsigned numeric form of an address, used as
// the global IP→ID index key. V4 addresses occupy it zero-extended,
// matching the original pipeline's u128::from(u32) widening.
type Key128 struct {
	Hi uint64
	Lo uint64
}

// Address is a parsed IP address together with the family it was
// parsed under.
type Address struct {
	Family Family
	ip     net.IP // 4 bytes for V4, 16 bytes for V6
}

// Parse parses s under the expected family. A mismatched family (valid
// IP, wrong length for what was configured) is errkind.ErrWrongFamily,
// not a parse failure — this lets the caller count it separately from
// genuine parse errors.
func Parse(s string, expected Family) (Address, error) {
	parsed := net.ParseIP(s)
	if parsed == nil {
		return Address{}, errkind.ErrRecordParse
	}

	if v4 := parsed.To4(); v4 != nil {
		if expected != V4 {
			return Address{}, errkind.ErrWrongFamily
		}
		return Address{Family: V4, ip: v4}, nil
	}

	if expected != V6 {
		return Address{}, errkind.ErrWrongFamily
	}
	return Address{Family: V6, ip: parsed.To16()}, nil
}

// Bytes returns the address's big-endian byte representation: 4 bytes
// for V4, 16 for V6.
func (a Address) Bytes() []byte {
	return a.ip
}

// FromBytes reconstructs an Address from its big-endian byte form, as
// produced by Bytes. family must match the slice length (4 bytes for
// V4, 16 for V6).
func FromBytes(b []byte, family Family) (Address, error) {
	switch family {
	case V4:
		if len(b) != 4 {
			return Address{}, fmt.Errorf("%w: expected 4 bytes for V4, got %d", errkind.ErrRecordParse, len(b))
		}
	case V6:
		if len(b) != 16 {
			return Address{}, fmt.Errorf("%w: expected 16 bytes for V6, got %d", errkind.ErrRecordParse, len(b))
		}
	default:
		return Address{}, fmt.Errorf("%w: unknown family %v", errkind.ErrRecordParse, family)
	}
	cp := make(net.IP, len(b))
	copy(cp, b)
	return Address{Family: family, ip: cp}, nil
}

// String renders the address in its usual textual form.
func (a Address) String() string {
	return a.ip.String()
}

// Key returns the 128-bit numeric form used as the node-index key.
func (a Address) Key() Key128 {
	if a.Family == V4 {
		b := a.ip
		lo := uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3])
		return Key128{Hi: 0, Lo: lo}
	}
	b := a.ip
	hi := beUint64(b[0:8])
	lo := beUint64(b[8:16])
	return Key128{Hi: hi, Lo: lo}
}

// AddressFromKey reconstructs an Address from its numeric Key128 form
// under the given family, the inverse of Key.
func AddressFromKey(key Key128, family Family) Address {
	if family == V4 {
		b := []byte{
			byte(key.Lo >> 24),
			byte(key.Lo >> 16),
			byte(key.Lo >> 8),
			byte(key.Lo),
		}
		return Address{Family: V4, ip: net.IP(b)}
	}
	b := make([]byte, 16)
	for i := 0; i < 8; i++ {
		b[i] = byte(key.Hi >> uint(56-8*i))
		b[8+i] = byte(key.Lo >> uint(56-8*i))
	}
	return Address{Family: V6, ip: net.IP(b)}
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// BucketV4 computes the bucket id for an IPv4 address: the 2nd and 4th
// byte, most-significant-byte first, XORed together.
func BucketV4(b []byte) uint8 {
	return b[1] ^ b[3]
}

// BucketV6 computes the bucket id for an IPv6 address: the 8th and
// 16th byte, most-significant-byte first, XORed together.
func BucketV6(b []byte) uint8 {
	return b[7] ^ b[15]
}

// BucketKey dispatches to BucketV4 or BucketV6 based on the address's
// family. This, plus BucketV4/BucketV6 themselves, is part of the
// on-disk shard contract: every shard ever written used this function,
// so it must never change without a matching bump to the bucket-count
// constant.
func (a Address) BucketKey() uint8 {
	if a.Family == V4 {
		return BucketV4(a.ip)
	}
	return BucketV6(a.ip)
}

// BucketCount is the fixed number of shards, one per possible bucket
// key byte value.
const BucketCount = 256
