package classifier

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"net"
	"strconv"
	"strings"

	"NetSpectra/internal/model"
)

const (
	IPByteSize    = 16
	PortByteSize  = 2
	ProtoByteSize = 1

	MaxKeySize = 37 // IPv6(16) + IPv6(16) + Port(2) + Port(2) + Proto(1) = 37
)

// KeyLayout packs the configured 5-tuple fields into a fixed-size byte key.
type KeyLayout struct {
	fields []string
	size   int
}

// NewKeyLayout validates fields and computes the key size.
func NewKeyLayout(fields []string) (*KeyLayout, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("no key fields given")
	}
	size := 0
	for _, f := range fields {
		n := fieldByteSize(f)
		if n == 0 {
			return nil, fmt.Errorf("unknown key field: %s", f)
		}
		size += n
	}
	return &KeyLayout{fields: fields, size: size}, nil
}

// Size returns the encoded key length in bytes.
func (k *KeyLayout) Size() int {
	return k.size
}

// Fields returns the key fields in encoding order.
func (k *KeyLayout) Fields() []string {
	return k.fields
}

// HasPorts reports whether the key needs transport ports.
func (k *KeyLayout) HasPorts() bool {
	for _, f := range k.fields {
		if f == "SrcPort" || f == "DstPort" {
			return true
		}
	}
	return false
}

// Encode writes the key of ft into buf, which must hold Size() bytes.
func (k *KeyLayout) Encode(buf []byte, ft *model.FiveTuple) {
	offset := 0
	for _, f := range k.fields {
		switch f {
		case "SrcIP":
			putIP(buf[offset:offset+IPByteSize], ft.SrcIP)
			offset += IPByteSize
		case "DstIP":
			putIP(buf[offset:offset+IPByteSize], ft.DstIP)
			offset += IPByteSize
		case "SrcPort":
			binary.BigEndian.PutUint16(buf[offset:], ft.SrcPort)
			offset += PortByteSize
		case "DstPort":
			binary.BigEndian.PutUint16(buf[offset:], ft.DstPort)
			offset += PortByteSize
		case "Protocol":
			buf[offset] = ft.Protocol
			offset += ProtoByteSize
		}
	}
}

// Decode turns an encoded key back into its printable form and field values.
func (k *KeyLayout) Decode(key []byte) (string, map[string]interface{}) {
	parts := make([]string, len(k.fields))
	fields := make(map[string]interface{}, len(k.fields))
	offset := 0
	for i, f := range k.fields {
		switch f {
		case "SrcIP", "DstIP":
			ip := net.IP(key[offset : offset+IPByteSize])
			if v4 := ip.To4(); v4 != nil {
				ip = v4
			}
			parts[i] = ip.String()
			fields[f] = parts[i]
			offset += IPByteSize
		case "SrcPort", "DstPort":
			port := binary.BigEndian.Uint16(key[offset:])
			parts[i] = strconv.Itoa(int(port))
			fields[f] = port
			offset += PortByteSize
		case "Protocol":
			proto := key[offset]
			parts[i] = strconv.Itoa(int(proto))
			fields[f] = proto
			offset += ProtoByteSize
		}
	}
	return strings.Join(parts, "-"), fields
}

func putIP(dst []byte, ip net.IP) {
	if ip16 := ip.To16(); ip16 != nil {
		copy(dst, ip16)
		return
	}
	clear(dst)
}

func fieldByteSize(field string) int {
	switch field {
	case "SrcIP", "DstIP":
		return IPByteSize
	case "SrcPort", "DstPort":
		return PortByteSize
	case "Protocol":
		return ProtoByteSize
	default:
		return 0
	}
}

const (
	c1_32 uint32 = 0xcc9e2d51
	c2_32 uint32 = 0x1b873593
)

// MurmurHash3 is the 32-bit x86 variant of MurmurHash3.
func MurmurHash3(data []byte, seed uint32) (h1 uint32) {
	h1 = seed
	clen := uint32(len(data))
	for len(data) >= 4 {
		k1 := binary.LittleEndian.Uint32(data)
		data = data[4:]

		k1 *= c1_32
		k1 = bits.RotateLeft32(k1, 15)
		k1 *= c2_32

		h1 ^= k1
		h1 = bits.RotateLeft32(h1, 13)
		h1 = h1*5 + 0xe6546b64
	}
	var k1 uint32
	switch len(data) {
	case 3:
		k1 ^= uint32(data[2]) << 16
		fallthrough
	case 2:
		k1 ^= uint32(data[1]) << 8
		fallthrough
	case 1:
		k1 ^= uint32(data[0])
		k1 *= c1_32
		k1 = bits.RotateLeft32(k1, 15)
		k1 *= c2_32
		h1 ^= k1
	}

	h1 ^= clen

	h1 ^= h1 >> 16
	h1 *= 0x85ebca6b
	h1 ^= h1 >> 13
	h1 *= 0xc2b2ae35
	h1 ^= h1 >> 16

	return h1
}
