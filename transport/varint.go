package transport

import "encoding/binary"

// The compact variable-length integer encoding used in voice packet
// headers. The leading bits of the first byte select the width:
//
//	0xxxxxxx            7-bit value
//	10xxxxxx B          14-bit value
//	110xxxxx B B        21-bit value
//	1110xxxx B B B      28-bit value
//	111100__ B B B B    32-bit value
//	111101__ B*8        64-bit value
//	111110__ <varint>   bitwise complement of the following varint
//	111111xx            complement of the low two bits (-1..-4)

// AppendVarint appends the varint encoding of v to dst and returns
// the extended slice.
func AppendVarint(dst []byte, v int64) []byte {
	i := uint64(v)

	// Negative values encode the complement, either inline for the
	// smallest four or recursively for the rest.
	if v < 0 {
		i = ^i
		if i <= 0x3 {
			return append(dst, 0xFC|byte(i))
		}
		dst = append(dst, 0xF8)
	}

	switch {
	case i < 0x80:
		return append(dst, byte(i))
	case i < 0x4000:
		return append(dst, 0x80|byte(i>>8), byte(i))
	case i < 0x200000:
		return append(dst, 0xC0|byte(i>>16), byte(i>>8), byte(i))
	case i < 0x10000000:
		return append(dst, 0xE0|byte(i>>24), byte(i>>16), byte(i>>8), byte(i))
	case i < 0x100000000:
		dst = append(dst, 0xF0)
		return binary.BigEndian.AppendUint32(dst, uint32(i))
	default:
		dst = append(dst, 0xF4)
		return binary.BigEndian.AppendUint64(dst, i)
	}
}

// DecodeVarint decodes one varint from the front of data, returning
// the value and the number of bytes consumed.
func DecodeVarint(data []byte) (int64, int, error) {
	if len(data) == 0 {
		return 0, 0, ErrVarintTruncated
	}

	b := data[0]
	switch {
	case b&0x80 == 0x00:
		return int64(b & 0x7F), 1, nil

	case b&0xC0 == 0x80:
		if len(data) < 2 {
			return 0, 0, ErrVarintTruncated
		}
		return int64(b&0x3F)<<8 | int64(data[1]), 2, nil

	case b&0xE0 == 0xC0:
		if len(data) < 3 {
			return 0, 0, ErrVarintTruncated
		}
		return int64(b&0x1F)<<16 | int64(data[1])<<8 | int64(data[2]), 3, nil

	case b&0xF0 == 0xE0:
		if len(data) < 4 {
			return 0, 0, ErrVarintTruncated
		}
		return int64(b&0x0F)<<24 | int64(data[1])<<16 | int64(data[2])<<8 | int64(data[3]), 4, nil

	case b&0xFC == 0xF0:
		if len(data) < 5 {
			return 0, 0, ErrVarintTruncated
		}
		return int64(binary.BigEndian.Uint32(data[1:5])), 5, nil

	case b&0xFC == 0xF4:
		if len(data) < 9 {
			return 0, 0, ErrVarintTruncated
		}
		return int64(binary.BigEndian.Uint64(data[1:9])), 9, nil

	case b&0xFC == 0xF8:
		v, n, err := DecodeVarint(data[1:])
		if err != nil {
			return 0, 0, err
		}
		return ^v, n + 1, nil

	default: // 0xFC..0xFF
		return ^int64(b & 0x03), 1, nil
	}
}
