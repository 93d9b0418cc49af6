package rdx

import (
	"encoding/binary"
	"math"
	"math/bits"
)

// ZipUint64 packs uint64 into a shortest possible little-endian byte string.
// Zero is the empty string.
func ZipUint64(v uint64) []byte {
	buf := [8]byte{}
	i := 0
	for v > 0 {
		buf[i] = uint8(v)
		v >>= 8
		i++
	}
	return buf[0:i]
}

func UnzipUint64(zip []byte) (v uint64) {
	for i := len(zip) - 1; i >= 0; i-- {
		v <<= 8
		v |= uint64(zip[i])
	}
	return
}

func byteLen(n uint64) int {
	return (bits.Len64(n) + 7) / 8
}

// ZipUint64Pair packs a pair of uint64 into a byte string:
// one byte holding both lengths (big<<4|lil) followed by both numbers.
// The smaller the ints, the shorter the string.
func ZipUint64Pair(big, lil uint64) []byte {
	bl, ll := byteLen(big), byteLen(lil)
	ret := make([]byte, 1+bl+ll)
	ret[0] = byte(bl<<4 | ll)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], big)
	copy(ret[1:1+bl], tmp[:bl])
	binary.LittleEndian.PutUint64(tmp[:], lil)
	copy(ret[1+bl:], tmp[:ll])
	return ret
}

func UnzipUint64Pair(zip []byte) (big, lil uint64) {
	big, lil, _ = UnzipUint64PairOK(zip)
	return
}

func UnzipUint64PairOK(zip []byte) (big, lil uint64, ok bool) {
	if len(zip) == 0 {
		return 0, 0, false
	}
	bl, ll := int(zip[0]>>4), int(zip[0]&0xf)
	if bl > 8 || ll > 8 || len(zip) != 1+bl+ll {
		return 0, 0, false
	}
	big = UnzipUint64(zip[1 : 1+bl])
	lil = UnzipUint64(zip[1+bl:])
	return big, lil, true
}

func ZigZagInt64(i int64) uint64 {
	return uint64(i<<1) ^ uint64(i>>63)
}

func ZagZigUint64(u uint64) int64 {
	half := u >> 1
	mask := -(u & 1)
	return int64(half ^ mask)
}

func ZipInt64(v int64) []byte {
	return ZipUint64(ZigZagInt64(v))
}

func UnzipInt64(zip []byte) int64 {
	return ZagZigUint64(UnzipUint64(zip))
}

// ZipFloat64 reverses the bits so that short mantissas zip short.
func ZipFloat64(f float64) []byte {
	return ZipUint64(bits.Reverse64(math.Float64bits(f)))
}

func UnzipFloat64(zip []byte) float64 {
	return math.Float64frombits(bits.Reverse64(UnzipUint64(zip)))
}
