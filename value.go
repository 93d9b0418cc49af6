package metasync

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash"

	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/classes"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/metasync_errors"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/protocol"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/rdx"
)

// Value is a property value: one of the scalar kinds or a buffer.
// For a buffer, Buf holds exactly the used bytes.
type Value struct {
	Kind  classes.Kind
	Int   int64
	Float float64
	Bool  bool
	Enum  uint32
	Buf   []byte
}

func IntValue(i int64) Value     { return Value{Kind: classes.Int, Int: i} }
func FloatValue(f float64) Value { return Value{Kind: classes.Float, Float: f} }
func BoolValue(b bool) Value     { return Value{Kind: classes.Bool, Bool: b} }
func EnumValue(e uint32) Value   { return Value{Kind: classes.Enum, Enum: e} }

// BufferValue copies buf.
func BufferValue(buf []byte) Value {
	return Value{Kind: classes.Buffer, Buf: bytes.Clone(buf)}
}

func ZeroValue(kind classes.Kind) Value {
	return Value{Kind: kind}
}

// Used is the used length of a buffer value.
func (v Value) Used() int {
	return len(v.Buf)
}

// Equal compares exactly. Floats compare by bit pattern, so any
// bit-level change (a NaN payload, -0 vs +0) is a change.
func (v Value) Equal(b Value) bool {
	if v.Kind != b.Kind {
		return false
	}
	switch v.Kind {
	case classes.Int:
		return v.Int == b.Int
	case classes.Float:
		return math.Float64bits(v.Float) == math.Float64bits(b.Float)
	case classes.Bool:
		return v.Bool == b.Bool
	case classes.Enum:
		return v.Enum == b.Enum
	case classes.Buffer:
		return bytes.Equal(v.Buf, b.Buf)
	}
	return true
}

func (v Value) Clone() Value {
	if v.Buf != nil {
		v.Buf = bytes.Clone(v.Buf)
	}
	return v
}

func (v Value) String() string {
	switch v.Kind {
	case classes.Int:
		return fmt.Sprintf("%d", v.Int)
	case classes.Float:
		return fmt.Sprintf("%g", v.Float)
	case classes.Bool:
		return fmt.Sprintf("%t", v.Bool)
	case classes.Enum:
		return fmt.Sprintf("#%d", v.Enum)
	case classes.Buffer:
		return fmt.Sprintf("[%d bytes %016x]", len(v.Buf), xxhash.Sum64(v.Buf))
	}
	return "?"
}

// Encode produces the value record. A buffer is one record
// U{ L(length) H(xxhash64) bytes } so the length can never travel
// separately from the bytes it describes.
func (v Value) Encode() []byte {
	switch v.Kind {
	case classes.Int:
		return protocol.TinyRecord('I', rdx.ZipInt64(v.Int))
	case classes.Float:
		return protocol.TinyRecord('F', rdx.ZipFloat64(v.Float))
	case classes.Bool:
		b := []byte{0}
		if v.Bool {
			b[0] = 1
		}
		return protocol.TinyRecord('B', b)
	case classes.Enum:
		return protocol.TinyRecord('E', rdx.ZipUint64(uint64(v.Enum)))
	case classes.Buffer:
		var sum [8]byte
		binary.LittleEndian.PutUint64(sum[:], xxhash.Sum64(v.Buf))
		return protocol.Record('U',
			protocol.TinyRecord('L', rdx.ZipUint64(uint64(len(v.Buf)))),
			protocol.TinyRecord('H', sum[:]),
			v.Buf,
		)
	}
	return nil
}

// DecodeValue parses a value record of the expected kind.
func DecodeValue(kind classes.Kind, rec []byte) (v Value, rest []byte, err error) {
	lit, body, rest, err := protocol.TakeAnyWary(rec)
	if err != nil {
		return v, nil, err
	}
	if lit != byte(kind) && lit != '0' {
		return v, nil, metasync_errors.ErrWrongFieldType
	}
	v.Kind = kind
	switch kind {
	case classes.Int:
		v.Int = rdx.UnzipInt64(body)
	case classes.Float:
		v.Float = rdx.UnzipFloat64(body)
	case classes.Bool:
		v.Bool = len(body) > 0 && body[0] != 0
	case classes.Enum:
		v.Enum = uint32(rdx.UnzipUint64(body))
	case classes.Buffer:
		v.Buf, err = decodeBuffer(body)
	default:
		err = metasync_errors.ErrWrongFieldType
	}
	return v, rest, err
}

func decodeBuffer(body []byte) ([]byte, error) {
	l, body, err1 := protocol.TakeWary('L', body)
	h, body, err2 := protocol.TakeWary('H', body)
	if err1 != nil || err2 != nil || len(h) != 8 {
		return nil, metasync_errors.ErrTornBuffer
	}
	if uint64(len(body)) != rdx.UnzipUint64(l) ||
		xxhash.Sum64(body) != binary.LittleEndian.Uint64(h) {
		return nil, metasync_errors.ErrTornBuffer
	}
	if len(body) == 0 {
		return nil, nil
	}
	return bytes.Clone(body), nil
}
