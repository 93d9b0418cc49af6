package classes

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/protocol"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/rdx"
)

var ErrBadClass = errors.New("bad class record")

// Encode: one F{K(kind) N(name) C(capacity)} per field, in offset order.
func (fs Fields) Encode() []byte {
	var ret []byte
	for _, f := range fs {
		ret = protocol.Append(ret, 'F',
			protocol.TinyRecord('K', []byte{byte(f.Kind)}),
			protocol.Record('N', []byte(f.Name)),
			protocol.TinyRecord('C', rdx.ZipUint64(uint64(f.Capacity))),
		)
	}
	return ret
}

func ParseClass(tlv []byte) (fields Fields, err error) {
	rest := tlv
	for len(rest) > 0 {
		var body []byte
		body, rest, err = protocol.TakeWary('F', rest)
		if err != nil {
			return nil, errors.Join(ErrBadClass, err)
		}
		kind, body, err1 := protocol.TakeWary('K', body)
		name, body, err2 := protocol.TakeWary('N', body)
		capa, _, err3 := protocol.TakeWary('C', body)
		if err = errors.Join(err1, err2, err3); err != nil || len(kind) != 1 {
			return nil, errors.Join(ErrBadClass, err)
		}
		fields = append(fields, Field{
			Kind:     Kind(kind[0]),
			Name:     string(name),
			Capacity: int(rdx.UnzipUint64(capa)),
		})
	}
	if err = fields.Validate(); err != nil {
		return nil, errors.Join(ErrBadClass, err)
	}
	return fields, nil
}

// KindFromString accepts the names printed by Kind.String.
func KindFromString(s string) (Kind, bool) {
	for _, k := range []Kind{Int, Float, Bool, Enum, Buffer} {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// ParseFields reads the text form "hp:int pose:buffer:1200", one field
// per word, in offset order.
func ParseFields(words []string) (fields Fields, err error) {
	for _, w := range words {
		parts := strings.Split(w, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("%w: %q", ErrBadClass, w)
		}
		kind, ok := KindFromString(parts[1])
		if !ok {
			return nil, fmt.Errorf("%w: unknown kind %q", ErrBadClass, parts[1])
		}
		f := Field{Name: parts[0], Kind: kind}
		if len(parts) == 3 {
			if f.Capacity, err = strconv.Atoi(parts[2]); err != nil {
				return nil, fmt.Errorf("%w: %q", ErrBadClass, w)
			}
		}
		fields = append(fields, f)
	}
	if err = fields.Validate(); err != nil {
		return nil, errors.Join(ErrBadClass, err)
	}
	return fields, nil
}
