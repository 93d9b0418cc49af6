package metasync

import (
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/classes"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/metasync_errors"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/protocol"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/rdx"
)

/*
Packets, all TLV, object packets start with I(oid):

	H{ S(src) N(name) }                       handshake
	O{ I A(authority) G(epoch) R(rev) P(policy) K{class} }  spawn
	X{ I }                                    despawn
	E{ I A(authority) G(epoch) R(rev) (F(off) value)* }  edit
	Q{ I S(requester) G(observed epoch) T(nonce) }  authority request
	A{ I S(new authority) G(new epoch) T(nonce) }   authority grant
	N{ I S(requester) G(current epoch) T(nonce) }   authority refusal
	C{ I S(caller) M(name) D(args) T(nonce) }       command
	B{ reason }                               bye

The nonce is picked by the peer that originates a packet. Q, N and C
change no replicated state, so relays tell repeats apart by nonce.
*/

type Policy byte

const (
	Transferable Policy = 'T'
	Fixed        Policy = 'F'
)

func (p Policy) String() string {
	if p == Fixed {
		return "fixed"
	}
	return "transferable"
}

func zipRecord(lit byte, u uint64) []byte {
	return protocol.TinyRecord(lit, rdx.ZipUint64(u))
}

func oidRecord(oid rdx.ID) []byte {
	return protocol.Record('I', oid.ZipBytes())
}

func headerBody(obj *object) []byte {
	return protocol.Concat(
		zipRecord('A', obj.authority),
		zipRecord('G', obj.epoch),
		zipRecord('R', obj.rev),
		protocol.TinyRecord('P', []byte{byte(obj.policy)}),
		protocol.Record('K', obj.class.Encode()),
	)
}

func spawnPacket(obj *object) []byte {
	return protocol.Record('O', oidRecord(obj.id), headerBody(obj))
}

func despawnPacket(oid rdx.ID) []byte {
	return protocol.Record('X', oidRecord(oid))
}

// editPacket carries the listed offsets, all of them if offs is nil.
func editPacket(obj *object, offs []int) []byte {
	body := protocol.Concat(
		oidRecord(obj.id),
		zipRecord('A', obj.authority),
		zipRecord('G', obj.epoch),
		zipRecord('R', obj.rev),
	)
	if offs == nil {
		for i := range obj.values {
			offs = append(offs, i+1)
		}
	}
	for _, off := range offs {
		body = protocol.Append(body, 'f', rdx.ZipUint64(uint64(off)))
		body = append(body, obj.values[off-1].Encode()...)
	}
	return protocol.Record('E', body)
}

func authorityPacket(lit byte, oid rdx.ID, src, epoch, nonce uint64) []byte {
	return protocol.Record(lit,
		oidRecord(oid),
		zipRecord('S', src),
		zipRecord('G', epoch),
		zipRecord('T', nonce),
	)
}

func commandPacket(oid rdx.ID, src uint64, name string, args []byte, nonce uint64) []byte {
	return protocol.Record('C',
		oidRecord(oid),
		zipRecord('S', src),
		protocol.Record('M', []byte(name)),
		protocol.Record('D', args),
		zipRecord('T', nonce),
	)
}

func handshakePacket(src uint64, name string) []byte {
	return protocol.Record('H', zipRecord('S', src), protocol.Record('N', []byte(name)))
}

func byePacket(reason string) []byte {
	return protocol.Record('B', []byte(reason))
}

// ParsePacket splits a packet into its type, object id and the rest of
// the body. H and B carry no object id, those return rdx.ID0.
func ParsePacket(pack []byte) (lit byte, oid rdx.ID, body []byte, err error) {
	lit, body, _, err = protocol.TakeAnyWary(pack)
	if err != nil {
		return 0, rdx.BadId, nil, err
	}
	switch lit {
	case 'H', 'B':
		return lit, rdx.ID0, body, nil
	case 'O', 'X', 'E', 'Q', 'A', 'N', 'C':
	default:
		return lit, rdx.BadId, nil, metasync_errors.ErrBadPacket
	}
	idb, body, err := protocol.TakeWary('I', body)
	if err != nil {
		return lit, rdx.BadId, nil, metasync_errors.ErrBadPacket
	}
	oid = rdx.IDFromZipBytes(idb)
	if oid == rdx.BadId {
		return lit, oid, nil, metasync_errors.ErrBadPacket
	}
	return lit, oid, body, nil
}

type header struct {
	authority, epoch, rev uint64
	policy                Policy
	class                 classes.Fields
}

func parseHeader(body []byte) (h header, err error) {
	a, body, e1 := protocol.TakeWary('A', body)
	g, body, e2 := protocol.TakeWary('G', body)
	r, body, e3 := protocol.TakeWary('R', body)
	p, body, e4 := protocol.TakeWary('P', body)
	k, _, e5 := protocol.TakeWary('K', body)
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil || e5 != nil || len(p) != 1 {
		return h, metasync_errors.ErrBadPacket
	}
	h.authority = rdx.UnzipUint64(a)
	h.epoch = rdx.UnzipUint64(g)
	h.rev = rdx.UnzipUint64(r)
	h.policy = Policy(p[0])
	if h.policy != Fixed && h.policy != Transferable {
		return h, metasync_errors.ErrBadPacket
	}
	h.class, err = classes.ParseClass(k)
	if err != nil {
		return h, metasync_errors.ErrBadClass
	}
	return h, nil
}

type edit struct {
	authority, epoch, rev uint64
	offs                  []int
	vals                  []Value
}

// parseEdit needs the class to know the kind of each value.
// A torn buffer fails the whole edit.
func parseEdit(body []byte, class classes.Fields) (e edit, err error) {
	a, body, e1 := protocol.TakeWary('A', body)
	g, body, e2 := protocol.TakeWary('G', body)
	r, body, e3 := protocol.TakeWary('R', body)
	if e1 != nil || e2 != nil || e3 != nil {
		return e, metasync_errors.ErrBadPacket
	}
	e.authority = rdx.UnzipUint64(a)
	e.epoch = rdx.UnzipUint64(g)
	e.rev = rdx.UnzipUint64(r)
	for len(body) > 0 {
		var offb []byte
		offb, body, err = protocol.TakeWary('F', body)
		if err != nil {
			return e, metasync_errors.ErrBadPacket
		}
		off := int(rdx.UnzipUint64(offb))
		field, ok := class.At(off)
		if !ok {
			return e, metasync_errors.ErrUnknownField
		}
		var v Value
		v, body, err = DecodeValue(field.Kind, body)
		if err != nil {
			return e, err
		}
		if field.Kind == classes.Buffer && v.Used() > field.Capacity {
			return e, metasync_errors.ErrCapacityExceeded
		}
		e.offs = append(e.offs, off)
		e.vals = append(e.vals, v)
	}
	return e, nil
}

type authorityMsg struct {
	src, epoch, nonce uint64
}

func parseAuthority(body []byte) (m authorityMsg, err error) {
	s, body, e1 := protocol.TakeWary('S', body)
	g, body, e2 := protocol.TakeWary('G', body)
	t, _, e3 := protocol.TakeWary('T', body)
	if e1 != nil || e2 != nil || e3 != nil {
		return m, metasync_errors.ErrBadPacket
	}
	return authorityMsg{
		src:   rdx.UnzipUint64(s),
		epoch: rdx.UnzipUint64(g),
		nonce: rdx.UnzipUint64(t),
	}, nil
}

type commandMsg struct {
	src   uint64
	name  string
	args  []byte
	nonce uint64
}

func parseCommand(body []byte) (c commandMsg, err error) {
	s, body, e1 := protocol.TakeWary('S', body)
	m, body, e2 := protocol.TakeWary('M', body)
	d, body, e3 := protocol.TakeWary('D', body)
	t, _, e4 := protocol.TakeWary('T', body)
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
		return c, metasync_errors.ErrBadPacket
	}
	return commandMsg{
		src:   rdx.UnzipUint64(s),
		name:  string(m),
		args:  d,
		nonce: rdx.UnzipUint64(t),
	}, nil
}

func ParseHandshake(body []byte) (src uint64, name string, err error) {
	s, body, e1 := protocol.TakeWary('S', body)
	n, _, e2 := protocol.TakeWary('N', body)
	if e1 != nil || e2 != nil {
		return 0, "", metasync_errors.ErrBadHPacket
	}
	return rdx.UnzipUint64(s), string(n), nil
}
