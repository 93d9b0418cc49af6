package rdx

import (
	"encoding/binary"
	"errors"
	"strconv"
)

/*
ID identifies a replicated object within a session.

	+----------------+----------------+
	| source (64)    | sequence (64)  |
	+----------------+----------------+

The source is the src of the peer that spawned the object, the
sequence is that peer's spawn counter. Authority may move, the ID
never changes.
*/
type ID struct {
	src uint64
	seq uint64
}

var ID0 ID = ID{}

var BadId = ID{^uint64(0), ^uint64(0)}

var ErrBadID = errors.New("bad object id")

func NewID(src, seq uint64) ID {
	return ID{src, seq}
}

// Src is the spawning peer. That is normally a small number.
func (id ID) Src() uint64 {
	return id.src
}

func (id ID) Seq() uint64 {
	return id.seq
}

func (id ID) Next() ID {
	return ID{id.src, id.seq + 1}
}

func (id ID) Less(other ID) bool {
	if id.src != other.src {
		return id.src < other.src
	}
	return id.seq < other.seq
}

// Compare orders ids like Less, for slices.SortFunc.
func (id ID) Compare(other ID) int {
	switch {
	case id.Less(other):
		return -1
	case other.Less(id):
		return 1
	}
	return 0
}

func (id ID) IsZero() bool {
	return id == ID0
}

// Bytes is the fixed-width big-endian form, sortable; used in storage keys.
func (id ID) Bytes() []byte {
	var ret [16]byte
	binary.BigEndian.PutUint64(ret[:8], id.src)
	binary.BigEndian.PutUint64(ret[8:16], id.seq)
	return ret[:]
}

func IDFromBytes(by []byte) ID {
	if len(by) < 16 {
		return BadId
	}
	return ID{
		src: binary.BigEndian.Uint64(by[:8]),
		seq: binary.BigEndian.Uint64(by[8:16]),
	}
}

// ZipBytes is the compact wire form.
func (id ID) ZipBytes() []byte {
	return ZipUint64Pair(id.src, id.seq)
}

func IDFromZipBytes(zip []byte) ID {
	src, seq, ok := UnzipUint64PairOK(zip)
	if !ok {
		return BadId
	}
	return ID{src, seq}
}

// String renders "src-seq" in hex, e.g. "1a-3".
func (id ID) String() string {
	var buf [40]byte
	b := buf[:0]
	b = strconv.AppendUint(b, id.src, 16)
	b = append(b, '-')
	b = strconv.AppendUint(b, id.seq, 16)
	return string(b)
}

func IDFromString(idstr string) (ID, error) {
	var parts [2]uint64
	p := 0
	digits := 0
	for i := 0; i < len(idstr); i++ {
		c := idstr[i]
		switch {
		case c >= '0' && c <= '9':
			parts[p] = parts[p]<<4 | uint64(c-'0')
		case c >= 'a' && c <= 'f':
			parts[p] = parts[p]<<4 | uint64(10+c-'a')
		case c >= 'A' && c <= 'F':
			parts[p] = parts[p]<<4 | uint64(10+c-'A')
		case c == '-' && p == 0 && digits > 0:
			p++
			digits = 0
			continue
		default:
			return BadId, ErrBadID
		}
		digits++
		if digits > 16 {
			return BadId, ErrBadID
		}
	}
	if p != 1 || digits == 0 {
		return BadId, ErrBadID
	}
	return ID{parts[0], parts[1]}, nil
}
