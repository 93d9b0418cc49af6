/*
Package protocol implements the TLV (type-length-value) framing every
replication packet travels in, and the Feeder/Drainer plumbing that moves
batches of records between replicas, sync sessions and sockets.

# Record format

Three header forms, picked by body size:

 1. Tiny, 1 byte, bodies of 0..9 bytes, lowercase types only:
    ['0'+len]. The type is lost and reads back as '0'.
 2. Short, 2 bytes, bodies up to 255 bytes: [lowercase type, len].
 3. Long, 5 bytes, bodies up to 2GB: [uppercase type, len as uint32 LE].

Record types are letters A..Z. Passing a lowercase letter to the encoders
allows the tiny form; an uppercase letter forces an explicit type.

Use Take/TakeAny on records produced locally and TakeWary/TakeAnyWary on
anything that came from the network.
*/
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const CaseBit uint8 = 'a' - 'A'

var (
	ErrIncomplete = errors.New("incomplete data")
	ErrBadRecord  = errors.New("bad TLV record format")
)

// ProbeHeader reads a record header.
// lit is 'A'..'Z', '0' for tiny records, '-' for garbage, 0 if more data is needed.
func ProbeHeader(data []byte) (lit byte, hdrlen, bodylen int) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	dlit := data[0]
	switch {
	case dlit >= '0' && dlit <= '9':
		return '0', 1, int(dlit - '0')
	case dlit >= 'a' && dlit <= 'z':
		if len(data) < 2 {
			return 0, 0, 0
		}
		return dlit - CaseBit, 2, int(data[1])
	case dlit >= 'A' && dlit <= 'Z':
		if len(data) < 5 {
			return 0, 0, 0
		}
		bl := binary.LittleEndian.Uint32(data[1:5])
		if bl > 0x7fffffff {
			return '-', 0, 0
		}
		return dlit, 5, int(bl)
	default:
		return '-', 0, 0
	}
}

// Split consumes complete records from the buffer; an incomplete tail
// stays in the buffer for the next read.
func Split(data *bytes.Buffer) (recs Records, err error) {
	for data.Len() > 0 {
		lit, hlen, blen := ProbeHeader(data.Bytes())
		if lit == '-' {
			if len(recs) == 0 {
				err = ErrBadRecord
			}
			return
		}
		if lit == 0 {
			return
		}
		if hlen+blen > data.Len() {
			err = errors.Join(ErrIncomplete, fmt.Errorf("packet size %d, len %d", hlen+blen, data.Len()))
			return
		}
		record := make([]byte, hlen+blen)
		_, _ = data.Read(record)
		recs = append(recs, record)
	}
	return
}

func AppendHeader(into []byte, lit byte, bodylen int) []byte {
	biglit := lit &^ CaseBit
	if biglit < 'A' || biglit > 'Z' {
		panic("TLV record type is A..Z")
	}
	switch {
	case bodylen < 10 && (lit&CaseBit) != 0:
		return append(into, byte('0'+bodylen))
	case bodylen > 0xff:
		if bodylen > 0x7fffffff {
			panic("oversized TLV record")
		}
		into = append(into, biglit)
		return binary.LittleEndian.AppendUint32(into, uint32(bodylen))
	default:
		return append(into, biglit|CaseBit, byte(bodylen))
	}
}

// Record makes a complete record out of body pieces.
func Record(lit byte, body ...[]byte) []byte {
	total := TotalLen(body)
	ret := make([]byte, 0, total+5)
	ret = AppendHeader(ret, lit, total)
	for _, b := range body {
		ret = append(ret, b...)
	}
	return ret
}

// TinyRecord is Record with the tiny form allowed.
func TinyRecord(lit byte, body []byte) []byte {
	return Record(lit|CaseBit, body)
}

func Append(into []byte, lit byte, body ...[]byte) []byte {
	into = AppendHeader(into, lit, TotalLen(body))
	for _, b := range body {
		into = append(into, b...)
	}
	return into
}

// Take extracts a record of the given type from trusted data.
// Incomplete data returns (nil, data), a type mismatch (nil, nil).
func Take(lit byte, data []byte) (body, rest []byte) {
	body, rest, _ = TakeWary(lit, data)
	return
}

func TakeWary(lit byte, data []byte) (body, rest []byte, err error) {
	flit, hdrlen, bodylen := ProbeHeader(data)
	if flit == 0 || hdrlen+bodylen > len(data) {
		return nil, data, ErrIncomplete
	}
	if flit != lit && flit != '0' {
		return nil, nil, ErrBadRecord
	}
	return data[hdrlen : hdrlen+bodylen], data[hdrlen+bodylen:], nil
}

func TakeAny(data []byte) (lit byte, body, rest []byte) {
	lit, body, rest, _ = TakeAnyWary(data)
	return
}

func TakeAnyWary(data []byte) (lit byte, body, rest []byte, err error) {
	flit, hdrlen, bodylen := ProbeHeader(data)
	if flit == '-' {
		return 0, nil, nil, ErrBadRecord
	}
	if flit == 0 || hdrlen+bodylen > len(data) {
		return 0, nil, data, ErrIncomplete
	}
	return flit, data[hdrlen : hdrlen+bodylen], data[hdrlen+bodylen:], nil
}

// Lit returns the canonical type of a record: 'A'..'Z', '0' or '-'.
func Lit(rec []byte) byte {
	if len(rec) == 0 {
		return '-'
	}
	b := rec[0]
	switch {
	case b >= 'a' && b <= 'z':
		return b - CaseBit
	case b >= 'A' && b <= 'Z':
		return b
	case b >= '0' && b <= '9':
		return '0'
	default:
		return '-'
	}
}

func TotalLen(inputs [][]byte) (sum int) {
	for _, input := range inputs {
		sum += len(input)
	}
	return
}

func Concat(msg ...[]byte) []byte {
	ret := make([]byte, 0, TotalLen(msg))
	for _, b := range msg {
		ret = append(ret, b...)
	}
	return ret
}
