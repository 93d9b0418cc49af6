package protocol

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTLVAppend(t *testing.T) {
	buf := []byte{}
	buf = Append(buf, 'A', []byte{'A'})
	buf = Append(buf, 'b', []byte{'B', 'B'})
	assert.Equal(t, []byte{'a', 1, 'A', '2', 'B', 'B'}, buf)

	long := bytes.Repeat([]byte{'c'}, 256)
	buf = Append(buf, 'C', long)
	assert.Equal(t, 6+5+256, len(buf))
	assert.Equal(t, byte('C'), buf[6])

	lit, body, rest, err := TakeAnyWary(buf)
	require.NoError(t, err)
	assert.Equal(t, byte('A'), lit)
	assert.Equal(t, []byte{'A'}, body)

	body, rest, err = TakeWary('B', rest)
	require.NoError(t, err)
	assert.Equal(t, []byte{'B', 'B'}, body)

	body, rest, err = TakeWary('C', rest)
	require.NoError(t, err)
	assert.Equal(t, long, body)
	assert.Empty(t, rest)
}

func TestTLVErrors(t *testing.T) {
	rec := Record('E', []byte("hello"))

	_, rest, err := TakeWary('E', rec[:3])
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, rec[:3], rest)

	_, _, err = TakeWary('Q', rec)
	assert.ErrorIs(t, err, ErrBadRecord)

	_, _, _, err = TakeAnyWary([]byte{0x01, 2, 3})
	assert.ErrorIs(t, err, ErrBadRecord)
	assert.Equal(t, byte('-'), Lit([]byte{0x01}))
}

func TestTinyRecord(t *testing.T) {
	assert.Equal(t, "212", string(TinyRecord('X', []byte("12"))))
	lit, body, _ := TakeAny(TinyRecord('X', []byte("12")))
	assert.Equal(t, byte('0'), lit)
	assert.Equal(t, "12", string(body))
	// tiny bodies still pass a typed Take
	body, _ = Take('X', TinyRecord('X', []byte("12")))
	assert.Equal(t, "12", string(body))
}

func TestSplit(t *testing.T) {
	a := Record('A', []byte("first"))
	b := Record('B', bytes.Repeat([]byte{1}, 300))
	var buf bytes.Buffer
	buf.Write(a)
	buf.Write(b[:100])

	recs, err := Split(&buf)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, Records{a}, recs)
	assert.Equal(t, 100, buf.Len())

	buf.Write(b[100:])
	recs, err = Split(&buf)
	require.NoError(t, err)
	assert.Equal(t, Records{b}, recs)
	assert.Equal(t, int64(len(b)), recs.TotalLen())
	assert.Equal(t, byte('B'), recs.LastLit())
}

type sliceFeeder struct {
	batches []Records
}

func (f *sliceFeeder) Feed(ctx context.Context) (Records, error) {
	if len(f.batches) == 0 {
		return nil, io.EOF
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func TestPump(t *testing.T) {
	feeder := &sliceFeeder{batches: []Records{{[]byte("a")}, {[]byte("b"), []byte("c")}}}
	var got Records
	drain := DrainFunc(func(ctx context.Context, recs Records) error {
		got = append(got, recs.Clone()...)
		return nil
	})
	err := Pump(context.Background(), feeder, drain)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, Records{[]byte("a"), []byte("b"), []byte("c")}, got)
}
