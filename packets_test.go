package metasync

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/cespare/xxhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/classes"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/metasync_errors"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/protocol"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/rdx"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/utils"
)

var testClass = classes.Fields{
	{Name: "hp", Kind: classes.Int},
	{Name: "pose", Kind: classes.Buffer, Capacity: 64},
}

func openTest(t *testing.T, src, arbiter uint64) *Replica {
	r, err := Open(Options{Src: src, Arbiter: arbiter, Logger: utils.NopLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// spawnedOn spawns on a and hands the spawn packet to b.
func spawnedOn(t *testing.T, a, b *Replica) rdx.ID {
	oid, err := a.Spawn(context.Background(), testClass, 0)
	require.NoError(t, err)
	a.lock.Lock()
	spawn := spawnPacket(a.objects[oid])
	a.lock.Unlock()
	require.NoError(t, b.Drain(context.Background(), protocol.Records{spawn}))
	return oid
}

func rawEdit(oid rdx.ID, authority, epoch, rev uint64, props ...[]byte) []byte {
	body := protocol.Concat(
		oidRecord(oid),
		zipRecord('A', authority),
		zipRecord('G', epoch),
		zipRecord('R', rev),
	)
	for _, p := range props {
		body = append(body, p...)
	}
	return protocol.Record('E', body)
}

func prop(off int, value []byte) []byte {
	return protocol.Concat(protocol.TinyRecord('F', rdx.ZipUint64(uint64(off))), value)
}

func bufferRecord(declared int, hashed, payload []byte) []byte {
	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], xxhash.Sum64(hashed))
	return protocol.Record('U',
		protocol.TinyRecord('L', rdx.ZipUint64(uint64(declared))),
		protocol.TinyRecord('H', sum[:]),
		payload,
	)
}

func TestDrain_TornBuffer(t *testing.T) {
	a, b := openTest(t, 0xa, 0xa), openTest(t, 0xb, 0xa)
	ctx := context.Background()
	oid := spawnedOn(t, a, b)

	good := rawEdit(oid, 0xa, 0, 1,
		prop(1, IntValue(10).Encode()),
		prop(2, bufferRecord(5, []byte("hello"), []byte("hello"))),
	)
	require.NoError(t, b.Drain(ctx, protocol.Records{good}))
	got, err := b.Receive(oid, "pose")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	short := rawEdit(oid, 0xa, 0, 2,
		prop(1, IntValue(20).Encode()),
		prop(2, bufferRecord(10, []byte("hello"), []byte("hello"))),
	)
	garbled := rawEdit(oid, 0xa, 0, 3,
		prop(2, bufferRecord(5, []byte("hellp"), []byte("hello"))),
	)
	err = b.Drain(ctx, protocol.Records{short, garbled})
	assert.ErrorIs(t, err, metasync_errors.ErrTornBuffer)

	// the whole edit is dropped, the old value stays readable
	got, err = b.Receive(oid, "pose")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
	v, err := b.Read(oid, "hp")
	require.NoError(t, err)
	assert.Equal(t, int64(10), v.Int)
	info, err := b.Object(oid)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Rev)

	// over capacity on the wire is refused as well
	long := make([]byte, 65)
	err = b.Drain(ctx, protocol.Records{rawEdit(oid, 0xa, 0, 4, prop(2, bufferRecord(65, long, long)))})
	assert.ErrorIs(t, err, metasync_errors.ErrCapacityExceeded)
}

func TestDrain_EpochOrder(t *testing.T) {
	a, b := openTest(t, 0xa, 0xa), openTest(t, 0xb, 0xa)
	ctx := context.Background()
	oid := spawnedOn(t, a, b)

	var changes [][2]uint64
	b.AddAuthorityHook(oid, func(_ rdx.ID, prev, next uint64) {
		changes = append(changes, [2]uint64{prev, next})
	})

	grant := authorityPacket('A', oid, 0xc, 2, 1)
	require.NoError(t, b.Drain(ctx, protocol.Records{grant}))
	auth, err := b.Authority(oid)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xc), auth)

	// edits of a past epoch are late, not conflicting
	require.NoError(t, b.Drain(ctx, protocol.Records{rawEdit(oid, 0xa, 1, 5, prop(1, IntValue(1).Encode()))}))
	v, err := b.Read(oid, "hp")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.Int)

	require.NoError(t, b.Drain(ctx, protocol.Records{
		rawEdit(oid, 0xc, 2, 2, prop(1, IntValue(2).Encode())),
		rawEdit(oid, 0xc, 2, 1, prop(1, IntValue(1).Encode())),
		rawEdit(oid, 0xc, 2, 2, prop(1, IntValue(3).Encode())),
	}))
	v, err = b.Read(oid, "hp")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Int)

	// an edit of a newer epoch carries its authority along
	require.NoError(t, b.Drain(ctx, protocol.Records{rawEdit(oid, 0xd, 3, 1, prop(1, IntValue(4).Encode()))}))
	auth, err = b.Authority(oid)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xd), auth)
	v, err = b.Read(oid, "hp")
	require.NoError(t, err)
	assert.Equal(t, int64(4), v.Int)

	// a stale grant is ignored
	require.NoError(t, b.Drain(ctx, protocol.Records{authorityPacket('A', oid, 0xe, 2, 2)}))
	epoch, err := b.Epoch(oid)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), epoch)

	assert.Equal(t, [][2]uint64{{0xa, 0xc}, {0xc, 0xd}}, changes)
}

func TestDrain_LosingAuthorityDropsDirty(t *testing.T) {
	a := openTest(t, 0xa, 0xa)
	ctx := context.Background()
	oid, err := a.Spawn(ctx, testClass, 0)
	require.NoError(t, err)
	require.NoError(t, a.Write(oid, "hp", IntValue(5)))

	require.NoError(t, a.Drain(ctx, protocol.Records{authorityPacket('Q', oid, 0xb, 0, 1)}))
	assert.False(t, a.IsAuthority(oid))
	dirty, err := a.Dirty(oid)
	require.NoError(t, err)
	assert.Empty(t, dirty)

	// the next request names an outdated epoch
	hose := a.AddPacketHose("out")
	require.NoError(t, a.Drain(ctx, protocol.Records{authorityPacket('Q', oid, 0xc, 0, 1)}))
	recs, err := hose.Feed(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	lit, got, body, err := ParsePacket(recs[0])
	require.NoError(t, err)
	assert.Equal(t, byte('N'), lit)
	assert.Equal(t, oid, got)
	m, err := parseAuthority(body)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xc), m.src)
	assert.Equal(t, uint64(1), m.epoch)
}

func TestDrain_Malformed(t *testing.T) {
	a, b := openTest(t, 0xa, 0xa), openTest(t, 0xb, 0xa)
	ctx := context.Background()
	oid := spawnedOn(t, a, b)

	err := b.Drain(ctx, protocol.Records{
		protocol.Record('Z', []byte("what")),
		protocol.Record('E', []byte("garbage")),
		rawEdit(oid, 0xa, 0, 1, prop(7, IntValue(1).Encode())),
		rawEdit(oid, 0xa, 0, 1, prop(1, IntValue(9).Encode())),
	})
	assert.ErrorIs(t, err, metasync_errors.ErrBadPacket)
	assert.ErrorIs(t, err, metasync_errors.ErrUnknownField)

	// the rest of the batch still applies
	v, err := b.Read(oid, "hp")
	require.NoError(t, err)
	assert.Equal(t, int64(9), v.Int)

	// edits for objects never seen are ignored
	assert.NoError(t, b.Drain(ctx, protocol.Records{rawEdit(rdx.NewID(0xf, 1), 0xf, 0, 1)}))
}

func TestDrainFrom_Relay(t *testing.T) {
	a, b := openTest(t, 0xa, 0xa), openTest(t, 0xb, 0xa)
	ctx := context.Background()
	oid := spawnedOn(t, a, b)

	x, y := b.AddPacketHose("x"), b.AddPacketHose("y")
	edit := rawEdit(oid, 0xa, 0, 1, prop(1, IntValue(1).Encode()))
	require.NoError(t, b.DrainFrom(ctx, "x", protocol.Records{
		handshakePacket(0xa, "a"),
		edit,
		byePacket("done"),
	}))

	recs, err := y.Feed(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.Records{edit}, recs)

	// repeats change nothing and stop here
	request := authorityPacket('Q', oid, 0xc, 0, 9)
	require.NoError(t, b.DrainFrom(ctx, "x", protocol.Records{edit, spawnPacket(b.objects[oid]), request}))
	require.NoError(t, b.DrainFrom(ctx, "x", protocol.Records{request}))
	recs, err = y.Feed(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.Records{request}, recs)
	assert.Equal(t, 0, y.(*utils.RecordQueue[protocol.Records]).Len())

	require.NoError(t, x.Close())
	_, err = x.Feed(ctx)
	assert.ErrorIs(t, err, utils.ErrClosed)
}

func TestPackets_Parse(t *testing.T) {
	lit, oid, body, err := ParsePacket(handshakePacket(0x1f, "hall"))
	require.NoError(t, err)
	assert.Equal(t, byte('H'), lit)
	assert.Equal(t, rdx.ID0, oid)
	src, name, err := ParseHandshake(body)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1f), src)
	assert.Equal(t, "hall", name)

	id := rdx.NewID(0x1f, 0x2e)
	lit, oid, body, err = ParsePacket(commandPacket(id, 0x3, "wave", []byte{1, 2}, 77))
	require.NoError(t, err)
	assert.Equal(t, byte('C'), lit)
	assert.Equal(t, id, oid)
	c, err := parseCommand(body)
	require.NoError(t, err)
	assert.Equal(t, commandMsg{src: 3, name: "wave", args: []byte{1, 2}, nonce: 77}, c)

	obj := newObject(id, header{authority: 0x1f, epoch: 4, rev: 9, policy: Fixed, class: testClass})
	_, _, body, err = ParsePacket(spawnPacket(obj))
	require.NoError(t, err)
	h, err := parseHeader(body)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1f), h.authority)
	assert.Equal(t, uint64(4), h.epoch)
	assert.Equal(t, uint64(9), h.rev)
	assert.Equal(t, Fixed, h.policy)
	assert.Equal(t, testClass, h.class)

	_, _, _, err = ParsePacket(protocol.Record('X', []byte("no id")))
	assert.ErrorIs(t, err, metasync_errors.ErrBadPacket)
	_, _, err = ParseHandshake([]byte("junk"))
	assert.ErrorIs(t, err, metasync_errors.ErrBadHPacket)
}

func TestValue_Decode(t *testing.T) {
	for _, v := range []Value{
		IntValue(-7), FloatValue(0.25), BoolValue(true), EnumValue(12), BufferValue([]byte("xy")),
	} {
		got, rest, err := DecodeValue(v.Kind, v.Encode())
		require.NoError(t, err, v.String())
		assert.Empty(t, rest)
		assert.True(t, v.Equal(got), v.String())
	}
	zero, _, err := DecodeValue(classes.Buffer, BufferValue(nil).Encode())
	require.NoError(t, err)
	assert.Nil(t, zero.Buf)

	_, _, err = DecodeValue(classes.Int, BufferValue([]byte("xy")).Encode())
	assert.ErrorIs(t, err, metasync_errors.ErrWrongFieldType)
}
