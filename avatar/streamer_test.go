package avatar_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	metasync "github.com/Jfr3ds90/MetaAvatarsVR-sub002"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/avatar"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/classes"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/metasync_errors"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/playback"
	testutils "github.com/Jfr3ds90/MetaAvatarsVR-sub002/test_utils"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/utils"
)

type renderer struct {
	poses  [][]byte
	delays []time.Duration
}

func (r *renderer) Apply(_ context.Context, snap []byte, delay time.Duration) error {
	r.poses = append(r.poses, snap)
	r.delays = append(r.delays, delay)
	return nil
}

func setup(t *testing.T, capacity int) (a, b *metasync.Replica, sa, sb *avatar.Streamer, rb *renderer) {
	var err error
	a, err = metasync.Open(metasync.Options{Src: 0x1a, Logger: utils.NopLogger()})
	require.NoError(t, err)
	b, err = metasync.Open(metasync.Options{Src: 0x1b, Arbiter: 0x1a, Logger: utils.NopLogger()})
	require.NoError(t, err)
	unlink := testutils.Link(a, b)
	t.Cleanup(func() {
		unlink()
		_ = b.Close()
		_ = a.Close()
	})

	oid, err := a.Spawn(context.Background(), avatar.Class(capacity), 0)
	require.NoError(t, err)
	sa, err = avatar.NewStreamer(a, oid, avatar.Config{}, &renderer{})
	require.NoError(t, err)
	rb = &renderer{}
	sb, err = avatar.NewStreamer(b, oid, avatar.Config{Playback: playback.Config{Capacity: 2}}, rb)
	require.NoError(t, err)
	return
}

func TestStreamer_CaptureRender(t *testing.T) {
	a, _, sa, sb, rb := setup(t, 16)
	ctx := context.Background()

	require.NoError(t, sa.CaptureTick(ctx, []byte("p1")))
	require.NoError(t, a.Tick(ctx))
	applied, err := sb.RenderTick(ctx)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, [][]byte{[]byte("p1")}, rb.poses)
	assert.Equal(t, []time.Duration{playback.DefaultDelay}, rb.delays)

	// no new snapshot, the renderer keeps the last pose
	applied, err = sb.RenderTick(ctx)
	require.NoError(t, err)
	assert.False(t, applied)

	// receivers cannot capture
	assert.ErrorIs(t, sb.CaptureTick(ctx, []byte("x")), metasync_errors.ErrNotAuthority)
	// the authority does not play anything back
	applied, err = sa.RenderTick(ctx)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestStreamer_Burst(t *testing.T) {
	a, _, sa, sb, rb := setup(t, 16)
	ctx := context.Background()

	for _, p := range []string{"p1", "p2", "p3"} {
		require.NoError(t, sa.CaptureTick(ctx, []byte(p)))
		require.NoError(t, a.Tick(ctx))
		queued, err := sb.Poll()
		require.NoError(t, err)
		assert.True(t, queued)
	}
	// capacity 2: p1 was dropped
	assert.Equal(t, 2, sb.Queued())
	for i := 0; i < 3; i++ {
		_, err := sb.RenderTick(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, [][]byte{[]byte("p2"), []byte("p3")}, rb.poses)
}

func TestStreamer_Truncates(t *testing.T) {
	a, _, sa, sb, rb := setup(t, 4)
	ctx := context.Background()

	require.NoError(t, sa.CaptureTick(ctx, []byte("abcdefgh")))
	require.NoError(t, a.Tick(ctx))
	_, err := sb.RenderTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("abcd")}, rb.poses)
}

func TestNewStreamer_BadProperty(t *testing.T) {
	a, err := metasync.Open(metasync.Options{Src: 0x1a, Logger: utils.NopLogger()})
	require.NoError(t, err)
	defer a.Close()
	oid, err := a.Spawn(context.Background(), classes.Fields{{Name: "pose", Kind: classes.Int}}, 0)
	require.NoError(t, err)

	_, err = avatar.NewStreamer(a, oid, avatar.Config{}, &renderer{})
	assert.ErrorIs(t, err, avatar.ErrNotBuffer)
	_, err = avatar.NewStreamer(a, oid, avatar.Config{Key: "skeleton"}, &renderer{})
	assert.ErrorIs(t, err, metasync_errors.ErrUnknownField)
}
