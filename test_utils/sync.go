package testutils

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	metasync "github.com/Jfr3ds90/MetaAvatarsVR-sub002"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/metasync_errors"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/protocol"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/utils"
)

// linkHose delivers synchronously into the peer replica. Rejected
// packets are the receiver's business, the hose stays attached.
type linkHose struct {
	from string
	to   *metasync.Replica
}

func (h *linkHose) Drain(ctx context.Context, recs protocol.Records) error {
	err := h.to.DrainFrom(ctx, h.from, recs)
	if errors.Is(err, metasync_errors.ErrClosed) {
		return err
	}
	return nil
}

func (h *linkHose) Close() error {
	return nil
}

// Link connects two replicas both ways without a network: whatever one
// emits or relays is applied by the other before the call returns.
// Call the returned func to cut the link.
func Link(a, b *metasync.Replica) (unlink func()) {
	a.AttachHose(b.Name(), &linkHose{from: a.Name(), to: b})
	b.AttachHose(a.Name(), &linkHose{from: b.Name(), to: a})
	return func() {
		_ = a.RemovePacketHose(b.Name())
		_ = b.RemovePacketHose(a.Name())
	}
}

// SyncData runs one non-live session between a and b: each side sends
// its handshake and snapshot, then says bye.
func SyncData(a, b *metasync.Replica) error {
	synca := metasync.Syncer{
		Host:          a,
		Name:          b.Name(),
		WaitUntilNone: time.Second,
		Log:           utils.NewDefaultLogger(slog.LevelError),
	}
	syncb := metasync.Syncer{
		Host:          b,
		Name:          a.Name(),
		WaitUntilNone: time.Second,
		Log:           utils.NewDefaultLogger(slog.LevelError),
	}
	defer syncb.Close()
	defer synca.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	back := make(chan error, 1)
	go func() {
		back <- protocol.Pump(ctx, &syncb, &synca)
	}()
	err := protocol.Pump(ctx, &synca, &syncb)
	berr := <-back
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, io.EOF) {
		err = nil
	}
	if errors.Is(berr, io.EOF) {
		berr = nil
	}
	return errors.Join(err, berr)
}
