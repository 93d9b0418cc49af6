package counters

import (
	"context"
	"time"

	metasync "github.com/Jfr3ds90/MetaAvatarsVR-sub002"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/classes"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/host"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/rdx"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/utils"
)

const (
	RemainingKey = "remaining"
	RunningKey   = "running"
)

// TimerClass: remaining seconds and whether the countdown runs.
var TimerClass = classes.Fields{
	{Name: RemainingKey, Kind: classes.Float},
	{Name: RunningKey, Kind: classes.Bool},
}

// Timer is a replicated countdown. Only the authority advances it;
// Start and Stop may be called anywhere and are forwarded.
type Timer struct {
	host host.Host
	oid  rdx.ID
}

func NewTimer(h host.Host, oid rdx.ID) *Timer {
	return &Timer{host: h, oid: oid}
}

func (t *Timer) Start(ctx context.Context, d time.Duration) error {
	if err := t.host.WriteOrForward(ctx, t.oid, RemainingKey, metasync.FloatValue(d.Seconds())); err != nil {
		return err
	}
	return t.host.WriteOrForward(ctx, t.oid, RunningKey, metasync.BoolValue(d > 0))
}

func (t *Timer) Stop(ctx context.Context) error {
	return t.host.WriteOrForward(ctx, t.oid, RunningKey, metasync.BoolValue(false))
}

// Advance counts down by dt. It stops the timer at zero and does
// nothing on a peer that is not the authority.
func (t *Timer) Advance(dt time.Duration) error {
	if !t.host.IsAuthority(t.oid) {
		return nil
	}
	running, err := t.Running()
	if err != nil || !running {
		return err
	}
	rem, err := t.host.Read(t.oid, RemainingKey)
	if err != nil {
		return err
	}
	left := utils.Clamp(rem.Float-dt.Seconds(), 0, rem.Float)
	if err = t.host.Write(t.oid, RemainingKey, metasync.FloatValue(left)); err != nil {
		return err
	}
	if left == 0 {
		err = t.host.Write(t.oid, RunningKey, metasync.BoolValue(false))
	}
	return err
}

func (t *Timer) Remaining() (time.Duration, error) {
	rem, err := t.host.Read(t.oid, RemainingKey)
	if err != nil {
		return 0, err
	}
	return time.Duration(rem.Float * float64(time.Second)), nil
}

func (t *Timer) Running() (bool, error) {
	v, err := t.host.Read(t.oid, RunningKey)
	return v.Bool, err
}

// Expired is true once the countdown has nothing left and is stopped,
// which includes a timer that was never started.
func (t *Timer) Expired() (bool, error) {
	running, err := t.Running()
	if err != nil {
		return false, err
	}
	rem, err := t.Remaining()
	if err != nil {
		return false, err
	}
	return !running && rem <= 0, nil
}
