// Package counters provides small replicated widgets built on commands:
// a shared counter any peer can bump and a countdown timer.
//
// Both follow the same pattern. State lives in ordinary properties of a
// replicated object, so every peer reads it locally. Changes go through
// a command, which runs on the authority right away or is forwarded to
// it, so a non-authority peer never writes and never calls itself back.
package counters

import (
	"context"
	"errors"
	"sync"

	metasync "github.com/Jfr3ds90/MetaAvatarsVR-sub002"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/classes"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/host"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/metasync_errors"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/protocol"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/rdx"
)

var ErrNotCounter = errors.New("counters: not an int property")

const IncreaseCommand = "counter.increase"

var CounterClass = classes.Fields{{Name: "count", Kind: classes.Int}}

type Counter struct {
	host host.Host
	oid  rdx.ID
	key  string
	seen int64
}

// NewCounter binds a counter to an int property. Every peer that may
// bump a counter must create one so the command is registered there.
func NewCounter(h host.Host, oid rdx.ID, key string) *Counter {
	h.RegisterCommand(IncreaseCommand, increaseHandler(h))
	return &Counter{host: h, oid: oid, key: key}
}

func increaseHandler(h host.Host) metasync.CommandHandler {
	// read and write are separate replica calls
	var lock sync.Mutex
	return func(ctx context.Context, oid rdx.ID, args []byte) error {
		key, rest, err := protocol.TakeWary('N', args)
		if err != nil {
			return metasync_errors.ErrBadPacket
		}
		by, _, err := metasync.DecodeValue(classes.Int, rest)
		if err != nil {
			return err
		}
		lock.Lock()
		defer lock.Unlock()
		cur, err := h.Read(oid, string(key))
		if err != nil {
			return err
		}
		if cur.Kind != classes.Int {
			return ErrNotCounter
		}
		return h.Write(oid, string(key), metasync.IntValue(cur.Int+by.Int))
	}
}

// Increase adds by to the counter on the authority. The new value
// reaches everybody with the authority's next tick.
func (c *Counter) Increase(ctx context.Context, by int64) error {
	args := protocol.Concat(protocol.Record('N', []byte(c.key)), metasync.IntValue(by).Encode())
	return c.host.Invoke(ctx, c.oid, IncreaseCommand, args)
}

func (c *Counter) Value() (int64, error) {
	v, err := c.host.Read(c.oid, c.key)
	if err != nil {
		return 0, err
	}
	if v.Kind != classes.Int {
		return 0, ErrNotCounter
	}
	return v.Int, nil
}

// Changed reports whether the value moved since the previous call.
// The first call compares against zero.
func (c *Counter) Changed() (changed bool, value int64, err error) {
	value, err = c.Value()
	if err != nil {
		return false, 0, err
	}
	changed = value != c.seen
	c.seen = value
	return
}
