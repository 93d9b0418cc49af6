package metasync

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/metasync_errors"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/protocol"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/utils"
)

type SyncHost interface {
	Source() uint64
	Name() string
	Snapshot() (pebble.Reader, error)
	DrainFrom(ctx context.Context, from string, recs protocol.Records) error
	AddPacketHose(name string) protocol.FeedCloser
	RemovePacketHose(name string) error
	PeerLost(ctx context.Context, src uint64)
}

type SyncState int

const (
	SendHandshake SyncState = iota
	SendSnapshot
	SendLive
	SendEOF
	SendNone
)

func (s SyncState) String() string {
	return []string{"SendHandshake", "SendSnapshot", "SendLive", "SendEOF", "SendNone"}[s]
}

const SnapshotBatch = 64

/*
Syncer runs one session with a peer, in both directions.

Outbound: handshake, then every stored object as a spawn plus a full
edit, then (in live mode) whatever the replica broadcasts, then bye.
The hose is attached before the snapshot is taken, so a packet misses
neither; duplicates are harmless as edits apply in (epoch, rev) order.

Inbound: the handshake names the peer, everything after it goes to the
replica, which relays it to the other sessions. When a live session
ends the replica is told the peer is lost.
*/
type Syncer struct {
	Name string
	Host SyncHost
	Log  utils.Logger
	Live bool
	// WaitUntilNone bounds the wait for the peer's bye.
	WaitUntilNone time.Duration
	SnapshotBatch int

	traceId    string
	peerSrc    uint64
	peerName   string
	snap       *snapshotFeeder
	oqueue     protocol.FeedCloser
	feedState  SyncState
	drainState SyncState
	reason     error
	started    bool

	once sync.Once
	lock sync.Mutex
	cond sync.Cond
}

func (sync *Syncer) GetTraceId() string {
	sync.lock.Lock()
	defer sync.lock.Unlock()
	if sync.traceId == "" {
		sync.traceId = uuid.NewString()
	}
	return sync.traceId
}

func (sync *Syncer) PeerSrc() uint64 {
	sync.lock.Lock()
	defer sync.lock.Unlock()
	return sync.peerSrc
}

func (sync *Syncer) log() utils.Logger {
	if sync.Log == nil {
		return utils.NopLogger()
	}
	return sync.Log
}

func (sync *Syncer) Close() error {
	if sync.Host == nil {
		return metasync_errors.ErrClosed
	}
	sync.once.Do(func() {
		if sync.oqueue != nil {
			_ = sync.Host.RemovePacketHose(sync.Name)
		}
		sync.lock.Lock()
		sync.snap = nil
		peer := sync.peerSrc
		started := sync.started
		sync.lock.Unlock()
		if started {
			SyncSessions.Dec()
		}
		sync.SetDrainState(SendNone)
		sync.log().Debug("sync: connection closed", "name", sync.Name, "peer", peer, "reason", sync.reason)
		if peer != 0 && sync.Live {
			sync.Host.PeerLost(context.Background(), peer)
		}
	})
	return nil
}

func (sync *Syncer) Feed(ctx context.Context) (recs protocol.Records, err error) {
	switch sync.feedState {
	case SendHandshake:
		if sync.Live {
			sync.oqueue = sync.Host.AddPacketHose(sync.Name)
		}
		batch := sync.SnapshotBatch
		if batch == 0 {
			batch = SnapshotBatch
		}
		reader, serr := sync.Host.Snapshot()
		if serr != nil {
			return nil, serr
		}
		snap, serr := newSnapshotFeeder(reader, batch)
		if serr != nil {
			return nil, serr
		}
		sync.lock.Lock()
		sync.snap = snap
		sync.started = true
		sync.lock.Unlock()
		SyncSessions.Inc()
		recs = protocol.Records{handshakePacket(sync.Host.Source(), sync.Host.Name())}
		sync.SetFeedState(SendSnapshot)

	case SendSnapshot:
		sync.lock.Lock()
		if sync.snap != nil {
			recs = sync.snap.next()
			if len(recs) == 0 {
				sync.snap = nil
			}
		}
		sync.lock.Unlock()
		if len(recs) == 0 {
			if sync.Live {
				sync.SetFeedState(SendLive)
			} else {
				sync.SetFeedState(SendEOF)
			}
			return sync.Feed(ctx)
		}

	case SendLive:
		recs, err = sync.oqueue.Feed(ctx)
		if errors.Is(err, utils.ErrClosed) {
			sync.SetFeedState(SendEOF)
			err = nil
		}

	case SendEOF:
		reason := "closing"
		if sync.reason != nil {
			reason = sync.reason.Error()
		}
		recs = protocol.Records{byePacket(reason)}
		sync.SetFeedState(SendNone)

	case SendNone:
		wait := sync.WaitUntilNone
		if wait == 0 {
			wait = time.Second
		}
		timer := time.AfterFunc(wait, func() {
			sync.SetDrainState(SendNone)
		})
		sync.WaitDrainState(SendNone)
		timer.Stop()
		err = io.EOF
	}
	return
}

func (sync *Syncer) SetFeedState(state SyncState) {
	sync.log().Debug("sync: feed state", "name", sync.Name, "state", state.String())
	sync.lock.Lock()
	sync.feedState = state
	sync.lock.Unlock()
}

func (sync *Syncer) SetDrainState(state SyncState) {
	sync.lock.Lock()
	sync.drainState = state
	if sync.cond.L == nil {
		sync.cond.L = &sync.lock
	}
	sync.cond.Broadcast()
	sync.lock.Unlock()
}

func (sync *Syncer) WaitDrainState(state SyncState) (ds SyncState) {
	sync.lock.Lock()
	if sync.cond.L == nil {
		sync.cond.L = &sync.lock
	}
	for sync.drainState < state {
		sync.cond.Wait()
	}
	ds = sync.drainState
	sync.lock.Unlock()
	return
}

// Drain rejects nothing but a bad handshake: a packet the replica
// refuses is logged and the session goes on.
func (sync *Syncer) Drain(ctx context.Context, recs protocol.Records) (err error) {
	if len(recs) == 0 {
		return nil
	}
	sync.lock.Lock()
	state := sync.drainState
	sync.lock.Unlock()

	switch state {
	case SendHandshake:
		if err = sync.DrainHandshake(recs[0]); err != nil {
			sync.reason = err
			sync.SetDrainState(SendEOF)
			return err
		}
		sync.SetDrainState(SendLive)
		recs = recs[1:]
		if len(recs) == 0 {
			return nil
		}
		fallthrough

	case SendSnapshot, SendLive:
		if recs.LastLit() == 'B' {
			sync.SetDrainState(SendNone)
		}
		err = sync.Host.DrainFrom(ctx, sync.Name, recs)
		if errors.Is(err, metasync_errors.ErrClosed) {
			return err
		}
		if err != nil {
			sync.log().WarnCtx(ctx, "sync: packets rejected", "name", sync.Name, "trace_id", sync.GetTraceId(), "err", err)
		}
		return nil

	default:
		return metasync_errors.ErrClosed
	}
}

func (sync *Syncer) DrainHandshake(rec []byte) error {
	lit, _, body, err := ParsePacket(rec)
	if err != nil || lit != 'H' {
		return metasync_errors.ErrBadHPacket
	}
	src, name, err := ParseHandshake(body)
	if err != nil {
		return err
	}
	sync.lock.Lock()
	sync.peerSrc = src
	sync.peerName = name
	sync.lock.Unlock()
	sync.log().Info("sync: handshake", "name", sync.Name, "peer", src, "peer_name", name, "trace_id", sync.GetTraceId())
	return nil
}
