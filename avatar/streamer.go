// Package avatar streams pose snapshots of an avatar from its authority
// to everybody else.
//
// The authority captures a pose every simulation tick into a buffer
// property. Receivers pick new snapshots up as they arrive, queue them
// in a playback buffer and apply one per render tick, with a playback
// delay that lets the renderer interpolate instead of snapping.
package avatar

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/classes"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/host"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/metasync_errors"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/playback"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/rdx"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/utils"
)

const (
	PoseKey         = "pose"
	DefaultCapacity = 1200
)

// Class is the minimal avatar object: one pose buffer.
func Class(capacity int) classes.Fields {
	return classes.Fields{{Name: PoseKey, Kind: classes.Buffer, Capacity: capacity}}
}

var ErrNotBuffer = errors.New("avatar: pose property is not a buffer")

type Config struct {
	// Key names the pose property, PoseKey by default.
	Key      string
	Playback playback.Config
}

// Streamer serves one avatar object on one peer. It is driven from the
// peer's tick loop and is not safe for concurrent use.
type Streamer struct {
	host     host.StreamHost
	oid      rdx.ID
	key      string
	scratch  []byte
	player   *playback.Player
	detector changeDetector
	log      utils.Logger
}

type changeDetector interface {
	DetectChanges(oid rdx.ID) ([]string, error)
}

func NewStreamer(h host.StreamHost, oid rdx.ID, conf Config, applier playback.Applier) (*Streamer, error) {
	if conf.Key == "" {
		conf.Key = PoseKey
	}
	class, err := h.Class(oid)
	if err != nil {
		return nil, err
	}
	off := class.Find(conf.Key)
	if off < 0 {
		return nil, metasync_errors.ErrUnknownField
	}
	field := class[off-1]
	if field.Kind != classes.Buffer {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotBuffer, field.Name, field.Kind)
	}
	player, err := playback.NewPlayer(conf.Playback, applier, h.Logger())
	if err != nil {
		return nil, err
	}
	return &Streamer{
		host:     h,
		oid:      oid,
		key:      conf.Key,
		scratch:  make([]byte, field.Capacity),
		player:   player,
		detector: h.NewChangeDetector(),
		log:      h.Logger(),
	}, nil
}

// CaptureTick sends the pose on the authority. A pose larger than the
// property capacity is cut to fit and logged; the receivers get a
// truncated snapshot rather than none.
func (s *Streamer) CaptureTick(ctx context.Context, pose []byte) error {
	if !s.host.IsAuthority(s.oid) {
		return metasync_errors.ErrNotAuthority
	}
	used := len(pose)
	if used > len(s.scratch) {
		PosesTruncated.Inc()
		s.log.WarnCtx(ctx, "avatar: pose truncated", "oid", s.oid.String(), "size", used, "capacity", len(s.scratch))
		used = len(s.scratch)
	}
	copy(s.scratch, pose[:used])
	return s.host.Send(s.oid, s.key, s.scratch, used)
}

// Poll queues the latest received snapshot if it changed since the
// previous poll. Calling it after every network batch, not just once
// per frame, is what lets the playback buffer absorb bursts.
func (s *Streamer) Poll() (queued bool, err error) {
	if s.host.IsAuthority(s.oid) {
		s.player.Reset()
		return false, nil
	}
	changed, err := s.detector.DetectChanges(s.oid)
	if err != nil || !slices.Contains(changed, s.key) {
		return false, err
	}
	snap, err := s.host.Receive(s.oid, s.key)
	if err != nil || snap == nil {
		return false, err
	}
	s.player.Enqueue(snap)
	return true, nil
}

// RenderTick polls, then applies at most one queued snapshot. Nothing
// is applied on the authority, which renders its own pose.
func (s *Streamer) RenderTick(ctx context.Context) (applied bool, err error) {
	if _, err = s.Poll(); err != nil {
		return false, err
	}
	return s.player.DequeueAndApply(ctx)
}

// Queued is the number of snapshots waiting for a render tick.
func (s *Streamer) Queued() int {
	return s.player.Buffer().Len()
}
