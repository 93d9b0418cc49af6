package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/utils"
)

var (
	ErrBadCapacity   = errors.New("playback: capacity must be positive")
	ErrBadDelay      = errors.New("playback: negative delay")
	ErrLatencyBudget = errors.New("playback: capacity exceeds the latency budget")
)

const (
	DefaultCapacity = 6
	DefaultDelay    = 80 * time.Millisecond
)

// Config bounds the worst-case staleness of what is shown: a full buffer
// holds Capacity ticks of motion.
type Config struct {
	Capacity int
	// Delay is handed to the applier with every snapshot.
	Delay        time.Duration
	TickInterval time.Duration
	// LatencyBudget, when set together with TickInterval, caps
	// Capacity × TickInterval.
	LatencyBudget time.Duration
}

func (c *Config) SetDefaults() {
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Delay == 0 {
		c.Delay = DefaultDelay
	}
}

func (c *Config) Validate() error {
	if c.Capacity < 1 {
		return ErrBadCapacity
	}
	if c.Delay < 0 {
		return ErrBadDelay
	}
	if c.LatencyBudget > 0 && c.TickInterval > 0 {
		if worst := time.Duration(c.Capacity) * c.TickInterval; worst > c.LatencyBudget {
			return fmt.Errorf("%w: %d × %s = %s > %s", ErrLatencyBudget, c.Capacity, c.TickInterval, worst, c.LatencyBudget)
		}
	}
	return nil
}

// Applier consumes snapshots, typically an avatar renderer that
// interpolates towards each snapshot over delay.
type Applier interface {
	Apply(ctx context.Context, snapshot []byte, delay time.Duration) error
}

type ApplierFunc func(ctx context.Context, snapshot []byte, delay time.Duration) error

func (f ApplierFunc) Apply(ctx context.Context, snapshot []byte, delay time.Duration) error {
	return f(ctx, snapshot, delay)
}

// Player owns the buffer of one receiving object.
type Player struct {
	conf    Config
	buf     *Buffer
	applier Applier
	log     utils.Logger
}

func NewPlayer(conf Config, applier Applier, log utils.Logger) (*Player, error) {
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = utils.NopLogger()
	}
	return &Player{
		conf:    conf,
		buf:     NewBuffer(conf.Capacity),
		applier: applier,
		log:     log,
	}, nil
}

// Enqueue never blocks and never fails; a full buffer drops its oldest
// snapshot.
func (p *Player) Enqueue(snapshot []byte) {
	if p.buf.Enqueue(snapshot) {
		SnapshotsEvicted.Inc()
		p.log.Debug("playback: dropped the oldest snapshot", "capacity", p.buf.Cap())
	}
}

// DequeueAndApply applies the oldest snapshot, if any. With nothing
// queued the consumer keeps showing what it applied last.
func (p *Player) DequeueAndApply(ctx context.Context) (applied bool, err error) {
	snap, ok := p.buf.Dequeue()
	if !ok {
		return false, nil
	}
	if err = p.applier.Apply(ctx, snap, p.conf.Delay); err != nil {
		return false, err
	}
	SnapshotsApplied.Inc()
	return true, nil
}

func (p *Player) Buffer() *Buffer {
	return p.buf
}

func (p *Player) Config() Config {
	return p.conf
}

// Reset forgets everything queued, e.g. when the object is despawned
// or this peer becomes its authority.
func (p *Player) Reset() {
	p.buf.Clear()
}
