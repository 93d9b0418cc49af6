package metasync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/classes"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/metasync_errors"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/protocol"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/rdx"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/utils"
)

type Options struct {
	// Src identifies this peer within the session, must be non-zero.
	Src  uint64
	Name string
	// Arbiter is the src of the peer that grants authority transfers.
	// Zero means this peer arbitrates.
	Arbiter uint64
	// Dir is the pebble directory; empty keeps everything in memory.
	Dir    string
	Logger utils.Logger

	TombstoneLimit int
	// SeenLimit bounds the memory of relayed Q, N and C packets.
	SeenLimit      int
	HoseLimit      int
	SnapshotBatch  int
}

func (o *Options) SetDefaults() {
	if o.Arbiter == 0 {
		o.Arbiter = o.Src
	}
	if o.Name == "" {
		o.Name = ReplicaDirName(o.Src)
	}
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelWarn)
	}
	if o.TombstoneLimit == 0 {
		o.TombstoneLimit = 1 << 12
	}
	if o.SeenLimit == 0 {
		o.SeenLimit = 1 << 12
	}
	if o.HoseLimit == 0 {
		o.HoseLimit = 1 << 16
	}
	if o.SnapshotBatch == 0 {
		o.SnapshotBatch = 64
	}
}

type AuthorityHook func(oid rdx.ID, prev, next uint64)

type object struct {
	id        rdx.ID
	authority uint64
	epoch     uint64
	rev       uint64
	policy    Policy
	class     classes.Fields
	values    []Value
	dirty     []bool
	pending   bool
}

func newObject(oid rdx.ID, h header) *object {
	obj := &object{
		id:        oid,
		authority: h.authority,
		epoch:     h.epoch,
		rev:       h.rev,
		policy:    h.policy,
		class:     h.class,
		values:    make([]Value, len(h.class)),
		dirty:     make([]bool, len(h.class)),
	}
	for i, f := range h.class {
		obj.values[i] = ZeroValue(f.Kind)
	}
	return obj
}

func (obj *object) dirtyOffs() (offs []int) {
	for i, d := range obj.dirty {
		if d {
			offs = append(offs, i+1)
		}
	}
	return
}

func (obj *object) clean() {
	for i := range obj.dirty {
		obj.dirty[i] = false
	}
}

// Replica is one peer's copy of the replicated state.
// All methods are safe for concurrent use.
type Replica struct {
	opts Options
	src  uint64
	log  utils.Logger
	db   *pebble.DB

	lock     sync.Mutex
	objects  map[rdx.ID]*object
	seq      uint64
	tombs    *lru.Cache[rdx.ID, struct{}]
	seen     *lru.Cache[seenKey, struct{}]
	nonce    atomic.Uint64
	hooks    map[rdx.ID][]AuthorityHook
	commands map[string]CommandHandler

	hoses *xsync.MapOf[string, protocol.DrainCloser]

	detlock  sync.Mutex
	detector *ChangeDetector
}

var ErrNoSource = errors.New("metasync: replica src must be non-zero")

// Open creates or reopens a replica. Objects stored in Options.Dir are
// restored with their authority and epoch as they were.
func Open(opts Options) (r *Replica, err error) {
	if opts.Src == 0 {
		return nil, ErrNoSource
	}
	opts.SetDefaults()
	r = &Replica{
		opts:     opts,
		src:      opts.Src,
		log:      opts.Logger,
		objects:  make(map[rdx.ID]*object),
		hooks:    make(map[rdx.ID][]AuthorityHook),
		commands: make(map[string]CommandHandler),
		hoses:    xsync.NewMapOf[string, protocol.DrainCloser](),
	}
	r.tombs, err = lru.New[rdx.ID, struct{}](opts.TombstoneLimit)
	if err != nil {
		return nil, err
	}
	r.seen, err = lru.New[seenKey, struct{}](opts.SeenLimit)
	if err != nil {
		return nil, err
	}
	// a restarted peer must not reuse the nonces of its previous run
	r.nonce.Store(uint64(time.Now().UnixNano()))
	if err = r.openStore(); err != nil {
		return nil, err
	}
	if err = r.loadObjects(); err != nil {
		_ = r.db.Close()
		return nil, err
	}
	r.detector = r.NewChangeDetector()
	r.RegisterCommand(SetCommand, r.setCommand)
	r.log.Info("replica open", "src", r.src, "name", opts.Name, "objects", len(r.objects))
	return r, nil
}

func (r *Replica) Close() error {
	r.lock.Lock()
	if r.db == nil {
		r.lock.Unlock()
		return metasync_errors.ErrClosed
	}
	db := r.db
	r.db = nil
	r.objects = make(map[rdx.ID]*object)
	r.lock.Unlock()

	r.hoses.Range(func(name string, hose protocol.DrainCloser) bool {
		r.hoses.Delete(name)
		_ = hose.Close()
		return true
	})
	return db.Close()
}

func (r *Replica) Source() uint64 {
	return r.src
}

func (r *Replica) Name() string {
	return r.opts.Name
}

func (r *Replica) Logger() utils.Logger {
	return r.log
}

func (r *Replica) Arbiter() uint64 {
	return r.opts.Arbiter
}

func (r *Replica) IsArbiter() bool {
	return r.opts.Arbiter == r.src
}

// AttachHose subscribes a drainer to everything this replica emits
// or relays. A hose already attached under the name is closed.
func (r *Replica) AttachHose(name string, hose protocol.DrainCloser) {
	old, loaded := r.hoses.LoadAndStore(name, hose)
	if loaded && old != hose {
		r.log.Warn("closing the old hose", "name", name)
		_ = old.Close()
	}
}

// AddPacketHose attaches a bounded queue; a connection writer feeds from it.
func (r *Replica) AddPacketHose(name string) protocol.FeedCloser {
	queue := utils.NewRecordQueue[protocol.Records](r.opts.HoseLimit)
	r.AttachHose(name, queue)
	return queue
}

func (r *Replica) RemovePacketHose(name string) error {
	hose, ok := r.hoses.LoadAndDelete(name)
	if ok {
		r.log.Debug("closing the hose", "name", name)
		return hose.Close()
	}
	return nil
}

// Broadcast drains records into every hose except the named one.
// A hose that fails is detached and closed.
func (r *Replica) Broadcast(ctx context.Context, records protocol.Records, except string) {
	if len(records) == 0 {
		return
	}
	r.hoses.Range(func(name string, hose protocol.DrainCloser) bool {
		if name == except {
			return true
		}
		if err := hose.Drain(ctx, records); err != nil {
			r.log.WarnCtx(ctx, "hose failed, detaching", "name", name, "err", err)
			r.hoses.Delete(name)
			_ = hose.Close()
		}
		return true
	})
}

type outbound struct {
	rec    []byte
	except string
}

type notice struct {
	oid        rdx.ID
	prev, next uint64
	hooks      []AuthorityHook
}

type call struct {
	oid     rdx.ID
	args    []byte
	handler CommandHandler
	name    string
}

// effects are collected under the lock and fired after it is released.
type effects struct {
	out     []outbound
	notices []notice
	calls   []call
}

func (fx *effects) send(rec []byte, except string) {
	fx.out = append(fx.out, outbound{rec: rec, except: except})
}

func (r *Replica) fire(ctx context.Context, fx *effects) {
	for i := 0; i < len(fx.out); {
		j := i + 1
		for j < len(fx.out) && fx.out[j].except == fx.out[i].except {
			j++
		}
		batch := make(protocol.Records, 0, j-i)
		for _, o := range fx.out[i:j] {
			batch = append(batch, o.rec)
		}
		r.Broadcast(ctx, batch, fx.out[i].except)
		i = j
	}
	for _, n := range fx.notices {
		for _, hook := range n.hooks {
			hook(n.oid, n.prev, n.next)
		}
	}
	for _, c := range fx.calls {
		if err := c.handler(ctx, c.oid, c.args); err != nil {
			r.log.WarnCtx(ctx, "command failed", "oid", c.oid.String(), "command", c.name, "err", err)
		}
	}
}

// Drain applies packets received from elsewhere and relays the ones it
// accepted to every hose.
func (r *Replica) Drain(ctx context.Context, recs protocol.Records) error {
	return r.DrainFrom(ctx, "", recs)
}

// DrainFrom is Drain for packets that came in through the named hose.
// Packets are applied one by one, a rejected packet does not stop the
// rest of the batch. The error joins the reasons of every rejected
// packet.
//
// A packet is relayed to every other hose only if it changed something
// here, or, for Q, N and C, if it is seen for the first time and is not
// addressed to this peer. A repeat stops at the first peer that already
// has it, so any topology settles, cycles included.
func (r *Replica) DrainFrom(ctx context.Context, from string, recs protocol.Records) (err error) {
	var fx effects
	r.lock.Lock()
	if r.db == nil {
		r.lock.Unlock()
		return metasync_errors.ErrClosed
	}
	for _, pack := range recs {
		relay := false
		lit, oid, body, perr := ParsePacket(pack)
		if perr == nil {
			relay, perr = r.apply(lit, oid, body, &fx)
		}
		if perr != nil {
			PacketsDropped.WithLabelValues(dropReason(perr)).Inc()
			r.log.WarnCtx(ctx, "packet rejected", "from", from, "lit", string(lit), "oid", oid.String(), "err", perr)
			err = errors.Join(err, perr)
			continue
		}
		PacketsApplied.WithLabelValues(string(lit)).Inc()
		if relay {
			fx.send(pack, from)
		}
	}
	r.lock.Unlock()
	r.fire(ctx, &fx)
	return err
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, metasync_errors.ErrTornBuffer):
		return "torn"
	case errors.Is(err, metasync_errors.ErrBadPacket):
		return "malformed"
	default:
		return "invalid"
	}
}

type seenKey struct {
	lit   byte
	oid   rdx.ID
	src   uint64
	nonce uint64
}

// firstSeen remembers a Q, N or C packet; false means it came by before.
func (r *Replica) firstSeen(lit byte, oid rdx.ID, src, nonce uint64) bool {
	seen, _ := r.seen.ContainsOrAdd(seenKey{lit: lit, oid: oid, src: src, nonce: nonce}, struct{}{})
	return !seen
}

func (r *Replica) nextNonce() uint64 {
	return r.nonce.Add(1)
}

// apply runs under the lock. relay tells whether the packet should go on
// to the other hoses.
func (r *Replica) apply(lit byte, oid rdx.ID, body []byte, fx *effects) (relay bool, err error) {
	switch lit {
	case 'O':
		return r.applySpawn(oid, body, fx)
	case 'X':
		return r.applyDespawn(oid)
	case 'E':
		return r.applyEdit(oid, body, fx)
	case 'Q':
		return r.applyRequest(oid, body, fx)
	case 'A':
		return r.applyGrant(oid, body, fx)
	case 'N':
		return r.applyRefusal(oid, body)
	case 'C':
		return r.applyCommand(oid, body, fx)
	case 'H', 'B':
		return false, nil
	}
	return false, metasync_errors.ErrBadPacket
}

// transfer moves authority and opens a new epoch. The side that loses
// authority discards writes it has not committed yet.
func (r *Replica) transfer(obj *object, next, epoch uint64, fx *effects) {
	prev := obj.authority
	if prev == r.src && next != r.src {
		obj.clean()
	}
	obj.authority = next
	obj.epoch = epoch
	obj.rev = 0
	obj.pending = false
	if err := r.saveObject(obj, []int{}); err != nil {
		r.log.Error("failed to persist authority", "oid", obj.id.String(), "err", err)
	}
	AuthorityTransfers.Inc()
	r.notify(obj.id, prev, next, fx)
}

func (r *Replica) notify(oid rdx.ID, prev, next uint64, fx *effects) {
	if prev == next {
		return
	}
	hooks := r.hooks[oid]
	if len(hooks) == 0 {
		return
	}
	fx.notices = append(fx.notices, notice{
		oid:   oid,
		prev:  prev,
		next:  next,
		hooks: append([]AuthorityHook(nil), hooks...),
	})
}

func (r *Replica) applySpawn(oid rdx.ID, body []byte, fx *effects) (bool, error) {
	h, err := parseHeader(body)
	if err != nil {
		return false, err
	}
	if r.tombs.Contains(oid) {
		return false, nil
	}
	if obj, ok := r.objects[oid]; ok {
		if h.epoch > obj.epoch {
			r.transfer(obj, h.authority, h.epoch, fx)
			return true, nil
		}
		return false, nil
	}
	if h.authority == 0 {
		return false, metasync_errors.ErrBadPacket
	}
	// values arrive with the edits that follow
	obj := newObject(oid, h)
	obj.rev = 0
	r.objects[oid] = obj
	if oid.Src() == r.src && oid.Seq() > r.seq {
		r.seq = oid.Seq()
	}
	if err = r.saveObject(obj, []int{}); err != nil {
		return false, err
	}
	r.notify(oid, 0, obj.authority, fx)
	return true, nil
}

func (r *Replica) applyDespawn(oid rdx.ID) (bool, error) {
	if _, ok := r.objects[oid]; !ok {
		return false, nil
	}
	return true, r.remove(oid)
}

func (r *Replica) remove(oid rdx.ID) error {
	delete(r.objects, oid)
	delete(r.hooks, oid)
	r.tombs.Add(oid, struct{}{})
	return r.dropObject(oid)
}

func (r *Replica) applyEdit(oid rdx.ID, body []byte, fx *effects) (bool, error) {
	obj, ok := r.objects[oid]
	if !ok {
		return false, nil
	}
	e, err := parseEdit(body, obj.class)
	if err != nil {
		if errors.Is(err, metasync_errors.ErrTornBuffer) {
			TornBuffers.Inc()
		}
		return false, err
	}
	switch {
	case e.epoch < obj.epoch:
		StaleEdits.Inc()
		return false, nil
	case e.epoch == obj.epoch && e.rev <= obj.rev:
		return false, nil
	case e.epoch > obj.epoch:
		r.transfer(obj, e.authority, e.epoch, fx)
	}
	obj.rev = e.rev
	for i, off := range e.offs {
		obj.values[off-1] = e.vals[i]
	}
	return true, r.saveObject(obj, e.offs)
}

// applyRequest: the arbiter answers a request and keeps it, everybody
// else passes it on towards the arbiter.
func (r *Replica) applyRequest(oid rdx.ID, body []byte, fx *effects) (bool, error) {
	m, err := parseAuthority(body)
	if err != nil {
		return false, err
	}
	if !r.firstSeen('Q', oid, m.src, m.nonce) {
		return false, nil
	}
	if !r.IsArbiter() {
		return true, nil
	}
	obj, ok := r.objects[oid]
	if !ok || m.src == obj.authority {
		return false, nil
	}
	if obj.policy == Fixed || m.epoch != obj.epoch {
		nonce := r.nextNonce()
		r.firstSeen('N', oid, m.src, nonce)
		fx.send(authorityPacket('N', oid, m.src, obj.epoch, nonce), "")
		return false, nil
	}
	r.transfer(obj, m.src, obj.epoch+1, fx)
	fx.send(authorityPacket('A', oid, obj.authority, obj.epoch, r.nextNonce()), "")
	return false, nil
}

func (r *Replica) applyGrant(oid rdx.ID, body []byte, fx *effects) (bool, error) {
	m, err := parseAuthority(body)
	if err != nil {
		return false, err
	}
	obj, ok := r.objects[oid]
	if !ok || m.epoch <= obj.epoch {
		return false, nil
	}
	r.transfer(obj, m.src, m.epoch, fx)
	return true, nil
}

func (r *Replica) applyRefusal(oid rdx.ID, body []byte) (bool, error) {
	m, err := parseAuthority(body)
	if err != nil {
		return false, err
	}
	if !r.firstSeen('N', oid, m.src, m.nonce) {
		return false, nil
	}
	if m.src != r.src {
		return true, nil
	}
	if obj, ok := r.objects[oid]; ok {
		obj.pending = false
	}
	return false, nil
}

// applyCommand runs the command on the authority; other peers pass it on.
func (r *Replica) applyCommand(oid rdx.ID, body []byte, fx *effects) (bool, error) {
	c, err := parseCommand(body)
	if err != nil {
		return false, err
	}
	if !r.firstSeen('C', oid, c.src, c.nonce) {
		return false, nil
	}
	obj, ok := r.objects[oid]
	if !ok || obj.authority != r.src {
		return true, nil
	}
	handler, ok := r.commands[c.name]
	if !ok {
		return false, metasync_errors.ErrUnknownCommand
	}
	CommandsExecuted.WithLabelValues(c.name, "remote").Inc()
	fx.calls = append(fx.calls, call{oid: oid, args: c.args, handler: handler, name: c.name})
	return false, nil
}
