package metasync

import (
	"context"
	"slices"
	"time"

	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/classes"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/metasync_errors"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/protocol"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/rdx"
)

// field resolves a writable property; runs under the lock.
func (r *Replica) field(oid rdx.ID, key string, kind classes.Kind) (*object, int, classes.Field, error) {
	obj, ok := r.objects[oid]
	if !ok {
		return nil, 0, classes.Field{}, metasync_errors.ErrObjectUnknown
	}
	if obj.authority != r.src {
		return nil, 0, classes.Field{}, metasync_errors.ErrNotAuthority
	}
	off := obj.class.Find(key)
	if off < 0 {
		return nil, 0, classes.Field{}, metasync_errors.ErrUnknownField
	}
	f := obj.class[off-1]
	if f.Kind != kind {
		return nil, 0, classes.Field{}, metasync_errors.ErrWrongFieldType
	}
	return obj, off, f, nil
}

func (obj *object) set(off int, v Value) {
	if obj.values[off-1].Equal(v) {
		return
	}
	obj.values[off-1] = v
	obj.dirty[off-1] = true
}

// Write sets a property on the authority and marks it for the next
// Tick. On any error the value is left as it was.
func (r *Replica) Write(oid rdx.ID, key string, v Value) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	obj, off, f, err := r.field(oid, key, v.Kind)
	if err != nil {
		return err
	}
	if f.Kind == classes.Buffer && v.Used() > f.Capacity {
		return metasync_errors.ErrCapacityExceeded
	}
	obj.set(off, v.Clone())
	return nil
}

// Read is allowed on any peer. A non-authority sees the value as of the
// last edit it applied.
func (r *Replica) Read(oid rdx.ID, key string) (Value, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	obj, ok := r.objects[oid]
	if !ok {
		return Value{}, metasync_errors.ErrObjectUnknown
	}
	off := obj.class.Find(key)
	if off < 0 {
		return Value{}, metasync_errors.ErrUnknownField
	}
	return obj.values[off-1].Clone(), nil
}

// Dirty lists properties written since the last Tick.
func (r *Replica) Dirty(oid rdx.ID) ([]string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	obj, ok := r.objects[oid]
	if !ok {
		return nil, metasync_errors.ErrObjectUnknown
	}
	var keys []string
	for _, off := range obj.dirtyOffs() {
		keys = append(keys, obj.class[off-1].Name)
	}
	return keys, nil
}

// Tick is the replication tick: every locally owned object with dirty
// properties commits one edit carrying all of them, in program order of
// the ticks. Edits are stored, then broadcast.
func (r *Replica) Tick(ctx context.Context) error {
	start := time.Now()
	var recs protocol.Records
	var err error
	r.lock.Lock()
	if r.db == nil {
		r.lock.Unlock()
		return metasync_errors.ErrClosed
	}
	ids := make([]rdx.ID, 0, len(r.objects))
	for oid, obj := range r.objects {
		if obj.authority == r.src && slices.Contains(obj.dirty, true) {
			ids = append(ids, oid)
		}
	}
	slices.SortFunc(ids, rdx.ID.Compare)
	for _, oid := range ids {
		obj := r.objects[oid]
		offs := obj.dirtyOffs()
		obj.rev++
		if err = r.saveObject(obj, offs); err != nil {
			break
		}
		obj.clean()
		recs = append(recs, editPacket(obj, offs))
	}
	r.lock.Unlock()
	r.Broadcast(ctx, recs, "")
	EditsCommitted.Add(float64(len(recs)))
	TickDuration.Observe(float64(time.Since(start).Microseconds()))
	return err
}
