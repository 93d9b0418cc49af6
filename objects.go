package metasync

import (
	"context"
	"slices"

	"github.com/pkg/errors"

	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/classes"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/metasync_errors"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/protocol"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/rdx"
)

// ObjectInfo is a point-in-time copy of an object, for inspection.
type ObjectInfo struct {
	ID        rdx.ID
	Authority uint64
	Epoch     uint64
	Rev       uint64
	Policy    Policy
	Class     classes.Fields
	Values    []Value
	Pending   bool
}

func (obj *object) info() ObjectInfo {
	vals := make([]Value, len(obj.values))
	for i, v := range obj.values {
		vals[i] = v.Clone()
	}
	return ObjectInfo{
		ID:        obj.id,
		Authority: obj.authority,
		Epoch:     obj.epoch,
		Rev:       obj.rev,
		Policy:    obj.policy,
		Class:     obj.class,
		Values:    vals,
		Pending:   obj.pending,
	}
}

// Spawn creates an object owned by this peer and announces it.
// All properties start at their zero value.
func (r *Replica) Spawn(ctx context.Context, class classes.Fields, policy Policy) (rdx.ID, error) {
	if err := class.Validate(); err != nil {
		return rdx.BadId, errors.Wrap(metasync_errors.ErrBadClass, err.Error())
	}
	if policy == 0 {
		policy = Transferable
	}
	var fx effects
	r.lock.Lock()
	if r.db == nil {
		r.lock.Unlock()
		return rdx.BadId, metasync_errors.ErrClosed
	}
	r.seq++
	oid := rdx.NewID(r.src, r.seq)
	obj := newObject(oid, header{
		authority: r.src,
		policy:    policy,
		class:     slices.Clone(class),
	})
	r.objects[oid] = obj
	err := r.saveObject(obj, []int{})
	if err == nil {
		fx.send(spawnPacket(obj), "")
	}
	r.lock.Unlock()
	if err != nil {
		return rdx.BadId, err
	}
	ObjectsSpawned.Inc()
	r.fire(ctx, &fx)
	return oid, nil
}

// Despawn removes the object everywhere. Only the authority may do it.
// The id is tombstoned so a late spawn packet does not bring it back.
func (r *Replica) Despawn(ctx context.Context, oid rdx.ID) error {
	r.lock.Lock()
	obj, ok := r.objects[oid]
	switch {
	case r.db == nil:
		r.lock.Unlock()
		return metasync_errors.ErrClosed
	case !ok:
		r.lock.Unlock()
		return metasync_errors.ErrObjectUnknown
	case obj.authority != r.src:
		r.lock.Unlock()
		return metasync_errors.ErrNotAuthority
	}
	err := r.remove(oid)
	r.lock.Unlock()
	r.detlock.Lock()
	r.detector.Forget(oid)
	r.detlock.Unlock()
	r.Broadcast(ctx, protocol.Records{despawnPacket(oid)}, "")
	return err
}

func (r *Replica) Object(oid rdx.ID) (ObjectInfo, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	obj, ok := r.objects[oid]
	if !ok {
		return ObjectInfo{}, metasync_errors.ErrObjectUnknown
	}
	return obj.info(), nil
}

// Objects lists every live object ordered by id.
func (r *Replica) Objects() []ObjectInfo {
	r.lock.Lock()
	ret := make([]ObjectInfo, 0, len(r.objects))
	for _, obj := range r.objects {
		ret = append(ret, obj.info())
	}
	r.lock.Unlock()
	slices.SortFunc(ret, func(a, b ObjectInfo) int {
		return a.ID.Compare(b.ID)
	})
	return ret
}

func (r *Replica) Class(oid rdx.ID) (classes.Fields, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	obj, ok := r.objects[oid]
	if !ok {
		return nil, metasync_errors.ErrObjectUnknown
	}
	return obj.class, nil
}

// values copies the current values under the lock.
func (r *Replica) values(oid rdx.ID) (classes.Fields, []Value, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	obj, ok := r.objects[oid]
	if !ok {
		return nil, nil, metasync_errors.ErrObjectUnknown
	}
	vals := make([]Value, len(obj.values))
	for i, v := range obj.values {
		vals[i] = v.Clone()
	}
	return obj.class, vals, nil
}
