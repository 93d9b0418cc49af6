package metasync

import (
	"context"

	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/metasync_errors"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/rdx"
)

// IsAuthority tells whether this peer may write the object.
func (r *Replica) IsAuthority(oid rdx.ID) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	obj, ok := r.objects[oid]
	return ok && obj.authority == r.src
}

// Authority is the src of the peer currently owning the object, as
// this peer knows it.
func (r *Replica) Authority(oid rdx.ID) (uint64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	obj, ok := r.objects[oid]
	if !ok {
		return 0, metasync_errors.ErrObjectUnknown
	}
	return obj.authority, nil
}

// Epoch is the number of authority grants the object went through.
func (r *Replica) Epoch(oid rdx.ID) (uint64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	obj, ok := r.objects[oid]
	if !ok {
		return 0, metasync_errors.ErrObjectUnknown
	}
	return obj.epoch, nil
}

/*
RequestAuthority asks the arbiter to hand the object over to this peer.
The call does not wait for the outcome: the grant arrives as an A packet
and is observed through the authority hooks. The arbiter grants the
first request that names the current epoch and refuses the others, so
of two peers asking at once exactly one wins. A refused peer may ask
again once it has caught up.
*/
func (r *Replica) RequestAuthority(ctx context.Context, oid rdx.ID) error {
	var fx effects
	r.lock.Lock()
	obj, ok := r.objects[oid]
	switch {
	case r.db == nil:
		r.lock.Unlock()
		return metasync_errors.ErrClosed
	case !ok:
		r.lock.Unlock()
		return metasync_errors.ErrObjectUnknown
	case obj.authority == r.src:
		r.lock.Unlock()
		return nil
	case obj.policy == Fixed || obj.pending:
		r.lock.Unlock()
		return metasync_errors.ErrNotPermitted
	}
	if r.IsArbiter() {
		r.transfer(obj, r.src, obj.epoch+1, &fx)
		fx.send(authorityPacket('A', oid, r.src, obj.epoch, r.nextNonce()), "")
	} else {
		obj.pending = true
		nonce := r.nextNonce()
		r.firstSeen('Q', oid, r.src, nonce)
		fx.send(authorityPacket('Q', oid, r.src, obj.epoch, nonce), "")
	}
	r.lock.Unlock()
	r.log.DebugCtx(ctx, "authority requested", "oid", oid.String(), "src", r.src)
	r.fire(ctx, &fx)
	return nil
}

// AddAuthorityHook registers a callback run on every authority change
// of the object, including the initial assignment when a spawn arrives
// from another peer. The object need not be known yet.
// Hooks run outside the replica lock and may call back into it.
func (r *Replica) AddAuthorityHook(oid rdx.ID, hook AuthorityHook) {
	r.lock.Lock()
	r.hooks[oid] = append(r.hooks[oid], hook)
	r.lock.Unlock()
}

// PeerLost is called when the session with a peer ends. Requests
// waiting for a lost arbiter are dropped so they can be repeated; the
// arbiter takes over every object the lost peer owned. A closed replica
// ignores the call.
func (r *Replica) PeerLost(ctx context.Context, src uint64) {
	if src == 0 || src == r.src {
		return
	}
	var fx effects
	r.lock.Lock()
	if r.db == nil {
		r.lock.Unlock()
		return
	}
	for _, obj := range r.objects {
		if src == r.opts.Arbiter {
			obj.pending = false
		}
		if r.IsArbiter() && obj.authority == src {
			r.transfer(obj, r.src, obj.epoch+1, &fx)
			fx.send(authorityPacket('A', obj.id, r.src, obj.epoch, r.nextNonce()), "")
		}
	}
	r.lock.Unlock()
	if len(fx.out) > 0 {
		r.log.InfoCtx(ctx, "took over objects of a lost peer", "peer", src, "objects", len(fx.out))
	}
	r.fire(ctx, &fx)
}
