package metasync

import (
	"context"
	"errors"

	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/classes"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/metasync_errors"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/protocol"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/rdx"
)

// CommandHandler runs on the authority of the object, locally or for a
// command forwarded by another peer.
type CommandHandler func(ctx context.Context, oid rdx.ID, args []byte) error

// SetCommand is the reserved command behind WriteOrForward.
const SetCommand = "_set"

// RegisterCommand adds a handler to the dispatch table. Every peer of a
// session registers the same table; a later registration replaces an
// earlier one.
func (r *Replica) RegisterCommand(name string, handler CommandHandler) {
	r.lock.Lock()
	r.commands[name] = handler
	r.lock.Unlock()
}

// Invoke runs the command right away when this peer is the authority,
// otherwise it is forwarded in a C packet and the authority runs it.
// A forwarded command is passed on by every peer that is not the
// authority and runs once, on the authority.
func (r *Replica) Invoke(ctx context.Context, oid rdx.ID, name string, args []byte) error {
	r.lock.Lock()
	handler, known := r.commands[name]
	obj, ok := r.objects[oid]
	switch {
	case !known:
		r.lock.Unlock()
		return metasync_errors.ErrUnknownCommand
	case !ok:
		r.lock.Unlock()
		return metasync_errors.ErrObjectUnknown
	}
	local := obj.authority == r.src
	r.lock.Unlock()

	if local {
		CommandsExecuted.WithLabelValues(name, "local").Inc()
		return handler(ctx, oid, args)
	}
	r.log.DebugCtx(ctx, "forwarding command", "oid", oid.String(), "command", name)
	nonce := r.nextNonce()
	r.firstSeen('C', oid, r.src, nonce)
	r.Broadcast(ctx, protocol.Records{commandPacket(oid, r.src, name, args, nonce)}, "")
	return nil
}

// WriteOrForward writes when this peer is the authority and forwards the
// write to the authority otherwise. Type and capacity are checked here
// first so a bad write fails on the caller's side.
func (r *Replica) WriteOrForward(ctx context.Context, oid rdx.ID, key string, v Value) error {
	err := r.Write(oid, key, v)
	if !errors.Is(err, metasync_errors.ErrNotAuthority) {
		return err
	}
	class, err := r.Class(oid)
	if err != nil {
		return err
	}
	off := class.Find(key)
	if off < 0 {
		return metasync_errors.ErrUnknownField
	}
	if f := class[off-1]; f.Kind != v.Kind {
		return metasync_errors.ErrWrongFieldType
	} else if f.Kind == classes.Buffer && v.Used() > f.Capacity {
		return metasync_errors.ErrCapacityExceeded
	}
	args := protocol.Concat(protocol.Record('N', []byte(key)), v.Encode())
	return r.Invoke(ctx, oid, SetCommand, args)
}

func (r *Replica) setCommand(ctx context.Context, oid rdx.ID, args []byte) error {
	key, rest, err := protocol.TakeWary('N', args)
	if err != nil {
		return metasync_errors.ErrBadPacket
	}
	class, err := r.Class(oid)
	if err != nil {
		return err
	}
	off := class.Find(string(key))
	if off < 0 {
		return metasync_errors.ErrUnknownField
	}
	v, _, err := DecodeValue(class[off-1].Kind, rest)
	if err != nil {
		return err
	}
	return r.Write(oid, string(key), v)
}
