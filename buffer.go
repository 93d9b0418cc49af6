package metasync

import (
	"bytes"

	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/classes"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/metasync_errors"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/rdx"
)

// Send writes the first used bytes of buf into a buffer property.
// Length and bytes form one value and one wire record, a receiver never
// sees one without the other. Nothing is copied when the checks fail.
func (r *Replica) Send(oid rdx.ID, key string, buf []byte, used int) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	obj, off, f, err := r.field(oid, key, classes.Buffer)
	if err != nil {
		return err
	}
	if used > f.Capacity {
		return metasync_errors.ErrCapacityExceeded
	}
	if used < 0 || used > len(buf) {
		return metasync_errors.ErrBadLength
	}
	obj.set(off, Value{Kind: classes.Buffer, Buf: bytes.Clone(buf[:used])})
	return nil
}

// Receive copies out the last received buffer, exactly used bytes long.
// The authority does not receive its own writes and gets nil, so does
// everybody while the used length is zero.
func (r *Replica) Receive(oid rdx.ID, key string) ([]byte, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	obj, ok := r.objects[oid]
	if !ok {
		return nil, metasync_errors.ErrObjectUnknown
	}
	off := obj.class.Find(key)
	if off < 0 {
		return nil, metasync_errors.ErrUnknownField
	}
	if obj.class[off-1].Kind != classes.Buffer {
		return nil, metasync_errors.ErrWrongFieldType
	}
	if obj.authority == r.src || len(obj.values[off-1].Buf) == 0 {
		return nil, nil
	}
	return bytes.Clone(obj.values[off-1].Buf), nil
}
