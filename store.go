package metasync

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"

	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/metasync_errors"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/protocol"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/rdx"
)

// Key layout: 'O' + oid (16 bytes, big-endian) + offset byte.
// Offset 0 is the object header, 1..n the property values.
const OKeyLen = 1 + 16 + 1

var WriteOptions = pebble.WriteOptions{Sync: false}

func OKey(oid rdx.ID, off byte) []byte {
	key := make([]byte, 0, OKeyLen)
	key = append(key, 'O')
	key = binary.BigEndian.AppendUint64(key, oid.Src())
	key = binary.BigEndian.AppendUint64(key, oid.Seq())
	return append(key, off)
}

func OKeyIdOff(key []byte) (oid rdx.ID, off byte) {
	if len(key) != OKeyLen || key[0] != 'O' {
		return rdx.BadId, 0
	}
	return rdx.IDFromBytes(key[1 : OKeyLen-1]), key[OKeyLen-1]
}

func ObjectKeyRange(oid rdx.ID) (fro, til []byte) {
	return OKey(oid, 0), OKey(oid.Next(), 0)
}

func ReplicaDirName(src uint64) string {
	return fmt.Sprintf("ms%x", src)
}

func (r *Replica) openStore() (err error) {
	opts := pebble.Options{}
	dir := r.opts.Dir
	if dir == "" {
		opts.FS = vfs.NewMem()
		dir = ReplicaDirName(r.src)
	}
	r.db, err = pebble.Open(dir, &opts)
	return errors.Wrapf(err, "store: open %s", dir)
}

// saveObject writes the header and the listed property values.
func (r *Replica) saveObject(obj *object, offs []int) error {
	batch := r.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(OKey(obj.id, 0), headerBody(obj), nil); err != nil {
		return errors.Wrap(err, "store: header")
	}
	for _, off := range offs {
		if err := batch.Set(OKey(obj.id, byte(off)), obj.values[off-1].Encode(), nil); err != nil {
			return errors.Wrapf(err, "store: property %d", off)
		}
	}
	return errors.Wrapf(batch.Commit(&WriteOptions), "store: save %s", obj.id.String())
}

func (r *Replica) dropObject(oid rdx.ID) error {
	fro, til := ObjectKeyRange(oid)
	return errors.Wrapf(r.db.DeleteRange(fro, til, &WriteOptions), "store: drop %s", oid.String())
}

// loadObjects restores the object table from the store.
func (r *Replica) loadObjects() error {
	it, err := r.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{'O'},
		UpperBound: []byte{'P'},
	})
	if err != nil {
		return errors.Wrap(err, "store: iterate")
	}
	defer it.Close()
	return walkObjects(it, func(obj *object) error {
		r.objects[obj.id] = obj
		if obj.id.Src() == r.src && obj.id.Seq() > r.seq {
			r.seq = obj.id.Seq()
		}
		return nil
	})
}

// walkObjects groups the header and property keys of each object.
// The iterator must be bounded to the 'O' key range.
func walkObjects(it *pebble.Iterator, each func(obj *object) error) error {
	var obj *object
	for it.First(); it.Valid(); it.Next() {
		oid, off := OKeyIdOff(it.Key())
		if oid == rdx.BadId {
			continue
		}
		if off == 0 {
			if obj != nil {
				if err := each(obj); err != nil {
					return err
				}
			}
			h, err := parseHeader(it.Value())
			if err != nil {
				return errors.Wrapf(err, "store: header of %s", oid.String())
			}
			obj = newObject(oid, h)
			continue
		}
		if obj == nil || obj.id != oid {
			continue
		}
		field, ok := obj.class.At(int(off))
		if !ok {
			continue
		}
		v, _, err := DecodeValue(field.Kind, it.Value())
		if err != nil {
			return errors.Wrapf(err, "store: value %s/%d", oid.String(), off)
		}
		obj.values[off-1] = v
	}
	if obj != nil {
		return each(obj)
	}
	return it.Error()
}

// Snapshot is a consistent read view for a sync session.
func (r *Replica) Snapshot() (pebble.Reader, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.db == nil {
		return nil, metasync_errors.ErrClosed
	}
	return r.db.NewSnapshot(), nil
}

// snapshotFeeder turns stored objects back into spawn and edit packets.
type snapshotFeeder struct {
	batch int
	objs  []*object
}

// newSnapshotFeeder reads the snapshot through and releases it.
func newSnapshotFeeder(snap pebble.Reader, batch int) (*snapshotFeeder, error) {
	defer snap.Close()
	it, err := snap.NewIter(&pebble.IterOptions{
		LowerBound: []byte{'O'},
		UpperBound: []byte{'P'},
	})
	if err != nil {
		return nil, errors.Wrap(err, "store: snapshot")
	}
	defer it.Close()
	sf := &snapshotFeeder{batch: batch}
	err = walkObjects(it, func(obj *object) error {
		sf.objs = append(sf.objs, obj)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sf, nil
}

// next returns up to batch objects as O+E packet pairs, nil when done.
func (sf *snapshotFeeder) next() (recs protocol.Records) {
	n := min(sf.batch, len(sf.objs))
	for _, obj := range sf.objs[:n] {
		recs = append(recs, spawnPacket(obj), editPacket(obj, nil))
	}
	sf.objs = sf.objs[n:]
	return
}

func (sf *snapshotFeeder) Len() int {
	return len(sf.objs)
}
