package metasync

import (
	"fmt"
	"io"

	"github.com/cockroachdb/pebble"

	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/classes"
)

func StoreKVString(key, value []byte) string {
	oid, off := OKeyIdOff(key)
	if off == 0 {
		h, err := parseHeader(value)
		if err != nil {
			return fmt.Sprintf("%s.0:\t%v", oid.String(), err)
		}
		return fmt.Sprintf("%s.0:\tauthority %d epoch %d rev %d %s", oid.String(), h.authority, h.epoch, h.rev, h.policy)
	}
	return fmt.Sprintf("%s.%d:\t%q", oid.String(), off, value)
}

// DumpObjects prints the live object table.
func (r *Replica) DumpObjects(writer io.Writer) {
	for _, info := range r.Objects() {
		mark := ""
		if info.Authority == r.src {
			mark = "*"
		}
		fmt.Fprintf(writer, "%s%s\tauthority %d epoch %d rev %d %s\n",
			mark, info.ID.String(), info.Authority, info.Epoch, info.Rev, info.Policy)
		for i, f := range info.Class {
			fmt.Fprintf(writer, "\t%s %s = %s\n", f.Name, kindName(f), info.Values[i].String())
		}
	}
}

func kindName(f classes.Field) string {
	if f.Kind == classes.Buffer {
		return fmt.Sprintf("%s(%d)", f.Kind, f.Capacity)
	}
	return f.Kind.String()
}

// DumpStore prints the raw store, key by key.
func (r *Replica) DumpStore(writer io.Writer) error {
	snap, err := r.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Close()
	it, err := snap.NewIter(&pebble.IterOptions{
		LowerBound: []byte{'O'},
		UpperBound: []byte{'P'},
	})
	if err != nil {
		return err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		fmt.Fprintln(writer, StoreKVString(it.Key(), it.Value()))
	}
	return nil
}

func (r *Replica) DumpAll(writer io.Writer) {
	r.DumpObjects(writer)
	fmt.Fprintln(writer, "")
	_ = r.DumpStore(writer)
}
