package metasync

import (
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/classes"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/rdx"
)

// ChangeDetector keeps a shadow of the values a consumer has seen.
// It belongs to one consumer and is not safe for concurrent use.
type ChangeDetector struct {
	host   *Replica
	shadow map[rdx.ID][]Value
}

func (r *Replica) NewChangeDetector() *ChangeDetector {
	return &ChangeDetector{
		host:   r,
		shadow: make(map[rdx.ID][]Value),
	}
}

// DetectChanges returns the keys whose value differs from the shadow,
// then updates the shadow. The first call compares against zero values.
// Skipping calls merges the deltas; calling twice without writes in
// between returns nothing the second time.
func (cd *ChangeDetector) DetectChanges(oid rdx.ID) ([]string, error) {
	class, vals, err := cd.host.values(oid)
	if err != nil {
		delete(cd.shadow, oid)
		return nil, err
	}
	shadow, ok := cd.shadow[oid]
	if !ok || len(shadow) != len(vals) {
		shadow = zeroValues(class)
	}
	var changed []string
	for i := range vals {
		if !vals[i].Equal(shadow[i]) {
			changed = append(changed, class[i].Name)
		}
	}
	cd.shadow[oid] = vals
	return changed, nil
}

func (cd *ChangeDetector) Forget(oid rdx.ID) {
	delete(cd.shadow, oid)
}

func zeroValues(class classes.Fields) []Value {
	ret := make([]Value, len(class))
	for i, f := range class {
		ret[i] = ZeroValue(f.Kind)
	}
	return ret
}

// DetectChanges runs the replica's own detector. Consumers that need
// their own view use NewChangeDetector.
func (r *Replica) DetectChanges(oid rdx.ID) ([]string, error) {
	r.detlock.Lock()
	defer r.detlock.Unlock()
	return r.detector.DetectChanges(oid)
}
