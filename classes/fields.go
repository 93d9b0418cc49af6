package classes

// A class declares the properties of a replicated object. The order of
// declaration is the property Offset (1-based): on the wire and in the
// store a property is addressed by its offset, never by its name.
// Scalars carry no capacity; every buffer property declares its own
// capacity, there is no global maximum.

import (
	"fmt"
	"unicode/utf8"
)

type Kind byte

const (
	Int    Kind = 'I'
	Float  Kind = 'F'
	Bool   Kind = 'B'
	Enum   Kind = 'E'
	Buffer Kind = 'U'
)

const MaxFields = 255

func (k Kind) Valid() bool {
	switch k {
	case Int, Float, Bool, Enum, Buffer:
		return true
	}
	return false
}

func (k Kind) String() string {
	switch k {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Enum:
		return "enum"
	case Buffer:
		return "buffer"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

type Field struct {
	Name     string
	Kind     Kind
	Capacity int
}

type Fields []Field

func (f Field) Valid() bool {
	for _, l := range f.Name {
		if l <= ' ' {
			return false
		}
	}
	if !f.Kind.Valid() || len(f.Name) == 0 || !utf8.ValidString(f.Name) {
		return false
	}
	if f.Kind == Buffer {
		return f.Capacity > 0
	}
	return f.Capacity == 0
}

// Find returns the 1-based offset of the named field, -1 if absent.
func (fs Fields) Find(name string) int {
	for i := range fs {
		if fs[i].Name == name {
			return i + 1
		}
	}
	return -1
}

// At returns the field at a 1-based offset.
func (fs Fields) At(off int) (Field, bool) {
	if off < 1 || off > len(fs) {
		return Field{}, false
	}
	return fs[off-1], true
}

func (fs Fields) Validate() error {
	if len(fs) > MaxFields {
		return fmt.Errorf("too many fields: %d", len(fs))
	}
	seen := make(map[string]struct{}, len(fs))
	for _, f := range fs {
		if !f.Valid() {
			return fmt.Errorf("bad field %q (%s, capacity %d)", f.Name, f.Kind, f.Capacity)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}
