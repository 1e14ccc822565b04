// Package vocab maps feature and label strings to dense integer ids.
package vocab

import "fmt"

// Index is an immutable bidirectional mapping between names and the ids
// [0, Len()).
type Index struct {
	toID  map[string]int
	names []string
}

// NewIndex assigns ids in the order of names. Duplicate names are rejected.
func NewIndex(names []string) (*Index, error) {
	x := &Index{
		toID:  make(map[string]int, len(names)),
		names: make([]string, len(names)),
	}
	for i, name := range names {
		if _, dup := x.toID[name]; dup {
			return nil, fmt.Errorf("vocab: duplicate entry %q", name)
		}
		x.toID[name] = i
		x.names[i] = name
	}
	return x, nil
}

// ID returns the id of name and whether it is present.
func (x *Index) ID(name string) (int, bool) {
	id, ok := x.toID[name]
	return id, ok
}

// Name returns the name for id. It panics if id is out of range.
func (x *Index) Name(id int) string {
	return x.names[id]
}

// Len returns the number of entries.
func (x *Index) Len() int {
	return len(x.names)
}

// Names returns a copy of all names in id order.
func (x *Index) Names() []string {
	out := make([]string, len(x.names))
	copy(out, x.names)
	return out
}

// Equal reports whether both indexes hold the same names with the same ids.
func (x *Index) Equal(o *Index) bool {
	if x.Len() != o.Len() {
		return false
	}
	for i, name := range x.names {
		if o.names[i] != name {
			return false
		}
	}
	return true
}
