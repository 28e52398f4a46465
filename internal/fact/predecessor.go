package fact

import (
	"slices"
)

// Predecessor is the value of one predecessor role: either a single
// reference or a set of references (for example the prior versions a new
// fact supersedes).
type Predecessor struct {
	refs []Reference
	list bool
}

// One is a single-valued predecessor role.
func One(ref Reference) Predecessor {
	return Predecessor{refs: []Reference{ref}}
}

// Many is a list-valued predecessor role. The set is normalized when the
// owning record is constructed: sorted by (type, hash) and de-duplicated.
func Many(refs ...Reference) Predecessor {
	return Predecessor{refs: slices.Clone(refs), list: true}
}

// IsList reports whether the role holds a list of references.
func (p Predecessor) IsList() bool {
	return p.list
}

// Single returns the reference of a single-valued role.
func (p Predecessor) Single() (Reference, bool) {
	if p.list || len(p.refs) != 1 {
		return Reference{}, false
	}
	return p.refs[0], true
}

// References returns a copy of the role's references.
func (p Predecessor) References() []Reference {
	return slices.Clone(p.refs)
}

// Len returns the number of references in the role.
func (p Predecessor) Len() int {
	return len(p.refs)
}

func (p Predecessor) normalized() Predecessor {
	if !p.list {
		return Predecessor{refs: slices.Clone(p.refs)}
	}
	return Predecessor{refs: SortedUnique(p.refs), list: true}
}
