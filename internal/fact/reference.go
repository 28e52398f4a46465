package fact

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Reference identifies a fact by type and content hash without its body.
// Two references are equal iff both fields are equal, so Reference is
// usable as a map key.
type Reference struct {
	Type string `json:"type" yaml:"type"`
	Hash string `json:"hash" yaml:"hash"`
}

// Key renders the reference as "type:hash".
func (r Reference) Key() string {
	return r.Type + ":" + r.Hash
}

func (r Reference) String() string {
	return r.Key()
}

// IsZero reports whether the reference is unset.
func (r Reference) IsZero() bool {
	return r.Type == "" && r.Hash == ""
}

// ParseReference parses the "type:hash" form produced by Key. The hash is
// taken after the last colon so that types may contain colons.
func ParseReference(s string) (Reference, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return Reference{}, fmt.Errorf("invalid fact reference %q: want type:hash", s)
	}
	return Reference{Type: s[:i], Hash: s[i+1:]}, nil
}

// Compare orders references by type, then hash, bytewise.
func Compare(a, b Reference) int {
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return cmp.Compare(a.Hash, b.Hash)
}

// SortedUnique returns a sorted copy of refs with duplicates removed.
func SortedUnique(refs []Reference) []Reference {
	out := slices.Clone(refs)
	slices.SortFunc(out, Compare)
	return slices.Compact(out)
}

// Unique removes duplicates from refs, keeping the first occurrence order.
func Unique(refs []Reference) []Reference {
	seen := make(map[Reference]struct{}, len(refs))
	out := make([]Reference, 0, len(refs))
	for _, r := range refs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func (r Reference) validate() error {
	if r.Type == "" {
		return fmt.Errorf("reference has empty type")
	}
	if r.Hash == "" {
		return fmt.Errorf("reference %s has empty hash", r.Type)
	}
	return nil
}
