package storage

import (
	"github.com/roach88/factgraph/internal/fact"
)

// Coalesce merges envelopes that carry the same fact, keeping the position
// of the first occurrence and the union of signatures.
func Coalesce(envelopes []fact.Envelope) []fact.Envelope {
	index := make(map[fact.Reference]int, len(envelopes))
	out := make([]fact.Envelope, 0, len(envelopes))
	for _, env := range envelopes {
		ref := env.Reference()
		if i, ok := index[ref]; ok {
			out[i].Signatures = fact.MergeSignatures(out[i].Signatures, env.Signatures)
			continue
		}
		index[ref] = len(out)
		out = append(out, env)
	}
	return out
}

// CheckPredecessors verifies that every predecessor of every record is
// either in records or reported present by stored. stored is only asked
// about references outside the batch.
func CheckPredecessors(records []fact.Record, stored func(fact.Reference) (bool, error)) error {
	inBatch := make(map[fact.Reference]struct{}, len(records))
	for _, r := range records {
		inBatch[r.Reference()] = struct{}{}
	}
	checked := map[fact.Reference]bool{}
	for _, r := range records {
		for _, pred := range r.AllPredecessors() {
			if _, ok := inBatch[pred]; ok {
				continue
			}
			ok, seen := checked[pred]
			if !seen {
				var err error
				if ok, err = stored(pred); err != nil {
					return err
				}
				checked[pred] = ok
			}
			if !ok {
				return &MissingPredecessorError{Fact: r.Reference(), Predecessor: pred}
			}
		}
	}
	return nil
}
