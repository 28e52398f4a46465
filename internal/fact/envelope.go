package fact

import "slices"

// Signature is an opaque signature over a fact. The core never inspects it.
type Signature struct {
	PublicKey string `json:"publicKey" yaml:"publicKey"`
	Signature string `json:"signature" yaml:"signature"`
}

// Envelope carries a Record with zero or more signatures.
type Envelope struct {
	Fact       Record
	Signatures []Signature
}

// NewEnvelope wraps r with sigs.
func NewEnvelope(r Record, sigs ...Signature) Envelope {
	return Envelope{Fact: r, Signatures: slices.Clone(sigs)}
}

// Envelopes wraps unsigned records.
func Envelopes(records ...Record) []Envelope {
	out := make([]Envelope, len(records))
	for i, r := range records {
		out[i] = Envelope{Fact: r}
	}
	return out
}

// Reference returns the enveloped fact's reference.
func (e Envelope) Reference() Reference {
	return e.Fact.Reference()
}

// MergeSignatures returns the union of a and b, keeping first-seen order.
func MergeSignatures(a, b []Signature) []Signature {
	out := slices.Clone(a)
	for _, s := range b {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// Records extracts the records of envs.
func Records(envs []Envelope) []Record {
	out := make([]Record, len(envs))
	for i, e := range envs {
		out[i] = e.Fact
	}
	return out
}
