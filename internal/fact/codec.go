package fact

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/roach88/factgraph/internal/ir"
)

type recordJSON struct {
	Type         string                     `json:"type"`
	Hash         string                     `json:"hash,omitempty"`
	Fields       ir.Object                  `json:"fields"`
	Predecessors map[string]json.RawMessage `json:"predecessors"`
}

type envelopeJSON struct {
	Fact       Record      `json:"fact"`
	Signatures []Signature `json:"signatures,omitempty"`
}

// MarshalJSON renders a single role as a reference object and a list role
// as an array.
func (p Predecessor) MarshalJSON() ([]byte, error) {
	if p.list {
		refs := p.refs
		if refs == nil {
			refs = []Reference{}
		}
		return json.Marshal(refs)
	}
	if len(p.refs) != 1 {
		return nil, fmt.Errorf("single predecessor has %d references", len(p.refs))
	}
	return json.Marshal(p.refs[0])
}

// UnmarshalJSON accepts either form.
func (p *Predecessor) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var refs []Reference
		if err := json.Unmarshal(data, &refs); err != nil {
			return err
		}
		*p = Many(refs...)
		return nil
	}
	var ref Reference
	if err := json.Unmarshal(data, &ref); err != nil {
		return err
	}
	*p = One(ref)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	preds := make(map[string]json.RawMessage, len(r.predecessors))
	for role, p := range r.predecessors {
		b, err := p.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("role %q: %w", role, err)
		}
		preds[role] = b
	}
	fields := r.fields
	if fields == nil {
		fields = ir.Object{}
	}
	return json.Marshal(recordJSON{
		Type:         r.ref.Type,
		Hash:         r.ref.Hash,
		Fields:       fields,
		Predecessors: preds,
	})
}

// UnmarshalJSON decodes and verifies a record. A record without a hash is
// hashed on decode; one with a hash must match it.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	preds, err := UnmarshalPredecessors(raw.Predecessors)
	if err != nil {
		return err
	}
	var rec Record
	if raw.Hash == "" {
		rec, err = NewRecord(raw.Type, raw.Fields, preds)
	} else {
		rec, err = Rehydrate(Reference{Type: raw.Type, Hash: raw.Hash}, raw.Fields, preds)
	}
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// UnmarshalPredecessors decodes a role -> JSON map.
func UnmarshalPredecessors(raw map[string]json.RawMessage) (map[string]Predecessor, error) {
	preds := make(map[string]Predecessor, len(raw))
	for role, msg := range raw {
		var p Predecessor
		if err := p.UnmarshalJSON(msg); err != nil {
			return nil, fmt.Errorf("role %q: %w", role, err)
		}
		preds[role] = p
	}
	return preds, nil
}

// MarshalPredecessors encodes the predecessor map of r as stored JSON.
func MarshalPredecessors(r Record) ([]byte, error) {
	preds := make(map[string]Predecessor, len(r.predecessors))
	for role, p := range r.predecessors {
		preds[role] = p
	}
	return json.Marshal(preds)
}

// DecodePredecessors is the inverse of MarshalPredecessors.
func DecodePredecessors(data []byte) (map[string]Predecessor, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return UnmarshalPredecessors(raw)
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelopeJSON{Fact: e.Fact, Signatures: e.Signatures})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw envelopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Envelope{Fact: raw.Fact, Signatures: raw.Signatures}
	return nil
}

// EncodeEnvelopes renders envs as a JSON array.
func EncodeEnvelopes(envs []Envelope) ([]byte, error) {
	if envs == nil {
		envs = []Envelope{}
	}
	return json.Marshal(envs)
}

// DecodeEnvelopes parses a JSON array of envelopes, verifying every hash.
func DecodeEnvelopes(data []byte) ([]Envelope, error) {
	var envs []Envelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, fmt.Errorf("decode envelopes: %w", err)
	}
	return envs, nil
}
