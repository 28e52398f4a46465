package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/ir"
	"github.com/roach88/factgraph/internal/storage"
)

// Save writes the batch in one transaction. Every predecessor must be
// stored or in the batch; otherwise the transaction rolls back and nothing
// is written.
//
// Facts use INSERT ... ON CONFLICT DO NOTHING, so saving a stored fact
// again is a no-op apart from merging its signatures.
func (s *Store) Save(ctx context.Context, envelopes []fact.Envelope) ([]fact.Envelope, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	started := time.Now()
	envelopes = storage.Coalesce(envelopes)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("save: begin tx: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	r := reader{q: tx, s: s}
	err = storage.CheckPredecessors(fact.Records(envelopes), func(ref fact.Reference) (bool, error) {
		_, ok, err := r.seqOf(ctx, ref)
		return ok, err
	})
	if err != nil {
		return nil, err
	}

	var saved []fact.Envelope
	for _, env := range envelopes {
		seq, inserted, err := r.insertFact(ctx, env.Fact)
		if err != nil {
			return nil, fmt.Errorf("save %s: %w", env.Reference(), err)
		}
		if inserted {
			if err := r.insertEdges(ctx, env.Fact, seq); err != nil {
				return nil, fmt.Errorf("save %s: %w", env.Reference(), err)
			}
			saved = append(saved, env)
		}
		if err := r.insertSignatures(ctx, seq, env.Signatures); err != nil {
			return nil, fmt.Errorf("save %s: %w", env.Reference(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("save: commit: %w", err)
	}

	// Records built in memory are verified by construction.
	for _, env := range saved {
		s.cache.add(env.Fact)
	}
	s.metrics.ObserveSave(s.dialect.name, len(saved), started)
	s.logger.Debug("saved batch", "driver", s.dialect.name, "received", len(envelopes), "saved", len(saved))
	return saved, nil
}

// insertFact writes rec and reports its sequence and whether the row is
// new.
func (r reader) insertFact(ctx context.Context, rec fact.Record) (int64, bool, error) {
	fieldsJSON, err := ir.Marshal(rec.Fields())
	if err != nil {
		return 0, false, fmt.Errorf("encode fields: %w", err)
	}
	predsJSON, err := fact.MarshalPredecessors(rec)
	if err != nil {
		return 0, false, fmt.Errorf("encode predecessors: %w", err)
	}

	var seq int64
	err = r.q.QueryRowContext(ctx, r.bind(`
		INSERT INTO facts (type, hash, fields, predecessors)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (type, hash) DO NOTHING
		RETURNING seq
	`), rec.Type(), rec.Hash(), string(fieldsJSON), string(predsJSON)).Scan(&seq)
	if err == nil {
		return seq, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("insert fact: %w", err)
	}

	seq, ok, err := r.seqOf(ctx, rec.Reference())
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, fmt.Errorf("insert fact: conflict on %s but no stored row", rec.Reference())
	}
	return seq, false, nil
}

func (r reader) insertEdges(ctx context.Context, rec fact.Record, seq int64) error {
	stmt := r.bind(`
		INSERT INTO edges (predecessor_type, predecessor_hash, role, successor_seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	for _, role := range rec.Roles() {
		for _, pred := range rec.PredecessorsOf(role) {
			if _, err := r.q.ExecContext(ctx, stmt, pred.Type, pred.Hash, role, seq); err != nil {
				return fmt.Errorf("insert edge %s: %w", role, err)
			}
		}
	}
	return nil
}

func (r reader) insertSignatures(ctx context.Context, seq int64, sigs []fact.Signature) error {
	stmt := r.bind(`
		INSERT INTO signatures (fact_seq, public_key, signature)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	for _, sig := range sigs {
		if _, err := r.q.ExecContext(ctx, stmt, seq, sig.PublicKey, sig.Signature); err != nil {
			return fmt.Errorf("insert signature: %w", err)
		}
	}
	return nil
}
