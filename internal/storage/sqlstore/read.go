package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/ir"
	"github.com/roach88/factgraph/internal/matcher"
	"github.com/roach88/factgraph/internal/query"
	"github.com/roach88/factgraph/internal/specification"
	"github.com/roach88/factgraph/internal/storage"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// reader answers point lookups through q. Inside a transaction it is the
// consistent view the matcher walks.
type reader struct {
	q querier
	s *Store
}

func (r reader) bind(query string) string {
	return r.s.dialect.rebind(query)
}

// seqOf returns the insertion sequence of ref.
func (r reader) seqOf(ctx context.Context, ref fact.Reference) (int64, bool, error) {
	var seq int64
	err := r.q.QueryRowContext(ctx, r.bind(`SELECT seq FROM facts WHERE type = ? AND hash = ?`), ref.Type, ref.Hash).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup %s: %w", ref, err)
	}
	return seq, true, nil
}

func (r reader) Load(ctx context.Context, refs []fact.Reference) ([]fact.Record, error) {
	out := make([]fact.Record, len(refs))
	for i, ref := range refs {
		rec, err := r.load(ctx, ref)
		if err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}

// load reads and verifies one record, going through the cache.
func (r reader) load(ctx context.Context, ref fact.Reference) (fact.Record, error) {
	if rec, ok := r.s.cache.get(ref); ok {
		return rec, nil
	}
	var fieldsJSON, predsJSON string
	err := r.q.QueryRowContext(ctx, r.bind(`
		SELECT fields, predecessors
		FROM facts
		WHERE type = ? AND hash = ?
	`), ref.Type, ref.Hash).Scan(&fieldsJSON, &predsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return fact.Record{}, &storage.NotFoundError{Ref: ref}
	}
	if err != nil {
		return fact.Record{}, fmt.Errorf("load %s: %w", ref, err)
	}
	rec, err := decodeRecord(ref, fieldsJSON, predsJSON)
	if err != nil {
		return fact.Record{}, err
	}
	r.s.cache.add(rec)
	return rec, nil
}

func decodeRecord(ref fact.Reference, fieldsJSON, predsJSON string) (fact.Record, error) {
	v, err := ir.Decode([]byte(fieldsJSON))
	if err != nil {
		return fact.Record{}, fmt.Errorf("decode fields of %s: %w", ref, err)
	}
	fields, ok := v.(ir.Object)
	if !ok {
		return fact.Record{}, fmt.Errorf("decode fields of %s: expected object, got %T", ref, v)
	}
	preds, err := fact.DecodePredecessors([]byte(predsJSON))
	if err != nil {
		return fact.Record{}, fmt.Errorf("decode predecessors of %s: %w", ref, err)
	}
	return fact.Rehydrate(ref, fields, preds)
}

func (r reader) Predecessors(ctx context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	rec, err := r.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return rec.PredecessorsOf(role), nil
}

// Successors orders by insertion sequence. Sequences are unique, so ties
// on hash never arise.
func (r reader) Successors(ctx context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	rows, err := r.q.QueryContext(ctx, r.bind(`
		SELECT f.type, f.hash
		FROM edges e
		JOIN facts f ON f.seq = e.successor_seq
		WHERE e.predecessor_type = ? AND e.predecessor_hash = ? AND e.role = ?
		ORDER BY f.seq ASC
	`), ref.Type, ref.Hash, role)
	if err != nil {
		return nil, fmt.Errorf("query successors of %s: %w", ref, err)
	}
	defer rows.Close()

	var out []fact.Reference
	for rows.Next() {
		var succ fact.Reference
		if err := rows.Scan(&succ.Type, &succ.Hash); err != nil {
			return nil, fmt.Errorf("scan successor: %w", err)
		}
		out = append(out, succ)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate successors: %w", err)
	}
	return out, nil
}

func (r reader) whichExist(ctx context.Context, refs []fact.Reference) ([]fact.Reference, error) {
	var out []fact.Reference
	for _, ref := range refs {
		if _, ok := r.s.cache.get(ref); ok {
			out = append(out, ref)
			continue
		}
		_, ok, err := r.seqOf(ctx, ref)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

// inReadTx runs fn against one read transaction.
func (s *Store) inReadTx(ctx context.Context, fn func(reader) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, s.dialect.readTx)
	if err != nil {
		return fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback()
	return fn(reader{q: tx, s: s})
}

// Query evaluates q from start in one read transaction.
func (s *Store) Query(ctx context.Context, start fact.Reference, q query.Query) ([]storage.FactPath, error) {
	var out []storage.FactPath
	err := s.inReadTx(ctx, func(r reader) error {
		var err error
		out, err = matcher.Query(ctx, r, start, q)
		return err
	})
	return out, err
}

// Read evaluates spec from given in one read transaction.
func (s *Store) Read(ctx context.Context, given []fact.Reference, spec specification.Specification) ([]storage.ProjectedResult, error) {
	var out []storage.ProjectedResult
	err := s.inReadTx(ctx, func(r reader) error {
		var err error
		out, err = matcher.Read(ctx, r, given, spec)
		return err
	})
	return out, err
}

// WhichExist returns the stored subset of refs, in input order.
func (s *Store) WhichExist(ctx context.Context, refs []fact.Reference) ([]fact.Reference, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return reader{q: s.db, s: s}.whichExist(ctx, refs)
}

// Load returns verified records for refs. A row whose content does not
// hash to its reference fails with a fact.IntegrityError.
func (s *Store) Load(ctx context.Context, refs []fact.Reference) ([]fact.Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return reader{q: s.db, s: s}.Load(ctx, refs)
}

// Predecessors returns the references ref holds under role.
func (s *Store) Predecessors(ctx context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return reader{q: s.db, s: s}.Predecessors(ctx, ref, role)
}

// Successors returns the facts referencing ref under role in insertion
// order.
func (s *Store) Successors(ctx context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return reader{q: s.db, s: s}.Successors(ctx, ref, role)
}

// Signatures returns the signatures stored for ref, ordered by public key.
func (s *Store) Signatures(ctx context.Context, ref fact.Reference) ([]fact.Signature, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	r := reader{q: s.db, s: s}
	seq, ok, err := r.seqOf(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &storage.NotFoundError{Ref: ref}
	}
	rows, err := s.db.QueryContext(ctx, r.bind(`
		SELECT public_key, signature
		FROM signatures
		WHERE fact_seq = ?
		ORDER BY public_key ASC, signature ASC
	`), seq)
	if err != nil {
		return nil, fmt.Errorf("query signatures: %w", err)
	}
	defer rows.Close()

	sigs := []fact.Signature{}
	for rows.Next() {
		var sig fact.Signature
		if err := rows.Scan(&sig.PublicKey, &sig.Signature); err != nil {
			return nil, fmt.Errorf("scan signature: %w", err)
		}
		sigs = append(sigs, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signatures: %w", err)
	}
	return sigs, nil
}

// Count returns the number of stored facts.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count facts: %w", err)
	}
	return n, nil
}
