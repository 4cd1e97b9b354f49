package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/ChayaSt/QCFractal/pkg/types"
)

// lowerResult normalizes the six key fields in place. Both writes and
// queries pass through this, so case differences never split keys.
func lowerResult(r *types.Result) {
	r.Program = strings.ToLower(r.Program)
	r.Driver = strings.ToLower(r.Driver)
	r.Method = strings.ToLower(r.Method)
	r.Basis = strings.ToLower(r.Basis)
	r.Options = strings.ToLower(r.Options)
	r.Molecule = strings.ToLower(r.Molecule)
}

func resultKey(r *types.Result) []byte {
	return nkey(r.Program, r.Driver, r.Method, r.Basis, r.Options, r.Molecule)
}

// AddResults inserts results keyed on the (program, driver, method,
// basis, options, molecule) tuple. A key collision yields the existing
// id as a duplicate, or overwrites the stored payload when
// updateExisting is set. Ids are positional; empty only on a
// per-element validation failure.
func (s *BoltSocket) AddResults(data []*types.Result, updateExisting bool) ([]string, types.Meta, error) {
	meta := types.NewMeta()
	ids := make([]string, len(data))
	now := time.Now().UTC()

	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketResults)
		idx := tx.Bucket(bucketIdxResults)

		for i, in := range data {
			r := *in
			lowerResult(&r)
			if r.Program == "" || r.Driver == "" || r.Method == "" ||
				r.Basis == "" || r.Options == "" || r.Molecule == "" {
				meta.ValidationErrors = append(meta.ValidationErrors,
					fmt.Sprintf("element %d: result requires all six key fields", i))
				continue
			}

			key := resultKey(&r)
			if existing := idx.Get(key); existing != nil {
				id := string(existing)
				ids[i] = id
				if !updateExisting {
					meta.Duplicates = append(meta.Duplicates, id)
					continue
				}

				var old types.Result
				if err := json.Unmarshal(docs.Get(existing), &old); err != nil {
					return err
				}
				r.ID = old.ID
				r.CreatedOn = old.CreatedOn
				if r.Status == "" {
					r.Status = old.Status
				}
				r.ModifiedOn = now
				if err := putJSON(docs, existing, &r); err != nil {
					return err
				}
				continue
			}

			r.ID = uuid.New().String()
			if r.Status == "" {
				r.Status = types.RecordStatusIncomplete
			}
			r.CreatedOn = now
			r.ModifiedOn = now

			if err := putJSON(docs, []byte(r.ID), &r); err != nil {
				return err
			}
			if err := idx.Put(key, []byte(r.ID)); err != nil {
				return err
			}

			ids[i] = r.ID
			meta.NInserted++
		}
		return nil
	})
	if err != nil {
		meta.Fail(err.Error())
		return nil, meta, err
	}

	meta.Success = true
	return ids, meta, nil
}

func matchAny(values []string, v string) bool {
	if len(values) == 0 {
		return true
	}
	for _, want := range values {
		if want == v {
			return true
		}
	}
	return false
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}

// GetResults queries by the lowercased key fields. Status defaults to
// COMPLETE when the query leaves it empty.
func (s *BoltSocket) GetResults(q ResultQuery) ([]*types.Result, types.Meta, error) {
	meta := types.NewMeta()
	limit := s.clampLimit(q.Limit)

	program := lowerAll(q.Program)
	driver := lowerAll(q.Driver)
	method := lowerAll(q.Method)
	basis := lowerAll(q.Basis)
	options := lowerAll(q.Options)
	molecule := lowerAll(q.Molecule)
	status := q.Status
	if len(status) == 0 {
		status = []string{string(types.RecordStatusComplete)}
	}

	var out []*types.Result
	skip := q.Skip

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResults).ForEach(func(k, v []byte) error {
			if len(out) >= limit {
				return nil
			}
			var r types.Result
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if !matchAny(program, r.Program) || !matchAny(driver, r.Driver) ||
				!matchAny(method, r.Method) || !matchAny(basis, r.Basis) ||
				!matchAny(options, r.Options) || !matchAny(molecule, r.Molecule) ||
				!matchAny(status, string(r.Status)) {
				return nil
			}
			if skip > 0 {
				skip--
				return nil
			}
			out = append(out, projectResult(&r, q.Projection))
			return nil
		})
	})
	if err != nil {
		meta.Fail(err.Error())
		return nil, meta, err
	}

	meta.Success = true
	meta.NFound = len(out)
	return out, meta, nil
}

// GetResultsByID fetches results by id with an optional include-only
// projection. Malformed ids land in meta.errors, absent ones in
// meta.missing.
func (s *BoltSocket) GetResultsByID(ids []string, projection []string) ([]*types.Result, types.Meta, error) {
	meta := types.NewMeta()
	var out []*types.Result

	err := s.db.View(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketResults)
		for _, id := range ids {
			if _, err := uuid.Parse(id); err != nil {
				meta.AddError(fmt.Sprintf("invalid id: %s", id))
				continue
			}
			data := docs.Get([]byte(id))
			if data == nil {
				meta.Missing = append(meta.Missing, id)
				continue
			}
			var r types.Result
			if err := json.Unmarshal(data, &r); err != nil {
				return err
			}
			out = append(out, projectResult(&r, projection))
		}
		return nil
	})
	if err != nil {
		meta.Fail(err.Error())
		return nil, meta, err
	}

	meta.Success = true
	meta.NFound = len(out)
	return out, meta, nil
}

// DelResults removes results by id and returns the number deleted.
func (s *BoltSocket) DelResults(ids []string) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketResults)
		idx := tx.Bucket(bucketIdxResults)
		for _, id := range ids {
			data := docs.Get([]byte(id))
			if data == nil {
				continue
			}
			var r types.Result
			if err := json.Unmarshal(data, &r); err != nil {
				return err
			}
			if err := docs.Delete([]byte(id)); err != nil {
				return err
			}
			if err := idx.Delete(resultKey(&r)); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// projectResult applies an include-only projection. The id always
// survives so positional answers stay addressable.
func projectResult(r *types.Result, fields []string) *types.Result {
	if len(fields) == 0 {
		return r
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return r
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return r
	}
	keep := map[string]bool{"id": true}
	for _, f := range fields {
		keep[f] = true
	}
	for k := range m {
		if !keep[k] {
			delete(m, k)
		}
	}
	filtered, err := json.Marshal(m)
	if err != nil {
		return r
	}
	var out types.Result
	if err := json.Unmarshal(filtered, &out); err != nil {
		return r
	}
	return &out
}

// AddProcedures inserts procedures with silent dedup on hash_index.
func (s *BoltSocket) AddProcedures(data []*types.Procedure) ([]string, types.Meta, error) {
	meta := types.NewMeta()
	ids := make([]string, len(data))
	now := time.Now().UTC()

	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketProcedures)
		idx := tx.Bucket(bucketIdxProcedures)

		for i, in := range data {
			if in.HashIndex == "" || in.Procedure == "" {
				meta.ValidationErrors = append(meta.ValidationErrors,
					fmt.Sprintf("element %d: procedure requires procedure and hash_index", i))
				continue
			}

			key := []byte(in.HashIndex)
			if existing := idx.Get(key); existing != nil {
				ids[i] = string(existing)
				meta.Duplicates = append(meta.Duplicates, string(existing))
				continue
			}

			p := *in
			p.ID = uuid.New().String()
			p.Program = strings.ToLower(p.Program)
			if p.Status == "" {
				p.Status = types.RecordStatusIncomplete
			}
			p.CreatedOn = now
			p.ModifiedOn = now

			if err := putJSON(docs, []byte(p.ID), &p); err != nil {
				return err
			}
			if err := idx.Put(key, []byte(p.ID)); err != nil {
				return err
			}

			ids[i] = p.ID
			meta.NInserted++
		}
		return nil
	})
	if err != nil {
		meta.Fail(err.Error())
		return nil, meta, err
	}

	meta.Success = true
	return ids, meta, nil
}

// GetProcedures queries procedures by id, kind, program, hash_index
// and status; empty filters match everything.
func (s *BoltSocket) GetProcedures(q ProcedureQuery) ([]*types.Procedure, types.Meta, error) {
	meta := types.NewMeta()
	limit := s.clampLimit(q.Limit)
	program := lowerAll(q.Program)

	var out []*types.Procedure
	skip := q.Skip

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProcedures).ForEach(func(k, v []byte) error {
			if len(out) >= limit {
				return nil
			}
			var p types.Procedure
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if !matchAny(q.ID, p.ID) || !matchAny(q.Procedure, p.Procedure) ||
				!matchAny(program, p.Program) || !matchAny(q.HashIndex, p.HashIndex) ||
				!matchAny(q.Status, string(p.Status)) {
				return nil
			}
			if skip > 0 {
				skip--
				return nil
			}
			out = append(out, &p)
			return nil
		})
	})
	if err != nil {
		meta.Fail(err.Error())
		return nil, meta, err
	}

	meta.Success = true
	meta.NFound = len(out)
	return out, meta, nil
}

// UpdateProcedure merges fields into the procedure identified by
// hash_index. Returns the number of documents modified (0 or 1).
func (s *BoltSocket) UpdateProcedure(hashIndex string, updates map[string]interface{}) (int, error) {
	modified := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketProcedures)
		idx := tx.Bucket(bucketIdxProcedures)

		id := idx.Get([]byte(hashIndex))
		if id == nil {
			return nil
		}
		doc, err := loadDocMap(docs, id)
		if err != nil {
			return err
		}
		for k, v := range updates {
			if k == "id" || k == "created_on" || k == "hash_index" {
				continue
			}
			doc[k] = v
		}
		doc["modified_on"] = time.Now().UTC()
		if err := putJSON(docs, id, doc); err != nil {
			return err
		}
		modified = 1
		return nil
	})
	return modified, err
}

// UpdateRecordData merges a finished compute payload into the Result
// or Procedure a task points at and forces status COMPLETE. Identity
// fields are never remapped, so the natural-key index stays put.
func (s *BoltSocket) UpdateRecordData(ref types.RecordRef, payload json.RawMessage) error {
	bucket := recordBucket(ref.Kind)
	if bucket == nil {
		return fmt.Errorf("unknown record kind %q: %w", ref.Kind, ErrInvalidInput)
	}

	var fields map[string]interface{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return fmt.Errorf("payload for %s %s: %w", ref.Kind, ref.ID, err)
		}
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucket)
		doc, err := loadDocMap(docs, []byte(ref.ID))
		if err == ErrNotFound {
			return fmt.Errorf("%s %s: %w", ref.Kind, ref.ID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		for k, v := range fields {
			switch k {
			case "id", "created_on", "hash_index",
				"program", "driver", "method", "basis", "options", "molecule":
				continue
			}
			doc[k] = v
		}
		doc["status"] = string(types.RecordStatusComplete)
		doc["modified_on"] = time.Now().UTC()
		return putJSON(docs, []byte(ref.ID), doc)
	})
}

// RecordStatus reports the status of the record a task points at.
func (s *BoltSocket) RecordStatus(ref types.RecordRef) (types.RecordStatus, error) {
	bucket := recordBucket(ref.Kind)
	if bucket == nil {
		return "", fmt.Errorf("unknown record kind %q: %w", ref.Kind, ErrInvalidInput)
	}

	var status types.RecordStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		doc, err := loadDocMap(tx.Bucket(bucket), []byte(ref.ID))
		if err != nil {
			return err
		}
		if v, ok := doc["status"].(string); ok {
			status = types.RecordStatus(v)
		}
		return nil
	})
	if err == ErrNotFound {
		return "", fmt.Errorf("%s %s: %w", ref.Kind, ref.ID, ErrNotFound)
	}
	return status, err
}
