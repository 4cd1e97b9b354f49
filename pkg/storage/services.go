package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/ChayaSt/QCFractal/pkg/types"
)

// AddServices inserts service documents with silent dedup on
// hash_index. Services are schemaless; the iteration loop owns their
// shape and storage only guarantees identity and bookkeeping fields.
func (s *BoltSocket) AddServices(data []types.ServiceDocument) ([]string, types.Meta, error) {
	meta := types.NewMeta()
	ids := make([]string, len(data))
	now := time.Now().UTC()

	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketServiceQueue)
		idx := tx.Bucket(bucketIdxServices)

		for i, in := range data {
			hash := in.HashIndex()
			if hash == "" {
				meta.ValidationErrors = append(meta.ValidationErrors,
					fmt.Sprintf("element %d: service requires hash_index", i))
				continue
			}

			key := []byte(hash)
			if existing := idx.Get(key); existing != nil {
				ids[i] = string(existing)
				meta.Duplicates = append(meta.Duplicates, string(existing))
				continue
			}

			doc := types.ServiceDocument{}
			for k, v := range in {
				doc[k] = v
			}
			doc.SetID(uuid.New().String())
			if doc.Status() == "" {
				doc["status"] = string(types.TaskStatusWaiting)
			}
			doc["created_on"] = now
			doc["modified_on"] = now

			if err := putJSON(docs, []byte(doc.ID()), doc); err != nil {
				return err
			}
			if err := idx.Put(key, []byte(doc.ID())); err != nil {
				return err
			}

			ids[i] = doc.ID()
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

// GetServices queries service documents by id, hash_index and status.
func (s *BoltSocket) GetServices(q ServiceQuery) ([]types.ServiceDocument, types.Meta, error) {
	meta := types.NewMeta()
	limit := s.clampLimit(q.Limit)

	var out []types.ServiceDocument
	skip := q.Skip

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServiceQueue).ForEach(func(k, v []byte) error {
			if len(out) >= limit {
				return nil
			}
			var doc types.ServiceDocument
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			if !matchAny(q.ID, doc.ID()) || !matchAny(q.HashIndex, doc.HashIndex()) ||
				!matchAny(q.Status, doc.Status()) {
				return nil
			}
			if skip > 0 {
				skip--
				return nil
			}
			out = append(out, doc)
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

// UpdateServices writes back whole service documents after an
// iteration step. Identity and creation time survive; everything else
// is whatever the iteration produced. Documents without a known id are
// skipped.
func (s *BoltSocket) UpdateServices(data []types.ServiceDocument) (int, error) {
	updated := 0
	now := time.Now().UTC()

	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketServiceQueue)
		for _, in := range data {
			id := in.ID()
			if id == "" {
				continue
			}
			old := docs.Get([]byte(id))
			if old == nil {
				continue
			}
			var prev types.ServiceDocument
			if err := json.Unmarshal(old, &prev); err != nil {
				return err
			}

			doc := types.ServiceDocument{}
			for k, v := range in {
				doc[k] = v
			}
			doc.SetID(id)
			if created, ok := prev["created_on"]; ok {
				doc["created_on"] = created
			}
			doc["modified_on"] = now

			if err := putJSON(docs, []byte(id), doc); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	return updated, err
}

// DelServices removes finished service documents by id.
func (s *BoltSocket) DelServices(ids []string) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketServiceQueue)
		idx := tx.Bucket(bucketIdxServices)
		for _, id := range ids {
			data := docs.Get([]byte(id))
			if data == nil {
				continue
			}
			var doc types.ServiceDocument
			if err := json.Unmarshal(data, &doc); err != nil {
				return err
			}
			if err := docs.Delete([]byte(id)); err != nil {
				return err
			}
			if hash := doc.HashIndex(); hash != "" {
				if err := idx.Delete([]byte(hash)); err != nil {
					return err
				}
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
