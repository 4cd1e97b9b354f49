package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/ChayaSt/QCFractal/pkg/types"
)

// AddOptions inserts option sets, deduplicating on (program, name).
// Returns one id per input element in order; a colliding element maps
// to the existing row's id.
func (s *BoltSocket) AddOptions(data []*types.OptionSet) ([]string, types.Meta, error) {
	meta := types.NewMeta()
	ids := make([]string, len(data))
	now := time.Now().UTC()

	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketOptions)
		idx := tx.Bucket(bucketIdxOptions)

		for i, opt := range data {
			if opt.Program == "" || opt.Name == "" {
				meta.ValidationErrors = append(meta.ValidationErrors,
					fmt.Sprintf("element %d: option set requires program and name", i))
				continue
			}

			key := nkey(opt.Program, opt.Name)
			if existing := idx.Get(key); existing != nil {
				ids[i] = string(existing)
				meta.Duplicates = append(meta.Duplicates, opt.Program+"/"+opt.Name)
				continue
			}

			stored := *opt
			stored.ID = uuid.New().String()
			stored.CreatedOn = now
			stored.ModifiedOn = now

			if err := putJSON(docs, []byte(stored.ID), &stored); err != nil {
				return err
			}
			if err := idx.Put(key, []byte(stored.ID)); err != nil {
				return err
			}

			ids[i] = stored.ID
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

// GetOptions returns option sets matching program and name; an empty
// string matches everything for that field.
func (s *BoltSocket) GetOptions(program, name string, limit int) ([]*types.OptionSet, types.Meta, error) {
	meta := types.NewMeta()
	limit = s.clampLimit(limit)
	var out []*types.OptionSet

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOptions).ForEach(func(k, v []byte) error {
			if len(out) >= limit {
				return nil
			}
			var opt types.OptionSet
			if err := json.Unmarshal(v, &opt); err != nil {
				return err
			}
			if program != "" && opt.Program != program {
				return nil
			}
			if name != "" && opt.Name != name {
				return nil
			}
			out = append(out, &opt)
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

// DelOption removes one option set by its natural key.
func (s *BoltSocket) DelOption(program, name string) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketIdxOptions)
		key := nkey(program, name)
		id := idx.Get(key)
		if id == nil {
			return nil
		}
		if err := tx.Bucket(bucketOptions).Delete(id); err != nil {
			return err
		}
		if err := idx.Delete(key); err != nil {
			return err
		}
		deleted = 1
		return nil
	})
	return deleted, err
}

// AddCollection inserts or overwrites one collection document.
// Without overwrite, a natural-key collision fails with ErrDuplicate.
// With overwrite, the provided data map merges into the stored one:
// existing keys updated, new keys added, absent keys untouched.
func (s *BoltSocket) AddCollection(collection, name string, data map[string]interface{}, overwrite bool) (string, types.Meta, error) {
	meta := types.NewMeta()
	if collection == "" || name == "" {
		err := fmt.Errorf("collection and name are required: %w", ErrInvalidInput)
		meta.Fail(err.Error())
		return "", meta, err
	}

	now := time.Now().UTC()
	var id string

	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketCollections)
		idx := tx.Bucket(bucketIdxCollections)
		key := nkey(collection, name)

		if existing := idx.Get(key); existing != nil {
			if !overwrite {
				return fmt.Errorf("collection %s/%s already exists: %w", collection, name, ErrDuplicate)
			}
			var col types.Collection
			if err := json.Unmarshal(docs.Get(existing), &col); err != nil {
				return err
			}
			if col.Data == nil {
				col.Data = make(map[string]interface{}, len(data))
			}
			for k, v := range data {
				col.Data[k] = v
			}
			col.ModifiedOn = now
			id = col.ID
			return putJSON(docs, existing, &col)
		}

		col := types.Collection{
			ID:         uuid.New().String(),
			Collection: collection,
			Name:       name,
			Data:       data,
			CreatedOn:  now,
			ModifiedOn: now,
		}
		if err := putJSON(docs, []byte(col.ID), &col); err != nil {
			return err
		}
		if err := idx.Put(key, []byte(col.ID)); err != nil {
			return err
		}
		id = col.ID
		meta.NInserted++
		return nil
	})
	if err != nil {
		meta.Fail(err.Error())
		return "", meta, err
	}

	meta.Success = true
	return id, meta, nil
}

// GetCollections returns collection documents matching the key fields;
// empty strings match everything.
func (s *BoltSocket) GetCollections(collection, name string, limit int) ([]*types.Collection, types.Meta, error) {
	meta := types.NewMeta()
	limit = s.clampLimit(limit)
	var out []*types.Collection

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCollections).ForEach(func(k, v []byte) error {
			if len(out) >= limit {
				return nil
			}
			var col types.Collection
			if err := json.Unmarshal(v, &col); err != nil {
				return err
			}
			if collection != "" && col.Collection != collection {
				return nil
			}
			if name != "" && col.Name != name {
				return nil
			}
			out = append(out, &col)
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

// DelCollection removes one collection document by its natural key.
func (s *BoltSocket) DelCollection(collection, name string) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketIdxCollections)
		key := nkey(collection, name)
		id := idx.Get(key)
		if id == nil {
			return nil
		}
		if err := tx.Bucket(bucketCollections).Delete(id); err != nil {
			return err
		}
		if err := idx.Delete(key); err != nil {
			return err
		}
		deleted = 1
		return nil
	})
	return deleted, err
}
