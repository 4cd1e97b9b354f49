package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/ChayaSt/QCFractal/pkg/types"
)

// ManagerUpdate upserts a manager heartbeat keyed by name and adds the
// reported counter deltas in the same transaction. Returns whether the
// manager already existed.
func (s *BoltSocket) ManagerUpdate(name, cluster, tag string, counts types.ManagerCounts) (bool, error) {
	existed := false
	now := time.Now().UTC()

	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketQueueManagers)

		var m types.Manager
		if data := docs.Get([]byte(name)); data != nil {
			if err := json.Unmarshal(data, &m); err != nil {
				return err
			}
			existed = true
		} else {
			m = types.Manager{
				ID:        uuid.New().String(),
				Name:      name,
				CreatedOn: now,
			}
		}

		if cluster != "" {
			m.Cluster = cluster
		}
		if tag != "" {
			m.Tag = tag
		}
		m.Submitted += counts.Submitted
		m.Completed += counts.Completed
		m.Returned += counts.Returned
		m.Failures += counts.Failures
		m.ModifiedOn = now

		return putJSON(docs, []byte(name), &m)
	})
	return existed, err
}

// GetManagers lists managers, optionally filtered by name and last
// heartbeat time. A zero modifiedAfter matches everything.
func (s *BoltSocket) GetManagers(names []string, modifiedAfter time.Time) ([]*types.Manager, types.Meta, error) {
	meta := types.NewMeta()
	var out []*types.Manager

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueueManagers).ForEach(func(k, v []byte) error {
			var m types.Manager
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if !matchAny(names, m.Name) {
				return nil
			}
			if !modifiedAfter.IsZero() && !m.ModifiedOn.After(modifiedAfter) {
				return nil
			}
			out = append(out, &m)
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
