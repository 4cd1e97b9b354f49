package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/ChayaSt/QCFractal/pkg/types"
)

// QueueSubmit enqueues tasks, one per base record. Resubmitting a task
// for a record that already has one merges the new hooks into the
// existing task instead of queueing twice.
func (s *BoltSocket) QueueSubmit(data []*types.Task) ([]string, types.Meta, error) {
	meta := types.NewMeta()
	ids := make([]string, len(data))
	now := time.Now().UTC()

	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketTaskQueue)
		base := tx.Bucket(bucketIdxTaskBase)
		status := tx.Bucket(bucketIdxTaskStatus)

		for i, in := range data {
			target := recordBucket(in.BaseResult.Kind)
			if target == nil {
				meta.ValidationErrors = append(meta.ValidationErrors,
					fmt.Sprintf("element %d: unknown record kind %q", i, in.BaseResult.Kind))
				continue
			}
			if tx.Bucket(target).Get([]byte(in.BaseResult.ID)) == nil {
				meta.Missing = append(meta.Missing, in.BaseResult.ID)
				continue
			}

			key := nkey(string(in.BaseResult.Kind), in.BaseResult.ID)
			if existing := base.Get(key); existing != nil {
				var t types.Task
				if err := json.Unmarshal(docs.Get(existing), &t); err != nil {
					return err
				}
				t.Hooks = append(t.Hooks, in.Hooks...)
				t.ModifiedOn = now
				if err := putJSON(docs, existing, &t); err != nil {
					return err
				}
				ids[i] = t.ID
				meta.Duplicates = append(meta.Duplicates, t.ID)
				continue
			}

			t := *in
			t.ID = uuid.New().String()
			t.Status = types.TaskStatusWaiting
			t.Error = ""
			t.CreatedOn = now
			t.ModifiedOn = now

			if err := putJSON(docs, []byte(t.ID), &t); err != nil {
				return err
			}
			if err := base.Put(key, []byte(t.ID)); err != nil {
				return err
			}
			if err := status.Put(statusKey(t.Status, t.CreatedOn, t.ID), []byte(t.ID)); err != nil {
				return err
			}

			ids[i] = t.ID
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

// QueueGetNext leases up to limit waiting tasks, oldest first, and
// flips them to RUNNING in the same transaction. An empty tag matches
// any task.
func (s *BoltSocket) QueueGetNext(limit int, tag string) ([]*types.Task, error) {
	limit = s.clampLimit(limit)
	var leased []*types.Task

	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketTaskQueue)
		status := tx.Bucket(bucketIdxTaskStatus)

		// Collect candidates first; mutating under an open cursor
		// invalidates it.
		prefix := []byte(string(types.TaskStatusWaiting) + "/")
		var selected []*types.Task
		c := status.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if len(selected) >= limit {
				break
			}
			var t types.Task
			if err := json.Unmarshal(docs.Get(v), &t); err != nil {
				return err
			}
			if tag != "" && t.Tag != tag {
				continue
			}
			selected = append(selected, &t)
		}

		now := time.Now().UTC()
		for _, t := range selected {
			if t.Status != types.TaskStatusWaiting {
				continue
			}
			old := statusKey(t.Status, t.CreatedOn, t.ID)
			t.Status = types.TaskStatusRunning
			t.ModifiedOn = now
			if err := putJSON(docs, []byte(t.ID), t); err != nil {
				return err
			}
			if err := status.Delete(old); err != nil {
				return err
			}
			if err := status.Put(statusKey(t.Status, t.CreatedOn, t.ID), []byte(t.ID)); err != nil {
				return err
			}
			leased = append(leased, t)
		}
		if len(leased) != len(selected) {
			s.logger.Warn().
				Int("selected", len(selected)).
				Int("updated", len(leased)).
				Msg("Leased fewer tasks than selected")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// QueueGetByID fetches tasks by id. Unknown ids are skipped.
func (s *BoltSocket) QueueGetByID(ids []string, limit int) ([]*types.Task, error) {
	limit = s.clampLimit(limit)
	var out []*types.Task

	err := s.db.View(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketTaskQueue)
		for _, id := range ids {
			if len(out) >= limit {
				break
			}
			data := docs.Get([]byte(id))
			if data == nil {
				continue
			}
			var t types.Task
			if err := json.Unmarshal(data, &t); err != nil {
				return err
			}
			out = append(out, &t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// transitionTask moves a task between states and keeps the status
// index in step. Returns false when the task does not exist or the
// transition does not apply.
func transitionTask(docs, status *bolt.Bucket, id string, from []types.TaskStatus, to types.TaskStatus, mutate func(*types.Task)) (bool, error) {
	data := docs.Get([]byte(id))
	if data == nil {
		return false, nil
	}
	var t types.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return false, err
	}

	allowed := false
	for _, f := range from {
		if t.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	old := statusKey(t.Status, t.CreatedOn, t.ID)
	t.Status = to
	t.ModifiedOn = time.Now().UTC()
	if mutate != nil {
		mutate(&t)
	}
	if err := putJSON(docs, []byte(t.ID), &t); err != nil {
		return false, err
	}
	if err := status.Delete(old); err != nil {
		return false, err
	}
	if err := status.Put(statusKey(t.Status, t.CreatedOn, t.ID), []byte(t.ID)); err != nil {
		return false, err
	}
	return true, nil
}

// QueueMarkComplete finishes tasks. Tasks already COMPLETE or ERROR
// are left alone and not counted.
func (s *BoltSocket) QueueMarkComplete(ids []string) (int, error) {
	updated := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketTaskQueue)
		status := tx.Bucket(bucketIdxTaskStatus)
		for _, id := range ids {
			ok, err := transitionTask(docs, status, id,
				[]types.TaskStatus{types.TaskStatusWaiting, types.TaskStatusRunning},
				types.TaskStatusComplete, nil)
			if err != nil {
				return err
			}
			if ok {
				updated++
			}
		}
		return nil
	})
	return updated, err
}

// QueueMarkError records task failures. A COMPLETE task never moves to
// ERROR; a task already in ERROR gets its message refreshed without
// counting as a new transition.
func (s *BoltSocket) QueueMarkError(errors []types.TaskError) (int, error) {
	updated := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketTaskQueue)
		status := tx.Bucket(bucketIdxTaskStatus)
		for _, te := range errors {
			data := docs.Get([]byte(te.ID))
			if data == nil {
				continue
			}
			var t types.Task
			if err := json.Unmarshal(data, &t); err != nil {
				return err
			}
			switch t.Status {
			case types.TaskStatusComplete:
				continue
			case types.TaskStatusError:
				t.Error = te.Message
				t.ModifiedOn = time.Now().UTC()
				if err := putJSON(docs, []byte(t.ID), &t); err != nil {
					return err
				}
				continue
			}
			msg := te.Message
			ok, err := transitionTask(docs, status, te.ID,
				[]types.TaskStatus{types.TaskStatusWaiting, types.TaskStatusRunning},
				types.TaskStatusError, func(t *types.Task) { t.Error = msg })
			if err != nil {
				return err
			}
			if ok {
				updated++
			}
		}
		return nil
	})
	return updated, err
}

// QueueResetStatus returns RUNNING or ERROR tasks to WAITING so a
// manager can lease them again. The last error message is kept for
// inspection.
func (s *BoltSocket) QueueResetStatus(ids []string) (int, error) {
	updated := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketTaskQueue)
		status := tx.Bucket(bucketIdxTaskStatus)
		for _, id := range ids {
			ok, err := transitionTask(docs, status, id,
				[]types.TaskStatus{types.TaskStatusRunning, types.TaskStatusError},
				types.TaskStatusWaiting, nil)
			if err != nil {
				return err
			}
			if ok {
				updated++
			}
		}
		return nil
	})
	return updated, err
}

// HandleHooks applies deferred document updates in a single
// transaction. The hook itself names the target collection; a hook
// pointing at an unknown collection or a vanished document is logged
// and skipped rather than failing the batch.
func (s *BoltSocket) HandleHooks(hooks []types.Hook) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, h := range hooks {
			name := collectionBucket(h.Document.Collection)
			if name == nil {
				s.logger.Warn().
					Str("collection", h.Document.Collection).
					Str("id", h.Document.ID).
					Msg("Hook references unknown collection")
				continue
			}
			docs := tx.Bucket(name)
			doc, err := loadDocMap(docs, []byte(h.Document.ID))
			if err == ErrNotFound {
				s.logger.Warn().
					Str("collection", h.Document.Collection).
					Str("id", h.Document.ID).
					Msg("Hook references missing document")
				continue
			}
			if err != nil {
				return err
			}
			for _, u := range h.Updates {
				if err := applyFieldUpdate(doc, u); err != nil {
					return fmt.Errorf("hook on %s/%s: %w", h.Document.Collection, h.Document.ID, err)
				}
			}
			doc["modified_on"] = time.Now().UTC()
			if err := putJSON(docs, []byte(h.Document.ID), doc); err != nil {
				return err
			}
		}
		return nil
	})
}
