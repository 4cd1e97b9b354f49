package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/ChayaSt/QCFractal/pkg/log"
	"github.com/ChayaSt/QCFractal/pkg/types"
)

// schemaVersion is stamped into the meta bucket when a database file is
// created. Opening a file stamped with a different version fails: the
// embedded-store equivalent of a server-side version check.
const schemaVersion = "1"

const defaultMaxLimit = 1000

var (
	// Document buckets, one per collection
	bucketMolecules     = []byte(types.CollectionMolecules)
	bucketOptions       = []byte(types.CollectionOptions)
	bucketCollections   = []byte(types.CollectionCollections)
	bucketResults       = []byte(types.CollectionResults)
	bucketProcedures    = []byte(types.CollectionProcedures)
	bucketTaskQueue     = []byte(types.CollectionTaskQueue)
	bucketServiceQueue  = []byte(types.CollectionServiceQueue)
	bucketQueueManagers = []byte(types.CollectionQueueManagers)
	bucketUsers         = []byte(types.CollectionUsers)

	// Natural-key index buckets
	bucketIdxMoleculeHash = []byte("idx_molecule_hash") // hash \x00 id -> id (non-unique)
	bucketIdxOptions      = []byte("idx_options")       // program \x00 name -> id
	bucketIdxCollections  = []byte("idx_collections")   // collection \x00 name -> id
	bucketIdxResults      = []byte("idx_results")       // 6-tuple -> id
	bucketIdxProcedures   = []byte("idx_procedures")    // hash_index -> id
	bucketIdxServices     = []byte("idx_services")      // hash_index -> id
	bucketIdxTaskBase     = []byte("idx_task_base")     // kind \x00 target -> task id
	bucketIdxTaskStatus   = []byte("idx_task_status")   // status / created nanos / id -> task id

	bucketMeta       = []byte("meta")
	keySchemaVersion = []byte("schema_version")
)

// Config holds socket configuration.
type Config struct {
	// Path to the database file.
	Path string

	// MaxLimit clamps every query; nonpositive request limits also
	// resolve to it. Zero means the default.
	MaxLimit int

	// BypassSecurity makes VerifyUser succeed unconditionally
	// (development mode).
	BypassSecurity bool
}

// BoltSocket implements Store on a bbolt file. Every operation runs in
// its own transaction; bbolt's single-writer model makes the multi-step
// operations (molecule dedup, task lease, counter upsert) atomic.
type BoltSocket struct {
	db       *bolt.DB
	maxLimit int
	bypass   bool
	logger   zerolog.Logger
}

// NewBoltSocket opens (or creates) the database file and prepares all
// collection and index buckets.
func NewBoltSocket(cfg Config) (*BoltSocket, error) {
	db, err := bolt.Open(cfg.Path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketMolecules,
			bucketOptions,
			bucketCollections,
			bucketResults,
			bucketProcedures,
			bucketTaskQueue,
			bucketServiceQueue,
			bucketQueueManagers,
			bucketUsers,
			bucketIdxMoleculeHash,
			bucketIdxOptions,
			bucketIdxCollections,
			bucketIdxResults,
			bucketIdxProcedures,
			bucketIdxServices,
			bucketIdxTaskBase,
			bucketIdxTaskStatus,
			bucketMeta,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		meta := tx.Bucket(bucketMeta)
		stamped := meta.Get(keySchemaVersion)
		if stamped == nil {
			return meta.Put(keySchemaVersion, []byte(schemaVersion))
		}
		if string(stamped) != schemaVersion {
			return fmt.Errorf("database has schema version %s, need %s: %w",
				stamped, schemaVersion, ErrSchemaVersion)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	maxLimit := cfg.MaxLimit
	if maxLimit <= 0 {
		maxLimit = defaultMaxLimit
	}

	return &BoltSocket{
		db:       db,
		maxLimit: maxLimit,
		bypass:   cfg.BypassSecurity,
		logger:   log.WithComponent("storage"),
	}, nil
}

// Close closes the database
func (s *BoltSocket) Close() error {
	return s.db.Close()
}

// MaxLimit returns the configured query clamp.
func (s *BoltSocket) MaxLimit() int {
	return s.maxLimit
}

// Stats summarizes document counts across the store. Task counts are
// broken out by queue status.
type Stats struct {
	Molecules   int
	Options     int
	Collections int
	Results     int
	Procedures  int
	Services    int
	Managers    int
	Users       int
	Tasks       map[types.TaskStatus]int
}

// Stats counts stored documents per collection. Bucket totals come from
// bbolt's page statistics; the per-status task counts walk the status
// index, which holds keys only and never unmarshals a document.
func (s *BoltSocket) Stats() (Stats, error) {
	st := Stats{Tasks: make(map[types.TaskStatus]int)}
	err := s.db.View(func(tx *bolt.Tx) error {
		totals := []struct {
			bucket []byte
			out    *int
		}{
			{bucketMolecules, &st.Molecules},
			{bucketOptions, &st.Options},
			{bucketCollections, &st.Collections},
			{bucketResults, &st.Results},
			{bucketProcedures, &st.Procedures},
			{bucketServiceQueue, &st.Services},
			{bucketQueueManagers, &st.Managers},
			{bucketUsers, &st.Users},
		}
		for _, t := range totals {
			if b := tx.Bucket(t.bucket); b != nil {
				*t.out = b.Stats().KeyN
			}
		}

		idx := tx.Bucket(bucketIdxTaskStatus)
		if idx == nil {
			return nil
		}
		return idx.ForEach(func(k, _ []byte) error {
			if i := bytes.IndexByte(k, '/'); i > 0 {
				st.Tasks[types.TaskStatus(k[:i])]++
			}
			return nil
		})
	})
	return st, err
}

// clampLimit resolves a requested limit against max_limit. Nonpositive
// and oversized requests both collapse to the maximum.
func (s *BoltSocket) clampLimit(limit int) int {
	if limit <= 0 || limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}

// nkey joins natural-key parts with a NUL separator so composite keys
// cannot collide across part boundaries.
func nkey(parts ...string) []byte {
	return []byte(strings.Join(parts, "\x00"))
}

// statusKey builds the task status index key. The zero-padded creation
// nanos make bbolt's byte ordering equal FIFO ordering, with the id as
// a deterministic tie-breaker.
func statusKey(status types.TaskStatus, createdOn time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s/%020d/%s", status, createdOn.UnixNano(), id))
}

// collectionBucket maps a persisted collection name to its bucket.
// Hook dispatch uses this: the collection named in the hook's document
// reference is authoritative.
func collectionBucket(name string) []byte {
	switch name {
	case types.CollectionMolecules:
		return bucketMolecules
	case types.CollectionOptions:
		return bucketOptions
	case types.CollectionCollections:
		return bucketCollections
	case types.CollectionResults:
		return bucketResults
	case types.CollectionProcedures:
		return bucketProcedures
	case types.CollectionTaskQueue:
		return bucketTaskQueue
	case types.CollectionServiceQueue:
		return bucketServiceQueue
	case types.CollectionQueueManagers:
		return bucketQueueManagers
	case types.CollectionUsers:
		return bucketUsers
	}
	return nil
}

// recordBucket maps a task base_result kind to its bucket.
func recordBucket(kind types.RecordKind) []byte {
	switch kind {
	case types.RecordKindResults:
		return bucketResults
	case types.RecordKindProcedure:
		return bucketProcedures
	}
	return nil
}

// putJSON marshals a document into a bucket under the given key.
func putJSON(b *bolt.Bucket, key []byte, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// loadDocMap reads a raw document as a mutable map, the form used by
// field-level merges (hooks, write-back, procedure updates).
func loadDocMap(b *bolt.Bucket, key []byte) (map[string]interface{}, error) {
	data := b.Get(key)
	if data == nil {
		return nil, ErrNotFound
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// applyFieldUpdate executes one declarative update on a document map.
func applyFieldUpdate(doc map[string]interface{}, u types.FieldUpdate) error {
	switch u.Op {
	case types.UpdateSet:
		doc[u.Field] = u.Value
	case types.UpdatePush:
		arr, ok := doc[u.Field].([]interface{})
		if !ok && doc[u.Field] != nil {
			return fmt.Errorf("field %s is not an array", u.Field)
		}
		doc[u.Field] = append(arr, u.Value)
	case types.UpdateInc:
		cur, err := asFloat(doc[u.Field])
		if err != nil {
			return fmt.Errorf("field %s: %w", u.Field, err)
		}
		delta, err := asFloat(u.Value)
		if err != nil {
			return fmt.Errorf("inc value for %s: %w", u.Field, err)
		}
		doc[u.Field] = cur + delta
	default:
		return fmt.Errorf("unknown update op %q", u.Op)
	}
	return nil
}

func asFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	}
	return 0, fmt.Errorf("not a number: %T", v)
}
