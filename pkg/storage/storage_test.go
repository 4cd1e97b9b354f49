package storage

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/ChayaSt/QCFractal/pkg/chem"
	"github.com/ChayaSt/QCFractal/pkg/types"
)

var _ Store = (*BoltSocket)(nil)

func newTestSocket(t *testing.T) *BoltSocket {
	t.Helper()
	s, err := NewBoltSocket(Config{Path: filepath.Join(t.TempDir(), "test.fractal.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func water(name string) *types.Molecule {
	return &types.Molecule{
		Name:    name,
		Symbols: []string{"O", "H", "H"},
		Geometry: []float64{
			0, 0, 0.1173,
			0, 0.7572, -0.4692,
			0, -0.7572, -0.4692,
		},
	}
}

// TestAddMoleculesDeduplication verifies content-derived dedup within a
// batch and against stored rows. The name plays no part in identity.
func TestAddMoleculesDeduplication(t *testing.T) {
	s := newTestSocket(t)

	ids, meta, err := s.AddMolecules(map[string]*types.Molecule{
		"w1": water("first"),
		"w2": water("second"),
	})
	require.NoError(t, err)
	assert.True(t, meta.Success)
	assert.Equal(t, 1, meta.NInserted)
	assert.Equal(t, []string{"w2"}, meta.Duplicates)
	assert.Equal(t, ids["w1"], ids["w2"])
	assert.NotEmpty(t, ids["w1"])

	ids2, meta2, err := s.AddMolecules(map[string]*types.Molecule{
		"w3": water("third"),
	})
	require.NoError(t, err)
	assert.True(t, meta2.Success)
	assert.Equal(t, 0, meta2.NInserted)
	assert.Equal(t, []string{"w3"}, meta2.Duplicates)
	assert.Equal(t, ids["w1"], ids2["w3"])
}

func TestAddMoleculesValidation(t *testing.T) {
	s := newTestSocket(t)

	bad := water("truncated")
	bad.Geometry = bad.Geometry[:5]

	ids, meta, err := s.AddMolecules(map[string]*types.Molecule{
		"good": water("good"),
		"bad":  bad,
	})
	require.NoError(t, err)
	assert.True(t, meta.Success)
	assert.Equal(t, 1, meta.NInserted)
	require.Len(t, meta.ValidationErrors, 1)
	assert.Contains(t, meta.ValidationErrors[0], "bad")
	assert.Contains(t, ids, "good")
	assert.NotContains(t, ids, "bad")
}

func TestGetMolecules(t *testing.T) {
	s := newTestSocket(t)

	ids, _, err := s.AddMolecules(map[string]*types.Molecule{"w": water("solvent")})
	require.NoError(t, err)
	id := ids["w"]

	t.Run("by id strips fingerprint fields", func(t *testing.T) {
		got, meta, err := s.GetMolecules([]string{id}, "id")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 1, meta.NFound)
		assert.Equal(t, "solvent", got[0].Name)
		assert.Equal(t, 1, got[0].MolecularMultiplicity)
		assert.Empty(t, got[0].MoleculeHash)
		assert.Empty(t, got[0].MolecularFormula)
	})

	t.Run("by hash", func(t *testing.T) {
		got, meta, err := s.GetMolecules([]string{chem.Hash(water("anything"))}, "hash")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, id, got[0].ID)
		assert.Empty(t, meta.Missing)
	})

	t.Run("unknown hash reported missing", func(t *testing.T) {
		_, meta, err := s.GetMolecules([]string{"feedfacefeedfacefeedfacefeedfacefeedface"}, "hash")
		require.NoError(t, err)
		assert.True(t, meta.Success)
		assert.Equal(t, []string{"feedfacefeedfacefeedfacefeedfacefeedface"}, meta.Missing)
	})

	t.Run("unknown id reported missing", func(t *testing.T) {
		absent := uuid.New().String()
		_, meta, err := s.GetMolecules([]string{absent}, "id")
		require.NoError(t, err)
		assert.Equal(t, []string{absent}, meta.Missing)
	})

	t.Run("malformed id is an element error", func(t *testing.T) {
		_, meta, err := s.GetMolecules([]string{"not-a-uuid"}, "id")
		require.NoError(t, err)
		assert.True(t, meta.Success)
		require.Len(t, meta.Errors, 1)
		assert.Contains(t, meta.Errors[0], "not-a-uuid")
	})

	t.Run("unknown index rejected", func(t *testing.T) {
		_, _, err := s.GetMolecules([]string{id}, "formula")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

// TestAddMoleculesHashCollision tampers with a stored payload so its
// fingerprint no longer matches, then verifies a later add with that
// fingerprint is rejected instead of silently reusing the row.
func TestAddMoleculesHashCollision(t *testing.T) {
	s := newTestSocket(t)

	ids, _, err := s.AddMolecules(map[string]*types.Molecule{"w": water("w")})
	require.NoError(t, err)
	id := ids["w"]

	err = s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketMolecules)
		var mol types.Molecule
		if err := json.Unmarshal(docs.Get([]byte(id)), &mol); err != nil {
			return err
		}
		mol.Geometry[0] = 99
		return putJSON(docs, []byte(id), &mol)
	})
	require.NoError(t, err)

	ids2, meta, err := s.AddMolecules(map[string]*types.Molecule{"again": water("w")})
	require.NoError(t, err)
	assert.True(t, meta.Success)
	assert.Equal(t, 0, meta.NInserted)
	require.Len(t, meta.Errors, 1)
	assert.Contains(t, meta.Errors[0], "hash collision")
	assert.NotContains(t, ids2, "again")
}

func TestDelMolecules(t *testing.T) {
	s := newTestSocket(t)

	ids, _, err := s.AddMolecules(map[string]*types.Molecule{"w": water("w")})
	require.NoError(t, err)

	deleted, err := s.DelMolecules([]string{ids["w"]}, "id")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	// Index entry must go with the document or the fingerprint would
	// keep resolving to a dangling id.
	_, meta, err := s.GetMolecules([]string{chem.Hash(water("w"))}, "hash")
	require.NoError(t, err)
	assert.Len(t, meta.Missing, 1)

	_, meta, err = s.AddMolecules(map[string]*types.Molecule{"w": water("w")})
	require.NoError(t, err)
	assert.Equal(t, 1, meta.NInserted)
	assert.Empty(t, meta.Duplicates)
}

func TestAddOptions(t *testing.T) {
	s := newTestSocket(t)

	ids, meta, err := s.AddOptions([]*types.OptionSet{
		{Program: "psi4", Name: "default", Keywords: map[string]interface{}{"scf_type": "df"}},
		{Program: "psi4", Name: "tight", Keywords: map[string]interface{}{"e_convergence": 1e-8}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, meta.NInserted)
	assert.NotEmpty(t, ids[0])
	assert.NotEmpty(t, ids[1])

	ids2, meta2, err := s.AddOptions([]*types.OptionSet{
		{Program: "psi4", Name: "default"},
		{Name: "orphan"},
	})
	require.NoError(t, err)
	assert.True(t, meta2.Success)
	assert.Equal(t, 0, meta2.NInserted)
	assert.Equal(t, []string{"psi4/default"}, meta2.Duplicates)
	assert.Equal(t, ids[0], ids2[0])
	require.Len(t, meta2.ValidationErrors, 1)
	assert.Empty(t, ids2[1])
}

func TestGetAndDelOptions(t *testing.T) {
	s := newTestSocket(t)

	_, _, err := s.AddOptions([]*types.OptionSet{
		{Program: "psi4", Name: "default"},
		{Program: "psi4", Name: "tight"},
		{Program: "rdkit", Name: "default"},
	})
	require.NoError(t, err)

	got, meta, err := s.GetOptions("psi4", "", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.NFound)
	assert.Len(t, got, 2)

	got, _, err = s.GetOptions("", "default", 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	deleted, err := s.DelOption("rdkit", "default")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	deleted, err = s.DelOption("rdkit", "default")
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestAddCollection(t *testing.T) {
	s := newTestSocket(t)

	id1, meta, err := s.AddCollection("dataset", "S22", map[string]interface{}{
		"tags":    []interface{}{"benchmark"},
		"version": float64(1),
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.NInserted)
	assert.NotEmpty(t, id1)

	t.Run("collision without overwrite fails", func(t *testing.T) {
		_, meta, err := s.AddCollection("dataset", "S22", nil, false)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDuplicate)
		assert.False(t, meta.Success)
	})

	t.Run("overwrite merges data fields", func(t *testing.T) {
		id2, meta, err := s.AddCollection("dataset", "S22", map[string]interface{}{
			"version": float64(2),
			"note":    "rerun",
		}, true)
		require.NoError(t, err)
		assert.Equal(t, id1, id2)
		assert.Equal(t, 0, meta.NInserted)

		got, _, err := s.GetCollections("dataset", "S22", 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, float64(2), got[0].Data["version"])
		assert.Equal(t, "rerun", got[0].Data["note"])
		assert.Equal(t, []interface{}{"benchmark"}, got[0].Data["tags"])
	})

	t.Run("missing key fields rejected", func(t *testing.T) {
		_, _, err := s.AddCollection("", "S22", nil, false)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestDelCollection(t *testing.T) {
	s := newTestSocket(t)

	_, _, err := s.AddCollection("dataset", "S22", nil, false)
	require.NoError(t, err)

	deleted, err := s.DelCollection("dataset", "S22")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	deleted, err = s.DelCollection("dataset", "S22")
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	_, meta, err := s.GetCollections("dataset", "S22", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, meta.NFound)
}

func TestClampLimit(t *testing.T) {
	s := newTestSocket(t)

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"zero collapses to max", 0, defaultMaxLimit},
		{"negative collapses to max", -5, defaultMaxLimit},
		{"oversized collapses to max", defaultMaxLimit + 1, defaultMaxLimit},
		{"in range kept", 17, 17},
		{"max itself kept", defaultMaxLimit, defaultMaxLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.clampLimit(tt.limit))
		})
	}
}

// TestSchemaVersionGuard verifies a data file stamped by a different
// schema version refuses to open.
func TestSchemaVersionGuard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.fractal.db")

	s, err := NewBoltSocket(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	db, err := bolt.Open(path, 0600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keySchemaVersion, []byte("0"))
	}))
	require.NoError(t, db.Close())

	_, err = NewBoltSocket(Config{Path: path})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaVersion)
}
