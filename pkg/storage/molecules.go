package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/ChayaSt/QCFractal/pkg/chem"
	"github.com/ChayaSt/QCFractal/pkg/types"
)

// AddMolecules inserts a keyed batch of molecules with content-derived
// deduplication. The returned map answers every surviving caller key
// with an id, whether the molecule was inserted, matched an existing
// row, or matched an earlier element of the same batch.
//
// A fingerprint match with a differing payload is a hash collision: the
// element is rejected with an error and never stored.
func (s *BoltSocket) AddMolecules(mols map[string]*types.Molecule) (map[string]string, types.Meta, error) {
	meta := types.NewMeta()
	ids := make(map[string]string, len(mols))

	// Deterministic element order so in-batch dedup and error
	// reporting do not depend on map iteration.
	keys := make([]string, 0, len(mols))
	for k := range mols {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := time.Now().UTC()
	batchByHash := make(map[string]string)

	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketMolecules)
		idx := tx.Bucket(bucketIdxMoleculeHash)

		for _, key := range keys {
			mol := mols[key]
			if err := chem.Validate(mol); err != nil {
				meta.ValidationErrors = append(meta.ValidationErrors,
					fmt.Sprintf("%s: %v", key, err))
				continue
			}

			hash := chem.Hash(mol)

			// Earlier element of this batch with the same content
			if id, ok := batchByHash[hash]; ok {
				ids[key] = id
				meta.Duplicates = append(meta.Duplicates, key)
				continue
			}

			existingID, collision, err := findMoleculeByHash(docs, idx, hash, mol)
			if err != nil {
				return err
			}
			if collision {
				meta.AddError(fmt.Sprintf(
					"%s: hash collision detected for molecule_hash %s, payload differs from stored molecule", key, hash))
				continue
			}
			if existingID != "" {
				ids[key] = existingID
				batchByHash[hash] = existingID
				meta.Duplicates = append(meta.Duplicates, key)
				continue
			}

			stored := *mol
			stored.ID = uuid.New().String()
			stored.MoleculeHash = hash
			stored.MolecularFormula = chem.Formula(mol)
			if stored.MolecularMultiplicity == 0 {
				stored.MolecularMultiplicity = 1
			}
			stored.CreatedOn = now
			stored.ModifiedOn = now

			if err := putJSON(docs, []byte(stored.ID), &stored); err != nil {
				return err
			}
			if err := idx.Put(nkey(hash, stored.ID), []byte(stored.ID)); err != nil {
				return err
			}

			ids[key] = stored.ID
			batchByHash[hash] = stored.ID
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

// findMoleculeByHash scans the hash index for rows fingerprinting to
// hash and compares payloads. Returns the matching id, or collision
// true when the hash exists but no stored payload compares equal.
func findMoleculeByHash(docs, idx *bolt.Bucket, hash string, mol *types.Molecule) (string, bool, error) {
	prefix := nkey(hash, "")
	c := idx.Cursor()

	sawHash := false
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		sawHash = true
		data := docs.Get(v)
		if data == nil {
			continue
		}
		var existing types.Molecule
		if err := json.Unmarshal(data, &existing); err != nil {
			return "", false, err
		}
		if chem.Compare(&existing, mol) {
			return existing.ID, false, nil
		}
	}
	return "", sawHash, nil
}

// GetMolecules fetches molecules by id or by fingerprint. index is
// "id" or "hash" (alias "molecule_hash"). The dedup fields
// molecule_hash and molecular_formula are stripped from the returned
// payloads; callers compare payloads through the chemistry contract.
func (s *BoltSocket) GetMolecules(values []string, index string) ([]*types.Molecule, types.Meta, error) {
	meta := types.NewMeta()
	var out []*types.Molecule

	byHash, err := moleculeIndexKind(index)
	if err != nil {
		meta.Fail(err.Error())
		return nil, meta, err
	}

	err = s.db.View(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketMolecules)
		idx := tx.Bucket(bucketIdxMoleculeHash)

		for _, value := range values {
			if byHash {
				prefix := nkey(value, "")
				c := idx.Cursor()
				found := false
				for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
					mol, err := readMolecule(docs, v)
					if err != nil {
						return err
					}
					out = append(out, mol)
					found = true
				}
				if !found {
					meta.Missing = append(meta.Missing, value)
				}
				continue
			}

			if _, err := uuid.Parse(value); err != nil {
				meta.AddError(fmt.Sprintf("invalid id: %s", value))
				continue
			}
			mol, err := readMolecule(docs, []byte(value))
			if err == ErrNotFound {
				meta.Missing = append(meta.Missing, value)
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, mol)
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

// DelMolecules removes molecules by id or fingerprint and returns the
// number deleted.
func (s *BoltSocket) DelMolecules(values []string, index string) (int, error) {
	byHash, err := moleculeIndexKind(index)
	if err != nil {
		return 0, err
	}

	deleted := 0
	err = s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketMolecules)
		idx := tx.Bucket(bucketIdxMoleculeHash)

		var targets []string
		for _, value := range values {
			if byHash {
				prefix := nkey(value, "")
				c := idx.Cursor()
				for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
					targets = append(targets, string(v))
				}
			} else {
				targets = append(targets, value)
			}
		}

		for _, id := range targets {
			data := docs.Get([]byte(id))
			if data == nil {
				continue
			}
			var mol types.Molecule
			if err := json.Unmarshal(data, &mol); err != nil {
				return err
			}
			if err := docs.Delete([]byte(id)); err != nil {
				return err
			}
			if err := idx.Delete(nkey(mol.MoleculeHash, id)); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

func moleculeIndexKind(index string) (byHash bool, err error) {
	switch index {
	case "", "id":
		return false, nil
	case "hash", "molecule_hash":
		return true, nil
	}
	return false, fmt.Errorf("unknown molecule index %q: %w", index, ErrInvalidInput)
}

// readMolecule loads one molecule and applies the dedup-field exclusion
// projection.
func readMolecule(docs *bolt.Bucket, key []byte) (*types.Molecule, error) {
	data := docs.Get(key)
	if data == nil {
		return nil, ErrNotFound
	}
	var mol types.Molecule
	if err := json.Unmarshal(data, &mol); err != nil {
		return nil, err
	}
	mol.MoleculeHash = ""
	mol.MolecularFormula = ""
	return &mol, nil
}
