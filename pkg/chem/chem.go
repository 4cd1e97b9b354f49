// Package chem computes canonical molecule fingerprints and payload
// equality. The rest of the system consumes these as a pure-function
// contract: identical chemistry must yield identical hashes, and Compare
// distinguishes genuine equality from a hash collision.
package chem

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ChayaSt/QCFractal/pkg/types"
)

// Canonicalization thresholds. Coordinates and charges are rounded to
// this many decimal digits before hashing, so numerical noise below the
// threshold does not split molecule identities.
const (
	geometryNoise = 8
	chargeNoise   = 4
)

type canonicalForm struct {
	Symbols      []string  `json:"symbols"`
	Charge       float64   `json:"molecular_charge"`
	Multiplicity int       `json:"molecular_multiplicity"`
	Geometry     []float64 `json:"geometry"`
}

func round(v float64, digits int) float64 {
	p := math.Pow10(digits)
	r := math.Round(v*p) / p
	if r == 0 {
		return 0 // collapse -0 so it hashes like 0
	}
	return r
}

func canonical(m *types.Molecule) canonicalForm {
	geom := make([]float64, len(m.Geometry))
	for i, v := range m.Geometry {
		geom[i] = round(v, geometryNoise)
	}
	mult := m.MolecularMultiplicity
	if mult == 0 {
		mult = 1
	}
	return canonicalForm{
		Symbols:      m.Symbols,
		Charge:       round(m.MolecularCharge, chargeNoise),
		Multiplicity: mult,
		Geometry:     geom,
	}
}

// Hash returns the canonical fingerprint of a molecule payload.
func Hash(m *types.Molecule) string {
	data, err := json.Marshal(canonical(m))
	if err != nil {
		// canonicalForm contains only plain slices and numbers
		panic(err)
	}
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Compare reports whether two payloads are the same molecule under the
// canonicalization rules. Use it to tell apart a true duplicate from a
// fingerprint collision.
func Compare(a, b *types.Molecule) bool {
	ca, cb := canonical(a), canonical(b)
	if len(ca.Symbols) != len(cb.Symbols) || len(ca.Geometry) != len(cb.Geometry) {
		return false
	}
	if ca.Charge != cb.Charge || ca.Multiplicity != cb.Multiplicity {
		return false
	}
	for i := range ca.Symbols {
		if ca.Symbols[i] != cb.Symbols[i] {
			return false
		}
	}
	for i := range ca.Geometry {
		if ca.Geometry[i] != cb.Geometry[i] {
			return false
		}
	}
	return true
}

// Formula returns the molecular formula in Hill order: carbon first,
// hydrogen second, everything else alphabetical. Without carbon the
// ordering is purely alphabetical.
func Formula(m *types.Molecule) string {
	counts := make(map[string]int, len(m.Symbols))
	for _, s := range m.Symbols {
		counts[s]++
	}

	elems := make([]string, 0, len(counts))
	for e := range counts {
		elems = append(elems, e)
	}
	sort.Strings(elems)

	if counts["C"] > 0 {
		ordered := make([]string, 0, len(elems))
		ordered = append(ordered, "C")
		if counts["H"] > 0 {
			ordered = append(ordered, "H")
		}
		for _, e := range elems {
			if e != "C" && e != "H" {
				ordered = append(ordered, e)
			}
		}
		elems = ordered
	}

	var b strings.Builder
	for _, e := range elems {
		b.WriteString(e)
		if n := counts[e]; n > 1 {
			b.WriteString(strconv.Itoa(n))
		}
	}
	return b.String()
}

// Validate checks the structural constraints a payload must satisfy
// before it can be fingerprinted.
func Validate(m *types.Molecule) error {
	if len(m.Symbols) == 0 {
		return fmt.Errorf("molecule has no atoms")
	}
	if len(m.Geometry) != 3*len(m.Symbols) {
		return fmt.Errorf("geometry has %d values, expected %d for %d atoms",
			len(m.Geometry), 3*len(m.Symbols), len(m.Symbols))
	}
	return nil
}
