// Package gmerkle builds Merkle trees over an ordered, fixed set of leaves.
package gmerkle

import (
	"errors"
	"fmt"
	"slices"
)

// ErrNoLeaves is returned by [NewMerkleTree] when given no leaf data.
var ErrNoLeaves = errors.New("merkle tree requires at least one leaf")

// MerkleScheme specifies how IDs are derived for leaves and branches.
// Type parameter L is the leaf data, and I is the ID type of the nodes,
// usually a fixed-size hash.
type MerkleScheme[L any, I comparable] interface {
	// How many children each branch has,
	// except the rightmost branch in a row, which may have fewer.
	BranchFactor() uint8

	// BranchID calculates the ID for a branch with at least two children.
	// A lone rightmost child is raised to the next row unchanged
	// and never passed to BranchID.
	BranchID(depth, rowIdx int, childIDs []I) (I, error)

	LeafID(idx int, leafData L) (I, error)
}

// MerkleTree holds the IDs of every node of a tree.
// It does not retain leaf data, and it is safe for concurrent use.
type MerkleTree[I comparable] struct {
	// Branch factor.
	m int

	nLeaves int

	// rows[0] are the leaf IDs; the last row holds only the root.
	rows [][]I
}

// NewMerkleTree returns the tree of leafData under scheme.
func NewMerkleTree[L any, I comparable](scheme MerkleScheme[L, I], leafData []L) (*MerkleTree[I], error) {
	m := int(scheme.BranchFactor()) // m as in "m-ary tree".
	if m < 2 {
		return nil, fmt.Errorf("branch factor must be at least 2 (got %d)", m)
	}
	if len(leafData) == 0 {
		return nil, ErrNoLeaves
	}

	leaves := make([]I, len(leafData))
	for i, ld := range leafData {
		id, err := scheme.LeafID(i, ld)
		if err != nil {
			return nil, fmt.Errorf("error generating leaf ID for leaf at index %d: %w", i, err)
		}
		leaves[i] = id
	}

	rows := [][]I{leaves}
	for depth := 1; len(rows[depth-1]) > 1; depth++ {
		prev := rows[depth-1]
		row := make([]I, (len(prev)+m-1)/m)
		for i := range row {
			start, end := childRange(m, len(prev), i)
			if end-start == 1 {
				row[i] = prev[start]
				continue
			}

			id, err := scheme.BranchID(depth, i, slices.Clone(prev[start:end]))
			if err != nil {
				return nil, fmt.Errorf("failed to calculate branch ID at index %d in depth %d: %w", i, depth, err)
			}
			row[i] = id
		}
		rows = append(rows, row)
	}

	return &MerkleTree[I]{
		m:       m,
		nLeaves: len(leafData),
		rows:    rows,
	}, nil
}

func childRange(m, rowLen, parentIdx int) (start, end int) {
	start = parentIdx * m
	return start, min(start+m, rowLen)
}

// RootID returns the ID of the root branch of the tree.
func (t *MerkleTree[I]) RootID() I {
	return t.rows[len(t.rows)-1][0]
}

// NumLeaves returns the number of leaves the tree was built from.
func (t *MerkleTree[I]) NumLeaves() int {
	return t.nLeaves
}

// Lookup searches the tree for a node with the given ID,
// returning the range of leaves it covers.
// A raised node is reported at its lowest depth.
// If no match is found, Lookup returns -1, 0.
func (t *MerkleTree[I]) Lookup(id I) (leafIdxStart, n int) {
	span := 1
	for depth, row := range t.rows {
		if depth > 0 {
			span *= t.m
		}

		for i, rid := range row {
			if rid == id {
				start := span * i
				return start, min(span, t.nLeaves-start)
			}
		}
	}
	return -1, 0
}

// ProofStep is one branch on the path from a leaf to the root.
type ProofStep[I comparable] struct {
	Depth, RowIdx int

	// Children holds every child ID of the branch;
	// Pos is the index of the proven path within it.
	Children []I
	Pos      int
}

// Proof is an inclusion proof for a single leaf.
// Raised nodes contribute no step.
type Proof[I comparable] struct {
	LeafIdx int
	Steps   []ProofStep[I]
}

// Proof returns the inclusion proof of the leaf at leafIdx,
// and false if the index is out of range.
func (t *MerkleTree[I]) Proof(leafIdx int) (Proof[I], bool) {
	if leafIdx < 0 || leafIdx >= t.nLeaves {
		return Proof[I]{}, false
	}

	p := Proof[I]{LeafIdx: leafIdx}
	idx := leafIdx
	for depth := 1; depth < len(t.rows); depth++ {
		prev := t.rows[depth-1]
		parent := idx / t.m
		start, end := childRange(t.m, len(prev), parent)
		if end-start > 1 {
			p.Steps = append(p.Steps, ProofStep[I]{
				Depth:    depth,
				RowIdx:   parent,
				Children: slices.Clone(prev[start:end]),
				Pos:      idx - start,
			})
		}
		idx = parent
	}
	return p, true
}

// VerifyProof reports whether p proves leafData is included in the tree with the given root.
// An error is only returned when scheme fails to derive an ID.
func VerifyProof[L any, I comparable](scheme MerkleScheme[L, I], root I, leafData L, p Proof[I]) (bool, error) {
	id, err := scheme.LeafID(p.LeafIdx, leafData)
	if err != nil {
		return false, err
	}

	for _, s := range p.Steps {
		if s.Pos < 0 || s.Pos >= len(s.Children) || s.Children[s.Pos] != id {
			return false, nil
		}

		id, err = scheme.BranchID(s.Depth, s.RowIdx, s.Children)
		if err != nil {
			return false, err
		}
	}

	return id == root, nil
}
