package saconsensus

import (
	"github.com/gordian-engine/gsa/gmerkle"
	"github.com/zeebo/blake3"
)

// Domain separation prefixes of the transaction tree.
const (
	txLeafPrefix   = 0x00
	txBranchPrefix = 0x01
)

type txMerkleScheme struct{}

func (txMerkleScheme) BranchFactor() uint8 { return 2 }

func (txMerkleScheme) LeafID(_ int, tx []byte) (Hash, error) {
	h := blake3.New()
	_, _ = h.Write([]byte{txLeafPrefix})
	_, _ = h.Write(tx)

	var out Hash
	h.Sum(out[:0])
	return out, nil
}

func (txMerkleScheme) BranchID(_, _ int, childIDs []Hash) (Hash, error) {
	h := blake3.New()
	_, _ = h.Write([]byte{txBranchPrefix})
	for _, id := range childIDs {
		_, _ = h.Write(id[:])
	}

	var out Hash
	h.Sum(out[:0])
	return out, nil
}

// TxRoot returns the Merkle root of txs stored in [BlockHeader.TxRoot].
// A block without transactions has the zero root.
func TxRoot(txs [][]byte) Hash {
	if len(txs) == 0 {
		return Hash{}
	}

	t, err := gmerkle.NewMerkleTree[[]byte, Hash](txMerkleScheme{}, txs)
	if err != nil {
		// The scheme never fails and txs is not empty.
		panic("BUG: building transaction tree: " + err.Error())
	}
	return t.RootID()
}

// TxProof is a proof that a transaction is part of a block's TxRoot.
type TxProof = gmerkle.Proof[Hash]

// NewTxProof returns the inclusion proof of txs[idx],
// and false if idx is out of range.
func NewTxProof(txs [][]byte, idx int) (TxProof, bool) {
	if idx < 0 || idx >= len(txs) {
		return TxProof{}, false
	}

	t, err := gmerkle.NewMerkleTree[[]byte, Hash](txMerkleScheme{}, txs)
	if err != nil {
		panic("BUG: building transaction tree: " + err.Error())
	}
	return t.Proof(idx)
}

// VerifyTxProof reports whether p proves tx is included under root.
func VerifyTxProof(root Hash, tx []byte, p TxProof) bool {
	ok, _ := gmerkle.VerifyProof[[]byte, Hash](txMerkleScheme{}, root, tx, p)
	return ok
}
