package saphase

import (
	"context"
	"fmt"

	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// isLocalMember reports whether the local provisioner of ru can vote in committee.
func isLocalMember(ru saconsensus.RoundUpdate, committee saconsensus.Committee) bool {
	return ru.Signer != nil && ru.PubKey != nil && committee.IsMember(ru.PubKey)
}

// signLocal signs a message with payload p for iteration as the local provisioner.
func signLocal(ctx context.Context, ru saconsensus.RoundUpdate, iteration uint8, p saconsensus.Payload) (saconsensus.Message, error) {
	if ru.Signer == nil {
		return saconsensus.Message{}, fmt.Errorf("cannot sign %s message: %w", p.Topic(), saconsensus.ErrNoSigner)
	}
	return saconsensus.Sign(ctx, ru.Signer, saconsensus.Message{
		Header:  ru.Header(iteration),
		Payload: p,
	})
}

// judgeCandidate returns the local Validation vote on b.
func judgeCandidate(ru saconsensus.RoundUpdate, b saconsensus.Block) saconsensus.Vote {
	h := b.Hash()
	if err := checkBlock(ru, b); err != nil {
		return saconsensus.InvalidVote(h)
	}
	return saconsensus.ValidVote(h)
}

func checkBlock(ru saconsensus.RoundUpdate, b saconsensus.Block) error {
	switch {
	case b.Header.Height != ru.Round:
		return fmt.Errorf("block height %d does not match round %d", b.Header.Height, ru.Round)
	case b.Header.PrevBlockHash != ru.PrevBlockHash:
		return saconsensus.PrevBlockHashMismatchError{Want: ru.PrevBlockHash, Got: b.Header.PrevBlockHash}
	case b.Header.TxRoot != saconsensus.TxRoot(b.Txs):
		return fmt.Errorf("block tx root %s does not match its transactions", b.Header.TxRoot)
	}
	return nil
}

// ratificationVote returns the local Ratification vote for a validation result.
func ratificationVote(r saconsensus.ValidationResult) saconsensus.Vote {
	if r.Quorum == saconsensus.QuorumNoQuorum {
		return saconsensus.NoQuorumVote()
	}
	return r.Vote
}
