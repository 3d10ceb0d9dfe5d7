package saphase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/internal/glog"
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// TxSource supplies the transactions of locally generated candidates.
type TxSource interface {
	Txs(ctx context.Context, round uint64, iteration uint8) ([][]byte, error)
}

// Proposal is the handler of the Proposal step.
// The step completes with the first valid candidate from the iteration's generator.
type Proposal struct {
	log *slog.Logger

	txs TxSource
}

// NewProposal returns a Proposal handler.
// If txs is nil, locally generated candidates are empty.
func NewProposal(log *slog.Logger, txs TxSource) *Proposal {
	return &Proposal{log: log, txs: txs}
}

func (p *Proposal) IsValid(
	msg saconsensus.Message,
	ru saconsensus.RoundUpdate,
	iteration uint8,
	step saconsensus.StepName,
	committee saconsensus.Committee,
	_ saconsensus.CommitteeSet,
) error {
	if err := saconsensus.CheckTiming(msg, ru, iteration, step); err != nil {
		return err
	}
	if msg.Topic() != saconsensus.TopicCandidate {
		return saconsensus.UnexpectedTopicError{Want: saconsensus.TopicCandidate, Got: msg.Topic()}
	}
	return verifyCandidate(msg, committee)
}

func (p *Proposal) Collect(
	_ context.Context,
	msg saconsensus.Message,
	_ saconsensus.RoundUpdate,
	_ saconsensus.Committee,
	_ gcrypto.PubKey,
	_ saconsensus.CommitteeSet,
) (saconsensus.StepOutcome, error) {
	return saconsensus.Ready(msg), nil
}

func (p *Proposal) CollectFromPast(
	_ context.Context,
	msg saconsensus.Message,
	committee saconsensus.Committee,
	_ gcrypto.PubKey,
) (saconsensus.StepOutcome, error) {
	if msg.Topic() != saconsensus.TopicCandidate {
		return saconsensus.Pending(), saconsensus.UnexpectedTopicError{Want: saconsensus.TopicCandidate, Got: msg.Topic()}
	}
	if err := verifyCandidate(msg, committee); err != nil {
		return saconsensus.Pending(), err
	}
	return saconsensus.Ready(msg), nil
}

func (p *Proposal) HandleTimeout(saconsensus.RoundUpdate, uint8) (saconsensus.Message, bool) {
	return saconsensus.Message{}, false
}

// StartStep generates the iteration's candidate when the local provisioner is its generator.
func (p *Proposal) StartStep(ctx context.Context, st saconsensus.StepStart) (saconsensus.Message, bool) {
	ru := st.RoundUpdate
	if st.Generator == nil || !isLocalMember(ru, st.Committee) || !st.Generator.Equal(ru.PubKey) {
		return saconsensus.Message{}, false
	}

	log := glog.RI(p.log, ru.Round, st.Iteration)

	var txs [][]byte
	if p.txs != nil {
		var err error
		txs, err = p.txs.Txs(ctx, ru.Round, st.Iteration)
		if err != nil {
			log.Warn("Failed to gather transactions; proposing empty candidate", "err", err)
			txs = nil
		}
	}

	b := saconsensus.Block{
		Header: saconsensus.BlockHeader{
			Height:        ru.Round,
			Iteration:     st.Iteration,
			PrevBlockHash: ru.PrevBlockHash,
			Timestamp:     ru.Timestamp.Unix(),
			Seed:          ru.Seed,
			TxRoot:        saconsensus.TxRoot(txs),
			Generator:     ru.PubKey,
		},
		Txs: txs,
	}

	msg, err := signLocal(ctx, ru, st.Iteration, saconsensus.Candidate{Block: b})
	if err != nil {
		log.Warn("Failed to sign candidate", "err", err)
		return saconsensus.Message{}, false
	}

	log.Info("Generated candidate", "hash", b.Hash(), "n_txs", len(txs))
	return msg, true
}

// verifyCandidate checks that msg is a candidate signed by the generator,
// the sole member of the Proposal committee.
func verifyCandidate(msg saconsensus.Message, committee saconsensus.Committee) error {
	if msg.Signer == nil {
		return saconsensus.ErrNoSigner
	}

	var gen gcrypto.PubKey
	if ms := committee.Members(); len(ms) > 0 {
		gen = ms[0].PubKey
	}
	if gen == nil || !gen.Equal(msg.Signer) {
		return saconsensus.NotGeneratorError{Want: gen, Got: msg.Signer}
	}

	b := msg.Payload.(saconsensus.Candidate).Block
	if b.Header.Generator == nil || !b.Header.Generator.Equal(msg.Signer) {
		return errors.New("candidate header names a different generator")
	}
	if b.Header.Iteration != msg.Header.Iteration {
		return fmt.Errorf(
			"candidate for iteration %d sent in iteration %d", b.Header.Iteration, msg.Header.Iteration,
		)
	}

	return msg.VerifySignature()
}
