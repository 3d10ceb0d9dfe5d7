// Package sanode runs consecutive consensus rounds on top of a [saengine.Consensus].
package sanode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordian-engine/gsa/internal/gchan"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saengine"
	"github.com/gordian-engine/gsa/sa/sastore"
	"github.com/zeebo/blake3"
)

// Decision is the Success quorum that ended a round.
type Decision struct {
	Round  uint64
	Quorum saconsensus.Message
}

// BlockHash returns the hash of the decided candidate.
func (d Decision) BlockHash() saconsensus.Hash {
	return d.Quorum.Payload.(saconsensus.Quorum).Att.Result.Vote.Hash
}

type Config struct {
	Consensus    *saengine.Consensus
	Provisioners *saconsensus.Provisioners

	// Optional fields.

	// Decisions receives every decision, best effort:
	// a decision is dropped if the channel is not ready.
	Decisions chan<- Decision

	// AttestationStore is pruned after each decided round,
	// keeping RetainRounds rounds of fail attestations.
	AttestationStore sastore.AttestationStore
	RetainRounds     uint64

	// Now is the clock used for round timestamps.
	// Defaults to time.Now.
	Now func() time.Time
}

const retryDelay = time.Second

// Node runs rounds back to back.
// When a round ends without a decision, the round is attempted again.
type Node struct {
	log *slog.Logger

	cfg Config

	mu   sync.RWMutex
	last Decision
}

func New(log *slog.Logger, cfg Config) (*Node, error) {
	var errs []error
	if cfg.Consensus == nil {
		errs = append(errs, errors.New("Consensus must be set"))
	}
	if cfg.Provisioners == nil {
		errs = append(errs, errors.New("Provisioners must be set"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid node configuration: %w", err)
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Node{log: log, cfg: cfg}, nil
}

// LastDecision returns the most recent decision,
// and false if no round has been decided yet.
func (n *Node) LastDecision() (Decision, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.last, !n.last.Quorum.IsEmpty()
}

// Run executes rounds starting with ru until ctx is canceled,
// returning the context's cause.
func (n *Node) Run(ctx context.Context, ru saconsensus.RoundUpdate) error {
	for {
		ru.Timestamp = n.cfg.Now()

		res, err := n.cfg.Consensus.Run(ctx, ru, n.cfg.Provisioners)
		if err != nil {
			if ctx.Err() != nil {
				n.log.Info("Stopping due to context cancellation", "cause", context.Cause(ctx))
				return context.Cause(ctx)
			}

			n.log.Warn("Round ended without decision; retrying", "round", ru.Round, "err", err)
			select {
			case <-ctx.Done():
				return context.Cause(ctx)
			case <-time.After(retryDelay):
			}
			continue
		}

		d := Decision{Round: ru.Round, Quorum: res}
		n.mu.Lock()
		n.last = d
		n.mu.Unlock()

		n.log.Info(
			"Round decided",
			"round", ru.Round,
			"iteration", res.Header.Iteration,
			"block_hash", d.BlockHash(),
		)

		if n.cfg.Decisions != nil {
			_ = gchan.TrySend(n.log, n.cfg.Decisions, d, "round decision")
		}

		ru = NextRoundUpdate(ru, d)

		n.prune(ctx, ru.Round)
	}
}

func (n *Node) prune(ctx context.Context, round uint64) {
	if n.cfg.AttestationStore == nil || round <= n.cfg.RetainRounds {
		return
	}

	if err := n.cfg.AttestationStore.PruneBefore(ctx, round-n.cfg.RetainRounds); err != nil {
		n.log.Warn("Failed to prune fail attestations", "before_round", round-n.cfg.RetainRounds, "err", err)
	}
}

// NextRoundUpdate returns the round following d,
// built on the decided block.
// The next seed commits to the previous seed and the decided block hash.
func NextRoundUpdate(ru saconsensus.RoundUpdate, d Decision) saconsensus.RoundUpdate {
	h := d.BlockHash()

	hasher := blake3.New()
	_, _ = hasher.Write(ru.Seed)
	_, _ = hasher.Write(h[:])

	return saconsensus.RoundUpdate{
		Round:         d.Round + 1,
		PrevBlockHash: h,
		Seed:          hasher.Sum(nil),

		PubKey: ru.PubKey,
		Signer: ru.Signer,
	}
}
