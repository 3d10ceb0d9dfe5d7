package saengine

import (
	"context"
	"sync"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// SharedHandler serializes access to a phase handler.
// The step that owns the phase and the past-message path of other steps
// both call into the same handler.
type SharedHandler struct {
	mu sync.Mutex
	h  saconsensus.MsgHandler
}

func NewSharedHandler(h saconsensus.MsgHandler) *SharedHandler {
	return &SharedHandler{h: h}
}

func (s *SharedHandler) IsValid(
	msg saconsensus.Message,
	ru saconsensus.RoundUpdate,
	iteration uint8,
	step saconsensus.StepName,
	committee saconsensus.Committee,
	committees saconsensus.CommitteeSet,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h.IsValid(msg, ru, iteration, step, committee, committees)
}

func (s *SharedHandler) Collect(
	ctx context.Context,
	msg saconsensus.Message,
	ru saconsensus.RoundUpdate,
	committee saconsensus.Committee,
	generator gcrypto.PubKey,
	committees saconsensus.CommitteeSet,
) (saconsensus.StepOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h.Collect(ctx, msg, ru, committee, generator, committees)
}

func (s *SharedHandler) CollectFromPast(
	ctx context.Context,
	msg saconsensus.Message,
	committee saconsensus.Committee,
	generator gcrypto.PubKey,
) (saconsensus.StepOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h.CollectFromPast(ctx, msg, committee, generator)
}

func (s *SharedHandler) HandleTimeout(ru saconsensus.RoundUpdate, iteration uint8) (saconsensus.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h.HandleTimeout(ru, iteration)
}

// StartStep calls the handler's StartStep if it implements [saconsensus.StepStarter].
func (s *SharedHandler) StartStep(ctx context.Context, st saconsensus.StepStart) (saconsensus.Message, bool) {
	starter, ok := s.h.(saconsensus.StepStarter)
	if !ok {
		return saconsensus.Message{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return starter.StartStep(ctx, st)
}
