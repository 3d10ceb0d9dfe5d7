package saconsensustest

import (
	"context"
	"sync"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// MockMsgHandler is a programmable [saconsensus.MsgHandler].
//
// By default IsValid applies [saconsensus.CheckTiming],
// Collect and CollectFromPast return Pending,
// and HandleTimeout returns nothing.
// Assign the function fields before the handler is in use to change that.
type MockMsgHandler struct {
	IsValidFunc         func(msg saconsensus.Message, ru saconsensus.RoundUpdate, iteration uint8, step saconsensus.StepName) error
	CollectFunc         func(msg saconsensus.Message) saconsensus.StepOutcome
	CollectFromPastFunc func(msg saconsensus.Message) saconsensus.StepOutcome

	// Returned from HandleTimeout when TimeoutOK is set.
	TimeoutMsg saconsensus.Message
	TimeoutOK  bool

	mu        sync.Mutex
	collected []saconsensus.Message
	fromPast  []saconsensus.Message
	timeouts  []uint8
	lastGen   gcrypto.PubKey
}

func (h *MockMsgHandler) IsValid(
	msg saconsensus.Message,
	ru saconsensus.RoundUpdate,
	iteration uint8,
	step saconsensus.StepName,
	_ saconsensus.Committee,
	_ saconsensus.CommitteeSet,
) error {
	if h.IsValidFunc != nil {
		return h.IsValidFunc(msg, ru, iteration, step)
	}
	return saconsensus.CheckTiming(msg, ru, iteration, step)
}

func (h *MockMsgHandler) Collect(
	_ context.Context,
	msg saconsensus.Message,
	_ saconsensus.RoundUpdate,
	_ saconsensus.Committee,
	generator gcrypto.PubKey,
	_ saconsensus.CommitteeSet,
) (saconsensus.StepOutcome, error) {
	h.mu.Lock()
	h.collected = append(h.collected, msg)
	h.lastGen = generator
	h.mu.Unlock()

	if h.CollectFunc != nil {
		return h.CollectFunc(msg), nil
	}
	return saconsensus.Pending(), nil
}

func (h *MockMsgHandler) CollectFromPast(
	_ context.Context,
	msg saconsensus.Message,
	_ saconsensus.Committee,
	_ gcrypto.PubKey,
) (saconsensus.StepOutcome, error) {
	h.mu.Lock()
	h.fromPast = append(h.fromPast, msg)
	h.mu.Unlock()

	if h.CollectFromPastFunc != nil {
		return h.CollectFromPastFunc(msg), nil
	}
	return saconsensus.Pending(), nil
}

func (h *MockMsgHandler) HandleTimeout(_ saconsensus.RoundUpdate, iteration uint8) (saconsensus.Message, bool) {
	h.mu.Lock()
	h.timeouts = append(h.timeouts, iteration)
	h.mu.Unlock()

	return h.TimeoutMsg, h.TimeoutOK
}

// Collected returns a copy of every message passed to Collect.
func (h *MockMsgHandler) Collected() []saconsensus.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]saconsensus.Message(nil), h.collected...)
}

// CollectedFromPast returns a copy of every message passed to CollectFromPast.
func (h *MockMsgHandler) CollectedFromPast() []saconsensus.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]saconsensus.Message(nil), h.fromPast...)
}

// Timeouts returns the iterations passed to HandleTimeout.
func (h *MockMsgHandler) Timeouts() []uint8 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint8(nil), h.timeouts...)
}

// LastGenerator returns the generator passed to the most recent Collect call.
func (h *MockMsgHandler) LastGenerator() gcrypto.PubKey {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastGen
}
