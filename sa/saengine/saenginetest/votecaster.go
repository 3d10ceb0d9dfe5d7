package saenginetest

import (
	"context"
	"sync"

	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// MockVoteCaster records requested votes and returns unsigned vote messages.
// If Err is set, it is returned instead of a message.
type MockVoteCaster struct {
	Err error

	mu            sync.Mutex
	validations   []saconsensus.Block
	ratifications []saconsensus.ValidationResult
}

func (c *MockVoteCaster) ValidationVote(
	_ context.Context, ru saconsensus.RoundUpdate, candidate saconsensus.Block,
) (saconsensus.Message, error) {
	c.mu.Lock()
	c.validations = append(c.validations, candidate)
	c.mu.Unlock()

	if c.Err != nil {
		return saconsensus.Message{}, c.Err
	}

	return saconsensus.Message{
		Header:  ru.Header(candidate.Header.Iteration),
		Signer:  ru.PubKey,
		Payload: saconsensus.Validation{Vote: saconsensus.ValidVote(candidate.Hash())},
	}, nil
}

func (c *MockVoteCaster) RatificationVote(
	_ context.Context, ru saconsensus.RoundUpdate, iteration uint8, result saconsensus.ValidationResult,
) (saconsensus.Message, error) {
	c.mu.Lock()
	c.ratifications = append(c.ratifications, result)
	c.mu.Unlock()

	if c.Err != nil {
		return saconsensus.Message{}, c.Err
	}

	return saconsensus.Message{
		Header:  ru.Header(iteration),
		Signer:  ru.PubKey,
		Payload: saconsensus.Ratification{Vote: result.Vote, ValidationResult: result},
	}, nil
}

// ValidationVotes returns the candidates passed to ValidationVote.
func (c *MockVoteCaster) ValidationVotes() []saconsensus.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]saconsensus.Block(nil), c.validations...)
}

// RatificationVotes returns the results passed to RatificationVote.
func (c *MockVoteCaster) RatificationVotes() []saconsensus.ValidationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]saconsensus.ValidationResult(nil), c.ratifications...)
}
