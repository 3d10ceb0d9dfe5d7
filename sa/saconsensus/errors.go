package saconsensus

import (
	"errors"
	"fmt"

	"github.com/gordian-engine/gsa/gcrypto"
)

// ErrFutureEvent is returned by [MsgHandler.IsValid]
// for a message that belongs to a later round or step.
// Such messages are kept until their step begins.
var ErrFutureEvent = errors.New("future event")

// ErrPastEvent is returned by [MsgHandler.IsValid]
// for a message that belongs to an earlier round or step.
var ErrPastEvent = errors.New("past event")

// ErrNoSigner indicates a message without a signer where one is required.
var ErrNoSigner = errors.New("message has no signer")

// ErrDuplicateVote indicates a second vote from the same signer in a single step.
var ErrDuplicateVote = errors.New("duplicate vote")

// PrevBlockHashMismatchError indicates a message built on a different chain tip.
type PrevBlockHashMismatchError struct {
	Want, Got Hash
}

func (e PrevBlockHashMismatchError) Error() string {
	return fmt.Sprintf("previous block hash mismatch: expected %s, got %s", e.Want, e.Got)
}

// NotCommitteeMemberError indicates a signer without credits in the step's committee.
type NotCommitteeMemberError struct {
	Signer gcrypto.PubKey
}

func (e NotCommitteeMemberError) Error() string {
	return fmt.Sprintf("signer %x is not a committee member", e.Signer.PubKeyBytes())
}

// UnexpectedTopicError indicates a handler received a message for another phase.
type UnexpectedTopicError struct {
	Want, Got Topic
}

func (e UnexpectedTopicError) Error() string {
	return fmt.Sprintf("unexpected topic: expected %s, got %s", e.Want, e.Got)
}

// NotGeneratorError indicates a candidate not signed by the iteration's generator.
type NotGeneratorError struct {
	Want, Got gcrypto.PubKey
}

func (e NotGeneratorError) Error() string {
	var want []byte
	if e.Want != nil {
		want = e.Want.PubKeyBytes()
	}
	var got []byte
	if e.Got != nil {
		got = e.Got.PubKeyBytes()
	}
	return fmt.Sprintf("candidate signer %x is not the generator %x", got, want)
}
