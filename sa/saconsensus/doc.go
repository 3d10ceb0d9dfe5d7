// Package saconsensus holds the types shared by every part of the
// succinct attestation consensus core:
// messages and their payloads, votes and attestations,
// committees and provisioners,
// and the [MsgHandler] contract implemented by each phase of an iteration.
//
// A round runs a sequence of iterations.
// Each iteration has three steps: Proposal, Validation, and Ratification,
// and every step is identified by a single step index (see [StepName.ToStep]).
package saconsensus
