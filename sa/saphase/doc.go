// Package saphase contains reference implementations of the three phase handlers
// (Proposal, Validation, and Ratification)
// and a [saengine.VoteCaster] that signs votes for past iterations.
//
// Votes are tallied by committee credits.
// Every member voting the same way in a step signs identical bytes,
// so the BLS signatures of a quorum aggregate into a single [saconsensus.StepVotes].
package saphase
