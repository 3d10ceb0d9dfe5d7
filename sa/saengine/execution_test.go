package saengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/gcrypto/gcryptotest"
	"github.com/gordian-engine/gsa/gwatchdog"
	"github.com/gordian-engine/gsa/internal/gtest"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saconsensus/saconsensustest"
	"github.com/gordian-engine/gsa/sa/saengine"
	"github.com/gordian-engine/gsa/sa/saengine/saenginetest"
	"github.com/gordian-engine/gsa/sa/saqueue"
	"github.com/stretchr/testify/require"
)

type loopResult struct {
	Msg saconsensus.Message
	Err error
}

func startLoop(ctx context.Context, exec *saengine.ExecutionCtx, phase *saengine.SharedHandler) <-chan loopResult {
	ch := make(chan loopResult, 1)
	go func() {
		msg, err := exec.EventLoop(ctx, phase, 0)
		ch <- loopResult{Msg: msg, Err: err}
	}()
	return ch
}

// drain returns every message currently buffered in q.
func drain(q *saqueue.Queue) []saconsensus.Message {
	var out []saconsensus.Message
	for {
		select {
		case m := <-q.C():
			out = append(out, m)
		default:
			return out
		}
	}
}

func topics(msgs []saconsensus.Message) []saconsensus.Topic {
	ts := make([]saconsensus.Topic, len(msgs))
	for i, m := range msgs {
		ts[i] = m.Topic()
	}
	return ts
}

// readyOn makes h finish its step when it collects a message from signer idx.
func readyOn(efx *saenginetest.Fixture, h *saconsensustest.MockMsgHandler, idx int, result saconsensus.Message) {
	pk := efx.Cons.PubKey(idx)
	h.CollectFunc = func(msg saconsensus.Message) saconsensus.StepOutcome {
		if msg.Signer != nil && msg.Signer.Equal(pk) {
			return saconsensus.Ready(result)
		}
		return saconsensus.Pending()
	}
}

func TestExecutionCtx_EventLoop_collectsCurrentStep(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
	ic := efx.IterationCtx(0)
	ic.OnBegin(0)

	h := efx.Cons.Block(0, 0).Hash()
	want := efx.Cons.ValidationResult(0, saconsensus.ValidVote(h))
	readyOn(efx, efx.Validation, 2, want)

	exec := saengine.NewExecutionCtx(efx.Log, efx.ExecutionConfig(ic, 0, saconsensus.StepValidation))
	res := startLoop(ctx, exec, efx.Handlers.Validation)

	v1 := efx.Cons.Validation(1, 0, saconsensus.ValidVote(h))
	v2 := efx.Cons.Validation(2, 0, saconsensus.ValidVote(h))
	require.True(t, efx.Inbound.TrySend(v1))
	require.True(t, efx.Inbound.TrySend(v2))

	r := gtest.ReceiveSoon(t, res)
	require.NoError(t, r.Err)
	require.Equal(t, want, r.Msg)

	// Both valid votes were rebroadcast.
	require.Equal(t, []saconsensus.Message{v1, v2}, drain(efx.Outbound))
	require.Len(t, efx.Validation.Collected(), 2)

	entries := efx.Operations.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, efx.Cons.Round, entries[0].Round)
	require.Equal(t, saconsensus.StepValidation, entries[0].Step)

	efx.Timer.RequireNoActiveTimer(t)
}

func TestExecutionCtx_EventLoop_collectorError(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
	ic := efx.IterationCtx(0)
	ic.OnBegin(0)

	// Reject every vote as if its signature were bad.
	efx.Validation.IsValidFunc = func(saconsensus.Message, saconsensus.RoundUpdate, uint8, saconsensus.StepName) error {
		return gcrypto.ErrInvalidSignature
	}

	exec := saengine.NewExecutionCtx(efx.Log, efx.ExecutionConfig(ic, 0, saconsensus.StepValidation))
	res := startLoop(ctx, exec, efx.Handlers.Validation)

	require.True(t, efx.Inbound.TrySend(efx.Cons.Validation(1, 0, saconsensus.NoCandidateVote())))

	gtest.NotSendingSoon(t, res)
	require.Empty(t, efx.Validation.Collected())
	require.Empty(t, drain(efx.Outbound))

	cancel()
	r := gtest.ReceiveSoon(t, res)
	require.ErrorIs(t, r.Err, context.Canceled)
	require.True(t, r.Msg.IsEmpty())
}

func TestExecutionCtx_EventLoop_timeout(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
	ic := efx.IterationCtx(1)
	ic.OnBegin(0)

	noCandidate := efx.Cons.Validation(1, 0, saconsensus.NoCandidateVote())
	efx.Validation.TimeoutMsg = noCandidate
	efx.Validation.TimeoutOK = true

	started := efx.Timer.StartNotification(efx.Cons.Round, 0, saconsensus.StepValidation)

	exec := saengine.NewExecutionCtx(efx.Log, efx.ExecutionConfig(ic, 0, saconsensus.StepValidation))
	res := startLoop(ctx, exec, efx.Handlers.Validation)

	_ = gtest.ReceiveSoon(t, started)

	base := saengine.LinearTimeoutStrategy{}.StepTimeout(saconsensus.StepValidation, 0)
	require.Equal(t, base, efx.Timer.Started()[0].Duration)

	require.NoError(t, efx.Timer.ElapseStepTimer(efx.Cons.Round, 0, saconsensus.StepValidation))

	r := gtest.ReceiveSoon(t, res)
	require.NoError(t, r.Err)
	require.True(t, r.Msg.IsEmpty())

	require.Equal(t, []uint8{0}, efx.Validation.Timeouts())
	require.Equal(t, []saconsensus.Message{noCandidate}, drain(efx.Outbound))

	// The next validation step waits longer; other step kinds are unaffected.
	require.Greater(t, ic.GetTimeout(saconsensus.StepValidation), base)
	require.Equal(t,
		saengine.LinearTimeoutStrategy{}.StepTimeout(saconsensus.StepRatification, 0),
		ic.GetTimeout(saconsensus.StepRatification),
	)

	// Timeouts are not reported as step latency.
	require.Empty(t, efx.Operations.Entries())
}

func TestExecutionCtx_EventLoop_timeoutWithoutMessage(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
	ic := efx.IterationCtx(1)
	ic.OnBegin(0)

	started := efx.Timer.StartNotification(efx.Cons.Round, 0, saconsensus.StepValidation)

	exec := saengine.NewExecutionCtx(efx.Log, efx.ExecutionConfig(ic, 0, saconsensus.StepValidation))
	res := startLoop(ctx, exec, efx.Handlers.Validation)

	_ = gtest.ReceiveSoon(t, started)
	require.NoError(t, efx.Timer.ElapseStepTimer(efx.Cons.Round, 0, saconsensus.StepValidation))

	r := gtest.ReceiveSoon(t, res)
	require.NoError(t, r.Err)
	require.True(t, r.Msg.IsEmpty())

	// The handler was asked but had nothing to send.
	require.Equal(t, []uint8{0}, efx.Validation.Timeouts())
	require.Empty(t, drain(efx.Outbound))
}

func TestExecutionCtx_EventLoop_additionalTimeout(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
	ic := efx.IterationCtx(0)
	ic.OnBegin(0)

	started := efx.Timer.StartNotification(efx.Cons.Round, 0, saconsensus.StepRatification)

	const extra = 750 * time.Millisecond
	exec := saengine.NewExecutionCtx(efx.Log, efx.ExecutionConfig(ic, 0, saconsensus.StepRatification))
	res := make(chan error, 1)
	go func() {
		_, err := exec.EventLoop(ctx, efx.Handlers.Ratification, extra)
		res <- err
	}()

	_ = gtest.ReceiveSoon(t, started)

	base := ic.GetTimeout(saconsensus.StepRatification)
	require.Equal(t, base+extra, efx.Timer.Started()[0].Duration)

	// The extension is not remembered for later steps.
	require.Equal(t, saengine.LinearTimeoutStrategy{}.StepTimeout(saconsensus.StepRatification, 0), base)

	cancel()
	require.ErrorIs(t, gtest.ReceiveSoon(t, res), context.Canceled)
}

func TestExecutionCtx_EventLoop_inboundClosed(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
	ic := efx.IterationCtx(0)
	ic.OnBegin(0)

	started := efx.Timer.StartNotification(efx.Cons.Round, 0, saconsensus.StepProposal)

	exec := saengine.NewExecutionCtx(efx.Log, efx.ExecutionConfig(ic, 0, saconsensus.StepProposal))
	res := startLoop(ctx, exec, efx.Handlers.Proposal)
	_ = gtest.ReceiveSoon(t, started)

	efx.Inbound.Close()
	gtest.NotSendingSoon(t, res)

	require.NoError(t, efx.Timer.ElapseStepTimer(efx.Cons.Round, 0, saconsensus.StepProposal))
	r := gtest.ReceiveSoon(t, res)
	require.NoError(t, r.Err)
	require.True(t, r.Msg.IsEmpty())
}

func TestExecutionCtx_EventLoop_answersWatchdog(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
	ic := efx.IterationCtx(0)
	ic.OnBegin(0)

	sigs := make(chan gwatchdog.Signal)
	cfg := efx.ExecutionConfig(ic, 0, saconsensus.StepProposal)
	cfg.WatchdogSignals = sigs

	started := efx.Timer.StartNotification(efx.Cons.Round, 0, saconsensus.StepProposal)
	exec := saengine.NewExecutionCtx(efx.Log, cfg)
	res := startLoop(ctx, exec, efx.Handlers.Proposal)
	_ = gtest.ReceiveSoon(t, started)

	alive := make(chan struct{})
	gtest.SendSoon(t, sigs, gwatchdog.Signal{Alive: alive})
	_ = gtest.ReceiveSoon(t, alive)

	// Answering the watchdog does not end the step.
	gtest.NotSending(t, res)

	cancel()
	r := gtest.ReceiveSoon(t, res)
	require.ErrorIs(t, r.Err, context.Canceled)
}

func TestExecutionCtx_EventLoop_futureMessages(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
	ic := efx.IterationCtx(0)
	ic.OnBegin(0)

	h := efx.Cons.Block(0, 0).Hash()
	done := efx.Cons.ValidationResult(0, saconsensus.ValidVote(h))
	readyOn(efx, efx.Validation, 3, done)

	exec := saengine.NewExecutionCtx(efx.Log, efx.ExecutionConfig(ic, 0, saconsensus.StepValidation))
	res := startLoop(ctx, exec, efx.Handlers.Validation)

	laterStep := efx.Cons.Ratification(1, 0, saconsensus.ValidVote(h))
	laterIter := efx.Cons.Validation(1, 1, saconsensus.NoCandidateVote())
	nextRound := saconsensustest.WithRound(efx.Cons.Validation(2, 0, saconsensus.NoCandidateVote()), efx.Cons.Round+1)
	tooFar := saconsensustest.WithRound(
		efx.Cons.Validation(2, 0, saconsensus.NoCandidateVote()),
		efx.Cons.Round+efx.Config.MaxFutureRoundDistance+1,
	)

	outsider := gcryptotest.DeterministicBLSSigners(5)[4]
	ineligible, err := saconsensus.Sign(ctx, outsider, saconsensus.Message{
		Header:  saconsensus.Header{Round: efx.Cons.Round + 1, PrevBlockHash: efx.Cons.PrevBlockHash},
		Payload: saconsensus.Validation{Vote: saconsensus.NoCandidateVote()},
	})
	require.NoError(t, err)

	for _, m := range []saconsensus.Message{
		laterStep,
		laterStep, // Duplicate is neither stored nor rebroadcast.
		laterIter,
		nextRound,
		tooFar,
		ineligible,
		efx.Cons.Validation(3, 0, saconsensus.ValidVote(h)),
	} {
		require.True(t, efx.Inbound.TrySend(m))
	}

	r := gtest.ReceiveSoon(t, res)
	require.NoError(t, r.Err)
	require.Equal(t, done, r.Msg)

	out := drain(efx.Outbound)
	require.Len(t, out, 4)
	require.Equal(t, laterStep, out[0])
	require.Equal(t, laterIter, out[1])
	require.Equal(t, nextRound, out[2])

	counts := efx.FutureMsgs.Counts()
	require.Equal(t, map[uint64]map[uint16]int{
		efx.Cons.Round: {
			saconsensus.StepRatification.ToStep(0): 1,
			saconsensus.StepValidation.ToStep(1):   1,
		},
		efx.Cons.Round + 1: {
			saconsensus.StepValidation.ToStep(0): 1,
		},
	}, counts)

	// The later iteration's committees were derived on arrival of its message.
	_, ok := ic.Committees().Committee(saconsensus.StepValidation.ToStep(1))
	require.True(t, ok)

	require.Len(t, efx.Validation.Collected(), 1)
}

func TestExecutionCtx_EventLoop_pastRoundDropped(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
	efx.Cons.Round = 5
	ic := efx.IterationCtx(0)
	ic.OnBegin(0)

	done := efx.Cons.ValidationResult(0, saconsensus.NoCandidateVote())
	readyOn(efx, efx.Validation, 2, done)

	exec := saengine.NewExecutionCtx(efx.Log, efx.ExecutionConfig(ic, 0, saconsensus.StepValidation))
	res := startLoop(ctx, exec, efx.Handlers.Validation)

	old := saconsensustest.WithRound(efx.Cons.Validation(1, 0, saconsensus.NoCandidateVote()), 4)
	last := efx.Cons.Validation(2, 0, saconsensus.NoCandidateVote())
	require.True(t, efx.Inbound.TrySend(old))
	require.True(t, efx.Inbound.TrySend(last))

	r := gtest.ReceiveSoon(t, res)
	require.Equal(t, done, r.Msg)

	require.Equal(t, []saconsensus.Message{last}, drain(efx.Outbound))
	require.Empty(t, efx.Validation.CollectedFromPast())
	require.Zero(t, efx.FutureMsgs.Len())
}

func TestExecutionCtx_EventLoop_pastIterationBeforeEmergency(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
	ic := efx.IterationCtx(0)
	ic.OnBegin(0)
	ic.OnBegin(1)

	done := efx.Cons.ValidationResult(1, saconsensus.NoCandidateVote())
	readyOn(efx, efx.Validation, 2, done)

	exec := saengine.NewExecutionCtx(efx.Log, efx.ExecutionConfig(ic, 1, saconsensus.StepValidation))
	res := startLoop(ctx, exec, efx.Handlers.Validation)

	past := efx.Cons.Validation(1, 0, saconsensus.NoCandidateVote())
	pastVQ := efx.Cons.ValidationQuorum(0, saconsensus.NoCandidateVote())
	last := efx.Cons.Validation(2, 1, saconsensus.NoCandidateVote())
	for _, m := range []saconsensus.Message{past, pastVQ, last} {
		require.True(t, efx.Inbound.TrySend(m))
	}

	r := gtest.ReceiveSoon(t, res)
	require.Equal(t, done, r.Msg)

	// Past votes are relayed, past validation quorums are not,
	// and neither is collected before the emergency threshold.
	require.Equal(t, []saconsensus.Message{past, last}, drain(efx.Outbound))
	require.Empty(t, efx.Validation.CollectedFromPast())
}

func TestExecutionCtx_EventLoop_emergencyCandidate(t *testing.T) {
	defer leaktest.Check(t)()

	for _, tc := range []struct {
		name      string
		generator bool
		wantVotes int
	}{
		{name: "committee member votes", wantVotes: 1},
		{name: "generator does not vote", generator: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)

			probe := efx.IterationCtx(-1)
			probe.OnBegin(2)
			gen, _ := probe.Generator(2)
			genIdx := efx.SignerIndex(gen)

			local := efx.NonGenerator(probe, 2)
			if tc.generator {
				local = genIdx
			}

			ic := efx.IterationCtx(local)
			ic.OnBegin(2)
			ic.OnBegin(3)

			efx.Proposal.CollectFromPastFunc = func(msg saconsensus.Message) saconsensus.StepOutcome {
				return saconsensus.Ready(msg)
			}

			gen3, _ := ic.Generator(3)
			gen3Idx := efx.SignerIndex(gen3)
			done := efx.Cons.Candidate(3, gen3Idx)
			readyOn(efx, efx.Proposal, gen3Idx, done)

			// Queue both before the loop starts,
			// so that the step ends before our own vote comes back around.
			past := efx.Cons.Candidate(2, genIdx)
			require.True(t, efx.Inbound.TrySend(past))
			require.True(t, efx.Inbound.TrySend(done))

			exec := saengine.NewExecutionCtx(efx.Log, efx.ExecutionConfig(ic, 3, saconsensus.StepProposal))
			res := startLoop(ctx, exec, efx.Handlers.Proposal)

			r := gtest.ReceiveSoon(t, res)
			require.Equal(t, done, r.Msg)

			require.Equal(t, []saconsensus.Message{past}, efx.Proposal.CollectedFromPast())

			votes := efx.VoteCaster.ValidationVotes()
			require.Len(t, votes, tc.wantVotes)

			out := drain(efx.Outbound)
			in := drain(efx.Inbound)
			if tc.wantVotes == 0 {
				require.Equal(t, []saconsensus.Topic{
					saconsensus.TopicCandidate, saconsensus.TopicCandidate,
				}, topics(out))
				require.Empty(t, in)
				return
			}

			require.Equal(t, past.Payload.(saconsensus.Candidate).Block, votes[0])
			require.Equal(t, []saconsensus.Topic{
				saconsensus.TopicCandidate, saconsensus.TopicValidation, saconsensus.TopicCandidate,
			}, topics(out))
			require.Equal(t, uint8(2), out[1].Header.Iteration)

			// The vote is also counted locally.
			require.Equal(t, []saconsensus.Message{out[1]}, in)
		})
	}
}

func TestExecutionCtx_EventLoop_emergencyValidationQuorum(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)

	probe := efx.IterationCtx(-1)
	probe.OnBegin(2)
	local := efx.NonGenerator(probe, 2)

	ic := efx.IterationCtx(local)
	ic.OnBegin(2)
	ic.OnBegin(3)

	h := efx.Cons.Block(2, 0).Hash()
	result := efx.Cons.ValidationResult(2, saconsensus.ValidVote(h))
	efx.Validation.CollectFromPastFunc = func(saconsensus.Message) saconsensus.StepOutcome {
		return saconsensus.Ready(result)
	}

	done := efx.Cons.ValidationResult(3, saconsensus.NoCandidateVote())
	other := (local + 1) % 4
	readyOn(efx, efx.Validation, other, done)

	last := efx.Cons.Validation(other, 3, saconsensus.NoCandidateVote())
	require.True(t, efx.Inbound.TrySend(efx.Cons.ValidationQuorum(2, saconsensus.ValidVote(h))))
	require.True(t, efx.Inbound.TrySend(last))

	exec := saengine.NewExecutionCtx(efx.Log, efx.ExecutionConfig(ic, 3, saconsensus.StepValidation))
	res := startLoop(ctx, exec, efx.Handlers.Validation)

	r := gtest.ReceiveSoon(t, res)
	require.Equal(t, done, r.Msg)

	require.Equal(t,
		[]saconsensus.ValidationResult{result.Payload.(saconsensus.ValidationResult)},
		efx.VoteCaster.RatificationVotes(),
	)

	out := drain(efx.Outbound)
	require.Equal(t, []saconsensus.Topic{
		saconsensus.TopicRatification, saconsensus.TopicValidation,
	}, topics(out))
	require.Equal(t, uint8(2), out[0].Header.Iteration)

	// The vote is also counted locally.
	require.Equal(t, []saconsensus.Message{out[0]}, drain(efx.Inbound))
}

func TestExecutionCtx_EventLoop_emergencyQuorum(t *testing.T) {
	defer leaktest.Check(t)()

	for _, tc := range []struct {
		name       string
		result     func(efx *saenginetest.Fixture) saconsensus.Message
		wantQuorum bool
	}{
		{
			name:       "valid quorum is relayed",
			result:     func(efx *saenginetest.Fixture) saconsensus.Message { return efx.Cons.SuccessQuorum(2) },
			wantQuorum: true,
		},
		{
			name: "invalid quorum is not relayed",
			result: func(efx *saenginetest.Fixture) saconsensus.Message {
				return efx.Cons.Quorum(2, saconsensus.InvalidVote(efx.Cons.Block(2, 0).Hash()))
			},
		},
		{
			name:   "no candidate quorum is not relayed",
			result: func(efx *saenginetest.Fixture) saconsensus.Message { return efx.Cons.FailQuorum(2) },
		},
		{
			name: "unexpected result is ignored",
			result: func(efx *saenginetest.Fixture) saconsensus.Message {
				return efx.Cons.Validation(1, 2, saconsensus.NoCandidateVote())
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
			ic := efx.IterationCtx(0)
			ic.OnBegin(2)
			ic.OnBegin(3)

			result := tc.result(efx)
			efx.Ratification.CollectFromPastFunc = func(saconsensus.Message) saconsensus.StepOutcome {
				return saconsensus.Ready(result)
			}

			done := efx.Cons.ValidationResult(3, saconsensus.NoCandidateVote())
			readyOn(efx, efx.Validation, 2, done)

			past := efx.Cons.Ratification(1, 2, saconsensus.NoQuorumVote())
			last := efx.Cons.Validation(2, 3, saconsensus.NoCandidateVote())
			require.True(t, efx.Inbound.TrySend(past))
			require.True(t, efx.Inbound.TrySend(last))

			exec := saengine.NewExecutionCtx(efx.Log, efx.ExecutionConfig(ic, 3, saconsensus.StepValidation))
			res := startLoop(ctx, exec, efx.Handlers.Validation)

			r := gtest.ReceiveSoon(t, res)
			require.NoError(t, r.Err)
			require.Equal(t, done, r.Msg)

			require.Equal(t, []saconsensus.Message{past}, efx.Ratification.CollectedFromPast())

			want := []saconsensus.Message{past, last}
			if tc.wantQuorum {
				want = []saconsensus.Message{past, result, last}
			}
			require.Equal(t, want, drain(efx.Outbound))

			require.Empty(t, efx.VoteCaster.ValidationVotes())
			require.Empty(t, efx.VoteCaster.RatificationVotes())
			require.Empty(t, drain(efx.Inbound))
		})
	}
}

func TestExecutionCtx_EventLoop_quorums(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
	ic := efx.IterationCtx(0)
	for i := uint8(0); i <= 2; i++ {
		ic.OnBegin(i)
	}

	exec := saengine.NewExecutionCtx(efx.Log, efx.ExecutionConfig(ic, 2, saconsensus.StepValidation))
	res := startLoop(ctx, exec, efx.Handlers.Validation)

	otherTip := efx.Cons.FailQuorum(2)
	otherTip.Header.PrevBlockHash = saconsensus.Hash{0x01}

	for _, m := range []saconsensus.Message{
		efx.Cons.FailQuorum(1),
		efx.Cons.SuccessQuorum(1),
		efx.Cons.FailQuorum(3),
		efx.Cons.SuccessQuorum(3),
		otherTip,
	} {
		require.True(t, efx.Inbound.TrySend(m))
	}
	gtest.NotSendingSoon(t, res)

	// The past fail quorum was recorded and written through.
	sa, ok := efx.Attestations.FailAttestation(1)
	require.True(t, ok)
	gen1, _ := ic.Generator(1)
	require.True(t, gen1.Equal(sa.Generator))

	stored, err := efx.Store.LoadFailAttestations(ctx, efx.Cons.Round)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Contains(t, stored, uint8(1))

	// A fail quorum for the current iteration ends the step.
	cur := efx.Cons.FailQuorum(2)
	require.True(t, efx.Inbound.TrySend(cur))

	r := gtest.ReceiveSoon(t, res)
	require.NoError(t, r.Err)
	require.Equal(t, cur, r.Msg)

	_, ok = efx.Attestations.FailAttestation(2)
	require.True(t, ok)
	require.Equal(t, []uint8{1, 2}, efx.Attestations.Iterations())

	// Quorums are not relayed by the step itself.
	require.Empty(t, drain(efx.Outbound))
}

func TestExecutionCtx_EventLoop_successQuorum(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
	ic := efx.IterationCtx(0)
	ic.OnBegin(0)
	ic.OnBegin(1)

	exec := saengine.NewExecutionCtx(efx.Log, efx.ExecutionConfig(ic, 1, saconsensus.StepProposal))
	res := startLoop(ctx, exec, efx.Handlers.Proposal)

	q := efx.Cons.SuccessQuorum(1)
	require.True(t, efx.Inbound.TrySend(q))

	r := gtest.ReceiveSoon(t, res)
	require.NoError(t, r.Err)
	require.Equal(t, q, r.Msg)
	require.Empty(t, efx.Attestations.Iterations())
}

func TestExecutionCtx_EventLoop_openConsensus(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
	last := efx.Config.MaxIterations - 1

	ic := efx.IterationCtx(0)
	ic.OnBegin(last)

	localSuccess := efx.Cons.SuccessQuorum(last)
	readyOn(efx, efx.Ratification, 2, localSuccess)

	hooked := make(chan saconsensus.Message, 4)
	cfg := efx.ExecutionConfig(ic, last, saconsensus.StepRatification)
	cfg.OnOpenConsensusSuccess = func(m saconsensus.Message) { hooked <- m }

	started := efx.Timer.StartNotification(efx.Cons.Round, last, saconsensus.StepRatification)

	exec := saengine.NewExecutionCtx(efx.Log, cfg)
	res := startLoop(ctx, exec, efx.Handlers.Ratification)
	_ = gtest.ReceiveSoon(t, started)

	require.NoError(t, efx.Timer.ElapseStepTimer(efx.Cons.Round, last, saconsensus.StepRatification))

	// The deadline does not end the last ratification step.
	gtest.NotSendingSoon(t, res)
	require.Empty(t, efx.Ratification.Timeouts())

	// Fail results are ignored in open consensus mode.
	require.True(t, efx.Inbound.TrySend(efx.Cons.FailQuorum(last)))
	gtest.NotSendingSoon(t, hooked)
	require.Empty(t, efx.Attestations.Iterations())

	// A success quorum from the network is relayed and reported.
	netSuccess := efx.Cons.SuccessQuorum(last)
	require.True(t, efx.Inbound.TrySend(netSuccess))
	require.Equal(t, netSuccess, gtest.ReceiveSoon(t, hooked))

	// So is one produced by the local handler.
	vote := efx.Cons.Ratification(2, last, saconsensus.ValidVote(efx.Cons.Block(last, 0).Hash()))
	require.True(t, efx.Inbound.TrySend(vote))
	require.Equal(t, localSuccess, gtest.ReceiveSoon(t, hooked))

	gtest.NotSendingSoon(t, res)

	require.Equal(t, []saconsensus.Topic{
		saconsensus.TopicQuorum, saconsensus.TopicRatification, saconsensus.TopicQuorum,
	}, topics(drain(efx.Outbound)))

	cancel()
	r := gtest.ReceiveSoon(t, res)
	require.ErrorIs(t, r.Err, context.Canceled)
	require.True(t, r.Msg.IsEmpty())
}

func TestExecutionCtx_HandleFutureMsgs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
	ic := efx.IterationCtx(0)
	ic.OnBegin(0)

	h := efx.Cons.Block(0, 0).Hash()
	done := efx.Cons.ValidationResult(0, saconsensus.ValidVote(h))
	readyOn(efx, efx.Validation, 2, done)

	wrongTip := efx.Cons.Validation(0, 0, saconsensus.ValidVote(h))
	wrongTip.Header.PrevBlockHash = saconsensus.Hash{0xff}
	v1 := efx.Cons.Validation(1, 0, saconsensus.ValidVote(h))
	v2 := efx.Cons.Validation(2, 0, saconsensus.ValidVote(h))
	v3 := efx.Cons.Validation(3, 0, saconsensus.ValidVote(h))
	for _, m := range []saconsensus.Message{wrongTip, v1, v2, v3} {
		require.NoError(t, efx.FutureMsgs.PutMsg(m))
	}

	exec := saengine.NewExecutionCtx(efx.Log, efx.ExecutionConfig(ic, 0, saconsensus.StepValidation))

	got, ok := exec.HandleFutureMsgs(ctx, efx.Handlers.Validation)
	require.True(t, ok)
	require.Equal(t, done, got)

	// Replay stopped at the completing message; the rest of the step's queue was drained.
	require.Equal(t, []saconsensus.Message{v1, v2}, efx.Validation.Collected())
	require.Equal(t, []saconsensus.Message{v1, v2}, drain(efx.Outbound))
	require.Zero(t, efx.FutureMsgs.Len())

	_, ok = exec.HandleFutureMsgs(ctx, efx.Handlers.Validation)
	require.False(t, ok)
}

func TestExecutionCtx_HandleFutureMsgs_otherSteps(t *testing.T) {
	t.Parallel()

	efx := saenginetest.NewFixture(gtest.NewLogger(t), 4)
	ic := efx.IterationCtx(0)
	ic.OnBegin(0)

	later := efx.Cons.Ratification(1, 0, saconsensus.NoCandidateVote())
	require.NoError(t, efx.FutureMsgs.PutMsg(later))

	exec := saengine.NewExecutionCtx(efx.Log, efx.ExecutionConfig(ic, 0, saconsensus.StepValidation))
	_, ok := exec.HandleFutureMsgs(context.Background(), efx.Handlers.Validation)
	require.False(t, ok)

	require.Empty(t, efx.Validation.Collected())
	require.Equal(t, 1, efx.FutureMsgs.Len())
}
