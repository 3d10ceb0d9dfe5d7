package sahttp_test

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/internal/gtest"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saconsensus/saconsensustest"
	"github.com/gordian-engine/gsa/sa/saengine"
	"github.com/gordian-engine/gsa/sa/sahttp"
	"github.com/gordian-engine/gsa/sa/sanode"
	"github.com/gordian-engine/gsa/sa/saregistry"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fakeState struct {
	status saengine.Status
	atts   *saregistry.AttestationRegistry
	future *saregistry.MsgRegistry
}

func (s fakeState) Status() saengine.Status { return s.status }
func (s fakeState) Attestations() *saregistry.AttestationRegistry { return s.atts }
func (s fakeState) FutureMsgs() *saregistry.MsgRegistry { return s.future }

type fakeDecisions struct {
	d  sanode.Decision
	ok bool
}

func (f fakeDecisions) LastDecision() (sanode.Decision, bool) { return f.d, f.ok }

type fakePeers []peer.ID

func (p fakePeers) TopicPeers() []peer.ID { return p }

func startServer(t *testing.T, cfg sahttp.HTTPServerConfig) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	ln, err := (new(net.ListenConfig)).Listen(ctx, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Listener = ln

	h := sahttp.NewHTTPServer(ctx, gtest.NewLogger(t), cfg)
	t.Cleanup(func() {
		cancel()
		h.Wait()
	})

	return "http://" + ln.Addr().String()
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHTTPServer(t *testing.T) {
	t.Parallel()

	fx := saconsensustest.NewFixture(4)

	reg := new(gcrypto.Registry)
	gcrypto.RegisterBLS(reg)

	atts := saregistry.NewAttestationRegistry(fx.Round)
	failAtt := fx.FailQuorum(0).Payload.(saconsensus.Quorum).Att
	require.True(t, atts.SetAttestation(0, failAtt, fx.PubKey(2)))

	future := saregistry.NewMsgRegistry()
	next := saconsensustest.WithRound(fx.Validation(1, 0, saconsensus.NoCandidateVote()), fx.Round+1)
	require.NoError(t, future.PutMsg(next))

	decided := fx.SuccessQuorum(3)

	_, pub, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	pid, err := peer.IDFromPublicKey(pub)
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "gsa_test_total"})
	promReg.MustRegister(c)
	c.Inc()

	base := startServer(t, sahttp.HTTPServerConfig{
		Consensus: fakeState{
			status: saengine.Status{
				Running:   true,
				Round:     fx.Round,
				Iteration: 1,
				Step:      saconsensus.StepValidation,
			},
			atts:   atts,
			future: future,
		},
		CryptoRegistry: reg,
		Decisions:      fakeDecisions{d: sanode.Decision{Round: fx.Round, Quorum: decided}, ok: true},
		Peers:          fakePeers{pid},
		Gatherer:       promReg,
	})

	t.Run("/round", func(t *testing.T) {
		var resp struct {
			Running   bool
			Round     uint64
			Iteration uint8
			Step      string
		}
		getJSON(t, base+"/round", &resp)

		require.True(t, resp.Running)
		require.Equal(t, fx.Round, resp.Round)
		require.Equal(t, uint8(1), resp.Iteration)
		require.Equal(t, "Validation", resp.Step)
	})

	t.Run("/attestations", func(t *testing.T) {
		var resp struct {
			Round        uint64
			Attestations []struct {
				Iteration uint8
				Generator []byte
			}
		}
		getJSON(t, base+"/attestations", &resp)

		require.Equal(t, fx.Round, resp.Round)
		require.Len(t, resp.Attestations, 1)
		require.Zero(t, resp.Attestations[0].Iteration)

		gen, err := reg.Unmarshal(resp.Attestations[0].Generator)
		require.NoError(t, err)
		require.True(t, gen.Equal(fx.PubKey(2)))
	})

	t.Run("/registry", func(t *testing.T) {
		var resp struct {
			Total  int
			Counts map[uint64]map[uint16]int
		}
		getJSON(t, base+"/registry", &resp)

		require.Equal(t, 1, resp.Total)
		require.Equal(t, map[uint64]map[uint16]int{
			fx.Round + 1: {saconsensus.StepValidation.ToStep(0): 1},
		}, resp.Counts)
	})

	t.Run("/decision", func(t *testing.T) {
		var resp struct {
			Round     uint64
			Iteration uint8
			BlockHash string
		}
		getJSON(t, base+"/decision", &resp)

		require.Equal(t, fx.Round, resp.Round)
		require.Equal(t, uint8(3), resp.Iteration)
		require.Equal(t, fx.Block(3, 0).Hash().String(), resp.BlockHash)
	})

	t.Run("/peers", func(t *testing.T) {
		var resp []string
		getJSON(t, base+"/peers", &resp)

		require.Equal(t, []string{pid.String()}, resp)
	})

	t.Run("/metrics", func(t *testing.T) {
		resp, err := http.Get(base + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.True(t, strings.Contains(string(b), "gsa_test_total 1"))
	})
}

func TestHTTPServer_optionalRoutes(t *testing.T) {
	t.Parallel()

	reg := new(gcrypto.Registry)
	gcrypto.RegisterBLS(reg)

	base := startServer(t, sahttp.HTTPServerConfig{
		Consensus: fakeState{
			atts:   saregistry.NewAttestationRegistry(1),
			future: saregistry.NewMsgRegistry(),
		},
		CryptoRegistry: reg,
		Decisions:      fakeDecisions{},
	})

	t.Run("no decision yet", func(t *testing.T) {
		resp, err := http.Get(base + "/decision")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	for _, route := range []string{"/peers", "/metrics"} {
		t.Run(route+" unregistered", func(t *testing.T) {
			resp, err := http.Get(base + route)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusNotFound, resp.StatusCode)
		})
	}

	t.Run("empty attestations", func(t *testing.T) {
		var resp struct {
			Attestations []json.RawMessage
		}
		getJSON(t, base+"/attestations", &resp)
		require.NotNil(t, resp.Attestations)
		require.Empty(t, resp.Attestations)
	})
}
