// Package sahttp serves a read-only HTTP view of a running consensus node.
package sahttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/sa/saengine"
	"github.com/gordian-engine/gsa/sa/sanode"
	"github.com/gordian-engine/gsa/sa/saregistry"
	"github.com/gorilla/mux"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ConsensusState is the view of a [*saengine.Consensus] the server reports.
type ConsensusState interface {
	Status() saengine.Status
	Attestations() *saregistry.AttestationRegistry
	FutureMsgs() *saregistry.MsgRegistry
}

// DecisionSource reports the latest decided round, as [*sanode.Node] does.
type DecisionSource interface {
	LastDecision() (sanode.Decision, bool)
}

// PeerLister reports the peers sharing the consensus topic,
// as [*salibp2p.Connection] does.
type PeerLister interface {
	TopicPeers() []peer.ID
}

type HTTPServerConfig struct {
	Listener net.Listener

	Consensus ConsensusState

	CryptoRegistry *gcrypto.Registry

	// Optional fields; their routes respond 404 when unset.
	Decisions DecisionSource
	Peers     PeerLister
	Gatherer  prometheus.Gatherer
}

type HTTPServer struct {
	done chan struct{}
}

// NewHTTPServer serves on cfg.Listener until ctx is canceled.
func NewHTTPServer(ctx context.Context, log *slog.Logger, cfg HTTPServerConfig) *HTTPServer {
	srv := &http.Server{
		Handler: newMux(log, cfg),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	h := &HTTPServer{
		done: make(chan struct{}),
	}
	go h.serve(log, cfg.Listener, srv)
	go h.waitForShutdown(ctx, srv)

	return h
}

// Wait blocks until the server has stopped.
func (h *HTTPServer) Wait() {
	<-h.done
}

func (h *HTTPServer) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-h.done:
		return
	case <-ctx.Done():
		_ = srv.Close()
	}
}

func (h *HTTPServer) serve(log *slog.Logger, ln net.Listener, srv *http.Server) {
	defer close(h.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			log.Info("HTTP server shutting down")
		} else {
			log.Info("HTTP server shutting down due to error", "err", err)
		}
	}
}

func newMux(log *slog.Logger, cfg HTTPServerConfig) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/round", handleRound(log, cfg)).Methods("GET")
	r.HandleFunc("/attestations", handleAttestations(log, cfg)).Methods("GET")
	r.HandleFunc("/registry", handleRegistry(log, cfg)).Methods("GET")

	if cfg.Decisions != nil {
		r.HandleFunc("/decision", handleDecision(log, cfg)).Methods("GET")
	}
	if cfg.Peers != nil {
		r.HandleFunc("/peers", handlePeers(log, cfg)).Methods("GET")
	}
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	return r
}

func writeJSON(log *slog.Logger, w http.ResponseWriter, route string, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to encode response", "route", route, "err", err)
	}
}

func handleRound(log *slog.Logger, cfg HTTPServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		st := cfg.Consensus.Status()

		var resp struct {
			Running   bool
			Round     uint64
			Iteration uint8
			Step      string
		}
		resp.Running = st.Running
		resp.Round = st.Round
		resp.Iteration = st.Iteration
		resp.Step = st.Step.String()

		writeJSON(log, w, "round", resp)
	}
}

func handleAttestations(log *slog.Logger, cfg HTTPServerConfig) http.HandlerFunc {
	type jsonAttestation struct {
		Iteration uint8
		Generator []byte

		Attestation any
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		var resp struct {
			Round        uint64
			Attestations []jsonAttestation
		}
		resp.Attestations = []jsonAttestation{}

		atts := cfg.Consensus.Attestations()
		if atts != nil {
			resp.Round = atts.Round()
			for _, i := range atts.Iterations() {
				sa, ok := atts.FailAttestation(i)
				if !ok {
					continue
				}
				resp.Attestations = append(resp.Attestations, jsonAttestation{
					Iteration:   i,
					Generator:   cfg.CryptoRegistry.Marshal(sa.Generator),
					Attestation: sa.Att,
				})
			}
		}

		writeJSON(log, w, "attestations", resp)
	}
}

func handleRegistry(log *slog.Logger, cfg HTTPServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		reg := cfg.Consensus.FutureMsgs()

		var resp struct {
			Total int

			// Counts of held messages by round and step index.
			Counts map[uint64]map[uint16]int
		}
		resp.Total = reg.Len()
		resp.Counts = reg.Counts()

		writeJSON(log, w, "registry", resp)
	}
}

func handleDecision(log *slog.Logger, cfg HTTPServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		d, ok := cfg.Decisions.LastDecision()
		if !ok {
			http.Error(w, "no round decided yet", http.StatusNotFound)
			return
		}

		var resp struct {
			Round     uint64
			Iteration uint8
			BlockHash string
		}
		resp.Round = d.Round
		resp.Iteration = d.Quorum.Header.Iteration
		resp.BlockHash = d.BlockHash().String()

		writeJSON(log, w, "decision", resp)
	}
}

func handlePeers(log *slog.Logger, cfg HTTPServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		ids := cfg.Peers.TopicPeers()
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = id.String()
		}
		writeJSON(log, w, "peers", out)
	}
}
