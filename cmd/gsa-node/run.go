package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/gwatchdog"
	"github.com/gordian-engine/gsa/sa/sacodec"
	"github.com/gordian-engine/gsa/sa/sacodec/sajson"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saemetrics"
	"github.com/gordian-engine/gsa/sa/saengine"
	"github.com/gordian-engine/gsa/sa/sahttp"
	"github.com/gordian-engine/gsa/sa/sanode"
	"github.com/gordian-engine/gsa/sa/sap2p/salibp2p"
	"github.com/gordian-engine/gsa/sa/saphase"
	"github.com/gordian-engine/gsa/sa/saqueue"
	"github.com/gordian-engine/gsa/sa/sasqlite"
	"github.com/gordian-engine/gsa/sa/sastore"
	"github.com/gordian-engine/gsa/sa/sastore/samemstore"
	"github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	libp2pevent "github.com/libp2p/go-libp2p/core/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const queueSize = 1024

func runNode(
	rootCtx context.Context,
	log *slog.Logger,
	cfg nodeConfig,
	signer gcrypto.BLSSigner,
	netKey libp2pcrypto.PrivKey,
) error {
	// We need a cancelable context if we fail partway through setup.
	// Be sure to defer cancel() after other deferred
	// close and cleanup calls, for types dependent on
	// a parent context cancellation.
	ctx, cancel := context.WithCancel(rootCtx)
	defer cancel()

	wd, ctx := gwatchdog.NewWatchdog(ctx, log.With("sys", "watchdog"))
	defer wd.Wait()
	defer cancel()

	provs, err := cfg.BuildProvisioners()
	if err != nil {
		return err
	}
	if !provs.IsEligible(cfg.FirstRound, signer.PubKey()) {
		log.Warn("Local key is not an eligible provisioner; running without voting", "pubkey", fmt.Sprintf("%x", signer.PubKey().PubKeyBytes()))
	}

	ec, err := cfg.EngineConfig()
	if err != nil {
		return fmt.Errorf("invalid engine configuration: %w", err)
	}

	reg := new(gcrypto.Registry)
	gcrypto.RegisterBLS(reg)

	var codec sacodec.MarshalCodec = sajson.MarshalCodec{CryptoRegistry: reg}
	if cfg.Compress {
		codec = sacodec.CompressedCodec{Inner: codec}
	}

	as, closeStore, err := openAttestationStore(ctx, cfg.SQLitePath, codec, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("Error closing attestation store", "err", err)
		}
	}()

	h, err := salibp2p.NewHost(
		ctx,
		salibp2p.HostOptions{
			Options: []libp2p.Option{
				libp2p.Identity(netKey),
				libp2p.ListenAddrStrings(cfg.ListenAddrs...),

				// Ideally we would provide a way to prefer using a relayer circuit,
				// but for prototyping this will be fine.
				libp2p.ForceReachabilityPublic(),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create libp2p host: %w", err)
	}
	defer func() {
		if err := h.Close(); err != nil {
			log.Warn("Error closing libp2p host", "err", err)
		}
	}()
	defer cancel()

	host := h.Libp2pHost()

	sub, err := host.EventBus().Subscribe(new(libp2pevent.EvtPeerConnectednessChanged))
	if err != nil {
		return err
	}
	defer sub.Close()

	loggingDone := make(chan struct{})
	go logPeerChanges(ctx, log, sub, loggingDone)
	defer func() {
		cancel()
		<-loggingDone
	}()

	if addrs, err := h.P2PAddrs(); err == nil {
		log.Info("Listening", "id", host.ID(), "addrs", addrs)
	}

	if len(cfg.RemoteAddrs) == 0 {
		log.Warn("Config had no remote addresses set; relying on incoming connections to discover peers")
	} else if err := h.Connect(ctx, cfg.RemoteAddrs...); err != nil {
		return fmt.Errorf("failed to connect to remote addresses: %w", err)
	}

	inbound := saqueue.New(queueSize)
	outbound := saqueue.New(queueSize)

	conn, err := salibp2p.NewConnection(
		ctx,
		log.With("sys", "libp2pconn"),
		h,
		codec,
		inbound, outbound,
	)
	if err != nil {
		return fmt.Errorf("failed to build libp2p connection: %w", err)
	}
	defer conn.Disconnect()
	defer cancel()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ops, err := saemetrics.NewOperations(promReg, "gsa")
	if err != nil {
		return err
	}

	phaseLog := log.With("sys", "phase")
	cons, err := saengine.NewConsensus(log.With("sys", "consensus"), saengine.ConsensusConfig{
		Config: ec,

		Timer: saengine.StandardStepTimer{},
		Handlers: saengine.Handlers{
			Proposal:     saengine.NewSharedHandler(saphase.NewProposal(phaseLog, heartbeatTxs{})),
			Validation:   saengine.NewSharedHandler(saphase.NewValidation(phaseLog)),
			Ratification: saengine.NewSharedHandler(saphase.NewRatification(phaseLog)),
		},

		Inbound:  inbound,
		Outbound: outbound,

		VoteCaster:       saphase.Caster{},
		AttestationStore: as,
		Operations:       ops,

		WatchdogSignals: wd.Monitor(ctx, gwatchdog.MonitorConfig{
			Name:            "consensus",
			Interval:        10 * time.Second,
			Jitter:          time.Second,
			ResponseTimeout: 5 * time.Second,
		}),
	})
	if err != nil {
		return err
	}

	node, err := sanode.New(log.With("sys", "node"), sanode.Config{
		Consensus:        cons,
		Provisioners:     provs,
		AttestationStore: as,
		RetainRounds:     cfg.RetainRounds,
	})
	if err != nil {
		return err
	}

	if cfg.HTTPAddr != "" {
		ln, err := new(net.ListenConfig).Listen(ctx, "tcp", cfg.HTTPAddr)
		if err != nil {
			return fmt.Errorf("failed to listen for HTTP on %q: %w", cfg.HTTPAddr, err)
		}

		if cfg.HTTPAddrFile != "" {
			if err := os.WriteFile(cfg.HTTPAddrFile, []byte(ln.Addr().String()+"\n"), 0o600); err != nil {
				_ = ln.Close()
				return fmt.Errorf("failed to write HTTP address file: %w", err)
			}
		}

		hs := sahttp.NewHTTPServer(ctx, log.With("sys", "http"), sahttp.HTTPServerConfig{
			Listener: ln,

			Consensus:      cons,
			CryptoRegistry: reg,

			Decisions: node,
			Peers:     conn,
			Gatherer:  promReg,
		})
		defer hs.Wait()
		defer cancel()

		log.Info("Serving HTTP", "addr", ln.Addr().String())
	}

	ru := saconsensus.RoundUpdate{
		Round: cfg.FirstRound,
		Seed:  []byte(cfg.GenesisSeed),

		PubKey: signer.PubKey(),
		Signer: signer,
	}

	log.Info("Running node...")
	err = node.Run(ctx, ru)
	log.Info("Shutting down...")

	if errors.Is(err, context.Canceled) && rootCtx.Err() != nil {
		// Interrupted.
		return nil
	}
	return err
}

// openAttestationStore returns the store selected by path,
// following the sqlite-path flag's rules.
func openAttestationStore(
	ctx context.Context,
	path string,
	codec sacodec.MarshalCodec,
	reg *gcrypto.Registry,
) (sastore.AttestationStore, func() error, error) {
	switch path {
	case "":
		return samemstore.NewAttestationStore(), func() error { return nil }, nil
	case ":memory:":
		s, err := sasqlite.NewInMemStore(ctx, codec, reg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open in-memory sqlite store: %w", err)
		}
		return s, s.Close, nil
	default:
		s, err := sasqlite.NewOnDiskStore(ctx, path, codec, reg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, s.Close, nil
	}
}

func logPeerChanges(
	ctx context.Context,
	log *slog.Logger,
	sub libp2pevent.Subscription,
	done chan<- struct{},
) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return

		case e := <-sub.Out():
			switch e := e.(type) {
			case libp2pevent.EvtPeerConnectednessChanged:
				log.Info(
					"Peer connectedness changed",
					"id", e.Peer,
					"connectedness", e.Connectedness,
				)
			default:
				log.Warn("Unknown event type", "type", fmt.Sprintf("%T", e))
			}
		}
	}
}

// heartbeatTxs gives every generated candidate a single transaction
// naming its round and iteration, so candidates of different iterations differ.
type heartbeatTxs struct{}

func (heartbeatTxs) Txs(_ context.Context, round uint64, iteration uint8) ([][]byte, error) {
	return [][]byte{[]byte(fmt.Sprintf("gsa-heartbeat:%d:%d", round, iteration))}, nil
}
