package relay

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/betanet/relay/config"
	"github.com/betanet/relay/cover"
	"github.com/betanet/relay/delayinject"
	"github.com/betanet/relay/events"
	"github.com/betanet/relay/lottery"
	"github.com/betanet/relay/nodeid"
	"github.com/betanet/relay/pipeline"
	"github.com/betanet/relay/relayerrs"
	"github.com/betanet/relay/reputation"
	"github.com/betanet/relay/sphinxcore"
	"github.com/betanet/relay/transport"
)

// LocalDeliverFunc adapts a plain function to pipeline.LocalSink, for
// callers (cmd/betanetd, tests) that don't need a stateful sink.
type LocalDeliverFunc func(payload []byte)

// Deliver satisfies pipeline.LocalSink.
func (f LocalDeliverFunc) Deliver(payload []byte) { f(payload) }

// Node wires every component named by spec.md §2's control-flow graph
// into one running relay: the dependency-free reputation engine feeds
// the lottery; delay injection, cover traffic, and batching are
// independent leaves; sphinxcore is independent; the pipeline composes
// all of them; transport.Server/ConnPool/Gateway wrap the pipeline with
// the TCP framing of spec.md §4.8.
type Node struct {
	cfg *config.Config

	keys *nodeid.Keys
	rep  *reputation.Engine
	lot  *lottery.Lottery

	sphinx *sphinxcore.Processor
	delay  *delayinject.Injector
	cov    *cover.Generator

	pipe     *pipeline.Pipeline
	server   *transport.Server
	connPool *transport.ConnPool
	coverTx  *transport.CoverSender
	peers    *transport.PeerBook

	sink events.Sink
}

// NewNode constructs every component and binds the TCP listener. The
// Sphinx processor's replay-eviction loop and the cover sender's writer
// goroutine start here, during construction; the pipeline workers, the
// idle-connection reaper and the accept loop do not start until Start.
// Returning early (pre-Start) lets cmd/betanetd observe configuration
// and bind errors (spec.md §6 exit code 1) before any packet is accepted.
func NewNode(cfg *config.Config, sink events.Sink, local pipeline.LocalSink) (*Node, error) {
	if sink == nil {
		sink = events.Noop
	}

	seedBytes, err := os.ReadFile(cfg.NodeKeyPath)
	if err != nil {
		return nil, relayerrs.Fatal(relayerrs.ExitKeyOrCrypto,
			fmt.Errorf("reading --node-key: %w", err))
	}

	seed, err := nodeid.NodeKeyFromBytes(seedBytes)
	if err != nil {
		return nil, relayerrs.Fatal(relayerrs.ExitKeyOrCrypto, err)
	}

	keys, err := nodeid.Derive(seed)
	if err != nil {
		return nil, relayerrs.Fatal(relayerrs.ExitKeyOrCrypto, err)
	}

	rep := reputation.New(time.Now)
	if cfg.ReputationSnapshot != "" {
		if err := rep.LoadFromFile(cfg.ReputationSnapshot); err != nil {
			return nil, relayerrs.Fatal(relayerrs.ExitSnapshotCorruption, err)
		}
	}

	lot := lottery.New(keys.VRFKey, time.Now)

	staticPeers, err := config.LoadRelayPeers(cfg.RelayPeersPath)
	if err != nil {
		return nil, relayerrs.Fatal(relayerrs.ExitConfig, err)
	}

	peerBook := transport.NewPeerBook()
	for _, p := range staticPeers {
		nodeKey, err := config.DecodeNodeKey(p.NodeKey)
		if err != nil {
			return nil, relayerrs.Fatal(relayerrs.ExitConfig, err)
		}

		peerBook.Set(nodeKey, p.Address)
		rep.Observe(p.Address, p.Stake)

		rec := rep.Get(p.Address).UnwrapOr(reputation.NodeReputation{})
		lot.AddRelay(lottery.Relay{
			Address:     p.Address,
			Reputation:  rec.Normalized(),
			Performance: 1.0,
			Stake:       p.Stake,
		})
	}

	sphinxProc, err := sphinxcore.New(keys, &chaincfg.MainNetParams, cfg.VersionSet())
	if err != nil {
		return nil, err
	}

	delayInj := delayinject.New(time.Now().UnixNano())
	covGen := cover.New(cover.Adaptive, time.Now().UnixNano())

	server, err := transport.Listen(fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, relayerrs.Fatal(relayerrs.ExitConfig, err)
	}
	server.SetSink(sink)

	connPool := transport.NewConnPool(
		transport.DefaultIdleTimeout, transport.DefaultSendTimeout, 64, sink, time.Now)
	coverTx := transport.NewCoverSender(connPool)
	gateway := transport.NewGateway(peerBook, connPool, coverTx)

	pcfg := pipeline.DefaultConfig()
	if cfg.PipelineWorkers > 0 {
		pcfg.Workers = cfg.PipelineWorkers
	}
	if cfg.BatchSize > 0 {
		pcfg.MinBatchSize = cfg.BatchSize
	}
	if cfg.MaxBatchSize > 0 {
		pcfg.MaxBatchSize = cfg.MaxBatchSize
	}
	if cfg.PoolSize > 0 {
		pcfg.PoolSize = cfg.PoolSize
	}
	if cfg.MaxQueueDepth > 0 {
		pcfg.MaxQueueDepth = cfg.MaxQueueDepth
	}

	pipe := pipeline.New(pcfg, sphinxProc, lot, rep, delayInj, covGen, gateway, local, sink, time.Now)

	return &Node{
		cfg:      cfg,
		keys:     keys,
		rep:      rep,
		lot:      lot,
		sphinx:   sphinxProc,
		delay:    delayInj,
		cov:      covGen,
		pipe:     pipe,
		server:   server,
		connPool: connPool,
		coverTx:  coverTx,
		peers:    peerBook,
		sink:     sink,
	}, nil
}

// Start launches every background loop (pipeline workers, cover
// traffic, batch flushing, idle-connection reaping) and then blocks in
// the TCP accept loop until ctx is cancelled or the listener errors.
func (n *Node) Start(ctx context.Context) error {
	if err := n.connPool.Start(); err != nil {
		return err
	}

	n.pipe.Start()

	nodeLog.Infof("node %s listening on %s", n.cfg.NodeID, n.server.Addr())

	return n.server.Serve(ctx, n.pipe)
}

// Shutdown performs spec.md §4.1's two-phase drain (stop admitting,
// then drain with a deadline), stops the transport's background
// loops, and - if --reputation-snapshot was given - atomically
// flushes the reputation snapshot (spec.md §6).
func (n *Node) Shutdown(drain time.Duration) error {
	nodeLog.Infof("node %s shutting down", n.cfg.NodeID)

	pipeErr := n.pipe.Shutdown(drain)

	n.coverTx.Stop()
	n.connPool.Stop()
	n.sphinx.Stop()

	if n.cfg.ReputationSnapshot != "" {
		if err := n.rep.SaveToFile(n.cfg.ReputationSnapshot); err != nil {
			return fmt.Errorf("flushing reputation snapshot: %w", err)
		}
	}

	return pipeErr
}

// Stats returns the pipeline's point-in-time statistics snapshot
// (spec.md §4.1 stats()).
func (n *Node) Stats() pipeline.Stats {
	return n.pipe.Stats()
}

// Addr returns the node's bound TCP listen address.
func (n *Node) Addr() string {
	return n.server.Addr().String()
}
