// Command betanetd is the BetaNet mixnet relay node process (spec.md
// §6): it loads configuration, derives the node's Sphinx/VRF key
// material, binds the TCP listener, and runs until SIGINT/SIGTERM,
// at which point it drains in-flight packets and atomically flushes
// the reputation snapshot before exiting. The Main-function-plus-
// top-level-defer-avoidance shape (os.Exit only in main, never in a
// function with pending defers) follows the teacher's own
// cmd/lncli-style entrypoint convention of keeping os.Exit at the
// outermost call site.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	relay "github.com/betanet/relay"
	"github.com/betanet/relay/config"
	"github.com/betanet/relay/events"
	"github.com/betanet/relay/relayerrs"
)

// shutdownDrain is the grace period Shutdown waits for in-flight
// packets to reach a terminal event before force-releasing them
// (spec.md §4.1 shutdown()).
const shutdownDrain = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return int(relayerrs.ExitConfig)
	}

	if err := relay.InitLogging(cfg.LogDir, cfg.DebugLevel); err != nil {
		fmt.Fprintln(os.Stderr, "betanetd: failed to initialize logging:", err)
		return int(relayerrs.ExitConfig)
	}

	sink := events.Sink(events.NewPromSink(prometheus.DefaultRegisterer))

	local := relay.LocalDeliverFunc(func(payload []byte) {
		fmt.Printf("delivered local payload (%d bytes)\n", len(payload))
	})

	node, err := relay.NewNode(cfg, sink, local)
	if err != nil {
		fmt.Fprintln(os.Stderr, "betanetd:", err)
		return exitCodeFor(err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	serveErr := node.Start(ctx)

	if shutErr := node.Shutdown(shutdownDrain); shutErr != nil {
		fmt.Fprintln(os.Stderr, "betanetd: shutdown:", shutErr)
		if serveErr == nil {
			return exitCodeFor(shutErr)
		}
	}

	if serveErr != nil {
		fmt.Fprintln(os.Stderr, "betanetd:", serveErr)
		return exitCodeFor(serveErr)
	}

	return int(relayerrs.ExitOK)
}

func exitCodeFor(err error) int {
	var fatalErr *relayerrs.FatalError
	if asFatal(err, &fatalErr) {
		return int(fatalErr.Code)
	}
	return int(relayerrs.ExitConfig)
}

func asFatal(err error, target **relayerrs.FatalError) bool {
	for err != nil {
		if fe, ok := err.(*relayerrs.FatalError); ok {
			*target = fe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
