package transport

import (
	"sync"

	"github.com/lightningnetwork/lnd/queue"
)

// coverQueueDepth is the channel buffer size of the ConcurrentQueue.
// Packets queued beyond it go to the queue's overflow list, which has no
// bound; no queued cover packet is dropped.
const coverQueueDepth = 256

type coverItem struct {
	addr    string
	payload []byte
}

// CoverSender emits cover-traffic packets (spec.md §4.7) on a
// best-effort basis, decoupled from the pipeline's forwarding path by
// github.com/lightningnetwork/lnd/queue's ConcurrentQueue - the same
// never-block-the-producer queue the teacher uses to keep a slow
// consumer from stalling whoever is feeding it. Cover packets carry no
// Sphinx semantics and have no terminal-event obligation (spec.md §3's
// "every accepted packet" invariant is scoped to packets admitted via
// Submit, not self-generated cover traffic), so unlike ConnPool.Send,
// failures here are swallowed rather than attributed to any peer.
type CoverSender struct {
	pool *ConnPool
	q    *queue.ConcurrentQueue

	wg sync.WaitGroup
}

// NewCoverSender starts a background writer draining cover packets
// through pool.
func NewCoverSender(pool *ConnPool) *CoverSender {
	cs := &CoverSender{
		pool: pool,
		q:    queue.NewConcurrentQueue(coverQueueDepth),
	}
	cs.q.Start()

	cs.wg.Add(1)
	go cs.run()

	return cs
}

// Send enqueues a cover packet for addr without blocking the caller
// (the pipeline's cover-traffic tick loop).
func (cs *CoverSender) Send(addr string, payload []byte) error {
	cs.q.ChanIn() <- coverItem{addr: addr, payload: payload}
	return nil
}

func (cs *CoverSender) run() {
	defer cs.wg.Done()

	for item := range cs.q.ChanOut() {
		ci := item.(coverItem)
		if err := cs.pool.Send(ci.addr, ci.payload); err != nil {
			log.Debugf("cover packet to %v not sent: %v", ci.addr, err)
		}
	}
}

// Stop drains the queue and halts the background writer.
func (cs *CoverSender) Stop() {
	cs.q.Stop()
	cs.wg.Wait()
}
