package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/betanet/relay/events"
)

// Submitter is the inbound face of the packet pipeline, satisfied by
// *pipeline.Pipeline. Kept as a narrow interface (rather than importing
// pipeline directly) so transport has no import-time dependency on the
// pipeline's batching/lottery/reputation internals - the same
// import-cycle avoidance pipeline itself uses for its own Forwarder.
type Submitter interface {
	Submit(packetBytes []byte, sourceAddr string) error
}

// Server accepts framed connections on one bound address and submits
// every decoded packet to a Submitter.
type Server struct {
	ln   net.Listener
	sink events.Sink

	framingErrors atomic.Uint64
}

// Listen binds bindAddr for Serve. Separated from Serve so the caller
// (cmd/betanetd) can observe a bind failure (spec.md §6 exit code 1,
// configuration error) before the accept loop and any pipeline startup
// begins.
func Listen(bindAddr string) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}

	return &Server{ln: ln, sink: events.Noop}, nil
}

// SetSink attaches the metrics/event sink used for framing-error counts.
func (s *Server) SetSink(sink events.Sink) {
	if sink == nil {
		sink = events.Noop
	}
	s.sink = sink
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve runs the accept loop until ctx is cancelled or Close is called,
// handing every successfully framed packet to pipeline.Submit. Each
// connection is read on its own goroutine under an errgroup so a slow
// or malicious peer on one connection can't stall another's reads -
// only the suspension points spec.md §5 allows (socket read) block a
// connection's own goroutine.
func (s *Server) Serve(ctx context.Context, pipeline Submitter) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return s.ln.Close()
	})

	g.Go(func() error {
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
					return err
				}
			}

			g.Go(func() error {
				s.handleConn(ctx, conn, pipeline)
				return nil
			})
		}
	})

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Close stops the accept loop by closing the listener.
func (s *Server) Close() error {
	return s.ln.Close()
}

// FramingErrors returns the running count of connections closed for
// exceeding MaxFrameSize. Each such close is also published to the sink
// as the transport_framing_errors counter; pipeline.Stats does not
// include this count.
func (s *Server) FramingErrors() uint64 {
	return s.framingErrors.Load()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn, pipeline Submitter) {
	defer conn.Close()

	addr := conn.RemoteAddr().String()
	log.Debugf("accepted connection from %v", addr)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		packet, err := ReadFrame(conn)
		if err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				s.framingErrors.Add(1)
				s.sink.PublishCounter("transport_framing_errors", 1, nil)
				log.Warnf("closing connection from %v: frame exceeded max size", addr)
				return
			}
			if err != io.EOF {
				log.Debugf("connection from %v closed: %v", addr, err)
			}
			return
		}

		if err := pipeline.Submit(packet, addr); err != nil {
			log.Debugf("submit from %v dropped: %v", addr, err)
		}
	}
}
