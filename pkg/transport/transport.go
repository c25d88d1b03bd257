// Package transport implements the UDP-based network endpoint that carries
// gossip protocol messages between peers: a buffered channel plus a fixed
// worker pool draining it, packets dropped silently when the buffer is full.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/dispatch"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/gerrors"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/model"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/protocol"
)

const (
	inboundBufferSize = 4096
	inboundWorkers    = 8
	maxPacketBytes    = 64 * 1024
)

// Transport is the collaborator contract the engine drives: startEndpoint
// begins receiving, startActiveGossiper is invoked once the engine's
// ActiveGossiper is ready to push, shutdown releases the socket, and send
// carries one already-encoded message to a peer.
type Transport interface {
	StartEndpoint(ctx context.Context, ep model.Endpoint) error
	StartActiveGossiper(g interface{ Init() })
	Shutdown()
	Send(to model.Endpoint, payload []byte) error
}

// UDP is the default Transport: one UDP socket per process, decoded
// messages delivered to a protocol.Handler off a bounded worker pool so a
// slow dispatcher never backs up the socket read loop.
type UDP struct {
	logger  *slog.Logger
	handler protocol.Handler

	conn   *net.UDPConn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inbound chan []byte
}

// New creates an unbound UDP transport delivering decoded messages to
// handler; StartEndpoint binds the socket.
func New(logger *slog.Logger, handler protocol.Handler) *UDP {
	if logger == nil {
		logger = slog.Default()
	}
	return &UDP{
		logger:  logger.With("component", "transport"),
		handler: handler,
		inbound: make(chan []byte, inboundBufferSize),
	}
}

// StartEndpoint binds the UDP socket at ep and begins the receive loop and
// worker pool. It returns once the socket is bound; receiving happens on
// background goroutines bound to ctx.
func (u *UDP) StartEndpoint(ctx context.Context, ep model.Endpoint) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", ep.Host, ep.Port))
	if err != nil {
		return gerrors.TransportUnavailable(ep.String(), err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return gerrors.TransportUnavailable(ep.String(), err)
	}
	u.conn = conn

	runCtx, cancel := context.WithCancel(ctx)
	u.cancel = cancel

	for i := 0; i < inboundWorkers; i++ {
		u.wg.Add(1)
		go u.worker(runCtx)
	}
	u.wg.Add(1)
	go u.receiveLoop(runCtx)

	u.logger.Info("transport bound", "endpoint", ep.String())
	return nil
}

func (u *UDP) receiveLoop(ctx context.Context) {
	defer u.wg.Done()
	buf := make([]byte, maxPacketBytes)
	for {
		if ctx.Err() != nil {
			return
		}
		n, _, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			u.logger.Debug("udp read error", "error", err)
			continue
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])
		select {
		case u.inbound <- packet:
		default:
			u.logger.Debug("inbound buffer full, dropping packet")
		}
	}
}

func (u *UDP) worker(ctx context.Context) {
	defer u.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case packet := <-u.inbound:
			if err := protocol.Decode(packet, u.handler); err != nil {
				u.logger.Debug("decode failed", "error", err)
			}
		}
	}
}

// StartActiveGossiper begins the given gossiper's periodic push schedule.
// Kept as a thin passthrough so callers can enforce ordering: transport
// must be up before the gossiper starts pushing.
func (u *UDP) StartActiveGossiper(g interface{ Init() }) {
	g.Init()
}

// Shutdown stops the receive loop and worker pool and closes the socket. It
// is safe to call more than once.
func (u *UDP) Shutdown() {
	if u.cancel != nil {
		u.cancel()
	}
	// Close before waiting: the receive loop is blocked in ReadFromUDP and
	// only returns once the socket is closed.
	if u.conn != nil {
		_ = u.conn.Close()
	}
	u.wg.Wait()
}

// Send encodes-free raw send of an already-framed payload to a peer.
func (u *UDP) Send(to model.Endpoint, payload []byte) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", to.Host, to.Port))
	if err != nil {
		return gerrors.TransportUnavailable(to.String(), err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return gerrors.TransportUnavailable(to.String(), err)
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		return gerrors.TransportUnavailable(to.String(), err)
	}
	return nil
}

// Sender adapts a UDP transport to the gossiper.Sender contract, encoding
// each dispatch message kind before handing it to Send.
type Sender struct {
	transport *UDP
}

// NewSender wraps t as a gossiper.Sender.
func NewSender(t *UDP) *Sender { return &Sender{transport: t} }

func (s *Sender) SendMembershipList(to model.Endpoint, msg dispatch.MembershipList) error {
	return s.sendEncoded(to, msg)
}

func (s *Sender) SendPerNodeData(to model.Endpoint, msg dispatch.PerNodeData) error {
	return s.sendEncoded(to, msg)
}

func (s *Sender) SendSharedData(to model.Endpoint, msg dispatch.SharedData) error {
	return s.sendEncoded(to, msg)
}

func (s *Sender) SendShutdown(to model.Endpoint, msg dispatch.Shutdown) error {
	return s.sendEncoded(to, msg)
}

func (s *Sender) sendEncoded(to model.Endpoint, msg any) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.transport.Send(to, payload)
}
