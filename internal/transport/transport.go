// Package transport owns the UDP socket and the outbound packet queue.
// A started transport runs exactly two workers: a receive loop that
// dispatches datagrams to the registered handler, and a send loop that
// is the sole consumer of the bounded outbound queue.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/danmuck/linkctl/internal/logging"
	"github.com/danmuck/linkctl/internal/observability"
	"github.com/danmuck/linkctl/internal/protocol"
)

const DefaultSendQueueCapacity = 100

var ErrAlreadyStarted = errors.New("transport: already started")

// Handler receives every inbound datagram together with its source
// address. Implementations must not retain data past the call.
type Handler interface {
	HandleDatagram(data []byte, from *net.UDPAddr)
}

// Options configures a transport instance.
type Options struct {
	// Node labels log lines and metrics for this instance.
	Node string
	// LocalAddr is the UDP bind address, required.
	LocalAddr string
	// RemoteAddr is the default destination for packets queued without
	// an explicit one. Optional.
	RemoteAddr string
	// SendQueueCapacity bounds the outbound queue; producers block when
	// it is full. Defaults to DefaultSendQueueCapacity.
	SendQueueCapacity int
	// Sink receives transport diagnostics. Debug level emits a hex dump
	// per datagram.
	Sink logging.Sink
}

type packet struct {
	data []byte
	dest *net.UDPAddr
}

type Transport struct {
	opts    Options
	sink    logging.Sink
	handler Handler

	mu      sync.Mutex
	running bool
	conn    *net.UDPConn
	remote  *net.UDPAddr
	queue   chan packet
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(opts Options) *Transport {
	if opts.SendQueueCapacity <= 0 {
		opts.SendQueueCapacity = DefaultSendQueueCapacity
	}
	sink := opts.Sink
	if sink == nil {
		sink = logging.Nop()
	}
	return &Transport{opts: opts, sink: sink}
}

// Node returns the label this transport reports metrics under.
func (t *Transport) Node() string {
	return t.opts.Node
}

// SetHandler registers the inbound dispatch target. Must be called
// before Start.
func (t *Transport) SetHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// LocalAddr returns the bound address, or nil when not running.
func (t *Transport) LocalAddr() *net.UDPAddr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Start binds the socket and launches the receive and send loops.
// A transport stopped with Stop may be started again.
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return ErrAlreadyStarted
	}

	laddr, err := net.ResolveUDPAddr("udp", t.opts.LocalAddr)
	if err != nil {
		return fmt.Errorf("transport: bind %s: %w", t.opts.LocalAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("transport: bind %s: %w", t.opts.LocalAddr, err)
	}

	var remote *net.UDPAddr
	if t.opts.RemoteAddr != "" {
		remote, err = net.ResolveUDPAddr("udp", t.opts.RemoteAddr)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("transport: remote %s: %w", t.opts.RemoteAddr, err)
		}
	}

	t.conn = conn
	t.remote = remote
	t.queue = make(chan packet, t.opts.SendQueueCapacity)
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.running = true

	t.wg.Add(2)
	go t.receiveLoop(conn, t.ctx, t.handler)
	go t.sendLoop(conn, t.ctx, t.queue, remote)
	return nil
}

// Stop cancels both loops, unblocks queue waiters, closes the socket
// and joins the workers. Returns false when not running.
func (t *Transport) Stop() bool {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return false
	}
	t.running = false
	cancel := t.cancel
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	cancel()
	_ = conn.Close()
	t.wg.Wait()
	return true
}

// Send serializes m and queues it for transmission. dest overrides the
// default remote endpoint when non-nil. Blocks while the queue is full;
// returns false when the transport is stopped or serialization fails.
func (t *Transport) Send(m protocol.Message, dest *net.UDPAddr) bool {
	data, err := protocol.Encode(m)
	if err != nil {
		t.sink.Log(logging.LevelError, fmt.Sprintf("encode %T: %v", m, err))
		return false
	}
	return t.enqueue(packet{data: data, dest: dest})
}

func (t *Transport) enqueue(p packet) bool {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return false
	}
	queue, ctx := t.queue, t.ctx
	t.mu.Unlock()

	select {
	case queue <- p:
		observability.SetSendQueueDepth(t.opts.Node, len(queue))
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *Transport) sendLoop(conn *net.UDPConn, ctx context.Context, queue chan packet, remote *net.UDPAddr) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-queue:
			observability.SetSendQueueDepth(t.opts.Node, len(queue))
			dest := p.dest
			if dest == nil {
				dest = remote
			}
			if dest == nil {
				t.sink.Log(logging.LevelWarn, "no destination endpoint, dropping packet")
				continue
			}
			if _, err := conn.WriteToUDP(p.data, dest); err != nil {
				if ctx.Err() != nil {
					return
				}
				t.sink.Log(logging.LevelWarn, fmt.Sprintf("write to %s: %v", dest, err))
				continue
			}
			observability.RecordDatagramSent(t.opts.Node)
			if t.sink.Enabled(logging.LevelDebug) {
				t.sink.Log(logging.LevelDebug,
					fmt.Sprintf("tx %d bytes -> %s\n%s", len(p.data), dest, logging.HexDump(p.data)))
			}
		}
	}
}

func (t *Transport) receiveLoop(conn *net.UDPConn, ctx context.Context, handler Handler) {
	defer t.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			// Transient socket errors keep the loop alive.
			t.sink.Log(logging.LevelWarn, fmt.Sprintf("read: %v", err))
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		observability.RecordDatagramReceived(t.opts.Node)
		if t.sink.Enabled(logging.LevelDebug) {
			t.sink.Log(logging.LevelDebug,
				fmt.Sprintf("rx %d bytes <- %s\n%s", n, raddr, logging.HexDump(data)))
		}
		if handler != nil {
			handler.HandleDatagram(data, raddr)
		}
	}
}
