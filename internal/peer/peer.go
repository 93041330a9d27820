// Package peer implements the client side of the protocol: a
// negotiation state machine with liveness tracking driven by a
// cooperative timer, plus sample send/receive glued to the transport.
package peer

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/danmuck/linkctl/internal/observability"
	"github.com/danmuck/linkctl/internal/protocol"
	"github.com/danmuck/linkctl/internal/transport"
)

const (
	DefaultDisconnectedInterval = 3 * time.Second
	DefaultConnectedInterval    = 60 * time.Second

	maxMisses = 3
)

var ErrAlreadyStarted = errors.New("peer: already started")

// State describes a negotiation state transition.
type State uint8

const (
	StateConnected State = iota
	StateTimeout
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateTimeout:
		return "timeout"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// StateChange is delivered to OnStateChange subscribers. SessionID is
// the new session on StateConnected and the lost one on
// StateDisconnected. MissCount is only set on StateTimeout.
type StateChange struct {
	State     State
	PeerID    uint16
	SessionID uint16
	MissCount int
}

// Options configures a peer engine.
type Options struct {
	// PeerID is the stable identifier this peer presents to the
	// controller. Immutable after Start.
	PeerID uint16
	// DisconnectedInterval is the negotiation period while no session
	// is held. Zero disables the timer in that state.
	DisconnectedInterval time.Duration
	// ConnectedInterval is the negotiation period while a session is
	// held. Zero disables the timer in that state.
	ConnectedInterval time.Duration
	// AutoNegotiate sends one request immediately on Start.
	AutoNegotiate bool
}

func DefaultOptions(peerID uint16) Options {
	return Options{
		PeerID:               peerID,
		DisconnectedInterval: DefaultDisconnectedInterval,
		ConnectedInterval:    DefaultConnectedInterval,
		AutoNegotiate:        true,
	}
}

// Peer drives negotiation against a controller over a transport it
// does not own.
type Peer struct {
	tr   *transport.Transport
	opts Options

	mu        sync.Mutex
	running   bool
	sessionID uint16
	missCount int
	waiting   bool
	interval  time.Duration
	rearm     chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	handlerMu sync.Mutex
	stateFns  []func(StateChange)
	sampleFns []func(*protocol.SampleDown)
}

func New(tr *transport.Transport, opts Options) *Peer {
	return &Peer{tr: tr, opts: opts}
}

// OnStateChange registers fn for negotiation state transitions.
// Handlers run outside the engine lock.
func (p *Peer) OnStateChange(fn func(StateChange)) {
	p.handlerMu.Lock()
	defer p.handlerMu.Unlock()
	p.stateFns = append(p.stateFns, fn)
}

// OnSample registers fn for inbound samples.
func (p *Peer) OnSample(fn func(*protocol.SampleDown)) {
	p.handlerMu.Lock()
	defer p.handlerMu.Unlock()
	p.sampleFns = append(p.sampleFns, fn)
}

// Start resets negotiation state, starts the transport and the timer.
// A stopped peer may be started again.
func (p *Peer) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.running = true
	p.sessionID = 0
	p.missCount = 0
	p.waiting = false
	p.interval = p.opts.DisconnectedInterval
	p.rearm = make(chan struct{}, 1)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	p.tr.SetHandler(p)
	if err := p.tr.Start(); err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return err
	}

	p.wg.Add(1)
	go p.timerLoop()

	if p.opts.AutoNegotiate {
		// The initial request skips the miss-counter bookkeeping.
		p.mu.Lock()
		p.waiting = true
		req := &protocol.NegotiationRequest{SessionID: p.sessionID, PeerID: p.opts.PeerID}
		p.mu.Unlock()
		p.tr.Send(req, nil)
	}
	return nil
}

// Stop cancels the timer and stops the transport. Returns false when
// not running.
func (p *Peer) Stop() bool {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.tr.Stop()
	return true
}

func (p *Peer) PeerID() uint16 {
	return p.opts.PeerID
}

func (p *Peer) SessionID() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

func (p *Peer) IsConnected() bool {
	return p.SessionID() != 0
}

// SendNegotiation triggers one negotiation round, with the same
// observable behavior as a timer tick.
func (p *Peer) SendNegotiation() {
	p.negotiate()
}

// SendSample stamps m with the current session and peer identifiers,
// then queues it. Blocks while the outbound queue is full.
func (p *Peer) SendSample(m *protocol.SampleUp) bool {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false
	}
	m.SessionID = p.sessionID
	m.PeerID = p.opts.PeerID
	p.mu.Unlock()
	return p.tr.Send(m, nil)
}

func (p *Peer) timerLoop() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		d := p.interval
		rearm := p.rearm
		p.mu.Unlock()

		if d <= 0 {
			select {
			case <-p.ctx.Done():
				return
			case <-rearm:
				continue
			}
		}
		timer := time.NewTimer(d)
		select {
		case <-p.ctx.Done():
			timer.Stop()
			return
		case <-rearm:
			timer.Stop()
			continue
		case <-timer.C:
			p.negotiate()
		}
	}
}

func (p *Peer) negotiate() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	var events []StateChange
	if p.waiting && p.sessionID != 0 {
		p.missCount++
		if p.missCount >= maxMisses {
			prior := p.sessionID
			p.sessionID = 0
			p.missCount = 0
			p.setIntervalLocked(p.opts.DisconnectedInterval)
			events = append(events, StateChange{
				State:     StateDisconnected,
				PeerID:    p.opts.PeerID,
				SessionID: prior,
			})
		} else {
			events = append(events, StateChange{
				State:     StateTimeout,
				PeerID:    p.opts.PeerID,
				SessionID: p.sessionID,
				MissCount: p.missCount,
			})
		}
	}
	p.waiting = true
	req := &protocol.NegotiationRequest{SessionID: p.sessionID, PeerID: p.opts.PeerID}
	p.mu.Unlock()

	for _, ev := range events {
		p.emitState(ev)
	}
	p.tr.Send(req, nil)
}

// setIntervalLocked changes the timer period and wakes the timer loop.
func (p *Peer) setIntervalLocked(d time.Duration) {
	p.interval = d
	select {
	case p.rearm <- struct{}{}:
	default:
	}
}

// HandleDatagram implements transport.Handler. Malformed frames and
// message kinds a peer never consumes are dropped silently.
func (p *Peer) HandleDatagram(data []byte, from *net.UDPAddr) {
	msg, err := protocol.Decode(data)
	if err != nil {
		observability.RecordFrameDropped(p.tr.Node(), protocol.DropReason(err))
		return
	}
	switch m := msg.(type) {
	case *protocol.NegotiationResponse:
		p.handleResponse(m)
	case *protocol.SampleDown:
		p.emitSample(m)
	}
}

func (p *Peer) handleResponse(m *protocol.NegotiationResponse) {
	p.mu.Lock()
	if !p.running || m.PeerID != p.opts.PeerID {
		p.mu.Unlock()
		return
	}
	wasDisconnected := p.sessionID == 0
	p.sessionID = m.SessionID
	p.missCount = 0
	p.waiting = false
	p.setIntervalLocked(p.opts.ConnectedInterval)
	p.mu.Unlock()

	if wasDisconnected && m.SessionID != 0 {
		p.emitState(StateChange{
			State:     StateConnected,
			PeerID:    p.opts.PeerID,
			SessionID: m.SessionID,
		})
	}
}

func (p *Peer) emitState(ev StateChange) {
	p.handlerMu.Lock()
	fns := make([]func(StateChange), len(p.stateFns))
	copy(fns, p.stateFns)
	p.handlerMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (p *Peer) emitSample(m *protocol.SampleDown) {
	p.handlerMu.Lock()
	fns := make([]func(*protocol.SampleDown), len(p.sampleFns))
	copy(fns, p.sampleFns)
	p.handlerMu.Unlock()
	for _, fn := range fns {
		fn(m)
	}
}
