// Package controller implements the server side of the protocol: a
// registry of negotiated peers with timeout-based eviction, session
// allocation, and sample routing back to recorded endpoints.
package controller

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
	DefaultPeerTimeout   = 180 * time.Second
	DefaultSweepInterval = 30 * time.Second
)

var ErrAlreadyStarted = errors.New("controller: already started")

// State describes a registry transition for one peer.
type State uint8

const (
	StateConnected State = iota
	StateDisconnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// StateChange is delivered to OnStateChange subscribers.
type StateChange struct {
	State     State
	PeerID    uint16
	SessionID uint16
	Endpoint  *net.UDPAddr
}

// PeerInfo is a read-only registry snapshot entry.
type PeerInfo struct {
	PeerID    uint16       `json:"peer_id"`
	SessionID uint16       `json:"session_id"`
	Endpoint  *net.UDPAddr `json:"endpoint"`
	LastSeen  time.Time    `json:"last_seen"`
}

// NegotiationPolicy lets the application take over session assignment.
// When set, the built-in registry is bypassed: the callback returns the
// session to answer with and whether to answer at all.
type NegotiationPolicy func(req *protocol.NegotiationRequest, from *net.UDPAddr) (sessionID uint16, respond bool)

// Options configures a controller engine.
type Options struct {
	// PeerTimeout evicts a record whose last negotiation is older than
	// this. Defaults to DefaultPeerTimeout.
	PeerTimeout time.Duration
	// SweepInterval is the eviction sweep period. Defaults to
	// DefaultSweepInterval.
	SweepInterval time.Duration
	// Policy, when non-nil, replaces the registry dispatch path.
	Policy NegotiationPolicy
}

func DefaultOptions() Options {
	return Options{
		PeerTimeout:   DefaultPeerTimeout,
		SweepInterval: DefaultSweepInterval,
	}
}

type peerRecord struct {
	peerID   uint16
	endpoint *net.UDPAddr
	lastSeen time.Time
}

// Controller tracks negotiated peers over a transport it does not own.
type Controller struct {
	tr   *transport.Transport
	opts Options

	mu            sync.Mutex
	running       bool
	sessions      map[uint16]*peerRecord
	index         map[uint16]uint16
	nextSessionID uint16
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	handlerMu sync.Mutex
	stateFns  []func(StateChange)
	sampleFns []func(*protocol.SampleUp, *net.UDPAddr)
}

func New(tr *transport.Transport, opts Options) *Controller {
	if opts.PeerTimeout <= 0 {
		opts.PeerTimeout = DefaultPeerTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	return &Controller{
		tr:            tr,
		opts:          opts,
		sessions:      make(map[uint16]*peerRecord),
		index:         make(map[uint16]uint16),
		nextSessionID: 1,
	}
}

// OnStateChange registers fn for peer connect/disconnect transitions.
// Handlers run outside the registry lock.
func (c *Controller) OnStateChange(fn func(StateChange)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.stateFns = append(c.stateFns, fn)
}

// OnSample registers fn for inbound samples with their source endpoint.
func (c *Controller) OnSample(fn func(*protocol.SampleUp, *net.UDPAddr)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.sampleFns = append(c.sampleFns, fn)
}

// Start starts the transport and the eviction sweeper. A stopped
// controller may be started again; the registry is cleared.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.running = true
	c.sessions = make(map[uint16]*peerRecord)
	c.index = make(map[uint16]uint16)
	c.nextSessionID = 1
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	c.tr.SetHandler(c)
	if err := c.tr.Start(); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return err
	}

	c.wg.Add(1)
	go c.sweepLoop()
	return nil
}

// Stop cancels the sweeper and stops the transport. Returns false when
// not running.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return false
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
	c.tr.Stop()
	return true
}

// Peers returns a snapshot of the registry in no defined order (map
// iteration order; callers sort if they care).
func (c *Controller) Peers() []PeerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PeerInfo, 0, len(c.sessions))
	for sid, rec := range c.sessions {
		out = append(out, PeerInfo{
			PeerID:    rec.peerID,
			SessionID: sid,
			Endpoint:  rec.endpoint,
			LastSeen:  rec.lastSeen,
		})
	}
	return out
}

// SessionFor reports the session currently held by peerID.
func (c *Controller) SessionFor(peerID uint16) (uint16, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sid, ok := c.index[peerID]
	return sid, ok
}

// SendSample routes m to the endpoint recorded for its session. When
// the session is unknown the packet falls back to the transport's
// default remote endpoint, if configured.
func (c *Controller) SendSample(m *protocol.SampleDown) bool {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return false
	}
	var dest *net.UDPAddr
	if rec, ok := c.sessions[m.SessionID]; ok {
		dest = rec.endpoint
	}
	c.mu.Unlock()
	return c.tr.Send(m, dest)
}

// HandleDatagram implements transport.Handler. Malformed frames and
// message kinds a controller never consumes are dropped silently.
func (c *Controller) HandleDatagram(data []byte, from *net.UDPAddr) {
	msg, err := protocol.Decode(data)
	if err != nil {
		observability.RecordFrameDropped(c.tr.Node(), protocol.DropReason(err))
		return
	}
	switch m := msg.(type) {
	case *protocol.NegotiationRequest:
		c.handleNegotiation(m, from)
	case *protocol.SampleUp:
		c.emitSample(m, from)
	}
}

func (c *Controller) handleNegotiation(req *protocol.NegotiationRequest, from *net.UDPAddr) {
	if c.opts.Policy != nil {
		sid, respond := c.opts.Policy(req, from)
		if respond {
			c.tr.Send(&protocol.NegotiationResponse{SessionID: sid, PeerID: req.PeerID}, from)
		}
		return
	}

	now := time.Now()
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	var connected *StateChange
	sid, known := c.index[req.PeerID]
	if known {
		rec := c.sessions[sid]
		rec.lastSeen = now
		rec.endpoint = from
	} else {
		sid = c.allocateLocked()
		c.sessions[sid] = &peerRecord{peerID: req.PeerID, endpoint: from, lastSeen: now}
		c.index[req.PeerID] = sid
		connected = &StateChange{State: StateConnected, PeerID: req.PeerID, SessionID: sid, Endpoint: from}
	}
	tracked := len(c.sessions)
	c.mu.Unlock()

	node := c.tr.Node()
	observability.SetConnectedPeers(node, tracked)
	if connected != nil {
		observability.RecordNegotiation(node, "new")
		c.emitState(*connected)
	} else {
		observability.RecordNegotiation(node, "refresh")
	}
	c.tr.Send(&protocol.NegotiationResponse{SessionID: sid, PeerID: req.PeerID}, from)
}

// allocateLocked hands out the next session id, skipping zero on wrap
// and any id still held by a tracked peer.
func (c *Controller) allocateLocked() uint16 {
	for {
		sid := c.nextSessionID
		c.nextSessionID++
		if c.nextSessionID == 0 {
			c.nextSessionID = 1
		}
		if sid == 0 {
			continue
		}
		if _, inUse := c.sessions[sid]; !inUse {
			return sid
		}
	}
}

func (c *Controller) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

// sweep evicts every record older than the peer timeout and emits one
// disconnect per eviction.
func (c *Controller) sweep(now time.Time) {
	c.mu.Lock()
	var evicted []StateChange
	for sid, rec := range c.sessions {
		if now.Sub(rec.lastSeen) <= c.opts.PeerTimeout {
			continue
		}
		evicted = append(evicted, StateChange{
			State:     StateDisconnected,
			PeerID:    rec.peerID,
			SessionID: sid,
			Endpoint:  rec.endpoint,
		})
		delete(c.sessions, sid)
		delete(c.index, rec.peerID)
	}
	tracked := len(c.sessions)
	c.mu.Unlock()

	if len(evicted) == 0 {
		return
	}
	node := c.tr.Node()
	observability.SetConnectedPeers(node, tracked)
	for _, ev := range evicted {
		observability.RecordEviction(node)
		c.emitState(ev)
	}
}

func (c *Controller) emitState(ev StateChange) {
	c.handlerMu.Lock()
	fns := make([]func(StateChange), len(c.stateFns))
	copy(fns, c.stateFns)
	c.handlerMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Controller) emitSample(m *protocol.SampleUp, from *net.UDPAddr) {
	c.handlerMu.Lock()
	fns := make([]func(*protocol.SampleUp, *net.UDPAddr), len(c.sampleFns))
	copy(fns, c.sampleFns)
	c.handlerMu.Unlock()
	for _, fn := range fns {
		fn(m, from)
	}
}
