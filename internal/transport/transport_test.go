package transport

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/linkctl/internal/protocol"
	"github.com/danmuck/linkctl/internal/testutil/testlog"
)

type capture struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (c *capture) HandleDatagram(data []byte, from *net.UDPAddr) {
	msg, err := protocol.Decode(data)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

func (c *capture) snapshot() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func waitCount(t *testing.T, c *capture, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(c.snapshot()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d datagrams, got %d", n, len(c.snapshot()))
}

func TestStartStopLifecycle(t *testing.T) {
	testlog.Start(t)
	tr := New(Options{Node: "a", LocalAddr: "127.0.0.1:0"})
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := tr.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if !tr.Stop() {
		t.Fatalf("first stop should report true")
	}
	if tr.Stop() {
		t.Fatalf("second stop should report false")
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !tr.Stop() {
		t.Fatalf("stop after restart should report true")
	}
}

func TestBindFailure(t *testing.T) {
	testlog.Start(t)
	tr := New(Options{Node: "a", LocalAddr: "not-an-address"})
	if err := tr.Start(); err == nil {
		tr.Stop()
		t.Fatalf("expected bind error")
	}
}

func TestSingleProducerOrdering(t *testing.T) {
	testlog.Start(t)
	sink := &capture{}
	rx := New(Options{Node: "rx", LocalAddr: "127.0.0.1:0"})
	rx.SetHandler(sink)
	if err := rx.Start(); err != nil {
		t.Fatalf("start rx: %v", err)
	}
	defer rx.Stop()

	tx := New(Options{
		Node:       "tx",
		LocalAddr:  "127.0.0.1:0",
		RemoteAddr: rx.LocalAddr().String(),
	})
	if err := tx.Start(); err != nil {
		t.Fatalf("start tx: %v", err)
	}
	defer tx.Stop()

	const n = 50
	for i := 0; i < n; i++ {
		if !tx.Send(&protocol.SampleUp{Sequence: uint16(i)}, nil) {
			t.Fatalf("send %d rejected", i)
		}
	}
	waitCount(t, sink, n, 3*time.Second)

	for i, msg := range sink.snapshot() {
		got, ok := msg.(*protocol.SampleUp)
		if !ok {
			t.Fatalf("unexpected message %T at %d", msg, i)
		}
		if got.Sequence != uint16(i) {
			t.Fatalf("out of order: position %d carries sequence %d", i, got.Sequence)
		}
	}
}

func TestExplicitDestinationOverride(t *testing.T) {
	testlog.Start(t)
	sink := &capture{}
	rx := New(Options{Node: "rx", LocalAddr: "127.0.0.1:0"})
	rx.SetHandler(sink)
	if err := rx.Start(); err != nil {
		t.Fatalf("start rx: %v", err)
	}
	defer rx.Stop()

	// No default remote: packets queued without a destination are
	// skipped, packets with an explicit one are delivered.
	tx := New(Options{Node: "tx", LocalAddr: "127.0.0.1:0"})
	if err := tx.Start(); err != nil {
		t.Fatalf("start tx: %v", err)
	}
	defer tx.Stop()

	if !tx.Send(&protocol.SampleUp{Sequence: 1}, nil) {
		t.Fatalf("send without destination should still enqueue")
	}
	if !tx.Send(&protocol.SampleUp{Sequence: 2}, rx.LocalAddr()) {
		t.Fatalf("send with destination rejected")
	}
	waitCount(t, sink, 1, 3*time.Second)
	got := sink.snapshot()
	if len(got) != 1 || got[0].(*protocol.SampleUp).Sequence != 2 {
		t.Fatalf("expected only the addressed packet, got %+v", got)
	}
}

func TestSendAfterStopReturnsFalse(t *testing.T) {
	testlog.Start(t)
	tr := New(Options{Node: "a", LocalAddr: "127.0.0.1:0"})
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	tr.Stop()
	if tr.Send(&protocol.SampleUp{}, nil) {
		t.Fatalf("send on stopped transport should report false")
	}
}

func TestBlockedSenderUnblocksOnStop(t *testing.T) {
	testlog.Start(t)
	tr := New(Options{Node: "a", LocalAddr: "127.0.0.1:0", SendQueueCapacity: 1})
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// No destination configured: the send loop discards queued packets,
	// so flood until a producer can plausibly block, then stop.
	done := make(chan bool, 1)
	go func() {
		ok := true
		for i := 0; i < 10000 && ok; i++ {
			ok = tr.Send(&protocol.SampleUp{}, nil)
		}
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	tr.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("producer stayed blocked after stop")
	}
}
