package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ============================================================================
// FAKE TRANSPORT
// ============================================================================

type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, payload)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// deliver pushes a raw frame into the read loop.
func (c *fakeConn) deliver(raw string) {
	c.in <- []byte(raw)
}

type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	failNext int   // fail this many dials before succeeding
	failAll  bool  // every dial fails
	conns    []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failAll || d.dials <= d.failNext {
		return nil, errors.New("dial refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func newTestManager(dialer Dialer) *Manager {
	policy := NewReconnectPolicy(time.Millisecond)
	dispatcher := NewDispatcher(testLogger())
	return NewManager("wss://example.test/stream", dialer, policy, dispatcher, testLogger())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ============================================================================
// TESTS
// ============================================================================

func TestConnectOpensChannel(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer)

	if err := m.Connect(nil, nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, "open state", func() bool { return m.State() == StateOpen })

	if m.ReconnectAttempts() != 0 {
		t.Errorf("attempts = %d after clean open, want 0", m.ReconnectAttempts())
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer)

	m.Connect(nil, nil)
	waitFor(t, "open state", func() bool { return m.State() == StateOpen })

	// A second Connect while open must not dial again.
	if err := m.Connect(nil, nil); err != nil {
		t.Fatalf("second Connect returned error: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dial count = %d after repeated Connect, want 1", got)
	}
}

func TestSendRequiresOpenState(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer)

	if err := m.Send([]byte("ping")); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Send while idle = %v, want ErrNotOpen", err)
	}

	m.Connect(nil, nil)
	waitFor(t, "open state", func() bool { return m.State() == StateOpen })

	if err := m.Send([]byte("ping")); err != nil {
		t.Fatalf("Send while open failed: %v", err)
	}

	conn := dialer.lastConn()
	conn.mu.Lock()
	written := len(conn.written)
	conn.mu.Unlock()
	if written != 1 {
		t.Errorf("written payloads = %d, want 1", written)
	}

	m.Disconnect()
	waitFor(t, "closed state", func() bool { return m.State() == StateClosed })
	if err := m.Send([]byte("ping")); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Send after disconnect = %v, want ErrNotOpen", err)
	}
}

func TestFramesDispatchedInOrder(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer)

	var mu sync.Mutex
	var types []EventType
	m.Connect(func(e Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	}, nil)
	waitFor(t, "open state", func() bool { return m.State() == StateOpen })

	conn := dialer.lastConn()
	conn.deliver(`{"type":"PRICE_UPDATE"}`)
	conn.deliver(`{"type":"ORDER_UPDATE"}`)
	conn.deliver(`{"type":"BALANCE_UPDATE"}`)

	waitFor(t, "three events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(types) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []EventType{EventPriceUpdate, EventOrderUpdate, EventBalanceUpdate}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", types, want)
		}
	}
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer)

	var mu sync.Mutex
	var events []Event
	var errs []error
	m.Connect(
		func(e Event) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		},
		func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
	)
	waitFor(t, "open state", func() bool { return m.State() == StateOpen })

	conn := dialer.lastConn()
	conn.deliver(`garbage frame`)
	conn.deliver(`{"type":"PRICE_UPDATE"}`)

	waitFor(t, "valid frame after garbage", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	})

	if m.State() != StateOpen {
		t.Errorf("state = %v after malformed frame, want open", m.State())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 || !errors.Is(errs[0], ErrMalformedFrame) {
		t.Errorf("errors = %v, want one ErrMalformedFrame", errs)
	}
}

func TestExplicitDisconnectSuppressesReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer)

	m.Connect(nil, nil)
	waitFor(t, "open state", func() bool { return m.State() == StateOpen })

	m.Disconnect()
	waitFor(t, "closed state", func() bool { return m.State() == StateClosed })

	// Give any stray reconnect timer a chance to fire.
	time.Sleep(20 * time.Millisecond)
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dial count = %d after explicit disconnect, want 1", got)
	}
	if m.State() != StateClosed {
		t.Errorf("state = %v, want closed", m.State())
	}
}

func TestReconnectAfterTransportLoss(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer)

	m.Connect(nil, nil)
	waitFor(t, "open state", func() bool { return m.State() == StateOpen })

	// Simulate the server dropping the connection.
	dialer.lastConn().Close()

	waitFor(t, "reconnected", func() bool {
		return dialer.dialCount() == 2 && m.State() == StateOpen
	})
	if m.ReconnectAttempts() != 0 {
		t.Errorf("attempts = %d after successful reconnect, want reset to 0", m.ReconnectAttempts())
	}
}

func TestReconnectCeilingIsTerminal(t *testing.T) {
	dialer := &fakeDialer{failAll: true}
	m := newTestManager(dialer)

	var terminalCount int32
	var terminalErr atomic.Value
	m.Connect(nil, func(err error) {
		var exhausted *ReconnectExhaustedError
		if errors.As(err, &exhausted) {
			atomic.AddInt32(&terminalCount, 1)
			terminalErr.Store(exhausted)
		}
	})

	waitFor(t, "terminal closed state", func() bool { return m.State() == StateClosed })
	time.Sleep(20 * time.Millisecond)

	// Initial dial plus exactly the ceiling of reconnect attempts.
	if got := dialer.dialCount(); got != MaxReconnectAttempts+1 {
		t.Errorf("dial count = %d, want %d", got, MaxReconnectAttempts+1)
	}
	if got := atomic.LoadInt32(&terminalCount); got != 1 {
		t.Errorf("terminal errors = %d, want exactly 1", got)
	}
	if exhausted, ok := terminalErr.Load().(*ReconnectExhaustedError); ok {
		if exhausted.Attempts != MaxReconnectAttempts {
			t.Errorf("terminal attempts = %d, want %d", exhausted.Attempts, MaxReconnectAttempts)
		}
	} else {
		t.Fatal("terminal error was not a ReconnectExhaustedError")
	}

	// No further retries without an explicit new Connect.
	before := dialer.dialCount()
	time.Sleep(20 * time.Millisecond)
	if dialer.dialCount() != before {
		t.Error("manager kept retrying after the ceiling")
	}

	// An explicit new Connect starts over.
	dialer.mu.Lock()
	dialer.failAll = false
	dialer.mu.Unlock()
	if err := m.Connect(nil, nil); err != nil {
		t.Fatalf("Connect after terminal close failed: %v", err)
	}
	waitFor(t, "open after restart", func() bool { return m.State() == StateOpen })
}

func TestDisconnectFromEventCallback(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer)

	done := make(chan struct{})
	m.Connect(func(e Event) {
		// Re-entrant call from inside the event callback must not
		// deadlock or corrupt state.
		m.Disconnect()
		close(done)
	}, nil)
	waitFor(t, "open state", func() bool { return m.State() == StateOpen })

	dialer.lastConn().deliver(`{"type":"SESSION_UPDATE"}`)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect from callback deadlocked")
	}
	waitFor(t, "closed state", func() bool { return m.State() == StateClosed })
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{failAll: true}
	policy := NewReconnectPolicy(time.Hour) // long delay keeps the timer pending
	dispatcher := NewDispatcher(testLogger())
	m := NewManager("wss://example.test/stream", dialer, policy, dispatcher, testLogger())

	m.Connect(nil, nil)
	waitFor(t, "reconnecting state", func() bool { return m.State() == StateReconnecting })

	m.Disconnect()
	if m.State() != StateClosed {
		t.Errorf("state = %v after disconnect while reconnecting, want closed", m.State())
	}
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dial count = %d, want 1 (timer cancelled)", got)
	}
}
