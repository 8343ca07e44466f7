package feed

import (
	"net"
	"time"
)

// Socket is the slice of *net.UDPConn the listener needs. Abstracting it
// lets tests feed canned datagrams through the listener without touching
// the network.
type Socket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// SocketFactory creates listening sockets. The default binds real UDP
// sockets; tests inject a factory returning mocks.
type SocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (Socket, error)
}

type realSocketFactory struct{}

// NewSocketFactory returns the production factory backed by net.ListenUDP.
func NewSocketFactory() SocketFactory {
	return realSocketFactory{}
}

func (realSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (Socket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockSocket replays a fixed sequence of datagrams, then reports timeouts
// until it is closed. It implements Socket for listener tests.
type MockSocket struct {
	// Datagrams are returned one per ReadFromUDP call, in order.
	Datagrams [][]byte
	// ReadErr, if set, is returned once after the datagrams run out.
	ReadErr error

	next      int
	errServed bool
	closed    bool
}

func (m *MockSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	if m.closed {
		return 0, nil, net.ErrClosed
	}
	if m.next < len(m.Datagrams) {
		n := copy(b, m.Datagrams[m.next])
		m.next++
		return n, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}, nil
	}
	if m.ReadErr != nil && !m.errServed {
		m.errServed = true
		return 0, nil, m.ReadErr
	}
	// Behave like a deadline expiry so the listener loops back around
	// and notices context cancellation.
	time.Sleep(time.Millisecond)
	return 0, nil, timeoutError{}
}

func (m *MockSocket) SetReadBuffer(int) error         { return nil }
func (m *MockSocket) SetReadDeadline(time.Time) error { return nil }
func (m *MockSocket) LocalAddr() net.Addr             { return &net.UDPAddr{Port: 40000} }
func (m *MockSocket) Close() error                    { m.closed = true; return nil }

// MockSocketFactory hands out prepared sockets, or a bind error.
type MockSocketFactory struct {
	Socket  Socket
	BindErr error
}

func (f *MockSocketFactory) ListenUDP(string, *net.UDPAddr) (Socket, error) {
	if f.BindErr != nil {
		return nil, f.BindErr
	}
	return f.Socket, nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
