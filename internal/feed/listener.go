// Package feed receives one UDP delivery path of the monitored stream and
// turns datagrams into arrival events for the correlator.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/skew.report/internal/correlate"
	"github.com/banshee-data/skew.report/internal/decode"
	"github.com/banshee-data/skew.report/internal/monitoring"
)

// Sink accepts arrival events. *correlate.Engine is the production
// implementation.
type Sink interface {
	Enqueue(ctx context.Context, a correlate.Arrival) error
}

// Config configures one feed listener.
type Config struct {
	// Name is the human-readable feed label used in logs.
	Name string
	// Index is the feed's slot in the correlator, 0 or 1.
	Index int
	// Addr is the UDP bind address, e.g. "0.0.0.0:8001".
	Addr string
	// RcvBuf is the kernel receive buffer size in bytes; 0 keeps the
	// system default.
	RcvBuf int
	// Decoder extracts packet identifiers from payloads.
	Decoder decode.Decoder
	// Sink receives decoded arrivals.
	Sink Sink
	// Stats collects receive counters; one is created if nil.
	Stats *Stats
	// LogInterval is the stats logging period, defaulting to a minute.
	LogInterval time.Duration
	// SocketFactory defaults to real UDP sockets.
	SocketFactory SocketFactory
}

// Listener owns one bound UDP socket and the goroutine reading it.
type Listener struct {
	name        string
	index       int
	addr        string
	rcvBuf      int
	decoder     decode.Decoder
	sink        Sink
	stats       *Stats
	logInterval time.Duration
	factory     SocketFactory
	logf        func(format string, v ...interface{})
}

// NewListener builds a Listener from cfg, filling in defaults.
func NewListener(cfg Config) *Listener {
	stats := cfg.Stats
	if stats == nil {
		stats = NewStats()
	}
	logInterval := cfg.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	factory := cfg.SocketFactory
	if factory == nil {
		factory = NewSocketFactory()
	}
	return &Listener{
		name:        cfg.Name,
		index:       cfg.Index,
		addr:        cfg.Addr,
		rcvBuf:      cfg.RcvBuf,
		decoder:     cfg.Decoder,
		sink:        cfg.Sink,
		stats:       stats,
		logInterval: logInterval,
		factory:     factory,
		logf:        monitoring.Named(cfg.Name),
	}
}

// Stats exposes the listener's counters, mainly for the monitor endpoint.
func (l *Listener) Stats() *Stats { return l.stats }

// Run binds the socket and consumes datagrams until ctx is cancelled. A
// bind failure is returned immediately and is fatal to this listener only;
// the correlator and the other feed keep running.
func (l *Listener) Run(ctx context.Context) error {
	laddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", l.addr, err)
	}
	conn, err := l.factory.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", l.addr, err)
	}
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			l.logf("could not set receive buffer to %d bytes: %v", l.rcvBuf, err)
		}
	}
	l.logf("listening on %s", l.addr)

	go l.logStatsLoop(ctx)

	// Close the socket when the context ends so a blocked read unwinds
	// promptly even if no deadline is pending.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 2048)
	var deadlineErrLogged bool
	for {
		select {
		case <-ctx.Done():
			l.logf("stopping")
			return nil
		default:
		}

		// Short deadline so the loop re-checks cancellation.
		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			if !deadlineErrLogged {
				l.logf("failed to set read deadline: %v", err)
				deadlineErrLogged = true
			}
		}

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.logf("stopping")
				return nil
			}
			l.logf("read error: %v", err)
			continue
		}

		if err := l.handleDatagram(ctx, buf[:n]); err != nil {
			// Only a cancelled enqueue propagates; treat as shutdown.
			l.logf("stopping")
			return nil
		}
	}
}

// handleDatagram decodes one payload and forwards the arrival. Undecodable
// datagrams are counted and dropped here; they are invisible downstream.
func (l *Listener) handleDatagram(ctx context.Context, payload []byte) error {
	id, err := l.decoder.Decode(payload)
	if err != nil {
		l.stats.AddUndecodable()
		return nil
	}
	l.stats.AddPacket(len(payload))
	return l.sink.Enqueue(ctx, correlate.Arrival{
		Feed: l.index,
		ID:   id,
		At:   time.Now(),
	})
}

func (l *Listener) logStatsLoop(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			packets, bytes, undecodable, interval := l.stats.GetAndReset()
			if packets == 0 && undecodable == 0 {
				continue
			}
			secs := interval.Seconds()
			line := fmt.Sprintf("feed stats (/sec): %.1f packets, %.1f KB",
				float64(packets)/secs, float64(bytes)/secs/1024)
			if undecodable > 0 {
				line += fmt.Sprintf(", %d undecodable", undecodable)
			}
			l.logf("%s", line)
		}
	}
}
