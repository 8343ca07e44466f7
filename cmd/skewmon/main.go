// Command skewmon measures the propagation delay between two UDP delivery
// paths of the same packet stream. It listens on two ports, reduces every
// datagram to an opaque identifier, and reports how far apart the two
// feeds observed each identifier.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/banshee-data/skew.report/internal/correlate"
	"github.com/banshee-data/skew.report/internal/decode"
	"github.com/banshee-data/skew.report/internal/feed"
	"github.com/banshee-data/skew.report/internal/monitor"
	"github.com/banshee-data/skew.report/internal/monitoring"
	"github.com/banshee-data/skew.report/internal/report"
	"github.com/banshee-data/skew.report/internal/store"
	"github.com/banshee-data/skew.report/internal/version"
)

var (
	feed0Name   = flag.String("feed0-name", "feed0", "Label for the first feed")
	feed0Port   = flag.Int("feed0-port", 0, "UDP port of the first feed (required)")
	feed1Name   = flag.String("feed1-name", "feed1", "Label for the second feed")
	feed1Port   = flag.Int("feed1-port", 0, "UDP port of the second feed (required)")
	timeout     = flag.Int("timeout", 60, "Retention timeout in seconds for unmatched identifiers")
	idFormat    = flag.String("id-format", "digest", "Packet id format: digest or uuid")
	rcvBuf      = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes")
	queueSize   = flag.Int("queue-size", correlate.DefaultQueueSize, "Arrival queue capacity")
	listen      = flag.String("listen", "", "HTTP monitor listen address (empty disables)")
	dbFile      = flag.String("db", "", "Path to the stats SQLite database (empty disables persistence)")
	logMatches  = flag.Bool("log-matches", false, "Log every individual match")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// statsPeriod is the fixed reporting interval.
const statsPeriod = 10 * time.Second

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if *feed0Port == 0 || *feed1Port == 0 {
		log.Fatal("both -feed0-port and -feed1-port are required")
	}

	decoder, err := decode.ForFormat(*idFormat)
	if err != nil {
		log.Fatalf("bad -id-format: %v", err)
	}
	retention := time.Duration(*timeout) * time.Second

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reporters := report.MultiReporter{
		&report.LogReporter{LogMatches: *logMatches},
	}

	var st *store.Store
	if *dbFile != "" {
		st, err = store.Open(*dbFile)
		if err != nil {
			log.Fatalf("failed to open stats db: %v", err)
		}
		defer st.Close()
		recorder := store.NewRecorder(st)
		recorder.Start(ctx)
		reporters = append(reporters, recorder)
	}

	var ws *monitor.WebServer
	if *listen != "" {
		ws = monitor.NewWebServer(monitor.Config{
			Address:   *listen,
			Store:     st,
			StorePath: *dbFile,
		})
		reporters = append(reporters, ws)
	}

	engine := correlate.NewEngine(correlate.Config{
		Feed0Name: *feed0Name,
		Feed1Name: *feed1Name,
		Retention: retention,
		QueueSize: *queueSize,
		Reporter:  reporters,
	})

	var wg sync.WaitGroup
	var deadFeeds atomic.Int32
	for i, f := range []struct {
		name string
		port int
	}{
		{*feed0Name, *feed0Port},
		{*feed1Name, *feed1Port},
	} {
		l := feed.NewListener(feed.Config{
			Name:    f.name,
			Index:   i,
			Addr:    fmt.Sprintf("0.0.0.0:%d", f.port),
			RcvBuf:  *rcvBuf,
			Decoder: decoder,
			Sink:    engine,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Run(ctx); err != nil {
				// Fatal to this feed only; the engine keeps
				// running in degraded mode on the other one.
				monitoring.Logf("listener failed: %v", err)
				if deadFeeds.Add(1) == 2 {
					monitoring.Logf("both feeds failed, shutting down")
					stop()
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runTimers(ctx, engine, retention)
	}()

	if ws != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Start(ctx); err != nil {
				monitoring.Logf("monitor stopped with error: %v", err)
			}
		}()
	}

	engine.Run(ctx)
	wg.Wait()

	if deadFeeds.Load() == 2 {
		log.Fatal("exited: no usable feed")
	}
	log.Print("shutdown complete")
}

// runTimers drives the cleanup sweep (once per retention period) and the
// stats reports (fixed period) until ctx ends.
func runTimers(ctx context.Context, engine *correlate.Engine, retention time.Duration) {
	cleanup := time.NewTicker(retention)
	defer cleanup.Stop()
	stats := time.NewTicker(statsPeriod)
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup.C:
			engine.Kick(correlate.CleanupTick)
		case <-stats.C:
			engine.Kick(correlate.StatsTick)
		}
	}
}
