// Command feedgen generates a synthetic dual-feed packet stream for
// exercising skewmon end to end. Every packet is stamped with a UUID and
// sent to both feed ports, the second copy after a configurable offset
// plus jitter; optional loss and duplication make the stream less tidy.
package main

import (
	"flag"
	"log"
	"math/rand"
	"net"
	"time"

	"github.com/google/uuid"
)

var (
	feed0Addr = flag.String("feed0-addr", "127.0.0.1:8001", "Destination for feed 0 copies")
	feed1Addr = flag.String("feed1-addr", "127.0.0.1:8002", "Destination for feed 1 copies")
	rate      = flag.Int("rate", 100, "Packets per second")
	offset    = flag.Duration("offset", 20*time.Millisecond, "Base delay of feed 1 behind feed 0")
	jitter    = flag.Duration("jitter", 10*time.Millisecond, "Max random extra delay on feed 1")
	loss      = flag.Float64("loss", 0, "Probability [0,1) of dropping the feed 1 copy")
	dup       = flag.Float64("dup", 0, "Probability [0,1) of duplicating the feed 0 copy")
	bodySize  = flag.Int("body", 200, "Payload bytes after the 16-byte uuid header")
	count     = flag.Int("count", 0, "Packets to send before exiting (0 = run forever)")
)

func main() {
	flag.Parse()
	if *rate <= 0 {
		log.Fatal("-rate must be positive")
	}

	conn0 := dial(*feed0Addr)
	defer conn0.Close()
	conn1 := dial(*feed1Addr)
	defer conn1.Close()

	log.Printf("generating %d pkt/s to %s and %s (offset %s, jitter %s)",
		*rate, *feed0Addr, *feed1Addr, *offset, *jitter)

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()

	sent := 0
	for range ticker.C {
		packet := makePacket(*bodySize)

		if _, err := conn0.Write(packet); err != nil {
			log.Printf("feed0 write failed: %v", err)
		}
		if rand.Float64() < *dup {
			conn0.Write(packet)
		}

		if rand.Float64() >= *loss {
			delay := *offset + time.Duration(rand.Int63n(int64(*jitter)+1))
			go func(p []byte, d time.Duration) {
				time.Sleep(d)
				if _, err := conn1.Write(p); err != nil {
					log.Printf("feed1 write failed: %v", err)
				}
			}(packet, delay)
		}

		sent++
		if *count > 0 && sent >= *count {
			break
		}
	}

	// Let stragglers on feed 1 flush before closing the sockets.
	time.Sleep(*offset + *jitter + 100*time.Millisecond)
	log.Printf("sent %d packets", sent)
}

// makePacket builds a uuid-stamped payload with a random body.
func makePacket(bodySize int) []byte {
	id := uuid.New()
	packet := make([]byte, 16+bodySize)
	copy(packet, id[:])
	rand.Read(packet[16:])
	return packet
}

func dial(addr string) *net.UDPConn {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		log.Fatalf("resolve %s: %v", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		log.Fatalf("dial %s: %v", addr, err)
	}
	return conn
}
