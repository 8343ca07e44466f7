//go:build pcap
// +build pcap

// Command pcap-replay feeds captured UDP traffic back into skewmon. It
// reads a pcap file, extracts UDP payloads addressed to a source port, and
// sends each payload to both feed ports with the capture's original
// inter-packet timing.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

var (
	pcapFile  = flag.String("pcap", "", "Path to the pcap file (required)")
	srcPort   = flag.Int("src-port", 0, "Only replay UDP packets to this destination port (0 = all UDP)")
	feed0Addr = flag.String("feed0-addr", "127.0.0.1:8001", "Destination for feed 0 copies")
	feed1Addr = flag.String("feed1-addr", "127.0.0.1:8002", "Destination for feed 1 copies")
	speed     = flag.Float64("speed", 1.0, "Replay speed multiplier (2.0 = twice as fast)")
)

func main() {
	flag.Parse()
	if *pcapFile == "" {
		log.Fatal("-pcap is required")
	}
	if *speed <= 0 {
		*speed = 1.0
	}

	handle, err := pcap.OpenOffline(*pcapFile)
	if err != nil {
		log.Fatalf("failed to open pcap file %s: %v", *pcapFile, err)
	}
	defer handle.Close()

	filter := "udp"
	if *srcPort > 0 {
		filter = fmt.Sprintf("udp port %d", *srcPort)
	}
	if err := handle.SetBPFFilter(filter); err != nil {
		log.Fatalf("failed to set BPF filter %q: %v", filter, err)
	}

	conn0 := dial(*feed0Addr)
	defer conn0.Close()
	conn1 := dial(*feed1Addr)
	defer conn1.Close()

	log.Printf("replaying %s to %s and %s (filter %q, speed %.1fx)",
		*pcapFile, *feed0Addr, *feed1Addr, filter, *speed)

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	var lastCapture time.Time
	sent := 0
	start := time.Now()

	for packet := range source.Packets() {
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		payload := udpLayer.(*layers.UDP).Payload
		if len(payload) == 0 {
			continue
		}

		captureTime := packet.Metadata().Timestamp
		if !lastCapture.IsZero() {
			gap := captureTime.Sub(lastCapture)
			if gap > 0 {
				time.Sleep(time.Duration(float64(gap) / *speed))
			}
		}
		lastCapture = captureTime

		if _, err := conn0.Write(payload); err != nil {
			log.Printf("feed0 write failed: %v", err)
		}
		if _, err := conn1.Write(payload); err != nil {
			log.Printf("feed1 write failed: %v", err)
		}
		sent++
	}

	log.Printf("replayed %d packets in %v", sent, time.Since(start))
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
