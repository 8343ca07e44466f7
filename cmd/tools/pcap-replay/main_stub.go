//go:build !pcap
// +build !pcap

package main

import "log"

func main() {
	log.Fatal("pcap-replay requires pcap support: rebuild with -tags pcap (needs libpcap)")
}
