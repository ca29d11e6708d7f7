package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"

	"navengine-go/binlog"
	"navengine-go/server"
)

func main() {
	pcapPath := flag.String("pcap", "", "Input PCAP file")
	destAddr := flag.String("dest", fmt.Sprintf("127.0.0.1:%d", server.DefaultPort), "Destination UDP address")
	speed := flag.Float64("speed", 1.0, "Replay speed multiplier (0 for max speed)")
	flag.Parse()

	if *pcapPath == "" {
		log.Fatal("--pcap required")
	}

	raddr, err := net.ResolveUDPAddr("udp", *destAddr)
	if err != nil {
		log.Fatalf("Invalid dest address: %v", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	f, err := os.Open(*pcapPath)
	if err != nil {
		log.Fatalf("Open pcap failed: %v", err)
	}
	defer f.Close()

	rd, err := binlog.NewReader(f)
	if err != nil {
		log.Fatalf("Read pcap failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Printf("Replaying %s to %s...", *pcapPath, *destAddr)
	pacer := server.NewPacer(*speed)
	count := 0
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Fatalf("Read record failed: %v", err)
		}
		if binlog.IsMetadata(rec.Flag) {
			continue
		}
		if err := pacer.Wait(ctx, rec.Time); err != nil {
			log.Printf("Interrupted: %v", err)
			break
		}
		if _, err := conn.Write(rec.Payload); err != nil {
			log.Printf("Write error: %v", err)
		}
		count++
		if count%1000 == 0 {
			fmt.Printf("\rSent %d packets...", count)
		}
	}
	fmt.Printf("\nDone. Sent %d packets.\n", count)
}
