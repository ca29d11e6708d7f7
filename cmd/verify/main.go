package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"

	"navengine-go/binlog"
	"navengine-go/server"
)

func main() {
	file1 := flag.String("1", "", "Original PCAP")
	file2 := flag.String("2", "", "Replayed PCAP")
	frames := flag.Bool("frames", false, "Compare UNIB frames instead of whole datagrams")
	flag.Parse()

	if *file1 == "" || *file2 == "" {
		log.Fatal("Usage: verify -1 <original> -2 <replayed> [-frames]")
	}

	pkts1, err := readPackets(*file1, *frames)
	if err != nil {
		log.Fatalf("Error reading %s: %v", *file1, err)
	}
	pkts2, err := readPackets(*file2, *frames)
	if err != nil {
		log.Fatalf("Error reading %s: %v", *file2, err)
	}

	fmt.Printf("Original packets (data only): %d\n", len(pkts1))
	fmt.Printf("Replayed packets (data only): %d\n", len(pkts2))

	mismatches := 0
	for i := 0; i < min(len(pkts1), len(pkts2)); i++ {
		if !bytes.Equal(pkts1[i], pkts2[i]) {
			fmt.Printf("Mismatch at packet %d: len1=%d len2=%d\n", i, len(pkts1[i]), len(pkts2[i]))
			mismatches++
			if mismatches > 10 {
				fmt.Println("Too many mismatches, stopping.")
				break
			}
		}
	}

	if len(pkts1) != len(pkts2) {
		fmt.Printf("Count mismatch: %d vs %d\n", len(pkts1), len(pkts2))
		mismatches++
	}

	if mismatches == 0 {
		fmt.Println("SUCCESS: All payloads match.")
	} else {
		fmt.Println("FAILURE: Mismatches found.")
		os.Exit(1)
	}
}

// readPackets returns the data payloads of a recording, optionally split
// into frames; the ingest server records one frame per record.
func readPackets(path string, frames bool) ([][]byte, error) {
	recs, err := binlog.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, r := range recs {
		if !frames {
			out = append(out, r.Payload)
			continue
		}
		fs, _ := server.SplitFrames(r.Payload, false)
		for _, f := range fs {
			out = append(out, f.Raw)
		}
	}
	return out, nil
}
