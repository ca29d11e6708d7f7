package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"navengine-go/binlog"
	"navengine-go/config"
	"navengine-go/floorplan"
	"navengine-go/fusion"
	"navengine-go/geom"
	"navengine-go/route"
	"navengine-go/server"
)

func main() {
	fpPath := flag.String("floorplan", "", "Floorplan JSON file")
	cfgPath := flag.String("config", "", "Tuning config JSON for the range model (optional)")
	from := flag.Int("from", 0, "Start node id")
	to := flag.Int("to", 0, "Goal node id")
	step := flag.Float64("step", 0.5, "Metres walked between scans")
	interval := flag.Duration("interval", time.Second, "Time between scans")
	noise := flag.Float64("noise", 2.0, "RSSI noise standard deviation, dB")
	maxRange := flag.Float64("max-range", 30, "Emitters further than this are not heard, metres")
	deviceHex := flag.String("device", "B50AC", "Scanner device id (hex)")
	seed := flag.Uint64("seed", 1, "Noise seed")
	dest := flag.String("dest", "", "Send scans to this UDP address")
	out := flag.String("out", "", "Record scans to this PCAP file")
	flag.Parse()

	if *fpPath == "" || (*dest == "") == (*out == "") {
		log.Fatal("Usage: simulate -floorplan <file> -from <id> -to <id> (-dest host:port | -out file.pcap)")
	}

	tuning := config.DefaultTuningConfig()
	if *cfgPath != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(*cfgPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	model := tuning.PipelineOptions().Range

	device, err := strconv.ParseUint(*deviceHex, 16, 32)
	if err != nil {
		log.Fatalf("Invalid -device: %v", err)
	}
	fp, err := floorplan.Load(*fpPath)
	if err != nil {
		log.Fatalf("Failed to load floorplan: %v", err)
	}
	g, err := fp.Graph()
	if err != nil {
		log.Fatalf("Invalid graph: %v", err)
	}
	r, err := route.FindRoute(g, *from, *to)
	if err != nil {
		log.Fatalf("route: %v", err)
	}
	if len(r) == 0 {
		log.Fatalf("no route from %d to %d", *from, *to)
	}
	walk := r.Walk(*step)
	log.Printf("walking %d nodes, %.1f m, %d scans", len(r), r.Cost(), len(walk))

	gauss := distuv.Normal{Mu: 0, Sigma: *noise, Src: rand.NewPCG(*seed, *seed^0x9E3779B97F4A7C15)}

	var emit func(ts time.Time, pkt []byte) error
	if *dest != "" {
		raddr, err := net.ResolveUDPAddr("udp", *dest)
		if err != nil {
			log.Fatalf("Invalid dest address: %v", err)
		}
		conn, err := net.DialUDP("udp", nil, raddr)
		if err != nil {
			log.Fatalf("Dial failed: %v", err)
		}
		defer conn.Close()
		emit = func(_ time.Time, pkt []byte) error {
			_, err := conn.Write(pkt)
			return err
		}
	} else {
		pw, err := binlog.NewPcapWriter(*out)
		if err != nil {
			log.Fatalf("Failed to create pcap writer: %v", err)
		}
		defer pw.Close()
		self := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: server.DefaultPort}
		emit = func(ts time.Time, pkt []byte) error {
			return pw.WritePacketAt(ts, server.PcapFlag, self, pkt)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	base := time.Now()
	for i, p := range walk {
		sample := scan(p, fp.Emitters, model, *maxRange, gauss.Rand)
		pkt, err := server.PackScanReport(uint32(device), server.NewScanReport(uint16(i), sample))
		if err != nil {
			log.Fatalf("scan %d: %v", i, err)
		}
		ts := base.Add(time.Duration(i) * *interval)
		if *dest != "" && i > 0 {
			select {
			case <-time.After(time.Until(ts)):
			case <-ctx.Done():
				log.Printf("Interrupted after %d scans", i)
				return
			}
		}
		if err := emit(ts, pkt); err != nil {
			log.Printf("scan %d: %v", i, err)
		}
	}
	fmt.Printf("Done. %d scans ending at (%.2f, %.2f).\n", len(walk), walk[len(walk)-1].X, walk[len(walk)-1].Y)
}

// scan synthesises the readings heard at p. Distances are floored at the
// estimator's near-field minimum.
func scan(p geom.Point, emitters []fusion.Emitter, model fusion.RangeModel, maxRange float64, noise func() float64) fusion.RawSample {
	s := make(fusion.RawSample, len(emitters))
	for _, e := range emitters {
		d := geom.Dist(p, e.Pos())
		if d > maxRange {
			continue
		}
		s[e.Label] = model.Power(math.Max(d, fusion.DefaultMinDistance)) + noise()
	}
	return s
}
