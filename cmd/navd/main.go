package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"navengine-go/binlog"
	"navengine-go/config"
	"navengine-go/floorplan"
	"navengine-go/logging"
	"navengine-go/mapstore"
	"navengine-go/rbc"
	"navengine-go/server"
	"navengine-go/session"
	"navengine-go/web"
)

func main() {
	fpPath := flag.String("floorplan", "", "Floorplan JSON file")
	dbPath := flag.String("db", "", "Map database (with -map)")
	mapKey := flag.String("map", "", "Map id or name in -db")
	cfgPath := flag.String("config", "", "Tuning config JSON (optional)")
	port := flag.Int("port", server.DefaultPort, "UDP port to listen on")
	httpAddr := flag.String("http", "", "HTTP/WebSocket address (e.g. :8080). Empty to disable.")
	staticDir := flag.String("static", "", "Directory served at / by the HTTP server")
	rbcUDP := flag.String("rbc-udp", "", "Comma separated UDP RBC targets host:port")
	rbcTCP := flag.String("rbc-tcp", "", "Comma separated TCP RBC targets host:port")
	rbcMask := flag.String("rbc-mask", "403", "RBC message mask in hex (1 position, 2 warning, 400 route)")
	rbcHeader := flag.String("rbc-header", "", "Header prefixed to every RBC line")
	deviceHex := flag.String("device", "", "Only accept frames from this device (hex); also stamped on RBC lines")
	pcapPath := flag.String("pcap", "", "Record received frames to this file or directory")
	replayPath := flag.String("replay", "", "Run a recording instead of listening")
	speed := flag.Float64("speed", 1.0, "Replay speed multiplier (0 for max speed)")
	logLevel := flag.String("log-level", "ops", "Log level: off, ops, diag, trace")
	flag.Parse()

	if err := logging.SetLevel(*logLevel, os.Stderr); err != nil {
		log.Fatal(err)
	}

	tuning := config.DefaultTuningConfig()
	if *cfgPath != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(*cfgPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	fp, err := loadFloorplan(*fpPath, *dbPath, *mapKey)
	if err != nil {
		log.Fatalf("Failed to load floorplan: %v", err)
	}

	var device uint32
	if *deviceHex != "" {
		v, err := strconv.ParseUint(*deviceHex, 16, 32)
		if err != nil {
			log.Fatalf("Invalid -device %q: %v", *deviceHex, err)
		}
		device = uint32(v)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub := &server.ResultPublisher{Device: device}

	if *rbcUDP != "" || *rbcTCP != "" {
		mask, err := strconv.ParseUint(*rbcMask, 16, 32)
		if err != nil {
			log.Fatalf("Invalid -rbc-mask %q: %v", *rbcMask, err)
		}
		sender := rbc.NewSender()
		sender.SetHeader(*rbcHeader)
		for _, addr := range splitList(*rbcUDP) {
			if err := sender.AddUDPSender(addr, uint32(mask)); err != nil {
				log.Fatalf("Failed to add RBC UDP target %s: %v", addr, err)
			}
			logging.Opsf("RBC UDP target %s (mask %x)", addr, mask)
		}
		for _, addr := range splitList(*rbcTCP) {
			sender.AddTCPSender(addr, uint32(mask))
			logging.Opsf("RBC TCP target %s (mask %x)", addr, mask)
		}
		if err := sender.Start(); err != nil {
			log.Fatalf("Failed to start RBC sender: %v", err)
		}
		defer sender.Stop()
		pub.RBC = sender
	}

	var webSvr *web.Server
	if *httpAddr != "" {
		webSvr = &web.Server{Hub: web.NewHub(), StaticDir: *staticDir}
		pub.Hub = webSvr.Hub
	}

	sess, err := session.New(fp, session.Options{Pipeline: tuning.PipelineOptions(), Publisher: pub})
	if err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	logging.Opsf("session %s: %d emitters, %d nodes, %d rooms", sess.ID(), len(fp.Emitters), len(fp.Nodes), len(fp.Rooms))

	var udpSvr *server.UdpServer
	if *replayPath != "" {
		udpSvr = server.NewOfflineServer(tuning.GetSampleQueue())
	} else {
		udpSvr, err = server.NewUdpServer(*port, tuning.GetSampleQueue())
		if err != nil {
			log.Fatalf("Failed to create UDP server: %v", err)
		}
	}
	udpSvr.Device = device
	udpSvr.SetLabelResolver(server.LabelsFromEmitters(fp.Emitters))

	if *pcapPath != "" {
		path := *pcapPath
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			path = fmt.Sprintf("%s/PKTSBIN_%s.pcap", path, time.Now().Format("20060102150405"))
		}
		pw, err := binlog.NewPcapWriter(path)
		if err != nil {
			log.Fatalf("Failed to create pcap writer: %v", err)
		}
		defer pw.Close()
		udpSvr.SetPcapWriter(pw)
		logging.Opsf("Logging packets to %s", path)
	}

	if webSvr != nil {
		webSvr.Session = sess
		webSvr.Stats = func() any { return udpSvr.Stats() }
		go func() {
			if err := webSvr.Start(ctx, *httpAddr); err != nil {
				logging.Opsf("HTTP server error: %v", err)
				stop()
			}
		}()
	}

	if *replayPath != "" {
		go func() {
			if err := udpSvr.Replay(ctx, *replayPath, *speed); err != nil {
				logging.Opsf("replay: %v", err)
			}
		}()
	} else {
		go udpSvr.Start()
		go func() {
			<-ctx.Done()
			udpSvr.Stop()
		}()
	}

	if err := sess.Run(ctx, udpSvr.Samples()); err != nil && ctx.Err() == nil {
		log.Fatalf("session stopped: %v", err)
	}
	st := udpSvr.Stats()
	logging.Opsf("Shutting down: %d datagrams, %d queued, %d dropped", st.Datagrams, st.Queued, st.Dropped)
}

func loadFloorplan(path, db, key string) (*floorplan.Floorplan, error) {
	switch {
	case path != "" && db != "":
		return nil, fmt.Errorf("use either -floorplan or -db, not both")
	case path != "":
		return floorplan.Load(path)
	case db != "" && key != "":
		store, err := mapstore.Open(db)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.Lookup(context.Background(), key)
	default:
		return nil, fmt.Errorf("-floorplan or -db with -map required")
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
