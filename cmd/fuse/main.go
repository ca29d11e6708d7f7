package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"navengine-go/config"
	"navengine-go/floorplan"
	"navengine-go/geom"
	"navengine-go/logging"
	"navengine-go/mapstore"
	"navengine-go/server"
	"navengine-go/session"
)

func main() {
	pcapPath := flag.String("pcap", "", "Input PCAP recording")
	fpPath := flag.String("floorplan", "", "Floorplan JSON file")
	dbPath := flag.String("db", "", "Map database (with -map)")
	mapKey := flag.String("map", "", "Map id or name in -db")
	cfgPath := flag.String("config", "", "Tuning config JSON (optional)")
	deviceHex := flag.String("device", "", "Only use frames from this device (hex)")
	goal := flag.String("goal", "", "Destination room name or node id")
	outPath := flag.String("out", "fused.csv", "Output CSV path")
	refPath := flag.String("ref", "", "Optional reference CSV for RMSE")
	maxShift := flag.Int("max-shift", 400, "Max frame shift for RMSE")
	logLevel := flag.String("log-level", "off", "Log level: off, ops, diag, trace")
	flag.Parse()

	if *pcapPath == "" {
		fmt.Println("--pcap required")
		os.Exit(1)
	}
	if err := logging.SetLevel(*logLevel, os.Stderr); err != nil {
		fail("%v", err)
	}

	tuning := config.DefaultTuningConfig()
	if *cfgPath != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(*cfgPath); err != nil {
			fail("load config: %v", err)
		}
	}
	fp, err := loadFloorplan(*fpPath, *dbPath, *mapKey)
	if err != nil {
		fail("load floorplan: %v", err)
	}

	rows := [][]string{{"seq", "quality", "fused_x_m", "fused_y_m", "start_node", "route_nodes", "route_cost_m"}}
	var fixes []geom.Point
	record := session.PublisherFunc(func(u session.Update) {
		fix := u.Cycle.Fix
		row := []string{strconv.FormatUint(u.Seq, 10), fix.Quality.String(), "", "", "", "", ""}
		if fix.Valid() {
			row[2] = fmt.Sprintf("%.4f", fix.Position.X)
			row[3] = fmt.Sprintf("%.4f", fix.Position.Y)
			fixes = append(fixes, fix.Position)
		}
		if u.Start != nil {
			row[4] = strconv.Itoa(u.Start.ID)
		}
		if u.Goal != nil {
			row[5] = strconv.Itoa(len(u.Route))
			row[6] = fmt.Sprintf("%.2f", u.Route.Cost())
		}
		rows = append(rows, row)
	})

	sess, err := session.New(fp, session.Options{Pipeline: tuning.PipelineOptions(), Publisher: record})
	if err != nil {
		fail("session: %v", err)
	}
	if *goal != "" {
		if id, convErr := strconv.Atoi(*goal); convErr == nil {
			_, err = sess.SetDestinationNode(id)
		} else {
			_, err = sess.SetDestinationRoom(*goal)
		}
		if err != nil {
			fail("goal: %v", err)
		}
		rows = rows[:1]
	}

	src := server.NewOfflineServer(tuning.GetSampleQueue())
	src.SetLabelResolver(server.LabelsFromEmitters(fp.Emitters))
	if *deviceHex != "" {
		v, err := strconv.ParseUint(*deviceHex, 16, 32)
		if err != nil {
			fail("invalid device: %v", err)
		}
		src.Device = uint32(v)
	}

	ctx := context.Background()
	errc := make(chan error, 1)
	go func() { errc <- src.Replay(ctx, *pcapPath, 0) }()
	if err := sess.Run(ctx, src.Samples()); err != nil {
		fail("run: %v", err)
	}
	if err := <-errc; err != nil {
		fail("replay: %v", err)
	}

	if err := writeCSV(*outPath, rows); err != nil {
		fail("write csv: %v", err)
	}
	st := src.Stats()
	fmt.Printf("wrote %s (%d cycles, %d fixes; %d frames, %d bad crc, %d unknown)\n",
		*outPath, len(rows)-1, len(fixes), st.Frames, st.BadCRC, st.Unknown)

	if *refPath != "" {
		ref, err := readXY(*refPath)
		if err != nil {
			fail("read ref: %v", err)
		}
		rmse, shift, ok := bestShiftRMSE(fixes, ref, *maxShift)
		if !ok {
			fail("rmse compare failed: no overlap")
		}
		fmt.Printf("ref shift %d frames, RMSE %.3f m\n", shift, rmse)
	}
}

func fail(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}

func loadFloorplan(path, db, key string) (*floorplan.Floorplan, error) {
	if path != "" {
		return floorplan.Load(path)
	}
	if db == "" || key == "" {
		return nil, fmt.Errorf("-floorplan or -db with -map required")
	}
	store, err := mapstore.Open(db)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Lookup(context.Background(), key)
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return f.Close()
}

// bestShiftRMSE aligns pred against ref by up to maxShift frames either way
// and returns the smallest RMSE found.
func bestShiftRMSE(pred, ref []geom.Point, maxShift int) (float64, int, bool) {
	best, bestShift, found := math.MaxFloat64, 0, false
	for shift := -maxShift; shift <= maxShift; shift++ {
		p, r := pred, ref
		if shift >= 0 {
			if shift >= len(p) {
				continue
			}
			p = p[shift:]
		} else {
			if -shift >= len(r) {
				continue
			}
			r = r[-shift:]
		}
		n := min(len(p), len(r))
		var sum float64
		for i := 0; i < n; i++ {
			d := geom.Dist(p[i], r[i])
			sum += d * d
		}
		if rmse := math.Sqrt(sum / float64(n)); rmse < best {
			best, bestShift, found = rmse, shift, true
		}
	}
	return best, bestShift, found
}

// readXY reads x/y columns from a CSV, accepting fused_x_m/fused_y_m or
// x_m/y_m headers.
func readXY(path string) ([]geom.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(recs) <= 1 {
		return nil, fmt.Errorf("no rows")
	}
	idxX, idxY := -1, -1
	for _, p := range [][2]string{{"fused_x_m", "fused_y_m"}, {"x_m", "y_m"}, {"x", "y"}} {
		idxX, idxY = indexOf(recs[0], p[0]), indexOf(recs[0], p[1])
		if idxX >= 0 && idxY >= 0 {
			break
		}
	}
	if idxX < 0 || idxY < 0 {
		return nil, fmt.Errorf("columns not found")
	}
	out := make([]geom.Point, 0, len(recs)-1)
	for _, row := range recs[1:] {
		if len(row) <= idxX || len(row) <= idxY || row[idxX] == "" {
			continue
		}
		x, _ := strconv.ParseFloat(row[idxX], 64)
		y, _ := strconv.ParseFloat(row[idxY], 64)
		out = append(out, geom.Pt(x, y))
	}
	return out, nil
}

func indexOf(arr []string, key string) int {
	for i, v := range arr {
		if strings.EqualFold(v, key) {
			return i
		}
	}
	return -1
}
