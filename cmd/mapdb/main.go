package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"navengine-go/config"
	"navengine-go/floorplan"
	"navengine-go/geom"
	"navengine-go/mapstore"
	"navengine-go/route"
)

const usage = `Usage:
  mapdb -db <file> import -name <name> <floorplan.json>
  mapdb -db <file> export -map <id|name> -out <floorplan.json>
  mapdb -db <file> list
  mapdb -db <file> delete -map <id|name>
  mapdb grid -in <floorplan.json> -segments <x1,y1,x2,y2 csv> -out <floorplan.json>`

func main() {
	dbPath := flag.String("db", "maps.db", "Map database")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "grid" {
		if err := runGrid(args); err != nil {
			log.Fatal(err)
		}
		return
	}

	store, err := mapstore.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", *dbPath, err)
	}
	defer store.Close()
	ctx := context.Background()

	switch cmd {
	case "import":
		fs := flag.NewFlagSet("import", flag.ExitOnError)
		name := fs.String("name", "", "Map name (defaults to the file name)")
		fs.Parse(args)
		if fs.NArg() != 1 {
			log.Fatal(usage)
		}
		fp, err := floorplan.Load(fs.Arg(0))
		if err != nil {
			log.Fatal(err)
		}
		if *name == "" {
			*name = fs.Arg(0)
		}
		id, err := store.Save(ctx, *name, fp)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("saved %q as %s\n", *name, id)

	case "export":
		fs := flag.NewFlagSet("export", flag.ExitOnError)
		key := fs.String("map", "", "Map id or name")
		out := fs.String("out", "", "Output JSON file")
		fs.Parse(args)
		if *key == "" || *out == "" {
			log.Fatal(usage)
		}
		fp, err := store.Lookup(ctx, *key)
		if err != nil {
			log.Fatal(err)
		}
		if err := fp.Save(*out); err != nil {
			log.Fatal(err)
		}

	case "list":
		list, err := store.List(ctx)
		if err != nil {
			log.Fatal(err)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tNODES\tEDGES\tEMITTERS\tUPDATED")
		for _, m := range list {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", m.ID, m.Name, m.Nodes, m.Edges, m.Emitters, m.Updated.Local().Format(time.DateTime))
		}
		tw.Flush()

	case "delete":
		fs := flag.NewFlagSet("delete", flag.ExitOnError)
		key := fs.String("map", "", "Map id or name")
		fs.Parse(args)
		id, err := resolveID(ctx, store, *key)
		if err != nil {
			log.Fatal(err)
		}
		if err := store.Delete(ctx, id); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("deleted %s\n", id)

	default:
		log.Fatal(usage)
	}
}

func resolveID(ctx context.Context, store *mapstore.Store, key string) (string, error) {
	list, err := store.List(ctx)
	if err != nil {
		return "", err
	}
	for _, m := range list {
		if m.ID == key || m.Name == key {
			return m.ID, nil
		}
	}
	return "", fmt.Errorf("%q: %w", key, mapstore.ErrNotFound)
}

// runGrid lays walkway segments onto a floorplan's grid graph.
func runGrid(args []string) error {
	fs := flag.NewFlagSet("grid", flag.ExitOnError)
	in := fs.String("in", "", "Input floorplan JSON")
	segPath := fs.String("segments", "", "CSV of x1,y1,x2,y2 rows")
	out := fs.String("out", "", "Output floorplan JSON (defaults to -in)")
	cfgPath := fs.String("config", "", "Tuning config for grid_spacing and connect_radius")
	fs.Parse(args)
	if *in == "" || *segPath == "" {
		return fmt.Errorf("%s", usage)
	}
	if *out == "" {
		*out = *in
	}

	tuning := config.DefaultTuningConfig()
	if *cfgPath != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(*cfgPath); err != nil {
			return err
		}
	}

	fp, err := floorplan.Load(*in)
	if err != nil {
		return err
	}
	segs, err := readSegments(*segPath)
	if err != nil {
		return err
	}

	b := route.NewBuilder(tuning.GetGridSpacing(), tuning.GetConnectRadius(), fp.Nodes, fp.Edges)
	for i, s := range segs {
		seg := b.AddSegment(s[0], s[1])
		log.Printf("segment %d: %d new nodes, %d reused, %d new edges", i+1, len(seg.Nodes), len(seg.Reused), len(seg.Edges))
	}
	if _, err := b.Graph(); err != nil {
		return err
	}
	fp.Nodes, fp.Edges = b.Nodes(), b.Edges()
	if err := fp.Save(*out); err != nil {
		return err
	}
	fmt.Printf("wrote %s: %d nodes, %d edges\n", *out, len(fp.Nodes), len(fp.Edges))
	return nil
}

func readSegments(path string) ([][2]geom.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 4
	r.Comment = '#'
	var segs [][2]geom.Point
	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		var v [4]float64
		for i, s := range rec {
			if v[i], err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("%s line %d: %w", path, line, err)
			}
		}
		segs = append(segs, [2]geom.Point{geom.Pt(v[0], v[1]), geom.Pt(v[2], v[3])})
	}
	return segs, nil
}
