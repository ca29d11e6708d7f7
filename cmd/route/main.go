package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/graph/path"

	"navengine-go/floorplan"
	"navengine-go/geom"
	"navengine-go/mapstore"
	"navengine-go/route"
)

func main() {
	fpPath := flag.String("floorplan", "", "Floorplan JSON file")
	dbPath := flag.String("db", "", "Map database (with -map)")
	mapKey := flag.String("map", "", "Map id or name in -db")
	from := flag.String("from", "", "Start: node id, x,y or room name")
	to := flag.String("to", "", "Goal: node id, x,y or room name")
	check := flag.Bool("check", false, "Cross-check the cost against gonum's A*")
	asJSON := flag.Bool("json", false, "Print the route as JSON")
	flag.Parse()

	if *from == "" || *to == "" {
		log.Fatal("Usage: route -floorplan <file> -from <id|x,y|room> -to <id|x,y|room>")
	}

	var (
		fp  *floorplan.Floorplan
		err error
	)
	switch {
	case *fpPath != "":
		fp, err = floorplan.Load(*fpPath)
	case *dbPath != "" && *mapKey != "":
		var store *mapstore.Store
		if store, err = mapstore.Open(*dbPath); err == nil {
			fp, err = store.Lookup(context.Background(), *mapKey)
			store.Close()
		}
	default:
		log.Fatal("-floorplan or -db with -map required")
	}
	if err != nil {
		log.Fatalf("Failed to load floorplan: %v", err)
	}

	g, err := fp.Graph()
	if err != nil {
		log.Fatalf("Invalid graph: %v", err)
	}
	start, err := resolve(fp, g, *from)
	if err != nil {
		log.Fatalf("from: %v", err)
	}
	goal, err := resolve(fp, g, *to)
	if err != nil {
		log.Fatalf("to: %v", err)
	}

	r, err := route.FindRoute(g, start.ID, goal.ID)
	if err != nil {
		log.Fatalf("route: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"start": start, "goal": goal, "route": r, "cost": r.Cost()}); err != nil {
			log.Fatal(err)
		}
	} else if len(r) == 0 {
		fmt.Printf("No route from %d to %d\n", start.ID, goal.ID)
	} else {
		ids := make([]string, len(r))
		for i, id := range r.IDs() {
			ids[i] = strconv.Itoa(id)
		}
		fmt.Printf("%s (%d nodes, %.2f m)\n", strings.Join(ids, " -> "), len(r), r.Cost())
	}

	if *check {
		wg := g.Gonum()
		pt, _ := path.AStar(wg.Node(int64(start.ID)), wg.Node(int64(goal.ID)), wg, g.Heuristic())
		_, want := pt.To(int64(goal.ID))
		got := r.Cost()
		if len(r) == 0 {
			got = math.Inf(1)
		}
		if math.IsInf(want, 1) && math.IsInf(got, 1) || math.Abs(want-got) < 1e-9 {
			fmt.Printf("check ok: gonum cost %.4f\n", want)
		} else {
			fmt.Printf("check FAILED: gonum cost %.4f, ours %.4f\n", want, got)
			os.Exit(1)
		}
	}
}

// resolve turns "12", "3.5,7" or "Library" into a graph node.
func resolve(fp *floorplan.Floorplan, g *route.Graph, s string) (route.Node, error) {
	if id, err := strconv.Atoi(s); err == nil {
		n, ok := g.Node(id)
		if !ok {
			return route.Node{}, fmt.Errorf("node %d: %w", id, route.ErrUnknownNode)
		}
		return n, nil
	}
	if xs, ys, ok := strings.Cut(s, ","); ok {
		x, errX := strconv.ParseFloat(strings.TrimSpace(xs), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(ys), 64)
		if errX == nil && errY == nil {
			return nearest(g, geom.Pt(x, y))
		}
	}
	room, ok := fp.Room(s)
	if !ok {
		return route.Node{}, fmt.Errorf("no room %q (have %s)", s, strings.Join(fp.RoomNames(), ", "))
	}
	return nearest(g, room.Pos())
}

func nearest(g *route.Graph, p geom.Point) (route.Node, error) {
	n, ok := g.Nearest(p)
	if !ok {
		return route.Node{}, fmt.Errorf("empty graph")
	}
	return n, nil
}
