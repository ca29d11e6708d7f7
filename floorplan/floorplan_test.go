package floorplan

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navengine-go/fusion"
	"navengine-go/route"
)

const editorJSON = `{
  "widthMeters": 20.0,
  "heightMeters": 12.5,
  "imageBase64": "iVBORw0K\nGgo=\n",
  "nodes": [{"id": 1, "x": 0.0, "y": 0.0}, {"id": 2, "x": 10.0, "y": 0.0}, {"id": 3, "x": 10.0, "y": 10.0}],
  "edges": [{"from": 1, "to": 2}, {"from": 2, "to": 3}],
  "routers": [
    {"id": 1, "x": 0.0, "y": 0.0, "ssid": "lab-ap-1"},
    {"id": 2, "x": 20.0, "y": 0.0, "ssid": "lab-ap-2"},
    {"id": 3, "x": 0.0, "y": 12.5, "ssid": "lab-ap-3"}
  ],
  "rooms": [{"id": 1, "x": 9.5, "y": 9.0, "name": "Kitchen"}]
}`

func sample() *Floorplan {
	return &Floorplan{
		WidthMeters:  20,
		HeightMeters: 12.5,
		Nodes:        []route.Node{{ID: 1}, {ID: 2, X: 10}, {ID: 3, X: 10, Y: 10}},
		Edges:        []route.Edge{{From: 1, To: 2}, {From: 2, To: 3}},
		Emitters: []fusion.Emitter{
			{ID: 1, Label: "lab-ap-1"},
			{ID: 2, X: 20, Label: "lab-ap-2"},
			{ID: 3, Y: 12.5, Label: "lab-ap-3"},
		},
		Rooms: []Room{{ID: 1, X: 9.5, Y: 9, Name: "Kitchen"}},
	}
}

func TestDecodeEditorLayout(t *testing.T) {
	f, err := Decode(strings.NewReader(editorJSON))
	require.NoError(t, err)

	want := sample()
	want.ImageBase64 = "iVBORw0K\nGgo=\n"
	if diff := cmp.Diff(want, f); diff != "" {
		t.Errorf("decoded floorplan mismatch (-want +got):\n%s", diff)
	}

	img, err := f.Image()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, img)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floor.json")
	f := sample()
	f.SetImage([]byte("not really a png"))
	require.NoError(t, f.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(f, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLoadRejectsExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floor.txt")
	require.NoError(t, os.WriteFile(path, []byte(editorJSON), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(strings.NewReader("{not json"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *Floorplan)
	}{
		{"negative width", func(f *Floorplan) { f.WidthMeters = -1 }},
		{"duplicate node", func(f *Floorplan) { f.Nodes = append(f.Nodes, route.Node{ID: 2}) }},
		{"nan node", func(f *Floorplan) { f.Nodes[0].X = math.NaN() }},
		{"dangling edge", func(f *Floorplan) { f.Edges = append(f.Edges, route.Edge{From: 3, To: 9}) }},
		{"self loop", func(f *Floorplan) { f.Edges = append(f.Edges, route.Edge{From: 3, To: 3}) }},
		{"duplicate router id", func(f *Floorplan) { f.Emitters[1].ID = 1 }},
		{"empty ssid", func(f *Floorplan) { f.Emitters[2].Label = "" }},
		{"duplicate ssid", func(f *Floorplan) { f.Emitters[2].Label = "lab-ap-1" }},
		{"infinite router", func(f *Floorplan) { f.Emitters[0].Y = math.Inf(-1) }},
		{"unnamed room", func(f *Floorplan) { f.Rooms[0].Name = "  " }},
		{"duplicate room name", func(f *Floorplan) {
			f.Rooms = append(f.Rooms, Room{ID: 2, Name: "kitchen"})
		}},
	}
	require.NoError(t, sample().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := sample()
			tt.mutate(f)
			assert.ErrorIs(t, f.Validate(), ErrInvalid)
		})
	}
}

func TestRoomLookup(t *testing.T) {
	f := sample()
	f.Rooms = append(f.Rooms, Room{ID: 2, Name: "Atrium"})

	r, ok := f.Room("kitchen")
	require.True(t, ok)
	assert.Equal(t, 1, r.ID)
	_, ok = f.Room("garage")
	assert.False(t, ok)
	assert.Equal(t, []string{"Atrium", "Kitchen"}, f.RoomNames())
}

func TestGraphAndNextID(t *testing.T) {
	f := sample()
	g, err := f.Graph()
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
	assert.Equal(t, 4, f.NextNodeID())

	f.Edges = append(f.Edges, route.Edge{From: 1, To: 8})
	_, err = f.Graph()
	assert.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, err, route.ErrUnknownNode)
}
