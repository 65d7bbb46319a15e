// Package testutil provides shared test fixtures: the accident scenario
// table, a tile server serving solid PNG tiles, and assertion helpers.
package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alxndrch/accimap/internal/monitoring"
	"github.com/alxndrch/accimap/internal/table"
)

// ScenarioColumns is the header of ScenarioTable.
var ScenarioColumns = []string{"p1", "d", "e", "region", "p5a"}

// ScenarioTable returns five accidents: four in region A around two
// locations, one in region B without an x coordinate.
func ScenarioTable() *table.Table {
	return table.New(
		append([]string(nil), ScenarioColumns...),
		[][]string{
			{"1", "1", "1", "A", "1"},
			{"2", "2", "2", "A", "2"},
			{"3", "100", "100", "A", "1"},
			{"4", "101", "101", "A", "2"},
			{"5", "", "5", "B", "1"},
		},
	)
}

// RegionalTable returns n accidents in S-JTSK coordinates spread over
// Brno, all in region JHM, alternating in-town and out-of-town.
func RegionalTable(n int) *table.Table {
	rows := make([][]string, n)
	for i := range rows {
		x := -598000.0 + float64(i%10)*900
		y := -1161000.0 + float64(i/10)*700
		code := "1"
		if i%2 == 1 {
			code = "2"
		}
		rows[i] = []string{fmt.Sprint(i + 1), fmt.Sprintf("%.2f", x), fmt.Sprintf("%.2f", y), "JHM", code}
	}
	return table.New(append([]string(nil), ScenarioColumns...), rows)
}

// PNGTile encodes a solid size×size tile.
func PNGTile(c color.Color, size int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// TileServer serves the same solid 256px tile for every path.
type TileServer struct {
	*httptest.Server

	requests   atomic.Int64
	mu         sync.Mutex
	userAgents []string
}

// NewTileServer starts a tile server that is closed with the test.
func NewTileServer(t *testing.T, c color.Color) *TileServer {
	t.Helper()
	tile := PNGTile(c, 256)
	ts := &TileServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.requests.Add(1)
		ts.mu.Lock()
		ts.userAgents = append(ts.userAgents, r.Header.Get("User-Agent"))
		ts.mu.Unlock()
		w.Header().Set("Content-Type", "image/png")
		w.Write(tile)
	}))
	t.Cleanup(ts.Close)
	return ts
}

// Template returns an XYZ URL template pointing at the server.
func (ts *TileServer) Template() string {
	return ts.URL + "/{z}/{x}/{y}.png"
}

// Requests returns how many tiles were served.
func (ts *TileServer) Requests() int {
	return int(ts.requests.Load())
}

// UserAgents returns the User-Agent of every request in order.
func (ts *TileServer) UserAgents() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.userAgents...)
}

// MuteLogs silences the monitoring logger for the duration of the test.
func MuteLogs(t testing.TB) {
	t.Helper()
	prevLog, prevWarn := monitoring.Logf, monitoring.Warnf
	monitoring.SetLogger(nil)
	t.Cleanup(func() {
		monitoring.Logf, monitoring.Warnf = prevLog, prevWarn
	})
}

// LogRecorder collects formatted log lines.
type LogRecorder struct {
	mu    sync.Mutex
	lines []string
}

// Lines returns a copy of the recorded lines.
func (r *LogRecorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// CaptureLogs routes the monitoring logger into a recorder until the test
// ends. Warnings are recorded with a "warning: " prefix.
func CaptureLogs(t testing.TB) *LogRecorder {
	t.Helper()
	prevLog, prevWarn := monitoring.Logf, monitoring.Warnf
	rec := &LogRecorder{}
	monitoring.SetLogger(func(format string, v ...interface{}) {
		rec.mu.Lock()
		rec.lines = append(rec.lines, fmt.Sprintf(format, v...))
		rec.mu.Unlock()
	})
	t.Cleanup(func() {
		monitoring.Logf, monitoring.Warnf = prevLog, prevWarn
	})
	return rec
}

// AssertPNG fails the test unless data is a PNG and returns its header.
func AssertPNG(t testing.TB, data []byte) image.Config {
	t.Helper()
	if len(data) == 0 {
		t.Fatal("expected PNG data, got empty output")
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("not a PNG: %v", err)
	}
	return cfg
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
