package monitor

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pipetbot-go/pkg/metrics"
)

func testStatus() Status {
	return Status{
		State:    "running",
		Protocol: "burden_day_5",
		Step:     "transfer cells",
		Instruments: []InstrumentStatus{
			{Name: "left", Model: "p300_single", Mount: "left", HasTip: true, HeldVolume: 17.6},
		},
		Racks: []RackStatus{
			{Name: "tiprack-300", Remaining: 95, Capacity: 96},
		},
		Refills: 1,
		Time:    time.Now(),
	}
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	registry := metrics.NewRegistry()
	rm := metrics.NewRunMetrics(registry)
	rm.RecordTransfer("left", 100)

	s := New(":0", testStatus, registry)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Stop()
	})
	return s, ts
}

func TestStatusEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var got Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != "running" || got.Step != "transfer cells" {
		t.Errorf("status = %+v", got)
	}
	if len(got.Racks) != 1 || got.Racks[0].Remaining != 95 {
		t.Errorf("racks = %+v", got.Racks)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), `pipetbot_transfers_total{instrument="left"} 1`) {
		t.Errorf("metrics output missing transfer counter:\n%s", body)
	}
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
}

func TestEventFeed(t *testing.T) {
	s, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	defer conn.Close()

	// The subscriber registers before the handler returns; poll briefly
	// so Publish sees it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.clientMu.RLock()
		n := len(s.clients)
		s.clientMu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("feed client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Publish("transfer", map[string]any{"dest": "D6", "volume": 176.622})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Kind != "transfer" || got.Fields["dest"] != "D6" {
		t.Errorf("event = %+v", got)
	}
}
