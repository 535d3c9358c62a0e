package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ebycow/famista/internal/bus"
	"github.com/Ebycow/famista/internal/sampler"
	"github.com/Ebycow/famista/internal/scoreboard"
	"github.com/Ebycow/famista/pkg/protocol"
)

func newTestServer(t *testing.T, opts Options) (*Server, *scoreboard.Cell, *httptest.Server) {
	t.Helper()
	cell := &scoreboard.Cell{}
	s := NewServer(opts, cell)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, cell, ts
}

func getState(t *testing.T, url string) (protocol.StateView, *http.Response) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var v protocol.StateView
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return v, resp
}

func TestState_BeforeAndAfterSnapshot(t *testing.T) {
	_, cell, ts := newTestServer(t, Options{HomeName: "Giants", AwayName: "Tigers"})

	v, resp := getState(t, ts.URL+"/state.json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Cache-Control") != "no-store, no-cache, must-revalidate, max-age=0" {
		t.Errorf("Cache-Control = %q", resp.Header.Get("Cache-Control"))
	}
	if v.Inning != 1 || v.Side != "TOP" || v.Updated != nil || v.HomeName != "Giants" {
		t.Errorf("initial state = %+v", v)
	}

	cell.Set(scoreboard.Snapshot{
		Balls: 2, Strikes: 1, Outs: 1, Half: 5, Inning: 3, Side: scoreboard.Bottom,
		Bases: [3]bool{true, false, true}, Home: 4, Away: 3, Seq: 7, At: time.Now(),
	})
	cell.SetGate([]sampler.ByteValue{sampler.Value(0), sampler.Unreadable}, false, time.Now())

	v, _ = getState(t, ts.URL+"/state.json")
	if v.Seq != 7 || v.Inning != 3 || v.Side != "BOTTOM" || !v.On1 || v.On2 || !v.On3 || v.Home != 4 || v.Away != 3 || v.Updated == nil {
		t.Errorf("state = %+v", v)
	}
	if len(v.Gate.Hex) != 2 || v.Gate.Hex[0] != "00" || v.Gate.Hex[1] != "--" {
		t.Errorf("gate = %+v", v.Gate)
	}
}

func TestAuth(t *testing.T) {
	_, _, ts := newTestServer(t, Options{Token: "s3cret"})

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no token", "/state.json", "", http.StatusUnauthorized},
		{"wrong token", "/state.json?token=nope", "", http.StatusUnauthorized},
		{"query token", "/state.json?token=s3cret", "", http.StatusOK},
		{"bearer token", "/state.json", "Bearer s3cret", http.StatusOK},
		{"page needs token", "/overlay.html", "", http.StatusUnauthorized},
		{"health is open", "/healthz", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestOverlayPage(t *testing.T) {
	_, _, ts := newTestServer(t, Options{})
	for _, path := range []string{"/", "/overlay.html"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
			t.Errorf("%s: status %d, type %q", path, resp.StatusCode, resp.Header.Get("Content-Type"))
		}
	}
	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	_, _, ts := newTestServer(t, Options{RateLimitRPM: 1})
	limited := false
	for i := 0; i < 20; i++ {
		resp, err := http.Get(ts.URL + "/state.json")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("expected 429 after the burst")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := newRateLimiter(60, 1)
	rl.allow("10.0.0.1")
	rl.cleanup(time.Now().Add(time.Minute))
	n := 0
	rl.limiters.Range(func(any, any) bool { n++; return true })
	if n != 0 {
		t.Errorf("entries after cleanup = %d", n)
	}
}

func TestStream(t *testing.T) {
	s, cell, ts := newTestServer(t, Options{})
	b := bus.New()
	b.Subscribe("overlay", s.HandleEvent)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var hello protocol.EventFrame
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatal(err)
	}
	if hello.Event != protocol.EventHello {
		t.Fatalf("first frame = %q", hello.Event)
	}

	// The client is registered once the hello went out; wait for it.
	deadline := time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		n := len(s.clients)
		s.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap := scoreboard.Snapshot{Inning: 2, Side: scoreboard.Top, Half: 2, Home: 1, Seq: 3, At: time.Now()}
	cell.Set(snap)
	b.Broadcast(bus.Event{Name: protocol.EventSnapshot, Payload: snap})

	var raw struct {
		Event   string             `json:"event"`
		Seq     uint64             `json:"seq"`
		Payload protocol.StateView `json:"payload"`
	}
	if err := conn.ReadJSON(&raw); err != nil {
		t.Fatal(err)
	}
	if raw.Event != protocol.EventSnapshot || raw.Seq != 3 || raw.Payload.Inning != 2 || raw.Payload.Home != 1 {
		t.Errorf("snapshot frame = %+v", raw)
	}
}
