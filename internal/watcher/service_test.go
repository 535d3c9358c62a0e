package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ebycow/famista/internal/bus"
	"github.com/Ebycow/famista/internal/channel"
	"github.com/Ebycow/famista/internal/gate"
	"github.com/Ebycow/famista/internal/sampler"
	"github.com/Ebycow/famista/internal/scoreboard"
	"github.com/Ebycow/famista/pkg/protocol"
)

var layout = scoreboard.Layout{
	Balls: 0xC0C0, Strikes: 0xC0C2, Outs: 0xC0C3, Half: 0xC0C4,
	Bases: [3]channel.Address{0xD262, 0xD282, 0xD2A2},
	Home:  0xD81F, Away: 0xD83F,
	ScoreRepetitions: 3,
}

// memory is a tiny emulated RAM; missing addresses fail to read.
type memory struct {
	mu   sync.Mutex
	data map[channel.Address]byte
}

func (m *memory) set(vals map[channel.Address]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for a, v := range vals {
		m.data[a] = v
	}
}

func (m *memory) drop(a channel.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, a)
}

func (m *memory) read(_ context.Context, addr channel.Address, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		v, ok := m.data[addr+channel.Address(i)]
		if !ok {
			return nil, channel.ErrUnreadable
		}
		out[i] = v
	}
	return out, nil
}

type fakeLog struct {
	mu    sync.Mutex
	snaps []scoreboard.Snapshot
}

func (f *fakeLog) AppendSnapshot(_ context.Context, s scoreboard.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, s)
	return nil
}

func (f *fakeLog) RecentSnapshots(context.Context, int) ([]scoreboard.Snapshot, error) {
	return nil, nil
}

type rig struct {
	mem    *memory
	svc    *Service
	cell   *scoreboard.Cell
	log    *fakeLog
	events []bus.Event
	out    string
}

func newRig(t *testing.T) *rig {
	t.Helper()
	noSleep := func(context.Context, time.Duration) error { return nil }
	mem := &memory{data: map[channel.Address]byte{
		0xC0D3: 0x01, 0xC0CE: 0x1A,
		0xC0C0: 0, 0xC0C2: 0, 0xC0C3: 0, 0xC0C4: 0,
		0xD262: 0, 0xD282: 0, 0xD2A2: 0, 0xD81F: 0, 0xD83F: 0,
	}}
	smp := sampler.New(channel.Func(mem.read)).WithSleep(noSleep)
	det, err := gate.NewDetector([]gate.Condition{{Addr: 0xC0D3, Expect: 0x00}, {Addr: 0xC0CE, Expect: 0x14}}, 150*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	det.WithSleep(noSleep)

	r := &rig{mem: mem, cell: &scoreboard.Cell{}, log: &fakeLog{}, out: filepath.Join(t.TempDir(), "overlay.txt")}
	b := bus.New()
	b.Subscribe("test", func(ev bus.Event) { r.events = append(r.events, ev) })
	r.svc = NewService(Config{Interval: time.Millisecond, OutFile: r.out}, smp, det,
		scoreboard.NewAssembler(smp, layout), r.cell, b, r.log)
	return r
}

func (r *rig) pitchReady(ready bool) {
	if ready {
		r.mem.set(map[channel.Address]byte{0xC0D3: 0x00, 0xC0CE: 0x14})
	} else {
		r.mem.set(map[channel.Address]byte{0xC0D3: 0x01, 0xC0CE: 0x1A})
	}
}

func (r *rig) snapshots() []scoreboard.Snapshot {
	var out []scoreboard.Snapshot
	for _, ev := range r.events {
		if ev.Name == protocol.EventSnapshot {
			out = append(out, ev.Payload.(scoreboard.Snapshot))
		}
	}
	return out
}

func TestTick_EmitsOnRisingEdgeOnly(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	r.svc.tick(ctx) // fielding
	r.pitchReady(true)
	r.mem.set(map[channel.Address]byte{0xC0C0: 1, 0xD262: 0x40, 0xD81F: 2})
	r.svc.tick(ctx) // edge
	r.svc.tick(ctx) // still ready, no new read
	r.mem.set(map[channel.Address]byte{0xC0C0: 2})
	r.svc.tick(ctx) // still ready, change not observed

	snaps := r.snapshots()
	if len(snaps) != 1 {
		t.Fatalf("emitted %d snapshots, want 1", len(snaps))
	}
	want := "1 TOP  B/S/O=1/0/0  1B=● 2B=○ 3B=○  HOME=2 AWAY=0"
	if snaps[0].Line() != want {
		t.Errorf("line = %q, want %q", snaps[0].Line(), want)
	}

	r.pitchReady(false)
	r.svc.tick(ctx)
	r.pitchReady(true)
	r.svc.tick(ctx)
	if got := len(r.snapshots()); got != 2 {
		t.Fatalf("emitted %d snapshots after second edge, want 2", got)
	}

	cur, ok := r.cell.Get()
	if !ok || cur.Balls != 2 || cur.Seq != 2 {
		t.Errorf("cell = %+v", cur)
	}
	if len(r.log.snaps) != 2 {
		t.Errorf("logged %d snapshots", len(r.log.snaps))
	}
	data, err := os.ReadFile(r.out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "1 TOP  B/S/O=2/0/0") {
		t.Errorf("out file = %q", data)
	}

	st := r.svc.Stats()
	if st.Cycles != 6 || st.Edges != 2 || st.Emitted != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestTick_IncompleteKeepsPrevious(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	r.pitchReady(true)
	r.mem.set(map[channel.Address]byte{0xD81F: 3})
	r.svc.tick(ctx)

	r.pitchReady(false)
	r.svc.tick(ctx)
	r.mem.drop(0xC0C2)
	r.mem.set(map[channel.Address]byte{0xC0C0: 3})
	r.pitchReady(true)
	r.svc.tick(ctx)

	if got := len(r.snapshots()); got != 1 {
		t.Fatalf("emitted %d, want 1", got)
	}
	cur, _ := r.cell.Get()
	if cur.Balls != 0 || cur.Home != 3 {
		t.Errorf("cell changed by a discarded snapshot: %+v", cur)
	}
	if st := r.svc.Stats(); st.Incomplete != 1 {
		t.Errorf("incomplete = %d", st.Incomplete)
	}
}

func TestTick_IdenticalEdgesEmitOnce(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		r.pitchReady(true)
		r.svc.tick(ctx)
		r.pitchReady(false)
		r.svc.tick(ctx)
	}
	if got := len(r.snapshots()); got != 1 {
		t.Errorf("emitted %d, want 1", got)
	}
	if st := r.svc.Stats(); st.Edges != 3 {
		t.Errorf("edges = %d, want 3", st.Edges)
	}
}

func TestTick_GateEventsOnChange(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.svc.tick(ctx)
	r.svc.tick(ctx)
	r.pitchReady(true)
	r.svc.tick(ctx)
	r.svc.tick(ctx)

	gates := 0
	for _, ev := range r.events {
		if ev.Name == protocol.EventGate {
			gates++
		}
	}
	if gates != 2 {
		t.Errorf("gate events = %d, want 2", gates)
	}
	if g := r.cell.Gate(); !g.Ready || len(g.Values) != 2 {
		t.Errorf("gate status = %+v", g)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.svc.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for r.svc.Stats().Cycles < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
