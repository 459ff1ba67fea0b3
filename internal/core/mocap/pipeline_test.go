package mocap

import (
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gowvp/lumen/pkg/binfmt"
	"github.com/gowvp/lumen/pkg/shadow"
)

// fakeService accepts connections, reads the subscription and greets.
type fakeService struct {
	ln    net.Listener
	conns chan net.Conn
}

func startService(t *testing.T) *fakeService {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := fakeService{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			c := shadow.NewClient(conn, time.Second)
			if _, err := c.ReadMessage(); err != nil {
				conn.Close()
				continue
			}
			greet, _ := shadow.DescriptionMessage(shadow.Description{Service: "fake", Version: "1"})
			_ = shadow.WriteMessage(conn, greet)
			s.conns <- conn
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return &s
}

func (s *fakeService) hostPort(t *testing.T) (string, int) {
	host, port, err := net.SplitHostPort(s.ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	n, _ := strconv.Atoi(port)
	return host, n
}

func (s *fakeService) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline never connected")
		return nil
	}
}

func node(id int32, x float32) shadow.Node {
	return shadow.Node{
		ID:       id,
		Rotation: mgl32.QuatRotate(x, mgl32.Vec3{0, 0, 1}),
		Position: mgl32.Vec3{x, float32(id), 0},
		Weight:   1,
	}
}

func sendFrame(t *testing.T, conn net.Conn, nodes ...shadow.Node) {
	t.Helper()
	var b []byte
	for _, n := range nodes {
		b = shadow.AppendNode(b, n)
	}
	if err := shadow.WriteMessage(conn, b); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "p_Shadow.bin")
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { file.Close() })
	p, err := NewPipeline(cfg, file)
	if err != nil {
		t.Fatal(err)
	}
	return p, path
}

func readStream(t *testing.T, path string) (binfmt.MotionHeader, []binfmt.MotionFrame) {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	h, frames, err := binfmt.ReadMotionStream(file)
	if err != nil {
		t.Fatal(err)
	}
	return h, frames
}

func TestPipelineMapsAndWrites(t *testing.T) {
	svc := startService(t)
	host, port := svc.hostPort(t)
	p, path := newTestPipeline(t, Config{
		Host: host, Port: port, BoneCount: 3, RingCapacity: 64,
		RetryDelay: 10 * time.Millisecond, FlushInterval: 10 * time.Millisecond,
	})
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(); err != ErrStarted {
		t.Fatalf("second Start err = %v", err)
	}
	conn := svc.accept(t)

	// not enough plausible nodes yet
	sendFrame(t, conn, node(7, 0.1), node(12, 0.2))
	waitFor(t, "unmapped frame", func() bool { return p.Stats().FramesUnmapped == 1 })
	if p.Status() != StatusMappingPending {
		t.Fatalf("status = %s", p.Status())
	}

	for i := range 10 {
		x := float32(i) / 10
		sendFrame(t, conn, node(40, x), node(99, x), node(7, x), node(12, x))
	}
	waitFor(t, "frames written", func() bool { return p.Stats().FramesWritten == 10 })

	s := p.Stats()
	if s.Status != StatusStreaming || !slices.Equal(s.Mapping, []int32{7, 12, 40}) || s.Service != "fake" {
		t.Fatalf("stats = %+v", s)
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}
	if p.Status() != StatusStopped {
		t.Fatalf("status after Stop = %s", p.Status())
	}

	h, frames := readStream(t, path)
	if h.MappedCount != 3 || !slices.Equal(h.BoneIDs, []int32{7, 12, 40}) {
		t.Fatalf("header = %+v", h)
	}
	if len(frames) != 10 {
		t.Fatalf("frames = %d", len(frames))
	}
	last := frames[9]
	if last.Bones[0].Position != (mgl32.Vec3{0.9, 7, 0}) || last.Bones[2].Position != (mgl32.Vec3{0.9, 40, 0}) {
		t.Fatalf("bones = %+v", last.Bones)
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].Tick < frames[i-1].Tick {
			t.Fatalf("ticks out of order at %d", i)
		}
	}
}

func TestPipelineMalformedMessageIsSkipped(t *testing.T) {
	svc := startService(t)
	host, port := svc.hostPort(t)
	p, _ := newTestPipeline(t, Config{Host: host, Port: port, BoneCount: 1, RingCapacity: 8, FlushInterval: 10 * time.Millisecond})
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()
	conn := svc.accept(t)

	if err := shadow.WriteMessage(conn, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	sendFrame(t, conn, node(1, 0))
	waitFor(t, "frame after malformed one", func() bool { return p.Stats().FramesWritten == 1 })
	if s := p.Stats(); s.Malformed != 1 || len(s.RecentErrors) != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestPipelineGivesUpAfterMaxRetries(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	p, _ := newTestPipeline(t, Config{
		Host: "127.0.0.1", Port: addr.Port, BoneCount: 2,
		DialTimeout: 100 * time.Millisecond, RetryDelay: time.Millisecond, MaxRetryDelay: 4 * time.Millisecond,
		MaxRetries: 3,
	})
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "terminal error", func() bool { return p.Status() == StatusError })
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}
	s := p.Stats()
	if s.Status != StatusError || s.Reconnects != 2 || len(s.RecentErrors) != 3 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestPipelineStaleStream(t *testing.T) {
	svc := startService(t)
	host, port := svc.hostPort(t)
	p, _ := newTestPipeline(t, Config{
		Host: host, Port: port, BoneCount: 1, RingCapacity: 8,
		StaleTimeout: 40 * time.Millisecond, FlushInterval: 10 * time.Millisecond,
	})
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()
	conn := svc.accept(t)

	sendFrame(t, conn, node(1, 0))
	waitFor(t, "streaming", func() bool { return p.Status() == StatusStreaming })
	waitFor(t, "stale", func() bool { return p.Status() == StatusDisconnected })
	sendFrame(t, conn, node(1, 0.5))
	waitFor(t, "recovered", func() bool { return p.Status() == StatusStreaming })
}

func TestPipelineBacklogWithoutConsumer(t *testing.T) {
	p, path := newTestPipeline(t, Config{Host: "127.0.0.1", Port: 1, BoneCount: 2, RingCapacity: 64, MaxRetries: 1})
	for i := range 100 {
		p.ring.TryPush(binfmt.MotionFrame{Tick: int64(i), Bones: make([]binfmt.Pose, 2)})
	}
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}
	s := p.Stats()
	if s.FramesWritten+s.FramesDropped != 100 || s.FramesWritten != 64 {
		t.Fatalf("written %d dropped %d", s.FramesWritten, s.FramesDropped)
	}
	h, frames := readStream(t, path)
	if len(frames) != 64 || h.MappedCount != 0 || h.BoneIDs[0] != binfmt.UnmappedBone {
		t.Fatalf("header %+v frames %d", h, len(frames))
	}
}

func TestBackoff(t *testing.T) {
	p, _ := newTestPipeline(t, Config{BoneCount: 1, RetryDelay: time.Second, MaxRetryDelay: 5 * time.Second})
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.backoff(i + 1); got != w {
			t.Fatalf("backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestNewPipelineRejectsBoneCount(t *testing.T) {
	file, err := os.Create(filepath.Join(t.TempDir(), "x.bin"))
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	if _, err := NewPipeline(Config{BoneCount: 0}, file); err == nil {
		t.Fatal("zero bones accepted")
	}
}
