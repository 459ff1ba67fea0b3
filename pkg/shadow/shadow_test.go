package shadow

import (
	"errors"
	"io"
	"math"
	"net"
	"slices"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

func testNode(id int32) Node {
	return Node{
		ID:       id,
		Rotation: mgl32.QuatRotate(float32(id)/10, mgl32.Vec3{0, 1, 0}),
		Position: mgl32.Vec3{float32(id), 1.5, -float32(id)},
		Weight:   1,
	}
}

func TestDecodeFrame(t *testing.T) {
	var b []byte
	b = AppendNode(b, testNode(12))
	b = AppendElement(b, 99, []float32{1, 2, 3})
	b = AppendNode(b, testNode(3))

	var f Frame
	if err := DecodeFrame(b, &f); err != nil {
		t.Fatal(err)
	}
	if len(f.Nodes) != 2 || f.Skipped != 1 {
		t.Fatalf("nodes=%d skipped=%d", len(f.Nodes), f.Skipped)
	}
	if f.Nodes[0] != testNode(12) || f.Nodes[1] != testNode(3) {
		t.Fatalf("decoded %+v", f.Nodes)
	}
	if ids := f.PlausibleIDs(); !slices.Equal(ids, []int32{3, 12}) {
		t.Fatalf("PlausibleIDs() = %v", ids)
	}
}

func TestDecodeFrameMalformed(t *testing.T) {
	full := AppendNode(nil, testNode(1))
	cases := []struct {
		name string
		b    []byte
	}{
		{"short element header", full[:5]},
		{"short values", full[:len(full)-2]},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var f Frame
			if err := DecodeFrame(tc.b, &f); !errors.Is(err, ErrMalformed) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestPlausible(t *testing.T) {
	n := testNode(1)
	if !n.Plausible() {
		t.Fatal("valid node not plausible")
	}
	n.Position[1] = float32(math.NaN())
	if n.Plausible() {
		t.Fatal("NaN position accepted")
	}
	if (Node{ID: 2}).Plausible() {
		t.Fatal("zero rotation accepted")
	}
}

func TestClientHandshakeAndFrames(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()

	done := make(chan error, 1)
	go func() {
		done <- func() error {
			c := NewClient(srv, 0)
			req, err := c.ReadMessage()
			if err != nil {
				return err
			}
			ch, err := ParseSubscription(req)
			if err != nil {
				return err
			}
			if !slices.Equal(ch, []string{"Gq", "c"}) {
				return errors.New("unexpected channels")
			}
			greet, err := DescriptionMessage(Description{Service: "mocap", Version: "2.1"})
			if err != nil {
				return err
			}
			if err := WriteMessage(srv, greet); err != nil {
				return err
			}
			for i := range 3 {
				var b []byte
				b = AppendNode(b, testNode(int32(i)))
				if err := WriteMessage(srv, b); err != nil {
					return err
				}
			}
			return nil
		}()
	}()

	c := NewClient(cli, time.Second)
	defer c.Close()
	if err := c.Subscribe(); err != nil {
		t.Fatal(err)
	}
	var f Frame
	for i := range 3 {
		if err := c.ReadFrame(&f); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if len(f.Nodes) != 1 || f.Nodes[0].ID != int32(i) {
			t.Fatalf("frame %d: %+v", i, f.Nodes)
		}
	}
	if d := c.Description(); d.Service != "mocap" || d.Version != "2.1" {
		t.Fatalf("description = %+v", d)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	srv.Close()
	if err := c.ReadFrame(&f); !errors.Is(err, io.EOF) {
		t.Fatalf("after close err = %v", err)
	}
}

func TestReadMessageTooLarge(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()
	go func() {
		_, _ = srv.Write([]byte{0xff, 0xff, 0xff, 0xff})
	}()
	c := NewClient(cli, time.Second)
	defer c.Close()
	if _, err := c.ReadMessage(); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("err = %v", err)
	}
}
