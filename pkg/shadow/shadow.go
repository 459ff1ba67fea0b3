// Package shadow is a client for the motion-capture streaming service.
//
// Every message on the wire is a big-endian uint32 length followed by the
// payload. Payloads starting with '<' are XML (service description, errors);
// everything else is a binary frame: a sequence of elements
//
//	key:u32 LE | count:u32 LE | count × f32 LE
//
// After the subscription request each node element carries 8 values: the
// global rotation quaternion Gq (w, x, y, z) followed by the position
// channel c (x, y, z, weight).
package shadow

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// MaxMessageSize bounds a single message, larger prefixes mean the
	// stream lost framing.
	MaxMessageSize = 1 << 20

	// NodeValues is the number of floats per node with the Gq+c subscription.
	NodeValues = 8

	elementHeaderSize = 8
)

var (
	ErrMessageTooLarge = errors.New("shadow: message too large")
	ErrMalformed       = errors.New("shadow: malformed frame")
)

// Node is one tracked entity decoded from a binary frame.
type Node struct {
	ID       int32
	Rotation mgl32.Quat
	Position mgl32.Vec3
	Weight   float32
}

// Plausible reports whether the node carries usable data.
func (n Node) Plausible() bool {
	vals := [...]float32{
		n.Rotation.W, n.Rotation.V[0], n.Rotation.V[1], n.Rotation.V[2],
		n.Position[0], n.Position[1], n.Position[2], n.Weight,
	}
	for _, v := range vals {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return n.Rotation.Len() > 1e-3
}

// Frame is one decoded binary message.
type Frame struct {
	Nodes []Node
	// Skipped counts elements that did not have NodeValues values.
	Skipped int
}

// PlausibleIDs returns the ids of plausible nodes, sorted ascending.
func (f *Frame) PlausibleIDs() []int32 {
	ids := make([]int32, 0, len(f.Nodes))
	for _, n := range f.Nodes {
		if n.Plausible() {
			ids = append(ids, n.ID)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// DecodeFrame decodes a binary payload into f, reusing f.Nodes.
func DecodeFrame(b []byte, f *Frame) error {
	f.Nodes = f.Nodes[:0]
	f.Skipped = 0
	le := binary.LittleEndian
	for len(b) > 0 {
		if len(b) < elementHeaderSize {
			return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(b))
		}
		key := le.Uint32(b)
		count := le.Uint32(b[4:])
		b = b[elementHeaderSize:]
		if uint64(count)*4 > uint64(len(b)) {
			return fmt.Errorf("%w: element %d declares %d values, %d bytes left", ErrMalformed, key, count, len(b))
		}
		if count != NodeValues {
			f.Skipped++
			b = b[count*4:]
			continue
		}
		var v [NodeValues]float32
		for i := range v {
			v[i] = math.Float32frombits(le.Uint32(b[i*4:]))
		}
		b = b[NodeValues*4:]
		f.Nodes = append(f.Nodes, Node{
			ID:       int32(key),
			Rotation: mgl32.Quat{W: v[0], V: mgl32.Vec3{v[1], v[2], v[3]}},
			Position: mgl32.Vec3{v[4], v[5], v[6]},
			Weight:   v[7],
		})
	}
	return nil
}

// AppendElement encodes one raw element.
func AppendElement(b []byte, key uint32, values []float32) []byte {
	b = binary.LittleEndian.AppendUint32(b, key)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(values)))
	for _, v := range values {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}
	return b
}

// AppendNode encodes n in the Gq+c layout.
func AppendNode(b []byte, n Node) []byte {
	return AppendElement(b, uint32(n.ID), []float32{
		n.Rotation.W, n.Rotation.V[0], n.Rotation.V[1], n.Rotation.V[2],
		n.Position[0], n.Position[1], n.Position[2], n.Weight,
	})
}
