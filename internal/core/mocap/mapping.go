package mocap

import (
	"slices"

	"github.com/gowvp/lumen/pkg/binfmt"
	"github.com/gowvp/lumen/pkg/shadow"
)

// nodeMapping 流内节点 id 到固定骨骼槽位的映射，每条流只推断一次
type nodeMapping struct {
	ids   []int32
	slots map[int32]int
	last  []binfmt.Pose
}

// inferMapping 取第一帧中 id 排序后的前 boneCount 个有效节点
// 有效节点不足时返回 nil，继续等待
func inferMapping(f *shadow.Frame, boneCount int) *nodeMapping {
	ids := f.PlausibleIDs()
	if len(ids) < boneCount {
		return nil
	}
	ids = slices.Clip(ids[:boneCount])
	m := nodeMapping{
		ids:   ids,
		slots: make(map[int32]int, boneCount),
		last:  make([]binfmt.Pose, boneCount),
	}
	for slot, id := range ids {
		m.slots[id] = slot
	}
	return &m
}

// fill 按映射填充骨骼槽位，本帧缺失的节点沿用上一次的位姿
func (m *nodeMapping) fill(f *shadow.Frame, bones []binfmt.Pose) []binfmt.Pose {
	for _, n := range f.Nodes {
		slot, ok := m.slots[n.ID]
		if !ok || !n.Plausible() {
			continue
		}
		m.last[slot] = binfmt.Pose{Position: n.Position, Rotation: n.Rotation}
	}
	return append(bones[:0], m.last...)
}
