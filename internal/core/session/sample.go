package session

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gowvp/lumen/internal/core/capture"
)

// sampleState 宿主引擎推送的最新状态，采集线程每帧整体复制
type sampleState struct {
	m sync.RWMutex
	v capture.Sample
}

var _ capture.Sampler = (*sampleState)(nil)

func newSampleState() *sampleState {
	s := sampleState{}
	s.v.Head.Rotation = mgl32.QuatIdent()
	s.v.LeftHand.Rotation = mgl32.QuatIdent()
	s.v.RightHand.Rotation = mgl32.QuatIdent()
	return &s
}

func (s *sampleState) Sample() capture.Sample {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.v
}

func (s *sampleState) set(v capture.Sample) {
	s.m.Lock()
	s.v = v
	s.m.Unlock()
}
