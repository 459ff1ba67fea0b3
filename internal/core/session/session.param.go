package session

import (
	"github.com/gowvp/lumen/internal/core/capture"
	"github.com/gowvp/lumen/internal/core/mocap"
	"github.com/ixugo/goddd/pkg/web"
)

type FindSessionInput struct {
	web.PagerFilter
	ParticipantID string `form:"participant_id"` // 被试编号
	Status        string `form:"status"`         // 会话状态
}

type BeginInput struct {
	ParticipantID string `json:"participant_id"` // 被试编号，用于目录命名
	Condition     string `json:"condition"`      // 实验条件
	Note          string `json:"note"`           // 备注
}

type CaptureInput struct {
	Event string `json:"event"` // 事件标签
}

// StatusOutput 诊断信息
type StatusOutput struct {
	Active  bool           `json:"active"`
	Session *Session       `json:"session,omitempty"`
	SimTime float64        `json:"sim_time"`
	Capture capture.Stats  `json:"capture"`
	Mocap   *mocap.Stats   `json:"mocap,omitempty"`
	Sample  capture.Sample `json:"sample"`
	DataDir string         `json:"data_dir"`
}
