package session

import (
	"github.com/gowvp/lumen/internal/core/capture"
	"github.com/gowvp/lumen/internal/core/mocap"
	"github.com/ixugo/goddd/pkg/orm"
)

// 会话状态
const (
	StatusActive      = "active"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// Session 会话目录
type Session struct {
	ID                  string    `gorm:"primaryKey" json:"id"`
	ParticipantID       string    `gorm:"column:participant_id;index;notNull" json:"participant_id"`         // 被试编号
	Condition           string    `gorm:"column:condition;notNull" json:"condition"`                         // 实验条件
	Note                string    `gorm:"column:note;notNull" json:"note"`                                   // 备注
	Folder              string    `gorm:"column:folder;notNull" json:"folder"`                               // 会话目录绝对路径
	Status              string    `gorm:"column:status;index;notNull" json:"status"`                         // active | completed | failed | interrupted
	Error               string    `gorm:"column:error;notNull" json:"error,omitempty"`                       // 结束时的错误
	StartedAt           orm.Time  `gorm:"column:started_at;index;notNull" json:"started_at"`                 // 开始时间
	EndedAt             *orm.Time `gorm:"column:ended_at" json:"ended_at,omitempty"`                         // 结束时间
	Duration            float64   `gorm:"column:duration;notNull" json:"duration"`                           // 仿真时长（秒）
	FramesWritten       int64     `gorm:"column:frames_written;notNull" json:"frames_written"`               // 位姿帧写入数
	FramesDropped       int64     `gorm:"column:frames_dropped;notNull" json:"frames_dropped"`               // 位姿帧丢弃数
	MotionFramesWritten int64     `gorm:"column:motion_frames_written;notNull" json:"motion_frames_written"` // 动捕帧写入数
	MotionFramesDropped int64     `gorm:"column:motion_frames_dropped;notNull" json:"motion_frames_dropped"` // 动捕帧丢弃数
	WriteErrors         int64     `gorm:"column:write_errors;notNull" json:"write_errors"`                   // 写入错误数
	MotionStatus        string    `gorm:"column:motion_status;notNull" json:"motion_status,omitempty"`       // 动捕连接最终状态
	CreatedAt           orm.Time  `gorm:"column:created_at;notNull" json:"created_at"`
	UpdatedAt           orm.Time  `gorm:"column:updated_at;notNull" json:"updated_at"`
}

// TableName database table name
func (*Session) TableName() string {
	return "sessions"
}

// settle 会话结束时写入统计
func (s *Session) settle(cs capture.Stats, ms *mocap.Stats, simTime float64) {
	s.Duration = simTime
	s.FramesWritten = int64(cs.FramesWritten)
	s.FramesDropped = int64(cs.FramesDropped)
	s.WriteErrors = int64(cs.WriteErrors)
	if ms != nil {
		s.MotionFramesWritten = int64(ms.FramesWritten)
		s.MotionFramesDropped = int64(ms.FramesDropped)
		s.WriteErrors += int64(ms.WriteErrors)
		s.MotionStatus = ms.Status.String()
	}
}
