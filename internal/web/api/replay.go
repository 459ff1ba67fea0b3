package api

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gowvp/lumen/internal/conf"
	"github.com/gowvp/lumen/internal/core/replay"
	"github.com/gowvp/lumen/internal/core/session"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
)

// ReplayAPI 回放接口，同一时刻持有一个已加载的回放
type ReplayAPI struct {
	conf    *conf.Bootstrap
	session *session.Core
	cur     *currentReplay
}

type currentReplay struct {
	m        sync.Mutex
	player   *replay.Player
	lastPoll time.Time
}

func NewReplayAPI(cfg *conf.Bootstrap, core *session.Core) ReplayAPI {
	return ReplayAPI{conf: cfg, session: core, cur: &currentReplay{}}
}

func RegisterReplay(g gin.IRouter, api ReplayAPI, handler ...gin.HandlerFunc) {
	group := g.Group("/replays", handler...)
	group.POST("", web.WrapH(api.load))

	cur := group.Group("/current")
	cur.GET("", web.WrapH(api.summary))
	cur.DELETE("", web.WrapH(api.discard))
	cur.GET("/state", web.WrapH(api.state))
	cur.POST("/play", web.WrapH(api.play))
	cur.POST("/pause", web.WrapH(api.pause))
	cur.PUT("/seek", web.WrapH(api.seek))
	cur.PUT("/speed", web.WrapH(api.speed))
}

type loadReplayInput struct {
	Folder    string `json:"folder"`     // 会话目录
	SessionID string `json:"session_id"` // 或会话 id，二选一
}

type replaySummary struct {
	Folder       string  `json:"folder"`
	Converted    bool    `json:"converted"` // 位姿二进制由 CSV 转换生成
	Duration     float64 `json:"duration"`
	Frequency    int64   `json:"frequency"`
	PoseFrames   int     `json:"pose_frames"`
	MotionFrames int     `json:"motion_frames"`
	BoneCount    int32   `json:"bone_count"`
	MappedCount  int32   `json:"mapped_count"`
	Mapping      []int32 `json:"mapping"`
	Time         float64 `json:"t"`
	Speed        float64 `json:"speed"`
	Playing      bool    `json:"playing"`
}

type replayStateOutput struct {
	Time   float64            `json:"t"`
	Pose   replay.PoseState   `json:"pose"`
	Motion replay.MotionState `json:"motion"`
}

type replayStateInput struct {
	T *float64 `form:"t"` // 指定时间，不传时按播放进度推进
}

type seekInput struct {
	T float64 `json:"t"`
}

type speedInput struct {
	Speed float64 `json:"speed"`
}

// load 加载回放，替换当前回放
func (a ReplayAPI) load(c *gin.Context, in *loadReplayInput) (*replaySummary, error) {
	folder := in.Folder
	if in.SessionID != "" {
		s, err := a.session.GetSession(c.Request.Context(), in.SessionID)
		if err != nil {
			return nil, err
		}
		folder = s.Folder
	}
	if folder == "" {
		return nil, reason.ErrBadRequest.SetMsg("folder or session_id is required")
	}

	rs, err := replay.Load(folder, replay.Config{
		PoseFreeze:   a.conf.Replay.PoseFreezeThreshold.Duration(),
		MotionFreeze: a.conf.Replay.MotionFreeze(a.conf.Mocap.SampleInterval).Duration(),
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, replay.ErrMissingFile) {
			return nil, reason.ErrNotFound.Withf(`Load folder[%s] err[%s]`, folder, err.Error())
		}
		return nil, reason.ErrBadRequest.SetMsg(err.Error())
	}

	a.cur.m.Lock()
	a.cur.player = replay.NewPlayer(rs)
	a.cur.lastPoll = time.Now()
	a.cur.m.Unlock()
	return summarize(a.cur.player), nil
}

func (a ReplayAPI) current() (*replay.Player, error) {
	a.cur.m.Lock()
	defer a.cur.m.Unlock()
	if a.cur.player == nil {
		return nil, reason.ErrNotFound.SetMsg("没有已加载的回放")
	}
	return a.cur.player, nil
}

func summarize(p *replay.Player) *replaySummary {
	s := p.Session()
	t, speed, playing := p.State()
	return &replaySummary{
		Folder:       s.Folder,
		Converted:    s.Converted,
		Duration:     s.Duration(),
		Frequency:    s.MotionHeader.Frequency,
		PoseFrames:   len(s.Poses),
		MotionFrames: len(s.Motion),
		BoneCount:    s.MotionHeader.BoneCount,
		MappedCount:  s.MotionHeader.MappedCount,
		Mapping:      s.MotionHeader.BoneIDs,
		Time:         t,
		Speed:        speed,
		Playing:      playing,
	}
}

func (a ReplayAPI) summary(_ *gin.Context, _ *struct{}) (*replaySummary, error) {
	p, err := a.current()
	if err != nil {
		return nil, err
	}
	return summarize(p), nil
}

func (a ReplayAPI) discard(_ *gin.Context, _ *struct{}) (any, error) {
	a.cur.m.Lock()
	defer a.cur.m.Unlock()
	a.cur.player = nil
	return gin.H{}, nil
}

// state 指定 t 时只求值，否则按距上次轮询的墙钟时间推进播放
func (a ReplayAPI) state(_ *gin.Context, in *replayStateInput) (*replayStateOutput, error) {
	p, err := a.current()
	if err != nil {
		return nil, err
	}
	if in.T != nil {
		pose, motion := p.Session().Evaluate(*in.T)
		return &replayStateOutput{Time: *in.T, Pose: pose, Motion: motion}, nil
	}

	a.cur.m.Lock()
	now := time.Now()
	dt := now.Sub(a.cur.lastPoll)
	a.cur.lastPoll = now
	a.cur.m.Unlock()

	pose, motion := p.Advance(dt)
	t, _, _ := p.State()
	return &replayStateOutput{Time: t, Pose: pose, Motion: motion}, nil
}

func (a ReplayAPI) play(_ *gin.Context, _ *struct{}) (*replaySummary, error) {
	p, err := a.current()
	if err != nil {
		return nil, err
	}
	a.cur.m.Lock()
	a.cur.lastPoll = time.Now()
	a.cur.m.Unlock()
	p.Play()
	return summarize(p), nil
}

func (a ReplayAPI) pause(_ *gin.Context, _ *struct{}) (*replaySummary, error) {
	p, err := a.current()
	if err != nil {
		return nil, err
	}
	p.Pause()
	return summarize(p), nil
}

func (a ReplayAPI) seek(_ *gin.Context, in *seekInput) (*replaySummary, error) {
	p, err := a.current()
	if err != nil {
		return nil, err
	}
	p.Seek(in.T)
	return summarize(p), nil
}

func (a ReplayAPI) speed(_ *gin.Context, in *speedInput) (*replaySummary, error) {
	if in.Speed <= 0 {
		return nil, reason.ErrBadRequest.SetMsg("speed must be positive")
	}
	p, err := a.current()
	if err != nil {
		return nil, err
	}
	p.SetSpeed(in.Speed)
	return summarize(p), nil
}
