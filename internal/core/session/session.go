package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gowvp/lumen/internal/core/capture"
	"github.com/gowvp/lumen/internal/core/mocap"
	"github.com/gowvp/lumen/internal/core/replay"
	"github.com/gowvp/lumen/pkg/binfmt"
	"github.com/gowvp/lumen/pkg/timesync"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/jinzhu/copier"
	"gorm.io/gorm"
)

// SessionStorer Instantiation interface
type SessionStorer interface {
	Find(context.Context, *[]*Session, orm.Pager, ...orm.QueryOption) (int64, error)
	Get(context.Context, *Session, ...orm.QueryOption) error
	Add(context.Context, *Session) error
	Edit(context.Context, *Session, func(*Session), ...orm.QueryOption) error
	Del(context.Context, *Session, ...orm.QueryOption) error
	Count(context.Context, ...orm.QueryOption) (int64, error)

	Session(context.Context, ...func(*gorm.DB) error) error
}

// active 进行中的会话
type active struct {
	row    *Session
	sync   *timesync.Sync
	pipe   *mocap.Pipeline
	motion *os.File
	log    *slog.Logger
	cancel context.CancelFunc
}

// Begin 创建会话目录并启动采集，已有活动会话时拒绝
func (c *Core) Begin(ctx context.Context, in *BeginInput) (*Session, error) {
	participant := sanitize(in.ParticipantID)
	if participant == "" {
		return nil, reason.ErrBadRequest.SetMsg("participant_id is required")
	}

	c.m.Lock()
	defer c.m.Unlock()
	if c.cur != nil {
		return nil, reason.ErrBadRequest.SetMsg("会话进行中: " + c.cur.row.ID)
	}

	root := c.DataDir()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, reason.ErrServer.SetMsg(err.Error())
	}
	if err := c.checkDisk(ctx, root); err != nil {
		return nil, err
	}

	now := time.Now()
	base := participant + "_" + now.Format("20060102_150405")
	folder := filepath.Join(root, base)
	if err := os.Mkdir(folder, 0o755); err != nil {
		return nil, reason.ErrServer.SetMsg(err.Error())
	}

	var row Session
	if err := copier.Copy(&row, in); err != nil {
		slog.ErrorContext(ctx, "Copy", "err", err)
	}
	row.ID = uuid.NewString()
	row.ParticipantID = participant
	row.Folder = folder
	row.Status = StatusActive
	row.StartedAt = orm.Time{Time: now}
	row.CreatedAt = orm.Now()
	row.UpdatedAt = orm.Now()

	cur := active{
		row:  &row,
		sync: timesync.New(c.clock.Frequency()),
		log:  c.log.With("session", row.ID, "participant", participant),
	}
	sinks, err := c.openSinks(folder, base)
	if err != nil {
		_ = os.RemoveAll(folder)
		return nil, reason.ErrServer.SetMsg(err.Error())
	}
	openMotion := c.writeEmptyMotion
	if c.conf.Mocap.Enabled {
		openMotion = func(folder, base string) error { return c.openPipeline(&cur, folder, base) }
	}
	if err := openMotion(folder, base); err != nil {
		closeSinks(sinks)
		_ = os.RemoveAll(folder)
		return nil, reason.ErrServer.SetMsg(err.Error())
	}

	// 采集线程先发布 (now, 0) 锚点，动捕帧的仿真时间以此为基准
	if err := c.recorder.Begin(capture.Target{
		ParticipantID: participant,
		SessionID:     row.ID,
		Sync:          cur.sync,
		Sinks:         sinks,
	}); err != nil {
		closeSinks(sinks)
		cur.stopPipeline()
		_ = os.RemoveAll(folder)
		return nil, reason.ErrServer.SetMsg(err.Error())
	}
	if cur.pipe != nil {
		if err := cur.pipe.Start(); err != nil {
			cur.log.ErrorContext(ctx, "mocap start", "err", err)
		}
	}

	if err := c.store.Session().Add(ctx, &row); err != nil {
		_ = c.recorder.End()
		cur.stopPipeline()
		_ = os.RemoveAll(folder)
		return nil, reason.ErrDB.Withf(`Add err[%s]`, err.Error())
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	cur.cancel = cancel
	c.cur = &cur
	if rate := c.conf.Capture.FrameRate; rate > 0 {
		go c.frameLoop(loopCtx, &cur, rate)
	}
	cur.log.InfoContext(ctx, "session started", "folder", folder, "mocap", cur.pipe != nil)
	out := row
	return &out, nil
}

func (c *Core) openSinks(folder, base string) ([]capture.Sink, error) {
	csvSink, err := capture.NewCSVSink(filepath.Join(folder, base+replay.PoseCSVSuffix))
	if err != nil {
		return nil, err
	}
	sinks := []capture.Sink{csvSink}
	if c.conf.Capture.WriteBinary {
		xri, err := capture.NewXRISink(filepath.Join(folder, base+replay.PoseBinSuffix))
		if err != nil {
			closeSinks(sinks)
			return nil, err
		}
		sinks = append(sinks, xri)
	}
	return sinks, nil
}

func closeSinks(sinks []capture.Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}

func (c *Core) openPipeline(cur *active, folder, base string) error {
	file, err := os.Create(filepath.Join(folder, base+replay.MotionBinSuffix))
	if err != nil {
		return err
	}
	mc := c.conf.Mocap
	pipe, err := mocap.NewPipeline(mocap.Config{
		Host:            mc.Host,
		Port:            mc.Port,
		BoneCount:       mc.BoneCount,
		RingCapacity:    mc.RingCapacity,
		DialTimeout:     mc.DialTimeout.Duration(),
		ReadTimeout:     mc.ReadTimeout.Duration(),
		RetryDelay:      mc.RetryDelay.Duration(),
		MaxRetryDelay:   mc.MaxRetryDelay.Duration(),
		MaxRetries:      mc.MaxRetries,
		FlushInterval:   c.conf.Capture.FlushInterval.Duration(),
		StaleTimeout:    mc.StaleTimeout.Duration(),
		DropLogInterval: c.conf.Capture.DropLogInterval.Duration(),
	}, file,
		mocap.WithClock(c.clock),
		mocap.WithSync(cur.sync),
		mocap.WithLogger(cur.log),
	)
	if err != nil {
		file.Close()
		return err
	}
	cur.pipe = pipe
	cur.motion = file
	return nil
}

// writeEmptyMotion 未启用动捕时写出只有文件头的动捕流，回放据此取得时钟频率
func (c *Core) writeEmptyMotion(folder, base string) (err error) {
	file, err := os.Create(filepath.Join(folder, base+replay.MotionBinSuffix))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()
	w, err := binfmt.NewMotionWriter(file, c.conf.Mocap.BoneCount, c.clock.Frequency())
	if err != nil {
		return err
	}
	return w.Finish()
}

// stopPipeline 停止动捕采集并关闭文件，未创建时直接返回
func (a *active) stopPipeline() error {
	if a.pipe == nil {
		return nil
	}
	return errors.Join(a.pipe.Stop(), a.motion.Close())
}

// End 结束会话，等待写线程与动捕流水线写完后记录统计
func (c *Core) End(ctx context.Context) (*Session, error) {
	c.m.Lock()
	defer c.m.Unlock()
	cur := c.cur
	if cur == nil {
		return nil, reason.ErrBadRequest.SetMsg("没有进行中的会话")
	}
	c.cur = nil
	cur.cancel()

	simTime := c.recorder.SimTime()
	recErr := c.recorder.End()
	pipeErr := cur.stopPipeline()

	var ms *mocap.Stats
	if cur.pipe != nil {
		s := cur.pipe.Stats()
		ms = &s
	}
	row := cur.row
	row.settle(c.recorder.Stats(), ms, simTime)
	row.EndedAt = &orm.Time{Time: time.Now()}
	row.UpdatedAt = orm.Now()
	row.Status = StatusCompleted
	if err := errors.Join(recErr, pipeErr); err != nil {
		row.Status = StatusFailed
		row.Error = err.Error()
		cur.log.ErrorContext(ctx, "session closed with errors", "err", err)
	}

	if err := c.store.Session().Edit(ctx, &Session{}, func(b *Session) {
		if err := copier.Copy(b, row); err != nil {
			slog.ErrorContext(ctx, "Copy", "err", err)
		}
	}, orm.Where("id=?", row.ID)); err != nil {
		return row, reason.ErrDB.Withf(`Edit id[%v] err[%s]`, row.ID, err.Error())
	}
	cur.log.InfoContext(ctx, "session ended",
		"status", row.Status,
		"duration", row.Duration,
		"frames_written", row.FramesWritten,
		"frames_dropped", row.FramesDropped,
		"motion_frames_written", row.MotionFramesWritten,
		"motion_frames_dropped", row.MotionFramesDropped,
	)
	return row, nil
}

// Pause 暂停周期采样，事件仍然记录
func (c *Core) Pause() error {
	c.m.Lock()
	defer c.m.Unlock()
	if c.cur == nil {
		return reason.ErrBadRequest.SetMsg("没有进行中的会话")
	}
	c.recorder.Pause()
	return nil
}

func (c *Core) Resume() error {
	c.m.Lock()
	defer c.m.Unlock()
	if c.cur == nil {
		return reason.ErrBadRequest.SetMsg("没有进行中的会话")
	}
	c.recorder.Resume()
	return nil
}

// Capture 记录事件帧
func (c *Core) Capture(event string) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return reason.ErrBadRequest.SetMsg("event is required")
	}
	c.m.Lock()
	defer c.m.Unlock()
	if c.cur == nil || !c.recorder.Capture(event) {
		return reason.ErrBadRequest.SetMsg("没有进行中的会话")
	}
	return nil
}

// Tick 推进一帧，由宿主引擎或内置帧循环调用
func (c *Core) Tick(dt time.Duration) {
	c.m.Lock()
	defer c.m.Unlock()
	if c.cur != nil {
		c.recorder.Tick(dt)
	}
}

// UpdateSample 更新最新状态，下一次采样生效
func (c *Core) UpdateSample(s capture.Sample) {
	c.sample.set(s)
}

// Status 诊断信息
func (c *Core) Status() StatusOutput {
	c.m.Lock()
	defer c.m.Unlock()
	out := StatusOutput{
		Capture: c.recorder.Stats(),
		Sample:  c.sample.Sample(),
		DataDir: c.DataDir(),
	}
	if c.cur == nil {
		return out
	}
	row := *c.cur.row
	out.Active = true
	out.Session = &row
	out.SimTime = c.recorder.SimTime()
	if c.cur.pipe != nil {
		s := c.cur.pipe.Stats()
		out.Mocap = &s
	}
	return out
}

// frameLoop 内置帧循环，按实际间隔推进仿真时间
func (c *Core) frameLoop(ctx context.Context, cur *active, rate int) {
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			c.m.Lock()
			if c.cur != cur {
				c.m.Unlock()
				return
			}
			c.recorder.Tick(dt)
			c.m.Unlock()
		}
	}
}

// FindSessions 分页查询会话
func (c *Core) FindSessions(ctx context.Context, in *FindSessionInput) ([]*Session, int64, error) {
	query := orm.NewQuery(2).OrderBy("started_at DESC")
	if in.ParticipantID != "" {
		query.Where("participant_id = ?", in.ParticipantID)
	}
	if in.Status != "" {
		query.Where("status = ?", in.Status)
	}

	items := make([]*Session, 0, in.Limit())
	total, err := c.store.Session().Find(ctx, &items, in, query.Encode()...)
	if err != nil {
		return nil, 0, reason.ErrDB.Withf(`Find in[%+v] err[%s]`, in, err.Error())
	}
	return items, total, nil
}

// GetSession Query a single object
func (c *Core) GetSession(ctx context.Context, id string) (*Session, error) {
	var out Session
	if err := c.store.Session().Get(ctx, &out, orm.Where("id=?", id)); err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, reason.ErrNotFound.Withf(`Get id[%v] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Get id[%v] err[%s]`, id, err.Error())
	}
	return &out, nil
}

// RecoverInterrupted 进程异常退出后遗留的活动会话标记为中断
func (c *Core) RecoverInterrupted(ctx context.Context) error {
	return c.store.Session().Session(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&Session{}).
			Where("status = ?", StatusActive).
			Updates(map[string]any{"status": StatusInterrupted, "updated_at": orm.Now()})
		if res.RowsAffected > 0 {
			c.log.WarnContext(ctx, "sessions interrupted by restart", "count", res.RowsAffected)
		}
		return res.Error
	})
}

// sanitize 被试编号用于目录名，去掉路径分隔符与空白
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '.':
			return '_'
		case r <= ' ':
			return '_'
		}
		return r
	}, s)
}

func (c *Core) checkDisk(ctx context.Context, dir string) error {
	threshold := c.conf.Retention.DiskUsageThreshold
	if threshold <= 0 || threshold >= 100 {
		return nil
	}
	usage, err := getDiskUsage(ctx, dir)
	if err != nil {
		c.log.WarnContext(ctx, "failed to get disk usage", "err", err)
		return nil
	}
	if usage >= threshold {
		return reason.ErrBadRequest.SetMsg(fmt.Sprintf("磁盘使用率 %.1f%% 超过阈值 %.1f%%", usage, threshold))
	}
	return nil
}
