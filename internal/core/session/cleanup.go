package session

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/web"
	"github.com/shirou/gopsutil/v4/disk"
	"gorm.io/gorm"
)

// StartCleanupWorker 启动定时清理协程
// 启动时执行一次清理，随后按 retention.interval 周期执行，ctx 取消后退出
func (c *Core) StartCleanupWorker(ctx context.Context) {
	cfg := c.conf.Retention
	if cfg.RetainDays <= 0 && (cfg.DiskUsageThreshold <= 0 || cfg.DiskUsageThreshold >= 100) {
		slog.Info("session cleanup disabled")
		return
	}
	interval := cfg.Interval.Duration()
	if interval <= 0 {
		interval = time.Hour
	}

	slog.Info("session cleanup worker started",
		"retain_days", cfg.RetainDays,
		"disk_threshold", cfg.DiskUsageThreshold,
		"data_dir", c.DataDir(),
	)

	c.runCleanup(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runCleanup(ctx)
		}
	}
}

// runCleanup 先按保留天数清理，再处理磁盘空间
func (c *Core) runCleanup(ctx context.Context) {
	c.cleanupExpiredSessions(ctx)
	c.cleanupByDiskUsage(ctx)
}

// cleanupExpiredSessions 清理超过保留天数的会话
func (c *Core) cleanupExpiredSessions(ctx context.Context) {
	days := c.conf.Retention.RetainDays
	if days <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	deleted, failed := c.batchDeleteSessions(ctx, 100, true,
		orm.Where("status <> ?", StatusActive),
		orm.Where("started_at < ?", orm.Time{Time: cutoff}),
		orm.OrderBy("started_at ASC"),
	)
	if deleted > 0 || failed > 0 {
		slog.Info("expired session cleanup completed",
			"reason", "retention_policy",
			"retain_days", days,
			"cutoff_time", cutoff.Format(time.DateTime),
			"sessions_deleted", deleted,
			"failed_folders", failed,
		)
	}
}

// cleanupByDiskUsage 磁盘使用率超过阈值时，删除最旧的会话直到低于阈值
func (c *Core) cleanupByDiskUsage(ctx context.Context) {
	threshold := c.conf.Retention.DiskUsageThreshold
	if threshold <= 0 || threshold >= 100 {
		return
	}
	root := c.DataDir()
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return
	}

	initial, err := getDiskUsage(ctx, root)
	if err != nil {
		slog.Warn("failed to get disk usage", "err", err)
		return
	}

	var deleted, failed int
	for usage := initial; usage >= threshold; {
		d, f := c.batchDeleteSessions(ctx, 5, false,
			orm.Where("status <> ?", StatusActive),
			orm.OrderBy("started_at ASC"),
		)
		deleted += d
		failed += f
		if d == 0 {
			break
		}
		if usage, err = getDiskUsage(ctx, root); err != nil {
			break
		}
	}
	c.cleanupEmptyDirs(root)

	if deleted > 0 || failed > 0 {
		slog.Info("disk usage cleanup completed",
			"reason", "disk_threshold_exceeded",
			"initial_usage", initial,
			"threshold", threshold,
			"sessions_deleted", deleted,
			"failed_folders", failed,
		)
	}
}

// batchDeleteSessions 删除会话目录与数据库记录
// all 为 false 时只处理一批
func (c *Core) batchDeleteSessions(ctx context.Context, batchSize int, all bool, conditions ...orm.QueryOption) (deleted, failed int) {
	activeID := c.Active()
	for {
		var sessions []*Session
		pager := web.PagerFilter{Page: 1, Size: batchSize}
		_, err := c.store.Session().Find(ctx, &sessions, &pager, conditions...)
		if err != nil || len(sessions) == 0 {
			return
		}

		ids := make([]string, 0, len(sessions))
		for _, s := range sessions {
			if s.ID == activeID {
				continue
			}
			if s.Folder != "" {
				if err := os.RemoveAll(s.Folder); err != nil {
					failed++
					slog.Warn("failed to remove session folder", "folder", s.Folder, "err", err)
				}
			}
			ids = append(ids, s.ID)
		}
		if len(ids) == 0 {
			return
		}
		if err := c.store.Session().Session(ctx, func(tx *gorm.DB) error {
			return tx.Where("id IN ?", ids).Delete(&Session{}).Error
		}); err != nil {
			slog.Warn("failed to delete session rows", "err", err)
			return
		}
		deleted += len(ids)
		if !all {
			return
		}
	}
}

// getDiskUsage 获取指定路径所在磁盘的使用率（百分比）
func getDiskUsage(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}

// cleanupEmptyDirs 删除数据目录下的空会话目录，活动会话除外
func (c *Core) cleanupEmptyDirs(root string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	c.m.Lock()
	var activeFolder string
	if c.cur != nil {
		activeFolder = c.cur.row.Folder
	}
	c.m.Unlock()

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if dir == activeFolder {
			continue
		}
		if sub, err := os.ReadDir(dir); err == nil && len(sub) == 0 {
			_ = os.Remove(dir)
		}
	}
}
